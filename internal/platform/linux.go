//go:build linux

// Package platform provides a concrete, Linux epoll/timerfd/eventfd
// Platform implementation for github.com/palletrt/pallet, grounded on
// the teacher eventloop package's FastPoller (epoll wrapper) and
// eventfd-based wake-up mechanism, trimmed from their multi-threaded,
// RWMutex-guarded shape down to the single-goroutine dispatch this
// package's Clock requires — there is exactly one caller, so no
// version-counter or lock is needed around the fd table.
package platform

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/palletrt/pallet"
)

// Linux is a Platform implementation backed by timerfd (for the single
// programmable one-shot timer), an eventfd (for Stop() to interrupt a
// blocked epoll_wait from another goroutine), and epoll to multiplex
// both plus any caller-registered file descriptors.
type Linux struct {
	epfd    int
	timerFd int
	wakeFd  int

	onTimer func()

	fds map[int]func(events uint32)

	stopRequested atomic.Bool
}

// NewLinux constructs a Linux platform, creating its epoll instance,
// timerfd, and wake eventfd. Panics if any underlying syscall fails, on
// the view that a Platform that cannot acquire these fds at
// construction cannot run at all — callers that need graceful
// degradation should catch the panic case via recover before it
// propagates.
func NewLinux() *Linux {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		panic("pallet/platform: epoll_create1: " + err.Error())
	}
	timerFd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		panic("pallet/platform: timerfd_create: " + err.Error())
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		panic("pallet/platform: eventfd: " + err.Error())
	}

	l := &Linux{epfd: epfd, timerFd: timerFd, wakeFd: wakeFd, fds: make(map[int]func(events uint32))}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, timerFd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(timerFd)}); err != nil {
		panic("pallet/platform: epoll_ctl(timerfd): " + err.Error())
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}); err != nil {
		panic("pallet/platform: epoll_ctl(wakefd): " + err.Error())
	}

	return l
}

// CurrentTime returns CLOCK_MONOTONIC in nanoseconds. Safe to call from
// any goroutine.
func (l *Linux) CurrentTime() pallet.Time {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		panic("pallet/platform: clock_gettime: " + err.Error())
	}
	return pallet.Time(ts.Nano())
}

// ArmTimer programs the timerfd to fire once at the given absolute
// CLOCK_MONOTONIC nanosecond timestamp.
func (l *Linux) ArmTimer(at pallet.Time) {
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(int64(at)),
	}
	if err := unix.TimerfdSettime(l.timerFd, unix.TFD_TIMER_ABSTIME, &spec, nil); err != nil {
		panic("pallet/platform: timerfd_settime: " + err.Error())
	}
}

// DisarmTimer cancels any pending timerfd expiration.
func (l *Linux) DisarmTimer() {
	var spec unix.ItimerSpec
	_ = unix.TimerfdSettime(l.timerFd, 0, &spec, nil)
}

// SetOnTimer registers the callback invoked when the timerfd fires.
func (l *Linux) SetOnTimer(fn func()) {
	l.onTimer = fn
}

// BusyWaitUntil spins calling shouldStop, yielding the scheduler
// periodically with runtime.Gosched() so a busy wait on one goroutine
// doesn't fully starve others on a single-core build, without resorting
// to architecture-specific assembly pause instructions.
func (l *Linux) BusyWaitUntil(shouldStop func() bool) int {
	iterations := 0
	for !shouldStop() {
		iterations++
		if iterations%4096 == 0 {
			yieldScheduler()
		}
	}
	return iterations
}

// RegisterFD adds fd to the epoll set, invoking cb with the raw epoll
// event mask whenever it becomes ready. Only ever called from the
// goroutine driving Run.
func (l *Linux) RegisterFD(fd int, events uint32, cb func(events uint32)) error {
	l.fds[fd] = cb
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)})
}

// UnregisterFD removes fd from the epoll set.
func (l *Linux) UnregisterFD(fd int) error {
	delete(l.fds, fd)
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Run blocks in epoll_wait, dispatching the timerfd, the wake eventfd,
// and any registered FDs, until Stop unblocks it via the wake eventfd.
func (l *Linux) Run() {
	var events [64]unix.EpollEvent
	for !l.stopRequested.Load() {
		n, err := unix.EpollWait(l.epfd, events[:], -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			panic("pallet/platform: epoll_wait: " + err.Error())
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			switch fd {
			case l.timerFd:
				l.drainTimerFd()
				if l.onTimer != nil {
					l.onTimer()
				}
			case l.wakeFd:
				l.drainWakeFd()
			default:
				if cb, ok := l.fds[fd]; ok {
					cb(events[i].Events)
				}
			}
		}
	}
	l.stopRequested.Store(false)
}

// Stop requests the Run loop to exit and wakes it via the eventfd if it
// is currently blocked in epoll_wait. Safe to call from any goroutine.
func (l *Linux) Stop() {
	l.stopRequested.Store(true)
	var buf [8]byte
	buf[0] = 1
	_, _ = unix.Write(l.wakeFd, buf[:])
}

func (l *Linux) drainTimerFd() {
	var buf [8]byte
	_, _ = unix.Read(l.timerFd, buf[:])
}

func (l *Linux) drainWakeFd() {
	var buf [8]byte
	for {
		_, err := unix.Read(l.wakeFd, buf[:])
		if err != nil {
			break
		}
	}
}

// Close releases the epoll, timerfd, and eventfd file descriptors.
func (l *Linux) Close() error {
	_ = unix.Close(l.timerFd)
	_ = unix.Close(l.wakeFd)
	return unix.Close(l.epfd)
}

func yieldScheduler() {
	runtime.Gosched()
}
