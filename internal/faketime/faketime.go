// Package faketime provides a deterministic, manually-advanced
// pallet.Platform for driving Clock and BeatClock tests without sleeping
// on wall-clock time, modeled on the teacher eventloop package's
// SetTickAnchor/TickAnchor test seam (a substitutable time source that
// test code steps forward explicitly instead of time.Now advancing on
// its own).
package faketime

import "github.com/palletrt/pallet"

// Platform is a fake pallet.Platform whose clock only moves when Advance
// is called. Tests construct one, pass it to pallet.NewClock, then drive
// time forward and call Process (or Run in a goroutine, paired with
// Stop) to observe scheduling behavior deterministically.
//
// Not safe for concurrent use, except where the embedded Platform
// contract requires it (CurrentTime, Stop).
type Platform struct {
	now Time

	armed   bool
	armedAt pallet.Time

	onTimer func()

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Time is an alias kept distinct from pallet.Time only for readability
// within this package's API; the underlying representation is identical.
type Time = pallet.Time

// New constructs a Platform starting at time 0.
func New() *Platform {
	return &Platform{}
}

// NewAt constructs a Platform starting at the given time.
func NewAt(start Time) *Platform {
	return &Platform{now: start}
}

// CurrentTime implements pallet.Platform.
func (p *Platform) CurrentTime() Time {
	return p.now
}

// ArmTimer implements pallet.Platform.
func (p *Platform) ArmTimer(at Time) {
	p.armed = true
	p.armedAt = at
}

// DisarmTimer implements pallet.Platform.
func (p *Platform) DisarmTimer() {
	p.armed = false
}

// SetOnTimer implements pallet.Platform.
func (p *Platform) SetOnTimer(fn func()) {
	p.onTimer = fn
}

// BusyWaitUntil implements pallet.Platform. Since there is no real
// wall-clock to spin against, each iteration advances the fake clock by
// one nanosecond, so a test can assert on the overshoot a Clock records
// without needing real time to pass.
func (p *Platform) BusyWaitUntil(shouldStop func() bool) int {
	iterations := 0
	for !shouldStop() {
		p.now++
		iterations++
		if iterations > 1_000_000 {
			// A test's callback graph has a bug (shouldStop never
			// becomes true); fail loudly rather than hang.
			panic("faketime: BusyWaitUntil exceeded safety bound")
		}
	}
	return iterations
}

// Run blocks until Stop is called, for tests that exercise Clock.Run
// directly (typically from a separate goroutine, advancing time and
// calling Process from the test goroutine in between).
func (p *Platform) Run() {
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	<-p.stopCh
	p.running = false
	close(p.doneCh)
}

// Stop implements pallet.Platform. Safe to call from any goroutine; a
// no-op if Run is not currently blocked.
func (p *Platform) Stop() {
	if !p.running || p.stopCh == nil {
		return
	}
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	<-p.doneCh
}

// Advance moves the fake clock forward by d, firing the registered timer
// callback if doing so crosses the armed deadline. Most tests call
// Advance then rely on the Clock's own Process (invoked via the timer
// callback) to drain due events; tests driving Clock.Process directly
// instead of Run may ignore the firing and call Process themselves.
func (p *Platform) Advance(d Time) {
	p.now += d
	if p.armed && p.now >= p.armedAt {
		p.armed = false
		if p.onTimer != nil {
			p.onTimer()
		}
	}
}

// AdvanceTo moves the fake clock forward to an absolute time, behaving
// like Advance otherwise. A no-op if at is not after the current time.
func (p *Platform) AdvanceTo(at Time) {
	if at <= p.now {
		return
	}
	p.Advance(at - p.now)
}
