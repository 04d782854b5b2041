package pallet

import (
	"math"
	"runtime/debug"

	"github.com/palletrt/pallet/internal/idtable"
	"github.com/palletrt/pallet/internal/pqueue"
)

// BeatID identifies a beat-synced timeout or interval.
type BeatID uint32

type beatEvent struct {
	prev     float64
	period   float64
	callback func(BeatEventInfo)
	deleted  bool
}

func (e *beatEvent) isInterval() bool { return e.period != 0 }

// BeatEventInfo is passed to a beat-scheduled callback.
type BeatEventInfo struct {
	ID       BeatID
	Now      float64
	Intended float64
	Period   float64
}

// beatInfoProvider is the capability a beatScheduler needs from whichever
// BeatClock tempo source currently drives it — getCurrentBeat,
// getCurrentBeatPeriod and getCurrentPPQN in the original C++
// BeatClockSchedulerInformationInterface. Modeled here as a small Go
// interface rather than virtual dispatch, satisfied by the Internal and
// MIDI tempo sources.
type beatInfoProvider interface {
	currentBeat() float64
	currentBeatPeriod() Time
	currentPPQN() int
}

// beatScheduler is a min-heap of pending beat-relative callbacks, kept
// in sync with wall-clock time via a single Clock timeout that is
// re-armed every time the queue head or the active tempo source changes.
// Grounded on original_source's BeatClockScheduler.
type beatScheduler struct {
	clock *Clock
	info  beatInfoProvider

	queue *pqueue.Queue[float64, BeatID]
	table *idtable.Table[beatEvent]

	timeoutArmed bool
	timeoutID    TimerID
}

func newBeatScheduler(clock *Clock, info beatInfoProvider) *beatScheduler {
	return &beatScheduler{
		clock: clock,
		info:  info,
		queue: pqueue.New[float64, BeatID](func(a, b float64) bool { return a < b }),
		table: idtable.New[beatEvent](0),
	}
}

func (s *beatScheduler) setBeatInfo(info beatInfoProvider) {
	s.info = info
	s.updateWaitingTime()
}

// beatClockSchedulerNextSyncedBeat computes the next beat at which
// clockBeat next aligns to a sync/offset grid, matching
// original_source's beatClockSchedulerNextSyncedBeat exactly, including
// its 1e-6 epsilon guard against re-firing on the instant already at a
// grid line.
func beatClockSchedulerNextSyncedBeat(clockBeat, sync, offset float64) float64 {
	const epsilon = 0.000001
	nextBeat := math.Ceil(clockBeat/sync+epsilon) * sync
	nextBeat += offset
	for nextBeat < clockBeat+epsilon {
		nextBeat += sync
	}
	return math.Max(nextBeat, 0)
}

func (s *beatScheduler) setBeatTimeout(duration float64, callback func(BeatEventInfo)) BeatID {
	now := s.info.currentBeat()
	return s.setBeatTimeoutAbsolute(now+duration, callback)
}

func (s *beatScheduler) setBeatTimeoutAbsolute(goal float64, callback func(BeatEventInfo)) BeatID {
	id := BeatID(s.table.Push(beatEvent{callback: callback}))
	s.queue.Push(goal, id)
	s.updateWaitingTime()
	return id
}

func (s *beatScheduler) setBeatSyncTimeout(sync, offset float64, callback func(BeatEventInfo)) BeatID {
	now := s.info.currentBeat()
	goal := beatClockSchedulerNextSyncedBeat(now, sync, offset)
	return s.setBeatTimeoutAbsolute(goal, callback)
}

func (s *beatScheduler) setBeatInterval(period float64, callback func(BeatEventInfo)) BeatID {
	now := s.info.currentBeat()
	return s.setBeatIntervalAbsolute(now+period, period, callback)
}

func (s *beatScheduler) setBeatIntervalAbsolute(goal, period float64, callback func(BeatEventInfo)) BeatID {
	id := BeatID(s.table.Push(beatEvent{prev: goal - period, period: period, callback: callback}))
	s.queue.Push(goal, id)
	s.updateWaitingTime()
	return id
}

func (s *beatScheduler) setBeatSyncInterval(sync, offset, period float64, callback func(BeatEventInfo)) BeatID {
	now := s.info.currentBeat()
	goal := beatClockSchedulerNextSyncedBeat(now, sync, offset)
	return s.setBeatIntervalAbsolute(goal, period, callback)
}

func (s *beatScheduler) clearBeatTimeout(id BeatID) {
	if ev, ok := s.table.Get(idtable.Handle(id)); ok {
		ev.deleted = true
		s.table.Set(idtable.Handle(id), ev)
	}
}

func (s *beatScheduler) processEvent(id BeatID, now, goal float64) {
	ev, ok := s.table.Get(idtable.Handle(id))
	if !ok {
		return
	}
	if !ev.deleted {
		s.safeInvoke(ev.callback, BeatEventInfo{ID: id, Now: now, Intended: goal, Period: ev.period})
	}

	ev, ok = s.table.Get(idtable.Handle(id))
	if !ok {
		return
	}
	if !ev.deleted && ev.isInterval() {
		nextIntended := ev.prev + ev.period
		ev.prev = nextIntended
		s.table.Set(idtable.Handle(id), ev)
		s.queue.Push(nextIntended+ev.period, id)
	} else {
		s.table.Free(idtable.Handle(id))
	}
}

// safeInvoke calls fn, logging and re-panicking with a PanicError on
// recovery, the same as Clock.safeInvoke: a broken beat callback is no
// less a bug than a broken Clock callback.
func (s *beatScheduler) safeInvoke(fn func(BeatEventInfo), info BeatEventInfo) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			s.clock.logger.Error("beat callback panicked", "beat_id", info.ID, "panic", r)
			panic(&PanicError{Value: r, Stack: stack})
		}
	}()
	fn(info)
}

// timer re-arms (or, with off=true, disarms) the single underlying
// Clock timeout this scheduler uses to wake up at the right wall-clock
// instant for its next due beat.
func (s *beatScheduler) timer(at Time, off bool) {
	if s.timeoutArmed {
		s.clock.ClearTimeout(s.timeoutID)
		s.timeoutArmed = false
	}
	if off {
		return
	}
	id, err := s.clock.SetTimeoutAbsolute(at, func(EventInfo) {
		s.timeoutArmed = false
		s.process()
	})
	if err != nil {
		return
	}
	s.timeoutID = id
	s.timeoutArmed = true
}

func (s *beatScheduler) processSoon() {
	s.timer(s.clock.CurrentTime(), false)
}

func (s *beatScheduler) targetBeatTime(currentBeat, targetBeat float64) Time {
	diff := targetBeat - currentBeat
	beatPeriod := s.info.currentBeatPeriod()
	return s.clock.CurrentTime() + Time(diff*float64(beatPeriod))
}

// updateWaitingTime implements the scheduler's 3-branch dispatch: do
// nothing if the next event is more than a tick away, fire immediately
// if it's already due, otherwise arm a precise absolute Clock timeout.
func (s *beatScheduler) updateWaitingTime() {
	targetBeat, _, ok := s.queue.Peek()
	if !ok {
		s.timer(0, true)
		return
	}

	tickDurationBeats := 1.0 / float64(s.info.currentPPQN())
	currentBeat := s.info.currentBeat()

	if currentBeat+tickDurationBeats < targetBeat {
		s.timer(0, true)
		return
	}
	if currentBeat >= targetBeat {
		s.processSoon()
		return
	}
	s.timer(s.targetBeatTime(currentBeat, targetBeat), false)
}

func (s *beatScheduler) process() {
	now := s.info.currentBeat()
	for {
		targetBeat, id, ok := s.queue.Peek()
		if !ok || now < targetBeat {
			break
		}
		targetBeat, id, _ = s.queue.Pop()
		s.processEvent(id, now, targetBeat)
	}
	s.updateWaitingTime()
}
