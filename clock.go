package pallet

import (
	"fmt"
	"runtime/debug"

	"github.com/palletrt/pallet/internal/idtable"
	"github.com/palletrt/pallet/internal/pqueue"
)

// TimerID identifies a scheduled timeout or interval. It is the index of
// the timer's slot in the Clock's handle table, so 0 is a valid id (the
// first slot); check the returned error, not the id, to detect failure.
type TimerID uint32

// clockEvent mirrors original_source's ClockEvent: prev tracks the last
// intended (not observed) fire time so interval rescheduling stays
// drift-free, period is zero for a one-shot timeout.
type clockEvent struct {
	prev     Time
	period   Time
	callback func(EventInfo)
	deleted  bool
}

func (e *clockEvent) isInterval() bool { return e.period != 0 }

// EventInfo is passed to a Clock callback describing the firing event.
type EventInfo struct {
	ID        TimerID
	Now       Time
	Intended  Time
	Period    Time
	Overshoot int // busy-wait iteration count spent closing the gap
}

// Clock is a monotonic wall-clock scheduler: a min-heap of pending
// timeouts/intervals keyed by absolute fire time, driven by a Platform
// and disciplined by a precisionTimer so that callbacks never fire
// before their requested time while still minimizing the busy-wait
// needed to get there.
//
// Not safe for concurrent use. Every method, and every registered
// callback, must be called from the single goroutine driving Run.
type Clock struct {
	platform Platform
	logger   Logger

	queue *pqueue.Queue[Time, TimerID]
	table *idtable.Table[clockEvent]

	precision *precisionTimer

	armed       bool
	waitingTime Time

	state ClockState

	capacity int // 0 means unbounded
	metrics  *overshootMetrics

	generationCounters bool
	generations        map[TimerID]uint32
}

// NewClock constructs a Clock bound to platform. Options tune precision
// timing factors and a fixed capacity for constrained targets.
func NewClock(platform Platform, opts ...ClockOption) (*Clock, error) {
	cfg := resolveClockOptions(opts)

	pt, err := newPrecisionTimer(cfg.eventProcessingFactor, cfg.spinFactor)
	if err != nil {
		return nil, err
	}

	c := &Clock{
		platform:  platform,
		logger:    cfg.logger,
		queue:     pqueue.New[Time, TimerID](func(a, b Time) bool { return a < b }),
		table:     idtable.New[clockEvent](cfg.capacityHint),
		precision: pt,
		capacity:  cfg.capacity,
		state:     StateAwake,
	}
	if cfg.metricsEnabled {
		c.metrics = newOvershootMetrics()
	}
	if cfg.generationCounters {
		c.generationCounters = true
		c.generations = make(map[TimerID]uint32)
	}
	platform.SetOnTimer(c.Process)
	return c, nil
}

// Metrics returns a snapshot of timing-pressure observations. Zero-value
// if the Clock was not constructed with WithMetrics(true).
func (c *Clock) Metrics() ClockMetrics {
	if c.metrics == nil {
		return ClockMetrics{}
	}
	return c.metrics.snapshot()
}

// CurrentTime returns the platform's monotonic clock.
func (c *Clock) CurrentTime() Time {
	return c.platform.CurrentTime()
}

// SetTimeout schedules callback to fire once, duration after now.
func (c *Clock) SetTimeout(duration Time, callback func(EventInfo)) (TimerID, error) {
	now := c.CurrentTime()
	return c.SetTimeoutAbsolute(now+duration, callback)
}

// SetTimeoutAbsolute schedules callback to fire once, at the given
// absolute Time.
func (c *Clock) SetTimeoutAbsolute(goal Time, callback func(EventInfo)) (TimerID, error) {
	if !c.state.CanAcceptWork() {
		return 0, ErrClockTerminated
	}
	if c.capacity > 0 && c.table.Len() >= c.capacity {
		return 0, ErrQueueFull
	}
	id := c.pushEvent(clockEvent{callback: callback})
	c.queue.Push(goal, id)
	c.updateWaitingTime()
	return id, nil
}

// SetInterval schedules callback to fire repeatedly, every period,
// starting period after now.
func (c *Clock) SetInterval(period Time, callback func(EventInfo)) (TimerID, error) {
	now := c.CurrentTime()
	return c.SetIntervalAbsolute(now+period, period, callback)
}

// SetIntervalAbsolute schedules callback to first fire at goal and then
// every period thereafter, computed drift-free from the previous
// intended fire time rather than the observed one.
func (c *Clock) SetIntervalAbsolute(goal, period Time, callback func(EventInfo)) (TimerID, error) {
	if !c.state.CanAcceptWork() {
		return 0, ErrClockTerminated
	}
	if period <= 0 {
		return 0, fmt.Errorf("pallet: interval period must be positive, got %d", period)
	}
	if c.capacity > 0 && c.table.Len() >= c.capacity {
		return 0, ErrQueueFull
	}
	id := c.pushEvent(clockEvent{prev: goal - period, period: period, callback: callback})
	c.queue.Push(goal, id)
	c.updateWaitingTime()
	return id, nil
}

// pushEvent inserts ev into the handle table, recording its generation
// tag when generation counters are enabled.
func (c *Clock) pushEvent(ev clockEvent) TimerID {
	h, gen := c.table.PushGen(ev)
	id := TimerID(h)
	if c.generationCounters {
		c.generations[id] = gen
	}
	return id
}

// ClearTimeout cancels a pending timeout. A no-op if id does not refer
// to a live timer, per the default zero-overhead error policy; it never
// reports an error. ClearTimeoutChecked, with WithGenerationCounters
// enabled, surfaces ErrTimerNotFound instead.
func (c *Clock) ClearTimeout(id TimerID) {
	if ev, ok := c.table.Get(idtable.Handle(id)); ok {
		ev.deleted = true
		c.table.Set(idtable.Handle(id), ev)
	}
}

// ClearInterval cancels a pending interval. Equivalent to ClearTimeout.
func (c *Clock) ClearInterval(id TimerID) {
	c.ClearTimeout(id)
}

// ClearTimeoutChecked is ClearTimeout, but returns ErrTimerNotFound for a
// stale handle (already cleared, already fired and not an interval, or
// whose slot was freed and reused by a later timer) instead of silently
// no-op'ing. Requires NewClock(WithGenerationCounters(true)); without it,
// ClearTimeoutChecked behaves exactly like ClearTimeout and never errors.
func (c *Clock) ClearTimeoutChecked(id TimerID) error {
	if !c.generationCounters {
		c.ClearTimeout(id)
		return nil
	}
	wantGen, known := c.generations[id]
	if !known || wantGen != c.table.Generation(idtable.Handle(id)) {
		return ErrTimerNotFound
	}
	ev, ok := c.table.Get(idtable.Handle(id))
	if !ok || ev.deleted {
		return ErrTimerNotFound
	}
	ev.deleted = true
	c.table.Set(idtable.Handle(id), ev)
	return nil
}

// ClearIntervalChecked cancels a pending interval. Equivalent to
// ClearTimeoutChecked.
func (c *Clock) ClearIntervalChecked(id TimerID) error {
	return c.ClearTimeoutChecked(id)
}

// processEvent fires the event named by id, which has already been
// popped from the queue but remains in the handle table, then
// reschedules it if it is an interval and was not cleared during its
// own callback.
func (c *Clock) processEvent(id TimerID, goal Time) {
	ev, ok := c.table.Get(idtable.Handle(id))
	if !ok {
		return
	}

	if !ev.deleted {
		now := c.CurrentTime()
		c.precision.beforeBusyWait(now)
		overshoot := c.platform.BusyWaitUntil(func() bool {
			now = c.CurrentTime()
			return now > goal
		})

		info := EventInfo{ID: id, Now: now, Intended: goal, Period: ev.period, Overshoot: overshoot}
		if c.metrics != nil {
			c.metrics.record(now-goal, overshoot)
		}
		c.safeInvoke(ev.callback, info)
	}

	// Re-fetch: the callback may have scheduled new timers, which can
	// grow the handle table's backing slice and invalidate any earlier
	// reference to this slot.
	ev, ok = c.table.Get(idtable.Handle(id))
	if !ok {
		return
	}

	if !ev.deleted && ev.isInterval() {
		nextIntended := ev.prev + ev.period
		ev.prev = nextIntended
		c.table.Set(idtable.Handle(id), ev)
		c.queue.Push(nextIntended+ev.period, id)
		c.updateWaitingTime()
	} else {
		c.table.Free(idtable.Handle(id))
		if c.generationCounters {
			delete(c.generations, id)
		}
	}
}

// updateWaitingTime re-arms or disarms the platform timer to match the
// new head of the queue, skipping the syscall when the already-armed
// deadline is unchanged.
func (c *Clock) updateWaitingTime() {
	goal, _, ok := c.queue.Peek()
	if !ok {
		c.waitingTime = 0
		c.armed = false
		c.platform.DisarmTimer()
		return
	}
	if c.armed && c.waitingTime == goal {
		return
	}
	c.waitingTime = goal
	platformWait := c.precision.tillWhenShouldPlatformWait(goal)
	c.platform.ArmTimer(platformWait)
	c.armed = true
}

// Process drains every timer whose fire time has arrived (or whose
// handle was cleared), then rearms the platform timer for whatever is
// next. Registered with the Platform as the timer callback; also safe
// to call directly in tests driving a fake Platform.
func (c *Clock) Process() {
	for {
		goal, id, ok := c.queue.Peek()
		if !ok {
			break
		}
		now := c.CurrentTime()
		ev, _ := c.table.Get(idtable.Handle(id))
		if c.precision.shouldIProceedToEventProcessing(now, goal) || ev.deleted {
			goal, id, _ = c.queue.Pop()
			c.processEvent(id, goal)
		} else {
			break
		}
	}
	c.updateWaitingTime()
}

// Run drives the platform's event loop until Shutdown is called.
// Returns ErrClockAlreadyRunning if already running.
func (c *Clock) Run() error {
	if c.state == StateRunning {
		return ErrClockAlreadyRunning
	}
	if c.state == StateTerminated {
		return ErrClockTerminated
	}
	c.state = StateRunning
	c.platform.Run()
	c.state = StateTerminated
	return nil
}

// Shutdown stops a running Clock. Safe to call from any goroutine since
// it delegates to Platform.Stop, which must itself be goroutine-safe.
func (c *Clock) Shutdown() {
	if c.state == StateRunning {
		c.state = StateTerminating
	}
	c.platform.Stop()
}

// State returns the Clock's current lifecycle state.
func (c *Clock) State() ClockState {
	return c.state
}

// safeInvoke calls fn, logging and re-panicking with a PanicError on
// recovery rather than swallowing the panic: a broken user callback is,
// per this package's error taxonomy, an unrecoverable bug from the
// core's perspective, not a condition to paper over and keep ticking.
func (c *Clock) safeInvoke(fn func(EventInfo), info EventInfo) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			c.logger.Error("timer callback panicked", "timer_id", info.ID, "panic", r)
			panic(&PanicError{Value: r, Stack: stack})
		}
	}()
	fn(info)
}
