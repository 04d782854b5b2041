// Package pallet implements a realtime scheduling runtime: a monotonic
// wall-clock scheduler (Clock) and a musical beat scheduler (BeatClock)
// built on top of it, both driven by a small Platform capability
// contract that the host environment supplies.
//
// The package's concurrency model is single-threaded and cooperative:
// every exported method on Clock and BeatClock, and every registered
// callback, runs on whichever goroutine calls Clock.Run or Clock.Process.
// The sole exception is Platform.CurrentTime, which callers may invoke
// from any goroutine, and the MidiSource capability, whose
// implementations are expected to marshal onto the scheduling goroutine
// themselves (see the midi package's ChannelSource).
package pallet

import "time"

// Time is a monotonic timestamp in nanoseconds, as returned by
// Platform.CurrentTime. It is not wall-clock time and is only meaningful
// relative to other Time values from the same Platform.
type Time int64

// Duration converts a standard library duration to a Time delta.
func Duration(d time.Duration) Time {
	return Time(d.Nanoseconds())
}

// Std converts a Time delta back to a standard library duration.
func (t Time) Std() time.Duration {
	return time.Duration(t)
}

// Platform is the capability contract a host environment supplies to
// drive a Clock. Implementations must be safe for CurrentTime to be
// called concurrently with everything else; every other method is only
// ever called from the single goroutine running Clock.Run.
type Platform interface {
	// CurrentTime returns a monotonic timestamp. Safe for concurrent use.
	CurrentTime() Time

	// ArmTimer schedules a single wake-up at the given absolute Time,
	// invoking the callback registered via SetOnTimer when it fires (or
	// as soon as possible thereafter). ArmTimer replaces any previously
	// armed timer; there is at most one pending wake-up per Platform.
	ArmTimer(at Time)

	// DisarmTimer cancels any previously armed timer. A no-op if none is
	// armed.
	DisarmTimer()

	// SetOnTimer registers the callback invoked when an armed timer
	// fires. Called once, by NewClock when the owning Clock is
	// constructed.
	SetOnTimer(fn func())

	// BusyWaitUntil spins, calling shouldStop before each iteration,
	// until it returns true, then returns the number of iterations
	// spun (0 if shouldStop is true on the first call). Used to close
	// the gap between a coarse OS wake-up and an exact fire time.
	BusyWaitUntil(shouldStop func() bool) (iterations int)

	// Run blocks, driving the platform's event loop (e.g. epoll) and
	// invoking the timer callback and any registered FD callbacks as
	// events arrive, until Stop is called.
	Run()

	// Stop unblocks a pending Run call and returns once it has
	// returned. Safe to call from any goroutine.
	Stop()
}
