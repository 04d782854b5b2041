package pallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palletrt/pallet/internal/faketime"
)

func newTestClock(t *testing.T, opts ...ClockOption) (*Clock, *faketime.Platform) {
	t.Helper()
	fp := faketime.New()
	c, err := NewClock(fp, opts...)
	require.NoError(t, err)
	return c, fp
}

func TestClock_SetTimeout_FiresOnceAtGoal(t *testing.T) {
	c, fp := newTestClock(t)

	var fired int
	var info EventInfo
	_, err := c.SetTimeout(100, func(ev EventInfo) {
		fired++
		info = ev
	})
	require.NoError(t, err)

	fp.Advance(50)
	assert.Equal(t, 0, fired, "must not fire before its goal time")

	fp.Advance(50)
	assert.Equal(t, 1, fired)
	assert.Equal(t, Time(100), info.Intended)

	fp.Advance(1000)
	assert.Equal(t, 1, fired, "a timeout must never refire")
}

func TestClock_SetInterval_IsDriftFree(t *testing.T) {
	c, fp := newTestClock(t)

	var intendedTimes []Time
	_, err := c.SetInterval(1000, func(ev EventInfo) {
		intendedTimes = append(intendedTimes, ev.Intended)
	})
	require.NoError(t, err)

	// Advance in uneven steps that overshoot each goal by a variable
	// amount; the intended fire times must still land on exact multiples
	// of the period, never drifting by the accumulated overshoot. The
	// period is long enough that the precision timer's early-processing
	// margin (mean overshoot * event-processing factor) never reaches the
	// next goal, so each step fires exactly one event.
	fp.Advance(1003)
	fp.Advance(999)
	fp.Advance(1001)
	fp.Advance(999)

	require.Len(t, intendedTimes, 4)
	assert.Equal(t, Time(1000), intendedTimes[0])
	assert.Equal(t, Time(2000), intendedTimes[1])
	assert.Equal(t, Time(3000), intendedTimes[2])
	assert.Equal(t, Time(4000), intendedTimes[3])
}

func TestClock_ClearTimeout_BeforeFire_PreventsCallback(t *testing.T) {
	c, fp := newTestClock(t)

	fired := false
	id, err := c.SetTimeout(100, func(EventInfo) { fired = true })
	require.NoError(t, err)

	c.ClearTimeout(id)
	fp.Advance(200)

	assert.False(t, fired)
}

func TestClock_ClearTimeout_StaleHandle_IsSilentNoOp(t *testing.T) {
	c, _ := newTestClock(t)

	id, err := c.SetTimeout(10, func(EventInfo) {})
	require.NoError(t, err)
	c.ClearTimeout(id)

	assert.NotPanics(t, func() { c.ClearTimeout(id) })
}

func TestClock_ClearInterval_DuringCallback_StopsFutureFires(t *testing.T) {
	c, fp := newTestClock(t)

	var count int
	var id TimerID
	var err error
	id, err = c.SetInterval(10, func(EventInfo) {
		count++
		if count == 2 {
			c.ClearInterval(id)
		}
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		fp.Advance(10)
	}

	assert.Equal(t, 2, count)
}

func TestClock_SetTimeoutAbsolute_InThePast_FiresOnNextProcess(t *testing.T) {
	c, fp := newTestClock(t)
	fp.Advance(1000)

	fired := false
	_, err := c.SetTimeoutAbsolute(fp.CurrentTime()-500, func(EventInfo) { fired = true })
	require.NoError(t, err)

	fp.Advance(1)
	assert.True(t, fired, "a goal already in the past must fire promptly, not be skipped")
}

func TestClock_WithCapacity_ReturnsErrQueueFullOnceExhausted(t *testing.T) {
	c, _ := newTestClock(t, WithCapacity(2))

	_, err := c.SetTimeout(10, func(EventInfo) {})
	require.NoError(t, err)
	_, err = c.SetTimeout(10, func(EventInfo) {})
	require.NoError(t, err)

	_, err = c.SetTimeout(10, func(EventInfo) {})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestClock_WithCapacity_FreesSlotOnClear(t *testing.T) {
	c, fp := newTestClock(t, WithCapacity(1))

	id, err := c.SetTimeout(10, func(EventInfo) {})
	require.NoError(t, err)
	c.ClearTimeout(id)
	fp.Advance(10)

	_, err = c.SetTimeout(10, func(EventInfo) {})
	assert.NoError(t, err)
}

func TestClock_SetIntervalAbsolute_RejectsNonPositivePeriod(t *testing.T) {
	c, _ := newTestClock(t)

	_, err := c.SetIntervalAbsolute(100, 0, func(EventInfo) {})
	assert.Error(t, err)

	_, err = c.SetIntervalAbsolute(100, -1, func(EventInfo) {})
	assert.Error(t, err)
}

func TestClock_NewClock_RejectsInvalidPrecisionFactors(t *testing.T) {
	fp := faketime.New()
	_, err := NewClock(fp, WithPrecisionFactors(2, 10))
	assert.ErrorIs(t, err, ErrInvalidPrecisionFactors)

	_, err = NewClock(fp, WithPrecisionFactors(5, 5))
	assert.ErrorIs(t, err, ErrInvalidPrecisionFactors)
}

func TestClock_ScheduleFromWithinCallback_TableGrowthDoesNotCorruptState(t *testing.T) {
	c, fp := newTestClock(t)

	var innerFired bool
	_, err := c.SetTimeout(10, func(EventInfo) {
		// Force the handle table to grow while processEvent still holds
		// a handle to the outer event's own slot.
		for i := 0; i < 64; i++ {
			_, _ = c.SetTimeout(Time(1000+i), func(EventInfo) {})
		}
		_, _ = c.SetTimeout(5, func(EventInfo) { innerFired = true })
	})
	require.NoError(t, err)

	fp.Advance(10)
	fp.Advance(5)

	assert.True(t, innerFired)
}

func TestClock_ClearTimeoutChecked_RequiresGenerationCounters(t *testing.T) {
	c, _ := newTestClock(t)

	id, err := c.SetTimeout(10, func(EventInfo) {})
	require.NoError(t, err)
	c.ClearTimeout(id)

	// Without WithGenerationCounters, the checked variant degrades to the
	// same silent-no-op behavior as ClearTimeout.
	assert.NoError(t, c.ClearTimeoutChecked(id))
}

func TestClock_ClearTimeoutChecked_DetectsReusedHandle(t *testing.T) {
	c, fp := newTestClock(t, WithGenerationCounters(true))

	id, err := c.SetTimeout(10, func(EventInfo) {})
	require.NoError(t, err)
	fp.Advance(10) // fires and frees id's slot

	// A brand new timer may reuse the same underlying slot index.
	_, err = c.SetTimeout(1000, func(EventInfo) {})
	require.NoError(t, err)

	err = c.ClearTimeoutChecked(id)
	assert.ErrorIs(t, err, ErrTimerNotFound)
}

func TestClock_Metrics_ZeroValueWhenDisabled(t *testing.T) {
	c, fp := newTestClock(t)
	_, err := c.SetTimeout(10, func(EventInfo) {})
	require.NoError(t, err)
	fp.Advance(10)

	assert.Equal(t, ClockMetrics{}, c.Metrics())
}

func TestClock_Metrics_RecordsOvershootWhenEnabled(t *testing.T) {
	c, fp := newTestClock(t, WithMetrics(true))
	_, err := c.SetTimeout(10, func(EventInfo) {})
	require.NoError(t, err)
	fp.Advance(10)

	m := c.Metrics()
	assert.Equal(t, 1, m.Count)
}

// TestClock_Metrics_AdaptsToSustainedLateWakeups drives the precision
// timer's feedback loop directly: the fake Platform is advanced past
// each armed wait-till time by a constant simulated wake lag, so every
// fire's wake observation feeds precisionTimer.errorMean the same
// sample. The first fire sees the full lag as overshoot with no
// busy-wait; from the second fire on, the running mean has pulled the
// next arm time far enough before goal that closing the remaining gap
// costs a stretch of spin iterations, while the observed overshoot
// (now - intended) collapses to a couple of nanoseconds — far under
// the simulated lag. That shift (spin iterations jumping up, overshoot
// dropping and staying low) is the precision adaptation this package
// exists to perform.
func TestClock_Metrics_AdaptsToSustainedLateWakeups(t *testing.T) {
	c, fp := newTestClock(t, WithMetrics(true))

	const (
		period = Time(10_000)
		lag    = Time(100) // constant simulated platform wake lag
		fires  = 8
	)

	var infos []EventInfo
	_, err := c.SetInterval(period, func(ev EventInfo) {
		infos = append(infos, ev)
	})
	require.NoError(t, err)

	// First arm undershoots goal by 0 (no samples yet), so the platform
	// is armed exactly at goal; advance lag past it.
	fp.Advance(period + lag)
	require.Len(t, infos, 1)

	afterFirst := c.Metrics()
	assert.Equal(t, 0, infos[0].Overshoot, "first fire has no learned undershoot to busy-wait across")
	assert.Equal(t, lag, infos[0].Now-infos[0].Intended, "first observed overshoot equals the full simulated lag")
	assert.Equal(t, float64(lag), afterFirst.MaxOvershootNs)

	// From the second fire on, the arm time sits (mean * spinFactor)
	// before goal; each wake still lands lag past the arm time, so the
	// gap to goal is closed by busy-waiting instead of by overshoot. With
	// a constant lag the running mean converges to it after one sample,
	// so every fire from here on busy-waits the same steady-state spin
	// count: lag*(spinFactor-1)+1, with spinFactor defaulting to 2.
	const spinSteady = 101

	// The platform is still sitting at goal+lag after the first fire
	// (no busy-wait occurred), lag-1 past a steady-state cycle's end
	// state of goal+1; the second fire's advance absorbs that
	// difference before the steady-state stride takes over.
	fp.Advance(period - 2*lag)
	require.Len(t, infos, 2)
	assert.Equal(t, spinSteady, infos[1].Overshoot, "steady-state busy-wait spin count")
	assert.Equal(t, Time(1), infos[1].Now-infos[1].Intended, "steady-state overshoot must stay far under the simulated lag")

	for i := 2; i < fires; i++ {
		fp.Advance(period - spinSteady)
		require.Lenf(t, infos, i+1, "fire %d did not occur", i+1)

		assert.Equal(t, spinSteady, infos[i].Overshoot, "steady-state busy-wait spin count")
		assert.Equal(t, Time(1), infos[i].Now-infos[i].Intended, "steady-state overshoot must stay far under the simulated lag")
	}

	final := c.Metrics()
	assert.Equal(t, fires, final.Count)
	assert.Equal(t, float64(lag), final.MaxOvershootNs, "the first fire's full-lag overshoot remains the max")
	assert.Less(t, final.MeanOvershootNs, float64(lag), "mean overshoot settles well under the simulated lag once adapted")
	assert.Greater(t, final.P50SpinIterations, afterFirst.P50SpinIterations, "spin-count metric must widen once the mean adapts")
}

func TestClock_Run_Shutdown_LifecycleStates(t *testing.T) {
	c, _ := newTestClock(t)
	assert.Equal(t, StateAwake, c.State())

	done := make(chan error, 1)
	go func() { done <- c.Run() }()

	waitForState(t, c, StateRunning)

	c.Shutdown()
	require.NoError(t, <-done)
	assert.Equal(t, StateTerminated, c.State())

	_, err := c.SetTimeout(10, func(EventInfo) {})
	assert.ErrorIs(t, err, ErrClockTerminated)
}

func TestClock_Run_TwiceConcurrently_ReturnsErrClockAlreadyRunning(t *testing.T) {
	c, _ := newTestClock(t)

	done := make(chan error, 1)
	go func() { done <- c.Run() }()
	waitForState(t, c, StateRunning)

	err := c.Run()
	assert.ErrorIs(t, err, ErrClockAlreadyRunning)

	c.Shutdown()
	require.NoError(t, <-done)
}

func waitForState(t *testing.T, c *Clock, want ClockState) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		if c.State() == want {
			return
		}
	}
	t.Fatalf("clock never reached state %s", want)
}
