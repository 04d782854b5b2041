package pallet

// precisionTimer narrows the gap between a coarse OS wake-up and an exact
// fire time by learning the platform's typical wake overshoot and
// compensating for it on the next arm. It is a direct port of
// original_source/include/pallet/Clock.hpp's ClockPrecisionTimingManager,
// backed by the RunningMeanMeasurer<double, 8> ring-buffer mean from
// original_source/include/pallet/measurement.hpp.
//
// Not safe for concurrent use; owned exclusively by the Clock that embeds
// it, consistent with the single-threaded cooperative model.
type precisionTimer struct {
	eventProcessingFactor float64
	spinFactor            float64

	errorMean runningMean

	platformWaitTillTime Time
}

const (
	defaultEventProcessingFactor = 10
	defaultSpinFactor            = 2
)

func newPrecisionTimer(eventProcessingFactor, spinFactor float64) (*precisionTimer, error) {
	if eventProcessingFactor <= spinFactor {
		return nil, ErrInvalidPrecisionFactors
	}
	return &precisionTimer{
		eventProcessingFactor: eventProcessingFactor,
		spinFactor:            spinFactor,
	}, nil
}

// tillWhenShouldPlatformWait computes the time to arm the platform timer
// for, undershooting goalTime by the learned average overshoot scaled by
// spinFactor, leaving a margin to busy-wait across.
func (p *precisionTimer) tillWhenShouldPlatformWait(goalTime Time) Time {
	p.platformWaitTillTime = goalTime - Time(p.errorMean.mean()*p.spinFactor)
	return p.platformWaitTillTime
}

// shouldIProceedToEventProcessing reports whether the next queued event,
// due at nextEventTime, is close enough that busy-waiting for it now is
// cheaper than returning to the platform's blocking wait and re-entering.
func (p *precisionTimer) shouldIProceedToEventProcessing(now, nextEventTime Time) bool {
	if now >= nextEventTime {
		return true
	}
	duration := nextEventTime - now
	return float64(duration) < p.errorMean.mean()*p.eventProcessingFactor
}

// beforeBusyWait records how far the platform's wake-up overshot the
// armed wait-till time, feeding the running mean used by the next
// tillWhenShouldPlatformWait call.
func (p *precisionTimer) beforeBusyWait(now Time) {
	err := float64(now - p.platformWaitTillTime)
	p.errorMean.addSample(err)
}

// runningMean is the Go port of RunningMeanMeasurer<double, 8>: an
// incremental mean over the last maxLen samples, updated in O(1) without
// resumming the window.
type runningMean struct {
	len    int
	index  int
	avg    float64
	window [8]float64
}

func (r *runningMean) addSample(sample float64) {
	const maxLen = 8
	if r.len < maxLen {
		r.window[r.len] = sample
		r.len++
		r.index = r.len - 1
		r.avg = r.avg*float64(r.len-1)/float64(r.len) + sample/float64(r.len)
	} else {
		r.index = (r.index + 1) % maxLen
		old := r.window[r.index]
		r.window[r.index] = sample
		r.avg = r.avg + (sample-old)/float64(r.len)
	}
}

func (r *runningMean) mean() float64 {
	return r.avg
}
