package pallet

// clockOptions holds configuration resolved from a ClockOption slice.
type clockOptions struct {
	eventProcessingFactor float64
	spinFactor            float64
	capacity              int
	capacityHint          int
	logger                Logger
	metricsEnabled        bool
	generationCounters    bool
}

// ClockOption configures a Clock at construction time.
type ClockOption interface {
	applyClock(*clockOptions)
}

type clockOptionFunc func(*clockOptions)

func (f clockOptionFunc) applyClock(o *clockOptions) { f(o) }

// WithPrecisionFactors overrides the default event-processing and spin
// factors used to discipline busy-waiting (default 10 and 2). The
// event-processing factor must exceed the spin factor, or NewClock
// returns ErrInvalidPrecisionFactors.
func WithPrecisionFactors(eventProcessingFactor, spinFactor float64) ClockOption {
	return clockOptionFunc(func(o *clockOptions) {
		o.eventProcessingFactor = eventProcessingFactor
		o.spinFactor = spinFactor
	})
}

// WithCapacity bounds the Clock to at most n simultaneously pending
// timers, as required on constrained targets. SetTimeout/SetInterval
// return ErrQueueFull once the limit is reached. Zero (the default)
// means unbounded.
func WithCapacity(n int) ClockOption {
	return clockOptionFunc(func(o *clockOptions) {
		o.capacity = n
		o.capacityHint = n
	})
}

// WithClockLogger attaches a Logger for diagnostic events (callback
// panics; queue exhaustion is reported only through ErrQueueFull, not
// logged). Defaults to a no-op Logger.
func WithClockLogger(l Logger) ClockOption {
	return clockOptionFunc(func(o *clockOptions) {
		if l != nil {
			o.logger = l
		}
	})
}

// WithMetrics enables mean/p50/p99/max tracking of callback overshoot and
// p50/p99 tracking of busy-wait spin counts (no spin-count maximum is
// kept), retrievable via Clock.Metrics. Disabled by
// default so recording never costs cycles when unused.
func WithMetrics(enabled bool) ClockOption {
	return clockOptionFunc(func(o *clockOptions) {
		o.metricsEnabled = enabled
	})
}

// WithGenerationCounters enables handle-reuse detection: ClearTimeoutChecked
// and ClearIntervalChecked return ErrTimerNotFound for a handle whose slot
// has since been freed and reused by a new timer, instead of silently
// treating it as a no-op (the default ClearTimeout/ClearInterval behavior,
// unchanged and zero-cost regardless of this option).
func WithGenerationCounters(enabled bool) ClockOption {
	return clockOptionFunc(func(o *clockOptions) {
		o.generationCounters = enabled
	})
}

func resolveClockOptions(opts []ClockOption) *clockOptions {
	cfg := &clockOptions{
		eventProcessingFactor: defaultEventProcessingFactor,
		spinFactor:            defaultSpinFactor,
		logger:                NopLogger{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyClock(cfg)
	}
	return cfg
}
