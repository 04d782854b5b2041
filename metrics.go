package pallet

import "math"

// quantileEstimator implements the P² algorithm for streaming quantile
// estimation in O(1) per observation, without storing the observation
// history. Reference: Jain, R. and Chlamtac, I. (1985), "The P² Algorithm
// for Dynamic Calculation of Quantiles and Histograms Without Storing
// Observations", Communications of the ACM 28(10).
//
// Not thread-safe; used only from the single scheduling goroutine, and
// only when a Clock is constructed with metrics enabled.
type quantileEstimator struct {
	p           float64
	q           [5]float64
	n           [5]int
	np          [5]float64
	dn          [5]float64
	initialized bool
	count       int
	initBuffer  [5]float64
}

func newQuantileEstimator(p float64) *quantileEstimator {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return &quantileEstimator{p: p, dn: [5]float64{0, p / 2, p, (1 + p) / 2, 1}}
}

func (e *quantileEstimator) update(x float64) {
	e.count++
	if e.count <= 5 {
		e.initBuffer[e.count-1] = x
		if e.count == 5 {
			e.initialize()
		}
		return
	}

	var k int
	switch {
	case x < e.q[0]:
		e.q[0] = x
		k = 0
	case x >= e.q[4]:
		e.q[4] = x
		k = 3
	default:
		for k = 0; k < 4; k++ {
			if e.q[k] <= x && x < e.q[k+1] {
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		e.n[i]++
	}
	for i := 0; i < 5; i++ {
		e.np[i] += e.dn[i]
	}

	for i := 1; i < 4; i++ {
		d := e.np[i] - float64(e.n[i])
		if (d >= 1 && e.n[i+1]-e.n[i] > 1) || (d <= -1 && e.n[i-1]-e.n[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}
			qPrime := e.parabolic(i, sign)
			if e.q[i-1] < qPrime && qPrime < e.q[i+1] {
				e.q[i] = qPrime
			} else {
				e.q[i] = e.linear(i, sign)
			}
			e.n[i] += sign
		}
	}
}

func (e *quantileEstimator) initialize() {
	for i := 1; i < 5; i++ {
		key := e.initBuffer[i]
		j := i - 1
		for j >= 0 && e.initBuffer[j] > key {
			e.initBuffer[j+1] = e.initBuffer[j]
			j--
		}
		e.initBuffer[j+1] = key
	}
	for i := 0; i < 5; i++ {
		e.q[i] = e.initBuffer[i]
		e.n[i] = i
	}
	e.np = [5]float64{0, 2 * e.p, 4 * e.p, 2 + 2*e.p, 4}
	e.initialized = true
}

func (e *quantileEstimator) parabolic(i, d int) float64 {
	df := float64(d)
	ni, niPrev, niNext := float64(e.n[i]), float64(e.n[i-1]), float64(e.n[i+1])
	term1 := df / (niNext - niPrev)
	term2 := (ni - niPrev + df) * (e.q[i+1] - e.q[i]) / (niNext - ni)
	term3 := (niNext - ni - df) * (e.q[i] - e.q[i-1]) / (ni - niPrev)
	return e.q[i] + term1*(term2+term3)
}

func (e *quantileEstimator) linear(i, d int) float64 {
	if d == 1 {
		return e.q[i] + (e.q[i+1]-e.q[i])/float64(e.n[i+1]-e.n[i])
	}
	return e.q[i] - (e.q[i]-e.q[i-1])/float64(e.n[i]-e.n[i-1])
}

func (e *quantileEstimator) quantile() float64 {
	if e.count == 0 {
		return 0
	}
	if e.count < 5 {
		sorted := make([]float64, e.count)
		copy(sorted, e.initBuffer[:e.count])
		for i := 1; i < e.count; i++ {
			key := sorted[i]
			j := i - 1
			for j >= 0 && sorted[j] > key {
				sorted[j+1] = sorted[j]
				j--
			}
			sorted[j+1] = key
		}
		index := int(float64(e.count-1) * e.p)
		if index >= e.count {
			index = e.count - 1
		}
		return sorted[index]
	}
	return e.q[2]
}

// overshootMetrics tracks mean/p50/p99/max of (now - intended) at fire
// time and p50/p99 of busy-wait spin counts (no spin-count maximum), the
// signals the spec calls out as symptomatic of transient timing pressure.
type overshootMetrics struct {
	overshootP50, overshootP99 *quantileEstimator
	spinP50, spinP99           *quantileEstimator
	count                      int
	sum                        float64
	max                        float64
}

func newOvershootMetrics() *overshootMetrics {
	return &overshootMetrics{
		overshootP50: newQuantileEstimator(0.50),
		overshootP99: newQuantileEstimator(0.99),
		spinP50:      newQuantileEstimator(0.50),
		spinP99:      newQuantileEstimator(0.99),
		max:          -math.MaxFloat64,
	}
}

func (m *overshootMetrics) record(overshootNanos Time, spinIterations int) {
	x := float64(overshootNanos)
	m.count++
	m.sum += x
	if x > m.max {
		m.max = x
	}
	m.overshootP50.update(x)
	m.overshootP99.update(x)
	m.spinP50.update(float64(spinIterations))
	m.spinP99.update(float64(spinIterations))
}

// ClockMetrics is a point-in-time snapshot of a Clock's timing-pressure
// observations, returned by Clock.Metrics when WithMetrics is enabled.
type ClockMetrics struct {
	Count             int
	MeanOvershootNs   float64
	MaxOvershootNs    float64
	P50OvershootNs    float64
	P99OvershootNs    float64
	P50SpinIterations float64
	P99SpinIterations float64
}

func (m *overshootMetrics) snapshot() ClockMetrics {
	mean := 0.0
	if m.count > 0 {
		mean = m.sum / float64(m.count)
	}
	max := m.max
	if m.count == 0 {
		max = 0
	}
	return ClockMetrics{
		Count:             m.count,
		MeanOvershootNs:   mean,
		MaxOvershootNs:    max,
		P50OvershootNs:    m.overshootP50.quantile(),
		P99OvershootNs:    m.overshootP99.quantile(),
		P50SpinIterations: m.spinP50.quantile(),
		P99SpinIterations: m.spinP99.quantile(),
	}
}
