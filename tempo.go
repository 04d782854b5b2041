package pallet

// internalTempo is the free-running tempo generator: it drives ticks off
// a Clock interval at the current ppqnPeriod, re-armed whenever bpm
// changes. Grounded on original_source's BeatClockInternalImplementation.
type internalTempo struct {
	clock *Clock
	bc    *BeatClock

	running    bool
	bpm        float64
	ppqn       int
	beatPeriod Time
	ppqnPeriod Time

	beat                 float64
	beatRef              int
	tickCount            int
	beatPhase            int
	lastTickTime         Time
	lastTickTimeIntended Time

	intervalID    TimerID
	intervalArmed bool
}

func newInternalTempo(clock *Clock, bc *BeatClock) *internalTempo {
	return &internalTempo{clock: clock, bc: bc, bpm: 120, ppqn: 24}
}

func (t *internalTempo) currentBPM() float64     { return t.bpm }
func (t *internalTempo) currentPPQN() int        { return t.ppqn }
func (t *internalTempo) currentBeatPeriod() Time { return t.beatPeriod }
func (t *internalTempo) currentBeatPhase() int   { return t.beatPhase }

// currentBeat projects the beat position forward from the last
// scheduled (intended) tick using elapsed wall-clock time, exactly as
// original_source's BeatClockInternalSchedulerInformationInterface does,
// so BeatClock.CurrentBeat is accurate between ticks, not just at them.
func (t *internalTempo) currentBeat() float64 {
	now := t.clock.CurrentTime()
	elapsed := now - t.lastTickTimeIntended
	return t.beat + float64(elapsed)/float64(t.beatPeriod)
}

func (t *internalTempo) setBPM(bpm float64) {
	old := t.ppqnPeriod
	t.bpm = bpm
	t.beatPeriod = bpmToBeatPeriod(bpm)
	t.ppqnPeriod = bpmToPPQNPeriod(bpm, t.ppqn)
	if old == t.ppqnPeriod || !t.running {
		return
	}

	t.clock.ClearInterval(t.intervalID)
	now := t.clock.CurrentTime()
	var startTime Time
	if t.lastTickTimeIntended+t.ppqnPeriod >= now {
		startTime = t.lastTickTimeIntended + t.ppqnPeriod
	} else {
		startTime = now
	}
	t.startTickInterval(startTime)
}

func (t *internalTempo) setPPQN(ppqn int) {
	t.ppqn = ppqn
	t.ppqnPeriod = bpmToPPQNPeriod(t.bpm, ppqn)
}

func (t *internalTempo) resetBeatPhase() {
	t.beat = 0
	t.beatRef = 0
	t.beatPhase = 0
	t.tickCount = 0
}

func (t *internalTempo) run(state bool) {
	if t.running == state {
		return
	}
	t.running = state
	if state {
		now := t.clock.CurrentTime()
		t.lastTickTimeIntended = now
		t.startTickInterval(now + t.ppqnPeriod)
	} else if t.intervalArmed {
		t.clock.ClearInterval(t.intervalID)
		t.intervalArmed = false
	}
}

func (t *internalTempo) startTickInterval(startTime Time) {
	id, err := t.clock.SetIntervalAbsolute(startTime, t.ppqnPeriod, func(info EventInfo) {
		t.uponTick(info.Now, info.Intended)
	})
	if err != nil {
		return
	}
	t.intervalID = id
	t.intervalArmed = true
}

// uponTick forwards to BeatClock for tick-callback dispatch first, then
// advances tick/beat bookkeeping exactly as
// BeatClockImplementationInterface::uponTick does, re-snapping beat to
// an integer at ppqn boundaries to bound floating-point drift over long
// runs.
func (t *internalTempo) uponTick(now, intended Time) {
	t.bc.uponTick(now, intended)
	t.tickCount++
	t.beatPhase++
	t.beat += 1.0 / float64(t.ppqn)
	t.lastTickTime = now
	t.lastTickTimeIntended = intended
	if t.beatPhase%t.ppqn == 0 {
		t.beatPhase = 0
		t.beatRef++
		t.beat = float64(t.beatRef)
	}
}

func (t *internalTempo) stateSnapshot() tempoState {
	return tempoState{
		bpm: t.bpm, ppqn: t.ppqn, beatPeriod: t.beatPeriod, ppqnPeriod: t.ppqnPeriod,
		beat: t.beat, beatRef: t.beatRef, tickCount: t.tickCount, beatPhase: t.beatPhase,
		lastTickTime: t.lastTickTime, lastTickTimeIntended: t.lastTickTimeIntended,
	}
}

func (t *internalTempo) loadState(s tempoState) {
	t.bpm, t.ppqn, t.beatPeriod, t.ppqnPeriod = s.bpm, s.ppqn, s.beatPeriod, s.ppqnPeriod
	t.beat, t.beatRef, t.tickCount, t.beatPhase = s.beat, s.beatRef, s.tickCount, s.beatPhase
	t.lastTickTime, t.lastTickTimeIntended = s.lastTickTime, s.lastTickTimeIntended
}

// midiTempo derives tick rate from observed 0xF8 clock bytes, smoothing
// inter-tick intervals over a 32-sample running mean (wider than the
// PrecisionTimer's 8-sample window, matching original_source's
// BeatClockMidiImplementation, which needs more samples to average out
// MIDI transmission jitter rather than OS wake overshoot).
type midiTempo struct {
	clock *Clock
	midi  MidiSource
	bc    *BeatClock

	running bool
	bpm     float64
	ppqn    int

	beatPeriod Time
	ppqnPeriod Time

	beat                 float64
	beatRef              int
	tickCount            int
	beatPhase            int
	lastTickTime         Time
	lastTickTimeIntended Time

	mean midiTickMean
}

func newMidiTempo(clock *Clock, midi MidiSource, bc *BeatClock) *midiTempo {
	return &midiTempo{clock: clock, midi: midi, bc: bc, ppqn: 24, bpm: 120}
}

func (t *midiTempo) currentBPM() float64     { return t.bpm }
func (t *midiTempo) currentPPQN() int        { return t.ppqn }
func (t *midiTempo) currentBeatPeriod() Time { return t.beatPeriod }
func (t *midiTempo) currentBeatPhase() int   { return t.beatPhase }

// currentBeat uses the last *observed* receive time, not an intended
// schedule time — there is no schedule, only what has actually arrived
// on the wire — matching
// original_source's BeatClockMidiSchedulerInformationInterface.
func (t *midiTempo) currentBeat() float64 {
	now := t.clock.CurrentTime()
	elapsed := now - t.lastTickTime
	return t.beat + float64(elapsed)/float64(t.beatPeriod)
}

func (t *midiTempo) setBPM(float64) {
	// The MIDI source's tempo is derived from the wire, not settable.
}

func (t *midiTempo) setPPQN(ppqn int) {
	t.ppqn = ppqn
	t.ppqnPeriod = bpmToPPQNPeriod(t.bpm, ppqn)
}

func (t *midiTempo) resetBeatPhase() {
	t.beat = 0
	t.beatRef = 0
	t.beatPhase = 0
	t.tickCount = 0
}

func (t *midiTempo) run(state bool) {
	t.running = state
	if t.midi == nil {
		return
	}
	if state {
		t.midi.SetOnMidiClock(t.uponMidiByte)
	} else {
		t.midi.SetOnMidiClock(nil)
	}
}

func (t *midiTempo) uponMidiByte(receivedAt Time) {
	if t.lastTickTime != 0 {
		sample := float64(receivedAt - t.lastTickTime)
		t.mean.addSample(sample)
	}
	ppqnPeriod := t.mean.mean()
	if ppqnPeriod == 0 {
		ppqnPeriod = float64(bpmToPPQNPeriod(120, 24))
	}
	t.ppqnPeriod = Time(ppqnPeriod)
	t.beatPeriod = t.ppqnPeriod * 24
	t.bpm = 1.0 / (float64(t.beatPeriod) / 1e9) * 60

	// The MIDI source has no separate "intended" fire time: the
	// observed receive time is the only timestamp available.
	t.uponTick(receivedAt, receivedAt)
}

func (t *midiTempo) uponTick(now, intended Time) {
	t.bc.uponTick(now, intended)
	t.tickCount++
	t.beatPhase++
	t.beat += 1.0 / float64(t.ppqn)
	t.lastTickTime = now
	t.lastTickTimeIntended = intended
	if t.beatPhase%t.ppqn == 0 {
		t.beatPhase = 0
		t.beatRef++
		t.beat = float64(t.beatRef)
	}
}

func (t *midiTempo) stateSnapshot() tempoState {
	return tempoState{
		bpm: t.bpm, ppqn: t.ppqn, beatPeriod: t.beatPeriod, ppqnPeriod: t.ppqnPeriod,
		beat: t.beat, beatRef: t.beatRef, tickCount: t.tickCount, beatPhase: t.beatPhase,
		lastTickTime: t.lastTickTime, lastTickTimeIntended: t.lastTickTimeIntended,
	}
}

func (t *midiTempo) loadState(s tempoState) {
	t.bpm, t.ppqn, t.beatPeriod, t.ppqnPeriod = s.bpm, s.ppqn, s.beatPeriod, s.ppqnPeriod
	t.beat, t.beatRef, t.tickCount, t.beatPhase = s.beat, s.beatRef, s.tickCount, s.beatPhase
	t.lastTickTime, t.lastTickTimeIntended = s.lastTickTime, s.lastTickTimeIntended
}

// midiTickMean is a 32-sample ring-buffer running mean, the same
// RunningMeanMeasurer<double, maxLen> shape as precisiontimer.go's
// runningMean but sized to original_source's
// BeatClockMidiImplementation::meanMeasurer window.
type midiTickMean struct {
	len    int
	index  int
	avg    float64
	window [32]float64
}

func (r *midiTickMean) addSample(sample float64) {
	const maxLen = 32
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

func (r *midiTickMean) mean() float64 { return r.avg }
