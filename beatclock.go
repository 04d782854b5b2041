package pallet

// TempoSource selects whether a BeatClock derives its tick rate from its
// own internal interval generator or from an external MIDI clock.
type TempoSource uint8

const (
	TempoInternal TempoSource = iota
	TempoMIDI
)

// TransportEvent is fired by BeatClock.OnTransport when the musical
// transport starts, stops, or resets — a thin, scheduling-independent
// notification carried over from the system this spec was distilled
// from (original_source's BeatClockTransportType) for consumers such as
// a UI or OSC bridge that need to react to transport state without
// hooking every tick.
type TransportEvent uint8

const (
	TransportStart TransportEvent = iota
	TransportStop
	TransportReset
)

// tempoState is the transferable subset of tempo-source state copied
// across when BeatClock.SetTempoSource switches the active
// implementation, mirroring setStateFromOther in
// original_source/include/pallet/BeatClock.hpp.
type tempoState struct {
	bpm                  float64
	ppqn                 int
	beatPeriod           Time
	ppqnPeriod           Time
	beat                 float64
	beatRef              int
	tickCount            int
	beatPhase            int
	lastTickTime         Time
	lastTickTimeIntended Time
}

// tempoImplementation is the BeatClockImplementationInterface capability:
// each TempoSource has one, tracking bpm/ppqn/beat/tick state
// independently so switching sources is a matter of copying state
// across and starting/stopping the new source's own ticking mechanism.
type tempoImplementation interface {
	beatInfoProvider

	run(state bool)
	setBPM(bpm float64)
	setPPQN(ppqn int)
	currentBPM() float64
	currentBeatPhase() int
	resetBeatPhase()
	stateSnapshot() tempoState
	loadState(tempoState)
}

func bpmToBeatPeriod(bpm float64) Time {
	return Time((60.0 / bpm) * 1e9)
}

func bpmToPPQNPeriod(bpm float64, ppqn int) Time {
	return Time((60.0 / bpm / float64(ppqn)) * 1e9)
}

// BeatClock is a musical scheduler atop a Clock: it ticks at a
// configurable PPQN resolution, either from its own free-running
// interval or from an external MIDI clock, and lets callers schedule
// callbacks relative to beat position instead of wall-clock time via
// its embedded beatScheduler.
type BeatClock struct {
	clock *Clock
	midi  MidiSource

	source   TempoSource
	active   tempoImplementation
	internal *internalTempo
	external *midiTempo

	scheduler *beatScheduler

	sendClock bool

	onTick      func(TickInfo)
	onTransport func(TransportEvent)
}

// TickInfo is passed to a BeatClock tick callback.
type TickInfo struct {
	BPM       float64
	PPQN      int
	Beat      float64
	BeatPhase int
	Time      Time
	Intended  Time
}

// NewBeatClock constructs a BeatClock driving itself from its own
// internal tempo generator at 120 BPM, 24 PPQN. Use
// NewBeatClockWithMidi to additionally allow SetTempoSource(TempoMIDI).
func NewBeatClock(clock *Clock) *BeatClock {
	return newBeatClock(clock, nil)
}

// NewBeatClockWithMidi constructs a BeatClock that can follow an
// external MIDI clock, in addition to its internal generator.
func NewBeatClockWithMidi(clock *Clock, midi MidiSource) *BeatClock {
	return newBeatClock(clock, midi)
}

func newBeatClock(clock *Clock, midi MidiSource) *BeatClock {
	bc := &BeatClock{clock: clock, midi: midi}
	bc.internal = newInternalTempo(clock, bc)
	bc.internal.setBPM(120)
	bc.internal.setPPQN(24)
	bc.external = newMidiTempo(clock, midi, bc)
	bc.external.setPPQN(24)

	bc.scheduler = newBeatScheduler(clock, bc.internal)
	bc.active = bc.internal
	bc.active.run(true)
	return bc
}

// SetTempoSource switches which implementation drives ticking, copying
// transferable state (bpm, ppqn, beat position) from the outgoing
// source to the incoming one, and re-pointing the beat scheduler's
// beatInfoProvider so CurrentBeat reflects the new source immediately.
// Returns ErrNoTempoSource, leaving the active source unchanged, if
// source is TempoMIDI but bc was constructed via NewBeatClock (no
// MidiSource).
func (bc *BeatClock) SetTempoSource(source TempoSource) error {
	if source == TempoMIDI && bc.midi == nil {
		return ErrNoTempoSource
	}

	old := bc.active
	bc.source = source
	switch source {
	case TempoInternal:
		bc.active = bc.internal
	case TempoMIDI:
		bc.active = bc.external
	}
	old.run(false)
	bc.active.loadState(old.stateSnapshot())
	bc.scheduler.setBeatInfo(bc.active)
	bc.active.run(true)
	return nil
}

// uponTick is invoked by whichever tempo implementation is currently
// active every time a PPQN tick occurs, whether generated internally or
// observed on the MIDI wire.
func (bc *BeatClock) uponTick(now, intended Time) {
	if bc.sendClock && bc.midi != nil {
		_ = bc.midi.SendMidi([]byte{0xF8})
	}
	if bc.onTick != nil {
		bc.onTick(TickInfo{
			BPM:       bc.active.currentBPM(),
			PPQN:      bc.active.currentPPQN(),
			Beat:      bc.active.currentBeat(),
			BeatPhase: bc.active.currentBeatPhase(),
			Time:      now,
			Intended:  intended,
		})
	}
	bc.scheduler.process()
}

// OnTick registers the callback invoked on every PPQN tick.
func (bc *BeatClock) OnTick(fn func(TickInfo)) {
	bc.onTick = fn
}

// OnTransport registers the callback invoked by Start, Stop, and Reset.
func (bc *BeatClock) OnTransport(fn func(TransportEvent)) {
	bc.onTransport = fn
}

// Start begins ticking on the active tempo source, if not already
// running.
func (bc *BeatClock) Start() {
	bc.active.run(true)
	if bc.onTransport != nil {
		bc.onTransport(TransportStart)
	}
}

// Stop halts ticking on the active tempo source.
func (bc *BeatClock) Stop() {
	bc.active.run(false)
	if bc.onTransport != nil {
		bc.onTransport(TransportStop)
	}
}

// Reset snaps beat position back to zero without touching bpm/ppqn or
// running state, and fires a TransportReset notification.
func (bc *BeatClock) Reset() {
	bc.active.resetBeatPhase()
	if bc.onTransport != nil {
		bc.onTransport(TransportReset)
	}
}

// SendMidiClock toggles whether the active tempo source's ticks are
// echoed out over the configured MidiSource as 0xF8 bytes.
func (bc *BeatClock) SendMidiClock(state bool) {
	bc.sendClock = state
}

// SetBPM sets the tempo of the active source. A no-op on the MIDI
// source, whose tempo is derived from observed clock bytes.
func (bc *BeatClock) SetBPM(bpm float64) {
	bc.active.setBPM(bpm)
}

// CurrentBeat returns the active source's current fractional beat
// position, projected forward from the last tick using elapsed
// wall-clock time.
func (bc *BeatClock) CurrentBeat() float64 {
	return bc.active.currentBeat()
}

// SetBeatSyncTimeout schedules callback to fire once at the next beat
// aligned to the sync/offset grid.
func (bc *BeatClock) SetBeatSyncTimeout(sync, offset float64, callback func(BeatEventInfo)) BeatID {
	return bc.scheduler.setBeatSyncTimeout(sync, offset, callback)
}

// SetBeatSyncInterval schedules callback to first fire at the next
// sync/offset-aligned beat, then every period thereafter.
func (bc *BeatClock) SetBeatSyncInterval(sync, offset, period float64, callback func(BeatEventInfo)) BeatID {
	return bc.scheduler.setBeatSyncInterval(sync, offset, period, callback)
}

// SetBeatTimeout schedules callback to fire once, duration beats from
// now.
func (bc *BeatClock) SetBeatTimeout(duration float64, callback func(BeatEventInfo)) BeatID {
	return bc.scheduler.setBeatTimeout(duration, callback)
}

// SetBeatInterval schedules callback to fire repeatedly, every period
// beats.
func (bc *BeatClock) SetBeatInterval(period float64, callback func(BeatEventInfo)) BeatID {
	return bc.scheduler.setBeatInterval(period, callback)
}

// ClearBeatTimeout cancels a pending beat timeout or interval.
func (bc *BeatClock) ClearBeatTimeout(id BeatID) {
	bc.scheduler.clearBeatTimeout(id)
}

// ClearBeatInterval cancels a pending beat interval. Equivalent to
// ClearBeatTimeout.
func (bc *BeatClock) ClearBeatInterval(id BeatID) {
	bc.scheduler.clearBeatTimeout(id)
}
