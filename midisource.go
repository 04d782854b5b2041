package pallet

// MidiSource is the capability contract a host environment supplies when
// a BeatClock should follow an external MIDI clock (0xF8 realtime byte
// @ 24 ppqn) instead of its own internal tempo generator. It is
// intentionally minimal: MIDI port enumeration, parsing of non-clock
// messages, and transport plumbing are out of scope (see Non-goals) —
// this package only needs clock-byte delivery and, optionally, clock
// passthrough.
//
// Implementations that read from a threaded MIDI driver must marshal
// onto the goroutine driving the owning Clock before invoking the
// registered callback; see the midi package's ChannelSource for a ready
// -made bridge.
type MidiSource interface {
	// SetOnMidiClock registers fn to be called with a monotonic receive
	// timestamp each time a 0xF8 clock byte arrives. Passing nil
	// deregisters. Only one callback may be registered at a time.
	SetOnMidiClock(fn func(receivedAt Time))

	// SendMidi transmits raw MIDI bytes, used by BeatClock.SendMidiClock
	// to pass the active tempo source's ticks through to downstream
	// gear.
	SendMidi(data []byte) error
}
