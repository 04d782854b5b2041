// Package midi provides the minimal MIDI surface BeatClock needs to
// follow an external tempo: realtime-byte constants, and a channel-based
// MidiSource that bridges a threaded MIDI driver onto the single
// goroutine driving a Clock. Naming and constant-table style is grounded
// on the MIDI event modeling used elsewhere in the example pack;
// message parsing beyond the realtime clock byte is out of scope.
package midi

import "github.com/palletrt/pallet"

// MIDI system realtime bytes relevant to clock synchronization.
const (
	ByteClock         byte = 0xF8
	ByteStart         byte = 0xFA
	ByteContinue      byte = 0xFB
	ByteStop          byte = 0xFC
	ByteActiveSensing byte = 0xFE
	ByteReset         byte = 0xFF
)

// ChannelSource is a goroutine-safe pallet.MidiSource backed by a
// buffered channel, for bridging a threaded MIDI input driver (reading
// from an OS MIDI port, out of scope for this package) onto the
// scheduling goroutine. Grounded on the teacher eventloop package's
// chunked-ingress batch-drain shape, simplified to a plain channel since
// clock-byte delivery doesn't need ingress's throughput-oriented
// chunking.
type ChannelSource struct {
	events chan tickEvent
	onTick func(receivedAt pallet.Time)
	sendFn func(data []byte) error
}

type tickEvent struct {
	receivedAt pallet.Time
}

// NewChannelSource constructs a ChannelSource whose inbound clock-tick
// buffer holds bufferSize received ticks (64 if bufferSize <= 0).
// sendFn is invoked by SendMidi (e.g. to write to a serial MIDI port);
// pass nil if outbound passthrough is not needed.
func NewChannelSource(bufferSize int, sendFn func(data []byte) error) *ChannelSource {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &ChannelSource{events: make(chan tickEvent, bufferSize), sendFn: sendFn}
}

// DeliverClockByte is called by the MIDI input driver's own goroutine
// whenever a clock byte is received, with a monotonic receive
// timestamp matching whatever clock the owning pallet.Clock uses.
// Non-blocking: drops the tick if the buffer is full rather than
// stalling the driver thread, since a dropped clock tick under
// transient backpressure is recoverable (the running mean simply
// absorbs one fewer sample) while a stalled MIDI reader is not.
func (s *ChannelSource) DeliverClockByte(receivedAt pallet.Time) {
	select {
	case s.events <- tickEvent{receivedAt: receivedAt}:
	default:
	}
}

// Drain must be called from the scheduling goroutine (e.g. via a
// Platform FD registration or a periodic Clock interval) to move
// buffered ticks onto the registered callback.
func (s *ChannelSource) Drain() {
	for {
		select {
		case ev := <-s.events:
			if s.onTick != nil {
				s.onTick(ev.receivedAt)
			}
		default:
			return
		}
	}
}

// SetOnMidiClock implements pallet.MidiSource.
func (s *ChannelSource) SetOnMidiClock(fn func(receivedAt pallet.Time)) {
	s.onTick = fn
}

// SendMidi implements pallet.MidiSource.
func (s *ChannelSource) SendMidi(data []byte) error {
	if s.sendFn == nil {
		return nil
	}
	return s.sendFn(data)
}
