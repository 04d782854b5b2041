package midi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palletrt/pallet"
)

func TestChannelSource_DeliverThenDrain_InvokesCallbackInOrder(t *testing.T) {
	s := NewChannelSource(4, nil)

	var received []pallet.Time
	s.SetOnMidiClock(func(receivedAt pallet.Time) {
		received = append(received, receivedAt)
	})

	s.DeliverClockByte(10)
	s.DeliverClockByte(20)
	s.DeliverClockByte(30)
	s.Drain()

	assert.Equal(t, []pallet.Time{10, 20, 30}, received)
}

func TestChannelSource_Drain_WithoutCallback_ConsumesBufferSilently(t *testing.T) {
	s := NewChannelSource(2, nil)

	s.DeliverClockByte(1)
	s.DeliverClockByte(2)

	assert.NotPanics(t, s.Drain)

	// The buffer should be empty now; a further Drain is a no-op.
	var called bool
	s.SetOnMidiClock(func(pallet.Time) { called = true })
	s.Drain()
	assert.False(t, called)
}

func TestChannelSource_DeliverClockByte_DropsOnFullBuffer(t *testing.T) {
	s := NewChannelSource(2, nil)

	s.DeliverClockByte(1)
	s.DeliverClockByte(2)
	// Buffer capacity 2 is now full; this delivery must be dropped
	// rather than block.
	s.DeliverClockByte(3)

	var received []pallet.Time
	s.SetOnMidiClock(func(receivedAt pallet.Time) {
		received = append(received, receivedAt)
	})
	s.Drain()

	assert.Equal(t, []pallet.Time{1, 2}, received, "the third delivery must have been dropped, not queued")
}

func TestNewChannelSource_NonPositiveBufferSize_DefaultsInsteadOfZeroCap(t *testing.T) {
	s := NewChannelSource(0, nil)
	assert.NotPanics(t, func() { s.DeliverClockByte(1) })

	s2 := NewChannelSource(-5, nil)
	assert.NotPanics(t, func() { s2.DeliverClockByte(1) })
}

func TestChannelSource_SendMidi_NilSendFn_ReturnsNilError(t *testing.T) {
	s := NewChannelSource(1, nil)
	assert.NoError(t, s.SendMidi([]byte{ByteClock}))
}

func TestChannelSource_SendMidi_PassesThroughToSendFn(t *testing.T) {
	var got []byte
	s := NewChannelSource(1, func(data []byte) error {
		got = data
		return nil
	})

	require.NoError(t, s.SendMidi([]byte{ByteStart, 0x01}))
	assert.Equal(t, []byte{ByteStart, 0x01}, got)
}

func TestChannelSource_SendMidi_PropagatesSendFnError(t *testing.T) {
	wantErr := errors.New("port closed")
	s := NewChannelSource(1, func([]byte) error { return wantErr })

	assert.ErrorIs(t, s.SendMidi([]byte{ByteStop}), wantErr)
}

func TestChannelSource_SetOnMidiClock_Nil_DeregistersCallback(t *testing.T) {
	s := NewChannelSource(2, nil)

	var called bool
	s.SetOnMidiClock(func(pallet.Time) { called = true })
	s.SetOnMidiClock(nil)

	s.DeliverClockByte(1)
	assert.NotPanics(t, s.Drain)
	assert.False(t, called)
}
