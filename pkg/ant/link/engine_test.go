package link

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loopholelabs/antfs/pkg/ant/packets"
	"github.com/loopholelabs/antfs/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEngine(t *testing.T) (*Engine, *transport.Loopback) {
	host, device := transport.NewLoopback()
	conf := DefaultConfig()
	conf.DrainDelay = time.Millisecond
	conf.ResetDelay = 20 * time.Millisecond
	e := NewEngine(host, nil, conf)
	require.NoError(t, e.Start())
	t.Cleanup(func() {
		_ = e.Stop()
	})
	return e, device
}

func writeFrame(t *testing.T, device *transport.Loopback, f *packets.Frame) {
	b, err := f.Encode()
	require.NoError(t, err)
	require.NoError(t, device.Write(b))
}

func readInbound(t *testing.T, e *Engine) Inbound {
	select {
	case msg, ok := <-e.Inbound():
		require.True(t, ok)
		return msg
	case <-time.After(time.Second):
		require.Fail(t, "no inbound message")
	}
	return Inbound{}
}

func readFrame(t *testing.T, device *transport.Loopback) *packets.Frame {
	b, err := device.Read()
	require.NoError(t, err)
	f, err := packets.Parse(b)
	require.NoError(t, err)
	return f
}

func TestEngineRouting(t *testing.T) {
	e, device := setupEngine(t)

	writeFrame(t, device, packets.EncodeChannelResponse(2, packets.MessageAssignChannel, packets.CodeNoError))
	msg := readInbound(t, e)
	assert.Equal(t, KindResponse, msg.Kind)
	assert.True(t, msg.HasChannel)
	assert.Equal(t, byte(2), msg.Channel)
	assert.Equal(t, uint16(packets.MessageAssignChannel), msg.ID)
	assert.Equal(t, []byte{0}, msg.Data)

	writeFrame(t, device, packets.EncodeChannelEvent(1, packets.EventTransferTxCompleted))
	msg = readInbound(t, e)
	assert.Equal(t, KindEvent, msg.Kind)
	assert.Equal(t, byte(1), msg.Channel)
	assert.Equal(t, uint16(packets.EventChannel), msg.ID)
	assert.Equal(t, []byte{byte(packets.EventTransferTxCompleted)}, msg.Data)

	writeFrame(t, device, &packets.Frame{ID: packets.MessageStartup, Payload: []byte{0x20}})
	msg = readInbound(t, e)
	assert.Equal(t, KindResponse, msg.Kind)
	assert.False(t, msg.HasChannel)
	assert.Equal(t, uint16(packets.MessageStartup), msg.ID)
	assert.Equal(t, []byte{0x20}, msg.Data)

	writeFrame(t, device, packets.EncodeChannelIDResponse(&packets.ChannelID{Channel: 3, DeviceNumber: 7, DeviceType: 1, TransmissionType: 5}))
	msg = readInbound(t, e)
	assert.Equal(t, KindResponse, msg.Kind)
	assert.Equal(t, byte(3), msg.Channel)
	assert.Equal(t, uint16(packets.MessageChannelID), msg.ID)
	assert.Equal(t, []byte{7, 0, 1, 5}, msg.Data)

	writeFrame(t, device, packets.EncodeAcknowledgedData(0, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	msg = readInbound(t, e)
	assert.Equal(t, KindEvent, msg.Kind)
	assert.Equal(t, uint16(packets.EventRxAcknowledged), msg.ID)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, msg.Data)
}

func TestEngineDuplicateBroadcast(t *testing.T) {
	e, device := setupEngine(t)

	beacon := []byte{0x43, 0x24, 0x01, 0x00, 0x01, 0x02, 0x03, 0x04}
	writeFrame(t, device, packets.EncodeBroadcastData(0, beacon))
	writeFrame(t, device, packets.EncodeBroadcastData(0, beacon))
	other := []byte{0x43, 0x24, 0x02, 0x00, 0x01, 0x02, 0x03, 0x04}
	writeFrame(t, device, packets.EncodeBroadcastData(0, other))

	msg := readInbound(t, e)
	assert.Equal(t, uint16(packets.EventRxBroadcast), msg.ID)
	assert.Equal(t, beacon, msg.Data)

	msg = readInbound(t, e)
	assert.Equal(t, other, msg.Data)

	assert.Equal(t, uint64(1), e.Metrics().DuplicateBroadcasts)
	assert.Equal(t, uint64(3), e.Metrics().FramesIn)
}

func TestEngineBurstAssembly(t *testing.T) {
	e, device := setupEngine(t)

	parts := [][]byte{
		{1, 1, 1, 1, 1, 1, 1, 1},
		{2, 2, 2, 2, 2, 2, 2, 2},
		{3, 3, 3, 3, 3, 3, 3, 3},
		{4, 4, 4, 4, 4, 4, 4, 4},
	}
	seqs := []byte{0, 1, 2, 3 | packets.BurstLast}
	for i, p := range parts {
		payload := append([]byte{packets.PackChannelSequence(5, seqs[i])}, p...)
		writeFrame(t, device, &packets.Frame{ID: packets.MessageBurstData, Payload: payload})
	}

	msg := readInbound(t, e)
	assert.Equal(t, KindEvent, msg.Kind)
	assert.Equal(t, byte(5), msg.Channel)
	assert.Equal(t, uint16(packets.EventRxBurst), msg.ID)

	expected := make([]byte, 0, 32)
	for _, p := range parts {
		expected = append(expected, p...)
	}
	assert.Equal(t, expected, msg.Data)

	// Nothing was emitted for the intermediate fragments
	assert.Equal(t, 0, len(e.Inbound()))
	assert.Equal(t, uint64(1), e.Metrics().BurstsAssembled)

	// A single fragment burst
	writeFrame(t, device, &packets.Frame{ID: packets.MessageBurstData,
		Payload: append([]byte{packets.PackChannelSequence(5, packets.BurstLast)}, parts[0]...)})
	msg = readInbound(t, e)
	assert.Equal(t, parts[0], msg.Data)
}

func TestEngineFramingError(t *testing.T) {
	e, device := setupEngine(t)

	good, err := packets.Encode(packets.MessageChannelResponse, []byte{0, packets.MessageOpenChannel, 0})
	require.NoError(t, err)
	bad := append([]byte{}, good...)
	bad[len(bad)-1] ^= 0x55

	stream := append([]byte{0x00, 0x17}, bad...)
	stream = append(stream, good...)

	// Split the stream so a frame straddles two reads
	require.NoError(t, device.Write(stream[:6]))
	require.NoError(t, device.Write(stream[6:]))

	msg := readInbound(t, e)
	assert.Equal(t, uint16(packets.MessageOpenChannel), msg.ID)
	assert.Equal(t, uint64(2), e.Metrics().FramingErrors)
	assert.Equal(t, uint64(1), e.Metrics().FramesIn)
}

func TestEngineReadError(t *testing.T) {
	host, device := transport.NewLoopback()
	e := NewEngine(host, nil, nil)
	host.FailRead(errors.New("usb stall"))
	require.NoError(t, e.Start())
	defer e.Stop()

	writeFrame(t, device, packets.EncodeChannelResponse(0, packets.MessageOpenChannel, packets.CodeNoError))
	msg := readInbound(t, e)
	assert.Equal(t, uint16(packets.MessageOpenChannel), msg.ID)
	assert.Equal(t, uint64(1), e.Metrics().ReadErrors)
}

func TestEngineDrain(t *testing.T) {
	e, device := setupEngine(t)

	ack1 := packets.EncodeAcknowledgedData(0, []byte{1, 0, 0, 0, 0, 0, 0, 0})
	ack2 := packets.EncodeAcknowledgedData(0, []byte{2, 0, 0, 0, 0, 0, 0, 0})
	burst, err := packets.SplitBurst(0, make([]byte, 24))
	require.NoError(t, err)

	e.EnqueueTimeslot(nil, ack1)
	e.EnqueueTimeslot(nil, burst...)
	e.EnqueueTimeslot(nil, ack2)
	assert.Equal(t, int64(5), e.Metrics().Queued)

	tick := func(b byte) {
		writeFrame(t, device, packets.EncodeBroadcastData(0, []byte{0x43, b, 0, 0, 0, 0, 0, 0}))
	}

	// One frame per tick, unless it is part of a burst
	tick(1)
	assert.Eventually(t, func() bool { return e.Metrics().DrainedFrames == 1 }, time.Second, time.Millisecond)
	tick(2)
	assert.Eventually(t, func() bool { return e.Metrics().DrainedFrames == 4 }, time.Second, time.Millisecond)
	tick(3)
	assert.Eventually(t, func() bool { return e.Metrics().DrainedFrames == 5 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(3), e.Metrics().Drains)
	assert.Equal(t, int64(0), e.Metrics().Queued)

	expected := []*packets.Frame{ack1, burst[0], burst[1], burst[2], ack2}
	for _, f := range expected {
		got := readFrame(t, device)
		assert.Equal(t, f.ID, got.ID)
		assert.Equal(t, f.Payload, got.Payload)
	}
}

// refusingTransport fails writes of the frames refuse picks.
type refusingTransport struct {
	transport.Transport
	lock   sync.Mutex
	refuse func(f *packets.Frame) bool
}

func (r *refusingTransport) Write(b []byte) error {
	f, err := packets.Parse(b)
	if err == nil {
		r.lock.Lock()
		refused := r.refuse(f)
		r.lock.Unlock()
		if refused {
			return transport.ErrWriteTimeout
		}
	}
	return r.Transport.Write(b)
}

func TestEngineDrainWriteError(t *testing.T) {
	host, device := transport.NewLoopback()
	fragments := 0
	rt := &refusingTransport{Transport: host, refuse: func(f *packets.Frame) bool {
		if f.ID != packets.MessageBurstData {
			return false
		}
		fragments++
		return fragments == 2
	}}
	conf := DefaultConfig()
	conf.DrainDelay = time.Millisecond
	e := NewEngine(rt, nil, conf)
	require.NoError(t, e.Start())
	t.Cleanup(func() {
		_ = e.Stop()
	})

	burst, err := packets.SplitBurst(0, make([]byte, 32))
	require.NoError(t, err)
	ack := packets.EncodeAcknowledgedData(0, []byte{1, 0, 0, 0, 0, 0, 0, 0})

	failed := make(chan error, 1)
	e.EnqueueTimeslot(func(err error) { failed <- err }, burst...)
	e.EnqueueTimeslot(nil, ack)

	tick := func(b byte) {
		writeFrame(t, device, packets.EncodeBroadcastData(0, []byte{0x43, b, 0, 0, 0, 0, 0, 0}))
	}

	tick(1)
	select {
	case err := <-failed:
		assert.ErrorIs(t, err, transport.ErrWriteTimeout)
	case <-time.After(time.Second):
		require.Fail(t, "write error not reported")
	}
	// The rest of the burst is dropped, the next group still goes out
	assert.Equal(t, uint64(2), e.Metrics().DrainedFrames)
	assert.Equal(t, int64(1), e.Metrics().Queued)
	assert.Equal(t, uint64(1), e.Metrics().WriteErrors)

	tick(2)
	assert.Eventually(t, func() bool { return e.Metrics().DrainedFrames == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(0), e.Metrics().Queued)

	got := readFrame(t, device)
	assert.Equal(t, burst[0].Payload, got.Payload)
	got = readFrame(t, device)
	assert.Equal(t, ack.ID, got.ID)
	assert.Equal(t, ack.Payload, got.Payload)
}

func TestEngineHelpers(t *testing.T) {
	e, device := setupEngine(t)

	require.NoError(t, e.AssignChannel(0, packets.ChannelBidirectionalReceive, 0))
	f := readFrame(t, device)
	assert.Equal(t, packets.MessageAssignChannel, f.ID)
	assert.Equal(t, []byte{0, 0, 0}, f.Payload)

	require.NoError(t, e.SetChannelPeriod(0, 4096))
	f = readFrame(t, device)
	assert.Equal(t, packets.MessageSetChannelPeriod, f.ID)
	assert.Equal(t, []byte{0, 0x00, 0x10}, f.Payload)

	assert.ErrorIs(t, e.SetNetworkKey(0, []byte{1, 2, 3}), packets.ErrInvalidNetworkKey)

	start := time.Now()
	require.NoError(t, e.ResetSystem(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	f = readFrame(t, device)
	assert.Equal(t, packets.MessageResetSystem, f.ID)

	assert.ErrorIs(t, e.SendBurstTransfer(0, make([]byte, 7), nil), packets.ErrBurstAlignment)
}

func TestEngineStop(t *testing.T) {
	host, _ := transport.NewLoopback()
	e := NewEngine(host, nil, nil)
	require.NoError(t, e.Start())
	require.NoError(t, e.Stop())

	_, ok := <-e.Inbound()
	assert.False(t, ok)
	assert.Error(t, e.Err())

	// Never started
	e = NewEngine(host, nil, nil)
	require.NoError(t, e.Stop())
	_, ok = <-e.Inbound()
	assert.False(t, ok)
}
