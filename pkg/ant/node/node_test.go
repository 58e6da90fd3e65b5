package node

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

// fakeStick answers config messages, ticks broadcasts and acks timeslot sends.
type fakeStick struct {
	device *transport.Loopback

	lock     sync.Mutex
	failTx   int
	codes    map[byte]packets.Code
	silent   map[byte]bool
	acks     [][]byte
	bursts   [][]byte
	fragment []byte
}

func newFakeStick(device *transport.Loopback) *fakeStick {
	return &fakeStick{
		device: device,
		codes:  make(map[byte]packets.Code),
		silent: make(map[byte]bool),
	}
}

func (s *fakeStick) setCode(id byte, code packets.Code) {
	s.lock.Lock()
	s.codes[id] = code
	s.lock.Unlock()
}

func (s *fakeStick) setSilent(id byte) {
	s.lock.Lock()
	s.silent[id] = true
	s.lock.Unlock()
}

func (s *fakeStick) setFailTx(count int) {
	s.lock.Lock()
	s.failTx = count
	s.lock.Unlock()
}

func (s *fakeStick) send(f *packets.Frame) {
	b, err := f.Encode()
	if err != nil {
		panic(err)
	}
	_ = s.device.Write(b)
}

func (s *fakeStick) txResult(channel byte) {
	s.lock.Lock()
	code := packets.EventTransferTxCompleted
	if s.failTx > 0 {
		s.failTx--
		code = packets.EventTransferTxFailed
	}
	s.lock.Unlock()
	s.send(packets.EncodeChannelEvent(channel, code))
}

func (s *fakeStick) run() {
	go func() {
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		count := byte(0)
		for {
			select {
			case <-ticker.C:
				count++
				s.send(packets.EncodeBroadcastData(0, []byte{0x43, count, 0, 0, 0, 0, 0, 0}))
			case <-s.device.Done():
				return
			}
		}
	}()

	go func() {
		for {
			b, err := s.device.Read()
			if err != nil {
				return
			}
			f, err := packets.Parse(b)
			if err != nil {
				continue
			}
			s.handle(f)
		}
	}()
}

func (s *fakeStick) handle(f *packets.Frame) {
	s.lock.Lock()
	silent := s.silent[f.ID]
	code := s.codes[f.ID]
	s.lock.Unlock()
	if silent {
		return
	}

	switch f.ID {
	case packets.MessageResetSystem:
		s.send(&packets.Frame{ID: packets.MessageStartup, Payload: []byte{0x20}})

	case packets.MessageSetNetworkKey, packets.MessageAssignChannel, packets.MessageUnassignChannel,
		packets.MessageOpenChannel, packets.MessageSetChannelID, packets.MessageSetChannelPeriod,
		packets.MessageSetSearchTimeout, packets.MessageSetChannelRFFreq, packets.MessageSetSearchWaveform:
		s.send(packets.EncodeChannelResponse(f.Payload[0], f.ID, code))

	case packets.MessageCloseChannel:
		s.send(packets.EncodeChannelResponse(f.Payload[0], f.ID, code))
		s.send(packets.EncodeChannelEvent(f.Payload[0], packets.EventChannelClosed))

	case packets.MessageRequestMessage:
		switch f.Payload[1] {
		case packets.MessageCapabilities:
			s.send(&packets.Frame{ID: packets.MessageCapabilities, Payload: []byte{8, 3, 0x0a, 0x00}})
		case packets.MessageChannelID:
			s.send(packets.EncodeChannelIDResponse(&packets.ChannelID{Channel: f.Payload[0], DeviceNumber: 0x1234, DeviceType: 1, TransmissionType: 5}))
		}

	case packets.MessageAcknowledgeData:
		s.lock.Lock()
		s.acks = append(s.acks, f.Payload[1:])
		s.lock.Unlock()
		s.txResult(f.Payload[0])

	case packets.MessageBurstData:
		channel, seq := packets.UnpackChannelSequence(f.Payload[0])
		s.lock.Lock()
		if seq&^packets.BurstLast == 0 {
			s.fragment = nil
		}
		s.fragment = append(s.fragment, f.Payload[1:]...)
		last := seq&packets.BurstLast != 0
		if last {
			s.bursts = append(s.bursts, s.fragment)
			s.fragment = nil
		}
		s.lock.Unlock()
		if last {
			s.send(packets.EncodeChannelEvent(channel, packets.EventTransferTxStart))
			s.txResult(channel)
		}
	}
}

func testConfig() *Config {
	conf := DefaultConfig()
	conf.PollInterval = 10 * time.Millisecond
	conf.RetryBackoff = time.Millisecond
	conf.Link.DrainDelay = time.Millisecond
	conf.Link.ResetDelay = time.Millisecond
	return conf
}

func setupNode(t *testing.T, conf *Config) (*Node, *fakeStick) {
	host, device := transport.NewLoopback()
	stick := newFakeStick(device)
	stick.run()

	n := New(host, nil, conf)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() {
		_ = n.Stop()
	})
	return n, stick
}

func TestNodeChannelSetup(t *testing.T) {
	n, _ := setupNode(t, testConfig())
	ctx := context.Background()

	require.NoError(t, n.SetNetworkKey(ctx, 0, []byte{0xa8, 0xa4, 0x23, 0xb9, 0xf5, 0x5e, 0x63, 0xc1}))

	var lock sync.Mutex
	var beacons [][]byte
	c, err := n.NewChannel(ctx, packets.ChannelBidirectionalReceive, 0, Handlers{
		Broadcast: func(data []byte) {
			lock.Lock()
			beacons = append(beacons, data)
			lock.Unlock()
		},
	})
	require.NoError(t, err)
	assert.Equal(t, byte(0), c.ID)

	require.NoError(t, c.SetPeriod(ctx, 4096))
	require.NoError(t, c.SetSearchTimeout(ctx, 255))
	require.NoError(t, c.SetRFFreq(ctx, 50))
	require.NoError(t, c.SetSearchWaveform(ctx, 0x0053))
	require.NoError(t, c.SetID(ctx, 0, 1, 0))
	require.NoError(t, c.Open(ctx))

	data, err := c.RequestMessage(ctx, packets.MessageChannelID)
	require.NoError(t, err)
	cid, err := packets.DecodeChannelID(c.ID, data)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), cid.DeviceNumber)

	assert.Eventually(t, func() bool {
		lock.Lock()
		defer lock.Unlock()
		return len(beacons) > 2
	}, time.Second, time.Millisecond)

	caps, err := n.RequestMessage(ctx, packets.MessageCapabilities)
	require.NoError(t, err)
	assert.Equal(t, []byte{8, 3, 0x0a, 0x00}, caps)

	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Unassign(ctx))

	// The id is free again
	c2, err := n.NewChannel(ctx, packets.ChannelBidirectionalReceive, 0, Handlers{})
	require.NoError(t, err)
	assert.Equal(t, byte(0), c2.ID)
}

func TestNodeNoFreeChannel(t *testing.T) {
	conf := testConfig()
	conf.MaxChannels = 1
	n, _ := setupNode(t, conf)

	_, err := n.NewChannel(context.Background(), packets.ChannelBidirectionalReceive, 0, Handlers{})
	require.NoError(t, err)
	_, err = n.NewChannel(context.Background(), packets.ChannelBidirectionalReceive, 0, Handlers{})
	assert.ErrorIs(t, err, ErrNoFreeChannel)
}

func TestNodeResponseError(t *testing.T) {
	n, stick := setupNode(t, testConfig())
	stick.setCode(packets.MessageOpenChannel, packets.CodeChannelInWrongState)

	c, err := n.NewChannel(context.Background(), packets.ChannelBidirectionalReceive, 0, Handlers{})
	require.NoError(t, err)

	err = c.Open(context.Background())
	assert.ErrorIs(t, err, ErrResponse)
	var rerr *ResponseError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, packets.CodeChannelInWrongState, rerr.Code)
	assert.Equal(t, packets.MessageOpenChannel, rerr.ID)
}

func TestNodeTimeout(t *testing.T) {
	n, stick := setupNode(t, testConfig())
	stick.setSilent(packets.MessageOpenChannel)

	c, err := n.NewChannel(context.Background(), packets.ChannelBidirectionalReceive, 0, Handlers{})
	require.NoError(t, err)

	start := time.Now()
	err = c.Open(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestNodeContextCancel(t *testing.T) {
	n, _ := setupNode(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := n.WaitForSpecial(ctx, packets.MessageVersion)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNodeAcknowledgedRetry(t *testing.T) {
	n, stick := setupNode(t, testConfig())
	stick.setFailTx(2)

	c, err := n.NewChannel(context.Background(), packets.ChannelBidirectionalReceive, 0, Handlers{})
	require.NoError(t, err)

	data := []byte{0x44, 0x05, 0, 0, 0, 0, 0, 0}
	require.NoError(t, c.SendAcknowledgedData(context.Background(), data))

	stick.lock.Lock()
	defer stick.lock.Unlock()
	assert.Equal(t, 3, len(stick.acks))
	for _, a := range stick.acks {
		assert.Equal(t, data, a)
	}
}

func TestNodeBurst(t *testing.T) {
	n, stick := setupNode(t, testConfig())

	c, err := n.NewChannel(context.Background(), packets.ChannelBidirectionalReceive, 0, Handlers{})
	require.NoError(t, err)

	data := make([]byte, 40)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, c.SendBurstTransfer(context.Background(), data))

	stick.lock.Lock()
	defer stick.lock.Unlock()
	require.Equal(t, 1, len(stick.bursts))
	assert.Equal(t, data, stick.bursts[0])
}

func TestNodeBurstGivesUp(t *testing.T) {
	conf := testConfig()
	conf.SendRetries = 3
	n, stick := setupNode(t, conf)
	stick.setFailTx(100)

	c, err := n.NewChannel(context.Background(), packets.ChannelBidirectionalReceive, 0, Handlers{})
	require.NoError(t, err)

	err = c.SendBurstTransfer(context.Background(), make([]byte, 16))
	assert.ErrorIs(t, err, ErrTransferFailed)

	stick.lock.Lock()
	defer stick.lock.Unlock()
	assert.Equal(t, 3, len(stick.bursts))
}

func TestNodeStopFailsWaits(t *testing.T) {
	conf := testConfig()
	conf.PollInterval = time.Second
	n, _ := setupNode(t, conf)

	result := make(chan error, 1)
	go func() {
		_, err := n.WaitForEvent(context.Background(), packets.EventTransferTxCompleted)
		result <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, n.Stop())

	select {
	case err := <-result:
		assert.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(time.Second):
		assert.Fail(t, "wait did not fail on stop")
	}
}

// queueEvent has the stick raise code on channel and waits until the node has queued it.
func queueEvent(t *testing.T, n *Node, stick *fakeStick, channel byte, code packets.Code) {
	n.lock.Lock()
	before := len(n.events)
	n.lock.Unlock()
	stick.send(packets.EncodeChannelEvent(channel, code))
	require.Eventually(t, func() bool {
		n.lock.Lock()
		defer n.lock.Unlock()
		return len(n.events) > before
	}, time.Second, time.Millisecond)
}

func TestNodeSendIgnoresStaleCompletion(t *testing.T) {
	conf := testConfig()
	conf.SendRetries = 2
	n, stick := setupNode(t, conf)

	c, err := n.NewChannel(context.Background(), packets.ChannelBidirectionalReceive, 0, Handlers{})
	require.NoError(t, err)

	// Left over from an earlier send that gave up
	queueEvent(t, n, stick, 0, packets.EventTransferTxCompleted)
	stick.setFailTx(100)

	err = c.SendAcknowledgedData(context.Background(), []byte{0x44, 0x05, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrTransferFailed)

	stick.lock.Lock()
	defer stick.lock.Unlock()
	assert.Equal(t, 2, len(stick.acks))
}

func TestNodeFlushKeepsOtherEvents(t *testing.T) {
	n, stick := setupNode(t, testConfig())

	queueEvent(t, n, stick, 0, packets.EventTransferTxCompleted)
	queueEvent(t, n, stick, 0, packets.EventRxFailGoToSearch)
	queueEvent(t, n, stick, 0, packets.EventChannelClosed)
	queueEvent(t, n, stick, 1, packets.EventTransferTxCompleted)

	n.flushEvents(0)

	n.lock.Lock()
	defer n.lock.Unlock()
	require.Equal(t, 2, len(n.events))
	assert.Equal(t, byte(0), n.events[0].Channel)
	assert.Equal(t, []byte{byte(packets.EventChannelClosed)}, n.events[0].Data)
	assert.Equal(t, byte(1), n.events[1].Channel)
}

// refusingTransport fails writes of the frames refuse picks, and counts them.
type refusingTransport struct {
	transport.Transport
	lock    sync.Mutex
	refuse  func(f *packets.Frame) bool
	refused int
}

func (r *refusingTransport) Write(b []byte) error {
	f, err := packets.Parse(b)
	if err == nil {
		r.lock.Lock()
		refused := r.refuse(f)
		if refused {
			r.refused++
		}
		r.lock.Unlock()
		if refused {
			return transport.ErrWriteTimeout
		}
	}
	return r.Transport.Write(b)
}

func TestNodeSendWriteError(t *testing.T) {
	host, device := transport.NewLoopback()
	stick := newFakeStick(device)
	stick.run()

	rt := &refusingTransport{Transport: host, refuse: func(f *packets.Frame) bool {
		return f.ID == packets.MessageAcknowledgeData || f.ID == packets.MessageBurstData
	}}
	conf := testConfig()
	conf.PollInterval = time.Second
	n := New(rt, nil, conf)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() {
		_ = n.Stop()
	})

	c, err := n.NewChannel(context.Background(), packets.ChannelBidirectionalReceive, 0, Handlers{})
	require.NoError(t, err)

	start := time.Now()
	err = c.SendAcknowledgedData(context.Background(), []byte{0x44, 0x05, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, transport.ErrWriteTimeout)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)

	err = c.SendBurstTransfer(context.Background(), make([]byte, 24))
	assert.ErrorIs(t, err, transport.ErrWriteTimeout)

	// Not retried, and the rest of the burst never went out
	rt.lock.Lock()
	assert.Equal(t, 2, rt.refused)
	rt.lock.Unlock()
	assert.Equal(t, int64(0), n.Engine().Metrics().Queued)

	stick.lock.Lock()
	defer stick.lock.Unlock()
	assert.Empty(t, stick.acks)
	assert.Empty(t, stick.bursts)
}

func TestNodeCloseAfterSearchFailure(t *testing.T) {
	n, stick := setupNode(t, testConfig())

	c, err := n.NewChannel(context.Background(), packets.ChannelBidirectionalReceive, 0, Handlers{})
	require.NoError(t, err)
	require.NoError(t, c.Open(context.Background()))

	// The device dropped back to search after a disconnect
	queueEvent(t, n, stick, 0, packets.EventRxFailGoToSearch)

	require.NoError(t, c.Close(context.Background()))

	n.lock.Lock()
	defer n.lock.Unlock()
	for _, m := range n.events {
		assert.NotEqual(t, []byte{byte(packets.EventChannelClosed)}, m.Data)
	}
}
