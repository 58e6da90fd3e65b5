package link

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loopholelabs/antfs/pkg/ant/packets"
	"github.com/loopholelabs/antfs/pkg/transport"
	"github.com/loopholelabs/logging/types"
)

var ErrStopped = errors.New("engine stopped")

type Config struct {
	// DrainDelay is how long after a broadcast the outbound queue is drained.
	DrainDelay time.Duration
	// ResetDelay is how long the stick needs after a system reset.
	ResetDelay time.Duration
	// ReadErrorBackoff pauses the read loop after a recoverable transport error.
	ReadErrorBackoff time.Duration
	InboundQueue     int
}

func DefaultConfig() *Config {
	return &Config{
		DrainDelay:       100 * time.Millisecond,
		ResetDelay:       500 * time.Millisecond,
		ReadErrorBackoff: 10 * time.Millisecond,
		InboundQueue:     64,
	}
}

type Kind int

const (
	KindResponse = Kind(iota)
	KindEvent
)

func (k Kind) String() string {
	if k == KindEvent {
		return "event"
	}
	return "response"
}

// Inbound is a classified message handed from the read loop to the session.
// For responses ID is the message id (or the id being answered for a channel response).
// For events ID is a packets.EventID.
type Inbound struct {
	Kind       Kind
	Channel    byte
	HasChannel bool
	ID         uint16
	Data       []byte
	// Err is set on events the session raises itself for a timeslot frame the transport refused.
	Err error
}

// timeslot is a group of frames queued together. failed, if set, gets the first write error.
type timeslot struct {
	frames []*packets.Frame
	failed func(error)
}

type Engine struct {
	ctx    context.Context
	cancel context.CancelFunc
	t      transport.Transport
	log    types.Logger
	config *Config

	inbound chan Inbound
	done    chan struct{}
	err     error

	buffer        []byte
	lastBroadcast []byte
	bursts        map[byte][]byte

	writeLock sync.Mutex
	queueLock sync.Mutex
	queue     []*timeslot

	startOnce sync.Once
	stopOnce  sync.Once

	metricFramesIn            uint64
	metricFramesOut           uint64
	metricBytesIn             uint64
	metricBytesOut            uint64
	metricFramingErrors       uint64
	metricReadErrors          uint64
	metricWriteErrors         uint64
	metricDuplicateBroadcasts uint64
	metricBurstsAssembled     uint64
	metricDrains              uint64
	metricDrainedFrames       uint64
	metricQueued              int64
}

func NewEngine(t transport.Transport, log types.Logger, conf *Config) *Engine {
	if conf == nil {
		conf = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		ctx:     ctx,
		cancel:  cancel,
		t:       t,
		log:     log,
		config:  conf,
		inbound: make(chan Inbound, conf.InboundQueue),
		done:    make(chan struct{}),
		bursts:  make(map[byte][]byte),
	}
}

// Inbound is closed when the read loop exits.
func (e *Engine) Inbound() <-chan Inbound {
	return e.inbound
}

// Done is closed when the read loop exits.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Err returns why the read loop exited, once Done is closed.
func (e *Engine) Err() error {
	<-e.done
	return e.err
}

// Start opens the transport and runs the read loop in the background.
func (e *Engine) Start() error {
	err := e.t.Open()
	if err != nil {
		return err
	}
	e.startOnce.Do(func() {
		go func() {
			e.err = e.Handle()
			close(e.done)
		}()
	})
	return nil
}

// Stop closes the transport and waits for the read loop.
func (e *Engine) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		e.cancel()
		err = e.t.Close()
		// Never started
		e.startOnce.Do(func() {
			close(e.inbound)
			close(e.done)
		})
	})
	<-e.done
	return err
}

// Handle runs the read loop until the transport closes or the engine is stopped.
func (e *Engine) Handle() error {
	defer close(e.inbound)
	for {
		select {
		case <-e.ctx.Done():
			return ErrStopped
		default:
		}

		data, err := e.t.Read()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || e.ctx.Err() != nil {
				if e.log != nil {
					e.log.Debug().Err(err).Msg("read loop exit")
				}
				return err
			}
			atomic.AddUint64(&e.metricReadErrors, 1)
			if e.log != nil {
				e.log.Warn().Err(err).Msg("transport read error")
			}
			select {
			case <-time.After(e.config.ReadErrorBackoff):
			case <-e.ctx.Done():
			}
			continue
		}
		if len(data) == 0 {
			continue
		}

		atomic.AddUint64(&e.metricBytesIn, uint64(len(data)))
		e.buffer = append(e.buffer, data...)

		for {
			f, n, err := packets.Decode(e.buffer)
			if n == 0 {
				break
			}
			e.buffer = append(e.buffer[:0], e.buffer[n:]...)
			if err != nil {
				atomic.AddUint64(&e.metricFramingErrors, 1)
				if e.log != nil {
					e.log.Warn().Err(err).Int("dropped", n).Msg("framing error")
				}
				continue
			}
			atomic.AddUint64(&e.metricFramesIn, 1)
			e.dispatch(f)
		}
	}
}

func (e *Engine) dispatch(f *packets.Frame) {
	class := packets.Classify(f)
	if e.log != nil {
		e.log.Trace().Str("class", class.String()).Str("frame", f.String()).Msg("rx")
	}

	switch class {
	case packets.ClassBroadcast:
		repeated := e.lastBroadcast != nil && bytes.Equal(f.Payload, e.lastBroadcast)
		e.lastBroadcast = f.Payload
		if repeated {
			atomic.AddUint64(&e.metricDuplicateBroadcasts, 1)
		} else {
			e.forward(Inbound{Kind: KindEvent, Channel: f.Payload[0], HasChannel: true,
				ID: uint16(packets.EventRxBroadcast), Data: f.Payload[1:]})
		}
		select {
		case <-time.After(e.config.DrainDelay):
		case <-e.ctx.Done():
			return
		}
		e.drain()

	case packets.ClassAcknowledged:
		e.forward(Inbound{Kind: KindEvent, Channel: f.Payload[0], HasChannel: true,
			ID: uint16(packets.EventRxAcknowledged), Data: f.Payload[1:]})

	case packets.ClassBurstFragment:
		e.assemble(f)

	case packets.ClassChannelEvent:
		e.forward(Inbound{Kind: KindEvent, Channel: f.Payload[0], HasChannel: true,
			ID: uint16(packets.EventChannel), Data: f.Payload[2:]})

	case packets.ClassResponseOther:
		e.forward(Inbound{Kind: KindResponse, Channel: f.Payload[0], HasChannel: true,
			ID: uint16(f.Payload[1]), Data: f.Payload[2:]})

	case packets.ClassResponseWithChannel:
		e.forward(Inbound{Kind: KindResponse, Channel: f.Payload[0], HasChannel: true,
			ID: uint16(f.ID), Data: f.Payload[1:]})

	case packets.ClassNotification, packets.ClassResponseNoChannel:
		e.forward(Inbound{Kind: KindResponse, ID: uint16(f.ID), Data: f.Payload})

	default:
		if e.log != nil {
			e.log.Debug().Str("frame", f.String()).Msg("unhandled frame")
		}
	}
}

// assemble collects burst fragments per channel and forwards the whole burst on the last one.
func (e *Engine) assemble(f *packets.Frame) {
	channel, seq := packets.UnpackChannelSequence(f.Payload[0])
	data := f.Payload[1:]

	if seq&^packets.BurstLast == 0 {
		e.bursts[channel] = append([]byte{}, data...)
	} else {
		current, ok := e.bursts[channel]
		if !ok {
			if e.log != nil {
				e.log.Warn().Uint8("channel", channel).Uint8("sequence", seq).Msg("burst fragment without start")
			}
			return
		}
		e.bursts[channel] = append(current, data...)
	}

	if seq&packets.BurstLast != 0 {
		payload := e.bursts[channel]
		delete(e.bursts, channel)
		atomic.AddUint64(&e.metricBurstsAssembled, 1)
		e.forward(Inbound{Kind: KindEvent, Channel: channel, HasChannel: true,
			ID: uint16(packets.EventRxBurst), Data: payload})
	}
}

func (e *Engine) forward(msg Inbound) {
	select {
	case e.inbound <- msg:
	case <-e.ctx.Done():
	}
}

// drain sends queued frames in the current timeslot. A burst keeps going until its last
// fragment, anything else gets one frame per tick. A failed write drops the rest of its group.
func (e *Engine) drain() {
	if !e.queueLock.TryLock() {
		return
	}
	defer e.queueLock.Unlock()

	if len(e.queue) == 0 {
		return
	}
	atomic.AddUint64(&e.metricDrains, 1)

	for len(e.queue) > 0 {
		ts := e.queue[0]
		f := ts.frames[0]
		ts.frames = ts.frames[1:]
		if len(ts.frames) == 0 {
			e.queue[0] = nil
			e.queue = e.queue[1:]
		}
		atomic.AddInt64(&e.metricQueued, -1)
		atomic.AddUint64(&e.metricDrainedFrames, 1)

		err := e.Send(f)
		if err != nil {
			if e.log != nil {
				e.log.Warn().Err(err).Str("frame", f.String()).Int("dropped", len(ts.frames)).Msg("timeslot send failed")
			}
			if len(ts.frames) > 0 {
				atomic.AddInt64(&e.metricQueued, -int64(len(ts.frames)))
				ts.frames = nil
				e.queue[0] = nil
				e.queue = e.queue[1:]
			}
			if ts.failed != nil {
				ts.failed(err)
			}
			return
		}

		if f.ID != packets.MessageBurstData || packets.IsLastFragment(f) {
			break
		}
	}
}

// EnqueueTimeslot queues frames to go out on the next broadcast ticks. Frames passed together
// are queued together. failed may be nil.
func (e *Engine) EnqueueTimeslot(failed func(error), frames ...*packets.Frame) {
	if len(frames) == 0 {
		return
	}
	e.queueLock.Lock()
	e.queue = append(e.queue, &timeslot{frames: frames, failed: failed})
	e.queueLock.Unlock()
	atomic.AddInt64(&e.metricQueued, int64(len(frames)))
}

// Send writes a frame to the transport straight away.
func (e *Engine) Send(f *packets.Frame) error {
	b, err := f.Encode()
	if err != nil {
		return err
	}

	e.writeLock.Lock()
	defer e.writeLock.Unlock()

	if e.log != nil {
		e.log.Trace().Str("frame", f.String()).Msg("tx")
	}
	err = e.t.Write(b)
	if err != nil {
		atomic.AddUint64(&e.metricWriteErrors, 1)
		return err
	}
	atomic.AddUint64(&e.metricFramesOut, 1)
	atomic.AddUint64(&e.metricBytesOut, uint64(len(b)))
	return nil
}
