package node

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loopholelabs/antfs/pkg/ant/link"
	"github.com/loopholelabs/antfs/pkg/ant/packets"
	"github.com/loopholelabs/antfs/pkg/transport"
	"github.com/loopholelabs/logging/types"
)

type Config struct {
	// PollInterval and PollCount bound every wait.
	PollInterval time.Duration
	PollCount    int
	// SendRetries is how many times an acknowledged or burst send is tried.
	SendRetries  int
	RetryBackoff time.Duration
	// QueueLimit caps unclaimed responses and events. The oldest are dropped.
	QueueLimit  int
	MaxChannels int
	Link        *link.Config
}

func DefaultConfig() *Config {
	return &Config{
		PollInterval: time.Second,
		PollCount:    10,
		SendRetries:  5,
		RetryBackoff: 100 * time.Millisecond,
		QueueLimit:   64,
		MaxChannels:  8,
		Link:         link.DefaultConfig(),
	}
}

// Node is a session with one ANT stick. It owns the link engine and the channels opened on it.
type Node struct {
	engine *link.Engine
	log    types.Logger
	config *Config

	lock      sync.Mutex
	responses []link.Inbound
	events    []link.Inbound
	notify    chan struct{}
	closed    bool
	channels  map[byte]*Channel

	started atomic.Bool
	done    chan struct{}
}

func New(t transport.Transport, log types.Logger, conf *Config) *Node {
	if conf == nil {
		conf = DefaultConfig()
	}
	return &Node{
		engine:   link.NewEngine(t, log, conf.Link),
		log:      log,
		config:   conf,
		notify:   make(chan struct{}),
		channels: make(map[byte]*Channel),
		done:     make(chan struct{}),
	}
}

func (n *Node) Engine() *link.Engine {
	return n.engine
}

// Done is closed once a started node has stopped dispatching.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// Start opens the stick, starts dispatching and resets the stick.
func (n *Node) Start(ctx context.Context) error {
	err := n.engine.Start()
	if err != nil {
		return err
	}
	if n.started.CompareAndSwap(false, true) {
		go n.dispatch()
	}

	err = n.engine.ResetSystem(ctx)
	if err != nil {
		return err
	}
	if n.log != nil {
		n.log.Debug().Msg("node started")
	}
	return nil
}

// Stop closes the stick. Pending waits fail with transport.ErrClosed.
func (n *Node) Stop() error {
	err := n.engine.Stop()
	if n.started.Load() {
		<-n.done
	} else {
		n.shutdown()
	}
	if n.log != nil {
		n.log.Debug().Msg("node stopped")
	}
	return err
}

func (n *Node) shutdown() {
	n.lock.Lock()
	defer n.lock.Unlock()
	if !n.closed {
		n.closed = true
		close(n.notify)
	}
}

// dispatch is the only consumer of the engine's inbound messages.
func (n *Node) dispatch() {
	defer close(n.done)
	defer n.shutdown()

	for msg := range n.engine.Inbound() {
		if msg.Kind == link.KindResponse {
			n.push(&n.responses, msg)
			continue
		}
		if msg.ID == uint16(packets.EventChannel) {
			n.push(&n.events, msg)
			continue
		}
		n.deliver(msg)
	}
}

func (n *Node) push(queue *[]link.Inbound, msg link.Inbound) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.closed {
		return
	}
	*queue = append(*queue, msg)
	if len(*queue) > n.config.QueueLimit {
		dropped := (*queue)[0]
		*queue = (*queue)[1:]
		if n.log != nil {
			n.log.Debug().Int("channel", int(dropped.Channel)).Int("id", int(dropped.ID)).Msg("dropped unclaimed message")
		}
	}
	close(n.notify)
	n.notify = make(chan struct{})
}

func (n *Node) deliver(msg link.Inbound) {
	n.lock.Lock()
	c, ok := n.channels[msg.Channel]
	n.lock.Unlock()
	if !ok {
		if n.log != nil {
			n.log.Trace().Int("channel", int(msg.Channel)).Msg("data for unknown channel")
		}
		return
	}

	var fn func([]byte)
	switch packets.EventID(msg.ID) {
	case packets.EventRxBroadcast:
		fn = c.handlers.Broadcast
	case packets.EventRxBurst:
		fn = c.handlers.Burst
	case packets.EventRxAcknowledged:
		fn = c.handlers.Acknowledged
	}
	if fn != nil {
		fn(msg.Data)
	}
}

// wait takes the first queued message matching fn, polling up to PollCount times.
func (n *Node) wait(ctx context.Context, queue *[]link.Inbound, fn func(*link.Inbound) bool) (link.Inbound, error) {
	ticker := time.NewTicker(n.config.PollInterval)
	defer ticker.Stop()

	polls := 0
	for {
		n.lock.Lock()
		for i := range *queue {
			if fn(&(*queue)[i]) {
				msg := (*queue)[i]
				*queue = append((*queue)[:i], (*queue)[i+1:]...)
				n.lock.Unlock()
				return msg, nil
			}
		}
		notify := n.notify
		closed := n.closed
		n.lock.Unlock()

		if closed {
			return link.Inbound{}, transport.ErrClosed
		}
		if polls >= n.config.PollCount {
			return link.Inbound{}, ErrTimeout
		}

		select {
		case <-notify:
		case <-ticker.C:
			polls++
		case <-ctx.Done():
			return link.Inbound{}, ctx.Err()
		}
	}
}

func checkResponse(msg link.Inbound) ([]byte, error) {
	if len(msg.Data) == 0 {
		return nil, fmt.Errorf("%w: empty response to %s", packets.ErrInvalidPacket, packets.MessageString(byte(msg.ID)))
	}
	code := packets.Code(msg.Data[0])
	if code != packets.CodeNoError {
		return nil, &ResponseError{Channel: msg.Channel, ID: byte(msg.ID), Code: code}
	}
	return msg.Data[1:], nil
}

// WaitForResponse waits for the stick to answer message id and checks its status code.
func (n *Node) WaitForResponse(ctx context.Context, id byte) error {
	msg, err := n.wait(ctx, &n.responses, func(m *link.Inbound) bool {
		return m.ID == uint16(id)
	})
	if err != nil {
		return err
	}
	_, err = checkResponse(msg)
	return err
}

// WaitForEvent waits for a channel event with one of the given codes.
func (n *Node) WaitForEvent(ctx context.Context, codes ...packets.Code) (packets.Code, error) {
	return n.waitEvent(ctx, nil, false, codes)
}

func isTransferFailed(code packets.Code) bool {
	return code == packets.EventTransferTxFailed || code == packets.EventRxFailGoToSearch
}

// isTransferEvent is an event that only means something to the send waiting for it.
func isTransferEvent(m *link.Inbound) bool {
	if m.Err != nil {
		return true
	}
	if len(m.Data) == 0 {
		return false
	}
	code := packets.Code(m.Data[0])
	return isTransferFailed(code) || code == packets.EventTransferTxStart || code == packets.EventTransferTxCompleted
}

// waitEvent waits for one of codes. When sending, a transfer failure or a refused timeslot
// write ends the wait early.
func (n *Node) waitEvent(ctx context.Context, channel *byte, sending bool, codes []packets.Code) (packets.Code, error) {
	msg, err := n.wait(ctx, &n.events, func(m *link.Inbound) bool {
		if channel != nil && m.Channel != *channel {
			return false
		}
		if sending && m.Err != nil {
			return true
		}
		if len(m.Data) == 0 {
			return false
		}
		code := packets.Code(m.Data[0])
		if sending && isTransferFailed(code) {
			return true
		}
		for _, c := range codes {
			if c == code {
				return true
			}
		}
		return false
	})
	if err != nil {
		return 0, err
	}
	if msg.Err != nil {
		return 0, fmt.Errorf("timeslot send on channel %d: %w", msg.Channel, msg.Err)
	}
	code := packets.Code(msg.Data[0])
	if sending && isTransferFailed(code) {
		return code, fmt.Errorf("%w: %s on channel %d", ErrTransferFailed, code, msg.Channel)
	}
	return code, nil
}

// flushEvents drops queued transfer events for channel so a send only sees its own.
func (n *Node) flushEvents(channel byte) {
	n.lock.Lock()
	defer n.lock.Unlock()
	kept := n.events[:0]
	for _, m := range n.events {
		if m.Channel == channel && isTransferEvent(&m) {
			if n.log != nil {
				n.log.Trace().Int("channel", int(channel)).Msg("dropped stale transfer event")
			}
			continue
		}
		kept = append(kept, m)
	}
	for i := len(kept); i < len(n.events); i++ {
		n.events[i] = link.Inbound{}
	}
	n.events = kept
}

// sendFailed queues a refused timeslot write as an event for the send waiting on channel.
func (n *Node) sendFailed(channel byte, err error) {
	n.push(&n.events, link.Inbound{Kind: link.KindEvent, Channel: channel, HasChannel: true,
		ID: uint16(packets.EventChannel), Err: err})
}

// WaitForSpecial waits for message id without looking at a status code.
func (n *Node) WaitForSpecial(ctx context.Context, id byte) (link.Inbound, error) {
	return n.wait(ctx, &n.responses, func(m *link.Inbound) bool {
		return m.ID == uint16(id)
	})
}

func (n *Node) SetNetworkKey(ctx context.Context, network byte, key []byte) error {
	err := n.engine.SetNetworkKey(network, key)
	if err != nil {
		return err
	}
	return n.WaitForResponse(ctx, packets.MessageSetNetworkKey)
}

// RequestMessage asks the stick for an informational message such as capabilities or version.
func (n *Node) RequestMessage(ctx context.Context, id byte) ([]byte, error) {
	err := n.engine.RequestMessage(0, id)
	if err != nil {
		return nil, err
	}
	msg, err := n.WaitForSpecial(ctx, id)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// NewChannel assigns the lowest free channel. Data arriving on it goes to handlers.
func (n *Node) NewChannel(ctx context.Context, ctype packets.ChannelType, network byte, handlers Handlers) (*Channel, error) {
	n.lock.Lock()
	id := -1
	for i := 0; i < n.config.MaxChannels; i++ {
		if _, ok := n.channels[byte(i)]; !ok {
			id = i
			break
		}
	}
	if id < 0 {
		n.lock.Unlock()
		return nil, ErrNoFreeChannel
	}
	c := &Channel{
		ID:       byte(id),
		node:     n,
		handlers: handlers,
	}
	n.channels[c.ID] = c
	n.lock.Unlock()

	err := c.assign(ctx, ctype, network)
	if err != nil {
		n.release(c.ID)
		return nil, err
	}
	if n.log != nil {
		n.log.Debug().Int("channel", id).Int("type", int(ctype)).Msg("channel assigned")
	}
	return c, nil
}

func (n *Node) release(id byte) {
	n.lock.Lock()
	delete(n.channels, id)
	n.lock.Unlock()
}
