package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loopholelabs/antfs/pkg/ant/link"
	"github.com/loopholelabs/antfs/pkg/ant/packets"
)

// Handlers receive data arriving on a channel. They run on the node's dispatch goroutine and
// must not block.
type Handlers struct {
	Broadcast    func(data []byte)
	Burst        func(data []byte)
	Acknowledged func(data []byte)
}

type Channel struct {
	ID       byte
	node     *Node
	handlers Handlers
}

func (c *Channel) waitResponse(ctx context.Context, id byte) error {
	msg, err := c.node.wait(ctx, &c.node.responses, func(m *link.Inbound) bool {
		return m.HasChannel && m.Channel == c.ID && m.ID == uint16(id)
	})
	if err != nil {
		return err
	}
	_, err = checkResponse(msg)
	return err
}

func (c *Channel) waitEvent(ctx context.Context, codes ...packets.Code) (packets.Code, error) {
	id := c.ID
	return c.node.waitEvent(ctx, &id, false, codes)
}

func (c *Channel) waitTransfer(ctx context.Context, code packets.Code) error {
	id := c.ID
	_, err := c.node.waitEvent(ctx, &id, true, []packets.Code{code})
	return err
}

func (c *Channel) sendFailed(err error) {
	c.node.sendFailed(c.ID, err)
}

func (c *Channel) assign(ctx context.Context, ctype packets.ChannelType, network byte) error {
	err := c.node.engine.AssignChannel(c.ID, ctype, network)
	if err != nil {
		return err
	}
	return c.waitResponse(ctx, packets.MessageAssignChannel)
}

func (c *Channel) Open(ctx context.Context) error {
	err := c.node.engine.OpenChannel(c.ID)
	if err != nil {
		return err
	}
	return c.waitResponse(ctx, packets.MessageOpenChannel)
}

// Close closes the channel and waits until the stick reports it closed.
func (c *Channel) Close(ctx context.Context) error {
	err := c.node.engine.CloseChannel(c.ID)
	if err != nil {
		return err
	}
	err = c.waitResponse(ctx, packets.MessageCloseChannel)
	if err != nil {
		return err
	}
	_, err = c.waitEvent(ctx, packets.EventChannelClosed)
	return err
}

// Unassign releases the channel id on the stick and on the node.
func (c *Channel) Unassign(ctx context.Context) error {
	err := c.node.engine.UnassignChannel(c.ID)
	if err != nil {
		return err
	}
	err = c.waitResponse(ctx, packets.MessageUnassignChannel)
	if err != nil {
		return err
	}
	c.node.release(c.ID)
	return nil
}

func (c *Channel) SetID(ctx context.Context, deviceNumber uint16, deviceType byte, transmissionType byte) error {
	err := c.node.engine.SetChannelID(c.ID, deviceNumber, deviceType, transmissionType)
	if err != nil {
		return err
	}
	return c.waitResponse(ctx, packets.MessageSetChannelID)
}

func (c *Channel) SetPeriod(ctx context.Context, period uint16) error {
	err := c.node.engine.SetChannelPeriod(c.ID, period)
	if err != nil {
		return err
	}
	return c.waitResponse(ctx, packets.MessageSetChannelPeriod)
}

func (c *Channel) SetSearchTimeout(ctx context.Context, timeout byte) error {
	err := c.node.engine.SetSearchTimeout(c.ID, timeout)
	if err != nil {
		return err
	}
	return c.waitResponse(ctx, packets.MessageSetSearchTimeout)
}

func (c *Channel) SetRFFreq(ctx context.Context, freq byte) error {
	err := c.node.engine.SetRFFreq(c.ID, freq)
	if err != nil {
		return err
	}
	return c.waitResponse(ctx, packets.MessageSetChannelRFFreq)
}

func (c *Channel) SetSearchWaveform(ctx context.Context, waveform uint16) error {
	err := c.node.engine.SetSearchWaveform(c.ID, waveform)
	if err != nil {
		return err
	}
	return c.waitResponse(ctx, packets.MessageSetSearchWaveform)
}

// RequestMessage asks the stick for a message about this channel, such as its channel id.
func (c *Channel) RequestMessage(ctx context.Context, id byte) ([]byte, error) {
	err := c.node.engine.RequestMessage(c.ID, id)
	if err != nil {
		return nil, err
	}
	msg, err := c.node.wait(ctx, &c.node.responses, func(m *link.Inbound) bool {
		return m.HasChannel && m.Channel == c.ID && m.ID == uint16(id)
	})
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// SendAcknowledgedData sends data in the next timeslot and waits for the device to ack it.
func (c *Channel) SendAcknowledgedData(ctx context.Context, data []byte) error {
	return c.retry(ctx, "acknowledged", func() error {
		c.node.flushEvents(c.ID)
		c.node.engine.SendAcknowledgedData(c.ID, data, c.sendFailed)
		return c.waitTransfer(ctx, packets.EventTransferTxCompleted)
	})
}

// SendBurstTransfer sends data as a burst. len(data) must be a multiple of 8.
func (c *Channel) SendBurstTransfer(ctx context.Context, data []byte) error {
	return c.retry(ctx, "burst", func() error {
		c.node.flushEvents(c.ID)
		err := c.node.engine.SendBurstTransfer(c.ID, data, c.sendFailed)
		if err != nil {
			return err
		}
		err = c.waitTransfer(ctx, packets.EventTransferTxStart)
		if err != nil {
			return err
		}
		return c.waitTransfer(ctx, packets.EventTransferTxCompleted)
	})
}

// retry runs send until it succeeds, fails with something other than a transfer failure, or
// runs out of attempts.
func (c *Channel) retry(ctx context.Context, kind string, send func() error) error {
	var err error
	for attempt := 1; attempt <= c.node.config.SendRetries; attempt++ {
		err = send()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTransferFailed) {
			return err
		}
		if c.node.log != nil {
			c.node.log.Warn().Err(err).Str("kind", kind).Int("channel", int(c.ID)).Int("attempt", attempt).Msg("transfer failed, retrying")
		}
		select {
		case <-time.After(time.Duration(attempt) * c.node.config.RetryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s send on channel %d gave up after %d attempts: %w", kind, c.ID, c.node.config.SendRetries, err)
}
