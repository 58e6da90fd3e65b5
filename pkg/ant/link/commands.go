package link

import (
	"context"
	"time"

	"github.com/loopholelabs/antfs/pkg/ant/packets"
)

// ResetSystem resets the stick and waits for it to settle.
func (e *Engine) ResetSystem(ctx context.Context) error {
	err := e.Send(packets.EncodeResetSystem())
	if err != nil {
		return err
	}
	select {
	case <-time.After(e.config.ResetDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) SetNetworkKey(network byte, key []byte) error {
	f, err := packets.EncodeSetNetworkKey(network, key)
	if err != nil {
		return err
	}
	return e.Send(f)
}

func (e *Engine) AssignChannel(channel byte, ctype packets.ChannelType, network byte) error {
	return e.Send(packets.EncodeAssignChannel(channel, ctype, network))
}

func (e *Engine) UnassignChannel(channel byte) error {
	return e.Send(packets.EncodeUnassignChannel(channel))
}

func (e *Engine) OpenChannel(channel byte) error {
	return e.Send(packets.EncodeOpenChannel(channel))
}

func (e *Engine) CloseChannel(channel byte) error {
	return e.Send(packets.EncodeCloseChannel(channel))
}

func (e *Engine) SetChannelID(channel byte, deviceNumber uint16, deviceType byte, transmissionType byte) error {
	return e.Send(packets.EncodeSetChannelID(channel, deviceNumber, deviceType, transmissionType))
}

func (e *Engine) SetChannelPeriod(channel byte, period uint16) error {
	return e.Send(packets.EncodeSetChannelPeriod(channel, period))
}

func (e *Engine) SetSearchTimeout(channel byte, timeout byte) error {
	return e.Send(packets.EncodeSetSearchTimeout(channel, timeout))
}

func (e *Engine) SetRFFreq(channel byte, freq byte) error {
	return e.Send(packets.EncodeSetChannelRFFreq(channel, freq))
}

func (e *Engine) SetSearchWaveform(channel byte, waveform uint16) error {
	return e.Send(packets.EncodeSetSearchWaveform(channel, waveform))
}

func (e *Engine) RequestMessage(channel byte, id byte) error {
	return e.Send(packets.EncodeRequestMessage(channel, id))
}

// SendAcknowledgedData queues one acknowledged frame for the channel's next timeslot.
// failed is called if the transport refuses it.
func (e *Engine) SendAcknowledgedData(channel byte, data []byte, failed func(error)) {
	e.EnqueueTimeslot(failed, packets.EncodeAcknowledgedData(channel, data))
}

// SendBurstTransfer splits data into burst fragments and queues them as one burst.
func (e *Engine) SendBurstTransfer(channel byte, data []byte, failed func(error)) error {
	frames, err := packets.SplitBurst(channel, data)
	if err != nil {
		return err
	}
	e.EnqueueTimeslot(failed, frames...)
	return nil
}
