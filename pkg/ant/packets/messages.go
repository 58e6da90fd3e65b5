package packets

import (
	"encoding/binary"
	"errors"
)

var ErrInvalidPacket = errors.New("invalid packet")
var ErrInvalidNetworkKey = errors.New("network key must be 8 bytes")

// ChannelType is the assignment type given to a channel.
type ChannelType byte

const (
	ChannelBidirectionalReceive        = ChannelType(0x00)
	ChannelBidirectionalTransmit       = ChannelType(0x10)
	ChannelSharedBidirectionalReceive  = ChannelType(0x20)
	ChannelSharedBidirectionalTransmit = ChannelType(0x30)
	ChannelUnidirectionalReceiveOnly   = ChannelType(0x40)
	ChannelUnidirectionalTransmitOnly  = ChannelType(0x50)
)

func EncodeResetSystem() *Frame {
	return &Frame{ID: MessageResetSystem, Payload: []byte{0}}
}

func EncodeSetNetworkKey(network byte, key []byte) (*Frame, error) {
	if len(key) != 8 {
		return nil, ErrInvalidNetworkKey
	}
	buff := make([]byte, 1+8)
	buff[0] = network
	copy(buff[1:], key)
	return &Frame{ID: MessageSetNetworkKey, Payload: buff}, nil
}

func EncodeAssignChannel(channel byte, ctype ChannelType, network byte) *Frame {
	return &Frame{ID: MessageAssignChannel, Payload: []byte{channel, byte(ctype), network}}
}

func EncodeUnassignChannel(channel byte) *Frame {
	return &Frame{ID: MessageUnassignChannel, Payload: []byte{channel}}
}

func EncodeOpenChannel(channel byte) *Frame {
	return &Frame{ID: MessageOpenChannel, Payload: []byte{channel}}
}

func EncodeCloseChannel(channel byte) *Frame {
	return &Frame{ID: MessageCloseChannel, Payload: []byte{channel}}
}

func EncodeOpenRxScanMode() *Frame {
	return &Frame{ID: MessageOpenRxScanMode, Payload: []byte{0}}
}

func EncodeSetChannelID(channel byte, deviceNumber uint16, deviceType byte, transmissionType byte) *Frame {
	buff := make([]byte, 1+2+1+1)
	buff[0] = channel
	binary.LittleEndian.PutUint16(buff[1:], deviceNumber)
	buff[3] = deviceType
	buff[4] = transmissionType
	return &Frame{ID: MessageSetChannelID, Payload: buff}
}

func EncodeSetChannelPeriod(channel byte, period uint16) *Frame {
	buff := make([]byte, 1+2)
	buff[0] = channel
	binary.LittleEndian.PutUint16(buff[1:], period)
	return &Frame{ID: MessageSetChannelPeriod, Payload: buff}
}

func EncodeSetSearchTimeout(channel byte, timeout byte) *Frame {
	return &Frame{ID: MessageSetSearchTimeout, Payload: []byte{channel, timeout}}
}

func EncodeSetChannelRFFreq(channel byte, freq byte) *Frame {
	return &Frame{ID: MessageSetChannelRFFreq, Payload: []byte{channel, freq}}
}

func EncodeSetSearchWaveform(channel byte, waveform uint16) *Frame {
	buff := make([]byte, 1+2)
	buff[0] = channel
	binary.LittleEndian.PutUint16(buff[1:], waveform)
	return &Frame{ID: MessageSetSearchWaveform, Payload: buff}
}

func EncodeSetTransmitPower(power byte) *Frame {
	return &Frame{ID: MessageSetTransmitPower, Payload: []byte{0, power}}
}

func EncodeEnableExtRxMessages(enable bool) *Frame {
	v := byte(0)
	if enable {
		v = 1
	}
	return &Frame{ID: MessageEnableExtRxMessages, Payload: []byte{0, v}}
}

func EncodeRequestMessage(channel byte, id byte) *Frame {
	return &Frame{ID: MessageRequestMessage, Payload: []byte{channel, id}}
}

func EncodeBroadcastData(channel byte, data []byte) *Frame {
	buff := make([]byte, 1+len(data))
	buff[0] = channel
	copy(buff[1:], data)
	return &Frame{ID: MessageBroadcastData, Payload: buff}
}

func EncodeAcknowledgedData(channel byte, data []byte) *Frame {
	buff := make([]byte, 1+len(data))
	buff[0] = channel
	copy(buff[1:], data)
	return &Frame{ID: MessageAcknowledgeData, Payload: buff}
}

// EncodeChannelResponse builds the stick's reply to a config message. Used by the simulator.
func EncodeChannelResponse(channel byte, id byte, code Code) *Frame {
	return &Frame{ID: MessageChannelResponse, Payload: []byte{channel, id, byte(code)}}
}

// EncodeChannelEvent builds an unsolicited channel event. Used by the simulator.
func EncodeChannelEvent(channel byte, code Code) *Frame {
	return &Frame{ID: MessageChannelResponse, Payload: []byte{channel, MessageChannelEventMarker, byte(code)}}
}

// ChannelID is the reply to a MessageChannelID request.
type ChannelID struct {
	Channel          byte
	DeviceNumber     uint16
	DeviceType       byte
	TransmissionType byte
}

func EncodeChannelIDResponse(cid *ChannelID) *Frame {
	buff := make([]byte, 5)
	buff[0] = cid.Channel
	binary.LittleEndian.PutUint16(buff[1:], cid.DeviceNumber)
	buff[3] = cid.DeviceType
	buff[4] = cid.TransmissionType
	return &Frame{ID: MessageChannelID, Payload: buff}
}

// DecodeChannelID decodes the data of a channel id response, with the channel byte already removed.
func DecodeChannelID(channel byte, data []byte) (*ChannelID, error) {
	if len(data) < 4 {
		return nil, ErrInvalidPacket
	}
	return &ChannelID{
		Channel:          channel,
		DeviceNumber:     binary.LittleEndian.Uint16(data),
		DeviceType:       data[2],
		TransmissionType: data[3],
	}, nil
}
