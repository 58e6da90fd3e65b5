package packets

import "fmt"

// Sync is the first byte of every frame sent to or received from the stick.
const Sync = byte(0xA4)

// MaxPayload is the largest payload a single frame can carry.
const MaxPayload = 255

// Config messages
const (
	MessageUnassignChannel      = byte(0x41)
	MessageAssignChannel        = byte(0x42)
	MessageSetChannelPeriod     = byte(0x43)
	MessageSetSearchTimeout     = byte(0x44)
	MessageSetChannelRFFreq     = byte(0x45)
	MessageSetNetworkKey        = byte(0x46)
	MessageSetTransmitPower     = byte(0x47)
	MessageSetSearchWaveform    = byte(0x49)
	MessageSetChannelID         = byte(0x51)
	MessageEnableExtRxMessages  = byte(0x66)
	MessageLowPrioritySearchTmo = byte(0x63)
)

// Control messages
const (
	MessageResetSystem     = byte(0x4A)
	MessageOpenChannel     = byte(0x4B)
	MessageCloseChannel    = byte(0x4C)
	MessageRequestMessage  = byte(0x4D)
	MessageOpenRxScanMode  = byte(0x5B)
	MessageSleepMessage    = byte(0xC5)
	MessageBroadcastData   = byte(0x4E)
	MessageAcknowledgeData = byte(0x4F)
	MessageBurstData       = byte(0x50)
)

// Notifications and responses
const (
	MessageStartup            = byte(0x6F)
	MessageSerialError        = byte(0xAE)
	MessageChannelResponse    = byte(0x40)
	MessageChannelStatus      = byte(0x52)
	MessageChannelID          = byte(0x51)
	MessageVersion            = byte(0x3E)
	MessageCapabilities       = byte(0x54)
	MessageSerialNumber       = byte(0x61)
	MessageChannelEventMarker = byte(0x01)
)

// Code is a channel response or channel event code, carried in the first byte of the data
// following a channel response message.
type Code byte

const (
	CodeNoError                 = Code(0)
	EventRxSearchTimeout        = Code(1)
	EventRxFail                 = Code(2)
	EventTx                     = Code(3)
	EventTransferRxFailed       = Code(4)
	EventTransferTxCompleted    = Code(5)
	EventTransferTxFailed       = Code(6)
	EventChannelClosed          = Code(7)
	EventRxFailGoToSearch       = Code(8)
	EventChannelCollision       = Code(9)
	EventTransferTxStart        = Code(10)
	CodeChannelInWrongState     = Code(21)
	CodeChannelNotOpened        = Code(22)
	CodeChannelIDNotSet         = Code(24)
	CodeCloseAllChannels        = Code(25)
	CodeTransferInProgress      = Code(31)
	CodeTransferSequenceError   = Code(32)
	CodeTransferInError         = Code(33)
	CodeMessageSizeExceedsLimit = Code(39)
	CodeInvalidMessage          = Code(40)
	CodeInvalidNetworkNumber    = Code(41)
	CodeInvalidListID           = Code(48)
	CodeInvalidScanTxChannel    = Code(49)
	CodeInvalidParameter        = Code(51)
	EventSerialQueueOverflow    = Code(52)
	EventQueueOverflow          = Code(53)
	CodeNVMFullError            = Code(64)
	CodeNVMWriteError           = Code(65)
	CodeUSBStringWriteFail      = Code(112)
)

// EventID identifies what produced an inbound event. Channel events use the marker byte the
// stick sends, the data events use values outside the byte range.
type EventID uint16

const (
	EventChannel        = EventID(MessageChannelEventMarker)
	EventRxBroadcast    = EventID(1000)
	EventRxAcknowledged = EventID(1001)
	EventRxBurst        = EventID(1002)
)

func MessageString(id byte) string {
	switch id {
	case MessageUnassignChannel:
		return "UnassignChannel"
	case MessageAssignChannel:
		return "AssignChannel"
	case MessageSetChannelPeriod:
		return "SetChannelPeriod"
	case MessageSetSearchTimeout:
		return "SetSearchTimeout"
	case MessageSetChannelRFFreq:
		return "SetChannelRFFreq"
	case MessageSetNetworkKey:
		return "SetNetworkKey"
	case MessageSetTransmitPower:
		return "SetTransmitPower"
	case MessageSetSearchWaveform:
		return "SetSearchWaveform"
	case MessageSetChannelID:
		return "ChannelID"
	case MessageEnableExtRxMessages:
		return "EnableExtRxMessages"
	case MessageLowPrioritySearchTmo:
		return "LowPrioritySearchTimeout"
	case MessageResetSystem:
		return "ResetSystem"
	case MessageOpenChannel:
		return "OpenChannel"
	case MessageCloseChannel:
		return "CloseChannel"
	case MessageRequestMessage:
		return "RequestMessage"
	case MessageOpenRxScanMode:
		return "OpenRxScanMode"
	case MessageSleepMessage:
		return "SleepMessage"
	case MessageBroadcastData:
		return "BroadcastData"
	case MessageAcknowledgeData:
		return "AcknowledgeData"
	case MessageBurstData:
		return "BurstData"
	case MessageStartup:
		return "Startup"
	case MessageSerialError:
		return "SerialError"
	case MessageChannelResponse:
		return "ChannelResponse"
	case MessageChannelStatus:
		return "ChannelStatus"
	case MessageVersion:
		return "Version"
	case MessageCapabilities:
		return "Capabilities"
	case MessageSerialNumber:
		return "SerialNumber"
	}
	return fmt.Sprintf("unknown(0x%02x)", id)
}

func (c Code) String() string {
	switch c {
	case CodeNoError:
		return "NoError"
	case EventRxSearchTimeout:
		return "RxSearchTimeout"
	case EventRxFail:
		return "RxFail"
	case EventTx:
		return "Tx"
	case EventTransferRxFailed:
		return "TransferRxFailed"
	case EventTransferTxCompleted:
		return "TransferTxCompleted"
	case EventTransferTxFailed:
		return "TransferTxFailed"
	case EventChannelClosed:
		return "ChannelClosed"
	case EventRxFailGoToSearch:
		return "RxFailGoToSearch"
	case EventChannelCollision:
		return "ChannelCollision"
	case EventTransferTxStart:
		return "TransferTxStart"
	case CodeChannelInWrongState:
		return "ChannelInWrongState"
	case CodeChannelNotOpened:
		return "ChannelNotOpened"
	case CodeChannelIDNotSet:
		return "ChannelIDNotSet"
	case CodeCloseAllChannels:
		return "CloseAllChannels"
	case CodeTransferInProgress:
		return "TransferInProgress"
	case CodeTransferSequenceError:
		return "TransferSequenceError"
	case CodeTransferInError:
		return "TransferInError"
	case CodeMessageSizeExceedsLimit:
		return "MessageSizeExceedsLimit"
	case CodeInvalidMessage:
		return "InvalidMessage"
	case CodeInvalidNetworkNumber:
		return "InvalidNetworkNumber"
	case CodeInvalidListID:
		return "InvalidListID"
	case CodeInvalidScanTxChannel:
		return "InvalidScanTxChannel"
	case CodeInvalidParameter:
		return "InvalidParameter"
	case EventSerialQueueOverflow:
		return "SerialQueueOverflow"
	case EventQueueOverflow:
		return "QueueOverflow"
	case CodeNVMFullError:
		return "NVMFullError"
	case CodeNVMWriteError:
		return "NVMWriteError"
	case CodeUSBStringWriteFail:
		return "USBStringWriteFail"
	}
	return fmt.Sprintf("unknown(%d)", byte(c))
}
