package packets

// Class is how an inbound frame gets routed.
type Class int

const (
	ClassUnknown = Class(iota)
	ClassNotification
	ClassResponseNoChannel
	ClassResponseWithChannel
	ClassResponseOther
	ClassBroadcast
	ClassAcknowledged
	ClassBurstFragment
	ClassChannelEvent
)

var classNames = map[Class]string{
	ClassUnknown:             "Unknown",
	ClassNotification:        "Notification",
	ClassResponseNoChannel:   "ResponseNoChannel",
	ClassResponseWithChannel: "ResponseWithChannel",
	ClassResponseOther:       "ResponseOther",
	ClassBroadcast:           "Broadcast",
	ClassAcknowledged:        "Acknowledged",
	ClassBurstFragment:       "BurstFragment",
	ClassChannelEvent:        "ChannelEvent",
}

func (c Class) String() string {
	return classNames[c]
}

// Classify a frame from its message id and, for channel responses, the second payload byte.
func Classify(f *Frame) Class {
	switch f.ID {
	case MessageStartup, MessageSerialError:
		return ClassNotification
	case MessageVersion, MessageCapabilities, MessageSerialNumber:
		return ClassResponseNoChannel
	case MessageChannelStatus, MessageChannelID:
		if len(f.Payload) < 1 {
			return ClassUnknown
		}
		return ClassResponseWithChannel
	case MessageChannelResponse:
		if len(f.Payload) < 3 {
			return ClassUnknown
		}
		if f.Payload[1] == MessageChannelEventMarker {
			return ClassChannelEvent
		}
		return ClassResponseOther
	case MessageBroadcastData:
		if len(f.Payload) < 1 {
			return ClassUnknown
		}
		return ClassBroadcast
	case MessageAcknowledgeData:
		if len(f.Payload) < 1 {
			return ClassUnknown
		}
		return ClassAcknowledged
	case MessageBurstData:
		if len(f.Payload) < 1 {
			return ClassUnknown
		}
		return ClassBurstFragment
	}
	return ClassUnknown
}
