package packets

import "errors"

var ErrBurstAlignment = errors.New("burst data must be a multiple of 8 bytes")

// BurstFragmentSize is the data carried by one burst fragment.
const BurstFragmentSize = 8

// BurstLast is set in the sequence of the final fragment of a burst.
const BurstLast = byte(0b100)

const burstChannelMask = byte(0b00011111)

// PackChannelSequence packs a burst sequence into the top 3 bits and the channel into the low 5.
func PackChannelSequence(channel byte, sequence byte) byte {
	return (channel & burstChannelMask) | (sequence << 5)
}

// UnpackChannelSequence is the inverse of PackChannelSequence.
func UnpackChannelSequence(b byte) (channel byte, sequence byte) {
	return b & burstChannelMask, b >> 5
}

// IsLastFragment is true if the frame is a burst fragment flagged as the end of its burst.
func IsLastFragment(f *Frame) bool {
	if f.ID != MessageBurstData || len(f.Payload) == 0 {
		return false
	}
	_, seq := UnpackChannelSequence(f.Payload[0])
	return seq&BurstLast != 0
}

// SplitBurst segments data into burst fragments for a channel.
// Sequences run 0, 1, 2, 3, 1, 2, 3, ... and the final fragment has BurstLast set.
func SplitBurst(channel byte, data []byte) ([]*Frame, error) {
	if len(data) == 0 || len(data)%BurstFragmentSize != 0 {
		return nil, ErrBurstAlignment
	}
	count := len(data) / BurstFragmentSize
	frames := make([]*Frame, 0, count)
	for i := 0; i < count; i++ {
		seq := byte(0)
		if i > 0 {
			seq = byte((i-1)%3) + 1
		}
		if i == count-1 {
			seq |= BurstLast
		}
		buff := make([]byte, 1+BurstFragmentSize)
		buff[0] = PackChannelSequence(channel, seq)
		copy(buff[1:], data[i*BurstFragmentSize:(i+1)*BurstFragmentSize])
		frames = append(frames, &Frame{ID: MessageBurstData, Payload: buff})
	}
	return frames, nil
}
