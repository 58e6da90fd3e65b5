package packets

import (
	"bytes"
	"errors"
	"fmt"
)

var ErrFraming = errors.New("framing error")
var ErrPayloadTooLarge = errors.New("payload too large")

// Frame is a single ANT message.
// Layout: Sync(1) | Length(1) | ID(1) | Payload(Length) | Checksum(1)
type Frame struct {
	ID      byte
	Payload []byte
}

func (f *Frame) String() string {
	return fmt.Sprintf("Frame(%s %x)", MessageString(f.ID), f.Payload)
}

// Size of the frame once encoded
func (f *Frame) Size() int {
	return len(f.Payload) + 4
}

func checksum(data []byte) byte {
	var c byte
	for _, b := range data {
		c ^= b
	}
	return c
}

// Encode a frame to bytes ready to write to the stick.
func Encode(id byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	buff := make([]byte, 3+len(payload)+1)
	buff[0] = Sync
	buff[1] = byte(len(payload))
	buff[2] = id
	copy(buff[3:], payload)
	buff[len(buff)-1] = checksum(buff[:len(buff)-1])
	return buff, nil
}

func (f *Frame) Encode() ([]byte, error) {
	return Encode(f.ID, f.Payload)
}

// Decode a single frame from the start of buff.
//
// Returns the frame and the number of bytes it occupied. If buff does not yet hold a whole frame,
// it returns (nil, 0, nil) and the caller should read more data and try again.
func Decode(buff []byte) (*Frame, int, error) {
	if len(buff) > 0 && buff[0] != Sync {
		// Skip to the next possible start of frame
		skip := bytes.IndexByte(buff[1:], Sync)
		if skip < 0 {
			return nil, len(buff), fmt.Errorf("%w: bad sync 0x%02x", ErrFraming, buff[0])
		}
		return nil, skip + 1, fmt.Errorf("%w: bad sync 0x%02x", ErrFraming, buff[0])
	}
	if len(buff) < 5 {
		return nil, 0, nil
	}
	length := int(buff[1])
	size := length + 4
	if len(buff) < size {
		return nil, 0, nil
	}
	sum := checksum(buff[:size-1])
	if sum != buff[size-1] {
		return nil, size, fmt.Errorf("%w: checksum 0x%02x expected 0x%02x", ErrFraming, buff[size-1], sum)
	}
	payload := make([]byte, length)
	copy(payload, buff[3:3+length])
	return &Frame{ID: buff[2], Payload: payload}, size, nil
}

// Parse a buffer holding exactly one frame.
func Parse(buff []byte) (*Frame, error) {
	if len(buff) < 4 {
		return nil, fmt.Errorf("%w: short frame (%d bytes)", ErrFraming, len(buff))
	}
	if int(buff[1])+4 != len(buff) {
		return nil, fmt.Errorf("%w: length %d does not match frame size %d", ErrFraming, buff[1], len(buff))
	}
	f, _, err := Decode(buff)
	if err != nil {
		return nil, err
	}
	if f == nil {
		// Only an empty payload frame is shorter than the streaming minimum
		if buff[0] != Sync {
			return nil, fmt.Errorf("%w: bad sync 0x%02x", ErrFraming, buff[0])
		}
		if checksum(buff[:3]) != buff[3] {
			return nil, fmt.Errorf("%w: checksum 0x%02x", ErrFraming, buff[3])
		}
		return &Frame{ID: buff[2], Payload: []byte{}}, nil
	}
	return f, nil
}
