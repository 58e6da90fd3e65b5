package antfs

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// PipeIndex is the file index command pipe traffic is uploaded to and downloaded from.
const PipeIndex = uint16(0xFFFE)

const (
	PipeRequest    = byte(0x01)
	PipeResponse   = byte(0x02)
	PipeTime       = byte(0x03)
	PipeCreateFile = byte(0x04)
)

func PipeString(cmd byte) string {
	switch cmd {
	case PipeRequest:
		return "Request"
	case PipeResponse:
		return "Response"
	case PipeTime:
		return "Time"
	case PipeCreateFile:
		return "CreateFile"
	}
	return fmt.Sprintf("Unknown(0x%02x)", cmd)
}

// Pipe is one of the command pipe messages below, or *UnknownPipe.
type Pipe interface {
	ID() byte
	Sequence() byte
	Encode() []byte
}

// Sequencer hands out command pipe sequence numbers.
type Sequencer struct {
	n atomic.Uint32
}

func (s *Sequencer) Next() byte {
	return byte(s.n.Add(1))
}

func pipeHeader(id byte, seq byte, size int) []byte {
	buff := make([]byte, size)
	buff[0] = id
	buff[3] = seq
	return buff
}

type PipeResponseCode byte

const (
	PipeOK           = PipeResponseCode(0)
	PipeFailed       = PipeResponseCode(1)
	PipeRejected     = PipeResponseCode(2)
	PipeNotSupported = PipeResponseCode(3)
)

func (c PipeResponseCode) String() string {
	switch c {
	case PipeOK:
		return "OK"
	case PipeFailed:
		return "Failed"
	case PipeRejected:
		return "Rejected"
	case PipeNotSupported:
		return "NotSupported"
	}
	return fmt.Sprintf("PipeResponseCode(%d)", byte(c))
}

// Request asks the device to run the pipe command RequestID.
type Request struct {
	Seq       byte
	RequestID byte
}

func (p *Request) ID() byte       { return PipeRequest }
func (p *Request) Sequence() byte { return p.Seq }

func (p *Request) Encode() []byte {
	buff := pipeHeader(PipeRequest, p.Seq, 8)
	buff[4] = p.RequestID
	return buff
}

// Response answers a pipe command. It is the generic form of TimeResponse and CreateFileResponse.
type Response struct {
	Seq       byte
	RequestID byte
	Response  PipeResponseCode
}

func (p *Response) ID() byte       { return PipeResponse }
func (p *Response) Sequence() byte { return p.Seq }

func (p *Response) Encode() []byte {
	buff := pipeHeader(PipeResponse, p.Seq, 8)
	buff[4] = p.RequestID
	buff[6] = byte(p.Response)
	return buff
}

type TimeResponse struct {
	Response
}

// Time formats
const (
	TimeFormatDirectory = byte(0)
	TimeFormatSystem    = byte(1)
	TimeFormatCounter   = byte(2)
)

// Time sets the device clock. CurrentTime is seconds since the ANT-FS epoch, SystemTime is the
// device's tick counter or 0xFFFFFFFF to leave it alone.
type Time struct {
	Seq         byte
	CurrentTime uint32
	SystemTime  uint32
	Format      byte
}

func (p *Time) ID() byte       { return PipeTime }
func (p *Time) Sequence() byte { return p.Seq }

func (p *Time) Encode() []byte {
	buff := pipeHeader(PipeTime, p.Seq, 16)
	binary.LittleEndian.PutUint32(buff[4:], p.CurrentTime)
	binary.LittleEndian.PutUint32(buff[8:], p.SystemTime)
	buff[12] = p.Format
	return buff
}

// CreateFile asks the device for a new file. The device picks the index, Identifier bytes set in
// IdentifierMask may be chosen by the device.
type CreateFile struct {
	Seq            byte
	Size           uint32
	DataType       byte
	Identifier     [3]byte
	IdentifierMask [3]byte
}

func (p *CreateFile) ID() byte       { return PipeCreateFile }
func (p *CreateFile) Sequence() byte { return p.Seq }

func (p *CreateFile) Encode() []byte {
	buff := pipeHeader(PipeCreateFile, p.Seq, 16)
	binary.LittleEndian.PutUint32(buff[4:], p.Size)
	buff[8] = p.DataType
	copy(buff[9:12], p.Identifier[:])
	copy(buff[13:16], p.IdentifierMask[:])
	return buff
}

type CreateFileResponse struct {
	Response
	DataType   byte
	Identifier [3]byte
	Index      uint16
}

func (p *CreateFileResponse) Encode() []byte {
	buff := make([]byte, 16)
	copy(buff, p.Response.Encode())
	buff[8] = p.DataType
	copy(buff[9:12], p.Identifier[:])
	binary.LittleEndian.PutUint16(buff[12:], p.Index)
	return buff
}

// UnknownPipe is a pipe message with an id this package does not know.
type UnknownPipe struct {
	Command byte
	Seq     byte
	Data    []byte
}

func (p *UnknownPipe) ID() byte       { return p.Command }
func (p *UnknownPipe) Sequence() byte { return p.Seq }

func (p *UnknownPipe) Encode() []byte {
	buff := pipeHeader(p.Command, p.Seq, 4+len(p.Data))
	copy(buff[4:], p.Data)
	return buff
}

// ParsePipe decodes a command pipe message. Responses to Time and CreateFile come back as
// *TimeResponse and *CreateFileResponse.
func ParsePipe(buff []byte) (Pipe, error) {
	if len(buff) < 4 {
		return nil, fmt.Errorf("%w: short pipe message (%d bytes)", ErrInvalidCommand, len(buff))
	}
	seq := buff[3]
	short := func() error {
		return fmt.Errorf("%w: short pipe %s (%d bytes)", ErrInvalidCommand, PipeString(buff[0]), len(buff))
	}

	switch buff[0] {
	case PipeRequest:
		if len(buff) < 5 {
			return nil, short()
		}
		return &Request{Seq: seq, RequestID: buff[4]}, nil

	case PipeResponse:
		if len(buff) < 8 {
			return nil, short()
		}
		r := Response{Seq: seq, RequestID: buff[4], Response: PipeResponseCode(buff[6])}
		switch {
		case r.RequestID == PipeCreateFile && len(buff) >= 16:
			p := &CreateFileResponse{
				Response: r,
				DataType: buff[8],
				Index:    binary.LittleEndian.Uint16(buff[12:]),
			}
			copy(p.Identifier[:], buff[9:12])
			return p, nil
		case r.RequestID == PipeTime:
			return &TimeResponse{Response: r}, nil
		}
		return &r, nil

	case PipeTime:
		if len(buff) < 13 {
			return nil, short()
		}
		return &Time{
			Seq:         seq,
			CurrentTime: binary.LittleEndian.Uint32(buff[4:]),
			SystemTime:  binary.LittleEndian.Uint32(buff[8:]),
			Format:      buff[12],
		}, nil

	case PipeCreateFile:
		if len(buff) < 16 {
			return nil, short()
		}
		p := &CreateFile{
			Seq:      seq,
			Size:     binary.LittleEndian.Uint32(buff[4:]),
			DataType: buff[8],
		}
		copy(p.Identifier[:], buff[9:12])
		copy(p.IdentifierMask[:], buff[13:16])
		return p, nil
	}

	data := make([]byte, len(buff)-4)
	copy(data, buff[4:])
	return &UnknownPipe{Command: buff[0], Seq: seq, Data: data}, nil
}
