package antfs

import (
	"encoding/binary"
	"fmt"
)

// CommandMarker starts every transfer command.
const CommandMarker = byte(0x44)

const CommandResponse = byte(0x80)

const (
	CommandLink         = byte(0x02)
	CommandDisconnect   = byte(0x03)
	CommandAuthenticate = byte(0x04)
	CommandPing         = byte(0x05)
	CommandDownload     = byte(0x09)
	CommandUpload       = byte(0x0A)
	CommandErase        = byte(0x0B)
	CommandUploadData   = byte(0x0C)

	CommandAuthenticateResponse = CommandResponse | CommandAuthenticate
	CommandDownloadResponse     = CommandResponse | CommandDownload
	CommandUploadResponse       = CommandResponse | CommandUpload
	CommandEraseResponse        = CommandResponse | CommandErase
	CommandUploadDataResponse   = CommandResponse | CommandUploadData
)

func CommandString(cmd byte) string {
	switch cmd {
	case CommandLink:
		return "Link"
	case CommandDisconnect:
		return "Disconnect"
	case CommandAuthenticate:
		return "Authenticate"
	case CommandPing:
		return "Ping"
	case CommandDownload:
		return "DownloadRequest"
	case CommandUpload:
		return "UploadRequest"
	case CommandErase:
		return "EraseRequest"
	case CommandUploadData:
		return "UploadData"
	case CommandAuthenticateResponse:
		return "AuthenticateResponse"
	case CommandDownloadResponse:
		return "DownloadResponse"
	case CommandUploadResponse:
		return "UploadResponse"
	case CommandEraseResponse:
		return "EraseResponse"
	case CommandUploadDataResponse:
		return "UploadDataResponse"
	}
	return fmt.Sprintf("Unknown(0x%02x)", cmd)
}

// Command is one of the transfer commands below, or *UnknownCommand.
type Command interface {
	ID() byte
	Encode() []byte
}

// MaxOffset in an upload request asks the device to resume from where it left off.
const MaxOffset = uint32(0xFFFFFFFF)

// PadLength rounds n up to a whole number of 8 byte burst fragments.
func PadLength(n int) int {
	return (n + 7) &^ 7
}

func header(id byte, size int) []byte {
	buff := make([]byte, size)
	buff[0] = CommandMarker
	buff[1] = id
	return buff
}

type Link struct {
	Frequency  byte
	Period     byte
	HostSerial uint32
}

func (c *Link) ID() byte { return CommandLink }

func (c *Link) Encode() []byte {
	buff := header(CommandLink, 8)
	buff[2] = c.Frequency
	buff[3] = c.Period
	binary.LittleEndian.PutUint32(buff[4:], c.HostSerial)
	return buff
}

type DisconnectType byte

const (
	DisconnectReturnLink      = DisconnectType(0)
	DisconnectReturnBroadcast = DisconnectType(1)
)

type Disconnect struct {
	Type        DisconnectType
	Duration    byte
	AppDuration byte
}

func (c *Disconnect) ID() byte { return CommandDisconnect }

func (c *Disconnect) Encode() []byte {
	buff := header(CommandDisconnect, 8)
	buff[2] = byte(c.Type)
	buff[3] = c.Duration
	buff[4] = c.AppDuration
	return buff
}

type AuthRequestType byte

const (
	AuthPassThrough     = AuthRequestType(0)
	AuthSerial          = AuthRequestType(1)
	AuthPairing         = AuthRequestType(2)
	AuthPasskeyExchange = AuthRequestType(3)
)

func (t AuthRequestType) String() string {
	switch t {
	case AuthPassThrough:
		return "PassThrough"
	case AuthSerial:
		return "Serial"
	case AuthPairing:
		return "Pairing"
	case AuthPasskeyExchange:
		return "PasskeyExchange"
	}
	return fmt.Sprintf("AuthRequestType(%d)", byte(t))
}

type AuthResponseType byte

const (
	AuthNotAvailable = AuthResponseType(0)
	AuthAccept       = AuthResponseType(1)
	AuthReject       = AuthResponseType(2)
)

func (t AuthResponseType) String() string {
	switch t {
	case AuthNotAvailable:
		return "NotAvailable"
	case AuthAccept:
		return "Accept"
	case AuthReject:
		return "Reject"
	}
	return fmt.Sprintf("AuthResponseType(%d)", byte(t))
}

// Authenticate carries a friendly name or passkey in Data.
type Authenticate struct {
	Type   AuthRequestType
	Serial uint32
	Data   []byte
}

func (c *Authenticate) ID() byte { return CommandAuthenticate }

func (c *Authenticate) Encode() []byte {
	return encodeAuth(CommandAuthenticate, byte(c.Type), c.Serial, c.Data)
}

// AuthenticateResponse carries the device name for a serial request, or the passkey after pairing.
type AuthenticateResponse struct {
	Type   AuthResponseType
	Serial uint32
	Data   []byte
}

func (c *AuthenticateResponse) ID() byte { return CommandAuthenticateResponse }

func (c *AuthenticateResponse) Encode() []byte {
	return encodeAuth(CommandAuthenticateResponse, byte(c.Type), c.Serial, c.Data)
}

func encodeAuth(id byte, typ byte, serial uint32, data []byte) []byte {
	buff := header(id, 8+PadLength(len(data)))
	buff[2] = typ
	buff[3] = byte(len(data))
	binary.LittleEndian.PutUint32(buff[4:], serial)
	copy(buff[8:], data)
	return buff
}

func decodeAuth(buff []byte) (byte, uint32, []byte, error) {
	if len(buff) < 8 {
		return 0, 0, nil, ErrInvalidCommand
	}
	length := int(buff[3])
	if len(buff) < 8+length {
		return 0, 0, nil, fmt.Errorf("%w: auth data length %d exceeds %d", ErrInvalidCommand, length, len(buff)-8)
	}
	data := make([]byte, length)
	copy(data, buff[8:8+length])
	return buff[2], binary.LittleEndian.Uint32(buff[4:]), data, nil
}

type Ping struct{}

func (c *Ping) ID() byte { return CommandPing }

func (c *Ping) Encode() []byte {
	return header(CommandPing, 8)
}

type DownloadRequest struct {
	Index        uint16
	Offset       uint32
	Initial      bool
	CRCSeed      uint16
	MaxBlockSize uint32
}

func (c *DownloadRequest) ID() byte { return CommandDownload }

func (c *DownloadRequest) Encode() []byte {
	buff := header(CommandDownload, 16)
	binary.LittleEndian.PutUint16(buff[2:], c.Index)
	binary.LittleEndian.PutUint32(buff[4:], c.Offset)
	if c.Initial {
		buff[9] = 1
	}
	binary.LittleEndian.PutUint16(buff[10:], c.CRCSeed)
	binary.LittleEndian.PutUint32(buff[12:], c.MaxBlockSize)
	return buff
}

type DownloadResponseCode byte

const (
	DownloadOK             = DownloadResponseCode(0)
	DownloadNotExist       = DownloadResponseCode(1)
	DownloadNotReadable    = DownloadResponseCode(2)
	DownloadNotReady       = DownloadResponseCode(3)
	DownloadInvalidRequest = DownloadResponseCode(4)
	DownloadIncorrectCRC   = DownloadResponseCode(5)
)

func (c DownloadResponseCode) String() string {
	switch c {
	case DownloadOK:
		return "OK"
	case DownloadNotExist:
		return "NotExist"
	case DownloadNotReadable:
		return "NotReadable"
	case DownloadNotReady:
		return "NotReady"
	case DownloadInvalidRequest:
		return "InvalidRequest"
	case DownloadIncorrectCRC:
		return "IncorrectCRC"
	}
	return fmt.Sprintf("DownloadResponseCode(%d)", byte(c))
}

// DownloadResponse carries Remaining bytes of the file starting at Offset. Data may hold padding
// beyond Remaining. CRC covers the file up to Offset+Remaining.
type DownloadResponse struct {
	Response  DownloadResponseCode
	Remaining uint32
	Offset    uint32
	Size      uint32
	Data      []byte
	CRC       uint16
}

func (c *DownloadResponse) ID() byte { return CommandDownloadResponse }

func (c *DownloadResponse) Encode() []byte {
	buff := header(CommandDownloadResponse, 16+PadLength(len(c.Data))+8)
	buff[2] = byte(c.Response)
	binary.LittleEndian.PutUint32(buff[4:], c.Remaining)
	binary.LittleEndian.PutUint32(buff[8:], c.Offset)
	binary.LittleEndian.PutUint32(buff[12:], c.Size)
	copy(buff[16:], c.Data)
	binary.LittleEndian.PutUint16(buff[len(buff)-2:], c.CRC)
	return buff
}

type UploadRequest struct {
	Index      uint16
	MaxSize    uint32
	DataOffset uint32
}

func (c *UploadRequest) ID() byte { return CommandUpload }

func (c *UploadRequest) Encode() []byte {
	buff := header(CommandUpload, 16)
	binary.LittleEndian.PutUint16(buff[2:], c.Index)
	binary.LittleEndian.PutUint32(buff[4:], c.MaxSize)
	binary.LittleEndian.PutUint32(buff[12:], c.DataOffset)
	return buff
}

type UploadResponseCode byte

const (
	UploadOK             = UploadResponseCode(0)
	UploadNotExist       = UploadResponseCode(1)
	UploadNotWriteable   = UploadResponseCode(2)
	UploadNotEnoughSpace = UploadResponseCode(3)
	UploadInvalidRequest = UploadResponseCode(4)
	UploadNotReady       = UploadResponseCode(5)
)

func (c UploadResponseCode) String() string {
	switch c {
	case UploadOK:
		return "OK"
	case UploadNotExist:
		return "NotExist"
	case UploadNotWriteable:
		return "NotWriteable"
	case UploadNotEnoughSpace:
		return "NotEnoughSpace"
	case UploadInvalidRequest:
		return "InvalidRequest"
	case UploadNotReady:
		return "NotReady"
	}
	return fmt.Sprintf("UploadResponseCode(%d)", byte(c))
}

type UploadResponse struct {
	Response       UploadResponseCode
	LastDataOffset uint32
	MaxFileSize    uint32
	MaxBlockSize   uint32
	CRC            uint16
}

func (c *UploadResponse) ID() byte { return CommandUploadResponse }

func (c *UploadResponse) Encode() []byte {
	buff := header(CommandUploadResponse, 24)
	buff[2] = byte(c.Response)
	binary.LittleEndian.PutUint32(buff[4:], c.LastDataOffset)
	binary.LittleEndian.PutUint32(buff[8:], c.MaxFileSize)
	binary.LittleEndian.PutUint32(buff[12:], c.MaxBlockSize)
	binary.LittleEndian.PutUint16(buff[22:], c.CRC)
	return buff
}

// UploadData carries one block of an upload. CRC covers the file up to the end of Data, continued
// from CRCSeed.
type UploadData struct {
	CRCSeed uint16
	Offset  uint32
	Data    []byte
	CRC     uint16
}

func (c *UploadData) ID() byte { return CommandUploadData }

func (c *UploadData) Encode() []byte {
	buff := header(CommandUploadData, 8+PadLength(len(c.Data))+8)
	binary.LittleEndian.PutUint16(buff[2:], c.CRCSeed)
	binary.LittleEndian.PutUint32(buff[4:], c.Offset)
	copy(buff[8:], c.Data)
	binary.LittleEndian.PutUint16(buff[len(buff)-2:], c.CRC)
	return buff
}

type UploadDataResponseCode byte

const (
	UploadDataOK     = UploadDataResponseCode(0)
	UploadDataFailed = UploadDataResponseCode(1)
)

func (c UploadDataResponseCode) String() string {
	switch c {
	case UploadDataOK:
		return "OK"
	case UploadDataFailed:
		return "Failed"
	}
	return fmt.Sprintf("UploadDataResponseCode(%d)", byte(c))
}

type UploadDataResponse struct {
	Response UploadDataResponseCode
}

func (c *UploadDataResponse) ID() byte { return CommandUploadDataResponse }

func (c *UploadDataResponse) Encode() []byte {
	buff := header(CommandUploadDataResponse, 8)
	buff[2] = byte(c.Response)
	return buff
}

type EraseRequest struct {
	Index uint16
}

func (c *EraseRequest) ID() byte { return CommandErase }

func (c *EraseRequest) Encode() []byte {
	buff := header(CommandErase, 8)
	binary.LittleEndian.PutUint16(buff[2:], c.Index)
	return buff
}

type EraseResponseCode byte

const (
	EraseSuccessful = EraseResponseCode(0)
	EraseFailed     = EraseResponseCode(1)
	EraseNotReady   = EraseResponseCode(2)
)

func (c EraseResponseCode) String() string {
	switch c {
	case EraseSuccessful:
		return "Successful"
	case EraseFailed:
		return "Failed"
	case EraseNotReady:
		return "NotReady"
	}
	return fmt.Sprintf("EraseResponseCode(%d)", byte(c))
}

type EraseResponse struct {
	Response EraseResponseCode
}

func (c *EraseResponse) ID() byte { return CommandEraseResponse }

func (c *EraseResponse) Encode() []byte {
	buff := header(CommandEraseResponse, 8)
	buff[2] = byte(c.Response)
	return buff
}

// UnknownCommand is a well formed command with an id this package does not know.
type UnknownCommand struct {
	Command byte
	Data    []byte
}

func (c *UnknownCommand) ID() byte { return c.Command }

func (c *UnknownCommand) Encode() []byte {
	buff := header(c.Command, 2+len(c.Data))
	copy(buff[2:], c.Data)
	return buff
}

func errShort(buff []byte) error {
	return fmt.Errorf("%w: short %s (%d bytes)", ErrInvalidCommand, CommandString(buff[1]), len(buff))
}

// ParseCommand decodes a transfer command, including any trailing padding.
func ParseCommand(buff []byte) (Command, error) {
	if len(buff) < 2 || buff[0] != CommandMarker {
		return nil, ErrInvalidCommand
	}
	switch buff[1] {
	case CommandLink:
		if len(buff) < 8 {
			return nil, errShort(buff)
		}
		return &Link{
			Frequency:  buff[2],
			Period:     buff[3],
			HostSerial: binary.LittleEndian.Uint32(buff[4:]),
		}, nil

	case CommandDisconnect:
		if len(buff) < 5 {
			return nil, errShort(buff)
		}
		return &Disconnect{Type: DisconnectType(buff[2]), Duration: buff[3], AppDuration: buff[4]}, nil

	case CommandAuthenticate:
		typ, serial, data, err := decodeAuth(buff)
		if err != nil {
			return nil, err
		}
		return &Authenticate{Type: AuthRequestType(typ), Serial: serial, Data: data}, nil

	case CommandAuthenticateResponse:
		typ, serial, data, err := decodeAuth(buff)
		if err != nil {
			return nil, err
		}
		return &AuthenticateResponse{Type: AuthResponseType(typ), Serial: serial, Data: data}, nil

	case CommandPing:
		return &Ping{}, nil

	case CommandDownload:
		if len(buff) < 16 {
			return nil, errShort(buff)
		}
		return &DownloadRequest{
			Index:        binary.LittleEndian.Uint16(buff[2:]),
			Offset:       binary.LittleEndian.Uint32(buff[4:]),
			Initial:      buff[9] != 0,
			CRCSeed:      binary.LittleEndian.Uint16(buff[10:]),
			MaxBlockSize: binary.LittleEndian.Uint32(buff[12:]),
		}, nil

	case CommandDownloadResponse:
		if len(buff) < 16 {
			return nil, errShort(buff)
		}
		c := &DownloadResponse{
			Response:  DownloadResponseCode(buff[2]),
			Remaining: binary.LittleEndian.Uint32(buff[4:]),
			Offset:    binary.LittleEndian.Uint32(buff[8:]),
			Size:      binary.LittleEndian.Uint32(buff[12:]),
			Data:      []byte{},
		}
		if len(buff) >= 24 {
			c.Data = make([]byte, len(buff)-24)
			copy(c.Data, buff[16:len(buff)-8])
			c.CRC = binary.LittleEndian.Uint16(buff[len(buff)-2:])
		}
		if c.Response == DownloadOK && uint32(len(c.Data)) < c.Remaining {
			return nil, fmt.Errorf("%w: download response holds %d of %d bytes", ErrInvalidCommand, len(c.Data), c.Remaining)
		}
		return c, nil

	case CommandUpload:
		if len(buff) < 16 {
			return nil, errShort(buff)
		}
		return &UploadRequest{
			Index:      binary.LittleEndian.Uint16(buff[2:]),
			MaxSize:    binary.LittleEndian.Uint32(buff[4:]),
			DataOffset: binary.LittleEndian.Uint32(buff[12:]),
		}, nil

	case CommandUploadResponse:
		if len(buff) < 24 {
			return nil, errShort(buff)
		}
		return &UploadResponse{
			Response:       UploadResponseCode(buff[2]),
			LastDataOffset: binary.LittleEndian.Uint32(buff[4:]),
			MaxFileSize:    binary.LittleEndian.Uint32(buff[8:]),
			MaxBlockSize:   binary.LittleEndian.Uint32(buff[12:]),
			CRC:            binary.LittleEndian.Uint16(buff[22:]),
		}, nil

	case CommandUploadData:
		if len(buff) < 16 {
			return nil, errShort(buff)
		}
		data := make([]byte, len(buff)-16)
		copy(data, buff[8:len(buff)-8])
		return &UploadData{
			CRCSeed: binary.LittleEndian.Uint16(buff[2:]),
			Offset:  binary.LittleEndian.Uint32(buff[4:]),
			Data:    data,
			CRC:     binary.LittleEndian.Uint16(buff[len(buff)-2:]),
		}, nil

	case CommandUploadDataResponse:
		if len(buff) < 3 {
			return nil, errShort(buff)
		}
		return &UploadDataResponse{Response: UploadDataResponseCode(buff[2])}, nil

	case CommandErase:
		if len(buff) < 4 {
			return nil, errShort(buff)
		}
		return &EraseRequest{Index: binary.LittleEndian.Uint16(buff[2:])}, nil

	case CommandEraseResponse:
		if len(buff) < 3 {
			return nil, errShort(buff)
		}
		return &EraseResponse{Response: EraseResponseCode(buff[2])}, nil
	}

	data := make([]byte, len(buff)-2)
	copy(data, buff[2:])
	return &UnknownCommand{Command: buff[1], Data: data}, nil
}
