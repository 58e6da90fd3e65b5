package antfs

import (
	"encoding/binary"
	"fmt"
)

const BeaconMarker = byte(0x43)
const BeaconSize = 8

const (
	beaconDataAvailable  = byte(0x20)
	beaconUploadEnabled  = byte(0x10)
	beaconPairingEnabled = byte(0x08)
	beaconPeriodMask     = byte(0x07)
	beaconStateMask      = byte(0x0F)
)

// ClientState is the device's ANT-FS layer as advertised in its beacon.
type ClientState byte

const (
	StateLink           = ClientState(0)
	StateAuthentication = ClientState(1)
	StateTransport      = ClientState(2)
	StateBusy           = ClientState(3)
)

func (s ClientState) String() string {
	switch s {
	case StateLink:
		return "Link"
	case StateAuthentication:
		return "Authentication"
	case StateTransport:
		return "Transport"
	case StateBusy:
		return "Busy"
	}
	return fmt.Sprintf("ClientState(%d)", byte(s))
}

// Beacon period codes
const (
	PeriodHalfHz = byte(0)
	Period1Hz    = byte(1)
	Period2Hz    = byte(2)
	Period4Hz    = byte(3)
	Period8Hz    = byte(4)
	PeriodMatch  = byte(7)
)

// Authentication types a device advertises in its beacon
const (
	BeaconAuthPassThrough       = byte(0)
	BeaconAuthNotAvailable      = byte(1)
	BeaconAuthPairingOnly       = byte(2)
	BeaconAuthPasskeyAndPairing = byte(3)
)

type Beacon struct {
	DataAvailable  bool
	UploadEnabled  bool
	PairingEnabled bool
	PeriodCode     byte
	State          ClientState
	AuthType       byte
	Descriptor     [4]byte
}

func ParseBeacon(data []byte) (*Beacon, error) {
	if len(data) < BeaconSize || data[0] != BeaconMarker {
		return nil, ErrInvalidBeacon
	}
	b := &Beacon{
		DataAvailable:  data[1]&beaconDataAvailable != 0,
		UploadEnabled:  data[1]&beaconUploadEnabled != 0,
		PairingEnabled: data[1]&beaconPairingEnabled != 0,
		PeriodCode:     data[1] & beaconPeriodMask,
		State:          ClientState(data[2] & beaconStateMask),
		AuthType:       data[3],
	}
	copy(b.Descriptor[:], data[4:8])
	return b, nil
}

func (b *Beacon) Encode() []byte {
	buff := make([]byte, BeaconSize)
	buff[0] = BeaconMarker
	buff[1] = b.PeriodCode & beaconPeriodMask
	if b.DataAvailable {
		buff[1] |= beaconDataAvailable
	}
	if b.UploadEnabled {
		buff[1] |= beaconUploadEnabled
	}
	if b.PairingEnabled {
		buff[1] |= beaconPairingEnabled
	}
	buff[2] = byte(b.State) & beaconStateMask
	buff[3] = b.AuthType
	copy(buff[4:], b.Descriptor[:])
	return buff
}

// Serial reads the descriptor as the device serial number, as sent in the Authentication and
// Transport states.
func (b *Beacon) Serial() uint32 {
	return binary.LittleEndian.Uint32(b.Descriptor[:])
}

// DeviceNumber and DeviceType read the descriptor as sent in the Link state.
func (b *Beacon) DeviceNumber() uint16 {
	return binary.LittleEndian.Uint16(b.Descriptor[:])
}

func (b *Beacon) DeviceType() uint16 {
	return binary.LittleEndian.Uint16(b.Descriptor[2:])
}

// Frequency is the beacon rate in Hz. Zero means the beacon matches the established channel period.
func (b *Beacon) Frequency() float64 {
	switch b.PeriodCode {
	case PeriodHalfHz:
		return 0.5
	case Period1Hz:
		return 1
	case Period2Hz:
		return 2
	case Period4Hz:
		return 4
	case Period8Hz:
		return 8
	}
	return 0
}

// ChannelPeriod converts a link period code into the ANT channel period, in 1/32768 s units.
func ChannelPeriod(code byte) uint16 {
	switch code {
	case PeriodHalfHz:
		return 65535
	case Period1Hz:
		return 32768
	case Period2Hz:
		return 16384
	case Period4Hz:
		return 8192
	case Period8Hz:
		return 4096
	}
	return 0
}

func (b *Beacon) String() string {
	return fmt.Sprintf("Beacon(state=%s auth=%d data=%t upload=%t pairing=%t period=%d descriptor=%x)",
		b.State, b.AuthType, b.DataAvailable, b.UploadEnabled, b.PairingEnabled, b.PeriodCode, b.Descriptor)
}
