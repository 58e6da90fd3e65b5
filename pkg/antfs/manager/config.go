package manager

import (
	"time"

	"github.com/loopholelabs/antfs/pkg/antfs"
)

// NetworkKey is the ANT-FS network key.
var NetworkKey = []byte{0xa8, 0xa4, 0x23, 0xb9, 0xf5, 0x5e, 0x63, 0xc1}

type Config struct {
	HostSerial   uint32
	FriendlyName string
	NetworkKey   []byte

	// Frequency, LinkPeriod and SearchTimeout are what the channel moves to once linked.
	Frequency     byte
	LinkPeriod    byte
	SearchTimeout byte

	// MaxBlockSize is asked for in every download request. Zero lets the device choose.
	MaxBlockSize uint32

	BeaconTimeout   time.Duration
	BeaconAttempts  int
	CommandTimeout  time.Duration
	PairingTimeout  time.Duration
	// DownloadRetries is how often one block is asked for again. Each accepted block resets it.
	DownloadRetries int
	RetryBackoff    time.Duration
	QueueLimit      int
}

func DefaultConfig() *Config {
	return &Config{
		HostSerial:      1337,
		FriendlyName:    "antfs",
		NetworkKey:      NetworkKey,
		Frequency:       19,
		LinkPeriod:      antfs.Period8Hz,
		SearchTimeout:   10,
		MaxBlockSize:    0,
		BeaconTimeout:   5 * time.Second,
		BeaconAttempts:  5,
		CommandTimeout:  15 * time.Second,
		PairingTimeout:  30 * time.Second,
		DownloadRetries: 5,
		RetryBackoff:    500 * time.Millisecond,
		QueueLimit:      16,
	}
}

// Search parameters used until a device has been linked.
const (
	searchPeriod     = uint16(4096)
	searchTimeout    = byte(255)
	searchFrequency  = byte(50)
	searchWaveform   = uint16(0x0053)
	searchDeviceType = byte(1)
)
