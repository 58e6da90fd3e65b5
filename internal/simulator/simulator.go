package simulator

import (
	"errors"
	"sync"
	"time"

	"github.com/loopholelabs/antfs/pkg/ant/packets"
	"github.com/loopholelabs/antfs/pkg/antfs"
	"github.com/loopholelabs/antfs/pkg/antfs/directory"
	"github.com/loopholelabs/antfs/pkg/transport"
	"github.com/loopholelabs/logging/types"
)

type Config struct {
	Serial       uint32
	DeviceNumber uint16
	DeviceType   uint16
	Name         string

	// Passkey is what a passkey exchange must present. Pairing hands it out when PairingAccept
	// is set.
	Passkey       []byte
	PairingAccept bool
	AuthType      byte

	BlockSize      uint32
	MaxFileSize    uint32
	BeaconInterval time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Serial:         0x12345678,
		DeviceNumber:   0x4321,
		DeviceType:     0x0001,
		Name:           "simulator",
		Passkey:        []byte{1, 2, 3, 4, 5, 6, 7, 8},
		PairingAccept:  true,
		AuthType:       antfs.BeaconAuthPasskeyAndPairing,
		BlockSize:      512,
		MaxFileSize:    1 << 20,
		BeaconInterval: 125 * time.Millisecond,
	}
}

// Block is one upload block as the device accepted it.
type Block struct {
	Index  uint16
	Offset uint32
	Length uint32
}

type file struct {
	record *directory.File
	data   []byte
}

type upload struct {
	index uint16
	size  uint32
	data  []byte
}

// Simulator plays an ANT stick with an ANT-FS device in range, on the device end of a transport.
type Simulator struct {
	t      transport.Transport
	log    types.Logger
	config *Config

	// writeLock keeps a burst in one piece on the wire.
	writeLock sync.Mutex

	lock          sync.Mutex
	state         antfs.ClientState
	files         map[uint16]*file
	open          map[byte]chan struct{}
	fragments     map[byte][]byte
	upload        *upload
	pipeOut       []byte
	blocks        []Block
	dropDownloads int
	failTx        int
	disconnects   int
	clock         uint32
	hostSerial    uint32
	hostName      string
	commands      []byte
	stopped       bool

	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(t transport.Transport, log types.Logger, conf *Config) *Simulator {
	if conf == nil {
		conf = DefaultConfig()
	}
	return &Simulator{
		t:         t,
		log:       log,
		config:    conf,
		state:     antfs.StateLink,
		files:     make(map[uint16]*file),
		open:      make(map[byte]chan struct{}),
		fragments: make(map[byte][]byte),
	}
}

// AddFile puts a file on the device. The record's size is taken from data.
func (s *Simulator) AddFile(record *directory.File, data []byte) {
	s.lock.Lock()
	defer s.lock.Unlock()
	r := *record
	r.Size = uint32(len(data))
	s.files[r.Index] = &file{record: &r, data: append([]byte{}, data...)}
}

// File returns the contents of a file on the device.
func (s *Simulator) File(index uint16) ([]byte, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	f, ok := s.files[index]
	if !ok {
		return nil, false
	}
	return append([]byte{}, f.data...), true
}

// Blocks lists every upload block accepted so far.
func (s *Simulator) Blocks() []Block {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]Block{}, s.blocks...)
}

// DropDownloads makes the device ignore the next n download requests.
func (s *Simulator) DropDownloads(n int) {
	s.lock.Lock()
	s.dropDownloads = n
	s.lock.Unlock()
}

// FailTx makes the stick report the next n host transmissions as failed.
func (s *Simulator) FailTx(n int) {
	s.lock.Lock()
	s.failTx = n
	s.lock.Unlock()
}

func (s *Simulator) State() antfs.ClientState {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

func (s *Simulator) Disconnects() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.disconnects
}

// Clock is the last time the host set, in ANT-FS seconds.
func (s *Simulator) Clock() uint32 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.clock
}

// Host is the serial and name the host paired with.
func (s *Simulator) Host() (uint32, string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.hostSerial, s.hostName
}

// Commands lists the ids of every ANT-FS command the device received.
func (s *Simulator) Commands() []byte {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]byte{}, s.commands...)
}

func (s *Simulator) Start() error {
	err := s.t.Open()
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go s.handle()
	return nil
}

// Stop closes the transport, which the host end sees as the stick going away.
func (s *Simulator) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		err = s.t.Close()
		s.lock.Lock()
		s.stopped = true
		for channel, stop := range s.open {
			close(stop)
			delete(s.open, channel)
		}
		s.lock.Unlock()
		s.wg.Wait()
	})
	return err
}

func (s *Simulator) send(frames ...*packets.Frame) {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	for _, f := range frames {
		b, err := f.Encode()
		if err == nil {
			err = s.t.Write(b)
		}
		if err != nil {
			if s.log != nil && !errors.Is(err, transport.ErrClosed) {
				s.log.Warn().Err(err).Str("frame", f.String()).Msg("simulator write failed")
			}
			return
		}
	}
}

func (s *Simulator) handle() {
	defer s.wg.Done()
	for {
		b, err := s.t.Read()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return
			}
			continue
		}
		if len(b) == 0 {
			continue
		}
		f, err := packets.Parse(b)
		if err != nil {
			if s.log != nil {
				s.log.Warn().Err(err).Msg("simulator got a bad frame")
			}
			continue
		}
		s.stick(f)
	}
}

// stick answers the host the way the radio does.
func (s *Simulator) stick(f *packets.Frame) {
	if s.log != nil {
		s.log.Trace().Str("frame", f.String()).Msg("simulator rx")
	}
	switch f.ID {
	case packets.MessageResetSystem:
		s.send(&packets.Frame{ID: packets.MessageStartup, Payload: []byte{0x20}})

	case packets.MessageSetNetworkKey, packets.MessageAssignChannel, packets.MessageUnassignChannel,
		packets.MessageSetChannelID, packets.MessageSetChannelPeriod, packets.MessageSetSearchTimeout,
		packets.MessageSetChannelRFFreq, packets.MessageSetSearchWaveform:
		s.send(packets.EncodeChannelResponse(f.Payload[0], f.ID, packets.CodeNoError))

	case packets.MessageOpenChannel:
		channel := f.Payload[0]
		s.send(packets.EncodeChannelResponse(channel, f.ID, packets.CodeNoError))
		s.startBeacon(channel)

	case packets.MessageCloseChannel:
		channel := f.Payload[0]
		s.stopBeacon(channel)
		s.send(packets.EncodeChannelResponse(channel, f.ID, packets.CodeNoError),
			packets.EncodeChannelEvent(channel, packets.EventChannelClosed))

	case packets.MessageRequestMessage:
		channel := f.Payload[0]
		switch f.Payload[1] {
		case packets.MessageChannelID:
			s.send(packets.EncodeChannelIDResponse(&packets.ChannelID{
				Channel:          channel,
				DeviceNumber:     s.config.DeviceNumber,
				DeviceType:       byte(s.config.DeviceType),
				TransmissionType: 5,
			}))
		case packets.MessageCapabilities:
			s.send(&packets.Frame{ID: packets.MessageCapabilities, Payload: []byte{8, 3, 0x0a, 0x00}})
		}

	case packets.MessageAcknowledgeData:
		channel := f.Payload[0]
		if s.txResult(channel) {
			s.device(channel, f.Payload[1:])
		}

	case packets.MessageBurstData:
		channel, seq := packets.UnpackChannelSequence(f.Payload[0])
		s.lock.Lock()
		if seq&^packets.BurstLast == 0 {
			s.fragments[channel] = nil
		}
		s.fragments[channel] = append(s.fragments[channel], f.Payload[1:]...)
		data := s.fragments[channel]
		last := seq&packets.BurstLast != 0
		if last {
			delete(s.fragments, channel)
		}
		s.lock.Unlock()
		if last {
			s.send(packets.EncodeChannelEvent(channel, packets.EventTransferTxStart))
			if s.txResult(channel) {
				s.device(channel, data)
			}
		}
	}
}

// txResult reports the outcome of a host transmission and whether the device got it.
func (s *Simulator) txResult(channel byte) bool {
	s.lock.Lock()
	failed := s.failTx > 0
	if failed {
		s.failTx--
	}
	s.lock.Unlock()
	if failed {
		s.send(packets.EncodeChannelEvent(channel, packets.EventTransferTxFailed))
		return false
	}
	s.send(packets.EncodeChannelEvent(channel, packets.EventTransferTxCompleted))
	return true
}

func (s *Simulator) startBeacon(channel byte) {
	s.lock.Lock()
	if _, ok := s.open[channel]; ok || s.stopped {
		s.lock.Unlock()
		return
	}
	stop := make(chan struct{})
	s.open[channel] = stop
	s.wg.Add(1)
	s.lock.Unlock()

	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.BeaconInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.send(packets.EncodeBroadcastData(channel, s.beacon()))
			case <-stop:
				return
			}
		}
	}()
}

func (s *Simulator) stopBeacon(channel byte) {
	s.lock.Lock()
	defer s.lock.Unlock()
	stop, ok := s.open[channel]
	if ok {
		close(stop)
		delete(s.open, channel)
	}
}
