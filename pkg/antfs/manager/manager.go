package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loopholelabs/antfs/pkg/ant/node"
	"github.com/loopholelabs/antfs/pkg/ant/packets"
	"github.com/loopholelabs/antfs/pkg/antfs"
	"github.com/loopholelabs/antfs/pkg/transport"
	"github.com/loopholelabs/logging/types"
)

var ErrUnexpectedState = errors.New("unexpected client state")
var ErrNoChannel = errors.New("no channel open to a device")

// ProgressFunc is told how many bytes of a transfer are done.
type ProgressFunc func(done int64, total int64)

// Application supplies the session hooks. Each is called once per session, in order, and an
// error ends the session.
type Application interface {
	OnLink(ctx context.Context, m *Manager, beacon *antfs.Beacon) error
	OnAuthentication(ctx context.Context, m *Manager, beacon *antfs.Beacon) error
	OnTransport(ctx context.Context, m *Manager, beacon *antfs.Beacon) error
}

// Hooks is an Application made of functions. Nil functions do nothing.
type Hooks struct {
	Link           func(ctx context.Context, m *Manager, beacon *antfs.Beacon) error
	Authentication func(ctx context.Context, m *Manager, beacon *antfs.Beacon) error
	Transport      func(ctx context.Context, m *Manager, beacon *antfs.Beacon) error
}

func (h *Hooks) OnLink(ctx context.Context, m *Manager, beacon *antfs.Beacon) error {
	if h.Link == nil {
		return nil
	}
	return h.Link(ctx, m, beacon)
}

func (h *Hooks) OnAuthentication(ctx context.Context, m *Manager, beacon *antfs.Beacon) error {
	if h.Authentication == nil {
		return nil
	}
	return h.Authentication(ctx, m, beacon)
}

func (h *Hooks) OnTransport(ctx context.Context, m *Manager, beacon *antfs.Beacon) error {
	if h.Transport == nil {
		return nil
	}
	return h.Transport(ctx, m, beacon)
}

// Manager runs ANT-FS sessions over a started node.
type Manager struct {
	node   *node.Node
	log    types.Logger
	config *Config

	channel  *node.Channel
	session  string
	beacons  chan *antfs.Beacon
	commands chan antfs.Command
	seq      antfs.Sequencer

	lock         sync.Mutex
	deviceSerial uint32
	deviceName   string

	metricSessions  uint64
	metricCommands  uint64
	metricDownloads uint64
	metricUploads   uint64
	metricBytesDown uint64
	metricBytesUp   uint64
	metricRetries   uint64
	metricState     int64
}

func New(n *node.Node, log types.Logger, conf *Config) *Manager {
	if conf == nil {
		conf = DefaultConfig()
	}
	return &Manager{
		node:        n,
		log:         log,
		config:      conf,
		beacons:     make(chan *antfs.Beacon, conf.QueueLimit),
		commands:    make(chan antfs.Command, conf.QueueLimit),
		metricState: -1,
	}
}

// Session is the id of the current or last session.
func (m *Manager) Session() string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.session
}

// Device is the serial and name learnt from a serial authentication request.
func (m *Manager) Device() (uint32, string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.deviceSerial, m.deviceName
}

func (m *Manager) setState(state antfs.ClientState) {
	atomic.StoreInt64(&m.metricState, int64(state))
	if m.log != nil {
		m.log.Debug().Str("session", m.Session()).Str("state", state.String()).Msg("session state")
	}
}

// push adds v to queue, dropping the oldest entry when it is full.
func push[T any](queue chan T, v T) bool {
	dropped := false
	for {
		select {
		case queue <- v:
			return dropped
		default:
		}
		select {
		case <-queue:
			dropped = true
		default:
		}
	}
}

// onData handles everything the device sends on the channel. Burst data may carry a beacon
// followed by a command.
func (m *Manager) onData(data []byte) {
	if len(data) == 0 {
		return
	}
	switch data[0] {
	case antfs.BeaconMarker:
		b, err := antfs.ParseBeacon(data)
		if err != nil {
			if m.log != nil {
				m.log.Warn().Err(err).Msg("bad beacon")
			}
			return
		}
		if push(m.beacons, b) && m.log != nil {
			m.log.Debug().Msg("beacon queue full, dropped oldest")
		}
		if len(data) > antfs.BeaconSize {
			m.onCommand(data[antfs.BeaconSize:])
		}
	case antfs.CommandMarker:
		m.onCommand(data)
	default:
		if m.log != nil {
			m.log.Trace().Int("marker", int(data[0])).Msg("ignoring data")
		}
	}
}

func (m *Manager) onCommand(data []byte) {
	c, err := antfs.ParseCommand(data)
	if err != nil {
		if m.log != nil {
			m.log.Warn().Err(err).Msg("bad command")
		}
		return
	}
	if m.log != nil {
		m.log.Trace().Str("command", antfs.CommandString(c.ID())).Msg("command received")
	}
	if push(m.commands, c) && m.log != nil {
		m.log.Debug().Msg("command queue full, dropped oldest")
	}
}

func (m *Manager) nextBeacon(ctx context.Context) (*antfs.Beacon, error) {
	timer := time.NewTimer(m.config.BeaconTimeout)
	defer timer.Stop()
	select {
	case b := <-m.beacons:
		return b, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: no beacon within %s", node.ErrTimeout, m.config.BeaconTimeout)
	case <-m.node.Done():
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// waitState reads beacons until one advertises state.
func (m *Manager) waitState(ctx context.Context, state antfs.ClientState) (*antfs.Beacon, error) {
	for i := 0; i < m.config.BeaconAttempts; i++ {
		b, err := m.nextBeacon(ctx)
		if err != nil {
			return nil, err
		}
		if b.State == state {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: device did not enter %s", ErrUnexpectedState, state)
}

// flush drops commands nobody waited for.
func (m *Manager) flush() {
	for {
		select {
		case c := <-m.commands:
			if m.log != nil {
				m.log.Debug().Str("command", antfs.CommandString(c.ID())).Msg("dropping stale command")
			}
		default:
			return
		}
	}
}

func (m *Manager) waitCommand(ctx context.Context, id byte, timeout time.Duration) (antfs.Command, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case c := <-m.commands:
			if c.ID() == id {
				return c, nil
			}
			if m.log != nil {
				m.log.Debug().Str("command", antfs.CommandString(c.ID())).Str("waiting", antfs.CommandString(id)).Msg("ignoring command")
			}
		case <-timer.C:
			return nil, fmt.Errorf("%w: waiting for %s", node.ErrTimeout, antfs.CommandString(id))
		case <-m.node.Done():
			return nil, transport.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// send transmits a command. Single fragment commands go as acknowledged data, the rest as a burst.
func (m *Manager) send(ctx context.Context, cmd antfs.Command) error {
	if m.channel == nil {
		return ErrNoChannel
	}
	m.flush()
	atomic.AddUint64(&m.metricCommands, 1)
	data := cmd.Encode()
	if m.log != nil {
		m.log.Trace().Str("session", m.Session()).Str("command", antfs.CommandString(cmd.ID())).Int("size", len(data)).Msg("sending command")
	}
	if len(data) == packets.BurstFragmentSize {
		return m.channel.SendAcknowledgedData(ctx, data)
	}
	return m.channel.SendBurstTransfer(ctx, data)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// open sets up the search channel the way ANT-FS hosts look for devices.
func (m *Manager) open(ctx context.Context) error {
	err := m.node.SetNetworkKey(ctx, 0, m.config.NetworkKey)
	if err != nil {
		return err
	}
	c, err := m.node.NewChannel(ctx, packets.ChannelBidirectionalReceive, 0, node.Handlers{
		Broadcast:    m.onData,
		Burst:        m.onData,
		Acknowledged: m.onData,
	})
	if err != nil {
		return err
	}
	m.channel = c

	steps := []func(context.Context) error{
		func(ctx context.Context) error { return c.SetPeriod(ctx, searchPeriod) },
		func(ctx context.Context) error { return c.SetSearchTimeout(ctx, searchTimeout) },
		func(ctx context.Context) error { return c.SetRFFreq(ctx, searchFrequency) },
		func(ctx context.Context) error { return c.SetSearchWaveform(ctx, searchWaveform) },
		func(ctx context.Context) error { return c.SetID(ctx, 0, searchDeviceType, 0) },
		c.Open,
	}
	for _, step := range steps {
		err = step(ctx)
		if err != nil {
			m.close(ctx)
			return err
		}
	}
	return nil
}

func (m *Manager) close(ctx context.Context) {
	if m.channel == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	err := m.channel.Close(ctx)
	if err != nil && m.log != nil {
		m.log.Warn().Err(err).Int("channel", int(m.channel.ID)).Msg("could not close channel")
	}
	err = m.channel.Unassign(ctx)
	if err != nil && m.log != nil {
		m.log.Warn().Err(err).Int("channel", int(m.channel.ID)).Msg("could not unassign channel")
	}
	m.channel = nil
}

// Run waits for a device, links to it, authenticates and hands it to the application. The device
// is always told to disconnect before Run returns.
func (m *Manager) Run(ctx context.Context, app Application) error {
	m.lock.Lock()
	m.session = uuid.New().String()
	m.deviceSerial = 0
	m.deviceName = ""
	m.lock.Unlock()
	atomic.AddUint64(&m.metricSessions, 1)

	err := m.open(ctx)
	if err != nil {
		return fmt.Errorf("could not open search channel: %w", err)
	}
	defer m.close(ctx)

	beacon, err := m.nextBeacon(ctx)
	if err != nil {
		return err
	}
	if m.log != nil {
		m.log.Info().Str("session", m.Session()).Int("device", int(beacon.DeviceNumber())).Int("type", int(beacon.DeviceType())).Msg("found device")
	}
	defer func() {
		derr := m.Disconnect(context.WithoutCancel(ctx))
		if derr != nil && m.log != nil {
			m.log.Warn().Err(derr).Str("session", m.Session()).Msg("could not disconnect")
		}
	}()

	m.setState(antfs.StateLink)
	err = m.Link(ctx)
	if err != nil {
		return err
	}
	err = app.OnLink(ctx, m, beacon)
	if err != nil {
		return err
	}

	for i := 0; i < m.config.BeaconAttempts; i++ {
		beacon, err = m.nextBeacon(ctx)
		if err != nil {
			return err
		}
		switch beacon.State {
		case antfs.StateAuthentication:
			m.setState(antfs.StateAuthentication)
			err = app.OnAuthentication(ctx, m, beacon)
			if err != nil {
				return err
			}
			beacon, err = m.waitState(ctx, antfs.StateTransport)
			if err != nil {
				return err
			}
			return m.transport(ctx, app, beacon)
		case antfs.StateTransport:
			return m.transport(ctx, app, beacon)
		}
	}
	return fmt.Errorf("%w: device never asked for authentication", ErrUnexpectedState)
}

func (m *Manager) transport(ctx context.Context, app Application, beacon *antfs.Beacon) error {
	m.setState(antfs.StateTransport)
	return app.OnTransport(ctx, m, beacon)
}

// Link asks the device found on the search channel to move to our frequency and period, then
// follows it there.
func (m *Manager) Link(ctx context.Context) error {
	if m.channel == nil {
		return ErrNoChannel
	}
	data, err := m.channel.RequestMessage(ctx, packets.MessageChannelID)
	if err != nil {
		return err
	}
	cid, err := packets.DecodeChannelID(m.channel.ID, data)
	if err == nil && m.log != nil {
		m.log.Debug().Str("session", m.Session()).Int("device", int(cid.DeviceNumber)).Int("type", int(cid.DeviceType)).Msg("linking")
	}

	err = m.send(ctx, &antfs.Link{
		Frequency:  m.config.Frequency,
		Period:     m.config.LinkPeriod,
		HostSerial: m.config.HostSerial,
	})
	if err != nil {
		return err
	}

	err = m.channel.SetPeriod(ctx, antfs.ChannelPeriod(m.config.LinkPeriod))
	if err != nil {
		return err
	}
	err = m.channel.SetSearchTimeout(ctx, m.config.SearchTimeout)
	if err != nil {
		return err
	}
	return m.channel.SetRFFreq(ctx, m.config.Frequency)
}

func (m *Manager) Disconnect(ctx context.Context) error {
	err := m.send(ctx, &antfs.Disconnect{Type: antfs.DisconnectReturnLink})
	if err == nil {
		m.setState(antfs.StateLink)
	}
	return err
}

// Ping keeps the link alive while the host is busy with something else.
func (m *Manager) Ping(ctx context.Context) error {
	return m.send(ctx, &antfs.Ping{})
}
