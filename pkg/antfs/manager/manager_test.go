package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loopholelabs/antfs/internal/simulator"
	"github.com/loopholelabs/antfs/pkg/ant/node"
	"github.com/loopholelabs/antfs/pkg/antfs"
	"github.com/loopholelabs/antfs/pkg/antfs/directory"
	"github.com/loopholelabs/antfs/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryPasskeys struct {
	lock sync.Mutex
	keys map[uint32][]byte
}

func newMemoryPasskeys() *memoryPasskeys {
	return &memoryPasskeys{keys: make(map[uint32][]byte)}
}

func (p *memoryPasskeys) Passkey(_ context.Context, serial uint32) ([]byte, bool, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	key, ok := p.keys[serial]
	return key, ok, nil
}

func (p *memoryPasskeys) SavePasskey(_ context.Context, serial uint32, passkey []byte) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.keys[serial] = passkey
	return nil
}

var activity = []byte("a FIT activity file that spans a few blocks")

func setupSession(t *testing.T, configure func(*simulator.Config, *Config)) (*Manager, *simulator.Simulator) {
	host, device := transport.NewLoopback()

	sconf := simulator.DefaultConfig()
	sconf.BeaconInterval = 2 * time.Millisecond
	sconf.BlockSize = 16
	conf := DefaultConfig()
	conf.BeaconTimeout = time.Second
	conf.CommandTimeout = 200 * time.Millisecond
	conf.PairingTimeout = 200 * time.Millisecond
	conf.RetryBackoff = time.Millisecond
	if configure != nil {
		configure(sconf, conf)
	}

	sim := simulator.New(device, nil, sconf)
	sim.AddFile(&directory.File{
		Index:      1,
		DataType:   directory.DataTypeFIT,
		Identifier: [3]byte{directory.FitActivity, 1, 0},
		Flags:      directory.FlagRead | directory.FlagErase | directory.FlagArchive,
		Date:       time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}, activity)
	sim.AddFile(&directory.File{
		Index:      2,
		DataType:   directory.DataTypeFIT,
		Identifier: [3]byte{directory.FitSettings, 2, 0},
		Flags:      directory.FlagRead | directory.FlagWrite,
	}, []byte{})
	require.NoError(t, sim.Start())
	t.Cleanup(func() {
		_ = sim.Stop()
	})

	nconf := node.DefaultConfig()
	nconf.PollInterval = 10 * time.Millisecond
	nconf.RetryBackoff = time.Millisecond
	nconf.Link.DrainDelay = time.Millisecond
	nconf.Link.ResetDelay = time.Millisecond
	n := node.New(host, nil, nconf)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() {
		_ = n.Stop()
	})

	return New(n, nil, conf), sim
}

func TestManagerSession(t *testing.T) {
	m, sim := setupSession(t, nil)
	passkeys := newMemoryPasskeys()
	auth := &Authenticator{Passkeys: passkeys}

	var progress []int64
	transported := false
	app := &Hooks{
		Authentication: auth.OnAuthentication,
		Transport: func(ctx context.Context, m *Manager, beacon *antfs.Beacon) error {
			transported = true
			assert.Equal(t, antfs.StateTransport, beacon.State)

			l, err := m.DownloadDirectory(ctx)
			require.NoError(t, err)
			require.Equal(t, 2, len(l.Files))
			assert.Equal(t, uint32(len(activity)), l.Find(1).Size)
			assert.True(t, l.Find(1).Archived())

			data, err := m.Download(ctx, 1, func(done int64, total int64) {
				assert.Equal(t, int64(len(activity)), total)
				progress = append(progress, done)
			})
			require.NoError(t, err)
			assert.Equal(t, activity, data)
			assert.Equal(t, []int64{16, 32, int64(len(activity))}, progress)

			// Downloading again gives the same bytes
			again, err := m.Download(ctx, 1, nil)
			require.NoError(t, err)
			assert.Equal(t, data, again)

			empty, err := m.Download(ctx, 2, nil)
			require.NoError(t, err)
			assert.Equal(t, []byte{}, empty)

			workout := []byte("workout steps")
			index, err := m.Create(ctx, directory.FitWorkout, workout, nil)
			require.NoError(t, err)
			assert.Equal(t, uint16(3), index)

			now := time.Now()
			require.NoError(t, m.SetTime(ctx, now))
			assert.InDelta(t, float64(antfs.FromTime(now)+35), float64(sim.Clock()), 2)

			require.NoError(t, m.Erase(ctx, 1))
			err = m.Erase(ctx, 2)
			assert.ErrorIs(t, err, antfs.ErrErase)

			return m.Ping(ctx)
		},
	}

	require.NoError(t, m.Run(context.Background(), app))
	assert.True(t, transported)

	serial, name := m.Device()
	assert.Equal(t, uint32(0x12345678), serial)
	assert.Equal(t, "simulator", name)

	// Paired under our name, and the passkey was kept
	_, hostName := sim.Host()
	assert.Equal(t, "antfs", hostName)
	key, ok, err := passkeys.Passkey(context.Background(), serial)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, key)

	created, ok := sim.File(3)
	require.True(t, ok)
	assert.Equal(t, []byte("workout steps"), created)
	_, ok = sim.File(1)
	assert.False(t, ok)

	assert.Equal(t, 1, sim.Disconnects())
	assert.Equal(t, antfs.StateLink, sim.State())

	met := m.Metrics()
	assert.Equal(t, uint64(1), met.Sessions)
	assert.Equal(t, int64(antfs.StateLink), met.State)
	assert.GreaterOrEqual(t, met.BytesDown, uint64(2*len(activity)))
	// Directory, two reads of file 1, file 2, and one read back per command pipe call
	assert.Equal(t, uint64(6), met.Downloads)
	assert.Equal(t, uint64(3), met.Uploads)
	assert.NotEmpty(t, m.Session())
}

func TestManagerPasskey(t *testing.T) {
	m, sim := setupSession(t, nil)
	passkeys := newMemoryPasskeys()
	require.NoError(t, passkeys.SavePasskey(context.Background(), 0x12345678, []byte{1, 2, 3, 4, 5, 6, 7, 8}))

	transported := false
	err := m.Run(context.Background(), &Hooks{
		Authentication: (&Authenticator{Passkeys: passkeys}).OnAuthentication,
		Transport: func(ctx context.Context, m *Manager, beacon *antfs.Beacon) error {
			transported = true
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, transported)

	// No pairing happened
	_, hostName := sim.Host()
	assert.Equal(t, "", hostName)
	assert.NotContains(t, sim.Commands(), antfs.CommandDownload)
}

func TestManagerAuthenticationReject(t *testing.T) {
	m, sim := setupSession(t, func(sconf *simulator.Config, _ *Config) {
		sconf.PairingAccept = false
	})

	transported := false
	err := m.Run(context.Background(), &Hooks{
		Authentication: (&Authenticator{}).OnAuthentication,
		Transport: func(ctx context.Context, m *Manager, beacon *antfs.Beacon) error {
			transported = true
			return nil
		},
	})
	assert.ErrorIs(t, err, antfs.ErrAuthentication)
	var aerr *antfs.AuthenticationError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, antfs.AuthPairing, aerr.Type)
	assert.Equal(t, antfs.AuthReject, aerr.Code)

	assert.False(t, transported)
	assert.Equal(t, 1, sim.Disconnects())
	assert.Equal(t, antfs.StateLink, sim.State())
}

func TestManagerUploadChunking(t *testing.T) {
	m, sim := setupSession(t, func(sconf *simulator.Config, _ *Config) {
		sconf.BlockSize = 8
	})

	data := []byte("twenty bytes of data")
	require.Equal(t, 20, len(data))

	var progress []int64
	err := m.Run(context.Background(), &Hooks{
		Authentication: (&Authenticator{}).OnAuthentication,
		Transport: func(ctx context.Context, m *Manager, beacon *antfs.Beacon) error {
			return m.Upload(ctx, 2, data, func(done int64, total int64) {
				progress = append(progress, done)
			})
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []simulator.Block{
		{Index: 2, Offset: 0, Length: 8},
		{Index: 2, Offset: 8, Length: 8},
		{Index: 2, Offset: 16, Length: 4},
	}, sim.Blocks())
	assert.Equal(t, []int64{8, 16, 20}, progress)

	stored, ok := sim.File(2)
	require.True(t, ok)
	assert.Equal(t, data, stored)
	assert.Equal(t, uint64(20), m.Metrics().BytesUp)
}

func TestManagerUploadRefused(t *testing.T) {
	m, _ := setupSession(t, nil)

	err := m.Run(context.Background(), &Hooks{
		Authentication: (&Authenticator{}).OnAuthentication,
		Transport: func(ctx context.Context, m *Manager, beacon *antfs.Beacon) error {
			return m.Upload(ctx, 1, []byte("read only"), nil)
		},
	})
	assert.ErrorIs(t, err, antfs.ErrUpload)
	var uerr *antfs.UploadError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, antfs.UploadNotWriteable, uerr.Code)
}

func TestManagerDownloadRetry(t *testing.T) {
	m, sim := setupSession(t, nil)

	err := m.Run(context.Background(), &Hooks{
		Authentication: (&Authenticator{}).OnAuthentication,
		Transport: func(ctx context.Context, m *Manager, beacon *antfs.Beacon) error {
			sim.DropDownloads(2)
			data, err := m.Download(ctx, 1, nil)
			if err != nil {
				return err
			}
			assert.Equal(t, activity, data)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), m.Metrics().Retries)
}

func TestManagerDownloadRetryPerBlock(t *testing.T) {
	m, sim := setupSession(t, func(_ *simulator.Config, conf *Config) {
		conf.DownloadRetries = 1
		conf.CommandTimeout = 50 * time.Millisecond
	})

	err := m.Run(context.Background(), &Hooks{
		Authentication: (&Authenticator{}).OnAuthentication,
		Transport: func(ctx context.Context, m *Manager, beacon *antfs.Beacon) error {
			// Every block times out once
			sim.DropDownloads(1)
			data, err := m.Download(ctx, 1, func(done int64, total int64) {
				if done < total {
					sim.DropDownloads(1)
				}
			})
			if err != nil {
				return err
			}
			assert.Equal(t, activity, data)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), m.Metrics().Retries)
}

func TestManagerDownloadTimeout(t *testing.T) {
	m, sim := setupSession(t, func(_ *simulator.Config, conf *Config) {
		conf.DownloadRetries = 2
		conf.CommandTimeout = 50 * time.Millisecond
	})

	err := m.Run(context.Background(), &Hooks{
		Authentication: (&Authenticator{}).OnAuthentication,
		Transport: func(ctx context.Context, m *Manager, beacon *antfs.Beacon) error {
			sim.DropDownloads(100)
			_, err := m.Download(ctx, 1, nil)
			return err
		},
	})
	assert.ErrorIs(t, err, antfs.ErrDownload)
	var derr *antfs.DownloadError
	require.True(t, errors.As(err, &derr))
	assert.True(t, derr.Timeout)
	assert.Equal(t, uint16(1), derr.Index)
	assert.Equal(t, uint64(3), m.Metrics().Retries)

	// Still told the device we were done
	assert.Equal(t, 1, sim.Disconnects())
}

func TestManagerDownloadNotExist(t *testing.T) {
	m, _ := setupSession(t, nil)

	err := m.Run(context.Background(), &Hooks{
		Authentication: (&Authenticator{}).OnAuthentication,
		Transport: func(ctx context.Context, m *Manager, beacon *antfs.Beacon) error {
			_, err := m.Download(ctx, 9, nil)
			return err
		},
	})
	var derr *antfs.DownloadError
	require.True(t, errors.As(err, &derr))
	assert.False(t, derr.Timeout)
	assert.Equal(t, antfs.DownloadNotExist, derr.Code)
}

func TestManagerNoDevice(t *testing.T) {
	m, sim := setupSession(t, func(_ *simulator.Config, conf *Config) {
		conf.BeaconTimeout = 50 * time.Millisecond
	})
	require.NoError(t, sim.Stop())

	err := m.Run(context.Background(), &Hooks{})
	assert.Error(t, err)
}

func TestManagerCommandOutsideSession(t *testing.T) {
	m, _ := setupSession(t, nil)
	_, err := m.Download(context.Background(), 1, nil)
	assert.ErrorIs(t, err, ErrNoChannel)
}
