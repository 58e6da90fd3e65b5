package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/loopholelabs/antfs/pkg/antfs"
)

// PasskeyStore keeps the passkeys devices hand out when paired, by device serial.
type PasskeyStore interface {
	Passkey(ctx context.Context, serial uint32) ([]byte, bool, error)
	SavePasskey(ctx context.Context, serial uint32, passkey []byte) error
}

func (m *Manager) authenticate(ctx context.Context, req *antfs.Authenticate, timeout time.Duration) (*antfs.AuthenticateResponse, error) {
	err := m.send(ctx, req)
	if err != nil {
		return nil, err
	}
	c, err := m.waitCommand(ctx, antfs.CommandAuthenticateResponse, timeout)
	if err != nil {
		return nil, err
	}
	resp := c.(*antfs.AuthenticateResponse)
	if m.log != nil {
		m.log.Debug().Str("session", m.Session()).Str("request", req.Type.String()).Str("response", resp.Type.String()).Msg("authentication")
	}
	return resp, nil
}

// AuthenticateSerial asks the device for its serial number and friendly name.
func (m *Manager) AuthenticateSerial(ctx context.Context) (uint32, string, error) {
	resp, err := m.authenticate(ctx, &antfs.Authenticate{Type: antfs.AuthSerial, Serial: m.config.HostSerial}, m.config.CommandTimeout)
	if err != nil {
		return 0, "", err
	}
	if resp.Type == antfs.AuthReject {
		return 0, "", &antfs.AuthenticationError{Type: antfs.AuthSerial, Code: resp.Type}
	}
	m.lock.Lock()
	m.deviceSerial = resp.Serial
	m.deviceName = string(resp.Data)
	m.lock.Unlock()
	return resp.Serial, string(resp.Data), nil
}

// AuthenticatePasskey proves we paired with the device before.
func (m *Manager) AuthenticatePasskey(ctx context.Context, passkey []byte) error {
	resp, err := m.authenticate(ctx, &antfs.Authenticate{Type: antfs.AuthPasskeyExchange, Serial: m.config.HostSerial, Data: passkey}, m.config.CommandTimeout)
	if err != nil {
		return err
	}
	if resp.Type != antfs.AuthAccept {
		return &antfs.AuthenticationError{Type: antfs.AuthPasskeyExchange, Code: resp.Type}
	}
	return nil
}

// AuthenticatePairing asks the user, on the device, to pair with us under name. The device
// answers with the passkey to use from then on.
func (m *Manager) AuthenticatePairing(ctx context.Context, name string) ([]byte, error) {
	resp, err := m.authenticate(ctx, &antfs.Authenticate{Type: antfs.AuthPairing, Serial: m.config.HostSerial, Data: []byte(name)}, m.config.PairingTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Type != antfs.AuthAccept {
		return nil, &antfs.AuthenticationError{Type: antfs.AuthPairing, Code: resp.Type}
	}
	return resp.Data, nil
}

// Authenticator is the usual authentication hook. It uses a stored passkey for the device when
// there is one and pairs otherwise, storing the passkey it gets back.
type Authenticator struct {
	Passkeys PasskeyStore
}

func (a *Authenticator) OnAuthentication(ctx context.Context, m *Manager, beacon *antfs.Beacon) error {
	serial, name, err := m.AuthenticateSerial(ctx)
	if err != nil {
		return err
	}
	if m.log != nil {
		m.log.Info().Str("session", m.Session()).Uint32("serial", serial).Str("name", name).Msg("device identified")
	}

	if a.Passkeys != nil {
		passkey, ok, err := a.Passkeys.Passkey(ctx, serial)
		if err != nil {
			return fmt.Errorf("could not load passkey for %d: %w", serial, err)
		}
		if ok {
			return m.AuthenticatePasskey(ctx, passkey)
		}
	}

	if !beacon.PairingEnabled && m.log != nil {
		m.log.Warn().Uint32("serial", serial).Msg("device does not advertise pairing")
	}
	passkey, err := m.AuthenticatePairing(ctx, m.config.FriendlyName)
	if err != nil {
		return err
	}
	if a.Passkeys != nil {
		err = a.Passkeys.SavePasskey(ctx, serial, passkey)
		if err != nil {
			return fmt.Errorf("could not save passkey for %d: %w", serial, err)
		}
	}
	return nil
}
