package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/loopholelabs/antfs/pkg/antfs/directory"
)

var (
	ErrNotFound   = errors.New("key not found")
	ErrInvalidKey = errors.New("invalid key")
)

// Store keeps downloaded files and passkeys under slash separated keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
}

func checkKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, p := range strings.Split(key, "/") {
		if p == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// FileKey is where a file downloaded from a device is archived.
func FileKey(serial uint32, f *directory.File) string {
	return fmt.Sprintf("files/%08x/%s", serial, f.Name())
}

// Passkeys keeps device passkeys in a store as hex under passkeys/<serial>.
type Passkeys struct {
	Store Store
}

func passkeyKey(serial uint32) string {
	return fmt.Sprintf("passkeys/%08x", serial)
}

func (p *Passkeys) Passkey(ctx context.Context, serial uint32) ([]byte, bool, error) {
	data, err := p.Store.Get(ctx, passkeyKey(serial))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, false, fmt.Errorf("passkey for %08x: %w", serial, err)
	}
	return key, true, nil
}

func (p *Passkeys) SavePasskey(ctx context.Context, serial uint32, passkey []byte) error {
	return p.Store.Put(ctx, passkeyKey(serial), []byte(hex.EncodeToString(passkey)+"\n"))
}
