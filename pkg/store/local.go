package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loopholelabs/logging/types"
)

// Local keeps every key as a file below a directory.
type Local struct {
	root string
	log  types.Logger
}

func NewLocal(root string, log types.Logger) (*Local, error) {
	err := os.MkdirAll(root, 0755)
	if err != nil {
		return nil, fmt.Errorf("could not create store %s: %w", root, err)
	}
	return &Local{root: root, log: log}, nil
}

func (l *Local) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return data, err
}

// Put writes through a temporary file so a key is never seen half written.
func (l *Local) Put(_ context.Context, key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	p := l.path(key)
	err := os.MkdirAll(filepath.Dir(p), 0755)
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return err
	}
	err = os.Rename(tmp, p)
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if l.log != nil {
		l.log.Debug().Str("key", key).Int("size", len(data)).Msg("stored")
	}
	return nil
}

func (l *Local) List(_ context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
