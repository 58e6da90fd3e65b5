package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loopholelabs/antfs/pkg/antfs/directory"
	"github.com/loopholelabs/antfs/pkg/testutils"
	"github.com/loopholelabs/logging"
	"github.com/loopholelabs/logging/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "files/missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Put(ctx, "files/0001/a.fit", []byte("first")))
	require.NoError(t, s.Put(ctx, "files/0001/b.fit", []byte("second")))
	require.NoError(t, s.Put(ctx, "passkeys/0001", []byte("key")))

	data, err := s.Get(ctx, "files/0001/a.fit")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)

	// Overwrite
	require.NoError(t, s.Put(ctx, "files/0001/a.fit", []byte("again")))
	data, err = s.Get(ctx, "files/0001/a.fit")
	require.NoError(t, err)
	assert.Equal(t, []byte("again"), data)

	keys, err := s.List(ctx, "files/")
	require.NoError(t, err)
	assert.Equal(t, []string{"files/0001/a.fit", "files/0001/b.fit"}, keys)

	keys, err = s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, len(keys))

	for _, key := range []string{"", "/abs", "files/../x", "files//x", "files/"} {
		assert.True(t, errors.Is(s.Put(ctx, key, nil), ErrInvalidKey), key)
	}
}

func TestStoreMemory(t *testing.T) {
	testStore(t, NewMemory())
}

func TestStoreLocal(t *testing.T) {
	var out testutils.LogBuffer
	log := logging.New(logging.Zerolog, "antfs", &out)
	log.SetLevel(types.TraceLevel)

	root := filepath.Join(t.TempDir(), "archive")
	s, err := NewLocal(root, log)
	require.NoError(t, err)
	testStore(t, s)

	_, err = os.Stat(filepath.Join(root, "files", "0001", "b.fit"))
	assert.NoError(t, err)
	assert.Equal(t, 4, out.Count("stored"))
}

func TestStoreS3(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	endpoint := testutils.SetupMinio(t)

	s, err := NewS3(context.Background(), &S3Config{
		Endpoint:  endpoint,
		AccessKey: testutils.MinioUser,
		SecretKey: testutils.MinioPassword,
		Bucket:    "antfs",
		Prefix:    "/watch/",
	}, nil)
	require.NoError(t, err)
	testStore(t, s)
}

func TestStorePasskeys(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	p := &Passkeys{Store: mem}

	_, ok, err := p.Passkey(ctx, 0x12345678)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.SavePasskey(ctx, 0x12345678, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	raw, err := mem.Get(ctx, "passkeys/12345678")
	require.NoError(t, err)
	assert.Equal(t, "0102030405060708\n", string(raw))

	key, ok, err := p.Passkey(ctx, 0x12345678)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, key)

	require.NoError(t, mem.Put(ctx, "passkeys/00000001", []byte("not hex")))
	_, _, err = p.Passkey(ctx, 1)
	assert.Error(t, err)
}

func TestStoreFileKey(t *testing.T) {
	f := &directory.File{
		Index:    10,
		DataType: directory.DataTypeFIT,
		Date:     time.Date(2024, 5, 1, 7, 30, 0, 0, time.UTC),
	}
	assert.Equal(t, "files/12345678/0010_2024-05-01_07-30-00.fit", FileKey(0x12345678, f))

	f.DataType = 0x01
	assert.Equal(t, "files/12345678/0010_2024-05-01_07-30-00.bin", FileKey(0x12345678, f))
}
