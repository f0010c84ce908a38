package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"UPL-1/2024/mapping.json", false},
		{"mapping.json", false},
		{"", true},
		{"/etc/passwd", true},
		{"../secret", true},
		{"a/../b", true},
		{"a//b", true},
		{"a/./b", true},
		{"a/b/", true},
		{`a\b`, true},
		{"a\x00b", true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsafeKey)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJoinKey(t *testing.T) {
	key, err := JoinKey("UPL-1", "2024", "mapping.json")
	require.NoError(t, err)
	assert.Equal(t, "UPL-1/2024/mapping.json", key)

	_, err = JoinKey("..", "2024")
	assert.ErrorIs(t, err, ErrUnsafeKey)
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.LoadBytes(ctx, "UPL-1/2024/mapping.json")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveBytes(ctx, "UPL-1/2024/mapping.json", []byte("v1")))
	require.NoError(t, store.SaveBytes(ctx, "UPL-1/2024/mapping.json", []byte("v2")))

	data, err := store.LoadBytes(ctx, "UPL-1/2024/mapping.json")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	entries, err := os.ReadDir(filepath.Join(store.Root(), "UPL-1", "2024"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestFileStore_List(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, k := range []string{"b/2024/mapping.json", "a/2024/mapping.v1.json", "a/2024/mapping.json", "a/2023/mapping.json"} {
		require.NoError(t, store.SaveBytes(ctx, k, []byte("{}")))
	}

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"a/2023/mapping.json",
		"a/2024/mapping.json",
		"a/2024/mapping.v1.json",
		"b/2024/mapping.json",
	}, all)

	some, err := store.List(ctx, "a/2024/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/2024/mapping.json", "a/2024/mapping.v1.json"}, some)

	none, err := store.List(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFileStore_RejectsEscapes(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.pdf"), []byte("secret"), 0o600))

	store, err := NewFileStore(root)
	require.NoError(t, err)

	_, err = store.LoadBytes(ctx, "../secret.pdf")
	assert.ErrorIs(t, err, ErrUnsafeKey)

	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	_, err = store.LoadBytes(ctx, "link/secret.pdf")
	assert.ErrorIs(t, err, ErrUnsafeKey)
}

func TestFileStore_CanceledContext(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.SaveBytes(ctx, "a.json", nil), context.Canceled)
	_, err = store.LoadBytes(ctx, "a.json")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileStore_ConcurrentWritersNeverTear(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	payloads := [][]byte{
		[]byte(`{"version":1,"pad":"aaaaaaaaaaaaaaaaaaaaaaaa"}`),
		[]byte(`{"version":2,"pad":"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"}`),
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.SaveBytes(ctx, "m.json", payloads[i%2]))
		}(i)
	}
	wg.Wait()

	data, err := store.LoadBytes(ctx, "m.json")
	require.NoError(t, err)
	assert.Contains(t, []string{string(payloads[0]), string(payloads[1])}, string(data))
}

func TestNewFileStore_EmptyRoot(t *testing.T) {
	_, err := NewFileStore("")
	assert.Error(t, err)
}

type countingStore struct {
	BlobStore
	loads int
	fail  error
}

func (c *countingStore) LoadBytes(ctx context.Context, key string) ([]byte, error) {
	c.loads++
	return c.BlobStore.LoadBytes(ctx, key)
}

func (c *countingStore) SaveBytes(ctx context.Context, key string, data []byte) error {
	if c.fail != nil {
		return c.fail
	}
	return c.BlobStore.SaveBytes(ctx, key, data)
}

func TestCachedStore(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	backing := &countingStore{BlobStore: fs}
	store := NewCachedStore(backing, 2)

	require.NoError(t, store.SaveBytes(ctx, "a", []byte("A")))

	data, err := store.LoadBytes(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "A", string(data))
	assert.Equal(t, 0, backing.loads, "write-through should populate the cache")

	require.NoError(t, fs.SaveBytes(ctx, "b", []byte("B")))
	_, err = store.LoadBytes(ctx, "b")
	require.NoError(t, err)
	_, err = store.LoadBytes(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, backing.loads)

	_, err = store.LoadBytes(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	backing.fail = errors.New("disk full")
	assert.Error(t, store.SaveBytes(ctx, "a", []byte("A2")))
	backing.fail = nil

	// A failed write evicts the key so the next read goes to the backing store.
	data, err = store.LoadBytes(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "A", string(data))

	keys, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	stats := store.Stats()
	assert.Equal(t, 2, stats.Capacity)
	assert.Positive(t, stats.Hits)
}

func TestLRUCache_Eviction(t *testing.T) {
	cache := NewLRUCache(2)

	cache.Put("a", []byte("1"))
	cache.Put("b", []byte("2"))
	_, ok := cache.Get("a")
	require.True(t, ok)

	cache.Put("c", []byte("3"))

	_, ok = cache.Get("b")
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = cache.Get("a")
	assert.True(t, ok)
	_, ok = cache.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, cache.Len())

	cache.Put("a", []byte("updated"))
	v, _ := cache.Get("a")
	assert.Equal(t, "updated", string(v))

	cache.Remove("a")
	assert.Equal(t, 1, cache.Len())

	stats := cache.Stats()
	assert.Equal(t, int64(4), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 80.0, stats.HitRate, 1e-9)
}

func TestLRUCache_DefaultCapacity(t *testing.T) {
	assert.Equal(t, 32, NewLRUCache(0).Stats().Capacity)
}
