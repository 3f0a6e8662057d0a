package broute

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/berfenger/broute2mqtt/pkg/skstack"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPanCacheStoreLoad(t *testing.T) {

	assert := assert.New(t)

	cache := NewPanCache(filepath.Join(t.TempDir(), "pan.dat"), zap.Must(zap.NewDevelopment()))

	_, ok := cache.Load()
	assert.False(ok, "absent file is a miss")

	assert.NoError(cache.Store(testPan))
	pan, ok := cache.Load()
	assert.True(ok)
	assert.Equal(testPan, pan)

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(cache.Path()))
	assert.NoError(err)
	assert.Len(entries, 1)

	assert.NoError(cache.Invalidate())
	assert.NoError(cache.Invalidate(), "invalidating twice is fine")
	_, ok = cache.Load()
	assert.False(ok)
}

func TestPanCacheRejectsBadRecords(t *testing.T) {

	assert := assert.New(t)

	cache := NewPanCache(filepath.Join(t.TempDir(), "pan.dat"), zap.Must(zap.NewDevelopment()))

	assert.ErrorIs(cache.Store(&skstack.PanDescriptor{Channel: "21"}), skstack.ErrMalformedPanDesc)

	assert.NoError(os.WriteFile(cache.Path(), []byte{0xFF, 0x00, 0x13}, 0o600))
	_, ok := cache.Load()
	assert.False(ok, "garbage is a miss")

	// an older record layout
	data, err := cacheEncMode.Marshal(panCacheRecord{Version: panCacheVersion + 1, Pan: *testPan})
	assert.NoError(err)
	assert.NoError(os.WriteFile(cache.Path(), data, 0o600))
	_, ok = cache.Load()
	assert.False(ok, "unknown version is a miss")

	// a record without the join fields
	data, err = cacheEncMode.Marshal(panCacheRecord{Version: panCacheVersion, Pan: skstack.PanDescriptor{PairID: "00AA1234"}})
	assert.NoError(err)
	assert.NoError(os.WriteFile(cache.Path(), data, 0o600))
	_, ok = cache.Load()
	assert.False(ok, "incomplete descriptor is a miss")
}

func TestPanCacheDefaultPath(t *testing.T) {

	cache := NewPanCache("", zap.Must(zap.NewDevelopment()))
	assert.Equal(t, filepath.Join(os.TempDir(), DEFAULT_PAN_CACHE_FILE), cache.Path())
}
