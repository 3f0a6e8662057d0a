package broute

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/berfenger/broute2mqtt/pkg/skstack"
	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

const (
	DEFAULT_PAN_CACHE_FILE = "broute_pan_desc.dat"

	panCacheVersion = 1
)

var (
	cacheEncMode cbor.EncMode
	cacheDecMode cbor.DecMode
)

func init() {
	var err error
	cacheEncMode, err = cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeUnix,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}
	cacheDecMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

type panCacheRecord struct {
	Version   uint8                 `cbor:"1,keyasint"`
	Pan       skstack.PanDescriptor `cbor:"2,keyasint"`
	ScannedAt time.Time             `cbor:"3,keyasint"`
}

// PanCache persists the last scanned PAN descriptor in a single file.
type PanCache struct {
	path   string
	logger *zap.Logger
}

func DefaultPanCachePath() string {
	return filepath.Join(os.TempDir(), DEFAULT_PAN_CACHE_FILE)
}

func NewPanCache(path string, logger *zap.Logger) *PanCache {
	if path == "" {
		path = DefaultPanCachePath()
	}
	return &PanCache{
		path:   path,
		logger: logger.With(zap.String("panCache", path)),
	}
}

func (c *PanCache) Path() string {
	return c.path
}

// Load returns the cached descriptor. Absent or unreadable records are a miss.
func (c *PanCache) Load() (*skstack.PanDescriptor, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("could not read PAN cache", zap.Error(err))
		}
		return nil, false
	}
	var record panCacheRecord
	if err := cacheDecMode.Unmarshal(data, &record); err != nil {
		c.logger.Warn("ignoring corrupt PAN cache", zap.Error(err))
		return nil, false
	}
	if record.Version != panCacheVersion || !record.Pan.Complete() {
		c.logger.Warn("ignoring incompatible PAN cache", zap.Uint8("version", record.Version))
		return nil, false
	}
	c.logger.Debug("PAN cache hit", zap.Time("scannedAt", record.ScannedAt))
	return &record.Pan, true
}

func (c *PanCache) Store(pan *skstack.PanDescriptor) error {
	if !pan.Complete() {
		return fmt.Errorf("%w: refusing to cache an incomplete descriptor", skstack.ErrMalformedPanDesc)
	}
	data, err := cacheEncMode.Marshal(panCacheRecord{
		Version:   panCacheVersion,
		Pan:       *pan,
		ScannedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.path)
}

func (c *PanCache) Invalidate() error {
	err := os.Remove(c.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
