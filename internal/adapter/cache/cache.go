package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/thushan/olla-link/internal/core/constants"
	"github.com/thushan/olla-link/internal/core/domain"
	"github.com/thushan/olla-link/internal/logger"
	"github.com/thushan/olla-link/internal/util"
)

const (
	keyLength = 16
	fileExt   = ".json"
	dirPerm   = 0o755
	filePerm  = 0o644
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// entry is the on-disk layout, one file per endpoint
type entry struct {
	IntrospectedAt time.Time                              `json:"introspectedAt"`
	Capabilities   map[string]domain.CapabilityDescriptor `json:"capabilities"`
	URL            string                                 `json:"url"`
}

// FileCache keeps introspection results per endpoint in {dir}/{key}.json with
// an in-memory copy in front. Anything unreadable is treated as a miss.
type FileCache struct {
	memory *xsync.Map[string, *entry]
	logger logger.StyledLogger
	now    func() time.Time
	dir    string
	ttl    time.Duration
}

type Option func(*FileCache)

// WithClock replaces time.Now, tests use it to age entries
func WithClock(now func() time.Time) Option {
	return func(c *FileCache) {
		c.now = now
	}
}

func New(dir string, ttl time.Duration, log logger.StyledLogger, opts ...Option) *FileCache {
	if ttl <= 0 {
		ttl = constants.DefaultCacheTTL
	}
	c := &FileCache{
		memory: xsync.NewMap[string, *entry](),
		logger: log,
		now:    time.Now,
		dir:    dir,
		ttl:    ttl,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EndpointKey is the first 16 hex chars of sha256 over the normalised address
func EndpointKey(endpointURL string) string {
	sum := sha256.Sum256([]byte(util.NormaliseAddress(endpointURL)))
	return hex.EncodeToString(sum[:])[:keyLength]
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, key+fileExt)
}

func (c *FileCache) Get(endpointURL string) ([]domain.CapabilityDescriptor, bool) {
	key := EndpointKey(endpointURL)

	e, ok := c.memory.Load(key)
	if !ok {
		var err error
		e, err = c.read(key)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				c.logger.Debug("Capability cache entry unreadable, treating as miss", "endpoint", endpointURL, "error", err)
			}
			return nil, false
		}
		c.memory.Store(key, e)
	}

	if c.now().Sub(e.IntrospectedAt) > c.ttl {
		c.logger.Debug("Capability cache entry expired", "endpoint", endpointURL, "age", c.now().Sub(e.IntrospectedAt))
		return nil, false
	}

	return e.descriptors(), true
}

func (c *FileCache) Put(endpointURL string, capabilities []domain.CapabilityDescriptor) error {
	key := EndpointKey(endpointURL)
	e := &entry{
		URL:            util.NormaliseAddress(endpointURL),
		IntrospectedAt: c.now(),
		Capabilities:   make(map[string]domain.CapabilityDescriptor, len(capabilities)),
	}
	for _, d := range capabilities {
		e.Capabilities[d.Name] = d
	}

	c.memory.Store(key, e)
	return c.write(key, e)
}

// Invalidate drops both the memory and file copies
func (c *FileCache) Invalidate(endpointURL string) {
	key := EndpointKey(endpointURL)
	c.memory.Delete(key)
	if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Debug("Failed to remove capability cache file", "endpoint", endpointURL, "error", err)
	}
}

func (c *FileCache) read(key string) (*entry, error) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, err
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("corrupt cache file: %w", err)
	}
	if e.IntrospectedAt.IsZero() {
		return nil, fmt.Errorf("corrupt cache file: missing introspectedAt")
	}
	return &e, nil
}

// write goes through a temp file and rename so readers never see a partial file
func (c *FileCache) write(key string, e *entry) error {
	if err := os.MkdirAll(c.dir, dirPerm); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

func (e *entry) descriptors() []domain.CapabilityDescriptor {
	out := make([]domain.CapabilityDescriptor, 0, len(e.Capabilities))
	for _, d := range e.Capabilities {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Noop never stores anything, used when the cache is disabled
type Noop struct{}

func (Noop) Get(string) ([]domain.CapabilityDescriptor, bool) { return nil, false }
func (Noop) Put(string, []domain.CapabilityDescriptor) error { return nil }
func (Noop) Invalidate(string) {}
