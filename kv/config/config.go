package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/pingcap-incubator/tinykcv/log"
	"github.com/pingcap/errors"
)

const (
	BackendInMemory = "inmemory"
	BackendBadger   = "badger"
	BackendLevelDB  = "leveldb"
)

type Config struct {
	LogLevel string `toml:"log-level"`
	// Log to this file instead of stderr when set.
	LogFile     string            `toml:"log-file"`
	Storage     StorageConfig     `toml:"storage"`
	Cache       CacheConfig       `toml:"cache"`
	Transaction TransactionConfig `toml:"transaction"`
	Metrics     MetricsConfig     `toml:"metrics"`
}

type StorageConfig struct {
	// One of inmemory, badger or leveldb.
	Backend string `toml:"backend"`
	// Directory to store the data in. Should exist and be writable. Unused by the in-memory backend.
	Directory  string `toml:"directory"`
	SyncWrites bool   `toml:"sync-writes"`
	// Bytes per second written by in-memory snapshot dumps, 0 for unlimited.
	SnapshotRate ByteSize `toml:"snapshot-rate"`
}

type CacheConfig struct {
	Enabled bool `toml:"enabled"`
	// How long a cached slice stays valid.
	Expiration Duration `toml:"expiration"`
	// Grace period after an invalidation before stale slices of that key are evicted.
	CleanWait Duration `toml:"clean-wait"`
	// Upper bound on cached bytes, e.g. "64MB".
	Size ByteSize `toml:"size"`
	// Invalidate whole keys instead of passing the changed columns.
	ValidateKeysOnly bool `toml:"validate-keys-only"`
}

type TransactionConfig struct {
	// Mutations per persisted chunk.
	BufferSize    int      `toml:"buffer-size"`
	WriteAttempts int      `toml:"write-attempts"`
	AttemptWait   Duration `toml:"attempt-wait"`
	// Flush whenever BufferSize mutations are pending instead of holding everything until commit.
	ContinuousPersistence bool `toml:"continuous-persistence"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Prefix  string `toml:"prefix"`
}

// Duration is a time.Duration read from strings such as "250ms".
type Duration struct {
	time.Duration
}

func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.Trace(err)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ByteSize is a byte count read from human readable strings such as "64MB".
type ByteSize uint64

func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := units.RAMInBytes(string(text))
	if err != nil {
		return errors.Trace(err)
	}
	*b = ByteSize(v)
	return nil
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(units.BytesSize(float64(b))), nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendInMemory:
	case BackendBadger, BackendLevelDB:
		if c.Storage.Directory == "" {
			return fmt.Errorf("storage directory must be set for the %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Transaction.BufferSize <= 0 {
		return fmt.Errorf("transaction buffer size must be greater than 0")
	}
	if c.Transaction.WriteAttempts <= 0 {
		return fmt.Errorf("transaction write attempts must be greater than 0")
	}
	if c.Transaction.AttemptWait.Duration < 0 {
		return fmt.Errorf("transaction attempt wait must not be negative")
	}
	if c.Transaction.BufferSize < 10 {
		log.Warnf("transaction buffer size %d is very small, every flush will issue many backend writes",
			c.Transaction.BufferSize)
	}

	if c.Cache.Enabled {
		if c.Cache.Expiration.Duration <= 0 {
			return fmt.Errorf("cache expiration must be greater than 0")
		}
		if c.Cache.CleanWait.Duration < 0 {
			return fmt.Errorf("cache clean wait must not be negative")
		}
		if c.Cache.Size == 0 {
			return fmt.Errorf("cache size must be greater than 0")
		}
	}
	if c.Metrics.Enabled && c.Metrics.Prefix == "" {
		return fmt.Errorf("metrics prefix must be set when metrics are enabled")
	}
	return nil
}

const (
	KB uint64 = 1024
	MB uint64 = 1024 * 1024
)

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: getLogLevel(),
		Storage: StorageConfig{
			Backend:   BackendInMemory,
			Directory: "/tmp/tinykcv",
		},
		Cache: CacheConfig{
			Enabled:    true,
			Expiration: NewDuration(10 * time.Second),
			CleanWait:  NewDuration(50 * time.Millisecond),
			Size:       ByteSize(64 * MB),
		},
		Transaction: TransactionConfig{
			BufferSize:    1024,
			WriteAttempts: 5,
			AttemptWait:   NewDuration(250 * time.Millisecond),
		},
		Metrics: MetricsConfig{
			Prefix: "tinykcv",
		},
	}
}

func NewTestConfig() *Config {
	return &Config{
		LogLevel: getLogLevel(),
		Storage: StorageConfig{
			Backend: BackendInMemory,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Expiration: NewDuration(time.Second),
			CleanWait:  NewDuration(10 * time.Millisecond),
			Size:       ByteSize(1 * MB),
		},
		Transaction: TransactionConfig{
			BufferSize:    16,
			WriteAttempts: 3,
			AttemptWait:   NewDuration(time.Millisecond),
		},
		Metrics: MetricsConfig{
			Prefix: "test",
		},
	}
}

// LoadFile overlays the toml file at path onto the defaults and validates the result.
func LoadFile(path string) (*Config, error) {
	conf := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, conf); err != nil {
		return nil, errors.Annotatef(err, "load config %s", path)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Annotatef(err, "invalid config %s", path)
	}
	return conf, nil
}
