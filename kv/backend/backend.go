package backend

import (
	"sort"
	"sync"

	"github.com/pingcap-incubator/tinykcv/kv/cache"
	"github.com/pingcap-incubator/tinykcv/kv/config"
	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/pingcap-incubator/tinykcv/kv/storage"
	"github.com/pingcap-incubator/tinykcv/log"
	"github.com/pingcap/errors"
)

// Backend ties a store manager to the caches of its stores and hands out buffered transactions.
type Backend struct {
	conf    *config.Config
	manager kcv.StoreManager

	mu     sync.Mutex
	stores map[string]cache.KCVSCache
	closed bool
}

// Open validates conf and opens the configured storage backend.
func Open(conf *config.Config) (*Backend, error) {
	if err := conf.Validate(); err != nil {
		return nil, kcv.NewPermanentError(errors.Annotate(kcv.ErrInvalidArgument, err.Error()))
	}
	manager, err := storage.NewStoreManager(&conf.Storage)
	if err != nil {
		return nil, err
	}
	return New(conf, manager), nil
}

// New builds a Backend on an already open manager.
func New(conf *config.Config, manager kcv.StoreManager) *Backend {
	log.Infof("backend %s ready, cache enabled: %v", manager.Name(), conf.Cache.Enabled)
	return &Backend{
		conf:    conf,
		manager: manager,
		stores:  make(map[string]cache.KCVSCache),
	}
}

func (b *Backend) Manager() kcv.StoreManager {
	return b.manager
}

func (b *Backend) Features() kcv.StoreFeatures {
	return b.manager.Features()
}

// OpenStore returns the cache of the named store, opening the store on first use.
func (b *Backend) OpenStore(name string) (cache.KCVSCache, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.Annotatef(kcv.ErrClosed, "backend %s", b.manager.Name())
	}
	if c, ok := b.stores[name]; ok {
		return c, nil
	}
	s, err := b.manager.OpenDatabase(name)
	if err != nil {
		return nil, err
	}
	c, err := b.wrap(s)
	if err != nil {
		return nil, err
	}
	b.stores[name] = c
	return c, nil
}

func (b *Backend) wrap(s kcv.Store) (cache.KCVSCache, error) {
	conf := b.conf.Cache
	if !conf.Enabled {
		return cache.NewNoKCVSCache(s), nil
	}
	c, err := cache.NewExpirationKCVSCache(s, cache.ExpirationConfig{
		Expiration:       conf.Expiration.Duration,
		GracePeriod:      conf.CleanWait.Duration,
		MaxBytes:         int64(conf.Size),
		ValidateKeysOnly: conf.ValidateKeysOnly,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (b *Backend) txConfig(level kcv.ConsistencyLevel) kcv.TxConfig {
	txConf := kcv.DefaultTxConfig()
	txConf.Consistency = level
	if b.conf.Metrics.Enabled {
		txConf.MetricsPrefix = b.conf.Metrics.Prefix
	}
	return txConf
}

// BeginTransaction starts a transaction that buffers mutations until it is flushed or committed.
func (b *Backend) BeginTransaction(level kcv.ConsistencyLevel) (*cache.CacheTransaction, error) {
	tx, err := b.manager.BeginTransaction(b.txConfig(level))
	if err != nil {
		return nil, err
	}
	conf := b.conf.Transaction
	return cache.NewCacheTransaction(tx, b.manager, cache.TransactionConfig{
		PersistChunkSize:      conf.BufferSize,
		WriteAttempts:         conf.WriteAttempts,
		AttemptWait:           conf.AttemptWait.Duration,
		ContinuousPersistence: conf.ContinuousPersistence,
	})
}

// BeginExpirationTransaction starts a transaction that writes through and invalidates on flush or commit.
func (b *Backend) BeginExpirationTransaction(level kcv.ConsistencyLevel) (*cache.ExpirationTransaction, error) {
	tx, err := b.manager.BeginTransaction(b.txConfig(level))
	if err != nil {
		return nil, err
	}
	return cache.NewExpirationTransaction(tx), nil
}

// StoreNames lists the stores opened through this backend.
func (b *Backend) StoreNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.stores))
	for name := range b.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Backend) ClearCaches() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.stores {
		c.ClearCache()
	}
}

// Clear drops every cached slice and deletes all data of the backend.
func (b *Backend) Clear() error {
	b.ClearCaches()
	return b.manager.Clear()
}

// Close closes every opened store and then the manager. The first error is returned.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var firstErr error
	for name, c := range b.stores {
		if err := c.Close(); err != nil {
			log.Errorf("close store %s: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	b.stores = nil
	if err := b.manager.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
