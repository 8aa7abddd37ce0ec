package inmemory

import (
	"sort"
	"strings"
	"sync"

	"github.com/juju/ratelimit"
	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/pingcap-incubator/tinykcv/kv/util"
	"github.com/pingcap-incubator/tinykcv/log"
	"github.com/pingcap/errors"
)

const Name = "inmemory"

// StoreManager keeps the in-memory stores of one process, keyed by name.
type StoreManager struct {
	mu     sync.Mutex
	stores map[string]*Store
	// dumpRate bounds the bytes per second written by DumpTo, 0 for unlimited.
	dumpRate int64
}

func NewStoreManager() *StoreManager {
	return &StoreManager{stores: make(map[string]*Store)}
}

func (m *StoreManager) Name() string {
	return Name
}

func (m *StoreManager) OpenDatabase(name string) (kcv.Store, error) {
	return m.open(name)
}

func (m *StoreManager) open(name string) (*Store, error) {
	if name == "" {
		return nil, kcv.NewPermanentError(errors.Annotate(kcv.ErrInvalidArgument, "empty store name"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[name]; ok && !s.IsClosed() {
		return s, nil
	}
	s := NewStore(name)
	m.stores[name] = s
	log.Infof("opened in-memory store %s", name)
	return s, nil
}

// MutateMany applies the mutations store by store in name order. Each key is applied atomically; the batch as a
// whole is not.
func (m *StoreManager) MutateMany(mutations map[string]map[kcv.StaticBuffer]*kcv.KCVMutation, txh kcv.StoreTransaction) error {
	names := make([]string, 0, len(mutations))
	for name := range mutations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s, err := m.open(name)
		if err != nil {
			return err
		}
		for key, mut := range mutations[name] {
			if err := s.Mutate(key, mut.Additions(), mut.Deletions(), txh); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *StoreManager) BeginTransaction(config kcv.TxConfig) (kcv.StoreTransaction, error) {
	return kcv.NewBaseTransaction(config), nil
}

func (m *StoreManager) Features() kcv.StoreFeatures {
	return kcv.StoreFeatures{
		OrderedScan:   true,
		UnorderedScan: true,
		MultiQuery:    true,
		BatchMutation: true,
		KeyOrdered:    true,
		KeyConsistent: true,
	}
}

func (m *StoreManager) Exists() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.stores {
		if !s.IsEmpty() {
			return true, nil
		}
	}
	return false, nil
}

// Clear empties every store. Open handles stay usable.
func (m *StoreManager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.stores {
		s.clear()
	}
	return nil
}

func (m *StoreManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.stores {
		if err := s.Close(); err != nil {
			return err
		}
	}
	m.stores = make(map[string]*Store)
	return nil
}

// StoreNames lists the open stores, sorted.
func (m *StoreManager) StoreNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetDumpRate bounds the bytes per second DumpTo writes across all chunk files. Zero or less removes the bound.
func (m *StoreManager) SetDumpRate(bytesPerSec int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dumpRate = bytesPerSec
}

// DumpTo dumps every open store into dir.
func (m *StoreManager) DumpTo(dir string, chunksPerStore int) error {
	m.mu.Lock()
	rate := m.dumpRate
	m.mu.Unlock()
	var limit *ratelimit.Bucket
	if rate > 0 {
		limit = ratelimit.NewBucketWithRate(float64(rate), rate)
	}
	for _, name := range m.StoreNames() {
		s, err := m.open(name)
		if err != nil {
			return err
		}
		if err := s.dumpTo(dir, chunksPerStore, limit); err != nil {
			return errors.Annotatef(err, "dump store %s", name)
		}
	}
	return nil
}

// RestoreFrom opens and restores every store found in dir.
func (m *StoreManager) RestoreFrom(dir string) error {
	manifests, err := util.ListFilesWithPrefix(dir, "")
	if err != nil {
		return err
	}
	for _, file := range manifests {
		if !strings.HasSuffix(file, manifestSuffix) {
			continue
		}
		s, err := m.open(strings.TrimSuffix(file, manifestSuffix))
		if err != nil {
			return err
		}
		if err := s.ReadFrom(dir); err != nil {
			return errors.Annotatef(err, "restore store %s", s.Name())
		}
	}
	return nil
}
