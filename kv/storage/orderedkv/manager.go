package orderedkv

import (
	"sort"
	"sync"

	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/pingcap-incubator/tinykcv/log"
	"github.com/pingcap/errors"
)

// StoreManager builds kcv stores on top of an ordered key-value engine.
type StoreManager struct {
	engine OrderedKeyValueManager
	mu     sync.Mutex
	stores map[string]*Store
}

func NewStoreManager(engine OrderedKeyValueManager) *StoreManager {
	return &StoreManager{engine: engine, stores: make(map[string]*Store)}
}

func (m *StoreManager) Name() string {
	return m.engine.Name()
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
	if s, ok := m.stores[name]; ok && !s.closed.Load() {
		return s, nil
	}
	kv, err := m.engine.OpenStore(name)
	if err != nil {
		return nil, backendError(err)
	}
	s := NewStore(kv)
	m.stores[name] = s
	log.Infof("opened %s store %s", m.engine.Name(), name)
	return s, nil
}

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

// Features adds what the adapter provides on top of the engine.
func (m *StoreManager) Features() kcv.StoreFeatures {
	f := m.engine.Features()
	f.OrderedScan = true
	f.KeyOrdered = true
	f.KeyConsistent = true
	f.MultiQuery = true
	f.BatchMutation = true
	return f
}

func (m *StoreManager) Exists() (bool, error) {
	exists, err := m.engine.Exists()
	return exists, errors.Trace(err)
}

func (m *StoreManager) Clear() error {
	return errors.Trace(m.engine.Clear())
}

func (m *StoreManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, s := range m.stores {
		if err := s.Close(); err != nil {
			log.Warnf("close store %s: %v", name, err)
		}
	}
	m.stores = make(map[string]*Store)
	return errors.Trace(m.engine.Close())
}
