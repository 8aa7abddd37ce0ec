package orderedkv

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	"github.com/pingcap-incubator/tinykcv/kv/kcv"
)

// MemManager is an ordered engine held in memory, one btree per namespace. Data is not written to disk. It is
// intended for testing the adapter without a disk engine.
type MemManager struct {
	mu     sync.Mutex
	stores map[string]*MemStore
}

func NewMemManager() *MemManager {
	return &MemManager{stores: make(map[string]*MemStore)}
}

func (m *MemManager) Name() string {
	return "memkv"
}

func (m *MemManager) OpenStore(name string) (OrderedKeyValueStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[name]; ok {
		return s, nil
	}
	s := &MemStore{name: name, tree: btree.NewG(32, lessMemItem)}
	m.stores[name] = s
	return s, nil
}

func (m *MemManager) Features() kcv.StoreFeatures {
	return kcv.StoreFeatures{}
}

func (m *MemManager) Exists() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.stores {
		s.mu.RLock()
		n := s.tree.Len()
		s.mu.RUnlock()
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemManager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.stores {
		s.mu.Lock()
		s.tree.Clear(false)
		s.mu.Unlock()
	}
	return nil
}

func (m *MemManager) Close() error {
	return nil
}

type memItem struct {
	key   []byte
	value []byte
}

func lessMemItem(a, b memItem) bool {
	return bytes.Compare(a.key, b.key) < 0
}

type MemStore struct {
	name string
	mu   sync.RWMutex
	tree *btree.BTreeG[memItem]
}

func (s *MemStore) Name() string {
	return s.name
}

func (s *MemStore) Get(key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.tree.Get(memItem{key: key})
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), item.value...), true, nil
}

func (s *MemStore) Scan(start, end []byte, fn func(key, value []byte) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.tree.AscendGreaterOrEqual(memItem{key: start}, func(item memItem) bool {
		if ExceedEndKey(item.key, end) {
			return false
		}
		return fn(item.key, item.value)
	})
	return nil
}

func (s *MemStore) Write(batch *WriteBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range batch.Modifies {
		if m.Delete {
			s.tree.Delete(memItem{key: m.Key})
		} else {
			s.tree.ReplaceOrInsert(memItem{key: m.Key, value: m.Value})
		}
	}
	return nil
}

func (s *MemStore) Close() error {
	return nil
}
