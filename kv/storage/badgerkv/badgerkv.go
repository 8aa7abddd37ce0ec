package badgerkv

import (
	"os"
	"sync"

	"github.com/coocood/badger"
	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/pingcap-incubator/tinykcv/kv/storage/orderedkv"
	"github.com/pingcap-incubator/tinykcv/kv/util/codec"
	"github.com/pingcap-incubator/tinykcv/log"
	"github.com/pingcap/errors"
)

const Name = "badger"

// Engine keeps every store in a single badger database. Store namespaces are the memcomparable encoding of the
// store name, so no store's keys can fall inside another's.
type Engine struct {
	mu         sync.RWMutex
	db         *badger.DB
	path       string
	syncWrites bool
}

// CreateDB opens a badger database under path, creating the directory if needed.
func CreateDB(path string, syncWrites bool) (*badger.DB, error) {
	opts := badger.DefaultOptions
	opts.Dir = path
	opts.ValueDir = path
	opts.SyncWrites = syncWrites
	if err := os.MkdirAll(opts.Dir, os.ModePerm); err != nil {
		return nil, errors.WithStack(err)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Annotatef(err, "open badger at %s", path)
	}
	return db, nil
}

func NewEngine(path string, syncWrites bool) (*Engine, error) {
	db, err := CreateDB(path, syncWrites)
	if err != nil {
		return nil, err
	}
	log.Infof("badger engine opened at %s", path)
	return &Engine{db: db, path: path, syncWrites: syncWrites}, nil
}

// NewStoreManager opens a kcv store manager backed by badger at path.
func NewStoreManager(path string, syncWrites bool) (*orderedkv.StoreManager, error) {
	engine, err := NewEngine(path, syncWrites)
	if err != nil {
		return nil, err
	}
	return orderedkv.NewStoreManager(engine), nil
}

func (e *Engine) Name() string {
	return Name
}

func (e *Engine) OpenStore(name string) (orderedkv.OrderedKeyValueStore, error) {
	return &Store{engine: e, name: name, prefix: codec.EncodeBytes([]byte(name))}, nil
}

func (e *Engine) Features() kcv.StoreFeatures {
	return kcv.StoreFeatures{
		Persists:      true,
		Transactional: true,
	}
}

func (e *Engine) Exists() (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exists := false
	err := e.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		it.Rewind()
		exists = it.Valid()
		return nil
	})
	return exists, errors.Trace(err)
}

// Clear removes the database files and starts over with an empty database.
func (e *Engine) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.db.Close(); err != nil {
		return errors.Trace(err)
	}
	if err := os.RemoveAll(e.path); err != nil {
		return errors.WithStack(err)
	}
	db, err := CreateDB(e.path, e.syncWrites)
	if err != nil {
		return err
	}
	e.db = db
	log.Infof("badger engine at %s cleared", e.path)
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return errors.Trace(err)
}

// Store is one namespace of the badger database.
type Store struct {
	engine *Engine
	name   string
	prefix []byte
}

func (s *Store) Name() string {
	return s.name
}

func (s *Store) keyWithPrefix(key []byte) []byte {
	return append(append(make([]byte, 0, len(s.prefix)+len(key)), s.prefix...), key...)
}

func (s *Store) Get(key []byte) (val []byte, found bool, err error) {
	s.engine.mu.RLock()
	defer s.engine.mu.RUnlock()
	err = s.engine.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.keyWithPrefix(key))
		if err == badger.ErrKeyNotFound {
			return nil
		} else if err != nil {
			return err
		}
		found = true
		val, err = item.ValueCopy(nil)
		return err
	})
	return val, found, errors.Trace(err)
}

func (s *Store) Scan(start, end []byte, fn func(key, value []byte) bool) error {
	s.engine.mu.RLock()
	defer s.engine.mu.RUnlock()
	var endKey []byte
	if end != nil {
		endKey = s.keyWithPrefix(end)
	}
	err := s.engine.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(s.keyWithPrefix(start)); it.ValidForPrefix(s.prefix); it.Next() {
			item := it.Item()
			key := item.Key()
			if orderedkv.ExceedEndKey(key, endKey) {
				break
			}
			val, err := item.Value()
			if err != nil {
				return err
			}
			if !fn(key[len(s.prefix):], val) {
				break
			}
		}
		return nil
	})
	return errors.Trace(err)
}

func (s *Store) Write(batch *orderedkv.WriteBatch) error {
	if batch.Len() == 0 {
		return nil
	}
	s.engine.mu.RLock()
	defer s.engine.mu.RUnlock()
	err := s.engine.db.Update(func(txn *badger.Txn) error {
		for _, m := range batch.Modifies {
			var err error
			if m.Delete {
				err = txn.Delete(s.keyWithPrefix(m.Key))
			} else {
				err = txn.Set(s.keyWithPrefix(m.Key), m.Value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Trace(err)
}

// Close is a no-op; the database is closed with the engine.
func (s *Store) Close() error {
	return nil
}
