package leveldbkv

import (
	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/pingcap-incubator/tinykcv/kv/storage/orderedkv"
	"github.com/pingcap-incubator/tinykcv/kv/util/codec"
	"github.com/pingcap-incubator/tinykcv/log"
	"github.com/pingcap/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const Name = "leveldb"

// clearBatchSize bounds the number of deletions per write when clearing the database.
const clearBatchSize = 1000

// Engine keeps every store in one goleveldb database, namespaced like the badger engine.
type Engine struct {
	db           *leveldb.DB
	writeOptions *opt.WriteOptions
}

// NewEngine opens a database at path. An empty path keeps the database in memory.
func NewEngine(path string, syncWrites bool) (*Engine, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "open leveldb at %q", path)
	}
	log.Infof("leveldb engine opened at %q", path)
	return &Engine{db: db, writeOptions: &opt.WriteOptions{Sync: syncWrites}}, nil
}

// NewStoreManager opens a kcv store manager backed by goleveldb at path.
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
	return kcv.StoreFeatures{Persists: true}
}

func (e *Engine) Exists() (bool, error) {
	iter := e.db.NewIterator(nil, nil)
	defer iter.Release()
	exists := iter.First()
	return exists, errors.Trace(iter.Error())
}

func (e *Engine) Clear() error {
	iter := e.db.NewIterator(nil, nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
		if batch.Len() >= clearBatchSize {
			if err := e.db.Write(batch, e.writeOptions); err != nil {
				return errors.Trace(err)
			}
			batch.Reset()
		}
	}
	if err := iter.Error(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.db.Write(batch, e.writeOptions))
}

func (e *Engine) Close() error {
	return errors.Trace(e.db.Close())
}

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

func (s *Store) Get(key []byte) ([]byte, bool, error) {
	val, err := s.engine.db.Get(s.keyWithPrefix(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	} else if err != nil {
		return nil, false, errors.Trace(err)
	}
	return val, true, nil
}

func (s *Store) Scan(start, end []byte, fn func(key, value []byte) bool) error {
	rng := util.BytesPrefix(s.prefix)
	rng.Start = s.keyWithPrefix(start)
	if end != nil {
		rng.Limit = s.keyWithPrefix(end)
	}
	iter := s.engine.db.NewIterator(rng, nil)
	defer iter.Release()
	for iter.Next() {
		if !fn(iter.Key()[len(s.prefix):], iter.Value()) {
			break
		}
	}
	return errors.Trace(iter.Error())
}

func (s *Store) Write(batch *orderedkv.WriteBatch) error {
	if batch.Len() == 0 {
		return nil
	}
	b := new(leveldb.Batch)
	for _, m := range batch.Modifies {
		if m.Delete {
			b.Delete(s.keyWithPrefix(m.Key))
		} else {
			b.Put(s.keyWithPrefix(m.Key), m.Value)
		}
	}
	return errors.Trace(s.engine.db.Write(b, s.engine.writeOptions))
}

func (s *Store) Close() error {
	return nil
}
