package storage

import (
	"path/filepath"

	"github.com/pingcap-incubator/tinykcv/kv/config"
	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/pingcap-incubator/tinykcv/kv/storage/badgerkv"
	"github.com/pingcap-incubator/tinykcv/kv/storage/inmemory"
	"github.com/pingcap-incubator/tinykcv/kv/storage/leveldbkv"
	"github.com/pingcap/errors"
)

// NewStoreManager opens the backend selected by conf.Storage.Backend.
func NewStoreManager(conf *config.StorageConfig) (kcv.StoreManager, error) {
	switch conf.Backend {
	case config.BackendInMemory:
		m := inmemory.NewStoreManager()
		m.SetDumpRate(int64(conf.SnapshotRate))
		return m, nil
	case config.BackendBadger:
		m, err := badgerkv.NewStoreManager(filepath.Join(conf.Directory, badgerkv.Name), conf.SyncWrites)
		if err != nil {
			return nil, err
		}
		return m, nil
	case config.BackendLevelDB:
		m, err := leveldbkv.NewStoreManager(filepath.Join(conf.Directory, leveldbkv.Name), conf.SyncWrites)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, kcv.NewPermanentError(errors.Annotatef(kcv.ErrInvalidArgument, "unknown storage backend %q", conf.Backend))
}
