package latches

import (
	"sync"

	farm "github.com/dgryski/go-farm"
	"github.com/pingcap-incubator/tinykcv/kv/kcv"
)

// Latches is a per-key lock registry. A latch is created lazily the first time its key is seen and lives as long as
// the registry, so concurrent first accesses to a key always end up sharing a single latch.
//
// The registry is split into shards selected by a hash of the key, so creating latches for unrelated keys does not
// contend on one mutex. Once a latch exists, looking it up only takes the shard's read lock.
type Latches struct {
	shards []latchShard
}

type latchShard struct {
	guard sync.RWMutex
	// Latches keyed by the raw key bytes. Strings are immutable, so a key cannot change under the map.
	latchMap map[string]*sync.RWMutex
}

const defaultShardCount = 64

// NewLatches creates a registry with the default shard count. Each store owns its own registry.
func NewLatches() *Latches {
	return NewLatchesWithShards(defaultShardCount)
}

func NewLatchesWithShards(n int) *Latches {
	if n <= 0 {
		n = 1
	}
	l := &Latches{shards: make([]latchShard, n)}
	for i := range l.shards {
		l.shards[i].latchMap = make(map[string]*sync.RWMutex)
	}
	return l
}

func (l *Latches) shard(key string) *latchShard {
	return &l.shards[farm.Fingerprint32([]byte(key))%uint32(len(l.shards))]
}

// Get returns the latch for key, creating it if absent.
func (l *Latches) Get(key kcv.StaticBuffer) *sync.RWMutex {
	raw := key.Raw()
	s := l.shard(raw)
	s.guard.RLock()
	latch, ok := s.latchMap[raw]
	s.guard.RUnlock()
	if ok {
		return latch
	}

	s.guard.Lock()
	defer s.guard.Unlock()
	// Another thread may have created it between the two lookups.
	if latch, ok = s.latchMap[raw]; ok {
		return latch
	}
	latch = new(sync.RWMutex)
	s.latchMap[raw] = latch
	return latch
}

func noop() {}

// AcquireWrite locks key for writing when level asks for key consistency and returns the matching release
// function. Under the default level nothing is locked.
func (l *Latches) AcquireWrite(key kcv.StaticBuffer, level kcv.ConsistencyLevel) (release func()) {
	if !level.IsKeyConsistent() {
		return noop
	}
	latch := l.Get(key)
	latch.Lock()
	return latch.Unlock
}

// AcquireRead is AcquireWrite for readers: key-consistent readers wait for in-flight writers of the same key.
func (l *Latches) AcquireRead(key kcv.StaticBuffer, level kcv.ConsistencyLevel) (release func()) {
	if !level.IsKeyConsistent() {
		return noop
	}
	latch := l.Get(key)
	latch.RLock()
	return latch.RUnlock
}

// Len is the number of latches created so far.
func (l *Latches) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.guard.RLock()
		n += len(s.latchMap)
		s.guard.RUnlock()
	}
	return n
}
