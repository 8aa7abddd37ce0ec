package latches

import (
	"sync"
	"testing"

	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/stretchr/testify/assert"
)

func TestGetCreatesOneLatchPerKey(t *testing.T) {
	l := NewLatchesWithShards(4)

	var wg sync.WaitGroup
	got := make([]*sync.RWMutex, 32)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = l.Get(kcv.StringBuffer("k"))
		}(i)
	}
	wg.Wait()

	for _, latch := range got {
		assert.Same(t, got[0], latch)
	}
	assert.Equal(t, 1, l.Len())

	assert.NotSame(t, got[0], l.Get(kcv.StringBuffer("other")))
	assert.Equal(t, 2, l.Len())
}

func TestDefaultLevelDoesNotLatch(t *testing.T) {
	l := NewLatches()
	key := kcv.StringBuffer("k")

	release := l.AcquireWrite(key, kcv.ConsistencyDefault)
	// A second default-level writer is not blocked.
	l.AcquireWrite(key, kcv.ConsistencyDefault)()
	release()
	assert.Equal(t, 0, l.Len())
}

func TestKeyConsistentSerializesWriters(t *testing.T) {
	l := NewLatches()
	key := kcv.StringBuffer("k")

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := l.AcquireWrite(key, kcv.ConsistencyKeyConsistent)
			defer release()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)

	release := l.AcquireRead(key, kcv.ConsistencyLocalKeyConsistent)
	release()
	assert.Equal(t, 1, l.Len())
}
