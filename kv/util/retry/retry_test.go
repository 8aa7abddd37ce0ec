package retry

import (
	"testing"
	"time"

	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestRetriesTemporaryErrors(t *testing.T) {
	calls := 0
	err := Execute("persist", Policy{Attempts: 3, Wait: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return kcv.NewTemporaryError(errFlaky)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	start := time.Now()
	err := Execute("persist", Policy{Attempts: 4, Wait: 5 * time.Millisecond}, func() error {
		calls++
		return kcv.NewTemporaryError(errFlaky)
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.False(t, kcv.IsTemporary(err))
	assert.Equal(t, errFlaky, errors.Cause(err))
	assert.True(t, time.Since(start) >= 15*time.Millisecond)
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	calls := 0
	err := Execute("persist", Policy{Attempts: 5, Wait: time.Millisecond}, func() error {
		calls++
		return kcv.ErrUnsupportedf("nope")
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, kcv.ErrUnsupported, errors.Cause(err))

	calls = 0
	err = Execute("persist", Policy{}, func() error {
		calls++
		return kcv.NewTemporaryError(errFlaky)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
