package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/pingcap-incubator/tinykcv/log"
	"github.com/pingcap/errors"
)

// Policy retries an operation up to Attempts times, sleeping a fixed Wait between attempts.
type Policy struct {
	Attempts int
	Wait     time.Duration
}

// Execute runs op under p. Only temporary failures are retried; anything else is returned at once. When every
// attempt fails the last error is returned as a permanent error.
func Execute(name string, p Policy, op func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	tried := 0
	wrapped := func() error {
		tried++
		err := op()
		if err != nil && !kcv.IsTemporary(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warnf("%s failed on attempt %d/%d, retrying in %v: %v", name, tried, attempts, wait, err)
	}
	var err error
	if attempts == 1 {
		err = op()
		tried = 1
	} else {
		b := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Wait), uint64(attempts-1))
		err = backoff.RetryNotify(wrapped, b, notify)
	}
	if err == nil {
		return nil
	}
	if kcv.IsTemporary(err) {
		log.Errorf("%s gave up after %d attempts: %v", name, tried, err)
		return kcv.NewPermanentError(errors.Annotatef(err, "%s failed after %d attempts", name, tried))
	}
	return err
}
