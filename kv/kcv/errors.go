package kcv

import (
	"fmt"

	"github.com/pingcap/errcode"
	"github.com/pingcap/errors"
)

var (
	// ErrUnsupported is returned for operations a backend does not implement, such as AcquireLock on the
	// in-memory engine.
	ErrUnsupported = errors.New("operation not supported by this store")
	// ErrInconsistentLevel is returned by key iteration under a key-consistent transaction.
	ErrInconsistentLevel = errors.New("key iteration requires the default consistency level")
	ErrClosed            = errors.New("store is closed")
	ErrInvalidArgument   = errors.New("invalid argument")
)

var (
	// TemporaryCode is the code of failures worth retrying.
	TemporaryCode         = errcode.InternalCode.Child("internal.temporary")
	InvalidArgumentCode   = errcode.InvalidInputCode.Child("input.argument")
	UnsupportedCode       = errcode.InvalidInputCode.Child("input.unsupported")
	ClosedCode            = errcode.StateCode.Child("state.closed")
	InconsistentLevelCode = errcode.StateCode.Child("state.consistency")
)

var _ errcode.ErrorCode = (*TemporaryError)(nil) // assert implements interface
var _ errcode.ErrorCode = (*PermanentError)(nil) // assert implements interface

// TemporaryError marks a failure that may succeed when retried, e.g. a backend timeout.
type TemporaryError struct {
	Err error
}

func NewTemporaryError(err error) error {
	if err == nil {
		return nil
	}
	return &TemporaryError{Err: err}
}

func (e *TemporaryError) Error() string {
	return fmt.Sprintf("temporary backend failure: %v", e.Err)
}

func (e *TemporaryError) Cause() error {
	return e.Err
}

func (e *TemporaryError) Unwrap() error {
	return e.Err
}

// Code returns TemporaryCode
func (e *TemporaryError) Code() errcode.Code {
	return TemporaryCode
}

// PermanentError marks a failure that retrying cannot fix: a violated precondition or an unsupported call.
type PermanentError struct {
	Err error
}

func NewPermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Cause() error {
	return e.Err
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Code classifies the wrapped error by its cause.
func (e *PermanentError) Code() errcode.Code {
	return causeCode(e.Err)
}

type causer interface {
	Cause() error
}

type wrapper interface {
	Unwrap() error
}

// IsTemporary reports whether a TemporaryError appears anywhere in err's cause chain before a PermanentError. The
// chain follows Cause and falls back to Unwrap, so errors wrapped with fmt.Errorf("%w") are seen through.
func IsTemporary(err error) bool {
	for err != nil {
		switch err.(type) {
		case *TemporaryError:
			return true
		case *PermanentError:
			return false
		}
		var next error
		if c, ok := err.(causer); ok {
			next = c.Cause()
		} else if w, ok := err.(wrapper); ok {
			next = w.Unwrap()
		} else {
			return false
		}
		if next == err {
			return false
		}
		err = next
	}
	return false
}

// CodeOf returns the error code reported for err: TemporaryCode for retryable failures, otherwise a code chosen by
// the sentinel err was annotated from, falling back to errcode.InternalCode.
func CodeOf(err error) errcode.Code {
	if IsTemporary(err) {
		return TemporaryCode
	}
	return causeCode(err)
}

func causeCode(err error) errcode.Code {
	switch errors.Cause(err) {
	case ErrInvalidArgument:
		return InvalidArgumentCode
	case ErrUnsupported:
		return UnsupportedCode
	case ErrClosed:
		return ClosedCode
	case ErrInconsistentLevel:
		return InconsistentLevelCode
	}
	return errcode.InternalCode
}

// ErrUnsupportedf annotates ErrUnsupported as a permanent error.
func ErrUnsupportedf(format string, args ...interface{}) error {
	return NewPermanentError(errors.Annotatef(ErrUnsupported, format, args...))
}
