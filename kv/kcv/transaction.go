package kcv

import (
	"time"

	"go.uber.org/atomic"
)

// ConsistencyLevel selects whether a transaction needs per-key linearizable semantics.
type ConsistencyLevel int

const (
	// ConsistencyDefault lets readers see lock-free snapshots and writers race per key.
	ConsistencyDefault ConsistencyLevel = iota
	// ConsistencyKeyConsistent serializes access per key.
	ConsistencyKeyConsistent
	// ConsistencyLocalKeyConsistent is key consistency within one data center; local engines treat it as
	// ConsistencyKeyConsistent.
	ConsistencyLocalKeyConsistent
)

func (c ConsistencyLevel) IsKeyConsistent() bool {
	return c == ConsistencyKeyConsistent || c == ConsistencyLocalKeyConsistent
}

func (c ConsistencyLevel) String() string {
	switch c {
	case ConsistencyDefault:
		return "default"
	case ConsistencyKeyConsistent:
		return "key-consistent"
	case ConsistencyLocalKeyConsistent:
		return "local-key-consistent"
	}
	return "unknown"
}

// TxConfig configures one transaction handle.
type TxConfig struct {
	Consistency ConsistencyLevel
	// MetricsPrefix groups cache metrics; empty disables metric recording.
	MetricsPrefix string
	StartTime     time.Time
}

func DefaultTxConfig() TxConfig {
	return TxConfig{Consistency: ConsistencyDefault, StartTime: time.Now()}
}

// StoreTransaction is a backend transaction handle.
type StoreTransaction interface {
	Config() TxConfig
	// Flush pushes buffered work to the backend and keeps the transaction open.
	Flush() error
	Commit() error
	Rollback() error
}

// BaseTransaction is the handle issued by backends without native transactions. Its operations only track state.
type BaseTransaction struct {
	config TxConfig
	closed atomic.Bool
}

func NewBaseTransaction(config TxConfig) *BaseTransaction {
	if config.StartTime.IsZero() {
		config.StartTime = time.Now()
	}
	return &BaseTransaction{config: config}
}

func (t *BaseTransaction) Config() TxConfig {
	return t.config
}

func (t *BaseTransaction) Flush() error {
	return nil
}

func (t *BaseTransaction) Commit() error {
	t.closed.Store(true)
	return nil
}

func (t *BaseTransaction) Rollback() error {
	t.closed.Store(true)
	return nil
}

func (t *BaseTransaction) IsClosed() bool {
	return t.closed.Load()
}

// Unwrapper is implemented by transactions that decorate a backend transaction.
type Unwrapper interface {
	Unwrap() StoreTransaction
}

// BackendTransaction peels decorating transactions off txh until it reaches the backend handle.
func BackendTransaction(txh StoreTransaction) StoreTransaction {
	for {
		u, ok := txh.(Unwrapper)
		if !ok {
			return txh
		}
		txh = u.Unwrap()
	}
}

// ConsistencyOf returns the consistency level of txh, treating a nil handle as default.
func ConsistencyOf(txh StoreTransaction) ConsistencyLevel {
	if txh == nil {
		return ConsistencyDefault
	}
	return txh.Config().Consistency
}

// MetricsPrefixOf returns the metrics prefix of txh, empty for a nil handle.
func MetricsPrefixOf(txh StoreTransaction) string {
	if txh == nil {
		return ""
	}
	return txh.Config().MetricsPrefix
}
