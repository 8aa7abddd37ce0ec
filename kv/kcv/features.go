package kcv

import (
	"fmt"
	"strings"
)

// StoreFeatures describes what a backend supports.
type StoreFeatures struct {
	OrderedScan       bool
	UnorderedScan     bool
	MultiQuery        bool
	Locking           bool
	BatchMutation     bool
	LocalKeyPartition bool
	KeyOrdered        bool
	KeyConsistent     bool
	Persists          bool
	CellTTL           bool
	Transactional     bool
	Distributed       bool
}

func (f StoreFeatures) HasScan() bool {
	return f.OrderedScan || f.UnorderedScan
}

func (f StoreFeatures) String() string {
	var on []string
	add := func(name string, v bool) {
		if v {
			on = append(on, name)
		}
	}
	add("ordered-scan", f.OrderedScan)
	add("unordered-scan", f.UnorderedScan)
	add("multi-query", f.MultiQuery)
	add("locking", f.Locking)
	add("batch-mutation", f.BatchMutation)
	add("local-key-partition", f.LocalKeyPartition)
	add("key-ordered", f.KeyOrdered)
	add("key-consistent", f.KeyConsistent)
	add("persists", f.Persists)
	add("cell-ttl", f.CellTTL)
	add("transactional", f.Transactional)
	add("distributed", f.Distributed)
	return fmt.Sprintf("[%s]", strings.Join(on, " "))
}
