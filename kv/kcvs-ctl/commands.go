package main

import (
	"fmt"
	"math"
	"time"

	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/pingcap-incubator/tinykcv/kv/storage/inmemory"
	"github.com/pingcap-incubator/tinykcv/kv/util"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
)

var (
	storeName  string
	keyCount   int
	colCount   int
	valueSize  int
	sliceKey   string
	sliceStart int
	sliceEnd   int
	sliceLimit int
	outputDir  string
	dumpChunks int
)

func inMemoryManager() (*inmemory.StoreManager, error) {
	m, ok := globalBackend.Manager().(*inmemory.StoreManager)
	if !ok {
		return nil, errors.Annotatef(kcv.ErrUnsupported, "snapshots need the in-memory backend, not %s",
			globalBackend.Manager().Name())
	}
	return m, nil
}

func restoreSnapshot(dir string) error {
	if !util.DirExists(dir) {
		return nil
	}
	m, err := inMemoryManager()
	if err != nil {
		return err
	}
	return m.RestoreFrom(dir)
}

func saveSnapshot() error {
	if snapshotDir == "" {
		return nil
	}
	m, err := inMemoryManager()
	if err != nil {
		return err
	}
	return m.DumpTo(snapshotDir, dumpChunks)
}

func columnRange() kcv.SliceQuery {
	q := kcv.NewSliceQuery(kcv.IntBuffer(sliceStart), kcv.IntBuffer(sliceEnd))
	return q.WithLimit(sliceLimit)
}

// formatColumn prints the 4 byte columns written by load as integers and anything else as hex.
func formatColumn(col kcv.StaticBuffer) string {
	if col.Len() != 4 {
		return col.String()
	}
	return fmt.Sprint(col.Uint32At(0))
}

func addSliceFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&sliceStart, "start", 0, "first column, inclusive")
	cmd.Flags().IntVar(&sliceEnd, "end", math.MaxInt32, "last column, exclusive")
	cmd.Flags().IntVar(&sliceLimit, "limit", 0, "maximum number of results, 0 for all")
}

func newLoadCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "load",
		Short: "Write generated rows into a store",
		RunE:  runLoadCommandFunc,
	}
	m.Flags().StringVar(&storeName, "store", "edgestore", "store name")
	m.Flags().IntVar(&keyCount, "keys", 1000, "number of keys")
	m.Flags().IntVar(&colCount, "columns", 10, "columns per key")
	m.Flags().IntVar(&valueSize, "value-size", 16, "value size in bytes")
	m.Flags().IntVar(&dumpChunks, "chunks", 4, "chunk files per store when writing the snapshot")
	return m
}

func generatedValue(key, col int) kcv.StaticBuffer {
	v := make([]byte, valueSize)
	for i := range v {
		v[i] = byte('a' + (key+col+i)%26)
	}
	return kcv.NewStaticBuffer(v)
}

func runLoadCommandFunc(cmd *cobra.Command, args []string) error {
	s, err := globalBackend.OpenStore(storeName)
	if err != nil {
		return err
	}
	tx, err := globalBackend.BeginTransaction(kcv.ConsistencyDefault)
	if err != nil {
		return err
	}
	start := time.Now()
	for k := 0; k < keyCount; k++ {
		additions := make([]kcv.Entry, 0, colCount)
		for c := 0; c < colCount; c++ {
			additions = append(additions, kcv.NewEntry(kcv.IntBuffer(c), generatedValue(k, c)))
		}
		if err := s.Mutate(kcv.StringBuffer(fmt.Sprintf("key-%08d", k)), additions, nil, tx); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	fmt.Printf("Loaded %d keys with %d columns into %s, takes %s\n", keyCount, colCount, storeName, time.Since(start))
	return saveSnapshot()
}

func newSliceCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "slice",
		Short: "Print the columns of one key",
		RunE:  runSliceCommandFunc,
	}
	m.Flags().StringVar(&storeName, "store", "edgestore", "store name")
	m.Flags().StringVar(&sliceKey, "key", "", "row key")
	addSliceFlags(m)
	m.MarkFlagRequired("key")
	return m
}

func runSliceCommandFunc(cmd *cobra.Command, args []string) error {
	s, err := globalBackend.OpenStore(storeName)
	if err != nil {
		return err
	}
	tx, err := globalBackend.BeginTransaction(kcv.ConsistencyDefault)
	if err != nil {
		return err
	}
	defer tx.Commit()
	entries, err := s.GetSlice(kcv.NewKeySliceQuery(kcv.StringBuffer(sliceKey), columnRange()), tx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s\t%q\n", formatColumn(e.Column), e.Value.Raw())
	}
	return nil
}

func newKeysCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "keys",
		Short: "Print the keys holding a column in the range",
		RunE:  runKeysCommandFunc,
	}
	m.Flags().StringVar(&storeName, "store", "edgestore", "store name")
	addSliceFlags(m)
	return m
}

func runKeysCommandFunc(cmd *cobra.Command, args []string) error {
	s, err := globalBackend.OpenStore(storeName)
	if err != nil {
		return err
	}
	tx, err := globalBackend.BeginTransaction(kcv.ConsistencyDefault)
	if err != nil {
		return err
	}
	defer tx.Commit()
	it, err := s.GetKeys(columnRange(), tx)
	if err != nil {
		return err
	}
	defer it.Close()
	n := 0
	for ; it.Valid(); it.Next() {
		fmt.Println(it.Key().Raw())
		n++
	}
	fmt.Printf("%d keys\n", n)
	return nil
}

func newDumpCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "dump",
		Short: "Write every in-memory store into a snapshot directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := inMemoryManager()
			if err != nil {
				return err
			}
			if err := m.DumpTo(outputDir, dumpChunks); err != nil {
				return err
			}
			fmt.Printf("Dumped %v into %s\n", m.StoreNames(), outputDir)
			return nil
		},
	}
	m.Flags().StringVar(&outputDir, "out", "", "snapshot directory")
	m.Flags().IntVar(&dumpChunks, "chunks", 4, "chunk files per store")
	m.MarkFlagRequired("out")
	return m
}

func newRestoreCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "restore",
		Short: "Read a snapshot directory and report its stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := inMemoryManager()
			if err != nil {
				return err
			}
			if err := m.RestoreFrom(outputDir); err != nil {
				return err
			}
			for _, name := range m.StoreNames() {
				s, err := m.OpenDatabase(name)
				if err != nil {
					return err
				}
				it, err := s.GetKeys(kcv.NewSliceQuery(kcv.IntBuffer(0), kcv.IntBuffer(math.MaxInt32)), nil)
				if err != nil {
					return err
				}
				fmt.Printf("%s\t%d keys\n", name, len(kcv.CollectKeys(it)))
			}
			return nil
		},
	}
	m.Flags().StringVar(&outputDir, "from", "", "snapshot directory")
	m.MarkFlagRequired("from")
	return m
}
