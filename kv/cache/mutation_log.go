package cache

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/pingcap/errors"
)

// The mutation log is a sequence of uvarints and length prefixed byte strings:
//
//	numStores { storeName numKeys { key numAdditions { column value ttl } numDeletions { column } } }

// maxLogField bounds a single length prefixed field of a mutation log.
const maxLogField = 1 << 30

// LogMutations writes every buffered mutation to w so it can be replayed with ReadMutationLog. It fails under
// continuous persistence, where part of the transaction may already have been persisted.
func (t *CacheTransaction) LogMutations(w io.Writer) error {
	if t.conf.ContinuousPersistence {
		return errors.Annotate(kcv.ErrUnsupported, "cannot log mutations with continuous persistence enabled")
	}
	buf := binary.AppendUvarint(nil, uint64(len(t.stores)))
	for _, pending := range t.stores {
		buf = appendField(buf, pending.cache.Name())
		buf = binary.AppendUvarint(buf, uint64(len(pending.keys)))
		for _, key := range pending.keys {
			m := pending.mutations[key]
			buf = appendField(buf, key.Raw())
			buf = binary.AppendUvarint(buf, uint64(len(m.Additions())))
			for _, e := range m.Additions() {
				buf = appendField(buf, e.Column.Raw())
				buf = appendField(buf, e.Value.Raw())
				buf = binary.AppendUvarint(buf, uint64(e.TTL))
			}
			buf = binary.AppendUvarint(buf, uint64(len(m.Deletions())))
			for _, col := range m.Deletions() {
				buf = appendField(buf, col.Raw())
			}
		}
	}
	_, err := w.Write(buf)
	return errors.Trace(err)
}

func appendField(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

type logReader struct {
	r *bufio.Reader
}

func (l *logReader) uvarint() (uint64, error) {
	v, err := binary.ReadUvarint(l.r)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return v, errors.Trace(err)
}

func (l *logReader) field() (kcv.StaticBuffer, error) {
	n, err := l.uvarint()
	if err != nil {
		return kcv.StaticBuffer{}, err
	}
	if n > maxLogField {
		return kcv.StaticBuffer{}, errors.Errorf("mutation log field of %d bytes is too large", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(l.r, b); err != nil {
		return kcv.StaticBuffer{}, errors.Trace(err)
	}
	return kcv.StringBuffer(string(b)), nil
}

// ReadMutationLog decodes a log written by LogMutations into a batch for kcv.StoreManager.MutateMany.
func ReadMutationLog(r io.Reader) (map[string]map[kcv.StaticBuffer]*kcv.KCVMutation, error) {
	l := &logReader{r: bufio.NewReader(r)}
	numStores, err := l.uvarint()
	if err != nil {
		return nil, err
	}
	batch := make(map[string]map[kcv.StaticBuffer]*kcv.KCVMutation)
	for i := uint64(0); i < numStores; i++ {
		name, err := l.field()
		if err != nil {
			return nil, err
		}
		numKeys, err := l.uvarint()
		if err != nil {
			return nil, err
		}
		byKey := make(map[kcv.StaticBuffer]*kcv.KCVMutation)
		for j := uint64(0); j < numKeys; j++ {
			key, m, err := l.mutation()
			if err != nil {
				return nil, errors.Annotatef(err, "store %s", name.Raw())
			}
			byKey[key] = m
		}
		batch[name.Raw()] = byKey
	}
	return batch, nil
}

func (l *logReader) mutation() (kcv.StaticBuffer, *kcv.KCVMutation, error) {
	key, err := l.field()
	if err != nil {
		return key, nil, err
	}
	numAdds, err := l.uvarint()
	if err != nil {
		return key, nil, err
	}
	var additions []kcv.Entry
	for i := uint64(0); i < numAdds; i++ {
		col, err := l.field()
		if err != nil {
			return key, nil, err
		}
		val, err := l.field()
		if err != nil {
			return key, nil, err
		}
		ttl, err := l.uvarint()
		if err != nil {
			return key, nil, err
		}
		additions = append(additions, kcv.Entry{Column: col, Value: val, TTL: uint32(ttl)})
	}
	numDels, err := l.uvarint()
	if err != nil {
		return key, nil, err
	}
	var deletions []kcv.StaticBuffer
	for i := uint64(0); i < numDels; i++ {
		col, err := l.field()
		if err != nil {
			return key, nil, err
		}
		deletions = append(deletions, col)
	}
	return key, kcv.NewKCVMutation(additions, deletions), nil
}
