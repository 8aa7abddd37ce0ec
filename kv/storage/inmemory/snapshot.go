package inmemory

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/juju/ratelimit"
	"github.com/pierrec/lz4"
	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/pingcap-incubator/tinykcv/kv/util"
	"github.com/pingcap-incubator/tinykcv/log"
	"github.com/pingcap/errors"
	"golang.org/x/sync/errgroup"
)

const manifestSuffix = ".manifest"

type row struct {
	key     kcv.StaticBuffer
	entries kcv.EntryList
}

func chunkFileName(store string, i int) string {
	return fmt.Sprintf("%s_%d", store, i)
}

// DumpTo writes the store into dir as up to chunks lz4-compressed files written in parallel, plus a manifest
// holding the checksum of each file.
func (s *Store) DumpTo(dir string, chunks int) error {
	return s.dumpTo(dir, chunks, nil)
}

// dumpTo is DumpTo with the chunk writers sharing limit, if not nil.
func (s *Store) dumpTo(dir string, chunks int, limit *ratelimit.Bucket) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if chunks < 1 {
		chunks = 1
	}
	if err := util.EnsureDir(dir); err != nil {
		return err
	}
	if err := s.removeDump(dir); err != nil {
		return err
	}
	var rows []row
	s.snapshotIndex().Ascend(func(item keyItem) bool {
		if entries := item.columns.Entries(); len(entries) > 0 {
			rows = append(rows, row{key: item.key, entries: entries})
		}
		return true
	})
	if chunks > len(rows) && len(rows) > 0 {
		chunks = len(rows)
	}
	per := (len(rows) + chunks - 1) / chunks

	var g errgroup.Group
	for i := 0; i < chunks; i++ {
		lo, hi := i*per, (i+1)*per
		if lo > len(rows) {
			lo = len(rows)
		}
		if hi > len(rows) {
			hi = len(rows)
		}
		path := filepath.Join(dir, chunkFileName(s.name, i))
		part := rows[lo:hi]
		g.Go(func() error {
			return writeChunk(path, part, limit)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var manifest strings.Builder
	var size uint64
	for i := 0; i < chunks; i++ {
		name := chunkFileName(s.name, i)
		path := filepath.Join(dir, name)
		crc, err := util.CalcCRC32(path)
		if err != nil {
			return err
		}
		n, err := util.GetFileSize(path)
		if err != nil {
			return err
		}
		size += n
		fmt.Fprintf(&manifest, "%s %d\n", name, crc)
	}
	if err := os.WriteFile(filepath.Join(dir, s.name+manifestSuffix), []byte(manifest.String()), 0644); err != nil {
		return errors.WithStack(err)
	}
	log.Infof("dumped %d keys of store %s into %d chunks of %d bytes under %s", len(rows), s.name, chunks, size, dir)
	return nil
}

// removeDump deletes the manifest and chunk files a previous dump of the store left in dir.
func (s *Store) removeDump(dir string) error {
	if _, err := util.DeleteFileIfExists(filepath.Join(dir, s.name+manifestSuffix)); err != nil {
		return err
	}
	prefix := s.name + "_"
	files, err := util.ListFilesWithPrefix(dir, prefix)
	if err != nil {
		return err
	}
	for _, f := range files {
		if _, err := strconv.Atoi(strings.TrimPrefix(f, prefix)); err != nil {
			continue
		}
		if _, err := util.DeleteFileIfExists(filepath.Join(dir, f)); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrom replaces the store contents with a dump written by DumpTo.
func (s *Store) ReadFrom(dir string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	manifestPath := filepath.Join(dir, s.name+manifestSuffix)
	if !util.FileExists(manifestPath) {
		return errors.Annotatef(kcv.ErrInvalidArgument, "no dump of store %s in %s", s.name, dir)
	}
	files, err := readManifest(manifestPath)
	if err != nil {
		return err
	}
	parts := make([][]row, len(files))
	var g errgroup.Group
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			path := filepath.Join(dir, f.name)
			crc, err := util.CalcCRC32(path)
			if err != nil {
				return err
			}
			if crc != f.crc {
				return errors.Errorf("chunk %s is corrupted: checksum %d, expected %d", path, crc, f.crc)
			}
			parts[i], err = readChunk(path)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.clear()
	n := 0
	for _, part := range parts {
		for _, r := range part {
			s.getOrCreate(r.key).Mutate(r.entries, nil)
			n++
		}
	}
	log.Infof("restored %d keys of store %s from %s", n, s.name, dir)
	return nil
}

type manifestEntry struct {
	name string
	crc  uint32
}

func readManifest(path string) ([]manifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var files []manifestEntry
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var f manifestEntry
		if _, err := fmt.Sscanf(line, "%s %d", &f.name, &f.crc); err != nil {
			return nil, errors.Annotatef(err, "malformed manifest line %q", line)
		}
		files = append(files, f)
	}
	return files, nil
}

// Chunk layout, lz4 compressed: per row the key, the entry count, then column, value and ttl of every entry.
// Byte strings are uvarint length prefixed.
func writeChunk(path string, rows []row, limit *ratelimit.Bucket) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = errors.WithStack(cerr)
		}
	}()
	var out io.Writer = f
	if limit != nil {
		out = ratelimit.Writer(f, limit)
	}
	zw := lz4.NewWriter(out)
	w := bufio.NewWriter(zw)
	var scratch [binary.MaxVarintLen64]byte
	putUvarint := func(v uint64) error {
		n := binary.PutUvarint(scratch[:], v)
		_, err := w.Write(scratch[:n])
		return err
	}
	putBuffer := func(b kcv.StaticBuffer) error {
		if err := putUvarint(uint64(b.Len())); err != nil {
			return err
		}
		_, err := w.WriteString(b.Raw())
		return err
	}
	for _, r := range rows {
		if err = putBuffer(r.key); err != nil {
			return errors.WithStack(err)
		}
		if err = putUvarint(uint64(len(r.entries))); err != nil {
			return errors.WithStack(err)
		}
		for _, e := range r.entries {
			if err = putBuffer(e.Column); err != nil {
				return errors.WithStack(err)
			}
			if err = putBuffer(e.Value); err != nil {
				return errors.WithStack(err)
			}
			if err = putUvarint(uint64(e.TTL)); err != nil {
				return errors.WithStack(err)
			}
		}
	}
	if err = w.Flush(); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(zw.Close())
}

func readChunk(path string) ([]row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	r := bufio.NewReader(lz4.NewReader(f))
	readBuffer := func() (kcv.StaticBuffer, error) {
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return kcv.StaticBuffer{}, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return kcv.StaticBuffer{}, err
		}
		return kcv.NewStaticBuffer(b), nil
	}

	var rows []row
	for {
		key, err := readBuffer()
		if err == io.EOF {
			return rows, nil
		} else if err != nil {
			return nil, errors.Annotatef(err, "read key from %s", path)
		}
		count, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, errors.Annotatef(err, "read entry count from %s", path)
		}
		entries := make(kcv.EntryList, 0, count)
		for i := uint64(0); i < count; i++ {
			col, err := readBuffer()
			if err != nil {
				return nil, errors.Annotatef(err, "read column from %s", path)
			}
			val, err := readBuffer()
			if err != nil {
				return nil, errors.Annotatef(err, "read value from %s", path)
			}
			ttl, err := binary.ReadUvarint(r)
			if err != nil {
				return nil, errors.Annotatef(err, "read ttl from %s", path)
			}
			entries = append(entries, kcv.Entry{Column: col, Value: val, TTL: uint32(ttl)})
		}
		rows = append(rows, row{key: key, entries: entries})
	}
}
