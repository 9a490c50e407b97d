package litedb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"golang.org/x/exp/mmap"
)

// SSTable is an immutable, sorted, on-disk run of entries produced by
// flushing a memtable or by compacting older SSTables together (spec.md
// §4.3). Reads go through a memory-mapped file: the data region, metadata,
// sparse index, and Bloom filter are all resolved via ReadAt rather than
// buffered I/O, following the mmap-backed reader this corpus's other LSM
// stores use (see DESIGN.md).
//
// File layout, in order: data region (sorted entries) | SSTableMetadata |
// sparse index | BloomFilterState | 8-byte little-endian trailer holding
// the data region's length.
type SSTable struct {
	id      uint64
	path    string
	ra      *mmap.ReaderAt
	dataEnd int64
	meta    sstableMetadata
	index   sparseIndex
	bloom   *BloomFilter
}

// sstableMetadata is the first trailer blob: the table's identity plus the
// boundary keys of its data region. FirstOffset is always 0; LastOffset is
// the byte offset of the final record's first byte, which bounds how far a
// linear scan from a sparse-index anchor ever needs to walk.
type sstableMetadata struct {
	ID          uint64
	FirstKey    []byte
	FirstOffset int64
	LastKey     []byte
	LastOffset  int64
	TotalSize   int64
	NumEntries  uint64
}

func (m sstableMetadata) Encode(w io.Writer) (int, error) {
	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], m.ID)
	if _, err := w.Write(idBuf[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	n1, err := writeLenPrefixed(w, m.FirstKey)
	if err != nil {
		return 0, err
	}
	n2, err := writeLenPrefixed(w, m.LastKey)
	if err != nil {
		return 0, err
	}
	var fixed [4 * 8]byte
	binary.LittleEndian.PutUint64(fixed[0:8], uint64(m.FirstOffset))
	binary.LittleEndian.PutUint64(fixed[8:16], uint64(m.LastOffset))
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(m.TotalSize))
	binary.LittleEndian.PutUint64(fixed[24:32], m.NumEntries)
	if _, err := w.Write(fixed[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return 8 + n1 + n2 + len(fixed), nil
}

func decodeSSTableMetadataAt(ra *mmap.ReaderAt, offset int64) (sstableMetadata, int, error) {
	var idBuf [8]byte
	if _, err := ra.ReadAt(idBuf[:], offset); err != nil {
		return sstableMetadata{}, 0, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	firstKey, n1, err := readLenPrefixedAt(ra, offset+8)
	if err != nil {
		return sstableMetadata{}, 0, err
	}
	lastKey, n2, err := readLenPrefixedAt(ra, offset+8+int64(n1))
	if err != nil {
		return sstableMetadata{}, 0, err
	}
	var fixed [4 * 8]byte
	if _, err := ra.ReadAt(fixed[:], offset+8+int64(n1)+int64(n2)); err != nil {
		return sstableMetadata{}, 0, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	m := sstableMetadata{
		ID:          binary.LittleEndian.Uint64(idBuf[:]),
		FirstKey:    firstKey,
		FirstOffset: int64(binary.LittleEndian.Uint64(fixed[0:8])),
		LastKey:     lastKey,
		LastOffset:  int64(binary.LittleEndian.Uint64(fixed[8:16])),
		TotalSize:   int64(binary.LittleEndian.Uint64(fixed[16:24])),
		NumEntries:  binary.LittleEndian.Uint64(fixed[24:32]),
	}
	return m, 8 + n1 + n2 + len(fixed), nil
}

type sstableIndexEntry struct {
	Key    []byte
	Offset int64
}

// sparseIndex maps anchor keys (the first record, each record starting at a
// multiple of the sparse index range size, and a terminator for the last
// key) to their byte offsets in the data region, so a lookup scans forward
// from the nearest anchor rather than from the start of the table.
type sparseIndex struct {
	entries []sstableIndexEntry
}

// getOffset returns a data-region offset at or before key's position: the
// partition point of "anchor key < key", minus one, saturated at index 0. A
// linear scan from the returned offset reaches key if the table holds it.
// Strict comparison matters: the terminator anchor shares the last record's
// key but points one past it, and must never be chosen for that key.
func (idx sparseIndex) getOffset(key []byte) int64 {
	entries := idx.entries
	i := sort.Search(len(entries), func(i int) bool {
		return bytes.Compare(entries[i].Key, key) >= 0
	})
	if i == 0 {
		return 0
	}
	return entries[i-1].Offset
}

func (idx sparseIndex) Encode(w io.Writer) (int, error) {
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(idx.entries)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	n := 4
	for _, e := range idx.entries {
		kn, err := writeLenPrefixed(w, e.Key)
		if err != nil {
			return 0, err
		}
		var offBuf [8]byte
		binary.LittleEndian.PutUint64(offBuf[:], uint64(e.Offset))
		if _, err := w.Write(offBuf[:]); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrEncoding, err)
		}
		n += kn + 8
	}
	return n, nil
}

func decodeSparseIndexAt(ra *mmap.ReaderAt, offset int64) (sparseIndex, int, error) {
	var countBuf [4]byte
	if _, err := ra.ReadAt(countBuf[:], offset); err != nil {
		return sparseIndex{}, 0, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	count := binary.LittleEndian.Uint32(countBuf[:])
	n := 4
	pos := offset + 4
	entries := make([]sstableIndexEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		key, kn, err := readLenPrefixedAt(ra, pos)
		if err != nil {
			return sparseIndex{}, 0, err
		}
		pos += int64(kn)
		var offBuf [8]byte
		if _, err := ra.ReadAt(offBuf[:], pos); err != nil {
			return sparseIndex{}, 0, fmt.Errorf("%w: %v", ErrDecoding, err)
		}
		entries = append(entries, sstableIndexEntry{Key: key, Offset: int64(binary.LittleEndian.Uint64(offBuf[:]))})
		pos += 8
		n += kn + 8
	}
	return sparseIndex{entries: entries}, n, nil
}

func sstablePath(dir string, id uint64) string {
	return fmt.Sprintf("%s/%020d.sst", dir, id)
}

// WriteSSTable writes entries (already in ascending key order, as returned
// by a memtable or a merging compaction) to a new SSTable file and opens it
// for reading. totalSize is the producer's size-accounting counter, carried
// into the metadata verbatim: the memtable's policy counter on a flush, the
// merged payload sum on a compaction. Every key, tombstones included, goes
// into the Bloom filter: a delete must still be found by Get, which
// distinguishes "not present" from "present but deleted" only by reading
// the entry.
func WriteSSTable(dir string, id uint64, entries []skipListEntry, totalSize int64, opts Options) (*SSTable, error) {
	path := sstablePath(dir, id)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("litedb: create sstable: %w", err)
	}

	bloom := NewBloomFilter(opts.BloomFilterBytesPerTable, max(len(entries), 1))
	var index sparseIndex
	var firstKey, lastKey []byte
	var offset, lastRecordLen int64

	rangeSize := int64(opts.SparseIndexRangeSize)
	if rangeSize <= 0 {
		rangeSize = 1
	}

	for i, e := range entries {
		if i == 0 {
			firstKey = append([]byte(nil), e.Key...)
		}
		lastKey = append([]byte(nil), e.Key...)
		bloom.Add(e.Key)

		// An anchor lands on the first record and on every record whose
		// pre-append serialized size is an exact multiple of the range size;
		// the terminator below guarantees at least one anchor at the end.
		if offset == 0 || offset%rangeSize == 0 {
			index.entries = append(index.entries, sstableIndexEntry{Key: append([]byte(nil), e.Key...), Offset: offset})
		}

		n, err := encodeRecord(f, e.Key, e.Value.value, e.Value.tombstone)
		if err != nil {
			f.Close()
			return nil, err
		}
		lastRecordLen = int64(n)
		offset += int64(n)
	}

	dataEnd := offset
	if len(entries) > 0 {
		index.entries = append(index.entries, sstableIndexEntry{Key: append([]byte(nil), lastKey...), Offset: dataEnd})
	}
	meta := sstableMetadata{
		ID:         id,
		FirstKey:   firstKey,
		LastKey:    lastKey,
		LastOffset: dataEnd - lastRecordLen,
		TotalSize:  totalSize,
		NumEntries: uint64(len(entries)),
	}
	if _, err := meta.Encode(f); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := index.Encode(f); err != nil {
		f.Close()
		return nil, err
	}
	bloomState := bloom.State()
	if _, err := bloomState.Encode(f); err != nil {
		f.Close()
		return nil, err
	}

	var trailer [8]byte
	binary.LittleEndian.PutUint64(trailer[:], uint64(dataEnd))
	if _, err := f.Write(trailer[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	return OpenSSTable(path, id)
}

// OpenSSTable memory-maps path and parses its trailer, metadata, sparse
// index, and Bloom filter.
func OpenSSTable(path string, id uint64) (*SSTable, error) {
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("litedb: open sstable: %w", err)
	}

	size := int64(ra.Len())
	if size < 8 {
		ra.Close()
		return nil, fmt.Errorf("litedb: sstable %s: %w", path, ErrCorruptedData)
	}
	var trailer [8]byte
	if _, err := ra.ReadAt(trailer[:], size-8); err != nil {
		ra.Close()
		return nil, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	dataEnd := int64(binary.LittleEndian.Uint64(trailer[:]))

	meta, n1, err := decodeSSTableMetadataAt(ra, dataEnd)
	if err != nil {
		ra.Close()
		return nil, err
	}
	index, n2, err := decodeSparseIndexAt(ra, dataEnd+int64(n1))
	if err != nil {
		ra.Close()
		return nil, err
	}
	bloomState, _, err := DecodeBloomFilterStateAt(ra, dataEnd+int64(n1)+int64(n2))
	if err != nil {
		ra.Close()
		return nil, err
	}

	return &SSTable{
		id:      id,
		path:    path,
		ra:      ra,
		dataEnd: dataEnd,
		meta:    meta,
		index:   index,
		bloom:   FromBloomFilterState(bloomState),
	}, nil
}

// ID returns the SSTable's identifier; higher ids are newer.
func (t *SSTable) ID() uint64 { return t.id }

// Path returns the backing file path.
func (t *SSTable) Path() string { return t.path }

// Entries returns the number of entries the table holds.
func (t *SSTable) Entries() int { return int(t.meta.NumEntries) }

// Get looks up key. found is false if the key was never written to this
// table; tombstone is true if the entry records a delete.
func (t *SSTable) Get(key []byte) (value []byte, tombstone bool, found bool, err error) {
	if !t.bloom.PotentiallyContainsKey(key) {
		return nil, false, false, nil
	}
	if t.meta.NumEntries == 0 ||
		bytes.Compare(key, t.meta.FirstKey) < 0 || bytes.Compare(key, t.meta.LastKey) > 0 {
		return nil, false, false, nil
	}

	offset := t.index.getOffset(key)
	for offset < t.dataEnd {
		k, v, tomb, n, err := decodeRecordAt(t.ra, offset)
		if err != nil {
			return nil, false, false, err
		}
		switch bytes.Compare(k, key) {
		case 0:
			return v, tomb, true, nil
		case 1:
			return nil, false, false, nil
		}
		offset += int64(n)
	}
	return nil, false, false, nil
}

// Source returns an entrySource yielding every entry in ascending key
// order, for merging scans and compaction.
func (t *SSTable) Source() entrySource {
	return &sstableSource{ra: t.ra, end: t.dataEnd}
}

// SourceRange returns an entrySource over the entries in [from, to), with a
// nil bound meaning unbounded on that side. The starting offset comes from
// the sparse index, so the source decodes a bounded window rather than the
// whole data region; keys before from are skipped during iteration and the
// source stops at the first key at or past to.
func (t *SSTable) SourceRange(from, to []byte) entrySource {
	var offset int64
	if from != nil {
		offset = t.index.getOffset(from)
	}
	return &sstableSource{ra: t.ra, offset: offset, end: t.dataEnd, from: from, to: to}
}

// Close unmaps the file.
func (t *SSTable) Close() error {
	return t.ra.Close()
}

// Remove closes and deletes the backing file, used once a table has been
// superseded by a compaction.
func (t *SSTable) Remove() error {
	if err := t.ra.Close(); err != nil {
		return err
	}
	return os.Remove(t.path)
}

type sstableSource struct {
	ra     *mmap.ReaderAt
	offset int64
	end    int64
	from   []byte // skip keys below this bound; nil for unbounded
	to     []byte // stop at the first key at or past this bound; nil for unbounded
}

func (s *sstableSource) next() (key, value []byte, tombstone bool, ok bool, err error) {
	for s.offset < s.end {
		key, value, tombstone, n, err := decodeRecordAt(s.ra, s.offset)
		if err != nil {
			return nil, nil, false, false, err
		}
		s.offset += int64(n)
		if s.from != nil && bytes.Compare(key, s.from) < 0 {
			continue
		}
		if s.to != nil && bytes.Compare(key, s.to) >= 0 {
			s.offset = s.end
			return nil, nil, false, false, nil
		}
		return key, value, tombstone, true, nil
	}
	return nil, nil, false, false, nil
}
