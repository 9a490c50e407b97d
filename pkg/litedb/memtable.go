package litedb

import (
	"bytes"
	"sort"
	"sync"
	"sync/atomic"
)

// MemTable is the current, mutable, in-memory view of the keyspace. Every
// write lands here first (and in its WAL) before anything is flushed to an
// SSTable (spec.md §4.2).
type MemTable struct {
	id  uint64
	dir string
	wal *WAL

	mu sync.RWMutex
	sl *skipList

	sizeBytes int64 // atomic; see note on Set below
	sealed    bool
}

// NewMemTable creates memtable id, opening (or reopening) its WAL in dir.
func NewMemTable(dir string, id uint64) (*MemTable, error) {
	wal, err := OpenWAL(dir, id)
	if err != nil {
		return nil, err
	}
	return &MemTable{id: id, dir: dir, wal: wal, sl: newSkipList()}, nil
}

// ID returns the memtable's identifier, which doubles as its WAL file id
// and determines recency ordering among memtables (higher id is newer).
func (mt *MemTable) ID() uint64 { return mt.id }

// Set records key=value, durable once this call returns.
func (mt *MemTable) Set(key, value []byte) error {
	if err := mt.wal.Append(key, value, false); err != nil {
		return err
	}
	mt.mu.Lock()
	mt.sl.Set(key, skipListValue{value: value})
	mt.mu.Unlock()
	// size_bytes is a policy input, not an exact byte count: it grows by
	// key.len + value.len on every write, including overwrites of an
	// existing key, rather than tracking the old entry's size to subtract
	// first.
	atomic.AddInt64(&mt.sizeBytes, int64(len(key)+len(value)))
	return nil
}

// Delete records a tombstone for key.
func (mt *MemTable) Delete(key []byte) error {
	if err := mt.wal.Append(key, nil, true); err != nil {
		return err
	}
	mt.mu.Lock()
	mt.sl.Set(key, skipListValue{tombstone: true})
	mt.mu.Unlock()
	atomic.AddInt64(&mt.sizeBytes, int64(len(key)))
	return nil
}

// ApplyBatch writes every staged operation to the WAL as a single
// fsync'd append group, then inserts all of them into the in-memory map
// (spec.md §4.2: "writes every record then flushes once", unlike Set/Delete
// which each flush and fsync individually).
func (mt *MemTable) ApplyBatch(batch *BatchOperations) error {
	entries := make([]WALEntry, len(batch.ops))
	for i, op := range batch.ops {
		entries[i] = WALEntry{Key: op.key, Value: op.value, Tombstone: op.tombstone}
	}
	if err := mt.wal.AppendBatch(entries); err != nil {
		return err
	}

	mt.mu.Lock()
	for _, op := range batch.ops {
		if op.tombstone {
			mt.sl.Set(op.key, skipListValue{tombstone: true})
		} else {
			mt.sl.Set(op.key, skipListValue{value: op.value})
		}
	}
	mt.mu.Unlock()

	var delta int64
	for _, op := range batch.ops {
		delta += int64(len(op.key) + len(op.value))
	}
	atomic.AddInt64(&mt.sizeBytes, delta)
	return nil
}

// Get looks up key. ok is false if the key has never been written to this
// memtable; tombstone is true if the most recent write here was a delete.
func (mt *MemTable) Get(key []byte) (value []byte, tombstone bool, ok bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	v, found := mt.sl.Get(key)
	if !found {
		return nil, false, false
	}
	return v.value, v.tombstone, true
}

// restore inserts a replayed WAL entry directly into the skip list without
// re-appending to the WAL, used to rebuild a memtable's state on recovery.
func (mt *MemTable) restore(key, value []byte, tombstone bool) {
	mt.mu.Lock()
	if tombstone {
		mt.sl.Set(key, skipListValue{tombstone: true})
	} else {
		mt.sl.Set(key, skipListValue{value: value})
	}
	mt.mu.Unlock()
	atomic.AddInt64(&mt.sizeBytes, int64(len(key)+len(value)))
}

// Entries returns the number of distinct keys held, tombstones included.
func (mt *MemTable) Entries() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.sl.Size()
}

// SizeBytes returns the running size-accounting counter used by the
// memtable controller's maturity policy.
func (mt *MemTable) SizeBytes() int64 {
	return atomic.LoadInt64(&mt.sizeBytes)
}

// All returns every entry in ascending key order, the feed a flush or a
// scan iterator reads from.
func (mt *MemTable) All() []skipListEntry {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.sl.All()
}

// Source returns an entrySource over a snapshot of the memtable's current
// contents, for merging scans and flushes.
func (mt *MemTable) Source() entrySource {
	return &sliceSource{entries: mt.All()}
}

// SourceRange returns an entrySource over a snapshot of the entries in
// [from, to), with a nil bound meaning unbounded on that side.
func (mt *MemTable) SourceRange(from, to []byte) entrySource {
	all := mt.All()
	lo := 0
	if from != nil {
		lo = sort.Search(len(all), func(i int) bool { return bytes.Compare(all[i].Key, from) >= 0 })
	}
	hi := len(all)
	if to != nil {
		hi = sort.Search(len(all), func(i int) bool { return bytes.Compare(all[i].Key, to) >= 0 })
	}
	if lo > hi {
		lo = hi
	}
	return &sliceSource{entries: all[lo:hi]}
}

// FlushWAL drains the WAL's write buffer to disk without rotating or
// sealing the memtable.
func (mt *MemTable) FlushWAL() error {
	return mt.wal.Flush()
}

// Seal marks the memtable immutable and writes its WAL's end-of-stream
// sentinel. A sealed memtable still answers reads; it just never accepts
// another write.
func (mt *MemTable) Seal() error {
	mt.mu.Lock()
	mt.sealed = true
	mt.mu.Unlock()
	return mt.wal.Seal()
}

// Sealed reports whether Seal has been called.
func (mt *MemTable) Sealed() bool {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.sealed
}

// Save flushes the memtable's contents into a new SSTable on disk, then
// removes the WAL that backed it, mirroring the original implementation's
// flush protocol: data durable in the SSTable before the log it superseded
// is discarded.
func (mt *MemTable) Save(dir string, id uint64, opts Options) (*SSTable, error) {
	entries := mt.All()
	table, err := WriteSSTable(dir, id, entries, mt.SizeBytes(), opts)
	if err != nil {
		return nil, err
	}
	if err := mt.wal.Close(); err != nil {
		return nil, err
	}
	if err := mt.wal.Remove(); err != nil {
		return nil, err
	}
	return table, nil
}

// Close releases the WAL file handle without removing it.
func (mt *MemTable) Close() error {
	return mt.wal.Close()
}
