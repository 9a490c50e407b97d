package litedb

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	walFileExt     = ".log"
	sstableFileExt = ".sst"
)

// Engine is the embedded, ordered key-value store (spec.md §1, §4.1). All
// writes land in the current memtable's WAL before they're visible; the
// memtable controller and the compactor run as background goroutines that
// flush and merge tables under the engine's publisher so readers never see
// a half-updated table set.
type Engine struct {
	dir  string
	opts Options
	pub  *publisher

	mu        sync.RWMutex
	memtables []*MemTable // ascending id; last is current (newest)
	sstables  []*SSTable  // ascending id; last is newest

	nextID int64 // atomic

	controller *memTableController
	compactor  *compactor

	closed int32 // atomic bool
}

// Open opens (creating if absent) the database rooted at dir, recovering
// any memtables and SSTables left behind by a prior run, then starts the
// background memtable controller and compactor.
func Open(dir string, opts Options) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("litedb: open: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("litedb: open: %w", err)
	}

	var memtableIDs, sstableIDs []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := parseFileID(e.Name(), walFileExt); ok {
			memtableIDs = append(memtableIDs, id)
		}
		if id, ok := parseFileID(e.Name(), sstableFileExt); ok {
			sstableIDs = append(sstableIDs, id)
		}
	}

	// A WAL whose id already has an SSTable is a leftover from a crash
	// between publishing the flushed table and removing the log; its
	// contents are already durable in the table, so the log is dropped
	// rather than replayed into a memtable that would re-flush over the
	// published file.
	flushed := make(map[uint64]bool, len(sstableIDs))
	for _, id := range sstableIDs {
		flushed[id] = true
	}
	live := memtableIDs[:0]
	for _, id := range memtableIDs {
		if flushed[id] {
			if err := os.Remove(walPath(dir, id)); err != nil {
				return nil, fmt.Errorf("litedb: open: %w", err)
			}
			continue
		}
		live = append(live, id)
	}
	memtableIDs = live
	sort.Slice(memtableIDs, func(i, j int) bool { return memtableIDs[i] < memtableIDs[j] })
	sort.Slice(sstableIDs, func(i, j int) bool { return sstableIDs[i] < sstableIDs[j] })

	e := &Engine{dir: dir, opts: opts, pub: &publisher{}}

	for _, id := range sstableIDs {
		t, err := OpenSSTable(sstablePath(dir, id), id)
		if err != nil {
			return nil, err
		}
		e.sstables = append(e.sstables, t)
	}

	var maxID uint64
	for _, id := range sstableIDs {
		if id > maxID {
			maxID = id
		}
	}

	// A fresh directory starts at memtable id 0; a directory that has
	// SSTables but lost its WAL gets a memtable newer than every table so
	// recency ordering by id stays intact.
	if len(memtableIDs) == 0 {
		if len(sstableIDs) == 0 {
			memtableIDs = []uint64{0}
		} else {
			memtableIDs = []uint64{maxID + 1}
		}
	}
	for _, id := range memtableIDs {
		if id > maxID {
			maxID = id
		}
		mt, err := recoverMemTable(dir, id)
		if err != nil {
			return nil, err
		}
		e.memtables = append(e.memtables, mt)
	}

	// Every recovered memtable except the newest represents one that was
	// rotated out but never finished flushing before a crash; flush them now
	// so there's a single current memtable going forward. An empty one has
	// nothing worth a table file and just sheds its WAL.
	for len(e.memtables) > 1 {
		mt := e.memtables[0]
		if mt.Entries() == 0 {
			if err := mt.Close(); err != nil {
				return nil, err
			}
			if err := mt.wal.Remove(); err != nil {
				return nil, err
			}
			e.memtables = e.memtables[1:]
			continue
		}
		if err := e.flushMemTable(mt); err != nil {
			return nil, err
		}
	}

	atomic.StoreInt64(&e.nextID, int64(maxID)+1)

	e.controller = startMemTableController(e)
	e.compactor = startCompactor(e)

	return e, nil
}

// recoverMemTable replays the WAL for id into a fresh in-memory memtable.
// The log is trimmed to its whole-record prefix before the memtable reopens
// it for appending, so post-recovery writes extend the same record stream a
// future replay will read.
func recoverMemTable(dir string, id uint64) (*MemTable, error) {
	var replayed []WALEntry
	valid, err := replayPrefix(dir, id, func(e WALEntry) error {
		replayed = append(replayed, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := trimWAL(dir, id, valid); err != nil {
		return nil, err
	}
	mt, err := NewMemTable(dir, id)
	if err != nil {
		return nil, err
	}
	for _, e := range replayed {
		mt.restore(e.Key, e.Value, e.Tombstone)
	}
	return mt, nil
}

func parseFileID(name, ext string) (uint64, bool) {
	if !strings.HasSuffix(name, ext) {
		return 0, false
	}
	stem := strings.TrimSuffix(name, ext)
	id, err := strconv.ParseUint(stem, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Path returns the directory the engine was opened on.
func (e *Engine) Path() string { return e.dir }

// Options returns the options the engine was opened with.
func (e *Engine) Options() Options { return e.opts }

func (e *Engine) newID() uint64 {
	return uint64(atomic.AddInt64(&e.nextID, 1) - 1)
}

// current returns the memtable currently accepting writes: the one with
// the highest id (spec.md §9 — fixes the ordering ambiguity in favor of an
// explicit, unambiguous "most recent" accessor).
func (e *Engine) current() *MemTable {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.memtables[len(e.memtables)-1]
}

// Set writes key=value, durable once this call returns.
func (e *Engine) Set(key, value []byte) error {
	if atomic.LoadInt32(&e.closed) != 0 {
		return ErrClosed
	}
	return e.current().Set(key, value)
}

// Delete removes key. A subsequent Get returns ok=false.
func (e *Engine) Delete(key []byte) error {
	if atomic.LoadInt32(&e.closed) != 0 {
		return ErrClosed
	}
	return e.current().Delete(key)
}

// ApplyBatch applies every staged operation in batch against the current
// memtable.
func (e *Engine) ApplyBatch(batch *BatchOperations) error {
	if atomic.LoadInt32(&e.closed) != 0 {
		return ErrClosed
	}
	return e.current().ApplyBatch(batch)
}

// Get looks up key, probing memtables newest-first and then SSTables
// newest-first, stopping at the first hit — including a tombstone, which
// reports ok=false just like a key that was never written.
func (e *Engine) Get(key []byte) (value []byte, ok bool, err error) {
	if atomic.LoadInt32(&e.closed) != 0 {
		return nil, false, ErrClosed
	}
	e.mu.RLock()
	memtables := append([]*MemTable(nil), e.memtables...)
	sstables := append([]*SSTable(nil), e.sstables...)
	e.mu.RUnlock()

	for i := len(memtables) - 1; i >= 0; i-- {
		if v, tomb, found := memtables[i].Get(key); found {
			if tomb {
				return nil, false, nil
			}
			return v, true, nil
		}
	}
	for i := len(sstables) - 1; i >= 0; i-- {
		v, tomb, found, err := sstables[i].Get(key)
		if err != nil {
			return nil, false, err
		}
		if found {
			if tomb {
				return nil, false, nil
			}
			return v, true, nil
		}
	}
	return nil, false, nil
}

// KV is one entry yielded by Scan.
type KV struct {
	Key   []byte
	Value []byte
}

// Scan returns every live key in [start, end) in ascending order, newest
// value winning for keys written more than once. A nil start or end means
// unbounded on that side.
func (e *Engine) Scan(start, end []byte) ([]KV, error) {
	if atomic.LoadInt32(&e.closed) != 0 {
		return nil, ErrClosed
	}
	e.mu.RLock()
	sources := make([]entrySource, 0, len(e.sstables)+len(e.memtables))
	for _, t := range e.sstables {
		sources = append(sources, t.SourceRange(start, end))
	}
	for _, mt := range e.memtables {
		sources = append(sources, mt.SourceRange(start, end))
	}
	e.mu.RUnlock()

	mi, err := NewMergingIterator(sources, false)
	if err != nil {
		return nil, err
	}

	var out []KV
	for {
		k, v, _, ok, err := mi.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, KV{Key: k, Value: v})
	}
	return out, nil
}

// FlushWAL force-flushes the current memtable's WAL buffer to disk. Set and
// Delete already flush per record, so this matters mainly as an explicit
// durability point after lower-level writes.
func (e *Engine) FlushWAL() error {
	if atomic.LoadInt32(&e.closed) != 0 {
		return ErrClosed
	}
	return e.current().FlushWAL()
}

// Flush rotates the current memtable out and writes it to an SSTable
// immediately, regardless of the memtable controller's policy. Useful for
// tests and for an operator wanting an on-disk checkpoint without waiting
// for the controller's next tick.
func (e *Engine) Flush() error {
	if atomic.LoadInt32(&e.closed) != 0 {
		return ErrClosed
	}
	current := e.current()
	if current.Entries() == 0 {
		return nil
	}

	newID := e.newID()
	newMT, err := NewMemTable(e.dir, newID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.memtables = append(e.memtables, newMT)
	e.mu.Unlock()

	return e.flushMemTable(current)
}

// flushMemTable seals mt, writes its SSTable, and atomically swaps it out
// of the memtable list for the new table in the SSTable list.
func (e *Engine) flushMemTable(mt *MemTable) error {
	if err := mt.Seal(); err != nil {
		return err
	}
	table, err := mt.Save(e.dir, mt.ID(), e.opts)
	if err != nil {
		return err
	}
	e.pub.Publish(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, cur := range e.memtables {
			if cur == mt {
				e.memtables = append(e.memtables[:i], e.memtables[i+1:]...)
				break
			}
		}
		e.sstables = append(e.sstables, table)
	})
	return nil
}

// Close stops the background workers and releases every open file handle.
// Further operations return ErrClosed.
func (e *Engine) Close() error {
	if !atomic.CompareAndSwapInt32(&e.closed, 0, 1) {
		return nil
	}
	e.controller.stop()
	e.compactor.stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, mt := range e.memtables {
		if err := mt.Close(); err != nil {
			return err
		}
	}
	for _, t := range e.sstables {
		if err := t.Close(); err != nil {
			return err
		}
	}
	return nil
}
