package litedb

import (
	"bytes"
	"container/heap"
)

// entrySource yields entries in ascending key order, one at a time. Both
// a memtable snapshot and an SSTable's data region satisfy it, which lets
// the merging iterator treat them uniformly.
type entrySource interface {
	next() (key, value []byte, tombstone bool, ok bool, err error)
}

// sliceSource adapts an in-memory, already-sorted entry slice (a memtable
// snapshot) to entrySource.
type sliceSource struct {
	entries []skipListEntry
	i       int
}

func (s *sliceSource) next() (key, value []byte, tombstone bool, ok bool, err error) {
	if s.i >= len(s.entries) {
		return nil, nil, false, false, nil
	}
	e := s.entries[s.i]
	s.i++
	return e.Key, e.Value.value, e.Value.tombstone, true, nil
}

type mergeItem struct {
	key         []byte
	value       []byte
	tombstone   bool
	sourceIndex int
}

// mergeHeap orders items by key ascending; ties go to the higher source
// index, which by convention is the newer source (spec.md §4.5, §9).
type mergeHeap []mergeItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	c := bytes.Compare(h[i].key, h[j].key)
	if c != 0 {
		return c < 0
	}
	return h[i].sourceIndex > h[j].sourceIndex
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(mergeItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MergingIterator produces the newest-wins k-way merge of N ordered
// sources. Sources must be supplied oldest first: source index 0 is the
// oldest, len(sources)-1 the newest (spec.md §4.5).
type MergingIterator struct {
	sources           []entrySource
	h                 mergeHeap
	includeTombstones bool
}

// NewMergingIterator primes the heap with each source's first entry.
func NewMergingIterator(sources []entrySource, includeTombstones bool) (*MergingIterator, error) {
	mi := &MergingIterator{sources: sources, includeTombstones: includeTombstones}
	for i, s := range sources {
		if err := mi.pull(i, s); err != nil {
			return nil, err
		}
	}
	return mi, nil
}

func (mi *MergingIterator) pull(sourceIndex int, s entrySource) error {
	key, value, tombstone, ok, err := s.next()
	if err != nil {
		return err
	}
	if ok {
		heap.Push(&mi.h, mergeItem{key: key, value: value, tombstone: tombstone, sourceIndex: sourceIndex})
	}
	return nil
}

// Next returns the next key in the merged, deduplicated stream. ok is false
// once every source is exhausted. Unless includeTombstones was set, deleted
// keys are skipped rather than surfaced.
func (mi *MergingIterator) Next() (key, value []byte, tombstone bool, ok bool, err error) {
	for mi.h.Len() > 0 {
		winner := heap.Pop(&mi.h).(mergeItem)
		if err := mi.pull(winner.sourceIndex, mi.sources[winner.sourceIndex]); err != nil {
			return nil, nil, false, false, err
		}
		// Older entries for the same key are now superseded; drain and
		// discard them so each key surfaces exactly once.
		for mi.h.Len() > 0 && bytes.Equal(mi.h[0].key, winner.key) {
			dup := heap.Pop(&mi.h).(mergeItem)
			if err := mi.pull(dup.sourceIndex, mi.sources[dup.sourceIndex]); err != nil {
				return nil, nil, false, false, err
			}
		}
		if winner.tombstone && !mi.includeTombstones {
			continue
		}
		return winner.key, winner.value, winner.tombstone, true, nil
	}
	return nil, nil, false, false, nil
}
