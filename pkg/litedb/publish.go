package litedb

import "sync"

// publisher serializes the table-set swaps that flushes and the compactor
// perform: moving a flushed memtable out of the memtable list and its
// SSTable into the table set, and replacing a group of SSTables with their
// compacted output. Every such swap runs inside Publish so a reader never
// observes a half-updated set. Installing a new current memtable is a
// single append under the engine's own lock and does not go through Publish.
type publisher struct {
	mu sync.Mutex
}

// Publish runs fn while holding the publish lock.
func (p *publisher) Publish(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}
