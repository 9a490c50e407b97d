package litedb

import (
	"log"
	"time"
)

// memTableControllerPolicy decides whether a memtable has grown mature
// enough to flush, and how often the controller should check.
type memTableControllerPolicy interface {
	isMature(mt *MemTable) bool
	schedule() time.Duration
}

type sizeTieredMemTablePolicy struct {
	cfg      SizeTieredMemTableConfig
	interval time.Duration
}

func (p sizeTieredMemTablePolicy) isMature(mt *MemTable) bool {
	return mt.Entries() >= p.cfg.MaxEntries || mt.SizeBytes() >= p.cfg.MaxSizeBytes
}

func (p sizeTieredMemTablePolicy) schedule() time.Duration { return p.interval }

// memTableController is the background worker that rotates the engine's
// current memtable out once it matures, flushing it to an SSTable and
// opening a fresh one in its place (spec.md §6.1, §7). Shaped like the
// original implementation's controller: a ticker, a bounded kill channel,
// and a select loop, generalized so the policy is pluggable.
type memTableController struct {
	engine *Engine
	policy memTableControllerPolicy
	kill   chan struct{}
	done   chan struct{}
}

func startMemTableController(e *Engine) *memTableController {
	c := &memTableController{
		engine: e,
		policy: sizeTieredMemTablePolicy{cfg: e.opts.MemTableControllerPolicy.SizeTiered, interval: e.opts.MemTableControllerInterval},
		kill:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *memTableController) run() {
	defer close(c.done)
	ticker := time.NewTicker(c.policy.schedule())
	defer ticker.Stop()
	for {
		select {
		case <-c.kill:
			return
		case <-ticker.C:
			c.evaluateOnce()
		}
	}
}

func (c *memTableController) evaluateOnce() {
	current := c.engine.current()
	if !c.policy.isMature(current) {
		return
	}

	newID := c.engine.newID()
	newMT, err := NewMemTable(c.engine.dir, newID)
	if err != nil {
		log.Printf("litedb: memtable controller: open memtable %d: %v", newID, err)
		return
	}

	c.engine.mu.Lock()
	c.engine.memtables = append(c.engine.memtables, newMT)
	c.engine.mu.Unlock()

	// An error here leaves `current` in the memtable list behind the new
	// current memtable, where it still answers reads. Later ticks check only
	// the newest memtable, so it is not flushed again while the engine runs;
	// Open's recovery deals with it on the next start.
	if err := c.engine.flushMemTable(current); err != nil {
		log.Printf("litedb: memtable controller: flush memtable %d: %v", current.ID(), err)
	}
}

func (c *memTableController) stop() {
	close(c.kill)
	<-c.done
}
