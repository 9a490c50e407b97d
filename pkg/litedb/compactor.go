package litedb

import (
	"log"
	"time"
)

// compactionPolicy evaluates the current SSTable set and returns the groups
// that should each be merged into one new table.
type compactionPolicy interface {
	evaluate(tables []*SSTable) [][]*SSTable
	schedule() time.Duration
}

// sizeTieredCompactionPolicy merges every current SSTable into a single
// new one whenever their count reaches MinTables. Because the group always
// covers every table, it also always covers the oldest generation for
// every key it touches, so tombstones can be dropped rather than carried
// forward — there is no older table left for them to keep masking.
type sizeTieredCompactionPolicy struct {
	cfg      SizeTieredCompactionConfig
	interval time.Duration
}

func (p sizeTieredCompactionPolicy) evaluate(tables []*SSTable) [][]*SSTable {
	if p.cfg.MinTables <= 0 || len(tables) < p.cfg.MinTables {
		return nil
	}
	group := append([]*SSTable(nil), tables...)
	return [][]*SSTable{group}
}

func (p sizeTieredCompactionPolicy) schedule() time.Duration { return p.interval }

// compactor is the background worker that merges SSTables together,
// shaped like the original implementation's compactor: a ticker, a bounded
// kill channel, and a select loop (spec.md §6.1, §7).
type compactor struct {
	engine      *Engine
	policy      compactionPolicy
	nextTableID func() uint64
	kill        chan struct{}
	done        chan struct{}
}

func startCompactor(e *Engine) *compactor {
	c := &compactor{
		engine:      e,
		policy:      sizeTieredCompactionPolicy{cfg: e.opts.CompactorPolicy.SizeTiered, interval: e.opts.CompactorInterval},
		nextTableID: e.newID,
		kill:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *compactor) run() {
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

func (c *compactor) evaluateOnce() {
	c.engine.mu.RLock()
	candidates := append([]*SSTable(nil), c.engine.sstables...)
	c.engine.mu.RUnlock()

	for _, group := range c.policy.evaluate(candidates) {
		// A tombstone can only be discarded when no table older than the
		// group survives it: otherwise a shadowed value outside the group
		// would come back to life once the tombstone is gone.
		dropTombstones := len(group) > 0 && len(candidates) > 0 && group[0] == candidates[0]
		if err := c.compact(group, dropTombstones); err != nil {
			// A failure before the swap leaves the group published, to be
			// reconsidered next tick; a failure removing the replaced tables'
			// files comes after the swap.
			log.Printf("litedb: compactor: merge of %d tables: %v", len(group), err)
			return
		}
	}
}

// compact merges group (oldest first, matching its ascending-id order)
// into one new SSTable and atomically swaps it in for the group it
// replaces.
func (c *compactor) compact(group []*SSTable, dropTombstones bool) error {
	if len(group) == 0 {
		return nil
	}
	sources := make([]entrySource, len(group))
	for i, t := range group {
		sources[i] = t.Source()
	}
	mi, err := NewMergingIterator(sources, true)
	if err != nil {
		return err
	}

	var merged []skipListEntry
	var mergedSize int64
	for {
		k, v, tomb, ok, err := mi.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if tomb && dropTombstones {
			continue
		}
		merged = append(merged, skipListEntry{Key: k, Value: skipListValue{value: v, tombstone: tomb}})
		mergedSize += int64(len(k) + len(v))
	}

	newID := c.nextTableID()
	newTable, err := WriteSSTable(c.engine.dir, newID, merged, mergedSize, c.engine.opts)
	if err != nil {
		return err
	}

	c.engine.pub.Publish(func() {
		c.engine.mu.Lock()
		defer c.engine.mu.Unlock()
		remaining := make([]*SSTable, 0, len(c.engine.sstables))
		grouped := make(map[*SSTable]bool, len(group))
		for _, t := range group {
			grouped[t] = true
		}
		for _, t := range c.engine.sstables {
			if !grouped[t] {
				remaining = append(remaining, t)
			}
		}
		remaining = append(remaining, newTable)
		c.engine.sstables = remaining
	})

	// A reader that fetched the old slice just before the swap above could
	// still be mid-Get against one of these tables; see DESIGN.md for why
	// this engine accepts that window rather than reference-counting readers.
	for _, t := range group {
		if err := t.Remove(); err != nil {
			return err
		}
	}
	return nil
}

func (c *compactor) stop() {
	close(c.kill)
	<-c.done
}
