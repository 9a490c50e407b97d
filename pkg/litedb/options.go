package litedb

import "time"

// MemTableControllerPolicyConfig selects and parameterizes the policy the
// memtable controller uses to decide when the current memtable is mature
// enough to flush. SizeTiered is the only variant implemented, matching
// the original implementation's own policy surface.
type MemTableControllerPolicyConfig struct {
	SizeTiered SizeTieredMemTableConfig
}

// SizeTieredMemTableConfig flushes a memtable once it holds at least
// MaxEntries keys or at least MaxSizeBytes of estimated size.
type SizeTieredMemTableConfig struct {
	MaxEntries   int
	MaxSizeBytes int64
}

// CompactorPolicyConfig selects the compaction policy. SizeTiered is the
// only variant implemented.
type CompactorPolicyConfig struct {
	SizeTiered SizeTieredCompactionConfig
}

// SizeTieredCompactionConfig merges every current SSTable into one new
// table once their count reaches MinTables.
type SizeTieredCompactionConfig struct {
	MinTables int
}

// Options configures an Engine. Construct with Default or ForTest rather
// than a bare literal, so new fields get sane values.
type Options struct {
	BloomFilterBytesPerTable int
	BloomFilterExpectedItems int
	// SparseIndexRangeSize sets where sparse index anchors go in an SSTable's
	// data region: on the first record and on every record whose starting
	// byte offset is an exact multiple of this size. No other anchors are
	// placed, so when records do not start on such multiples, consecutive
	// anchors can lie much more than this many bytes apart.
	SparseIndexRangeSize int

	MemTableControllerPolicy   MemTableControllerPolicyConfig
	MemTableControllerInterval time.Duration
	CompactorPolicy            CompactorPolicyConfig
	CompactorInterval          time.Duration
}

// Default returns production-sized options: a 3MB Bloom filter bitmap per
// table, a sparse index range size of 1000 bytes, and a
// memtable that flushes at 500k entries or 3MB.
func Default() Options {
	return Options{
		BloomFilterBytesPerTable: 3_000_000,
		BloomFilterExpectedItems: 100_000_000,
		SparseIndexRangeSize:     1_000,
		MemTableControllerPolicy: MemTableControllerPolicyConfig{
			SizeTiered: SizeTieredMemTableConfig{MaxEntries: 500_000, MaxSizeBytes: 3_000_000},
		},
		MemTableControllerInterval: 3 * time.Second,
		CompactorPolicy: CompactorPolicyConfig{
			SizeTiered: SizeTieredCompactionConfig{MinTables: 4},
		},
		CompactorInterval: 10 * time.Minute,
	}
}

// ForTest returns options sized for fast, deterministic tests: a tight
// sparse index, a memtable that flushes after a handful of entries, and
// controller/compactor loops that tick fast enough for a test to observe
// without waiting minutes.
func ForTest() Options {
	o := Default()
	o.SparseIndexRangeSize = 40
	o.MemTableControllerPolicy.SizeTiered = SizeTieredMemTableConfig{MaxEntries: 8, MaxSizeBytes: 4096}
	o.MemTableControllerInterval = 20 * time.Millisecond
	o.CompactorPolicy.SizeTiered = SizeTieredCompactionConfig{MinTables: 2}
	o.CompactorInterval = 20 * time.Millisecond
	return o
}
