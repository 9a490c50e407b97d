package litedb

import (
	"fmt"
	"testing"
	"time"
)

// quietOpts returns options whose background workers tick far too slowly to
// interfere with a test that drives flushes and compactions by hand.
func quietOpts() Options {
	o := ForTest()
	o.MemTableControllerPolicy.SizeTiered = SizeTieredMemTableConfig{MaxEntries: 1 << 20, MaxSizeBytes: 1 << 30}
	o.MemTableControllerInterval = time.Hour
	o.CompactorInterval = time.Hour
	return o
}

func TestCompactorMergesTablesAndPreservesReads(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, quietOpts())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	for i := 0; i < 50; i++ {
		k := []byte(fmt.Sprintf("k_%03d", i))
		if err := db.Set(k, []byte(fmt.Sprintf("v1_%03d", i))); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// Overwrite the first half and delete a key, in a second table.
	for i := 0; i < 25; i++ {
		k := []byte(fmt.Sprintf("k_%03d", i))
		if err := db.Set(k, []byte(fmt.Sprintf("v2_%03d", i))); err != nil {
			t.Fatalf("overwrite: %v", err)
		}
	}
	if err := db.Delete([]byte("k_040")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	db.mu.RLock()
	tables := len(db.sstables)
	db.mu.RUnlock()
	if tables != 2 {
		t.Fatalf("got %d sstables before compaction, want 2", tables)
	}

	db.compactor.evaluateOnce()

	db.mu.RLock()
	tables = len(db.sstables)
	db.mu.RUnlock()
	if tables != 1 {
		t.Fatalf("got %d sstables after compaction, want 1", tables)
	}

	for i := 0; i < 50; i++ {
		k := []byte(fmt.Sprintf("k_%03d", i))
		got, ok, err := db.Get(k)
		if err != nil {
			t.Fatalf("get %s: %v", k, err)
		}
		if i == 40 {
			if ok {
				t.Fatalf("key %s: expected deleted, got %q", k, got)
			}
			continue
		}
		var want string
		if i < 25 {
			want = fmt.Sprintf("v2_%03d", i)
		} else {
			want = fmt.Sprintf("v1_%03d", i)
		}
		if !ok || string(got) != want {
			t.Fatalf("key %s: got (%q,%v), want %q", k, got, ok, want)
		}
	}
}

func TestCompactorIsIdempotentOnOptimalSet(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, quietOpts())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	for i := 0; i < 30; i++ {
		k := []byte(fmt.Sprintf("k_%03d", i))
		if err := db.Set(k, k); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// One table is below the policy's MinTables threshold; evaluateOnce must
	// leave the set alone and every read must keep returning the same value.
	db.compactor.evaluateOnce()

	db.mu.RLock()
	tables := len(db.sstables)
	db.mu.RUnlock()
	if tables != 1 {
		t.Fatalf("got %d sstables, want 1 (already-optimal set must not change)", tables)
	}
	for i := 0; i < 30; i++ {
		k := []byte(fmt.Sprintf("k_%03d", i))
		got, ok, err := db.Get(k)
		if err != nil || !ok || string(got) != string(k) {
			t.Fatalf("key %s: got (%q,%v,%v)", k, got, ok, err)
		}
	}
}

func TestCompactPreservesTombstonesWhenGroupExcludesOldest(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, quietOpts())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := db.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := db.Delete([]byte("a")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := db.Set([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// Rewrite only the newest table. The tombstone for "a" must survive,
	// since the oldest table still holds the shadowed value.
	db.mu.RLock()
	group := []*SSTable{db.sstables[len(db.sstables)-1]}
	db.mu.RUnlock()
	if err := db.compactor.compact(group, false); err != nil {
		t.Fatalf("compact: %v", err)
	}

	if _, ok, err := db.Get([]byte("a")); err != nil || ok {
		t.Fatalf("expected a to stay deleted, got ok=%v err=%v", ok, err)
	}
	if got, ok, err := db.Get([]byte("b")); err != nil || !ok || string(got) != "2" {
		t.Fatalf("key b: got (%q,%v,%v)", got, ok, err)
	}
}
