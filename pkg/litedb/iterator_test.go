package litedb

import (
	"bytes"
	"testing"
)

func srcOf(entries ...skipListEntry) entrySource {
	return &sliceSource{entries: entries}
}

func entry(key, value string) skipListEntry {
	return skipListEntry{Key: []byte(key), Value: skipListValue{value: []byte(value)}}
}

func tombstoneEntry(key string) skipListEntry {
	return skipListEntry{Key: []byte(key), Value: skipListValue{tombstone: true}}
}

func drainMerge(t *testing.T, mi *MergingIterator) []KV {
	t.Helper()
	var out []KV
	for {
		k, v, _, ok, err := mi.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		out = append(out, KV{Key: k, Value: v})
	}
	return out
}

func TestMergingIteratorNewerSourceWins(t *testing.T) {
	oldest := srcOf(entry("a", "old-a"), entry("b", "old-b"))
	newest := srcOf(entry("a", "new-a"), entry("c", "new-c"))

	mi, err := NewMergingIterator([]entrySource{oldest, newest}, false)
	if err != nil {
		t.Fatalf("new merging iterator: %v", err)
	}
	got := drainMerge(t, mi)

	want := []KV{
		{Key: []byte("a"), Value: []byte("new-a")},
		{Key: []byte("b"), Value: []byte("old-b")},
		{Key: []byte("c"), Value: []byte("new-c")},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if !bytes.Equal(got[i].Key, want[i].Key) || !bytes.Equal(got[i].Value, want[i].Value) {
			t.Fatalf("entry %d: got (%q,%q), want (%q,%q)", i, got[i].Key, got[i].Value, want[i].Key, want[i].Value)
		}
	}
}

func TestMergingIteratorDropsTombstonesByDefault(t *testing.T) {
	oldest := srcOf(entry("a", "v1"))
	newest := srcOf(tombstoneEntry("a"), entry("b", "v2"))

	mi, err := NewMergingIterator([]entrySource{oldest, newest}, false)
	if err != nil {
		t.Fatalf("new merging iterator: %v", err)
	}
	got := drainMerge(t, mi)

	if len(got) != 1 || string(got[0].Key) != "b" {
		t.Fatalf("expected only key b to survive, got %+v", got)
	}
}

func TestMergingIteratorIncludeTombstones(t *testing.T) {
	src := srcOf(tombstoneEntry("a"), entry("b", "v2"))

	mi, err := NewMergingIterator([]entrySource{src}, true)
	if err != nil {
		t.Fatalf("new merging iterator: %v", err)
	}

	k, _, tomb, ok, err := mi.Next()
	if err != nil || !ok {
		t.Fatalf("next: ok=%v err=%v", ok, err)
	}
	if string(k) != "a" || !tomb {
		t.Fatalf("got key=%q tomb=%v, want a/true", k, tomb)
	}

	k, _, tomb, ok, err = mi.Next()
	if err != nil || !ok {
		t.Fatalf("next: ok=%v err=%v", ok, err)
	}
	if string(k) != "b" || tomb {
		t.Fatalf("got key=%q tomb=%v, want b/false", k, tomb)
	}
}

func TestMergingIteratorThreeWayDuplicateKeepsNewestOnly(t *testing.T) {
	s0 := srcOf(entry("k", "v0"))
	s1 := srcOf(entry("k", "v1"))
	s2 := srcOf(entry("k", "v2"))

	mi, err := NewMergingIterator([]entrySource{s0, s1, s2}, false)
	if err != nil {
		t.Fatalf("new merging iterator: %v", err)
	}
	got := drainMerge(t, mi)
	if len(got) != 1 || string(got[0].Value) != "v2" {
		t.Fatalf("got %+v, want single entry v2", got)
	}
}

func TestMergingIteratorEmptySources(t *testing.T) {
	mi, err := NewMergingIterator(nil, false)
	if err != nil {
		t.Fatalf("new merging iterator: %v", err)
	}
	_, _, _, ok, err := mi.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ok {
		t.Fatal("expected no entries from an empty source list")
	}
}
