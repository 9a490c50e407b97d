package litedb

import (
	"bytes"
	"os"
	"testing"
)

func TestWALAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	wal, err := OpenWAL(dir, 1)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}

	if err := wal.Append([]byte("k1"), []byte("v1"), false); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := wal.Append([]byte("k2"), nil, true); err != nil {
		t.Fatalf("append tombstone: %v", err)
	}
	if err := wal.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}
	if err := wal.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var got []WALEntry
	err = Replay(dir, 1, func(e WALEntry) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if !bytes.Equal(got[0].Key, []byte("k1")) || !bytes.Equal(got[0].Value, []byte("v1")) || got[0].Tombstone {
		t.Fatalf("unexpected entry 0: %+v", got[0])
	}
	if !bytes.Equal(got[1].Key, []byte("k2")) || !got[1].Tombstone {
		t.Fatalf("unexpected entry 1: %+v", got[1])
	}
}

func TestReplayMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	called := false
	if err := Replay(dir, 99, func(WALEntry) error { called = true; return nil }); err != nil {
		t.Fatalf("replay of missing wal: %v", err)
	}
	if called {
		t.Fatal("callback should not run for a nonexistent log")
	}
}

func TestWALTornTailToleratesTruncation(t *testing.T) {
	dir := t.TempDir()
	wal, err := OpenWAL(dir, 2)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	if err := wal.Append([]byte("good"), []byte("value"), false); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := wal.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Simulate a crash mid-append by appending a few stray bytes that don't
	// form a complete record, without ever writing the sentinel.
	f, err := os.OpenFile(walPath(dir, 2), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("reopen for truncated write: %v", err)
	}
	if _, err := f.Write([]byte{1, 0, 0}); err != nil {
		t.Fatalf("write torn bytes: %v", err)
	}
	f.Close()

	var got []WALEntry
	err = Replay(dir, 2, func(e WALEntry) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("replay of torn log should not error, got: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
}

func TestWALTrimDropsTornTail(t *testing.T) {
	dir := t.TempDir()
	wal, err := OpenWAL(dir, 4)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	if err := wal.Append([]byte("a"), []byte("1"), false); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := wal.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.OpenFile(walPath(dir, 4), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := f.Write([]byte{9, 9}); err != nil {
		t.Fatalf("write torn bytes: %v", err)
	}
	f.Close()

	valid, err := replayPrefix(dir, 4, func(WALEntry) error { return nil })
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if err := trimWAL(dir, 4, valid); err != nil {
		t.Fatalf("trim: %v", err)
	}
	info, err := os.Stat(walPath(dir, 4))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != valid {
		t.Fatalf("got size %d after trim, want %d", info.Size(), valid)
	}

	// Appends after the trim extend the stream and replay alongside the
	// original record.
	wal, err = OpenWAL(dir, 4)
	if err != nil {
		t.Fatalf("reopen wal: %v", err)
	}
	if err := wal.Append([]byte("b"), []byte("2"), false); err != nil {
		t.Fatalf("append after trim: %v", err)
	}
	if err := wal.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	var got []WALEntry
	if err := Replay(dir, 4, func(e WALEntry) error { got = append(got, e); return nil }); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(got) != 2 || string(got[0].Key) != "a" || string(got[1].Key) != "b" {
		t.Fatalf("unexpected replay result: %+v", got)
	}
}

func TestWALCorruptedChecksumIsReported(t *testing.T) {
	dir := t.TempDir()
	wal, err := OpenWAL(dir, 3)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	if err := wal.Append([]byte("k"), []byte("v"), false); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := wal.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(walPath(dir, 3))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	// Flip the last byte of the stored checksum so it no longer matches.
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(walPath(dir, 3), data, 0o644); err != nil {
		t.Fatalf("rewrite log: %v", err)
	}

	err = Replay(dir, 3, func(WALEntry) error { return nil })
	if err == nil {
		t.Fatal("expected corrupted checksum to be reported")
	}
}
