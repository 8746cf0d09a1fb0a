package journal

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, 16, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	j.Record(Entry{Kind: "session_connect", Session: 1, Addr: "127.0.0.1:5000"})
	j.Record(Entry{Kind: "room_created", Room: "lobby", Game: "arena"})
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = j.Close()

	files, err := Files(dir)
	if err != nil || len(files) != 1 {
		t.Fatalf("files = %v err=%v", files, err)
	}
	entries, err := ReadFile(files[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 2 || entries[0].Kind != "session_connect" || entries[1].Room != "lobby" {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Time.IsZero() {
		t.Fatalf("timestamp not filled")
	}
}

func TestWriterRotatesHourlyAndAppends(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	w := newZstdWriter(dir, "journal", func() time.Time { return clock })

	_ = w.Write(Entry{Kind: "a"})
	clock = clock.Add(2 * time.Minute)
	_ = w.Write(Entry{Kind: "b"})
	_ = w.Close()

	// Reopening the same hour appends a second zstd frame.
	w = newZstdWriter(dir, "journal", func() time.Time { return clock })
	_ = w.Write(Entry{Kind: "c"})
	_ = w.Close()

	first, err := ReadFile(filepath.Join(dir, "journal-2024-05-01-10.jsonl.zst"))
	if err != nil || len(first) != 1 || first[0].Kind != "a" {
		t.Fatalf("10h file = %+v err=%v", first, err)
	}
	second, err := ReadFile(filepath.Join(dir, "journal-2024-05-01-11.jsonl.zst"))
	if err != nil || len(second) != 2 || second[1].Kind != "c" {
		t.Fatalf("11h file = %+v err=%v", second, err)
	}
}

func TestNilJournalIsNoop(t *testing.T) {
	var j *Journal
	j.Record(Entry{Kind: "x"})
	if j.Dropped() != 0 || j.Close() != nil {
		t.Fatalf("nil journal misbehaved")
	}
}
