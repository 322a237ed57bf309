package wal

import "testing"

func TestSaveAndRecover(t *testing.T) {
	dir := t.TempDir()

	w, err := New(dir)
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}

	entries := []Entry{
		{Term: 1, Index: 1, Command: []byte("a")},
		{Term: 1, Index: 2, Command: []byte("b")},
	}
	if err := w.Save(1, "n1", entries); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("reopen wal: %v", err)
	}
	if reopened.GetCurrentTerm() != 1 {
		t.Fatalf("expected term 1 after recovery, got %d", reopened.GetCurrentTerm())
	}
	if reopened.GetVotedFor() != "n1" {
		t.Fatalf("expected votedFor n1 after recovery, got %q", reopened.GetVotedFor())
	}
	if reopened.GetLastIndex() != 2 {
		t.Fatalf("expected last index 2 after recovery, got %d", reopened.GetLastIndex())
	}
}

func TestAppendAndGetEntries(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}

	if err := w.AppendEntries([]Entry{{Term: 1, Index: 1, Command: []byte("a")}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.AppendEntries([]Entry{{Term: 1, Index: 2, Command: []byte("b")}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got := w.GetEntries(1, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	last := w.GetLastEntry()
	if last == nil || string(last.Command) != "b" {
		t.Fatalf("expected last entry command %q, got %+v", "b", last)
	}
}

func TestTruncateAfter(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}
	w.AppendEntries([]Entry{
		{Term: 1, Index: 1, Command: []byte("a")},
		{Term: 1, Index: 2, Command: []byte("b")},
		{Term: 1, Index: 3, Command: []byte("c")},
	})

	if err := w.TruncateAfter(1); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if w.GetLastIndex() != 1 {
		t.Fatalf("expected last index 1 after truncation, got %d", w.GetLastIndex())
	}
	if w.GetEntry(2) != nil {
		t.Fatal("expected entry 2 to be gone after truncation")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}

	snap := Snapshot{
		Metadata: SnapshotMetadata{LastIncludedIndex: 5, LastIncludedTerm: 2},
		Data:     []byte("app-state"),
	}
	if err := w.SaveSnapshot(snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("reopen wal: %v", err)
	}
	loaded, err := reopened.LoadSnapshot()
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded == nil || string(loaded.Data) != "app-state" {
		t.Fatalf("expected recovered snapshot data %q, got %+v", "app-state", loaded)
	}
	index, term := reopened.LastIncluded()
	if index != 5 || term != 2 {
		t.Fatalf("expected lastIncluded (5,2), got (%d,%d)", index, term)
	}
}
