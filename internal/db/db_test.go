package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	// Reopening an initialized database must succeed.
	d2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	d2.Close()
}

func TestMerges_RoundTrip(t *testing.T) {
	d := testDB(t)

	if _, ok, err := d.GetMerge("Jane/chat.txt"); err != nil || ok {
		t.Fatalf("GetMerge on empty db = ok %v, err %v", ok, err)
	}

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := MergeRecord{
		RelPath:  "Jane/chat.txt",
		FileHash: "abc",
		FileSize: 42,
		Entries:  3,
		MergedAt: at,
	}
	if err := d.RecordMerge(rec); err != nil {
		t.Fatalf("RecordMerge: %v", err)
	}

	got, ok, err := d.GetMerge("Jane/chat.txt")
	if err != nil || !ok {
		t.Fatalf("GetMerge = ok %v, err %v", ok, err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("GetMerge mismatch (-want +got):\n%s", diff)
	}

	// Upsert overwrites.
	rec.FileHash = "def"
	rec.FileSize = 50
	rec.MergedAt = at.Add(time.Hour)
	if err := d.RecordMerge(rec); err != nil {
		t.Fatalf("RecordMerge: %v", err)
	}
	all, err := d.ListMerges()
	if err != nil {
		t.Fatalf("ListMerges: %v", err)
	}
	if diff := cmp.Diff([]MergeRecord{rec}, all); diff != "" {
		t.Errorf("ListMerges mismatch (-want +got):\n%s", diff)
	}
}

func TestListMerges_Ordered(t *testing.T) {
	d := testDB(t)
	for _, p := range []string{"b.txt", "a/c.txt", "a.txt"} {
		if err := d.RecordMerge(MergeRecord{
			RelPath: p, FileHash: "h", MergedAt: time.Now(),
		}); err != nil {
			t.Fatalf("RecordMerge: %v", err)
		}
	}
	all, err := d.ListMerges()
	if err != nil {
		t.Fatalf("ListMerges: %v", err)
	}
	var paths []string
	for _, r := range all {
		paths = append(paths, r.RelPath)
	}
	want := []string{"a.txt", "a/c.txt", "b.txt"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestFailures(t *testing.T) {
	d := testDB(t)
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	f := Failure{RelPath: "x.txt", Message: "malformed", FailedAt: at}
	if err := d.RecordFailure(f); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	got, err := d.ListFailures()
	if err != nil {
		t.Fatalf("ListFailures: %v", err)
	}
	if diff := cmp.Diff([]Failure{f}, got); diff != "" {
		t.Errorf("ListFailures mismatch (-want +got):\n%s", diff)
	}

	// A later successful merge clears the failure.
	if err := d.RecordMerge(MergeRecord{
		RelPath: "x.txt", FileHash: "h", MergedAt: at,
	}); err != nil {
		t.Fatalf("RecordMerge: %v", err)
	}
	got, err = d.ListFailures()
	if err != nil {
		t.Fatalf("ListFailures: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("failures after merge = %v, want none", got)
	}
}

func TestClearFailure(t *testing.T) {
	d := testDB(t)
	if err := d.RecordFailure(Failure{
		RelPath: "y.txt", Message: "bad", FailedAt: time.Now(),
	}); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if err := d.ClearFailure("y.txt"); err != nil {
		t.Fatalf("ClearFailure: %v", err)
	}
	got, err := d.ListFailures()
	if err != nil {
		t.Fatalf("ListFailures: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListFailures = %v, want none", got)
	}
}
