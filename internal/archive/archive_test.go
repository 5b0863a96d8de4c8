package archive

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("unexpected error opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndByTaskID(t *testing.T) {
	s := openTestStore(t)

	err := s.Insert(Record{
		TaskID:      "t1",
		Description: "build feature",
		FinalStage:  "Completed",
		Success:     true,
		TotalTokens: 1200,
		DurationMs:  45000,
		RoleSummary: map[string]string{"Reviewer": "looks good"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record, found, err := s.ByTaskID("t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected record to be found")
	}
	if record.TotalTokens != 1200 || record.RoleSummary["Reviewer"] != "looks good" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestByTaskIDMissing(t *testing.T) {
	s := openTestStore(t)
	_, found, err := s.ByTaskID("missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected not found")
	}
}

func TestRecentOrdersByArchivedAtDescending(t *testing.T) {
	s := openTestStore(t)
	for i, id := range []string{"a", "b", "c"} {
		err := s.Insert(Record{TaskID: id, Description: id, FinalStage: "Completed", Success: true, DurationMs: int64(i), ArchivedAt: time.Unix(int64(1000+i), 0)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	records, err := s.Recent(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].TaskID != "c" || records[1].TaskID != "b" {
		t.Fatalf("expected newest first (c, b), got %s, %s", records[0].TaskID, records[1].TaskID)
	}
}
