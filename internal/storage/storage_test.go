package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestJSONStorage_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")

	s, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("NewJSONStorage failed: %v", err)
	}
	if err := s.SaveTrade(NewRecord(sampleResult("exec-1", true))); err != nil {
		t.Fatalf("SaveTrade failed: %v", err)
	}
	if err := s.SaveTrade(NewRecord(sampleResult("exec-2", false))); err != nil {
		t.Fatalf("SaveTrade failed: %v", err)
	}

	reopened, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	trades := reopened.Trades()
	if len(trades) != 2 {
		t.Fatalf("reopened journal holds %d trades, want 2", len(trades))
	}
	if trades[0].ExecutionID != "exec-1" || trades[0].SLTrigger != 500 {
		t.Errorf("record mangled across reopen: %+v", trades[0])
	}
	if trades[1].Status != StatusRejected {
		t.Errorf("status mangled across reopen: %q", trades[1].Status)
	}
}

func TestJSONStorage_FileIsValidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")

	s, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("NewJSONStorage failed: %v", err)
	}
	if err := s.SaveTrade(NewRecord(sampleResult("exec-1", true))); err != nil {
		t.Fatalf("SaveTrade failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading journal file: %v", err)
	}
	var data struct {
		Trades []Record `json:"trades"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("journal file is not valid JSON: %v", err)
	}
	if len(data.Trades) != 1 {
		t.Errorf("file holds %d trades, want 1", len(data.Trades))
	}

	// The temp file must not survive a successful save.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
}

func TestJSONStorage_CorruptFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewJSONStorage(path); err == nil {
		t.Fatal("expected error opening corrupt journal")
	}
}

func TestJSONStorage_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexistent.json")

	s, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("NewJSONStorage failed: %v", err)
	}
	if len(s.Trades()) != 0 {
		t.Error("journal not empty for a missing file")
	}
}
