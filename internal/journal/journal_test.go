package journal

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
)

func TestNewJournalIsEmpty(t *testing.T) {
	j := New(dialect.SQLite)
	if j.Version != "7" || j.Dialect != dialect.SQLite || len(j.Entries) != 0 {
		t.Fatalf("unexpected journal %+v", j)
	}
	if _, ok := j.Last(); ok {
		t.Fatalf("expected no last entry")
	}
	if j.NextIdx() != 0 {
		t.Fatalf("expected next idx 0, got %d", j.NextIdx())
	}
}

func TestAppendAssignsIndexAndVersion(t *testing.T) {
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	j := New(dialect.PostgreSQL)
	first := j.Append("0000_brave_otter", true, when)
	second := j.Append("0001_calm_heron", false, when.Add(time.Second))

	if first.Idx != 0 || second.Idx != 1 {
		t.Fatalf("unexpected indexes %d %d", first.Idx, second.Idx)
	}
	if first.Version != "8" {
		t.Fatalf("expected entry version 8, got %s", first.Version)
	}
	if first.When != when.UnixMilli() {
		t.Fatalf("expected unix milliseconds, got %d", first.When)
	}
	last, ok := j.Last()
	if !ok || last.Tag != "0001_calm_heron" || last.Breakpoints {
		t.Fatalf("unexpected last entry %+v", last)
	}
}

func TestDropRenumbersLaterEntries(t *testing.T) {
	j := New(dialect.SQLite)
	for _, tag := range []string{"0000_a", "0001_b", "0002_c"} {
		j.Append(tag, true, time.Unix(0, 0))
	}

	dropped, err := j.Drop(1)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if dropped.Tag != "0001_b" {
		t.Fatalf("dropped wrong entry %+v", dropped)
	}
	if len(j.Entries) != 2 || j.Entries[1].Tag != "0002_c" || j.Entries[1].Idx != 1 {
		t.Fatalf("unexpected entries after drop %+v", j.Entries)
	}
	if _, err := j.Drop(5); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestFindTag(t *testing.T) {
	j := New(dialect.SQLite)
	j.Append("0000_init", true, time.Unix(0, 0))
	if entry, ok := j.FindTag("0000_init"); !ok || entry.Idx != 0 {
		t.Fatalf("expected to find tag, got %+v", entry)
	}
	if _, ok := j.FindTag("0001_missing"); ok {
		t.Fatalf("expected missing tag")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta", "_journal.json")
	j := New(dialect.PostgreSQL)
	j.Append("0000_init", true, time.UnixMilli(1714564800000))

	if err := j.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, fragment := range []string{`"version": "7"`, `"dialect": "postgresql"`, `"when": 1714564800000`, `"tag": "0000_init"`} {
		if !strings.Contains(string(data), fragment) {
			t.Fatalf("expected %s in\n%s", fragment, data)
		}
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Dialect != dialect.PostgreSQL || len(loaded.Entries) != 1 || loaded.Entries[0] != j.Entries[0] {
		t.Fatalf("round trip mismatch %+v", loaded)
	}
}

func TestLoadOrNew(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "_journal.json")

	fresh, err := LoadOrNew(path, dialect.SQLite)
	if err != nil {
		t.Fatalf("load or new: %v", err)
	}
	if len(fresh.Entries) != 0 {
		t.Fatalf("expected empty journal")
	}

	if err := New(dialect.SQLite).Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := LoadOrNew(path, dialect.PostgreSQL); !errors.Is(err, dialect.ErrDialectMismatch) {
		t.Fatalf("expected ErrDialectMismatch, got %v", err)
	}
}

func TestFromJSONAcceptsLegacyDialectNames(t *testing.T) {
	j, err := FromJSON([]byte(`{"version":"5","dialect":"pg","entries":null}`))
	if err != nil {
		t.Fatalf("from json: %v", err)
	}
	if j.Dialect != dialect.PostgreSQL || j.Entries == nil {
		t.Fatalf("unexpected journal %+v", j)
	}
	if _, err := FromJSON([]byte(`{"dialect":"oracle"}`)); !errors.Is(err, dialect.ErrUnknownDialect) {
		t.Fatalf("expected ErrUnknownDialect, got %v", err)
	}
}
