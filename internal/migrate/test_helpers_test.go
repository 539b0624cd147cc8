package migrate

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/sqlite"
)

type sequentialIDs struct {
	next int
}

func (s *sequentialIDs) NewID() (string, error) {
	s.next++
	return fmt.Sprintf("00000000-0000-7000-8000-%012d", s.next), nil
}

type fixedWords struct{}

func (fixedWords) Words() (string, string) { return "brave", "otter" }

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	writer, err := NewWriter(WriterConfig{
		Out:         filepath.Join(t.TempDir(), "migrations"),
		Dialect:     dialect.SQLite,
		Breakpoints: true,
		Clock:       func() time.Time { return time.UnixMilli(1714564800000) },
		IDProvider:  &sequentialIDs{},
		Tags:        fixedWords{},
	})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	return writer
}

func usersSnapshot() *sqlite.Snapshot {
	return sqlite.NewSnapshot().MustAdd(
		sqlite.Table{Name: "users"},
		sqlite.Column{Table: "users", Name: "id", Type: "integer", NotNull: true},
		sqlite.Column{Table: "users", Name: "name", Type: "text", NotNull: true},
	)
}

func withColumn(snapshot *sqlite.Snapshot, name string) *sqlite.Snapshot {
	clone := snapshot.Clone()
	clone.MustAdd(sqlite.Column{Table: "users", Name: name, Type: "text"})
	return clone
}

func mustGenerate(t *testing.T, writer *Writer, cur Snapshot, name string) Result {
	t.Helper()
	result, err := writer.Generate(cur, GenerateRequest{Name: name})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return result
}
