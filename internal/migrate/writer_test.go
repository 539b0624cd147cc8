package migrate

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/ddl"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/journal"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/postgres"
)

func TestNewWriterValidatesConfig(t *testing.T) {
	testCases := []struct {
		name   string
		config WriterConfig
		code   string
	}{
		{"missing out", WriterConfig{Dialect: dialect.SQLite}, "migrate.writer.new.missing_out"},
		{"bad dialect", WriterConfig{Out: "migrations", Dialect: "oracle"}, "migrate.writer.new.invalid_dialect"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := NewWriter(testCase.config)
			var writerErr *Error
			if !errors.As(err, &writerErr) || writerErr.Code() != testCase.code {
				t.Fatalf("expected code %s, got %v", testCase.code, err)
			}
		})
	}
}

func TestGenerateWritesFilesThenJournal(t *testing.T) {
	writer := newTestWriter(t)
	result := mustGenerate(t, writer, usersSnapshot(), "")

	if result.State != StateJournalAppended {
		t.Fatalf("expected journal appended, got %s", result.State)
	}
	if result.Tag != "0000_brave_otter" || result.Idx != 0 {
		t.Fatalf("unexpected tag %s idx %d", result.Tag, result.Idx)
	}

	sql, err := os.ReadFile(writer.MigrationPath(result.Tag))
	if err != nil {
		t.Fatalf("read sql: %v", err)
	}
	if !strings.Contains(string(sql), `CREATE TABLE "users"`) {
		t.Fatalf("unexpected sql %s", sql)
	}

	raw, err := os.ReadFile(writer.SnapshotPath(0))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if gjson.GetBytes(raw, "prevId").String() != dialect.OriginID {
		t.Fatalf("first snapshot must link to the origin")
	}
	if gjson.GetBytes(raw, "id").String() != result.ID {
		t.Fatalf("snapshot id %s does not match result %s", gjson.GetBytes(raw, "id").String(), result.ID)
	}

	j, err := journal.Load(writer.JournalPath())
	if err != nil {
		t.Fatalf("load journal: %v", err)
	}
	if len(j.Entries) != 1 || j.Entries[0].Tag != result.Tag || j.Entries[0].When != 1714564800000 || !j.Entries[0].Breakpoints {
		t.Fatalf("unexpected journal %+v", j.Entries)
	}
}

func TestGenerateChainsSnapshots(t *testing.T) {
	writer := newTestWriter(t)
	first := mustGenerate(t, writer, usersSnapshot(), "")
	second := mustGenerate(t, writer, withColumn(usersSnapshot(), "email"), "add email")

	if second.Tag != "0001_add_email" {
		t.Fatalf("expected named tag, got %s", second.Tag)
	}
	if second.PrevID != first.ID {
		t.Fatalf("expected prevId %s, got %s", first.ID, second.PrevID)
	}
	if len(second.Statements) != 1 || !strings.Contains(second.Statements[0], `ADD "email"`) {
		t.Fatalf("unexpected statements %v", second.Statements)
	}

	report, err := writer.Check()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !report.OK() || report.Entries != 2 {
		t.Fatalf("expected consistent folder, got %+v", report)
	}
}

func TestGenerateReportsNoChanges(t *testing.T) {
	writer := newTestWriter(t)
	mustGenerate(t, writer, usersSnapshot(), "")

	result, err := writer.Generate(usersSnapshot(), GenerateRequest{})
	if !errors.Is(err, ErrNoChanges) {
		t.Fatalf("expected ErrNoChanges, got %v", err)
	}
	if result.State != StateNoChanges {
		t.Fatalf("expected no changes state, got %s", result.State)
	}
	j, err := writer.LoadJournal()
	if err != nil {
		t.Fatalf("load journal: %v", err)
	}
	if len(j.Entries) != 1 {
		t.Fatalf("journal must not change, got %d entries", len(j.Entries))
	}
}

func TestGenerateRollsBackWhenSnapshotWriteFails(t *testing.T) {
	writer := newTestWriter(t)
	if err := os.MkdirAll(writer.SnapshotPath(0), 0o755); err != nil {
		t.Fatalf("block snapshot path: %v", err)
	}

	result, err := writer.Generate(usersSnapshot(), GenerateRequest{Name: "init"})
	var writerErr *Error
	if !errors.As(err, &writerErr) || writerErr.Code() != "migrate.generate.snapshot_write_failed" {
		t.Fatalf("expected snapshot write failure, got %v", err)
	}
	if result.State != StateSQLWritten {
		t.Fatalf("expected failure after the sql file, got %s", result.State)
	}
	if _, err := os.Stat(writer.MigrationPath("0000_init")); !os.IsNotExist(err) {
		t.Fatalf("expected sql file to be removed, stat err %v", err)
	}
	if _, err := os.Stat(writer.JournalPath()); !os.IsNotExist(err) {
		t.Fatalf("journal must not be written, stat err %v", err)
	}
}

func TestGenerateRejectsOtherDialect(t *testing.T) {
	writer := newTestWriter(t)
	_, err := writer.Generate(postgres.NewSnapshot(), GenerateRequest{})
	if !errors.Is(err, dialect.ErrDialectMismatch) {
		t.Fatalf("expected ErrDialectMismatch, got %v", err)
	}
}

func TestGenerateDoesNotModifyCallerSnapshot(t *testing.T) {
	writer := newTestWriter(t)
	snapshot := usersSnapshot()
	before := *snapshot.SnapshotHeader()
	mustGenerate(t, writer, snapshot, "")
	if *snapshot.SnapshotHeader() != before {
		t.Fatalf("caller snapshot header changed from %+v to %+v", before, *snapshot.SnapshotHeader())
	}
}

func TestDropFirstOfThreeRelinksSuccessor(t *testing.T) {
	writer := newTestWriter(t)
	mustGenerate(t, writer, usersSnapshot(), "init")
	second := mustGenerate(t, writer, withColumn(usersSnapshot(), "email"), "email")
	third := mustGenerate(t, writer, withColumn(withColumn(usersSnapshot(), "email"), "bio"), "bio")

	dropped, err := writer.Drop("0000_init")
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if dropped.Tag != "0000_init" {
		t.Fatalf("dropped wrong entry %+v", dropped)
	}

	j, err := writer.LoadJournal()
	if err != nil {
		t.Fatalf("load journal: %v", err)
	}
	if len(j.Entries) != 2 || j.Entries[0].Idx != 0 || j.Entries[1].Idx != 1 || j.Entries[0].Tag != second.Tag {
		t.Fatalf("unexpected journal %+v", j.Entries)
	}
	if _, err := os.Stat(writer.MigrationPath("0000_init")); !os.IsNotExist(err) {
		t.Fatalf("expected sql file removed")
	}

	raw, err := os.ReadFile(writer.SnapshotPath(0))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if gjson.GetBytes(raw, "id").String() != second.ID || gjson.GetBytes(raw, "prevId").String() != dialect.OriginID {
		t.Fatalf("expected second snapshot relinked to the origin, got %s", raw)
	}
	raw, err = os.ReadFile(writer.SnapshotPath(1))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if gjson.GetBytes(raw, "id").String() != third.ID {
		t.Fatalf("expected third snapshot at index 1")
	}

	report, err := writer.Check()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !report.OK() {
		t.Fatalf("expected consistent folder after drop, got %+v", report.Issues)
	}
}

func TestGenerateAfterMiddleDropContinuesTagPrefixes(t *testing.T) {
	writer := newTestWriter(t)
	mustGenerate(t, writer, usersSnapshot(), "init")
	mustGenerate(t, writer, withColumn(usersSnapshot(), "email"), "email")
	bio := withColumn(withColumn(usersSnapshot(), "email"), "bio")
	mustGenerate(t, writer, bio, "bio")

	if _, err := writer.Drop("0001_email"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	next := mustGenerate(t, writer, withColumn(bio, "avatar"), "bio")
	if next.Tag != "0003_bio" || next.Idx != 2 {
		t.Fatalf("unexpected tag %s idx %d", next.Tag, next.Idx)
	}

	report, err := writer.Check()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !report.OK() {
		t.Fatalf("expected consistent folder, got %+v", report.Issues)
	}
}

func TestDropLastOfSingleEntry(t *testing.T) {
	writer := newTestWriter(t)
	mustGenerate(t, writer, usersSnapshot(), "")

	if _, err := writer.Drop(""); err != nil {
		t.Fatalf("drop: %v", err)
	}
	j, err := writer.LoadJournal()
	if err != nil {
		t.Fatalf("load journal: %v", err)
	}
	if len(j.Entries) != 0 {
		t.Fatalf("expected empty journal, got %+v", j.Entries)
	}
	if _, err := writer.Drop(""); !errors.Is(err, journal.ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	if _, err := writer.Drop("0005_missing"); !errors.Is(err, journal.ErrEmpty) && !errors.Is(err, journal.ErrEntryNotFound) {
		t.Fatalf("expected lookup failure, got %v", err)
	}
}

func TestCheckReportsBrokenFolder(t *testing.T) {
	writer := newTestWriter(t)
	first := mustGenerate(t, writer, usersSnapshot(), "")
	mustGenerate(t, writer, withColumn(usersSnapshot(), "email"), "")

	if err := os.Remove(writer.MigrationPath(first.Tag)); err != nil {
		t.Fatalf("remove sql: %v", err)
	}
	if err := relink(writer.SnapshotPath(1), ddl.NewID()); err != nil {
		t.Fatalf("relink: %v", err)
	}
	if err := os.WriteFile(writer.SnapshotPath(7), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write orphan: %v", err)
	}

	report, err := writer.Check()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	problems := map[string]bool{}
	for _, issue := range report.Issues {
		switch {
		case strings.Contains(issue.Problem, "sql file missing"):
			problems["sql"] = true
		case strings.Contains(issue.Problem, "prevId"):
			problems["chain"] = true
		case strings.Contains(issue.Problem, "not referenced"):
			problems["orphan"] = true
		}
	}
	if len(problems) != 3 {
		t.Fatalf("expected sql, chain and orphan issues, got %+v", report.Issues)
	}
}

func TestCheckFlagsOutdatedSnapshots(t *testing.T) {
	writer := newTestWriter(t)
	mustGenerate(t, writer, usersSnapshot(), "")
	if err := os.WriteFile(writer.SnapshotPath(0), []byte(`{"version":"6","dialect":"sqlite","id":"a","prevId":"00000000-0000-0000-0000-000000000000"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	report, err := writer.Check()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(report.Outdated) != 1 || len(report.Issues) != 0 || report.OK() {
		t.Fatalf("expected one outdated snapshot, got %+v", report)
	}

	if _, err := writer.LoadPrevious(); !errors.Is(err, dialect.ErrSnapshotOutdated) {
		t.Fatalf("expected outdated error when loading previous, got %v", err)
	}
}
