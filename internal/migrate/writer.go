package migrate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/files"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/journal"
)

const (
	metaDirName     = "meta"
	journalFileName = "_journal.json"
	maxTagAttempts  = 16
)

var noOpLogger = zap.NewNop()

// State is a step of one generation cycle.
type State string

const (
	StateIdle               State = "idle"
	StateDirectoriesEnsured State = "directories_ensured"
	StateJournalLoaded      State = "journal_loaded"
	StateDiffed             State = "diffed"
	StateNoChanges          State = "no_changes"
	StateSQLWritten         State = "sql_written"
	StateSnapshotWritten    State = "snapshot_written"
	StateJournalAppended    State = "journal_appended"
)

// WriterConfig configures a Writer. Only Out and Dialect are required.
type WriterConfig struct {
	Out         string
	Dialect     dialect.Dialect
	Breakpoints bool
	Clock       func() time.Time
	IDProvider  IDProvider
	Tags        TagSource
	Logger      *zap.Logger
}

// Writer owns one migration folder: <out>/<tag>.sql, <out>/meta/NNNN_snapshot.json and
// <out>/meta/_journal.json. It assumes it is the only writer of that folder.
type Writer struct {
	out         string
	dialect     dialect.Dialect
	breakpoints bool
	clock       func() time.Time
	idProvider  IDProvider
	tags        TagSource
	logger      *zap.Logger
}

// NewWriter validates cfg and defaults its optional fields.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	if cfg.Out == "" {
		return nil, newError(opWriterNew, "missing_out", "", errMissingOut)
	}
	if !cfg.Dialect.Valid() {
		return nil, newError(opWriterNew, "invalid_dialect", "", fmt.Errorf("%w: %q", dialect.ErrUnknownDialect, cfg.Dialect))
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	tags := cfg.Tags
	if tags == nil {
		tags = RandomWords{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Writer{
		out:         cfg.Out,
		dialect:     cfg.Dialect,
		breakpoints: cfg.Breakpoints,
		clock:       clock,
		idProvider:  idProvider,
		tags:        tags,
		logger:      logger,
	}, nil
}

// Dialect is the dialect of every snapshot in the folder.
func (w *Writer) Dialect() dialect.Dialect { return w.dialect }

// Out is the migration folder.
func (w *Writer) Out() string { return w.out }

func (w *Writer) MetaDir() string     { return filepath.Join(w.out, metaDirName) }
func (w *Writer) JournalPath() string { return filepath.Join(w.MetaDir(), journalFileName) }

// SnapshotPath is meta/NNNN_snapshot.json for idx.
func (w *Writer) SnapshotPath(idx int) string {
	return filepath.Join(w.MetaDir(), fmt.Sprintf("%04d_snapshot.json", idx))
}

// MigrationPath is <out>/<tag>.sql.
func (w *Writer) MigrationPath(tag string) string {
	return filepath.Join(w.out, tag+".sql")
}

// LoadJournal reads the journal, or returns an empty one for a fresh folder.
func (w *Writer) LoadJournal() (*journal.Journal, error) {
	return journal.LoadOrNew(w.JournalPath(), w.dialect)
}

// LoadPrevious returns the snapshot of the last journal entry, or an empty snapshot when the
// journal has no entries.
func (w *Writer) LoadPrevious() (Snapshot, error) {
	j, err := w.LoadJournal()
	if err != nil {
		return nil, err
	}
	return w.previous(j)
}

func (w *Writer) previous(j *journal.Journal) (Snapshot, error) {
	last, ok := j.Last()
	if !ok {
		return NewSnapshot(w.dialect)
	}
	snapshot, err := LoadSnapshot(w.SnapshotPath(last.Idx))
	if err != nil {
		return nil, err
	}
	if d, _ := DialectOf(snapshot); d != w.dialect {
		return nil, fmt.Errorf("%w: %s holds a %s snapshot", dialect.ErrDialectMismatch, w.SnapshotPath(last.Idx), d)
	}
	return snapshot, nil
}

// GenerateRequest names the migration; an empty Name draws a random tag.
type GenerateRequest struct {
	Name string
}

// Result describes a generation cycle. State is StateNoChanges or StateJournalAppended on success.
type Result struct {
	State        State
	Tag          string
	Idx          int
	ID           string
	PrevID       string
	SQLPath      string
	SnapshotPath string
	Statements   []string
}

// Generate diffs cur against the last recorded snapshot and writes the migration.
// The journal entry is appended only after the SQL and snapshot files are on disk; on failure the
// files written so far are removed and the journal is left as it was.
func (w *Writer) Generate(cur Snapshot, req GenerateRequest) (Result, error) {
	result := Result{State: StateIdle}
	if cur == nil {
		return result, newError(opGenerate, "missing_snapshot", "", errMissingSnapshot)
	}
	if d, err := DialectOf(cur); err != nil || d != w.dialect {
		return result, newError(opGenerate, "dialect_mismatch", "",
			fmt.Errorf("%w: writer targets %s, snapshot is %s", dialect.ErrDialectMismatch, w.dialect, cur.SnapshotHeader().Dialect))
	}

	if err := os.MkdirAll(w.MetaDir(), 0o755); err != nil {
		w.logError(opGenerate, "mkdir_failed", err, zap.String("path", w.MetaDir()))
		return result, newError(opGenerate, "mkdir_failed", w.MetaDir(), err)
	}
	result.State = StateDirectoriesEnsured

	j, err := w.LoadJournal()
	if err != nil {
		w.logError(opGenerate, "journal_load_failed", err, zap.String("path", w.JournalPath()))
		return result, newError(opGenerate, "journal_load_failed", w.JournalPath(), err)
	}
	result.State = StateJournalLoaded

	prev, err := w.previous(j)
	if err != nil {
		w.logError(opGenerate, "previous_snapshot_failed", err)
		return result, err
	}
	statements, err := Generate(prev, cur, GenerateOptions{Breakpoints: w.breakpoints})
	if err != nil {
		w.logError(opGenerate, "diff_failed", err)
		return result, newError(opGenerate, "diff_failed", "", err)
	}
	result.State = StateDiffed
	if len(statements) == 0 {
		result.State = StateNoChanges
		w.logger.Info("no schema changes", zap.String("out", w.out))
		return result, ErrNoChanges
	}

	result.Idx = j.NextIdx()
	result.Statements = statements
	result.PrevID = dialect.OriginID
	if _, ok := j.Last(); ok {
		result.PrevID = prev.SnapshotHeader().ID
	}
	if result.Tag, err = w.allocateTag(j, req.Name); err != nil {
		return result, newError(opGenerate, "tag_failed", "", err)
	}
	if result.ID, err = w.idProvider.NewID(); err != nil {
		return result, newError(opGenerate, "id_generation_failed", "", err)
	}
	snapshotJSON, err := w.chainSnapshot(cur, result.ID, result.PrevID)
	if err != nil {
		return result, newError(opGenerate, "snapshot_encode_failed", "", err)
	}

	result.SQLPath = w.MigrationPath(result.Tag)
	if err := files.WriteAtomic(result.SQLPath, []byte(SQL(statements, GenerateOptions{Breakpoints: w.breakpoints})), 0o644); err != nil {
		w.logError(opGenerate, "sql_write_failed", err, zap.String("path", result.SQLPath))
		return result, newError(opGenerate, "sql_write_failed", result.SQLPath, err)
	}
	result.State = StateSQLWritten

	result.SnapshotPath = w.SnapshotPath(result.Idx)
	if err := files.WriteAtomic(result.SnapshotPath, snapshotJSON, 0o644); err != nil {
		w.logError(opGenerate, "snapshot_write_failed", err, zap.String("path", result.SnapshotPath))
		w.rollback(result.SQLPath)
		return result, newError(opGenerate, "snapshot_write_failed", result.SnapshotPath, err)
	}
	result.State = StateSnapshotWritten

	j.Append(result.Tag, w.breakpoints, w.clock())
	if err := j.Save(w.JournalPath()); err != nil {
		w.logError(opGenerate, "journal_save_failed", err, zap.String("path", w.JournalPath()))
		w.rollback(result.SQLPath, result.SnapshotPath)
		return result, newError(opGenerate, "journal_save_failed", w.JournalPath(), err)
	}
	result.State = StateJournalAppended

	w.logger.Info("migration generated",
		zap.String("tag", result.Tag),
		zap.Int("idx", result.Idx),
		zap.Int("statements", len(statements)),
		zap.String("sql_path", result.SQLPath))
	return result, nil
}

// chainSnapshot encodes cur with the chain header of the new entry. The caller's value is not modified.
func (w *Writer) chainSnapshot(cur Snapshot, id, prevID string) ([]byte, error) {
	raw, err := cur.MarshalJSON()
	if err != nil {
		return nil, err
	}
	for _, field := range []struct{ path, value string }{
		{"version", w.dialect.CurrentVersion()},
		{"id", id},
		{"prevId", prevID},
	} {
		if raw, err = sjson.SetBytes(raw, field.path, field.value); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// allocateTag picks an unused tag for the next entry. Drop leaves the prefixes of later tags
// alone, so the prefix continues after the highest one in the journal rather than at NextIdx.
func (w *Writer) allocateTag(j *journal.Journal, name string) (string, error) {
	prefix := j.NextIdx()
	for _, entry := range j.Entries {
		if number, ok := tagPrefix(entry.Tag); ok && number >= prefix {
			prefix = number + 1
		}
	}
	for attempt := 0; attempt < maxTagAttempts; attempt++ {
		tag := Tag(prefix, name, w.tags)
		exists, err := files.Exists(w.MigrationPath(tag))
		if err != nil {
			return "", err
		}
		if _, recorded := j.FindTag(tag); !exists && !recorded {
			return tag, nil
		}
		if sanitizeName(name) != "" {
			return "", fmt.Errorf("%w: %s already exists", errTagExhausted, w.MigrationPath(tag))
		}
	}
	return "", errTagExhausted
}

func (w *Writer) rollback(paths ...string) {
	for _, path := range paths {
		if err := files.RemoveIfExists(path); err != nil {
			w.logError(opGenerate, "rollback_failed", err, zap.String("path", path))
		}
	}
}

func (w *Writer) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	w.logger.Error("migration writer error", attrs...)
}

// isNotExist reports whether err says a file is missing.
func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
