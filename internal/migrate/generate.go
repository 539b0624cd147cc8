// Package migrate turns pairs of snapshots into migration SQL and keeps the migration folder,
// its snapshots and its journal consistent.
package migrate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/gjson"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/ddl"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/postgres"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/sqlite"
)

// Snapshot is a *sqlite.Snapshot or a *postgres.Snapshot.
type Snapshot interface {
	json.Marshaler
	SnapshotHeader() *ddl.Header
	IsEmpty() bool
}

// GenerateOptions controls SQL rendering.
type GenerateOptions struct {
	Breakpoints bool
}

// DialectOf returns the dialect a snapshot belongs to.
func DialectOf(snapshot Snapshot) (dialect.Dialect, error) {
	switch snapshot.(type) {
	case *sqlite.Snapshot:
		return dialect.SQLite, nil
	case *postgres.Snapshot:
		return dialect.PostgreSQL, nil
	default:
		return "", fmt.Errorf("%w: %T", dialect.ErrUnknownDialect, snapshot)
	}
}

// NewSnapshot returns an empty snapshot of d.
func NewSnapshot(d dialect.Dialect) (Snapshot, error) {
	switch d {
	case dialect.SQLite:
		return sqlite.NewSnapshot(), nil
	case dialect.PostgreSQL:
		return postgres.NewSnapshot(), nil
	default:
		return nil, fmt.Errorf("%w: %q", dialect.ErrUnknownDialect, d)
	}
}

// Generate returns the statements that move a database from prev to cur. A nil prev means an
// empty database. It reads and writes nothing.
func Generate(prev, cur Snapshot, opts GenerateOptions) ([]string, error) {
	if cur == nil {
		return nil, errMissingSnapshot
	}
	switch typedCur := cur.(type) {
	case *sqlite.Snapshot:
		typedPrev := sqlite.NewSnapshot()
		if prev != nil {
			var ok bool
			if typedPrev, ok = prev.(*sqlite.Snapshot); !ok {
				return nil, mismatch(prev, cur)
			}
		}
		plan, err := sqlite.Diff(typedPrev, typedCur)
		if err != nil {
			return nil, err
		}
		return sqlite.NewGenerator(sqlite.GeneratorConfig{Breakpoints: opts.Breakpoints}).Statements(plan)
	case *postgres.Snapshot:
		typedPrev := postgres.NewSnapshot()
		if prev != nil {
			var ok bool
			if typedPrev, ok = prev.(*postgres.Snapshot); !ok {
				return nil, mismatch(prev, cur)
			}
		}
		plan, err := postgres.Diff(typedPrev, typedCur)
		if err != nil {
			return nil, err
		}
		return postgres.NewGenerator(postgres.GeneratorConfig{Breakpoints: opts.Breakpoints}).Statements(plan)
	default:
		return nil, fmt.Errorf("%w: %T", dialect.ErrUnknownDialect, cur)
	}
}

// Export renders the create statements for everything in snapshot.
func Export(snapshot Snapshot, opts GenerateOptions) ([]string, error) {
	switch typed := snapshot.(type) {
	case *sqlite.Snapshot:
		return sqlite.NewGenerator(sqlite.GeneratorConfig{Breakpoints: opts.Breakpoints}).Export(typed)
	case *postgres.Snapshot:
		return postgres.NewGenerator(postgres.GeneratorConfig{Breakpoints: opts.Breakpoints}).Export(typed)
	case nil:
		return nil, errMissingSnapshot
	default:
		return nil, fmt.Errorf("%w: %T", dialect.ErrUnknownDialect, snapshot)
	}
}

// SQL joins statements the way migration files store them.
func SQL(statements []string, opts GenerateOptions) string {
	return ddl.JoinStatements(statements, opts.Breakpoints)
}

func mismatch(prev, cur Snapshot) error {
	return fmt.Errorf("%w: previous snapshot is %s, current is %s",
		dialect.ErrDialectMismatch, prev.SnapshotHeader().Dialect, cur.SnapshotHeader().Dialect)
}

// DecodeSnapshot decodes a current revision snapshot of either dialect. Outdated and unsupported
// versions are reported through the dialect version errors so callers can suggest an upgrade.
func DecodeSnapshot(raw []byte) (Snapshot, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &SnapshotError{Err: errMalformedJSON}
	}
	header := gjson.GetManyBytes(raw, "version", "dialect")
	d, err := dialect.Parse(header[1].String())
	if err != nil {
		return nil, &SnapshotError{Err: err}
	}
	if err := d.CheckVersion(header[0].String()); err != nil {
		return nil, err
	}

	var snapshot Snapshot
	switch d {
	case dialect.SQLite:
		snapshot, err = sqlite.ParseSnapshot(raw)
	default:
		snapshot, err = postgres.ParseSnapshot(raw)
	}
	if err != nil {
		return nil, &SnapshotError{Err: err}
	}
	return snapshot, nil
}

// LoadSnapshot reads and decodes the snapshot file at path.
func LoadSnapshot(path string) (Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(opLoad, "read_failed", path, err)
	}
	snapshot, err := DecodeSnapshot(raw)
	if err != nil {
		if snapshotErr, ok := err.(*SnapshotError); ok {
			snapshotErr.Path = path
			return nil, snapshotErr
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return snapshot, nil
}
