package sqlite

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/ddl"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
)

// Meta records renames decided outside the diff engine.
// Table renames map old to new table names; column renames map "table.old" to "table.new".
type Meta struct {
	Tables  map[string]string `json:"tables"`
	Columns map[string]string `json:"columns"`
}

// Snapshot is the SQLite schema at one point of a migration chain.
type Snapshot struct {
	ddl.Header
	Meta Meta

	tables  ddl.Collection[Table]
	columns ddl.Collection[Column]
	pks     ddl.Collection[PrimaryKey]
	fks     ddl.Collection[ForeignKey]
	uniques ddl.Collection[UniqueConstraint]
	checks  ddl.Collection[CheckConstraint]
	indexes ddl.Collection[Index]
	views   ddl.Collection[View]
}

// NewSnapshot returns an empty snapshot at the current format revision.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Header: ddl.Header{
			Version: dialect.SQLite.CurrentVersion(),
			Dialect: dialect.SQLite.String(),
			ID:      ddl.NewID(),
			PrevID:  dialect.OriginID,
		},
		Meta: Meta{Tables: map[string]string{}, Columns: map[string]string{}},
	}
}

// SnapshotHeader exposes the chain header.
func (s *Snapshot) SnapshotHeader() *ddl.Header {
	return &s.Header
}

// Add inserts entities by their stable key.
func (s *Snapshot) Add(entities ...ddl.Entity) error {
	for _, entity := range entities {
		var err error
		switch typed := entity.(type) {
		case Table:
			err = s.tables.Add(typed)
		case Column:
			err = s.columns.Add(typed)
		case PrimaryKey:
			err = s.pks.Add(typed)
		case ForeignKey:
			err = s.fks.Add(typed)
		case UniqueConstraint:
			err = s.uniques.Add(typed)
		case CheckConstraint:
			err = s.checks.Add(typed)
		case Index:
			err = s.indexes.Add(typed)
		case View:
			err = s.views.Add(typed)
		default:
			err = fmt.Errorf("sqlite snapshot cannot hold %T", entity)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// MustAdd is Add for statically known schemas; it panics on a duplicate key.
func (s *Snapshot) MustAdd(entities ...ddl.Entity) *Snapshot {
	if err := s.Add(entities...); err != nil {
		panic(err)
	}
	return s
}

// RenameTable records that table old became table new.
func (s *Snapshot) RenameTable(oldName, newName string) *Snapshot {
	if s.Meta.Tables == nil {
		s.Meta.Tables = map[string]string{}
	}
	s.Meta.Tables[oldName] = newName
	return s
}

// RenameColumn records that column old of table became column new.
func (s *Snapshot) RenameColumn(table, oldName, newName string) *Snapshot {
	if s.Meta.Columns == nil {
		s.Meta.Columns = map[string]string{}
	}
	s.Meta.Columns[tableScoped(table, oldName)] = tableScoped(table, newName)
	return s
}

// Tables returns every table sorted by name.
func (s *Snapshot) Tables() []Table { return s.tables.Sorted() }

// Views returns every view sorted by name.
func (s *Snapshot) Views() []View { return s.views.Sorted() }

// Table looks a table up by name.
func (s *Snapshot) Table(name string) (Table, bool) {
	return s.tables.Get(name)
}

// Column looks a column up by table and name.
func (s *Snapshot) Column(table, name string) (Column, bool) {
	return s.columns.Get(tableScoped(table, name))
}

// Columns returns the columns of table in declaration order.
func (s *Snapshot) Columns(table string) []Column {
	return s.columns.Where(func(c Column) bool { return c.Table == table })
}

// PrimaryKey returns the primary key of table, if declared.
func (s *Snapshot) PrimaryKey(table string) (PrimaryKey, bool) {
	pks := s.pks.Where(func(p PrimaryKey) bool { return p.Table == table })
	if len(pks) == 0 {
		return PrimaryKey{}, false
	}
	return pks[0], true
}

// ForeignKeys returns the foreign keys declared on table.
func (s *Snapshot) ForeignKeys(table string) []ForeignKey {
	return s.fks.Where(func(f ForeignKey) bool { return f.Table == table })
}

// Uniques returns the unique constraints of table.
func (s *Snapshot) Uniques(table string) []UniqueConstraint {
	return s.uniques.Where(func(u UniqueConstraint) bool { return u.Table == table })
}

// Checks returns the check constraints of table.
func (s *Snapshot) Checks(table string) []CheckConstraint {
	return s.checks.Where(func(c CheckConstraint) bool { return c.Table == table })
}

// Indexes returns the indexes of table.
func (s *Snapshot) Indexes(table string) []Index {
	return s.indexes.Where(func(i Index) bool { return i.Table == table })
}

// IsEmpty reports whether the snapshot holds no entity at all.
func (s *Snapshot) IsEmpty() bool {
	return s.tables.Len() == 0 && s.columns.Len() == 0 && s.pks.Len() == 0 && s.fks.Len() == 0 &&
		s.uniques.Len() == 0 && s.checks.Len() == 0 && s.indexes.Len() == 0 && s.views.Len() == 0
}

// Entities returns every entity, tables first, in a stable order.
func (s *Snapshot) Entities() []ddl.Entity {
	var out []ddl.Entity
	out = appendEntities(out, s.tables.All())
	out = appendEntities(out, s.columns.All())
	out = appendEntities(out, s.pks.All())
	out = appendEntities(out, s.fks.All())
	out = appendEntities(out, s.uniques.All())
	out = appendEntities(out, s.checks.All())
	out = appendEntities(out, s.indexes.All())
	out = appendEntities(out, s.views.All())
	return out
}

func appendEntities[E ddl.Entity](out []ddl.Entity, entities []E) []ddl.Entity {
	for _, entity := range entities {
		out = append(out, entity)
	}
	return out
}

// Equal compares the entities of two snapshots, ignoring headers and rename metadata.
func (s *Snapshot) Equal(other *Snapshot) bool {
	return ddl.EqualCollections(&s.tables, &other.tables) &&
		ddl.EqualCollections(&s.columns, &other.columns) &&
		ddl.EqualCollections(&s.pks, &other.pks) &&
		ddl.EqualCollections(&s.fks, &other.fks) &&
		ddl.EqualCollections(&s.uniques, &other.uniques) &&
		ddl.EqualCollections(&s.checks, &other.checks) &&
		ddl.EqualCollections(&s.indexes, &other.indexes) &&
		ddl.EqualCollections(&s.views, &other.views)
}

// Clone returns a deep enough copy for the diff engine to rewrite.
func (s *Snapshot) Clone() *Snapshot {
	clone := &Snapshot{
		Header:  s.Header,
		Meta:    Meta{Tables: copyMap(s.Meta.Tables), Columns: copyMap(s.Meta.Columns)},
		tables:  s.tables.Clone(),
		columns: s.columns.Clone(),
		pks:     s.pks.Clone(),
		fks:     s.fks.Clone(),
		uniques: s.uniques.Clone(),
		checks:  s.checks.Clone(),
		indexes: s.indexes.Clone(),
		views:   s.views.Clone(),
	}
	return clone
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func splitColumnKey(key string) (table, column string, ok bool) {
	position := strings.LastIndex(key, ".")
	if position <= 0 || position == len(key)-1 {
		return "", "", false
	}
	return key[:position], key[position+1:], true
}
