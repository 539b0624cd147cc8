package postgres

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/ddl"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
)

// Snapshot is the PostgreSQL schema at one point of a migration chain.
type Snapshot struct {
	ddl.Header
	// Meta keys: schemas by name, tables by "schema.table", columns by "schema.table.column".
	Meta ddl.Renames

	schemas   ddl.Collection[Schema]
	enums     ddl.Collection[Enum]
	sequences ddl.Collection[Sequence]
	roles     ddl.Collection[Role]
	policies  ddl.Collection[Policy]
	tables    ddl.Collection[Table]
	columns   ddl.Collection[Column]
	pks       ddl.Collection[PrimaryKey]
	fks       ddl.Collection[ForeignKey]
	uniques   ddl.Collection[UniqueConstraint]
	checks    ddl.Collection[CheckConstraint]
	indexes   ddl.Collection[Index]
	views     ddl.Collection[View]
}

// NewSnapshot returns an empty snapshot holding only the public schema.
func NewSnapshot() *Snapshot {
	snapshot := &Snapshot{
		Header: ddl.Header{
			Version: dialect.PostgreSQL.CurrentVersion(),
			Dialect: dialect.PostgreSQL.String(),
			ID:      ddl.NewID(),
			PrevID:  dialect.OriginID,
		},
		Meta: ddl.NewRenames(),
	}
	snapshot.ensurePublic()
	return snapshot
}

func (s *Snapshot) ensurePublic() {
	if !s.schemas.Has(PublicSchema) {
		_ = s.schemas.Add(Schema{Name: PublicSchema})
	}
}

// SnapshotHeader exposes the chain header.
func (s *Snapshot) SnapshotHeader() *ddl.Header {
	return &s.Header
}

// Add inserts entities by their stable key. Empty schema fields default to public.
func (s *Snapshot) Add(entities ...ddl.Entity) error {
	for _, entity := range entities {
		var err error
		switch typed := entity.(type) {
		case Schema:
			err = s.schemas.Add(typed)
		case Enum:
			typed.Schema = orDefault(typed.Schema, PublicSchema)
			err = s.enums.Add(typed)
		case Sequence:
			typed.Schema = orDefault(typed.Schema, PublicSchema)
			err = s.sequences.Add(typed)
		case Role:
			err = s.roles.Add(typed)
		case Policy:
			typed.Schema = orDefault(typed.Schema, PublicSchema)
			err = s.policies.Add(typed)
		case Table:
			typed.Schema = orDefault(typed.Schema, PublicSchema)
			err = s.tables.Add(typed)
		case Column:
			typed.Schema = orDefault(typed.Schema, PublicSchema)
			err = s.columns.Add(typed)
		case PrimaryKey:
			typed.Schema = orDefault(typed.Schema, PublicSchema)
			err = s.pks.Add(typed)
		case ForeignKey:
			typed.Schema = orDefault(typed.Schema, PublicSchema)
			typed.SchemaTo = orDefault(typed.SchemaTo, PublicSchema)
			err = s.fks.Add(typed)
		case UniqueConstraint:
			typed.Schema = orDefault(typed.Schema, PublicSchema)
			err = s.uniques.Add(typed)
		case CheckConstraint:
			typed.Schema = orDefault(typed.Schema, PublicSchema)
			err = s.checks.Add(typed)
		case Index:
			typed.Schema = orDefault(typed.Schema, PublicSchema)
			err = s.indexes.Add(typed)
		case View:
			typed.Schema = orDefault(typed.Schema, PublicSchema)
			err = s.views.Add(typed)
		default:
			err = fmt.Errorf("postgresql snapshot cannot hold %T", entity)
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

// RenameSchema records that schema old became schema new.
func (s *Snapshot) RenameSchema(oldName, newName string) *Snapshot {
	s.Meta = s.Meta.Normalize()
	s.Meta.Schemas[oldName] = newName
	return s
}

// RenameTable records a table rename; both sides are "schema.table" keys.
func (s *Snapshot) RenameTable(oldKey, newKey string) *Snapshot {
	s.Meta = s.Meta.Normalize()
	s.Meta.Tables[oldKey] = newKey
	return s
}

// RenameColumn records a column rename within table ("schema.table").
func (s *Snapshot) RenameColumn(tableKey, oldName, newName string) *Snapshot {
	s.Meta = s.Meta.Normalize()
	s.Meta.Columns[tableKey+"."+oldName] = tableKey + "." + newName
	return s
}

func (s *Snapshot) Schemas() []Schema     { return s.schemas.Sorted() }
func (s *Snapshot) Enums() []Enum         { return s.enums.Sorted() }
func (s *Snapshot) Sequences() []Sequence { return s.sequences.Sorted() }
func (s *Snapshot) Roles() []Role         { return s.roles.Sorted() }
func (s *Snapshot) Tables() []Table       { return s.tables.Sorted() }
func (s *Snapshot) Views() []View         { return s.views.Sorted() }

// Table looks a table up by its "schema.table" key.
func (s *Snapshot) Table(key string) (Table, bool) {
	return s.tables.Get(key)
}

// Columns returns the columns of the table with key in declaration order.
func (s *Snapshot) Columns(tableKey string) []Column {
	return s.columns.Where(func(c Column) bool { return qualifiedKey(c.Schema, c.Table) == tableKey })
}

// PrimaryKey returns the primary key of the table with key, if declared.
func (s *Snapshot) PrimaryKey(tableKey string) (PrimaryKey, bool) {
	pks := s.pks.Where(func(p PrimaryKey) bool { return qualifiedKey(p.Schema, p.Table) == tableKey })
	if len(pks) == 0 {
		return PrimaryKey{}, false
	}
	return pks[0], true
}

func (s *Snapshot) ForeignKeys(tableKey string) []ForeignKey {
	return s.fks.Where(func(f ForeignKey) bool { return qualifiedKey(f.Schema, f.Table) == tableKey })
}

func (s *Snapshot) Uniques(tableKey string) []UniqueConstraint {
	return s.uniques.Where(func(u UniqueConstraint) bool { return qualifiedKey(u.Schema, u.Table) == tableKey })
}

func (s *Snapshot) Checks(tableKey string) []CheckConstraint {
	return s.checks.Where(func(c CheckConstraint) bool { return qualifiedKey(c.Schema, c.Table) == tableKey })
}

func (s *Snapshot) Indexes(tableKey string) []Index {
	return s.indexes.Where(func(i Index) bool { return qualifiedKey(i.Schema, i.Table) == tableKey })
}

func (s *Snapshot) Policies(tableKey string) []Policy {
	return s.policies.Where(func(p Policy) bool { return qualifiedKey(p.Schema, p.Table) == tableKey })
}

// IsEmpty reports whether the snapshot holds nothing besides the public schema.
func (s *Snapshot) IsEmpty() bool {
	for _, schema := range s.schemas.All() {
		if schema.Name != PublicSchema {
			return false
		}
	}
	return s.enums.Len() == 0 && s.sequences.Len() == 0 && s.roles.Len() == 0 && s.policies.Len() == 0 &&
		s.tables.Len() == 0 && s.columns.Len() == 0 && s.pks.Len() == 0 && s.fks.Len() == 0 &&
		s.uniques.Len() == 0 && s.checks.Len() == 0 && s.indexes.Len() == 0 && s.views.Len() == 0
}

// Entities returns every entity except the implicit public schema.
func (s *Snapshot) Entities() []ddl.Entity {
	var out []ddl.Entity
	for _, schema := range s.schemas.All() {
		if schema.Name != PublicSchema {
			out = append(out, schema)
		}
	}
	out = appendEntities(out, s.enums.All())
	out = appendEntities(out, s.sequences.All())
	out = appendEntities(out, s.roles.All())
	out = appendEntities(out, s.tables.All())
	out = appendEntities(out, s.columns.All())
	out = appendEntities(out, s.pks.All())
	out = appendEntities(out, s.fks.All())
	out = appendEntities(out, s.uniques.All())
	out = appendEntities(out, s.checks.All())
	out = appendEntities(out, s.indexes.All())
	out = appendEntities(out, s.policies.All())
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
	return ddl.EqualCollections(&s.schemas, &other.schemas) &&
		ddl.EqualCollections(&s.enums, &other.enums) &&
		ddl.EqualCollections(&s.sequences, &other.sequences) &&
		ddl.EqualCollections(&s.roles, &other.roles) &&
		ddl.EqualCollections(&s.policies, &other.policies) &&
		ddl.EqualCollections(&s.tables, &other.tables) &&
		ddl.EqualCollections(&s.columns, &other.columns) &&
		ddl.EqualCollections(&s.pks, &other.pks) &&
		ddl.EqualCollections(&s.fks, &other.fks) &&
		ddl.EqualCollections(&s.uniques, &other.uniques) &&
		ddl.EqualCollections(&s.checks, &other.checks) &&
		ddl.EqualCollections(&s.indexes, &other.indexes) &&
		ddl.EqualCollections(&s.views, &other.views)
}

// Clone returns a copy whose collections can be rewritten independently.
func (s *Snapshot) Clone() *Snapshot {
	meta := ddl.Renames{
		Schemas: copyMap(s.Meta.Schemas),
		Tables:  copyMap(s.Meta.Tables),
		Columns: copyMap(s.Meta.Columns),
	}
	return &Snapshot{
		Header:    s.Header,
		Meta:      meta,
		schemas:     s.schemas.Clone(),
		enums:     s.enums.Clone(),
		sequences: s.sequences.Clone(),
		roles:     s.roles.Clone(),
		policies:  s.policies.Clone(),
		tables:    s.tables.Clone(),
		columns:   s.columns.Clone(),
		pks:       s.pks.Clone(),
		fks:       s.fks.Clone(),
		uniques:   s.uniques.Clone(),
		checks:    s.checks.Clone(),
		indexes:   s.indexes.Clone(),
		views:     s.views.Clone(),
	}
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

// splitQualified splits "schema.name"; a bare name belongs to public.
func splitQualified(key string) (schema, name string) {
	key = strings.ReplaceAll(key, `"`, "")
	if before, after, found := strings.Cut(key, "."); found {
		return before, after
	}
	return PublicSchema, key
}

// splitColumnKey splits "schema.table.column".
func splitColumnKey(key string) (schema, table, column string, ok bool) {
	key = strings.ReplaceAll(key, `"`, "")
	first := strings.Index(key, ".")
	last := strings.LastIndex(key, ".")
	if first <= 0 || last == first || last == len(key)-1 {
		return "", "", "", false
	}
	return key[:first], key[first+1 : last], key[last+1:], true
}
