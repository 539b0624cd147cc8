package postgres

import (
	"strings"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/ddl"
)

// PublicSchema is always present and never created or dropped.
const PublicSchema = "public"

// Schema is a namespace.
type Schema struct {
	Name string `json:"name"`
}

func (s Schema) Kind() ddl.Kind      { return ddl.KindSchema }
func (s Schema) Key() string         { return s.Name }
func (s Schema) EntityName() string  { return s.Name }
func (s Schema) Fields() []ddl.Field { return nil }

// Enum is a user defined enumerated type.
type Enum struct {
	Schema string   `json:"schema"`
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

func (e Enum) Kind() ddl.Kind     { return ddl.KindEnum }
func (e Enum) Key() string        { return qualifiedKey(e.Schema, e.Name) }
func (e Enum) EntityName() string { return e.Name }
func (e Enum) Fields() []ddl.Field {
	return []ddl.Field{{Name: "values", Value: e.Values}}
}

// Sequence options are kept as text so that bigint bounds survive JSON.
type Sequence struct {
	Schema    string `json:"schema"`
	Name      string `json:"name"`
	Increment string `json:"increment,omitempty"`
	MinValue  string `json:"minValue,omitempty"`
	MaxValue  string `json:"maxValue,omitempty"`
	StartWith string `json:"startWith,omitempty"`
	Cache     string `json:"cache,omitempty"`
	Cycle     bool   `json:"cycle"`
}

func (s Sequence) Kind() ddl.Kind     { return ddl.KindSequence }
func (s Sequence) Key() string        { return qualifiedKey(s.Schema, s.Name) }
func (s Sequence) EntityName() string { return s.Name }
func (s Sequence) Fields() []ddl.Field {
	return []ddl.Field{
		{Name: "increment", Value: s.Increment},
		{Name: "minValue", Value: s.MinValue},
		{Name: "maxValue", Value: s.MaxValue},
		{Name: "startWith", Value: s.StartWith},
		{Name: "cache", Value: s.Cache},
		{Name: "cycle", Value: s.Cycle},
	}
}

// Role is a database role managed by migrations.
type Role struct {
	Name       string `json:"name"`
	CreateDB   bool   `json:"createDb"`
	CreateRole bool   `json:"createRole"`
	Inherit    bool   `json:"inherit"`
}

func (r Role) Kind() ddl.Kind     { return ddl.KindRole }
func (r Role) Key() string        { return r.Name }
func (r Role) EntityName() string { return r.Name }
func (r Role) Fields() []ddl.Field {
	return []ddl.Field{
		{Name: "createDb", Value: r.CreateDB},
		{Name: "createRole", Value: r.CreateRole},
		{Name: "inherit", Value: r.Inherit},
	}
}

// Policy is a row level security policy of a table.
type Policy struct {
	Schema    string   `json:"schema"`
	Table     string   `json:"table"`
	Name      string   `json:"name"`
	As        string   `json:"as"`
	For       string   `json:"for"`
	To        []string `json:"to"`
	Using     string   `json:"using,omitempty"`
	WithCheck string   `json:"withCheck,omitempty"`
}

func (p Policy) Kind() ddl.Kind     { return ddl.KindPolicy }
func (p Policy) Key() string        { return tableScopedKey(p.Schema, p.Table, p.Name) }
func (p Policy) EntityName() string { return p.Name }
func (p Policy) Fields() []ddl.Field {
	return []ddl.Field{
		{Name: "as", Value: strings.ToUpper(orDefault(p.As, "PERMISSIVE"))},
		{Name: "for", Value: strings.ToUpper(orDefault(p.For, "ALL"))},
		{Name: "to", Value: p.To},
		{Name: "using", Value: p.Using},
		{Name: "withCheck", Value: p.WithCheck},
	}
}

// Table of a schema.
type Table struct {
	Schema       string `json:"schema"`
	Name         string `json:"name"`
	IsRLSEnabled bool   `json:"isRLSEnabled"`
}

func (t Table) Kind() ddl.Kind     { return ddl.KindTable }
func (t Table) Key() string        { return qualifiedKey(t.Schema, t.Name) }
func (t Table) EntityName() string { return t.Name }
func (t Table) Fields() []ddl.Field {
	return []ddl.Field{{Name: "isRLSEnabled", Value: t.IsRLSEnabled}}
}

// Generated is a STORED generated column expression.
type Generated struct {
	Expression string `json:"as"`
	Type       string `json:"type"`
}

const (
	IdentityAlways    = "always"
	IdentityByDefault = "byDefault"
)

// Identity describes an identity column and its backing sequence options.
type Identity struct {
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	Increment string `json:"increment,omitempty"`
	MinValue  string `json:"minValue,omitempty"`
	MaxValue  string `json:"maxValue,omitempty"`
	StartWith string `json:"startWith,omitempty"`
	Cache     string `json:"cache,omitempty"`
	Cycle     bool   `json:"cycle,omitempty"`
}

// Column of a table. TypeSchema is set when Type names a user defined type such as an enum.
type Column struct {
	Schema     string     `json:"-"`
	Table      string     `json:"-"`
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	TypeSchema string     `json:"typeSchema,omitempty"`
	NotNull    bool       `json:"notNull"`
	Default    *string    `json:"default,omitempty"`
	Generated  *Generated `json:"generated,omitempty"`
	Identity   *Identity  `json:"identity,omitempty"`
}

func (c Column) Kind() ddl.Kind     { return ddl.KindColumn }
func (c Column) Key() string        { return tableScopedKey(c.Schema, c.Table, c.Name) }
func (c Column) EntityName() string { return c.Name }
func (c Column) Fields() []ddl.Field {
	var defaultValue, generated, identity any
	if c.Default != nil {
		defaultValue = *c.Default
	}
	if c.Generated != nil {
		generated = strings.TrimSpace(c.Generated.Expression)
	}
	if c.Identity != nil {
		identity = *c.Identity
	}
	return []ddl.Field{
		{Name: "type", Value: c.Type},
		{Name: "typeSchema", Value: c.TypeSchema},
		{Name: "notNull", Value: c.NotNull},
		{Name: "default", Value: defaultValue},
		{Name: "generated", Value: generated},
		{Name: "identity", Value: identity},
	}
}

// PrimaryKey of a table.
type PrimaryKey struct {
	Schema  string   `json:"-"`
	Table   string   `json:"-"`
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

func (p PrimaryKey) Kind() ddl.Kind     { return ddl.KindPrimaryKey }
func (p PrimaryKey) Key() string        { return tableScopedKey(p.Schema, p.Table, p.Name) }
func (p PrimaryKey) EntityName() string { return p.Name }
func (p PrimaryKey) Fields() []ddl.Field {
	return []ddl.Field{{Name: "columns", Value: p.Columns}}
}

// ForeignKey from Columns of the owning table to ColumnsTo of SchemaTo.TableTo.
type ForeignKey struct {
	Schema    string   `json:"-"`
	Table     string   `json:"tableFrom"`
	Name      string   `json:"name"`
	Columns   []string `json:"columnsFrom"`
	SchemaTo  string   `json:"schemaTo"`
	TableTo   string   `json:"tableTo"`
	ColumnsTo []string `json:"columnsTo"`
	OnUpdate  string   `json:"onUpdate"`
	OnDelete  string   `json:"onDelete"`
}

func (f ForeignKey) Kind() ddl.Kind     { return ddl.KindForeignKey }
func (f ForeignKey) Key() string        { return tableScopedKey(f.Schema, f.Table, f.Name) }
func (f ForeignKey) EntityName() string { return f.Name }
func (f ForeignKey) Fields() []ddl.Field {
	return []ddl.Field{
		{Name: "columns", Value: f.Columns},
		{Name: "schemaTo", Value: orDefault(f.SchemaTo, PublicSchema)},
		{Name: "tableTo", Value: f.TableTo},
		{Name: "columnsTo", Value: f.ColumnsTo},
		{Name: "onUpdate", Value: normalizeAction(f.OnUpdate)},
		{Name: "onDelete", Value: normalizeAction(f.OnDelete)},
	}
}

// TargetKey is the key of the referenced table.
func (f ForeignKey) TargetKey() string {
	return qualifiedKey(orDefault(f.SchemaTo, PublicSchema), f.TableTo)
}

// UniqueConstraint of a table.
type UniqueConstraint struct {
	Schema           string   `json:"-"`
	Table            string   `json:"-"`
	Name             string   `json:"name"`
	Columns          []string `json:"columns"`
	NullsNotDistinct bool     `json:"nullsNotDistinct"`
}

func (u UniqueConstraint) Kind() ddl.Kind     { return ddl.KindUnique }
func (u UniqueConstraint) Key() string        { return tableScopedKey(u.Schema, u.Table, u.Name) }
func (u UniqueConstraint) EntityName() string { return u.Name }
func (u UniqueConstraint) Fields() []ddl.Field {
	return []ddl.Field{
		{Name: "columns", Value: u.Columns},
		{Name: "nullsNotDistinct", Value: u.NullsNotDistinct},
	}
}

// CheckConstraint of a table.
type CheckConstraint struct {
	Schema string `json:"-"`
	Table  string `json:"-"`
	Name   string `json:"name"`
	Value  string `json:"value"`
}

func (c CheckConstraint) Kind() ddl.Kind     { return ddl.KindCheck }
func (c CheckConstraint) Key() string        { return tableScopedKey(c.Schema, c.Table, c.Name) }
func (c CheckConstraint) EntityName() string { return c.Name }
func (c CheckConstraint) Fields() []ddl.Field {
	return []ddl.Field{{Name: "value", Value: strings.TrimSpace(c.Value)}}
}

// IndexColumn is a column or expression with its sort options.
type IndexColumn struct {
	Expression   string  `json:"expression"`
	IsExpression bool    `json:"isExpression"`
	Asc          bool    `json:"asc"`
	Nulls        string  `json:"nulls"`
	OpClass      *string `json:"opClass"`
}

// Index of a table.
type Index struct {
	Schema       string            `json:"-"`
	Table        string            `json:"-"`
	Name         string            `json:"name"`
	Columns      []IndexColumn     `json:"columns"`
	IsUnique     bool              `json:"isUnique"`
	Concurrently bool              `json:"concurrently"`
	Method       string            `json:"method"`
	Where        string            `json:"where,omitempty"`
	With         map[string]string `json:"with"`
}

func (i Index) Kind() ddl.Kind     { return ddl.KindIndex }
func (i Index) Key() string        { return tableScopedKey(i.Schema, i.Table, i.Name) }
func (i Index) EntityName() string { return i.Name }
func (i Index) Fields() []ddl.Field {
	return []ddl.Field{
		{Name: "columns", Value: i.Columns},
		{Name: "isUnique", Value: i.IsUnique},
		{Name: "method", Value: orDefault(i.Method, "btree")},
		{Name: "where", Value: strings.TrimSpace(i.Where)},
		{Name: "with", Value: i.With},
	}
}

// View, optionally materialized.
type View struct {
	Schema       string            `json:"schema"`
	Name         string            `json:"name"`
	Definition   string            `json:"definition"`
	Materialized bool              `json:"materialized"`
	With         map[string]string `json:"with,omitempty"`
}

func (v View) Kind() ddl.Kind     { return ddl.KindView }
func (v View) Key() string        { return qualifiedKey(v.Schema, v.Name) }
func (v View) EntityName() string { return v.Name }
func (v View) Fields() []ddl.Field {
	return []ddl.Field{
		{Name: "definition", Value: strings.TrimSpace(v.Definition)},
		{Name: "materialized", Value: v.Materialized},
		{Name: "with", Value: v.With},
	}
}

// Asc returns an ascending, nulls last index column on name.
func Asc(name string) IndexColumn {
	return IndexColumn{Expression: name, Asc: true, Nulls: "last"}
}

// DefaultPrimaryKeyName is the constraint name PostgreSQL gives an unnamed primary key.
func DefaultPrimaryKeyName(table string) string {
	return table + "_pkey"
}

// Text returns a pointer to value, for Column.Default.
func Text(value string) *string {
	return &value
}

func qualifiedKey(schema, name string) string {
	return orDefault(schema, PublicSchema) + "." + name
}

func tableScopedKey(schema, table, name string) string {
	return orDefault(schema, PublicSchema) + "." + table + "." + name
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func normalizeAction(action string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(action))
	if trimmed == "" {
		return "NO ACTION"
	}
	return trimmed
}
