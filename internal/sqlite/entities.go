package sqlite

import (
	"strings"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/ddl"
)

// Table is a SQLite table and its table options.
type Table struct {
	Name         string `json:"name"`
	Strict       bool   `json:"strict"`
	WithoutRowid bool   `json:"withoutRowid"`
}

func (t Table) Kind() ddl.Kind     { return ddl.KindTable }
func (t Table) Key() string        { return t.Name }
func (t Table) EntityName() string { return t.Name }
func (t Table) Fields() []ddl.Field {
	return []ddl.Field{
		{Name: "strict", Value: t.Strict},
		{Name: "withoutRowid", Value: t.WithoutRowid},
	}
}

const (
	GeneratedStored  = "stored"
	GeneratedVirtual = "virtual"
)

// Generated describes a generated column expression.
type Generated struct {
	Expression string `json:"expression"`
	Type       string `json:"type"`
}

// Column belongs to exactly one table. Default holds SQL text, for example 'abc' or (CURRENT_TIMESTAMP).
type Column struct {
	Table         string     `json:"table"`
	Name          string     `json:"name"`
	Type          string     `json:"type"`
	NotNull       bool       `json:"notNull"`
	Autoincrement bool       `json:"autoincrement"`
	Default       *string    `json:"default"`
	Generated     *Generated `json:"generated"`
}

func (c Column) Kind() ddl.Kind     { return ddl.KindColumn }
func (c Column) Key() string        { return tableScoped(c.Table, c.Name) }
func (c Column) EntityName() string { return c.Name }
func (c Column) Fields() []ddl.Field {
	var defaultValue, generated any
	if c.Default != nil {
		defaultValue = *c.Default
	}
	if c.Generated != nil {
		generated = *c.Generated
	}
	return []ddl.Field{
		{Name: "type", Value: strings.ToLower(c.Type)},
		{Name: "notNull", Value: c.NotNull},
		{Name: "autoincrement", Value: c.Autoincrement},
		{Name: "default", Value: defaultValue},
		{Name: "generated", Value: generated},
	}
}

// IsStoredGenerated reports whether the column is a STORED generated column.
func (c Column) IsStoredGenerated() bool {
	return c.Generated != nil && strings.EqualFold(c.Generated.Type, GeneratedStored)
}

// PrimaryKey of a table. NameExplicit is false for keys named after the table.
type PrimaryKey struct {
	Table        string   `json:"table"`
	Name         string   `json:"name"`
	Columns      []string `json:"columns"`
	NameExplicit bool     `json:"nameExplicit"`
}

func (p PrimaryKey) Kind() ddl.Kind     { return ddl.KindPrimaryKey }
func (p PrimaryKey) Key() string        { return tableScoped(p.Table, p.Name) }
func (p PrimaryKey) EntityName() string { return p.Name }
func (p PrimaryKey) Fields() []ddl.Field {
	return []ddl.Field{{Name: "columns", Value: p.Columns}}
}

// ForeignKey references columns of TableTo.
type ForeignKey struct {
	Table     string   `json:"table"`
	Name      string   `json:"name"`
	Columns   []string `json:"columns"`
	TableTo   string   `json:"tableTo"`
	ColumnsTo []string `json:"columnsTo"`
	OnUpdate  string   `json:"onUpdate"`
	OnDelete  string   `json:"onDelete"`
}

func (f ForeignKey) Kind() ddl.Kind     { return ddl.KindForeignKey }
func (f ForeignKey) Key() string        { return tableScoped(f.Table, f.Name) }
func (f ForeignKey) EntityName() string { return f.Name }
func (f ForeignKey) Fields() []ddl.Field {
	return []ddl.Field{
		{Name: "columns", Value: f.Columns},
		{Name: "tableTo", Value: f.TableTo},
		{Name: "columnsTo", Value: f.ColumnsTo},
		{Name: "onUpdate", Value: normalizeAction(f.OnUpdate)},
		{Name: "onDelete", Value: normalizeAction(f.OnDelete)},
	}
}

// UniqueConstraint declared on the table.
type UniqueConstraint struct {
	Table        string   `json:"table"`
	Name         string   `json:"name"`
	Columns      []string `json:"columns"`
	NameExplicit bool     `json:"nameExplicit"`
}

func (u UniqueConstraint) Kind() ddl.Kind     { return ddl.KindUnique }
func (u UniqueConstraint) Key() string        { return tableScoped(u.Table, u.Name) }
func (u UniqueConstraint) EntityName() string { return u.Name }
func (u UniqueConstraint) Fields() []ddl.Field {
	return []ddl.Field{{Name: "columns", Value: u.Columns}}
}

// CheckConstraint with its SQL expression.
type CheckConstraint struct {
	Table string `json:"table"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (c CheckConstraint) Kind() ddl.Kind     { return ddl.KindCheck }
func (c CheckConstraint) Key() string        { return tableScoped(c.Table, c.Name) }
func (c CheckConstraint) EntityName() string { return c.Name }
func (c CheckConstraint) Fields() []ddl.Field {
	return []ddl.Field{{Name: "value", Value: c.Value}}
}

// IndexColumn is either a column name or an SQL expression.
type IndexColumn struct {
	Value        string `json:"value"`
	IsExpression bool   `json:"isExpression"`
}

// Index on a table. Index names are global in SQLite but keyed by table for diffing.
type Index struct {
	Table    string        `json:"table"`
	Name     string        `json:"name"`
	Columns  []IndexColumn `json:"columns"`
	IsUnique bool          `json:"isUnique"`
	Where    string        `json:"where"`
}

func (i Index) Kind() ddl.Kind     { return ddl.KindIndex }
func (i Index) Key() string        { return tableScoped(i.Table, i.Name) }
func (i Index) EntityName() string { return i.Name }
func (i Index) Fields() []ddl.Field {
	return []ddl.Field{
		{Name: "columns", Value: i.Columns},
		{Name: "isUnique", Value: i.IsUnique},
		{Name: "where", Value: i.Where},
	}
}

// View with its SELECT definition.
type View struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

func (v View) Kind() ddl.Kind     { return ddl.KindView }
func (v View) Key() string        { return v.Name }
func (v View) EntityName() string { return v.Name }
func (v View) Fields() []ddl.Field {
	return []ddl.Field{{Name: "definition", Value: strings.TrimSpace(v.Definition)}}
}

// DefaultPrimaryKeyName is the name given to primary keys declared without one.
func DefaultPrimaryKeyName(table string) string {
	return table + "_pk"
}

// DefaultUniqueName is the name given to unique constraints declared without one.
func DefaultUniqueName(table string, columns []string) string {
	return table + "_" + strings.Join(columns, "_") + "_unique"
}

// DefaultForeignKeyName is the name given to foreign keys declared without one.
func DefaultForeignKeyName(table string, columns []string, tableTo string, columnsTo []string) string {
	return table + "_" + strings.Join(columns, "_") + "_" + tableTo + "_" + strings.Join(columnsTo, "_") + "_fk"
}

// HasDefaultName reports whether the key is rendered without a CONSTRAINT clause.
// SQLite derives such names from the table, so they follow table renames.
func (p PrimaryKey) HasDefaultName() bool {
	return !p.NameExplicit && p.Name == DefaultPrimaryKeyName(p.Table)
}

func (u UniqueConstraint) HasDefaultName() bool {
	return !u.NameExplicit && u.Name == DefaultUniqueName(u.Table, u.Columns)
}

func (f ForeignKey) HasDefaultName() bool {
	return f.Name == DefaultForeignKeyName(f.Table, f.Columns, f.TableTo, f.ColumnsTo)
}

// Text returns a pointer to value, for Column.Default.
func Text(value string) *string {
	return &value
}

func tableScoped(table, name string) string {
	return table + "." + name
}

func normalizeAction(action string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(action))
	if trimmed == "" {
		return "NO ACTION"
	}
	return trimmed
}
