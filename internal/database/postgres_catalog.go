package database

import (
	"strings"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/postgres"
)

// pgCatalog holds the rows read by PostgresIntrospector, in query order.
type pgCatalog struct {
	schemas     []string
	enums       []pgEnumValue
	sequences   []postgres.Sequence
	tables      []postgres.Table
	columns     []pgColumn
	constraints []pgConstraint
	indexes     []pgIndex
	policies    []postgres.Policy
	views       []postgres.View
}

type pgEnumValue struct {
	schema string
	name   string
	value  string
}

type pgColumn struct {
	schema       string
	table        string
	name         string
	dataType     string
	typeSchema   string
	notNull      bool
	defaultValue *string
	generated    string
	identity     string
}

type pgConstraint struct {
	schema           string
	table            string
	name             string
	kind             string
	columns          []string
	schemaTo         string
	tableTo          string
	columnsTo        []string
	onUpdate         string
	onDelete         string
	definition       string
	nullsNotDistinct bool
}

type pgIndex struct {
	schema      string
	table       string
	name        string
	unique      bool
	method      string
	expressions []string
	keys        []int16
	options     []int16
	where       string
}

const (
	indexOptionDesc       = 1
	indexOptionNullsFirst = 2
)

var foreignKeyActions = map[string]string{
	"a": "no action",
	"r": "restrict",
	"c": "cascade",
	"n": "set null",
	"d": "set default",
}

// assemblePostgres turns catalog rows into a snapshot.
func assemblePostgres(catalog pgCatalog) (*postgres.Snapshot, error) {
	snapshot := postgres.NewSnapshot()
	for _, schema := range catalog.schemas {
		if schema == postgres.PublicSchema {
			continue
		}
		if err := snapshot.Add(postgres.Schema{Name: schema}); err != nil {
			return nil, err
		}
	}

	var enums []postgres.Enum
	for _, row := range catalog.enums {
		last := len(enums) - 1
		if last < 0 || enums[last].Schema != row.schema || enums[last].Name != row.name {
			enums = append(enums, postgres.Enum{Schema: row.schema, Name: row.name})
			last++
		}
		enums[last].Values = append(enums[last].Values, row.value)
	}
	for _, enum := range enums {
		if err := snapshot.Add(enum); err != nil {
			return nil, err
		}
	}

	for _, sequence := range catalog.sequences {
		if err := snapshot.Add(sequence); err != nil {
			return nil, err
		}
	}
	for _, table := range catalog.tables {
		if err := snapshot.Add(table); err != nil {
			return nil, err
		}
	}
	for _, row := range catalog.columns {
		if err := snapshot.Add(columnFromCatalog(row)); err != nil {
			return nil, err
		}
	}
	for _, row := range catalog.constraints {
		if err := addConstraint(snapshot, row); err != nil {
			return nil, err
		}
	}
	for _, row := range catalog.indexes {
		if err := snapshot.Add(indexFromCatalog(row)); err != nil {
			return nil, err
		}
	}
	for _, policy := range catalog.policies {
		policy.As = strings.ToUpper(policy.As)
		policy.For = strings.ToUpper(policy.For)
		if err := snapshot.Add(policy); err != nil {
			return nil, err
		}
	}
	for _, view := range catalog.views {
		view.Definition = strings.TrimSuffix(strings.TrimSpace(view.Definition), ";")
		if err := snapshot.Add(view); err != nil {
			return nil, err
		}
	}
	return snapshot, nil
}

func columnFromCatalog(row pgColumn) postgres.Column {
	column := postgres.Column{
		Schema:     row.schema,
		Table:      row.table,
		Name:       row.name,
		Type:       row.dataType,
		TypeSchema: row.typeSchema,
		NotNull:    row.notNull,
		Default:    row.defaultValue,
	}
	if row.generated == "s" && row.defaultValue != nil {
		column.Generated = &postgres.Generated{Expression: *row.defaultValue, Type: "stored"}
		column.Default = nil
	}
	switch row.identity {
	case "a":
		column.Identity = &postgres.Identity{Type: postgres.IdentityAlways}
	case "d":
		column.Identity = &postgres.Identity{Type: postgres.IdentityByDefault}
	}
	return column
}

func addConstraint(snapshot *postgres.Snapshot, row pgConstraint) error {
	switch row.kind {
	case "p":
		return snapshot.Add(postgres.PrimaryKey{Schema: row.schema, Table: row.table, Name: row.name, Columns: row.columns})
	case "u":
		return snapshot.Add(postgres.UniqueConstraint{
			Schema:           row.schema,
			Table:            row.table,
			Name:             row.name,
			Columns:          row.columns,
			NullsNotDistinct: row.nullsNotDistinct,
		})
	case "f":
		return snapshot.Add(postgres.ForeignKey{
			Schema:    row.schema,
			Table:     row.table,
			Name:      row.name,
			Columns:   row.columns,
			SchemaTo:  row.schemaTo,
			TableTo:   row.tableTo,
			ColumnsTo: row.columnsTo,
			OnUpdate:  foreignKeyActions[row.onUpdate],
			OnDelete:  foreignKeyActions[row.onDelete],
		})
	case "c":
		return snapshot.Add(postgres.CheckConstraint{Schema: row.schema, Table: row.table, Name: row.name, Value: checkExpression(row.definition)})
	}
	return nil
}

// checkExpression strips the CHECK keyword and one level of parentheses from a constraint definition.
func checkExpression(definition string) string {
	trimmed := strings.TrimSpace(definition)
	if len(trimmed) >= 5 && strings.EqualFold(trimmed[:5], "CHECK") {
		trimmed = strings.TrimSpace(trimmed[5:])
	}
	if strings.HasPrefix(trimmed, "(") && matchParen(trimmed, 0) == len(trimmed)-1 {
		trimmed = trimmed[1 : len(trimmed)-1]
	}
	return strings.TrimSpace(trimmed)
}

func indexFromCatalog(row pgIndex) postgres.Index {
	index := postgres.Index{
		Schema:   row.schema,
		Table:    row.table,
		Name:     row.name,
		IsUnique: row.unique,
		Method:   row.method,
		Where:    row.where,
		With:     map[string]string{},
	}
	for position, expression := range row.expressions {
		column := postgres.IndexColumn{Expression: expression, Asc: true, Nulls: "last"}
		if position < len(row.keys) && row.keys[position] == 0 {
			column.IsExpression = true
		} else {
			column.Expression = unquoteIdent(expression)
		}
		if position < len(row.options) {
			option := row.options[position]
			column.Asc = option&indexOptionDesc == 0
			if option&indexOptionNullsFirst != 0 {
				column.Nulls = "first"
			}
		}
		index.Columns = append(index.Columns, column)
	}
	return index
}
