package ddl

import (
	"reflect"
	"strings"
)

// Kind identifies an entity collection inside a snapshot.
type Kind string

const (
	KindSchema     Kind = "schema"
	KindEnum       Kind = "enum"
	KindSequence   Kind = "sequence"
	KindRole       Kind = "role"
	KindPolicy     Kind = "policy"
	KindTable      Kind = "table"
	KindColumn     Kind = "column"
	KindPrimaryKey Kind = "primary_key"
	KindForeignKey Kind = "foreign_key"
	KindUnique     Kind = "unique"
	KindCheck      Kind = "check"
	KindIndex      Kind = "index"
	KindView       Kind = "view"
)

// Field is one named structural attribute of an entity.
type Field struct {
	Name  string
	Value any
}

// Entity is implemented once per concrete entity kind of each dialect.
type Entity interface {
	Kind() Kind
	// Key is unique among entities of the same kind within one snapshot.
	Key() string
	EntityName() string
	// Fields lists the attributes compared by the diff engine, in a fixed order.
	Fields() []Field
}

// FieldChange records one attribute whose value differs between two entity versions.
type FieldChange struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}

// Compare returns the attribute level changes from before to after.
func Compare(before, after Entity) []FieldChange {
	beforeFields := before.Fields()
	afterValues := make(map[string]any, len(beforeFields))
	for _, field := range after.Fields() {
		afterValues[field.Name] = field.Value
	}

	var changes []FieldChange
	seen := make(map[string]struct{}, len(beforeFields))
	for _, field := range beforeFields {
		seen[field.Name] = struct{}{}
		newValue := afterValues[field.Name]
		if !EqualValues(field.Value, newValue) {
			changes = append(changes, FieldChange{Field: field.Name, Old: field.Value, New: newValue})
		}
	}
	for _, field := range after.Fields() {
		if _, ok := seen[field.Name]; ok {
			continue
		}
		if !EqualValues(nil, field.Value) {
			changes = append(changes, FieldChange{Field: field.Name, Old: nil, New: field.Value})
		}
	}
	return changes
}

// Equal reports whether two entities have the same kind, key and attributes.
func Equal(a, b Entity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() || a.Key() != b.Key() {
		return false
	}
	return len(Compare(a, b)) == 0
}

// EqualValues treats nil and empty slices or maps as equal and otherwise falls back to deep equality.
func EqualValues(a, b any) bool {
	if isEmptyCollection(a) && isEmptyCollection(b) {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func isEmptyCollection(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer:
		return rv.IsNil()
	default:
		return false
	}
}

// QuoteIdent wraps an identifier in double quotes, escaping embedded quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteIdents quotes and comma-joins identifiers.
func QuoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for index, name := range names {
		quoted[index] = QuoteIdent(name)
	}
	return strings.Join(quoted, ", ")
}

// QuoteLiteral renders a single quoted SQL string literal.
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
