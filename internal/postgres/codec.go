package postgres

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/ddl"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
)

var errInvalidJSON = errors.New("invalid snapshot json")

// object is a JSON object that keeps the order its members were appended in.
type object []member

type member struct {
	key   string
	value any
}

func (o object) MarshalJSON() ([]byte, error) {
	var buffer bytes.Buffer
	buffer.WriteByte('{')
	for position, entry := range o {
		if position > 0 {
			buffer.WriteByte(',')
		}
		key, err := json.Marshal(entry.key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(entry.value)
		if err != nil {
			return nil, err
		}
		buffer.Write(key)
		buffer.WriteByte(':')
		buffer.Write(value)
	}
	buffer.WriteByte('}')
	return buffer.Bytes(), nil
}

type snapshotJSON struct {
	ddl.Header
	Schemas   object      `json:"schemas"`
	Enums     object      `json:"enums"`
	Sequences object      `json:"sequences"`
	Roles     object      `json:"roles"`
	Policies  object      `json:"policies"`
	Views     object      `json:"views"`
	Tables    object      `json:"tables"`
	Meta      ddl.Renames `json:"_meta"`
}

type tableJSON struct {
	Name                 string `json:"name"`
	Schema               string `json:"schema"`
	Columns              object `json:"columns"`
	Indexes              object `json:"indexes"`
	ForeignKeys          object `json:"foreignKeys"`
	CompositePrimaryKeys object `json:"compositePrimaryKeys"`
	UniqueConstraints    object `json:"uniqueConstraints"`
	CheckConstraints     object `json:"checkConstraints"`
	IsRLSEnabled         bool   `json:"isRLSEnabled"`
}

type columnJSON struct {
	Column
	PrimaryKey bool `json:"primaryKey"`
}

// MarshalJSON renders the current on-disk revision: name keyed objects, columns in declaration order.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{Header: s.Header, Meta: s.Meta.Normalize()}
	if out.Version == "" {
		out.Version = dialect.PostgreSQL.CurrentVersion()
	}
	out.Dialect = dialect.PostgreSQL.String()

	for _, schema := range s.Schemas() {
		if schema.Name != PublicSchema {
			out.Schemas = append(out.Schemas, member{schema.Name, schema})
		}
	}
	for _, enum := range s.Enums() {
		out.Enums = append(out.Enums, member{enum.Key(), enum})
	}
	for _, sequence := range s.Sequences() {
		out.Sequences = append(out.Sequences, member{sequence.Key(), sequence})
	}
	for _, role := range s.Roles() {
		out.Roles = append(out.Roles, member{role.Key(), role})
	}
	for _, policy := range s.policies.Sorted() {
		out.Policies = append(out.Policies, member{policy.Key(), policy})
	}
	for _, view := range s.Views() {
		out.Views = append(out.Views, member{view.Key(), view})
	}
	for _, table := range s.Tables() {
		out.Tables = append(out.Tables, member{table.Key(), s.encodeTable(table)})
	}
	return json.MarshalIndent(out, "", "  ")
}

func (s *Snapshot) encodeTable(table Table) tableJSON {
	key := table.Key()
	encoded := tableJSON{Name: table.Name, Schema: table.Schema, IsRLSEnabled: table.IsRLSEnabled}

	inlinePK := ""
	if pk, ok := s.PrimaryKey(key); ok {
		if len(pk.Columns) == 1 && pk.Name == DefaultPrimaryKeyName(table.Name) {
			inlinePK = pk.Columns[0]
		} else {
			encoded.CompositePrimaryKeys = append(encoded.CompositePrimaryKeys, member{pk.Name, pk})
		}
	}
	for _, column := range s.Columns(key) {
		encoded.Columns = append(encoded.Columns, member{column.Name, columnJSON{Column: column, PrimaryKey: column.Name == inlinePK}})
	}
	for _, index := range sortedByName(s.Indexes(key)) {
		encoded.Indexes = append(encoded.Indexes, member{index.Name, index})
	}
	for _, fk := range sortedByName(s.ForeignKeys(key)) {
		encoded.ForeignKeys = append(encoded.ForeignKeys, member{fk.Name, fk})
	}
	for _, unique := range sortedByName(s.Uniques(key)) {
		encoded.UniqueConstraints = append(encoded.UniqueConstraints, member{unique.Name, unique})
	}
	for _, check := range sortedByName(s.Checks(key)) {
		encoded.CheckConstraints = append(encoded.CheckConstraints, member{check.Name, check})
	}
	return encoded
}

// UnmarshalJSON accepts only the current revision. Objects are walked in document order so that
// column order survives a round trip.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errInvalidJSON
	}
	document := gjson.ParseBytes(data)
	header := ddl.Header{
		Version: document.Get("version").String(),
		Dialect: document.Get("dialect").String(),
		ID:      document.Get("id").String(),
		PrevID:  document.Get("prevId").String(),
	}
	if header.Dialect != dialect.PostgreSQL.String() {
		return fmt.Errorf("%w: expected %s snapshot, got %q", dialect.ErrDialectMismatch, dialect.PostgreSQL, header.Dialect)
	}
	if err := dialect.PostgreSQL.CheckVersion(header.Version); err != nil {
		return err
	}

	decoded := &Snapshot{Header: header, Meta: ddl.NewRenames()}
	decoded.ensurePublic()
	if meta := document.Get("_meta"); meta.Exists() {
		if err := json.Unmarshal([]byte(meta.Raw), &decoded.Meta); err != nil {
			return fmt.Errorf("_meta: %w", err)
		}
		decoded.Meta = decoded.Meta.Normalize()
	}

	err := eachMember(document.Get("schemas"), "schemas", func(key string, value gjson.Result) error {
		schema := Schema{Name: key}
		if value.IsObject() {
			schema.Name = orDefault(value.Get("name").String(), key)
		}
		if decoded.schemas.Has(schema.Name) {
			return nil
		}
		return decoded.Add(schema)
	})
	if err != nil {
		return err
	}
	if err := decodeMembers[Enum](decoded, document.Get("enums"), "enums"); err != nil {
		return err
	}
	if err := decodeMembers[Sequence](decoded, document.Get("sequences"), "sequences"); err != nil {
		return err
	}
	if err := decodeMembers[Role](decoded, document.Get("roles"), "roles"); err != nil {
		return err
	}
	if err := decodeMembers[Policy](decoded, document.Get("policies"), "policies"); err != nil {
		return err
	}
	if err := decodeMembers[View](decoded, document.Get("views"), "views"); err != nil {
		return err
	}
	err = eachMember(document.Get("tables"), "tables", func(key string, value gjson.Result) error {
		return decoded.decodeTable(value)
	})
	if err != nil {
		return err
	}
	*s = *decoded
	return nil
}

func (s *Snapshot) decodeTable(value gjson.Result) error {
	table, err := decodeValue[Table](value)
	if err != nil {
		return err
	}
	table.Schema = orDefault(table.Schema, PublicSchema)
	if err := s.Add(table); err != nil {
		return err
	}

	var pks []PrimaryKey
	err = eachMember(value.Get("columns"), "columns", func(name string, raw gjson.Result) error {
		decoded, err := decodeValue[columnJSON](raw)
		if err != nil {
			return err
		}
		column := decoded.Column
		column.Schema, column.Table = table.Schema, table.Name
		column.Name = orDefault(column.Name, name)
		if decoded.PrimaryKey {
			pks = append(pks, PrimaryKey{Name: DefaultPrimaryKeyName(table.Name), Columns: []string{column.Name}})
		}
		return s.Add(column)
	})
	if err != nil {
		return err
	}
	err = eachMember(value.Get("compositePrimaryKeys"), "compositePrimaryKeys", func(name string, raw gjson.Result) error {
		pk, err := decodeValue[PrimaryKey](raw)
		if err != nil {
			return err
		}
		pk.Name = orDefault(pk.Name, name)
		pks = append(pks, pk)
		return nil
	})
	if err != nil {
		return err
	}
	if len(pks) > 1 {
		return fmt.Errorf("table %s declares %d primary keys", table.Key(), len(pks))
	}
	for _, pk := range pks {
		pk.Schema, pk.Table = table.Schema, table.Name
		if err := s.Add(pk); err != nil {
			return err
		}
	}

	owned := []struct {
		path   string
		decode func(name string, raw gjson.Result) (ddl.Entity, error)
	}{
		{"indexes", func(name string, raw gjson.Result) (ddl.Entity, error) {
			index, err := decodeValue[Index](raw)
			index.Schema, index.Table, index.Name = table.Schema, table.Name, orDefault(index.Name, name)
			return index, err
		}},
		{"foreignKeys", func(name string, raw gjson.Result) (ddl.Entity, error) {
			fk, err := decodeValue[ForeignKey](raw)
			fk.Schema, fk.Table, fk.Name = table.Schema, table.Name, orDefault(fk.Name, name)
			return fk, err
		}},
		{"uniqueConstraints", func(name string, raw gjson.Result) (ddl.Entity, error) {
			unique, err := decodeValue[UniqueConstraint](raw)
			unique.Schema, unique.Table, unique.Name = table.Schema, table.Name, orDefault(unique.Name, name)
			return unique, err
		}},
		{"checkConstraints", func(name string, raw gjson.Result) (ddl.Entity, error) {
			check, err := decodeValue[CheckConstraint](raw)
			check.Schema, check.Table, check.Name = table.Schema, table.Name, orDefault(check.Name, name)
			return check, err
		}},
	}
	for _, group := range owned {
		err := eachMember(value.Get(group.path), group.path, func(name string, raw gjson.Result) error {
			entity, err := group.decode(name, raw)
			if err != nil {
				return err
			}
			return s.Add(entity)
		})
		if err != nil {
			return fmt.Errorf("%s: %w", table.Key(), err)
		}
	}
	return nil
}

func eachMember(value gjson.Result, path string, fn func(key string, value gjson.Result) error) error {
	if !value.Exists() || value.Type == gjson.Null {
		return nil
	}
	if !value.IsObject() {
		return fmt.Errorf("%s: expected an object", path)
	}
	var err error
	value.ForEach(func(key, entry gjson.Result) bool {
		if callErr := fn(key.String(), entry); callErr != nil {
			err = fmt.Errorf("%s.%s: %w", path, key.String(), callErr)
			return false
		}
		return true
	})
	return err
}

func decodeMembers[E ddl.Entity](s *Snapshot, value gjson.Result, path string) error {
	return eachMember(value, path, func(key string, raw gjson.Result) error {
		entity, err := decodeValue[E](raw)
		if err != nil {
			return err
		}
		return s.Add(entity)
	})
}

func decodeValue[T any](value gjson.Result) (T, error) {
	var out T
	err := json.Unmarshal([]byte(value.Raw), &out)
	return out, err
}

func sortedByName[E ddl.Entity](entities []E) []E {
	out := append([]E(nil), entities...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].EntityName() < out[j].EntityName() })
	return out
}

// ParseSnapshot decodes a current revision PostgreSQL snapshot.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	snapshot := &Snapshot{}
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}
