package sqlite

import (
	"encoding/json"
	"fmt"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/ddl"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
)

const (
	entityTables  = "tables"
	entityColumns = "columns"
	entityPKs     = "pks"
	entityFKs     = "fks"
	entityUniques = "uniques"
	entityChecks  = "checks"
	entityIndexes = "indexes"
	entityViews   = "views"
)

type snapshotJSON struct {
	ddl.Header
	DDL  []json.RawMessage `json:"ddl"`
	Meta Meta              `json:"_meta"`
}

type entityType struct {
	EntityType string `json:"entityType"`
}

type taggedEntity struct {
	EntityType string
	Entity     ddl.Entity
}

// MarshalJSON flattens the entity so entityType sits beside the entity fields.
func (t taggedEntity) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(t.Entity)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(t.EntityType)
	fields["entityType"] = kind
	return json.Marshal(fields)
}

// MarshalJSON renders the current on-disk revision.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{
		Header: s.Header,
		DDL:    []json.RawMessage{},
		Meta:   Meta{Tables: copyMap(s.Meta.Tables), Columns: copyMap(s.Meta.Columns)},
	}
	if out.Version == "" {
		out.Version = dialect.SQLite.CurrentVersion()
	}
	out.Dialect = dialect.SQLite.String()

	appendAll := func(kind string, entities []ddl.Entity) error {
		for _, entity := range entities {
			raw, err := json.Marshal(taggedEntity{EntityType: kind, Entity: entity})
			if err != nil {
				return err
			}
			out.DDL = append(out.DDL, raw)
		}
		return nil
	}
	groups := []struct {
		kind     string
		entities []ddl.Entity
	}{
		{entityTables, appendEntities(nil, s.tables.All())},
		{entityColumns, appendEntities(nil, s.columns.All())},
		{entityPKs, appendEntities(nil, s.pks.All())},
		{entityFKs, appendEntities(nil, s.fks.All())},
		{entityUniques, appendEntities(nil, s.uniques.All())},
		{entityChecks, appendEntities(nil, s.checks.All())},
		{entityIndexes, appendEntities(nil, s.indexes.All())},
		{entityViews, appendEntities(nil, s.views.All())},
	}
	for _, group := range groups {
		if err := appendAll(group.kind, group.entities); err != nil {
			return nil, err
		}
	}
	return json.MarshalIndent(out, "", "  ")
}

// UnmarshalJSON accepts only the current revision; older files go through the upgrade engine first.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var in snapshotJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Dialect != dialect.SQLite.String() {
		return fmt.Errorf("%w: expected %s snapshot, got %q", dialect.ErrDialectMismatch, dialect.SQLite, in.Dialect)
	}
	if err := dialect.SQLite.CheckVersion(in.Version); err != nil {
		return err
	}

	decoded := Snapshot{Header: in.Header, Meta: in.Meta}
	if decoded.Meta.Tables == nil {
		decoded.Meta.Tables = map[string]string{}
	}
	if decoded.Meta.Columns == nil {
		decoded.Meta.Columns = map[string]string{}
	}
	for position, raw := range in.DDL {
		entity, err := decodeEntity(raw)
		if err != nil {
			return fmt.Errorf("ddl[%d]: %w", position, err)
		}
		if err := decoded.Add(entity); err != nil {
			return fmt.Errorf("ddl[%d]: %w", position, err)
		}
	}
	*s = decoded
	return nil
}

func decodeEntity(raw json.RawMessage) (ddl.Entity, error) {
	var kind entityType
	if err := json.Unmarshal(raw, &kind); err != nil {
		return nil, err
	}
	switch kind.EntityType {
	case entityTables:
		return decodeAs[Table](raw)
	case entityColumns:
		return decodeAs[Column](raw)
	case entityPKs:
		return decodeAs[PrimaryKey](raw)
	case entityFKs:
		return decodeAs[ForeignKey](raw)
	case entityUniques:
		return decodeAs[UniqueConstraint](raw)
	case entityChecks:
		return decodeAs[CheckConstraint](raw)
	case entityIndexes:
		return decodeAs[Index](raw)
	case entityViews:
		return decodeAs[View](raw)
	default:
		return nil, fmt.Errorf("unknown entityType %q", kind.EntityType)
	}
}

func decodeAs[E ddl.Entity](raw json.RawMessage) (ddl.Entity, error) {
	var entity E
	if err := json.Unmarshal(raw, &entity); err != nil {
		return nil, err
	}
	return entity, nil
}

// ParseSnapshot decodes a current revision SQLite snapshot.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	snapshot := &Snapshot{}
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}
