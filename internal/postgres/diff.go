package postgres

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/ddl"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
)

// Plan is the ordered result of comparing two snapshots.
// Prev is the previous snapshot with the recorded renames already applied.
type Plan struct {
	Prev  *Snapshot
	Cur   *Snapshot
	Diffs []ddl.EntityDiff

	// deferred holds foreign keys of created tables that are added after every table exists.
	deferred map[string]bool
	// cascade holds dropped tables that reference each other.
	cascade map[string]bool
}

// Empty reports whether the two snapshots are structurally equal.
func (p *Plan) Empty() bool {
	return len(p.Diffs) == 0
}

// Diff compares prev with cur. A nil prev stands for an empty schema.
func Diff(prev, cur *Snapshot) (*Plan, error) {
	if cur == nil {
		return nil, fmt.Errorf("current snapshot is required")
	}
	if prev == nil {
		prev = NewSnapshot()
	}
	for _, snapshot := range []*Snapshot{prev, cur} {
		if snapshot.Dialect != dialect.PostgreSQL.String() {
			return nil, fmt.Errorf("%w: %q is not a %s snapshot", dialect.ErrDialectMismatch, snapshot.Dialect, dialect.PostgreSQL)
		}
	}

	normalized := prev.Clone()
	normalized.ensurePublic()
	renames := applyRenames(normalized, cur)

	notPublic := func(d ddl.EntityDiff) bool { return d.Key != PublicSchema }
	schemas := ddl.DiffKeyed(normalized.schemas.All(), cur.schemas.All())
	enums := ddl.DiffKeyed(normalized.enums.All(), cur.enums.All())
	sequences := ddl.DiffKeyed(normalized.sequences.All(), cur.sequences.All())
	roles := ddl.DiffKeyed(normalized.roles.All(), cur.roles.All())
	policies := ddl.DiffKeyed(normalized.policies.All(), cur.policies.All())
	tables := ddl.DiffKeyed(normalized.tables.All(), cur.tables.All())
	columns := ddl.DiffKeyed(normalized.columns.All(), cur.columns.All())
	pks := ddl.DiffKeyed(normalized.pks.All(), cur.pks.All())
	fks := ddl.DiffKeyed(normalized.fks.All(), cur.fks.All())
	uniques := ddl.DiffKeyed(normalized.uniques.All(), cur.uniques.All())
	checks := ddl.DiffKeyed(normalized.checks.All(), cur.checks.All())
	indexes := ddl.DiffKeyed(normalized.indexes.All(), cur.indexes.All())
	views := ddl.DiffKeyed(normalized.views.All(), cur.views.All())

	created := keysOf(tables.Creates)
	dropped := keysOf(tables.Drops)
	onKeptTable := func(d ddl.EntityDiff) bool { return !dropped[tableKeyOf(d.Entity())] }
	onExistingTable := func(d ddl.EntityDiff) bool { return !created[tableKeyOf(d.Entity())] }

	plan := &Plan{Prev: normalized, Cur: cur, deferred: map[string]bool{}, cascade: map[string]bool{}}
	var out []ddl.EntityDiff

	out = append(out, ddl.Filter(schemas.Creates, notPublic)...)
	out = append(out, roles.Creates...)
	out = append(out, roles.Alters...)
	out = append(out, enums.Creates...)
	out = append(out, sequences.Creates...)
	out = append(out, sequences.Alters...)
	out = append(out, renames...)
	out = append(out, enums.Alters...)
	out = append(out, views.Drops...)
	out = append(out, ddl.Filter(policies.Drops, onKeptTable)...)
	out = append(out, ddl.Filter(fks.Drops, onKeptTable)...)
	out = append(out, ddl.Filter(indexes.Drops, onKeptTable)...)
	out = append(out, ddl.Filter(pks.Drops, onKeptTable)...)
	out = append(out, ddl.Filter(uniques.Drops, onKeptTable)...)
	out = append(out, ddl.Filter(checks.Drops, onKeptTable)...)

	dropOrder, dropCycles := tableOrder(normalized, dropped)
	for key := range dropCycles {
		plan.cascade[key] = true
	}
	for _, key := range ddl.Reverse(dropOrder) {
		out = append(out, withKey(tables.Drops, key)...)
		out = append(out, ownedBy(key, prevOrdered(normalized, columns.Drops), pks.Drops, fks.Drops, uniques.Drops, checks.Drops, indexes.Drops, policies.Drops)...)
	}

	createOrder, createCycles := tableOrder(cur, created)
	var deferred []ddl.EntityDiff
	for _, key := range createOrder {
		out = append(out, withKey(tables.Creates, key)...)
		out = append(out, ownedBy(key, curOrdered(cur, columns.Creates), pks.Creates)...)
		for _, diff := range ownedBy(key, fks.Creates) {
			fk := diff.After.(ForeignKey)
			if fk.TargetKey() == key || (createCycles[key] && createCycles[fk.TargetKey()]) {
				plan.deferred[diff.Key] = true
				deferred = append(deferred, diff)
				continue
			}
			out = append(out, diff)
		}
		out = append(out, ownedBy(key, uniques.Creates, checks.Creates)...)
	}

	for _, table := range cur.Tables() {
		key := table.Key()
		if created[key] {
			continue
		}
		out = append(out, withKey(tables.Alters, key)...)
		out = append(out, ownedBy(key, curOrdered(cur, columns.Creates), columns.Alters, prevOrdered(normalized, columns.Drops))...)
	}

	out = append(out, ddl.Filter(pks.Creates, onExistingTable)...)
	out = append(out, pks.Alters...)
	out = append(out, ddl.Filter(uniques.Creates, onExistingTable)...)
	out = append(out, uniques.Alters...)
	out = append(out, ddl.Filter(checks.Creates, onExistingTable)...)
	out = append(out, checks.Alters...)
	out = append(out, deferred...)
	out = append(out, ddl.Filter(fks.Creates, onExistingTable)...)
	out = append(out, fks.Alters...)
	out = append(out, indexes.Creates...)
	out = append(out, indexes.Alters...)
	out = append(out, policies.Creates...)
	out = append(out, policies.Alters...)
	out = append(out, views.Creates...)
	out = append(out, views.Alters...)
	out = append(out, enums.Drops...)
	out = append(out, sequences.Drops...)
	out = append(out, roles.Drops...)
	out = append(out, ddl.Filter(schemas.Drops, notPublic)...)

	plan.Diffs = out
	return plan, nil
}

func applyRenames(prev, cur *Snapshot) []ddl.EntityDiff {
	var diffs []ddl.EntityDiff
	renamedSchemas := map[string]string{}
	renamedTables := map[string]string{}

	for _, pair := range ddl.Pairs(cur.Meta.Schemas) {
		oldName, newName := unquote(pair[0]), unquote(pair[1])
		schema, ok := prev.schemas.Get(oldName)
		if !ok || oldName == newName || oldName == PublicSchema || prev.schemas.Has(newName) || !cur.schemas.Has(newName) || cur.schemas.Has(oldName) {
			continue
		}
		diffs = append(diffs, ddl.NewRename(schema, Schema{Name: newName}))
		prev.renameSchema(oldName, newName)
		renamedSchemas[oldName] = newName
	}

	for _, pair := range ddl.Pairs(cur.Meta.Tables) {
		oldSchema, oldName := splitQualified(pair[0])
		newSchema, newName := splitQualified(pair[1])
		if target, ok := renamedSchemas[oldSchema]; ok {
			oldSchema = target
		}
		oldKey, newKey := qualifiedKey(oldSchema, oldName), qualifiedKey(newSchema, newName)
		table, ok := prev.tables.Get(oldKey)
		if !ok || oldKey == newKey || prev.tables.Has(newKey) || !cur.tables.Has(newKey) || cur.tables.Has(oldKey) {
			continue
		}
		renamed := table
		renamed.Schema, renamed.Name = newSchema, newName
		diffs = append(diffs, ddl.NewRename(table, renamed))
		prev.renameTable(table, renamed)
		renamedTables[oldKey] = newKey
		if diff, ok := renameDefaultPrimaryKey(prev, cur, table, renamed); ok {
			diffs = append(diffs, diff)
		}
	}

	for _, pair := range ddl.Pairs(cur.Meta.Columns) {
		oldSchema, oldTable, oldColumn, okOld := splitColumnKey(pair[0])
		newSchema, newTable, newColumn, okNew := splitColumnKey(pair[1])
		if !okOld || !okNew {
			continue
		}
		if target, ok := renamedSchemas[oldSchema]; ok {
			oldSchema = target
		}
		oldTableKey, newTableKey := qualifiedKey(oldSchema, oldTable), qualifiedKey(newSchema, newTable)
		if target, ok := renamedTables[oldTableKey]; ok {
			oldTableKey = target
		}
		if oldTableKey != newTableKey || oldColumn == newColumn {
			continue
		}
		column, ok := prev.columns.Get(newTableKey + "." + oldColumn)
		if !ok || prev.columns.Has(newTableKey+"."+newColumn) || !cur.columns.Has(newTableKey+"."+newColumn) || cur.columns.Has(newTableKey+"."+oldColumn) {
			continue
		}
		renamed := column
		renamed.Name = newColumn
		diffs = append(diffs, ddl.NewRename(column, renamed))
		prev.renameColumn(column, newColumn)
	}
	return diffs
}

// renameDefaultPrimaryKey follows a table rename with a rename of its primary key when
// both snapshots use the default name. ALTER TABLE RENAME keeps constraint names.
func renameDefaultPrimaryKey(prev, cur *Snapshot, before, after Table) (ddl.EntityDiff, bool) {
	tableKey := qualifiedKey(after.Schema, after.Name)
	pk, ok := prev.PrimaryKey(tableKey)
	if !ok || pk.Name != DefaultPrimaryKeyName(before.Name) || pk.Name == DefaultPrimaryKeyName(after.Name) {
		return ddl.EntityDiff{}, false
	}
	curPK, ok := cur.PrimaryKey(tableKey)
	if !ok || curPK.Name != DefaultPrimaryKeyName(after.Name) {
		return ddl.EntityDiff{}, false
	}
	renamed := pk
	renamed.Name = curPK.Name
	prev.pks.Replace(pk.Key(), renamed)
	return ddl.NewRename(pk, renamed), true
}

func (s *Snapshot) renameSchema(oldName, newName string) {
	s.schemas.Replace(oldName, Schema{Name: newName})
	moveSchema(&s.enums, oldName, newName, func(e *Enum) *string { return &e.Schema })
	moveSchema(&s.sequences, oldName, newName, func(q *Sequence) *string { return &q.Schema })
	moveSchema(&s.policies, oldName, newName, func(p *Policy) *string { return &p.Schema })
	moveSchema(&s.tables, oldName, newName, func(t *Table) *string { return &t.Schema })
	moveSchema(&s.columns, oldName, newName,
		func(c *Column) *string { return &c.Schema },
		func(c *Column) *string { return &c.TypeSchema })
	moveSchema(&s.pks, oldName, newName, func(p *PrimaryKey) *string { return &p.Schema })
	moveSchema(&s.fks, oldName, newName,
		func(f *ForeignKey) *string { return &f.Schema },
		func(f *ForeignKey) *string { return &f.SchemaTo })
	moveSchema(&s.uniques, oldName, newName, func(u *UniqueConstraint) *string { return &u.Schema })
	moveSchema(&s.checks, oldName, newName, func(c *CheckConstraint) *string { return &c.Schema })
	moveSchema(&s.indexes, oldName, newName, func(i *Index) *string { return &i.Schema })
	moveSchema(&s.views, oldName, newName, func(v *View) *string { return &v.Schema })
}

// moveSchema rewrites every schema reference selected by fields from oldName to newName.
func moveSchema[E ddl.Entity](c *ddl.Collection[E], oldName, newName string, fields ...func(*E) *string) {
	ddl.Rewrite(c, func(entity E) (E, bool) {
		changed := false
		for _, field := range fields {
			if value := field(&entity); *value == oldName {
				*value = newName
				changed = true
			}
		}
		return entity, changed
	})
}

func (s *Snapshot) renameTable(from, to Table) {
	s.tables.Replace(from.Key(), to)
	owned := func(schema, table string) bool { return schema == from.Schema && table == from.Name }

	ddl.Rewrite(&s.columns, func(c Column) (Column, bool) {
		if !owned(c.Schema, c.Table) {
			return c, false
		}
		c.Schema, c.Table = to.Schema, to.Name
		return c, true
	})
	ddl.Rewrite(&s.pks, func(p PrimaryKey) (PrimaryKey, bool) {
		if !owned(p.Schema, p.Table) {
			return p, false
		}
		p.Schema, p.Table = to.Schema, to.Name
		return p, true
	})
	ddl.Rewrite(&s.uniques, func(u UniqueConstraint) (UniqueConstraint, bool) {
		if !owned(u.Schema, u.Table) {
			return u, false
		}
		u.Schema, u.Table = to.Schema, to.Name
		return u, true
	})
	ddl.Rewrite(&s.checks, func(c CheckConstraint) (CheckConstraint, bool) {
		if !owned(c.Schema, c.Table) {
			return c, false
		}
		c.Schema, c.Table = to.Schema, to.Name
		return c, true
	})
	ddl.Rewrite(&s.indexes, func(i Index) (Index, bool) {
		if !owned(i.Schema, i.Table) {
			return i, false
		}
		i.Schema, i.Table = to.Schema, to.Name
		return i, true
	})
	ddl.Rewrite(&s.policies, func(p Policy) (Policy, bool) {
		if !owned(p.Schema, p.Table) {
			return p, false
		}
		p.Schema, p.Table = to.Schema, to.Name
		return p, true
	})
	ddl.Rewrite(&s.fks, func(f ForeignKey) (ForeignKey, bool) {
		changed := false
		if owned(f.Schema, f.Table) {
			f.Schema, f.Table = to.Schema, to.Name
			changed = true
		}
		if owned(f.SchemaTo, f.TableTo) {
			f.SchemaTo, f.TableTo = to.Schema, to.Name
			changed = true
		}
		return f, changed
	})
}

func (s *Snapshot) renameColumn(column Column, newName string) {
	tableKey := qualifiedKey(column.Schema, column.Table)
	renamed := column
	renamed.Name = newName
	s.columns.Replace(column.Key(), renamed)

	if pk, ok := s.PrimaryKey(tableKey); ok {
		pk.Columns = replaceName(pk.Columns, column.Name, newName)
		s.pks.Replace(pk.Key(), pk)
	}
	for _, unique := range s.Uniques(tableKey) {
		unique.Columns = replaceName(unique.Columns, column.Name, newName)
		s.uniques.Replace(unique.Key(), unique)
	}
	for _, index := range s.Indexes(tableKey) {
		columns := make([]IndexColumn, len(index.Columns))
		for position, indexColumn := range index.Columns {
			if !indexColumn.IsExpression && indexColumn.Expression == column.Name {
				indexColumn.Expression = newName
			}
			columns[position] = indexColumn
		}
		index.Columns = columns
		s.indexes.Replace(index.Key(), index)
	}
	ddl.Rewrite(&s.fks, func(f ForeignKey) (ForeignKey, bool) {
		changed := false
		if qualifiedKey(f.Schema, f.Table) == tableKey {
			f.Columns = replaceName(f.Columns, column.Name, newName)
			changed = true
		}
		if f.TargetKey() == tableKey {
			f.ColumnsTo = replaceName(f.ColumnsTo, column.Name, newName)
			changed = true
		}
		return f, changed
	})
}

func replaceName(names []string, oldName, newName string) []string {
	out := make([]string, len(names))
	for position, name := range names {
		if name == oldName {
			name = newName
		}
		out[position] = name
	}
	return out
}

// tableOrder sorts the selected tables so referenced tables come first.
func tableOrder(snapshot *Snapshot, selected map[string]bool) ([]string, map[string]bool) {
	nodes := make([]string, 0, len(selected))
	for key := range selected {
		nodes = append(nodes, key)
	}
	sort.Strings(nodes)
	dependsOn := map[string][]string{}
	for _, fk := range snapshot.fks.All() {
		from := qualifiedKey(fk.Schema, fk.Table)
		if selected[from] {
			dependsOn[from] = append(dependsOn[from], fk.TargetKey())
		}
	}
	return ddl.DependencyOrder(nodes, dependsOn)
}

// tableKeyOf returns the "schema.table" key of a table or of the table owning entity.
func tableKeyOf(entity ddl.Entity) string {
	switch typed := entity.(type) {
	case Table:
		return typed.Key()
	case Column:
		return qualifiedKey(typed.Schema, typed.Table)
	case PrimaryKey:
		return qualifiedKey(typed.Schema, typed.Table)
	case ForeignKey:
		return qualifiedKey(typed.Schema, typed.Table)
	case UniqueConstraint:
		return qualifiedKey(typed.Schema, typed.Table)
	case CheckConstraint:
		return qualifiedKey(typed.Schema, typed.Table)
	case Index:
		return qualifiedKey(typed.Schema, typed.Table)
	case Policy:
		return qualifiedKey(typed.Schema, typed.Table)
	default:
		return ""
	}
}

func keysOf(diffs []ddl.EntityDiff) map[string]bool {
	keys := make(map[string]bool, len(diffs))
	for _, diff := range diffs {
		keys[diff.Key] = true
	}
	return keys
}

func withKey(diffs []ddl.EntityDiff, key string) []ddl.EntityDiff {
	return ddl.Filter(diffs, func(d ddl.EntityDiff) bool { return d.Key == key })
}

func ownedBy(tableKey string, groups ...[]ddl.EntityDiff) []ddl.EntityDiff {
	var out []ddl.EntityDiff
	for _, group := range groups {
		out = append(out, ddl.Filter(group, func(d ddl.EntityDiff) bool { return tableKeyOf(d.Entity()) == tableKey })...)
	}
	return out
}

func curOrdered(cur *Snapshot, diffs []ddl.EntityDiff) []ddl.EntityDiff {
	return byPosition(cur, diffs)
}

func prevOrdered(prev *Snapshot, diffs []ddl.EntityDiff) []ddl.EntityDiff {
	return byPosition(prev, diffs)
}

// byPosition sorts column diffs by declaration order in snapshot.
func byPosition(snapshot *Snapshot, diffs []ddl.EntityDiff) []ddl.EntityDiff {
	position := map[string]int{}
	for index, column := range snapshot.columns.All() {
		position[column.Key()] = index
	}
	out := make([]ddl.EntityDiff, len(diffs))
	copy(out, diffs)
	sort.SliceStable(out, func(i, j int) bool { return position[out[i].Key] < position[out[j].Key] })
	return out
}

func unquote(name string) string {
	return strings.ReplaceAll(name, `"`, "")
}
