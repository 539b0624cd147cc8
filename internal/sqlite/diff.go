package sqlite

import (
	"fmt"
	"sort"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/ddl"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
)

// Plan is the ordered result of comparing two snapshots.
// Prev is the previous snapshot with the recorded renames already applied.
type Plan struct {
	Prev  *Snapshot
	Cur   *Snapshot
	Diffs []ddl.EntityDiff

	createCycle bool
	dropCycle   bool
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
		if snapshot.Dialect != dialect.SQLite.String() {
			return nil, fmt.Errorf("%w: %q is not a %s snapshot", dialect.ErrDialectMismatch, snapshot.Dialect, dialect.SQLite)
		}
	}

	normalized := prev.Clone()
	renames := applyRenames(normalized, cur)

	tables := ddl.DiffKeyed(normalized.tables.All(), cur.tables.All())
	columns := ddl.DiffKeyed(normalized.columns.All(), cur.columns.All())
	pks := ddl.DiffKeyed(normalized.pks.All(), cur.pks.All())
	fks := ddl.DiffKeyed(normalized.fks.All(), cur.fks.All())
	uniques := ddl.DiffKeyed(normalized.uniques.All(), cur.uniques.All())
	checks := ddl.DiffKeyed(normalized.checks.All(), cur.checks.All())
	indexes := ddl.DiffKeyed(normalized.indexes.All(), cur.indexes.All())
	views := ddl.DiffKeyed(normalized.views.All(), cur.views.All())

	created := namesOf(tables.Creates)
	dropped := namesOf(tables.Drops)

	plan := &Plan{Prev: normalized, Cur: cur}
	out := make([]ddl.EntityDiff, 0, len(renames)+len(tables.Creates)+len(columns.Creates))

	out = append(out, views.Drops...)
	out = append(out, renames...)
	out = append(out, ddl.Filter(indexes.Drops, func(d ddl.EntityDiff) bool { return !dropped[tableOf(d.Entity())] })...)

	dropOrder, dropCycles := fkOrder(normalized, dropped)
	plan.dropCycle = len(dropCycles) > 0
	for _, name := range ddl.Reverse(dropOrder) {
		for _, diff := range tables.Drops {
			if diff.Name == name {
				out = append(out, diff)
			}
		}
		out = append(out, ownedBy(name, prevOrdered(normalized, columns.Drops), pks.Drops, fks.Drops, uniques.Drops, checks.Drops, indexes.Drops)...)
	}

	createOrder, createCycles := fkOrder(cur, created)
	plan.createCycle = len(createCycles) > 0
	for _, name := range createOrder {
		for _, diff := range tables.Creates {
			if diff.Name == name {
				out = append(out, diff)
			}
		}
		out = append(out, ownedBy(name, curOrdered(cur, columns.Creates), pks.Creates, fks.Creates, uniques.Creates, checks.Creates)...)
	}

	for _, table := range cur.tables.Sorted() {
		if created[table.Name] {
			continue
		}
		for _, diff := range tables.Alters {
			if diff.Name == table.Name {
				out = append(out, diff)
			}
		}
		out = append(out, ownedBy(table.Name, curOrdered(cur, columns.Creates), columns.Alters, prevOrdered(normalized, columns.Drops))...)
		out = append(out, ownedBy(table.Name, pks.Drops, pks.Creates, pks.Alters)...)
		out = append(out, ownedBy(table.Name, fks.Drops, fks.Creates, fks.Alters)...)
		out = append(out, ownedBy(table.Name, uniques.Drops, uniques.Creates, uniques.Alters)...)
		out = append(out, ownedBy(table.Name, checks.Drops, checks.Creates, checks.Alters)...)
	}

	out = append(out, indexes.Creates...)
	out = append(out, indexes.Alters...)
	out = append(out, views.Creates...)
	out = append(out, views.Alters...)

	plan.Diffs = out
	return plan, nil
}

func applyRenames(prev, cur *Snapshot) []ddl.EntityDiff {
	var diffs []ddl.EntityDiff
	renamedTables := map[string]string{}

	for _, pair := range ddl.Pairs(cur.Meta.Tables) {
		oldName, newName := pair[0], pair[1]
		table, ok := prev.tables.Get(oldName)
		if !ok || oldName == newName || prev.tables.Has(newName) || !cur.tables.Has(newName) || cur.tables.Has(oldName) {
			continue
		}
		renamed := table
		renamed.Name = newName
		diffs = append(diffs, ddl.NewRename(table, renamed))
		prev.renameTable(oldName, newName)
		renamedTables[oldName] = newName
	}

	for _, pair := range ddl.Pairs(cur.Meta.Columns) {
		oldTable, oldColumn, okOld := splitColumnKey(pair[0])
		newTable, newColumn, okNew := splitColumnKey(pair[1])
		if !okOld || !okNew {
			continue
		}
		if target, ok := renamedTables[oldTable]; ok {
			oldTable = target
		}
		if target, ok := renamedTables[newTable]; ok {
			newTable = target
		}
		if oldTable != newTable || oldColumn == newColumn {
			continue
		}
		column, ok := prev.columns.Get(tableScoped(oldTable, oldColumn))
		if !ok || prev.columns.Has(tableScoped(newTable, newColumn)) || !cur.columns.Has(tableScoped(newTable, newColumn)) {
			continue
		}
		renamed := column
		renamed.Name = newColumn
		diffs = append(diffs, ddl.NewRename(column, renamed))
		prev.renameColumn(oldTable, oldColumn, newColumn)
	}
	return diffs
}

func (s *Snapshot) renameTable(oldName, newName string) {
	table, _ := s.tables.Get(oldName)
	table.Name = newName
	s.tables.Replace(oldName, table)

	for _, column := range s.Columns(oldName) {
		key := column.Key()
		column.Table = newName
		s.columns.Replace(key, column)
	}
	for _, pk := range s.pks.Where(func(p PrimaryKey) bool { return p.Table == oldName }) {
		key, derived := pk.Key(), pk.HasDefaultName()
		pk.Table = newName
		if derived {
			pk.Name = DefaultPrimaryKeyName(newName)
		}
		s.pks.Replace(key, pk)
	}
	for _, unique := range s.Uniques(oldName) {
		key, derived := unique.Key(), unique.HasDefaultName()
		unique.Table = newName
		if derived {
			unique.Name = DefaultUniqueName(newName, unique.Columns)
		}
		s.uniques.Replace(key, unique)
	}
	for _, check := range s.Checks(oldName) {
		key := check.Key()
		check.Table = newName
		s.checks.Replace(key, check)
	}
	for _, index := range s.Indexes(oldName) {
		key := index.Key()
		index.Table = newName
		s.indexes.Replace(key, index)
	}
	for _, fk := range s.fks.All() {
		if fk.Table != oldName && fk.TableTo != oldName {
			continue
		}
		key, derived := fk.Key(), fk.HasDefaultName()
		if fk.Table == oldName {
			fk.Table = newName
		}
		if fk.TableTo == oldName {
			fk.TableTo = newName
		}
		if derived {
			fk.Name = DefaultForeignKeyName(fk.Table, fk.Columns, fk.TableTo, fk.ColumnsTo)
		}
		s.fks.Replace(key, fk)
	}
}

func (s *Snapshot) renameColumn(table, oldName, newName string) {
	column, _ := s.Column(table, oldName)
	key := column.Key()
	column.Name = newName
	s.columns.Replace(key, column)

	if pk, ok := s.PrimaryKey(table); ok {
		key := pk.Key()
		pk.Columns = replaceName(pk.Columns, oldName, newName)
		s.pks.Replace(key, pk)
	}
	for _, unique := range s.Uniques(table) {
		key, derived := unique.Key(), unique.HasDefaultName()
		unique.Columns = replaceName(unique.Columns, oldName, newName)
		if derived {
			unique.Name = DefaultUniqueName(table, unique.Columns)
		}
		s.uniques.Replace(key, unique)
	}
	for _, index := range s.Indexes(table) {
		columns := make([]IndexColumn, len(index.Columns))
		for position, indexColumn := range index.Columns {
			if !indexColumn.IsExpression && indexColumn.Value == oldName {
				indexColumn.Value = newName
			}
			columns[position] = indexColumn
		}
		index.Columns = columns
		s.indexes.Replace(index.Key(), index)
	}
	for _, fk := range s.fks.All() {
		if fk.Table != table && fk.TableTo != table {
			continue
		}
		key, derived := fk.Key(), fk.HasDefaultName()
		if fk.Table == table {
			fk.Columns = replaceName(fk.Columns, oldName, newName)
		}
		if fk.TableTo == table {
			fk.ColumnsTo = replaceName(fk.ColumnsTo, oldName, newName)
		}
		if derived {
			fk.Name = DefaultForeignKeyName(fk.Table, fk.Columns, fk.TableTo, fk.ColumnsTo)
		}
		s.fks.Replace(key, fk)
	}
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

// fkOrder sorts the selected tables so referenced tables come first.
func fkOrder(snapshot *Snapshot, selected map[string]bool) ([]string, map[string]bool) {
	nodes := make([]string, 0, len(selected))
	for name := range selected {
		nodes = append(nodes, name)
	}
	sort.Strings(nodes)
	dependsOn := map[string][]string{}
	for _, fk := range snapshot.fks.All() {
		if selected[fk.Table] {
			dependsOn[fk.Table] = append(dependsOn[fk.Table], fk.TableTo)
		}
	}
	return ddl.DependencyOrder(nodes, dependsOn)
}

func tableOf(entity ddl.Entity) string {
	switch typed := entity.(type) {
	case Table:
		return typed.Name
	case Column:
		return typed.Table
	case PrimaryKey:
		return typed.Table
	case ForeignKey:
		return typed.Table
	case UniqueConstraint:
		return typed.Table
	case CheckConstraint:
		return typed.Table
	case Index:
		return typed.Table
	default:
		return ""
	}
}

func namesOf(diffs []ddl.EntityDiff) map[string]bool {
	names := make(map[string]bool, len(diffs))
	for _, diff := range diffs {
		names[diff.Name] = true
	}
	return names
}

func ownedBy(table string, groups ...[]ddl.EntityDiff) []ddl.EntityDiff {
	var out []ddl.EntityDiff
	for _, group := range groups {
		out = append(out, ddl.Filter(group, func(d ddl.EntityDiff) bool { return tableOf(d.Entity()) == table })...)
	}
	return out
}

// curOrdered sorts column diffs by declaration order in cur.
func curOrdered(cur *Snapshot, diffs []ddl.EntityDiff) []ddl.EntityDiff {
	return byPosition(cur, diffs)
}

func prevOrdered(prev *Snapshot, diffs []ddl.EntityDiff) []ddl.EntityDiff {
	return byPosition(prev, diffs)
}

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
