package sqlite

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/ddl"
)

const (
	foreignKeysOff = "PRAGMA foreign_keys=OFF;"
	foreignKeysOn  = "PRAGMA foreign_keys=ON;"
	rebuildPrefix  = "__new_"
)

// GeneratorConfig configures statement rendering.
type GeneratorConfig struct {
	Breakpoints bool
}

// Generator renders plans into SQLite DDL.
type Generator struct {
	breakpoints bool
}

// NewGenerator constructs a Generator.
func NewGenerator(config GeneratorConfig) *Generator {
	return &Generator{breakpoints: config.Breakpoints}
}

// SQL joins statements into the body of a migration file.
func (g *Generator) SQL(statements []string) string {
	return ddl.JoinStatements(statements, g.breakpoints)
}

// Export renders the statements that create snapshot from an empty database.
func (g *Generator) Export(snapshot *Snapshot) ([]string, error) {
	empty := NewSnapshot()
	plan, err := Diff(empty, snapshot)
	if err != nil {
		return nil, err
	}
	plan.Diffs = ddl.Filter(plan.Diffs, func(d ddl.EntityDiff) bool { return d.Type == ddl.Create })
	return g.Statements(plan)
}

// Statements lowers every diff of plan into SQLite statements.
func (g *Generator) Statements(plan *Plan) ([]string, error) {
	if plan == nil || plan.Cur == nil || plan.Prev == nil {
		return nil, fmt.Errorf("plan is incomplete")
	}
	state := newLowering(plan)
	for position, diff := range plan.Diffs {
		if err := state.lower(position, diff); err != nil {
			return nil, err
		}
	}
	state.finish()
	return state.statements, nil
}

type lowering struct {
	plan       *Plan
	statements []string

	created map[string]bool
	dropped map[string]bool
	rebuild map[string]bool
	rebuilt map[string]bool
	bounced []View

	firstDrop, lastDrop     int
	firstCreate, lastCreate int
}

func newLowering(plan *Plan) *lowering {
	state := &lowering{
		plan:        plan,
		created:     map[string]bool{},
		dropped:     map[string]bool{},
		rebuilt:     map[string]bool{},
		firstDrop:   -1,
		lastDrop:    -1,
		firstCreate: -1,
		lastCreate:  -1,
	}
	for position, diff := range plan.Diffs {
		if diff.Kind != ddl.KindTable || diff.IsRename() {
			continue
		}
		switch diff.Type {
		case ddl.Create:
			state.created[diff.Name] = true
			if state.firstCreate < 0 {
				state.firstCreate = position
			}
			state.lastCreate = position
		case ddl.Drop:
			state.dropped[diff.Name] = true
			if state.firstDrop < 0 {
				state.firstDrop = position
			}
			state.lastDrop = position
		}
	}
	state.rebuild = tablesToRebuild(plan, state.created, state.dropped)

	if len(state.rebuild) > 0 {
		touched := map[string]bool{}
		for _, diff := range plan.Diffs {
			if diff.Kind == ddl.KindView {
				touched[diff.Key] = true
			}
		}
		for _, view := range plan.Prev.views.Sorted() {
			if !touched[view.Key()] && plan.Cur.views.Has(view.Key()) {
				state.bounced = append(state.bounced, view)
			}
		}
		for _, view := range state.bounced {
			state.emit(dropView(view))
		}
	}
	return state
}

func (l *lowering) emit(statements ...string) {
	l.statements = append(l.statements, statements...)
}

func (l *lowering) lower(position int, diff ddl.EntityDiff) error {
	owner := tableOf(diff.Entity())

	if diff.Kind == ddl.KindTable && !diff.IsRename() {
		switch diff.Type {
		case ddl.Drop:
			if position == l.firstDrop && l.plan.dropCycle {
				l.emit(foreignKeysOff)
			}
			l.emit(fmt.Sprintf("DROP TABLE %s;", ddl.QuoteIdent(diff.Name)))
			if position == l.lastDrop && l.plan.dropCycle {
				l.emit(foreignKeysOn)
			}
			return nil
		case ddl.Create:
			table, _ := diff.After.(Table)
			if position == l.firstCreate && l.plan.createCycle {
				l.emit(foreignKeysOff)
			}
			l.emit(createTable(l.plan.Cur, table, table.Name))
			if position == l.lastCreate && l.plan.createCycle {
				l.emit(foreignKeysOn)
			}
			return nil
		}
	}

	if diff.IsRename() {
		return l.lowerRename(diff)
	}

	switch diff.Kind {
	case ddl.KindView:
		return l.lowerView(diff)
	case ddl.KindIndex:
		return l.lowerIndex(diff, owner)
	}

	if l.dropped[owner] || l.created[owner] {
		return nil
	}
	if l.rebuild[owner] {
		if !l.rebuilt[owner] {
			l.rebuilt[owner] = true
			l.emit(l.rebuildTable(owner)...)
		}
		return nil
	}

	switch entity := diff.Entity().(type) {
	case Column:
		switch diff.Type {
		case ddl.Create:
			l.emit(fmt.Sprintf("ALTER TABLE %s ADD %s;", ddl.QuoteIdent(entity.Table), columnDefinition(entity, false, false)))
			return nil
		case ddl.Drop:
			l.emit(fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", ddl.QuoteIdent(entity.Table), ddl.QuoteIdent(entity.Name)))
			return nil
		}
	}
	return fmt.Errorf("sqlite: cannot lower %s %s %q without rebuilding %q", diff.Type, diff.Kind, diff.Key, owner)
}

func (l *lowering) lowerRename(diff ddl.EntityDiff) error {
	switch after := diff.After.(type) {
	case Table:
		before := diff.Before.(Table)
		l.emit(fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", ddl.QuoteIdent(before.Name), ddl.QuoteIdent(after.Name)))
	case Column:
		before := diff.Before.(Column)
		l.emit(fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s;", ddl.QuoteIdent(after.Table), ddl.QuoteIdent(before.Name), ddl.QuoteIdent(after.Name)))
	default:
		return fmt.Errorf("sqlite: rename of %s is not supported", diff.Kind)
	}
	return nil
}

func (l *lowering) lowerView(diff ddl.EntityDiff) error {
	switch diff.Type {
	case ddl.Create:
		l.emit(createView(diff.After.(View)))
	case ddl.Drop:
		l.emit(dropView(diff.Before.(View)))
	case ddl.Alter:
		l.emit(dropView(diff.Before.(View)), createView(diff.After.(View)))
	}
	return nil
}

func (l *lowering) lowerIndex(diff ddl.EntityDiff, owner string) error {
	switch diff.Type {
	case ddl.Drop:
		if !l.dropped[owner] {
			l.emit(dropIndex(diff.Before.(Index)))
		}
	case ddl.Create:
		if !l.rebuild[owner] {
			l.emit(createIndex(diff.After.(Index)))
		}
	case ddl.Alter:
		if !l.rebuild[owner] {
			l.emit(dropIndex(diff.Before.(Index)), createIndex(diff.After.(Index)))
		}
	}
	return nil
}

func (l *lowering) finish() {
	for _, view := range l.bounced {
		current, _ := l.plan.Cur.views.Get(view.Key())
		l.emit(createView(current))
	}
}

// rebuildTable recreates table through a temporary copy, the only way SQLite can alter most table properties.
func (l *lowering) rebuildTable(name string) []string {
	table, _ := l.plan.Cur.Table(name)
	temporary := rebuildPrefix + name

	var copied []string
	for _, column := range l.plan.Cur.Columns(name) {
		if column.Generated != nil {
			continue
		}
		previous, ok := l.plan.Prev.Column(name, column.Name)
		if !ok || previous.Generated != nil {
			continue
		}
		copied = append(copied, column.Name)
	}

	statements := []string{
		foreignKeysOff,
		createTable(l.plan.Cur, table, temporary),
	}
	if len(copied) > 0 {
		columns := ddl.QuoteIdents(copied)
		statements = append(statements, fmt.Sprintf("INSERT INTO %s(%s) SELECT %s FROM %s;", ddl.QuoteIdent(temporary), columns, columns, ddl.QuoteIdent(name)))
	}
	statements = append(statements,
		fmt.Sprintf("DROP TABLE %s;", ddl.QuoteIdent(name)),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", ddl.QuoteIdent(temporary), ddl.QuoteIdent(name)),
		foreignKeysOn,
	)
	for _, index := range l.plan.Cur.Indexes(name) {
		statements = append(statements, createIndex(index))
	}
	return statements
}

// tablesToRebuild lists existing tables whose changes ALTER TABLE cannot express.
func tablesToRebuild(plan *Plan, created, dropped map[string]bool) map[string]bool {
	rebuild := map[string]bool{}
	for _, diff := range plan.Diffs {
		if diff.IsRename() {
			continue
		}
		owner := tableOf(diff.Entity())
		if owner == "" || created[owner] || dropped[owner] {
			continue
		}
		switch diff.Kind {
		case ddl.KindTable:
			if diff.Type == ddl.Alter {
				rebuild[owner] = true
			}
		case ddl.KindColumn:
			switch diff.Type {
			case ddl.Alter:
				rebuild[owner] = true
			case ddl.Create:
				if !canAddColumn(plan.Cur, diff.After.(Column)) {
					rebuild[owner] = true
				}
			case ddl.Drop:
				if !canDropColumn(plan.Prev, diff.Before.(Column)) {
					rebuild[owner] = true
				}
			}
		case ddl.KindPrimaryKey, ddl.KindForeignKey, ddl.KindUnique, ddl.KindCheck:
			rebuild[owner] = true
		}
	}
	return rebuild
}

func canAddColumn(cur *Snapshot, column Column) bool {
	if column.IsStoredGenerated() || column.Autoincrement {
		return false
	}
	if column.NotNull && column.Default == nil && column.Generated == nil {
		return false
	}
	if pk, ok := cur.PrimaryKey(column.Table); ok && containsName(pk.Columns, column.Name) {
		return false
	}
	return true
}

func canDropColumn(prev *Snapshot, column Column) bool {
	if pk, ok := prev.PrimaryKey(column.Table); ok && containsName(pk.Columns, column.Name) {
		return false
	}
	for _, unique := range prev.Uniques(column.Table) {
		if containsName(unique.Columns, column.Name) {
			return false
		}
	}
	for _, fk := range prev.ForeignKeys(column.Table) {
		if containsName(fk.Columns, column.Name) {
			return false
		}
	}
	return true
}

func containsName(names []string, name string) bool {
	for _, candidate := range names {
		if candidate == name {
			return true
		}
	}
	return false
}

func createTable(snapshot *Snapshot, table Table, name string) string {
	pk, hasPK := snapshot.PrimaryKey(table.Name)
	inlinePK := hasPK && len(pk.Columns) == 1 && pk.HasDefaultName()

	inlineUnique := map[string]bool{}
	var tableUniques []UniqueConstraint
	for _, unique := range snapshot.Uniques(table.Name) {
		if len(unique.Columns) == 1 && unique.HasDefaultName() && !inlineUnique[unique.Columns[0]] {
			inlineUnique[unique.Columns[0]] = true
			continue
		}
		tableUniques = append(tableUniques, unique)
	}

	var lines []string
	for _, column := range snapshot.Columns(table.Name) {
		isPK := inlinePK && pk.Columns[0] == column.Name
		definition := columnDefinition(column, isPK, inlineUnique[column.Name])
		lines = append(lines, "\t"+definition)
	}
	if hasPK && !inlinePK {
		lines = append(lines, fmt.Sprintf("\t%sPRIMARY KEY(%s)", constraintPrefix(pk.Name, pk.HasDefaultName()), ddl.QuoteIdents(pk.Columns)))
	}
	for _, fk := range snapshot.ForeignKeys(table.Name) {
		lines = append(lines, "\t"+foreignKeyClause(fk))
	}
	for _, unique := range tableUniques {
		lines = append(lines, fmt.Sprintf("\t%sUNIQUE(%s)", constraintPrefix(unique.Name, unique.HasDefaultName()), ddl.QuoteIdents(unique.Columns)))
	}
	for _, check := range snapshot.Checks(table.Name) {
		lines = append(lines, fmt.Sprintf("\tCONSTRAINT %s CHECK(%s)", ddl.QuoteIdent(check.Name), check.Value))
	}

	var options []string
	if table.WithoutRowid {
		options = append(options, "WITHOUT ROWID")
	}
	if table.Strict {
		options = append(options, "STRICT")
	}
	suffix := ""
	if len(options) > 0 {
		suffix = " " + strings.Join(options, ", ")
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)%s;", ddl.QuoteIdent(name), strings.Join(lines, ",\n"), suffix)
}

func columnDefinition(column Column, primaryKey, unique bool) string {
	var builder strings.Builder
	builder.WriteString(ddl.QuoteIdent(column.Name))
	if column.Type != "" {
		builder.WriteString(" ")
		builder.WriteString(column.Type)
	}
	if primaryKey {
		builder.WriteString(" PRIMARY KEY")
		if column.Autoincrement {
			builder.WriteString(" AUTOINCREMENT")
		}
	}
	if column.Default != nil {
		builder.WriteString(" DEFAULT ")
		builder.WriteString(*column.Default)
	}
	if column.Generated != nil {
		kind := "VIRTUAL"
		if column.IsStoredGenerated() {
			kind = "STORED"
		}
		fmt.Fprintf(&builder, " GENERATED ALWAYS AS %s %s", parenthesize(column.Generated.Expression), kind)
	}
	integerKey := primaryKey && strings.HasPrefix(strings.ToLower(column.Type), "int")
	if column.NotNull && !integerKey {
		builder.WriteString(" NOT NULL")
	}
	if unique {
		builder.WriteString(" UNIQUE")
	}
	return builder.String()
}

// constraintPrefix names a table constraint unless introspection derives the same name.
func constraintPrefix(name string, derived bool) string {
	if derived {
		return ""
	}
	return "CONSTRAINT " + ddl.QuoteIdent(name) + " "
}

func foreignKeyClause(fk ForeignKey) string {
	clause := fmt.Sprintf("%sFOREIGN KEY (%s) REFERENCES %s(%s)",
		constraintPrefix(fk.Name, fk.HasDefaultName()), ddl.QuoteIdents(fk.Columns), ddl.QuoteIdent(fk.TableTo), ddl.QuoteIdents(fk.ColumnsTo))
	if action := normalizeAction(fk.OnUpdate); action != "NO ACTION" {
		clause += " ON UPDATE " + strings.ToLower(action)
	}
	if action := normalizeAction(fk.OnDelete); action != "NO ACTION" {
		clause += " ON DELETE " + strings.ToLower(action)
	}
	return clause
}

func createIndex(index Index) string {
	unique := ""
	if index.IsUnique {
		unique = "UNIQUE "
	}
	columns := make([]string, len(index.Columns))
	for position, column := range index.Columns {
		if column.IsExpression {
			columns[position] = column.Value
			continue
		}
		columns[position] = ddl.QuoteIdent(column.Value)
	}
	where := ""
	if strings.TrimSpace(index.Where) != "" {
		where = " WHERE " + index.Where
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)%s;", unique, ddl.QuoteIdent(index.Name), ddl.QuoteIdent(index.Table), strings.Join(columns, ", "), where)
}

func dropIndex(index Index) string {
	return fmt.Sprintf("DROP INDEX IF EXISTS %s;", ddl.QuoteIdent(index.Name))
}

func createView(view View) string {
	return fmt.Sprintf("CREATE VIEW %s AS %s;", ddl.QuoteIdent(view.Name), strings.TrimSuffix(strings.TrimSpace(view.Definition), ";"))
}

func dropView(view View) string {
	return fmt.Sprintf("DROP VIEW %s;", ddl.QuoteIdent(view.Name))
}

func parenthesize(expression string) string {
	trimmed := strings.TrimSpace(expression)
	if strings.HasPrefix(trimmed, "(") && strings.HasSuffix(trimmed, ")") {
		return trimmed
	}
	return "(" + trimmed + ")"
}
