package postgres

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/ddl"
)

// GeneratorConfig configures statement rendering.
type GeneratorConfig struct {
	Breakpoints bool
}

// Generator renders plans into PostgreSQL DDL.
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

// Export renders the statements that create snapshot in an empty database.
func (g *Generator) Export(snapshot *Snapshot) ([]string, error) {
	plan, err := Diff(NewSnapshot(), snapshot)
	if err != nil {
		return nil, err
	}
	plan.Diffs = ddl.Filter(plan.Diffs, func(d ddl.EntityDiff) bool { return d.Type == ddl.Create })
	return g.Statements(plan)
}

// Statements lowers every diff of plan into PostgreSQL statements.
func (g *Generator) Statements(plan *Plan) ([]string, error) {
	if plan == nil || plan.Cur == nil || plan.Prev == nil {
		return nil, fmt.Errorf("plan is incomplete")
	}
	state := &lowering{plan: plan, created: map[string]bool{}, dropped: map[string]bool{}}
	for _, diff := range plan.Diffs {
		if diff.Kind != ddl.KindTable || diff.IsRename() {
			continue
		}
		switch diff.Type {
		case ddl.Create:
			state.created[diff.Key] = true
		case ddl.Drop:
			state.dropped[diff.Key] = true
		}
	}
	for _, diff := range plan.Diffs {
		if err := state.lower(diff); err != nil {
			return nil, err
		}
	}
	return state.statements, nil
}

type lowering struct {
	plan       *Plan
	statements []string

	created map[string]bool
	dropped map[string]bool
}

func (l *lowering) emit(statements ...string) {
	l.statements = append(l.statements, statements...)
}

func (l *lowering) lower(diff ddl.EntityDiff) error {
	if diff.IsRename() {
		return l.lowerRename(diff)
	}

	owner := tableKeyOf(diff.Entity())
	if diff.Kind != ddl.KindTable && owner != "" {
		if l.dropped[owner] {
			return nil
		}
		// Created tables carry their columns and constraints inline, except deferred foreign keys.
		if l.created[owner] && diff.Kind != ddl.KindIndex && diff.Kind != ddl.KindPolicy && !l.plan.deferred[diff.Key] {
			return nil
		}
	}

	switch diff.Kind {
	case ddl.KindSchema:
		return l.lowerSchema(diff)
	case ddl.KindRole:
		return l.lowerRole(diff)
	case ddl.KindEnum:
		return l.lowerEnum(diff)
	case ddl.KindSequence:
		return l.lowerSequence(diff)
	case ddl.KindTable:
		return l.lowerTable(diff)
	case ddl.KindColumn:
		return l.lowerColumn(diff)
	case ddl.KindPrimaryKey, ddl.KindForeignKey, ddl.KindUnique, ddl.KindCheck:
		return l.lowerConstraint(diff)
	case ddl.KindIndex:
		return l.lowerIndex(diff)
	case ddl.KindPolicy:
		return l.lowerPolicy(diff)
	case ddl.KindView:
		return l.lowerView(diff)
	}
	return fmt.Errorf("postgresql: cannot lower %s %s %q", diff.Type, diff.Kind, diff.Key)
}

func (l *lowering) lowerRename(diff ddl.EntityDiff) error {
	switch after := diff.After.(type) {
	case Schema:
		before := diff.Before.(Schema)
		l.emit(fmt.Sprintf("ALTER SCHEMA %s RENAME TO %s;", ddl.QuoteIdent(before.Name), ddl.QuoteIdent(after.Name)))
	case Table:
		before := diff.Before.(Table)
		if before.Schema != after.Schema {
			l.emit(fmt.Sprintf("ALTER TABLE %s SET SCHEMA %s;", qualify(before.Schema, before.Name), ddl.QuoteIdent(after.Schema)))
		}
		if before.Name != after.Name {
			l.emit(fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", qualify(after.Schema, before.Name), ddl.QuoteIdent(after.Name)))
		}
	case Column:
		before := diff.Before.(Column)
		l.emit(fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s;", qualify(after.Schema, after.Table), ddl.QuoteIdent(before.Name), ddl.QuoteIdent(after.Name)))
	case PrimaryKey:
		before := diff.Before.(PrimaryKey)
		l.emit(fmt.Sprintf("ALTER TABLE %s RENAME CONSTRAINT %s TO %s;", qualify(after.Schema, after.Table), ddl.QuoteIdent(before.Name), ddl.QuoteIdent(after.Name)))
	default:
		return fmt.Errorf("postgresql: rename of %s is not supported", diff.Kind)
	}
	return nil
}

func (l *lowering) lowerSchema(diff ddl.EntityDiff) error {
	switch diff.Type {
	case ddl.Create:
		l.emit(fmt.Sprintf("CREATE SCHEMA %s;", ddl.QuoteIdent(diff.Name)))
	case ddl.Drop:
		l.emit(fmt.Sprintf("DROP SCHEMA %s;", ddl.QuoteIdent(diff.Name)))
	}
	return nil
}

func (l *lowering) lowerRole(diff ddl.EntityDiff) error {
	switch diff.Type {
	case ddl.Create:
		role := diff.After.(Role)
		var options []string
		if role.CreateDB {
			options = append(options, "CREATEDB")
		}
		if role.CreateRole {
			options = append(options, "CREATEROLE")
		}
		if !role.Inherit {
			options = append(options, "NOINHERIT")
		}
		statement := "CREATE ROLE " + ddl.QuoteIdent(role.Name)
		if len(options) > 0 {
			statement += " WITH " + strings.Join(options, " ")
		}
		l.emit(statement + ";")
	case ddl.Alter:
		role := diff.After.(Role)
		l.emit(fmt.Sprintf("ALTER ROLE %s WITH %s %s %s;", ddl.QuoteIdent(role.Name),
			toggle(role.CreateDB, "CREATEDB"), toggle(role.CreateRole, "CREATEROLE"), toggle(role.Inherit, "INHERIT")))
	case ddl.Drop:
		l.emit(fmt.Sprintf("DROP ROLE %s;", ddl.QuoteIdent(diff.Name)))
	}
	return nil
}

func toggle(enabled bool, option string) string {
	if enabled {
		return option
	}
	return "NO" + option
}

func (l *lowering) lowerEnum(diff ddl.EntityDiff) error {
	switch diff.Type {
	case ddl.Create:
		l.emit(createEnum(diff.After.(Enum)))
	case ddl.Drop:
		enum := diff.Before.(Enum)
		l.emit(fmt.Sprintf("DROP TYPE %s;", qualify(enum.Schema, enum.Name)))
	case ddl.Alter:
		before, after := diff.Before.(Enum), diff.After.(Enum)
		if added, ok := appendedValues(before.Values, after.Values); ok {
			for _, value := range added {
				statement := fmt.Sprintf("ALTER TYPE %s ADD VALUE %s", qualify(after.Schema, after.Name), ddl.QuoteLiteral(value.value))
				if value.before != "" {
					statement += " BEFORE " + ddl.QuoteLiteral(value.before)
				}
				l.emit(statement + ";")
			}
			return nil
		}
		l.emit(l.rebuildEnum(after)...)
	}
	return nil
}

type addedValue struct {
	value  string
	before string
}

// appendedValues reports the values to add when after only inserts values into before.
func appendedValues(before, after []string) ([]addedValue, bool) {
	position := 0
	for _, value := range after {
		if position < len(before) && before[position] == value {
			position++
		}
	}
	if position != len(before) {
		return nil, false
	}
	existing := map[string]bool{}
	for _, value := range before {
		existing[value] = true
	}
	var added []addedValue
	for index, value := range after {
		if existing[value] {
			continue
		}
		next := ""
		for _, candidate := range after[index+1:] {
			if existing[candidate] {
				next = candidate
				break
			}
		}
		added = append(added, addedValue{value: value, before: next})
	}
	return added, true
}

// rebuildEnum recreates an enum whose values were removed or reordered, moving every column that
// uses it through text.
func (l *lowering) rebuildEnum(enum Enum) []string {
	var users []Column
	for _, column := range l.plan.Prev.columns.All() {
		if column.TypeSchema != "" && qualifiedKey(column.TypeSchema, baseType(column.Type)) == enum.Key() && !l.created[qualifiedKey(column.Schema, column.Table)] {
			users = append(users, column)
		}
	}
	var statements []string
	for _, column := range users {
		table := qualify(column.Schema, column.Table)
		if column.Default != nil {
			statements = append(statements, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT;", table, ddl.QuoteIdent(column.Name)))
		}
		statements = append(statements, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DATA TYPE text%s;", table, ddl.QuoteIdent(column.Name), arraySuffix(column.Type)))
	}
	statements = append(statements, fmt.Sprintf("DROP TYPE %s;", qualify(enum.Schema, enum.Name)), createEnum(enum))
	for _, column := range users {
		table := qualify(column.Schema, column.Table)
		target := columnType(column)
		statements = append(statements, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DATA TYPE %s USING %s::%s;", table, ddl.QuoteIdent(column.Name), target, ddl.QuoteIdent(column.Name), target))
		if column.Default != nil {
			statements = append(statements, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s;", table, ddl.QuoteIdent(column.Name), *column.Default))
		}
	}
	return statements
}

func createEnum(enum Enum) string {
	values := make([]string, len(enum.Values))
	for index, value := range enum.Values {
		values[index] = ddl.QuoteLiteral(value)
	}
	return fmt.Sprintf("CREATE TYPE %s AS ENUM(%s);", qualify(enum.Schema, enum.Name), strings.Join(values, ", "))
}

func (l *lowering) lowerSequence(diff ddl.EntityDiff) error {
	switch diff.Type {
	case ddl.Create:
		sequence := diff.After.(Sequence)
		l.emit(withOptions("CREATE SEQUENCE "+qualify(sequence.Schema, sequence.Name), sequenceOptions(sequence.Increment, sequence.MinValue, sequence.MaxValue, sequence.StartWith, sequence.Cache, sequence.Cycle)))
	case ddl.Alter:
		sequence := diff.After.(Sequence)
		options := sequenceOptions(sequence.Increment, sequence.MinValue, sequence.MaxValue, sequence.StartWith, sequence.Cache, sequence.Cycle)
		if !sequence.Cycle {
			options = append(options, "NO CYCLE")
		}
		l.emit(withOptions("ALTER SEQUENCE "+qualify(sequence.Schema, sequence.Name), options))
	case ddl.Drop:
		sequence := diff.Before.(Sequence)
		l.emit(fmt.Sprintf("DROP SEQUENCE %s;", qualify(sequence.Schema, sequence.Name)))
	}
	return nil
}

func withOptions(statement string, options []string) string {
	if len(options) == 0 {
		return statement + ";"
	}
	return statement + " " + strings.Join(options, " ") + ";"
}

func sequenceOptions(increment, minValue, maxValue, startWith, cache string, cycle bool) []string {
	var options []string
	if increment != "" {
		options = append(options, "INCREMENT BY "+increment)
	}
	if minValue != "" {
		options = append(options, "MINVALUE "+minValue)
	}
	if maxValue != "" {
		options = append(options, "MAXVALUE "+maxValue)
	}
	if startWith != "" {
		options = append(options, "START WITH "+startWith)
	}
	if cache != "" {
		options = append(options, "CACHE "+cache)
	}
	if cycle {
		options = append(options, "CYCLE")
	}
	return options
}

func (l *lowering) lowerTable(diff ddl.EntityDiff) error {
	switch diff.Type {
	case ddl.Create:
		table := diff.After.(Table)
		l.emit(createTable(l.plan.Cur, table, l.plan.deferred))
		if table.IsRLSEnabled {
			l.emit(fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY;", qualify(table.Schema, table.Name)))
		}
	case ddl.Drop:
		table := diff.Before.(Table)
		statement := "DROP TABLE " + qualify(table.Schema, table.Name)
		if l.plan.cascade[diff.Key] {
			statement += " CASCADE"
		}
		l.emit(statement + ";")
	case ddl.Alter:
		table := diff.After.(Table)
		if diff.Changed("isRLSEnabled") {
			mode := "DISABLE"
			if table.IsRLSEnabled {
				mode = "ENABLE"
			}
			l.emit(fmt.Sprintf("ALTER TABLE %s %s ROW LEVEL SECURITY;", qualify(table.Schema, table.Name), mode))
		}
	}
	return nil
}

func (l *lowering) lowerColumn(diff ddl.EntityDiff) error {
	column := diff.Entity().(Column)
	table := qualify(column.Schema, column.Table)
	switch diff.Type {
	case ddl.Create:
		l.emit(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", table, columnDefinition(column, false)))
	case ddl.Drop:
		l.emit(fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", table, ddl.QuoteIdent(column.Name)))
	case ddl.Alter:
		l.emit(alterColumn(diff.Before.(Column), diff.After.(Column))...)
	}
	return nil
}

func alterColumn(before, after Column) []string {
	table := qualify(after.Schema, after.Table)
	name := ddl.QuoteIdent(after.Name)
	prefix := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s", table, name)

	beforeGenerated, afterGenerated := "", ""
	if before.Generated != nil {
		beforeGenerated = strings.TrimSpace(before.Generated.Expression)
	}
	if after.Generated != nil {
		afterGenerated = strings.TrimSpace(after.Generated.Expression)
	}
	if beforeGenerated != afterGenerated {
		return []string{
			fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", table, name),
			fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", table, columnDefinition(after, false)),
		}
	}

	var statements []string
	if before.Type != after.Type || before.TypeSchema != after.TypeSchema {
		target := columnType(after)
		statements = append(statements, fmt.Sprintf("%s SET DATA TYPE %s USING %s::%s;", prefix, target, name, target))
	}
	if !ddl.EqualValues(before.Default, after.Default) {
		if after.Default == nil {
			statements = append(statements, prefix+" DROP DEFAULT;")
		} else {
			statements = append(statements, fmt.Sprintf("%s SET DEFAULT %s;", prefix, *after.Default))
		}
	}
	if before.NotNull != after.NotNull {
		if after.NotNull {
			statements = append(statements, prefix+" SET NOT NULL;")
		} else {
			statements = append(statements, prefix+" DROP NOT NULL;")
		}
	}
	if !ddl.EqualValues(before.Identity, after.Identity) {
		switch {
		case after.Identity == nil:
			statements = append(statements, prefix+" DROP IDENTITY;")
		case before.Identity == nil:
			statements = append(statements, fmt.Sprintf("%s ADD%s;", prefix, identityClause(*after.Identity)))
		case identityOptionsEqual(*before.Identity, *after.Identity):
			statements = append(statements, fmt.Sprintf("%s SET GENERATED %s;", prefix, identityKind(*after.Identity)))
		default:
			statements = append(statements, prefix+" DROP IDENTITY;", fmt.Sprintf("%s ADD%s;", prefix, identityClause(*after.Identity)))
		}
	}
	return statements
}

func identityOptionsEqual(a, b Identity) bool {
	a.Type, b.Type = "", ""
	return a == b
}

func (l *lowering) lowerConstraint(diff ddl.EntityDiff) error {
	table := qualify(schemaOf(diff.Entity()), tableNameOf(diff.Entity()))
	drop := func(entity ddl.Entity) string {
		return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s;", table, ddl.QuoteIdent(entity.EntityName()))
	}
	add := func(entity ddl.Entity) string {
		return fmt.Sprintf("ALTER TABLE %s ADD %s;", table, constraintClause(entity))
	}
	switch diff.Type {
	case ddl.Create:
		l.emit(add(diff.After))
	case ddl.Drop:
		l.emit(drop(diff.Before))
	case ddl.Alter:
		l.emit(drop(diff.Before), add(diff.After))
	}
	return nil
}

func constraintClause(entity ddl.Entity) string {
	switch typed := entity.(type) {
	case PrimaryKey:
		return fmt.Sprintf("CONSTRAINT %s PRIMARY KEY(%s)", ddl.QuoteIdent(typed.Name), ddl.QuoteIdents(typed.Columns))
	case ForeignKey:
		return foreignKeyClause(typed)
	case UniqueConstraint:
		nulls := ""
		if typed.NullsNotDistinct {
			nulls = " NULLS NOT DISTINCT"
		}
		return fmt.Sprintf("CONSTRAINT %s UNIQUE%s(%s)", ddl.QuoteIdent(typed.Name), nulls, ddl.QuoteIdents(typed.Columns))
	case CheckConstraint:
		return fmt.Sprintf("CONSTRAINT %s CHECK (%s)", ddl.QuoteIdent(typed.Name), strings.TrimSpace(typed.Value))
	}
	return ""
}

func foreignKeyClause(fk ForeignKey) string {
	clause := fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s(%s)",
		ddl.QuoteIdent(fk.Name), ddl.QuoteIdents(fk.Columns), qualify(fk.SchemaTo, fk.TableTo), ddl.QuoteIdents(fk.ColumnsTo))
	if action := normalizeAction(fk.OnDelete); action != "NO ACTION" {
		clause += " ON DELETE " + strings.ToLower(action)
	}
	if action := normalizeAction(fk.OnUpdate); action != "NO ACTION" {
		clause += " ON UPDATE " + strings.ToLower(action)
	}
	return clause
}

func (l *lowering) lowerIndex(diff ddl.EntityDiff) error {
	switch diff.Type {
	case ddl.Create:
		l.emit(createIndex(diff.After.(Index)))
	case ddl.Drop:
		l.emit(dropIndex(diff.Before.(Index)))
	case ddl.Alter:
		l.emit(dropIndex(diff.Before.(Index)), createIndex(diff.After.(Index)))
	}
	return nil
}

func createIndex(index Index) string {
	var builder strings.Builder
	builder.WriteString("CREATE ")
	if index.IsUnique {
		builder.WriteString("UNIQUE ")
	}
	builder.WriteString("INDEX ")
	if index.Concurrently {
		builder.WriteString("CONCURRENTLY ")
	}
	columns := make([]string, len(index.Columns))
	for position, column := range index.Columns {
		columns[position] = indexColumn(column)
	}
	fmt.Fprintf(&builder, "%s ON %s USING %s (%s)", ddl.QuoteIdent(index.Name), qualify(index.Schema, index.Table), orDefault(index.Method, "btree"), strings.Join(columns, ", "))
	if len(index.With) > 0 {
		builder.WriteString(" WITH (" + storageParameters(index.With) + ")")
	}
	if where := strings.TrimSpace(index.Where); where != "" {
		builder.WriteString(" WHERE " + where)
	}
	builder.WriteString(";")
	return builder.String()
}

func indexColumn(column IndexColumn) string {
	rendered := column.Expression
	if !column.IsExpression {
		rendered = ddl.QuoteIdent(column.Expression)
	}
	if column.OpClass != nil && *column.OpClass != "" {
		rendered += " " + *column.OpClass
	}
	nulls := strings.ToLower(column.Nulls)
	if !column.Asc {
		rendered += " DESC"
		if nulls == "last" {
			rendered += " NULLS LAST"
		}
	} else if nulls == "first" {
		rendered += " NULLS FIRST"
	}
	return rendered
}

func dropIndex(index Index) string {
	return fmt.Sprintf("DROP INDEX %s;", qualify(index.Schema, index.Name))
}

func (l *lowering) lowerPolicy(diff ddl.EntityDiff) error {
	switch diff.Type {
	case ddl.Create:
		l.emit(createPolicy(diff.After.(Policy)))
	case ddl.Drop:
		l.emit(dropPolicy(diff.Before.(Policy)))
	case ddl.Alter:
		l.emit(dropPolicy(diff.Before.(Policy)), createPolicy(diff.After.(Policy)))
	}
	return nil
}

func createPolicy(policy Policy) string {
	roles := make([]string, 0, len(policy.To))
	for _, role := range policy.To {
		switch strings.ToLower(role) {
		case "public", "current_role", "current_user", "session_user":
			roles = append(roles, strings.ToLower(role))
		default:
			roles = append(roles, ddl.QuoteIdent(role))
		}
	}
	if len(roles) == 0 {
		roles = []string{"public"}
	}
	statement := fmt.Sprintf("CREATE POLICY %s ON %s AS %s FOR %s TO %s",
		ddl.QuoteIdent(policy.Name), qualify(policy.Schema, policy.Table),
		strings.ToUpper(orDefault(policy.As, "PERMISSIVE")), strings.ToUpper(orDefault(policy.For, "ALL")), strings.Join(roles, ", "))
	if using := strings.TrimSpace(policy.Using); using != "" {
		statement += " USING (" + using + ")"
	}
	if check := strings.TrimSpace(policy.WithCheck); check != "" {
		statement += " WITH CHECK (" + check + ")"
	}
	return statement + ";"
}

func dropPolicy(policy Policy) string {
	return fmt.Sprintf("DROP POLICY %s ON %s CASCADE;", ddl.QuoteIdent(policy.Name), qualify(policy.Schema, policy.Table))
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

func createView(view View) string {
	materialized := ""
	if view.Materialized {
		materialized = "MATERIALIZED "
	}
	with := ""
	if len(view.With) > 0 {
		with = " WITH (" + storageParameters(view.With) + ")"
	}
	definition := strings.TrimSuffix(strings.TrimSpace(view.Definition), ";")
	return fmt.Sprintf("CREATE %sVIEW %s%s AS (%s);", materialized, qualify(view.Schema, view.Name), with, definition)
}

func dropView(view View) string {
	materialized := ""
	if view.Materialized {
		materialized = "MATERIALIZED "
	}
	return fmt.Sprintf("DROP %sVIEW %s;", materialized, qualify(view.Schema, view.Name))
}

func storageParameters(with map[string]string) string {
	keys := make([]string, 0, len(with))
	for key := range with {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parameters := make([]string, len(keys))
	for index, key := range keys {
		parameters[index] = key + "=" + with[key]
	}
	return strings.Join(parameters, ", ")
}

func createTable(snapshot *Snapshot, table Table, deferred map[string]bool) string {
	key := table.Key()
	pk, hasPK := snapshot.PrimaryKey(key)
	inlinePK := hasPK && len(pk.Columns) == 1 && pk.Name == DefaultPrimaryKeyName(table.Name)

	var lines []string
	for _, column := range snapshot.Columns(key) {
		lines = append(lines, "\t"+columnDefinition(column, inlinePK && pk.Columns[0] == column.Name))
	}
	if hasPK && !inlinePK {
		lines = append(lines, "\t"+constraintClause(pk))
	}
	for _, fk := range sortedByName(snapshot.ForeignKeys(key)) {
		if !deferred[fk.Key()] {
			lines = append(lines, "\t"+foreignKeyClause(fk))
		}
	}
	for _, unique := range sortedByName(snapshot.Uniques(key)) {
		lines = append(lines, "\t"+constraintClause(unique))
	}
	for _, check := range sortedByName(snapshot.Checks(key)) {
		lines = append(lines, "\t"+constraintClause(check))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n);", qualify(table.Schema, table.Name), strings.Join(lines, ",\n"))
}

func columnDefinition(column Column, primaryKey bool) string {
	var builder strings.Builder
	builder.WriteString(ddl.QuoteIdent(column.Name))
	builder.WriteString(" ")
	builder.WriteString(columnType(column))
	if primaryKey {
		builder.WriteString(" PRIMARY KEY")
	}
	if column.Default != nil {
		builder.WriteString(" DEFAULT ")
		builder.WriteString(*column.Default)
	}
	if column.Generated != nil {
		fmt.Fprintf(&builder, " GENERATED ALWAYS AS (%s) STORED", strings.TrimSpace(column.Generated.Expression))
	}
	if column.Identity != nil {
		builder.WriteString(identityClause(*column.Identity))
	}
	if column.NotNull {
		builder.WriteString(" NOT NULL")
	}
	return builder.String()
}

func identityKind(identity Identity) string {
	if identity.Type == IdentityAlways {
		return "ALWAYS"
	}
	return "BY DEFAULT"
}

func identityClause(identity Identity) string {
	clause := fmt.Sprintf(" GENERATED %s AS IDENTITY", identityKind(identity))
	options := sequenceOptions(identity.Increment, identity.MinValue, identity.MaxValue, identity.StartWith, identity.Cache, identity.Cycle)
	if identity.Name != "" {
		options = append([]string{"SEQUENCE NAME " + ddl.QuoteIdent(identity.Name)}, options...)
	}
	if len(options) > 0 {
		clause += " (" + strings.Join(options, " ") + ")"
	}
	return clause
}

// columnType renders the column type, qualifying user defined types such as enums.
func columnType(column Column) string {
	if column.TypeSchema == "" {
		return column.Type
	}
	return qualify(column.TypeSchema, baseType(column.Type)) + arraySuffix(column.Type)
}

func baseType(columnType string) string {
	if position := strings.Index(columnType, "["); position >= 0 {
		return columnType[:position]
	}
	return columnType
}

func arraySuffix(columnType string) string {
	if position := strings.Index(columnType, "["); position >= 0 {
		return columnType[position:]
	}
	return ""
}

// qualify quotes name and prefixes it with its schema unless the schema is public.
func qualify(schema, name string) string {
	if schema == "" || schema == PublicSchema {
		return ddl.QuoteIdent(name)
	}
	return ddl.QuoteIdent(schema) + "." + ddl.QuoteIdent(name)
}

func schemaOf(entity ddl.Entity) string {
	schema, _ := splitQualified(tableKeyOf(entity))
	return schema
}

func tableNameOf(entity ddl.Entity) string {
	_, name := splitQualified(tableKeyOf(entity))
	return name
}
