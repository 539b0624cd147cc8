package sqlite

import (
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/ddl"
)

func TestCreateUsersTableFromEmpty(t *testing.T) {
	statements := mustStatements(t, NewSnapshot(), usersSnapshot(t))
	if len(statements) != 1 {
		t.Fatalf("expected exactly one statement, got %v", statements)
	}
	want := "CREATE TABLE \"users\" (\n\t\"id\" integer NOT NULL,\n\t\"name\" text NOT NULL\n);"
	if statements[0] != want {
		t.Fatalf("unexpected statement:\n%s\nwant:\n%s", statements[0], want)
	}
}

func TestCreateTableRendersConstraintsAndOptions(t *testing.T) {
	cur := NewSnapshot()
	mustAdd(t, cur,
		Table{Name: "memberships", Strict: true, WithoutRowid: true},
		Column{Table: "memberships", Name: "user_id", Type: "integer", NotNull: true},
		Column{Table: "memberships", Name: "group_id", Type: "integer", NotNull: true},
		Column{Table: "memberships", Name: "role", Type: "text", Default: Text("'member'")},
		Column{Table: "memberships", Name: "slug", Type: "text", Generated: &Generated{Expression: "lower(role)", Type: GeneratedVirtual}},
		PrimaryKey{Table: "memberships", Name: "memberships_user_id_group_id_pk", Columns: []string{"user_id", "group_id"}},
		UniqueConstraint{Table: "memberships", Name: "memberships_slug_unique", Columns: []string{"slug"}},
		CheckConstraint{Table: "memberships", Name: "role_check", Value: "role IN ('member', 'owner')"},
	)

	statements := mustStatements(t, NewSnapshot(), cur)
	statement := statements[0]
	for _, fragment := range []string{
		`"role" text DEFAULT 'member'`,
		`"slug" text GENERATED ALWAYS AS (lower(role)) VIRTUAL UNIQUE`,
		`CONSTRAINT "memberships_user_id_group_id_pk" PRIMARY KEY("user_id", "group_id")`,
		`CONSTRAINT "role_check" CHECK(role IN ('member', 'owner'))`,
		") WITHOUT ROWID, STRICT;",
	} {
		if !strings.Contains(statement, fragment) {
			t.Fatalf("expected %q in:\n%s", fragment, statement)
		}
	}
}

func TestCreateTableInlinesIntegerPrimaryKey(t *testing.T) {
	cur := NewSnapshot()
	mustAdd(t, cur,
		Table{Name: "items"},
		Column{Table: "items", Name: "id", Type: "integer", NotNull: true, Autoincrement: true},
		PrimaryKey{Table: "items", Name: DefaultPrimaryKeyName("items"), Columns: []string{"id"}},
	)
	statements := mustStatements(t, NewSnapshot(), cur)
	if !strings.Contains(statements[0], `"id" integer PRIMARY KEY AUTOINCREMENT`) || strings.Contains(statements[0], "NOT NULL") {
		t.Fatalf("unexpected primary key rendering:\n%s", statements[0])
	}
}

func TestForeignKeyActionsAndOrdering(t *testing.T) {
	statements := mustStatements(t, NewSnapshot(), blogSnapshot(t))
	users := indexOfStatement(statements, `CREATE TABLE "users"`)
	posts := indexOfStatement(statements, `CREATE TABLE "posts"`)
	index := indexOfStatement(statements, `CREATE INDEX "posts_title_idx" ON "posts" ("title");`)
	if users < 0 || posts < 0 || index < 0 || !(users < posts && posts < index) {
		t.Fatalf("unexpected ordering %v", statements)
	}
	if !strings.Contains(statements[posts], `FOREIGN KEY ("author_id") REFERENCES "users"("id") ON DELETE cascade`) {
		t.Fatalf("unexpected foreign key clause:\n%s", statements[posts])
	}
	if strings.Contains(statements[posts], "ON UPDATE") {
		t.Fatalf("NO ACTION must be omitted:\n%s", statements[posts])
	}
}

func TestCyclicForeignKeysAreWrappedInPragma(t *testing.T) {
	cur := NewSnapshot()
	mustAdd(t, cur,
		Table{Name: "a"},
		Column{Table: "a", Name: "b_id", Type: "integer"},
		ForeignKey{Table: "a", Name: "a_b_fk", Columns: []string{"b_id"}, TableTo: "b", ColumnsTo: []string{"id"}},
		Table{Name: "b"},
		Column{Table: "b", Name: "id", Type: "integer"},
		Column{Table: "b", Name: "a_id", Type: "integer"},
		ForeignKey{Table: "b", Name: "b_a_fk", Columns: []string{"a_id"}, TableTo: "a", ColumnsTo: []string{"b_id"}},
	)
	statements := mustStatements(t, NewSnapshot(), cur)
	if statements[0] != foreignKeysOff || statements[len(statements)-1] != foreignKeysOn {
		t.Fatalf("expected pragma wrapping, got %v", statements)
	}
}

func TestAddAndDropColumnUseAlterTable(t *testing.T) {
	prev := usersSnapshot(t)
	cur := NewSnapshot()
	mustAdd(t, cur,
		Table{Name: "users"},
		Column{Table: "users", Name: "id", Type: "integer", NotNull: true},
		Column{Table: "users", Name: "email", Type: "text"},
	)

	statements := mustStatements(t, prev, cur)
	want := []string{
		`ALTER TABLE "users" ADD "email" text;`,
		`ALTER TABLE "users" DROP COLUMN "name";`,
	}
	if strings.Join(statements, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %v, got %v", want, statements)
	}
}

func TestAlterColumnRebuildsTable(t *testing.T) {
	prev := blogSnapshot(t)
	cur := blogSnapshot(t)
	mustAdd(t, cur, Column{Table: "users", Name: "nickname", Type: "text", NotNull: true})
	column, _ := cur.Column("users", "name")
	column.NotNull = false
	cur.columns.Replace(column.Key(), column)
	mustAdd(t, prev, View{Name: "names", Definition: `SELECT "name" FROM "users"`})
	mustAdd(t, cur, View{Name: "names", Definition: `SELECT "name" FROM "users"`})

	statements := mustStatements(t, prev, cur)
	want := []string{
		`DROP VIEW "names";`,
		foreignKeysOff,
		"CREATE TABLE \"__new_users\" (\n\t\"id\" integer PRIMARY KEY,\n\t\"name\" text,\n\t\"nickname\" text NOT NULL\n);",
		`INSERT INTO "__new_users"("id", "name") SELECT "id", "name" FROM "users";`,
		`DROP TABLE "users";`,
		`ALTER TABLE "__new_users" RENAME TO "users";`,
		foreignKeysOn,
		`CREATE VIEW "names" AS SELECT "name" FROM "users";`,
	}
	if strings.Join(statements, "\n|\n") != strings.Join(want, "\n|\n") {
		t.Fatalf("unexpected rebuild:\n%s", strings.Join(statements, "\n|\n"))
	}
}

func TestRebuildRecreatesIndexes(t *testing.T) {
	prev := blogSnapshot(t)
	cur := blogSnapshot(t)
	check := CheckConstraint{Table: "posts", Name: "title_length", Value: "length(title) > 0"}
	mustAdd(t, cur, check, Index{Table: "posts", Name: "posts_author_idx", Columns: []IndexColumn{{Value: "author_id"}}})

	statements := mustStatements(t, prev, cur)
	if indexOfStatement(statements, `CREATE TABLE "__new_posts"`) < 0 {
		t.Fatalf("expected rebuild, got %v", statements)
	}
	if strings.Count(strings.Join(statements, "\n"), `CREATE INDEX "posts_author_idx"`) != 1 {
		t.Fatalf("expected new index created exactly once, got %v", statements)
	}
	if indexOfStatement(statements, `CREATE INDEX "posts_title_idx"`) < indexOfStatement(statements, `ALTER TABLE "__new_posts" RENAME TO "posts"`) {
		t.Fatalf("expected existing index recreated after rebuild, got %v", statements)
	}
}

func TestRenamesRenderAsAlterStatements(t *testing.T) {
	prev := usersSnapshot(t)
	cur := NewSnapshot()
	mustAdd(t, cur,
		Table{Name: "accounts"},
		Column{Table: "accounts", Name: "id", Type: "integer", NotNull: true},
		Column{Table: "accounts", Name: "display_name", Type: "text", NotNull: true},
	)
	cur.RenameTable("users", "accounts")
	cur.RenameColumn("accounts", "name", "display_name")

	statements := mustStatements(t, prev, cur)
	want := []string{
		`ALTER TABLE "users" RENAME TO "accounts";`,
		`ALTER TABLE "accounts" RENAME COLUMN "name" TO "display_name";`,
	}
	if strings.Join(statements, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %v, got %v", want, statements)
	}
}

func TestRenameOfReferencedKeyedTableSkipsRebuild(t *testing.T) {
	statements := mustStatements(t, blogSnapshot(t), accountsSnapshot(t, "accounts_pk", "posts_author_id_accounts_id_fk"))
	want := []string{`ALTER TABLE "users" RENAME TO "accounts";`}
	if strings.Join(statements, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %v, got %v", want, statements)
	}
}

func TestDefaultConstraintNamesAreNotRendered(t *testing.T) {
	cur := NewSnapshot()
	mustAdd(t, cur,
		Table{Name: "tags"},
		Column{Table: "tags", Name: "post_id", Type: "integer", NotNull: true},
		Column{Table: "tags", Name: "label", Type: "text", NotNull: true},
		PrimaryKey{Table: "tags", Name: DefaultPrimaryKeyName("tags"), Columns: []string{"post_id", "label"}},
		UniqueConstraint{Table: "tags", Name: DefaultUniqueName("tags", []string{"label", "post_id"}), Columns: []string{"label", "post_id"}},
		ForeignKey{Table: "tags", Name: DefaultForeignKeyName("tags", []string{"post_id"}, "posts", []string{"id"}), Columns: []string{"post_id"}, TableTo: "posts", ColumnsTo: []string{"id"}},
	)
	statement := mustStatements(t, NewSnapshot(), cur)[0]
	for _, fragment := range []string{
		"\tPRIMARY KEY(\"post_id\", \"label\")",
		"\tFOREIGN KEY (\"post_id\") REFERENCES \"posts\"(\"id\")",
		"\tUNIQUE(\"label\", \"post_id\")",
	} {
		if !strings.Contains(statement, fragment) {
			t.Fatalf("expected %q in:\n%s", fragment, statement)
		}
	}
	if strings.Contains(statement, "CONSTRAINT") {
		t.Fatalf("default names must not be rendered:\n%s", statement)
	}
}

func TestIndexChanges(t *testing.T) {
	prev := blogSnapshot(t)
	cur := blogSnapshot(t)
	index, _ := cur.indexes.Get("posts.posts_title_idx")
	index.IsUnique = true
	index.Where = "title <> ''"
	cur.indexes.Replace(index.Key(), index)

	statements := mustStatements(t, prev, cur)
	want := []string{
		`DROP INDEX IF EXISTS "posts_title_idx";`,
		`CREATE UNIQUE INDEX "posts_title_idx" ON "posts" ("title") WHERE title <> '';`,
	}
	if strings.Join(statements, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %v, got %v", want, statements)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	first := mustStatements(t, NewSnapshot(), blogSnapshot(t))
	second := mustStatements(t, NewSnapshot(), blogSnapshot(t))
	generator := NewGenerator(GeneratorConfig{Breakpoints: true})
	if generator.SQL(first) != generator.SQL(second) {
		t.Fatalf("expected byte identical output")
	}
	if !strings.Contains(generator.SQL(first), ddl.Breakpoint) {
		t.Fatalf("expected breakpoints in output")
	}
}

func TestExportRendersOnlyCreates(t *testing.T) {
	statements, err := NewGenerator(GeneratorConfig{}).Export(blogSnapshot(t))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	for _, statement := range statements {
		if strings.HasPrefix(statement, "DROP") || strings.HasPrefix(statement, "ALTER") {
			t.Fatalf("unexpected statement in export: %s", statement)
		}
	}
	if len(statements) != 3 {
		t.Fatalf("expected two tables and one index, got %v", statements)
	}
}
