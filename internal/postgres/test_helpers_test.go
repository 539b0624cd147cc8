package postgres

import (
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/ddl"
)

func usersSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	snapshot := NewSnapshot()
	mustAdd(t, snapshot,
		Table{Name: "users"},
		Column{Table: "users", Name: "id", Type: "serial", NotNull: true},
		Column{Table: "users", Name: "name", Type: "text", NotNull: true},
		PrimaryKey{Table: "users", Name: DefaultPrimaryKeyName("users"), Columns: []string{"id"}},
	)
	return snapshot
}

func blogSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	snapshot := usersSnapshot(t)
	mustAdd(t, snapshot,
		Enum{Name: "post_status", Values: []string{"draft", "published"}},
		Table{Name: "posts"},
		Column{Table: "posts", Name: "id", Type: "serial", NotNull: true},
		Column{Table: "posts", Name: "author_id", Type: "integer", NotNull: true},
		Column{Table: "posts", Name: "status", Type: "post_status", TypeSchema: PublicSchema, NotNull: true, Default: Text("'draft'")},
		PrimaryKey{Table: "posts", Name: DefaultPrimaryKeyName("posts"), Columns: []string{"id"}},
		ForeignKey{Table: "posts", Name: "posts_author_id_users_id_fk", Columns: []string{"author_id"}, TableTo: "users", ColumnsTo: []string{"id"}, OnDelete: "cascade"},
		Index{Table: "posts", Name: "posts_author_idx", Columns: []IndexColumn{Asc("author_id")}},
	)
	return snapshot
}

func mustAdd(t *testing.T, snapshot *Snapshot, entities ...ddl.Entity) {
	t.Helper()
	if err := snapshot.Add(entities...); err != nil {
		t.Fatalf("add entities: %v", err)
	}
}

func mustDiff(t *testing.T, prev, cur *Snapshot) *Plan {
	t.Helper()
	plan, err := Diff(prev, cur)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	return plan
}

func mustStatements(t *testing.T, prev, cur *Snapshot) []string {
	t.Helper()
	statements, err := NewGenerator(GeneratorConfig{Breakpoints: true}).Statements(mustDiff(t, prev, cur))
	if err != nil {
		t.Fatalf("statements: %v", err)
	}
	return statements
}

func indexOfStatement(statements []string, fragment string) int {
	for position, statement := range statements {
		if strings.Contains(statement, fragment) {
			return position
		}
	}
	return -1
}

func assertStatements(t *testing.T, got, want []string) {
	t.Helper()
	if strings.Join(got, "\n|\n") != strings.Join(want, "\n|\n") {
		t.Fatalf("unexpected statements:\n%s\nwant:\n%s", strings.Join(got, "\n|\n"), strings.Join(want, "\n|\n"))
	}
}
