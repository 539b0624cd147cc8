package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/sqlite"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "roundtrip.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	return db
}

func execStatements(t *testing.T, db *gorm.DB, statements []string) {
	t.Helper()
	for _, statement := range statements {
		if err := db.Exec(statement).Error; err != nil {
			t.Fatalf("failed to execute %q: %v", statement, err)
		}
	}
}

func baseSchema() *sqlite.Snapshot {
	return sqlite.NewSnapshot().MustAdd(
		sqlite.Table{Name: "users"},
		sqlite.Column{Table: "users", Name: "id", Type: "integer"},
		sqlite.Column{Table: "users", Name: "name", Type: "text", NotNull: true},
		sqlite.PrimaryKey{Table: "users", Name: sqlite.DefaultPrimaryKeyName("users"), Columns: []string{"id"}},
		sqlite.Table{Name: "notes"},
		sqlite.Column{Table: "notes", Name: "body", Type: "text", NotNull: true, Default: sqlite.Text("'draft'")},
	)
}

func blogSchema(users, authorColumn string) *sqlite.Snapshot {
	return sqlite.NewSnapshot().MustAdd(
		sqlite.Table{Name: users},
		sqlite.Column{Table: users, Name: "id", Type: "integer"},
		sqlite.PrimaryKey{Table: users, Name: sqlite.DefaultPrimaryKeyName(users), Columns: []string{"id"}},
		sqlite.Table{Name: "posts"},
		sqlite.Column{Table: "posts", Name: "id", Type: "integer"},
		sqlite.Column{Table: "posts", Name: authorColumn, Type: "integer", NotNull: true},
		sqlite.Column{Table: "posts", Name: "title", Type: "text", NotNull: true},
		sqlite.PrimaryKey{Table: "posts", Name: sqlite.DefaultPrimaryKeyName("posts"), Columns: []string{"id"}},
		sqlite.ForeignKey{
			Table:     "posts",
			Name:      sqlite.DefaultForeignKeyName("posts", []string{authorColumn}, users, []string{"id"}),
			Columns:   []string{authorColumn},
			TableTo:   users,
			ColumnsTo: []string{"id"},
			OnDelete:  "cascade",
		},
		sqlite.UniqueConstraint{
			Table:   "posts",
			Name:    sqlite.DefaultUniqueName("posts", []string{"title", authorColumn}),
			Columns: []string{"title", authorColumn},
		},
	)
}

// assertStructure fails when the live database differs from want, ignoring recorded renames.
func assertStructure(t *testing.T, db *gorm.DB, want *sqlite.Snapshot) {
	t.Helper()
	got, err := IntrospectSQLite(context.Background(), db)
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	expected := want.Clone()
	expected.Meta = sqlite.Meta{}
	plan, err := sqlite.Diff(got, expected)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if !plan.Empty() {
		t.Fatalf("database differs from snapshot: %+v", plan.Diffs)
	}
}

func TestGeneratedSQLRoundTrips(t *testing.T) {
	testCases := []struct {
		name string
		prev func() *sqlite.Snapshot
		cur  func() *sqlite.Snapshot
	}{
		{"add table", baseSchema, func() *sqlite.Snapshot {
			return baseSchema().MustAdd(
				sqlite.Table{Name: "tags"},
				sqlite.Column{Table: "tags", Name: "label", Type: "text", NotNull: true},
			)
		}},
		{"drop table", baseSchema, func() *sqlite.Snapshot {
			return sqlite.NewSnapshot().MustAdd(
				sqlite.Table{Name: "users"},
				sqlite.Column{Table: "users", Name: "id", Type: "integer"},
				sqlite.Column{Table: "users", Name: "name", Type: "text", NotNull: true},
				sqlite.PrimaryKey{Table: "users", Name: sqlite.DefaultPrimaryKeyName("users"), Columns: []string{"id"}},
			)
		}},
		{"add column", baseSchema, func() *sqlite.Snapshot {
			return baseSchema().MustAdd(sqlite.Column{Table: "users", Name: "email", Type: "text"})
		}},
		{"add index", baseSchema, func() *sqlite.Snapshot {
			return baseSchema().MustAdd(sqlite.Index{
				Table:   "users",
				Name:    "users_name_idx",
				Columns: []sqlite.IndexColumn{{Value: "name"}},
			})
		}},
		{"rename table", baseSchema, func() *sqlite.Snapshot {
			return sqlite.NewSnapshot().MustAdd(
				sqlite.Table{Name: "users"},
				sqlite.Column{Table: "users", Name: "id", Type: "integer"},
				sqlite.Column{Table: "users", Name: "name", Type: "text", NotNull: true},
				sqlite.PrimaryKey{Table: "users", Name: sqlite.DefaultPrimaryKeyName("users"), Columns: []string{"id"}},
				sqlite.Table{Name: "memos"},
				sqlite.Column{Table: "memos", Name: "body", Type: "text", NotNull: true, Default: sqlite.Text("'draft'")},
			).RenameTable("notes", "memos")
		}},
		{"rename column", baseSchema, func() *sqlite.Snapshot {
			return sqlite.NewSnapshot().MustAdd(
				sqlite.Table{Name: "users"},
				sqlite.Column{Table: "users", Name: "id", Type: "integer"},
				sqlite.Column{Table: "users", Name: "full_name", Type: "text", NotNull: true},
				sqlite.PrimaryKey{Table: "users", Name: sqlite.DefaultPrimaryKeyName("users"), Columns: []string{"id"}},
				sqlite.Table{Name: "notes"},
				sqlite.Column{Table: "notes", Name: "body", Type: "text", NotNull: true, Default: sqlite.Text("'draft'")},
			).RenameColumn("users", "name", "full_name")
		}},
		{"rename referenced keyed table", func() *sqlite.Snapshot { return blogSchema("users", "author_id") }, func() *sqlite.Snapshot {
			return blogSchema("accounts", "author_id").RenameTable("users", "accounts")
		}},
		{"rename referencing column", func() *sqlite.Snapshot { return blogSchema("users", "author_id") }, func() *sqlite.Snapshot {
			return blogSchema("users", "writer_id").RenameColumn("posts", "author_id", "writer_id")
		}},
	}

	generator := sqlite.NewGenerator(sqlite.GeneratorConfig{Breakpoints: true})
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			db := openTestDatabase(t)
			prev := testCase.prev()
			created, err := generator.Export(prev)
			if err != nil {
				t.Fatalf("export: %v", err)
			}
			execStatements(t, db, created)
			assertStructure(t, db, prev)

			cur := testCase.cur()
			plan, err := sqlite.Diff(prev, cur)
			if err != nil {
				t.Fatalf("diff: %v", err)
			}
			statements, err := generator.Statements(plan)
			if err != nil {
				t.Fatalf("statements: %v", err)
			}
			if len(statements) == 0 {
				t.Fatalf("expected statements for %s", testCase.name)
			}
			execStatements(t, db, statements)
			assertStructure(t, db, cur)
			for _, diff := range plan.Diffs {
				if !diff.IsRename() && strings.HasPrefix(testCase.name, "rename") {
					t.Fatalf("expected only renames, got %s %s %s", diff.Type, diff.Kind, diff.Key)
				}
			}
		})
	}
}

func TestIntrospectSQLiteReadsConstraints(t *testing.T) {
	want := sqlite.NewSnapshot().MustAdd(
		sqlite.Table{Name: "authors"},
		sqlite.Column{Table: "authors", Name: "id", Type: "integer"},
		sqlite.Column{Table: "authors", Name: "email", Type: "text", NotNull: true},
		sqlite.PrimaryKey{Table: "authors", Name: sqlite.DefaultPrimaryKeyName("authors"), Columns: []string{"id"}},
		sqlite.UniqueConstraint{Table: "authors", Name: "authors_email_unique", Columns: []string{"email"}},
		sqlite.Table{Name: "posts", Strict: true},
		sqlite.Column{Table: "posts", Name: "id", Type: "integer"},
		sqlite.Column{Table: "posts", Name: "author_id", Type: "integer", NotNull: true},
		sqlite.Column{Table: "posts", Name: "title", Type: "text", NotNull: true},
		sqlite.Column{Table: "posts", Name: "rating", Type: "integer", NotNull: true, Default: sqlite.Text("0")},
		sqlite.PrimaryKey{Table: "posts", Name: sqlite.DefaultPrimaryKeyName("posts"), Columns: []string{"id"}},
		sqlite.ForeignKey{
			Table:     "posts",
			Name:      "posts_author_fk",
			Columns:   []string{"author_id"},
			TableTo:   "authors",
			ColumnsTo: []string{"id"},
			OnDelete:  "cascade",
		},
		sqlite.UniqueConstraint{Table: "posts", Name: "posts_title_author_unique", Columns: []string{"title", "author_id"}, NameExplicit: true},
		sqlite.CheckConstraint{Table: "posts", Name: "posts_rating_check", Value: "rating >= 0"},
		sqlite.Index{
			Table:   "posts",
			Name:    "posts_title_idx",
			Columns: []sqlite.IndexColumn{{Value: "lower(title)", IsExpression: true}},
			Where:   "rating > 0",
		},
		sqlite.View{Name: "rated_posts", Definition: `SELECT "title" FROM "posts" WHERE "rating" > 3`},
	)

	db := openTestDatabase(t)
	statements, err := sqlite.NewGenerator(sqlite.GeneratorConfig{}).Export(want)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	execStatements(t, db, statements)

	got, err := IntrospectSQLite(context.Background(), db)
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	if table, ok := got.Table("posts"); !ok || !table.Strict {
		t.Fatalf("expected strict posts table, got %+v", table)
	}
	fks := got.ForeignKeys("posts")
	if len(fks) != 1 || fks[0].Name != "posts_author_fk" {
		t.Fatalf("unexpected foreign keys %+v", fks)
	}
	checks := got.Checks("posts")
	if len(checks) != 1 || checks[0].Value != "rating >= 0" {
		t.Fatalf("unexpected checks %+v", checks)
	}
	assertStructure(t, db, want)
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
