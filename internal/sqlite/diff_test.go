package sqlite

import (
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/ddl"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
)

func TestDiffIdenticalSnapshotsIsEmpty(t *testing.T) {
	snapshot := blogSnapshot(t)
	plan := mustDiff(t, snapshot, snapshot.Clone())
	if !plan.Empty() {
		t.Fatalf("expected empty diff, got %+v", plan.Diffs)
	}
}

func TestDiffFromEmptyCreatesEveryEntity(t *testing.T) {
	cur := blogSnapshot(t)
	plan := mustDiff(t, NewSnapshot(), cur)

	if len(plan.Diffs) != len(cur.Entities()) {
		t.Fatalf("expected %d diffs, got %d", len(cur.Entities()), len(plan.Diffs))
	}
	tableOrder := []string{}
	for _, diff := range plan.Diffs {
		if diff.Type != ddl.Create {
			t.Fatalf("expected only creates, got %s %s", diff.Type, diff.Key)
		}
		if diff.Before != nil {
			t.Fatalf("create diff %s must not carry before payload", diff.Key)
		}
		if diff.Kind == ddl.KindTable {
			tableOrder = append(tableOrder, diff.Name)
		}
	}
	if len(tableOrder) != 2 || tableOrder[0] != "users" || tableOrder[1] != "posts" {
		t.Fatalf("expected referenced table first, got %v", tableOrder)
	}
}

func TestDiffOrdersOwnedCreatesUnderTheirTable(t *testing.T) {
	plan := mustDiff(t, NewSnapshot(), blogSnapshot(t))

	var postsSeen bool
	for _, diff := range plan.Diffs {
		if diff.Kind == ddl.KindTable && diff.Name == "posts" {
			postsSeen = true
		}
		if diff.Kind == ddl.KindColumn && tableOf(diff.After) == "posts" && !postsSeen {
			t.Fatalf("column %s ordered before its table", diff.Key)
		}
	}
	last := plan.Diffs[len(plan.Diffs)-1]
	if last.Kind != ddl.KindIndex {
		t.Fatalf("expected indexes after tables, got %s last", last.Kind)
	}
}

func TestDiffDropsReferencingTablesFirst(t *testing.T) {
	plan := mustDiff(t, blogSnapshot(t), NewSnapshot())

	var order []string
	for _, diff := range plan.Diffs {
		if diff.Type != ddl.Drop {
			t.Fatalf("expected only drops, got %s %s", diff.Type, diff.Key)
		}
		if diff.After != nil {
			t.Fatalf("drop diff %s must not carry after payload", diff.Key)
		}
		if diff.Kind == ddl.KindTable {
			order = append(order, diff.Name)
		}
	}
	if len(order) != 2 || order[0] != "posts" || order[1] != "users" {
		t.Fatalf("expected posts dropped before users, got %v", order)
	}
}

func TestDiffRejectsOtherDialects(t *testing.T) {
	prev := NewSnapshot()
	prev.Dialect = dialect.PostgreSQL.String()

	plan, err := Diff(prev, usersSnapshot(t))
	if !errors.Is(err, dialect.ErrDialectMismatch) {
		t.Fatalf("expected ErrDialectMismatch, got %v", err)
	}
	if plan != nil {
		t.Fatalf("expected no partial plan")
	}
}

func TestDiffReportsFieldChanges(t *testing.T) {
	prev := usersSnapshot(t)
	cur := NewSnapshot()
	mustAdd(t, cur,
		Table{Name: "users"},
		Column{Table: "users", Name: "id", Type: "integer", NotNull: true},
		Column{Table: "users", Name: "name", Type: "text", NotNull: false, Default: Text("'anonymous'")},
	)

	plan := mustDiff(t, prev, cur)
	if len(plan.Diffs) != 1 {
		t.Fatalf("expected one diff, got %+v", plan.Diffs)
	}
	diff := plan.Diffs[0]
	if diff.Type != ddl.Alter || diff.Key != "users.name" {
		t.Fatalf("unexpected diff %+v", diff)
	}
	if !diff.Changed("notNull") || !diff.Changed("default") || diff.Changed("type") {
		t.Fatalf("unexpected field changes %+v", diff.Changes)
	}
}

func accountsSnapshot(t *testing.T, pkName, fkName string) *Snapshot {
	t.Helper()
	snapshot := NewSnapshot()
	mustAdd(t, snapshot,
		Table{Name: "accounts"},
		Column{Table: "accounts", Name: "id", Type: "integer", NotNull: true},
		Column{Table: "accounts", Name: "name", Type: "text", NotNull: true},
		PrimaryKey{Table: "accounts", Name: pkName, Columns: []string{"id"}, NameExplicit: pkName != DefaultPrimaryKeyName("accounts")},
		Table{Name: "posts"},
		Column{Table: "posts", Name: "id", Type: "integer", NotNull: true},
		Column{Table: "posts", Name: "author_id", Type: "integer", NotNull: true},
		Column{Table: "posts", Name: "title", Type: "text", NotNull: true, Default: Text("'untitled'")},
		PrimaryKey{Table: "posts", Name: "posts_pk", Columns: []string{"id"}},
		ForeignKey{Table: "posts", Name: fkName, Columns: []string{"author_id"}, TableTo: "accounts", ColumnsTo: []string{"id"}, OnDelete: "cascade"},
		Index{Table: "posts", Name: "posts_title_idx", Columns: []IndexColumn{{Value: "title"}}},
	)
	snapshot.RenameTable("users", "accounts")
	return snapshot
}

func TestDiffUsesRecordedTableRename(t *testing.T) {
	explicit := blogSnapshot(t)
	explicitPK, _ := explicit.PrimaryKey("users")
	renamedPK := explicitPK
	renamedPK.Name, renamedPK.NameExplicit = "users_key", true
	explicit.pks.Replace(explicitPK.Key(), renamedPK)
	fk, _ := explicit.fks.Get("posts.posts_author_id_users_id_fk")
	renamedFK := fk
	renamedFK.Name = "posts_author_fk"
	explicit.fks.Replace(fk.Key(), renamedFK)

	testCases := []struct {
		name string
		prev *Snapshot
		cur  *Snapshot
	}{
		{"default names follow the table", blogSnapshot(t), accountsSnapshot(t, "accounts_pk", "posts_author_id_accounts_id_fk")},
		{"explicit names are kept", explicit, accountsSnapshot(t, "users_key", "posts_author_fk")},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			plan := mustDiff(t, testCase.prev, testCase.cur)
			if len(plan.Diffs) != 1 {
				t.Fatalf("expected a single rename diff, got %+v", plan.Diffs)
			}
			if !plan.Diffs[0].IsRename() || plan.Diffs[0].RenamedFrom != "users" || plan.Diffs[0].Name != "accounts" {
				t.Fatalf("unexpected rename diff %+v", plan.Diffs[0])
			}
		})
	}
}

func TestDiffRenamesDefaultNamesWithColumn(t *testing.T) {
	prev := blogSnapshot(t)
	mustAdd(t, prev, UniqueConstraint{Table: "users", Name: DefaultUniqueName("users", []string{"id", "name"}), Columns: []string{"id", "name"}})

	cur := NewSnapshot()
	mustAdd(t, cur,
		Table{Name: "users"},
		Column{Table: "users", Name: "user_id", Type: "integer", NotNull: true},
		Column{Table: "users", Name: "name", Type: "text", NotNull: true},
		PrimaryKey{Table: "users", Name: "users_pk", Columns: []string{"user_id"}},
		Table{Name: "posts"},
		Column{Table: "posts", Name: "id", Type: "integer", NotNull: true},
		Column{Table: "posts", Name: "author_id", Type: "integer", NotNull: true},
		Column{Table: "posts", Name: "title", Type: "text", NotNull: true, Default: Text("'untitled'")},
		PrimaryKey{Table: "posts", Name: "posts_pk", Columns: []string{"id"}},
		ForeignKey{Table: "posts", Name: "posts_author_id_users_user_id_fk", Columns: []string{"author_id"}, TableTo: "users", ColumnsTo: []string{"user_id"}, OnDelete: "cascade"},
		Index{Table: "posts", Name: "posts_title_idx", Columns: []IndexColumn{{Value: "title"}}},
		UniqueConstraint{Table: "users", Name: "users_user_id_name_unique", Columns: []string{"user_id", "name"}},
	)
	cur.RenameColumn("users", "id", "user_id")

	plan := mustDiff(t, prev, cur)
	if len(plan.Diffs) != 1 || !plan.Diffs[0].IsRename() || plan.Diffs[0].RenamedFrom != "users.id" {
		t.Fatalf("expected one column rename, got %+v", plan.Diffs)
	}
}

func TestDiffIgnoresRenameWithoutMatchingEntities(t *testing.T) {
	prev := usersSnapshot(t)
	cur := usersSnapshot(t)
	cur.RenameTable("ghosts", "users")

	plan := mustDiff(t, prev, cur)
	if !plan.Empty() {
		t.Fatalf("expected rename of unknown table to be ignored, got %+v", plan.Diffs)
	}
}

func TestDiffUsesRecordedColumnRename(t *testing.T) {
	prev := usersSnapshot(t)
	cur := NewSnapshot()
	mustAdd(t, cur,
		Table{Name: "users"},
		Column{Table: "users", Name: "id", Type: "integer", NotNull: true},
		Column{Table: "users", Name: "full_name", Type: "text", NotNull: true},
	)

	withoutMeta := mustDiff(t, prev, cur)
	if len(withoutMeta.Diffs) != 2 {
		t.Fatalf("expected drop and create without meta, got %+v", withoutMeta.Diffs)
	}

	cur.RenameColumn("users", "name", "full_name")
	plan := mustDiff(t, prev, cur)
	if len(plan.Diffs) != 1 || !plan.Diffs[0].IsRename() || plan.Diffs[0].RenamedFrom != "users.name" {
		t.Fatalf("expected one column rename, got %+v", plan.Diffs)
	}
}

func TestDiffAddsColumnsInDeclarationOrder(t *testing.T) {
	prev := usersSnapshot(t)
	cur := usersSnapshot(t)
	mustAdd(t, cur,
		Column{Table: "users", Name: "zeta", Type: "text"},
		Column{Table: "users", Name: "alpha", Type: "text"},
	)

	plan := mustDiff(t, prev, cur)
	if len(plan.Diffs) != 2 || plan.Diffs[0].Name != "zeta" || plan.Diffs[1].Name != "alpha" {
		t.Fatalf("expected declaration order, got %+v", plan.Diffs)
	}
}
