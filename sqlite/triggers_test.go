package sqlite

import (
	"errors"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/velmie/offsync"
	"github.com/velmie/offsync/sqlstore"
)

func TestTriggerDDLGolden(t *testing.T) {
	reg := offsync.MustNewRegistry(
		offsync.Table{Name: "tasks"},
		offsync.Table{Name: "memberships", SchemaKey: "project_members", PrimaryKey: []string{"user_id", "project_id"}},
	)

	var out []string
	for _, tbl := range reg.Tables() {
		stmts, err := TriggerDDL(tbl)
		if err != nil {
			t.Fatalf("ddl %s: %v", tbl.Name, err)
		}
		out = append(out, stmts...)
	}

	g := goldie.New(t)
	g.Assert(t, "triggers", []byte(strings.Join(out, "\n\n")+"\n"))
}

func TestTriggerDDLRejectsBadIdentifiers(t *testing.T) {
	if _, err := TriggerDDL(offsync.Table{Name: "x", SchemaKey: "x;drop", PrimaryKey: []string{"id"}}); !errors.Is(err, sqlstore.ErrInvalidIdentifier) {
		t.Fatalf("expected ErrInvalidIdentifier, got %v", err)
	}
	if _, err := TriggerDDL(offsync.Table{Name: "x", SchemaKey: "x", PrimaryKey: []string{"id)"}}); !errors.Is(err, sqlstore.ErrInvalidIdentifier) {
		t.Fatalf("expected ErrInvalidIdentifier for key, got %v", err)
	}
}

func TestDropTriggerDDL(t *testing.T) {
	stmts := DropTriggerDDL(offsync.Table{Name: "tasks", SchemaKey: "main.tasks"})
	if len(stmts) != 3 || stmts[2] != `DROP TRIGGER IF EXISTS "_sync_main_tasks_ad";` {
		t.Fatalf("unexpected statements %v", stmts)
	}
}

func TestQuoteLiteral(t *testing.T) {
	if got := quoteLiteral("it's"); got != "'it''s'" {
		t.Fatalf("unexpected literal %s", got)
	}
}
