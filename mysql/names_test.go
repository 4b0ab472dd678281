package mysql

import (
	"strings"
	"testing"

	"github.com/velmie/offsync"
)

func TestTriggerName(t *testing.T) {
	short := triggerName(offsync.Table{SchemaKey: "app.tasks"}, "ai")
	if short != "_sync_app_tasks_ai" {
		t.Fatalf("unexpected name %s", short)
	}

	long := offsync.Table{SchemaKey: strings.Repeat("a", 80)}
	name := triggerName(long, "au")
	if len(name) != maxIdentifierLen {
		t.Fatalf("expected %d chars, got %d (%s)", maxIdentifierLen, len(name), name)
	}
	if !strings.HasSuffix(name, "_au") {
		t.Fatalf("expected suffix kept, got %s", name)
	}
	if other := triggerName(offsync.Table{SchemaKey: strings.Repeat("a", 79) + "b"}, "au"); other == name {
		t.Fatalf("expected distinct truncated names")
	}
}

func TestQuoteLiteral(t *testing.T) {
	if got := quoteLiteral(`it's \n`); got != `'it''s \\n'` {
		t.Fatalf("unexpected literal %s", got)
	}
}
