package natsnotify

import (
	"errors"
	"testing"
)

func TestConstructorsRequireConn(t *testing.T) {
	if _, err := NewPublisher(nil); !errors.Is(err, ErrConnRequired) {
		t.Fatalf("expected ErrConnRequired, got %v", err)
	}
	if _, err := NewNotifier(nil); !errors.Is(err, ErrConnRequired) {
		t.Fatalf("expected ErrConnRequired, got %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := newConfig(nil)
	if cfg.Subject != DefaultSubject || cfg.Logger == nil {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if got := newConfig([]Option{WithSubject("tenant.a.changes")}).Subject; got != "tenant.a.changes" {
		t.Fatalf("expected subject override, got %s", got)
	}
}

func TestDecode(t *testing.T) {
	note, err := Decode([]byte(`{"source":"client-a","tables":["tasks"],"cursor":12}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if note.Source != "client-a" || len(note.Tables) != 1 || note.Tables[0] != "tasks" || note.Cursor != 12 {
		t.Fatalf("unexpected notification %+v", note)
	}
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}
