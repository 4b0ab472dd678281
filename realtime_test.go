package offsync_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/velmie/offsync"
)

type countingTrigger struct {
	source string
	count  atomic.Int32
}

func (c *countingTrigger) Trigger()         { c.count.Add(1) }
func (c *countingTrigger) SourceID() string { return c.source }

type chanNotifier struct {
	notes    chan offsync.Notification
	failures atomic.Int32
	failN    int32
}

func (n *chanNotifier) Subscribe(ctx context.Context, handle func(offsync.Notification)) error {
	if n.failures.Add(1) <= n.failN {
		return errors.New("broker unavailable")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case note := <-n.notes:
			handle(note)
		}
	}
}

func TestNewRealtimeManagerRequiresCollaborators(t *testing.T) {
	if _, err := offsync.NewRealtimeManager(nil, &countingTrigger{}); !errors.Is(err, offsync.ErrNotifierRequired) {
		t.Fatalf("expected ErrNotifierRequired, got %v", err)
	}
	if _, err := offsync.NewRealtimeManager(&chanNotifier{}, nil); !errors.Is(err, offsync.ErrEngineRequired) {
		t.Fatalf("expected ErrEngineRequired, got %v", err)
	}
}

func TestRealtimeHandleFiltersNotifications(t *testing.T) {
	target := &countingTrigger{source: "me"}
	m, err := offsync.NewRealtimeManager(&chanNotifier{}, target, offsync.WithRealtimeRegistry(testRegistry(t)))
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	m.Handle(offsync.Notification{Source: "me", Tables: []string{"tasks"}})
	m.Handle(offsync.Notification{Source: "other", Tables: []string{"ghosts"}})
	m.Handle(offsync.Notification{Source: "other", Tables: []string{"ghosts", "tasks"}})
	m.Handle(offsync.Notification{Source: "other"})
	m.Handle(offsync.Notification{Source: "other"})

	triggered, ignored := m.Counts()
	if triggered != 3 || ignored != 2 {
		t.Fatalf("expected 3 triggered and 2 ignored, got %d and %d", triggered, ignored)
	}
	if got := target.count.Load(); got != 3 {
		t.Fatalf("expected 3 triggers, got %d", got)
	}
}

func TestRealtimeRunResubscribesAndTriggers(t *testing.T) {
	target := &countingTrigger{source: "me"}
	notifier := &chanNotifier{notes: make(chan offsync.Notification, 1), failN: 1}
	m, err := offsync.NewRealtimeManager(notifier, target, offsync.WithResubscribeDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// One trigger after the failed subscription to catch up on missed changes.
	waitFor(t, func() bool { return target.count.Load() == 1 })
	notifier.notes <- offsync.Notification{Source: "server", Cursor: 3}
	waitFor(t, func() bool { return target.count.Load() == 2 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRealtimeDrivesEngineTrigger(t *testing.T) {
	f := newFixture(t)
	var pushes atomic.Int32
	transport := &scriptedTransport{respond: func(req offsync.PushRequest) (offsync.PushResponse, error) {
		pushes.Add(1)
		return acceptAll(req), nil
	}}
	e := newEngine(t, f, transport, offsync.WithPollInterval(time.Hour))
	notifier := &chanNotifier{notes: make(chan offsync.Notification, 4)}
	m, err := offsync.NewRealtimeManager(notifier, e, offsync.WithRealtimeRegistry(f.registry))
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()
	go func() { _ = m.Run(ctx) }()

	waitFor(t, func() bool { return pushes.Load() == 1 })
	notifier.notes <- offsync.Notification{Source: "client-a", Tables: []string{"tasks"}}
	notifier.notes <- offsync.Notification{Source: "client-b", Tables: []string{"tasks"}}
	waitFor(t, func() bool { return pushes.Load() >= 2 })

	time.Sleep(20 * time.Millisecond)
	if _, ignored := m.Counts(); ignored != 1 {
		t.Fatalf("expected own notification ignored, got %d ignored", ignored)
	}
}
