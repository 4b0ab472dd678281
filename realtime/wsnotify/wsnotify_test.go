package wsnotify_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/velmie/offsync"
	"github.com/velmie/offsync/realtime/wsnotify"
)

func startHub(t *testing.T, opts ...wsnotify.Option) (*wsnotify.Hub, string) {
	t.Helper()

	hub := wsnotify.NewHub(opts...)
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestNewNotifierRequiresURL(t *testing.T) {
	if _, err := wsnotify.NewNotifier(" "); !errors.Is(err, wsnotify.ErrURLRequired) {
		t.Fatalf("expected ErrURLRequired, got %v", err)
	}
}

func TestHubBroadcastsToNotifiers(t *testing.T) {
	hub, url := startHub(t, wsnotify.WithToken("secret"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make([]chan offsync.Notification, 2)
	done := make(chan error, len(received))
	for i := range received {
		ch := make(chan offsync.Notification, 4)
		received[i] = ch
		n, err := wsnotify.NewNotifier(url, wsnotify.WithToken("secret"))
		if err != nil {
			t.Fatalf("notifier: %v", err)
		}
		go func() { done <- n.Subscribe(ctx, func(note offsync.Notification) { ch <- note }) }()
	}
	waitFor(t, func() bool { return hub.Clients() == 2 })

	want := offsync.Notification{Source: "client-a", Tables: []string{"tasks"}, Cursor: 7}
	if err := hub.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for i, ch := range received {
		select {
		case got := <-ch:
			if got.Source != want.Source || got.Cursor != want.Cursor || len(got.Tables) != 1 {
				t.Fatalf("client %d got %+v", i, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("client %d received nothing", i)
		}
	}

	cancel()
	for range received {
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	}
	waitFor(t, func() bool { return hub.Clients() == 0 })
}

func TestHubRejectsMissingToken(t *testing.T) {
	hub, url := startHub(t, wsnotify.WithToken("secret"))

	n, err := wsnotify.NewNotifier(url)
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	if err := n.Subscribe(context.Background(), func(offsync.Notification) {}); err == nil {
		t.Fatalf("expected dial error without token")
	}
	if hub.Clients() != 0 {
		t.Fatalf("expected no clients registered")
	}
}

func TestSubscribeEndsWhenHubCloses(t *testing.T) {
	hub, url := startHub(t)

	n, err := wsnotify.NewNotifier(url)
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- n.Subscribe(context.Background(), func(offsync.Notification) {}) }()
	waitFor(t, func() bool { return hub.Clients() == 1 })

	hub.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected read error")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("subscription did not end")
	}
	if err := n.Subscribe(context.Background(), func(offsync.Notification) {}); err == nil {
		t.Fatalf("expected a closed hub to refuse clients")
	}
}

func TestPublishWithoutClients(t *testing.T) {
	hub := wsnotify.NewHub()
	if err := hub.Publish(context.Background(), offsync.Notification{Cursor: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}
