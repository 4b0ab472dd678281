//go:build integration

package natsnotify_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/velmie/offsync"
	"github.com/velmie/offsync/realtime/natsnotify"
)

func startNATS(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	port := nat.Port("4222/tcp")
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{string(port)},
			WaitingFor:   wait.ForListeningPort(port).WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)

	return fmt.Sprintf("nats://%s:%s", host, mapped.Port())
}

func TestPublishSubscribe(t *testing.T) {
	url := startNATS(t)

	pubConn, err := natsnotify.Connect(url, "offsync-server")
	require.NoError(t, err)
	defer pubConn.Close()
	subConn, err := natsnotify.Connect(url, "offsync-client")
	require.NoError(t, err)
	defer subConn.Close()

	pub, err := natsnotify.NewPublisher(pubConn)
	require.NoError(t, err)
	notifier, err := natsnotify.NewNotifier(subConn)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan offsync.Notification, 1)
	done := make(chan error, 1)
	handle := func(n offsync.Notification) {
		select {
		case got <- n:
		default:
		}
	}
	go func() { done <- notifier.Subscribe(ctx, handle) }()

	// The subscription may not be registered yet; publish until one arrives.
	want := offsync.Notification{Source: "client-a", Tables: []string{"tasks"}, Cursor: 4}
	deadline := time.After(10 * time.Second)
	for received := false; !received; {
		require.NoError(t, pub.Publish(ctx, want))
		select {
		case n := <-got:
			require.Equal(t, want, n)
			received = true
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("no notification received")
		}
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestSubscribeEndsWhenConnectionCloses(t *testing.T) {
	url := startNATS(t)
	nc, err := natsnotify.Connect(url, "offsync-client")
	require.NoError(t, err)
	notifier, err := natsnotify.NewNotifier(nc)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- notifier.Subscribe(context.Background(), func(offsync.Notification) {}) }()
	time.Sleep(100 * time.Millisecond)
	nc.Close()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not end after close")
	}
}
