package authz

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newWatcherPair(t *testing.T) (*Watcher, *Watcher) {
	t.Helper()
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return client
	}
	return NewWatcher(newClient(), "", nil), NewWatcher(newClient(), "", nil)
}

func TestWatcherMarksOtherInstancesStale(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	writerWatch, readerWatch := newWatcherPair(t)

	adapter := NewMemoryAdapter("test")
	writer := openWithAdapter(t, adapter, writerWatch)
	reader := openWithAdapter(t, adapter, readerWatch)
	require.NoError(t, readerWatch.Listen(ctx, "test", reader.Enforcer.MarkStale))

	_, err := writer.Admin.GrantPermission(ctx, "alice", "home", ActionView)
	require.NoError(t, err)

	require.Eventually(t, reader.Enforcer.Stale, 2*time.Second, 10*time.Millisecond)
	// Staleness is advisory: the snapshot is unchanged until an explicit reload.
	require.False(t, reader.Enforce("alice", "home", ActionView))
	require.NoError(t, reader.Reload(ctx))
	require.False(t, reader.Enforcer.Stale())
	require.True(t, reader.Enforce("alice", "home", ActionView))
}

func TestWatcherIgnoresOwnAndForeignNamespaceMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	self, other := newWatcherPair(t)

	notified := make(chan struct{}, 4)
	require.NoError(t, self.Listen(ctx, "test", func() { notified <- struct{}{} }))

	require.NoError(t, self.Notify(ctx, "test"))
	require.NoError(t, other.Notify(ctx, "elsewhere"))
	require.NoError(t, other.Notify(ctx, "test"))

	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a notification from the other instance")
	}
	select {
	case <-notified:
		t.Fatalf("unexpected second notification")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNilWatcherIsNoop(t *testing.T) {
	var w *Watcher
	require.NoError(t, w.Notify(context.Background(), "test"))
	require.NoError(t, w.Listen(context.Background(), "test", func() {}))
}
