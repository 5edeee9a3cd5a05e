package memory

import (
	"context"
	"testing"

	"shardindex/internal/coordination"
)

func TestCreateGetRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Create(ctx, "/snapshots/svc-a/chunk-1", []byte("hello")); err != nil {
		t.Fatalf("create: %v", err)
	}
	node, err := s.Get(ctx, "/snapshots/svc-a/chunk-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(node.Data) != "hello" || node.Version != 1 {
		t.Fatalf("unexpected node: %+v", node)
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, "/a", []byte("1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, "/a", []byte("2")); err != coordination.ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := New()
	if _, err := s.Get(context.Background(), "/missing"); err != coordination.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateVersionConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, "/a", []byte("1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Update(ctx, "/a", []byte("2"), 99); err != coordination.ErrVersionStale {
		t.Fatalf("expected ErrVersionStale, got %v", err)
	}
	if err := s.Update(ctx, "/a", []byte("2"), 1); err != nil {
		t.Fatalf("update with correct version: %v", err)
	}
	node, _ := s.Get(ctx, "/a")
	if node.Version != 2 || string(node.Data) != "2" {
		t.Fatalf("unexpected node after update: %+v", node)
	}
	if err := s.Update(ctx, "/a", []byte("3"), -1); err != nil {
		t.Fatalf("update with version check disabled: %v", err)
	}
}

func TestDeleteNotIdempotentHere(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, "/a", []byte("1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Delete(ctx, "/a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "/a"); err != coordination.ErrNotFound {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestListReturnsNestedPathsUnderPrefix(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, p := range []string{"/snapshots/svc-a/c1", "/snapshots/svc-a/c2", "/snapshots/svc-b/c1", "/services/svc-a"} {
		if err := s.Create(ctx, p, nil); err != nil {
			t.Fatalf("create %s: %v", p, err)
		}
	}
	got, err := s.List(ctx, "/snapshots/svc-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 paths under /snapshots/svc-a, got %v", got)
	}
}

func TestWatchReceivesCreateUpdateDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	var events []coordination.Event
	cancel, err := s.Watch(ctx, "/snapshots/svc-a", func(e coordination.Event) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	if err := s.Create(ctx, "/snapshots/svc-a/c1", []byte("x")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Update(ctx, "/snapshots/svc-a/c1", []byte("y"), -1); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.Delete(ctx, "/snapshots/svc-a/c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// unrelated path must not trigger the watcher
	if err := s.Create(ctx, "/snapshots/svc-b/c1", []byte("z")); err != nil {
		t.Fatalf("create unrelated: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].Type != coordination.EventCreated || events[1].Type != coordination.EventUpdated || events[2].Type != coordination.EventDeleted {
		t.Fatalf("unexpected event sequence: %+v", events)
	}
}

func TestWatchCancelStopsDelivery(t *testing.T) {
	s := New()
	ctx := context.Background()
	count := 0
	cancel, err := s.Watch(ctx, "/a", func(coordination.Event) { count++ })
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := s.Create(ctx, "/a/1", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	cancel()
	if err := s.Create(ctx, "/a/2", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 event delivered before cancel, got %d", count)
	}
}

func TestDisconnectedOperationsFailUnavailable(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, "/a", []byte("1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	s.Disconnect()

	if _, err := s.Get(ctx, "/a"); err != coordination.ErrUnavailable {
		t.Fatalf("expected ErrUnavailable on Get, got %v", err)
	}
	if _, err := s.List(ctx, "/"); err != coordination.ErrUnavailable {
		t.Fatalf("expected ErrUnavailable on List, got %v", err)
	}
	if err := s.Create(ctx, "/b", nil); err != coordination.ErrUnavailable {
		t.Fatalf("expected ErrUnavailable on Create, got %v", err)
	}

	s.Reconnect()
	if _, err := s.Get(ctx, "/a"); err != nil {
		t.Fatalf("expected Get to succeed after reconnect: %v", err)
	}
}
