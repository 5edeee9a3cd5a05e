package objectstore

import (
	"context"
	"testing"
)

func TestMemoryStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Put(ctx, "checkout/p0/chunk-1.zst", []byte("payload")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "checkout/p0/chunk-1.zst")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("unexpected payload: %q", got)
	}

	if err := s.Delete(ctx, "checkout/p0/chunk-1.zst"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "checkout/p0/chunk-1.zst"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreListByPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, k := range []string{"checkout/p0/c1", "checkout/p0/c2", "checkout/p1/c1", "billing/p0/c1"} {
		if err := s.Put(ctx, k, []byte("x")); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	keys, err := s.List(ctx, "checkout/p0/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
}

func TestMemoryStoreGetCopyIsIndependent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	orig := []byte("payload")
	if err := s.Put(ctx, "k", orig); err != nil {
		t.Fatalf("put: %v", err)
	}
	orig[0] = 'X'

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("mutation of caller's slice leaked into store: %q", got)
	}
	got[0] = 'Y'
	again, _ := s.Get(ctx, "k")
	if string(again) != "payload" {
		t.Fatalf("mutation of returned slice leaked into store: %q", again)
	}
}
