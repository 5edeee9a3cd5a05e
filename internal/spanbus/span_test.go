package spanbus

import (
	"context"
	"testing"
	"time"
)

func TestSpanBytesIncludesAttrs(t *testing.T) {
	s := Span{Raw: []byte("hello"), Attrs: map[string]string{"k": "v"}}
	if got := s.Bytes(); got != int64(len("hello")+len("k")+len("v")) {
		t.Fatalf("unexpected byte count: %d", got)
	}
}

func TestFakeConsumerFetchBlocksUntilPush(t *testing.T) {
	c := NewFakeConsumer()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan []Span, 1)
	go func() {
		spans, err := c.Fetch(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		done <- spans
	}()

	c.Push(Span{ServiceName: "checkout", Raw: []byte("x")})

	select {
	case spans := <-done:
		if len(spans) != 1 {
			t.Fatalf("expected 1 span, got %d", len(spans))
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for fetch")
	}
}

func TestFakeConsumerCloseUnblocksFetch(t *testing.T) {
	c := NewFakeConsumer()
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Fetch(context.Background())
		errCh <- err
	}()

	c.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error after close")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fetch to unblock after close")
	}
}
