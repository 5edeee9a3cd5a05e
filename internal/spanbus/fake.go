package spanbus

import (
	"context"
	"sync"
)

// FakeConsumer is an in-memory Consumer for tests: Push queues spans,
// Fetch drains whatever is queued (blocking until at least one span
// arrives or ctx is done).
type FakeConsumer struct {
	mu     sync.Mutex
	queued []Span
	notify chan struct{}
	closed bool
}

func NewFakeConsumer() *FakeConsumer {
	return &FakeConsumer{notify: make(chan struct{}, 1)}
}

func (f *FakeConsumer) Push(spans ...Span) {
	f.mu.Lock()
	f.queued = append(f.queued, spans...)
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *FakeConsumer) Fetch(ctx context.Context) ([]Span, error) {
	for {
		f.mu.Lock()
		if len(f.queued) > 0 {
			batch := f.queued
			f.queued = nil
			f.mu.Unlock()
			return batch, nil
		}
		closed := f.closed
		f.mu.Unlock()
		if closed {
			return nil, context.Canceled
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.notify:
		}
	}
}

func (f *FakeConsumer) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return nil
}

var _ Consumer = (*FakeConsumer)(nil)
