package ratelimiter

import (
	"testing"
	"time"
)

func TestColdStartDropsThenAdmitsAfterRefill(t *testing.T) {
	clock := time.Unix(0, 0)
	now := func() time.Time { return clock }

	p := New(Config{
		Services: map[string]ServiceConfig{
			"checkout": {ThroughputBytes: 100, MaxBurstSeconds: 1},
		},
		PreprocessorCount: 1,
		InitializeWarm:    false,
		Now:               now,
	})

	span := &Span{ServiceName: "checkout"}

	if p.Admit(span, 50) {
		t.Fatal("expected cold bucket to drop the first record")
	}
	if got := p.Metrics().MessagesDropped("checkout", ReasonOverLimit); got != 1 {
		t.Fatalf("expected 1 over_limit drop, got %d", got)
	}

	clock = clock.Add(time.Second)
	if !p.Admit(span, 50) {
		t.Fatal("expected record to be admitted after 1s of refill at 100 B/s")
	}
}

func TestWarmBurstThenExhausted(t *testing.T) {
	clock := time.Unix(0, 0)
	now := func() time.Time { return clock }

	p := New(Config{
		Services: map[string]ServiceConfig{
			"checkout": {ThroughputBytes: 1000, MaxBurstSeconds: 3},
		},
		PreprocessorCount: 1,
		InitializeWarm:    true,
		Now:               now,
	})

	span := &Span{ServiceName: "checkout"}

	if !p.Admit(span, 3000) {
		t.Fatal("expected warm bucket to admit a full burst")
	}
	if p.Admit(span, 1) {
		t.Fatal("expected bucket to be exhausted immediately after consuming the burst")
	}
}

func TestMissingServiceNameDropsWithoutConsumingBudget(t *testing.T) {
	p := New(Config{
		Services:          map[string]ServiceConfig{"checkout": {ThroughputBytes: 100, MaxBurstSeconds: 1}},
		PreprocessorCount: 1,
		InitializeWarm:    true,
	})

	if p.Admit(&Span{ServiceName: ""}, 10) {
		t.Fatal("expected drop for empty service name")
	}
	if p.Admit(nil, 10) {
		t.Fatal("expected drop for nil span")
	}
	if got := p.Metrics().MessagesDropped("", ReasonMissingServiceName); got != 2 {
		t.Fatalf("expected 2 missing_service_name drops, got %d", got)
	}
}

func TestUnprovisionedServiceDrops(t *testing.T) {
	p := New(Config{
		Services:          map[string]ServiceConfig{"checkout": {ThroughputBytes: 100, MaxBurstSeconds: 1}},
		PreprocessorCount: 1,
		InitializeWarm:    true,
	})

	if p.Admit(&Span{ServiceName: "unknown"}, 10) {
		t.Fatal("expected drop for unprovisioned service")
	}
	if got := p.Metrics().MessagesDropped("unknown", ReasonNotProvisioned); got != 1 {
		t.Fatalf("expected 1 not_provisioned drop, got %d", got)
	}
}

func TestPreprocessorCountSharding(t *testing.T) {
	clock := time.Unix(0, 0)
	now := func() time.Time { return clock }

	p := New(Config{
		Services:          map[string]ServiceConfig{"checkout": {ThroughputBytes: 100, MaxBurstSeconds: 1}},
		PreprocessorCount: 4, // 25 B/s per instance
		InitializeWarm:    true,
		Now:               now,
	})

	span := &Span{ServiceName: "checkout"}
	if !p.Admit(span, 25) {
		t.Fatal("expected warm bucket sized 25 B/s*1s to admit 25 bytes")
	}
	if p.Admit(span, 1) {
		t.Fatal("expected bucket to be exhausted after consuming its 25-byte burst")
	}
}

func TestConcurrentAdmitIsSerializedPerBucket(t *testing.T) {
	p := New(Config{
		Services:          map[string]ServiceConfig{"checkout": {ThroughputBytes: 1_000_000, MaxBurstSeconds: 1}},
		PreprocessorCount: 1,
		InitializeWarm:    true,
	})

	span := &Span{ServiceName: "checkout"}
	const n = 100
	done := make(chan bool, n)
	for range n {
		go func() { done <- p.Admit(span, 1) }()
	}
	admitted := 0
	for range n {
		if <-done {
			admitted++
		}
	}
	if admitted != n {
		t.Fatalf("expected all %d small admits to fit within the 1,000,000-byte burst, got %d", n, admitted)
	}
}
