package ratelimiter

import (
	"log/slog"
	"sync"
	"time"

	"shardindex/internal/logging"
)

// Span is the minimal shape the predicate needs from an inbound record:
// which service it belongs to and how many bytes it costs to admit.
// A nil Span or an empty ServiceName is treated as "service name missing".
type Span struct {
	ServiceName string
	Bytes       int64
}

// DropReason classifies why a record was not admitted.
type DropReason string

const (
	ReasonMissingServiceName DropReason = "missing_service_name"
	ReasonNotProvisioned     DropReason = "not_provisioned"
	ReasonOverLimit          DropReason = "over_limit"
)

// ServiceConfig describes one service's admission budget.
type ServiceConfig struct {
	// ThroughputBytes is the service's configured per-second byte budget,
	// to be divided evenly across all preprocessor instances.
	ThroughputBytes int64

	// MaxBurstSeconds is how many seconds of budget may accumulate while idle.
	MaxBurstSeconds float64
}

// Config builds a Predicate.
type Config struct {
	// Services maps service name to its configured budget.
	Services map[string]ServiceConfig

	// PreprocessorCount is the number of peer preprocessor instances the
	// configured ThroughputBytes must be divided across. Must be >= 1.
	PreprocessorCount int

	// InitializeWarm, if true, starts every bucket full; otherwise every
	// bucket starts empty and must accumulate permits before admitting.
	InitializeWarm bool

	Now    func() time.Time
	Logger *slog.Logger
}

// Predicate is a per-service token-bucket admission gate. It is safe for
// concurrent use by many producer goroutines; each service's bucket
// serializes its own acquire internally.
type Predicate struct {
	buckets map[string]*bucket
	metrics *Metrics
	logger  *slog.Logger
}

// New builds a Predicate from cfg. permitsPerSecond for each configured
// service is ThroughputBytes / PreprocessorCount (integer division,
// matching the upstream per-service byte budget split across peers).
func New(cfg Config) *Predicate {
	if cfg.PreprocessorCount < 1 {
		cfg.PreprocessorCount = 1
	}
	logger := logging.Default(cfg.Logger).With("component", "ratelimiter")

	buckets := make(map[string]*bucket, len(cfg.Services))
	for name, sc := range cfg.Services {
		permitsPerSecond := float64(sc.ThroughputBytes / int64(cfg.PreprocessorCount))
		buckets[name] = newBucket(permitsPerSecond, sc.MaxBurstSeconds, cfg.InitializeWarm, cfg.Now)
	}

	return &Predicate{
		buckets: buckets,
		metrics: NewMetrics(),
		logger:  logger,
	}
}

// Metrics exposes the predicate's drop counters for scraping.
func (p *Predicate) Metrics() *Metrics {
	return p.metrics
}

// Admit applies the decision procedure to one record of the given byte
// size. It never blocks.
func (p *Predicate) Admit(span *Span, bytes int64) bool {
	if span == nil {
		p.metrics.recordDrop("", ReasonMissingServiceName, bytes)
		return false
	}

	if span.ServiceName == "" {
		p.metrics.recordDrop("", ReasonMissingServiceName, bytes)
		return false
	}

	b, ok := p.buckets[span.ServiceName]
	if !ok {
		p.metrics.recordDrop(span.ServiceName, ReasonNotProvisioned, bytes)
		return false
	}

	if !b.tryAcquire(float64(bytes)) {
		p.metrics.recordDrop(span.ServiceName, ReasonOverLimit, bytes)
		return false
	}

	return true
}

// Metrics holds per-(service, reason) drop counters, mirroring the
// preprocessor_rate_limit_messages_dropped / _bytes_dropped series.
type Metrics struct {
	mu              sync.Mutex
	messagesDropped map[counterKey]uint64
	bytesDropped    map[counterKey]uint64
}

type counterKey struct {
	service string
	reason  DropReason
}

func NewMetrics() *Metrics {
	return &Metrics{
		messagesDropped: make(map[counterKey]uint64),
		bytesDropped:    make(map[counterKey]uint64),
	}
}

func (m *Metrics) recordDrop(service string, reason DropReason, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := counterKey{service: service, reason: reason}
	m.messagesDropped[key]++
	if bytes > 0 {
		m.bytesDropped[key] += uint64(bytes)
	}
}

// MessagesDropped returns the current count for (service, reason).
func (m *Metrics) MessagesDropped(service string, reason DropReason) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messagesDropped[counterKey{service: service, reason: reason}]
}

// BytesDropped returns the current count for (service, reason).
func (m *Metrics) BytesDropped(service string, reason DropReason) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytesDropped[counterKey{service: service, reason: reason}]
}

// WriteProm writes the counters in Prometheus text exposition format,
// written by hand rather than through a metrics client library.
func (m *Metrics) WriteProm(w interface {
	Write([]byte) (int, error)
}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	writeHelp(w, "preprocessor_rate_limit_messages_dropped", "counter")
	for k, v := range m.messagesDropped {
		writeCounterLine(w, "preprocessor_rate_limit_messages_dropped", k, v)
	}
	writeHelp(w, "preprocessor_rate_limit_bytes_dropped", "counter")
	for k, v := range m.bytesDropped {
		writeCounterLine(w, "preprocessor_rate_limit_bytes_dropped", k, v)
	}
}
