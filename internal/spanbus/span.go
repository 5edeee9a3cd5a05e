// Package spanbus defines the message bus consumption boundary: a Span
// is one inbound record as delivered by whatever bus backs ingestion,
// before it is admitted by the rate limiter or assigned to a chunk.
package spanbus

import (
	"context"
	"time"
)

// Span is one record pulled off the bus, not yet admitted or assigned to
// a partition's chunk.
type Span struct {
	ServiceName string
	PartitionID string
	Offset      uint64

	SourceTS time.Time
	IngestTS time.Time

	Attrs map[string]string
	Raw   []byte
}

// Bytes approximates the on-wire size of the span, used by the rate
// limiter's admission predicate.
func (s Span) Bytes() int64 {
	n := int64(len(s.Raw))
	for k, v := range s.Attrs {
		n += int64(len(k) + len(v))
	}
	return n
}

// Consumer pulls spans from a bus partition. Fetch blocks until at least
// one span is available, ctx is done, or the underlying bus connection
// fails.
type Consumer interface {
	Fetch(ctx context.Context) ([]Span, error)
	Close() error
}
