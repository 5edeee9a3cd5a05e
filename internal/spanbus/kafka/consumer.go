// Package kafka implements spanbus.Consumer on top of a Kafka consumer
// group, using franz-go rather than the older sarama-style clients.
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"shardindex/internal/spanbus"
)

// SASLConfig configures a SASL mechanism. Mechanism is one of "plain",
// "scram-sha-256", "scram-sha-512"; empty disables SASL.
type SASLConfig struct {
	Mechanism string
	Username  string
	Password  string
}

// Config builds a Consumer.
type Config struct {
	ServiceName string
	Brokers     []string
	Topic       string
	Group       string

	TLS  *tls.Config
	SASL *SASLConfig
}

// Consumer implements spanbus.Consumer over one Kafka topic.
type Consumer struct {
	cfg    Config
	client *kgo.Client
}

// New constructs a Consumer. The returned value must be closed when no
// longer needed to release its client connections.
func New(cfg Config) (*Consumer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumerGroup(cfg.Group),
	}
	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}
	if cfg.SASL != nil {
		mechanism, err := buildSASLMechanism(*cfg.SASL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.SASL(mechanism))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Consumer{cfg: cfg, client: client}, nil
}

func buildSASLMechanism(cfg SASLConfig) (sasl.Mechanism, error) {
	switch cfg.Mechanism {
	case "plain":
		return plain.Auth{User: cfg.Username, Pass: cfg.Password}.AsMechanism(), nil
	case "scram-sha-256":
		return scram.Auth{User: cfg.Username, Pass: cfg.Password}.AsSha256Mechanism(), nil
	case "scram-sha-512":
		return scram.Auth{User: cfg.Username, Pass: cfg.Password}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism %q", cfg.Mechanism)
	}
}

// Fetch blocks until a batch of records is available or ctx is done.
func (c *Consumer) Fetch(ctx context.Context) ([]spanbus.Span, error) {
	fetches := c.client.PollFetches(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errs := fetches.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("kafka fetch: %w", errs[0].Err)
	}

	now := time.Now()
	var spans []spanbus.Span
	fetches.EachRecord(func(rec *kgo.Record) {
		attrs := make(map[string]string, len(rec.Headers)+1)
		attrs["kafka_partition"] = fmt.Sprintf("%d", rec.Partition)
		for _, h := range rec.Headers {
			attrs[h.Key] = string(h.Value)
		}

		spans = append(spans, spanbus.Span{
			ServiceName: c.cfg.ServiceName,
			PartitionID: fmt.Sprintf("%s-%d", rec.Topic, rec.Partition),
			Offset:      uint64(rec.Offset), //nolint:gosec // G115: kafka offsets are non-negative in practice
			SourceTS:    rec.Timestamp,
			IngestTS:    now,
			Attrs:       attrs,
			Raw:         rec.Value,
		})
	})
	return spans, nil
}

// Close releases the underlying Kafka client connections.
func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}

var _ spanbus.Consumer = (*Consumer)(nil)
