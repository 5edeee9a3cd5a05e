package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"shardindex/internal/adminapi"
	"shardindex/internal/chunk"
	"shardindex/internal/chunkmanager"
	"shardindex/internal/coordination/raftcoord"
	"shardindex/internal/logging"
	"shardindex/internal/metadatastore"
	"shardindex/internal/objectstore"
	"shardindex/internal/ratelimiter"
	"shardindex/internal/reconcile"
	"shardindex/internal/spanbus"
	"shardindex/internal/spanbus/kafka"
)

type serveConfig struct {
	nodeID    string
	dataDir   string
	raftBind  string
	bootstrap bool
	httpAddr  string

	serviceName       string
	partitionIDs      []string
	throughputBytes   int64
	maxBurstSeconds   float64
	preprocessorCount int

	objectStoreKind string
	objectStoreDir  string

	kafkaBrokers []string
	kafkaTopic   string
	kafkaGroup   string

	maxChunkBytes    uint64
	maxChunkMessages uint64

	reconcileInterval time.Duration
	minOrphanAge      time.Duration
	ignorePatterns    []string
}

func newServeCommand() *cobra.Command {
	cfg := serveConfig{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a node as an ingesting indexer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.nodeID, "node-id", "", "raft node ID (required)")
	flags.StringVar(&cfg.dataDir, "data-dir", "./data", "local directory for raft logs and snapshots")
	flags.StringVar(&cfg.raftBind, "raft-bind", "127.0.0.1:9001", "address to serve raft RPC and admin on")
	flags.BoolVar(&cfg.bootstrap, "bootstrap", false, "bootstrap a new single-node cluster")
	flags.StringVar(&cfg.httpAddr, "http-addr", "127.0.0.1:8080", "address to serve the admin HTTP API on")

	flags.StringVar(&cfg.serviceName, "service-name", "", "service this node ingests for (required)")
	flags.StringSliceVar(&cfg.partitionIDs, "partition-ids", nil, "partition IDs this node owns")
	flags.Int64Var(&cfg.throughputBytes, "throughput-bytes", 10_000_000, "per-second byte budget for this service")
	flags.Float64Var(&cfg.maxBurstSeconds, "max-burst-seconds", 5, "seconds of admission budget that may accumulate while idle")
	flags.IntVar(&cfg.preprocessorCount, "preprocessor-count", 1, "number of peer preprocessor instances sharing the service's throughput budget")

	flags.StringVar(&cfg.objectStoreKind, "object-store", "local", "object storage backend: local or memory")
	flags.StringVar(&cfg.objectStoreDir, "object-store-dir", "./data/objects", "root directory for the local object storage backend")

	flags.StringSliceVar(&cfg.kafkaBrokers, "kafka-brokers", nil, "Kafka seed broker addresses; empty runs without a live bus consumer")
	flags.StringVar(&cfg.kafkaTopic, "kafka-topic", "", "Kafka topic to consume")
	flags.StringVar(&cfg.kafkaGroup, "kafka-group", "", "Kafka consumer group")

	flags.Uint64Var(&cfg.maxChunkBytes, "max-chunk-bytes", 64<<20, "roll over a chunk once it reaches this many bytes")
	flags.Uint64Var(&cfg.maxChunkMessages, "max-chunk-messages", 500_000, "roll over a chunk once it reaches this many messages")

	flags.DurationVar(&cfg.reconcileInterval, "reconcile-interval", 5*time.Minute, "how often to run object storage reconciliation")
	flags.DurationVar(&cfg.minOrphanAge, "min-orphan-age", 15*time.Minute, "how long an orphan must persist across cycles before deletion")
	flags.StringSliceVar(&cfg.ignorePatterns, "reconcile-ignore", nil, "doublestar glob patterns excluded from reconciliation")

	return cmd
}

func runServe(ctx context.Context, cfg serveConfig) error {
	if cfg.nodeID == "" {
		return errors.New("--node-id is required")
	}
	if cfg.serviceName == "" {
		return errors.New("--service-name is required")
	}

	logger := logging.Default(nil).With("component", "shardindex", "node_id", cfg.nodeID)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	raftServer, err := raftcoord.NewServer(raftcoord.ServerConfig{
		NodeID:    cfg.nodeID,
		DataDir:   cfg.dataDir,
		Bind:      cfg.raftBind,
		Bootstrap: cfg.bootstrap,
	})
	if err != nil {
		return fmt.Errorf("start coordination server: %w", err)
	}
	defer raftServer.Stop()
	client := raftServer.Client()

	serviceStore := metadatastore.NewServiceMetadataStore(ctx, client)
	defer serviceStore.Close()
	if _, err := serviceStore.Get(ctx, cfg.serviceName); err != nil {
		if err := serviceStore.Create(ctx, metadatastore.ServiceMetadata{
			Name:            cfg.serviceName,
			ThroughputBytes: cfg.throughputBytes,
			MaxBurstSeconds: cfg.maxBurstSeconds,
			PartitionIDs:    cfg.partitionIDs,
		}); err != nil {
			logger.Warn("could not register service metadata", "error", err)
		}
	}

	snapshotStore := metadatastore.NewSnapshotMetadataStore(ctx, client, cfg.serviceName)
	defer snapshotStore.Close()

	predicate := ratelimiter.New(ratelimiter.Config{
		Services: map[string]ratelimiter.ServiceConfig{
			cfg.serviceName: {ThroughputBytes: cfg.throughputBytes, MaxBurstSeconds: cfg.maxBurstSeconds},
		},
		PreprocessorCount: cfg.preprocessorCount,
		InitializeWarm:    true,
		Logger:            logger,
	})

	store, err := buildObjectStore(cfg)
	if err != nil {
		return err
	}

	strategy := chunkmanager.SizeOrCountStrategy{MaxBytes: cfg.maxChunkBytes, MaxMessages: cfg.maxChunkMessages}

	managers := make(map[string]*chunkmanager.Manager, len(cfg.partitionIDs))
	for _, partitionID := range cfg.partitionIDs {
		managers[partitionID] = chunkmanager.New(chunkmanager.Config{
			PartitionID:   partitionID,
			ServiceName:   cfg.serviceName,
			Mode:          chunkmanager.ModeIndexer,
			Strategy:      strategy,
			ObjectStore:   store,
			SnapshotStore: snapshotStore,
			Logger:        logger,
		})
	}

	reconciler := reconcile.New(reconcile.Config{
		ObjectStore:    store,
		SnapshotStore:  snapshotStore,
		IgnorePatterns: cfg.ignorePatterns,
		MinOrphanAge:   cfg.minOrphanAge,
		Logger:         logger,
	})
	scheduler, err := reconcile.StartScheduled(reconciler, cfg.reconcileInterval)
	if err != nil {
		return fmt.Errorf("start reconciliation scheduler: %w", err)
	}
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:    cfg.httpAddr,
		Handler: adminapi.New(serviceStore, logger),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin http server failed", "error", err)
		}
	}()
	defer httpServer.Shutdown(context.Background()) //nolint:errcheck // best-effort on process exit

	consumer, err := buildConsumer(cfg)
	if err != nil {
		return err
	}
	defer consumer.Close()

	logger.Info("serving", "service", cfg.serviceName, "partitions", cfg.partitionIDs)
	runIngestLoop(ctx, logger, consumer, predicate, managers)

	for _, m := range managers {
		if err := m.ShutDown(context.Background()); err != nil {
			logger.Error("chunk manager shutdown failed", "error", err)
		}
	}
	return nil
}

func buildObjectStore(cfg serveConfig) (objectstore.Store, error) {
	switch cfg.objectStoreKind {
	case "local":
		return objectstore.NewLocalStore(cfg.objectStoreDir), nil
	case "memory":
		return objectstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown object store kind %q", cfg.objectStoreKind)
	}
}

func buildConsumer(cfg serveConfig) (spanbus.Consumer, error) {
	if len(cfg.kafkaBrokers) == 0 {
		return spanbus.NewFakeConsumer(), nil
	}
	return kafka.New(kafka.Config{
		ServiceName: cfg.serviceName,
		Brokers:     cfg.kafkaBrokers,
		Topic:       cfg.kafkaTopic,
		Group:       cfg.kafkaGroup,
	})
}

func runIngestLoop(ctx context.Context, logger *slog.Logger, consumer spanbus.Consumer, predicate *ratelimiter.Predicate, managers map[string]*chunkmanager.Manager) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		spans, err := consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("fetch from bus failed", "error", err)
			continue
		}

		for _, span := range spans {
			bytes := span.Bytes()
			if !predicate.Admit(&ratelimiter.Span{ServiceName: span.ServiceName, Bytes: bytes}, bytes) {
				continue
			}
			manager, ok := managers[span.PartitionID]
			if !ok {
				continue
			}
			if err := manager.AddMessage(ctx, spanToRecord(span)); err != nil {
				logger.Error("failed to buffer span", "partition_id", span.PartitionID, "error", err)
			}
		}
	}
}

func spanToRecord(span spanbus.Span) chunk.Record {
	return chunk.Record{
		PartitionID: span.PartitionID,
		Offset:      span.Offset,
		SourceTS:    span.SourceTS,
		IngestTS:    span.IngestTS,
		WriteTS:     span.IngestTS,
		Attrs:       chunk.Attributes(span.Attrs),
		Raw:         span.Raw,
	}
}
