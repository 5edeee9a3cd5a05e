package cli

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"shardindex/internal/chunk"
	"shardindex/internal/chunkmanager"
	"shardindex/internal/coordination/raftcoord"
	"shardindex/internal/logging"
	"shardindex/internal/metadatastore"
)

type recoverConfig struct {
	nodeID    string
	dataDir   string
	raftBind  string
	bootstrap bool

	serviceName string
	inputDir    string

	objectStoreKind string
	objectStoreDir  string

	maxChunkBytes    uint64
	maxChunkMessages uint64
}

// replayRecord is the on-disk shape of one buffered span awaiting
// recovery: a line of a .jsonl file under --input-dir, one file per
// partition's spill. raw is base64-encoded since it may be arbitrary
// bytes.
type replayRecord struct {
	PartitionID string            `json:"partitionId"`
	Offset      uint64            `json:"offset"`
	SourceTS    time.Time         `json:"sourceTs"`
	Attrs       map[string]string `json:"attrs"`
	Raw         string            `json:"raw"`
}

func newRecoverCommand() *cobra.Command {
	cfg := recoverConfig{}
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Replay spilled records from a crashed indexer into object storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.nodeID, "node-id", "", "raft node ID (required)")
	flags.StringVar(&cfg.dataDir, "data-dir", "./data", "local directory for raft logs and snapshots")
	flags.StringVar(&cfg.raftBind, "raft-bind", "127.0.0.1:9002", "address to serve raft RPC and admin on")
	flags.BoolVar(&cfg.bootstrap, "bootstrap", false, "bootstrap a new single-node cluster")

	flags.StringVar(&cfg.serviceName, "service-name", "", "service the replayed records belong to (required)")
	flags.StringVar(&cfg.inputDir, "input-dir", "", "directory of .jsonl spill files to replay (required)")

	flags.StringVar(&cfg.objectStoreKind, "object-store", "local", "object storage backend: local or memory")
	flags.StringVar(&cfg.objectStoreDir, "object-store-dir", "./data/objects", "root directory for the local object storage backend")

	flags.Uint64Var(&cfg.maxChunkBytes, "max-chunk-bytes", 64<<20, "roll over a chunk once it reaches this many bytes")
	flags.Uint64Var(&cfg.maxChunkMessages, "max-chunk-messages", 500_000, "roll over a chunk once it reaches this many messages")

	return cmd
}

func runRecover(ctx context.Context, cfg recoverConfig) error {
	if cfg.nodeID == "" {
		return errors.New("--node-id is required")
	}
	if cfg.serviceName == "" {
		return errors.New("--service-name is required")
	}
	if cfg.inputDir == "" {
		return errors.New("--input-dir is required")
	}

	logger := logging.Default(nil).With("component", "shardindex-recover", "node_id", cfg.nodeID)

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

	snapshotStore := metadatastore.NewSnapshotMetadataStore(ctx, client, cfg.serviceName)
	defer snapshotStore.Close()

	store, err := buildObjectStore(serveConfig{objectStoreKind: cfg.objectStoreKind, objectStoreDir: cfg.objectStoreDir})
	if err != nil {
		return err
	}

	strategy := chunkmanager.SizeOrCountStrategy{MaxBytes: cfg.maxChunkBytes, MaxMessages: cfg.maxChunkMessages}
	managers := make(map[string]*chunkmanager.Manager)
	managerFor := func(partitionID string) *chunkmanager.Manager {
		m, ok := managers[partitionID]
		if ok {
			return m
		}
		m = chunkmanager.New(chunkmanager.Config{
			PartitionID:   partitionID,
			ServiceName:   cfg.serviceName,
			Mode:          chunkmanager.ModeRecovery,
			Strategy:      strategy,
			ObjectStore:   store,
			SnapshotStore: snapshotStore,
			Logger:        logger,
		})
		managers[partitionID] = m
		return m
	}

	files, err := filepath.Glob(filepath.Join(cfg.inputDir, "*.jsonl"))
	if err != nil {
		return fmt.Errorf("list spill files: %w", err)
	}

	var replayed, failed int
	for _, file := range files {
		n, errs := replayFile(ctx, file, managerFor)
		replayed += n
		failed += errs
	}
	logger.Info("replay complete", "records_replayed", replayed, "records_failed", failed, "partitions", len(managers))

	for partitionID, m := range managers {
		if err := m.ShutDown(ctx); err != nil {
			logger.Error("chunk manager shutdown failed", "partition_id", partitionID, "error", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d records failed to replay", failed)
	}
	return nil
}

func replayFile(ctx context.Context, path string, managerFor func(string) *chunkmanager.Manager) (replayed, failed int) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 1
	}
	defer f.Close()

	now := time.Now()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec replayRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			failed++
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(rec.Raw)
		if err != nil {
			failed++
			continue
		}

		manager := managerFor(rec.PartitionID)
		err = manager.AddMessage(ctx, chunk.Record{
			PartitionID: rec.PartitionID,
			Offset:      rec.Offset,
			SourceTS:    rec.SourceTS,
			IngestTS:    now,
			WriteTS:     now,
			Attrs:       chunk.Attributes(rec.Attrs),
			Raw:         raw,
		})
		if err != nil {
			failed++
			continue
		}
		replayed++
	}
	return replayed, failed
}
