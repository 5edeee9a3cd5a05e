// Package chunkmanager owns the live-chunk lifecycle for one partition:
// buffering incoming records, deciding when to roll over, and uploading
// sealed chunks to object storage with a published snapshot record.
// internal/chunk supplies the record and identifier types; this package
// owns everything about what happens to them in flight.
package chunkmanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"shardindex/internal/callgroup"
	"shardindex/internal/chunk"
	"shardindex/internal/logging"
	"shardindex/internal/metadatastore"
	"shardindex/internal/objectstore"
)

// Mode selects the concurrency shape of rollover handling.
type Mode int

const (
	// ModeIndexer is the steady-state ingestion path: one writer
	// goroutine feeds AddMessage, and at most one rollover upload runs
	// at a time. Each further rollover waits for its turn on its own
	// goroutine; the writer is not held back and the number of waiting
	// rollovers is not bounded.
	ModeIndexer Mode = iota

	// ModeRecovery replays many partitions' worth of buffered records
	// concurrently after a crash. Multiple goroutines may call
	// AddMessage concurrently; sealed chunks are queued (up to 64) for a
	// single upload worker. When that queue is full, the chunk is
	// uploaded on a separate goroutine instead, so uploads can then run
	// at the same time.
	ModeRecovery
)

// Config builds a Manager.
type Config struct {
	PartitionID string
	ServiceName string
	Mode        Mode

	Strategy      RolloverStrategy
	ObjectStore   objectstore.Store
	SnapshotStore *metadatastore.SnapshotMetadataStore

	Now    func() time.Time
	Logger *slog.Logger
}

// Manager is the per-partition chunk state machine.
type Manager struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu             sync.Mutex
	active         *liveChunk
	shuttingDown   bool
	rollOverFailed bool

	rolloverGroup callgroup.Group[chunk.ChunkID]
	rolloverWG    sync.WaitGroup

	// rolloverSem enforces the indexer's strict one-rollover-in-flight rule.
	rolloverSem chan struct{}

	// uploadQueue and workerDone implement the recovery mode's
	// single-threaded upload executor.
	uploadQueue chan *liveChunk
	workerDone  chan struct{}
}

// New builds a Manager for one partition. cfg.Strategy, cfg.ObjectStore,
// and cfg.SnapshotStore must be non-nil.
func New(cfg Config) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	m := &Manager{
		cfg:    cfg,
		now:    cfg.Now,
		logger: logging.Default(cfg.Logger).With("component", "chunkmanager", "partition_id", cfg.PartitionID),
	}

	switch cfg.Mode {
	case ModeIndexer:
		m.rolloverSem = make(chan struct{}, 1)
	case ModeRecovery:
		m.uploadQueue = make(chan *liveChunk, 64)
		m.workerDone = make(chan struct{})
		go m.uploadWorker()
	}
	return m
}

// AddMessage buffers rec into the active chunk, opening a new one if
// none is live, and triggers a rollover if the configured strategy now
// says the chunk is full. It never blocks on the upload itself: in
// ModeIndexer the rollover semaphore is acquired by the goroutine that
// runs the rollover, not by the caller.
func (m *Manager) AddMessage(ctx context.Context, rec chunk.Record) error {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return ErrShuttingDown
	}
	if m.rollOverFailed {
		m.mu.Unlock()
		return ErrIngestionStopped
	}
	if m.active == nil {
		m.active = newLiveChunk(m.cfg.PartitionID, m.now())
	}
	active := m.active
	m.mu.Unlock()

	bytesIndexed, messagesIndexed, err := active.append(rec)
	if err == ErrChunkReadOnly {
		// A concurrent rollover sealed this chunk between us reading
		// m.active and calling append. Open (or join) the new one,
		// unless that same rollover is the one that just latched the
		// manager closed.
		m.mu.Lock()
		if m.rollOverFailed {
			m.mu.Unlock()
			return ErrIngestionStopped
		}
		if m.active == nil {
			m.active = newLiveChunk(m.cfg.PartitionID, m.now())
		}
		active = m.active
		m.mu.Unlock()
		bytesIndexed, messagesIndexed, err = active.append(rec)
	}
	if err != nil {
		return err
	}

	if m.cfg.Strategy.ShouldRollOver(bytesIndexed, messagesIndexed) {
		m.triggerRollover(ctx, active)
	}
	return nil
}

// triggerRollover seals c and hands it off for upload. It is a no-op if
// c was already sealed by a concurrent trigger (e.g. the size threshold
// firing at the same moment as an explicit shutdown flush).
func (m *Manager) triggerRollover(ctx context.Context, c *liveChunk) {
	if !c.seal() {
		return
	}

	m.mu.Lock()
	if m.active == c {
		m.active = nil
	}
	m.mu.Unlock()

	m.rolloverWG.Add(1)

	switch m.cfg.Mode {
	case ModeIndexer:
		go func() {
			defer m.rolloverWG.Done()
			m.rolloverSem <- struct{}{}
			defer func() { <-m.rolloverSem }()
			m.doRollover(ctx, c)
		}()

	case ModeRecovery:
		select {
		case m.uploadQueue <- c:
			// m.uploadWorker calls rolloverWG.Done after uploading.
		default:
			// Queue saturated: upload on a separate goroutine rather than
			// drop the chunk or block the caller's producer goroutine.
			go func() {
				defer m.rolloverWG.Done()
				m.doRollover(ctx, c)
			}()
		}
	}
}

func (m *Manager) uploadWorker() {
	defer close(m.workerDone)
	for c := range m.uploadQueue {
		m.doRollover(context.Background(), c)
		m.rolloverWG.Done()
	}
}

// doRollover compresses, uploads, and publishes metadata for a sealed
// chunk. callgroup collapses concurrent doRollover calls for the same
// chunk ID into one execution, guarding against the case where both a
// size-triggered rollover and a forced shutdown flush race to roll over
// the same chunk.
func (m *Manager) doRollover(ctx context.Context, c *liveChunk) {
	ch := m.rolloverGroup.DoChan(c.id, func() error {
		return m.upload(ctx, c)
	})

	if err := <-ch; err != nil {
		c.markState(StateClosed)
		m.mu.Lock()
		m.rollOverFailed = true
		m.mu.Unlock()
		m.logger.Error("chunk rollover failed, ingestion stopped for this partition", "chunk_id", c.id.String(), "error", err)
		return
	}
	c.markState(StateUploaded)
}

func (m *Manager) upload(ctx context.Context, c *liveChunk) error {
	data, err := c.serialize()
	if err != nil {
		return fmt.Errorf("serialize chunk %s: %w", c.id, err)
	}

	key := objectKey(m.cfg.ServiceName, c.partitionID, c.id)
	if err := m.cfg.ObjectStore.Put(ctx, key, data); err != nil {
		return fmt.Errorf("upload chunk %s: %w", c.id, err)
	}

	meta := metadatastore.NewSnapshotMetadata(
		c.id.String(), c.partitionID, key,
		c.firstOffset, c.lastOffset, int64(len(data)), c.messageCount,
		c.startTime, c.endTime, m.now(),
	)
	if err := m.cfg.SnapshotStore.Create(ctx, c.id.String(), meta); err != nil {
		return fmt.Errorf("publish snapshot metadata for chunk %s: %w", c.id, err)
	}
	return nil
}

func objectKey(serviceName, partitionID string, id chunk.ChunkID) string {
	return serviceName + "/" + partitionID + "/" + id.String() + ".zst"
}

// WaitForRollovers blocks until every rollover triggered so far — in
// flight or still queued — has finished, and reports whether all of them
// succeeded. It returns false if any rollover has failed, including one
// triggered after this call started waiting.
func (m *Manager) WaitForRollovers() bool {
	m.rolloverWG.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.rollOverFailed
}

// ShutDown stops accepting new messages, forces a final rollover of
// whatever is buffered in the active chunk, and waits for every
// outstanding rollover to finish before returning. It returns
// ErrIngestionStopped if any rollover — the final flush or an earlier
// one — failed. Calling it more than once is a no-op.
func (m *Manager) ShutDown(ctx context.Context) error {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return nil
	}
	m.shuttingDown = true
	active := m.active
	m.active = nil
	m.mu.Unlock()

	if active != nil {
		if _, _, messageCount := active.snapshot(); messageCount > 0 {
			m.triggerRollover(ctx, active)
		}
	}

	ok := m.WaitForRollovers()

	if m.cfg.Mode == ModeRecovery {
		close(m.uploadQueue)
		<-m.workerDone
	}
	if !ok {
		return ErrIngestionStopped
	}
	return nil
}

// ActiveState reports the live chunk's current byte and message totals,
// for metrics and tests. Returns (0, 0) if no chunk is currently live.
func (m *Manager) ActiveState() (bytesIndexed, messagesIndexed uint64) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active == nil {
		return 0, 0
	}
	_, bytesIndexed, messagesIndexed = active.snapshot()
	return bytesIndexed, messagesIndexed
}
