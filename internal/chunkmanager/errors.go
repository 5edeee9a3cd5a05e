package chunkmanager

import "errors"

var (
	// ErrShuttingDown is returned by AddMessage once ShutDown has been
	// called: no partition accepts new messages during shutdown, it only
	// drains what is already buffered.
	ErrShuttingDown = errors.New("chunkmanager: manager is shutting down")

	// ErrChunkReadOnly is returned when a message targets a chunk that
	// has already been sealed for rollover.
	ErrChunkReadOnly = errors.New("chunkmanager: chunk is read-only")

	// ErrIngestionStopped is returned by AddMessage once a rollover has
	// failed. The manager latches into this state permanently rather
	// than silently buffering records behind a chunk that can never
	// reach object storage; recovering from it requires a new manager
	// instance over the partition.
	ErrIngestionStopped = errors.New("chunkmanager: ingestion stopped after rollover failure")
)
