package metadatastore

import (
	"path"
	"time"
)

// SnapshotMetadata describes one sealed, uploaded chunk: where its
// object lives and what span of a partition it covers. Published once
// by the chunk manager after a successful rollover and never updated
// thereafter — only created, read, and eventually deleted by
// reconciliation. Field names and the epoch-millisecond timestamps
// follow the external wire schema other tooling reads directly out of
// the coordination tree; unknown fields encountered on ingest are
// ignored by the JSON decoder.
type SnapshotMetadata struct {
	// Name is derived, not independently stored: the last path segment
	// of SnapshotPath.
	Name string `json:"name"`

	SnapshotID   string `json:"snapshotId"`
	SnapshotPath string `json:"snapshotPath"`

	StartTimeEpochMs int64 `json:"startTimeEpochMs"`
	EndTimeEpochMs   int64 `json:"endTimeEpochMs"`

	PartitionID string `json:"partitionId"`
	FirstOffset uint64 `json:"firstOffset"`
	MaxOffset   uint64 `json:"maxOffset"`

	SizeBytes         int64  `json:"sizeBytes"`
	MessageCount      uint64 `json:"messageCount"`
	UploadedAtEpochMs int64  `json:"uploadedAtEpochMs"`
}

// NewSnapshotMetadata builds a SnapshotMetadata with Name derived from
// snapshotPath and every timestamp converted to epoch milliseconds.
func NewSnapshotMetadata(snapshotID, partitionID, snapshotPath string, firstOffset, maxOffset uint64, sizeBytes int64, messageCount uint64, startTime, endTime, uploadedAt time.Time) SnapshotMetadata {
	return SnapshotMetadata{
		Name:              path.Base(snapshotPath),
		SnapshotID:        snapshotID,
		SnapshotPath:      snapshotPath,
		StartTimeEpochMs:  startTime.UnixMilli(),
		EndTimeEpochMs:    endTime.UnixMilli(),
		PartitionID:       partitionID,
		FirstOffset:       firstOffset,
		MaxOffset:         maxOffset,
		SizeBytes:         sizeBytes,
		MessageCount:      messageCount,
		UploadedAtEpochMs: uploadedAt.UnixMilli(),
	}
}

// SearchMetadata tracks how far a partition's search index has caught up
// with the snapshots published for it. Unlike SnapshotMetadata this
// entity is mutated in place as indexing progresses.
type SearchMetadata struct {
	PartitionID       string    `json:"partitionId"`
	LastIndexedOffset uint64    `json:"lastIndexedOffset"`
	LastIndexedChunk  string    `json:"lastIndexedChunk"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// ServiceMetadata is the admin-managed configuration record for one
// ingest service: its owner, rate budget, and the partitions currently
// assigned to it.
type ServiceMetadata struct {
	Name            string   `json:"name"`
	Owner           string   `json:"owner"`
	ThroughputBytes int64    `json:"throughputBytes"`
	MaxBurstSeconds float64  `json:"maxBurstSeconds"`
	PartitionIDs    []string `json:"partitionIds"`
}
