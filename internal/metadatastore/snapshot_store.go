package metadatastore

import (
	"context"

	"shardindex/internal/coordination"
)

// SnapshotFolder is the coordination tree path under which snapshot
// metadata nodes live.
const SnapshotFolder = "/snapshots"

// SnapshotMetadataStore exposes create/get/delete/listCached only.
// Snapshot metadata is published once at upload time and never revised —
// there is deliberately no Update method.
type SnapshotMetadataStore struct {
	*typedStore[SnapshotMetadata]
}

// NewSnapshotMetadataStore builds a store scoped to serviceName's
// snapshot folder and performs an initial cache sync before returning.
func NewSnapshotMetadataStore(ctx context.Context, client coordination.Client, serviceName string) *SnapshotMetadataStore {
	return &SnapshotMetadataStore{
		typedStore: newTypedStore[SnapshotMetadata](ctx, client, SnapshotFolder+"/"+serviceName),
	}
}

// Create publishes a new snapshot record under chunkID. Returns
// coordination.ErrAlreadyExists if one is already published for that ID.
func (s *SnapshotMetadataStore) Create(ctx context.Context, chunkID string, meta SnapshotMetadata) error {
	return s.create(ctx, chunkID, meta)
}

// Get fetches the current record for chunkID, or ErrCorrupt if its
// payload fails to deserialize, or coordination.ErrNotFound if absent.
func (s *SnapshotMetadataStore) Get(ctx context.Context, chunkID string) (SnapshotMetadata, error) {
	return s.get(ctx, chunkID)
}

// Delete removes the snapshot record for chunkID. Not idempotent:
// deleting an absent record returns coordination.ErrNotFound, since
// reconciliation needs to know whether its own prior delete already
// landed versus whether the record never existed.
func (s *SnapshotMetadataStore) Delete(ctx context.Context, chunkID string) error {
	return s.delete(ctx, chunkID)
}

// ListCached returns every snapshot record observed through this
// store's watch subscription. Returns nil if the cache has never
// synchronized or was marked stale by a failed resync or watch
// installation (see listCached).
func (s *SnapshotMetadataStore) ListCached() []SnapshotMetadata {
	return s.listCached()
}
