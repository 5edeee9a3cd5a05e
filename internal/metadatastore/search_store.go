package metadatastore

import (
	"context"

	"shardindex/internal/coordination"
)

// SearchFolder is the coordination tree path under which search
// progress metadata nodes live.
const SearchFolder = "/search"

// SearchMetadataStore exposes create/get/update/delete/listCached.
// Unlike SnapshotMetadataStore, delete here is idempotent: deleting a
// partition's progress marker that is already gone is a no-op, since
// callers typically delete it as part of decommissioning a partition and
// should not have to first check whether that already happened.
type SearchMetadataStore struct {
	*typedStore[SearchMetadata]
}

// NewSearchMetadataStore builds a store scoped to serviceName's search
// folder and performs an initial cache sync before returning.
func NewSearchMetadataStore(ctx context.Context, client coordination.Client, serviceName string) *SearchMetadataStore {
	return &SearchMetadataStore{
		typedStore: newTypedStore[SearchMetadata](ctx, client, SearchFolder+"/"+serviceName),
	}
}

func (s *SearchMetadataStore) Create(ctx context.Context, partitionID string, meta SearchMetadata) error {
	return s.create(ctx, partitionID, meta)
}

func (s *SearchMetadataStore) Get(ctx context.Context, partitionID string) (SearchMetadata, error) {
	return s.get(ctx, partitionID)
}

// Update advances a partition's indexed-offset marker. expectedVersion
// may be -1 to skip the optimistic-concurrency check.
func (s *SearchMetadataStore) Update(ctx context.Context, partitionID string, meta SearchMetadata, expectedVersion coordination.Version) error {
	return s.update(ctx, partitionID, meta, expectedVersion)
}

// Delete removes the progress marker for partitionID. Idempotent: an
// absent marker is not an error.
func (s *SearchMetadataStore) Delete(ctx context.Context, partitionID string) error {
	err := s.delete(ctx, partitionID)
	if err == coordination.ErrNotFound {
		return nil
	}
	return err
}

func (s *SearchMetadataStore) ListCached() []SearchMetadata {
	return s.listCached()
}
