package metadatastore

import (
	"context"
	"errors"

	"shardindex/internal/coordination"
)

// ServiceFolder is the coordination tree path under which service
// configuration nodes live.
const ServiceFolder = "/services"

// ErrAutoAssignUnsupported is returned by UpdatePartitionAssignment when
// called with an empty partition ID list. There is no automatic
// rebalancing: an empty list is rejected rather than silently
// interpreted as "unassign everything" or "assign nothing new".
var ErrAutoAssignUnsupported = errors.New("metadatastore: automatic partition assignment is not supported, partitionIds must be explicit")

// ServiceMetadataStore exposes the full CRUD set: service configuration
// is operator-managed and can change shape at any point in its
// lifecycle, unlike snapshot or search metadata.
type ServiceMetadataStore struct {
	*typedStore[ServiceMetadata]
}

// NewServiceMetadataStore builds a store over the service configuration
// folder and performs an initial cache sync before returning.
func NewServiceMetadataStore(ctx context.Context, client coordination.Client) *ServiceMetadataStore {
	return &ServiceMetadataStore{
		typedStore: newTypedStore[ServiceMetadata](ctx, client, ServiceFolder),
	}
}

func (s *ServiceMetadataStore) Create(ctx context.Context, meta ServiceMetadata) error {
	return s.create(ctx, meta.Name, meta)
}

func (s *ServiceMetadataStore) Get(ctx context.Context, name string) (ServiceMetadata, error) {
	return s.get(ctx, name)
}

func (s *ServiceMetadataStore) Update(ctx context.Context, meta ServiceMetadata, expectedVersion coordination.Version) error {
	return s.update(ctx, meta.Name, meta, expectedVersion)
}

func (s *ServiceMetadataStore) Delete(ctx context.Context, name string) error {
	return s.delete(ctx, name)
}

func (s *ServiceMetadataStore) ListCached() []ServiceMetadata {
	return s.listCached()
}

// KeepThroughput tells UpdatePartitionAssignment to leave a service's
// existing throughput budget untouched rather than replacing it.
const KeepThroughput int64 = -1

// UpdateOwner changes only a service's owner field, leaving its
// throughput budget and partition assignment untouched. Fails with
// coordination.ErrNotFound if name does not already exist.
func (s *ServiceMetadataStore) UpdateOwner(ctx context.Context, name, owner string) error {
	meta, err := s.get(ctx, name)
	if err != nil {
		return err
	}
	meta.Owner = owner
	return s.update(ctx, name, meta, -1)
}

// UpdatePartitionAssignment replaces a service's partition list and,
// unless throughputBytes is KeepThroughput, its throughput budget.
// partitionIds must be non-empty: there is no speculative auto-assignment
// path, per ErrAutoAssignUnsupported.
func (s *ServiceMetadataStore) UpdatePartitionAssignment(ctx context.Context, name string, throughputBytes int64, partitionIDs []string) error {
	if len(partitionIDs) == 0 {
		return ErrAutoAssignUnsupported
	}
	meta, err := s.get(ctx, name)
	if err != nil {
		return err
	}
	meta.PartitionIDs = partitionIDs
	if throughputBytes != KeepThroughput {
		meta.ThroughputBytes = throughputBytes
	}
	return s.update(ctx, name, meta, -1)
}
