// Package reconcile finds drift between what object storage actually
// holds and what the coordination tree's snapshot metadata claims, and
// removes orphans on either side once they have persisted long enough to
// rule out an in-flight upload or publish.
package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"shardindex/internal/logging"
	"shardindex/internal/metadatastore"
	"shardindex/internal/objectstore"
)

// Result is one reconciliation pass's findings, before the age-threshold
// filter decides what actually gets deleted.
type Result struct {
	// FilesWithoutSnapshots are object storage keys with no matching
	// published snapshot record.
	FilesWithoutSnapshots []string

	// SnapshotsWithoutFiles are published chunk IDs whose object key is
	// absent from object storage.
	SnapshotsWithoutFiles []string
}

// Config builds a Reconciler.
type Config struct {
	ObjectStore   objectstore.Store
	SnapshotStore *metadatastore.SnapshotMetadataStore

	// IgnorePatterns are doublestar glob patterns matched against any
	// prefix of an object key's path (not just the full key), so a
	// pattern like "checkout/_tmp/**" excludes a whole subtree without
	// needing to match every object under it individually.
	IgnorePatterns []string

	// MinOrphanAge is how long a key must appear as an orphan across
	// consecutive reconciliation cycles before it is deleted. This
	// guards against deleting an object that is mid-upload, or a
	// snapshot record that was just published but whose upload hasn't
	// become visible to a List call yet.
	MinOrphanAge time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// Reconciler runs reconciliation passes and carries the two-phase
// deletion state between them.
type Reconciler struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu                     sync.Mutex
	pendingFileOrphans     map[string]time.Time
	pendingSnapshotOrphans map[string]time.Time
}

// New builds a Reconciler.
func New(cfg Config) *Reconciler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{
		cfg:                    cfg,
		now:                    cfg.Now,
		logger:                 logging.Default(cfg.Logger).With("component", "reconcile"),
		pendingFileOrphans:     make(map[string]time.Time),
		pendingSnapshotOrphans: make(map[string]time.Time),
	}
}

// RunOnce performs one reconciliation pass: list object storage, compare
// against the snapshot cache, and delete any orphan that has now
// persisted across enough cycles to clear MinOrphanAge.
func (r *Reconciler) RunOnce(ctx context.Context) (Result, error) {
	keys, err := r.cfg.ObjectStore.List(ctx, "")
	if err != nil {
		return Result{}, err
	}
	snapshots := r.cfg.SnapshotStore.ListCached()

	result := compare(keys, snapshots, r.cfg.IgnorePatterns)
	r.applyTwoPhaseDeletion(ctx, result)
	return result, nil
}

// compare computes the symmetric difference between object storage keys
// and the object keys named by cached snapshot records, skipping
// anything matched by an ignore pattern at any level of its path.
//
// A snapshot's object key may name a single object (the chunk manager
// publishes the key of the one file it uploads) or a directory-level
// prefix with files below it, so a listed file matches a snapshot if the
// snapshot's key is any prefix of the file's path, the full path
// included — and a snapshot is considered backed by storage if any
// listed file is at or below its key.
func compare(keys []string, snapshots []metadatastore.SnapshotMetadata, ignorePatterns []string) Result {
	snapshotByKey := make(map[string]string, len(snapshots)) // snapshotPath -> snapshotID
	for _, s := range snapshots {
		snapshotByKey[s.SnapshotPath] = s.SnapshotID
	}

	matchedSnapshotKeys := make(map[string]struct{}, len(snapshots))

	var result Result
	for _, k := range keys {
		if isIgnored(k, ignorePatterns) {
			continue
		}
		matched := false
		for _, prefix := range explodePath(k) {
			if _, ok := snapshotByKey[prefix]; ok {
				matched = true
				matchedSnapshotKeys[prefix] = struct{}{}
			}
		}
		if !matched {
			result.FilesWithoutSnapshots = append(result.FilesWithoutSnapshots, k)
		}
	}
	for objectKey, chunkID := range snapshotByKey {
		if isIgnored(objectKey, ignorePatterns) {
			continue
		}
		if _, ok := matchedSnapshotKeys[objectKey]; !ok {
			result.SnapshotsWithoutFiles = append(result.SnapshotsWithoutFiles, chunkID)
		}
	}
	return result
}

// explodePath returns every path prefix of key, shallowest first:
// "a/b/c" -> ["a", "a/b", "a/b/c"].
func explodePath(key string) []string {
	parts := strings.Split(key, "/")
	out := make([]string, 0, len(parts))
	for i := range parts {
		out = append(out, strings.Join(parts[:i+1], "/"))
	}
	return out
}

func isIgnored(key string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	for _, prefix := range explodePath(key) {
		for _, pattern := range patterns {
			if ok, _ := doublestar.Match(pattern, prefix); ok {
				return true
			}
		}
	}
	return false
}

// applyTwoPhaseDeletion advances the pending-orphan tracking for this
// cycle's result and deletes anything that has now been an orphan for at
// least MinOrphanAge across two or more consecutive cycles. An orphan
// that disappears from one cycle's result (e.g. the file showed up, or
// the snapshot got republished) is dropped from tracking immediately.
func (r *Reconciler) applyTwoPhaseDeletion(ctx context.Context, result Result) {
	now := r.now()

	r.mu.Lock()
	filesToDelete := r.advancePending(r.pendingFileOrphans, result.FilesWithoutSnapshots, now)
	snapshotsToDelete := r.advancePending(r.pendingSnapshotOrphans, result.SnapshotsWithoutFiles, now)
	r.mu.Unlock()

	// The two orphan sets hit independent backends (object storage vs.
	// the coordination tree), so their deletions run concurrently rather
	// than one after the other.
	var g errgroup.Group
	g.Go(func() error {
		for _, key := range filesToDelete {
			if err := r.cfg.ObjectStore.Delete(ctx, key); err != nil {
				r.logger.Error("failed to delete orphaned object", "key", key, "error", err)
				continue
			}
			r.logger.Info("deleted orphaned object with no snapshot record", "key", key)
		}
		return nil
	})
	g.Go(func() error {
		for _, chunkID := range snapshotsToDelete {
			if err := r.cfg.SnapshotStore.Delete(ctx, chunkID); err != nil {
				r.logger.Error("failed to delete orphaned snapshot record", "chunk_id", chunkID, "error", err)
				continue
			}
			r.logger.Info("deleted orphaned snapshot record with no backing object", "chunk_id", chunkID)
		}
		return nil
	})
	_ = g.Wait()
}

// advancePending must be called with r.mu held. It mutates pending in
// place and returns the keys that have cleared MinOrphanAge.
func (r *Reconciler) advancePending(pending map[string]time.Time, current []string, now time.Time) []string {
	seen := make(map[string]struct{}, len(current))
	var ready []string

	for _, key := range current {
		seen[key] = struct{}{}
		firstSeen, ok := pending[key]
		if !ok {
			pending[key] = now
			continue
		}
		if now.Sub(firstSeen) >= r.cfg.MinOrphanAge {
			ready = append(ready, key)
			delete(pending, key)
		}
	}

	for key := range pending {
		if _, ok := seen[key]; !ok {
			delete(pending, key)
		}
	}

	return ready
}
