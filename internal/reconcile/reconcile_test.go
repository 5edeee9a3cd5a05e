package reconcile

import (
	"context"
	"testing"
	"time"

	"shardindex/internal/coordination/memory"
	"shardindex/internal/metadatastore"
	"shardindex/internal/objectstore"
)

func TestExplodePath(t *testing.T) {
	got := explodePath("a/b/c")
	want := []string{"a", "a/b", "a/b/c"}
	if len(got) != len(want) {
		t.Fatalf("unexpected length: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestIsIgnoredMatchesAnyPathLevel(t *testing.T) {
	patterns := []string{"checkout/_tmp/**"}
	if !isIgnored("checkout/_tmp/scratch/file.zst", patterns) {
		t.Fatal("expected nested file under ignored prefix to be ignored")
	}
	if isIgnored("checkout/p0/chunk.zst", patterns) {
		t.Fatal("expected unrelated file to not be ignored")
	}
}

func TestCompareFindsOrphansBothDirections(t *testing.T) {
	keys := []string{"checkout/p0/a.zst", "checkout/p0/b.zst"}
	snapshots := []metadatastore.SnapshotMetadata{
		{SnapshotID: "a", SnapshotPath: "checkout/p0/a.zst"},
		{SnapshotID: "missing", SnapshotPath: "checkout/p0/missing.zst"},
	}
	result := compare(keys, snapshots, nil)

	if len(result.FilesWithoutSnapshots) != 1 || result.FilesWithoutSnapshots[0] != "checkout/p0/b.zst" {
		t.Fatalf("unexpected FilesWithoutSnapshots: %v", result.FilesWithoutSnapshots)
	}
	if len(result.SnapshotsWithoutFiles) != 1 || result.SnapshotsWithoutFiles[0] != "missing" {
		t.Fatalf("unexpected SnapshotsWithoutFiles: %v", result.SnapshotsWithoutFiles)
	}
}

func TestCompareMatchesDirectoryLevelSnapshotAgainstSegmentFiles(t *testing.T) {
	keys := []string{"chunks/Y/file1", "chunks/Y/file2"}
	snapshots := []metadatastore.SnapshotMetadata{
		{SnapshotID: "Y", SnapshotPath: "chunks/Y"},
	}
	result := compare(keys, snapshots, nil)

	if len(result.FilesWithoutSnapshots) != 0 {
		t.Fatalf("expected segment files under a matched snapshot prefix to not be orphans, got %v", result.FilesWithoutSnapshots)
	}
	if len(result.SnapshotsWithoutFiles) != 0 {
		t.Fatalf("expected the directory-level snapshot to be considered backed by its segment files, got %v", result.SnapshotsWithoutFiles)
	}
}

func TestTwoPhaseDeletionRequiresTwoConsecutiveCycles(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	coord := memory.New()
	snapshotStore := metadatastore.NewSnapshotMetadataStore(ctx, coord, "checkout")
	defer snapshotStore.Close()

	if err := store.Put(ctx, "checkout/p0/orphan.zst", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}

	clock := time.Unix(0, 0)
	r := New(Config{
		ObjectStore:   store,
		SnapshotStore: snapshotStore,
		MinOrphanAge:  time.Minute,
		Now:           func() time.Time { return clock },
	})

	if _, err := r.RunOnce(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := store.Get(ctx, "checkout/p0/orphan.zst"); err != nil {
		t.Fatalf("expected orphan to survive the first cycle, got %v", err)
	}

	clock = clock.Add(30 * time.Second)
	if _, err := r.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if _, err := store.Get(ctx, "checkout/p0/orphan.zst"); err != nil {
		t.Fatalf("expected orphan to survive before MinOrphanAge elapses, got %v", err)
	}

	clock = clock.Add(time.Minute)
	if _, err := r.RunOnce(ctx); err != nil {
		t.Fatalf("third run: %v", err)
	}
	if _, err := store.Get(ctx, "checkout/p0/orphan.zst"); err != objectstore.ErrNotFound {
		t.Fatalf("expected orphan to be deleted once MinOrphanAge elapsed, got %v", err)
	}
}

func TestOrphanResolvedBetweenCyclesIsNotDeleted(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	coord := memory.New()
	snapshotStore := metadatastore.NewSnapshotMetadataStore(ctx, coord, "checkout")
	defer snapshotStore.Close()

	if err := store.Put(ctx, "checkout/p0/a.zst", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}

	clock := time.Unix(0, 0)
	r := New(Config{
		ObjectStore:   store,
		SnapshotStore: snapshotStore,
		MinOrphanAge:  time.Minute,
		Now:           func() time.Time { return clock },
	})

	if _, err := r.RunOnce(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}

	if err := snapshotStore.Create(ctx, "a", metadatastore.SnapshotMetadata{SnapshotID: "a", SnapshotPath: "checkout/p0/a.zst"}); err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for len(snapshotStore.ListCached()) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("snapshot cache never observed the create")
		}
	}

	clock = clock.Add(2 * time.Minute)
	result, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(result.FilesWithoutSnapshots) != 0 {
		t.Fatalf("expected no orphans once the snapshot was published, got %v", result.FilesWithoutSnapshots)
	}
	if _, err := store.Get(ctx, "checkout/p0/a.zst"); err != nil {
		t.Fatalf("expected object to survive once it was no longer orphaned, got %v", err)
	}
}
