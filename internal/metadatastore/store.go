// Package metadatastore layers typed, entity-restricted stores over a
// coordination.Client. Each concrete entity (snapshot, search, service
// metadata) gets its own store type exposing only the operations that
// entity's lifecycle allows — a SnapshotMetadataStore cannot update, a
// SearchMetadataStore can. The restriction lives in which methods a type
// exposes, not in a shared interface with runtime checks.
package metadatastore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"shardindex/internal/coordination"
)

// ErrCorrupt is returned by Get when a node's payload fails to
// deserialize. A corrupt node is never reported as ErrNotFound: the
// entity exists but cannot be trusted, and callers must be able to tell
// the two conditions apart.
var ErrCorrupt = errors.New("metadatastore: payload corrupt")

// typedStore binds a coordination folder path to a JSON-serializable
// entity type and maintains a watch-fed cache for listCached-style
// reads. It is unexported; each concrete entity store embeds one and
// exposes only the subset of its methods that entity's lifecycle
// permits.
type typedStore[T any] struct {
	client coordination.Client
	folder string

	cacheMu sync.RWMutex
	cache   map[string]T
	stale   bool

	watchMu sync.Mutex
	cancel  func()
}

func newTypedStore[T any](ctx context.Context, client coordination.Client, folder string) *typedStore[T] {
	s := &typedStore[T]{
		client: client,
		folder: folder,
		cache:  make(map[string]T),
		stale:  true,
	}
	_ = s.resync(ctx)
	if err := s.installWatch(ctx); err != nil {
		s.markStale()
	}
	return s
}

func (s *typedStore[T]) path(name string) string {
	return s.folder + "/" + name
}

func (s *typedStore[T]) nameFromPath(path string) string {
	return strings.TrimPrefix(path, s.folder+"/")
}

func (s *typedStore[T]) create(ctx context.Context, name string, v T) error {
	data, err := marshalJSON(v)
	if err != nil {
		return err
	}
	return s.client.Create(ctx, s.path(name), data)
}

// get always goes to the coordination client directly: listCached may be
// stale, but get must reflect the current committed value, and must
// distinguish "absent" from "present but corrupt".
func (s *typedStore[T]) get(ctx context.Context, name string) (T, error) {
	var zero T
	node, err := s.client.Get(ctx, s.path(name))
	if err != nil {
		return zero, err
	}
	v, err := unmarshalJSON[T](node.Data)
	if err != nil {
		return zero, fmt.Errorf("%s: %w: %v", s.path(name), ErrCorrupt, err)
	}
	return v, nil
}

func (s *typedStore[T]) update(ctx context.Context, name string, v T, expectedVersion coordination.Version) error {
	data, err := marshalJSON(v)
	if err != nil {
		return err
	}
	return s.client.Update(ctx, s.path(name), data, expectedVersion)
}

func (s *typedStore[T]) delete(ctx context.Context, name string) error {
	return s.client.Delete(ctx, s.path(name))
}

// listCached returns a snapshot of the local watch-fed cache. It never
// touches the coordination client. If the cache is stale — never
// synchronized, or marked stale because a resync or watch installation
// failed (for example a Resync attempted while the session is down) — it
// returns nil rather than a misleadingly confident partial list. A
// session loss by itself does not mark the cache stale; nothing here
// observes the session.
func (s *typedStore[T]) listCached() []T {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	if s.stale {
		return nil
	}
	out := make([]T, 0, len(s.cache))
	for _, v := range s.cache {
		out = append(out, v)
	}
	return out
}

// resync performs a full List+Get pass to rebuild the cache from
// scratch. Entries that fail to fetch or deserialize during the pass are
// simply omitted from the cache; they remain fully visible through get.
func (s *typedStore[T]) resync(ctx context.Context) error {
	paths, err := s.client.List(ctx, s.folder)
	if err != nil {
		s.markStale()
		return err
	}

	fresh := make(map[string]T, len(paths))
	for _, p := range paths {
		node, err := s.client.Get(ctx, p)
		if err != nil {
			continue
		}
		v, err := unmarshalJSON[T](node.Data)
		if err != nil {
			continue
		}
		fresh[s.nameFromPath(p)] = v
	}

	s.cacheMu.Lock()
	s.cache = fresh
	s.stale = false
	s.cacheMu.Unlock()
	return nil
}

// installWatch subscribes to the folder so the cache tracks subsequent
// changes incrementally instead of re-listing on every read.
func (s *typedStore[T]) installWatch(ctx context.Context) error {
	cancel, err := s.client.Watch(ctx, s.folder, func(evt coordination.Event) {
		name := s.nameFromPath(evt.Node.Path)
		switch evt.Type {
		case coordination.EventCreated, coordination.EventUpdated:
			v, err := unmarshalJSON[T](evt.Node.Data)
			if err != nil {
				return
			}
			s.cacheMu.Lock()
			if !s.stale {
				s.cache[name] = v
			}
			s.cacheMu.Unlock()
		case coordination.EventDeleted:
			s.cacheMu.Lock()
			delete(s.cache, name)
			s.cacheMu.Unlock()
		}
	})
	if err != nil {
		return err
	}
	s.watchMu.Lock()
	s.cancel = cancel
	s.watchMu.Unlock()
	return nil
}

// Resync forces a full cache rebuild, clearing staleness on success.
// Call this after reconnecting a coordination session that was lost.
func (s *typedStore[T]) Resync(ctx context.Context) error {
	if err := s.resync(ctx); err != nil {
		return err
	}
	s.watchMu.Lock()
	needsWatch := s.cancel == nil
	s.watchMu.Unlock()
	if needsWatch {
		if err := s.installWatch(ctx); err != nil {
			s.markStale()
			return err
		}
	}
	return nil
}

func (s *typedStore[T]) markStale() {
	s.cacheMu.Lock()
	s.stale = true
	s.cache = make(map[string]T)
	s.cacheMu.Unlock()
}

// Close tears down the store's watch subscription.
func (s *typedStore[T]) Close() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
