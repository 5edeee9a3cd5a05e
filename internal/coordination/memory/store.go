// Package memory is an in-memory Client, used by tests and by
// single-process deployments that need no real cross-node coordination.
package memory

import (
	"context"
	"strings"
	"sync"

	"shardindex/internal/coordination"
)

type watcher struct {
	prefix  string
	onEvent func(coordination.Event)
}

// Store is a mutex-guarded map implementation of coordination.Client. Get
// and List return defensive copies so callers can never mutate shared
// state through a returned Node.
//
// Disconnect/Reconnect simulate a coordination-session loss: while
// disconnected, every operation returns coordination.ErrUnavailable,
// mirroring the staleness window a real client sees when its session
// expires.
type Store struct {
	mu           sync.RWMutex
	nodes        map[string]coordination.Node
	watchers     map[int]*watcher
	nextWatchID  int
	disconnected bool
}

// New returns an empty, connected Store.
func New() *Store {
	return &Store{
		nodes:    make(map[string]coordination.Node),
		watchers: make(map[int]*watcher),
	}
}

// Disconnect puts the store into a disconnected state: all operations
// fail with ErrUnavailable until Reconnect is called.
func (s *Store) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = true
}

// Reconnect restores normal operation. Existing watch subscriptions
// remain registered across a Disconnect/Reconnect cycle, matching the
// "watches are auto-reinstalled on reconnect" contract: this fake never
// tears them down in the first place, so nothing needs rebuilding.
func (s *Store) Reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = false
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}

func (s *Store) Create(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return coordination.ErrUnavailable
	}
	if _, exists := s.nodes[path]; exists {
		s.mu.Unlock()
		return coordination.ErrAlreadyExists
	}
	node := coordination.Node{Path: path, Data: copyBytes(data), Version: 1}
	s.nodes[path] = node
	s.mu.Unlock()

	s.notify(coordination.Event{Type: coordination.EventCreated, Node: node})
	return nil
}

func (s *Store) Get(_ context.Context, path string) (coordination.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.disconnected {
		return coordination.Node{}, coordination.ErrUnavailable
	}
	node, ok := s.nodes[path]
	if !ok {
		return coordination.Node{}, coordination.ErrNotFound
	}
	node.Data = copyBytes(node.Data)
	return node, nil
}

func (s *Store) Update(_ context.Context, path string, data []byte, expectedVersion coordination.Version) error {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return coordination.ErrUnavailable
	}
	existing, ok := s.nodes[path]
	if !ok {
		s.mu.Unlock()
		return coordination.ErrNotFound
	}
	if expectedVersion != -1 && existing.Version != expectedVersion {
		s.mu.Unlock()
		return coordination.ErrVersionStale
	}
	node := coordination.Node{Path: path, Data: copyBytes(data), Version: existing.Version + 1}
	s.nodes[path] = node
	s.mu.Unlock()

	s.notify(coordination.Event{Type: coordination.EventUpdated, Node: node})
	return nil
}

func (s *Store) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return coordination.ErrUnavailable
	}
	node, ok := s.nodes[path]
	if !ok {
		s.mu.Unlock()
		return coordination.ErrNotFound
	}
	delete(s.nodes, path)
	s.mu.Unlock()

	s.notify(coordination.Event{Type: coordination.EventDeleted, Node: node})
	return nil
}

func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.disconnected {
		return nil, coordination.ErrUnavailable
	}
	var paths []string
	for p := range s.nodes {
		if pathUnder(prefix, p) {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

func (s *Store) Watch(_ context.Context, prefix string, onEvent func(coordination.Event)) (func(), error) {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return nil, coordination.ErrUnavailable
	}
	id := s.nextWatchID
	s.nextWatchID++
	s.watchers[id] = &watcher{prefix: prefix, onEvent: onEvent}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
	return cancel, nil
}

func (s *Store) notify(evt coordination.Event) {
	s.mu.RLock()
	var targets []*watcher
	for _, w := range s.watchers {
		if pathUnder(w.prefix, evt.Node.Path) {
			targets = append(targets, w)
		}
	}
	s.mu.RUnlock()

	for _, w := range targets {
		w.onEvent(evt)
	}
}

// pathUnder reports whether path is prefix itself or nested under it,
// treating prefix as a directory boundary (so "/a/b" is under "/a" but
// "/ab" is not).
func pathUnder(prefix, path string) bool {
	if prefix == "" || prefix == "/" {
		return true
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/")
}
