// Package raftcoord implements coordination.Client on top of a raft
// consensus group, so the coordination tree survives the loss of any
// minority of nodes. Writes are replicated through raft.Apply; reads are
// served from the local FSM's in-memory tree.
package raftcoord

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"shardindex/internal/coordination"
)

// opType names an FSM command. Kept as a small closed set of strings
// (rather than a generated protobuf oneof) since every command here
// carries the same fields.
type opType string

const (
	opCreate opType = "create"
	opUpdate opType = "update"
	opDelete opType = "delete"
)

// command is the unit of raft.Log data: one mutation to apply to the
// coordination tree, JSON-encoded so the wire format needs no code
// generation step.
type command struct {
	Op              opType             `json:"op"`
	Path            string             `json:"path"`
	Data            []byte             `json:"data,omitempty"`
	ExpectedVersion coordination.Version `json:"expectedVersion,omitempty"`
}

// applyResult is what Apply returns, surfaced back to the caller of
// raft.Raft.Apply via the raft.ApplyFuture's Response().
type applyResult struct {
	node coordination.Node
	err  error
}

// FSM is the raft finite state machine backing one coordination-tree
// replica. All mutation happens inside Apply, which raft guarantees runs
// on one goroutine at a time, so fsm itself needs no locking for writes;
// a mutex still guards it because Get/List/Watch are called concurrently
// from outside the raft apply loop.
type FSM struct {
	mu       sync.RWMutex
	nodes    map[string]coordination.Node
	watchers map[int]*watcher
	nextID   int
}

type watcher struct {
	prefix  string
	onEvent func(coordination.Event)
}

// NewFSM returns an empty FSM.
func NewFSM() *FSM {
	return &FSM{
		nodes:    make(map[string]coordination.Node),
		watchers: make(map[int]*watcher),
	}
}

// Apply decodes one raft log entry and applies it to the tree. It is
// called by the raft library on the FSM's single apply goroutine.
func (f *FSM) Apply(l *raft.Log) any {
	var cmd command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return applyResult{err: err}
	}

	f.mu.Lock()
	var result applyResult
	var notify *coordination.Event

	switch cmd.Op {
	case opCreate:
		if _, exists := f.nodes[cmd.Path]; exists {
			result.err = coordination.ErrAlreadyExists
			break
		}
		node := coordination.Node{Path: cmd.Path, Data: cmd.Data, Version: 1}
		f.nodes[cmd.Path] = node
		result.node = node
		notify = &coordination.Event{Type: coordination.EventCreated, Node: node}

	case opUpdate:
		existing, ok := f.nodes[cmd.Path]
		if !ok {
			result.err = coordination.ErrNotFound
			break
		}
		if cmd.ExpectedVersion != -1 && existing.Version != cmd.ExpectedVersion {
			result.err = coordination.ErrVersionStale
			break
		}
		node := coordination.Node{Path: cmd.Path, Data: cmd.Data, Version: existing.Version + 1}
		f.nodes[cmd.Path] = node
		result.node = node
		notify = &coordination.Event{Type: coordination.EventUpdated, Node: node}

	case opDelete:
		existing, ok := f.nodes[cmd.Path]
		if !ok {
			result.err = coordination.ErrNotFound
			break
		}
		delete(f.nodes, cmd.Path)
		result.node = existing
		notify = &coordination.Event{Type: coordination.EventDeleted, Node: existing}
	}
	f.mu.Unlock()

	if notify != nil {
		f.dispatch(*notify)
	}
	return result
}

// Get returns the current value at path from the local replica. This is
// a local read, not a linearizable quorum read: a follower may lag the
// leader by the replication delay.
func (f *FSM) Get(path string) (coordination.Node, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	node, ok := f.nodes[path]
	return node, ok
}

// List returns every path under prefix from the local replica.
func (f *FSM) List(prefix string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var paths []string
	for p := range f.nodes {
		if pathUnder(prefix, p) {
			paths = append(paths, p)
		}
	}
	return paths
}

// Watch registers a local callback for changes under prefix. Raft
// replication has no native pub/sub, so every replica fans out
// notifications to its own local watchers as commands apply to it; a
// watcher on a follower sees the same events a watcher on the leader
// does, just delayed by replication lag.
func (f *FSM) Watch(prefix string, onEvent func(coordination.Event)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.watchers[id] = &watcher{prefix: prefix, onEvent: onEvent}
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.watchers, id)
		f.mu.Unlock()
	}
}

func (f *FSM) dispatch(evt coordination.Event) {
	f.mu.RLock()
	var targets []*watcher
	for _, w := range f.watchers {
		if pathUnder(w.prefix, evt.Node.Path) {
			targets = append(targets, w)
		}
	}
	f.mu.RUnlock()

	for _, w := range targets {
		w.onEvent(evt)
	}
}

func pathUnder(prefix, path string) bool {
	if prefix == "" || prefix == "/" {
		return true
	}
	if path == prefix {
		return true
	}
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && (prefix[len(prefix)-1] == '/' || path[len(prefix)] == '/')
}

// snapshotState is the JSON form persisted by raft snapshots: the tree's
// contents without any watcher state, which is process-local and must be
// rebuilt (via Watch) by whatever reconnects after a Restore.
type snapshotState struct {
	Nodes map[string]coordination.Node `json:"nodes"`
}

type fsmSnapshot struct {
	data []byte
}

// Snapshot captures the tree as of now for raft's log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	state := snapshotState{Nodes: make(map[string]coordination.Node, len(f.nodes))}
	for k, v := range f.nodes {
		state.Nodes[k] = v
	}
	f.mu.RUnlock()

	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	return &fsmSnapshot{data: data}, nil
}

// Restore replaces the tree wholesale from a previously captured
// snapshot. Existing watchers are left registered; they simply start
// observing the restored state going forward.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	var state snapshotState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes = state.Nodes
	if f.nodes == nil {
		f.nodes = make(map[string]coordination.Node)
	}
	return nil
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.data); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
