// Package coordination defines the thin wire client to a strongly
// consistent hierarchical key-value store (conceptually ZooKeeper-like):
// create/get/update/delete/list/watch over string paths with opaque byte
// payloads and per-node versioning. internal/metadatastore layers typed,
// restricted entity stores on top of this interface.
package coordination

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("coordination: node not found")
	ErrAlreadyExists = errors.New("coordination: node already exists")
	ErrUnavailable   = errors.New("coordination: store unavailable")
	ErrVersionStale  = errors.New("coordination: version conflict")
)

// Version is a per-node version stamp, incremented on every successful
// Update. Callers pass the version they last observed to Update to detect
// concurrent modification; pass -1 to skip the check.
type Version int64

// Node is one coordination-tree entry.
type Node struct {
	Path    string
	Data    []byte
	Version Version
}

// EventType classifies a watch notification.
type EventType int

const (
	EventCreated EventType = iota
	EventUpdated
	EventDeleted
)

// Event is one change notification under a watched path prefix. Delivery
// is at-least-once: subscribers must treat handling as idempotent.
type Event struct {
	Type EventType
	Node Node
}

// Client is the coordination wire client. The implementations in this
// module do not retry: a transient failure (a disconnected session, or a
// raft node that is not or is no longer the leader) is returned as
// ErrUnavailable on the first attempt.
type Client interface {
	// Create adds a new node at path. Returns ErrAlreadyExists if one is
	// already present.
	Create(ctx context.Context, path string, data []byte) error

	// Get fetches a node's current bytes and version. Returns ErrNotFound
	// if absent.
	Get(ctx context.Context, path string) (Node, error)

	// Update replaces a node's bytes, incrementing its version. If
	// expectedVersion is not -1 and does not match the node's current
	// version, returns ErrVersionStale. Returns ErrNotFound if absent.
	Update(ctx context.Context, path string, data []byte, expectedVersion Version) error

	// Delete removes a node. Returns ErrNotFound if absent.
	Delete(ctx context.Context, path string) error

	// List returns the full paths of every node directly or transitively
	// under prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Watch installs a subscription over every node under prefix and
	// invokes onEvent for each subsequent change. Watches are
	// auto-reinstalled by the implementation on reconnect after a
	// session loss; callers see no interruption beyond a possibly-stale
	// gap in notifications. The returned cancel function stops the
	// subscription.
	Watch(ctx context.Context, prefix string, onEvent func(Event)) (cancel func(), err error)
}
