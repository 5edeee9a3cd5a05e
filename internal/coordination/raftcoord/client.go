package raftcoord

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/raft"

	"shardindex/internal/coordination"
)

// ApplyTimeout bounds how long a write waits for raft to commit it.
const ApplyTimeout = 10 * time.Second

// Client implements coordination.Client by applying writes through a
// raft.Raft instance and serving reads from its local FSM replica.
type Client struct {
	raft *raft.Raft
	fsm  *FSM
}

// NewClient wraps an already-bootstrapped raft.Raft and the FSM it was
// constructed with.
func NewClient(r *raft.Raft, fsm *FSM) *Client {
	return &Client{raft: r, fsm: fsm}
}

func (c *Client) apply(ctx context.Context, cmd command) (coordination.Node, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return coordination.Node{}, err
	}

	timeout := ApplyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	future := c.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		if err == raft.ErrNotLeader || err == raft.ErrLeadershipLost {
			return coordination.Node{}, coordination.ErrUnavailable
		}
		return coordination.Node{}, err
	}

	result, ok := future.Response().(applyResult)
	if !ok {
		return coordination.Node{}, coordination.ErrUnavailable
	}
	return result.node, result.err
}

func (c *Client) Create(ctx context.Context, path string, data []byte) error {
	_, err := c.apply(ctx, command{Op: opCreate, Path: path, Data: data})
	return err
}

func (c *Client) Get(_ context.Context, path string) (coordination.Node, error) {
	node, ok := c.fsm.Get(path)
	if !ok {
		return coordination.Node{}, coordination.ErrNotFound
	}
	return node, nil
}

func (c *Client) Update(ctx context.Context, path string, data []byte, expectedVersion coordination.Version) error {
	_, err := c.apply(ctx, command{Op: opUpdate, Path: path, Data: data, ExpectedVersion: expectedVersion})
	return err
}

func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.apply(ctx, command{Op: opDelete, Path: path})
	return err
}

func (c *Client) List(_ context.Context, prefix string) ([]string, error) {
	return c.fsm.List(prefix), nil
}

func (c *Client) Watch(_ context.Context, prefix string, onEvent func(coordination.Event)) (func(), error) {
	return c.fsm.Watch(prefix, onEvent), nil
}

var _ coordination.Client = (*Client)(nil)
