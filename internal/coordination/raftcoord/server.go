package raftcoord

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/Jille/raft-grpc-leader-rpc/leaderhealth"
	transport "github.com/Jille/raft-grpc-transport"
	"github.com/Jille/raftadmin"
	"github.com/hashicorp/raft"
	boltdb "github.com/hashicorp/raft-boltdb/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
)

// ServerConfig bootstraps one raft peer serving the coordination tree.
type ServerConfig struct {
	NodeID   string
	DataDir  string
	Bind     string // grpc listen address for raft RPC and admin
	Bootstrap bool   // true only for the first node that forms the cluster

	SnapshotRetain int // number of snapshots raft keeps on disk
}

// Server wires a raft.Raft instance to a gRPC listener carrying the raft
// transport, the raftadmin control surface, and a standard grpc health
// service, mirroring the grpc-server-plus-raft-transport shape used
// elsewhere in this codebase's clustering layer.
type Server struct {
	raft     *raft.Raft
	fsm      *FSM
	listener net.Listener
	grpcSrv  *grpc.Server
}

// NewServer constructs and starts a raft peer. The returned Server's
// Client() method yields a coordination.Client backed by this peer.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.SnapshotRetain <= 0 {
		cfg.SnapshotRetain = 3
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	fsm := NewFSM()

	logStore, err := boltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.bolt"))
	if err != nil {
		return nil, fmt.Errorf("open raft log store: %w", err)
	}
	stableStore, err := boltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.bolt"))
	if err != nil {
		return nil, fmt.Errorf("open raft stable store: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, cfg.SnapshotRetain, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.Bind)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Bind, err)
	}

	raftTransport := transport.New(raft.ServerAddress(listener.Addr().String()), nil)

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)

	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshotStore, raftTransport.Transport())
	if err != nil {
		return nil, fmt.Errorf("start raft: %w", err)
	}

	if cfg.Bootstrap {
		future := r.BootstrapCluster(raft.Configuration{
			Servers: []raft.Server{{ID: raftCfg.LocalID, Address: raft.ServerAddress(listener.Addr().String())}},
		})
		if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
			return nil, fmt.Errorf("bootstrap cluster: %w", err)
		}
	}

	grpcSrv := grpc.NewServer()
	raftTransport.Register(grpcSrv)
	raftadmin.Register(grpcSrv, r)
	healthSrv := health.NewServer()
	healthgrpc.RegisterHealthServer(grpcSrv, healthSrv)
	leaderhealth.Setup(r, healthSrv, []string{"coordination"})

	s := &Server{raft: r, fsm: fsm, listener: listener, grpcSrv: grpcSrv}
	go func() {
		_ = grpcSrv.Serve(listener)
	}()

	return s, nil
}

// Client returns a coordination.Client backed by this peer's raft
// instance and local FSM replica.
func (s *Server) Client() *Client {
	return NewClient(s.raft, s.fsm)
}

// AddVoter admits a new voting peer, used when growing the cluster past
// its bootstrap membership.
func (s *Server) AddVoter(id, addr string) error {
	return s.raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, 10*time.Second).Error()
}

// Addr returns the address this peer's raft RPC and admin surface are
// listening on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Stop shuts down the raft instance and the gRPC server gracefully.
func (s *Server) Stop() error {
	if err := s.raft.Shutdown().Error(); err != nil {
		return err
	}
	s.grpcSrv.GracefulStop()
	return nil
}
