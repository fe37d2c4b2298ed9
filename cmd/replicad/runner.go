// Copyright 2025 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/ethdb/pebble"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/xrelay/replica/agent"
	"github.com/xrelay/replica/api"
	"github.com/xrelay/replica/client"
	"github.com/xrelay/replica/core/replica"
	"github.com/xrelay/replica/core/types"
	"github.com/xrelay/replica/ledger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Runner manages the daemon lifecycle.
type Runner struct {
	cfg     *Config
	db      ethdb.KeyValueStore
	replica *replica.Replica
	router  *replica.Router
	ledger  *ledger.Ledger
	queue   *agent.Queue
	phase   *agent.PhaseTracker

	server *api.Server
	home   *client.RPCBackend

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error // first agent error, valid once done is closed
}

// NewRunner opens the database and the replica stored in it.
func NewRunner(cfg *Config) (*Runner, error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	router := replica.NewRouter(replica.HandlerFunc(logDelivery))
	r, err := replica.Open(db, &cfg.Replica, router)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open replica: %w", err)
	}
	return &Runner{
		cfg:     cfg,
		db:      db,
		replica: r,
		router:  router,
		ledger:  ledger.New(r, db),
		queue:   agent.NewQueue(cfg.Agent.QueueSize),
		phase:   agent.NewPhaseTracker(),
	}, nil
}

func openDatabase(cfg *Config) (ethdb.KeyValueStore, error) {
	path := filepath.Join(cfg.DataDir, "replica")
	switch cfg.DBEngine {
	case dbEngineMemory:
		return memorydb.New(), nil
	case dbEnginePebble:
		db, err := pebble.New(path, cfg.DBCache, 64, "replicad/db", false)
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble database at %s: %w", path, err)
		}
		return db, nil
	default:
		db, err := leveldb.New(path, cfg.DBCache, 64, "replicad/db", false)
		if err != nil {
			return nil, fmt.Errorf("failed to open leveldb database at %s: %w", path, err)
		}
		return db, nil
	}
}

// logDelivery receives messages for recipients without a registered handler.
func logDelivery(msg *types.StampedMessage) error {
	log.Info("Delivered message", "origin", msg.Origin, "nonce", msg.Nonce,
		"sender", msg.Sender, "recipient", msg.Recipient, "size", len(msg.Body))
	return nil
}

// RPCEndpoint returns the HTTP URL of the RPC server, or "" if it is not
// running.
func (r *Runner) RPCEndpoint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server == nil {
		return ""
	}
	return "http://" + r.server.Addr().String()
}

// Router returns the message router, for registering recipient handlers.
func (r *Runner) Router() *replica.Router { return r.router }

// APIs returns the RPC services exposed by the daemon.
func (r *Runner) APIs() []rpc.API {
	return []rpc.API{
		{Namespace: "replica", Service: api.NewReplicaAPI(r.ledger)},
		{Namespace: "relay", Service: agent.NewRelayAPI(r.queue, r.phase)},
	}
}

// Start starts the RPC server and the enabled agents.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("already running")
	}
	if r.cfg.RPC.Enabled {
		srv, err := api.NewServer(r.cfg.RPC.ListenAddr, r.cfg.RPC.CORSDomains, r.APIs())
		if err != nil {
			return fmt.Errorf("failed to start RPC server: %w", err)
		}
		r.server = srv
	}

	var (
		local = client.NewReplica("local", r.cfg.Replica.Domain, r.ledger)
		home  agent.UpdateSource
	)
	if r.cfg.Agent.HomeEndpoint != "" {
		r.home = client.NewRPCBackend(r.cfg.Agent.HomeEndpoint)
		home = client.NewReplica("home", r.cfg.Replica.Domain, r.home)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	if r.cfg.Agent.RelayerEnabled && home != nil {
		relayer := agent.NewRelayer(local, home, r.cfg.Agent.RelayerInterval, r.phase)
		g.Go(func() error { return relayer.Run(gctx) })
	}
	if r.cfg.Agent.WatcherEnabled {
		watcher := agent.NewWatcher(local, home, r.cfg.Agent.WatcherInterval, r.phase)
		g.Go(func() error { return watcher.Run(gctx) })
	}
	if r.cfg.Agent.ProcessorEnabled {
		processor := agent.NewProcessor(local, r.queue, rate.Limit(r.cfg.Agent.ProcessorRate),
			r.cfg.Agent.ProcessorBurst, r.cfg.Agent.ProcessorRetry, r.phase)
		g.Go(func() error { return processor.Run(gctx) })
	}

	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	go func() {
		defer close(r.done)
		err := g.Wait()
		switch {
		case errors.Is(err, replica.ErrReplicaHalted):
			log.Error("Replica halted, agents stopped; RPC remains available for queries", "err", err)
		case err != nil:
			log.Error("Agent failed", "err", err)
		}
		r.err = err
	}()
	return nil
}

// Done is closed once every agent has returned.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Err returns the error that stopped the agents. It is only meaningful after
// Done is closed.
func (r *Runner) Err() error {
	return r.err
}

// Stop stops the agents and the RPC server and closes the database.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		r.cancel()
		<-r.done
		r.running = false
	}
	if r.server != nil {
		if err := r.server.Close(); err != nil {
			log.Error("Failed to close RPC server", "err", err)
		}
		r.server = nil
	}
	if r.home != nil {
		r.home.Close()
		r.home = nil
	}
	if r.replica == nil {
		return nil
	}
	r.replica.Close()
	r.replica = nil
	return r.db.Close()
}
