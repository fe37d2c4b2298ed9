// Copyright 2025 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package replica implements the destination side of a cross-domain message
// channel. It mirrors the message tree root of a remote domain as attested by a
// single updater, admits messages proven against that root and halts for good
// once the updater is caught signing two conflicting histories.
package replica

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/xrelay/replica/core/rawdb"
	"github.com/xrelay/replica/core/types"
)

// Replica is the commitment store together with the operations that mutate it.
// Mutations are serialized and either fully persisted or not at all.
type Replica struct {
	db      ethdb.KeyValueStore
	genesis rawdb.ReplicaConfig
	clock   Clock
	handler MessageHandler
	logger  log.Logger

	mu      sync.RWMutex
	state   rawdb.ReplicaState
	updates uint64 // number of logged updates

	updateFeed event.Feed
	scope      event.SubscriptionScope
}

// New creates a replica in an empty database.
func New(db ethdb.KeyValueStore, cfg *Config, handler MessageHandler) (*Replica, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rawdb.ReadReplicaConfig(db) != nil {
		return nil, errAlreadyInitialized
	}
	genesis := cfg.genesis()
	state := rawdb.ReplicaState{Current: cfg.InitialRoot, Phase: uint8(types.PhaseWaiting)}

	batch := db.NewBatch()
	rawdb.WriteReplicaConfig(batch, genesis)
	rawdb.WriteReplicaState(batch, &state)
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("failed to write replica genesis: %w", err)
	}
	r := newReplica(db, genesis, cfg.clock(), handler, state, 0)
	r.logger.Info("Created replica", "root", cfg.InitialRoot, "updater", cfg.Updater, "optimistic", cfg.OptimisticDelay())
	return r, nil
}

// Open loads the replica stored in db, creating it from cfg if the database is
// empty. The stored genesis must match cfg.
func Open(db ethdb.KeyValueStore, cfg *Config, handler MessageHandler) (*Replica, error) {
	stored := rawdb.ReadReplicaConfig(db)
	if stored == nil {
		return New(db, cfg, handler)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if *stored != *cfg.genesis() {
		return nil, fmt.Errorf("%w: stored %+v, configured %+v", errConfigMismatch, *stored, *cfg.genesis())
	}
	state := rawdb.ReadReplicaState(db)
	if state == nil {
		return nil, fmt.Errorf("replica state missing for domain %d", stored.Domain)
	}
	if _, err := types.PhaseFromCode(state.Phase); err != nil {
		return nil, err
	}
	r := newReplica(db, stored, cfg.clock(), handler, *state, rawdb.ReadUpdateLogCount(db))
	r.logger.Info("Opened replica", "current", state.Current, "previous", state.Previous,
		"phase", types.Phase(state.Phase), "updates", r.updates)
	return r, nil
}

func newReplica(db ethdb.KeyValueStore, genesis *rawdb.ReplicaConfig, clock Clock, handler MessageHandler, state rawdb.ReplicaState, updates uint64) *Replica {
	r := &Replica{
		db:      db,
		genesis: *genesis,
		clock:   clock,
		handler: handler,
		logger:  log.New("replica", genesis.Domain, "remote", genesis.RemoteDomain),
		state:   state,
		updates: updates,
	}
	phaseGauge.Update(int64(state.Phase))
	pendingGauge.Update(int64(state.PendingConfirmAt))
	return r
}

// Close terminates all update subscriptions. The database is not closed.
func (r *Replica) Close() {
	r.scope.Close()
}

// LocalDomain returns the domain messages must be destined for.
func (r *Replica) LocalDomain() uint32 { return r.genesis.Domain }

// RemoteDomain returns the domain whose tree is mirrored.
func (r *Replica) RemoteDomain() uint32 { return r.genesis.RemoteDomain }

// Updater returns the authority allowed to sign updates.
func (r *Replica) Updater() common.Address { return r.genesis.Updater }

// OptimisticSeconds returns the confirmation delay.
func (r *Replica) OptimisticSeconds() uint64 { return r.genesis.OptimisticSeconds }

// CurrentRoot returns the latest confirmed root.
func (r *Replica) CurrentRoot() common.Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Current
}

// PreviousRoot returns the root that was current before the last confirmation.
func (r *Replica) PreviousRoot() common.Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Previous
}

// Phase returns the operational state.
func (r *Replica) Phase() types.Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return types.Phase(r.state.Phase)
}

// Pending returns the queued update, nil if there is none.
func (r *Replica) Pending() *types.Pending {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.state.HasPending() {
		return nil
	}
	return &types.Pending{Root: r.state.PendingRoot, ConfirmAt: r.state.PendingConfirmAt}
}

// IsProcessed reports whether the message with the given id has been
// admitted.
func (r *Replica) IsProcessed(id common.Hash) bool {
	return rawdb.HasProcessedMessage(r.db, id)
}

// UpdateCount returns the number of accepted updates.
func (r *Replica) UpdateCount() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updates
}

// SignedUpdateByOldRoot returns the first accepted update whose previous root
// is root, nil if there is none.
func (r *Replica) SignedUpdateByOldRoot(root common.Hash) (*types.SignedUpdate, error) {
	updates, err := rawdb.ReadUpdatesByOldRoot(r.db, root)
	if err != nil || len(updates) == 0 {
		return nil, err
	}
	return updates[0], nil
}

// SignedUpdatesByOldRoot returns every accepted update whose previous root is
// root.
func (r *Replica) SignedUpdatesByOldRoot(root common.Hash) ([]*types.SignedUpdate, error) {
	return rawdb.ReadUpdatesByOldRoot(r.db, root)
}

// SignedUpdateByNewRoot returns the first accepted update whose new root is
// root, nil if there is none.
func (r *Replica) SignedUpdateByNewRoot(root common.Hash) (*types.SignedUpdate, error) {
	updates, err := rawdb.ReadUpdatesByNewRoot(r.db, root)
	if err != nil || len(updates) == 0 {
		return nil, err
	}
	return updates[0], nil
}

// SubscribeUpdates delivers every accepted update to ch.
func (r *Replica) SubscribeUpdates(ch chan<- *types.SignedUpdate) event.Subscription {
	return r.scope.Track(r.updateFeed.Subscribe(ch))
}

// halted must be called with the lock held.
func (r *Replica) halted() bool {
	return types.Phase(r.state.Phase) == types.PhaseFailed
}

// commit persists next and the optional update log entry in one batch, then
// installs next as the in-memory state. Must be called with the write lock.
func (r *Replica) commit(next rawdb.ReplicaState, logged *types.SignedUpdate, processed *common.Hash) error {
	batch := r.db.NewBatch()
	rawdb.WriteReplicaState(batch, &next)
	if logged != nil {
		rawdb.WriteUpdateLogEntry(batch, r.updates, logged)
	}
	if processed != nil {
		rawdb.WriteProcessedMessage(batch, *processed)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to persist replica state: %w", err)
	}
	r.state = next
	if logged != nil {
		r.updates++
	}
	phaseGauge.Update(int64(next.Phase))
	pendingGauge.Update(int64(next.PendingConfirmAt))
	return nil
}
