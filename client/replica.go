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

// Package client provides a typed binding to a replica reachable through a
// Backend, either in process or over JSON-RPC.
package client

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/xrelay/replica/core/merkle"
	"github.com/xrelay/replica/core/types"
	"github.com/xrelay/replica/ledger"
)

// Backend is the capability a replica binding needs: submit calls, run
// queries, look up historical updates and fetch receipts.
type Backend interface {
	Submit(ctx context.Context, call *ledger.Call) (*types.Outcome, error)
	Call(ctx context.Context, q *ledger.Query) (*ledger.CallResult, error)
	FilterUpdates(ctx context.Context, filter *ledger.UpdateFilter) ([]*types.SignedUpdate, error)
	SubscribeUpdates(ctx context.Context, ch chan<- *types.SignedUpdate) (event.Subscription, error)
	TransactionOutcome(ctx context.Context, txHash common.Hash) (*types.Outcome, error)
}

var _ Backend = (*ledger.Ledger)(nil)

// Replica is a binding to one replica instance.
type Replica struct {
	name    string
	domain  uint32
	backend Backend
}

// NewReplica creates a binding named name for the replica living on domain.
func NewReplica(name string, domain uint32, backend Backend) *Replica {
	return &Replica{name: name, domain: domain, backend: backend}
}

// Name returns the configured name.
func (r *Replica) Name() string { return r.name }

// DestinationDomain returns the domain the replica lives on.
func (r *Replica) DestinationDomain() uint32 { return r.domain }

func (r *Replica) query(ctx context.Context, kind ledger.QueryKind) (*ledger.CallResult, error) {
	return r.backend.Call(ctx, &ledger.Query{Kind: kind})
}

// Status returns the outcome of a previously submitted call, nil if unknown.
func (r *Replica) Status(ctx context.Context, txHash common.Hash) (*types.Outcome, error) {
	return r.backend.TransactionOutcome(ctx, txHash)
}

// Updater returns the authority allowed to sign updates.
func (r *Replica) Updater(ctx context.Context) (common.Address, error) {
	res, err := r.query(ctx, ledger.QueryUpdater)
	if err != nil {
		return common.Address{}, err
	}
	return res.Address, nil
}

// State returns the replica phase. Codes outside the protocol are reported as
// ErrProtocolInvariantViolation.
func (r *Replica) State(ctx context.Context) (types.Phase, error) {
	res, err := r.query(ctx, ledger.QueryState)
	if err != nil {
		return 0, err
	}
	return types.PhaseFromCode(res.Code)
}

// CurrentRoot returns the latest confirmed root.
func (r *Replica) CurrentRoot(ctx context.Context) (common.Hash, error) {
	res, err := r.query(ctx, ledger.QueryCurrentRoot)
	if err != nil {
		return common.Hash{}, err
	}
	return res.Hash, nil
}

// PreviousRoot returns the root that was current before the last confirmation.
func (r *Replica) PreviousRoot(ctx context.Context) (common.Hash, error) {
	res, err := r.query(ctx, ledger.QueryPreviousRoot)
	if err != nil {
		return common.Hash{}, err
	}
	return res.Hash, nil
}

// NextPending returns the pending update, nil if there is none.
func (r *Replica) NextPending(ctx context.Context) (*types.Pending, error) {
	res, err := r.query(ctx, ledger.QueryNextPending)
	if err != nil {
		return nil, err
	}
	if res.ConfirmAt == nil || res.ConfirmAt.IsZero() {
		return nil, nil
	}
	if !res.ConfirmAt.IsUint64() {
		return nil, fmt.Errorf("%w: confirmAt %s out of range", types.ErrProtocolInvariantViolation, res.ConfirmAt)
	}
	return &types.Pending{Root: res.Hash, ConfirmAt: res.ConfirmAt.Uint64()}, nil
}

// CanConfirm reports whether the pending update can be confirmed now.
func (r *Replica) CanConfirm(ctx context.Context) (bool, error) {
	res, err := r.query(ctx, ledger.QueryCanConfirm)
	if err != nil {
		return false, err
	}
	return res.Flag, nil
}

// LocalDomain asks the replica which domain it accepts messages for.
func (r *Replica) LocalDomain(ctx context.Context) (uint32, error) {
	res, err := r.query(ctx, ledger.QueryLocalDomain)
	if err != nil {
		return 0, err
	}
	return res.Domain, nil
}

// IsProcessed reports whether the message id has been consumed.
func (r *Replica) IsProcessed(ctx context.Context, id common.Hash) (bool, error) {
	res, err := r.backend.Call(ctx, &ledger.Query{Kind: ledger.QueryMessageProcessed, Hash: id})
	if err != nil {
		return false, err
	}
	return res.Flag, nil
}

// SignedUpdateByOldRoot returns the first accepted update building on root,
// nil if there is none.
func (r *Replica) SignedUpdateByOldRoot(ctx context.Context, root common.Hash) (*types.SignedUpdate, error) {
	return first(r.backend.FilterUpdates(ctx, &ledger.UpdateFilter{OldRoot: &root}))
}

// SignedUpdatesByOldRoot returns every accepted update building on root.
func (r *Replica) SignedUpdatesByOldRoot(ctx context.Context, root common.Hash) ([]*types.SignedUpdate, error) {
	return r.backend.FilterUpdates(ctx, &ledger.UpdateFilter{OldRoot: &root})
}

// SignedUpdateByNewRoot returns the first accepted update producing root, nil
// if there is none.
func (r *Replica) SignedUpdateByNewRoot(ctx context.Context, root common.Hash) (*types.SignedUpdate, error) {
	return first(r.backend.FilterUpdates(ctx, &ledger.UpdateFilter{NewRoot: &root}))
}

func first(updates []*types.SignedUpdate, err error) (*types.SignedUpdate, error) {
	if err != nil || len(updates) == 0 {
		return nil, err
	}
	return updates[0], nil
}

// SubscribeUpdates delivers accepted updates to ch.
func (r *Replica) SubscribeUpdates(ctx context.Context, ch chan<- *types.SignedUpdate) (event.Subscription, error) {
	return r.backend.SubscribeUpdates(ctx, ch)
}

// Update submits a signed update.
func (r *Replica) Update(ctx context.Context, su *types.SignedUpdate) (*types.Outcome, error) {
	return r.backend.Submit(ctx, ledger.UpdateCall(su))
}

// DoubleUpdate submits equivocation evidence.
func (r *Replica) DoubleUpdate(ctx context.Context, d *types.DoubleUpdate) (*types.Outcome, error) {
	return r.backend.Submit(ctx, ledger.DoubleUpdateCall(d))
}

// Confirm confirms the pending update.
func (r *Replica) Confirm(ctx context.Context) (*types.Outcome, error) {
	return r.backend.Submit(ctx, ledger.ConfirmCall())
}

// Prove records leaf as proven against an acceptable root.
func (r *Replica) Prove(ctx context.Context, leaf common.Hash, proof *merkle.Proof, index uint32) (*types.Outcome, error) {
	return r.backend.Submit(ctx, ledger.ProveCall(leaf, proof, index))
}

// Process dispatches a previously proven message.
func (r *Replica) Process(ctx context.Context, message []byte) (*types.Outcome, error) {
	return r.backend.Submit(ctx, ledger.ProcessCall(message))
}

// ProveAndProcess proves and dispatches a message.
func (r *Replica) ProveAndProcess(ctx context.Context, message []byte, proof *merkle.Proof, index uint32) (*types.Outcome, error) {
	return r.backend.Submit(ctx, ledger.ProveAndProcessCall(message, proof, index))
}
