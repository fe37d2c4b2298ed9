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

// Package api exposes a replica and its relaying agents over JSON-RPC.
package api

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/xrelay/replica/core/merkle"
	"github.com/xrelay/replica/core/types"
	"github.com/xrelay/replica/ledger"
)

// ReplicaAPI serves the replica namespace.
type ReplicaAPI struct {
	ledger *ledger.Ledger
}

// NewReplicaAPI creates a new ReplicaAPI instance.
func NewReplicaAPI(l *ledger.Ledger) *ReplicaAPI {
	return &ReplicaAPI{ledger: l}
}

func (api *ReplicaAPI) submit(ctx context.Context, call *ledger.Call) (*RPCOutcome, error) {
	out, err := api.ledger.Submit(ctx, call)
	if err != nil {
		return nil, toAPIError(err, out)
	}
	return ToRPCOutcome(out), nil
}

func (api *ReplicaAPI) query(ctx context.Context, kind ledger.QueryKind) (*ledger.CallResult, error) {
	return api.ledger.Call(ctx, &ledger.Query{Kind: kind})
}

// Status returns the outcome of a submitted call, null if unknown.
func (api *ReplicaAPI) Status(ctx context.Context, txHash common.Hash) (*RPCOutcome, error) {
	out, err := api.ledger.TransactionOutcome(ctx, txHash)
	if err != nil {
		return nil, err
	}
	return ToRPCOutcome(out), nil
}

// Updater returns the authority allowed to sign updates.
func (api *ReplicaAPI) Updater(ctx context.Context) (common.Address, error) {
	res, err := api.query(ctx, ledger.QueryUpdater)
	if err != nil {
		return common.Address{}, err
	}
	return res.Address, nil
}

// State returns the raw phase code.
func (api *ReplicaAPI) State(ctx context.Context) (hexutil.Uint, error) {
	res, err := api.query(ctx, ledger.QueryState)
	if err != nil {
		return 0, err
	}
	return hexutil.Uint(res.Code), nil
}

// CurrentRoot returns the latest confirmed root.
func (api *ReplicaAPI) CurrentRoot(ctx context.Context) (common.Hash, error) {
	res, err := api.query(ctx, ledger.QueryCurrentRoot)
	if err != nil {
		return common.Hash{}, err
	}
	return res.Hash, nil
}

// PreviousRoot returns the root that was current before the last confirmation.
func (api *ReplicaAPI) PreviousRoot(ctx context.Context) (common.Hash, error) {
	res, err := api.query(ctx, ledger.QueryPreviousRoot)
	if err != nil {
		return common.Hash{}, err
	}
	return res.Hash, nil
}

// NextPending returns the pending root and its confirmation time.
func (api *ReplicaAPI) NextPending(ctx context.Context) (*RPCPending, error) {
	res, err := api.query(ctx, ledger.QueryNextPending)
	if err != nil {
		return nil, err
	}
	return &RPCPending{Root: res.Hash, ConfirmAt: res.ConfirmAt}, nil
}

// CanConfirm reports whether the pending update can be confirmed now.
func (api *ReplicaAPI) CanConfirm(ctx context.Context) (bool, error) {
	res, err := api.query(ctx, ledger.QueryCanConfirm)
	if err != nil {
		return false, err
	}
	return res.Flag, nil
}

// LocalDomain returns the domain processed messages must be destined for.
func (api *ReplicaAPI) LocalDomain(ctx context.Context) (hexutil.Uint, error) {
	res, err := api.query(ctx, ledger.QueryLocalDomain)
	if err != nil {
		return 0, err
	}
	return hexutil.Uint(res.Domain), nil
}

// IsProcessed reports whether the message id has been consumed.
func (api *ReplicaAPI) IsProcessed(ctx context.Context, id common.Hash) (bool, error) {
	res, err := api.ledger.Call(ctx, &ledger.Query{Kind: ledger.QueryMessageProcessed, Hash: id})
	if err != nil {
		return false, err
	}
	return res.Flag, nil
}

// Update submits a signed update.
func (api *ReplicaAPI) Update(ctx context.Context, su types.SignedUpdate) (*RPCOutcome, error) {
	return api.submit(ctx, ledger.UpdateCall(&su))
}

// DoubleUpdate submits equivocation evidence.
func (api *ReplicaAPI) DoubleUpdate(ctx context.Context, first, second types.SignedUpdate) (*RPCOutcome, error) {
	d := types.DoubleUpdate{first, second}
	return api.submit(ctx, ledger.DoubleUpdateCall(&d))
}

// Confirm confirms the pending update.
func (api *ReplicaAPI) Confirm(ctx context.Context) (*RPCOutcome, error) {
	return api.submit(ctx, ledger.ConfirmCall())
}

// Prove records a leaf as proven.
func (api *ReplicaAPI) Prove(ctx context.Context, leaf common.Hash, proof []common.Hash, index hexutil.Uint) (*RPCOutcome, error) {
	return api.submit(ctx, &ledger.Call{Kind: ledger.CallProve, Leaf: leaf, Proof: proof, Index: uint32(index)})
}

// Process dispatches a proven message.
func (api *ReplicaAPI) Process(ctx context.Context, message hexutil.Bytes) (*RPCOutcome, error) {
	return api.submit(ctx, ledger.ProcessCall(message))
}

// ProveAndProcess proves and dispatches a message.
func (api *ReplicaAPI) ProveAndProcess(ctx context.Context, message hexutil.Bytes, proof []common.Hash, index hexutil.Uint) (*RPCOutcome, error) {
	return api.submit(ctx, &ledger.Call{Kind: ledger.CallProveAndProcess, Message: message, Proof: proof, Index: uint32(index)})
}

// FilterUpdates returns accepted updates matching the filter.
func (api *ReplicaAPI) FilterUpdates(ctx context.Context, filter RPCUpdateFilter) ([]*types.SignedUpdate, error) {
	return api.ledger.FilterUpdates(ctx, &ledger.UpdateFilter{OldRoot: filter.OldRoot, NewRoot: filter.NewRoot})
}

// TreeDepth returns the depth of the message tree proofs must match.
func (api *ReplicaAPI) TreeDepth() hexutil.Uint {
	return merkle.TreeDepth
}

// NewUpdates notifies about every accepted signed update.
func (api *ReplicaAPI) NewUpdates(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return &rpc.Subscription{}, rpc.ErrNotificationsUnsupported
	}
	rpcSub := notifier.CreateSubscription()
	updates := make(chan *types.SignedUpdate, 16)
	sub := api.ledger.Replica().SubscribeUpdates(updates)

	go func() {
		defer sub.Unsubscribe()

		for {
			select {
			case su := <-updates:
				if err := notifier.Notify(rpcSub.ID, su); err != nil {
					log.Debug("Failed to notify update", "err", err)
				}
			case <-rpcSub.Err():
				return
			case <-sub.Err():
				return
			}
		}
	}()
	return rpcSub, nil
}
