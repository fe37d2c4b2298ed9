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

// Package ledger is the in-process submission and receipt layer in front of a
// replica. Every submitted call is executed in order, assigned a transaction
// hash and a block number, and leaves a durable outcome that can be queried
// later.
package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/xrelay/replica/core/merkle"
	"github.com/xrelay/replica/core/rawdb"
	"github.com/xrelay/replica/core/replica"
	"github.com/xrelay/replica/core/types"
)

var errMalformedCall = errors.New("malformed call")

var (
	submitTotal    = metrics.NewRegisteredCounter("ledger/submit/total", nil)
	submitReverted = metrics.NewRegisteredCounter("ledger/submit/reverted", nil)
	blockGauge     = metrics.NewRegisteredGauge("ledger/block", nil)
)

// Ledger serializes calls against a replica and records their outcomes.
type Ledger struct {
	replica *replica.Replica
	db      ethdb.KeyValueStore
	logger  log.Logger

	mu   sync.Mutex
	head rawdb.LedgerHead
}

// New creates a ledger over r, persisting receipts in db.
func New(r *replica.Replica, db ethdb.KeyValueStore) *Ledger {
	head := rawdb.ReadLedgerHead(db)
	blockGauge.Update(int64(head.Block))
	return &Ledger{
		replica: r,
		db:      db,
		head:    head,
		logger:  log.New("ledger", r.LocalDomain()),
	}
}

// Replica returns the replica behind the ledger.
func (l *Ledger) Replica() *replica.Replica { return l.replica }

// Head returns the current nonce and block counters.
func (l *Ledger) Head() rawdb.LedgerHead {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

func communicationError(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return &replica.CommunicationError{Op: op, Err: err}
	}
	return nil
}

// Submit executes call. The returned outcome is recorded even when the replica
// rejects the call, in which case the rejection is returned as well.
func (l *Ledger) Submit(ctx context.Context, call *Call) (*types.Outcome, error) {
	if err := communicationError(ctx, "submit "+call.Kind.String()); err != nil {
		return nil, err
	}
	enc, err := rlp.EncodeToBytes(call)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedCall, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], l.head.Nonce)
	txHash := crypto.Keccak256Hash(enc, nonce[:])

	execErr := l.execute(call)

	var herr *replica.HandlerError
	out := &types.Outcome{
		TxHash:   txHash,
		Block:    l.head.Block + 1,
		Executed: execErr == nil || errors.As(execErr, &herr),
	}
	if execErr != nil {
		out.Error = execErr.Error()
	}
	next := rawdb.LedgerHead{Nonce: l.head.Nonce + 1, Block: l.head.Block + 1}
	if err := rawdb.WriteOutcomeAtomic(l.db, out, next); err != nil {
		// The replica has already committed, the receipt is best effort.
		l.logger.Error("Failed to record outcome", "tx", txHash, "err", err)
	}
	l.head = next
	blockGauge.Update(int64(next.Block))
	submitTotal.Inc(1)
	if !out.Executed {
		submitReverted.Inc(1)
	}
	l.logger.Debug("Executed call", "kind", call.Kind, "tx", txHash, "block", out.Block, "executed", out.Executed, "err", execErr)
	return out, execErr
}

func (l *Ledger) execute(call *Call) error {
	if l.replica.Phase() == types.PhaseFailed {
		return replica.ErrReplicaHalted
	}
	switch call.Kind {
	case CallUpdate:
		if len(call.Updates) != 1 {
			return fmt.Errorf("%w: update carries %d signed updates", errMalformedCall, len(call.Updates))
		}
		_, err := l.replica.SubmitUpdate(&call.Updates[0])
		return err

	case CallDoubleUpdate:
		if len(call.Updates) != 2 {
			return fmt.Errorf("%w: double update carries %d signed updates", errMalformedCall, len(call.Updates))
		}
		d := types.DoubleUpdate{call.Updates[0], call.Updates[1]}
		return l.replica.SubmitDoubleUpdate(&d)

	case CallConfirm:
		_, err := l.replica.Confirm()
		return err

	case CallProve:
		proof, err := merkle.ProofFromHashes(call.Proof)
		if err != nil {
			return err
		}
		return l.replica.Prove(call.Leaf, proof, call.Index)

	case CallProcess:
		_, err := l.replica.Process(call.Message)
		return err

	case CallProveAndProcess:
		proof, err := merkle.ProofFromHashes(call.Proof)
		if err != nil {
			return err
		}
		_, err = l.replica.ProveAndProcess(call.Message, proof, call.Index)
		return err
	}
	return fmt.Errorf("%w: unknown kind %d", errMalformedCall, call.Kind)
}

// Call answers a read-only query.
func (l *Ledger) Call(ctx context.Context, q *Query) (*CallResult, error) {
	if err := communicationError(ctx, "call"); err != nil {
		return nil, err
	}
	r := l.replica
	switch q.Kind {
	case QueryUpdater:
		return &CallResult{Address: r.Updater()}, nil
	case QueryState:
		return &CallResult{Code: uint8(r.Phase())}, nil
	case QueryCurrentRoot:
		return &CallResult{Hash: r.CurrentRoot()}, nil
	case QueryPreviousRoot:
		return &CallResult{Hash: r.PreviousRoot()}, nil
	case QueryNextPending:
		res := &CallResult{ConfirmAt: new(uint256.Int)}
		if p := r.Pending(); p != nil {
			res.Hash = p.Root
			res.ConfirmAt.SetUint64(p.ConfirmAt)
		}
		return res, nil
	case QueryCanConfirm:
		return &CallResult{Flag: r.CanConfirm()}, nil
	case QueryLocalDomain:
		return &CallResult{Domain: r.LocalDomain()}, nil
	case QueryMessageProcessed:
		return &CallResult{Flag: r.IsProcessed(q.Hash)}, nil
	}
	return nil, fmt.Errorf("unknown query kind %d", q.Kind)
}

// FilterUpdates returns the accepted updates matching filter, oldest first.
func (l *Ledger) FilterUpdates(ctx context.Context, filter *UpdateFilter) ([]*types.SignedUpdate, error) {
	if err := communicationError(ctx, "filter updates"); err != nil {
		return nil, err
	}
	var (
		candidates []*types.SignedUpdate
		err        error
	)
	switch {
	case filter.OldRoot != nil:
		candidates, err = rawdb.ReadUpdatesByOldRoot(l.db, *filter.OldRoot)
	case filter.NewRoot != nil:
		candidates, err = rawdb.ReadUpdatesByNewRoot(l.db, *filter.NewRoot)
	default:
		count := l.replica.UpdateCount()
		for seq := uint64(0); seq < count; seq++ {
			if su := rawdb.ReadUpdateLogEntry(l.db, seq); su != nil {
				candidates = append(candidates, su)
			}
		}
	}
	if err != nil {
		return nil, err
	}
	result := candidates[:0]
	for _, su := range candidates {
		if filter.Matches(su) {
			result = append(result, su)
		}
	}
	return result, nil
}

// SubscribeUpdates delivers newly accepted updates to ch.
func (l *Ledger) SubscribeUpdates(ctx context.Context, ch chan<- *types.SignedUpdate) (event.Subscription, error) {
	if err := communicationError(ctx, "subscribe"); err != nil {
		return nil, err
	}
	return l.replica.SubscribeUpdates(ch), nil
}

// TransactionOutcome returns the recorded outcome of txHash, nil if unknown.
func (l *Ledger) TransactionOutcome(ctx context.Context, txHash common.Hash) (*types.Outcome, error) {
	if err := communicationError(ctx, "status"); err != nil {
		return nil, err
	}
	return rawdb.ReadOutcome(l.db, txHash), nil
}
