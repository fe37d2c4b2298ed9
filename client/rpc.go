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

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/xrelay/replica/api"
	"github.com/xrelay/replica/core/replica"
	"github.com/xrelay/replica/core/types"
	"github.com/xrelay/replica/ledger"
)

var errBackendClosed = errors.New("rpc backend is closed")

// RejectedError is a protocol rejection reported by a remote replica. It
// unwraps to the matching replica sentinel.
type RejectedError struct {
	Err     error
	Message string
	Outcome *types.Outcome // receipt of the rejected call, if reported
}

func (e *RejectedError) Error() string { return e.Message }

func (e *RejectedError) Unwrap() error { return e.Err }

// RPCBackend reaches a replica through its replica_ JSON-RPC namespace.
type RPCBackend struct {
	endpoint       string
	client         *rpc.Client
	mu             sync.Mutex
	closed         bool
	timeout        time.Duration
	lastReconnect  time.Time
	reconnectDelay time.Duration // minimum delay between reconnection attempts
}

// NewRPCBackend creates a backend for the given endpoint. The connection is
// established lazily.
func NewRPCBackend(endpoint string) *RPCBackend {
	return &RPCBackend{
		endpoint:       endpoint,
		timeout:        30 * time.Second,
		reconnectDelay: 5 * time.Second,
	}
}

// NewRPCBackendFromClient wraps an established client. The backend never
// reconnects it.
func NewRPCBackendFromClient(c *rpc.Client) *RPCBackend {
	return &RPCBackend{client: c, timeout: 30 * time.Second}
}

// connectLocked establishes the RPC connection. Caller must hold b.mu.
func (b *RPCBackend) connectLocked(ctx context.Context) error {
	if b.client != nil {
		return nil
	}
	if b.closed {
		return errBackendClosed
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	client, err := rpc.DialContext(ctx, b.endpoint)
	b.lastReconnect = time.Now()
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", b.endpoint, err)
	}
	b.client = client
	log.Info("Connected to replica RPC", "endpoint", b.endpoint)
	return nil
}

// getClient returns the current RPC client, connecting if necessary.
func (b *RPCBackend) getClient(ctx context.Context) (*rpc.Client, error) {
	b.mu.Lock()
	for {
		if b.client != nil {
			c := b.client
			b.mu.Unlock()
			return c, nil
		}
		if b.closed || b.endpoint == "" {
			b.mu.Unlock()
			return nil, errBackendClosed
		}
		if wait := b.reconnectDelay - time.Since(b.lastReconnect); wait > 0 {
			b.mu.Unlock()
			log.Debug("Throttling reconnection attempt", "wait", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			b.mu.Lock()
			continue
		}
		err := b.connectLocked(ctx)
		c := b.client
		b.mu.Unlock()
		return c, err
	}
}

// resetClient drops the connection after a transport failure so the next call
// reconnects. Wrapped clients are kept.
func (b *RPCBackend) resetClient(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil || b.endpoint == "" {
		return
	}
	log.Warn("Replica RPC error, resetting connection", "endpoint", b.endpoint, "err", err)
	b.client.Close()
	b.client = nil
}

// Close closes the connection. Further calls fail.
func (b *RPCBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	if b.client != nil {
		b.client.Close()
		b.client = nil
	}
}

func (b *RPCBackend) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	client, err := b.getClient(ctx)
	if err != nil {
		return &replica.CommunicationError{Op: method, Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := client.CallContext(ctx, result, method, args...); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			if rejected := decodeRejection(rpcErr.ErrorCode(), err); rejected != nil {
				return rejected
			}
			// The server answered, the connection is fine.
			return fmt.Errorf("%s: %w", method, err)
		}
		b.resetClient(err)
		return &replica.CommunicationError{Op: method, Err: err}
	}
	return nil
}

// decodeRejection maps a coded JSON-RPC error back to the replica taxonomy.
func decodeRejection(code int, err error) *RejectedError {
	sentinel := replica.ErrorFromCode(code)
	if sentinel == nil {
		return nil
	}
	rejected := &RejectedError{Err: sentinel, Message: err.Error()}

	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) || dataErr.ErrorData() == nil {
		return rejected
	}
	raw, merr := json.Marshal(dataErr.ErrorData())
	if merr != nil {
		return rejected
	}
	var data api.ErrorData
	if json.Unmarshal(raw, &data) != nil || data.TxHash == nil {
		return rejected
	}
	rejected.Outcome = &types.Outcome{
		TxHash:   *data.TxHash,
		Executed: code == replica.CodeHandlerFailed,
		Error:    rejected.Message,
	}
	if data.Block != nil {
		rejected.Outcome.Block = uint64(*data.Block)
	}
	return rejected
}

// Submit implements Backend.
func (b *RPCBackend) Submit(ctx context.Context, call *ledger.Call) (*types.Outcome, error) {
	var (
		method string
		args   []interface{}
	)
	switch call.Kind {
	case ledger.CallUpdate:
		if len(call.Updates) != 1 {
			return nil, fmt.Errorf("update carries %d signed updates", len(call.Updates))
		}
		method, args = "replica_update", []interface{}{call.Updates[0]}
	case ledger.CallDoubleUpdate:
		if len(call.Updates) != 2 {
			return nil, fmt.Errorf("double update carries %d signed updates", len(call.Updates))
		}
		method, args = "replica_doubleUpdate", []interface{}{call.Updates[0], call.Updates[1]}
	case ledger.CallConfirm:
		method = "replica_confirm"
	case ledger.CallProve:
		method, args = "replica_prove", []interface{}{call.Leaf, proofArg(call.Proof), hexutil.Uint(call.Index)}
	case ledger.CallProcess:
		method, args = "replica_process", []interface{}{hexutil.Bytes(call.Message)}
	case ledger.CallProveAndProcess:
		method, args = "replica_proveAndProcess", []interface{}{hexutil.Bytes(call.Message), proofArg(call.Proof), hexutil.Uint(call.Index)}
	default:
		return nil, fmt.Errorf("unknown call kind %v", call.Kind)
	}

	var result *api.RPCOutcome
	if err := b.call(ctx, &result, method, args...); err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			return rejected.Outcome, err
		}
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("%w: %s returned no receipt", types.ErrProtocolInvariantViolation, method)
	}
	return result.Outcome(), nil
}

// proofArg keeps a missing proof distinguishable from an empty one on the
// wire.
func proofArg(proof []common.Hash) []common.Hash {
	if proof == nil {
		return []common.Hash{}
	}
	return proof
}

// Call implements Backend.
func (b *RPCBackend) Call(ctx context.Context, q *ledger.Query) (*ledger.CallResult, error) {
	res := new(ledger.CallResult)
	switch q.Kind {
	case ledger.QueryUpdater:
		return res, b.call(ctx, &res.Address, "replica_updater")
	case ledger.QueryState:
		var code hexutil.Uint
		if err := b.call(ctx, &code, "replica_state"); err != nil {
			return nil, err
		}
		if code > 0xff {
			return nil, fmt.Errorf("%w: unknown replica state %d", types.ErrProtocolInvariantViolation, code)
		}
		res.Code = uint8(code)
		return res, nil
	case ledger.QueryCurrentRoot:
		return res, b.call(ctx, &res.Hash, "replica_currentRoot")
	case ledger.QueryPreviousRoot:
		return res, b.call(ctx, &res.Hash, "replica_previousRoot")
	case ledger.QueryNextPending:
		var pending api.RPCPending
		if err := b.call(ctx, &pending, "replica_nextPending"); err != nil {
			return nil, err
		}
		res.Hash, res.ConfirmAt = pending.Root, pending.ConfirmAt
		return res, nil
	case ledger.QueryCanConfirm:
		return res, b.call(ctx, &res.Flag, "replica_canConfirm")
	case ledger.QueryLocalDomain:
		var domain hexutil.Uint
		if err := b.call(ctx, &domain, "replica_localDomain"); err != nil {
			return nil, err
		}
		if domain > 0xffffffff {
			return nil, fmt.Errorf("%w: domain %d out of range", types.ErrProtocolInvariantViolation, domain)
		}
		res.Domain = uint32(domain)
		return res, nil
	case ledger.QueryMessageProcessed:
		return res, b.call(ctx, &res.Flag, "replica_isProcessed", q.Hash)
	}
	return nil, fmt.Errorf("unknown query kind %d", q.Kind)
}

// FilterUpdates implements Backend.
func (b *RPCBackend) FilterUpdates(ctx context.Context, filter *ledger.UpdateFilter) ([]*types.SignedUpdate, error) {
	var updates []*types.SignedUpdate
	err := b.call(ctx, &updates, "replica_filterUpdates", api.RPCUpdateFilter{OldRoot: filter.OldRoot, NewRoot: filter.NewRoot})
	return updates, err
}

// SubscribeUpdates implements Backend. It needs a websocket or in-process
// connection.
func (b *RPCBackend) SubscribeUpdates(ctx context.Context, ch chan<- *types.SignedUpdate) (event.Subscription, error) {
	client, err := b.getClient(ctx)
	if err != nil {
		return nil, &replica.CommunicationError{Op: "replica_subscribe", Err: err}
	}
	sub, err := client.Subscribe(ctx, "replica", ch, "newUpdates")
	if err != nil {
		if !errors.Is(err, rpc.ErrNotificationsUnsupported) {
			b.resetClient(err)
		}
		return nil, &replica.CommunicationError{Op: "replica_subscribe", Err: err}
	}
	return sub, nil
}

// TransactionOutcome implements Backend.
func (b *RPCBackend) TransactionOutcome(ctx context.Context, txHash common.Hash) (*types.Outcome, error) {
	var result *api.RPCOutcome
	if err := b.call(ctx, &result, "replica_status", txHash); err != nil {
		return nil, err
	}
	return result.Outcome(), nil
}
