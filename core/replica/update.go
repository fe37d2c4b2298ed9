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

package replica

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xrelay/replica/core/types"
)

// SubmitUpdate queues a signed update. The update must extend the pending root
// if there is one being waited out, or replace it by extending the current
// root. It becomes confirmable after the optimistic delay.
func (r *Replica) SubmitUpdate(su *types.SignedUpdate) (*types.Pending, error) {
	r.mu.Lock()
	pending, err := r.submitUpdate(su)
	r.mu.Unlock()

	if err != nil {
		updateRejectedTotal.Inc(1)
		return nil, err
	}
	updateAcceptedTotal.Inc(1)
	r.updateFeed.Send(su)
	return pending, nil
}

func (r *Replica) submitUpdate(su *types.SignedUpdate) (*types.Pending, error) {
	if r.halted() {
		return nil, ErrReplicaHalted
	}
	signer, err := su.Recover()
	if err != nil {
		return nil, err
	}
	if signer != r.genesis.Updater {
		return nil, fmt.Errorf("%w: signed by %s", ErrUnauthorizedSigner, signer)
	}
	u := su.Update
	if u.OriginDomain != r.genesis.RemoteDomain {
		return nil, fmt.Errorf("%w: origin %d, expected %d", ErrDomainMismatch, u.OriginDomain, r.genesis.RemoteDomain)
	}
	extendsPending := r.state.HasPending() && u.PreviousRoot == r.state.PendingRoot
	if !extendsPending && u.PreviousRoot != r.state.Current {
		return nil, fmt.Errorf("%w: previous %s, current %s", ErrNonContiguousUpdate, u.PreviousRoot.TerminalString(), r.state.Current.TerminalString())
	}

	now := uint64(r.clock.Now().Unix())
	confirmAt := now + r.genesis.OptimisticSeconds
	if confirmAt < now {
		return nil, fmt.Errorf("%w: confirmation time overflows (now %d, delay %d)", ErrProtocolInvariantViolation, now, r.genesis.OptimisticSeconds)
	}
	next := r.state
	next.PendingRoot = u.NewRoot
	next.PendingConfirmAt = confirmAt
	if err := r.commit(next, su, nil); err != nil {
		return nil, err
	}
	r.logger.Info("Accepted update", "prev", u.PreviousRoot, "new", u.NewRoot, "confirmAt", confirmAt, "chained", extendsPending)
	return &types.Pending{Root: u.NewRoot, ConfirmAt: confirmAt}, nil
}

// Confirm promotes the pending update to the current root once its delay has
// passed. It returns the new current root.
func (r *Replica) Confirm() (common.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.halted() {
		return common.Hash{}, ErrReplicaHalted
	}
	if !r.state.HasPending() {
		return common.Hash{}, ErrNoPendingUpdate
	}
	now := uint64(r.clock.Now().Unix())
	if now < r.state.PendingConfirmAt {
		return common.Hash{}, fmt.Errorf("%w: %d seconds remaining", ErrNotYetConfirmable, r.state.PendingConfirmAt-now)
	}
	next := r.state
	next.Previous = r.state.Current
	next.Current = r.state.PendingRoot
	next.PendingRoot = common.Hash{}
	next.PendingConfirmAt = 0
	if err := r.commit(next, nil, nil); err != nil {
		return common.Hash{}, err
	}
	confirmTotal.Inc(1)
	r.logger.Info("Confirmed update", "previous", next.Previous, "current", next.Current)
	return next.Current, nil
}

// CanConfirm reports whether Confirm would succeed now.
func (r *Replica) CanConfirm() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.halted() || !r.state.HasPending() {
		return false
	}
	return uint64(r.clock.Now().Unix()) >= r.state.PendingConfirmAt
}
