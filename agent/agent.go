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

// Package agent contains the off-chain loops that drive a replica: relaying
// signed updates from the home chain, confirming them once their delay has
// passed, watching for equivocation and processing proven messages.
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/xrelay/replica/client"
	"github.com/xrelay/replica/core/merkle"
	"github.com/xrelay/replica/core/replica"
	"github.com/xrelay/replica/core/types"
)

// Replica is the replica surface the agents drive.
type Replica interface {
	State(ctx context.Context) (types.Phase, error)
	Updater(ctx context.Context) (common.Address, error)
	CurrentRoot(ctx context.Context) (common.Hash, error)
	PreviousRoot(ctx context.Context) (common.Hash, error)
	NextPending(ctx context.Context) (*types.Pending, error)
	CanConfirm(ctx context.Context) (bool, error)
	IsProcessed(ctx context.Context, id common.Hash) (bool, error)
	SignedUpdatesByOldRoot(ctx context.Context, root common.Hash) ([]*types.SignedUpdate, error)

	Update(ctx context.Context, su *types.SignedUpdate) (*types.Outcome, error)
	DoubleUpdate(ctx context.Context, d *types.DoubleUpdate) (*types.Outcome, error)
	Confirm(ctx context.Context) (*types.Outcome, error)
	ProveAndProcess(ctx context.Context, message []byte, proof *merkle.Proof, index uint32) (*types.Outcome, error)
}

// UpdateSource yields the signed updates published on the home chain.
type UpdateSource interface {
	SignedUpdateByOldRoot(ctx context.Context, root common.Hash) (*types.SignedUpdate, error)
}

var (
	_ Replica      = (*client.Replica)(nil)
	_ UpdateSource = (*client.Replica)(nil)
)

// Message is a dispatched message together with its inclusion proof.
type Message struct {
	Message []byte
	Proof   merkle.Proof
	Index   uint32
}

// ID returns the replay-protection id of the message.
func (m *Message) ID() common.Hash {
	return types.MessageID(crypto.Keccak256Hash(m.Message), m.Index)
}

// MessageSource yields messages to process. Next blocks until a message is
// available or ctx is done.
type MessageSource interface {
	Next(ctx context.Context) (*Message, error)
}

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// run calls step every interval until ctx is done, backing off exponentially
// on failure. A halted replica ends the loop with ErrReplicaHalted.
func run(ctx context.Context, logger log.Logger, interval time.Duration, phase *PhaseTracker, step func(context.Context) error) error {
	logger.Info("Agent loop started", "interval", interval)

	backoff := minBackoff
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Agent loop stopped")
			return nil
		case <-timer.C:
		}
		err := step(ctx)
		switch {
		case err == nil:
			backoff = minBackoff
			agentBackoffGauge.Update(0)
			timer.Reset(interval)

		case errors.Is(err, replica.ErrReplicaHalted):
			logger.Error("Replica halted, agent stopping", "err", err)
			if phase != nil {
				phase.Halt()
			}
			return err

		case ctx.Err() != nil:
			logger.Info("Agent loop stopped")
			return nil

		default:
			if replica.IsTransient(err) {
				logger.Debug("Agent backoff", "err", err, "backoff", backoff)
			} else {
				logger.Warn("Agent step failed", "err", err, "backoff", backoff)
			}
			agentErrors.Inc(1)
			agentBackoffGauge.Update(backoff.Milliseconds())
			timer.Reset(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// checkRunning fails with ErrReplicaHalted once the replica has failed.
func checkRunning(ctx context.Context, r Replica) error {
	state, err := r.State(ctx)
	if err != nil {
		return err
	}
	if state == types.PhaseFailed {
		return replica.ErrReplicaHalted
	}
	return nil
}
