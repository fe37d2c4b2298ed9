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

package agent

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/xrelay/replica/core/replica"
)

// Relayer follows the home chain's signed updates, submitting the one that
// extends the replica's tip and confirming pending updates once their delay
// has passed.
type Relayer struct {
	replica  Replica
	home     UpdateSource
	interval time.Duration
	phase    *PhaseTracker
	logger   log.Logger
}

// NewRelayer creates a relayer polling every interval.
func NewRelayer(r Replica, home UpdateSource, interval time.Duration, phase *PhaseTracker) *Relayer {
	return &Relayer{
		replica:  r,
		home:     home,
		interval: interval,
		phase:    phase,
		logger:   log.New("agent", "relayer"),
	}
}

// Run relays until ctx is done or the replica halts.
func (r *Relayer) Run(ctx context.Context) error {
	return run(ctx, r.logger, r.interval, r.phase, r.step)
}

func (r *Relayer) step(ctx context.Context) error {
	if err := checkRunning(ctx, r.replica); err != nil {
		return err
	}
	if err := r.confirm(ctx); err != nil {
		return err
	}
	return r.relay(ctx)
}

func (r *Relayer) confirm(ctx context.Context) error {
	ok, err := r.replica.CanConfirm(ctx)
	if err != nil || !ok {
		return err
	}
	out, err := r.replica.Confirm(ctx)
	switch {
	case errors.Is(err, replica.ErrNoPendingUpdate), errors.Is(err, replica.ErrNotYetConfirmable):
		// Raced with another confirmer.
		return nil
	case err != nil:
		return err
	}
	relayConfirms.Inc(1)
	r.logger.Info("Confirmed pending update", "tx", out.TxHash, "block", out.Block)
	return nil
}

func (r *Relayer) relay(ctx context.Context) error {
	tip, err := r.replica.CurrentRoot(ctx)
	if err != nil {
		return err
	}
	pending, err := r.replica.NextPending(ctx)
	if err != nil {
		return err
	}
	if pending != nil {
		tip = pending.Root
	}
	su, err := r.home.SignedUpdateByOldRoot(ctx, tip)
	if err != nil {
		return err
	}
	if su == nil {
		relayLagGauge.Update(0)
		r.phase.UpdatePhase(false)
		return nil
	}
	relayLagGauge.Update(1)
	r.phase.UpdatePhase(true)

	out, err := r.replica.Update(ctx, su)
	if errors.Is(err, replica.ErrNonContiguousUpdate) {
		r.logger.Debug("Tip moved before update landed", "tip", tip, "newRoot", su.Update.NewRoot)
		return nil
	}
	if err != nil {
		return err
	}
	relayUpdates.Inc(1)
	r.logger.Info("Relayed signed update", "previous", su.Update.PreviousRoot, "new", su.Update.NewRoot, "tx", out.TxHash)
	return nil
}
