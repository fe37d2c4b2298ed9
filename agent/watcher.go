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
	"bytes"
	"context"
	"errors"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/xrelay/replica/core/replica"
	"github.com/xrelay/replica/core/types"
)

// Watcher looks for two updater-signed updates that build different roots on
// the same previous root and submits them as a double update.
type Watcher struct {
	replica  Replica
	home     UpdateSource // optional
	interval time.Duration
	phase    *PhaseTracker
	logger   log.Logger

	updater  common.Address
	reported mapset.Set[common.Hash]
}

// NewWatcher creates a watcher polling every interval. home may be nil, in
// which case only updates accepted by the replica are compared.
func NewWatcher(r Replica, home UpdateSource, interval time.Duration, phase *PhaseTracker) *Watcher {
	return &Watcher{
		replica:  r,
		home:     home,
		interval: interval,
		phase:    phase,
		logger:   log.New("agent", "watcher"),
		reported: mapset.NewThreadUnsafeSet[common.Hash](),
	}
}

// Run watches until ctx is done or the replica halts.
func (w *Watcher) Run(ctx context.Context) error {
	return run(ctx, w.logger, w.interval, w.phase, w.step)
}

func (w *Watcher) step(ctx context.Context) error {
	if err := checkRunning(ctx, w.replica); err != nil {
		return err
	}
	if w.updater == (common.Address{}) {
		updater, err := w.replica.Updater(ctx)
		if err != nil {
			return err
		}
		w.updater = updater
	}
	roots, err := w.roots(ctx)
	if err != nil {
		return err
	}
	for _, root := range roots.ToSlice() {
		watcherChecks.Inc(1)
		d, err := w.findConflict(ctx, root)
		if err != nil {
			return err
		}
		if d == nil {
			continue
		}
		key := evidenceKey(d)
		if w.reported.Contains(key) {
			continue
		}
		w.logger.Error("Updater equivocation detected", "previous", root,
			"first", d[0].Update.NewRoot, "second", d[1].Update.NewRoot)
		out, err := w.replica.DoubleUpdate(ctx, d)
		if errors.Is(err, replica.ErrNotEquivocation) {
			w.reported.Add(key)
			w.logger.Warn("Replica rejected equivocation evidence", "err", err)
			continue
		}
		if err != nil {
			return err
		}
		w.reported.Add(key)
		watcherReports.Inc(1)
		w.logger.Warn("Submitted double update", "tx", out.TxHash, "block", out.Block)
		return checkRunning(ctx, w.replica)
	}
	return nil
}

// roots returns the non-zero roots updates may currently build on.
func (w *Watcher) roots(ctx context.Context) (mapset.Set[common.Hash], error) {
	roots := mapset.NewThreadUnsafeSet[common.Hash]()
	current, err := w.replica.CurrentRoot(ctx)
	if err != nil {
		return nil, err
	}
	previous, err := w.replica.PreviousRoot(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := w.replica.NextPending(ctx)
	if err != nil {
		return nil, err
	}
	candidates := []common.Hash{current, previous}
	if pending != nil {
		candidates = append(candidates, pending.Root)
	}
	for _, root := range candidates {
		if root != (common.Hash{}) {
			roots.Add(root)
		}
	}
	return roots, nil
}

// findConflict collects every updater-signed update on root, from the replica
// and the home chain, and returns the first conflicting pair.
func (w *Watcher) findConflict(ctx context.Context, root common.Hash) (*types.DoubleUpdate, error) {
	updates, err := w.replica.SignedUpdatesByOldRoot(ctx, root)
	if err != nil {
		return nil, err
	}
	if w.home != nil {
		su, err := w.home.SignedUpdateByOldRoot(ctx, root)
		if err != nil {
			return nil, err
		}
		if su != nil {
			updates = append(updates, su)
		}
	}
	var signed []*types.SignedUpdate
	for _, su := range updates {
		if su.Verify(w.updater) == nil {
			signed = append(signed, su)
		}
	}
	for i := 0; i < len(signed); i++ {
		for j := i + 1; j < len(signed); j++ {
			d := types.DoubleUpdate{*signed[i], *signed[j]}
			if d.IsConflicting() {
				return &d, nil
			}
		}
	}
	return nil, nil
}

// evidenceKey identifies a conflicting pair regardless of order.
func evidenceKey(d *types.DoubleUpdate) common.Hash {
	a, b := d[0].Update.NewRoot, d[1].Update.NewRoot
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256Hash(d[0].Update.PreviousRoot[:], a[:], b[:])
}
