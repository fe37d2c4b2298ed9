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

// SubmitDoubleUpdate halts the replica permanently if the pair is valid
// evidence of the updater signing two different successors of the same root.
func (r *Replica) SubmitDoubleUpdate(d *types.DoubleUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.halted() {
		return ErrReplicaHalted
	}
	for i := range d {
		signer, err := d[i].Recover()
		if err != nil {
			return fmt.Errorf("%w: update %d: %v", ErrUnauthorizedSigner, i, err)
		}
		if signer != r.genesis.Updater {
			return fmt.Errorf("%w: update %d signed by %s", ErrUnauthorizedSigner, i, signer)
		}
	}
	if d[0].Update.OriginDomain != r.genesis.RemoteDomain || !d.IsConflicting() {
		return fmt.Errorf("%w: %v / %v", ErrNotEquivocation, &d[0].Update, &d[1].Update)
	}

	next := r.state
	next.Phase = uint8(types.PhaseFailed)
	next.PendingRoot = common.Hash{}
	next.PendingConfirmAt = 0
	if err := r.commit(next, nil, nil); err != nil {
		return err
	}
	doubleUpdateTotal.Inc(1)
	r.logger.Error("Replica halted on double update", "prev", d[0].Update.PreviousRoot,
		"first", d[0].Update.NewRoot, "second", d[1].Update.NewRoot)
	return nil
}
