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
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/xrelay/replica/core/merkle"
	"github.com/xrelay/replica/core/types"
)

// RelayAPI serves the relay namespace: message submission for the processor
// and agent status.
type RelayAPI struct {
	queue *Queue
	phase *PhaseTracker
}

// NewRelayAPI creates a new RelayAPI instance.
func NewRelayAPI(queue *Queue, phase *PhaseTracker) *RelayAPI {
	return &RelayAPI{queue: queue, phase: phase}
}

// Enqueue validates a message and its proof and hands it to the processor.
// It returns the message id.
func (api *RelayAPI) Enqueue(message hexutil.Bytes, proof []common.Hash, index hexutil.Uint) (common.Hash, error) {
	if uint64(index) > math.MaxUint32 {
		return common.Hash{}, fmt.Errorf("leaf index %d out of range", index)
	}
	p, err := merkle.ProofFromHashes(proof)
	if err != nil {
		return common.Hash{}, err
	}
	if _, err := types.DecodeStampedMessage(message); err != nil {
		return common.Hash{}, err
	}
	m := &Message{Message: common.CopyBytes(message), Proof: *p, Index: uint32(index)}
	if err := api.queue.Enqueue(m); err != nil {
		return common.Hash{}, err
	}
	return m.ID(), nil
}

// Status reports the agent phase and queue depth.
func (api *RelayAPI) Status() map[string]any {
	status := map[string]any{
		"phase":  string(api.phase.Current()),
		"queued": api.queue.Len(),
	}
	if since := api.phase.SyncedSince(); !since.IsZero() {
		status["syncedSince"] = since.Unix()
	}
	return status
}
