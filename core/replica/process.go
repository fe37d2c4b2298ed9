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
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/xrelay/replica/core/merkle"
	"github.com/xrelay/replica/core/rawdb"
	"github.com/xrelay/replica/core/types"
)

// acceptableRoot reports whether root may anchor a proof. Must be called with
// the lock held.
func (r *Replica) acceptableRoot(root common.Hash) bool {
	if root == r.state.Current {
		return true
	}
	return r.state.Previous != (common.Hash{}) && root == r.state.Previous
}

// ProveAndProcess verifies that message sits at index of an acceptable root,
// marks it processed and hands it to the message handler. The message stays
// processed even if the handler fails, in which case a *HandlerError is
// returned. It returns the message id.
func (r *Replica) ProveAndProcess(message []byte, proof *merkle.Proof, index uint32) (common.Hash, error) {
	start := time.Now()

	r.mu.Lock()
	msg, id, err := r.proveAndMark(message, proof, index)
	r.mu.Unlock()

	if err != nil {
		processRejectedTotal.Inc(1)
		return id, err
	}
	err = r.dispatch(msg, id)
	processLatency.UpdateSince(start)
	return id, err
}

func (r *Replica) proveAndMark(message []byte, proof *merkle.Proof, index uint32) (*types.StampedMessage, common.Hash, error) {
	if r.halted() {
		return nil, common.Hash{}, ErrReplicaHalted
	}
	if proof == nil {
		return nil, common.Hash{}, fmt.Errorf("%w: missing proof", ErrMalformedProof)
	}
	leaf := crypto.Keccak256Hash(message)
	id := types.MessageID(leaf, index)

	if root := merkle.ComputeRoot(leaf, index, proof); !r.acceptableRoot(root) {
		return nil, id, fmt.Errorf("%w: computed %s", ErrProofMismatch, root.TerminalString())
	}
	msg, err := r.admit(message, id)
	if err != nil {
		return nil, id, err
	}
	if err := r.commit(r.state, nil, &id); err != nil {
		return nil, id, err
	}
	return msg, id, nil
}

// admit runs the replay and destination checks. Must be called with the lock
// held.
func (r *Replica) admit(message []byte, id common.Hash) (*types.StampedMessage, error) {
	if rawdb.HasProcessedMessage(r.db, id) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessed, id.Hex())
	}
	msg, err := types.DecodeStampedMessage(message)
	if err != nil {
		return nil, err
	}
	if msg.Destination != r.genesis.Domain {
		return nil, fmt.Errorf("%w: destination %d, local %d", ErrWrongDestination, msg.Destination, r.genesis.Domain)
	}
	return msg, nil
}

// dispatch hands an already marked message to the handler.
func (r *Replica) dispatch(msg *types.StampedMessage, id common.Hash) error {
	processTotal.Inc(1)
	if r.handler == nil {
		r.logger.Debug("Processed message without handler", "id", id, "nonce", msg.Nonce)
		return nil
	}
	if err := r.handler.HandleMessage(msg); err != nil {
		processHandlerErrors.Inc(1)
		r.logger.Warn("Message handler failed", "id", id, "origin", msg.Origin, "nonce", msg.Nonce, "err", err)
		return &HandlerError{ID: id, Err: err}
	}
	r.logger.Debug("Processed message", "id", id, "origin", msg.Origin, "nonce", msg.Nonce, "recipient", msg.Recipient)
	return nil
}

// Prove records that leaf sits at index of an acceptable root so that the
// message can later be passed to Process.
func (r *Replica) Prove(leaf common.Hash, proof *merkle.Proof, index uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.halted() {
		return ErrReplicaHalted
	}
	if proof == nil {
		return fmt.Errorf("%w: missing proof", ErrMalformedProof)
	}
	if root := merkle.ComputeRoot(leaf, index, proof); !r.acceptableRoot(root) {
		return fmt.Errorf("%w: computed %s", ErrProofMismatch, root.TerminalString())
	}
	if rawdb.HasProcessedMessage(r.db, types.MessageID(leaf, index)) {
		return fmt.Errorf("%w: leaf %s at %d", ErrAlreadyProcessed, leaf.TerminalString(), index)
	}
	batch := r.db.NewBatch()
	rawdb.WriteProvenLeaf(batch, leaf, index)
	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to persist proven leaf: %w", err)
	}
	provenTotal.Inc(1)
	return nil
}

// Process dispatches a message previously accepted by Prove.
func (r *Replica) Process(message []byte) (common.Hash, error) {
	start := time.Now()

	r.mu.Lock()
	msg, id, err := r.markProven(message)
	r.mu.Unlock()

	if err != nil {
		processRejectedTotal.Inc(1)
		return id, err
	}
	err = r.dispatch(msg, id)
	processLatency.UpdateSince(start)
	return id, err
}

func (r *Replica) markProven(message []byte) (*types.StampedMessage, common.Hash, error) {
	if r.halted() {
		return nil, common.Hash{}, ErrReplicaHalted
	}
	leaf := crypto.Keccak256Hash(message)
	index, ok := rawdb.ReadProvenLeaf(r.db, leaf)
	if !ok {
		return nil, common.Hash{}, fmt.Errorf("%w: leaf %s", ErrNotProven, leaf.TerminalString())
	}
	id := types.MessageID(leaf, index)
	msg, err := r.admit(message, id)
	if err != nil {
		return nil, id, err
	}
	if err := r.commit(r.state, nil, &id); err != nil {
		return nil, id, err
	}
	return msg, id, nil
}
