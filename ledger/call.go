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

package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/xrelay/replica/core/merkle"
	"github.com/xrelay/replica/core/types"
)

// CallKind selects the replica operation a Call performs.
type CallKind uint8

const (
	CallUpdate CallKind = iota + 1
	CallDoubleUpdate
	CallConfirm
	CallProve
	CallProcess
	CallProveAndProcess
)

func (k CallKind) String() string {
	switch k {
	case CallUpdate:
		return "update"
	case CallDoubleUpdate:
		return "doubleUpdate"
	case CallConfirm:
		return "confirm"
	case CallProve:
		return "prove"
	case CallProcess:
		return "process"
	case CallProveAndProcess:
		return "proveAndProcess"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Call is a state-changing operation submitted to the replica. Only the fields
// used by its kind are set.
type Call struct {
	Kind    CallKind
	Updates []types.SignedUpdate
	Message []byte
	Leaf    common.Hash
	Proof   []common.Hash
	Index   uint32
}

// UpdateCall submits a signed update.
func UpdateCall(su *types.SignedUpdate) *Call {
	return &Call{Kind: CallUpdate, Updates: []types.SignedUpdate{*su}}
}

// DoubleUpdateCall submits equivocation evidence.
func DoubleUpdateCall(d *types.DoubleUpdate) *Call {
	return &Call{Kind: CallDoubleUpdate, Updates: []types.SignedUpdate{d[0], d[1]}}
}

// ConfirmCall confirms the pending update.
func ConfirmCall() *Call {
	return &Call{Kind: CallConfirm}
}

// ProveCall records a leaf as proven.
func ProveCall(leaf common.Hash, proof *merkle.Proof, index uint32) *Call {
	return &Call{Kind: CallProve, Leaf: leaf, Proof: proofHashes(proof), Index: index}
}

// ProcessCall dispatches a proven message.
func ProcessCall(message []byte) *Call {
	return &Call{Kind: CallProcess, Message: message}
}

// ProveAndProcessCall proves and dispatches a message in one step.
func ProveAndProcessCall(message []byte, proof *merkle.Proof, index uint32) *Call {
	return &Call{Kind: CallProveAndProcess, Message: message, Proof: proofHashes(proof), Index: index}
}

func proofHashes(proof *merkle.Proof) []common.Hash {
	if proof == nil {
		return nil
	}
	return proof.Hashes()
}

// QueryKind selects a read-only replica view.
type QueryKind uint8

const (
	QueryUpdater QueryKind = iota + 1
	QueryState
	QueryCurrentRoot
	QueryPreviousRoot
	QueryNextPending
	QueryCanConfirm
	QueryLocalDomain
	QueryMessageProcessed
)

// Query is a read-only call. Hash is the message id for QueryMessageProcessed.
type Query struct {
	Kind QueryKind
	Hash common.Hash
}

// CallResult carries the answer of a Query. Only the fields relevant to the
// query kind are set. For QueryNextPending a zero ConfirmAt means nothing is
// pending.
type CallResult struct {
	Hash      common.Hash
	Address   common.Address
	Code      uint8
	Flag      bool
	ConfirmAt *uint256.Int
	Domain    uint32
}

// UpdateFilter narrows FilterUpdates. Nil fields match everything.
type UpdateFilter struct {
	OldRoot *common.Hash
	NewRoot *common.Hash
}

// Matches reports whether su passes the filter.
func (f *UpdateFilter) Matches(su *types.SignedUpdate) bool {
	if f.OldRoot != nil && su.Update.PreviousRoot != *f.OldRoot {
		return false
	}
	if f.NewRoot != nil && su.Update.NewRoot != *f.NewRoot {
		return false
	}
	return true
}
