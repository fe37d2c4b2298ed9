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

package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Phase is the replica's operational state.
type Phase uint8

const (
	// PhaseWaiting is normal operation.
	PhaseWaiting Phase = 0
	// PhaseFailed is terminal: equivocation has been proven.
	PhaseFailed Phase = 1
)

// ErrProtocolInvariantViolation is returned when a counterpart reports a state
// that the protocol does not define.
var ErrProtocolInvariantViolation = errors.New("protocol invariant violation")

// PhaseFromCode parses a raw state code as reported by a replica endpoint.
func PhaseFromCode(code uint8) (Phase, error) {
	switch Phase(code) {
	case PhaseWaiting, PhaseFailed:
		return Phase(code), nil
	}
	return 0, fmt.Errorf("%w: unknown replica state %d", ErrProtocolInvariantViolation, code)
}

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Pending is the update waiting out its optimistic delay.
type Pending struct {
	Root      common.Hash
	ConfirmAt uint64 // unix seconds
}

// Deadline returns the confirmation time as a time.Time.
func (p *Pending) Deadline() time.Time {
	return time.Unix(int64(p.ConfirmAt), 0)
}

// Outcome is the receipt of a submitted replica operation.
type Outcome struct {
	TxHash   common.Hash
	Block    uint64
	Executed bool   // false if the operation was rejected
	Error    string // rejection or handler failure reason, if any
}
