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
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xrelay/replica/core/merkle"
	"github.com/xrelay/replica/core/types"
)

// Protocol rejections. Every mutating operation fails with exactly one of these
// (possibly wrapped) and leaves the replica unchanged.
var (
	ErrInvalidSignature           = types.ErrInvalidSignature
	ErrMalformedProof             = merkle.ErrMalformedProof
	ErrMalformedMessage           = types.ErrMessageTooShort
	ErrProtocolInvariantViolation = types.ErrProtocolInvariantViolation

	ErrUnauthorizedSigner  = errors.New("update not signed by the updater")
	ErrDomainMismatch      = errors.New("update origin is not the remote domain")
	ErrNonContiguousUpdate = errors.New("update does not extend the current or pending root")
	ErrNoPendingUpdate     = errors.New("no pending update")
	ErrNotYetConfirmable   = errors.New("pending update not yet confirmable")
	ErrProofMismatch       = errors.New("proof does not match an acceptable root")
	ErrAlreadyProcessed    = errors.New("message already processed")
	ErrWrongDestination    = errors.New("message not destined for this domain")
	ErrNotEquivocation     = errors.New("updates are not conflicting")
	ErrReplicaHalted       = errors.New("replica halted after double update")
	ErrNotProven           = errors.New("message not proven")
	ErrHandlerFailed       = errors.New("message handler failed")
)

var (
	errAlreadyInitialized = errors.New("replica already initialized")
	errConfigMismatch     = errors.New("replica config does not match the stored genesis")
)

// HandlerError reports a failure of the downstream handler. The message has
// been marked processed regardless.
type HandlerError struct {
	ID  common.Hash
	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler failed for message %s: %v", e.ID.Hex(), e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

func (e *HandlerError) Is(target error) bool { return target == ErrHandlerFailed }

// CommunicationError is a failure of the submission or query layer. It says
// nothing about whether the replica accepted or rejected the operation.
type CommunicationError struct {
	Op  string
	Err error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("communication error during %s: %v", e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a communication failure worth retrying.
func IsTransient(err error) bool {
	var ce *CommunicationError
	if !errors.As(err, &ce) {
		return false
	}
	return !errors.Is(ce.Err, context.Canceled)
}

// Error codes used when rejections travel over JSON-RPC.
const (
	CodeInvalidSignature = 3001 + iota
	CodeMalformedProof
	CodeUnauthorizedSigner
	CodeDomainMismatch
	CodeNonContiguousUpdate
	CodeNoPendingUpdate
	CodeNotYetConfirmable
	CodeProofMismatch
	CodeAlreadyProcessed
	CodeWrongDestination
	CodeNotEquivocation
	CodeReplicaHalted
	CodeNotProven
	CodeHandlerFailed
	CodeMalformedMessage
	CodeProtocolInvariant
)

var codeTable = []struct {
	code int
	err  error
}{
	{CodeReplicaHalted, ErrReplicaHalted},
	{CodeInvalidSignature, ErrInvalidSignature},
	{CodeMalformedProof, ErrMalformedProof},
	{CodeUnauthorizedSigner, ErrUnauthorizedSigner},
	{CodeDomainMismatch, ErrDomainMismatch},
	{CodeNonContiguousUpdate, ErrNonContiguousUpdate},
	{CodeNoPendingUpdate, ErrNoPendingUpdate},
	{CodeNotYetConfirmable, ErrNotYetConfirmable},
	{CodeProofMismatch, ErrProofMismatch},
	{CodeAlreadyProcessed, ErrAlreadyProcessed},
	{CodeWrongDestination, ErrWrongDestination},
	{CodeNotEquivocation, ErrNotEquivocation},
	{CodeNotProven, ErrNotProven},
	{CodeHandlerFailed, ErrHandlerFailed},
	{CodeMalformedMessage, ErrMalformedMessage},
	{CodeProtocolInvariant, ErrProtocolInvariantViolation},
}

// ErrorCode maps a protocol rejection to its wire code. It returns 0 for
// errors outside the taxonomy.
func ErrorCode(err error) int {
	for _, entry := range codeTable {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return 0
}

// ErrorFromCode returns the sentinel for a wire code, nil if unknown.
func ErrorFromCode(code int) error {
	for _, entry := range codeTable {
		if entry.code == code {
			return entry.err
		}
	}
	return nil
}

// ErrorName returns a short stable name for a protocol rejection.
func ErrorName(err error) string {
	switch ErrorCode(err) {
	case CodeInvalidSignature:
		return "InvalidSignature"
	case CodeMalformedProof:
		return "MalformedProof"
	case CodeUnauthorizedSigner:
		return "UnauthorizedSigner"
	case CodeDomainMismatch:
		return "DomainMismatch"
	case CodeNonContiguousUpdate:
		return "NonContiguousUpdate"
	case CodeNoPendingUpdate:
		return "NoPendingUpdate"
	case CodeNotYetConfirmable:
		return "NotYetConfirmable"
	case CodeProofMismatch:
		return "ProofMismatch"
	case CodeAlreadyProcessed:
		return "AlreadyProcessed"
	case CodeWrongDestination:
		return "WrongDestination"
	case CodeNotEquivocation:
		return "NotEquivocation"
	case CodeReplicaHalted:
		return "ReplicaHalted"
	case CodeNotProven:
		return "NotProven"
	case CodeHandlerFailed:
		return "HandlerFailed"
	case CodeMalformedMessage:
		return "MalformedMessage"
	case CodeProtocolInvariant:
		return "ProtocolInvariantViolation"
	}
	return ""
}
