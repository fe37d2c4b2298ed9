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

package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/xrelay/replica/core/replica"
	"github.com/xrelay/replica/core/types"
)

// RPCOutcome is the JSON receipt of a submitted call.
type RPCOutcome struct {
	TxHash   common.Hash    `json:"transactionHash"`
	Block    hexutil.Uint64 `json:"blockNumber"`
	Executed bool           `json:"executed"`
	Error    string         `json:"error,omitempty"`
}

// ToRPCOutcome converts an outcome for the wire.
func ToRPCOutcome(out *types.Outcome) *RPCOutcome {
	if out == nil {
		return nil
	}
	return &RPCOutcome{
		TxHash:   out.TxHash,
		Block:    hexutil.Uint64(out.Block),
		Executed: out.Executed,
		Error:    out.Error,
	}
}

// Outcome converts back from the wire.
func (o *RPCOutcome) Outcome() *types.Outcome {
	if o == nil {
		return nil
	}
	return &types.Outcome{TxHash: o.TxHash, Block: uint64(o.Block), Executed: o.Executed, Error: o.Error}
}

// RPCPending is the pending update as reported by replica_nextPending. A zero
// confirmAt means nothing is pending.
type RPCPending struct {
	Root      common.Hash  `json:"root"`
	ConfirmAt *uint256.Int `json:"confirmAt"`
}

// RPCUpdateFilter narrows replica_filterUpdates.
type RPCUpdateFilter struct {
	OldRoot *common.Hash `json:"oldRoot,omitempty"`
	NewRoot *common.Hash `json:"newRoot,omitempty"`
}

// ErrorData is attached to every protocol rejection.
type ErrorData struct {
	Name   string          `json:"name"`
	TxHash *common.Hash    `json:"txHash,omitempty"`
	Block  *hexutil.Uint64 `json:"blockNumber,omitempty"`
}

// apiError carries a protocol rejection over JSON-RPC.
type apiError struct {
	code int
	msg  string
	data ErrorData
}

func (e *apiError) Error() string          { return e.msg }
func (e *apiError) ErrorCode() int         { return e.code }
func (e *apiError) ErrorData() interface{} { return e.data }

// toAPIError converts replica rejections to coded errors. Other errors are
// returned unchanged.
func toAPIError(err error, out *types.Outcome) error {
	code := replica.ErrorCode(err)
	if code == 0 {
		return err
	}
	e := &apiError{code: code, msg: err.Error(), data: ErrorData{Name: replica.ErrorName(err)}}
	if out != nil {
		hash, block := out.TxHash, hexutil.Uint64(out.Block)
		e.data.TxHash, e.data.Block = &hash, &block
	}
	return e
}
