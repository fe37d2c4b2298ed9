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

package rawdb

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/xrelay/replica/core/types"
)

// LedgerHead is the submission counter of the in-process ledger.
type LedgerHead struct {
	Nonce uint64
	Block uint64
}

// ReadLedgerHead retrieves the ledger counters, zero if never written.
func ReadLedgerHead(db ethdb.KeyValueReader) LedgerHead {
	var head LedgerHead
	data, _ := db.Get(ledgerHeadKey)
	if len(data) == 0 {
		return head
	}
	if err := rlp.DecodeBytes(data, &head); err != nil {
		log.Error("Invalid ledger head RLP", "err", err)
		return LedgerHead{}
	}
	return head
}

// ReadOutcome retrieves the receipt of a submitted call.
func ReadOutcome(db ethdb.KeyValueReader, txHash common.Hash) *types.Outcome {
	data, _ := db.Get(ledgerOutcomeKey(txHash))
	if len(data) == 0 {
		return nil
	}
	out := new(types.Outcome)
	if err := rlp.DecodeBytes(data, out); err != nil {
		log.Error("Invalid outcome RLP", "tx", txHash, "err", err)
		return nil
	}
	return out
}

// WriteOutcomeAtomic stores a receipt together with the advanced ledger head.
func WriteOutcomeAtomic(db ethdb.Batcher, out *types.Outcome, head LedgerHead) error {
	batch := db.NewBatch()

	blob, err := rlp.EncodeToBytes(out)
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}
	if err := batch.Put(ledgerOutcomeKey(out.TxHash), blob); err != nil {
		return fmt.Errorf("failed to add outcome to batch: %w", err)
	}
	headBlob, err := rlp.EncodeToBytes(&head)
	if err != nil {
		return fmt.Errorf("failed to encode ledger head: %w", err)
	}
	if err := batch.Put(ledgerHeadKey, headBlob); err != nil {
		return fmt.Errorf("failed to add ledger head to batch: %w", err)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to write ledger batch: %w", err)
	}
	return nil
}
