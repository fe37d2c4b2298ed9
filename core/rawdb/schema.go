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

// Package rawdb contains a collection of low level database accessors for the
// replica and its submission ledger.
package rawdb

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// The fields below define the low level database schema prefixing.
var (
	// replicaConfigKey tracks the immutable genesis parameters of the replica.
	replicaConfigKey = []byte("ReplicaConfig")

	// replicaStateKey tracks the mutable commitment store.
	replicaStateKey = []byte("ReplicaState")

	// updateLogCountKey tracks the number of accepted updates.
	updateLogCountKey = []byte("ReplicaUpdateCount")

	// ledgerHeadKey tracks the ledger's nonce and block counter.
	ledgerHeadKey = []byte("LedgerHead")

	processedPrefix     = []byte("rp") // processedPrefix + message id -> flag
	provenPrefix        = []byte("rv") // provenPrefix + leaf -> index
	updateLogPrefix     = []byte("ru") // updateLogPrefix + seq (uint64 big endian) -> signed update
	updateByOldPrefix   = []byte("ro") // updateByOldPrefix + previous root + seq -> empty
	updateByNewPrefix   = []byte("rn") // updateByNewPrefix + new root + seq -> empty
	ledgerOutcomePrefix = []byte("lr") // ledgerOutcomePrefix + tx hash -> outcome
)

// encodeSeq encodes a sequence number as big endian uint64.
func encodeSeq(seq uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, seq)
	return enc
}

// processedKey = processedPrefix + id
func processedKey(id common.Hash) []byte {
	return append(append([]byte{}, processedPrefix...), id.Bytes()...)
}

// provenKey = provenPrefix + leaf
func provenKey(leaf common.Hash) []byte {
	return append(append([]byte{}, provenPrefix...), leaf.Bytes()...)
}

// updateLogKey = updateLogPrefix + seq
func updateLogKey(seq uint64) []byte {
	return append(append([]byte{}, updateLogPrefix...), encodeSeq(seq)...)
}

// rootIndexKey = prefix + root + seq
func rootIndexKey(prefix []byte, root common.Hash, seq uint64) []byte {
	key := make([]byte, 0, len(prefix)+common.HashLength+8)
	key = append(key, prefix...)
	key = append(key, root.Bytes()...)
	return append(key, encodeSeq(seq)...)
}

// ledgerOutcomeKey = ledgerOutcomePrefix + tx hash
func ledgerOutcomeKey(txHash common.Hash) []byte {
	return append(append([]byte{}, ledgerOutcomePrefix...), txHash.Bytes()...)
}
