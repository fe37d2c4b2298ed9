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
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/xrelay/replica/core/types"
)

// ReplicaConfig holds the genesis parameters a replica was created with.
type ReplicaConfig struct {
	Domain            uint32
	RemoteDomain      uint32
	Updater           common.Address
	InitialRoot       common.Hash
	OptimisticSeconds uint64
}

// ReplicaState is the durable commitment store.
type ReplicaState struct {
	Current          common.Hash
	Previous         common.Hash
	PendingRoot      common.Hash
	PendingConfirmAt uint64 // 0 if nothing is pending
	Phase            uint8
}

// HasPending reports whether the state carries a queued update.
func (s *ReplicaState) HasPending() bool {
	return s.PendingConfirmAt != 0
}

// IterReader is a reader that can also iterate.
type IterReader interface {
	ethdb.KeyValueReader
	ethdb.Iteratee
}

// ReadReplicaConfig retrieves the genesis parameters, nil if the replica has
// not been created yet.
func ReadReplicaConfig(db ethdb.KeyValueReader) *ReplicaConfig {
	data, _ := db.Get(replicaConfigKey)
	if len(data) == 0 {
		return nil
	}
	var cfg ReplicaConfig
	if err := rlp.DecodeBytes(data, &cfg); err != nil {
		log.Error("Invalid replica config RLP", "err", err)
		return nil
	}
	return &cfg
}

// WriteReplicaConfig stores the genesis parameters.
func WriteReplicaConfig(db ethdb.KeyValueWriter, cfg *ReplicaConfig) {
	blob, err := rlp.EncodeToBytes(cfg)
	if err != nil {
		log.Crit("Failed to encode replica config", "err", err)
	}
	if err := db.Put(replicaConfigKey, blob); err != nil {
		log.Crit("Failed to store replica config", "err", err)
	}
}

// ReadReplicaState retrieves the commitment store.
func ReadReplicaState(db ethdb.KeyValueReader) *ReplicaState {
	data, _ := db.Get(replicaStateKey)
	if len(data) == 0 {
		return nil
	}
	var st ReplicaState
	if err := rlp.DecodeBytes(data, &st); err != nil {
		log.Error("Invalid replica state RLP", "err", err)
		return nil
	}
	return &st
}

// WriteReplicaState stores the commitment store.
func WriteReplicaState(db ethdb.KeyValueWriter, st *ReplicaState) {
	blob, err := rlp.EncodeToBytes(st)
	if err != nil {
		log.Crit("Failed to encode replica state", "err", err)
	}
	if err := db.Put(replicaStateKey, blob); err != nil {
		log.Crit("Failed to store replica state", "err", err)
	}
}

// HasProcessedMessage reports whether the message id has been consumed.
func HasProcessedMessage(db ethdb.KeyValueReader, id common.Hash) bool {
	ok, _ := db.Has(processedKey(id))
	return ok
}

// WriteProcessedMessage marks the message id as consumed.
func WriteProcessedMessage(db ethdb.KeyValueWriter, id common.Hash) {
	if err := db.Put(processedKey(id), []byte{0x01}); err != nil {
		log.Crit("Failed to mark message processed", "id", id, "err", err)
	}
}

// ReadProvenLeaf returns the tree index a leaf was proven at.
func ReadProvenLeaf(db ethdb.KeyValueReader, leaf common.Hash) (uint32, bool) {
	data, _ := db.Get(provenKey(leaf))
	if len(data) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(data), true
}

// WriteProvenLeaf records that a leaf was proven at index.
func WriteProvenLeaf(db ethdb.KeyValueWriter, leaf common.Hash, index uint32) {
	var enc [4]byte
	binary.BigEndian.PutUint32(enc[:], index)
	if err := db.Put(provenKey(leaf), enc[:]); err != nil {
		log.Crit("Failed to store proven leaf", "leaf", leaf, "err", err)
	}
}

// ReadUpdateLogCount returns the number of accepted updates.
func ReadUpdateLogCount(db ethdb.KeyValueReader) uint64 {
	data, err := db.Get(updateLogCountKey)
	if err != nil || len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

// WriteUpdateLogEntry appends a signed update at seq, indexes it by both roots
// and advances the counter to seq+1.
func WriteUpdateLogEntry(db ethdb.KeyValueWriter, seq uint64, su *types.SignedUpdate) {
	blob, err := rlp.EncodeToBytes(su)
	if err != nil {
		log.Crit("Failed to encode signed update", "err", err)
	}
	if err := db.Put(updateLogKey(seq), blob); err != nil {
		log.Crit("Failed to store signed update", "seq", seq, "err", err)
	}
	if err := db.Put(rootIndexKey(updateByOldPrefix, su.Update.PreviousRoot, seq), nil); err != nil {
		log.Crit("Failed to index signed update", "seq", seq, "err", err)
	}
	if err := db.Put(rootIndexKey(updateByNewPrefix, su.Update.NewRoot, seq), nil); err != nil {
		log.Crit("Failed to index signed update", "seq", seq, "err", err)
	}
	if err := db.Put(updateLogCountKey, encodeSeq(seq+1)); err != nil {
		log.Crit("Failed to store update count", "seq", seq, "err", err)
	}
}

// ReadUpdateLogEntry retrieves the signed update at seq.
func ReadUpdateLogEntry(db ethdb.KeyValueReader, seq uint64) *types.SignedUpdate {
	data, _ := db.Get(updateLogKey(seq))
	if len(data) == 0 {
		return nil
	}
	su := new(types.SignedUpdate)
	if err := rlp.DecodeBytes(data, su); err != nil {
		log.Error("Invalid signed update RLP", "seq", seq, "err", err)
		return nil
	}
	return su
}

// ReadUpdatesByOldRoot returns all logged updates whose previous root is root,
// in acceptance order.
func ReadUpdatesByOldRoot(db IterReader, root common.Hash) ([]*types.SignedUpdate, error) {
	return readUpdatesByRoot(db, updateByOldPrefix, root)
}

// ReadUpdatesByNewRoot returns all logged updates whose new root is root, in
// acceptance order.
func ReadUpdatesByNewRoot(db IterReader, root common.Hash) ([]*types.SignedUpdate, error) {
	return readUpdatesByRoot(db, updateByNewPrefix, root)
}

func readUpdatesByRoot(db IterReader, prefix []byte, root common.Hash) ([]*types.SignedUpdate, error) {
	scan := append(append([]byte{}, prefix...), root.Bytes()...)
	it := db.NewIterator(scan, nil)
	defer it.Release()

	var result []*types.SignedUpdate
	for it.Next() {
		key := it.Key()
		if len(key) != len(scan)+8 {
			continue
		}
		seq := binary.BigEndian.Uint64(key[len(scan):])
		su := ReadUpdateLogEntry(db, seq)
		if su == nil {
			return nil, fmt.Errorf("update index %x points at missing entry %d", root, seq)
		}
		result = append(result, su)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("iterate updates by root %x: %w", root, err)
	}
	return result, nil
}
