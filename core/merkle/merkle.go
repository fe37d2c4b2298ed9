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

// Package merkle implements the fixed-depth binary keccak tree that commits to
// the outbound message history of a remote domain.
package merkle

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// TreeDepth is the number of levels between a leaf and the root.
const TreeDepth = 32

// MaxLeaves is the capacity of a tree of depth TreeDepth.
const MaxLeaves = uint64(1) << TreeDepth

var (
	// ErrMalformedProof is returned when a proof does not have exactly
	// TreeDepth siblings.
	ErrMalformedProof = errors.New("malformed merkle proof")

	ErrLeafIndexOutOfRange = errors.New("leaf index out of range")
	ErrTreeFull            = errors.New("merkle tree is full")
)

// Proof is the list of sibling hashes from a leaf up to the root.
type Proof [TreeDepth]common.Hash

// zeroHashes[i] is the root of an empty subtree of height i.
var zeroHashes [TreeDepth + 1]common.Hash

func init() {
	for i := 0; i < TreeDepth; i++ {
		zeroHashes[i+1] = hashPair(zeroHashes[i], zeroHashes[i])
	}
}

func hashPair(left, right common.Hash) common.Hash {
	return crypto.Keccak256Hash(left.Bytes(), right.Bytes())
}

// ZeroHash returns the root of an empty subtree of the given height.
func ZeroHash(height int) common.Hash {
	return zeroHashes[height]
}

// EmptyRoot is the root of a tree without leaves.
func EmptyRoot() common.Hash {
	return zeroHashes[TreeDepth]
}

// ProofFromHashes converts a sibling list into a Proof.
func ProofFromHashes(siblings []common.Hash) (*Proof, error) {
	if len(siblings) != TreeDepth {
		return nil, fmt.Errorf("%w: %d siblings, want %d", ErrMalformedProof, len(siblings), TreeDepth)
	}
	var p Proof
	copy(p[:], siblings)
	return &p, nil
}

// ProofFromBytes parses a proof packed as TreeDepth consecutive 32 byte words.
func ProofFromBytes(data []byte) (*Proof, error) {
	if len(data) != TreeDepth*common.HashLength {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrMalformedProof, len(data), TreeDepth*common.HashLength)
	}
	var p Proof
	for i := range p {
		p[i] = common.BytesToHash(data[i*common.HashLength : (i+1)*common.HashLength])
	}
	return &p, nil
}

// Bytes packs the proof as consecutive 32 byte words.
func (p *Proof) Bytes() []byte {
	out := make([]byte, 0, TreeDepth*common.HashLength)
	for _, h := range p {
		out = append(out, h.Bytes()...)
	}
	return out
}

// Hashes returns the siblings as a slice.
func (p *Proof) Hashes() []common.Hash {
	out := make([]common.Hash, TreeDepth)
	copy(out, p[:])
	return out
}

// ComputeRoot folds leaf through the proof. When bit i of index is set the
// running node is the right child at level i.
func ComputeRoot(leaf common.Hash, index uint32, proof *Proof) common.Hash {
	node := leaf
	for i := 0; i < TreeDepth; i++ {
		if (index>>uint(i))&1 == 1 {
			node = hashPair(proof[i], node)
		} else {
			node = hashPair(node, proof[i])
		}
	}
	return node
}

// Verify reports whether leaf sits at index under root.
func Verify(root, leaf common.Hash, index uint32, proof *Proof) bool {
	return ComputeRoot(leaf, index, proof) == root
}
