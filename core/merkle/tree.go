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

package merkle

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Tree is an append-only depth-32 tree. Missing leaves are zero hashes.
// Only the populated part of each level is kept in memory.
type Tree struct {
	mu     sync.RWMutex
	leaves []common.Hash
}

// NewTree creates a tree containing the given leaves in order.
func NewTree(leaves ...common.Hash) *Tree {
	t := &Tree{leaves: make([]common.Hash, 0, len(leaves))}
	t.leaves = append(t.leaves, leaves...)
	return t
}

// Append adds a leaf and returns its index.
func (t *Tree) Append(leaf common.Hash) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if uint64(len(t.leaves)) >= MaxLeaves {
		return 0, ErrTreeFull
	}
	t.leaves = append(t.leaves, leaf)
	return uint32(len(t.leaves) - 1), nil
}

// Count returns the number of leaves.
func (t *Tree) Count() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return uint64(len(t.leaves))
}

// Leaf returns the leaf at index.
func (t *Tree) Leaf(index uint32) (common.Hash, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if uint64(index) >= uint64(len(t.leaves)) {
		return common.Hash{}, fmt.Errorf("%w: %d >= %d", ErrLeafIndexOutOfRange, index, len(t.leaves))
	}
	return t.leaves[index], nil
}

// Root returns the current root.
func (t *Tree) Root() common.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()

	root, _ := t.walk(-1)
	return root
}

// Proof returns the sibling path of the leaf at index under the current root.
func (t *Tree) Proof(index uint32) (*Proof, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if uint64(index) >= uint64(len(t.leaves)) {
		return nil, fmt.Errorf("%w: %d >= %d", ErrLeafIndexOutOfRange, index, len(t.leaves))
	}
	_, proof := t.walk(int64(index))
	return proof, nil
}

// walk hashes the tree level by level. If index is non-negative it also
// collects the siblings of that leaf.
func (t *Tree) walk(index int64) (common.Hash, *Proof) {
	var proof Proof
	level := make([]common.Hash, len(t.leaves))
	copy(level, t.leaves)

	for height := 0; height < TreeDepth; height++ {
		if index >= 0 {
			sibling := index ^ 1
			if sibling < int64(len(level)) {
				proof[height] = level[sibling]
			} else {
				proof[height] = zeroHashes[height]
			}
			index >>= 1
		}
		next := make([]common.Hash, (len(level)+1)/2)
		for i := range next {
			left := level[2*i]
			right := zeroHashes[height]
			if 2*i+1 < len(level) {
				right = level[2*i+1]
			}
			next[i] = hashPair(left, right)
		}
		level = next
	}
	if len(level) == 0 {
		return zeroHashes[TreeDepth], &proof
	}
	return level[0], &proof
}
