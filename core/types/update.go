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

// Package types contains the data structures exchanged between the remote
// authority, the replica and the relaying agents.
package types

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// domainTag is appended to the big-endian domain before hashing so that
// signatures made for one domain can never be replayed against another.
const domainTag = "XRELAY"

// ErrInvalidSignature is returned when a signature is malformed or no public
// key can be recovered from it.
var ErrInvalidSignature = errors.New("invalid signature")

// Update is a claimed transition of the remote message tree root.
type Update struct {
	OriginDomain uint32      `json:"originDomain"`
	PreviousRoot common.Hash `json:"previousRoot"`
	NewRoot      common.Hash `json:"newRoot"`
}

// SignedUpdate is an Update together with the authority's signature over its
// canonical encoding.
type SignedUpdate struct {
	Update    Update        `json:"update"`
	Signature hexutil.Bytes `json:"signature"`
}

// DoubleUpdate is an unordered pair of signed updates. It is evidence of
// equivocation when both share a previous root but disagree on the new one.
type DoubleUpdate [2]SignedUpdate

// DomainHash returns the hash that binds a domain into update signatures.
func DomainHash(domain uint32) common.Hash {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], domain)
	return crypto.Keccak256Hash(buf[:], []byte(domainTag))
}

// SigningHash returns the canonical hash of the update:
// keccak256(domainHash(origin) || previous || new).
func (u *Update) SigningHash() common.Hash {
	return crypto.Keccak256Hash(DomainHash(u.OriginDomain).Bytes(), u.PreviousRoot.Bytes(), u.NewRoot.Bytes())
}

// digest is the personal-message hash actually covered by the signature.
func (u *Update) digest() []byte {
	return accounts.TextHash(u.SigningHash().Bytes())
}

func (u *Update) String() string {
	return fmt.Sprintf("Update{domain=%d prev=%s new=%s}", u.OriginDomain, u.PreviousRoot.TerminalString(), u.NewRoot.TerminalString())
}

// SignUpdate signs the update with the given key. The returned signature uses
// the 27/28 recovery id convention.
func SignUpdate(u Update, prv *ecdsa.PrivateKey) (*SignedUpdate, error) {
	sig, err := crypto.Sign(u.digest(), prv)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return &SignedUpdate{Update: u, Signature: sig}, nil
}

// RecoverSigner recovers the address that produced sig over the update.
func RecoverSigner(u *Update, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d, want %d", ErrInvalidSignature, len(sig), crypto.SignatureLength)
	}
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if v := normalized[crypto.RecoveryIDOffset]; v >= 27 {
		normalized[crypto.RecoveryIDOffset] = v - 27
	}
	if normalized[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, sig[crypto.RecoveryIDOffset])
	}
	pub, err := crypto.SigToPub(u.digest(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Recover returns the signer of the update.
func (su *SignedUpdate) Recover() (common.Address, error) {
	return RecoverSigner(&su.Update, su.Signature)
}

// Verify reports whether the update was signed by signer.
func (su *SignedUpdate) Verify(signer common.Address) error {
	addr, err := su.Recover()
	if err != nil {
		return err
	}
	if addr != signer {
		return fmt.Errorf("%w: recovered %s, expected %s", ErrInvalidSignature, addr, signer)
	}
	return nil
}

// IsConflicting reports whether the two updates share a previous root and an
// origin but commit to different new roots. Signatures are not checked.
func (d *DoubleUpdate) IsConflicting() bool {
	a, b := d[0].Update, d[1].Update
	return a.OriginDomain == b.OriginDomain && a.PreviousRoot == b.PreviousRoot && a.NewRoot != b.NewRoot
}
