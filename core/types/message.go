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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// messageHeaderLength is origin(4) + sender(32) + nonce(4) + destination(4) + recipient(32).
const messageHeaderLength = 4 + common.HashLength + 4 + 4 + common.HashLength

// ErrMessageTooShort is returned when decoding a message shorter than its header.
var ErrMessageTooShort = errors.New("stamped message too short")

// StampedMessage is a single cross-chain message, a leaf of the remote tree.
type StampedMessage struct {
	Origin      uint32
	Sender      common.Hash
	Nonce       uint32
	Destination uint32
	Recipient   common.Hash
	Body        []byte
}

// Encode returns the packed canonical encoding of the message.
func (m *StampedMessage) Encode() []byte {
	buf := make([]byte, messageHeaderLength+len(m.Body))
	binary.BigEndian.PutUint32(buf[0:4], m.Origin)
	copy(buf[4:36], m.Sender[:])
	binary.BigEndian.PutUint32(buf[36:40], m.Nonce)
	binary.BigEndian.PutUint32(buf[40:44], m.Destination)
	copy(buf[44:76], m.Recipient[:])
	copy(buf[76:], m.Body)
	return buf
}

// DecodeStampedMessage parses the packed encoding produced by Encode.
func DecodeStampedMessage(data []byte) (*StampedMessage, error) {
	if len(data) < messageHeaderLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooShort, len(data))
	}
	body := make([]byte, len(data)-messageHeaderLength)
	copy(body, data[messageHeaderLength:])
	return &StampedMessage{
		Origin:      binary.BigEndian.Uint32(data[0:4]),
		Sender:      common.BytesToHash(data[4:36]),
		Nonce:       binary.BigEndian.Uint32(data[36:40]),
		Destination: binary.BigEndian.Uint32(data[40:44]),
		Recipient:   common.BytesToHash(data[44:76]),
		Body:        body,
	}, nil
}

// Leaf returns the tree leaf of the message, the keccak256 of its encoding.
func (m *StampedMessage) Leaf() common.Hash {
	return crypto.Keccak256Hash(m.Encode())
}

func (m *StampedMessage) String() string {
	return fmt.Sprintf("StampedMessage{origin=%d nonce=%d destination=%d recipient=%s body=%d bytes}",
		m.Origin, m.Nonce, m.Destination, m.Recipient.TerminalString(), len(m.Body))
}

// MessageID derives the replay-protection key of a message from its leaf and
// its position in the tree. Identical payloads at different positions get
// distinct ids.
func MessageID(leaf common.Hash, index uint32) common.Hash {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], index)
	return crypto.Keccak256Hash(leaf.Bytes(), buf[:])
}
