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
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xrelay/replica/core/types"
)

// ErrNoRecipient is returned by a Router without a route or fallback for the
// message recipient.
var ErrNoRecipient = errors.New("no handler for recipient")

// MessageHandler receives messages admitted by the replica.
type MessageHandler interface {
	HandleMessage(msg *types.StampedMessage) error
}

// HandlerFunc adapts a function to MessageHandler.
type HandlerFunc func(msg *types.StampedMessage) error

// HandleMessage implements MessageHandler.
func (f HandlerFunc) HandleMessage(msg *types.StampedMessage) error { return f(msg) }

// Router dispatches messages by recipient.
type Router struct {
	mu       sync.RWMutex
	routes   map[common.Hash]MessageHandler
	fallback MessageHandler
}

// NewRouter creates a router. fallback may be nil.
func NewRouter(fallback MessageHandler) *Router {
	return &Router{routes: make(map[common.Hash]MessageHandler), fallback: fallback}
}

// Register routes messages for recipient to h, replacing any previous route.
func (r *Router) Register(recipient common.Hash, h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[recipient] = h
}

// Unregister removes the route for recipient.
func (r *Router) Unregister(recipient common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, recipient)
}

// HandleMessage implements MessageHandler.
func (r *Router) HandleMessage(msg *types.StampedMessage) error {
	r.mu.RLock()
	h, ok := r.routes[msg.Recipient]
	if !ok {
		h = r.fallback
	}
	r.mu.RUnlock()

	if h == nil {
		return ErrNoRecipient
	}
	return h.HandleMessage(msg)
}
