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

package agent

import (
	"context"
	"errors"
)

// ErrQueueFull is returned when the message queue has no room left.
var ErrQueueFull = errors.New("message queue is full")

// Queue is a bounded in-memory MessageSource.
type Queue struct {
	ch chan *Message
}

// NewQueue creates a queue holding up to size messages.
func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan *Message, size)}
}

// Enqueue adds m without blocking.
func (q *Queue) Enqueue(m *Message) error {
	select {
	case q.ch <- m:
		queueDepthGauge.Update(int64(len(q.ch)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Next implements MessageSource.
func (q *Queue) Next(ctx context.Context) (*Message, error) {
	select {
	case m := <-q.ch:
		queueDepthGauge.Update(int64(len(q.ch)))
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	return len(q.ch)
}
