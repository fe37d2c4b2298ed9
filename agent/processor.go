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
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/xrelay/replica/core/replica"
	"golang.org/x/time/rate"
)

// maxDeferred bounds the messages waiting for their root to be confirmed.
const maxDeferred = 1024

// Processor drains a MessageSource into ProveAndProcess. Messages whose root
// is not yet acceptable are retried every retryInterval.
type Processor struct {
	replica       Replica
	source        MessageSource
	limiter       *rate.Limiter
	retryInterval time.Duration
	phase         *PhaseTracker
	logger        log.Logger

	deferred  []*Message
	lastRetry time.Time
}

// NewProcessor creates a processor submitting at most limit messages per
// second. A zero limit disables rate limiting.
func NewProcessor(r Replica, source MessageSource, limit rate.Limit, burst int, retryInterval time.Duration, phase *PhaseTracker) *Processor {
	if limit == 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Processor{
		replica:       r,
		source:        source,
		limiter:       rate.NewLimiter(limit, burst),
		retryInterval: retryInterval,
		phase:         phase,
		logger:        log.New("agent", "processor"),
	}
}

// Run processes until ctx is done or the replica halts.
func (p *Processor) Run(ctx context.Context) error {
	return run(ctx, p.logger, 0, p.phase, p.step)
}

// Deferred returns the number of messages waiting for a retry.
func (p *Processor) Deferred() int {
	return len(p.deferred)
}

func (p *Processor) step(ctx context.Context) error {
	if err := p.retry(ctx); err != nil {
		return err
	}
	wait := p.retryInterval
	if wait <= 0 {
		wait = time.Second
	}
	nctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	msg, err := p.source.Next(nctx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
	return p.process(ctx, msg)
}

// retry resubmits deferred messages once retryInterval has passed.
func (p *Processor) retry(ctx context.Context) error {
	if len(p.deferred) == 0 || time.Since(p.lastRetry) < p.retryInterval {
		return nil
	}
	p.lastRetry = time.Now()
	pending := p.deferred
	p.deferred = nil
	for i, msg := range pending {
		if err := p.process(ctx, msg); err != nil {
			p.deferred = append(p.deferred, pending[i+1:]...)
			processDeferred.Update(int64(len(p.deferred)))
			return err
		}
	}
	return nil
}

func (p *Processor) process(ctx context.Context, msg *Message) error {
	id := msg.ID()
	done, err := p.replica.IsProcessed(ctx, id)
	if err != nil {
		p.postpone(msg)
		return err
	}
	if done {
		processSkipped.Inc(1)
		p.logger.Debug("Message already processed", "id", id)
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		p.postpone(msg)
		return err
	}
	start := time.Now()
	out, err := p.replica.ProveAndProcess(ctx, msg.Message, &msg.Proof, msg.Index)
	processLatency.UpdateSince(start)

	switch {
	case err == nil:
		processed.Inc(1)
		p.logger.Info("Processed message", "id", id, "index", msg.Index, "tx", out.TxHash)
		return nil

	case errors.Is(err, replica.ErrAlreadyProcessed):
		processSkipped.Inc(1)
		return nil

	case errors.Is(err, replica.ErrHandlerFailed):
		// Consumed regardless of the handler outcome.
		processHandlerErr.Inc(1)
		p.logger.Warn("Message handler failed", "id", id, "err", err)
		return nil

	case errors.Is(err, replica.ErrProofMismatch):
		p.logger.Debug("Message root not yet acceptable, deferring", "id", id)
		p.postpone(msg)
		return nil

	case errors.Is(err, replica.ErrWrongDestination),
		errors.Is(err, replica.ErrMalformedMessage),
		errors.Is(err, replica.ErrMalformedProof):
		processDropped.Inc(1)
		p.logger.Warn("Dropping unprocessable message", "id", id, "err", err)
		return nil

	case replica.IsTransient(err):
		p.postpone(msg)
		return err
	}
	p.logger.Warn("Message submission failed, deferring", "id", id, "err", err)
	p.postpone(msg)
	return err
}

func (p *Processor) postpone(msg *Message) {
	if len(p.deferred) >= maxDeferred {
		dropped := p.deferred[0]
		p.deferred = p.deferred[1:]
		processDropped.Inc(1)
		p.logger.Warn("Deferred queue full, dropping oldest message", "id", dropped.ID())
	}
	p.deferred = append(p.deferred, msg)
	processDeferred.Update(int64(len(p.deferred)))
}
