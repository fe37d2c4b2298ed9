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
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// AgentPhase is the operational phase of the agents serving one replica.
type AgentPhase string

const (
	PhaseInitializing AgentPhase = "initializing"
	PhaseSyncing      AgentPhase = "syncing"
	PhaseSynced       AgentPhase = "synced"
	PhaseHalted       AgentPhase = "halted"
)

// PhaseTracker manages phase transitions.
type PhaseTracker struct {
	mu          sync.Mutex
	current     AgentPhase
	syncedSince time.Time
}

// NewPhaseTracker creates a tracker in the initializing phase.
func NewPhaseTracker() *PhaseTracker {
	return &PhaseTracker{current: PhaseInitializing}
}

// UpdatePhase records whether the replica lags behind the home chain.
func (pt *PhaseTracker) UpdatePhase(lagging bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pt.current == PhaseHalted {
		return // halted is terminal
	}
	prev := pt.current
	if lagging {
		pt.current = PhaseSyncing
		pt.syncedSince = time.Time{}
	} else if pt.current != PhaseSynced {
		pt.current = PhaseSynced
		pt.syncedSince = time.Now()
	}
	if prev != pt.current {
		log.Info("Agent phase transition", "from", prev, "to", pt.current)
	}
}

// Halt moves the tracker to the terminal halted phase.
func (pt *PhaseTracker) Halt() {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pt.current != PhaseHalted {
		log.Warn("Agent phase transition", "from", pt.current, "to", PhaseHalted)
		pt.current = PhaseHalted
		pt.syncedSince = time.Time{}
	}
}

// Current returns the current phase.
func (pt *PhaseTracker) Current() AgentPhase {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.current
}

// SyncedSince returns when the synced phase was entered, zero if not synced.
func (pt *PhaseTracker) SyncedSince() time.Time {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.syncedSince
}
