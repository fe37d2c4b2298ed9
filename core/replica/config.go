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
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xrelay/replica/core/rawdb"
)

// DefaultOptimisticSeconds is the default delay between accepting an update
// and being allowed to confirm it.
const DefaultOptimisticSeconds = 1800

// Config holds the genesis parameters of a replica. They are persisted on
// creation and must match on every reopen.
type Config struct {
	Domain            uint32         // Local domain, the destination of processed messages
	RemoteDomain      uint32         // Domain whose message tree is mirrored
	Updater           common.Address // Authority allowed to sign updates
	InitialRoot       common.Hash    // Committed root at creation
	OptimisticSeconds uint64         // Delay before a pending update can be confirmed

	Clock Clock `toml:"-"` // Wall clock, system time if nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Updater == (common.Address{}) {
		return fmt.Errorf("updater address is required")
	}
	if c.Domain == c.RemoteDomain {
		return fmt.Errorf("local and remote domain must differ, both are %d", c.Domain)
	}
	if c.OptimisticSeconds > math.MaxInt64 {
		return fmt.Errorf("optimistic seconds %d exceeds %d", c.OptimisticSeconds, int64(math.MaxInt64))
	}
	return nil
}

// OptimisticDelay returns the configured delay as a duration.
func (c *Config) OptimisticDelay() time.Duration {
	return time.Duration(c.OptimisticSeconds) * time.Second
}

func (c *Config) genesis() *rawdb.ReplicaConfig {
	return &rawdb.ReplicaConfig{
		Domain:            c.Domain,
		RemoteDomain:      c.RemoteDomain,
		Updater:           c.Updater,
		InitialRoot:       c.InitialRoot,
		OptimisticSeconds: c.OptimisticSeconds,
	}
}

func (c *Config) clock() Clock {
	if c.Clock == nil {
		return SystemClock{}
	}
	return c.Clock
}

// Clock reports wall-clock time. Confirmation deadlines are persisted, so a
// monotonic clock cannot be used.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }
