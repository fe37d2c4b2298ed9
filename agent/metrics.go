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

import "github.com/ethereum/go-ethereum/metrics"

var (
	agentErrors       = metrics.NewRegisteredCounter("agent/errors", nil)
	agentBackoffGauge = metrics.NewRegisteredGauge("agent/backoff_ms", nil)

	relayUpdates   = metrics.NewRegisteredCounter("agent/relayer/updates", nil)
	relayConfirms  = metrics.NewRegisteredCounter("agent/relayer/confirms", nil)
	relayLagGauge  = metrics.NewRegisteredGauge("agent/relayer/lag", nil)
	watcherReports = metrics.NewRegisteredCounter("agent/watcher/double_updates", nil)
	watcherChecks  = metrics.NewRegisteredCounter("agent/watcher/checks", nil)

	processed         = metrics.NewRegisteredCounter("agent/processor/processed", nil)
	processSkipped    = metrics.NewRegisteredCounter("agent/processor/skipped", nil)
	processDropped    = metrics.NewRegisteredCounter("agent/processor/dropped", nil)
	processHandlerErr = metrics.NewRegisteredCounter("agent/processor/handler_failed", nil)
	processDeferred   = metrics.NewRegisteredGauge("agent/processor/deferred", nil)
	processLatency    = metrics.NewRegisteredTimer("agent/processor/latency", nil)
	queueDepthGauge   = metrics.NewRegisteredGauge("agent/queue/depth", nil)
)
