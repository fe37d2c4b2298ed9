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

import "github.com/ethereum/go-ethereum/metrics"

var (
	updateAcceptedTotal = metrics.NewRegisteredCounter("replica/update/accepted", nil)
	updateRejectedTotal = metrics.NewRegisteredCounter("replica/update/rejected", nil)
	confirmTotal        = metrics.NewRegisteredCounter("replica/confirm/total", nil)
	pendingGauge        = metrics.NewRegisteredGauge("replica/pending/confirmat", nil)

	processTotal         = metrics.NewRegisteredCounter("replica/process/total", nil)
	processRejectedTotal = metrics.NewRegisteredCounter("replica/process/rejected", nil)
	processHandlerErrors = metrics.NewRegisteredCounter("replica/process/handler/errors", nil)
	processLatency       = metrics.NewRegisteredTimer("replica/process/latency", nil)
	provenTotal          = metrics.NewRegisteredCounter("replica/prove/total", nil)

	doubleUpdateTotal = metrics.NewRegisteredCounter("replica/doubleupdate/total", nil)
	phaseGauge        = metrics.NewRegisteredGauge("replica/phase", nil)
)
