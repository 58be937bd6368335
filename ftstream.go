// Copyright 2025 the ftstream Authors.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ftstream drives continuous bulk streaming against an FTDI-style
// FIFO endpoint. It keeps a fixed pool of asynchronous transfers in flight,
// strips the per-packet modem-status header from completed buffers, hands
// the payload to a user callback and periodically reports throughput.
//
// The device itself (discovery, bitmode registers, URB plumbing) is behind
// the Device interface; package ftdidev provides a Linux implementation.
package ftstream

import (
	"log/slog"
	"time"
)

// Direction selects which endpoint of the FIFO interface the session
// streams against.
type Direction int

const (
	// DirectionIn reads from the device to the host.
	DirectionIn Direction = iota
	// DirectionOut writes host data to the device.
	DirectionOut
)

// String returns a human-readable representation of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	default:
		return "unknown"
	}
}

// Default sizing, matching the saturation point of an FT2232H running
// synchronous FIFO mode on a high-speed bus.
const (
	// DefaultPacketsPerTransfer is the number of max-size packets carried
	// by a single transfer buffer.
	DefaultPacketsPerTransfer = 8
	// DefaultNumTransfers is the number of transfers kept in flight.
	DefaultNumTransfers = 256
	// DefaultProgressInterval is how often the progress callback fires.
	DefaultProgressInterval = time.Second
)

// Config parametrizes a streaming session. The zero value is usable; zero
// fields are replaced with the defaults above.
type Config struct {
	// Direction of the session. The zero value is DirectionIn.
	Direction Direction

	// PacketsPerTransfer scales each transfer buffer to hold this many
	// max-size packets.
	PacketsPerTransfer int

	// NumTransfers is the number of transfer slots kept in flight.
	NumTransfers int

	// ProgressInterval is the wall-clock interval between progress
	// callbacks.
	ProgressInterval time.Duration

	// Logger receives session lifecycle and error records. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// now overrides the clock in tests.
	now func() time.Time
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.PacketsPerTransfer <= 0 {
		cfg.PacketsPerTransfer = DefaultPacketsPerTransfer
	}
	if cfg.NumTransfers <= 0 {
		cfg.NumTransfers = DefaultNumTransfers
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return cfg
}
