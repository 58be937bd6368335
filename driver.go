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

package ftstream

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Callback receives the stream. It is invoked either with a non-empty
// payload slice and nil progress, or with a nil payload and a progress
// snapshot, never both. The payload slice is only valid for the duration
// of the call; the engine reuses the underlying buffer.
//
// For out sessions the callback is invoked with the writable transfer
// buffer to fill before each submission.
//
// Returning a non-nil error terminates the session. io.EOF requests a
// graceful stop and is not reported as a session failure; any other error
// is returned from Stream.
type Callback func(payload []byte, progress *Progress) error

// errStopRequested marks a session terminated on purpose (callback stop or
// context cancellation). It never escapes Stream.
var errStopRequested = errors.New("stop requested")

// session is the mutable state of one streaming run. It is owned by the
// goroutine that called Stream; completion handlers run on that same
// goroutine, inside HandleEvents, so nothing here is locked.
type session struct {
	ctx        context.Context
	dev        Device
	cfg        Config
	fn         Callback
	packetSize int
	meter      *meter
	pool       *pool

	// activity counts completions since the last loop tick. It starts at
	// 1 so the tick spent waiting for the first completions after mode
	// switch is not mistaken for a stall.
	activity int
	// result is the sticky terminal status; the loop exits once set.
	result error
}

// fail records a terminal error. The first one wins.
func (s *session) fail(err error) {
	if s.result == nil {
		s.result = err
	}
}

// stop records a termination requested by the callback.
func (s *session) stop(err error) {
	if errors.Is(err, io.EOF) {
		err = errStopRequested
	}
	s.fail(err)
}

// stopping reports whether completions should retire their slots instead
// of resubmitting.
func (s *session) stopping() bool {
	if s.result != nil {
		return true
	}
	if s.ctx.Err() != nil {
		s.fail(errStopRequested)
		return true
	}
	return false
}

// Stream runs one streaming session against dev, delivering payload and
// periodic progress to fn until fn asks to stop, ctx is cancelled, the
// pipeline stalls or an I/O error occurs. It returns the closing progress
// snapshot and, for the non-graceful endings, the terminal error.
//
// Stream blocks for the whole session and must not be called concurrently
// for the same device.
func Stream(ctx context.Context, dev Device, cfg Config, fn Callback) (*Progress, error) {
	cfg = cfg.withDefaults()

	// Only the FT2232H and FT232H know synchronous FIFO mode.
	if !dev.SyncFIFOSupported() {
		return nil, ErrUnsupportedDevice
	}
	packetSize, err := validatePacketSize(dev)
	if err != nil {
		return nil, err
	}

	// The device may be in any mode. Force a known reset state and purge
	// whatever stale data the FIFOs still hold.
	if err := dev.ResetBitmode(); err != nil {
		return nil, fmt.Errorf("%w: reset: %v", ErrModeSwitch, err)
	}
	if err := dev.PurgeBuffers(); err != nil {
		return nil, fmt.Errorf("can't purge FIFOs and buffers: %w", err)
	}

	s := &session{
		ctx:        ctx,
		dev:        dev,
		cfg:        cfg,
		fn:         fn,
		packetSize: packetSize,
		activity:   1,
	}
	s.meter = newMeter(cfg.ProgressInterval, cfg.now())
	s.pool = newPool(s, cfg.NumTransfers, cfg.PacketsPerTransfer*packetSize)
	if err := s.pool.submitAll(); err != nil {
		return nil, err
	}

	// Switch the producer on only now, with every transfer queued. Doing
	// it earlier makes the host miss data for tens of milliseconds while
	// the queue fills, and blocks get skipped.
	if err := dev.StartSyncFIFO(); err != nil {
		return nil, fmt.Errorf("%w: synchronous FIFO: %v", ErrModeSwitch, err)
	}

	cfg.Logger.Info("streaming started",
		"direction", cfg.Direction.String(),
		"transfers", cfg.NumTransfers,
		"buffer_size", cfg.PacketsPerTransfer*packetSize)

	s.run()
	s.drain()

	final := s.meter.final(cfg.now())
	if errors.Is(s.result, errStopRequested) {
		return &final, nil
	}
	return &final, s.result
}

// run is the Running state: service events, detect stalls, sample
// progress, until a terminal condition is recorded.
func (s *session) run() {
	timeout := s.dev.ReadTimeout()
	for s.result == nil {
		err := s.dev.HandleEvents(timeout)
		if errors.Is(err, ErrInterrupted) {
			// A signal cut the wait short; restart it once.
			err = s.dev.HandleEvents(timeout)
		}
		if err != nil && !errors.Is(err, ErrInterrupted) {
			s.fail(err)
		}

		if s.activity == 0 {
			s.fail(ErrStall)
		} else {
			s.activity = 0
		}

		if s.stopping() {
			return
		}

		if p, ok := s.meter.sample(s.cfg.now()); ok {
			if err := s.fn(nil, &p); err != nil {
				s.stop(err)
			}
		}
	}
}

// drain is the Draining state: outstanding transfers retire naturally, one
// completion cycle each; completion handlers see the terminal result and
// release their slots instead of resubmitting. Forced cancellation of
// in-flight transfers is not supported by the device layer.
func (s *session) drain() {
	timeout := s.dev.ReadTimeout()
	for s.pool.inFlight > 0 {
		before := s.pool.inFlight
		err := s.dev.HandleEvents(timeout)
		if errors.Is(err, ErrInterrupted) {
			continue
		}
		if err != nil {
			s.cfg.Logger.Warn("drain aborted", "error", err, "outstanding", s.pool.inFlight)
			return
		}
		if s.pool.inFlight == before {
			// Nothing is retiring anymore; a dead pipeline stays dead.
			s.cfg.Logger.Warn("drain gave up", "outstanding", s.pool.inFlight)
			return
		}
	}
}
