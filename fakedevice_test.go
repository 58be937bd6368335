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
	"encoding/binary"
	"io"
	"log/slog"
	"time"
)

// discardLogger keeps session logging out of test output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// discardCallback accepts everything and never stops the session.
func discardCallback(payload []byte, progress *Progress) error { return nil }

// fakeTransfer is one submitted-but-not-yet-retired transfer inside
// fakeDevice.
type fakeTransfer struct {
	buf  []byte
	done CompletionFunc
}

// fakeDevice implements Device for tests. Submitted transfers queue up and
// are completed in FIFO order from inside HandleEvents, which lets a test
// script exactly which completions each event-loop tick delivers and with
// what status and contents.
type fakeDevice struct {
	packetSize  int
	readTimeout time.Duration
	unsupported bool

	resetErr error
	purgeErr error
	startErr error

	// submitErr is returned by the submitErrAt-th Submit call (1-based).
	submitErr   error
	submitErrAt int

	// fill produces status, contents and length for the i-th completion
	// overall. Nil means: completed, full buffer, packets of ascending
	// bytes after a two-byte header.
	fill func(i int, buf []byte) (TransferStatus, int)

	// perTick caps how many completions one HandleEvents call delivers.
	// Zero delivers everything pending at the start of the call.
	perTick int

	// onTick runs at the start of every HandleEvents call, before any
	// completion is delivered.
	onTick func(d *fakeDevice)

	// idle suppresses all completions, simulating a dead pipeline.
	idle bool

	// eventsErr is returned by the next HandleEvents calls, one entry
	// per call, before anything is delivered.
	eventsErr []error

	calls       []string
	tick        int
	submits     int
	completions int
	pending     []*fakeTransfer
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		packetSize:  512,
		readTimeout: 5 * time.Millisecond,
	}
}

func (d *fakeDevice) SyncFIFOSupported() bool { return !d.unsupported }

func (d *fakeDevice) ResetBitmode() error {
	d.calls = append(d.calls, "reset")
	return d.resetErr
}

func (d *fakeDevice) PurgeBuffers() error {
	d.calls = append(d.calls, "purge")
	return d.purgeErr
}

func (d *fakeDevice) StartSyncFIFO() error {
	d.calls = append(d.calls, "start")
	return d.startErr
}

func (d *fakeDevice) Submit(dir Direction, buf []byte, done CompletionFunc) error {
	d.calls = append(d.calls, "submit")
	d.submits++
	if d.submitErr != nil && d.submits == d.submitErrAt {
		return d.submitErr
	}
	d.pending = append(d.pending, &fakeTransfer{buf: buf, done: done})
	return nil
}

func (d *fakeDevice) HandleEvents(timeout time.Duration) error {
	d.tick++
	if d.onTick != nil {
		d.onTick(d)
	}
	if len(d.eventsErr) > 0 {
		err := d.eventsErr[0]
		d.eventsErr = d.eventsErr[1:]
		if err != nil {
			return err
		}
	}
	if d.idle {
		return nil
	}
	n := len(d.pending)
	if d.perTick > 0 && n > d.perTick {
		n = d.perTick
	}
	// Completions may resubmit; only the transfers pending at the start
	// of this call retire in it.
	batch := d.pending[:n]
	d.pending = d.pending[n:]
	for _, ft := range batch {
		status, actual := TransferCompleted, len(ft.buf)
		if d.fill != nil {
			status, actual = d.fill(d.completions, ft.buf)
		} else {
			fillPackets(ft.buf, d.packetSize, byte(d.completions))
		}
		d.completions++
		ft.done(status, actual)
	}
	return nil
}

func (d *fakeDevice) MaxPacketSize() int { return d.packetSize }

func (d *fakeDevice) ReadTimeout() time.Duration { return d.readTimeout }

// outstanding reports how many submitted transfers have not retired.
func (d *fakeDevice) outstanding() int { return len(d.pending) }

// fillPackets writes packetSize-wide packets into buf, each with a two-byte
// header followed by payload bytes of the given value.
func fillPackets(buf []byte, packetSize int, payload byte) {
	for off := 0; off < len(buf); off += packetSize {
		end := off + packetSize
		if end > len(buf) {
			end = len(buf)
		}
		packet := buf[off:end]
		for i := range packet {
			if i < packetHeaderLen {
				packet[i] = 0x60
			} else {
				packet[i] = payload
			}
		}
	}
}

// fillCounterPackets writes packets whose payload is a stream of 16-byte
// records led by a little-endian counter advancing by stride, continuing
// the record stream across packets. The buffer's payload capacity must be
// a multiple of the record size. It returns the next counter value, so
// the stream can continue into the following transfer.
func fillCounterPackets(buf []byte, packetSize int, counter, stride uint32) uint32 {
	need := payloadLen(len(buf), packetSize)
	if need%16 != 0 {
		panic("fillCounterPackets: payload capacity not record aligned")
	}
	payload := make([]byte, 0, need)
	for len(payload) < need {
		var rec [16]byte
		binary.LittleEndian.PutUint32(rec[:4], counter)
		counter += stride
		payload = append(payload, rec[:]...)
	}
	for off := 0; off < len(buf); off += packetSize {
		end := off + packetSize
		if end > len(buf) {
			end = len(buf)
		}
		packet := buf[off:end]
		packet[0], packet[1] = 0x60, 0x00
		n := copy(packet[packetHeaderLen:], payload)
		payload = payload[n:]
	}
	return counter
}
