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
	"fmt"
	"time"
)

// TransferStatus describes the outcome of a retired transfer.
type TransferStatus int

const (
	// TransferCompleted indicates the transfer finished and its buffer
	// holds actual-length valid bytes.
	TransferCompleted TransferStatus = iota
	// TransferError indicates the transfer failed on the bus.
	TransferError
	// TransferTimedOut indicates the transfer timed out.
	TransferTimedOut
	// TransferCancelled indicates the transfer was cancelled.
	TransferCancelled
	// TransferStall indicates the endpoint reported a halt condition.
	TransferStall
	// TransferNoDevice indicates the device was disconnected.
	TransferNoDevice
	// TransferOverflow indicates the device sent more data than requested.
	TransferOverflow
)

var transferStatusDescription = map[TransferStatus]string{
	TransferCompleted: "transfer completed without error",
	TransferError:     "transfer failed",
	TransferTimedOut:  "transfer timed out",
	TransferCancelled: "transfer was cancelled",
	TransferStall:     "halt condition detected (endpoint stalled)",
	TransferNoDevice:  "device was disconnected",
	TransferOverflow:  "device sent more data than requested",
}

// String returns a human-readable transfer status.
func (ts TransferStatus) String() string {
	return transferStatusDescription[ts]
}

// Error implements the error interface, so that failed transfer statuses
// can be reported directly as session errors.
func (ts TransferStatus) Error() string {
	return "transfer status: " + ts.String()
}

// CompletionFunc is invoked when a submitted transfer retires. It is called
// synchronously from within Device.HandleEvents, on the goroutine driving
// the session loop; actual is the number of bytes the device read or wrote.
type CompletionFunc func(status TransferStatus, actual int)

// Device is the device-control surface the streaming engine requires.
// Implementations are not expected to be safe for concurrent use; the
// engine issues all calls from a single goroutine.
type Device interface {
	// SyncFIFOSupported reports whether the hardware knows synchronous
	// FIFO mode. Only the FT2232H and FT232H do.
	SyncFIFOSupported() bool

	// ResetBitmode forces the device out of whatever mode it is in.
	ResetBitmode() error

	// PurgeBuffers drops stale data from the device FIFOs on both sides.
	PurgeBuffers() error

	// StartSyncFIFO switches the device into synchronous FIFO mode. The
	// engine calls this only after every transfer has been submitted;
	// starting the producer earlier loses data while the host is not yet
	// consuming.
	StartSyncFIFO() error

	// Submit queues one asynchronous transfer over buf. done is invoked
	// from a later HandleEvents call when the transfer retires. The buffer
	// is owned by the device between Submit and the completion callback.
	Submit(dir Direction, buf []byte, done CompletionFunc) error

	// HandleEvents services pending I/O for at most timeout, invoking
	// completion callbacks for retired transfers. It returns
	// ErrInterrupted when cut short by a signal, which the caller may
	// retry; any other error is a hard I/O failure.
	HandleEvents(timeout time.Duration) error

	// MaxPacketSize returns the endpoint's packet size in bytes. Each
	// packet carries a fixed 2-byte modem status header.
	MaxPacketSize() int

	// ReadTimeout returns the device's configured I/O timeout, used to
	// bound each HandleEvents call.
	ReadTimeout() time.Duration
}

// validatePacketSize rejects devices whose reported packet size cannot
// carry any payload past the status header.
func validatePacketSize(dev Device) (int, error) {
	ps := dev.MaxPacketSize()
	if ps <= packetHeaderLen {
		return 0, fmt.Errorf("device reports packet size %d, need more than %d", ps, packetHeaderLen)
	}
	return ps, nil
}
