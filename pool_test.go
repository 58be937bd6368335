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
	"io"
	"testing"
)

// One completed transfer must trigger exactly one resubmission, keeping
// the outstanding count pinned at the pool size until termination.
func TestPoolResubmission(t *testing.T) {
	t.Parallel()
	const numTransfers = 4
	d := newFakeDevice()
	d.perTick = 1

	var outstanding []int
	d.onTick = func(d *fakeDevice) {
		outstanding = append(outstanding, d.outstanding())
	}

	payloads := 0
	_, err := Stream(context.Background(), d, Config{
		NumTransfers:       numTransfers,
		PacketsPerTransfer: 1,
		Logger:             discardLogger(),
	}, func(payload []byte, progress *Progress) error {
		if progress != nil {
			return nil
		}
		payloads++
		if payloads == 5 {
			return io.EOF
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	if d.outstanding() != 0 {
		t.Errorf("%d transfers still outstanding after Stream returned", d.outstanding())
	}
	// 4 initial submissions, then one resubmission per completion until
	// the callback stopped the session on the 5th payload.
	if want := numTransfers + 4; d.submits != want {
		t.Errorf("device saw %d submissions, want %d", d.submits, want)
	}
	// While running, every tick must start with the pool full.
	for i, n := range outstanding[:5] {
		if n != numTransfers {
			t.Errorf("tick %d started with %d transfers in flight, want %d", i+1, n, numTransfers)
		}
	}
}

func TestPoolSubmitFailureAborts(t *testing.T) {
	t.Parallel()
	d := newFakeDevice()
	d.submitErr = errors.New("no kernel memory")
	d.submitErrAt = 3

	_, err := Stream(context.Background(), d, Config{
		NumTransfers: 8,
		Logger:       discardLogger(),
	}, discardCallback)
	if !errors.Is(err, ErrSubmit) {
		t.Fatalf("Stream error = %v, want ErrSubmit", err)
	}
	// The producer must never have been switched on.
	for _, c := range d.calls {
		if c == "start" {
			t.Error("StartSyncFIFO was called after a failed submission")
		}
	}
}

// A transfer that retires with a bus error kills the whole session; there
// is no per-transfer retry.
func TestPoolTransferErrorFatal(t *testing.T) {
	t.Parallel()
	d := newFakeDevice()
	d.perTick = 1
	d.fill = func(i int, buf []byte) (TransferStatus, int) {
		if i == 2 {
			return TransferError, 0
		}
		fillPackets(buf, d.packetSize, byte(i))
		return TransferCompleted, len(buf)
	}

	_, err := Stream(context.Background(), d, Config{
		NumTransfers:       4,
		PacketsPerTransfer: 1,
		Logger:             discardLogger(),
	}, discardCallback)
	if !errors.Is(err, TransferError) {
		t.Fatalf("Stream error = %v, want TransferError", err)
	}
	if d.outstanding() != 0 {
		t.Errorf("%d transfers still outstanding after failed session", d.outstanding())
	}
}
