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

package seqcheck

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"testing"
)

func silent() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// records encodes 16-byte blocks with the given little-endian counters.
func records(order binary.ByteOrder, counters ...uint32) []byte {
	buf := make([]byte, 0, len(counters)*BlockSize)
	for _, c := range counters {
		var rec [BlockSize]byte
		order.PutUint32(rec[:4], c)
		buf = append(buf, rec[:]...)
	}
	return buf
}

func TestBlockChecker(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		desc     string
		counters []uint32
		opts     []Option
		want     Summary
	}{
		{
			desc:     "contiguous stream",
			counters: []uint32{0, 0x4000, 0x8000, 0xC000},
			want:     Summary{Records: 4},
		},
		{
			desc:     "two blocks skipped",
			counters: []uint32{0, 0x4000, 0x8000, 0x14000},
			want:     Summary{Records: 4, Errors: 1, Skipped: 2},
		},
		{
			desc:     "two separate gaps",
			counters: []uint32{0, 0x8000, 0xC000, 0x14000},
			want:     Summary{Records: 4, Errors: 2, Skipped: 2},
		},
		{
			desc:     "counter wraps around",
			counters: []uint32{0xFFFFC000, 0, 0x4000},
			want:     Summary{Records: 3},
		},
		{
			desc:     "custom stride",
			counters: []uint32{0, 1, 2, 6},
			opts:     []Option{WithStride(1)},
			want:     Summary{Records: 4, Errors: 1, Skipped: 3},
		},
		{
			desc:     "stream starting mid-sequence",
			counters: []uint32{0x50000, 0x54000},
			want:     Summary{Records: 2},
		},
	} {
		tc := tc
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			v := New(FormatBlock, append(tc.opts, silent())...)
			if _, err := v.Write(records(binary.LittleEndian, tc.counters...)); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if got := v.Summary(); got != tc.want {
				t.Errorf("Summary = %+v, want %+v", got, tc.want)
			}
		})
	}
}

// Counters straddling chunk boundaries must be reassembled; the summary
// can't depend on how the stream was sliced into reads.
func TestBlockCheckerChunkStraddling(t *testing.T) {
	t.Parallel()
	stream := records(binary.LittleEndian, 0, 0x4000, 0x8000, 0x14000, 0x18000)
	want := Summary{Records: 5, Errors: 1, Skipped: 2}

	for _, chunk := range []int{1, 3, 7, 16, 23, len(stream)} {
		v := New(FormatBlock, silent())
		for off := 0; off < len(stream); off += chunk {
			end := off + chunk
			if end > len(stream) {
				end = len(stream)
			}
			if _, err := v.Write(stream[off:end]); err != nil {
				t.Fatalf("Write: %v", err)
			}
		}
		if got := v.Summary(); got != want {
			t.Errorf("chunk size %d: Summary = %+v, want %+v", chunk, got, want)
		}
	}
}

func TestBlockCheckerBigEndian(t *testing.T) {
	t.Parallel()
	v := New(FormatBlock, WithByteOrder(binary.BigEndian), silent())
	if _, err := v.Write(records(binary.BigEndian, 0, 0x4000, 0xC000)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := Summary{Records: 3, Errors: 1, Skipped: 1}
	if got := v.Summary(); got != want {
		t.Errorf("Summary = %+v, want %+v", got, want)
	}
}

// Out-of-order arrival is reported, not crashed on; the unsigned gap is
// nonsensical but the error is counted.
func TestBlockCheckerOutOfOrder(t *testing.T) {
	t.Parallel()
	v := New(FormatBlock, silent())
	if _, err := v.Write(records(binary.LittleEndian, 0x8000, 0x4000)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := v.Summary()
	if got.Records != 2 || got.Errors != 1 {
		t.Errorf("Summary = %+v, want 2 records and 1 error", got)
	}
}

func TestBlockCheckerErrorBudget(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	v := New(FormatBlock,
		WithStride(1),
		WithErrorBudget(2),
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	// Five gaps, each skipping one block.
	if _, err := v.Write(records(binary.LittleEndian, 0, 2, 4, 6, 8, 10)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	sum := v.Summary()
	if sum.Errors != 5 || sum.Skipped != 5 {
		t.Fatalf("Summary = %+v, want 5 errors and 5 skipped", sum)
	}
	// Two individual reports plus the cutoff notice.
	if got := bytes.Count(buf.Bytes(), []byte("\n")); got != 3 {
		t.Errorf("budget of 2 produced %d log lines, want 3:\n%s", got, buf.String())
	}
}
