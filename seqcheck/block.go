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

// BlockSize is the width of one binary record: a 32-bit counter followed
// by twelve don't-care bytes.
const BlockSize = 16

// blockChecker validates the binary encoding. Chunks are rarely record
// aligned, so a partial record is carried between Write calls and resumed
// when the next chunk arrives.
type blockChecker struct {
	o options

	expected    uint32
	expectedSet bool

	partial    [BlockSize]byte
	partialLen int

	sum Summary
}

func newBlockChecker(o options) *blockChecker {
	return &blockChecker{o: o}
}

// Write consumes a raw chunk. It always accepts the whole chunk and never
// fails; discontinuities are tallied, not raised.
func (c *blockChecker) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		if c.partialLen > 0 || len(p) < BlockSize {
			take := BlockSize - c.partialLen
			if take > len(p) {
				take = len(p)
			}
			copy(c.partial[c.partialLen:], p[:take])
			c.partialLen += take
			p = p[take:]
			if c.partialLen == BlockSize {
				c.partialLen = 0
				c.check(c.partial[:])
			}
			continue
		}
		c.check(p[:BlockSize])
		p = p[BlockSize:]
	}
	return n, nil
}

func (c *blockChecker) check(block []byte) {
	counter := c.o.order.Uint32(block[:4])
	c.sum.Records++
	if !c.expectedSet {
		c.expectedSet = true
		c.expected = counter + c.o.stride
		return
	}
	if counter != c.expected {
		// expected is previous+stride, so the gap in whole blocks is
		// (counter-previous)/stride - 1. Unsigned arithmetic also
		// flags out-of-order arrival, just with an outsized gap.
		gap := (counter - c.expected) / c.o.stride
		c.o.report(c.sum.Errors, "block sequence gap",
			"block", c.sum.Records,
			"expected", c.expected,
			"got", counter,
			"skipped", gap)
		c.sum.Errors++
		c.sum.Skipped += int64(gap)
	}
	c.expected = counter + c.o.stride
}

func (c *blockChecker) Summary() Summary {
	return c.sum
}
