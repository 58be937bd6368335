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

// counterMod is the wraparound of the fixed-width line counters.
const counterMod = 100000

// maxLineLen bounds the line reassembly buffer; a stream that never
// produces a newline must not grow memory without bound.
const maxLineLen = 4096

// lineChecker validates the text encoding: newline-terminated records of
// the form <6-digit start><free text><6-digit end>, where the trailing
// counter is the leading counter plus one (mod 100000) and each line's
// leading counter continues where the previous line left off.
//
// Two line buffers rotate: the line being assembled and the previous
// complete line, kept for error context, since a malformed line can only
// be judged once its successor arrives.
type lineChecker struct {
	o options

	cur  []byte
	prev []byte

	expected    uint32
	expectedSet bool

	sum Summary
}

func newLineChecker(o options) *lineChecker {
	return &lineChecker{
		o:    o,
		cur:  make([]byte, 0, maxLineLen),
		prev: make([]byte, 0, maxLineLen),
	}
}

// Write consumes a raw chunk, reassembling lines across chunk boundaries.
// It always accepts the whole chunk and never fails.
func (c *lineChecker) Write(p []byte) (int, error) {
	n := len(p)
	for _, b := range p {
		if b == '\n' {
			c.checkLine(c.cur)
			c.prev, c.cur = c.cur, c.prev
			c.cur = c.cur[:0]
			continue
		}
		if len(c.cur) >= maxLineLen {
			// Oversized line: judge what we have and resynchronize.
			c.checkLine(c.cur)
			c.prev, c.cur = c.cur, c.prev
			c.cur = c.cur[:0]
		}
		c.cur = append(c.cur, b)
	}
	return n, nil
}

// parseCounter reads a fixed-width 6-digit decimal field.
func parseCounter(b []byte) (uint32, bool) {
	if len(b) != 6 {
		return 0, false
	}
	var v uint32
	for _, d := range b {
		if d < '0' || d > '9' {
			return 0, false
		}
		v = v*10 + uint32(d-'0')
	}
	return v, true
}

func (c *lineChecker) checkLine(line []byte) {
	c.sum.Records++

	start, okStart := parseCounter(line[:min(6, len(line))])
	var end uint32
	okEnd := false
	if len(line) >= 12 {
		end, okEnd = parseCounter(line[len(line)-6:])
	}
	if !okStart || !okEnd {
		c.malformed(line, "unparseable counters")
		return
	}
	if (start+1)%counterMod != end {
		c.malformed(line, "trailing counter doesn't follow leading counter")
		return
	}

	if c.expectedSet && start != c.expected {
		gap := (start + counterMod - c.expected) % counterMod
		c.o.report(c.sum.Errors, "line sequence gap",
			"line", c.sum.Records,
			"expected", c.expected,
			"got", start,
			"skipped", gap,
			"previous", string(c.prev))
		c.sum.Errors++
		c.sum.Skipped += int64(gap)
	}
	c.expected = end
	c.expectedSet = true
}

// malformed tallies a line that can't be parsed. The counter chain resumes
// from the next well-formed line; a broken line leaves no usable recovery
// point of its own.
func (c *lineChecker) malformed(line []byte, reason string) {
	c.o.report(c.sum.Errors, "malformed line",
		"line", c.sum.Records,
		"reason", reason,
		"text", string(line))
	c.sum.Errors++
	c.sum.ParseErrors++
	c.expectedSet = false
}

func (c *lineChecker) Summary() Summary {
	return c.sum
}
