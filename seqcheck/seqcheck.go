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

// Package seqcheck validates a monotonically incrementing counter embedded
// in a streamed payload and quantifies dropped data.
//
// A validator consumes raw chunks through io.Writer; chunk boundaries are
// arbitrary and counters may straddle them. Data errors never abort the
// scan, they are tallied and surfaced in the summary: counting the damage
// is the whole point.
package seqcheck

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
)

// Format selects the payload encoding a validator understands.
type Format int

const (
	// FormatBlock is the binary encoding: fixed 16-byte records led by a
	// 32-bit counter advancing by a fixed stride per record.
	FormatBlock Format = iota
	// FormatLine is the text encoding: newline-terminated records framed
	// by two fixed-width decimal counters.
	FormatLine
)

// String returns the format's command-line name.
func (f Format) String() string {
	switch f {
	case FormatBlock:
		return "block"
	case FormatLine:
		return "line"
	default:
		return "unknown"
	}
}

// ParseFormat converts a command-line name into a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "block":
		return FormatBlock, nil
	case "line":
		return FormatLine, nil
	default:
		return 0, fmt.Errorf("unknown sequence format %q (want block or line)", s)
	}
}

// Validator checks one encoding of the counter stream. Write accepts raw
// chunks of any size and never returns an error.
type Validator interface {
	io.Writer
	// Summary returns the tallies accumulated so far. End of stream is
	// not an event; call Summary whenever the input is exhausted.
	Summary() Summary
}

// Summary is the outcome of a validation scan.
type Summary struct {
	// Records is the number of blocks or lines seen.
	Records int64
	// Errors is the number of discontinuities and malformed records.
	Errors int64
	// ParseErrors is the subset of Errors that were malformed records
	// rather than counter discontinuities. Always zero for FormatBlock.
	ParseErrors int64
	// Skipped is the total number of records missing from the stream,
	// summed over all detected gaps.
	Skipped int64
}

// ErrorRatio returns errors per record seen.
func (s Summary) ErrorRatio() float64 {
	if s.Records == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Records)
}

// SkipRatio returns skipped records per record seen.
func (s Summary) SkipRatio() float64 {
	if s.Records == 0 {
		return 0
	}
	return float64(s.Skipped) / float64(s.Records)
}

// String formats the closing summary.
func (s Summary) String() string {
	return fmt.Sprintf("%d records, %d errors (%d malformed), %d skipped, error ratio %.6f, skip ratio %.6f",
		s.Records, s.Errors, s.ParseErrors, s.Skipped, s.ErrorRatio(), s.SkipRatio())
}

// DefaultStride is the counter increment per block produced by the usual
// test circuit.
const DefaultStride = 0x4000

// DefaultErrorBudget is how many data errors are reported individually
// before the rest are only counted, keeping log volume bounded.
const DefaultErrorBudget = 20

type options struct {
	stride uint32
	order  binary.ByteOrder
	budget int
	logger *slog.Logger
}

// Option adjusts a validator.
type Option func(*options)

// WithStride sets the per-block counter increment for FormatBlock.
func WithStride(stride uint32) Option {
	return func(o *options) { o.stride = stride }
}

// WithByteOrder sets the counter byte order for FormatBlock. The producer
// defines it; little-endian is the default.
func WithByteOrder(order binary.ByteOrder) Option {
	return func(o *options) { o.order = order }
}

// WithErrorBudget sets how many data errors are logged individually.
func WithErrorBudget(n int) Option {
	return func(o *options) { o.budget = n }
}

// WithLogger sets the logger used for bounded per-error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New returns a validator for the given format.
func New(f Format, opts ...Option) Validator {
	o := options{
		stride: DefaultStride,
		order:  binary.LittleEndian,
		budget: DefaultErrorBudget,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	switch f {
	case FormatLine:
		return newLineChecker(o)
	default:
		return newBlockChecker(o)
	}
}

// report logs one data error if the budget allows, and notes the cutoff
// when it runs out.
func (o *options) report(errCount int64, msg string, args ...any) {
	if int64(o.budget) <= 0 {
		return
	}
	if errCount < int64(o.budget) {
		o.logger.Warn(msg, args...)
	} else if errCount == int64(o.budget) {
		o.logger.Warn("further data errors will only be counted", "reported", o.budget)
	}
}
