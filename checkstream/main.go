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

// checkstream validates a captured stream file for sequence gaps.
//
// Data errors are what the tool exists to count, so they never affect the
// exit status; only usage and file errors do.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ftdigo/ftstream/seqcheck"
)

var (
	format    = flag.String("format", "block", "stream format: block or line")
	stride    = flag.Uint("stride", seqcheck.DefaultStride, "counter increment per block (block format)")
	bigEndian = flag.Bool("bigendian", false, "block counters are big endian")
	budget    = flag.Int("budget", seqcheck.DefaultErrorBudget, "data errors to log individually before going quiet")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <file>\n\nreads stdin when file is -\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	f, err := seqcheck.ParseFormat(*format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	in := os.Stdin
	if name := flag.Arg(0); name != "-" {
		in, err = os.Open(name)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer in.Close()
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	opts := []seqcheck.Option{
		seqcheck.WithStride(uint32(*stride)),
		seqcheck.WithErrorBudget(*budget),
		seqcheck.WithLogger(logger),
	}
	if *bigEndian {
		opts = append(opts, seqcheck.WithByteOrder(binary.BigEndian))
	}
	v := seqcheck.New(f, opts...)

	if _, err := io.Copy(v, in); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(v.Summary().String())
}
