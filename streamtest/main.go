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

// streamtest captures (or replays) a continuous byte stream from an FTDI
// chip in synchronous FIFO mode, reporting throughput once a second and
// optionally checking the data for dropped blocks on the fly.
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ftdigo/ftstream"
	"github.com/ftdigo/ftstream/ftdidev"
	"github.com/ftdigo/ftstream/seqcheck"
	"github.com/ftdigo/ftstream/statspub"
)

var (
	vidpid    = flag.String("device", "0403:6010", "VID:PID of the FTDI device")
	devPath   = flag.String("path", "", "usbfs device node (overrides -device)")
	outFile   = flag.String("o", "", "write captured data to this file")
	replay    = flag.String("r", "", "replay this file to the device instead of capturing (rewinds at EOF)")
	packets   = flag.Int("packets", ftstream.DefaultPacketsPerTransfer, "USB packets per transfer")
	transfers = flag.Int("transfers", ftstream.DefaultNumTransfers, "transfers in flight")
	latency   = flag.Duration("latency", 2*time.Millisecond, "chip latency timer; 1ms is known to cause skipped blocks")
	interval  = flag.Duration("interval", ftstream.DefaultProgressInterval, "progress reporting interval")
	check     = flag.String("check", "", "check the stream inline: block or line")
	stride    = flag.Uint("stride", seqcheck.DefaultStride, "counter increment per block (block format)")
	bigEndian = flag.Bool("bigendian", false, "block counters are big endian")
	budget    = flag.Int("budget", seqcheck.DefaultErrorBudget, "data errors to log individually before going quiet")
	statsAddr = flag.String("stats", "", "serve live stats to WebSocket subscribers on this address")
	withUI    = flag.Bool("ui", false, "render a live terminal view instead of one line per interval")
	logLevel  = flag.String("loglevel", "info", "log level: debug, info, warn or error")
)

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	return slog.New(h).With(
		slog.String("app", "streamtest"),
		slog.Int("pid", os.Getpid()),
	)
}

func openDevice(logger *slog.Logger) (*ftdidev.Device, error) {
	if *devPath != "" {
		return ftdidev.Open(*devPath, logger)
	}
	var vid, pid uint16
	if _, err := fmt.Sscanf(*vidpid, "%04x:%04x", &vid, &pid); err != nil {
		return nil, fmt.Errorf("bad -device %q, want vid:pid such as 0403:6010", *vidpid)
	}
	return ftdidev.OpenVIDPID(vid, pid, logger)
}

func newValidator(logger *slog.Logger) (seqcheck.Validator, error) {
	if *check == "" {
		return nil, nil
	}
	format, err := seqcheck.ParseFormat(*check)
	if err != nil {
		return nil, err
	}
	opts := []seqcheck.Option{
		seqcheck.WithStride(uint32(*stride)),
		seqcheck.WithErrorBudget(*budget),
		seqcheck.WithLogger(logger),
	}
	if *bigEndian {
		opts = append(opts, seqcheck.WithByteOrder(binary.BigEndian))
	}
	return seqcheck.New(format, opts...), nil
}

// fillFromFile fills buf from f, rewinding to the start whenever the file
// runs out, so a short test pattern replays forever.
func fillFromFile(f *os.File, buf []byte) error {
	filled := 0
	for filled < len(buf) {
		n, err := f.Read(buf[filled:])
		filled += n
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return err
			}
		default:
			return err
		}
	}
	return nil
}

func main() {
	flag.Parse()
	logger := newLogger(*logLevel)

	if err := run(logger); err != nil {
		logger.Error("streamtest failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev, err := openDevice(logger)
	if err != nil {
		return err
	}
	defer dev.Close()
	if err := dev.SetLatencyTimer(*latency); err != nil {
		return fmt.Errorf("set latency timer: %w", err)
	}

	validator, err := newValidator(logger)
	if err != nil {
		return err
	}

	cfg := ftstream.Config{
		Direction:          ftstream.DirectionIn,
		PacketsPerTransfer: *packets,
		NumTransfers:       *transfers,
		ProgressInterval:   *interval,
		Logger:             logger,
	}

	var sink io.Writer
	if *outFile != "" {
		f, err := os.Create(*outFile)
		if err != nil {
			return err
		}
		defer f.Close()
		sink = f
	}
	var src *os.File
	if *replay != "" {
		src, err = os.Open(*replay)
		if err != nil {
			return err
		}
		defer src.Close()
		if fi, err := src.Stat(); err != nil {
			return err
		} else if fi.Size() == 0 {
			return fmt.Errorf("replay file %s is empty", *replay)
		}
		cfg.Direction = ftstream.DirectionOut
	}

	// latest is shared between the streaming goroutine and the renderers.
	var mu sync.Mutex
	var latest ftstream.Progress
	snapshot := func() (ftstream.Progress, *seqcheck.Summary) {
		mu.Lock()
		defer mu.Unlock()
		var sum *seqcheck.Summary
		if validator != nil {
			s := validator.Summary()
			sum = &s
		}
		return latest, sum
	}

	var pub *statspub.Publisher
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if *statsAddr != "" {
		pub = statspub.New(logger)
		defer pub.Close()
		srv := &http.Server{Addr: *statsAddr, Handler: pub.Handler()}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutCancel()
			return srv.Shutdown(shutCtx)
		})
		logger.Info("stats server listening", "addr", *statsAddr)
	}

	var stopUI func()
	if *withUI {
		stopUI = runUI(gctx, func() string {
			p, sum := snapshot()
			return renderView(p, sum)
		})
	}

	onProgress := func(p *ftstream.Progress) {
		mu.Lock()
		latest = *p
		mu.Unlock()
		if pub != nil {
			_, sum := snapshot()
			pub.Publish(statspub.FromProgress(*p, sum))
		}
		if !*withUI {
			fmt.Println(p.String())
		}
	}

	cb := func(payload []byte, p *ftstream.Progress) error {
		if p != nil {
			onProgress(p)
			return nil
		}
		if src != nil {
			return fillFromFile(src, payload)
		}
		if validator != nil {
			validator.Write(payload)
		}
		if sink != nil {
			if _, err := sink.Write(payload); err != nil {
				return err
			}
		}
		return nil
	}

	var final *ftstream.Progress
	g.Go(func() error {
		defer cancel()
		var err error
		final, err = ftstream.Stream(gctx, dev, cfg, cb)
		return err
	})

	err = g.Wait()
	if stopUI != nil {
		stopUI()
	}

	if final != nil {
		fmt.Println(final.String())
	}
	if validator != nil {
		fmt.Println(validator.Summary().String())
	}
	return err
}
