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

package statspub

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ftdigo/ftstream"
	"github.com/ftdigo/ftstream/seqcheck"
)

func testPublisher(t *testing.T) (*Publisher, string) {
	t.Helper()
	p := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(p.Close)
	return p, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%q): %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPublisherBroadcast(t *testing.T) {
	p, url := testPublisher(t)
	conn := dial(t, url)

	want := Snapshot{TotalBytes: 4096, TotalTime: 2.0, HasRates: true, TotalRate: 2048}
	// The subscriber registers asynchronously with the dial handshake;
	// keep publishing until the message arrives.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-done:
				return
			default:
				p.Publish(want)
				time.Sleep(10 * time.Millisecond)
			}
		}
	}()
	defer func() { done <- struct{}{}; <-done }()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got Snapshot
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got != want {
		t.Errorf("subscriber got %+v, want %+v", got, want)
	}
}

func TestPublisherSendsLastOnAttach(t *testing.T) {
	p, url := testPublisher(t)

	want := Snapshot{TotalBytes: 100, Records: 5, Errors: 1, Skipped: 2}
	p.Publish(want)

	conn := dial(t, url)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got Snapshot
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got != want {
		t.Errorf("late subscriber got %+v, want %+v", got, want)
	}
}

func TestPublisherNeverBlocks(t *testing.T) {
	p, _ := testPublisher(t)
	// No subscribers at all: publishing must still return immediately.
	donePub := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			p.Publish(Snapshot{TotalBytes: int64(i)})
		}
		close(donePub)
	}()
	select {
	case <-donePub:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked without subscribers")
	}
}

func TestFromProgress(t *testing.T) {
	t.Parallel()
	prog := ftstream.Progress{
		Current:     ftstream.Sample{TotalBytes: 1 << 20},
		TotalTime:   4 * time.Second,
		TotalRate:   262144,
		CurrentRate: 300000,
		HasRates:    true,
	}
	sum := seqcheck.Summary{Records: 10, Errors: 2, Skipped: 7}

	got := FromProgress(prog, &sum)
	want := Snapshot{
		TotalBytes:  1 << 20,
		TotalTime:   4.0,
		TotalRate:   262144,
		CurrentRate: 300000,
		HasRates:    true,
		Records:     10,
		Errors:      2,
		Skipped:     7,
	}
	if got != want {
		t.Errorf("FromProgress = %+v, want %+v", got, want)
	}

	if got := FromProgress(prog, nil); got.Records != 0 || got.Errors != 0 {
		t.Errorf("FromProgress without summary carried tallies: %+v", got)
	}
}
