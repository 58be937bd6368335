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

// Package statspub publishes live capture statistics to WebSocket
// subscribers, so a long-running capture can be watched from another
// terminal or a dashboard without touching the data path.
package statspub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ftdigo/ftstream"
	"github.com/ftdigo/ftstream/seqcheck"
)

// Snapshot is the JSON document sent to subscribers.
type Snapshot struct {
	TotalBytes  int64   `json:"total_bytes"`
	TotalTime   float64 `json:"total_time_s"`
	TotalRate   float64 `json:"total_rate_bps"`
	CurrentRate float64 `json:"current_rate_bps"`
	HasRates    bool    `json:"has_rates"`

	Records int64 `json:"records,omitempty"`
	Errors  int64 `json:"errors,omitempty"`
	Skipped int64 `json:"skipped,omitempty"`
}

// FromProgress builds a snapshot from a progress report and, when inline
// checking is on, the checker tallies.
func FromProgress(p ftstream.Progress, sum *seqcheck.Summary) Snapshot {
	s := Snapshot{
		TotalBytes:  p.Current.TotalBytes,
		TotalTime:   p.TotalTime.Seconds(),
		TotalRate:   p.TotalRate,
		CurrentRate: p.CurrentRate,
		HasRates:    p.HasRates,
	}
	if sum != nil {
		s.Records = sum.Records
		s.Errors = sum.Errors
		s.Skipped = sum.Skipped
	}
	return s
}

// subscriber queue depth; a slow client loses snapshots, never slows the
// capture.
const sendQueue = 8

// Publisher fans snapshots out to any number of WebSocket subscribers.
// It is safe for concurrent use; Publish never blocks on slow clients.
type Publisher struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	subs   map[*websocket.Conn]chan []byte
	last   []byte
	closed bool
}

// New returns a publisher logging subscriber churn to logger.
func New(logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		logger: logger,
		subs:   make(map[*websocket.Conn]chan []byte),
	}
}

// Handler upgrades incoming requests and registers the connection as a
// subscriber. A freshly attached subscriber immediately receives the most
// recent snapshot, if any.
func (p *Publisher) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := p.upgrader.Upgrade(w, r, nil)
		if err != nil {
			p.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		ch := make(chan []byte, sendQueue)
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			conn.Close()
			return
		}
		p.subs[conn] = ch
		if p.last != nil {
			ch <- p.last
		}
		p.mu.Unlock()
		p.logger.Info("stats subscriber attached", "remote", conn.RemoteAddr().String())

		go p.writeLoop(conn, ch)
		go p.readLoop(conn)
	})
}

func (p *Publisher) writeLoop(conn *websocket.Conn, ch chan []byte) {
	for msg := range ch {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			p.drop(conn)
			return
		}
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	conn.Close()
}

// readLoop drains the connection so pings are answered and a closing
// client is noticed.
func (p *Publisher) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			p.drop(conn)
			return
		}
	}
}

func (p *Publisher) drop(conn *websocket.Conn) {
	p.mu.Lock()
	ch, ok := p.subs[conn]
	if ok {
		delete(p.subs, conn)
		close(ch)
	}
	p.mu.Unlock()
	if ok {
		conn.Close()
		p.logger.Info("stats subscriber detached", "remote", conn.RemoteAddr().String())
	}
}

// Publish sends a snapshot to every subscriber. Subscribers whose queue
// is full skip this snapshot.
func (p *Publisher) Publish(s Snapshot) {
	msg, err := json.Marshal(s)
	if err != nil {
		p.logger.Error("snapshot marshal failed", "error", err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.last = msg
	for _, ch := range p.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Close detaches all subscribers. The publisher accepts no new ones.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for conn, ch := range p.subs {
		delete(p.subs, conn)
		close(ch)
	}
}
