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

// Sample is one point of the byte counter over time.
type Sample struct {
	Time       time.Time
	TotalBytes int64
}

// Progress is a snapshot of session throughput, delivered to the callback
// once per progress interval and returned when the session ends.
type Progress struct {
	// First is recorded once, at session start.
	First Sample
	// Prev is the previous sampling point.
	Prev Sample
	// Current is the latest sampling point. TotalBytes counts payload
	// bytes, after framing overhead is stripped.
	Current Sample

	// TotalTime is the time since session start.
	TotalTime time.Duration
	// TotalRate is the cumulative payload rate in bytes per second.
	TotalRate float64
	// CurrentRate is the payload rate since Prev, in bytes per second.
	CurrentRate float64
	// HasRates is false until two sampling points exist; TotalRate and
	// CurrentRate are meaningless while it is false.
	HasRates bool
}

// String formats the snapshot the way the capture tools print it.
func (p Progress) String() string {
	if !p.HasRates {
		return fmt.Sprintf("%10.02fs total time %9.3f MiB transferred",
			p.TotalTime.Seconds(), float64(p.Current.TotalBytes)/(1024.0*1024.0))
	}
	return fmt.Sprintf("%10.02fs total time %9.3f MiB transferred %7.1f kB/s curr rate %7.1f kB/s total rate",
		p.TotalTime.Seconds(), float64(p.Current.TotalBytes)/(1024.0*1024.0),
		p.CurrentRate/1024.0, p.TotalRate/1024.0)
}

// meter accumulates the payload byte counter and emits throughput
// snapshots on a fixed wall-clock interval.
type meter struct {
	interval time.Duration
	total    int64
	prevSet  bool
	p        Progress
}

func newMeter(interval time.Duration, now time.Time) *meter {
	first := Sample{Time: now}
	return &meter{
		interval: interval,
		p:        Progress{First: first, Current: first},
	}
}

// add counts n payload bytes.
func (m *meter) add(n int) {
	m.total += int64(n)
}

// sample emits a snapshot if a full interval has elapsed since the last
// sampling point. The first emitted snapshot carries no rates; there is no
// baseline to compute them from yet.
func (m *meter) sample(now time.Time) (Progress, bool) {
	if now.Sub(m.p.Current.Time) < m.interval {
		return Progress{}, false
	}
	m.p.Prev = m.p.Current
	m.p.Current = Sample{Time: now, TotalBytes: m.total}
	m.p.TotalTime = now.Sub(m.p.First.Time)
	if m.prevSet {
		m.p.TotalRate = float64(m.p.Current.TotalBytes) / m.p.TotalTime.Seconds()
		m.p.CurrentRate = float64(m.p.Current.TotalBytes-m.p.Prev.TotalBytes) /
			now.Sub(m.p.Prev.Time).Seconds()
		m.p.HasRates = true
	}
	m.prevSet = true
	return m.p, true
}

// final returns the closing snapshot for the session summary.
func (m *meter) final(now time.Time) Progress {
	p, ok := m.sample(now)
	if !ok {
		p = m.p
		p.Current.TotalBytes = m.total
		p.TotalTime = now.Sub(p.First.Time)
	}
	return p
}
