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

import "fmt"

// slot is one transfer's fixed home in the pool: a buffer allocated once
// at pool creation and reused in place across resubmissions.
type slot struct {
	index    int
	buf      []byte
	inFlight bool
}

// pool owns the arena of transfer slots and keeps the pipeline saturated:
// every completion either resubmits the same slot or retires it when the
// session is winding down.
type pool struct {
	s        *session
	slots    []slot
	inFlight int
}

func newPool(s *session, count, bufSize int) *pool {
	p := &pool{
		s:     s,
		slots: make([]slot, count),
	}
	for i := range p.slots {
		p.slots[i] = slot{index: i, buf: make([]byte, bufSize)}
	}
	return p
}

// submitAll queues every slot against the endpoint. Any failure is fatal:
// the session aborts before the device is switched into streaming mode.
func (p *pool) submitAll() error {
	for i := range p.slots {
		if err := p.submit(&p.slots[i]); err != nil {
			return fmt.Errorf("%w: slot %d: %v", ErrSubmit, i, err)
		}
	}
	return nil
}

// submit queues a single slot. For out sessions the callback fills the
// buffer first; device-to-host framing does not exist in that direction.
func (p *pool) submit(sl *slot) error {
	if p.s.stopping() {
		return nil
	}
	if p.s.cfg.Direction == DirectionOut {
		if err := p.s.fn(sl.buf, nil); err != nil {
			p.s.stop(err)
			return nil
		}
	}
	err := p.s.dev.Submit(p.s.cfg.Direction, sl.buf, func(status TransferStatus, actual int) {
		p.complete(sl, status, actual)
	})
	if err != nil {
		return err
	}
	sl.inFlight = true
	p.inFlight++
	return nil
}

// complete is the completion handler for every slot. It runs inside
// Device.HandleEvents, on the goroutine driving the session loop, so it
// touches session state without locking.
func (p *pool) complete(sl *slot, status TransferStatus, actual int) {
	sl.inFlight = false
	p.inFlight--
	s := p.s
	s.activity++

	if status != TransferCompleted {
		s.cfg.Logger.Error("transfer failed", "slot", sl.index, "status", status.String())
		s.fail(status)
		return
	}

	switch s.cfg.Direction {
	case DirectionIn:
		err := stripFrames(sl.buf[:actual], s.packetSize, func(payload []byte) error {
			s.meter.add(len(payload))
			return s.fn(payload, nil)
		})
		if err != nil {
			s.stop(err)
		}
	case DirectionOut:
		s.meter.add(actual)
	}

	// The slot retires here once the session is marked for termination;
	// in-flight siblings drain the same way, one completion each.
	if s.stopping() {
		return
	}
	if err := p.submit(sl); err != nil {
		s.fail(fmt.Errorf("%w: slot %d: %v", ErrSubmit, sl.index, err))
	}
}
