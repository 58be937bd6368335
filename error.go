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

import "errors"

var (
	// ErrUnsupportedDevice is returned before any data flows when the
	// device does not implement synchronous FIFO mode.
	ErrUnsupportedDevice = errors.New("device doesn't support synchronous FIFO mode")

	// ErrModeSwitch is returned when the device refuses a bitmode change
	// (reset or synchronous FIFO). Fatal, nothing was streamed.
	ErrModeSwitch = errors.New("can't switch device bitmode")

	// ErrSubmit is returned when an initial transfer submission fails.
	// Fatal, the session aborts before the device starts producing.
	ErrSubmit = errors.New("can't submit transfer")

	// ErrStall is returned when a full event-loop tick passes with zero
	// transfer completions, indicating the pipeline died.
	ErrStall = errors.New("streaming stalled: no transfer activity")

	// ErrInterrupted is returned by Device.HandleEvents when event
	// servicing was interrupted by a signal. The engine retries the wait
	// once; implementations must not translate hard failures into it.
	ErrInterrupted = errors.New("event handling interrupted")
)
