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

// packetHeaderLen is the modem status header the chip prefixes to every
// packet it sends.
const packetHeaderLen = 2

// stripFrames partitions raw into packetSize-wide packets, removes the
// status header from each and calls emit with the remaining payload, in
// order. The final packet may be short; a packet at or below the header
// length yields no payload. emit is never called with an empty slice.
// A non-nil error from emit stops the walk and is returned as-is.
func stripFrames(raw []byte, packetSize int, emit func([]byte) error) error {
	for len(raw) > 0 {
		packet := raw
		if len(packet) > packetSize {
			packet = packet[:packetSize]
		}
		raw = raw[len(packet):]
		if len(packet) <= packetHeaderLen {
			continue
		}
		if err := emit(packet[packetHeaderLen:]); err != nil {
			return err
		}
	}
	return nil
}

// payloadLen returns the number of payload bytes stripFrames will emit for
// a raw buffer of the given length.
func payloadLen(rawLen, packetSize int) int {
	if rawLen <= 0 {
		return 0
	}
	full := rawLen / packetSize
	n := full * (packetSize - packetHeaderLen)
	if rem := rawLen % packetSize; rem > packetHeaderLen {
		n += rem - packetHeaderLen
	}
	return n
}
