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

//go:build linux

// Package ftdidev drives FTDI USB-to-FIFO bridges through the Linux usbfs
// character devices, with no C library in between. It implements the
// ftstream.Device surface for the FT2232H and FT232H, the two chips with a
// synchronous FIFO mode.
package ftdidev

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ftdigo/ftstream"
)

// Default device identity, the stock FT2232H.
const (
	VendorFTDI    = 0x0403
	ProductFT2232 = 0x6010
)

// FTDI vendor requests, host-to-device.
const (
	ftdiRequestOut = 0x40

	reqReset           = 0x00
	reqSetLatencyTimer = 0x09
	reqSetBitmode      = 0x0B

	valueResetSIO = 0
	valuePurgeRX  = 1
	valuePurgeTX  = 2

	bitmodeReset  = 0x00
	bitmodeSyncFF = 0x40

	// Every FIFO line participates in synchronous mode.
	busMask = 0xFF
)

// Interface A endpoints, common to all FTDI chips.
const (
	epIn  = 0x81
	epOut = 0x02
)

// Type identifies the FTDI chip generation, derived from the device
// descriptor's bcdDevice field the way the EEPROM-less chips report it.
type Type int

const (
	TypeUnknown Type = iota
	TypeFT2232C
	TypeFT232R
	TypeFT2232H
	TypeFT4232H
	TypeFT232H
	TypeFT230X
)

var typeName = map[Type]string{
	TypeUnknown: "unknown",
	TypeFT2232C: "FT2232C/D",
	TypeFT232R:  "FT232R",
	TypeFT2232H: "FT2232H",
	TypeFT4232H: "FT4232H",
	TypeFT232H:  "FT232H",
	TypeFT230X:  "FT230X",
}

func (t Type) String() string { return typeName[t] }

func typeFromBCD(bcd uint16) Type {
	switch bcd {
	case 0x0500:
		return TypeFT2232C
	case 0x0600:
		return TypeFT232R
	case 0x0700:
		return TypeFT2232H
	case 0x0800:
		return TypeFT4232H
	case 0x0900:
		return TypeFT232H
	case 0x1000:
		return TypeFT230X
	}
	return TypeUnknown
}

// bitmodeValue encodes the wValue of a set-bitmode request: mode in the
// high byte, pin direction mask in the low byte.
func bitmodeValue(mode, mask uint8) uint16 {
	return uint16(mode)<<8 | uint16(mask)
}

// Device is one claimed FTDI interface (interface A). It satisfies
// ftstream.Device. Not safe for concurrent use.
type Device struct {
	fd   int
	path string

	vid, pid uint16
	chip     Type

	// FTDI control requests address interfaces by a 1-based index.
	index uint16

	maxPacket   int
	readTimeout time.Duration
	ctrlTimeout time.Duration

	pending map[*urb]*pendingURB
	logger  *slog.Logger
}

// Open claims interface A of the FTDI device behind a usbfs node such as
// /dev/bus/usb/001/004.
func Open(path string, logger *slog.Logger) (*Device, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	d := &Device{
		fd:          fd,
		path:        path,
		index:       1,
		readTimeout: 100 * time.Millisecond,
		ctrlTimeout: 5 * time.Second,
		pending:     make(map[*urb]*pendingURB),
		logger:      logger,
	}
	if err := d.setup(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return d, nil
}

// OpenVIDPID scans the usbfs tree for the first device matching vid:pid
// and opens it.
func OpenVIDPID(vid, pid uint16, logger *slog.Logger) (*Device, error) {
	buses, err := filepath.Glob("/dev/bus/usb/*/*")
	if err != nil {
		return nil, err
	}
	for _, path := range buses {
		gotVID, gotPID, _, err := readIdentity(path)
		if err != nil {
			continue
		}
		if gotVID == vid && gotPID == pid {
			return Open(path, logger)
		}
	}
	return nil, fmt.Errorf("no USB device %04x:%04x: %w", vid, pid, os.ErrNotExist)
}

// readIdentity peeks at a device node's descriptor without claiming it.
func readIdentity(path string) (vid, pid, bcd uint16, err error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return 0, 0, 0, err
	}
	defer unix.Close(fd)
	// Reading a usbfs node yields the descriptors; the device descriptor
	// comes first.
	var desc [18]byte
	n, err := unix.Read(fd, desc[:])
	if err != nil {
		return 0, 0, 0, err
	}
	if n < len(desc) {
		return 0, 0, 0, fmt.Errorf("short descriptor read from %s: %d bytes", path, n)
	}
	vid = binary.LittleEndian.Uint16(desc[8:10])
	pid = binary.LittleEndian.Uint16(desc[10:12])
	bcd = binary.LittleEndian.Uint16(desc[12:14])
	return vid, pid, bcd, nil
}

func (d *Device) setup() error {
	var desc [18]byte
	n, err := unix.Read(d.fd, desc[:])
	if err != nil {
		return fmt.Errorf("read descriptor: %w", err)
	}
	if n < len(desc) {
		return fmt.Errorf("short descriptor read: %d bytes", n)
	}
	d.vid = binary.LittleEndian.Uint16(desc[8:10])
	d.pid = binary.LittleEndian.Uint16(desc[10:12])
	d.chip = typeFromBCD(binary.LittleEndian.Uint16(desc[12:14]))

	speed, err := d.deviceSpeed()
	if err != nil {
		return err
	}
	// Bulk packet size follows the negotiated bus speed: 512 on high
	// speed, 64 otherwise.
	if speed >= 3 {
		d.maxPacket = 512
	} else {
		d.maxPacket = 64
	}

	if err := d.claimInterface(0); err != nil {
		return err
	}
	if err := d.control(ftdiRequestOut, reqReset, valueResetSIO, d.index); err != nil {
		d.releaseInterface(0)
		return fmt.Errorf("device reset: %w", err)
	}
	d.logger.Info("FTDI device opened",
		"path", d.path,
		"id", fmt.Sprintf("%04x:%04x", d.vid, d.pid),
		"chip", d.chip.String(),
		"packet_size", d.maxPacket)
	return nil
}

// Chip returns the detected chip generation.
func (d *Device) Chip() Type { return d.chip }

func (d *Device) String() string {
	return fmt.Sprintf("%s %04x:%04x at %s", d.chip, d.vid, d.pid, d.path)
}

// SetLatencyTimer sets the chip's receive latency timer. The chip flushes
// a part-filled packet to the host after this long; valid range is 1ms to
// 255ms.
func (d *Device) SetLatencyTimer(latency time.Duration) error {
	ms := latency.Milliseconds()
	if ms < 1 || ms > 255 {
		return fmt.Errorf("latency %v out of range 1ms..255ms", latency)
	}
	return d.control(ftdiRequestOut, reqSetLatencyTimer, uint16(ms), d.index)
}

// SetReadTimeout changes the bound on each event-servicing wait.
func (d *Device) SetReadTimeout(timeout time.Duration) {
	d.readTimeout = timeout
}

// SyncFIFOSupported reports whether the chip has a synchronous FIFO mode.
func (d *Device) SyncFIFOSupported() bool {
	return d.chip == TypeFT2232H || d.chip == TypeFT232H
}

// ResetBitmode takes the chip out of any special operating mode.
func (d *Device) ResetBitmode() error {
	return d.control(ftdiRequestOut, reqSetBitmode, bitmodeValue(bitmodeReset, busMask), d.index)
}

// StartSyncFIFO switches the chip into synchronous FIFO mode. The mode
// must be configured in the EEPROM beforehand; this request only arms it.
func (d *Device) StartSyncFIFO() error {
	return d.control(ftdiRequestOut, reqSetBitmode, bitmodeValue(bitmodeSyncFF, busMask), d.index)
}

// PurgeBuffers drops stale data from the receive and transmit FIFOs.
func (d *Device) PurgeBuffers() error {
	if err := d.control(ftdiRequestOut, reqReset, valuePurgeRX, d.index); err != nil {
		return fmt.Errorf("purge RX: %w", err)
	}
	if err := d.control(ftdiRequestOut, reqReset, valuePurgeTX, d.index); err != nil {
		return fmt.Errorf("purge TX: %w", err)
	}
	return nil
}

// Submit queues one bulk URB on the streaming endpoint.
func (d *Device) Submit(dir ftstream.Direction, buf []byte, done ftstream.CompletionFunc) error {
	if len(buf) == 0 {
		return errors.New("empty transfer buffer")
	}
	ep := uint8(epIn)
	if dir == ftstream.DirectionOut {
		ep = epOut
	}
	return d.submitURB(ep, buf, done)
}

// HandleEvents retires finished URBs, waiting up to timeout for the kernel
// to finish one if none are ready yet.
func (d *Device) HandleEvents(timeout time.Duration) error {
	n, err := d.reapAll()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if err := d.waitEvents(int(timeout.Milliseconds())); err != nil {
		return err
	}
	_, err = d.reapAll()
	return err
}

func (d *Device) MaxPacketSize() int { return d.maxPacket }

func (d *Device) ReadTimeout() time.Duration { return d.readTimeout }

// Close cancels any in-flight transfers, releases the interface and closes
// the device node.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	d.discardPending()
	d.releaseInterface(0)
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}
