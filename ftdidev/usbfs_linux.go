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

package ftdidev

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ftdigo/ftstream"
)

// usbfs ioctl numbers, from linux/usbdevice_fs.h.
const (
	usbdevfsControl          = 0xc0185500
	usbdevfsClaimInterface   = 0x8004550f
	usbdevfsReleaseInterface = 0x80045510
	usbdevfsSubmitURB        = 0x8038550a
	usbdevfsDiscardURB       = 0x0000550b
	usbdevfsReapURBNDelay    = 0x4008550d
	usbdevfsIoctl            = 0xc0105512
	usbdevfsDisconnect       = 0x00005516
	usbdevfsGetSpeed         = 0x0000551f
)

const urbTypeBulk = 3

// urb mirrors struct usbdevfs_urb.
type urb struct {
	Type            uint8
	Endpoint        uint8
	Status          int32
	Flags           uint32
	Buffer          unsafe.Pointer
	BufferLength    int32
	ActualLength    int32
	StartFrame      int32
	NumberOfPackets int32
	ErrorCount      int32
	SignalNumber    uint32
	UserContext     uintptr
}

// ctrlRequest mirrors struct usbdevfs_ctrltransfer.
type ctrlRequest struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
	Timeout     uint32
	Data        unsafe.Pointer
}

// usbfsIoctl mirrors struct usbdevfs_ioctl, used to kick a kernel driver
// off the interface before claiming it.
type usbfsIoctl struct {
	Interface int32
	IoctlCode int32
	Data      unsafe.Pointer
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) syscall.Errno {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	return errno
}

// pendingURB keeps a submitted transfer's completion callback and pins the
// urb and buffer for the kernel's benefit until the reap.
type pendingURB struct {
	u    *urb
	buf  []byte
	done ftstream.CompletionFunc
}

func (d *Device) submitURB(endpoint uint8, buf []byte, done ftstream.CompletionFunc) error {
	p := &pendingURB{
		u: &urb{
			Type:         urbTypeBulk,
			Endpoint:     endpoint,
			Buffer:       unsafe.Pointer(&buf[0]),
			BufferLength: int32(len(buf)),
		},
		buf:  buf,
		done: done,
	}
	if errno := ioctl(d.fd, usbdevfsSubmitURB, unsafe.Pointer(p.u)); errno != 0 {
		return fmt.Errorf("submit URB: %w", errno)
	}
	d.pending[p.u] = p
	return nil
}

// reapAll retires every URB the kernel has finished with, invoking the
// completion callbacks. It returns the number of retired transfers.
func (d *Device) reapAll() (int, error) {
	n := 0
	for {
		var done *urb
		errno := ioctl(d.fd, usbdevfsReapURBNDelay, unsafe.Pointer(&done))
		switch errno {
		case 0:
		case syscall.EAGAIN:
			return n, nil
		case syscall.EINTR:
			continue
		default:
			return n, fmt.Errorf("reap URB: %w", errno)
		}
		p, ok := d.pending[done]
		if !ok {
			return n, fmt.Errorf("reaped unknown URB %p", done)
		}
		delete(d.pending, done)
		n++
		p.done(urbStatus(p.u.Status), int(p.u.ActualLength))
	}
}

// urbStatus maps the kernel's URB status to a transfer status.
func urbStatus(status int32) ftstream.TransferStatus {
	switch {
	case status == 0:
		return ftstream.TransferCompleted
	case status == -int32(syscall.EPIPE):
		return ftstream.TransferStall
	case status == -int32(syscall.ENODEV), status == -int32(syscall.ESHUTDOWN):
		return ftstream.TransferNoDevice
	case status == -int32(syscall.ETIMEDOUT):
		return ftstream.TransferTimedOut
	case status == -int32(syscall.ENOENT), status == -int32(syscall.ECONNRESET):
		return ftstream.TransferCancelled
	case status == -int32(syscall.EOVERFLOW):
		return ftstream.TransferOverflow
	default:
		return ftstream.TransferError
	}
}

// waitEvents blocks until the kernel signals reapable URBs or the timeout
// passes. usbfs marks the device node writable when completions wait.
func (d *Device) waitEvents(timeoutMs int) error {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLOUT | unix.POLLERR}}
	_, err := unix.Poll(fds, timeoutMs)
	if err == unix.EINTR {
		return ftstream.ErrInterrupted
	}
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	return nil
}

// discardPending cancels every in-flight URB. Used only on Close; the
// streaming engine drains cooperatively instead.
func (d *Device) discardPending() {
	for u := range d.pending {
		ioctl(d.fd, usbdevfsDiscardURB, unsafe.Pointer(u))
	}
	// Reap the discards so the kernel lets go of the buffers.
	for len(d.pending) > 0 {
		if _, err := d.reapAll(); err != nil {
			return
		}
		if len(d.pending) > 0 {
			if err := d.waitEvents(100); err != nil {
				return
			}
		}
	}
}

func (d *Device) control(requestType, request uint8, value, index uint16) error {
	req := ctrlRequest{
		RequestType: requestType,
		Request:     request,
		Value:       value,
		Index:       index,
		Timeout:     uint32(d.ctrlTimeout.Milliseconds()),
	}
	if errno := ioctl(d.fd, usbdevfsControl, unsafe.Pointer(&req)); errno != 0 {
		return fmt.Errorf("control request 0x%02x (value 0x%04x): %w", request, value, errno)
	}
	return nil
}

func (d *Device) claimInterface(ifno uint32) error {
	errno := ioctl(d.fd, usbdevfsClaimInterface, unsafe.Pointer(&ifno))
	if errno == syscall.EBUSY {
		// A kernel driver (ftdi_sio) holds the interface; disconnect it
		// and try again.
		disc := usbfsIoctl{Interface: int32(ifno), IoctlCode: usbdevfsDisconnect}
		ioctl(d.fd, usbdevfsIoctl, unsafe.Pointer(&disc))
		errno = ioctl(d.fd, usbdevfsClaimInterface, unsafe.Pointer(&ifno))
	}
	if errno != 0 {
		return fmt.Errorf("claim interface %d: %w", ifno, errno)
	}
	return nil
}

func (d *Device) releaseInterface(ifno uint32) {
	ioctl(d.fd, usbdevfsReleaseInterface, unsafe.Pointer(&ifno))
}

// deviceSpeed asks the kernel for the negotiated bus speed; the bulk
// packet size follows from it.
func (d *Device) deviceSpeed() (int, error) {
	ret, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(d.fd), usbdevfsGetSpeed, 0)
	if errno != 0 {
		return 0, fmt.Errorf("get speed: %w", errno)
	}
	return int(ret), nil
}
