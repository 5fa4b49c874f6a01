// go-pn53x
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-pn53x.
//
// go-pn53x is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-pn53x is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-pn53x; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package uart implements the PN532 high speed UART (HSU) link over
// go.bug.st/serial.
package uart

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	pn53x "github.com/ZaparooProject/go-pn53x"
	"github.com/ZaparooProject/go-pn53x/internal/frame"
	"github.com/ZaparooProject/go-pn53x/internal/syncutil"
	"go.bug.st/serial"
)

// DefaultSpeed is the PN532 HSU baud rate after reset.
const DefaultSpeed = 115200

// wakePreamble brings a PN532 out of power down: 0x55 followed by enough idle
// bytes for the oscillator to start.
var wakePreamble = []byte{
	0x55, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// Transport implements pn53x.Transport over a serial port. Send and Receive
// use separate locks so an ACK can be written while a Receive is blocked.
type Transport struct {
	port     serial.Port
	trace    *pn53x.TraceBuffer
	portName string
	rx       []byte
	rxMu     syncutil.Mutex
	txMu     syncutil.Mutex
	traceMu  syncutil.Mutex
	closeMu  syncutil.Mutex
	closed   bool
}

// readTimeout bounds a single port read. Windows serial drivers need longer.
func readTimeout() time.Duration {
	if runtime.GOOS == "windows" {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// New opens portName at DefaultSpeed.
func New(portName string) (*Transport, error) {
	return NewWithSpeed(portName, DefaultSpeed)
}

// NewWithSpeed opens portName 8N1 at speed baud.
func NewWithSpeed(portName string, speed int) (*Transport, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: speed,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(readTimeout()); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}
	return NewWithPort(port, portName), nil
}

// NewWithPort wraps an already open port. The caller sets its mode and read
// timeout.
func NewWithPort(port serial.Port, name string) *Transport {
	return &Transport{
		port:     port,
		portName: name,
		trace:    pn53x.NewTraceBuffer("UART", name, 16),
	}
}

// Send writes one frame. Information frames are preceded by the wake-up
// preamble so a chip in power down sees them.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.isClosed() {
		return pn53x.ErrTransportClosed
	}

	control := frame.IsAck(data) || frame.IsNack(data)
	if !control {
		t.discardInput()
	}

	t.txMu.Lock()
	defer t.txMu.Unlock()

	if !control {
		if err := t.write(wakePreamble, "wake"); err != nil {
			return err
		}
	}
	if err := t.write(data, describe(data)); err != nil {
		return err
	}
	if runtime.GOOS == "windows" {
		time.Sleep(15 * time.Millisecond)
	}
	return nil
}

// discardInput drops bytes left over from an earlier, abandoned exchange.
func (t *Transport) discardInput() {
	t.rxMu.Lock()
	t.rx = t.rx[:0]
	t.rxMu.Unlock()
	if err := t.port.ResetInputBuffer(); err != nil {
		pn53x.Logger().Debug().Err(err).Str("port", t.portName).Msg("reset input buffer failed")
	}
}

func (t *Transport) write(data []byte, note string) error {
	t.recordTX(data, note)
	n, err := t.port.Write(data)
	if err != nil {
		return t.traced(pn53x.NewTransportError("Send", t.portName, err, pn53x.ErrorTypePermanent))
	}
	if n != len(data) {
		return t.traced(pn53x.NewTransportWriteError("Send", t.portName))
	}
	return t.drainWithRetry()
}

// Receive returns the next complete frame from the port. Noise between
// frames and frames with a bad length checksum are skipped.
func (t *Transport) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	t.rxMu.Lock()
	defer t.rxMu.Unlock()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	buf := frame.GetFrameBuffer()
	defer frame.PutBuffer(buf)

	for {
		if f := t.nextFrame(); f != nil {
			t.recordRX(f, describe(f))
			return f, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			t.recordTimeout(fmt.Sprintf("%d bytes pending", len(t.rx)))
			return nil, t.traced(pn53x.NewTimeoutError("Receive", t.portName))
		}
		if t.isClosed() {
			return nil, pn53x.ErrTransportClosed
		}

		n, err := t.readWithRetry(buf)
		if err != nil {
			if t.isClosed() {
				return nil, pn53x.ErrTransportClosed
			}
			return nil, t.traced(pn53x.NewTransportError("Receive", t.portName, err, pn53x.ErrorTypePermanent))
		}
		t.rx = append(t.rx, buf[:n]...)
	}
}

// nextFrame cuts the first whole frame out of the receive buffer.
func (t *Transport) nextFrame() []byte {
	for {
		start, end, err := frame.Scan(t.rx)
		switch {
		case err == nil:
			f := append([]byte(nil), t.rx[start:end]...)
			t.rx = append(t.rx[:0], t.rx[end:]...)
			return f
		case errors.Is(err, frame.ErrMalformed):
			t.rx = append(t.rx[:0], t.rx[start+1:]...)
		default:
			t.rx = append(t.rx[:0], t.rx[start:]...)
			return nil
		}
	}
}

func (t *Transport) readWithRetry(buf []byte) (int, error) {
	const maxRetries = 3
	var err error
	for attempt := range maxRetries {
		var n int
		n, err = t.port.Read(buf)
		if err == nil || !isInterruptedSystemCall(err) {
			return n, err
		}
		time.Sleep(time.Duration(2<<attempt) * time.Millisecond)
	}
	return 0, err
}

// drainWithRetry waits for the output buffer to empty, retrying reads that
// were interrupted by a signal.
func (t *Transport) drainWithRetry() error {
	const maxRetries = 3
	var err error
	for attempt := range maxRetries {
		err = t.port.Drain()
		if err == nil {
			return nil
		}
		if !isInterruptedSystemCall(err) {
			break
		}
		time.Sleep(time.Duration(2<<attempt) * time.Millisecond)
	}
	return t.traced(pn53x.NewTransportError("Drain", t.portName, err, pn53x.ErrorTypeTransient))
}

func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "interrupted system call") || strings.Contains(msg, "eintr")
}

// Close closes the port. A blocked Receive returns ErrTransportClosed.
func (t *Transport) Close() error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	t.closeMu.Unlock()

	if err := t.port.Close(); err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	return t.closed
}

// Type implements pn53x.Transport.
func (*Transport) Type() pn53x.TransportType {
	return pn53x.TransportUART
}

// PortName returns the serial device the transport was opened on.
func (t *Transport) PortName() string {
	return t.portName
}

func (t *Transport) recordTX(data []byte, note string) {
	t.traceMu.Lock()
	t.trace.RecordTX(data, note)
	t.traceMu.Unlock()
}

func (t *Transport) recordRX(data []byte, note string) {
	t.traceMu.Lock()
	t.trace.RecordRX(data, note)
	t.traceMu.Unlock()
}

func (t *Transport) recordTimeout(note string) {
	t.traceMu.Lock()
	t.trace.RecordTimeout(note)
	t.traceMu.Unlock()
}

// traced attaches the recent wire history to err.
func (t *Transport) traced(err error) error {
	t.traceMu.Lock()
	defer t.traceMu.Unlock()
	return t.trace.WrapError(err)
}

func describe(f []byte) string {
	switch {
	case frame.IsAck(f):
		return "ACK"
	case frame.IsNack(f):
		return "NACK"
	case len(f) > 6:
		return fmt.Sprintf("TFI 0x%02X cmd 0x%02X", f[5], f[6])
	default:
		return "frame"
	}
}

var _ pn53x.Transport = (*Transport)(nil)
