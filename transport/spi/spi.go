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

// Package spi implements the PN532 SPI link over periph.io. The chip shifts
// bits LSB first while periph drives the bus MSB first, so every byte is
// mirrored on its way through.
package spi

import (
	"context"
	"fmt"
	"time"

	pn53x "github.com/ZaparooProject/go-pn53x"
	"github.com/ZaparooProject/go-pn53x/internal/bitframe"
	"github.com/ZaparooProject/go-pn53x/internal/frame"
	"github.com/ZaparooProject/go-pn53x/internal/syncutil"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Operation bytes that start every transfer.
const (
	opDataWrite  = 0x01
	opStatusRead = 0x02
	opDataRead   = 0x03
)

const (
	statusReady = 0x01

	defaultClock = physic.MegaHertz
	busMode      = spi.Mode0

	minPoll = time.Millisecond
	maxPoll = 8 * time.Millisecond
)

// Transport implements pn53x.Transport over SPI. Transfers are full duplex
// and equal length on both lines.
type Transport struct {
	port     spi.PortCloser
	conn     spi.Conn
	trace    *pn53x.TraceBuffer
	portName string
	busMu    syncutil.Mutex
	rxMu     syncutil.Mutex
	traceMu  syncutil.Mutex
	closed   bool
}

// New opens portName ("/dev/spidev0.0" or "SPI0.0") at 1 MHz, mode 0.
func New(portName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}
	return NewWithPort(port, portName)
}

// NewWithPort connects on an open port and wakes the chip. Close closes
// the port.
func NewWithPort(port spi.PortCloser, name string) (*Transport, error) {
	conn, err := port.Connect(defaultClock, busMode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}
	t := &Transport{
		port:     port,
		conn:     conn,
		portName: name,
		trace:    pn53x.NewTraceBuffer("SPI", name, 16),
	}
	t.wakeup()
	return t, nil
}

// wakeup toggles chip select with a dummy byte, which brings the chip out
// of power down.
func (t *Transport) wakeup() {
	time.Sleep(time.Millisecond)
	_ = t.conn.Tx([]byte{0x00}, nil)
	time.Sleep(time.Millisecond)
}

// Send writes one frame behind the data write operation.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w := make([]byte, len(data)+1)
	w[0] = opDataWrite
	copy(w[1:], data)
	bitframe.MirrorBytes(w)

	t.busMu.Lock()
	defer t.busMu.Unlock()
	if t.closed {
		return pn53x.ErrTransportClosed
	}

	t.record(func(tb *pn53x.TraceBuffer) { tb.RecordTX(data, describe(data)) })
	if err := t.conn.Tx(w, nil); err != nil {
		return t.traced(pn53x.NewTransportError("Send", t.portName, err, pn53x.ErrorTypeTransient))
	}
	return nil
}

// Receive polls the status register until the chip has a frame, then reads
// it in one transfer.
func (t *Transport) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	t.rxMu.Lock()
	defer t.rxMu.Unlock()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	poll := minPoll
	for {
		ready, err := t.ready()
		if err != nil {
			return nil, err
		}
		if ready {
			return t.readFrame()
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			t.record(func(tb *pn53x.TraceBuffer) { tb.RecordTimeout("chip not ready") })
			return nil, t.traced(pn53x.NewTransportNotReadyError("Receive", t.portName))
		}
		if err := sleepCtx(ctx, poll); err != nil {
			return nil, err
		}
		poll = min(2*poll, maxPoll)
	}
}

func (t *Transport) ready() (bool, error) {
	w := []byte{bitframe.Mirror(opStatusRead), 0x00}
	r := make([]byte, len(w))

	t.busMu.Lock()
	defer t.busMu.Unlock()
	if t.closed {
		return false, pn53x.ErrTransportClosed
	}
	if err := t.conn.Tx(w, r); err != nil {
		return false, t.traced(pn53x.NewTransportError("Receive", t.portName, err, pn53x.ErrorTypeTransient))
	}
	return bitframe.Mirror(r[1]) == statusReady, nil
}

func (t *Transport) readFrame() ([]byte, error) {
	w := frame.GetFrameBuffer()
	defer frame.PutBuffer(w)
	r := frame.GetFrameBuffer()
	defer frame.PutBuffer(r)
	w[0] = bitframe.Mirror(opDataRead)

	t.busMu.Lock()
	if t.closed {
		t.busMu.Unlock()
		return nil, pn53x.ErrTransportClosed
	}
	err := t.conn.Tx(w, r)
	t.busMu.Unlock()
	if err != nil {
		return nil, t.traced(pn53x.NewTransportError("Receive", t.portName, err, pn53x.ErrorTypeTransient))
	}

	data := r[1:]
	bitframe.MirrorBytes(data)
	start, end, err := frame.Scan(data)
	if err != nil {
		t.record(func(tb *pn53x.TraceBuffer) { tb.RecordRX(data[:16], "unframed") })
		return nil, t.traced(pn53x.NewFrameCorruptedError("Receive", t.portName))
	}
	f := append([]byte(nil), data[start:end]...)
	t.record(func(tb *pn53x.TraceBuffer) { tb.RecordRX(f, describe(f)) })
	return f, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the port.
func (t *Transport) Close() error {
	t.busMu.Lock()
	defer t.busMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("failed to close SPI port: %w", err)
	}
	return nil
}

// Type implements pn53x.Transport.
func (*Transport) Type() pn53x.TransportType {
	return pn53x.TransportSPI
}

func (t *Transport) record(fn func(*pn53x.TraceBuffer)) {
	t.traceMu.Lock()
	fn(t.trace)
	t.traceMu.Unlock()
}

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
