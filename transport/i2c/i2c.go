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

// Package i2c implements the PN532 I2C link over periph.io.
package i2c

import (
	"context"
	"fmt"
	"strings"
	"time"

	pn53x "github.com/ZaparooProject/go-pn53x"
	"github.com/ZaparooProject/go-pn53x/internal/frame"
	"github.com/ZaparooProject/go-pn53x/internal/syncutil"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// Address is the 7-bit PN532 address. The datasheet's 0x48 includes
	// the R/W bit.
	Address = 0x24

	// statusReady is the first byte of every read once the chip has output.
	statusReady = 0x01

	maxClock = 400 * physic.KiloHertz

	// Poll interval bounds while waiting for the ready byte.
	minPoll = time.Millisecond
	maxPoll = 8 * time.Millisecond
)

// Transport implements pn53x.Transport over an I2C bus. Every bus
// transaction is serialized; a Receive polling for the ready byte releases
// the bus between polls so an ACK can be written.
type Transport struct {
	dev     *i2c.Dev
	bus     i2c.BusCloser
	trace   *pn53x.TraceBuffer
	busName string
	busMu   syncutil.Mutex
	rxMu    syncutil.Mutex
	traceMu syncutil.Mutex
	closed  bool
}

// busPath strips an address suffix as in "/dev/i2c-1:0x24".
func busPath(name string) string {
	bus, _, _ := strings.Cut(name, ":")
	return bus
}

// New opens busName ("/dev/i2c-1" or "I2C1") and clocks it at 400 kHz.
func New(busName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	bus, err := i2creg.Open(busPath(busName))
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", busName, err)
	}
	if err := bus.SetSpeed(maxClock); err != nil {
		pn53x.Logger().Debug().Err(err).Str("bus", busName).Msg("keeping default I2C clock")
	}
	return NewWithBus(bus, busName), nil
}

// NewWithBus uses an already open bus. Close closes it.
func NewWithBus(bus i2c.BusCloser, name string) *Transport {
	return &Transport{
		dev:     &i2c.Dev{Addr: Address, Bus: bus},
		bus:     bus,
		busName: name,
		trace:   pn53x.NewTraceBuffer("I2C", name, 16),
	}
}

// Send writes one frame in a single write transaction.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.busMu.Lock()
	defer t.busMu.Unlock()
	if t.closed {
		return pn53x.ErrTransportClosed
	}

	t.record(func(tb *pn53x.TraceBuffer) { tb.RecordTX(data, describe(data)) })
	if err := t.dev.Tx(data, nil); err != nil {
		return t.traced(pn53x.NewTransportError("Send", t.busName, err, pn53x.ErrorTypeTransient))
	}
	return nil
}

// Receive polls the ready byte until the chip has a frame, then reads it in
// one transaction. A new read transaction restarts at the first byte of the
// chip's output, so the frame cannot be fetched in pieces.
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
			return nil, t.traced(pn53x.NewTransportNotReadyError("Receive", t.busName))
		}
		if err := sleepCtx(ctx, poll); err != nil {
			return nil, err
		}
		poll = min(2*poll, maxPoll)
	}
}

func (t *Transport) ready() (bool, error) {
	t.busMu.Lock()
	defer t.busMu.Unlock()
	if t.closed {
		return false, pn53x.ErrTransportClosed
	}

	var status [1]byte
	if err := t.dev.Tx(nil, status[:]); err != nil {
		return false, t.traced(pn53x.NewTransportError("Receive", t.busName, err, pn53x.ErrorTypeTransient))
	}
	return status[0] == statusReady, nil
}

func (t *Transport) readFrame() ([]byte, error) {
	buf := frame.GetFrameBuffer()
	defer frame.PutBuffer(buf)

	t.busMu.Lock()
	if t.closed {
		t.busMu.Unlock()
		return nil, pn53x.ErrTransportClosed
	}
	err := t.dev.Tx(nil, buf)
	t.busMu.Unlock()
	if err != nil {
		return nil, t.traced(pn53x.NewTransportError("Receive", t.busName, err, pn53x.ErrorTypeTransient))
	}
	if buf[0] != statusReady {
		return nil, t.traced(pn53x.NewTransportNotReadyError("Receive", t.busName))
	}

	start, end, err := frame.Scan(buf[1:])
	if err != nil {
		t.record(func(tb *pn53x.TraceBuffer) { tb.RecordRX(buf[1:17], "unframed") })
		return nil, t.traced(pn53x.NewFrameCorruptedError("Receive", t.busName))
	}
	f := append([]byte(nil), buf[1+start:1+end]...)
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

// Close releases the bus file descriptor. Reopening a bus whose previous
// descriptor leaked can wedge it.
func (t *Transport) Close() error {
	t.busMu.Lock()
	defer t.busMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.bus.Close(); err != nil {
		return fmt.Errorf("failed to close I2C bus: %w", err)
	}
	return nil
}

// Type implements pn53x.Transport.
func (*Transport) Type() pn53x.TransportType {
	return pn53x.TransportI2C
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
