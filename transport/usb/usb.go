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

// Package usb talks to PN531 and PN533 readers over their USB bulk
// endpoints. Each bulk transfer carries whole PN53x frames, so no wake-up or
// status polling is needed.
package usb

import (
	"context"
	"errors"
	"fmt"
	"time"

	pn53x "github.com/ZaparooProject/go-pn53x"
	"github.com/ZaparooProject/go-pn53x/internal/frame"
	"github.com/ZaparooProject/go-pn53x/internal/syncutil"
)

// writeTimeout bounds a single bulk OUT transfer.
const writeTimeout = time.Second

// BulkIn reads from a bulk IN endpoint. *gousb.InEndpoint implements it.
type BulkIn interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
}

// BulkOut writes to a bulk OUT endpoint. *gousb.OutEndpoint implements it.
type BulkOut interface {
	WriteContext(ctx context.Context, buf []byte) (int, error)
}

// Transport implements pn53x.Transport over a pair of bulk endpoints.
type Transport struct {
	in      BulkIn
	out     BulkOut
	release func() error
	trace   *pn53x.TraceBuffer
	name    string
	rx      []byte
	chip    pn53x.ChipFamily
	rxMu    syncutil.Mutex
	txMu    syncutil.Mutex
	traceMu syncutil.Mutex
	closeMu syncutil.RWMutex
	closed  bool
}

// NewWithEndpoints wraps already claimed endpoints. release, if not nil,
// runs once on Close.
func NewWithEndpoints(in BulkIn, out BulkOut, chip pn53x.ChipFamily, name string, release func() error) *Transport {
	return &Transport{
		in:      in,
		out:     out,
		chip:    chip,
		name:    name,
		release: release,
		trace:   pn53x.NewTraceBuffer("USB", name, 16),
	}
}

// Send writes one frame to the OUT endpoint.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.isClosed() {
		return pn53x.ErrTransportClosed
	}

	t.txMu.Lock()
	defer t.txMu.Unlock()

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	t.record(func(tb *pn53x.TraceBuffer) { tb.RecordTX(data, describe(data)) })
	n, err := t.out.WriteContext(wctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return t.traced(pn53x.NewTransportError("Send", t.name, err, pn53x.ErrorTypeTransient))
	}
	if n != len(data) {
		return t.traced(pn53x.NewTransportWriteError("Send", t.name))
	}
	return nil
}

// Receive returns the next frame from the IN endpoint.
func (t *Transport) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	t.rxMu.Lock()
	defer t.rxMu.Unlock()

	rctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	buf := frame.GetFrameBuffer()
	defer frame.PutBuffer(buf)

	for {
		if f := t.nextFrame(); f != nil {
			t.record(func(tb *pn53x.TraceBuffer) { tb.RecordRX(f, describe(f)) })
			return f, nil
		}
		if t.isClosed() {
			return nil, pn53x.ErrTransportClosed
		}
		if rctx.Err() != nil {
			return nil, t.readError(ctx, rctx, rctx.Err())
		}

		n, err := t.in.ReadContext(rctx, buf)
		if n > 0 {
			t.rx = append(t.rx, buf[:n]...)
		}
		if err != nil && n == 0 {
			return nil, t.readError(ctx, rctx, err)
		}
	}
}

// readError maps a failed bulk read. The caller's context wins over the
// receive deadline, which wins over the endpoint error.
func (t *Transport) readError(ctx, rctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(rctx.Err(), context.DeadlineExceeded):
		t.record(func(tb *pn53x.TraceBuffer) {
			tb.RecordTimeout(fmt.Sprintf("%d bytes pending", len(t.rx)))
		})
		return t.traced(pn53x.NewTimeoutError("Receive", t.name))
	case t.isClosed():
		return pn53x.ErrTransportClosed
	default:
		return t.traced(pn53x.NewTransportError("Receive", t.name, err, pn53x.ErrorTypePermanent))
	}
}

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

// Close releases the USB interface and device.
func (t *Transport) Close() error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	t.closeMu.Unlock()

	if t.release == nil {
		return nil
	}
	if err := t.release(); err != nil {
		return fmt.Errorf("failed to release USB device %s: %w", t.name, err)
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.closeMu.RLock()
	defer t.closeMu.RUnlock()
	return t.closed
}

// Type implements pn53x.Transport.
func (*Transport) Type() pn53x.TransportType {
	return pn53x.TransportUSB
}

// Chip implements pn53x.ChipReporter. USB readers are identified by their
// vendor and product ID, so the family is known before the first command.
func (t *Transport) Chip() pn53x.ChipFamily {
	return t.chip
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

var (
	_ pn53x.Transport    = (*Transport)(nil)
	_ pn53x.ChipReporter = (*Transport)(nil)
)
