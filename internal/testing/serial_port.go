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

package testing

import (
	"errors"
	"io"
	"time"

	"github.com/ZaparooProject/go-pn53x/internal/syncutil"
	"go.bug.st/serial"
)

var errPortClosed = errors.New("serial port closed")

// SerialPort adapts an io.ReadWriter, usually a VirtualPN53x or a
// JitteryConn, to serial.Port. Read waits up to the read timeout for data
// the way a real port does, returning 0 bytes when nothing arrived.
type SerialPort struct {
	backend     io.ReadWriter
	writes      [][]byte
	mu          syncutil.Mutex
	readTimeout time.Duration
	closed      bool
}

// NewSerialPort wraps backend with a 50ms read timeout.
func NewSerialPort(backend io.ReadWriter) *SerialPort {
	return &SerialPort{backend: backend, readTimeout: 50 * time.Millisecond}
}

// SetMode implements serial.Port.
func (*SerialPort) SetMode(*serial.Mode) error { return nil }

// Read implements serial.Port.
func (p *SerialPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	timeout := p.readTimeout
	p.mu.Unlock()

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if p.isClosed() {
			return 0, errPortClosed
		}
		n, err := p.backend.Read(buf)
		if n > 0 || err != nil {
			return n, err
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return 0, nil
		}
		time.Sleep(time.Millisecond)
	}
}

// Write implements serial.Port and records the bytes.
func (p *SerialPort) Write(data []byte) (int, error) {
	if p.isClosed() {
		return 0, errPortClosed
	}
	p.mu.Lock()
	p.writes = append(p.writes, append([]byte(nil), data...))
	p.mu.Unlock()
	return p.backend.Write(data)
}

// Writes returns a copy of every Write call so far.
func (p *SerialPort) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

func (p *SerialPort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Drain implements serial.Port.
func (*SerialPort) Drain() error { return nil }

// ResetInputBuffer implements serial.Port.
func (*SerialPort) ResetInputBuffer() error { return nil }

// ResetOutputBuffer implements serial.Port.
func (*SerialPort) ResetOutputBuffer() error { return nil }

// SetDTR implements serial.Port.
func (*SerialPort) SetDTR(bool) error { return nil }

// SetRTS implements serial.Port.
func (*SerialPort) SetRTS(bool) error { return nil }

// GetModemStatusBits implements serial.Port.
func (*SerialPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

// SetReadTimeout implements serial.Port. serial.NoTimeout blocks until data
// arrives or the port is closed.
func (p *SerialPort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.readTimeout = t
	p.mu.Unlock()
	return nil
}

// Close implements serial.Port. Pending and later reads fail.
func (p *SerialPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Break implements serial.Port.
func (*SerialPort) Break(time.Duration) error { return nil }

var _ serial.Port = (*SerialPort)(nil)
