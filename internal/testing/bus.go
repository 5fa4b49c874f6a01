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
	"fmt"
	"io"

	"github.com/ZaparooProject/go-pn53x/internal/bitframe"
	"github.com/ZaparooProject/go-pn53x/internal/frame"
	"github.com/ZaparooProject/go-pn53x/internal/syncutil"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// I2CAddress is the 7-bit address the PN532 answers on.
const I2CAddress = 0x24

// Status byte the chip puts in front of I2C reads and returns to SPI status
// reads once a frame is ready.
const statusReady = 0x01

// SPI operation bytes, before LSB-first mirroring.
const (
	spiDataWrite  = 0x01
	spiStatusRead = 0x02
	spiDataRead   = 0x03
)

var errBusClosed = errors.New("bus closed")

// outputQueue splits the simulator's output into frames. Over I2C and SPI the
// chip presents one frame per read, and a read that is too short leaves it
// in place.
type outputQueue struct {
	src io.Reader
	buf []byte
}

func (q *outputQueue) head() []byte {
	chunk := make([]byte, frame.FrameBufferSize)
	for {
		n, _ := q.src.Read(chunk)
		if n == 0 {
			break
		}
		q.buf = append(q.buf, chunk[:n]...)
	}
	for {
		start, end, err := frame.Scan(q.buf)
		switch {
		case err == nil:
			q.buf = q.buf[start:]
			return q.buf[:end-start]
		case errors.Is(err, frame.ErrMalformed):
			q.buf = q.buf[start+1:]
		default:
			return nil
		}
	}
}

func (q *outputQueue) pop(n int) {
	q.buf = q.buf[n:]
}

// I2CBus is an i2c.BusCloser with a VirtualPN53x at I2CAddress. Reads
// return the ready byte followed by the next frame, or a zero status byte
// while nothing is queued.
type I2CBus struct {
	sim    *VirtualPN53x
	out    outputQueue
	mu     syncutil.Mutex
	speed  physic.Frequency
	closed bool
}

// NewI2CBus attaches sim to a virtual bus.
func NewI2CBus(sim *VirtualPN53x) *I2CBus {
	return &I2CBus{sim: sim, out: outputQueue{src: sim}}
}

// String implements i2c.Bus.
func (*I2CBus) String() string { return "virtual-i2c" }

// Tx implements i2c.Bus.
func (b *I2CBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errBusClosed
	}
	if addr != I2CAddress {
		return fmt.Errorf("no device at address 0x%02X", addr)
	}
	if len(w) > 0 {
		if _, err := b.sim.Write(w); err != nil {
			return err
		}
	}
	if len(r) == 0 {
		return nil
	}

	clear(r)
	head := b.out.head()
	if head == nil {
		return nil
	}
	r[0] = statusReady
	n := copy(r[1:], head)
	if n == len(head) {
		b.out.pop(n)
	}
	return nil
}

// SetSpeed implements i2c.Bus.
func (b *I2CBus) SetSpeed(f physic.Frequency) error {
	b.mu.Lock()
	b.speed = f
	b.mu.Unlock()
	return nil
}

// Speed returns the last clock set with SetSpeed.
func (b *I2CBus) Speed() physic.Frequency {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speed
}

// Close implements io.Closer.
func (b *I2CBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

var _ i2c.BusCloser = (*I2CBus)(nil)

// SPIConn is an spi.Conn wired to a VirtualPN53x. Every byte on the bus is
// LSB first, so the first byte of each transfer is the mirrored operation.
type SPIConn struct {
	sim *VirtualPN53x
	out outputQueue
	mu  syncutil.Mutex
}

// NewSPIConn attaches sim to a virtual SPI connection.
func NewSPIConn(sim *VirtualPN53x) *SPIConn {
	return &SPIConn{sim: sim, out: outputQueue{src: sim}}
}

// String implements conn.Resource.
func (*SPIConn) String() string { return "virtual-spi" }

// Duplex implements conn.Conn.
func (*SPIConn) Duplex() conn.Duplex { return conn.Full }

// Tx implements conn.Conn.
func (c *SPIConn) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(w) == 0 {
		return errors.New("spi transfer without operation byte")
	}
	clear(r)

	switch bitframe.Mirror(w[0]) {
	case spiDataWrite:
		data := append([]byte(nil), w[1:]...)
		bitframe.MirrorBytes(data)
		_, err := c.sim.Write(data)
		return err
	case spiStatusRead:
		if len(r) > 1 && c.out.head() != nil {
			r[1] = bitframe.Mirror(statusReady)
		}
	case spiDataRead:
		head := c.out.head()
		if head == nil || len(r) < 2 {
			return nil
		}
		n := copy(r[1:], head)
		bitframe.MirrorBytes(r[1 : 1+n])
		if n == len(head) {
			c.out.pop(n)
		}
	}
	return nil
}

// TxPackets implements spi.Conn.
func (c *SPIConn) TxPackets(packets []spi.Packet) error {
	for _, p := range packets {
		if err := c.Tx(p.W, p.R); err != nil {
			return err
		}
	}
	return nil
}

var _ spi.Conn = (*SPIConn)(nil)

// SPIPort is an spi.PortCloser that hands out one SPIConn.
type SPIPort struct {
	Conn   *SPIConn
	mu     syncutil.Mutex
	closed bool
}

// NewSPIPort creates a port whose Connect returns a connection to sim.
func NewSPIPort(sim *VirtualPN53x) *SPIPort {
	return &SPIPort{Conn: NewSPIConn(sim)}
}

// String implements spi.Port.
func (*SPIPort) String() string { return "virtual-spi" }

// Connect implements spi.Port.
func (p *SPIPort) Connect(physic.Frequency, spi.Mode, int) (spi.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errBusClosed
	}
	return p.Conn, nil
}

// LimitSpeed implements spi.Port.
func (*SPIPort) LimitSpeed(physic.Frequency) error { return nil }

// Close implements io.Closer.
func (p *SPIPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (p *SPIPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

var _ spi.PortCloser = (*SPIPort)(nil)
