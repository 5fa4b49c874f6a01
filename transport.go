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

package pn53x

import (
	"context"
	"time"

	"github.com/ZaparooProject/go-pn53x/internal/frame"
	"github.com/ZaparooProject/go-pn53x/internal/syncutil"
)

// Transport moves whole frames between the host and the chip. Send writes one
// frame. Receive returns the next complete frame (ACK, NACK or information
// frame) exactly as it arrived, or an error once timeout elapses. A timeout of 0
// waits until a frame arrives or ctx is done.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close() error
	Type() TransportType
}

// Aborter is implemented by transports that can unblock a pending Receive from
// another goroutine. The blocked Receive returns ErrorAborted.
type Aborter interface {
	AbortPending() error
}

// TransportType represents the kind of link to the chip.
type TransportType string

const (
	// TransportUART represents a serial (HSU) link.
	TransportUART TransportType = "uart"
	// TransportI2C represents an I2C bus.
	TransportI2C TransportType = "i2c"
	// TransportSPI represents an SPI bus.
	TransportSPI TransportType = "spi"
	// TransportUSB represents a PN531/PN533 USB bulk link.
	TransportUSB TransportType = "usb"
	// TransportPCSC represents a chip behind a PC/SC reader (ACR122).
	TransportPCSC TransportType = "pcsc"
	// TransportMock represents a mock transport for testing.
	TransportMock TransportType = "mock"
)

// MockTransport is a scripted chip for tests. Every information frame sent to
// it is answered with an ACK and the configured reply for its command code.
type MockTransport struct {
	responses map[byte][]byte
	scripted  map[byte][][]byte
	registers map[uint16]byte
	errorMap  map[byte]error
	rawReply  map[byte][][]byte
	callCount map[byte]int
	wake      chan struct{}
	sent      [][]byte
	queue     [][]byte
	mu        syncutil.Mutex
	closed    bool
	noReply   map[byte]bool
}

// NewMockTransport creates a mock that answers status commands with D5 cmd+1
// 00, keeps a register file for ReadRegister and WriteRegister, and answers
// everything else with an empty reply.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		responses: make(map[byte][]byte),
		scripted:  make(map[byte][][]byte),
		registers: make(map[uint16]byte),
		errorMap:  make(map[byte]error),
		rawReply:  make(map[byte][][]byte),
		callCount: make(map[byte]int),
		noReply:   make(map[byte]bool),
		wake:      make(chan struct{}, 1),
	}
}

// Send records data and, for an information frame, queues the scripted reply.
func (m *MockTransport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrTransportClosed
	}
	m.sent = append(m.sent, append([]byte(nil), data...))

	if frame.IsAck(data) || frame.IsNack(data) {
		return nil
	}
	payload, err := frame.Decode(data)
	if err != nil || len(payload) < 2 {
		return NewFrameCorruptedError("Send", "mock")
	}

	cmd := payload[1]
	m.callCount[cmd]++
	if err, ok := m.errorMap[cmd]; ok {
		return err
	}

	if raw, ok := m.rawReply[cmd]; ok {
		m.queue = append(m.queue, raw...)
		m.signal()
		return nil
	}

	m.queue = append(m.queue, append([]byte(nil), frame.AckFrame...))
	if m.noReply[cmd] {
		m.signal()
		return nil
	}

	reply := append([]byte{frame.PN53xToHost, cmd + 1}, m.responseFor(cmd, payload[2:])...)
	encoded, err := frame.Encode(reply)
	if err != nil {
		return err
	}
	m.queue = append(m.queue, encoded)
	m.signal()
	return nil
}

func (m *MockTransport) responseFor(cmd byte, args []byte) []byte {
	if queued := m.scripted[cmd]; len(queued) > 0 {
		m.scripted[cmd] = queued[1:]
		return queued[0]
	}
	if resp, ok := m.responses[cmd]; ok {
		return resp
	}
	switch cmd {
	case cmdReadRegister:
		var out []byte
		for i := 0; i+1 < len(args); i += 2 {
			out = append(out, m.registers[uint16(args[i])<<8|uint16(args[i+1])])
		}
		return out
	case cmdWriteRegister:
		for i := 0; i+2 < len(args); i += 3 {
			m.registers[uint16(args[i])<<8|uint16(args[i+1])] = args[i+2]
		}
		return nil
	}
	if HasStatusByte(cmd) {
		return []byte{0x00}
	}
	return nil
}

func (m *MockTransport) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Receive pops the next queued frame, waiting up to timeout.
func (m *MockTransport) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		m.mu.Lock()
		switch {
		case m.closed:
			m.mu.Unlock()
			return nil, ErrTransportClosed
		case len(m.queue) > 0:
			next := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return next, nil
		}
		m.mu.Unlock()

		select {
		case <-m.wake:
		case <-deadline:
			return nil, NewTimeoutError("Receive", "mock")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close implements Transport.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.signal()
	return nil
}

// Type implements Transport.
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// SetResponse sets the reply data that follows D5 cmd+1 for cmd.
func (m *MockTransport) SetResponse(cmd byte, response []byte) {
	m.mu.Lock()
	m.responses[cmd] = response
	m.mu.Unlock()
}

// QueueResponses scripts successive replies for cmd. Once they are used up
// the mock falls back to SetResponse or its defaults.
func (m *MockTransport) QueueResponses(cmd byte, responses ...[]byte) {
	m.mu.Lock()
	m.scripted[cmd] = append(m.scripted[cmd], responses...)
	m.mu.Unlock()
}

// SetRegister presets a register value.
func (m *MockTransport) SetRegister(addr uint16, value byte) {
	m.mu.Lock()
	m.registers[addr] = value
	m.mu.Unlock()
}

// Register returns the current value of a register.
func (m *MockTransport) Register(addr uint16) byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registers[addr]
}

// SetError makes Send fail with err for cmd.
func (m *MockTransport) SetError(cmd byte, err error) {
	m.mu.Lock()
	m.errorMap[cmd] = err
	m.mu.Unlock()
}

// SetRawReplies replaces the ACK and reply for cmd with the given frames.
func (m *MockTransport) SetRawReplies(cmd byte, frames ...[]byte) {
	m.mu.Lock()
	m.rawReply[cmd] = frames
	m.mu.Unlock()
}

// SetNoReply makes the mock ACK cmd and then stay silent.
func (m *MockTransport) SetNoReply(cmd byte) {
	m.mu.Lock()
	m.noReply[cmd] = true
	m.mu.Unlock()
}

// GetCallCount returns how many times cmd was sent.
func (m *MockTransport) GetCallCount(cmd byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount[cmd]
}

// Sent returns copies of every frame written so far.
func (m *MockTransport) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

// AckCount returns how many ACK frames the host has written.
func (m *MockTransport) AckCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.sent {
		if frame.IsAck(f) {
			n++
		}
	}
	return n
}

// Commands returns the decoded payloads of every information frame sent.
func (m *MockTransport) Commands() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]byte
	for _, f := range m.sent {
		if frame.IsAck(f) || frame.IsNack(f) {
			continue
		}
		if payload, err := frame.Decode(f); err == nil {
			out = append(out, payload)
		}
	}
	return out
}

// LastCommand returns the decoded payload of the most recent information frame.
func (m *MockTransport) LastCommand() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if payload, err := frame.Decode(m.sent[i]); err == nil {
			return payload
		}
	}
	return nil
}

// Reset clears counters, queued frames and the sent log.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	m.callCount = make(map[byte]int)
	m.sent = nil
	m.queue = nil
	m.closed = false
	m.mu.Unlock()
}
