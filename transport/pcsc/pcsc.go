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

// Package pcsc drives the PN532 inside ACS ACR122 readers through the PC/SC
// stack. PN53x commands travel as pseudo-APDUs (FF 00 00 00 Lc D4 ...), so
// the transport re-frames them for the session: every command is answered
// with a synthetic ACK followed by the chip's reply as a normal frame.
package pcsc

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"time"

	pn53x "github.com/ZaparooProject/go-pn53x"
	"github.com/ZaparooProject/go-pn53x/internal/frame"
	"github.com/ZaparooProject/go-pn53x/internal/syncutil"
	"github.com/ebfe/scard"
)

// Card is the part of *scard.Card the transport uses.
type Card interface {
	Transmit(cmd []byte) ([]byte, error)
	Control(ioctl uint32, in []byte) ([]byte, error)
	Disconnect(d scard.Disposition) error
}

var (
	apduDirect      = []byte{0xFF, 0x00, 0x00, 0x00}
	apduGetResponse = []byte{0xFF, 0xC0, 0x00, 0x00}
	apduFirmware    = []byte{0xFF, 0x00, 0x48, 0x00, 0x00}
	apduLED         = []byte{0xFF, 0x00, 0x40}
)

const (
	swMoreData = 0x61
	swOK1      = 0x90
	swOK2      = 0x00
)

// EscapeIOCTL is the CCID escape control code used to reach the PN532 when
// no card is present and the reader was opened with ShareDirect.
func EscapeIOCTL() uint32 {
	if runtime.GOOS == "windows" {
		return 0x31<<16 | 3500<<2
	}
	return 0x42000000 + 3500
}

type result struct {
	frame []byte
	err   error
	gen   uint64
}

// Transport implements pn53x.Transport on an ACR122.
type Transport struct {
	card    Card
	cancel  func() error
	release func() error
	trace   *pn53x.TraceBuffer
	wake    chan struct{}
	name    string
	queue   []result
	last    []byte
	gen     uint64
	ioctl   uint32
	direct  bool
	mu      syncutil.Mutex
	cardMu  syncutil.Mutex
	traceMu syncutil.Mutex
	closed  bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithDirect sends commands through the escape IOCTL instead of Transmit.
func WithDirect(ioctl uint32) Option {
	return func(t *Transport) {
		t.direct = true
		t.ioctl = ioctl
	}
}

// WithCancel sets the function that interrupts a blocked card call,
// normally (*scard.Context).Cancel.
func WithCancel(cancel func() error) Option {
	return func(t *Transport) { t.cancel = cancel }
}

// WithRelease sets a function run once on Close after the card is
// disconnected.
func WithRelease(release func() error) Option {
	return func(t *Transport) { t.release = release }
}

// NewWithCard wraps a connected card.
func NewWithCard(card Card, name string, opts ...Option) *Transport {
	t := &Transport{
		card:  card,
		name:  name,
		wake:  make(chan struct{}, 1),
		trace: pn53x.NewTraceBuffer("PCSC", name, 16),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send starts exchanging one information frame with the reader. The reply
// is delivered through Receive. Host ACKs cannot be forwarded over PC/SC
// and are dropped; a NACK re-delivers the last reply.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return pn53x.ErrTransportClosed
	}

	t.record(func(tb *pn53x.TraceBuffer) { tb.RecordTX(data, describe(data)) })
	switch {
	case frame.IsAck(data):
		return nil
	case frame.IsNack(data):
		if t.last != nil {
			t.push(result{frame: t.last, gen: t.gen})
		}
		return nil
	}

	payload, err := frame.Decode(data)
	if err != nil {
		return t.traced(pn53x.NewTransportError("Send", t.name, err, pn53x.ErrorTypePermanent))
	}

	t.gen++
	t.queue = t.queue[:0]
	t.push(result{frame: append([]byte(nil), frame.AckFrame...), gen: t.gen})

	gen := t.gen
	go func() {
		reply, err := t.exchange(payload)
		if err == nil {
			reply, err = frame.Encode(reply)
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		if gen != t.gen {
			return
		}
		if err == nil {
			t.last = reply
		}
		t.push(result{frame: reply, err: err, gen: gen})
	}()
	return nil
}

// push must be called with mu held.
func (t *Transport) push(r result) {
	t.queue = append(t.queue, r)
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// exchange runs one command APDU and returns the PN53x reply payload.
func (t *Transport) exchange(payload []byte) ([]byte, error) {
	apdu := append(append(bytes.Clone(apduDirect), byte(len(payload))), payload...)
	resp, err := t.call(apdu)
	if err != nil {
		return nil, err
	}
	if len(resp) == 2 && resp[0] == swMoreData {
		resp, err = t.call(append(bytes.Clone(apduGetResponse), resp[1]))
		if err != nil {
			return nil, err
		}
	}
	return checkStatus(resp)
}

func (t *Transport) call(apdu []byte) ([]byte, error) {
	t.cardMu.Lock()
	defer t.cardMu.Unlock()
	if t.direct {
		return t.card.Control(t.ioctl, apdu)
	}
	return t.card.Transmit(apdu)
}

func checkStatus(resp []byte) ([]byte, error) {
	if len(resp) < 2 {
		return nil, fmt.Errorf("%w: %d byte reply", pn53x.ErrInvalidResponse, len(resp))
	}
	sw1, sw2 := resp[len(resp)-2], resp[len(resp)-1]
	if sw1 != swOK1 || sw2 != swOK2 {
		return nil, fmt.Errorf("reader status %02X %02X", sw1, sw2)
	}
	return resp[:len(resp)-2], nil
}

// Receive returns the next frame: the synthetic ACK first, then the reply.
func (t *Transport) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if r, ok, err := t.pop(); ok || err != nil {
			if err != nil {
				return nil, err
			}
			if r.err != nil {
				return nil, t.traced(pn53x.NewTransportError("Receive", t.name, r.err, pn53x.ErrorTypeTransient))
			}
			t.record(func(tb *pn53x.TraceBuffer) { tb.RecordRX(r.frame, describe(r.frame)) })
			return r.frame, nil
		}

		select {
		case <-t.wake:
		case <-deadline:
			t.record(func(tb *pn53x.TraceBuffer) { tb.RecordTimeout("no reply from reader") })
			return nil, t.traced(pn53x.NewTimeoutError("Receive", t.name))
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *Transport) pop() (result, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return result{}, false, pn53x.ErrTransportClosed
	}
	for len(t.queue) > 0 {
		r := t.queue[0]
		t.queue = t.queue[1:]
		if r.gen == t.gen {
			return r, true, nil
		}
	}
	return result{}, false, nil
}

// AbortPending implements pn53x.Aborter. It interrupts a card call that is
// blocked in the PC/SC daemon, such as a target-mode wait.
func (t *Transport) AbortPending() error {
	t.mu.Lock()
	t.gen++
	t.queue = t.queue[:0]
	t.mu.Unlock()

	if t.cancel == nil {
		return nil
	}
	if err := t.cancel(); err != nil {
		return fmt.Errorf("failed to cancel PC/SC call: %w", err)
	}
	return nil
}

// Firmware returns the reader's firmware string, e.g. "ACR122U103".
func (t *Transport) Firmware() (string, error) {
	resp, err := t.call(bytes.Clone(apduFirmware))
	if err != nil {
		return "", fmt.Errorf("failed to read reader firmware: %w", err)
	}
	return string(bytes.TrimRight(resp, "\x00")), nil
}

// SetLED drives the reader's LEDs and buzzer. state and blink follow the
// ACR122 "Bi-Color LED and Buzzer Control" command.
func (t *Transport) SetLED(state byte, blink [4]byte) error {
	apdu := append(bytes.Clone(apduLED), state, 0x04)
	apdu = append(apdu, blink[:]...)
	resp, err := t.call(apdu)
	if err != nil {
		return fmt.Errorf("failed to set LED: %w", err)
	}
	if len(resp) < 2 || resp[0] != swOK1 {
		return fmt.Errorf("LED command rejected: % X", resp)
	}
	return nil
}

// Close disconnects from the reader.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.gen++
	t.queue = nil
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
	if t.cancel != nil {
		_ = t.cancel()
	}

	t.cardMu.Lock()
	err := t.card.Disconnect(scard.LeaveCard)
	t.cardMu.Unlock()
	if err != nil {
		err = fmt.Errorf("failed to disconnect from %s: %w", t.name, err)
	}
	if t.release != nil {
		if rerr := t.release(); rerr != nil && err == nil {
			err = fmt.Errorf("failed to release PC/SC context: %w", rerr)
		}
	}
	return err
}

// Type implements pn53x.Transport.
func (*Transport) Type() pn53x.TransportType {
	return pn53x.TransportPCSC
}

// Chip implements pn53x.ChipReporter. Every ACR122 carries a PN532.
func (*Transport) Chip() pn53x.ChipFamily {
	return pn53x.ChipPN532
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
	_ pn53x.Aborter      = (*Transport)(nil)
	_ pn53x.ChipReporter = (*Transport)(nil)
)
