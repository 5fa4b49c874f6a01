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

package pcsc

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	pn53x "github.com/ZaparooProject/go-pn53x"
	"github.com/ZaparooProject/go-pn53x/internal/frame"
	"github.com/ZaparooProject/go-pn53x/internal/syncutil"
	virt "github.com/ZaparooProject/go-pn53x/internal/testing"
	"github.com/ebfe/scard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeACR122 answers pseudo-APDUs the way an ACR122U does, passing PN53x
// commands to a simulated chip.
type fakeACR122 struct {
	pipe         *virt.BulkPipe
	cancelled    chan struct{}
	pending      []byte
	ioctls       []uint32
	status       []byte
	mu           syncutil.Mutex
	disconnected int
	chained      bool
}

func newFakeACR122(sim *virt.VirtualPN53x) *fakeACR122 {
	return &fakeACR122{
		pipe:      virt.NewBulkPipe(sim),
		cancelled: make(chan struct{}),
		chained:   true,
	}
}

func (f *fakeACR122) Transmit(apdu []byte) ([]byte, error) {
	switch {
	case bytes.Equal(apdu, apduFirmware):
		return []byte("ACR122U103"), nil
	case bytes.HasPrefix(apdu, apduLED):
		return []byte{0x90, 0x00}, nil
	case bytes.HasPrefix(apdu, apduGetResponse):
		f.mu.Lock()
		defer f.mu.Unlock()
		return append(f.pending, 0x90, 0x00), nil
	case bytes.HasPrefix(apdu, apduDirect):
		resp, err := f.run(apdu[5:])
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.status != nil {
			return f.status, nil
		}
		if f.chained {
			f.pending = resp
			return []byte{swMoreData, byte(len(resp))}, nil
		}
		return append(resp, 0x90, 0x00), nil
	}
	return []byte{0x6A, 0x81}, nil
}

func (f *fakeACR122) Control(ioctl uint32, in []byte) ([]byte, error) {
	f.mu.Lock()
	f.ioctls = append(f.ioctls, ioctl)
	f.chained = false
	f.mu.Unlock()
	return f.Transmit(in)
}

func (f *fakeACR122) Disconnect(scard.Disposition) error {
	f.mu.Lock()
	f.disconnected++
	f.mu.Unlock()
	return nil
}

// Cancel interrupts the command the chip is working on, like SCardCancel.
func (f *fakeACR122) Cancel() error {
	f.mu.Lock()
	close(f.cancelled)
	f.cancelled = make(chan struct{})
	f.mu.Unlock()
	return nil
}

func (f *fakeACR122) run(payload []byte) ([]byte, error) {
	f.mu.Lock()
	cancelled := f.cancelled
	f.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-cancelled:
			cancel()
		case <-ctx.Done():
		}
	}()

	raw, err := frame.Encode(payload)
	if err != nil {
		return nil, err
	}
	if _, err := f.pipe.WriteContext(ctx, raw); err != nil {
		return nil, err
	}
	buf := make([]byte, frame.FrameBufferSize)
	for {
		n, err := f.pipe.ReadContext(ctx, buf)
		if err != nil {
			return nil, scard.ErrCancelled
		}
		if frame.IsAck(buf[:n]) {
			continue
		}
		return frame.Decode(buf[:n])
	}
}

var firmwareCommand = []byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD4, 0x02, 0x2A, 0x00}

func TestTransport_Exchange(t *testing.T) {
	t.Parallel()

	card := newFakeACR122(virt.NewVirtualPN532())
	tr := NewWithCard(card, "ACS ACR122U PICC Interface 00 00")
	ctx := context.Background()

	require.NoError(t, tr.Send(ctx, firmwareCommand))
	ack, err := tr.Receive(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, frame.AckFrame, ack)

	resp, err := tr.Receive(ctx, time.Second)
	require.NoError(t, err)
	payload, err := frame.Decode(resp)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xD5, 0x03, 0x32, 0x01, 0x06, 0x07}, payload)

	require.NoError(t, tr.Send(ctx, frame.AckFrame), "host ACKs are dropped")
	require.NoError(t, tr.Send(ctx, frame.NackFrame))
	again, err := tr.Receive(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, resp, again, "NACK re-delivers the last reply")

	assert.Equal(t, pn53x.TransportPCSC, tr.Type())
	assert.Equal(t, pn53x.ChipPN532, tr.Chip())
}

func TestTransport_DirectMode(t *testing.T) {
	t.Parallel()

	card := newFakeACR122(virt.NewVirtualPN532())
	tr := NewWithCard(card, "reader", WithDirect(EscapeIOCTL()))
	ctx := context.Background()

	require.NoError(t, tr.Send(ctx, firmwareCommand))
	_, err := tr.Receive(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	_, err = tr.Receive(ctx, time.Second)
	require.NoError(t, err)

	card.mu.Lock()
	defer card.mu.Unlock()
	assert.Equal(t, []uint32{EscapeIOCTL()}, card.ioctls)
}

func TestTransport_ReaderStatusError(t *testing.T) {
	t.Parallel()

	card := newFakeACR122(virt.NewVirtualPN532())
	card.status = []byte{0x63, 0x00}
	tr := NewWithCard(card, "reader")
	ctx := context.Background()

	require.NoError(t, tr.Send(ctx, firmwareCommand))
	_, err := tr.Receive(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	_, err = tr.Receive(ctx, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "63 00")
	assert.True(t, pn53x.HasTrace(err))
}

func TestTransport_ReceiveTimeout(t *testing.T) {
	t.Parallel()

	tr := NewWithCard(newFakeACR122(virt.NewVirtualPN532()), "reader")
	_, err := tr.Receive(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, pn53x.ErrTransportTimeout)
}

func TestTransport_Close(t *testing.T) {
	t.Parallel()

	card := newFakeACR122(virt.NewVirtualPN532())
	released := 0
	tr := NewWithCard(card, "reader", WithCancel(card.Cancel), WithRelease(func() error {
		released++
		return nil
	}))

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.Equal(t, 1, card.disconnected)
	assert.Equal(t, 1, released)

	require.ErrorIs(t, tr.Send(context.Background(), firmwareCommand), pn53x.ErrTransportClosed)
	_, err := tr.Receive(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, pn53x.ErrTransportClosed)
}

func TestTransport_ReaderCommands(t *testing.T) {
	t.Parallel()

	tr := NewWithCard(newFakeACR122(virt.NewVirtualPN532()), "reader")
	fw, err := tr.Firmware()
	require.NoError(t, err)
	assert.Equal(t, "ACR122U103", fw)

	require.NoError(t, tr.SetLED(0x0F, [4]byte{0x01, 0x01, 0x01, 0x01}))
}

func TestReaders(t *testing.T) {
	t.Parallel()

	names := []string{
		"ACS ACR122U PICC Interface 00 00",
		"Yubico YubiKey OTP+FIDO+CCID 01 00",
		"ACS ACR122U 00 00",
	}
	assert.Equal(t, []string{names[0], names[2]}, Readers(names))
	assert.Empty(t, Readers(nil))
	assert.NotEqual(t, EscapeIOCTL(), uint32(0))
}

func TestCheckStatus(t *testing.T) {
	t.Parallel()

	data, err := checkStatus([]byte{0xD5, 0x03, 0x90, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xD5, 0x03}, data)

	_, err = checkStatus([]byte{0x90})
	require.ErrorIs(t, err, pn53x.ErrInvalidResponse)

	_, err = checkStatus([]byte{0x63, 0x00})
	require.Error(t, err)
	assert.False(t, errors.Is(err, pn53x.ErrInvalidResponse))
}
