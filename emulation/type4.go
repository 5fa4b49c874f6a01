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

// Package emulation turns a PN53x in target mode into an NFC Forum Type 4
// tag. The chip runs the ISO14443-4 block protocol itself; the tag only
// answers the ISO7816-4 APDUs a reader sends to find and read the NDEF file.
package emulation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	pn53x "github.com/ZaparooProject/go-pn53x"
	"github.com/ZaparooProject/go-pn53x/internal/syncutil"
	"github.com/hsanjuan/go-ndef"
)

// NDEFApplication is the AID of the NDEF tag application, version 2.0.
var NDEFApplication = []byte{0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01}

const (
	fileCC   uint16 = 0xE103
	fileNDEF uint16 = 0xE104
)

// Largest R-APDU data and C-APDU data the tag announces. Both stay below
// what fits into one normal PN53x frame.
const (
	maxLe = 0x0054
	maxLc = 0x00F0
)

// DefaultCapacity is the default NDEF file size, NLEN included.
const DefaultCapacity = 1024

const (
	insSelect       = 0xA4
	insReadBinary   = 0xB0
	insUpdateBinary = 0xD6
)

// Status words.
var (
	swOK              = []byte{0x90, 0x00}
	swWrongLength     = []byte{0x67, 0x00}
	swSecurityStatus  = []byte{0x69, 0x82}
	swNoCurrentEF     = []byte{0x69, 0x86}
	swFileNotFound    = []byte{0x6A, 0x82}
	swIncorrectP1P2   = []byte{0x6A, 0x86}
	swWrongParameters = []byte{0x6B, 0x00}
	swINSNotSupported = []byte{0x6D, 0x00}
	swCLANotSupported = []byte{0x6E, 0x00}
)

// Device is the target-mode part of *pn53x.Device.
type Device interface {
	TargetInit(ctx context.Context, t pn53x.Target, timeout time.Duration) ([]byte, error)
	TargetReceiveBytes(ctx context.Context, timeout time.Duration) ([]byte, error)
	TargetSendBytes(ctx context.Context, data []byte, timeout time.Duration) error
}

// Type4Tag is an emulated NFC Forum Type 4 tag holding one NDEF message.
type Type4Tag struct {
	onWrite     func(*ndef.Message)
	ndefFile    []byte
	uid         [3]byte
	selected    uint16
	mu          syncutil.Mutex
	appSelected bool
	writable    bool
}

// Option configures a Type4Tag.
type Option func(*Type4Tag) error

// WithUID sets the three UID bytes after the fixed 0x08 prefix.
func WithUID(uid [3]byte) Option {
	return func(t *Type4Tag) error {
		t.uid = uid
		return nil
	}
}

// WithCapacity sets the NDEF file size, NLEN included.
func WithCapacity(n int) Option {
	return func(t *Type4Tag) error {
		if n < 3 || n > 0x7FFF {
			return fmt.Errorf("%w: NDEF capacity %d", pn53x.ErrorInvalidArgument, n)
		}
		t.ndefFile = make([]byte, n)
		return nil
	}
}

// WithWritable lets readers replace the message. onWrite, if not nil, is
// called with every complete message a reader writes.
func WithWritable(onWrite func(*ndef.Message)) Option {
	return func(t *Type4Tag) error {
		t.writable = true
		t.onWrite = onWrite
		return nil
	}
}

// NewType4Tag creates a read-only tag carrying msg.
func NewType4Tag(msg *ndef.Message, opts ...Option) (*Type4Tag, error) {
	t := &Type4Tag{uid: [3]byte{0xAB, 0xCD, 0xEF}}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	if t.ndefFile == nil {
		t.ndefFile = make([]byte, DefaultCapacity)
	}

	raw, err := msg.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal NDEF message: %w", err)
	}
	if len(raw)+2 > len(t.ndefFile) {
		return nil, fmt.Errorf("%w: %d byte message does not fit into %d byte file",
			pn53x.ErrorInvalidArgument, len(raw), len(t.ndefFile))
	}
	t.ndefFile[0] = byte(len(raw) >> 8)
	t.ndefFile[1] = byte(len(raw))
	copy(t.ndefFile[2:], raw)
	return t, nil
}

// URIMessage builds a message holding one URI record.
func URIMessage(uri string) *ndef.Message {
	rec := ndef.NewURIRecord(uri)
	rec.SetMB(true)
	rec.SetME(true)
	return &ndef.Message{Records: []*ndef.Record{rec}}
}

// Target describes the ISO14443-4A card the chip presents.
func (t *Type4Tag) Target() pn53x.Target {
	return pn53x.Target{
		Info: &pn53x.ISO14443AInfo{
			ATQA: [2]byte{0x00, 0x04},
			UID:  []byte{0x08, t.uid[0], t.uid[1], t.uid[2]},
			SAK:  0x20,
			ATS:  []byte{0x75, 0x77, 0x81, 0x02, 0x80},
		},
		Modulation: pn53x.Modulation{Type: pn53x.ModISO14443A, BaudRate: pn53x.Baud106},
	}
}

func (t *Type4Tag) capabilityContainer() []byte {
	size := len(t.ndefFile)
	write := byte(0xFF)
	if t.writable {
		write = 0x00
	}
	// CCLEN, mapping version 2.0, MLe, MLc and the NDEF file control TLV.
	return []byte{
		0x00, 0x0F,
		0x20,
		byte(maxLe >> 8), byte(maxLe & 0xFF),
		byte(maxLc >> 8), byte(maxLc & 0xFF),
		0x04, 0x06,
		byte(fileNDEF >> 8), byte(fileNDEF & 0xFF),
		byte(size >> 8), byte(size),
		0x00, write,
	}
}

// Process answers one command APDU.
func (t *Type4Tag) Process(apdu []byte) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(apdu) < 4 {
		return swWrongLength
	}
	if apdu[0] != 0x00 {
		return swCLANotSupported
	}
	switch apdu[1] {
	case insSelect:
		return t.selectFile(apdu)
	case insReadBinary:
		return t.readBinary(apdu)
	case insUpdateBinary:
		return t.updateBinary(apdu)
	default:
		return swINSNotSupported
	}
}

// commandData returns the Lc-prefixed data field, or ok=false when the APDU
// is shorter than Lc claims.
func commandData(apdu []byte) ([]byte, bool) {
	if len(apdu) < 5 {
		return nil, false
	}
	lc := int(apdu[4])
	if len(apdu) < 5+lc {
		return nil, false
	}
	return apdu[5 : 5+lc], true
}

func (t *Type4Tag) selectFile(apdu []byte) []byte {
	data, ok := commandData(apdu)
	if !ok {
		return swWrongLength
	}
	switch apdu[2] {
	case 0x04:
		if !bytes.Equal(data, NDEFApplication) {
			t.appSelected = false
			return swFileNotFound
		}
		t.appSelected = true
		t.selected = 0
		return swOK
	case 0x00:
		if !t.appSelected || len(data) != 2 {
			return swFileNotFound
		}
		switch id := uint16(data[0])<<8 | uint16(data[1]); id {
		case fileCC, fileNDEF:
			t.selected = id
			return swOK
		default:
			return swFileNotFound
		}
	default:
		return swIncorrectP1P2
	}
}

func (t *Type4Tag) current() []byte {
	switch t.selected {
	case fileCC:
		return t.capabilityContainer()
	case fileNDEF:
		return t.ndefFile
	default:
		return nil
	}
}

func (t *Type4Tag) readBinary(apdu []byte) []byte {
	file := t.current()
	if file == nil {
		return swNoCurrentEF
	}
	offset := int(apdu[2])<<8 | int(apdu[3])
	le := maxLe
	if len(apdu) >= 5 && apdu[4] != 0 {
		le = min(int(apdu[4]), maxLe)
	}
	if offset > len(file) {
		return swWrongParameters
	}
	end := min(offset+le, len(file))
	return append(bytes.Clone(file[offset:end]), swOK...)
}

func (t *Type4Tag) updateBinary(apdu []byte) []byte {
	if t.selected == 0 {
		return swNoCurrentEF
	}
	if t.selected != fileNDEF || !t.writable {
		return swSecurityStatus
	}
	data, ok := commandData(apdu)
	if !ok {
		return swWrongLength
	}
	offset := int(apdu[2])<<8 | int(apdu[3])
	if offset+len(data) > len(t.ndefFile) {
		return swWrongParameters
	}
	copy(t.ndefFile[offset:], data)

	if offset < 2 && t.onWrite != nil {
		if msg, err := t.message(); err == nil && msg != nil {
			t.onWrite(msg)
		}
	}
	return swOK
}

// Message returns the message currently stored, or nil when NLEN is zero.
func (t *Type4Tag) Message() (*ndef.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.message()
}

func (t *Type4Tag) message() (*ndef.Message, error) {
	nlen := int(t.ndefFile[0])<<8 | int(t.ndefFile[1])
	if nlen == 0 {
		return nil, nil
	}
	if 2+nlen > len(t.ndefFile) {
		return nil, fmt.Errorf("NLEN %d exceeds file size %d", nlen, len(t.ndefFile))
	}
	msg := &ndef.Message{}
	if _, err := msg.Unmarshal(t.ndefFile[2 : 2+nlen]); err != nil {
		return nil, fmt.Errorf("failed to parse NDEF message: %w", err)
	}
	return msg, nil
}

// Serve emulates the tag for one reader. It returns nil once the reader
// releases the tag, and the error of TargetInit or the exchange otherwise.
// Cancel ctx or call AbortCommand on the device to stop waiting.
func (t *Type4Tag) Serve(ctx context.Context, dev Device) error {
	rx, err := dev.TargetInit(ctx, t.Target(), 0)
	if err != nil {
		return fmt.Errorf("failed to start emulation: %w", err)
	}

	t.mu.Lock()
	t.appSelected = false
	t.selected = 0
	t.mu.Unlock()

	for {
		tx := t.Process(rx)
		pn53x.Logger().Debug().Hex("c-apdu", rx).Hex("r-apdu", tx).Msg("type 4 exchange")
		if err := dev.TargetSendBytes(ctx, tx, 0); err != nil {
			return released(err)
		}
		rx, err = dev.TargetReceiveBytes(ctx, 0)
		if err != nil {
			return released(err)
		}
	}
}

func released(err error) error {
	if errors.Is(err, pn53x.ErrorTargetReleased) {
		return nil
	}
	return err
}
