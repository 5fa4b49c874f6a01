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
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-pn53x/internal/bitframe"
)

// DEPPollPeriod is how long each InJumpForDEP attempt of PollDEPTarget lasts.
const DEPPollPeriod = 300 * time.Millisecond

// Default initiator data for InListPassiveTarget.
var (
	// FeliCa polling: system code FFFF, request code 01, time slot 0.
	defaultFeliCaPolling = []byte{0x00, 0xFF, 0xFF, 0x01, 0x00}
	// ISO14443B: AFI 0, all application families.
	defaultISO14443BAFI = []byte{0x00}
	// NFCIP-1 passive polling at 212/424 kbps. The last byte is the TSN.
	depPassiveInitiatorData = []byte{0x00, 0xFF, 0xFF, 0x00, 0x0F}
)

// InListPassiveTarget BrTy values.
const (
	brTy106A       byte = 0x00
	brTy212FeliCa  byte = 0x01
	brTy424FeliCa  byte = 0x02
	brTy106B       byte = 0x03
	brTy106Jewel   byte = 0x04
	brTy212B       byte = 0x06
	brTy424B       byte = 0x07
	brTy847B       byte = 0x08
)

// maxGeneralBytes bounds the ATR_REQ general bytes.
const maxGeneralBytes = 48

// InitiatorInit puts the chip into reader mode with the default settings:
// field cycled, infinite select, automatic RATS, ISO14443-A at 106 kbps, CRC
// and parity handled by the chip, easy framing and Crypto1 off.
func (d *Device) InitiatorInit(ctx context.Context) error {
	d.emulated = nil
	d.targetMode = 0

	if err := d.session.SetRegister(ctx, RegCIUControl, symbolInitiator, symbolInitiator); err != nil {
		return fmt.Errorf("set initiator mode: %w", err)
	}

	steps := []struct {
		prop   Property
		enable bool
	}{
		{PropertyActivateField, false},
		{PropertyActivateField, true},
		{PropertyInfiniteSelect, true},
		{PropertyAutoISO14443_4, true},
		{PropertyForceISO14443A, true},
		{PropertyForceSpeed106, true},
		{PropertyAcceptInvalidFrames, false},
		{PropertyAcceptMultipleFrames, false},
		{PropertyHandleCRC, true},
		{PropertyHandleParity, true},
		{PropertyEasyFraming, true},
		{PropertyActivateCrypto1, false},
	}
	for _, step := range steps {
		if err := d.SetProperty(ctx, step.prop, step.enable); err != nil {
			return fmt.Errorf("initiator init %s=%t: %w", step.prop, step.enable, err)
		}
	}
	return nil
}

// passiveBrTy returns the InListPassiveTarget BrTy byte for m.
func passiveBrTy(chip ChipFamily, m Modulation) (byte, error) {
	unsupported := func() (byte, error) {
		return 0, newError("InListPassiveTarget", ErrorNotSupportedByDevice,
			fmt.Errorf("%s cannot select %s", chip, m))
	}
	invalid := func() (byte, error) {
		return 0, newError("InListPassiveTarget", ErrorInvalidArgument,
			fmt.Errorf("no passive selection for %s", m))
	}

	if chip == ChipPN531 && m.Type != ModISO14443A && m.Type != ModFeliCa {
		return unsupported()
	}

	switch m.Type {
	case ModISO14443A:
		if m.BaudRate != Baud106 && m.BaudRate != BaudUndefined {
			return invalid()
		}
		return brTy106A, nil
	case ModJewel:
		return brTy106Jewel, nil
	case ModFeliCa:
		switch m.BaudRate {
		case Baud212:
			return brTy212FeliCa, nil
		case Baud424:
			return brTy424FeliCa, nil
		default:
			return invalid()
		}
	case ModISO14443B:
		switch m.BaudRate {
		case Baud106, BaudUndefined:
			return brTy106B, nil
		case Baud212:
			if chip == ChipPN533 {
				return brTy212B, nil
			}
		case Baud424:
			if chip == ChipPN533 {
				return brTy424B, nil
			}
		case Baud847:
			if chip == ChipPN533 {
				return brTy847B, nil
			}
		}
		return unsupported()
	case ModISO14443BI, ModISO14443B2SR, ModISO14443B2CT:
		return unsupported()
	default:
		return invalid()
	}
}

// cascadeUID re-inserts the cascade tags a 7 or 10 byte UID needs to be
// used as InListPassiveTarget initiator data.
func cascadeUID(uid []byte) ([]byte, error) {
	switch len(uid) {
	case 0, 4:
		return uid, nil
	case 7:
		return append([]byte{cascadeTag}, uid...), nil
	case 10:
		out := make([]byte, 0, 12)
		out = append(out, cascadeTag)
		out = append(out, uid[:3]...)
		out = append(out, cascadeTag)
		return append(out, uid[3:]...), nil
	default:
		return nil, newError("InListPassiveTarget", ErrorInvalidArgument,
			fmt.Errorf("%d byte UID", len(uid)))
	}
}

func passiveInitData(m Modulation, initData []byte) ([]byte, error) {
	switch m.Type {
	case ModISO14443A:
		return cascadeUID(initData)
	case ModFeliCa:
		if initData == nil {
			return defaultFeliCaPolling, nil
		}
	case ModISO14443B:
		if initData == nil {
			return defaultISO14443BAFI, nil
		}
	}
	return initData, nil
}

// selectTimeout is unbounded while infinite select is on: the chip keeps
// trying until a target shows up or the command is aborted.
func (d *Device) selectTimeout() time.Duration {
	if d.infiniteSelect {
		return 0
	}
	return d.timeout()
}

// SelectPassiveTarget selects one target of modulation m. initData is the
// UID to select for ISO14443A, the polling request for FeliCa or the AFI for
// ISO14443B; nil uses the defaults. It returns nil without error when no
// target answered.
func (d *Device) SelectPassiveTarget(ctx context.Context, m Modulation, initData []byte) (*Target, error) {
	chip := d.Chip()
	brTy, err := passiveBrTy(chip, m)
	if err != nil {
		return nil, err
	}
	data, err := passiveInitData(m, initData)
	if err != nil {
		return nil, err
	}

	args := append([]byte{0x01, brTy}, data...)
	res, err := d.session.Command(ctx, cmdInListPassiveTarget, args, d.selectTimeout())
	if err != nil {
		return nil, err
	}
	if len(res) == 0 || res[0] == 0 {
		return nil, nil
	}

	t, err := DecodeTarget(res[1:], chip, m.Type)
	if err != nil {
		return nil, err
	}
	t.Modulation = m
	return &t, nil
}

// Deselect deselects all targets, keeping their state on the chip.
func (d *Device) Deselect(ctx context.Context) error {
	_, err := d.session.Command(ctx, cmdInDeselect, []byte{0x00}, d.timeout())
	return err
}

// Release releases all targets.
func (d *Device) Release(ctx context.Context) error {
	_, err := d.session.Command(ctx, cmdInRelease, []byte{0x00}, d.timeout())
	return err
}

// singleResult reports modulations whose selection cannot walk past the
// first target, so listing stops after one.
func singleResult(mt ModulationType) bool {
	switch mt {
	case ModFeliCa, ModJewel, ModISO14443BI, ModISO14443B2SR, ModISO14443B2CT:
		return true
	default:
		return false
	}
}

// ListPassiveTargets selects and deselects targets one at a time until none
// answer, one is seen twice or limit targets are collected. Infinite select
// is switched off for the duration.
func (d *Device) ListPassiveTargets(ctx context.Context, m Modulation, limit int) ([]Target, error) {
	if limit <= 0 {
		return nil, newError("ListPassiveTargets", ErrorInvalidArgument, fmt.Errorf("limit %d", limit))
	}

	restore := d.infiniteSelect
	if err := d.SetProperty(ctx, PropertyInfiniteSelect, false); err != nil {
		return nil, err
	}

	var found []Target
	var listErr error
	for len(found) < limit {
		t, err := d.SelectPassiveTarget(ctx, m, nil)
		if err != nil {
			if stopsListing(ctx, err) {
				listErr = err
			}
			break
		}
		if t == nil {
			break
		}
		if err := d.Deselect(ctx); err != nil {
			Logger().Debug().Err(err).Msg("deselect after select failed")
		}
		if seen(found, *t) {
			break
		}
		found = append(found, *t)
		if singleResult(m.Type) {
			break
		}
	}

	if restore {
		if err := d.SetProperty(ctx, PropertyInfiniteSelect, true); err != nil && listErr == nil {
			listErr = err
		}
	}
	return found, listErr
}

// stopsListing tells a failed selection that simply ends the list apart from
// one the caller must see.
func stopsListing(ctx context.Context, err error) bool {
	return ctx.Err() != nil || IsFatal(err) || errors.Is(err, ErrorAborted)
}

func seen(found []Target, t Target) bool {
	for i := range found {
		if found[i].Equal(t) {
			return true
		}
	}
	return false
}

func depBaudRate(br BaudRate) (byte, error) {
	switch br {
	case Baud106:
		return 0x00, nil
	case Baud212:
		return 0x01, nil
	case Baud424:
		return 0x02, nil
	default:
		return 0, newError("InJumpForDEP", ErrorInvalidArgument, fmt.Errorf("DEP at %s", br))
	}
}

// SelectDEPTarget activates a D.E.P. peer with InJumpForDEP. initiator may
// carry an NFCID3 and general bytes to send; it may be nil. It returns nil
// without error when the chip reports no peer.
func (d *Device) SelectDEPTarget(
	ctx context.Context, mode DEPMode, br BaudRate, initiator *DEPInfo, timeout time.Duration,
) (*Target, error) {
	if mode != DEPPassive && mode != DEPActive {
		return nil, newError("InJumpForDEP", ErrorInvalidArgument, fmt.Errorf("DEP mode %s", mode))
	}
	brByte, err := depBaudRate(br)
	if err != nil {
		return nil, err
	}

	var next byte
	var optional []byte
	if mode == DEPPassive && br != Baud106 {
		next |= 0x01
		optional = append(optional, depPassiveInitiatorData...)
	}
	if initiator != nil {
		if initiator.NFCID3 != [10]byte{} {
			next |= 0x02
			optional = append(optional, initiator.NFCID3[:]...)
		}
		if n := len(initiator.GeneralBytes); n > 0 {
			if n > maxGeneralBytes {
				return nil, newError("InJumpForDEP", ErrorInvalidArgument, fmt.Errorf("%d general bytes", n))
			}
			next |= 0x04
			optional = append(optional, initiator.GeneralBytes...)
		}
	}

	args := append([]byte{flag(mode == DEPActive, 0x01), brByte, next}, optional...)
	res, err := d.session.Command(ctx, cmdInJumpForDEP, args, timeout)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}

	t, err := DecodeTarget(res, d.Chip(), ModDEP)
	if err != nil {
		return nil, err
	}
	t.Modulation = Modulation{Type: ModDEP, BaudRate: br}
	t.DEP().Mode = mode
	return &t, nil
}

// PollDEPTarget repeats SelectDEPTarget in DEPPollPeriod slices until a peer
// answers or timeout is used up, in which case it returns nil without error.
func (d *Device) PollDEPTarget(
	ctx context.Context, mode DEPMode, br BaudRate, initiator *DEPInfo, timeout time.Duration,
) (*Target, error) {
	restore := d.infiniteSelect
	if err := d.SetProperty(ctx, PropertyInfiniteSelect, true); err != nil {
		return nil, err
	}
	defer func() {
		if err := d.SetProperty(ctx, PropertyInfiniteSelect, restore); err != nil {
			Logger().Debug().Err(err).Msg("restore infinite select failed")
		}
	}()

	for remaining := timeout; remaining > 0; remaining -= DEPPollPeriod {
		t, err := d.SelectDEPTarget(ctx, mode, br, initiator, DEPPollPeriod)
		if err != nil {
			if CodeOf(err) != ErrorTimeout {
				return nil, err
			}
			continue
		}
		if t != nil {
			return t, nil
		}
	}
	return nil, nil
}

// TransceiveBytes sends tx to the selected target and returns its answer.
// With easy framing the chip handles the ISO14443-4 block protocol.
func (d *Device) TransceiveBytes(ctx context.Context, tx []byte, timeout time.Duration) ([]byte, error) {
	s := d.session
	if !s.HandleParity() {
		return nil, newError("TransceiveBytes", ErrorInvalidArgument,
			errors.New("byte exchange needs chip-handled parity, use TransceiveBits"))
	}
	if err := s.SetTxBits(ctx, 0); err != nil {
		return nil, err
	}

	if s.EasyFraming() {
		// Target 1 is the one selected last.
		return s.Command(ctx, cmdInDataExchange, append([]byte{0x01}, tx...), timeout)
	}
	return s.Command(ctx, cmdInCommunicateThru, tx, timeout)
}

// TransceiveBits sends txBits bits of tx as a raw frame and returns the raw
// answer. When parity is handled by the host, txPar holds one parity bit per
// full byte and the returned parity is filled the same way.
func (d *Device) TransceiveBits(
	ctx context.Context, tx []byte, txBits int, txPar []byte,
) (rx []byte, rxBits int, rxPar []byte, err error) {
	s := d.session
	hostParity := !s.HandleParity()

	frameData, frameBits := tx, txBits
	if hostParity {
		frameData, frameBits, err = bitframe.Wrap(tx, txBits, txPar)
		if err != nil {
			return nil, 0, nil, newError("TransceiveBits", ErrorInvalidArgument, err)
		}
	} else if (txBits+7)/8 > len(tx) {
		return nil, 0, nil, newError("TransceiveBits", ErrorInvalidArgument,
			fmt.Errorf("%d bits in %d bytes", txBits, len(tx)))
	}
	frameData = frameData[:(frameBits+7)/8]

	if err := s.SetTxBits(ctx, byte(frameBits%8)); err != nil {
		return nil, 0, nil, err
	}
	data, err := s.Command(ctx, cmdInCommunicateThru, frameData, d.timeout())
	if err != nil {
		return nil, 0, nil, err
	}
	rx, rxBits, rxPar, err = d.receivedBits(ctx, data, hostParity)
	if err != nil {
		return nil, 0, nil, err
	}
	return rx, rxBits, rxPar, nil
}

// receivedBits reads the number of valid bits in the last received byte and
// strips host parity if needed.
func (d *Device) receivedBits(ctx context.Context, data []byte, hostParity bool) ([]byte, int, []byte, error) {
	control, err := d.session.GetRegister(ctx, RegCIUControl)
	if err != nil {
		return nil, 0, nil, err
	}
	lastBits := int(control & symbolRxLastBits)
	frameBits := len(data) * 8
	if lastBits != 0 && len(data) > 0 {
		frameBits = (len(data)-1)*8 + lastBits
	}

	if !hostParity {
		return data, frameBits, nil, nil
	}
	rx, n, par, err := bitframe.Unwrap(data, frameBits)
	if err != nil {
		return nil, 0, nil, newError("TransceiveBits", ErrorUnexpectedReply, err)
	}
	return rx, n, par, nil
}
