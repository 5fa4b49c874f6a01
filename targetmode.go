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

// TgInitAsTarget mode restrictions.
const (
	targetPassiveOnly byte = 0x01
	targetDEPOnly     byte = 0x02
	targetPICCOnly    byte = 0x04
)

// Bits of the activated mode byte returned by TgInitAsTarget.
const (
	activatedFraming byte = 0x03
	activatedDEP     byte = 0x04
	activatedBaud    byte = 0x70

	framingMifare byte = 0x00
	framingActive byte = 0x01
	framingFeliCa byte = 0x02
)

// sakISO14443_4 marks an ISO14443-4 compliant target in SAK.
const sakISO14443_4 = 0x20

var errNotTarget = errors.New("device is not in target mode")

// TargetInit makes the chip emulate t and waits until an initiator activates
// it with a matching modulation, returning the first frame the initiator
// sent. A zero timeout waits until activation, ctx is done or AbortCommand is
// called.
//
// ISO14443A targets need a 4 byte UID starting with 0x08; the chip only lets
// the host choose the other three bytes. A PN532 answers RATS itself when
// the SAK announces ISO14443-4 and automatic ISO14443-4 is on.
func (d *Device) TargetInit(ctx context.Context, t Target, timeout time.Duration) ([]byte, error) {
	resetSteps := []struct {
		prop   Property
		enable bool
	}{
		{PropertyAcceptInvalidFrames, false},
		{PropertyAcceptMultipleFrames, false},
		{PropertyHandleCRC, true},
		{PropertyHandleParity, true},
		{PropertyAutoISO14443_4, true},
		{PropertyEasyFraming, true},
		{PropertyActivateCrypto1, false},
		{PropertyActivateField, false},
	}
	for _, step := range resetSteps {
		if err := d.SetProperty(ctx, step.prop, step.enable); err != nil {
			return nil, fmt.Errorf("target init %s=%t: %w", step.prop, step.enable, err)
		}
	}

	mode, args, err := d.targetParams(ctx, t)
	if err != nil {
		return nil, err
	}

	// Let the RF level detector wake the chip.
	if err := d.session.SetRegister(ctx, RegCIUTxAuto, symbolInitialRFOn, symbolInitialRFOn); err != nil {
		return nil, err
	}

	// Activations with another modulation restart the wait but not the budget.
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		wait := timeout
		if timeout > 0 {
			wait = time.Until(deadline)
			if wait <= 0 {
				return nil, newError("TgInitAsTarget", ErrorTimeout,
					fmt.Errorf("no %s activation within %v", t.Modulation, timeout))
			}
		}
		res, err := d.session.Command(ctx, cmdTgInitAsTarget, args, wait)
		if err != nil {
			return nil, err
		}
		if len(res) == 0 {
			return nil, newError("TgInitAsTarget", ErrorUnexpectedReply, errors.New("missing activated mode"))
		}

		activated := decodeActivation(res[0])
		if !activationMatches(t, activated) {
			Logger().Debug().Stringer("want", t.Modulation).Stringer("got", activated.Modulation).
				Msg("activated with another modulation, waiting again")
			continue
		}

		emulated := t
		if emulated.Modulation.BaudRate == BaudUndefined || emulated.Modulation.Type == ModDEP {
			emulated.Modulation.BaudRate = activated.Modulation.BaudRate
		}
		if info := emulated.DEP(); info != nil {
			dep := *info
			dep.Mode = activated.depMode
			emulated.Info = &dep
		}
		d.emulated = &emulated
		d.targetMode = mode
		Logger().Debug().Stringer("modulation", emulated.Modulation).Msg("target activated")
		return res[1:], nil
	}
}

type activation struct {
	Modulation Modulation
	depMode    DEPMode
}

func decodeActivation(b byte) activation {
	var a activation
	switch b & activatedBaud {
	case 0x00:
		a.Modulation.BaudRate = Baud106
	case 0x10:
		a.Modulation.BaudRate = Baud212
	case 0x20:
		a.Modulation.BaudRate = Baud424
	}

	framing := b & activatedFraming
	switch {
	case b&activatedDEP != 0:
		a.Modulation.Type = ModDEP
		a.depMode = DEPPassive
		if framing == framingActive {
			a.depMode = DEPActive
		}
	case framing == framingMifare:
		a.Modulation.Type = ModISO14443A
	case framing == framingFeliCa:
		a.Modulation.Type = ModFeliCa
	}
	return a
}

func activationMatches(t Target, a activation) bool {
	if t.Modulation.Type != a.Modulation.Type {
		return false
	}
	if t.Modulation.BaudRate != BaudUndefined && t.Modulation.BaudRate != a.Modulation.BaudRate {
		return false
	}
	if info := t.DEP(); info != nil && info.Mode != DEPUndefined && info.Mode != a.depMode {
		return false
	}
	return true
}

// targetParams builds the TgInitAsTarget arguments for t and sets the
// SetParameters flags the emulation needs.
func (d *Device) targetParams(ctx context.Context, t Target) (byte, []byte, error) {
	var (
		mode    byte
		mifare  [6]byte
		felica  [18]byte
		nfcid3  [10]byte
		general []byte
		hist    []byte
	)
	s := d.session
	chip := d.Chip()

	switch info := t.Info.(type) {
	case *ISO14443AInfo:
		if t.Modulation.Type != ModISO14443A {
			break
		}
		if len(info.UID) != 4 || info.UID[0] != 0x08 {
			return 0, nil, newError("TgInitAsTarget", ErrorInvalidArgument,
				fmt.Errorf("emulated UID % X must be 4 bytes starting with 08", info.UID))
		}
		mode = targetPassiveOnly
		if err := s.SetParameterFlag(ctx, ParamAutoATRRes, false); err != nil {
			return 0, nil, err
		}
		if chip == ChipPN532 {
			picc := info.SAK&sakISO14443_4 != 0 && d.autoISO14443_4
			if picc {
				mode |= targetPICCOnly
			}
			if err := s.SetParameterFlag(ctx, Param14443_4PICC, picc); err != nil {
				return 0, nil, err
			}
		}
		// SENS_RES goes LSB first.
		mifare = [6]byte{info.ATQA[1], info.ATQA[0], info.UID[1], info.UID[2], info.UID[3], info.SAK}
		hist = historicalBytes(info.ATS)

	case *FeliCaInfo:
		if t.Modulation.Type != ModFeliCa {
			break
		}
		mode = targetPassiveOnly
		if err := s.SetParameterFlag(ctx, ParamAutoATRRes, false); err != nil {
			return 0, nil, err
		}
		copy(felica[0:8], info.ID[:])
		copy(felica[8:16], info.Pad[:])
		copy(felica[16:18], info.SystemCode)

	case *DEPInfo:
		if t.Modulation.Type != ModDEP {
			break
		}
		mode = targetDEPOnly
		if info.Mode == DEPPassive {
			mode |= targetPassiveOnly
		}
		if err := s.SetParameterFlag(ctx, ParamAutoATRRes, true); err != nil {
			return 0, nil, err
		}
		nfcid3 = info.NFCID3
		general = info.GeneralBytes
		if len(general) > maxGeneralBytes {
			return 0, nil, newError("TgInitAsTarget", ErrorInvalidArgument,
				fmt.Errorf("%d general bytes", len(general)))
		}
	}
	if mode == 0 {
		return 0, nil, newError("TgInitAsTarget", ErrorNotSupportedByDevice,
			fmt.Errorf("cannot emulate %s", t.Modulation))
	}

	args := make([]byte, 0, 37+len(general)+1+len(hist))
	args = append(args, mode)
	args = append(args, mifare[:]...)
	args = append(args, felica[:]...)
	args = append(args, nfcid3[:]...)
	if chip == ChipPN531 {
		// No length prefix and no historical bytes.
		args = append(args, general...)
		return mode, args, nil
	}
	args = append(args, byte(len(general)))
	args = append(args, general...)
	args = append(args, byte(len(hist)))
	args = append(args, hist...)
	return mode, args, nil
}

// historicalBytes returns the historical bytes of an ATS given without its
// length byte.
func historicalBytes(ats []byte) []byte {
	if len(ats) == 0 {
		return nil
	}
	offset := 1
	for _, present := range []byte{0x10, 0x20, 0x40} {
		if ats[0]&present != 0 {
			offset++
		}
	}
	if len(ats) <= offset {
		return nil
	}
	return ats[offset:]
}

// Emulated returns the target being emulated after TargetInit, or nil.
func (d *Device) Emulated() *Target {
	return d.emulated
}

// targetDataExchange reports whether frames go through TgGetData/TgSetData:
// always for D.E.P., and for ISO14443-4 when the PN532 handles the block
// protocol.
func (d *Device) targetDataExchange() bool {
	switch d.emulated.Modulation.Type {
	case ModDEP:
		return true
	case ModISO14443A:
		return d.targetMode&targetPICCOnly != 0 && d.Chip() == ChipPN532 && d.autoISO14443_4
	default:
		return false
	}
}

// TargetReceiveBytes waits for the next frame from the initiator.
func (d *Device) TargetReceiveBytes(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if d.emulated == nil {
		return nil, newError("TargetReceiveBytes", ErrorInvalidArgument, errNotTarget)
	}
	if d.targetDataExchange() {
		return d.session.Command(ctx, cmdTgGetData, nil, timeout)
	}
	if !d.session.EasyFraming() {
		return nil, newError("TargetReceiveBytes", ErrorNotSupportedByDevice,
			errors.New("raw frames need TargetReceiveBits"))
	}
	return d.session.Command(ctx, cmdTgGetInitiatorCommand, nil, timeout)
}

// TargetSendBytes answers the initiator.
func (d *Device) TargetSendBytes(ctx context.Context, data []byte, timeout time.Duration) error {
	if d.emulated == nil {
		return newError("TargetSendBytes", ErrorInvalidArgument, errNotTarget)
	}
	s := d.session
	if !s.HandleParity() {
		return newError("TargetSendBytes", ErrorInvalidArgument,
			errors.New("byte exchange needs chip-handled parity, use TargetSendBits"))
	}
	if err := s.SetTxBits(ctx, 0); err != nil {
		return err
	}

	var cmd byte = cmdTgResponseToInitiator
	if d.targetDataExchange() {
		cmd = cmdTgSetData
	}
	_, err := s.Command(ctx, cmd, data, timeout)
	return err
}

// TargetReceiveBits waits for the next raw frame from the initiator. With
// host parity the parity bits are split off as in TransceiveBits.
func (d *Device) TargetReceiveBits(ctx context.Context, timeout time.Duration) ([]byte, int, []byte, error) {
	if d.emulated == nil {
		return nil, 0, nil, newError("TargetReceiveBits", ErrorInvalidArgument, errNotTarget)
	}
	data, err := d.session.Command(ctx, cmdTgGetInitiatorCommand, nil, timeout)
	if err != nil {
		return nil, 0, nil, err
	}
	return d.receivedBits(ctx, data, !d.session.HandleParity())
}

// TargetSendBits answers the initiator with a raw frame of txBits bits.
func (d *Device) TargetSendBits(ctx context.Context, tx []byte, txBits int, txPar []byte) error {
	if d.emulated == nil {
		return newError("TargetSendBits", ErrorInvalidArgument, errNotTarget)
	}
	s := d.session

	frameData, frameBits := tx, txBits
	if !s.HandleParity() {
		var err error
		frameData, frameBits, err = bitframe.Wrap(tx, txBits, txPar)
		if err != nil {
			return newError("TargetSendBits", ErrorInvalidArgument, err)
		}
	} else if (txBits+7)/8 > len(tx) {
		return newError("TargetSendBits", ErrorInvalidArgument, fmt.Errorf("%d bits in %d bytes", txBits, len(tx)))
	}

	if err := s.SetTxBits(ctx, byte(frameBits%8)); err != nil {
		return err
	}
	_, err := s.Command(ctx, cmdTgResponseToInitiator, frameData[:(frameBits+7)/8], d.timeout())
	return err
}
