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
	"fmt"
)

// Property is a boolean device setting changed with SetProperty.
type Property int

const (
	// PropertyHandleCRC makes the chip append and check CRC bytes.
	PropertyHandleCRC Property = iota + 1
	// PropertyHandleParity makes the chip generate and check parity bits.
	PropertyHandleParity
	// PropertyEasyFraming routes TransceiveBytes through InDataExchange.
	PropertyEasyFraming
	// PropertyAutoISO14443_4 lets the chip send RATS after selection.
	PropertyAutoISO14443_4
	PropertyAcceptInvalidFrames
	PropertyAcceptMultipleFrames
	// PropertyForceISO14443A switches the CIU to ISO14443-A framing.
	PropertyForceISO14443A
	// PropertyForceSpeed106 switches the CIU to 106 kbps.
	PropertyForceSpeed106
	// PropertyInfiniteSelect makes selection retry until a target shows up.
	PropertyInfiniteSelect
	PropertyActivateField
	PropertyActivateCrypto1
)

var propertyNames = map[Property]string{
	PropertyHandleCRC:            "HandleCRC",
	PropertyHandleParity:         "HandleParity",
	PropertyEasyFraming:          "EasyFraming",
	PropertyAutoISO14443_4:       "AutoISO14443_4",
	PropertyAcceptInvalidFrames:  "AcceptInvalidFrames",
	PropertyAcceptMultipleFrames: "AcceptMultipleFrames",
	PropertyForceISO14443A:       "ForceISO14443A",
	PropertyForceSpeed106:        "ForceSpeed106",
	PropertyInfiniteSelect:       "InfiniteSelect",
	PropertyActivateField:        "ActivateField",
	PropertyActivateCrypto1:      "ActivateCrypto1",
}

func (p Property) String() string {
	if name, ok := propertyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Property(%d)", int(p))
}

// SetProperty changes one device setting. Settings the chip keeps in
// registers are written with read-modify-write so neighbouring bits survive.
func (d *Device) SetProperty(ctx context.Context, p Property, enable bool) error {
	s := d.session
	Logger().Debug().Stringer("property", p).Bool("enable", enable).Msg("set property")

	switch p {
	case PropertyHandleCRC:
		if enable == s.HandleCRC() {
			return nil
		}
		value := flag(enable, symbolTxCRCEnable)
		if err := s.SetRegister(ctx, RegCIUTxMode, symbolTxCRCEnable, value); err != nil {
			return err
		}
		if err := s.SetRegister(ctx, RegCIURxMode, symbolRxCRCEnable, value); err != nil {
			return err
		}
		s.update(func(s *Session) { s.handleCRC = enable })
		return nil

	case PropertyHandleParity:
		if enable == s.HandleParity() {
			return nil
		}
		// The register bit disables parity.
		if err := s.SetRegister(ctx, RegCIUManualRCV, symbolParityDisable, flag(!enable, symbolParityDisable)); err != nil {
			return err
		}
		s.update(func(s *Session) { s.handleParity = enable })
		return nil

	case PropertyEasyFraming:
		s.update(func(s *Session) { s.easyFraming = enable })
		return nil

	case PropertyAutoISO14443_4:
		if err := s.SetParameterFlag(ctx, ParamAutoRATS, enable); err != nil {
			return err
		}
		d.autoISO14443_4 = enable
		return nil

	case PropertyAcceptInvalidFrames:
		return s.SetRegister(ctx, RegCIURxMode, symbolRxNoError, flag(enable, symbolRxNoError))

	case PropertyAcceptMultipleFrames:
		return s.SetRegister(ctx, RegCIURxMode, symbolRxMultiple, flag(enable, symbolRxMultiple))

	case PropertyForceISO14443A:
		if !enable {
			return nil
		}
		if err := s.SetRegister(ctx, RegCIUTxMode, symbolTxFraming, 0x00); err != nil {
			return err
		}
		if err := s.SetRegister(ctx, RegCIURxMode, symbolRxFraming, 0x00); err != nil {
			return err
		}
		// 100% ASK modified Miller, the ISO14443-A default.
		return s.SetRegister(ctx, RegCIUTxAuto, symbolForce100ASK, symbolForce100ASK)

	case PropertyForceSpeed106:
		if !enable {
			return nil
		}
		if err := s.SetRegister(ctx, RegCIUTxMode, symbolTxSpeed, 0x00); err != nil {
			return err
		}
		return s.SetRegister(ctx, RegCIURxMode, symbolRxSpeed, 0x00)

	case PropertyInfiniteSelect:
		// MxRtyATR, MxRtyPSL, MxRtyPassiveActivation.
		retries := []byte{0x00, 0x01, 0x02}
		if enable {
			retries = []byte{0xFF, 0xFF, 0xFF}
		}
		if err := d.rfConfiguration(ctx, rfciRetrySelect, retries...); err != nil {
			return err
		}
		d.infiniteSelect = enable
		return nil

	case PropertyActivateField:
		return d.rfConfiguration(ctx, rfciField, flag(enable, 0x01))

	case PropertyActivateCrypto1:
		return s.SetRegister(ctx, RegCIUStatus2, symbolMFCrypto1On, flag(enable, symbolMFCrypto1On))

	default:
		return newError("SetProperty", ErrorInvalidArgument, fmt.Errorf("unknown property %s", p))
	}
}

// rfConfiguration sends one RFConfiguration item.
func (d *Device) rfConfiguration(ctx context.Context, item byte, values ...byte) error {
	args := append([]byte{item}, values...)
	_, err := d.session.Command(ctx, cmdRFConfiguration, args, d.timeout())
	return err
}

// SetRetries configures the number of passive activation retries directly.
// 0xFF retries forever.
func (d *Device) SetRetries(ctx context.Context, atr, psl, passive byte) error {
	if err := d.rfConfiguration(ctx, rfciRetrySelect, atr, psl, passive); err != nil {
		return err
	}
	d.infiniteSelect = passive == 0xFF
	return nil
}

func flag(on bool, bits byte) byte {
	if on {
		return bits
	}
	return 0
}
