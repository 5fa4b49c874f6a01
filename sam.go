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

// SAMMode represents the SAM configuration mode
type SAMMode byte

const (
	// SAMModeNormal - normal mode (default)
	SAMModeNormal SAMMode = 0x01
	// SAMModeVirtualCard - Virtual Card mode
	SAMModeVirtualCard SAMMode = 0x02
	// SAMModeWiredCard - Wired Card mode
	SAMModeWiredCard SAMMode = 0x03
	// SAMModeDualCard - Dual Card mode
	SAMModeDualCard SAMMode = 0x04
)

func (m SAMMode) String() string {
	switch m {
	case SAMModeNormal:
		return "normal"
	case SAMModeVirtualCard:
		return "virtual-card"
	case SAMModeWiredCard:
		return "wired-card"
	case SAMModeDualCard:
		return "dual-card"
	default:
		return fmt.Sprintf("SAMMode(0x%02X)", byte(m))
	}
}

// SAMConfiguration sets the PN532 SAM mode. timeout is in units of 50ms and
// only matters in virtual card mode. Other chips have no SAM.
func (d *Device) SAMConfiguration(ctx context.Context, mode SAMMode, timeout byte, useIRQ bool) error {
	if d.Chip() != ChipPN532 {
		return newError("SAMConfiguration", ErrorNotSupportedByDevice, fmt.Errorf("%s has no SAM", d.Chip()))
	}
	if mode < SAMModeNormal || mode > SAMModeDualCard {
		return newError("SAMConfiguration", ErrorInvalidArgument, fmt.Errorf("mode %s", mode))
	}

	var irq byte
	if useIRQ {
		irq = 0x01
	}
	_, err := d.session.Command(ctx, cmdSAMConfiguration, []byte{byte(mode), timeout, irq}, d.timeout())
	return err
}

// PowerDown puts a PN532 into power down until one of the wakeup sources
// fires. The next command wakes it.
func (d *Device) PowerDown(ctx context.Context, wakeup byte) error {
	if d.Chip() != ChipPN532 {
		return newError("PowerDown", ErrorNotSupportedByDevice, fmt.Errorf("%s has no power down", d.Chip()))
	}
	_, err := d.session.Command(ctx, cmdPowerDown, []byte{wakeup}, d.timeout())
	return err
}
