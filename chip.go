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
	"fmt"
	"strings"
)

// ChipFamily identifies the PN53x variant behind a transport.
type ChipFamily int

const (
	ChipUnknown ChipFamily = iota
	ChipPN531
	ChipPN532
	ChipPN533
)

func (c ChipFamily) String() string {
	switch c {
	case ChipPN531:
		return "PN531"
	case ChipPN532:
		return "PN532"
	case ChipPN533:
		return "PN533"
	case ChipUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("ChipFamily(%d)", int(c))
	}
}

// ParseChipFamily accepts "pn531", "PN532" and so on.
func ParseChipFamily(s string) (ChipFamily, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PN531":
		return ChipPN531, nil
	case "PN532":
		return ChipPN532, nil
	case "PN533":
		return ChipPN533, nil
	default:
		return ChipUnknown, fmt.Errorf("%w: unknown chip %q", ErrorInvalidArgument, s)
	}
}

// chipFromIC maps the IC byte of GetFirmwareVersion to a family.
func chipFromIC(ic byte) ChipFamily {
	switch ic {
	case 0x32:
		return ChipPN532
	case 0x33:
		return ChipPN533
	default:
		return ChipUnknown
	}
}
