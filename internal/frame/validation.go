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

package frame

import "fmt"

// ValidateFrameLength validates the LEN/LCS pair at buf[off] and buf[off+1] and
// returns LEN.
func ValidateFrameLength(buf []byte, off int) (int, error) {
	if off < 0 || off+1 >= len(buf) {
		return 0, ErrTruncated
	}

	frameLen := buf[off]
	lengthChecksum := buf[off+1]

	// LEN + LCS must be 0 mod 256
	if frameLen+lengthChecksum != 0 {
		return 0, fmt.Errorf("%w: LEN=0x%02X LCS=0x%02X", ErrChecksum, frameLen, lengthChecksum)
	}

	return int(frameLen), nil
}

// ValidateFrameChecksum validates the frame data checksum over buf[start:end],
// where the last byte of the range is DCS.
// Returns true if checksum is invalid, false if valid.
func ValidateFrameChecksum(buf []byte, start, end int) bool {
	// Handle invalid slice bounds - negative indices or out of range
	if start < 0 || end < 0 || start > end || end > len(buf) {
		return true
	}

	return CalculateChecksum(buf[start:end]) != 0
}
