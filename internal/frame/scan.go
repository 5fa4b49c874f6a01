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

import (
	"bytes"
	"fmt"
)

// Scan locates the first frame in a received byte stream and returns its bounds.
// ACK and NACK frames are recognised as 6-byte frames; information frames run to
// their postamble. Checksums other than LCS are left to Decode.
//
// When more bytes are needed Scan returns ErrTruncated, and start tells the caller
// how many leading bytes can be discarded. ErrMalformed means the candidate at
// start has a bad length checksum; the caller should drop start+1 bytes and scan
// again.
func Scan(buf []byte) (start, end int, err error) {
	start = bytes.Index(buf, startCode)
	if start < 0 {
		keep := len(startCode) - 1
		if len(buf) < keep {
			return 0, 0, ErrTruncated
		}
		return len(buf) - keep, 0, ErrTruncated
	}

	if len(buf)-start < AckLength {
		return start, 0, ErrTruncated
	}

	candidate := buf[start:]
	if bytes.HasPrefix(candidate, AckFrame) || bytes.HasPrefix(candidate, NackFrame) {
		return start, start + AckLength, nil
	}

	n, err := ValidateFrameLength(candidate, len(startCode))
	if err != nil {
		return start, 0, err
	}

	end = start + n + Overhead
	if end > len(buf) {
		return start, 0, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, end-start, len(buf)-start)
	}
	return start, end, nil
}
