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
	"errors"
	"fmt"
)

// Structural errors returned by the codec.
var (
	ErrMalformed       = errors.New("malformed frame")
	ErrTruncated       = errors.New("truncated frame")
	ErrPayloadTooLarge = errors.New("payload exceeds 255 bytes")

	// ErrChecksum is the ErrMalformed case of a wrong LCS or DCS byte.
	ErrChecksum = fmt.Errorf("%w: checksum", ErrMalformed)
)

var startCode = []byte{Preamble, StartCode1, StartCode2}

// Encode wraps payload in the normal information frame envelope:
//
//	00 00 FF LEN LCS payload DCS 00
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	n := byte(len(payload))
	out := make([]byte, 0, len(payload)+Overhead)
	out = append(out, Preamble, StartCode1, StartCode2, n, LengthChecksum(n))
	out = append(out, payload...)
	out = append(out, DataChecksum(payload), Postamble)
	return out, nil
}

// Decode validates a complete information frame and returns a copy of its payload.
// ACK and NACK frames are not information frames and are reported as malformed;
// use IsAck and IsNack for those.
func Decode(raw []byte) ([]byte, error) {
	if len(raw) < len(startCode) {
		if bytes.HasPrefix(startCode, raw) {
			return nil, ErrTruncated
		}
		return nil, fmt.Errorf("%w: bad preamble", ErrMalformed)
	}
	if !bytes.Equal(raw[:len(startCode)], startCode) {
		return nil, fmt.Errorf("%w: bad preamble", ErrMalformed)
	}

	n, err := ValidateFrameLength(raw, len(startCode))
	if err != nil {
		return nil, err
	}

	total := n + Overhead
	if len(raw) < total {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, total, len(raw))
	}
	if len(raw) > total {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(raw)-total)
	}

	start := len(startCode) + 2
	if ValidateFrameChecksum(raw, start, start+n+1) {
		return nil, fmt.Errorf("%w: DCS over %d bytes", ErrChecksum, n)
	}
	if raw[total-1] != Postamble {
		return nil, fmt.Errorf("%w: bad postamble 0x%02X", ErrMalformed, raw[total-1])
	}

	payload := make([]byte, n)
	copy(payload, raw[start:start+n])
	return payload, nil
}

// IsAck reports whether raw is exactly the ACK frame.
func IsAck(raw []byte) bool {
	return bytes.Equal(raw, AckFrame)
}

// IsNack reports whether raw is exactly the NACK frame.
func IsNack(raw []byte) bool {
	return bytes.Equal(raw, NackFrame)
}

// IsErrorFrame reports whether a decoded payload is the chip's syntax error frame.
func IsErrorFrame(payload []byte) bool {
	return len(payload) > 0 && payload[0] == ErrorTFI
}
