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

// Package bitframe converts between byte-aligned data and the raw ISO14443-A bit
// stream in which every data byte is followed by its parity bit. It is used when
// the host, not the chip, handles parity.
//
// The stream is LSB first. Bit k of the stream lives at bit k%8 of byte k/8.
package bitframe

import (
	"errors"
	"fmt"
	"math/bits"
)

// ErrShortBuffer is returned when an input slice does not cover the bit count.
var ErrShortBuffer = errors.New("bitframe: buffer shorter than bit count")

// ErrNoBits is returned for a zero or negative bit count.
var ErrNoBits = errors.New("bitframe: no bits to convert")

// shortFrameBits is the threshold below which frames carry no parity.
const shortFrameBits = 9

// Mirror reverses the bit order of b.
func Mirror(b byte) byte {
	return bits.Reverse8(b)
}

// MirrorBytes reverses the bit order of every byte in buf in place.
func MirrorBytes(buf []byte) {
	for i, b := range buf {
		buf[i] = Mirror(b)
	}
}

// OddParity returns the bit that makes the total number of ones in b plus the
// parity bit odd.
func OddParity(b byte) byte {
	return byte(bits.OnesCount8(b)+1) & 0x01
}

// OddParityBytes returns the odd parity bit for each byte of data.
func OddParityBytes(data []byte) []byte {
	par := make([]byte, len(data))
	for i, b := range data {
		par[i] = OddParity(b)
	}
	return par
}

// WrappedBits returns the stream length for n data bits.
func WrappedBits(n int) int {
	if n < shortFrameBits {
		return n
	}
	return n + n/8
}

// UnwrappedBits returns the data length carried by a stream of n bits.
func UnwrappedBits(n int) int {
	if n < shortFrameBits {
		return n
	}
	return n - n/9
}

func byteLen(nbits int) int {
	return (nbits + 7) / 8
}

// Wrap inserts parity[i]&1 after every full data byte. Inputs under 9 bits are
// returned unchanged. Only len(data) bytes of data and one parity entry per full
// byte are read.
func Wrap(data []byte, nbits int, parity []byte) ([]byte, int, error) {
	if nbits <= 0 {
		return nil, 0, ErrNoBits
	}
	nbytes := byteLen(nbits)
	if len(data) < nbytes {
		return nil, 0, fmt.Errorf("%w: %d bits need %d data bytes, have %d", ErrShortBuffer, nbits, nbytes, len(data))
	}

	if nbits < shortFrameBits {
		out := make([]byte, nbytes)
		copy(out, data)
		return out, nbits, nil
	}

	if len(parity) < nbits/8 {
		return nil, 0, fmt.Errorf("%w: %d bits need %d parity entries, have %d", ErrShortBuffer, nbits, nbits/8, len(parity))
	}

	frameBits := WrappedBits(nbits)
	out := make([]byte, byteLen(frameBits))
	o := 0
	put := func(v byte) {
		if o < len(out) {
			out[o] = Mirror(v)
		}
		o++
	}

	// acc holds the pending frame byte in mirrored (MSB first) order.
	var acc byte
	for i := range nbytes {
		pos := uint(i % 8)
		d := Mirror(data[i])
		acc |= d >> pos
		put(acc)
		acc = d << (8 - pos)
		if i < len(parity) {
			acc |= (parity[i] & 0x01) << (7 - pos)
		}
		if pos == 7 {
			put(acc)
			acc = 0
		}
	}
	put(acc)

	clearTail(out, frameBits)
	return out, frameBits, nil
}

// Unwrap strips the parity bits from a stream of frameBits bits and returns the
// data, its bit count and one parity entry per data byte. A trailing partial
// byte has no parity on the wire and reports 0. Streams under 9 bits are
// returned unchanged with no parity.
func Unwrap(stream []byte, frameBits int) (data []byte, nbits int, parity []byte, err error) {
	if frameBits <= 0 {
		return nil, 0, nil, ErrNoBits
	}
	if len(stream) < byteLen(frameBits) {
		return nil, 0, nil, fmt.Errorf("%w: %d bits need %d bytes, have %d",
			ErrShortBuffer, frameBits, byteLen(frameBits), len(stream))
	}

	if frameBits < shortFrameBits {
		data = make([]byte, byteLen(frameBits))
		copy(data, stream)
		return data, frameBits, nil, nil
	}

	nbits = UnwrappedBits(frameBits)
	nbytes := byteLen(nbits)
	data = make([]byte, nbytes)
	parity = make([]byte, nbytes)

	at := func(k int) byte {
		if k < len(stream) {
			return Mirror(stream[k])
		}
		return 0
	}

	for i := range nbytes {
		pos := uint(i % 8)
		f := i + i/8
		next := at(f + 1)
		data[i] = Mirror(at(f)<<pos | next>>(8-pos))
		if (i+1)*8 <= nbits {
			parity[i] = (next >> (7 - pos)) & 0x01
		}
	}

	clearTail(data, nbits)
	return data, nbits, parity, nil
}

// clearTail zeroes the bits past nbits in the last byte of buf.
func clearTail(buf []byte, nbits int) {
	if rem := nbits % 8; rem != 0 && len(buf) > 0 {
		buf[len(buf)-1] &= byte(1<<rem) - 1
	}
}
