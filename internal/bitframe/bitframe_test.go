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

package bitframe

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirror(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   byte
		want byte
	}{
		{0x00, 0x00},
		{0x01, 0x80},
		{0x80, 0x01},
		{0x0F, 0xF0},
		{0x26, 0x64},
		{0xFF, 0xFF},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Mirror(tt.in), "Mirror(%#02x)", tt.in)
		assert.Equal(t, tt.in, Mirror(Mirror(tt.in)))
	}

	buf := []byte{0x01, 0x02, 0x03}
	MirrorBytes(buf)
	assert.Equal(t, []byte{0x80, 0x40, 0xC0}, buf)
}

func TestOddParity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, byte(1), OddParity(0x00))
	assert.Equal(t, byte(0), OddParity(0x01))
	assert.Equal(t, byte(1), OddParity(0x03))
	assert.Equal(t, byte(1), OddParity(0x93))
	assert.Equal(t, byte(0), OddParity(0x07))
	assert.Equal(t, byte(0), OddParity(0x80))
	assert.Equal(t, byte(1), OddParity(0xFF))
	assert.Equal(t, []byte{1, 0, 1}, OddParityBytes([]byte{0x00, 0x80, 0x81}))
}

func TestWrap_KnownVectors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		data      []byte
		parity    []byte
		want      []byte
		bits      int
		frameBits int
	}{
		{
			name:      "two full bytes",
			data:      []byte{0x01, 0x02},
			parity:    []byte{1, 0},
			bits:      16,
			want:      []byte{0x01, 0x05, 0x00},
			frameBits: 18,
		},
		{
			name:      "trailing partial byte",
			data:      []byte{0xAB, 0x0C},
			parity:    []byte{1},
			bits:      12,
			want:      []byte{0xAB, 0x19},
			frameBits: 13,
		},
		{
			name:      "short frame passes through",
			data:      []byte{0x26},
			bits:      7,
			want:      []byte{0x26},
			frameBits: 7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, frameBits, err := Wrap(tt.data, tt.bits, tt.parity)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.frameBits, frameBits)
		})
	}
}

func TestWrapUnwrap_RoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	for n := 9; n <= 300; n++ {
		data := make([]byte, byteLen(n))
		rng.Read(data)
		clearTail(data, n)
		parity := make([]byte, len(data))
		for i := range parity {
			parity[i] = byte(rng.Intn(2))
		}

		frame, frameBits, err := Wrap(data, n, parity)
		require.NoError(t, err, "bits=%d", n)
		assert.Equal(t, n+n/8, frameBits, "bits=%d", n)
		assert.Len(t, frame, byteLen(frameBits), "bits=%d", n)

		gotData, gotBits, gotParity, err := Unwrap(frame, frameBits)
		require.NoError(t, err, "bits=%d", n)
		assert.Equal(t, n, gotBits)
		assert.Equal(t, data, gotData, "bits=%d", n)
		assert.Equal(t, parity[:n/8], gotParity[:n/8], "bits=%d", n)
	}
}

func TestWrapUnwrap_ShortIdentity(t *testing.T) {
	t.Parallel()

	for n := 1; n < 9; n++ {
		frame, frameBits, err := Wrap([]byte{0x52}, n, nil)
		require.NoError(t, err)
		assert.Equal(t, n, frameBits)
		assert.Equal(t, []byte{0x52}, frame)

		data, bits, parity, err := Unwrap([]byte{0x52}, n)
		require.NoError(t, err)
		assert.Equal(t, n, bits)
		assert.Equal(t, []byte{0x52}, data)
		assert.Nil(t, parity)
	}
}

func TestWrap_Errors(t *testing.T) {
	t.Parallel()

	_, _, err := Wrap([]byte{0x00}, 0, nil)
	require.ErrorIs(t, err, ErrNoBits)

	_, _, err = Wrap([]byte{0x00}, 16, []byte{0, 0})
	require.ErrorIs(t, err, ErrShortBuffer)

	_, _, err = Wrap([]byte{0x00, 0x00}, 16, []byte{0})
	require.ErrorIs(t, err, ErrShortBuffer)

	_, _, _, err = Unwrap([]byte{0x00}, 18)
	require.ErrorIs(t, err, ErrShortBuffer)

	_, _, _, err = Unwrap(nil, 0)
	require.ErrorIs(t, err, ErrNoBits)
}

func TestBitCounts(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 8, WrappedBits(8))
	assert.Equal(t, 10, WrappedBits(9))
	assert.Equal(t, 72, WrappedBits(64))
	assert.Equal(t, 8, UnwrappedBits(8))
	assert.Equal(t, 64, UnwrappedBits(72))
	assert.Equal(t, 16, UnwrappedBits(18))
}
