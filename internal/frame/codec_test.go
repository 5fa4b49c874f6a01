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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_GetFirmwareVersion(t *testing.T) {
	t.Parallel()

	got, err := Encode([]byte{0xD4, 0x02})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD4, 0x02, 0x2A, 0x00}, got)
}

func TestEncode_RejectsOversizedPayload(t *testing.T) {
	t.Parallel()

	_, err := Encode(make([]byte, 256))
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = Encode(make([]byte, 255))
	require.NoError(t, err)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	for n := 0; n <= MaxPayloadLength; n++ {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i*7 + n)
		}

		raw, err := Encode(payload)
		require.NoError(t, err)
		require.Len(t, raw, n+Overhead)

		got, err := Decode(raw)
		require.NoError(t, err, "length %d", n)
		assert.True(t, bytes.Equal(payload, got), "length %d", n)
	}
}

func TestDecode_SingleByteCorruption(t *testing.T) {
	t.Parallel()

	raw, err := Encode([]byte{0xD5, 0x4B, 0x01, 0x01, 0x00, 0x44, 0x00, 0x07, 0x04, 0xAB, 0xCD, 0xEF, 0x12, 0x34, 0x56})
	require.NoError(t, err)

	for i := range raw {
		for _, flip := range []byte{0x01, 0x80, 0xFF} {
			corrupted := append([]byte(nil), raw...)
			corrupted[i] ^= flip

			_, err := Decode(corrupted)
			assert.ErrorIs(t, err, ErrMalformed, "byte %d flipped by 0x%02X", i, flip)
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr error
		name    string
		raw     []byte
	}{
		{name: "empty", raw: nil, wantErr: ErrTruncated},
		{name: "partial preamble", raw: []byte{0x00, 0x00}, wantErr: ErrTruncated},
		{name: "bad preamble", raw: []byte{0x01, 0x00, 0xFF, 0x00, 0x00, 0x00, 0x00}, wantErr: ErrMalformed},
		{name: "header only", raw: []byte{0x00, 0x00, 0xFF, 0x02}, wantErr: ErrTruncated},
		{name: "missing postamble", raw: []byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD4, 0x02, 0x2A}, wantErr: ErrTruncated},
		{name: "bad postamble", raw: []byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD4, 0x02, 0x2A, 0x01}, wantErr: ErrMalformed},
		{name: "trailing bytes", raw: []byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD4, 0x02, 0x2A, 0x00, 0x00}, wantErr: ErrMalformed},
		{name: "bad data checksum", raw: []byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD4, 0x02, 0x2B, 0x00}, wantErr: ErrChecksum},
		{name: "bad length checksum", raw: []byte{0x00, 0x00, 0xFF, 0x02, 0xFD, 0xD4, 0x02, 0x2A, 0x00}, wantErr: ErrChecksum},
		{name: "ack is not an information frame", raw: AckFrame, wantErr: ErrMalformed},
		{name: "nack is not an information frame", raw: NackFrame, wantErr: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.raw)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAckNackClassification(t *testing.T) {
	t.Parallel()

	assert.True(t, IsAck([]byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00}))
	assert.False(t, IsNack([]byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00}))
	assert.True(t, IsNack([]byte{0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00}))
	assert.False(t, IsAck([]byte{0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00}))

	others := [][]byte{
		{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x01},
		{0x00, 0x00, 0xFF, 0x01, 0xFF, 0x7F},
		{0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
		{0x00, 0x00, 0xFF, 0x00, 0xFF},
	}
	for _, raw := range others {
		assert.False(t, IsAck(raw), "% X", raw)
		assert.False(t, IsNack(raw), "% X", raw)
	}
}

func TestIsErrorFrame(t *testing.T) {
	t.Parallel()

	payload, err := Decode([]byte{0x00, 0x00, 0xFF, 0x01, 0xFF, 0x7F, 0x81, 0x00})
	require.NoError(t, err)
	assert.True(t, IsErrorFrame(payload))
	assert.False(t, IsErrorFrame([]byte{0xD5, 0x03}))
	assert.False(t, IsErrorFrame(nil))
}
