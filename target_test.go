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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTarget_ISO14443A(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  []byte
		chip ChipFamily
		want ISO14443AInfo
	}{
		{
			name: "MIFARE Classic 1K",
			raw:  []byte{0x01, 0x00, 0x04, 0x08, 0x04, 0xDE, 0xAD, 0xBE, 0xEF},
			chip: ChipPN532,
			want: ISO14443AInfo{ATQA: [2]byte{0x00, 0x04}, SAK: 0x08, UID: []byte{0xDE, 0xAD, 0xBE, 0xEF}},
		},
		{
			name: "PN531 reports ATQA byte swapped",
			raw:  []byte{0x01, 0x04, 0x00, 0x08, 0x04, 0xDE, 0xAD, 0xBE, 0xEF},
			chip: ChipPN531,
			want: ISO14443AInfo{ATQA: [2]byte{0x00, 0x04}, SAK: 0x08, UID: []byte{0xDE, 0xAD, 0xBE, 0xEF}},
		},
		{
			name: "DESFire with ATS",
			raw: []byte{
				0x01, 0x03, 0x44, 0x20, 0x07, 0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66,
				0x06, 0x75, 0x77, 0x81, 0x02, 0x80,
			},
			chip: ChipPN533,
			want: ISO14443AInfo{
				ATQA: [2]byte{0x03, 0x44},
				SAK:  0x20,
				UID:  []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
				ATS:  []byte{0x75, 0x77, 0x81, 0x02, 0x80},
			},
		},
		{
			name: "double size UID with cascade tag",
			raw:  []byte{0x01, 0x00, 0x44, 0x00, 0x08, 0x88, 0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
			chip: ChipPN532,
			want: ISO14443AInfo{ATQA: [2]byte{0x00, 0x44}, UID: []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}},
		},
		{
			name: "triple size UID with two cascade tags",
			raw: []byte{
				0x01, 0x00, 0x44, 0x00, 0x0C,
				0x88, 0x01, 0x02, 0x03, 0x88, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A,
			},
			chip: ChipPN532,
			want: ISO14443AInfo{
				ATQA: [2]byte{0x00, 0x44},
				UID:  []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			target, err := DecodeTarget(tt.raw, tt.chip, ModISO14443A)
			require.NoError(t, err)
			assert.Equal(t, ModISO14443A, target.Modulation.Type)
			info := target.ISO14443A()
			require.NotNil(t, info)
			assert.Equal(t, tt.want, *info)
			assert.Nil(t, target.FeliCa())
		})
	}
}

func TestDecodeTarget_CopiesInput(t *testing.T) {
	t.Parallel()

	raw := []byte{0x01, 0x00, 0x04, 0x08, 0x04, 0xDE, 0xAD, 0xBE, 0xEF}
	target, err := DecodeTarget(raw, ChipPN532, ModISO14443A)
	require.NoError(t, err)
	raw[5] = 0x00
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, target.ISO14443A().UID)
}

func TestDecodeTarget_OtherFamilies(t *testing.T) {
	t.Parallel()

	id := []byte{0x01, 0x2E, 0x3D, 0x4C, 0x5B, 0x6A, 0x79, 0x88}
	pad := []byte{0x03, 0x32, 0x4B, 0x02, 0x4F, 0x49, 0x93, 0xFF}

	t.Run("FeliCa without system code", func(t *testing.T) {
		t.Parallel()
		raw := append(append([]byte{0x01, 0x12, 0x01}, id...), pad...)
		target, err := DecodeTarget(raw, ChipPN532, ModFeliCa)
		require.NoError(t, err)
		info := target.FeliCa()
		require.NotNil(t, info)
		assert.Equal(t, byte(0x01), info.ResponseCode)
		assert.Equal(t, id, info.ID[:])
		assert.Equal(t, pad, info.Pad[:])
		assert.Nil(t, info.SystemCode)
	})

	t.Run("FeliCa with system code", func(t *testing.T) {
		t.Parallel()
		raw := append(append([]byte{0x01, 0x14, 0x01}, id...), pad...)
		raw = append(raw, 0x12, 0xFC)
		target, err := DecodeTarget(raw, ChipPN532, ModFeliCa)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x12, 0xFC}, target.FeliCa().SystemCode)
	})

	t.Run("Jewel", func(t *testing.T) {
		t.Parallel()
		target, err := DecodeTarget([]byte{0x01, 0x0C, 0x00, 0xB0, 0x4C, 0x2A, 0x01}, ChipPN533, ModJewel)
		require.NoError(t, err)
		info := target.Jewel()
		require.NotNil(t, info)
		assert.Equal(t, [2]byte{0x0C, 0x00}, info.SensRes)
		assert.Equal(t, [4]byte{0xB0, 0x4C, 0x2A, 0x01}, info.ID)
	})

	atqb := []byte{0x50, 0x11, 0x22, 0x33, 0x44, 0x00, 0x00, 0x00, 0x00, 0x00, 0x81, 0x81}

	t.Run("ISO14443B", func(t *testing.T) {
		t.Parallel()
		raw := append([]byte{0x01}, atqb...)
		raw = append(raw, 0x08, 0x11, 0x22, 0x33, 0x44, 0x00, 0x08, 0x01, 0x00)
		target, err := DecodeTarget(raw, ChipPN532, ModISO14443B)
		require.NoError(t, err)
		info := target.ISO14443B()
		require.NotNil(t, info)
		assert.Equal(t, atqb, info.ATQB[:])
		assert.Equal(t, [4]byte{0x11, 0x22, 0x33, 0x44}, info.ID)
		assert.Equal(t, [4]byte{0x00, 0x08, 0x01, 0x00}, info.Params)
		assert.Empty(t, info.INF)
	})

	t.Run("ISO14443B with INF", func(t *testing.T) {
		t.Parallel()
		raw := append([]byte{0x01}, atqb...)
		raw = append(raw, 0x0B, 0x11, 0x22, 0x33, 0x44, 0x00, 0x08, 0x01, 0x00, 0x02, 0x90, 0x00)
		target, err := DecodeTarget(raw, ChipPN532, ModISO14443B)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x90, 0x00}, target.ISO14443B().INF)
	})

	t.Run("DEP with general bytes", func(t *testing.T) {
		t.Parallel()
		raw := []byte{
			0x01, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A,
			0x00, 0x00, 0x00, 0x0E, 0x32, 0x46, 0x66, 0x6D,
		}
		target, err := DecodeTarget(raw, ChipPN532, ModDEP)
		require.NoError(t, err)
		info := target.DEP()
		require.NotNil(t, info)
		assert.Equal(t, [10]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A}, info.NFCID3)
		assert.Equal(t, byte(0x0E), info.TO)
		assert.Equal(t, byte(0x32), info.PP)
		assert.Equal(t, []byte{0x46, 0x66, 0x6D}, info.GeneralBytes)
	})
}

func TestDecodeTarget_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  []byte
		mt   ModulationType
		want ErrorCode
	}{
		{name: "UID longer than record", raw: []byte{0x01, 0x00, 0x04, 0x08, 0x07, 0x01, 0x02}, mt: ModISO14443A, want: ErrorInvalidArgument},
		{name: "ATS longer than record", raw: []byte{0x01, 0x00, 0x04, 0x20, 0x01, 0x01, 0x09, 0x75}, mt: ModISO14443A, want: ErrorInvalidArgument},
		{name: "short FeliCa", raw: []byte{0x01, 0x12, 0x01, 0x01}, mt: ModFeliCa, want: ErrorInvalidArgument},
		{name: "empty record", raw: nil, mt: ModJewel, want: ErrorInvalidArgument},
		{name: "no decoder", raw: []byte{0x01}, mt: ModISO14443B2SR, want: ErrorNotSupportedByDevice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeTarget(tt.raw, ChipPN532, tt.mt)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTarget_Equal(t *testing.T) {
	t.Parallel()

	a := Target{
		Info:       &ISO14443AInfo{ATQA: [2]byte{0x00, 0x04}, SAK: 0x08, UID: []byte{0x01, 0x02, 0x03, 0x04}},
		Modulation: Modulation{Type: ModISO14443A, BaudRate: Baud106},
	}
	b := Target{
		Info:       &ISO14443AInfo{ATQA: [2]byte{0x00, 0x04}, SAK: 0x08, UID: []byte{0x01, 0x02, 0x03, 0x04}},
		Modulation: Modulation{Type: ModISO14443A, BaudRate: Baud106},
	}
	assert.True(t, a.Equal(b))

	b.ISO14443A().UID[3] = 0x05
	assert.False(t, a.Equal(b))

	c := a
	c.Modulation.BaudRate = Baud212
	assert.False(t, a.Equal(c))
}

func TestTarget_String(t *testing.T) {
	t.Parallel()

	target := Target{
		Info:       &ISO14443AInfo{ATQA: [2]byte{0x00, 0x04}, SAK: 0x08, UID: []byte{0xDE, 0xAD, 0xBE, 0xEF}},
		Modulation: Modulation{Type: ModISO14443A, BaudRate: Baud106},
	}
	want := "ISO/IEC 14443A (106 kbps) target:\n" +
		"    ATQA (SENS_RES): 0004\n" +
		"       UID (NFCID1): DEADBEEF\n" +
		"      SAK (SEL_RES): 08\n"
	assert.Equal(t, want, target.String())

	felica := Target{
		Info:       &FeliCaInfo{SystemCode: []byte{0x12, 0xFC}},
		Modulation: Modulation{Type: ModFeliCa, BaudRate: Baud212},
	}
	assert.Contains(t, felica.String(), "        System Code: 12FC\n")
}

func TestModulationStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "FeliCa (424 kbps)", Modulation{Type: ModFeliCa, BaudRate: Baud424}.String())
	assert.Equal(t, "ModulationType(42)", ModulationType(42).String())
	assert.Equal(t, "undefined baud rate", BaudUndefined.String())
	assert.Equal(t, "active", DEPActive.String())
}
