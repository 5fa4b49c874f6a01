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

package emulation

import (
	"testing"

	"github.com/hsanjuan/go-ndef"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	selectApp  = []byte{0x00, 0xA4, 0x04, 0x00, 0x07, 0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01, 0x00}
	selectCC   = []byte{0x00, 0xA4, 0x00, 0x0C, 0x02, 0xE1, 0x03}
	selectNDEF = []byte{0x00, 0xA4, 0x00, 0x0C, 0x02, 0xE1, 0x04}
)

func marshal(t *testing.T, msg *ndef.Message) []byte {
	t.Helper()
	raw, err := msg.Marshal()
	require.NoError(t, err)
	return raw
}

func TestType4Tag_Process(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup [][]byte
		apdu  []byte
		want  []byte
	}{
		{name: "short APDU", apdu: []byte{0x00, 0xA4}, want: swWrongLength},
		{name: "proprietary class", apdu: []byte{0x90, 0x60, 0x00, 0x00, 0x00}, want: swCLANotSupported},
		{name: "unknown instruction", apdu: []byte{0x00, 0xCA, 0x00, 0x00, 0x00}, want: swINSNotSupported},
		{name: "select unknown AID", apdu: []byte{0x00, 0xA4, 0x04, 0x00, 0x02, 0xA0, 0x00}, want: swFileNotFound},
		{name: "select with truncated data", apdu: []byte{0x00, 0xA4, 0x04, 0x00, 0x07, 0xD2}, want: swWrongLength},
		{name: "select file before application", apdu: selectCC, want: swFileNotFound},
		{name: "select unknown file", setup: [][]byte{selectApp}, apdu: []byte{0x00, 0xA4, 0x00, 0x0C, 0x02, 0xE1, 0x05}, want: swFileNotFound},
		{name: "select by path", setup: [][]byte{selectApp}, apdu: []byte{0x00, 0xA4, 0x08, 0x0C, 0x02, 0xE1, 0x03}, want: swIncorrectP1P2},
		{name: "read without file", setup: [][]byte{selectApp}, apdu: []byte{0x00, 0xB0, 0x00, 0x00, 0x02}, want: swNoCurrentEF},
		{
			name:  "read capability container",
			setup: [][]byte{selectApp, selectCC},
			apdu:  []byte{0x00, 0xB0, 0x00, 0x00, 0x0F},
			want: []byte{
				0x00, 0x0F, 0x20, 0x00, 0x54, 0x00, 0xF0, 0x04, 0x06, 0xE1, 0x04, 0x00, 0x40, 0x00, 0xFF,
				0x90, 0x00,
			},
		},
		{name: "read past end", setup: [][]byte{selectApp, selectCC}, apdu: []byte{0x00, 0xB0, 0x00, 0x10, 0x01}, want: swWrongParameters},
		{name: "update read-only tag", setup: [][]byte{selectApp, selectNDEF}, apdu: []byte{0x00, 0xD6, 0x00, 0x00, 0x02, 0x00, 0x00}, want: swSecurityStatus},
		{name: "update capability container", setup: [][]byte{selectApp, selectCC}, apdu: []byte{0x00, 0xD6, 0x00, 0x00, 0x01, 0x00}, want: swSecurityStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tag, err := NewType4Tag(URIMessage("https://zaparoo.org"), WithCapacity(64))
			require.NoError(t, err)
			for _, apdu := range tt.setup {
				require.Equal(t, swOK, tag.Process(apdu))
			}
			assert.Equal(t, tt.want, tag.Process(tt.apdu))
		})
	}
}

func TestType4Tag_ReadNDEF(t *testing.T) {
	t.Parallel()

	msg := URIMessage("https://zaparoo.org")
	raw := marshal(t, msg)
	tag, err := NewType4Tag(msg)
	require.NoError(t, err)

	require.Equal(t, swOK, tag.Process(selectApp))
	require.Equal(t, swOK, tag.Process(selectNDEF))

	nlen := tag.Process([]byte{0x00, 0xB0, 0x00, 0x00, 0x02})
	assert.Equal(t, []byte{0x00, byte(len(raw)), 0x90, 0x00}, nlen)

	body := tag.Process([]byte{0x00, 0xB0, 0x00, 0x02, byte(len(raw))})
	assert.Equal(t, append(append([]byte(nil), raw...), 0x90, 0x00), body)

	// Le is capped at MLe.
	long := tag.Process([]byte{0x00, 0xB0, 0x00, 0x00, 0xFF})
	assert.Len(t, long, maxLe+2)

	got, err := tag.Message()
	require.NoError(t, err)
	assert.Equal(t, raw, marshal(t, got))
}

func TestType4Tag_Write(t *testing.T) {
	t.Parallel()

	var written []*ndef.Message
	tag, err := NewType4Tag(URIMessage("https://example.com"), WithWritable(func(m *ndef.Message) {
		written = append(written, m)
	}))
	require.NoError(t, err)

	raw := marshal(t, URIMessage("https://zaparoo.org/launch"))
	require.Equal(t, swOK, tag.Process(selectApp))
	require.Equal(t, swOK, tag.Process(selectCC))
	cc := tag.Process([]byte{0x00, 0xB0, 0x00, 0x00, 0x0F})
	assert.Equal(t, byte(0x00), cc[14], "write access granted")

	// NFC Forum write procedure: clear NLEN, write the message, set NLEN.
	require.Equal(t, swOK, tag.Process(selectNDEF))
	require.Equal(t, swOK, tag.Process([]byte{0x00, 0xD6, 0x00, 0x00, 0x02, 0x00, 0x00}))
	update := append([]byte{0x00, 0xD6, 0x00, 0x02, byte(len(raw))}, raw...)
	require.Equal(t, swOK, tag.Process(update))
	assert.Empty(t, written)
	require.Equal(t, swOK, tag.Process([]byte{0x00, 0xD6, 0x00, 0x00, 0x02, 0x00, byte(len(raw))}))

	require.Len(t, written, 1)
	assert.Equal(t, raw, marshal(t, written[0]))

	got, err := tag.Message()
	require.NoError(t, err)
	assert.Equal(t, raw, marshal(t, got))

	tooFar := tag.Process([]byte{0x00, 0xD6, 0x03, 0xFF, 0x02, 0x00, 0x00})
	assert.Equal(t, swWrongParameters, tooFar)
}

func TestNewType4Tag_Options(t *testing.T) {
	t.Parallel()

	_, err := NewType4Tag(URIMessage("https://zaparoo.org"), WithCapacity(2))
	require.Error(t, err)

	_, err = NewType4Tag(URIMessage("https://zaparoo.org/a/very/long/path"), WithCapacity(8))
	require.Error(t, err)

	tag, err := NewType4Tag(URIMessage("https://zaparoo.org"), WithUID([3]byte{0x01, 0x02, 0x03}))
	require.NoError(t, err)
	info := tag.Target().ISO14443A()
	require.NotNil(t, info)
	assert.Equal(t, []byte{0x08, 0x01, 0x02, 0x03}, info.UID)
	assert.Equal(t, byte(0x20), info.SAK)
}
