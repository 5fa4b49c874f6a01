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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan(t *testing.T) {
	t.Parallel()

	info := []byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD5, 0x03, 0x28, 0x00}

	tests := []struct {
		wantErr   error
		name      string
		buf       []byte
		wantStart int
		wantEnd   int
	}{
		{name: "ack", buf: AckFrame, wantStart: 0, wantEnd: 6},
		{name: "nack", buf: NackFrame, wantStart: 0, wantEnd: 6},
		{name: "information frame", buf: info, wantStart: 0, wantEnd: 9},
		{name: "ack followed by frame", buf: append(append([]byte{}, AckFrame...), info...), wantStart: 0, wantEnd: 6},
		{name: "leading garbage", buf: append([]byte{0x55, 0x12}, info...), wantStart: 2, wantEnd: 11},
		{name: "partial header", buf: []byte{0x00, 0x00, 0xFF, 0x02}, wantStart: 0, wantErr: ErrTruncated},
		{name: "partial body", buf: info[:7], wantStart: 0, wantErr: ErrTruncated},
		{name: "no start code", buf: []byte{0x12, 0x34, 0x56, 0x00}, wantStart: 2, wantErr: ErrTruncated},
		{name: "bad length checksum", buf: []byte{0x00, 0x00, 0xFF, 0x02, 0x00, 0xD5, 0x03}, wantStart: 0, wantErr: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			start, end, err := Scan(tt.buf)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.wantStart, start)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}
