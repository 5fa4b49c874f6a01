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
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceBuffer_Ring(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("uart", "/dev/ttyUSB0", 3)
	for i := range 5 {
		tb.RecordTX([]byte{byte(i)}, fmt.Sprintf("frame %d", i))
	}

	entries := tb.Entries()
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, []byte{byte(i + 2)}, e.Data, "oldest entries are dropped first")
		assert.Equal(t, TraceTX, e.Direction)
	}

	tb.Clear()
	assert.Empty(t, tb.Entries())
}

func TestTraceBuffer_DefaultSize(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("i2c", "/dev/i2c-1", 0)
	for range 20 {
		tb.RecordRX([]byte{0x01}, "")
	}
	assert.Len(t, tb.Entries(), 16)
}

func TestTraceBuffer_RecordCopiesData(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("spi", "spidev0.0", 4)
	data := []byte{0x00, 0x00, 0xFF}
	tb.RecordRX(data, "ACK")
	data[0] = 0x55

	assert.Equal(t, byte(0x00), tb.Entries()[0].Data[0])
}

func TestTraceBuffer_WrapError(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("uart", "/dev/ttyUSB0", 8)
	assert.NoError(t, tb.WrapError(nil))

	tb.RecordTX([]byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD4, 0x02, 0x2A, 0x00}, "GetFirmwareVersion")
	tb.RecordTimeout("waiting for ACK")

	err := fmt.Errorf("open: %w", tb.WrapError(ErrTransportTimeout))
	require.ErrorIs(t, err, ErrTransportTimeout)
	require.True(t, HasTrace(err))

	te := GetTrace(err)
	require.NotNil(t, te)
	assert.Equal(t, "uart", te.Transport)
	require.Len(t, te.Trace, 2)

	out := te.FormatTrace()
	assert.Contains(t, out, "[uart:/dev/ttyUSB0] Wire trace (2 entries):")
	assert.Contains(t, out, "> 00 00 FF 02 FE D4 02 2A 00 (GetFirmwareVersion)")
	assert.Contains(t, out, "< (empty) (TIMEOUT: waiting for ACK)")

	// Entries recorded after wrapping do not leak into the snapshot.
	tb.RecordRX([]byte{0x01}, "")
	assert.Len(t, te.Trace, 2)
}

func TestTraceableError_NoTrace(t *testing.T) {
	t.Parallel()

	te := &TraceableError{Err: ErrTransportWrite, Transport: "usb", Port: "001:004"}
	assert.Equal(t, "[usb:001:004] (no trace data)", te.FormatTrace())
	assert.False(t, HasTrace(ErrTransportWrite))
	assert.Nil(t, GetTrace(nil))
}

func TestFormatHexBytes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "(empty)", formatHexBytes(nil))
	assert.Equal(t, "D5 03", formatHexBytes([]byte{0xD5, 0x03}))

	long := bytes.Repeat([]byte{0xAB}, 40)
	out := formatHexBytes(long)
	assert.True(t, strings.HasSuffix(out, "... (40 bytes total)"))
	assert.Equal(t, maxTraceHexBytes, strings.Count(out, "AB"))
}

func TestTraceEntry_String(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("mock", "", 1)
	tb.RecordRX([]byte{0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00}, "NACK")
	s := tb.Entries()[0].String()
	assert.Regexp(t, `^\[\d{2}:\d{2}:\d{2}\.\d{3}\] RX: 00 00 FF FF 00 00 \(NACK\)$`, s)
}
