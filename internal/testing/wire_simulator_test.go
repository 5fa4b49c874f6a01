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

package testing

import (
	"bytes"
	"testing"

	"github.com/ZaparooProject/go-pn53x/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func command(cmd byte, args ...byte) []byte {
	raw, err := frame.Encode(append([]byte{frame.HostToPN53x, cmd}, args...))
	if err != nil {
		panic(err)
	}
	return raw
}

func drain(v *VirtualPN53x) []byte {
	buf := make([]byte, 1024)
	n, _ := v.Read(buf)
	return buf[:n]
}

// roundTrip sends one command and returns the response data after the ACK
// and the D5 cmd+1 header.
func roundTrip(t *testing.T, v *VirtualPN53x, cmd byte, args ...byte) []byte {
	t.Helper()
	_, err := v.Write(command(cmd, args...))
	require.NoError(t, err)

	out := drain(v)
	require.True(t, bytes.HasPrefix(out, ACKFrame), "no ACK in % X", out)
	payload, err := frame.Decode(out[len(ACKFrame):])
	require.NoError(t, err, "response % X", out)
	require.Equal(t, []byte{frame.PN53xToHost, cmd + 1}, payload[:2])
	return payload[2:]
}

var errorFrame = []byte{0x00, 0x00, 0xFF, 0x01, 0xFF, 0x7F, 0x81, 0x00}

func TestVirtualPN53x_FirmwareVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want []byte
		chip Chip
	}{
		{name: "PN532", chip: ChipPN532, want: []byte{0x32, 0x01, 0x06, 0x07}},
		{name: "PN531", chip: ChipPN531, want: []byte{0x04, 0x02}},
		{name: "PN533", chip: ChipPN533, want: []byte{0x33, 0x02, 0x08, 0x07}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := NewVirtualPN53x(tt.chip)
			assert.Equal(t, tt.want, roundTrip(t, v, cmdGetFirmwareVersion))
			assert.Equal(t, [][]byte{{cmdGetFirmwareVersion}}, v.Received())
		})
	}
}

func TestVirtualPN53x_ExactWireBytes(t *testing.T) {
	t.Parallel()

	v := NewVirtualPN532()
	_, err := v.Write([]byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD4, 0x02, 0x2A, 0x00})
	require.NoError(t, err)

	want := []byte{
		0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00,
		0x00, 0x00, 0xFF, 0x06, 0xFA, 0xD5, 0x03, 0x32, 0x01, 0x06, 0x07, 0xE8, 0x00,
	}
	assert.Equal(t, want, drain(v))
	assert.False(t, v.HasPendingResponse())
}

func TestVirtualPN53x_SplitWritesAndNoise(t *testing.T) {
	t.Parallel()

	v := NewVirtualPN532()
	raw := append([]byte{wakeByte, 0x00, 0x00, 0x00, 0x13}, command(cmdGetFirmwareVersion)...)
	for _, b := range raw {
		_, err := v.Write([]byte{b})
		require.NoError(t, err)
	}

	out := drain(v)
	require.True(t, bytes.HasPrefix(out, ACKFrame))
	payload, err := frame.Decode(out[len(ACKFrame):])
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), payload[1])
}

func TestVirtualPN53x_RejectedFrames(t *testing.T) {
	t.Parallel()

	badDCS := command(cmdGetFirmwareVersion)
	badDCS[len(badDCS)-2]++
	wrongTFI, err := frame.Encode([]byte{frame.PN53xToHost, cmdGetFirmwareVersion})
	require.NoError(t, err)

	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{name: "bad data checksum is ignored", in: badDCS, want: []byte{}},
		{name: "wrong TFI gets error frame", in: wrongTFI, want: errorFrame},
		{name: "unknown command", in: command(0x60, 0x01), want: append(bytes.Clone(ACKFrame), errorFrame...)},
		{name: "SAM without arguments", in: command(cmdSAMConfiguration), want: append(bytes.Clone(ACKFrame), errorFrame...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := NewVirtualPN532()
			_, err := v.Write(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, drain(v))
		})
	}
}

func TestVirtualPN53x_NACKRetransmits(t *testing.T) {
	t.Parallel()

	v := NewVirtualPN532()
	first := roundTrip(t, v, cmdGetFirmwareVersion)

	_, err := v.Write(NACKFrame)
	require.NoError(t, err)
	payload, err := frame.Decode(drain(v))
	require.NoError(t, err)
	assert.Equal(t, first, payload[2:])
}

func TestVirtualPN53x_ACKAbortsPending(t *testing.T) {
	t.Parallel()

	v := NewVirtualPN532()
	_, err := v.Write(command(cmdInListPassiveTarget, 0x01, 0x00))
	require.NoError(t, err)
	assert.Equal(t, ACKFrame, drain(v))
	assert.True(t, v.Pending())

	_, err = v.Write(ACKFrame)
	require.NoError(t, err)
	assert.False(t, v.Pending())

	// A card arriving after the abort must not produce a stray answer.
	v.AddTarget(NewMifareClassic1K([]byte{0x01, 0x02, 0x03, 0x04}))
	assert.False(t, v.HasPendingResponse())
}

func TestVirtualPN53x_Registers(t *testing.T) {
	t.Parallel()

	v := NewVirtualPN532()
	assert.Empty(t, roundTrip(t, v, cmdWriteRegister, 0x63, 0x3C, 0x10, 0x63, 0x3D, 0x07))
	assert.Equal(t, byte(0x10), v.Register(0x633C))
	assert.Equal(t, []byte{0x10, 0x07}, roundTrip(t, v, cmdReadRegister, 0x63, 0x3C, 0x63, 0x3D))

	pn533 := NewVirtualPN53x(ChipPN533)
	pn533.SetRegister(0x6302, 0x80)
	assert.Equal(t, []byte{statusOK, 0x80}, roundTrip(t, pn533, cmdReadRegister, 0x63, 0x02))
}

func TestVirtualPN53x_Configuration(t *testing.T) {
	t.Parallel()

	v := NewVirtualPN532()
	assert.Empty(t, roundTrip(t, v, cmdSetParameters, 0x14))
	assert.Equal(t, byte(0x14), v.Parameters())

	assert.Empty(t, roundTrip(t, v, cmdSAMConfiguration, 0x01, 0x00, 0x01))
	assert.Equal(t, byte(0x01), v.SAMMode())

	assert.Empty(t, roundTrip(t, v, cmdRFConfiguration, 0x01, 0x01))
	assert.True(t, v.RFField())
	assert.Equal(t, []byte{statusOK, 0x01, 0x00, 0x00}, roundTrip(t, v, cmdGetGeneralStatus))

	assert.Equal(t, []byte{0x00, 0xAA, 0x55}, roundTrip(t, v, cmdDiagnose, 0x00, 0xAA, 0x55))
}

func TestVirtualPN53x_ListPassiveTargets(t *testing.T) {
	t.Parallel()

	v := NewVirtualPN532()
	classic := NewMifareClassic1K([]byte{0x01, 0x02, 0x03, 0x04})
	ntag := NewNTAG213([]byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
	v.AddTarget(classic)
	v.AddTarget(ntag)
	v.AddTarget(NewFeliCaTarget([8]byte{1}, [8]byte{2}, nil))

	// Finite retries so an empty field answers instead of waiting.
	roundTrip(t, v, cmdRFConfiguration, 0x05, 0xFF, 0x01, 0x02)

	assert.Equal(t,
		[]byte{0x01, 0x01, 0x00, 0x04, 0x08, 0x04, 0x01, 0x02, 0x03, 0x04},
		roundTrip(t, v, cmdInListPassiveTarget, 0x01, 0x00))
	assert.Equal(t, []byte{statusOK}, roundTrip(t, v, cmdInDeselect, 0x00))
	assert.True(t, classic.Halted())

	assert.Equal(t,
		[]byte{0x01, 0x01, 0x00, 0x44, 0x00, 0x08, 0x88, 0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
		roundTrip(t, v, cmdInListPassiveTarget, 0x01, 0x00))
	roundTrip(t, v, cmdInDeselect, 0x00)

	assert.Equal(t, []byte{0x00}, roundTrip(t, v, cmdInListPassiveTarget, 0x01, 0x00))

	// Cycling the field wakes halted cards.
	roundTrip(t, v, cmdRFConfiguration, 0x01, 0x00)
	assert.False(t, classic.Halted())
	got := roundTrip(t, v, cmdInListPassiveTarget, 0x02, 0x00)
	assert.Equal(t, byte(0x02), got[0])
}

func TestVirtualPN53x_ListPassiveTargets_InitData(t *testing.T) {
	t.Parallel()

	v := NewVirtualPN532()
	v.AddTarget(NewMifareClassic1K([]byte{0x01, 0x02, 0x03, 0x04}))
	v.AddTarget(NewNTAG213([]byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}))

	got := roundTrip(t, v, cmdInListPassiveTarget, 0x01, 0x00, 0x88, 0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66)
	require.Equal(t, byte(0x01), got[0])
	assert.Equal(t, byte(0x08), got[5], "UID length")
}

func TestVirtualPN53x_ListPassiveTargets_PN531SwapsATQA(t *testing.T) {
	t.Parallel()

	v := NewVirtualPN53x(ChipPN531)
	v.AddTarget(NewMifareClassic1K([]byte{0x01, 0x02, 0x03, 0x04}))
	got := roundTrip(t, v, cmdInListPassiveTarget, 0x01, 0x00)
	assert.Equal(t, []byte{0x04, 0x00}, got[2:4])
}

func TestVirtualPN53x_InfiniteSelectWaitsForCard(t *testing.T) {
	t.Parallel()

	v := NewVirtualPN532()
	_, err := v.Write(command(cmdInListPassiveTarget, 0x01, 0x00))
	require.NoError(t, err)
	assert.Equal(t, ACKFrame, drain(v))

	v.AddTarget(NewMifareClassic1K([]byte{0x0A, 0x0B, 0x0C, 0x0D}))
	payload, err := frame.Decode(drain(v))
	require.NoError(t, err)
	assert.Equal(t, []byte{frame.PN53xToHost, 0x4B, 0x01, 0x01}, payload[:4])
	assert.False(t, v.Pending())
}

func TestVirtualPN53x_DataExchange(t *testing.T) {
	t.Parallel()

	v := NewVirtualPN532()
	ntag := NewNTAG213([]byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
	v.AddTarget(ntag)
	roundTrip(t, v, cmdInListPassiveTarget, 0x01, 0x00)

	got := roundTrip(t, v, cmdInDataExchange, 0x01, 0x30, 0x03)
	require.Len(t, got, 17)
	assert.Equal(t, []byte{statusOK, 0xE1, 0x10, 0x12, 0x00}, got[:5])

	assert.Equal(t, []byte{statusOK, 0x0A},
		roundTrip(t, v, cmdInDataExchange, 0x01, 0xA2, 0x04, 0xDE, 0xAD, 0xBE, 0xEF))
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, ntag.Block(4))

	assert.Equal(t, []byte{statusCommand}, roundTrip(t, v, cmdInDataExchange, 0x02, 0x30, 0x00))
	assert.Equal(t, []byte{statusOK}, roundTrip(t, v, cmdInSelect, 0x01))
	assert.Equal(t, []byte{statusCommand}, roundTrip(t, v, cmdInSelect, 0x05))

	ntag.Remove()
	assert.Equal(t, []byte{statusTimeout}, roundTrip(t, v, cmdInDataExchange, 0x01, 0x30, 0x00))
}

func TestVirtualPN53x_CommunicateThru(t *testing.T) {
	t.Parallel()

	v := NewVirtualPN532()
	assert.Equal(t, []byte{statusTimeout}, roundTrip(t, v, cmdInCommunicateThru, 0x26))

	tag := NewISO14443ATarget([]byte{1, 2, 3, 4}, [2]byte{0x00, 0x04}, 0x08, nil)
	tag.SetHandler(func(cmd []byte) []byte {
		if bytes.Equal(cmd, []byte{0x26}) {
			return []byte{0x04, 0x00}
		}
		return nil
	})
	v.AddTarget(tag)
	roundTrip(t, v, cmdInListPassiveTarget, 0x01, 0x00)

	assert.Equal(t, []byte{statusOK, 0x04, 0x00}, roundTrip(t, v, cmdInCommunicateThru, 0x26))
	assert.Equal(t, []byte{statusTimeout}, roundTrip(t, v, cmdInCommunicateThru, 0x52))
}

func TestVirtualPN53x_JumpForDEP(t *testing.T) {
	t.Parallel()

	v := NewVirtualPN532()
	assert.Equal(t, []byte{statusTimeout}, roundTrip(t, v, cmdInJumpForDEP, 0x01, 0x02, 0x00))

	peer := &DEPPeer{
		NFCID3:       [10]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		GeneralBytes: []byte{0x46, 0x66, 0x6D},
		Handler: func(cmd []byte) []byte {
			return append([]byte{0x99}, cmd...)
		},
	}
	v.SetDEPPeer(peer)

	got := roundTrip(t, v, cmdInJumpForDEP, 0x01, 0x02, 0x00)
	want := []byte{statusOK, 0x01, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 0x00, 0x00, 0x00, 0x0E, 0x32, 0x46, 0x66, 0x6D}
	assert.Equal(t, want, got)
	assert.Equal(t, []byte{0x01, 0x02, 0x00}, v.DEPArgs())

	assert.Equal(t, []byte{statusOK, 0x99, 0x42}, roundTrip(t, v, cmdInDataExchange, 0x01, 0x42))
}

func TestVirtualPN53x_TargetMode(t *testing.T) {
	t.Parallel()

	v := NewVirtualPN532()
	initArgs := []byte{0x05, 0x04, 0x00, 0x12, 0x34, 0x56, 0x20}
	_, err := v.Write(command(cmdTgInitAsTarget, initArgs...))
	require.NoError(t, err)
	assert.Equal(t, ACKFrame, drain(v))
	assert.True(t, v.Pending())
	assert.Equal(t, initArgs, v.TargetInitArgs())

	selectApp := []byte{0x00, 0xA4, 0x04, 0x00}
	readBinary := []byte{0x00, 0xB0, 0x00, 0x00, 0x0F}
	v.SetReader(0x08, selectApp, readBinary)

	payload, err := frame.Decode(drain(v))
	require.NoError(t, err)
	assert.Equal(t, append([]byte{frame.PN53xToHost, 0x8D, 0x08}, selectApp...), payload)

	assert.Equal(t, []byte{statusOK}, roundTrip(t, v, cmdTgSetData, 0x90, 0x00))
	assert.Equal(t, append([]byte{statusOK}, readBinary...), roundTrip(t, v, cmdTgGetData))
	assert.Equal(t, []byte{statusOK}, roundTrip(t, v, cmdTgResponseToInit, 0x6A, 0x82))
	assert.Equal(t, []byte{statusReleased}, roundTrip(t, v, cmdTgGetData))

	assert.Equal(t, [][]byte{{0x90, 0x00}, {0x6A, 0x82}}, v.Responses())
}

func TestVirtualPN53x_PowerDown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		wakeEnable byte
		wakes      bool
	}{
		{name: "HSU wake-up enabled", wakeEnable: 0x01, wakes: true},
		{name: "HSU wake-up disabled", wakeEnable: 0x02, wakes: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := NewVirtualPN532()
			v.SetRequireWakeup(true)

			assert.Equal(t, []byte{statusOK}, roundTrip(t, v, cmdPowerDown, tt.wakeEnable))
			assert.Equal(t, PowerModePowerDown, v.PowerMode())

			_, err := v.Write(command(cmdGetFirmwareVersion))
			require.NoError(t, err)
			assert.Empty(t, drain(v), "asleep chip must ignore frames without preamble")

			_, err = v.Write(append([]byte{wakeByte, 0x55, 0x00, 0x00}, command(cmdGetFirmwareVersion)...))
			require.NoError(t, err)
			if !tt.wakes {
				assert.Empty(t, drain(v))
				assert.Equal(t, PowerModePowerDown, v.PowerMode())
				return
			}
			assert.Equal(t, PowerModeNormal, v.PowerMode())
			assert.True(t, bytes.HasPrefix(drain(v), ACKFrame))
		})
	}
}

func TestVirtualPN53x_PowerDownWakesOnAnyTrafficByDefault(t *testing.T) {
	t.Parallel()

	v := NewVirtualPN532()
	roundTrip(t, v, cmdPowerDown, 0x04)
	assert.Equal(t, []byte{0x32, 0x01, 0x06, 0x07}, roundTrip(t, v, cmdGetFirmwareVersion))
}

func TestVirtualPN53x_FaultInjection(t *testing.T) {
	t.Parallel()

	t.Run("checksum error then intact retransmission", func(t *testing.T) {
		t.Parallel()
		v := NewVirtualPN532()
		v.InjectChecksumError()
		_, err := v.Write(command(cmdGetFirmwareVersion))
		require.NoError(t, err)

		out := drain(v)
		_, err = frame.Decode(out[len(ACKFrame):])
		require.ErrorIs(t, err, frame.ErrMalformed)

		_, err = v.Write(NACKFrame)
		require.NoError(t, err)
		_, err = frame.Decode(drain(v))
		require.NoError(t, err)
	})

	t.Run("dropped ACK", func(t *testing.T) {
		t.Parallel()
		v := NewVirtualPN532()
		v.DropNextACK()
		_, err := v.Write(command(cmdGetFirmwareVersion))
		require.NoError(t, err)
		payload, err := frame.Decode(drain(v))
		require.NoError(t, err)
		assert.Equal(t, byte(0x03), payload[1])
	})

	t.Run("error frame", func(t *testing.T) {
		t.Parallel()
		v := NewVirtualPN532()
		v.InjectErrorFrame()
		_, err := v.Write(command(cmdGetFirmwareVersion))
		require.NoError(t, err)
		assert.Equal(t, append(bytes.Clone(ACKFrame), errorFrame...), drain(v))

		assert.Equal(t, []byte{0x32, 0x01, 0x06, 0x07}, roundTrip(t, v, cmdGetFirmwareVersion))
	})

	t.Run("reset clears faults", func(t *testing.T) {
		t.Parallel()
		v := NewVirtualPN532()
		v.InjectErrorFrame()
		v.DropNextACK()
		v.Reset()
		assert.Equal(t, []byte{0x32, 0x01, 0x06, 0x07}, roundTrip(t, v, cmdGetFirmwareVersion))
	})
}
