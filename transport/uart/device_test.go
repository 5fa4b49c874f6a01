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

package uart_test

import (
	"context"
	"testing"
	"time"

	pn53x "github.com/ZaparooProject/go-pn53x"
	virt "github.com/ZaparooProject/go-pn53x/internal/testing"
	"github.com/ZaparooProject/go-pn53x/transport/uart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mifareA = pn53x.Modulation{Type: pn53x.ModISO14443A, BaudRate: pn53x.Baud106}

func openSim(t *testing.T, sim *virt.VirtualPN53x) *pn53x.Device {
	t.Helper()
	jitter := virt.JitterConfig{Fragment: true, FragmentMin: 1, Seed: 7}
	tr := uart.NewWithPort(virt.NewSerialPort(virt.NewJitteryConn(sim, jitter)), "sim")
	device, err := pn53x.New(tr, pn53x.WithTimeout(time.Second), pn53x.WithAckTimeout(500*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, device.Init(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })
	return device
}

func TestDevice_ListPassiveTargets(t *testing.T) {
	t.Parallel()

	uid := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	sim := virt.NewVirtualPN532()
	sim.AddTarget(virt.NewMifareClassic1K(uid))
	sim.AddTarget(virt.NewNTAG213([]byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}))

	device := openSim(t, sim)
	assert.Equal(t, pn53x.ChipPN532, device.Chip())
	assert.Equal(t, byte(0x01), sim.SAMMode())

	ctx := context.Background()
	require.NoError(t, device.InitiatorInit(ctx))
	targets, err := device.ListPassiveTargets(ctx, mifareA, 8)
	require.NoError(t, err)
	require.Len(t, targets, 2)

	first := targets[0].ISO14443A()
	require.NotNil(t, first)
	assert.Equal(t, uid, first.UID)
	assert.Equal(t, byte(0x08), first.SAK)

	second := targets[1].ISO14443A()
	require.NotNil(t, second)
	assert.Equal(t, []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, second.UID)
}

func TestDevice_AbortInfiniteSelect(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualPN532()
	device := openSim(t, sim)
	ctx := context.Background()
	require.NoError(t, device.InitiatorInit(ctx))

	selectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	time.AfterFunc(100*time.Millisecond, func() { _ = device.AbortCommand() })
	target, err := device.SelectPassiveTarget(selectCtx, mifareA, nil)
	require.ErrorIs(t, err, pn53x.ErrorAborted)
	assert.Nil(t, target)

	require.Eventually(t, func() bool { return !sim.Pending() }, time.Second, 10*time.Millisecond,
		"the abort ACK cancels the command on the chip")

	fw, err := device.FirmwareVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, pn53x.ChipPN532, fw.Chip)
}

func TestDevice_PowerDownWake(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualPN532()
	sim.SetRequireWakeup(true)
	device := openSim(t, sim)
	ctx := context.Background()

	require.NoError(t, device.PowerDown(ctx, 0x01))
	assert.Equal(t, virt.PowerModePowerDown, sim.PowerMode())

	_, err := device.GeneralStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, virt.PowerModeNormal, sim.PowerMode())
}
