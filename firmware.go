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
	"context"
	"errors"
	"fmt"
)

// FirmwareVersion is the decoded GetFirmwareVersion reply.
type FirmwareVersion struct {
	Chip     ChipFamily
	IC       byte
	Version  byte
	Revision byte
	Support  byte
}

// Support flags of PN532/PN533 firmware.
const (
	SupportISO14443A byte = 0x01
	SupportISO14443B byte = 0x02
	SupportISO18092  byte = 0x04
)

// SupportsISO14443A reports ISO14443A support. PN531 always has it.
func (f *FirmwareVersion) SupportsISO14443A() bool {
	return f.Chip == ChipPN531 || f.Support&SupportISO14443A != 0
}

// SupportsISO14443B reports ISO14443B support.
func (f *FirmwareVersion) SupportsISO14443B() bool {
	return f.Support&SupportISO14443B != 0
}

// SupportsISO18092 reports NFCIP-1 (DEP) support. PN531 always has it.
func (f *FirmwareVersion) SupportsISO18092() bool {
	return f.Chip == ChipPN531 || f.Support&SupportISO18092 != 0
}

func (f *FirmwareVersion) String() string {
	return fmt.Sprintf("%s v%d.%d", f.Chip, f.Version, f.Revision)
}

// parseFirmwareVersion decodes the reply data. PN531 answers with version and
// revision only; PN532 and PN533 prefix the IC byte and append the support
// flags.
func parseFirmwareVersion(data []byte) (*FirmwareVersion, error) {
	switch {
	case len(data) == 2:
		return &FirmwareVersion{Chip: ChipPN531, Version: data[0], Revision: data[1]}, nil
	case len(data) >= 4:
		fw := &FirmwareVersion{
			Chip:     chipFromIC(data[0]),
			IC:       data[0],
			Version:  data[1],
			Revision: data[2],
			Support:  data[3],
		}
		if fw.Chip == ChipUnknown {
			return nil, newError("GetFirmwareVersion", ErrorNotSupportedByDevice, fmt.Errorf("unknown IC 0x%02X", data[0]))
		}
		return fw, nil
	default:
		return nil, newError("GetFirmwareVersion", ErrorUnexpectedReply, fmt.Errorf("%d byte firmware reply", len(data)))
	}
}

// FirmwareVersion queries the chip and records its family. A family fixed
// with WithChip is kept when the reply cannot tell (PN531).
func (d *Device) FirmwareVersion(ctx context.Context) (*FirmwareVersion, error) {
	data, err := d.session.Command(ctx, cmdGetFirmwareVersion, nil, d.timeout())
	if err != nil {
		return nil, err
	}
	fw, err := parseFirmwareVersion(data)
	if err != nil {
		return nil, err
	}

	if d.chip == ChipUnknown || fw.IC != 0 {
		d.session.SetChip(fw.Chip)
	}
	d.firmware = fw
	return fw, nil
}

// TargetStatus is one target entry of GetGeneralStatus.
type TargetStatus struct {
	Number     byte
	RxBaudRate byte
	TxBaudRate byte
	Modulation byte
}

// GeneralStatus is the decoded GetGeneralStatus reply.
type GeneralStatus struct {
	Targets   []TargetStatus
	LastError ErrorCode
	Status    byte
	SAMStatus byte
	Field     bool
}

// GeneralStatus reads the chip's last error, field state and active targets.
func (d *Device) GeneralStatus(ctx context.Context) (*GeneralStatus, error) {
	data, err := d.session.Command(ctx, cmdGetGeneralStatus, nil, d.timeout())
	if err != nil {
		return nil, err
	}
	if len(data) < 3 {
		return nil, newError("GetGeneralStatus", ErrorUnexpectedReply, fmt.Errorf("%d byte status reply", len(data)))
	}

	gs := &GeneralStatus{
		Status:    data[0],
		LastError: StatusToErrorCode(data[0]),
		Field:     data[1] != 0,
	}
	n := int(data[2])
	rest := data[3:]
	if len(rest) < n*4 {
		return nil, newError("GetGeneralStatus", ErrorUnexpectedReply, fmt.Errorf("%d targets announced, %d bytes follow", n, len(rest)))
	}
	for i := range n {
		t := rest[i*4:]
		gs.Targets = append(gs.Targets, TargetStatus{
			Number:     t[0],
			RxBaudRate: t[1],
			TxBaudRate: t[2],
			Modulation: t[3],
		})
	}
	if rest = rest[n*4:]; len(rest) > 0 {
		gs.SAMStatus = rest[0]
	}
	return gs, nil
}

// Diagnose test numbers.
const (
	DiagnoseCommunicationTest byte = 0x00
	DiagnoseROMTest           byte = 0x01
	DiagnoseRAMTest           byte = 0x02
	DiagnosePollingTest       byte = 0x04
	DiagnoseAttentionTest     byte = 0x06
	DiagnoseSelfAntennaTest   byte = 0x07
)

// DiagnoseResult contains the result of a diagnose test
type DiagnoseResult struct {
	Data       []byte
	TestNumber byte
	Success    bool
}

// ErrDiagnoseFailed is returned by SelfTest when the chip reports a failure.
var ErrDiagnoseFailed = errors.New("diagnose test failed")

// Diagnose runs one of the chip's built-in tests.
func (d *Device) Diagnose(ctx context.Context, test byte, data []byte) (*DiagnoseResult, error) {
	args := append([]byte{test}, data...)
	res, err := d.session.Command(ctx, cmdDiagnose, args, d.timeout())
	if err != nil {
		return nil, err
	}

	result := &DiagnoseResult{TestNumber: test, Data: res}
	switch test {
	case DiagnoseCommunicationTest:
		// The chip echoes the test number and data.
		result.Success = bytes.Equal(res, args)
	case DiagnoseROMTest, DiagnoseRAMTest, DiagnosePollingTest:
		if len(res) == 0 {
			return nil, newError("Diagnose", ErrorUnexpectedReply, errors.New("empty diagnose reply"))
		}
		result.Success = res[0] == 0x00
	default:
		result.Success = true
	}
	return result, nil
}

// SelfTest runs the communication, ROM and RAM tests.
func (d *Device) SelfTest(ctx context.Context) error {
	for _, test := range []byte{DiagnoseCommunicationTest, DiagnoseROMTest, DiagnoseRAMTest} {
		var payload []byte
		if test == DiagnoseCommunicationTest {
			payload = []byte("go-pn53x")
		}
		res, err := d.Diagnose(ctx, test, payload)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("%w: test 0x%02X returned % X", ErrDiagnoseFailed, test, res.Data)
		}
	}
	return nil
}
