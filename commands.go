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

// Command codes. The wire form is D4 <code>; the reply is D5 <code+1>.
const (
	cmdDiagnose              = 0x00
	cmdGetFirmwareVersion    = 0x02
	cmdGetGeneralStatus      = 0x04
	cmdReadRegister          = 0x06
	cmdWriteRegister         = 0x08
	cmdSetParameters         = 0x12
	cmdSAMConfiguration      = 0x14
	cmdPowerDown             = 0x16
	cmdRFConfiguration       = 0x32
	cmdInDataExchange        = 0x40
	cmdInCommunicateThru     = 0x42
	cmdInDeselect            = 0x44
	cmdInJumpForPSL          = 0x46
	cmdInListPassiveTarget   = 0x4A
	cmdInPSL                 = 0x4E
	cmdInATR                 = 0x50
	cmdInRelease             = 0x52
	cmdInSelect              = 0x54
	cmdInJumpForDEP          = 0x56
	cmdInAutoPoll            = 0x60
	cmdTgGetData             = 0x86
	cmdTgGetInitiatorCommand = 0x88
	cmdTgInitAsTarget        = 0x8C
	cmdTgSetData             = 0x8E
	cmdTgResponseToInitiator = 0x90
	cmdTgSetGeneralBytes     = 0x92
	cmdTgSetMetaData         = 0x94
)

// statusCommands are the commands whose first reply byte is a status byte.
var statusCommands = map[byte]bool{
	cmdPowerDown:             true,
	cmdInDataExchange:        true,
	cmdInCommunicateThru:     true,
	cmdInDeselect:            true,
	cmdInJumpForPSL:          true,
	cmdInPSL:                 true,
	cmdInATR:                 true,
	cmdInRelease:             true,
	cmdInSelect:              true,
	cmdInJumpForDEP:          true,
	cmdTgGetData:             true,
	cmdTgGetInitiatorCommand: true,
	cmdTgSetData:             true,
	cmdTgResponseToInitiator: true,
	cmdTgSetGeneralBytes:     true,
	cmdTgSetMetaData:         true,
}

// HasStatusByte reports whether the reply to cmd carries a status byte.
func HasStatusByte(cmd byte) bool {
	return statusCommands[cmd]
}

// CIU register addresses.
const (
	RegCIUMode       uint16 = 0x6301
	RegCIUTxMode     uint16 = 0x6302
	RegCIURxMode     uint16 = 0x6303
	RegCIUTxControl  uint16 = 0x6304
	RegCIUTxAuto     uint16 = 0x6305
	RegCIUManualRCV  uint16 = 0x630D
	RegCIUStatus2    uint16 = 0x6338
	RegCIUControl    uint16 = 0x633C
	RegCIUBitFraming uint16 = 0x633D
)

// Register bit fields.
const (
	symbolTxCRCEnable   byte = 0x80
	symbolTxSpeed       byte = 0x70
	symbolTxFraming     byte = 0x03
	symbolRxCRCEnable   byte = 0x80
	symbolRxSpeed       byte = 0x70
	symbolRxNoError     byte = 0x08
	symbolRxMultiple    byte = 0x04
	symbolRxFraming     byte = 0x03
	symbolParityDisable byte = 0x10
	symbolForce100ASK   byte = 0x40
	symbolInitialRFOn   byte = 0x04
	symbolMFCrypto1On   byte = 0x08
	symbolTxLastBits    byte = 0x07
	symbolRxLastBits    byte = 0x07
	symbolInitiator     byte = 0x10
)

// SetParameters flags.
const (
	ParamNADUsed     byte = 0x01
	ParamDIDUsed     byte = 0x02
	ParamAutoATRRes  byte = 0x04
	ParamAutoRATS    byte = 0x10
	Param14443_4PICC byte = 0x20
	ParamNoAmble     byte = 0x40
)

// RFConfiguration items.
const (
	rfciField       = 0x01
	rfciTiming      = 0x02
	rfciRetryData   = 0x04
	rfciRetrySelect = 0x05
)

// PowerDown wake-up sources.
const (
	WakeupHSU     byte = 0x01
	WakeupSPI     byte = 0x02
	WakeupI2C     byte = 0x04
	WakeupGPIOP32 byte = 0x08
	WakeupGPIOP34 byte = 0x10
	WakeupRF      byte = 0x20
	WakeupINT1    byte = 0x80
)
