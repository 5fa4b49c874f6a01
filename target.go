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
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"
)

// ModulationType is the radio protocol family of a target.
type ModulationType int

const (
	ModISO14443A ModulationType = iota + 1
	ModJewel
	ModISO14443B
	ModISO14443BI // ISO14443-B'
	ModISO14443B2SR
	ModISO14443B2CT
	ModFeliCa
	ModDEP
)

func (m ModulationType) String() string {
	switch m {
	case ModISO14443A:
		return "ISO/IEC 14443A"
	case ModJewel:
		return "Innovision Jewel"
	case ModISO14443B:
		return "ISO/IEC 14443-4B"
	case ModISO14443BI:
		return "ISO/IEC 14443-4B'"
	case ModISO14443B2SR:
		return "ISO/IEC 14443-2B ST SRx"
	case ModISO14443B2CT:
		return "ISO/IEC 14443-2B ASK CTx"
	case ModFeliCa:
		return "FeliCa"
	case ModDEP:
		return "D.E.P."
	default:
		return fmt.Sprintf("ModulationType(%d)", int(m))
	}
}

// BaudRate is the RF bit rate.
type BaudRate int

const (
	BaudUndefined BaudRate = iota
	Baud106
	Baud212
	Baud424
	Baud847
)

func (b BaudRate) String() string {
	switch b {
	case Baud106:
		return "106 kbps"
	case Baud212:
		return "212 kbps"
	case Baud424:
		return "424 kbps"
	case Baud847:
		return "847 kbps"
	case BaudUndefined:
		return "undefined baud rate"
	default:
		return fmt.Sprintf("BaudRate(%d)", int(b))
	}
}

// Modulation pairs a protocol family with a bit rate.
type Modulation struct {
	Type     ModulationType
	BaudRate BaudRate
}

func (m Modulation) String() string {
	return fmt.Sprintf("%s (%s)", m.Type, m.BaudRate)
}

// TargetInfo is implemented by the per-family descriptors below.
type TargetInfo interface {
	modulationType() ModulationType
}

// ISO14443AInfo describes an ISO14443-A target.
type ISO14443AInfo struct {
	UID  []byte
	ATS  []byte
	ATQA [2]byte
	SAK  byte
}

// ISO14443BInfo describes an ISO14443-B target.
type ISO14443BInfo struct {
	INF    []byte
	ATQB   [12]byte
	ID     [4]byte
	Params [4]byte
}

// FeliCaInfo describes a FeliCa target. SystemCode is nil when the card did
// not report one.
type FeliCaInfo struct {
	SystemCode   []byte
	ID           [8]byte
	Pad          [8]byte
	Len          byte
	ResponseCode byte
}

// JewelInfo describes an Innovision Jewel/Topaz target.
type JewelInfo struct {
	SensRes [2]byte
	ID      [4]byte
}

// DEPMode selects active or passive D.E.P.
type DEPMode int

const (
	DEPUndefined DEPMode = iota
	DEPPassive
	DEPActive
)

func (m DEPMode) String() string {
	switch m {
	case DEPPassive:
		return "passive"
	case DEPActive:
		return "active"
	default:
		return "undefined"
	}
}

// DEPInfo describes a D.E.P. (NFCIP-1) peer. It is also used as initiator
// parameters for SelectDEPTarget, where only NFCID3 and GeneralBytes matter.
type DEPInfo struct {
	GeneralBytes []byte
	NFCID3       [10]byte
	Mode         DEPMode
	DID          byte
	BS           byte
	BR           byte
	TO           byte
	PP           byte
}

func (*ISO14443AInfo) modulationType() ModulationType { return ModISO14443A }
func (*ISO14443BInfo) modulationType() ModulationType { return ModISO14443B }
func (*FeliCaInfo) modulationType() ModulationType    { return ModFeliCa }
func (*JewelInfo) modulationType() ModulationType     { return ModJewel }
func (*DEPInfo) modulationType() ModulationType       { return ModDEP }

// Target is a discovered target: its modulation and family descriptor.
type Target struct {
	Info       TargetInfo
	Modulation Modulation
}

// Equal reports whether two targets carry identical descriptors.
func (t Target) Equal(o Target) bool {
	return t.Modulation == o.Modulation && reflect.DeepEqual(t.Info, o.Info)
}

// ISO14443A returns the descriptor, or nil for other families.
func (t Target) ISO14443A() *ISO14443AInfo {
	info, _ := t.Info.(*ISO14443AInfo)
	return info
}

// ISO14443B returns the descriptor, or nil for other families.
func (t Target) ISO14443B() *ISO14443BInfo {
	info, _ := t.Info.(*ISO14443BInfo)
	return info
}

// FeliCa returns the descriptor, or nil for other families.
func (t Target) FeliCa() *FeliCaInfo {
	info, _ := t.Info.(*FeliCaInfo)
	return info
}

// Jewel returns the descriptor, or nil for other families.
func (t Target) Jewel() *JewelInfo {
	info, _ := t.Info.(*JewelInfo)
	return info
}

// DEP returns the descriptor, or nil for other families.
func (t Target) DEP() *DEPInfo {
	info, _ := t.Info.(*DEPInfo)
	return info
}

func hexUpper(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// String renders the target the way nfc-list prints it.
func (t Target) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s target:\n", t.Modulation)
	switch info := t.Info.(type) {
	case *ISO14443AInfo:
		fmt.Fprintf(&sb, "    ATQA (SENS_RES): %s\n", hexUpper(info.ATQA[:]))
		fmt.Fprintf(&sb, "       UID (NFCID%c): %s\n", nfcidLevel(len(info.UID)), hexUpper(info.UID))
		fmt.Fprintf(&sb, "      SAK (SEL_RES): %02X\n", info.SAK)
		if len(info.ATS) > 0 {
			fmt.Fprintf(&sb, "                ATS: %s\n", hexUpper(info.ATS))
		}
	case *ISO14443BInfo:
		fmt.Fprintf(&sb, "               ATQB: %s\n", hexUpper(info.ATQB[:]))
		fmt.Fprintf(&sb, "                 ID: %s\n", hexUpper(info.ID[:]))
		fmt.Fprintf(&sb, "             Params: %s\n", hexUpper(info.Params[:]))
		if len(info.INF) > 0 {
			fmt.Fprintf(&sb, "                INF: %s\n", hexUpper(info.INF))
		}
	case *FeliCaInfo:
		fmt.Fprintf(&sb, "                 ID: %s\n", hexUpper(info.ID[:]))
		fmt.Fprintf(&sb, "            Padding: %s\n", hexUpper(info.Pad[:]))
		if info.SystemCode != nil {
			fmt.Fprintf(&sb, "        System Code: %s\n", hexUpper(info.SystemCode))
		}
	case *JewelInfo:
		fmt.Fprintf(&sb, "    ATQA (SENS_RES): %s\n", hexUpper(info.SensRes[:]))
		fmt.Fprintf(&sb, "      4-LSB JEWELID: %s\n", hexUpper(info.ID[:]))
	case *DEPInfo:
		fmt.Fprintf(&sb, "             NFCID3: %s\n", hexUpper(info.NFCID3[:]))
		fmt.Fprintf(&sb, "                 BS: %02X\n", info.BS)
		fmt.Fprintf(&sb, "                 BR: %02X\n", info.BR)
		fmt.Fprintf(&sb, "                 TO: %02X\n", info.TO)
		fmt.Fprintf(&sb, "                 PP: %02X\n", info.PP)
		if len(info.GeneralBytes) > 0 {
			fmt.Fprintf(&sb, "      General Bytes: %s\n", hexUpper(info.GeneralBytes))
		}
	}
	return sb.String()
}

func nfcidLevel(uidLen int) byte {
	switch uidLen {
	case 4:
		return '1'
	case 7:
		return '2'
	default:
		return '3'
	}
}

// cascadeTag marks an incomplete UID in an anticollision answer.
const cascadeTag = 0x88

// byteReader walks a target record with bounds checks.
type byteReader struct {
	buf []byte
	off int
	err error
}

func (r *byteReader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("need %d bytes at offset %d, have %d", n, r.off, len(r.buf))
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *byteReader) readByte() byte {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *byteReader) remaining() int {
	return len(r.buf) - r.off
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return bytes.Clone(b)
}

// DecodeTarget parses one TargetData record from InListPassiveTarget. The first
// byte is the target number and is skipped.
func DecodeTarget(raw []byte, chip ChipFamily, mt ModulationType) (Target, error) {
	r := &byteReader{buf: raw}
	r.next(1)

	var info TargetInfo
	switch mt {
	case ModISO14443A:
		info = decodeISO14443A(r, chip)
	case ModISO14443B:
		info = decodeISO14443B(r)
	case ModFeliCa:
		info = decodeFeliCa(r)
	case ModJewel:
		info = decodeJewel(r)
	case ModDEP:
		info = decodeDEP(r)
	default:
		return Target{}, newError("DecodeTarget", ErrorNotSupportedByDevice, fmt.Errorf("no decoder for %s", mt))
	}
	if r.err != nil {
		return Target{}, newError("DecodeTarget", ErrorInvalidArgument, fmt.Errorf("%s record % X: %w", mt, raw, r.err))
	}
	return Target{Info: info, Modulation: Modulation{Type: mt}}, nil
}

func decodeISO14443A(r *byteReader, chip ChipFamily) *ISO14443AInfo {
	info := &ISO14443AInfo{}
	atqa := r.next(2)
	if atqa != nil {
		if chip == ChipPN531 {
			info.ATQA = [2]byte{atqa[1], atqa[0]}
		} else {
			info.ATQA = [2]byte{atqa[0], atqa[1]}
		}
	}
	info.SAK = r.readByte()
	uidLen := int(r.readByte())
	uid := clone(r.next(uidLen))

	// The ATS length byte counts itself.
	if r.err == nil && r.remaining() > 0 {
		atsLen := int(r.readByte()) - 1
		info.ATS = clone(r.next(atsLen))
	}

	switch {
	case len(uid) == 8 && uid[0] == cascadeTag:
		uid = uid[1:]
	case len(uid) == 12 && uid[0] == cascadeTag && uid[4] == cascadeTag:
		uid = append(uid[1:4:4], uid[5:]...)
	}
	info.UID = uid
	return info
}

func decodeISO14443B(r *byteReader) *ISO14443BInfo {
	info := &ISO14443BInfo{}
	copy(info.ATQB[:], r.next(12))
	attribLen := r.readByte()
	copy(info.ID[:], r.next(4))
	copy(info.Params[:], r.next(4))
	if attribLen > 8 {
		infLen := int(r.readByte())
		info.INF = clone(r.next(infLen))
	}
	return info
}

func decodeFeliCa(r *byteReader) *FeliCaInfo {
	info := &FeliCaInfo{}
	info.Len = r.readByte()
	info.ResponseCode = r.readByte()
	copy(info.ID[:], r.next(8))
	copy(info.Pad[:], r.next(8))
	if info.Len > 18 {
		info.SystemCode = clone(r.next(2))
	}
	return info
}

func decodeJewel(r *byteReader) *JewelInfo {
	info := &JewelInfo{}
	copy(info.SensRes[:], r.next(2))
	copy(info.ID[:], r.next(4))
	return info
}

// decodeDEP parses an InJumpForDEP or InATR answer after the status byte:
// Tg NFCID3t(10) DIDt BSt BRt TO PPt [Gt...].
func decodeDEP(r *byteReader) *DEPInfo {
	info := &DEPInfo{}
	copy(info.NFCID3[:], r.next(10))
	info.DID = r.readByte()
	info.BS = r.readByte()
	info.BR = r.readByte()
	info.TO = r.readByte()
	info.PP = r.readByte()
	if r.err == nil && r.remaining() > 0 {
		info.GeneralBytes = clone(r.next(r.remaining()))
	}
	return info
}
