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

	"github.com/ZaparooProject/go-pn53x/internal/syncutil"
)

// TargetKind is the RF family of a VirtualTarget.
type TargetKind int

const (
	KindISO14443A TargetKind = iota
	KindISO14443B
	KindFeliCa
	KindJewel
)

// Type 2 tag commands answered by memory-backed targets.
const (
	t2Read  = 0x30
	t2Write = 0xA2
	t2Ack   = 0x0A
)

const cascadeTag = 0x88

// Handler answers one frame sent to a target. A nil reply means the target
// stayed silent and the chip reports a timeout.
type Handler func(cmd []byte) []byte

// VirtualTarget is a card or tag in the field of a VirtualPN53x.
type VirtualTarget struct {
	handler    Handler
	UID        []byte
	ATS        []byte
	SystemCode []byte
	memory     [][]byte
	Kind       TargetKind
	mu         syncutil.Mutex
	ATQB       [12]byte
	IDm        [8]byte
	PMm        [8]byte
	JewelID    [4]byte
	ATQA       [2]byte
	SensRes    [2]byte
	SAK        byte
	absent     bool
	halted     bool
}

// NewISO14443ATarget creates an ISO14443A target. ats excludes the TL byte
// and may be nil.
func NewISO14443ATarget(uid []byte, atqa [2]byte, sak byte, ats []byte) *VirtualTarget {
	return &VirtualTarget{
		Kind: KindISO14443A,
		UID:  bytes.Clone(uid),
		ATQA: atqa,
		SAK:  sak,
		ATS:  bytes.Clone(ats),
	}
}

// NewMifareClassic1K creates a MIFARE Classic 1K whose blocks can be read
// without authentication.
func NewMifareClassic1K(uid []byte) *VirtualTarget {
	t := NewISO14443ATarget(uid, [2]byte{0x00, 0x04}, 0x08, nil)
	t.memory = blankMemory(64, 16)
	t.handler = t.memoryHandler(16)
	return t
}

// NewNTAG213 creates an NTAG213 answering Type 2 READ and WRITE.
func NewNTAG213(uid []byte) *VirtualTarget {
	t := NewISO14443ATarget(uid, [2]byte{0x00, 0x44}, 0x00, nil)
	t.memory = blankMemory(45, 4)
	copy(t.memory[0], uid)
	// Capability container: NDEF mapping 1.0, 144 bytes, read/write.
	t.memory[3] = []byte{0xE1, 0x10, 0x12, 0x00}
	t.handler = t.memoryHandler(4)
	return t
}

// NewType4Target creates an ISO14443-4 target announcing itself with SAK 0x20
// and the given ATS. Frames sent to it after activation go to h.
func NewType4Target(uid []byte, ats []byte, h Handler) *VirtualTarget {
	t := NewISO14443ATarget(uid, [2]byte{0x03, 0x44}, 0x20, ats)
	t.handler = h
	return t
}

// NewFeliCaTarget creates a FeliCa target. systemCode may be nil.
func NewFeliCaTarget(idm, pmm [8]byte, systemCode []byte) *VirtualTarget {
	return &VirtualTarget{Kind: KindFeliCa, IDm: idm, PMm: pmm, SystemCode: bytes.Clone(systemCode)}
}

// NewJewelTarget creates an Innovision Jewel (Topaz) target.
func NewJewelTarget(id [4]byte) *VirtualTarget {
	return &VirtualTarget{Kind: KindJewel, JewelID: id, SensRes: [2]byte{0x0C, 0x00}}
}

// NewISO14443BTarget creates an ISO14443B target.
func NewISO14443BTarget(atqb [12]byte) *VirtualTarget {
	return &VirtualTarget{Kind: KindISO14443B, ATQB: atqb}
}

func blankMemory(n, size int) [][]byte {
	mem := make([][]byte, n)
	for i := range mem {
		mem[i] = make([]byte, size)
	}
	return mem
}

// SetHandler replaces the function answering frames.
func (t *VirtualTarget) SetHandler(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Remove takes the target out of the field.
func (t *VirtualTarget) Remove() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.absent = true
}

// Insert puts the target back into the field, powered up and not halted.
func (t *VirtualTarget) Insert() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.absent = false
	t.halted = false
}

// Present reports whether the target is in the field.
func (t *VirtualTarget) Present() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.absent
}

// Halted reports whether the target was deselected and ignores requests
// until the field is cycled.
func (t *VirtualTarget) Halted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.halted
}

func (t *VirtualTarget) setHalted(h bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.halted = h
}

// Block returns a copy of memory block n, or nil when out of range.
func (t *VirtualTarget) Block(n int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 0 || n >= len(t.memory) {
		return nil
	}
	return bytes.Clone(t.memory[n])
}

// answers reports whether the target responds to an InListPassiveTarget with
// baud rate and modulation byte brTy.
func (t *VirtualTarget) answers(brTy byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.absent || t.halted {
		return false
	}
	switch t.Kind {
	case KindISO14443A:
		return brTy == 0x00
	case KindFeliCa:
		return brTy == 0x01 || brTy == 0x02
	case KindISO14443B:
		return brTy == 0x03 || (brTy >= 0x06 && brTy <= 0x08)
	case KindJewel:
		return brTy == 0x04
	default:
		return false
	}
}

// cascadedUID is the UID as sent during anticollision, with cascade tags.
func (t *VirtualTarget) cascadedUID() []byte {
	switch len(t.UID) {
	case 7:
		return append([]byte{cascadeTag}, t.UID...)
	case 10:
		out := append([]byte{cascadeTag}, t.UID[:3]...)
		out = append(out, cascadeTag)
		return append(out, t.UID[3:]...)
	default:
		return bytes.Clone(t.UID)
	}
}

// record encodes the TargetData of an InListPassiveTarget answer. PN531
// reports the ATQA with its bytes swapped.
func (t *VirtualTarget) record(tg byte, chip Chip) []byte {
	out := []byte{tg}
	switch t.Kind {
	case KindISO14443A:
		atqa := t.ATQA
		if chip == ChipPN531 {
			atqa = [2]byte{atqa[1], atqa[0]}
		}
		uid := t.cascadedUID()
		out = append(out, atqa[0], atqa[1], t.SAK, byte(len(uid)))
		out = append(out, uid...)
		if len(t.ATS) > 0 {
			out = append(out, byte(len(t.ATS)+1))
			out = append(out, t.ATS...)
		}
	case KindFeliCa:
		polLen := byte(18)
		if len(t.SystemCode) > 0 {
			polLen += byte(len(t.SystemCode))
		}
		out = append(out, polLen, 0x01)
		out = append(out, t.IDm[:]...)
		out = append(out, t.PMm[:]...)
		out = append(out, t.SystemCode...)
	case KindISO14443B:
		out = append(out, t.ATQB[:]...)
		out = append(out, 0x01)
		out = append(out, t.ATQB[1:9]...)
	case KindJewel:
		out = append(out, t.SensRes[:]...)
		out = append(out, t.JewelID[:]...)
	}
	return out
}

// matchesInitData reports whether an ISO14443A select limited to the
// cascaded UID data picks this target.
func (t *VirtualTarget) matchesInitData(data []byte) bool {
	if t.Kind != KindISO14443A || len(data) == 0 {
		return true
	}
	return bytes.Equal(t.cascadedUID(), data)
}

func (t *VirtualTarget) respond(cmd []byte) []byte {
	t.mu.Lock()
	h := t.handler
	absent := t.absent
	t.mu.Unlock()
	if absent || h == nil {
		return nil
	}
	return h(cmd)
}

func (t *VirtualTarget) memoryHandler(blockSize int) Handler {
	return func(cmd []byte) []byte {
		if len(cmd) < 2 {
			return nil
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		n := int(cmd[1])
		switch cmd[0] {
		case t2Read:
			// A READ answers 16 bytes starting at the addressed block.
			var out []byte
			for i := n; len(out) < 16; i++ {
				if i >= len(t.memory) {
					i = 0
				}
				out = append(out, t.memory[i]...)
			}
			return out[:16]
		case t2Write:
			if n >= len(t.memory) || len(cmd) < 2+blockSize {
				return nil
			}
			copy(t.memory[n], cmd[2:2+blockSize])
			return []byte{t2Ack}
		default:
			return nil
		}
	}
}
