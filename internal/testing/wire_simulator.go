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

// Package testing provides a wire-level PN53x simulator for transport and
// device tests.
//
// VirtualPN53x implements io.ReadWriter and speaks the host link protocol:
// normal information frames, ACK and NACK, error frames and the power-down
// wake-up rules. Cards in its field are VirtualTargets.
package testing

import (
	"bytes"
	"errors"

	"github.com/ZaparooProject/go-pn53x/internal/frame"
	"github.com/ZaparooProject/go-pn53x/internal/syncutil"
)

// Command codes understood by the simulator.
const (
	cmdDiagnose            = 0x00
	cmdGetFirmwareVersion  = 0x02
	cmdGetGeneralStatus    = 0x04
	cmdReadRegister        = 0x06
	cmdWriteRegister       = 0x08
	cmdSetParameters       = 0x12
	cmdSAMConfiguration    = 0x14
	cmdPowerDown           = 0x16
	cmdRFConfiguration     = 0x32
	cmdInDataExchange      = 0x40
	cmdInCommunicateThru   = 0x42
	cmdInDeselect          = 0x44
	cmdInListPassiveTarget = 0x4A
	cmdInRelease           = 0x52
	cmdInSelect            = 0x54
	cmdInJumpForDEP        = 0x56
	cmdTgGetData           = 0x86
	cmdTgGetInitiatorCmd   = 0x88
	cmdTgInitAsTarget      = 0x8C
	cmdTgSetData           = 0x8E
	cmdTgResponseToInit    = 0x90
)

// Status bytes reported by the simulator.
const (
	statusOK       = 0x00
	statusTimeout  = 0x01
	statusCommand  = 0x27
	statusReleased = 0x29
)

// wakeByte starts the HSU wake-up sequence.
const wakeByte = 0x55

// wakeupHSU is the PowerDown WakeUpEnable bit for the serial link.
const wakeupHSU = 0x01

// ACKFrame and NACKFrame as they appear on the wire.
var (
	ACKFrame  = frame.AckFrame
	NACKFrame = frame.NackFrame
)

// Chip selects the firmware the simulator reports and its chip-specific
// reply formats.
type Chip int

const (
	ChipPN532 Chip = iota
	ChipPN531
	ChipPN533
)

// PowerMode is the simulated power state.
type PowerMode int

const (
	PowerModeNormal PowerMode = iota
	PowerModePowerDown
)

// DEPPeer is an NFCIP-1 target that answers InJumpForDEP.
type DEPPeer struct {
	Handler      Handler
	GeneralBytes []byte
	NFCID3       [10]byte
}

// reader is an external ISO14443A or NFCIP-1 reader talking to the
// simulator while it acts as a target.
type reader struct {
	commands  [][]byte
	responses [][]byte
	mode      byte
}

type pendingCommand struct {
	args []byte
	cmd  byte
}

// VirtualPN53x simulates a PN531, PN532 or PN533 at the wire level. It
// implements io.ReadWriter to plug into transport tests: Write feeds host
// bytes in, Read returns whatever the chip has queued and 0 bytes when
// nothing is pending.
//
// A command that cannot be answered yet (a select with unbounded retries and
// no card, or TgInitAsTarget with no reader) stays pending after its ACK
// until AddTarget or SetReader lets it complete, or the host aborts it with
// an ACK frame.
type VirtualPN53x struct {
	registers         map[uint16]byte
	pending           *pendingCommand
	reader            *reader
	depPeer           *DEPPeer
	rxBuffer          bytes.Buffer
	txBuffer          bytes.Buffer
	lastResponse      []byte
	targets           []*VirtualTarget
	selected          []*VirtualTarget
	received          [][]byte
	targetInitArgs    []byte
	depArgs           []byte
	chip              Chip
	power             PowerMode
	mu                syncutil.Mutex
	parameters        byte
	samMode           byte
	wakeEnable        byte
	mxRtyPassive      byte
	rfField           bool
	requireWakeup     bool
	injectChecksumErr bool
	injectErrorFrame  bool
	dropNextACK       bool
	depActive         bool
}

// NewVirtualPN53x creates a simulator for chip with the RF field off and no
// targets. Passive selection retries forever, as after a chip reset.
func NewVirtualPN53x(chip Chip) *VirtualPN53x {
	return &VirtualPN53x{
		chip:         chip,
		registers:    make(map[uint16]byte),
		mxRtyPassive: 0xFF,
	}
}

// NewVirtualPN532 creates a PN532 simulator.
func NewVirtualPN532() *VirtualPN53x {
	return NewVirtualPN53x(ChipPN532)
}

// Write receives host bytes and processes every complete frame among them.
func (v *VirtualPN53x) Write(data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.power == PowerModePowerDown {
		if !v.wakes(data) {
			return len(data), nil
		}
		v.power = PowerModeNormal
	}

	v.rxBuffer.Write(data)
	v.processReceivedData()
	return len(data), nil
}

// wakes reports whether data brings the chip out of power down. Over HSU only
// a 0x55 byte does, and only if PowerDown enabled HSU wake-up; other links
// wake on any traffic.
func (v *VirtualPN53x) wakes(data []byte) bool {
	if !v.requireWakeup {
		return len(data) > 0
	}
	return len(data) > 0 && data[0] == wakeByte && v.wakeEnable&wakeupHSU != 0
}

// Read returns queued chip output.
func (v *VirtualPN53x) Read(buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.txBuffer.Len() == 0 {
		return 0, nil
	}
	n, _ := v.txBuffer.Read(buf)
	return n, nil
}

// HasPendingResponse reports whether output is waiting to be read. I2C and
// SPI mocks use it for the ready flag.
func (v *VirtualPN53x) HasPendingResponse() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.txBuffer.Len() > 0
}

// SetRequireWakeup makes the chip behave like a PN532 on HSU: once powered
// down it ignores everything until a write starting with 0x55.
func (v *VirtualPN53x) SetRequireWakeup(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.requireWakeup = on
}

// AddTarget puts t in the field and retries a pending selection.
func (v *VirtualPN53x) AddTarget(t *VirtualTarget) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.targets = append(v.targets, t)
	v.retryPending()
}

// RemoveAllTargets empties the field.
func (v *VirtualPN53x) RemoveAllTargets() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.targets = nil
	v.selected = nil
}

// SetDEPPeer installs the NFCIP-1 target answering InJumpForDEP. nil removes it.
func (v *VirtualPN53x) SetDEPPeer(p *DEPPeer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.depPeer = p
	v.retryPending()
}

// SetReader brings an external reader into the field. It activates the
// simulator as a target with the given TgInitAsTarget mode byte and then
// sends commands one by one; the first is returned by TgInitAsTarget. Once
// the commands run out the reader leaves and TgGetData reports the target
// released.
func (v *VirtualPN53x) SetReader(mode byte, commands ...[]byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r := &reader{mode: mode}
	for _, c := range commands {
		r.commands = append(r.commands, bytes.Clone(c))
	}
	v.reader = r
	v.retryPending()
}

// Responses returns what the host sent back to the reader with TgSetData or
// TgResponseToInitiator.
func (v *VirtualPN53x) Responses() [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.reader == nil {
		return nil
	}
	out := make([][]byte, len(v.reader.responses))
	copy(out, v.reader.responses)
	return out
}

// Received returns every command frame processed, as command code plus
// arguments.
func (v *VirtualPN53x) Received() [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([][]byte, len(v.received))
	copy(out, v.received)
	return out
}

// TargetInitArgs returns the arguments of the last TgInitAsTarget.
func (v *VirtualPN53x) TargetInitArgs() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return bytes.Clone(v.targetInitArgs)
}

// DEPArgs returns the arguments of the last InJumpForDEP.
func (v *VirtualPN53x) DEPArgs() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return bytes.Clone(v.depArgs)
}

// Register returns the simulated value of a chip register.
func (v *VirtualPN53x) Register(addr uint16) byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.registers[addr]
}

// SetRegister presets a chip register.
func (v *VirtualPN53x) SetRegister(addr uint16, value byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.registers[addr] = value
}

// Parameters returns the last SetParameters flags byte.
func (v *VirtualPN53x) Parameters() byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.parameters
}

// SAMMode returns the last SAMConfiguration mode, 0 if never configured.
func (v *VirtualPN53x) SAMMode() byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.samMode
}

// RFField reports whether the RF field is on.
func (v *VirtualPN53x) RFField() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rfField
}

// PowerMode returns the simulated power state.
func (v *VirtualPN53x) PowerMode() PowerMode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.power
}

// Pending reports whether a command was acknowledged but not answered yet.
func (v *VirtualPN53x) Pending() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pending != nil
}

// InjectChecksumError corrupts the data checksum of the next response. A NACK
// from the host gets an intact copy.
func (v *VirtualPN53x) InjectChecksumError() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.injectChecksumErr = true
}

// InjectErrorFrame answers the next command with the syntax error frame.
func (v *VirtualPN53x) InjectErrorFrame() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.injectErrorFrame = true
}

// DropNextACK leaves the next command unacknowledged. Its response is still
// sent.
func (v *VirtualPN53x) DropNextACK() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropNextACK = true
}

// Reset clears buffers, pending work and injected faults. Targets, registers
// and the reader stay.
func (v *VirtualPN53x) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rxBuffer.Reset()
	v.txBuffer.Reset()
	v.lastResponse = nil
	v.pending = nil
	v.power = PowerModeNormal
	v.injectChecksumErr = false
	v.injectErrorFrame = false
	v.dropNextACK = false
}

// processReceivedData consumes every complete frame in the receive buffer.
// Garbage before a start code is dropped, as are frames with a bad length or
// data checksum: the real chip ignores them and the host times out waiting
// for the ACK.
func (v *VirtualPN53x) processReceivedData() {
	for v.rxBuffer.Len() > 0 {
		start, end, err := frame.Scan(v.rxBuffer.Bytes())
		switch {
		case errors.Is(err, frame.ErrTruncated):
			v.rxBuffer.Next(start)
			return
		case err != nil:
			v.rxBuffer.Next(start + 1)
			continue
		}

		raw := bytes.Clone(v.rxBuffer.Bytes()[start:end])
		v.rxBuffer.Next(end)
		v.handleFrame(raw)
	}
}

func (v *VirtualPN53x) handleFrame(raw []byte) {
	switch {
	case frame.IsAck(raw):
		// An ACK from the host aborts the command in progress.
		v.pending = nil
		return
	case frame.IsNack(raw):
		if v.lastResponse != nil {
			v.txBuffer.Write(v.lastResponse)
		}
		return
	}

	payload, err := frame.Decode(raw)
	if err != nil {
		return
	}
	if len(payload) < 2 || payload[0] != frame.HostToPN53x {
		v.writeErrorFrame()
		return
	}

	if v.dropNextACK {
		v.dropNextACK = false
	} else {
		v.txBuffer.Write(frame.AckFrame)
	}

	cmd, args := payload[1], bytes.Clone(payload[2:])
	v.received = append(v.received, bytes.Clone(payload[1:]))
	v.pending = nil

	if v.injectErrorFrame {
		v.injectErrorFrame = false
		v.writeErrorFrame()
		return
	}

	v.execute(cmd, args)
}

// execute runs cmd and queues its response, or parks it as pending.
func (v *VirtualPN53x) execute(cmd byte, args []byte) {
	resp, ok := v.dispatch(cmd, args)
	if !ok {
		v.pending = &pendingCommand{cmd: cmd, args: args}
		return
	}
	if resp == nil {
		v.writeErrorFrame()
		return
	}
	v.writeResponse(cmd, resp)
}

func (v *VirtualPN53x) retryPending() {
	if p := v.pending; p != nil {
		v.pending = nil
		v.execute(p.cmd, p.args)
	}
}

func (v *VirtualPN53x) writeResponse(cmd byte, data []byte) {
	payload := append([]byte{frame.PN53xToHost, cmd + 1}, data...)
	encoded, err := frame.Encode(payload)
	if err != nil {
		v.writeErrorFrame()
		return
	}
	v.lastResponse = encoded

	if v.injectChecksumErr {
		v.injectChecksumErr = false
		corrupted := bytes.Clone(encoded)
		corrupted[len(corrupted)-2] ^= 0xFF
		v.txBuffer.Write(corrupted)
		return
	}
	v.txBuffer.Write(encoded)
}

func (v *VirtualPN53x) writeErrorFrame() {
	encoded, _ := frame.Encode([]byte{frame.ErrorTFI})
	v.lastResponse = encoded
	v.txBuffer.Write(encoded)
}

// dispatch returns the response data for cmd, nil for a syntax error, or
// ok=false when the command has to wait.
func (v *VirtualPN53x) dispatch(cmd byte, args []byte) (resp []byte, ok bool) {
	switch cmd {
	case cmdDiagnose:
		return v.handleDiagnose(args), true
	case cmdGetFirmwareVersion:
		return v.handleFirmwareVersion(), true
	case cmdGetGeneralStatus:
		return v.handleGeneralStatus(), true
	case cmdReadRegister:
		return v.handleReadRegister(args), true
	case cmdWriteRegister:
		return v.handleWriteRegister(args), true
	case cmdSetParameters:
		if len(args) < 1 {
			return nil, true
		}
		v.parameters = args[0]
		return []byte{}, true
	case cmdSAMConfiguration:
		if v.chip != ChipPN532 || len(args) < 1 {
			return nil, true
		}
		v.samMode = args[0]
		return []byte{}, true
	case cmdPowerDown:
		return v.handlePowerDown(args), true
	case cmdRFConfiguration:
		return v.handleRFConfiguration(args), true
	case cmdInListPassiveTarget:
		return v.handleListPassiveTarget(args)
	case cmdInSelect:
		if _, found := v.selectedTarget(args); !found {
			return []byte{statusCommand}, true
		}
		return []byte{statusOK}, true
	case cmdInDeselect, cmdInRelease:
		return v.handleDeselect(cmd, args), true
	case cmdInDataExchange:
		return v.handleDataExchange(args), true
	case cmdInCommunicateThru:
		return v.handleCommunicateThru(args), true
	case cmdInJumpForDEP:
		return v.handleJumpForDEP(args), true
	case cmdTgInitAsTarget:
		return v.handleTargetInit(args)
	case cmdTgGetData, cmdTgGetInitiatorCmd:
		return v.handleTargetGetData(), true
	case cmdTgSetData, cmdTgResponseToInit:
		return v.handleTargetSetData(args), true
	default:
		return nil, true
	}
}

func (v *VirtualPN53x) handleDiagnose(args []byte) []byte {
	if len(args) == 0 {
		return nil
	}
	// The communication line test echoes its input.
	if args[0] == 0x00 {
		return bytes.Clone(args)
	}
	return []byte{statusOK}
}

func (v *VirtualPN53x) handleFirmwareVersion() []byte {
	switch v.chip {
	case ChipPN531:
		return []byte{0x04, 0x02}
	case ChipPN533:
		return []byte{0x33, 0x02, 0x08, 0x07}
	default:
		return []byte{0x32, 0x01, 0x06, 0x07}
	}
}

// handleGeneralStatus reports Err Field NbTg, four bytes per selected
// target and, on a PN532, the SAM status.
func (v *VirtualPN53x) handleGeneralStatus() []byte {
	field := byte(0)
	if v.rfField {
		field = 1
	}
	out := []byte{statusOK, field, byte(len(v.selected))}
	for i := range v.selected {
		out = append(out, byte(i+1), 0x00, 0x00, 0x00)
	}
	if v.chip == ChipPN532 {
		out = append(out, 0x00)
	}
	return out
}

// handleReadRegister answers one byte per address. The PN533 puts a status
// byte in front.
func (v *VirtualPN53x) handleReadRegister(args []byte) []byte {
	if len(args) == 0 || len(args)%2 != 0 {
		return nil
	}
	var out []byte
	if v.chip == ChipPN533 {
		out = append(out, statusOK)
	}
	for i := 0; i < len(args); i += 2 {
		out = append(out, v.registers[uint16(args[i])<<8|uint16(args[i+1])])
	}
	return out
}

func (v *VirtualPN53x) handleWriteRegister(args []byte) []byte {
	if len(args) == 0 || len(args)%3 != 0 {
		return nil
	}
	for i := 0; i < len(args); i += 3 {
		v.registers[uint16(args[i])<<8|uint16(args[i+1])] = args[i+2]
	}
	if v.chip == ChipPN533 {
		return []byte{statusOK}
	}
	return []byte{}
}

// handlePowerDown acknowledges and then sleeps. The response is queued
// before the chip stops listening.
func (v *VirtualPN53x) handlePowerDown(args []byte) []byte {
	if len(args) < 1 {
		return nil
	}
	v.wakeEnable = args[0]
	v.power = PowerModePowerDown
	v.rfField = false
	return []byte{statusOK}
}

func (v *VirtualPN53x) handleRFConfiguration(args []byte) []byte {
	if len(args) < 2 {
		return nil
	}
	switch args[0] {
	case 0x01:
		on := args[1]&0x01 != 0
		if !on {
			// Cards lose power and come back unhalted.
			for _, t := range v.targets {
				t.setHalted(false)
			}
			v.selected = nil
		}
		v.rfField = on
	case 0x05:
		if len(args) < 4 {
			return nil
		}
		v.mxRtyPassive = args[3]
	}
	return []byte{}
}

// handleListPassiveTarget selects up to MaxTg targets of BrTy. With no
// target in the field the command finishes only when retries are finite.
func (v *VirtualPN53x) handleListPassiveTarget(args []byte) ([]byte, bool) {
	if len(args) < 2 {
		return nil, true
	}
	maxTg := min(int(args[0]), 2)
	brTy := args[1]
	initData := args[2:]

	var found []*VirtualTarget
	for _, t := range v.targets {
		if len(found) == maxTg {
			break
		}
		if t.answers(brTy) && t.matchesInitData(initData) {
			found = append(found, t)
		}
	}

	if len(found) == 0 {
		if v.mxRtyPassive == 0xFF {
			return nil, false
		}
		return []byte{0x00}, true
	}

	v.selected = found
	v.rfField = true
	out := []byte{byte(len(found))}
	for i, t := range found {
		out = append(out, t.record(byte(i+1), v.chip)...)
	}
	return out, true
}

func (v *VirtualPN53x) selectedTarget(args []byte) (*VirtualTarget, bool) {
	if len(args) < 1 {
		return nil, false
	}
	tg := int(args[0])
	if tg < 1 || tg > len(v.selected) {
		return nil, false
	}
	return v.selected[tg-1], true
}

// handleDeselect halts the addressed target, or all with Tg 0. Release also
// forgets them.
func (v *VirtualPN53x) handleDeselect(cmd byte, args []byte) []byte {
	if len(args) < 1 {
		return nil
	}
	var affected []*VirtualTarget
	if args[0] == 0 {
		affected = v.selected
	} else if t, ok := v.selectedTarget(args); ok {
		affected = []*VirtualTarget{t}
	}
	for _, t := range affected {
		t.setHalted(true)
	}
	v.depActive = false
	if cmd == cmdInRelease {
		v.selected = nil
	}
	return []byte{statusOK}
}

func (v *VirtualPN53x) handleDataExchange(args []byte) []byte {
	if len(args) < 1 {
		return nil
	}
	if v.depActive && v.depPeer != nil && args[0] == 1 {
		return v.exchange(v.depPeer.Handler, args[1:])
	}
	t, ok := v.selectedTarget(args)
	if !ok {
		return []byte{statusCommand}
	}
	return v.exchange(t.respond, args[1:])
}

// handleCommunicateThru talks to the first selected target without any
// framing help from the chip.
func (v *VirtualPN53x) handleCommunicateThru(args []byte) []byte {
	if len(v.selected) == 0 {
		return []byte{statusTimeout}
	}
	return v.exchange(v.selected[0].respond, args)
}

func (*VirtualPN53x) exchange(h Handler, data []byte) []byte {
	if h == nil {
		return []byte{statusTimeout}
	}
	reply := h(data)
	if reply == nil {
		return []byte{statusTimeout}
	}
	return append([]byte{statusOK}, reply...)
}

// handleJumpForDEP activates the DEP peer. The answer after the status byte
// is Tg NFCID3t DIDt BSt BRt TO PPt [Gt].
func (v *VirtualPN53x) handleJumpForDEP(args []byte) []byte {
	if len(args) < 3 {
		return nil
	}
	v.depArgs = bytes.Clone(args)
	p := v.depPeer
	if p == nil {
		return []byte{statusTimeout}
	}
	v.depActive = true
	v.rfField = true
	out := []byte{statusOK, 0x01}
	out = append(out, p.NFCID3[:]...)
	out = append(out, 0x00, 0x00, 0x00, 0x0E, 0x32)
	return append(out, p.GeneralBytes...)
}

// handleTargetInit waits for a reader and returns its activation mode and
// first command.
func (v *VirtualPN53x) handleTargetInit(args []byte) ([]byte, bool) {
	if len(args) < 1 {
		return nil, true
	}
	v.targetInitArgs = bytes.Clone(args)
	r := v.reader
	if r == nil || len(r.commands) == 0 {
		return nil, false
	}
	first := r.commands[0]
	r.commands = r.commands[1:]
	return append([]byte{r.mode}, first...), true
}

func (v *VirtualPN53x) handleTargetGetData() []byte {
	r := v.reader
	if r == nil || len(r.commands) == 0 {
		return []byte{statusReleased}
	}
	next := r.commands[0]
	r.commands = r.commands[1:]
	return append([]byte{statusOK}, next...)
}

func (v *VirtualPN53x) handleTargetSetData(args []byte) []byte {
	r := v.reader
	if r == nil {
		return []byte{statusReleased}
	}
	r.responses = append(r.responses, bytes.Clone(args))
	return []byte{statusOK}
}
