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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-pn53x/internal/frame"
	"github.com/ZaparooProject/go-pn53x/internal/syncutil"
)

// Default handshake timeouts.
const (
	DefaultAckTimeout     = 100 * time.Millisecond
	DefaultCommandTimeout = time.Second
)

// SessionState is the position of the session in the command handshake.
type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingAck
	StateAwaitingResponse
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAck:
		return "awaiting-ack"
	case StateAwaitingResponse:
		return "awaiting-response"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Session runs the command/ACK/response handshake with one chip over one
// transport and holds the small amount of state the chip does not report back.
//
// Commands are serialized. Abort, State and LastError may be called from any
// goroutine.
type Session struct {
	transport  Transport
	cancel     context.CancelCauseFunc
	ackTimeout time.Duration
	timeout    time.Duration
	cmdMu      syncutil.Mutex
	mu         syncutil.Mutex
	state      SessionState
	lastError  ErrorCode
	chip       ChipFamily
	lastTxBits byte

	handleCRC    bool
	handleParity bool
	easyFraming  bool
	parameters   byte
}

// NewSession wraps t. The chip family affects how replies are decoded and may
// be refined later with SetChip.
func NewSession(t Transport, chip ChipFamily) *Session {
	return &Session{
		transport:    t,
		chip:         chip,
		ackTimeout:   DefaultAckTimeout,
		timeout:      DefaultCommandTimeout,
		handleCRC:    true,
		handleParity: true,
		easyFraming:  true,
		parameters:   ParamAutoATRRes | ParamAutoRATS,
	}
}

// Transport returns the underlying transport.
func (s *Session) Transport() Transport {
	return s.transport
}

// Chip returns the chip family.
func (s *Session) Chip() ChipFamily {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chip
}

// SetChip records the chip family, usually after GetFirmwareVersion.
func (s *Session) SetChip(chip ChipFamily) {
	s.mu.Lock()
	s.chip = chip
	s.mu.Unlock()
}

// SetAckTimeout sets how long Command waits for the ACK frame.
func (s *Session) SetAckTimeout(d time.Duration) {
	s.mu.Lock()
	s.ackTimeout = d
	s.mu.Unlock()
}

// SetTimeout sets the response timeout used by the register and parameter
// helpers.
func (s *Session) SetTimeout(d time.Duration) {
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

// State returns the current handshake state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the code of the most recent command, Success if it worked.
func (s *Session) LastError() ErrorCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// HandleCRC reports whether the chip adds and checks CRCs.
func (s *Session) HandleCRC() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handleCRC
}

// HandleParity reports whether the chip adds and checks parity bits.
func (s *Session) HandleParity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handleParity
}

// EasyFraming reports whether exchanges go through InDataExchange.
func (s *Session) EasyFraming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.easyFraming
}

func (s *Session) update(fn func(*Session)) {
	s.mu.Lock()
	fn(s)
	s.mu.Unlock()
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) setLastError(code ErrorCode) {
	s.mu.Lock()
	s.lastError = code
	s.mu.Unlock()
}

func (s *Session) fail(op string, code ErrorCode, status byte, cause error) error {
	s.setLastError(code)
	return &Error{Op: op, Code: code, Status: status, Err: cause}
}

// Command sends code with args and returns the reply data that follows
// D5 code+1. For commands whose reply starts with a status byte the status is
// checked and stripped. A timeout of 0 waits until the reply arrives, ctx is
// done or Abort is called.
func (s *Session) Command(ctx context.Context, code byte, args []byte, timeout time.Duration) ([]byte, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	op := commandName(code)
	if len(args)+2 > frame.MaxPayloadLength {
		return nil, s.fail(op, ErrorInvalidArgument, 0,
			fmt.Errorf("%w: %d argument bytes exceed frame capacity", ErrDataTooLarge, len(args)))
	}

	payload := make([]byte, 0, len(args)+2)
	payload = append(payload, frame.HostToPN53x, code)
	payload = append(payload, args...)
	raw, err := frame.Encode(payload)
	if err != nil {
		return nil, s.fail(op, ErrorInvalidArgument, 0, err)
	}

	cmdCtx, cancel := context.WithCancelCause(ctx)
	s.mu.Lock()
	s.cancel = cancel
	ackTimeout := s.ackTimeout
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.state = StateIdle
		s.mu.Unlock()
		cancel(nil)
	}()

	start := time.Now()
	s.setState(StateAwaitingAck)
	if err := s.transport.Send(cmdCtx, raw); err != nil {
		return nil, s.fail(op, s.classify(cmdCtx, err), 0, err)
	}

	ack, err := s.transport.Receive(cmdCtx, ackTimeout)
	if err != nil {
		return nil, s.fail(op, s.classify(cmdCtx, err), 0, err)
	}
	switch {
	case frame.IsAck(ack):
	case frame.IsNack(ack):
		return nil, s.fail(op, ErrorNackReceived, 0, nil)
	default:
		s.unexpectedAck(op, raw, ack)
		return nil, s.fail(op, ErrorUnexpectedReply, 0, errors.New("expected ACK or NACK"))
	}

	s.setState(StateAwaitingResponse)
	rx, err := s.transport.Receive(cmdCtx, timeout)
	if err != nil {
		code := s.classify(cmdCtx, err)
		if code == ErrorTimeout || code == ErrorOperationAborted {
			// Drop the pending command on the chip.
			s.sendAck(context.WithoutCancel(ctx))
		}
		return nil, s.fail(op, code, 0, err)
	}

	reply, err := frame.Decode(rx)
	if err != nil {
		hexEvent(Logger().Warn().Str("op", op), "frame", rx).Err(err).Msg("discarding corrupt response")
		if errors.Is(err, frame.ErrChecksum) {
			err = fmt.Errorf("%w: %w", ErrChecksumMismatch, err)
		}
		return nil, s.fail(op, ErrorUnexpectedReply, 0, err)
	}
	s.sendAck(cmdCtx)

	if frame.IsErrorFrame(reply) {
		return nil, s.fail(op, ErrorFrameReceived, 0, nil)
	}
	if len(reply) < 2 || reply[0] != frame.PN53xToHost || reply[1] != code+1 {
		hexEvent(Logger().Error().Str("op", op), "reply", reply).Msg("response does not match command")
		return nil, s.fail(op, ErrorUnexpectedReply, 0, fmt.Errorf("reply % X to command 0x%02X", reply[:min(len(reply), 2)], code))
	}
	data := reply[2:]

	logSince(hexEvent(Logger().Debug().Str("op", op), "data", data), start).Msg("command complete")

	if HasStatusByte(code) {
		if len(data) == 0 {
			return nil, s.fail(op, ErrorUnexpectedReply, 0, errors.New("missing status byte"))
		}
		status := data[0] & 0x3F
		if ec := StatusToErrorCode(status); ec != Success {
			return nil, s.fail(op, ec, status, nil)
		}
		data = data[1:]
	}

	s.setLastError(Success)
	return data, nil
}

// classify maps a transport failure to an ErrorCode.
func (*Session) classify(cmdCtx context.Context, err error) ErrorCode {
	switch {
	case errors.Is(err, ErrorAborted), errors.Is(context.Cause(cmdCtx), ErrorAborted):
		return ErrorAborted
	case isTransportTimeout(err):
		return ErrorTimeout
	case errors.Is(err, context.Canceled):
		return ErrorOperationAborted
	default:
		return ErrorIO
	}
}

func (s *Session) sendAck(ctx context.Context) {
	if err := s.transport.Send(ctx, frame.AckFrame); err != nil {
		Logger().Debug().Err(err).Msg("failed to send ACK")
	}
}

// Abort cancels the command in flight, if any. The chip is sent an ACK, which
// makes it drop the command, and the blocked Command returns ErrorAborted.
func (s *Session) Abort() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel(ErrorAborted)
	if a, ok := s.transport.(Aborter); ok {
		if err := a.AbortPending(); err != nil {
			return fmt.Errorf("abort pending receive: %w", err)
		}
	}
	if err := s.transport.Send(context.Background(), frame.AckFrame); err != nil {
		return fmt.Errorf("send abort ACK: %w", err)
	}
	return nil
}

// GetRegister reads one chip register.
func (s *Session) GetRegister(ctx context.Context, addr uint16) (byte, error) {
	data, err := s.Command(ctx, cmdReadRegister, []byte{byte(addr >> 8), byte(addr)}, s.defaultTimeout())
	if err != nil {
		return 0, err
	}
	switch len(data) {
	case 0:
		return 0, s.fail("ReadRegister", ErrorUnexpectedReply, 0, errors.New("empty register reply"))
	case 2:
		// PN533 prefixes the value with a status byte.
		return data[1], nil
	default:
		return data[0], nil
	}
}

// SetRegister writes value into the bits of register addr selected by mask,
// keeping the others. A mask of 0xFF writes value without reading first.
func (s *Session) SetRegister(ctx context.Context, addr uint16, mask, value byte) error {
	newValue := value
	if mask != 0xFF {
		old, err := s.GetRegister(ctx, addr)
		if err != nil {
			return err
		}
		newValue = value | (old &^ mask)
	}
	_, err := s.Command(ctx, cmdWriteRegister, []byte{byte(addr >> 8), byte(addr), newValue}, s.defaultTimeout())
	return err
}

// SetTxBits sets how many bits of the last transmitted byte are sent. The
// register is only written when n differs from the cached value.
func (s *Session) SetTxBits(ctx context.Context, n byte) error {
	s.mu.Lock()
	cached := s.lastTxBits
	s.mu.Unlock()
	if n == cached {
		return nil
	}

	if err := s.SetRegister(ctx, RegCIUBitFraming, symbolTxLastBits, n); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastTxBits = n
	s.mu.Unlock()
	return nil
}

// SetParameters writes the SetParameters flags byte.
func (s *Session) SetParameters(ctx context.Context, flags byte) error {
	_, err := s.Command(ctx, cmdSetParameters, []byte{flags}, s.defaultTimeout())
	return err
}

// SetParameterFlag sets or clears one SetParameters flag. The flags byte is
// cached and only sent when it changes.
func (s *Session) SetParameterFlag(ctx context.Context, flag byte, on bool) error {
	s.mu.Lock()
	value := s.parameters &^ flag
	if on {
		value = s.parameters | flag
	}
	unchanged := value == s.parameters
	s.mu.Unlock()
	if unchanged {
		return nil
	}

	if err := s.SetParameters(ctx, value); err != nil {
		return err
	}
	s.update(func(s *Session) { s.parameters = value })
	return nil
}

func (s *Session) defaultTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

var commandNames = map[byte]string{
	cmdDiagnose:              "Diagnose",
	cmdGetFirmwareVersion:    "GetFirmwareVersion",
	cmdGetGeneralStatus:      "GetGeneralStatus",
	cmdReadRegister:          "ReadRegister",
	cmdWriteRegister:         "WriteRegister",
	cmdSetParameters:         "SetParameters",
	cmdSAMConfiguration:      "SAMConfiguration",
	cmdPowerDown:             "PowerDown",
	cmdRFConfiguration:       "RFConfiguration",
	cmdInDataExchange:        "InDataExchange",
	cmdInCommunicateThru:     "InCommunicateThru",
	cmdInDeselect:            "InDeselect",
	cmdInJumpForPSL:          "InJumpForPSL",
	cmdInListPassiveTarget:   "InListPassiveTarget",
	cmdInPSL:                 "InPSL",
	cmdInATR:                 "InATR",
	cmdInRelease:             "InRelease",
	cmdInSelect:              "InSelect",
	cmdInJumpForDEP:          "InJumpForDEP",
	cmdInAutoPoll:            "InAutoPoll",
	cmdTgGetData:             "TgGetData",
	cmdTgGetInitiatorCommand: "TgGetInitiatorCommand",
	cmdTgInitAsTarget:        "TgInitAsTarget",
	cmdTgSetData:             "TgSetData",
	cmdTgResponseToInitiator: "TgResponseToInitiator",
	cmdTgSetGeneralBytes:     "TgSetGeneralBytes",
	cmdTgSetMetaData:         "TgSetMetaData",
}

func commandName(code byte) string {
	if name, ok := commandNames[code]; ok {
		return name
	}
	return fmt.Sprintf("Command(0x%02X)", code)
}
