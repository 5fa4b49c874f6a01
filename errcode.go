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
	"errors"
	"fmt"
)

// ErrorCode is the engine-level error taxonomy. Chip status codes keep the
// value the chip reports; host-side codes live above 0xFF.
type ErrorCode int

// Success and chip status codes.
const (
	Success                   ErrorCode = 0x00
	ErrorTimeout              ErrorCode = 0x01
	ErrorCRC                  ErrorCode = 0x02
	ErrorParity               ErrorCode = 0x03
	ErrorBitCount             ErrorCode = 0x04
	ErrorFraming              ErrorCode = 0x05
	ErrorBitCollision         ErrorCode = 0x06
	ErrorBufferTooSmall       ErrorCode = 0x07
	ErrorBufferOverflow       ErrorCode = 0x09
	ErrorProtocol             ErrorCode = 0x0B
	ErrorOverheating          ErrorCode = 0x0D
	ErrorInvalidParameter     ErrorCode = 0x10
	ErrorUnknownDEPCommand    ErrorCode = 0x12
	ErrorAuthentication       ErrorCode = 0x14
	ErrorInvalidState         ErrorCode = 0x25
	ErrorOperationNotAllowed  ErrorCode = 0x26
	ErrorCommandNotAcceptable ErrorCode = 0x27
	ErrorTargetReleased       ErrorCode = 0x29
	ErrorCardIDMismatch       ErrorCode = 0x2A
	ErrorCardDiscarded        ErrorCode = 0x2B
	ErrorNFCID3Mismatch       ErrorCode = 0x2C
	ErrorOverCurrent          ErrorCode = 0x2D
	ErrorNADMissing           ErrorCode = 0x2E
)

// Framing and driver codes.
const (
	ErrorUnexpectedReply ErrorCode = 0x0100
	ErrorFrameReceived   ErrorCode = 0x0101
	ErrorNackReceived    ErrorCode = 0x0102
	ErrorIO              ErrorCode = 0x1000
	ErrorAborted         ErrorCode = 0x1002
)

// Software codes.
const (
	ErrorUnsupportedTargetUID ErrorCode = 0xFF00
	ErrorOperationAborted     ErrorCode = 0xFF01
	ErrorInvalidArgument      ErrorCode = 0xFF02
	ErrorNotSupportedByDevice ErrorCode = 0xFF03
	ErrorNotImplemented       ErrorCode = 0xFF04
)

var errorCodeNames = map[ErrorCode]string{
	Success:                   "success",
	ErrorTimeout:              "timeout",
	ErrorCRC:                  "CRC error",
	ErrorParity:               "parity error",
	ErrorBitCount:             "wrong bit count",
	ErrorFraming:              "framing error",
	ErrorBitCollision:         "bit collision",
	ErrorBufferTooSmall:       "buffer too small",
	ErrorBufferOverflow:       "buffer overflow",
	ErrorProtocol:             "protocol error",
	ErrorOverheating:          "overheating",
	ErrorInvalidParameter:     "invalid parameter",
	ErrorUnknownDEPCommand:    "unknown DEP command",
	ErrorAuthentication:       "authentication error",
	ErrorInvalidState:         "invalid state",
	ErrorOperationNotAllowed:  "operation not allowed",
	ErrorCommandNotAcceptable: "command not acceptable",
	ErrorTargetReleased:       "target released",
	ErrorCardIDMismatch:       "card ID mismatch",
	ErrorCardDiscarded:        "card discarded",
	ErrorNFCID3Mismatch:       "NFCID3 mismatch",
	ErrorOverCurrent:          "over current",
	ErrorNADMissing:           "NAD missing",
	ErrorUnexpectedReply:      "unexpected reply",
	ErrorFrameReceived:        "error frame received",
	ErrorNackReceived:         "NACK received",
	ErrorIO:                   "input/output error",
	ErrorAborted:              "aborted",
	ErrorUnsupportedTargetUID: "target UID not supported",
	ErrorOperationAborted:     "operation aborted",
	ErrorInvalidArgument:      "invalid argument",
	ErrorNotSupportedByDevice: "not supported by device",
	ErrorNotImplemented:       "not implemented",
}

// String returns a short human-readable name for the code.
func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("unknown error 0x%04X", int(c))
}

// Error lets a bare ErrorCode be used as a sentinel with errors.Is.
func (c ErrorCode) Error() string {
	return c.String()
}

// statusCodes maps the low six bits of a chip status byte to an ErrorCode.
// Statuses not listed are reported as ErrorProtocol.
var statusCodes = map[byte]ErrorCode{
	0x00: Success,
	0x01: ErrorTimeout,
	0x02: ErrorCRC,
	0x03: ErrorParity,
	0x04: ErrorBitCount,
	0x05: ErrorFraming,
	0x06: ErrorBitCollision,
	0x07: ErrorBufferTooSmall,
	0x09: ErrorBufferOverflow,
	0x0A: ErrorTimeout,
	0x0B: ErrorProtocol,
	0x0D: ErrorOverheating,
	0x0E: ErrorBufferOverflow,
	0x10: ErrorInvalidParameter,
	0x12: ErrorUnknownDEPCommand,
	0x13: ErrorInvalidParameter,
	0x14: ErrorAuthentication,
	0x23: ErrorProtocol,
	0x25: ErrorInvalidState,
	0x26: ErrorOperationNotAllowed,
	0x27: ErrorCommandNotAcceptable,
	0x29: ErrorTargetReleased,
	0x2A: ErrorCardIDMismatch,
	0x2B: ErrorCardDiscarded,
	0x2C: ErrorNFCID3Mismatch,
	0x2D: ErrorOverCurrent,
	0x2E: ErrorNADMissing,
}

// StatusToErrorCode maps a chip status byte to an ErrorCode. Only the low six
// bits carry the error; the upper bits are flags (NAD present, More Information).
func StatusToErrorCode(status byte) ErrorCode {
	if code, ok := statusCodes[status&0x3F]; ok {
		return code
	}
	return ErrorProtocol
}

// Error is returned by every engine operation that fails.
type Error struct {
	Err    error
	Op     string
	Code   ErrorCode
	Status byte
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status 0x%02X)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the same ErrorCode.
func (e *Error) Is(target error) bool {
	var code ErrorCode
	if errors.As(target, &code) {
		return e.Code == code
	}
	return false
}

func newError(op string, code ErrorCode, cause error) *Error {
	return &Error{Op: op, Code: code, Err: cause}
}

// CodeOf extracts the ErrorCode carried by err. It returns Success for nil and
// ErrorIO for errors the engine did not produce.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	return ErrorIO
}

// Strerror returns the message for the code carried by err.
func Strerror(err error) string {
	return CodeOf(err).String()
}
