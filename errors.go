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
	"io"
	"runtime"
	"syscall"
)

// Link-level sentinels. Transports wrap these in a TransportError; the session
// wraps ErrChecksumMismatch and ErrDataTooLarge in its *Error.
var (
	ErrTransportTimeout  = errors.New("transport timeout")
	ErrTransportWrite    = errors.New("transport write failed")
	ErrTransportClosed   = errors.New("transport is closed")
	ErrTransportNotReady = errors.New("transport not ready")
	ErrFrameCorrupted    = errors.New("frame corrupted")
	ErrChecksumMismatch  = errors.New("checksum mismatch")
	ErrDataTooLarge      = errors.New("data too large")
	ErrInvalidResponse   = errors.New("invalid response format")
)

// Device discovery and connection string errors.
var (
	ErrDeviceNotFound    = errors.New("device not found")
	ErrNoDriver          = errors.New("no driver for connection string")
	ErrInvalidConnString = errors.New("invalid connection string")
)

// ErrorType represents the category of a transport error for retry logic.
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates the connection is unusable
	ErrorTypePermanent
	// ErrorTypeTimeout indicates the chip did not answer in time
	ErrorTypeTimeout
)

// TransportError wraps transport-level errors with the port they happened on.
type TransportError struct {
	Err       error
	Op        string
	Port      string
	Type      ErrorType
	Retryable bool
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a transport error. Transient and timeout errors are
// marked retryable.
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewTimeoutError creates a timeout error for a transport read.
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// NewFrameCorruptedError creates a frame corruption error.
func NewFrameCorruptedError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrFrameCorrupted, ErrorTypeTransient)
}

// NewTransportWriteError creates a write error.
func NewTransportWriteError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportWrite, ErrorTypeTransient)
}

// NewTransportNotReadyError creates a not-ready error, used when the chip never
// raised its ready flag.
func NewTransportNotReadyError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportNotReady, ErrorTypeTimeout)
}

// isTransportTimeout reports whether a transport error means "nothing arrived
// in time" rather than a broken link.
func isTransportTimeout(err error) bool {
	var te *TransportError
	if errors.As(err, &te) && te.Type == ErrorTypeTimeout {
		return true
	}
	return errors.Is(err, ErrTransportTimeout) ||
		errors.Is(err, ErrTransportNotReady) ||
		errors.Is(err, context.DeadlineExceeded)
}

// retryableCodes are chip or driver conditions worth repeating the command for.
var retryableCodes = map[ErrorCode]bool{
	ErrorTimeout:        true,
	ErrorCRC:            true,
	ErrorParity:         true,
	ErrorBitCount:       true,
	ErrorFraming:        true,
	ErrorBitCollision:   true,
	ErrorProtocol:       true,
	ErrorAuthentication: true,
	ErrorNackReceived:   true,
	ErrorFrameReceived:  true,
}

// IsRetryable returns true if the failed operation may succeed when repeated.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// A response lost to line noise; the command itself may have been fine.
	if errors.Is(err, ErrChecksumMismatch) {
		return true
	}

	var e *Error
	if errors.As(err, &e) {
		return retryableCodes[e.Code]
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrFrameCorrupted):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error means the device or its connection is gone
// and the caller should close it. This is distinct from IsRetryable, which is
// about a single operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) && te.Type == ErrorTypePermanent {
		return true
	}

	var e *Error
	if errors.As(err, &e) && e.Code == ErrorIO {
		return true
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes seen when a USB device is unplugged mid-transfer.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	//nolint:exhaustive // only device-gone errnos matter here
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}

	if runtime.GOOS == "windows" {
		//nolint:exhaustive // only device-gone errnos matter here
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}
	return false
}
