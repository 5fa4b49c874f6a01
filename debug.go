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
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ZaparooProject/go-pn53x/internal/syncutil"
	"github.com/rs/zerolog"
)

var (
	logMu            syncutil.RWMutex
	debugEnabled     bool
	consoleWriter    io.Writer = os.Stderr
	sessionLogWriter io.Writer
	logger           = zerolog.Nop()
)

func init() {
	if os.Getenv("PN53X_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
	rebuildLogger()
}

// levelFilter drops events below min before they reach w.
type levelFilter struct {
	w   io.Writer
	min zerolog.Level
}

func (f levelFilter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f levelFilter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < f.min {
		return len(p), nil
	}
	return f.w.Write(p)
}

// rebuildLogger must be called with logMu held for writing, or from init.
func rebuildLogger() {
	consoleLevel := zerolog.WarnLevel
	if debugEnabled {
		consoleLevel = zerolog.DebugLevel
	}
	writers := []io.Writer{levelFilter{
		w: zerolog.ConsoleWriter{
			Out:        consoleWriter,
			TimeFormat: "15:04:05.000",
			NoColor:    true,
		},
		min: consoleLevel,
	}}
	if sessionLogWriter != nil {
		writers = append(writers, levelFilter{w: sessionLogWriter, min: zerolog.DebugLevel})
	}

	logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(zerolog.DebugLevel).
		With().
		Timestamp().
		Str("component", "pn53x").
		Logger()
}

// Logger returns the package logger. Console output shows warnings and errors
// unless debug is enabled; the session log, when open, records everything.
func Logger() *zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	l := logger
	return &l
}

// Debugf logs a formatted debug message.
func Debugf(format string, args ...any) {
	Logger().Debug().Msg(fmt.Sprintf(format, args...))
}

// Debugln logs its operands, space separated, as a debug message.
func Debugln(args ...any) {
	msg := fmt.Sprintln(args...)
	Logger().Debug().Msg(msg[:len(msg)-1])
}

// SetDebugEnabled turns debug output on the console on or off.
func SetDebugEnabled(enabled bool) {
	logMu.Lock()
	defer logMu.Unlock()
	debugEnabled = enabled
	rebuildLogger()
}

// SetLogOutput redirects console output. Passing nil restores stderr.
func SetLogOutput(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	consoleWriter = w
	rebuildLogger()
}

// hexEvent adds a frame to an event as spaced hex.
func hexEvent(e *zerolog.Event, key string, data []byte) *zerolog.Event {
	return e.Str(key, fmt.Sprintf("% X", data))
}

func logSince(e *zerolog.Event, start time.Time) *zerolog.Event {
	return e.Dur("elapsed", time.Since(start))
}
