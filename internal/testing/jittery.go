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
	"io"
	"math/rand/v2"
	"time"

	"github.com/ZaparooProject/go-pn53x/internal/syncutil"
)

// JitterConfig shapes how a JitteryConn delivers chip output.
type JitterConfig struct {
	// MaxLatency is the upper bound of the random delay before each read.
	MaxLatency time.Duration
	// StallDuration is slept once after StallAfterBytes bytes were returned.
	StallDuration   time.Duration
	FragmentMin     int
	StallAfterBytes int
	Seed            uint64
	// Fragment splits reads at random points.
	Fragment bool
	// USBBoundaries never lets a read cross a 64 byte packet boundary.
	USBBoundaries bool
}

// DefaultJitterConfig is what a cheap USB-UART bridge looks like.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency:  20 * time.Millisecond,
		Fragment:    true,
		FragmentMin: 1,
	}
}

// JitteryConn wraps a chip simulator and hands its output back late and in
// pieces, the way USB-UART bridges do. Writes pass straight through. Data
// read from the backend is buffered so fragmenting never loses bytes.
type JitteryConn struct {
	backend  io.ReadWriter
	rng      *rand.Rand
	pending  []byte
	config   JitterConfig
	returned int
	mu       syncutil.Mutex
	stalled  bool
}

// NewJitteryConn wraps backend. A zero Seed picks a random one.
func NewJitteryConn(backend io.ReadWriter, config JitterConfig) *JitteryConn {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	if config.FragmentMin < 1 {
		config.FragmentMin = 1
	}
	return &JitteryConn{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)), //nolint:gosec // test jitter
	}
}

func (j *JitteryConn) Write(p []byte) (int, error) {
	return j.backend.Write(p) //nolint:wrapcheck // pass-through
}

func (j *JitteryConn) Read(p []byte) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.config.MaxLatency > 0 {
		time.Sleep(time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)))
	}

	if len(j.pending) == 0 {
		buf := make([]byte, 1024)
		n, err := j.backend.Read(buf)
		if err != nil || n == 0 {
			return 0, err //nolint:wrapcheck // pass-through
		}
		j.pending = append(j.pending, buf[:n]...)
	}

	n := min(len(j.pending), len(p))
	n = j.limit(n)

	copy(p, j.pending[:n])
	j.pending = j.pending[n:]
	j.returned += n
	return n, nil
}

// limit applies stall, packet boundary and fragmentation rules to a read of
// n bytes.
func (j *JitteryConn) limit(n int) int {
	if j.config.StallAfterBytes > 0 && !j.stalled {
		if j.returned >= j.config.StallAfterBytes {
			j.stalled = true
			time.Sleep(j.config.StallDuration)
		} else {
			n = min(n, j.config.StallAfterBytes-j.returned)
		}
	}

	if j.config.USBBoundaries {
		n = min(n, 64-j.returned%64)
	}

	if j.config.Fragment && n > j.config.FragmentMin {
		n = j.config.FragmentMin + j.rng.IntN(n-j.config.FragmentMin+1)
	}
	return n
}

// Reset forgets buffered output and stall state.
func (j *JitteryConn) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pending = nil
	j.returned = 0
	j.stalled = false
}
