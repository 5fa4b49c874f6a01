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
	"context"
	"time"

	"github.com/ZaparooProject/go-pn53x/internal/syncutil"
)

// BulkPipe connects a VirtualPN53x to a pair of USB bulk endpoints. Writes
// go straight to the chip; each read returns at most one frame and blocks
// until one is queued or ctx is done.
type BulkPipe struct {
	sim     *VirtualPN53x
	out     outputQueue
	readErr error
	mu      syncutil.Mutex
}

// NewBulkPipe attaches sim to virtual bulk endpoints.
func NewBulkPipe(sim *VirtualPN53x) *BulkPipe {
	return &BulkPipe{sim: sim, out: outputQueue{src: sim}}
}

// WriteContext implements an OUT endpoint.
func (p *BulkPipe) WriteContext(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.sim.Write(buf)
}

// ReadContext implements an IN endpoint.
func (p *BulkPipe) ReadContext(ctx context.Context, buf []byte) (int, error) {
	for {
		if n, ok, err := p.tryRead(buf); ok {
			return n, err
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (p *BulkPipe) tryRead(buf []byte) (int, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readErr != nil {
		return 0, true, p.readErr
	}
	head := p.out.head()
	if head == nil {
		return 0, false, nil
	}
	n := copy(buf, head)
	p.out.pop(n)
	return n, true, nil
}

// FailReads makes every following read return err.
func (p *BulkPipe) FailReads(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
}
