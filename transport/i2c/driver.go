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

package i2c

import (
	"context"
	"fmt"
	"time"

	pn53x "github.com/ZaparooProject/go-pn53x"
	"github.com/ZaparooProject/go-pn53x/internal/devpath"
	"periph.io/x/conn/v3/i2c"
)

// DriverName is the connection string prefix for this driver.
const DriverName = "pn532_i2c"

// DefaultPattern matches Linux I2C bus nodes.
const DefaultPattern = "/dev/i2c-*"

// Driver opens PN532 chips on I2C buses. An I2C device cannot be recognized
// without talking to it, so Probe only reports buses when Intrusive is set,
// and then only those where a chip answers.
type Driver struct {
	// Dial opens a bus by name. It defaults to periph's registry.
	Dial func(name string) (i2c.BusCloser, error)
	// Pattern overrides DefaultPattern.
	Pattern string
	// Intrusive enables probing buses by sending GetFirmwareVersion.
	Intrusive bool
}

// Name implements pn53x.Driver.
func (*Driver) Name() string { return DriverName }

func (d *Driver) dial(name string) (*Transport, error) {
	if d.Dial == nil {
		return New(name)
	}
	bus, err := d.Dial(busPath(name))
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", name, err)
	}
	return NewWithBus(bus, name), nil
}

// Probe implements pn53x.Driver.
func (d *Driver) Probe(ctx context.Context) ([]string, error) {
	if !d.Intrusive {
		return nil, nil
	}
	pattern := d.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	buses, err := devpath.Accessible(pattern)
	if err != nil {
		return nil, err
	}

	var found []string
	for _, bus := range buses {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		if d.answers(ctx, bus) {
			found = append(found, DriverName+":"+bus)
		}
	}
	return found, nil
}

func (d *Driver) answers(ctx context.Context, bus string) bool {
	t, err := d.dial(bus)
	if err != nil {
		pn53x.Logger().Debug().Err(err).Str("bus", bus).Msg("skipping I2C bus")
		return false
	}
	defer func() { _ = t.Close() }()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	device, err := pn53x.New(t, pn53x.WithTimeout(200*time.Millisecond))
	if err != nil {
		return false
	}
	_, err = device.FirmwareVersion(ctx)
	return err == nil
}

// Open implements pn53x.Driver. An empty port opens the first bus an
// intrusive probe finds.
func (d *Driver) Open(ctx context.Context, cs pn53x.ConnString) (pn53x.Transport, error) {
	name := cs.Port
	if name == "" {
		found, err := d.Probe(ctx)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, pn53x.ErrDeviceNotFound
		}
		first, err := pn53x.ParseConnString(found[0])
		if err != nil {
			return nil, err
		}
		name = first.Port
	}
	return d.dial(name)
}

var _ pn53x.Driver = (*Driver)(nil)
