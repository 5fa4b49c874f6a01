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

package spi

import (
	"context"
	"fmt"
	"time"

	pn53x "github.com/ZaparooProject/go-pn53x"
	"github.com/ZaparooProject/go-pn53x/internal/devpath"
	"periph.io/x/conn/v3/spi"
)

// DriverName is the connection string prefix for this driver.
const DriverName = "pn532_spi"

// DefaultPattern matches Linux spidev nodes.
const DefaultPattern = "/dev/spidev*"

// Driver opens PN532 chips on SPI ports. As with I2C, Probe reports ports
// only when Intrusive is set and a chip answers on them.
type Driver struct {
	// Dial opens a port by name. It defaults to periph's registry.
	Dial func(name string) (spi.PortCloser, error)
	// Pattern overrides DefaultPattern.
	Pattern string
	// Intrusive enables probing ports by sending GetFirmwareVersion.
	Intrusive bool
}

// Name implements pn53x.Driver.
func (*Driver) Name() string { return DriverName }

func (d *Driver) dial(name string) (*Transport, error) {
	if d.Dial == nil {
		return New(name)
	}
	port, err := d.Dial(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", name, err)
	}
	return NewWithPort(port, name)
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
	ports, err := devpath.Accessible(pattern)
	if err != nil {
		return nil, err
	}

	var found []string
	for _, p := range ports {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		if d.answers(ctx, p) {
			found = append(found, DriverName+":"+p)
		}
	}
	return found, nil
}

func (d *Driver) answers(ctx context.Context, port string) bool {
	t, err := d.dial(port)
	if err != nil {
		pn53x.Logger().Debug().Err(err).Str("port", port).Msg("skipping SPI port")
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

// Open implements pn53x.Driver. An empty port opens the first port an
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
