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

package pcsc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pn53x "github.com/ZaparooProject/go-pn53x"
	"github.com/ebfe/scard"
)

// DriverName is the connection string prefix for this driver.
const DriverName = "acr122_pcsc"

// firmwarePrefix starts the firmware string of every supported reader,
// e.g. ACR122U101 (ACS) or ACR122U102 (Tikitag).
const firmwarePrefix = "ACR122U"

// Driver finds ACR122 readers known to the PC/SC daemon. The port part of a
// connection string is the PC/SC reader name.
type Driver struct{}

// Name implements pn53x.Driver.
func (*Driver) Name() string { return DriverName }

// Readers keeps the reader names that belong to an ACR122.
func Readers(names []string) []string {
	var out []string
	for _, n := range names {
		if strings.Contains(strings.ToUpper(n), "ACR122") {
			out = append(out, n)
		}
	}
	return out
}

// Probe implements pn53x.Driver.
func (*Driver) Probe(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sc, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to establish PC/SC context: %w", err)
	}
	defer func() { _ = sc.Release() }()

	names, err := sc.ListReaders()
	if errors.Is(err, scard.ErrNoReadersAvailable) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list PC/SC readers: %w", err)
	}

	var found []string
	for _, n := range Readers(names) {
		found = append(found, DriverName+":"+n)
	}
	return found, nil
}

// Open implements pn53x.Driver. The reader is opened in shared mode when a
// card is present and through the escape IOCTL otherwise.
func (d *Driver) Open(ctx context.Context, cs pn53x.ConnString) (pn53x.Transport, error) {
	reader := cs.Port
	if reader == "" {
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
		reader = first.Port
	}

	sc, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to establish PC/SC context: %w", err)
	}

	opts := []Option{WithCancel(sc.Cancel), WithRelease(sc.Release)}
	card, err := sc.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		pn53x.Logger().Debug().Err(err).Str("reader", reader).Msg("no card present, using direct mode")
		card, err = sc.Connect(reader, scard.ShareDirect, scard.ProtocolUndefined)
		if err != nil {
			_ = sc.Release()
			return nil, fmt.Errorf("failed to connect to %s: %w", reader, err)
		}
		opts = append(opts, WithDirect(EscapeIOCTL()))
	}

	t := NewWithCard(card, reader, opts...)
	fw, err := t.Firmware()
	if err != nil || !strings.HasPrefix(fw, firmwarePrefix) {
		_ = t.Close()
		return nil, fmt.Errorf("%w: %s answered firmware %q", pn53x.ErrDeviceNotFound, reader, fw)
	}
	pn53x.Logger().Debug().Str("reader", reader).Str("firmware", fw).Msg("opened ACR122")
	return t, nil
}

var _ pn53x.Driver = (*Driver)(nil)
