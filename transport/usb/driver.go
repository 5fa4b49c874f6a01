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

package usb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	pn53x "github.com/ZaparooProject/go-pn53x"
	"github.com/google/gousb"
)

// DriverName is the connection string prefix for this driver.
const DriverName = "pn53x_usb"

// Model is a USB reader built around a PN53x.
type Model struct {
	Name    string
	Vendor  gousb.ID
	Product gousb.ID
	Chip    pn53x.ChipFamily
}

// Models lists the readers the driver recognizes.
var Models = []Model{
	{Name: "Philips / PN531", Vendor: 0x04CC, Product: 0x0531, Chip: pn53x.ChipPN531},
	{Name: "Sony / PN531", Vendor: 0x054C, Product: 0x0193, Chip: pn53x.ChipPN531},
	{Name: "NXP / PN533", Vendor: 0x04CC, Product: 0x2533, Chip: pn53x.ChipPN533},
	{Name: "SCM Micro / SCL3711-NFC&RW", Vendor: 0x04E6, Product: 0x5591, Chip: pn53x.ChipPN533},
	{Name: "SCM Micro / SCL3712-NFC&RW", Vendor: 0x04E6, Product: 0x5594, Chip: pn53x.ChipPN533},
	{Name: "ASK / LoGO", Vendor: 0x1FD3, Product: 0x0608, Chip: pn53x.ChipPN533},
	{Name: "Sony / FeliCa S360 [PaSoRi]", Vendor: 0x054C, Product: 0x02E1, Chip: pn53x.ChipPN533},
}

// LookupModel finds the model with the given IDs.
func LookupModel(vendor, product gousb.ID) (Model, bool) {
	for _, m := range Models {
		if m.Vendor == vendor && m.Product == product {
			return m, true
		}
	}
	return Model{}, false
}

// FormatPort renders a bus and device address as "BBB:DDD".
func FormatPort(bus, address int) string {
	return fmt.Sprintf("%03d:%03d", bus, address)
}

// ParsePort is the inverse of FormatPort.
func ParsePort(port string) (bus, address int, err error) {
	b, a, ok := strings.Cut(port, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: USB port %q is not bus:address", pn53x.ErrInvalidConnString, port)
	}
	if bus, err = strconv.Atoi(b); err != nil {
		return 0, 0, fmt.Errorf("%w: bad USB bus %q", pn53x.ErrInvalidConnString, b)
	}
	if address, err = strconv.Atoi(a); err != nil {
		return 0, 0, fmt.Errorf("%w: bad USB address %q", pn53x.ErrInvalidConnString, a)
	}
	return bus, address, nil
}

// Driver finds PN531 and PN533 readers by vendor and product ID.
type Driver struct{}

// Name implements pn53x.Driver.
func (*Driver) Name() string { return DriverName }

// Probe implements pn53x.Driver. Devices are matched on their descriptors
// and never opened.
func (*Driver) Probe(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	usbCtx := gousb.NewContext()
	defer func() { _ = usbCtx.Close() }()

	var found []string
	_, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if m, ok := LookupModel(desc.Vendor, desc.Product); ok {
			pn53x.Logger().Debug().Str("model", m.Name).Int("bus", desc.Bus).
				Int("address", desc.Address).Msg("found USB reader")
			found = append(found, DriverName+":"+FormatPort(desc.Bus, desc.Address))
		}
		return false
	})
	if err != nil {
		return found, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	return found, nil
}

// Open implements pn53x.Driver. An empty port opens the first reader found.
func (d *Driver) Open(ctx context.Context, cs pn53x.ConnString) (pn53x.Transport, error) {
	port := cs.Port
	if port == "" {
		found, err := d.Probe(ctx)
		if len(found) == 0 {
			if err != nil {
				return nil, err
			}
			return nil, pn53x.ErrDeviceNotFound
		}
		first, err := pn53x.ParseConnString(found[0])
		if err != nil {
			return nil, err
		}
		port = first.Port
	}
	bus, address, err := ParsePort(port)
	if err != nil {
		return nil, err
	}
	return open(bus, address)
}

// open claims interface 0 of the reader at bus:address and picks its bulk
// endpoints. The interrupt endpoint some readers expose is ignored.
func open(bus, address int) (_ *Transport, err error) {
	usbCtx := gousb.NewContext()
	var model Model
	devs, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		m, ok := LookupModel(desc.Vendor, desc.Product)
		if ok && desc.Bus == bus && desc.Address == address {
			model = m
			return true
		}
		return false
	})
	for _, extra := range devs[min(len(devs), 1):] {
		_ = extra.Close()
	}
	if len(devs) == 0 {
		_ = usbCtx.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to open USB device %s: %w", FormatPort(bus, address), err)
		}
		return nil, pn53x.ErrDeviceNotFound
	}

	dev := devs[0]
	var cfg *gousb.Config
	var intf *gousb.Interface
	release := func() error {
		if intf != nil {
			intf.Close()
		}
		var errs []error
		if cfg != nil {
			errs = append(errs, cfg.Close())
		}
		errs = append(errs, dev.Close(), usbCtx.Close())
		return errors.Join(errs...)
	}
	defer func() {
		if err != nil {
			_ = release()
		}
	}()

	if detachErr := dev.SetAutoDetach(true); detachErr != nil {
		pn53x.Logger().Debug().Err(detachErr).Msg("kernel driver auto-detach unavailable")
	}
	if cfg, err = dev.Config(1); err != nil {
		return nil, fmt.Errorf("failed to set USB configuration: %w", err)
	}
	if intf, err = cfg.Interface(0, 0); err != nil {
		return nil, fmt.Errorf("failed to claim USB interface: %w", err)
	}

	var in *gousb.InEndpoint
	var out *gousb.OutEndpoint
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn {
			in, err = intf.InEndpoint(ep.Number)
		} else {
			out, err = intf.OutEndpoint(ep.Number)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open endpoint %v: %w", ep, err)
		}
	}
	if in == nil || out == nil {
		return nil, fmt.Errorf("%s has no bulk endpoint pair", model.Name)
	}

	name := FormatPort(bus, address)
	pn53x.Logger().Debug().Str("model", model.Name).Str("port", name).Msg("opened USB reader")
	return NewWithEndpoints(in, out, model.Chip, name, release), nil
}

var _ pn53x.Driver = (*Driver)(nil)
