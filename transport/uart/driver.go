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

package uart

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	pn53x "github.com/ZaparooProject/go-pn53x"
	"go.bug.st/serial/enumerator"
)

// DriverName is the connection string prefix for this driver.
const DriverName = "pn532_uart"

// knownBridges are USB serial bridges commonly soldered onto PN532 boards.
var knownBridges = []string{
	"067B:2303", // Prolific PL2303
	"0403:6001", // FTDI FT232
	"10C4:EA60", // Silicon Labs CP210x
	"1A86:7523", // QinHeng CH340
}

var (
	productKeywords = []string{"pn532", "nfc", "rfid", "13.56"}
	namePatterns    = []string{"usbserial", "slab_usbtouart", "usbmodem", "ttyusb", "ttyacm"}
)

// PortLister enumerates serial ports. enumerator.GetDetailedPortsList is the
// default.
type PortLister func() ([]*enumerator.PortDetails, error)

// Driver finds and opens PN532 boards on serial ports.
type Driver struct {
	// ListPorts overrides port enumeration, mainly for tests.
	ListPorts PortLister
	// Verify opens each candidate during Probe and keeps only ports where
	// a chip answers GetFirmwareVersion.
	Verify bool
	// Blocklist holds VID:PID pairs that are never probed.
	Blocklist []string
	// IgnorePaths holds device paths that are never probed.
	IgnorePaths []string
}

// Name implements pn53x.Driver.
func (*Driver) Name() string { return DriverName }

// Probe lists serial ports that look like a PN532 board.
func (d *Driver) Probe(ctx context.Context) ([]string, error) {
	list := d.ListPorts
	if list == nil {
		list = enumerator.GetDetailedPortsList
	}
	ports, err := list()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	var found []string
	for _, p := range ports {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		if !d.candidate(p) {
			continue
		}
		if d.Verify && !verify(ctx, p.Name) {
			continue
		}
		found = append(found, DriverName+":"+p.Name)
	}
	return found, nil
}

func (d *Driver) candidate(p *enumerator.PortDetails) bool {
	vidpid := ""
	if p.IsUSB {
		vidpid = strings.ToUpper(p.VID + ":" + p.PID)
		if isBlocked(vidpid, d.Blocklist) {
			return false
		}
	}
	if isPathIgnored(p.Name, d.IgnorePaths) {
		return false
	}
	return isLikelyPN532(vidpid, p.Product) || matchesName(p.Name)
}

// Open implements pn53x.Driver. The port may carry a ":speed" suffix. An
// empty port opens the first probed device.
func (d *Driver) Open(ctx context.Context, cs pn53x.ConnString) (pn53x.Transport, error) {
	if cs.Port == "" {
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
		cs = first
	}

	port, speed, err := cs.SplitSpeed()
	if err != nil {
		return nil, err
	}
	if speed == 0 {
		speed = DefaultSpeed
	}
	return NewWithSpeed(port, speed)
}

// verify checks for a chip on path by asking for its firmware version.
func verify(ctx context.Context, path string) bool {
	t, err := New(path)
	if err != nil {
		return false
	}
	defer func() { _ = t.Close() }()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	device, err := pn53x.New(t, pn53x.WithTimeout(500*time.Millisecond))
	if err != nil {
		return false
	}
	_, err = device.FirmwareVersion(ctx)
	return err == nil
}

func isLikelyPN532(vidpid, product string) bool {
	for _, known := range knownBridges {
		if vidpid == known {
			return true
		}
	}
	lower := strings.ToLower(product)
	for _, kw := range productKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func matchesName(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range namePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func isBlocked(vidpid string, blocklist []string) bool {
	for _, b := range blocklist {
		if strings.EqualFold(strings.TrimSpace(b), vidpid) {
			return true
		}
	}
	return false
}

func isPathIgnored(path string, ignore []string) bool {
	if path == "" {
		return false
	}
	norm := strings.ToLower(filepath.Clean(path))
	for _, p := range ignore {
		if p != "" && strings.ToLower(filepath.Clean(p)) == norm {
			return true
		}
	}
	return false
}

var _ pn53x.Driver = (*Driver)(nil)
