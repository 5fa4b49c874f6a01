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

// Command nfc-list lists PN53x readers and the passive targets in their
// field.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	pn53x "github.com/ZaparooProject/go-pn53x"
	"github.com/ZaparooProject/go-pn53x/transport/i2c"
	"github.com/ZaparooProject/go-pn53x/transport/pcsc"
	"github.com/ZaparooProject/go-pn53x/transport/spi"
	"github.com/ZaparooProject/go-pn53x/transport/uart"
	"github.com/ZaparooProject/go-pn53x/transport/usb"
)

type config struct {
	device    string
	limit     int
	timeout   time.Duration
	intrusive bool
	debug     bool
	listOnly  bool
}

var (
	flagDevice    string
	flagLimit     int
	flagTimeout   time.Duration
	flagIntrusive bool
	flagDebug     bool
	flagListOnly  bool
)

func init() {
	flag.StringVar(&flagDevice, "device", "", "Connection string, e.g. pn532_uart:/dev/ttyUSB0 (first device found if empty)")
	flag.IntVar(&flagLimit, "limit", 16, "Maximum number of targets per modulation")
	flag.DurationVar(&flagTimeout, "timeout", time.Second, "Command timeout")
	flag.BoolVar(&flagIntrusive, "intrusive", false, "Probe I2C and SPI buses by talking to them")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.BoolVar(&flagListOnly, "list-devices", false, "Only list devices, do not poll for targets")
}

func parseConfig() *config {
	cfg := &config{
		device:    flagDevice,
		limit:     flagLimit,
		timeout:   flagTimeout,
		intrusive: flagIntrusive,
		debug:     flagDebug,
		listOnly:  flagListOnly,
	}
	if cfg.debug {
		pn53x.SetDebugEnabled(true)
	}
	return cfg
}

func drivers(cfg *config) []pn53x.Driver {
	return []pn53x.Driver{
		&usb.Driver{},
		&pcsc.Driver{},
		&uart.Driver{},
		&i2c.Driver{Intrusive: cfg.intrusive},
		&spi.Driver{Intrusive: cfg.intrusive},
	}
}

// modulations are polled in this order, as nfc-list does.
var modulations = []pn53x.Modulation{
	{Type: pn53x.ModISO14443A, BaudRate: pn53x.Baud106},
	{Type: pn53x.ModFeliCa, BaudRate: pn53x.Baud212},
	{Type: pn53x.ModFeliCa, BaudRate: pn53x.Baud424},
	{Type: pn53x.ModISO14443B, BaudRate: pn53x.Baud106},
	{Type: pn53x.ModJewel, BaudRate: pn53x.Baud106},
}

func listTargets(ctx context.Context, device *pn53x.Device, cfg *config, out io.Writer) error {
	if err := device.InitiatorInit(ctx); err != nil {
		return fmt.Errorf("failed to initialize initiator: %w", err)
	}

	for _, m := range modulations {
		targets, err := device.ListPassiveTargets(ctx, m, cfg.limit)
		if errors.Is(err, pn53x.ErrorInvalidArgument) || errors.Is(err, pn53x.ErrorNotSupportedByDevice) {
			// Modulation not supported by this chip.
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to list %s targets: %w", m, err)
		}
		if len(targets) == 0 {
			continue
		}
		_, _ = fmt.Fprintf(out, "%d %s passive target(s) found:\n", len(targets), m.Type)
		for _, t := range targets {
			_, _ = fmt.Fprintln(out, t.String())
		}
	}
	return nil
}

func run(ctx context.Context, cfg *config, drvs []pn53x.Driver, out io.Writer) error {
	found, err := pn53x.ListDevices(ctx, drvs)
	if err != nil && len(found) == 0 && cfg.device == "" {
		return fmt.Errorf("failed to probe devices: %w", err)
	}
	if cfg.listOnly || cfg.debug {
		_, _ = fmt.Fprintf(out, "%d NFC device(s) found:\n", len(found))
		for _, cs := range found {
			_, _ = fmt.Fprintf(out, "  - %s\n", cs)
		}
	}
	if cfg.listOnly {
		return nil
	}

	device, err := pn53x.Open(ctx, drvs, cfg.device,
		pn53x.WithDeviceOptions(pn53x.WithTimeout(cfg.timeout)))
	if err != nil {
		return fmt.Errorf("failed to open NFC device: %w", err)
	}
	defer func() {
		if err := device.Close(context.WithoutCancel(ctx)); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close device: %v\n", err)
		}
	}()

	_, _ = fmt.Fprintf(out, "NFC device: %s opened\n", device.Name())
	if fw := device.Firmware(); fw != nil {
		_, _ = fmt.Fprintf(out, "Firmware: %s\n", fw)
	}
	return listTargets(ctx, device, cfg, out)
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	cfg := parseConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx, cfg, drivers(cfg), os.Stdout); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
