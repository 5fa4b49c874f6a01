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

// Command nfc-emulate-uri makes a PN532 appear as an NFC Forum Type 4 tag
// holding a single URI record.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hsanjuan/go-ndef"

	pn53x "github.com/ZaparooProject/go-pn53x"
	"github.com/ZaparooProject/go-pn53x/emulation"
	"github.com/ZaparooProject/go-pn53x/transport/i2c"
	"github.com/ZaparooProject/go-pn53x/transport/spi"
	"github.com/ZaparooProject/go-pn53x/transport/uart"
)

type config struct {
	device   string
	uri      string
	uid      string
	timeout  time.Duration
	loop     bool
	writable bool
	debug    bool
}

var (
	flagDevice   string
	flagURI      string
	flagUID      string
	flagTimeout  time.Duration
	flagLoop     bool
	flagWritable bool
	flagDebug    bool
)

func init() {
	flag.StringVar(&flagDevice, "device", "", "Connection string, e.g. pn532_uart:/dev/ttyUSB0 (first device found if empty)")
	flag.StringVar(&flagURI, "uri", "https://zaparoo.org", "URI stored on the emulated tag")
	flag.StringVar(&flagUID, "uid", "", "Three UID bytes in hex, e.g. DEADBE (random if empty)")
	flag.DurationVar(&flagTimeout, "timeout", time.Second, "Command timeout")
	flag.BoolVar(&flagLoop, "loop", false, "Keep emulating after the reader releases the tag")
	flag.BoolVar(&flagWritable, "writable", false, "Allow readers to overwrite the NDEF message")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
}

func parseConfig() *config {
	cfg := &config{
		device:   flagDevice,
		uri:      flagURI,
		uid:      flagUID,
		timeout:  flagTimeout,
		loop:     flagLoop,
		writable: flagWritable,
		debug:    flagDebug,
	}
	if cfg.debug {
		pn53x.SetDebugEnabled(true)
	}
	return cfg
}

// Only the PN532 can emulate a tag, so USB and PC/SC readers are not tried.
func drivers() []pn53x.Driver {
	return []pn53x.Driver{
		&uart.Driver{},
		&i2c.Driver{},
		&spi.Driver{},
	}
}

func tagOptions(cfg *config, out io.Writer) ([]emulation.Option, error) {
	var opts []emulation.Option
	if cfg.uid != "" {
		raw, err := hex.DecodeString(cfg.uid)
		if err != nil || len(raw) != 3 {
			return nil, fmt.Errorf("uid must be 3 bytes of hex, got %q", cfg.uid)
		}
		opts = append(opts, emulation.WithUID([3]byte(raw)))
	}
	if cfg.writable {
		opts = append(opts, emulation.WithWritable(func(msg *ndef.Message) {
			_, _ = fmt.Fprintf(out, "Reader wrote a new message with %d record(s)\n", len(msg.Records))
		}))
	}
	return opts, nil
}

func serve(ctx context.Context, tag *emulation.Type4Tag, device *pn53x.Device, cfg *config, out io.Writer) error {
	for {
		_, _ = fmt.Fprintln(out, "Emulating NDEF tag now, please touch it with a second NFC device")
		if err := tag.Serve(ctx, device); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("emulation failed: %w", err)
		}
		_, _ = fmt.Fprintln(out, "Tag released by the reader")
		if !cfg.loop {
			return nil
		}
	}
}

func run(ctx context.Context, cfg *config, drvs []pn53x.Driver, out io.Writer) error {
	opts, err := tagOptions(cfg, out)
	if err != nil {
		return err
	}
	tag, err := emulation.NewType4Tag(emulation.URIMessage(cfg.uri), opts...)
	if err != nil {
		return fmt.Errorf("failed to create tag: %w", err)
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

	// TgInitAsTarget has no timeout, so cancellation has to abort it.
	stop := context.AfterFunc(ctx, func() {
		if err := device.AbortCommand(); err != nil {
			pn53x.Logger().Debug().Err(err).Msg("abort failed")
		}
	})
	defer stop()

	return serve(ctx, tag, device, cfg, out)
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

	if err := run(ctx, cfg, drivers(), os.Stdout); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
