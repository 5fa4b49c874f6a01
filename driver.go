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
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Driver knows how to find and open one kind of PN53x transport. Drivers are
// passed explicitly to Open and ListDevices; there is no global registry.
type Driver interface {
	// Name is the connection string prefix, e.g. "pn532_uart".
	Name() string
	// Probe returns connection strings of devices the driver can reach.
	Probe(ctx context.Context) ([]string, error)
	// Open connects to the device named by cs.
	Open(ctx context.Context, cs ConnString) (Transport, error)
}

// ChipReporter is implemented by transports that know the chip family up
// front, such as USB readers identified by vendor and product ID.
type ChipReporter interface {
	Chip() ChipFamily
}

// ConnString is a parsed "driver:port" connection string. Port is everything
// after the first colon and may itself contain colons.
type ConnString struct {
	Driver string
	Port   string
}

// ParseConnString splits s into driver and port. The port may be empty, in
// which case the driver picks the first device it finds.
func ParseConnString(s string) (ConnString, error) {
	s = strings.TrimSpace(s)
	driver, port, _ := strings.Cut(s, ":")
	if driver == "" {
		return ConnString{}, fmt.Errorf("%w: %q has no driver", ErrInvalidConnString, s)
	}
	return ConnString{Driver: driver, Port: port}, nil
}

func (cs ConnString) String() string {
	if cs.Port == "" {
		return cs.Driver
	}
	return cs.Driver + ":" + cs.Port
}

// SplitSpeed separates a trailing ":speed" from the port, as in
// "pn532_uart:/dev/ttyUSB0:115200". speed is 0 when absent. Only an all-digit
// suffix is a speed, so port names containing colons such as
// /dev/serial/by-path entries stay whole.
func (cs ConnString) SplitSpeed() (port string, speed int, err error) {
	i := strings.LastIndexByte(cs.Port, ':')
	if i < 0 || !allDigits(cs.Port[i+1:]) {
		return cs.Port, 0, nil
	}
	speed, err = strconv.Atoi(cs.Port[i+1:])
	if err != nil || speed <= 0 {
		return "", 0, fmt.Errorf("%w: bad speed in %q", ErrInvalidConnString, cs)
	}
	return cs.Port[:i], speed, nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// OpenOption configures Open.
type OpenOption func(*openConfig) error

type openConfig struct {
	deviceOptions []Option
	retries       int
	skipInit      bool
}

// WithDeviceOptions passes options through to New.
func WithDeviceOptions(opts ...Option) OpenOption {
	return func(c *openConfig) error {
		c.deviceOptions = append(c.deviceOptions, opts...)
		return nil
	}
}

// WithSkipInit opens the transport without talking to the chip.
func WithSkipInit() OpenOption {
	return func(c *openConfig) error {
		c.skipInit = true
		return nil
	}
}

// WithConnectRetries sets how many times device initialization is attempted.
func WithConnectRetries(attempts int) OpenOption {
	return func(c *openConfig) error {
		if attempts < 1 {
			return fmt.Errorf("%w: connection retries must be at least 1, got %d", ErrorInvalidArgument, attempts)
		}
		c.retries = attempts
		return nil
	}
}

func findDriver(drivers []Driver, name string) (Driver, bool) {
	for _, d := range drivers {
		if d.Name() == name {
			return d, true
		}
	}
	return nil, false
}

// Open connects to the device named by connstring using the matching driver
// and initializes it. An empty connstring opens the first device any driver
// finds.
func Open(ctx context.Context, drivers []Driver, connstring string, opts ...OpenOption) (*Device, error) {
	config := &openConfig{retries: 3}
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply open option: %w", err)
		}
	}

	if connstring == "" {
		found, err := ListDevices(ctx, drivers)
		if len(found) == 0 {
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
			}
			return nil, ErrDeviceNotFound
		}
		connstring = found[0]
	}

	cs, err := ParseConnString(connstring)
	if err != nil {
		return nil, err
	}
	drv, ok := findDriver(drivers, cs.Driver)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoDriver, cs.Driver)
	}

	transport, err := drv.Open(ctx, cs)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cs, err)
	}

	deviceOpts := []Option{withConnString(drv.Name(), cs.String())}
	if cr, ok := transport.(ChipReporter); ok {
		deviceOpts = append(deviceOpts, WithChip(cr.Chip()))
	}
	deviceOpts = append(deviceOpts, config.deviceOptions...)
	device, err := New(transport, deviceOpts...)
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	if !config.skipInit {
		err := RetryWithConfig(ctx, ConnectRetryConfig(config.retries), device.Init)
		if err != nil {
			_ = transport.Close()
			return nil, fmt.Errorf("failed to initialize %s after %d attempts: %w", cs, config.retries, err)
		}
	}

	Logger().Debug().Str("connstring", cs.String()).Stringer("chip", device.Chip()).Msg("device opened")
	return device, nil
}

// ListDevices asks every driver for the devices it can reach. Probe failures
// of individual drivers are only returned when nothing was found.
func ListDevices(ctx context.Context, drivers []Driver) ([]string, error) {
	var found []string
	var errs []error
	for _, d := range drivers {
		conns, err := d.Probe(ctx)
		if err != nil {
			Logger().Debug().Err(err).Str("driver", d.Name()).Msg("probe failed")
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
			continue
		}
		found = append(found, conns...)
	}
	if len(found) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return found, nil
}
