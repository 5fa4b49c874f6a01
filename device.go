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
	"fmt"
	"time"
)

// DeviceConfig contains configuration options for the Device
type DeviceConfig struct {
	// Timeout is the default response timeout for chip commands
	Timeout time.Duration
	// AckTimeout bounds the wait for the ACK frame of every command
	AckTimeout time.Duration
}

// DefaultDeviceConfig returns default device configuration
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		Timeout:    DefaultCommandTimeout,
		AckTimeout: DefaultAckTimeout,
	}
}

// Option configures a Device in New.
type Option func(*Device) error

// WithTimeout sets the default response timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		if timeout < 0 {
			return fmt.Errorf("%w: negative timeout %v", ErrorInvalidArgument, timeout)
		}
		d.config.Timeout = timeout
		return nil
	}
}

// WithAckTimeout sets how long each command waits for its ACK.
func WithAckTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: ACK timeout must be positive, got %v", ErrorInvalidArgument, timeout)
		}
		d.config.AckTimeout = timeout
		return nil
	}
}

// WithChip fixes the chip family instead of learning it from the firmware
// version. PN531 replies carry no IC byte, so transports that only talk to a
// PN531 set this.
func WithChip(chip ChipFamily) Option {
	return func(d *Device) error {
		d.chip = chip
		return nil
	}
}

// withConnString records where the device was opened from.
func withConnString(name, connstring string) Option {
	return func(d *Device) error {
		d.name = name
		d.connstring = connstring
		return nil
	}
}

// Device represents one PN53x chip behind a transport.
//
// Thread Safety: Device is NOT thread-safe. All methods must be called from
// a single goroutine or protected with external synchronization. The one
// exception is AbortCommand, which is meant to be called from another
// goroutine to unblock a pending command.
type Device struct {
	session    *Session
	config     *DeviceConfig
	firmware   *FirmwareVersion
	name       string
	connstring string
	chip       ChipFamily

	// Property state the chip cannot report back.
	infiniteSelect bool
	autoISO14443_4 bool

	// Target mode.
	targetMode byte
	emulated   *Target
}

// New creates a device on transport. The chip family is unknown until Init
// or WithChip.
func New(transport Transport, opts ...Option) (*Device, error) {
	d := &Device{
		config:         DefaultDeviceConfig(),
		infiniteSelect: true,
		autoISO14443_4: true,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	d.session = NewSession(transport, d.chip)
	d.session.SetTimeout(d.config.Timeout)
	d.session.SetAckTimeout(d.config.AckTimeout)
	return d, nil
}

// Init reads the firmware version to learn the chip family and puts a PN532
// SAM into normal mode.
func (d *Device) Init(ctx context.Context) error {
	fw, err := d.FirmwareVersion(ctx)
	if err != nil {
		return fmt.Errorf("read firmware version: %w", err)
	}
	Logger().Debug().Str("device", d.name).Stringer("firmware", fw).Msg("device identified")

	if d.Chip() == ChipPN532 {
		if err := d.SAMConfiguration(ctx, SAMModeNormal, 0, true); err != nil {
			return fmt.Errorf("configure SAM: %w", err)
		}
	}
	return nil
}

// Session returns the command session. Use it for raw commands and registers.
func (d *Device) Session() *Session {
	return d.session
}

// Transport returns the underlying transport.
func (d *Device) Transport() Transport {
	return d.session.Transport()
}

// Config returns the device configuration.
func (d *Device) Config() DeviceConfig {
	return *d.config
}

// Name returns the driver-provided device name.
func (d *Device) Name() string {
	if d.name == "" {
		return string(d.session.Transport().Type())
	}
	return d.name
}

// ConnString returns the connection string the device was opened with.
func (d *Device) ConnString() string {
	return d.connstring
}

// Chip returns the chip family.
func (d *Device) Chip() ChipFamily {
	return d.session.Chip()
}

// Firmware returns the firmware version read by Init, or nil.
func (d *Device) Firmware() *FirmwareVersion {
	return d.firmware
}

// LastError returns the code of the most recent chip command.
func (d *Device) LastError() ErrorCode {
	return d.session.LastError()
}

// AbortCommand unblocks the command currently waiting for the chip, typically
// a target-mode receive or an infinite select. It is safe to call from
// another goroutine.
func (d *Device) AbortCommand() error {
	return d.session.Abort()
}

// Idle releases all targets and switches the RF field off. A PN532 is then
// put into power down, from which the next command wakes it.
func (d *Device) Idle(ctx context.Context) error {
	if d.emulated == nil {
		if err := d.Release(ctx); err != nil {
			return err
		}
	}
	d.emulated = nil
	d.targetMode = 0

	if err := d.SetProperty(ctx, PropertyActivateField, false); err != nil {
		return err
	}
	if d.Chip() == ChipPN532 {
		return d.PowerDown(ctx, WakeupHSU|WakeupSPI|WakeupI2C|WakeupRF|WakeupINT1)
	}
	return nil
}

// Close idles the chip and closes the transport. Idle failures are logged;
// the transport is closed regardless.
func (d *Device) Close(ctx context.Context) error {
	if err := d.Idle(ctx); err != nil {
		Logger().Debug().Err(err).Str("device", d.Name()).Msg("idle before close failed")
	}
	if err := d.session.Transport().Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

func (d *Device) timeout() time.Duration {
	return d.config.Timeout
}
