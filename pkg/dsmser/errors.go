// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dsmser

import "errors"

var (
	// ErrTimeout is returned by Read when the deadline passed before any
	// byte could be delivered.
	ErrTimeout = errors.New("dsmser: read timeout")

	// ErrCancelled is returned by Read when the port was closed.
	ErrCancelled = errors.New("dsmser: read cancelled")

	// ErrWouldBlock is returned by TryRead when no data is ready.
	ErrWouldBlock = errors.New("dsmser: no data available")

	// ErrInvalidConfig is returned when a separator, prompt or line mode
	// setting is rejected. The port configuration is left unchanged.
	ErrInvalidConfig = errors.New("dsmser: invalid configuration")

	// ErrClosed is returned by producer and write calls on a closed port.
	ErrClosed = errors.New("dsmser: port closed")

	// ErrNoDevice is returned by transmit calls on a port opened without
	// a device to write to.
	ErrNoDevice = errors.New("dsmser: no transmit device")
)
