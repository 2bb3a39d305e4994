// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package link

import (
	"fmt"
	"time"
)

// Link layer defaults and ranges.
const (
	DefaultTimeout = 1 * time.Second
	TimeoutMin     = 10 * time.Millisecond
	TimeoutMax     = 60 * time.Second

	DefaultMaxRetries = 3
	MaxRetriesMax     = 255

	// DefaultDFCBackoff is the pause before probing a busy station.
	DefaultDFCBackoff = 50 * time.Millisecond

	DefaultQueueSize = 16

	// addresses 0xFFF0..0xFFFF are reserved
	reservedAddress uint16 = 0xFFF0
)

// Config defines the link layer of a master.
type Config struct {
	// Address is the master's own link address.
	Address uint16
	// Remotes lists the outstation addresses accepted as frame sources.
	// Broadcast is always registered.
	Remotes []uint16
	// Confirm sends user data as CONFIRMED_USER_DATA and waits for ACK.
	Confirm bool
	// Timeout waiting for ACK/NACK/LINK_STATUS from the secondary.
	Timeout time.Duration
	// MaxRetries is how many times an unconfirmed primary frame is resent,
	// 0 for none.
	MaxRetries int
	// DFCBackoff is the pause before a REQUEST_LINK_STATUS probe of a
	// station reporting data flow control.
	DFCBackoff time.Duration
	// QueueSize of the received user data channel.
	QueueSize int
}

// Valid applies default values to zero fields and checks ranges.
func (sf *Config) Valid() error {
	if sf == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if sf.Address >= reservedAddress {
		return fmt.Errorf("%w: master address %d is reserved", ErrInvalidConfig, sf.Address)
	}
	if len(sf.Remotes) == 0 {
		return fmt.Errorf("%w: no remote address", ErrInvalidConfig)
	}
	for _, r := range sf.Remotes {
		if r >= reservedAddress || r == sf.Address {
			return fmt.Errorf("%w: remote address %d", ErrInvalidConfig, r)
		}
	}

	if sf.Timeout == 0 {
		sf.Timeout = DefaultTimeout
	} else if sf.Timeout < TimeoutMin || sf.Timeout > TimeoutMax {
		return fmt.Errorf("%w: timeout %v outside [%v, %v]", ErrInvalidConfig, sf.Timeout, TimeoutMin, TimeoutMax)
	}

	if sf.MaxRetries < 0 || sf.MaxRetries > MaxRetriesMax {
		return fmt.Errorf("%w: max retries %d", ErrInvalidConfig, sf.MaxRetries)
	}

	if sf.DFCBackoff <= 0 {
		sf.DFCBackoff = DefaultDFCBackoff
	}
	if sf.QueueSize <= 0 {
		sf.QueueSize = DefaultQueueSize
	}
	return nil
}
