// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package master

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Physical channel defaults.
const (
	DefaultPort        = 20000
	DefaultDialTimeout = 5 * time.Second
	DefaultBaudRate    = 9600
	DefaultDataBits    = 8
)

// NetworkConfig holds the TCP endpoint of the outstation.
type NetworkConfig struct {
	Host string
	// Port defaults to 20000.
	Port        int
	DialTimeout time.Duration
}

// Address returns host:port.
func (sf NetworkConfig) Address() string {
	return net.JoinHostPort(sf.Host, strconv.Itoa(sf.Port))
}

func (sf *NetworkConfig) valid() error {
	if sf.Host == "" {
		return errors.New("network host must be configured")
	}
	if sf.Port == 0 {
		sf.Port = DefaultPort
	} else if sf.Port < 0 || sf.Port > 65535 {
		return errors.New("network port out of range [1, 65535]")
	}
	if sf.DialTimeout == 0 {
		sf.DialTimeout = DefaultDialTimeout
	} else if sf.DialTimeout < 0 {
		return errors.New("dial timeout must be positive")
	}
	return nil
}

// SerialConfig holds serial port configuration parameters.
type SerialConfig struct {
	// Address is the serial port address (e.g., "COM3" on Windows, "/dev/ttyS0" on Linux).
	Address string
	// BaudRate is the serial port speed (e.g., 9600, 19200, 115200).
	BaudRate int
	// DataBits is the number of data bits, 8 for DNP3.
	DataBits int
	// StopBits specifies the number of stop bits. Use serial.OneStopBit or serial.TwoStopBits.
	StopBits serial.StopBits
	// Parity specifies the parity mode. Use serial.NoParity, serial.OddParity, serial.EvenParity.
	Parity serial.Parity
	// Timeout is the read poll interval of the port. Reads never return
	// empty to the link layer. 0 blocks until data arrives.
	Timeout time.Duration
}

func (sf *SerialConfig) valid() error {
	if sf.Address == "" {
		return errors.New("serial address (port name) must be configured")
	}
	if sf.BaudRate == 0 {
		sf.BaudRate = DefaultBaudRate
	} else if sf.BaudRate < 0 {
		return errors.New("serial baud rate must be positive")
	}
	if sf.DataBits == 0 {
		sf.DataBits = DefaultDataBits
	} else if sf.DataBits < 5 || sf.DataBits > 8 {
		return errors.New("serial data bits out of range [5, 8]")
	}
	if sf.Timeout < 0 {
		return errors.New("serial timeout must be positive")
	}
	return nil
}

// mode returns the port settings for serial.Open.
func (sf SerialConfig) mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: sf.BaudRate,
		DataBits: sf.DataBits,
		Parity:   sf.Parity,
		StopBits: sf.StopBits,
	}
}

// ParseParity maps none, odd, even, mark or space to serial.Parity.
func ParseParity(s string) (serial.Parity, error) {
	switch strings.ToLower(s) {
	case "", "none", "n":
		return serial.NoParity, nil
	case "odd", "o":
		return serial.OddParity, nil
	case "even", "e":
		return serial.EvenParity, nil
	case "mark", "m":
		return serial.MarkParity, nil
	case "space", "s":
		return serial.SpaceParity, nil
	}
	return serial.NoParity, fmt.Errorf("unknown parity %q", s)
}

// ParseStopBits maps 1, 1.5 or 2 to serial.StopBits.
func ParseStopBits(s string) (serial.StopBits, error) {
	switch s {
	case "", "1":
		return serial.OneStopBit, nil
	case "1.5":
		return serial.OnePointFiveStopBits, nil
	case "2":
		return serial.TwoStopBits, nil
	}
	return serial.OneStopBit, fmt.Errorf("unknown stop bits %q", s)
}
