// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package master

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/riclolsen/go-dnp3/app"
	"github.com/riclolsen/go-dnp3/database"
	"github.com/riclolsen/go-dnp3/link"
	"github.com/riclolsen/go-dnp3/transport"
)

// Medium selects the physical channel.
type Medium byte

const (
	MediumTCP Medium = iota
	MediumSerial
)

func (m Medium) String() string {
	switch m {
	case MediumTCP:
		return "tcp"
	case MediumSerial:
		return "serial"
	}
	return fmt.Sprintf("Medium(%d)", byte(m))
}

// ParseMedium maps "tcp" and "serial" to a Medium.
func ParseMedium(s string) (Medium, error) {
	switch strings.ToLower(s) {
	case "tcp", "":
		return MediumTCP, nil
	case "serial":
		return MediumSerial, nil
	}
	return 0, fmt.Errorf("unknown medium %q", s)
}

// Defaults and ranges of the session configuration.
const (
	DefaultMasterAddress uint16 = 1
	DefaultRemoteAddress uint16 = 1024

	// Timeout of a synchronous request, from submission to the final
	// response fragment.
	DefaultRequestTimeout = 5 * time.Second
	RequestTimeoutMin     = 10 * time.Millisecond
	RequestTimeoutMax     = 10 * time.Minute

	DefaultReconnectRetries  = 5
	DefaultReconnectInterval = 1 * time.Second

	// Records kept per point.
	DefaultBufferSize = database.DefaultCapacity
	BufferSizeMin     = database.MinCapacity
	BufferSizeMax     = database.MaxCapacity

	DefaultPollInterval = 10 * time.Second
)

// Config defines a DNP3 master session.
type Config struct {
	Medium  Medium
	Network NetworkConfig
	Serial  SerialConfig

	// Link addresses of this master and of the outstation.
	MasterAddress uint16
	RemoteAddress uint16

	// LinkConfirm sends user data as CONFIRMED_USER_DATA.
	// LinkMaxRetries and AppMaxRetries of 0 disable resending.
	LinkConfirm    bool
	LinkTimeout    time.Duration
	LinkMaxRetries int

	// AppConfirm sets CON on requests.
	AppConfirm    bool
	AppTimeout    time.Duration
	AppMaxRetries int

	RequestTimeout time.Duration

	// Dial attempts and the pause between them.
	ReconnectRetries  int
	ReconnectInterval time.Duration

	// BufferSize is the ring buffer capacity of every point.
	BufferSize int
	// MaxFragmentSize bounds reassembled response fragments.
	MaxFragmentSize int
	// LenientTransport accepts out of sequence transport segments.
	LenientTransport bool

	// PollInterval between event polls of the command line poller.
	PollInterval time.Duration
}

// Valid applies defaults to zero fields and checks configuration validity.
func (sf *Config) Valid() error {
	if sf == nil {
		return errors.New("invalid nil config")
	}

	// an empty endpoint is allowed for sessions over a supplied connection
	switch sf.Medium {
	case MediumTCP:
		if sf.Network.Host != "" {
			if err := sf.Network.valid(); err != nil {
				return err
			}
		}
	case MediumSerial:
		if sf.Serial.Address != "" {
			if err := sf.Serial.valid(); err != nil {
				return err
			}
		}
	default:
		return errors.New("invalid medium")
	}

	if sf.MasterAddress == 0 && sf.RemoteAddress == 0 {
		sf.MasterAddress, sf.RemoteAddress = DefaultMasterAddress, DefaultRemoteAddress
	}
	if sf.MasterAddress == sf.RemoteAddress {
		return errors.New("master and remote address must differ")
	}

	if _, err := sf.linkConfig(); err != nil {
		return err
	}
	ac := sf.appConfig()
	if err := ac.Valid(); err != nil {
		return err
	}
	sf.AppTimeout, sf.AppMaxRetries = ac.Timeout, ac.MaxRetries
	tc := sf.transportConfig()
	if err := tc.Valid(); err != nil {
		return err
	}
	sf.MaxFragmentSize = tc.MaxFragmentSize

	if sf.RequestTimeout == 0 {
		sf.RequestTimeout = DefaultRequestTimeout
	} else if sf.RequestTimeout < RequestTimeoutMin || sf.RequestTimeout > RequestTimeoutMax {
		return fmt.Errorf("request timeout out of range [%v, %v]", RequestTimeoutMin, RequestTimeoutMax)
	}

	if sf.ReconnectRetries == 0 {
		sf.ReconnectRetries = DefaultReconnectRetries
	} else if sf.ReconnectRetries < 0 {
		return errors.New("reconnect retries must be positive")
	}
	if sf.ReconnectInterval == 0 {
		sf.ReconnectInterval = DefaultReconnectInterval
	} else if sf.ReconnectInterval < 0 {
		return errors.New("reconnect interval must be positive")
	}

	if sf.BufferSize == 0 {
		sf.BufferSize = DefaultBufferSize
	} else if sf.BufferSize < BufferSizeMin || sf.BufferSize > BufferSizeMax {
		return fmt.Errorf("buffer size out of range [%d, %d]", BufferSizeMin, BufferSizeMax)
	}

	if sf.PollInterval == 0 {
		sf.PollInterval = DefaultPollInterval
	} else if sf.PollInterval < 0 {
		return errors.New("poll interval must be positive")
	}
	return nil
}

// linkConfig derives the link layer configuration and writes the applied
// defaults back.
func (sf *Config) linkConfig() (link.Config, error) {
	c := link.Config{
		Address:    sf.MasterAddress,
		Remotes:    []uint16{sf.RemoteAddress},
		Confirm:    sf.LinkConfirm,
		Timeout:    sf.LinkTimeout,
		MaxRetries: sf.LinkMaxRetries,
	}
	if err := c.Valid(); err != nil {
		return c, err
	}
	sf.LinkTimeout, sf.LinkMaxRetries = c.Timeout, c.MaxRetries
	return c, nil
}

func (sf *Config) appConfig() *app.Config {
	return &app.Config{
		Remote:     sf.RemoteAddress,
		Confirm:    sf.AppConfirm,
		Timeout:    sf.AppTimeout,
		MaxRetries: sf.AppMaxRetries,
	}
}

func (sf *Config) transportConfig() *transport.Config {
	return &transport.Config{
		Lenient:         sf.LenientTransport,
		MaxFragmentSize: sf.MaxFragmentSize,
	}
}

// DefaultConfig provides a TCP configuration for a local outstation.
func DefaultConfig() Config {
	return Config{
		Medium:            MediumTCP,
		Network:           NetworkConfig{Host: "127.0.0.1", Port: DefaultPort, DialTimeout: DefaultDialTimeout},
		Serial:            SerialConfig{BaudRate: DefaultBaudRate, DataBits: DefaultDataBits},
		MasterAddress:     DefaultMasterAddress,
		RemoteAddress:     DefaultRemoteAddress,
		LinkTimeout:       link.DefaultTimeout,
		LinkMaxRetries:    link.DefaultMaxRetries,
		AppTimeout:        app.DefaultTimeout,
		AppMaxRetries:     app.DefaultMaxRetries,
		RequestTimeout:    DefaultRequestTimeout,
		ReconnectRetries:  DefaultReconnectRetries,
		ReconnectInterval: DefaultReconnectInterval,
		BufferSize:        DefaultBufferSize,
		MaxFragmentSize:   transport.DefaultMaxFragmentSize,
		PollInterval:      DefaultPollInterval,
	}
}
