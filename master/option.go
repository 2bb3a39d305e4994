// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package master

import (
	"io"
	"time"
)

// Option session configuration options
type Option struct {
	config  Config
	capture io.Writer
}

// NewOption creates an Option with DefaultConfig.
func NewOption() *Option {
	return &Option{
		config: DefaultConfig(),
	}
}

// SetConfig sets the session configuration. Uses DefaultConfig() if the provided cfg is invalid.
func (sf *Option) SetConfig(cfg Config) *Option {
	if err := cfg.Valid(); err != nil {
		sf.config = DefaultConfig()
	} else {
		sf.config = cfg
	}
	return sf
}

// SetSerialConfig selects a serial channel.
func (sf *Option) SetSerialConfig(c SerialConfig) *Option {
	sf.config.Medium = MediumSerial
	sf.config.Serial = c
	return sf
}

// SetNetworkConfig selects a TCP channel.
func (sf *Option) SetNetworkConfig(c NetworkConfig) *Option {
	sf.config.Medium = MediumTCP
	sf.config.Network = c
	return sf
}

// SetAddresses sets the link addresses of the master and the outstation.
func (sf *Option) SetAddresses(master, remote uint16) *Option {
	sf.config.MasterAddress = master
	sf.config.RemoteAddress = remote
	return sf
}

// SetRequestTimeout sets the timeout of synchronous requests.
func (sf *Option) SetRequestTimeout(t time.Duration) *Option {
	if t > 0 {
		sf.config.RequestTimeout = t
	}
	return sf
}

// SetReconnectRetries sets the number of connection attempts.
func (sf *Option) SetReconnectRetries(n int) *Option {
	if n > 0 {
		sf.config.ReconnectRetries = n
	}
	return sf
}

// SetReconnectInterval sets the pause between connection attempts.
func (sf *Option) SetReconnectInterval(t time.Duration) *Option {
	if t > 0 {
		sf.config.ReconnectInterval = t
	}
	return sf
}

// SetCapture records every link frame to w as pcap. w is closed by Stop
// when it is an io.Closer.
func (sf *Option) SetCapture(w io.Writer) *Option {
	sf.capture = w
	return sf
}

// Config returns a copy of the configuration.
func (sf *Option) Config() Config {
	return sf.config
}
