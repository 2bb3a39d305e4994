// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package master

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// serialPort keeps read timeouts of the port away from the frame reader,
// which treats an empty read as a stalled stream.
type serialPort struct {
	serial.Port
	closed atomic.Bool
}

func (sf *serialPort) Read(p []byte) (int, error) {
	for {
		n, err := sf.Port.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
		if sf.closed.Load() {
			return 0, io.EOF
		}
	}
}

func (sf *serialPort) Close() error {
	sf.closed.Store(true)
	return sf.Port.Close()
}

func openSerial(c SerialConfig) (io.ReadWriteCloser, error) {
	port, err := serial.Open(c.Address, c.mode())
	if err != nil {
		return nil, err
	}
	if c.Timeout > 0 {
		if err := port.SetReadTimeout(c.Timeout); err != nil {
			_ = port.Close()
			return nil, err
		}
	}
	return &serialPort{Port: port}, nil
}

func dialTCP(ctx context.Context, c NetworkConfig) (io.ReadWriteCloser, error) {
	d := net.Dialer{Timeout: c.DialTimeout}
	return d.DialContext(ctx, "tcp", c.Address())
}

// endpoint describes the physical channel for log lines.
func (sf *Config) endpoint() string {
	if sf.Medium == MediumSerial {
		return sf.Serial.Address
	}
	return sf.Network.Address()
}

// connect opens the physical channel, trying ReconnectRetries times.
func (sf *Session) connect(ctx context.Context) (io.ReadWriteCloser, error) {
	cfg := &sf.option.config
	switch cfg.Medium {
	case MediumTCP:
		if err := cfg.Network.valid(); err != nil {
			return nil, err
		}
	case MediumSerial:
		if err := cfg.Serial.valid(); err != nil {
			return nil, err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.ReconnectRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(cfg.ReconnectInterval):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		sf.Debug("connecting to %s %s (%d/%d)", cfg.Medium, cfg.endpoint(), attempt, cfg.ReconnectRetries)
		var conn io.ReadWriteCloser
		var err error
		if cfg.Medium == MediumSerial {
			conn, err = openSerial(cfg.Serial)
		} else {
			conn, err = dialTCP(ctx, cfg.Network)
		}
		if err == nil {
			sf.Debug("connected to %s", cfg.endpoint())
			return conn, nil
		}
		lastErr = err
		sf.Warn("connect to %s failed: %v", cfg.endpoint(), err)
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrConnect, cfg.endpoint(), cfg.ReconnectRetries, lastErr)
}
