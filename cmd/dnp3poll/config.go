// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/riclolsen/go-dnp3/master"
)

// fileConfig is the layout of the YAML configuration file.
type fileConfig struct {
	Medium  string        `mapstructure:"medium"`
	Network networkConfig `mapstructure:"network"`
	Serial  serialConfig  `mapstructure:"serial"`
	Link    linkConfig    `mapstructure:"link"`
	App     appConfig     `mapstructure:"app"`
	Session sessionConfig `mapstructure:"session"`
	Output  string        `mapstructure:"output"`
	Capture string        `mapstructure:"capture"`
	Debug   bool          `mapstructure:"debug"`
}

type networkConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type serialConfig struct {
	Address  string        `mapstructure:"address"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	StopBits string        `mapstructure:"stop_bits"`
	Parity   string        `mapstructure:"parity"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type linkConfig struct {
	MasterAddress uint16        `mapstructure:"master_address"`
	RemoteAddress uint16        `mapstructure:"remote_address"`
	Confirm       bool          `mapstructure:"confirm"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
}

type appConfig struct {
	Confirm          bool          `mapstructure:"confirm"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	MaxFragmentSize  int           `mapstructure:"max_fragment_size"`
	LenientTransport bool          `mapstructure:"lenient_transport"`
}

type sessionConfig struct {
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ReconnectRetries  int           `mapstructure:"reconnect_retries"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	BufferSize        int           `mapstructure:"buffer_size"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"medium":          "medium",
	"host":            "network.host",
	"port":            "network.port",
	"serial":          "serial.address",
	"baud":            "serial.baud_rate",
	"parity":          "serial.parity",
	"stop-bits":       "serial.stop_bits",
	"master":          "link.master_address",
	"remote":          "link.remote_address",
	"link-confirm":    "link.confirm",
	"app-confirm":     "app.confirm",
	"request-timeout": "session.request_timeout",
	"interval":        "session.poll_interval",
	"output":          "output",
	"capture":         "capture",
	"debug":           "debug",
}

func setDefaults(v *viper.Viper) {
	d := master.DefaultConfig()
	v.SetDefault("medium", d.Medium.String())
	v.SetDefault("network.host", d.Network.Host)
	v.SetDefault("network.port", d.Network.Port)
	v.SetDefault("network.dial_timeout", d.Network.DialTimeout)
	v.SetDefault("serial.address", "")
	v.SetDefault("serial.baud_rate", d.Serial.BaudRate)
	v.SetDefault("serial.data_bits", d.Serial.DataBits)
	v.SetDefault("serial.stop_bits", "1")
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.timeout", "0s")
	v.SetDefault("link.master_address", d.MasterAddress)
	v.SetDefault("link.remote_address", d.RemoteAddress)
	v.SetDefault("link.confirm", false)
	v.SetDefault("link.timeout", d.LinkTimeout)
	v.SetDefault("link.max_retries", d.LinkMaxRetries)
	v.SetDefault("app.confirm", false)
	v.SetDefault("app.timeout", d.AppTimeout)
	v.SetDefault("app.max_retries", d.AppMaxRetries)
	v.SetDefault("app.max_fragment_size", d.MaxFragmentSize)
	v.SetDefault("app.lenient_transport", false)
	v.SetDefault("session.request_timeout", d.RequestTimeout)
	v.SetDefault("session.reconnect_retries", d.ReconnectRetries)
	v.SetDefault("session.reconnect_interval", d.ReconnectInterval)
	v.SetDefault("session.buffer_size", d.BufferSize)
	v.SetDefault("session.poll_interval", d.PollInterval)
	v.SetDefault("output", "text")
	v.SetDefault("capture", "")
	v.SetDefault("debug", false)
}

// loadConfig merges defaults, the optional file, DNP3_* environment
// variables and the flags set on the command line, in increasing priority.
func loadConfig(path string, flags *pflag.FlagSet) (*fileConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DNP3")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	if flags != nil {
		var err error
		flags.VisitAll(func(f *pflag.Flag) {
			key, ok := flagKeys[f.Name]
			if !ok || err != nil {
				return
			}
			err = v.BindPFlag(key, f)
		})
		if err != nil {
			return nil, err
		}
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &fc, nil
}

// masterConfig converts the file layout into a validated session
// configuration.
func (sf *fileConfig) masterConfig() (master.Config, error) {
	medium, err := master.ParseMedium(sf.Medium)
	if err != nil {
		return master.Config{}, err
	}
	parity, err := master.ParseParity(sf.Serial.Parity)
	if err != nil {
		return master.Config{}, err
	}
	stop, err := master.ParseStopBits(sf.Serial.StopBits)
	if err != nil {
		return master.Config{}, err
	}
	cfg := master.Config{
		Medium: medium,
		Network: master.NetworkConfig{
			Host:        sf.Network.Host,
			Port:        sf.Network.Port,
			DialTimeout: sf.Network.DialTimeout,
		},
		Serial: master.SerialConfig{
			Address:  sf.Serial.Address,
			BaudRate: sf.Serial.BaudRate,
			DataBits: sf.Serial.DataBits,
			StopBits: stop,
			Parity:   parity,
			Timeout:  sf.Serial.Timeout,
		},
		MasterAddress:     sf.Link.MasterAddress,
		RemoteAddress:     sf.Link.RemoteAddress,
		LinkConfirm:       sf.Link.Confirm,
		LinkTimeout:       sf.Link.Timeout,
		LinkMaxRetries:    sf.Link.MaxRetries,
		AppConfirm:        sf.App.Confirm,
		AppTimeout:        sf.App.Timeout,
		AppMaxRetries:     sf.App.MaxRetries,
		RequestTimeout:    sf.Session.RequestTimeout,
		ReconnectRetries:  sf.Session.ReconnectRetries,
		ReconnectInterval: sf.Session.ReconnectInterval,
		BufferSize:        sf.Session.BufferSize,
		MaxFragmentSize:   sf.App.MaxFragmentSize,
		LenientTransport:  sf.App.LenientTransport,
		PollInterval:      sf.Session.PollInterval,
	}
	if medium == master.MediumSerial && cfg.Serial.Address == "" {
		return cfg, errors.New("serial medium requires a port address")
	}
	if err := cfg.Valid(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
