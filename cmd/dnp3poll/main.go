// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Command dnp3poll is a DNP3 master for one outstation: it polls points,
// operates outputs, synchronises the clock and restarts the device.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/riclolsen/go-dnp3/app"
	"github.com/riclolsen/go-dnp3/clog"
	"github.com/riclolsen/go-dnp3/master"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "dnp3poll",
	Short: "DNP3 master for a single outstation",
	Long: `dnp3poll talks to one DNP3 outstation over TCP or a serial line.
Settings come from an optional YAML file, DNP3_* environment variables
(DNP3_NETWORK_HOST, DNP3_LINK_REMOTE_ADDRESS, ...) and flags, flags winning.`,
	Example: `  dnp3poll poll --host 10.0.0.2 --remote 10 --interval 5s
  dnp3poll --medium serial --serial /dev/ttyUSB0 --baud 19200 timesync
  dnp3poll operate binary 3 --code latch-on --select
  dnp3poll operate analog 1 42.5 --variation 3
  dnp3poll restart cold --config outstation.yaml`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	pf.String("medium", "tcp", "physical channel: tcp or serial")
	pf.StringP("host", "i", "127.0.0.1", "outstation host")
	pf.IntP("port", "p", master.DefaultPort, "outstation TCP port")
	pf.String("serial", "", "serial port, e.g. /dev/ttyS0 or COM3")
	pf.Int("baud", master.DefaultBaudRate, "serial baud rate")
	pf.String("parity", "none", "serial parity: none, odd, even, mark, space")
	pf.String("stop-bits", "1", "serial stop bits: 1, 1.5, 2")
	pf.Uint16("master", master.DefaultMasterAddress, "master link address")
	pf.Uint16P("remote", "r", master.DefaultRemoteAddress, "outstation link address")
	pf.Bool("link-confirm", false, "send user data as CONFIRMED_USER_DATA")
	pf.Bool("app-confirm", false, "request application confirmations")
	pf.Duration("request-timeout", master.DefaultRequestTimeout, "timeout of one request")
	pf.StringP("output", "o", outputText, "output format: text or yaml")
	pf.String("capture", "", "write every link frame to this pcap file")
	pf.BoolP("debug", "d", false, "log protocol traffic")

	rootCmd.AddCommand(pollCmd, operateCmd, timesyncCmd, restartCmd)
}

// openSession loads the configuration, sets up logging and capture and
// initialises a session.
func openSession(ctx context.Context, cmd *cobra.Command) (*master.Session, *fileConfig, error) {
	fc, err := loadConfig(configPath, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	cfg, err := fc.masterConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, err := newLogger(fc.Debug)
	if err != nil {
		return nil, nil, err
	}
	clog.SetBaseLogger(logger)

	o := master.NewOption().SetConfig(cfg)
	if fc.Capture != "" {
		f, err := os.Create(fc.Capture)
		if err != nil {
			return nil, nil, fmt.Errorf("capture: %w", err)
		}
		o.SetCapture(f)
	}
	s, err := master.NewSession(o)
	if err != nil {
		return nil, nil, err
	}
	s.SetLogMode(fc.Debug)
	s.SetExceptionHandler(func(err error) {
		logger.Warn("session exception", zap.Error(err))
	}).SetIINHandler(func(iin app.IIN) {
		if iin.HasErrors() || iin.Has(app.IINDeviceRestart) || iin.Has(app.IINDeviceTrouble) {
			logger.Info("internal indications", zap.Stringer("iin", iin))
		}
	})
	if err := s.Init(ctx); err != nil {
		return nil, nil, err
	}
	return s, fc, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	return cfg.Build()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
