// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var timesyncCmd = &cobra.Command{
	Use:   "timesync",
	Short: "Measure the channel delay and write the outstation clock",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		s, _, err := openSession(ctx, cmd)
		if err != nil {
			return err
		}
		defer s.Stop()
		delay, err := s.SyncTime(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "clock written, one way delay %v\n", delay)
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:       "restart cold|warm",
	Short:     "Restart the outstation",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"cold", "warm"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, _, err := openSession(ctx, cmd)
		if err != nil {
			return err
		}
		defer s.Stop()

		var wait time.Duration
		if args[0] == "cold" {
			wait, err = s.ColdRestart(ctx)
		} else {
			wait, err = s.WarmRestart(ctx)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s restart accepted, outstation back in %v\n", args[0], wait)
		return nil
	},
}
