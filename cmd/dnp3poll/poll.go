// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/riclolsen/go-dnp3/app"
	"github.com/riclolsen/go-dnp3/master"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Integrity poll, then event polls every interval",
	Long: `poll reads classes 1, 2, 3 and 0 once and then classes 1, 2 and 3 every
interval. Records collected since the previous poll, including unsolicited
ones, are printed after each poll.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		count, _ := cmd.Flags().GetInt("count")
		unsolicited, _ := cmd.Flags().GetBool("unsolicited")

		ctx := cmd.Context()
		s, fc, err := openSession(ctx, cmd)
		if err != nil {
			return err
		}
		defer s.Stop()
		out := cmd.OutOrStdout()

		poll := func(integrity bool) error {
			var err error
			if integrity {
				_, err = s.Integrity(ctx)
			} else {
				_, err = s.PollEvents(ctx)
			}
			if perr := printRecords(out, fc.Output, drain(s.Database())); perr != nil {
				return perr
			}
			return err
		}

		if err := poll(true); err != nil {
			return err
		}
		if unsolicited {
			if err := s.EnableUnsolicited(ctx); err != nil {
				return err
			}
		}

		t := time.NewTicker(s.Config().PollInterval)
		defer t.Stop()
		for n := 1; count == 0 || n < count; n++ {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
			}
			err := poll(false)
			switch {
			case err == nil, errors.Is(err, master.ErrRequestTimeout):
				// the next poll retries
			case errors.Is(err, master.ErrUseClosedConnection), errors.Is(err, app.ErrClosed):
				return err
			}
		}
		return nil
	},
}

func init() {
	pollCmd.Flags().Duration("interval", master.DefaultPollInterval, "event poll interval")
	pollCmd.Flags().Int("count", 0, "number of polls, 0 polls until interrupted")
	pollCmd.Flags().Bool("unsolicited", false, "enable unsolicited responses after the integrity poll")
}
