// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/riclolsen/go-dnp3/object"
)

var controlCodes = map[string]byte{
	"nul":       object.CodeNul,
	"pulse-on":  object.CodePulseOn,
	"pulse-off": object.CodePulseOff,
	"latch-on":  object.CodeLatchOn,
	"latch-off": object.CodeLatchOff,
	"close":     object.CodeClose,
	"trip":      object.CodeTrip,
}

func parseControlCode(s string) (byte, error) {
	if c, ok := controlCodes[strings.ToLower(s)]; ok {
		return c, nil
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown control code %q", s)
	}
	return byte(v), nil
}

func parseIndex(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid point index %q", s)
	}
	return uint16(v), nil
}

var operateCmd = &cobra.Command{
	Use:   "operate",
	Short: "Operate binary or analog outputs",
}

var operateBinaryCmd = &cobra.Command{
	Use:   "binary <index>",
	Short: "Send a control relay output block (g12v1)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		codeName, _ := cmd.Flags().GetString("code")
		code, err := parseControlCode(codeName)
		if err != nil {
			return err
		}
		count, _ := cmd.Flags().GetUint8("count")
		on, _ := cmd.Flags().GetDuration("on")
		off, _ := cmd.Flags().GetDuration("off")
		sbo, _ := cmd.Flags().GetBool("select")
		crob := object.CROB{
			Code:    code,
			Count:   count,
			OnTime:  uint32(on / time.Millisecond),
			OffTime: uint32(off / time.Millisecond),
		}

		ctx := cmd.Context()
		s, _, err := openSession(ctx, cmd)
		if err != nil {
			return err
		}
		defer s.Stop()
		if sbo {
			err = s.SelectOperateBinary(ctx, index, crob)
		} else {
			err = s.DirectOperateBinary(ctx, index, crob)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "binary output %d: %s accepted\n", index, codeName)
		return nil
	},
}

var operateAnalogCmd = &cobra.Command{
	Use:   "analog <index> <value>",
	Short: "Send an analog output block (g41)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		value, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid value %q", args[1])
		}
		variation, _ := cmd.Flags().GetUint8("variation")
		sbo, _ := cmd.Flags().GetBool("select")

		ctx := cmd.Context()
		s, _, err := openSession(ctx, cmd)
		if err != nil {
			return err
		}
		defer s.Stop()
		if sbo {
			err = s.SelectOperateAnalog(ctx, variation, index, value)
		} else {
			err = s.DirectOperateAnalog(ctx, variation, index, value)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "analog output %d: %v accepted\n", index, value)
		return nil
	},
}

func init() {
	bf := operateBinaryCmd.Flags()
	bf.String("code", "latch-on", "control code: pulse-on, pulse-off, latch-on, latch-off, close, trip or a number")
	bf.Uint8("count", 1, "number of pulses")
	bf.Duration("on", 100*time.Millisecond, "pulse on time")
	bf.Duration("off", 100*time.Millisecond, "pulse off time")
	bf.Bool("select", false, "select before operate")

	af := operateAnalogCmd.Flags()
	af.Uint8("variation", 1, "g41 variation: 1 int32, 2 int16, 3 float32, 4 float64")
	af.Bool("select", false, "select before operate")

	operateCmd.AddCommand(operateBinaryCmd, operateAnalogCmd)
}
