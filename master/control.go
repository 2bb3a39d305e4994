// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package master

import (
	"context"
	"fmt"
	"time"

	"github.com/riclolsen/go-dnp3/app"
	"github.com/riclolsen/go-dnp3/object"
)

// Integrity reads all event classes and static data.
func (sf *Session) Integrity(ctx context.Context) (*app.Response, error) {
	return sf.SendSynch(ctx, app.Integrity())
}

// PollEvents reads event classes 1, 2 and 3.
func (sf *Session) PollEvents(ctx context.Context) (*app.Response, error) {
	return sf.SendSynch(ctx, app.ReadAllEventData())
}

// FreezeCounters freezes all counters of the outstation.
func (sf *Session) FreezeCounters(ctx context.Context) error {
	rsp, err := sf.SendSynch(ctx, app.ImmediateFreeze())
	if err != nil {
		return err
	}
	return checkIIN(rsp)
}

func checkIIN(rsp *app.Response) error {
	if rsp.IIN.HasErrors() {
		return fmt.Errorf("%w: %s %s", ErrRequestRejected, rsp.Function, rsp.IIN)
	}
	return nil
}

// checkControl verifies the command echo of a SELECT or OPERATE response.
func checkControl(rsp *app.Response) error {
	if rsp.IIN.HasErrors() {
		return fmt.Errorf("%w: %s", ErrControlRejected, rsp.IIN)
	}
	if len(rsp.Controls) == 0 {
		return fmt.Errorf("%w: no command echo", ErrControlRejected)
	}
	for _, c := range rsp.Controls {
		if c.Status != 0 {
			return fmt.Errorf("%w: index %d status %d", ErrControlRejected, c.Index, c.Status)
		}
	}
	return nil
}

// command builds the same request for each function code.
type command func(fc app.FunctionCode) (*app.Request, error)

func (sf *Session) operate(ctx context.Context, build command, selectFirst bool) error {
	steps := []app.FunctionCode{app.FuncDirectOperate}
	if selectFirst {
		steps = []app.FunctionCode{app.FuncSelect, app.FuncOperate}
	}
	for _, fc := range steps {
		req, err := build(fc)
		if err != nil {
			return err
		}
		rsp, err := sf.SendSynch(ctx, req)
		if err != nil {
			return err
		}
		if err := checkControl(rsp); err != nil {
			return fmt.Errorf("%s: %w", fc, err)
		}
	}
	return nil
}

func binaryCommand(index uint16, crob object.CROB) command {
	return func(fc app.FunctionCode) (*app.Request, error) {
		return app.BinaryCommand(fc, index, crob)
	}
}

func analogCommand(variation byte, index uint16, value float64) command {
	return func(fc app.FunctionCode) (*app.Request, error) {
		return app.AnalogCommand(fc, variation, index, value)
	}
}

// DirectOperateBinary sends a control relay output block with DIRECT_OPERATE.
func (sf *Session) DirectOperateBinary(ctx context.Context, index uint16, crob object.CROB) error {
	return sf.operate(ctx, binaryCommand(index, crob), false)
}

// SelectOperateBinary sends SELECT and then OPERATE with the same block.
func (sf *Session) SelectOperateBinary(ctx context.Context, index uint16, crob object.CROB) error {
	return sf.operate(ctx, binaryCommand(index, crob), true)
}

// DirectOperateAnalog writes an analog output block (g41 variation) with
// DIRECT_OPERATE.
func (sf *Session) DirectOperateAnalog(ctx context.Context, variation byte, index uint16, value float64) error {
	return sf.operate(ctx, analogCommand(variation, index, value), false)
}

// SelectOperateAnalog sends SELECT and then OPERATE with the same block.
func (sf *Session) SelectOperateAnalog(ctx context.Context, variation byte, index uint16, value float64) error {
	return sf.operate(ctx, analogCommand(variation, index, value), true)
}

// SyncTime measures the link delay and writes the outstation clock
// compensated by it. It returns the one way delay used.
func (sf *Session) SyncTime(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	rsp, err := sf.SendSynch(ctx, app.DelayMeasurement())
	if err != nil {
		return 0, err
	}
	rtt := time.Since(start)
	if err := checkIIN(rsp); err != nil {
		return 0, err
	}
	turnaround, ok := rsp.Delay()
	if !ok {
		return 0, ErrNoTimeDelay
	}
	delay := (rtt - turnaround) / 2
	if delay < 0 {
		delay = 0
	}
	sf.Debug("time sync: rtt %v, outstation %v, delay %v", rtt, turnaround, delay)

	rsp, err = sf.SendSynch(ctx, app.WriteTime(time.Now().Add(delay)))
	if err != nil {
		return delay, err
	}
	return delay, checkIIN(rsp)
}

func (sf *Session) restart(ctx context.Context, req *app.Request) (time.Duration, error) {
	rsp, err := sf.SendSynch(ctx, req)
	if err != nil {
		return 0, err
	}
	if err := checkIIN(rsp); err != nil {
		return 0, err
	}
	d, ok := rsp.Delay()
	if !ok {
		return 0, ErrNoTimeDelay
	}
	return d, nil
}

// ColdRestart restarts the outstation and returns the time it asks the
// master to wait before talking to it again.
func (sf *Session) ColdRestart(ctx context.Context) (time.Duration, error) {
	return sf.restart(ctx, app.ColdRestart())
}

// WarmRestart restarts the outstation application.
func (sf *Session) WarmRestart(ctx context.Context) (time.Duration, error) {
	return sf.restart(ctx, app.WarmRestart())
}

// ClearRestartIIN clears the device restart indication.
func (sf *Session) ClearRestartIIN(ctx context.Context) error {
	rsp, err := sf.SendSynch(ctx, app.ClearRestart())
	if err != nil {
		return err
	}
	return checkIIN(rsp)
}

// EnableUnsolicited enables unsolicited responses for the event classes,
// all of them when none is given.
func (sf *Session) EnableUnsolicited(ctx context.Context, classes ...int) error {
	rsp, err := sf.SendSynch(ctx, app.EnableUnsolicited(classes...))
	if err != nil {
		return err
	}
	return checkIIN(rsp)
}

// DisableUnsolicited disables unsolicited responses for the event classes.
func (sf *Session) DisableUnsolicited(ctx context.Context, classes ...int) error {
	rsp, err := sf.SendSynch(ctx, app.DisableUnsolicited(classes...))
	if err != nil {
		return err
	}
	return checkIIN(rsp)
}
