// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package master is the session facade of a DNP3 master: it opens the
// physical channel, stacks the link, transport and application layers on it
// and serves synchronous requests against one outstation.
package master

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riclolsen/go-dnp3/app"
	"github.com/riclolsen/go-dnp3/capture"
	"github.com/riclolsen/go-dnp3/clog"
	"github.com/riclolsen/go-dnp3/database"
	"github.com/riclolsen/go-dnp3/link"
	"github.com/riclolsen/go-dnp3/transport"
)

// Session states
const (
	statusInitial uint32 = iota
	statusConnecting
	statusRunning
	statusClosed
)

// DefaultWatchdogInterval is the period of the worker liveness check.
const DefaultWatchdogInterval = 2 * time.Second

// Session is a DNP3 master talking to one outstation.
type Session struct {
	clog.Clog
	id     uuid.UUID
	option Option
	conn   io.ReadWriteCloser
	db     *database.Database

	link      *link.Layer
	transport *transport.Layer
	app       *app.Layer
	capture   *capture.Writer

	reqMu   sync.Mutex // one request in flight
	status  atomic.Uint32
	logMode atomic.Bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	watchdogInterval time.Duration

	hmu           sync.RWMutex
	onException   func(error)
	onIIN         func(app.IIN)
	onUnsolicited func(*app.Response)
}

// NewSession creates a session that dials the channel of the option's
// configuration on Init.
func NewSession(o *Option) (*Session, error) {
	return newSession(nil, o)
}

// NewSessionWithConn creates a session over an already open byte stream.
// The session owns conn and closes it on Stop.
func NewSessionWithConn(conn io.ReadWriteCloser, o *Option) (*Session, error) {
	if conn == nil {
		return nil, errors.New("nil connection")
	}
	return newSession(conn, o)
}

func newSession(conn io.ReadWriteCloser, o *Option) (*Session, error) {
	if o == nil {
		o = NewOption()
	}
	opt := *o
	if err := opt.config.Valid(); err != nil {
		return nil, err
	}
	db, err := database.New(opt.config.BufferSize)
	if err != nil {
		return nil, err
	}
	id := uuid.New()
	sf := &Session{
		Clog: clog.NewLogger(
			fmt.Sprintf("dnp3 master [%d->%d] => ", opt.config.MasterAddress, opt.config.RemoteAddress),
			zap.String("session", id.String()),
		),
		id:               id,
		option:           opt,
		conn:             conn,
		db:               db,
		watchdogInterval: DefaultWatchdogInterval,
		onException:      func(error) {},
		onIIN:            func(app.IIN) {},
		onUnsolicited:    func(*app.Response) {},
	}
	sf.ctx, sf.cancel = context.WithCancel(context.Background())
	return sf, nil
}

// ID returns the session identifier attached to every log line.
func (sf *Session) ID() uuid.UUID {
	return sf.id
}

// Database returns the point database fed by the session.
func (sf *Session) Database() *database.Database {
	return sf.db
}

// Config returns the applied configuration.
func (sf *Session) Config() Config {
	return sf.option.config
}

// SetLogMode enables or disables logging of the session and its layers.
func (sf *Session) SetLogMode(enable bool) {
	sf.logMode.Store(enable)
	sf.LogMode(enable)
}

// SetExceptionHandler is called with errors raised by the workers: link and
// confirm timeouts, invalid responses, connection loss and stopped workers.
func (sf *Session) SetExceptionHandler(f func(err error)) *Session {
	if f != nil {
		sf.hmu.Lock()
		sf.onException = f
		sf.hmu.Unlock()
	}
	return sf
}

// SetIINHandler is called for every response carrying internal indications.
func (sf *Session) SetIINHandler(f func(iin app.IIN)) *Session {
	if f != nil {
		sf.hmu.Lock()
		sf.onIIN = f
		sf.hmu.Unlock()
	}
	return sf
}

// SetUnsolicitedHandler is called for every unsolicited response after its
// points are stored.
func (sf *Session) SetUnsolicitedHandler(f func(rsp *app.Response)) *Session {
	if f != nil {
		sf.hmu.Lock()
		sf.onUnsolicited = f
		sf.hmu.Unlock()
	}
	return sf
}

func (sf *Session) report(err error) {
	sf.hmu.RLock()
	f := sf.onException
	sf.hmu.RUnlock()
	defer func() {
		if r := recover(); r != nil {
			sf.Critical("panic recovered in exception handler: %v", r)
		}
	}()
	f(err)
}

func (sf *Session) notifyIIN(iin app.IIN) {
	sf.hmu.RLock()
	f := sf.onIIN
	sf.hmu.RUnlock()
	f(iin)
}

func (sf *Session) notifyUnsolicited(rsp *app.Response) {
	sf.hmu.RLock()
	f := sf.onUnsolicited
	sf.hmu.RUnlock()
	f(rsp)
}

// Init opens the channel, starts the workers and resets the link of the
// outstation. The session is stopped again when any step fails.
func (sf *Session) Init(ctx context.Context) error {
	if !sf.status.CompareAndSwap(statusInitial, statusConnecting) {
		return ErrAlreadyStarted
	}
	cfg := &sf.option.config

	if sf.conn == nil {
		conn, err := sf.connect(ctx)
		if err != nil {
			sf.shutdown()
			return err
		}
		sf.conn = conn
	}
	if err := sf.build(); err != nil {
		sf.shutdown()
		return err
	}

	sf.link.Start(sf.ctx)
	sf.app.Start(sf.ctx)
	sf.wg.Add(3)
	go func() {
		defer sf.wg.Done()
		_ = sf.transport.Run(sf.ctx)
	}()
	go sf.monitor()
	go sf.watchdog()

	if err := sf.link.ResetLink(ctx, cfg.RemoteAddress); err != nil {
		sf.Error("reset link of %d failed: %v", cfg.RemoteAddress, err)
		sf.Stop()
		return fmt.Errorf("%w: %v", ErrResetLinkFailed, err)
	}
	if !sf.status.CompareAndSwap(statusConnecting, statusRunning) {
		return ErrUseClosedConnection
	}
	sf.Debug("session %s running", sf.id)
	return nil
}

// build stacks the layers on the open channel.
func (sf *Session) build() error {
	cfg := &sf.option.config
	lc, err := cfg.linkConfig()
	if err != nil {
		return err
	}
	if sf.link, err = link.NewLayer(sf.conn, lc); err != nil {
		return err
	}
	if sf.transport, err = transport.NewLayer(sf.link, sf.link.Received(), *cfg.transportConfig()); err != nil {
		return err
	}
	if sf.app, err = app.NewLayer(sf.transport, sf.transport.Fragments(), sf.db, *cfg.appConfig()); err != nil {
		return err
	}

	on := sf.logMode.Load()
	sf.link.SetLogMode(on)
	sf.transport.LogMode(on)
	sf.app.LogMode(on)

	sf.app.SetExceptionHandler(sf.report)
	sf.app.SetIINHandler(sf.notifyIIN)
	sf.app.SetUnsolicitedHandler(sf.notifyUnsolicited)

	if sf.option.capture != nil {
		if sf.capture, err = capture.NewWriter(sf.option.capture); err != nil {
			return err
		}
		sf.link.SetTap(func(raw []byte, rx bool) {
			if err := sf.capture.WriteFrame(raw, rx, time.Now()); err != nil {
				sf.Warn("capture: %v", err)
			}
		})
	}
	return nil
}

// monitor tears the session down when the link layer stops on its own.
func (sf *Session) monitor() {
	defer sf.wg.Done()
	select {
	case <-sf.ctx.Done():
		return
	case <-sf.link.Done():
	}
	if sf.ctx.Err() != nil {
		return
	}
	err := sf.link.Err()
	if err == nil {
		err = link.ErrClosed
	}
	sf.Error("link stopped: %v", err)
	sf.shutdown()
	sf.report(fmt.Errorf("%w: %v", ErrUseClosedConnection, err))
}

// shutdown cancels the workers and closes the channel without waiting.
func (sf *Session) shutdown() {
	sf.stopOnce.Do(func() {
		sf.status.Store(statusClosed)
		sf.cancel()
		if sf.conn != nil {
			_ = sf.conn.Close()
		}
		if sf.capture != nil {
			_ = sf.capture.Close()
		}
	})
}

// Stop terminates the workers and closes the channel. Frames in flight may
// be lost.
func (sf *Session) Stop() {
	sf.shutdown()
	if sf.link != nil {
		sf.link.Wait()
	}
	if sf.app != nil {
		sf.app.Wait()
	}
	sf.wg.Wait()
	sf.Debug("session %s stopped", sf.id)
}

// IsRunning reports whether Init succeeded and the session was not stopped.
func (sf *Session) IsRunning() bool {
	return sf.status.Load() == statusRunning
}

// SendSynch sends req and waits for the complete response, at most
// RequestTimeout. Calls are serialised; the points of the response are in
// the database when it returns.
func (sf *Session) SendSynch(ctx context.Context, req *app.Request) (*app.Response, error) {
	switch sf.status.Load() {
	case statusRunning:
	case statusClosed:
		return nil, ErrUseClosedConnection
	default:
		return nil, ErrNotActive
	}
	sf.reqMu.Lock()
	defer sf.reqMu.Unlock()

	timeout := sf.option.config.RequestTimeout
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	rsp, err := sf.app.Submit(tctx, req)
	switch {
	case err == nil:
		return rsp, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		err = fmt.Errorf("%w: %s after %v", ErrRequestTimeout, req.Function, timeout)
	case errors.Is(err, app.ErrClosed):
		err = fmt.Errorf("%w: %v", ErrUseClosedConnection, err)
	case errors.Is(err, link.ErrLinkTimeout):
		sf.report(err)
	}
	sf.Warn("%s failed: %v", req.Function, err)
	return rsp, err
}
