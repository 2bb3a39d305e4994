// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/riclolsen/go-dnp3/clog"
	"github.com/riclolsen/go-dnp3/database"
	"github.com/riclolsen/go-dnp3/transport"
)

// Application layer defaults and ranges.
const (
	DefaultTimeout    = 2 * time.Second
	TimeoutMin        = 10 * time.Millisecond
	TimeoutMax        = 5 * time.Minute
	DefaultMaxRetries = 3
	MaxRetriesMax     = 255
)

// Sender transmits an application fragment to a remote station.
type Sender interface {
	Send(ctx context.Context, remote uint16, apdu []byte) error
}

// Config defines the application layer.
type Config struct {
	// Remote is the outstation link address requests go to.
	Remote uint16
	// Confirm sets CON on requests and waits for the outstation to confirm
	// or answer before the request counts as delivered.
	Confirm bool
	// Timeout waiting for that confirmation.
	Timeout time.Duration
	// MaxRetries is how many times an unconfirmed request is resent, 0 for
	// none.
	MaxRetries int
}

// Valid applies default values to zero fields and checks ranges.
func (sf *Config) Valid() error {
	if sf.Timeout == 0 {
		sf.Timeout = DefaultTimeout
	} else if sf.Timeout < TimeoutMin || sf.Timeout > TimeoutMax {
		return fmt.Errorf("app timeout %v outside [%v, %v]", sf.Timeout, TimeoutMin, TimeoutMax)
	}
	if sf.MaxRetries < 0 || sf.MaxRetries > MaxRetriesMax {
		return fmt.Errorf("app max retries %d outside [0, %d]", sf.MaxRetries, MaxRetriesMax)
	}
	return nil
}

// Handlers notified from the receive loop. A panicking handler is
// recovered and logged.
type (
	ExceptionHandler   func(err error)
	IINHandler         func(iin IIN)
	UnsolicitedHandler func(rsp *Response)
)

type pending struct {
	req *Request
	seq uint8
	acc *Response // fragments received so far, owned by the receive loop

	rsp *Response
	err error

	confirmOnce sync.Once
	confirmed   chan struct{}
	once        sync.Once
	done        chan struct{}
}

func newPending(req *Request) *pending {
	return &pending{req: req, confirmed: make(chan struct{}), done: make(chan struct{})}
}

func (sf *pending) confirm() {
	sf.confirmOnce.Do(func() { close(sf.confirmed) })
}

func (sf *pending) finish(rsp *Response, err error) {
	sf.once.Do(func() {
		sf.rsp, sf.err = rsp, err
		close(sf.done)
	})
}

type confirmation struct {
	apdu []byte
	sent chan struct{}
}

// Layer is the application layer of a master: a send loop scheduling
// requests and confirmations, and a receive loop parsing fragments into
// the point database.
type Layer struct {
	clog.Clog
	cfg    Config
	sender Sender
	in     <-chan transport.Fragment
	db     *database.Database

	requests chan *pending
	confirms chan confirmation

	mu      sync.Mutex
	current *pending
	seq     uint8

	hmu           sync.RWMutex
	onException   ExceptionHandler
	onIIN         IINHandler
	onUnsolicited UnsolicitedHandler

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	recvRunning atomic.Bool
	sendRunning atomic.Bool

	errMu sync.Mutex
	err   error
}

// NewLayer wires the application layer between a fragment sender, the
// channel of reassembled fragments and the point database.
func NewLayer(sender Sender, in <-chan transport.Fragment, db *database.Database, cfg Config) (*Layer, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	if db == nil {
		return nil, fmt.Errorf("nil database")
	}
	sf := &Layer{
		Clog:          clog.NewLogger(fmt.Sprintf("dnp3 app [%d] => ", cfg.Remote)),
		cfg:           cfg,
		sender:        sender,
		in:            in,
		db:            db,
		requests:      make(chan *pending),
		confirms:      make(chan confirmation, 4),
		seq:           CtrlSeqMask, // first request uses 0
		onException:   func(error) {},
		onIIN:         func(IIN) {},
		onUnsolicited: func(*Response) {},
	}
	sf.ctx, sf.cancel = context.WithCancel(context.Background())
	return sf, nil
}

// SetExceptionHandler is called with errors raised inside the loops.
func (sf *Layer) SetExceptionHandler(h ExceptionHandler) {
	if h != nil {
		sf.hmu.Lock()
		sf.onException = h
		sf.hmu.Unlock()
	}
}

// SetIINHandler is called for every response carrying a non-zero IIN.
func (sf *Layer) SetIINHandler(h IINHandler) {
	if h != nil {
		sf.hmu.Lock()
		sf.onIIN = h
		sf.hmu.Unlock()
	}
}

// SetUnsolicitedHandler is called with every unsolicited response after its
// points are stored.
func (sf *Layer) SetUnsolicitedHandler(h UnsolicitedHandler) {
	if h != nil {
		sf.hmu.Lock()
		sf.onUnsolicited = h
		sf.hmu.Unlock()
	}
}

// Start launches the send and receive loops.
func (sf *Layer) Start(ctx context.Context) {
	context.AfterFunc(ctx, sf.cancel)
	sf.wg.Add(2)
	go sf.recvLoop()
	go sf.sendLoop()
}

// Close stops both loops.
func (sf *Layer) Close() {
	sf.cancel()
}

// Wait blocks until both loops have returned.
func (sf *Layer) Wait() {
	sf.wg.Wait()
}

// Done is closed when the layer stops.
func (sf *Layer) Done() <-chan struct{} {
	return sf.ctx.Done()
}

// Err returns the reason the layer stopped, nil while running or after
// Close.
func (sf *Layer) Err() error {
	sf.errMu.Lock()
	defer sf.errMu.Unlock()
	return sf.err
}

func (sf *Layer) fail(err error) {
	sf.errMu.Lock()
	if sf.err == nil {
		sf.err = err
	}
	sf.errMu.Unlock()
	sf.cancel()
}

// Running reports whether the receive and send loops are alive.
func (sf *Layer) Running() (recv, send bool) {
	return sf.recvRunning.Load(), sf.sendRunning.Load()
}

// Submit queues req and blocks until its final response fragment, a
// request-level failure, ctx expiry or layer shutdown. Requests are sent
// one at a time in submission order.
func (sf *Layer) Submit(ctx context.Context, req *Request) (*Response, error) {
	p := newPending(req)
	select {
	case sf.requests <- p:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-sf.ctx.Done():
		return nil, ErrClosed
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		sf.release(p)
		p.finish(nil, ctx.Err())
	case <-sf.ctx.Done():
		p.finish(nil, ErrClosed)
	}
	return p.rsp, p.err
}

func (sf *Layer) nextSeq() uint8 {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.seq = (sf.seq + 1) & CtrlSeqMask
	return sf.seq
}

func (sf *Layer) inFlight() *pending {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.current
}

func (sf *Layer) track(p *pending) {
	sf.mu.Lock()
	sf.current = p
	sf.mu.Unlock()
}

// release forgets p if it is still the request in flight.
func (sf *Layer) release(p *pending) {
	sf.mu.Lock()
	if sf.current == p {
		sf.current = nil
	}
	sf.mu.Unlock()
}

func (sf *Layer) report(err error) {
	sf.Error("%v", err)
	sf.hmu.RLock()
	fn := sf.onException
	sf.hmu.RUnlock()
	sf.call("exception", func() { fn(err) })
}

func (sf *Layer) call(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			sf.Critical("panic recovered in %s handler: %v", name, r)
		}
	}()
	fn()
}

func (sf *Layer) transmit(apdu []byte) error {
	sf.Debug("TX %s [% X]", ParseControl(apdu[0]), apdu)
	return sf.sender.Send(sf.ctx, sf.cfg.Remote, apdu)
}

func (sf *Layer) sendConfirm(c confirmation) {
	if err := sf.transmit(c.apdu); err != nil {
		sf.report(fmt.Errorf("send confirm: %w", err))
	}
	close(c.sent)
}

func (sf *Layer) sendLoop() {
	sf.sendRunning.Store(true)
	sf.Debug("app send loop started")
	defer func() {
		sf.sendRunning.Store(false)
		sf.wg.Done()
		sf.Debug("app send loop stopped")
	}()

	for {
		// confirmations go before new requests
		select {
		case c := <-sf.confirms:
			sf.sendConfirm(c)
			continue
		default:
		}
		select {
		case <-sf.ctx.Done():
			return
		case c := <-sf.confirms:
			sf.sendConfirm(c)
		case p := <-sf.requests:
			sf.execute(p)
		}
	}
}

// execute sends one request and stays with it until it completes, sending
// confirmations and retries in the meantime.
func (sf *Layer) execute(p *pending) {
	p.seq = sf.nextSeq()
	apdu := p.req.Marshal(p.seq, sf.cfg.Confirm)
	sf.track(p)
	defer sf.release(p)

	if err := sf.transmit(apdu); err != nil {
		p.finish(nil, fmt.Errorf("send %s: %w", p.req.Function, err))
		return
	}
	if !p.req.ExpectsResponse() {
		p.finish(&Response{}, nil)
		return
	}

	var timeout <-chan time.Time
	var timer *time.Timer
	if sf.cfg.Confirm {
		timer = time.NewTimer(sf.cfg.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	retries := 0
	for {
		select {
		case <-sf.ctx.Done():
			p.finish(nil, ErrClosed)
			return
		case <-p.done:
			return
		case c := <-sf.confirms:
			sf.sendConfirm(c)
		case <-p.confirmed:
			timeout = nil
		case <-timeout:
			if retries >= sf.cfg.MaxRetries {
				err := fmt.Errorf("%w: %s seq %d after %d retries", ErrConfirmTimeout, p.req.Function, p.seq, retries)
				p.finish(nil, err)
				sf.report(err)
				return
			}
			retries++
			sf.Warn("no confirm for %s seq %d, resending (%d/%d)", p.req.Function, p.seq, retries, sf.cfg.MaxRetries)
			if err := sf.transmit(apdu); err != nil {
				p.finish(nil, fmt.Errorf("resend %s: %w", p.req.Function, err))
				return
			}
			timer.Reset(sf.cfg.Timeout)
		}
	}
}

func (sf *Layer) recvLoop() {
	sf.recvRunning.Store(true)
	sf.Debug("app recv loop started")
	defer func() {
		sf.recvRunning.Store(false)
		sf.cancel()
		sf.wg.Done()
		sf.Debug("app recv loop stopped")
	}()

	// a response to a new request must begin with FIR
	expectFirst := true
	for {
		select {
		case <-sf.ctx.Done():
			return
		case f, ok := <-sf.in:
			if !ok {
				sf.fail(ErrClosed)
				return
			}
			expectFirst = sf.handle(f, expectFirst)
		}
	}
}

// queueConfirm hands a confirmation for ctrl to the send loop. The
// returned channel is closed once it is on the wire.
func (sf *Layer) queueConfirm(ctrl Control) <-chan struct{} {
	ack := Control{FIR: true, FIN: true, UNS: ctrl.UNS, Seq: ctrl.Seq}
	c := confirmation{apdu: []byte{ack.Value(), byte(FuncConfirm)}, sent: make(chan struct{})}
	select {
	case sf.confirms <- c:
	case <-sf.ctx.Done():
		close(c.sent)
	}
	return c.sent
}

func (sf *Layer) handle(f transport.Fragment, expectFirst bool) bool {
	h, err := ParseHeader(f.Data)
	if err != nil {
		sf.report(fmt.Errorf("fragment from %d: %w", f.Source, err))
		return expectFirst
	}
	sf.Debug("RX %s [% X]", h, f.Data)

	if h.Function == FuncConfirm {
		p := sf.inFlight()
		if p == nil {
			sf.Warn("confirm seq %d received while none was pending", h.Control.Seq)
			return expectFirst
		}
		if !h.Control.FIR || !h.Control.FIN {
			sf.Warn("malformed confirm control %s", h.Control)
		}
		p.confirm()
		return expectFirst
	}
	if !h.Function.IsResponse() {
		sf.Warn("ignoring %s from %d", h.Function, f.Source)
		return expectFirst
	}

	var sent <-chan struct{}
	if h.Control.CON {
		sent = sf.queueConfirm(h.Control)
	}

	rsp, err := ParseResponse(f.Data, time.Now())
	rsp.Source = f.Source
	if err != nil {
		sf.report(fmt.Errorf("response from %d: %w", f.Source, err))
	}
	sf.store(rsp)
	if rsp.IIN != 0 {
		sf.Debug("%s", rsp.IIN)
		sf.hmu.RLock()
		fn := sf.onIIN
		sf.hmu.RUnlock()
		sf.call("IIN", func() { fn(rsp.IIN) })
	}

	if h.Control.UNS || h.Function == FuncUnsolicited {
		sf.hmu.RLock()
		fn := sf.onUnsolicited
		sf.hmu.RUnlock()
		sf.call("unsolicited", func() { fn(rsp) })
		return expectFirst
	}

	p := sf.inFlight()
	if p == nil {
		sf.Warn("response seq %d received with no request pending", h.Control.Seq)
		return true
	}
	if expectFirst && !h.Control.FIR {
		sf.Warn("first fragment of response lacks FIR")
	}
	if h.Control.FIR && h.Control.Seq != p.seq {
		sf.Warn("response seq %d does not match request seq %d", h.Control.Seq, p.seq)
	}
	p.confirm()
	if p.acc == nil {
		p.acc = rsp
	} else {
		p.acc.merge(rsp)
	}

	if !h.Control.FIN {
		return false
	}
	if sent != nil {
		select {
		case <-sent:
		case <-sf.ctx.Done():
		}
	}
	sf.release(p)
	p.finish(p.acc, nil)
	return true
}

func (sf *Layer) store(rsp *Response) {
	for _, pt := range rsp.Points {
		if err := sf.db.Write(pt); err != nil {
			sf.Warn("database write %s: %v", pt, err)
		}
	}
}
