// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package link

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/riclolsen/go-dnp3/clog"
)

// UserData is the payload of an accepted primary frame.
type UserData struct {
	Source uint16
	Data   []byte
}

// Tap observes every frame written or read, rx is true for received frames.
type Tap func(raw []byte, rx bool)

type txResult struct {
	rsp *Frame
	err error
}

type txRequest struct {
	remote uint16
	fun    byte
	data   []byte
	done   chan txResult
}

// Layer is the link layer of a master. It is primary for the requests it
// sends and secondary for the frames outstations initiate.
//
// The receive loop only stops when the underlying stream returns an error,
// so the owner must close the stream to shut the layer down.
type Layer struct {
	clog.Clog
	cfg      Config
	rw       io.ReadWriter
	reader   *Reader
	stations *stations
	tap      Tap

	wmu       sync.Mutex // serialises writes of both loops
	tx        chan *txRequest
	secondary chan *Frame
	up        chan UserData

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	recvRunning atomic.Bool
	sendRunning atomic.Bool

	errMu sync.Mutex
	err   error
}

// NewLayer creates a link layer over rw.
func NewLayer(rw io.ReadWriter, cfg Config) (*Layer, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	cfg.Remotes = append([]uint16(nil), cfg.Remotes...)
	sf := &Layer{
		Clog:      clog.NewLogger(fmt.Sprintf("dnp3 link [%d] => ", cfg.Address)),
		cfg:       cfg,
		rw:        rw,
		stations:  newStations(cfg.Remotes),
		tx:        make(chan *txRequest),
		secondary: make(chan *Frame, 4),
		up:        make(chan UserData, cfg.QueueSize),
	}
	sf.reader = NewReader(rw, sf.Clog)
	sf.ctx, sf.cancel = context.WithCancel(context.Background())
	return sf, nil
}

// SetLogMode enables or disables log output of the layer and its reader.
func (sf *Layer) SetLogMode(enable bool) {
	sf.LogMode(enable)
	sf.reader.Clog = sf.Clog
}

// SetTap installs a frame observer. Call it before Start.
func (sf *Layer) SetTap(t Tap) {
	sf.tap = t
}

// Start launches the receive and send loops. Cancelling ctx stops the send
// loop and fails pending requests.
func (sf *Layer) Start(ctx context.Context) {
	context.AfterFunc(ctx, sf.cancel)
	sf.wg.Add(2)
	go sf.recvLoop()
	go sf.sendLoop()
}

// Close stops the send loop. The receive loop ends once the stream is closed.
func (sf *Layer) Close() {
	sf.cancel()
}

// Wait blocks until both loops have returned.
func (sf *Layer) Wait() {
	sf.wg.Wait()
}

// Done is closed when the layer stops for any reason.
func (sf *Layer) Done() <-chan struct{} {
	return sf.ctx.Done()
}

// Err returns the error that terminated the layer, if any.
func (sf *Layer) Err() error {
	sf.errMu.Lock()
	defer sf.errMu.Unlock()
	return sf.err
}

// Running reports whether the receive and send loops are alive.
func (sf *Layer) Running() (recv, send bool) {
	return sf.recvRunning.Load(), sf.sendRunning.Load()
}

// Received delivers user data of accepted primary frames in arrival order.
func (sf *Layer) Received() <-chan UserData {
	return sf.up
}

// Station returns a copy of the link state kept for addr.
func (sf *Layer) Station(addr uint16) (StationState, bool) {
	return sf.stations.get(addr)
}

func (sf *Layer) fail(err error) {
	sf.errMu.Lock()
	if sf.err == nil {
		sf.err = err
	}
	sf.errMu.Unlock()
	sf.cancel()
}

// ResetLink sends RESET_LINK_STATES and waits for the ACK.
func (sf *Layer) ResetLink(ctx context.Context, remote uint16) error {
	_, err := sf.submit(ctx, remote, PrimFcResetLink, nil)
	return err
}

// TestLink sends TEST_LINK_STATES and waits for the ACK.
func (sf *Layer) TestLink(ctx context.Context, remote uint16) error {
	_, err := sf.submit(ctx, remote, PrimFcTestLink, nil)
	return err
}

// RequestLinkStatus asks the remote for its link status and returns its DFC bit.
func (sf *Layer) RequestLinkStatus(ctx context.Context, remote uint16) (bool, error) {
	rsp, err := sf.submit(ctx, remote, PrimFcReqStatus, nil)
	if err != nil {
		return false, err
	}
	return rsp.Control.DFC, nil
}

// Send transmits one transport segment as user data, confirmed when the
// layer is configured for link confirmation.
func (sf *Layer) Send(ctx context.Context, remote uint16, data []byte) error {
	if len(data) > MaxUserData {
		return fmt.Errorf("%w: %d octets", ErrFrameTooLong, len(data))
	}
	fun := PrimFcUserDataNoCon
	if sf.cfg.Confirm {
		fun = PrimFcUserDataConf
	}
	_, err := sf.submit(ctx, remote, fun, data)
	return err
}

func (sf *Layer) submit(ctx context.Context, remote uint16, fun byte, data []byte) (*Frame, error) {
	req := &txRequest{remote: remote, fun: fun, data: data, done: make(chan txResult, 1)}
	select {
	case sf.tx <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-sf.ctx.Done():
		return nil, ErrClosed
	}
	select {
	case res := <-req.done:
		return res.rsp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-sf.ctx.Done():
		return nil, ErrClosed
	}
}

func (sf *Layer) write(f *Frame) error {
	raw, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	sf.Debug("TX %s [% X]", f, raw)
	if sf.tap != nil {
		sf.tap(raw, false)
	}
	sf.wmu.Lock()
	_, err = sf.rw.Write(raw)
	sf.wmu.Unlock()
	if err != nil {
		err = fmt.Errorf("write: %w", err)
		sf.fail(err)
	}
	return err
}

// reply sends a secondary frame to remote.
func (sf *Layer) reply(remote uint16, fun byte, dfc bool) {
	f := &Frame{
		Control:     ControlField{DIR: true, DFC: dfc, Fun: fun},
		Destination: remote,
		Source:      sf.cfg.Address,
	}
	if err := sf.write(f); err != nil {
		sf.Error("failed to send %s to %d: %v", secondaryName(fun), remote, err)
	}
}

func (sf *Layer) recvLoop() {
	sf.recvRunning.Store(true)
	sf.Debug("link recv loop started")
	defer func() {
		sf.recvRunning.Store(false)
		sf.cancel()
		sf.wg.Done()
		sf.Debug("link recv loop stopped")
	}()

	for {
		f, err := sf.reader.ReadFrame()
		if f == nil {
			if sf.ctx.Err() == nil {
				sf.Error("read failed: %v", err)
			}
			sf.fail(fmt.Errorf("read: %w", err))
			return
		}
		if sf.tap != nil {
			sf.tap(f.Raw(), true)
		}
		sf.Debug("RX %s [% X]", f, f.Raw())
		if err != nil {
			sf.Warn("%v", err)
		}
		sf.dispatch(f)
	}
}

func (sf *Layer) dispatch(f *Frame) {
	if f.Control.DIR {
		sf.Warn("ignoring frame sent by a master: %s", f)
		return
	}
	if f.Destination != sf.cfg.Address {
		sf.Warn("%v: frame for %d, local address %d", ErrAddressMismatch, f.Destination, sf.cfg.Address)
		return
	}
	if f.Source == BroadcastAddress || !sf.stations.known(f.Source) {
		sf.Warn("%v: unknown source %d", ErrAddressMismatch, f.Source)
		return
	}

	if !f.Control.PRM {
		select {
		case sf.secondary <- f:
		default:
			sf.Warn("dropping unexpected %s from %d", f.Control, f.Source)
		}
		return
	}
	sf.handlePrimary(f)
}

// handlePrimary answers frames the outstation initiates.
func (sf *Layer) handlePrimary(f *Frame) {
	cf := f.Control
	if f.Errored {
		if cf.Fun != PrimFcUserDataNoCon {
			sf.reply(f.Source, SecFcNack, false)
		}
		return
	}

	switch cf.Fun {
	case PrimFcResetLink:
		sf.Debug("link reset by station %d", f.Source)
		sf.stations.resetRecv(f.Source)
		sf.reply(f.Source, SecFcAck, false)
	case PrimFcResetUser:
		sf.reply(f.Source, SecFcAck, false)
	case PrimFcTestLink:
		if !sf.stations.accept(f.Source, cf) {
			sf.Debug("repeated TEST_LINK from %d", f.Source)
		}
		sf.reply(f.Source, SecFcAck, false)
	case PrimFcUserDataConf:
		if !sf.stations.accept(f.Source, cf) {
			sf.Warn("duplicate frame from %d (FCB=%d) dropped", f.Source, b2i(cf.FCB))
			sf.reply(f.Source, SecFcAck, false)
			return
		}
		sf.reply(f.Source, SecFcAck, false)
		sf.deliver(f)
	case PrimFcUserDataNoCon:
		sf.deliver(f)
	case PrimFcReqStatus:
		sf.reply(f.Source, SecFcRespStatus, len(sf.up) == cap(sf.up))
	default:
		sf.Warn("unsupported link function %d from %d", cf.Fun, f.Source)
		sf.reply(f.Source, SecFcNotSupported, false)
	}
}

func (sf *Layer) deliver(f *Frame) {
	if len(f.Data) == 0 {
		return
	}
	select {
	case sf.up <- UserData{Source: f.Source, Data: f.Data}:
	case <-sf.ctx.Done():
	}
}

func (sf *Layer) sendLoop() {
	sf.sendRunning.Store(true)
	sf.Debug("link send loop started")
	defer func() {
		sf.sendRunning.Store(false)
		sf.wg.Done()
		sf.Debug("link send loop stopped")
	}()

	for {
		select {
		case <-sf.ctx.Done():
			return
		case req := <-sf.tx:
			rsp, err := sf.transact(req)
			req.done <- txResult{rsp: rsp, err: err}
		}
	}
}

func (sf *Layer) transact(req *txRequest) (*Frame, error) {
	st, ok := sf.stations.get(req.remote)
	if !ok {
		return nil, fmt.Errorf("%w: unknown remote %d", ErrAddressMismatch, req.remote)
	}
	f := &Frame{
		Control:     ControlField{DIR: true, PRM: true, Fun: req.fun},
		Destination: req.remote,
		Source:      sf.cfg.Address,
		Data:        req.data,
	}
	if req.remote == BroadcastAddress {
		// nobody answers a broadcast
		if f.Control.Fun == PrimFcUserDataConf {
			f.Control.Fun = PrimFcUserDataNoCon
		}
		return nil, sf.write(f)
	}
	switch f.Control.Fun {
	case PrimFcUserDataNoCon:
		return nil, sf.write(f)
	case PrimFcUserDataConf, PrimFcTestLink:
		f.Control.FCV = true
		f.Control.FCB = st.SendFCB
	}
	sf.stations.update(req.remote, func(st *StationState) { st.Last = f })

	rsp, err := sf.exchange(f)
	if err != nil {
		return nil, err
	}
	sf.stations.update(req.remote, func(st *StationState) {
		switch f.Control.Fun {
		case PrimFcResetLink:
			st.Reset = true
			st.SendFCB = true
		case PrimFcUserDataConf, PrimFcTestLink:
			st.SendFCB = !st.SendFCB
		}
	})
	return rsp, nil
}

func expectedReply(fun byte) byte {
	if fun == PrimFcReqStatus {
		return SecFcRespStatus
	}
	return SecFcAck
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (sf *Layer) drainSecondary() {
	for {
		select {
		case f := <-sf.secondary:
			sf.Debug("discarding stale %s from %d", f.Control, f.Source)
		default:
			return
		}
	}
}

// exchange sends f and resends the same frame until the expected secondary
// reply arrives or the retries run out.
func (sf *Layer) exchange(f *Frame) (*Frame, error) {
	want := expectedReply(f.Control.Fun)
	timer := time.NewTimer(sf.cfg.Timeout)
	defer timer.Stop()

	for attempt := 0; attempt <= sf.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			sf.Warn("resending %s to %d (retry %d/%d)", primaryName(f.Control.Fun), f.Destination, attempt, sf.cfg.MaxRetries)
		}
		sf.drainSecondary()
		if err := sf.write(f); err != nil {
			return nil, err
		}
		resetTimer(timer, sf.cfg.Timeout)
		rsp, err := sf.awaitReply(f, want, timer)
		if err != nil {
			return nil, err
		}
		if rsp != nil {
			return rsp, nil
		}
	}
	sf.Error("no confirm of %s from %d", primaryName(f.Control.Fun), f.Destination)
	return nil, fmt.Errorf("%w: %s to %d after %d retries", ErrLinkTimeout, primaryName(f.Control.Fun), f.Destination, sf.cfg.MaxRetries)
}

// awaitReply returns a nil frame and nil error when f must be sent again.
func (sf *Layer) awaitReply(f *Frame, want byte, timer *time.Timer) (*Frame, error) {
	for {
		select {
		case <-sf.ctx.Done():
			return nil, ErrClosed
		case <-timer.C:
			sf.Warn("timeout waiting for reply to %s from %d", primaryName(f.Control.Fun), f.Destination)
			return nil, nil
		case rsp := <-sf.secondary:
			if rsp.Source != f.Destination {
				sf.Warn("ignoring %s from %d while waiting on %d", rsp.Control, rsp.Source, f.Destination)
				continue
			}
			if rsp.Errored {
				sf.Warn("corrupted reply from %d, backing off", rsp.Source)
				sf.waitFlow(f.Destination)
				return nil, nil
			}
			switch rsp.Control.Fun {
			case want:
				if rsp.Control.DFC && want != SecFcRespStatus {
					sf.waitFlow(f.Destination)
				}
				return rsp, nil
			case SecFcNack:
				sf.Warn("NACK from %d for %s", rsp.Source, primaryName(f.Control.Fun))
				if rsp.Control.DFC {
					sf.waitFlow(f.Destination)
				}
				return nil, nil
			case SecFcNotSupported:
				return nil, fmt.Errorf("%w: %s", ErrNotSupported, primaryName(f.Control.Fun))
			default:
				sf.Warn("unexpected %s from %d", rsp.Control, rsp.Source)
			}
		}
	}
}

// waitFlow backs off while the remote reports data flow control, probing it
// with REQUEST_LINK_STATUS after every pause.
func (sf *Layer) waitFlow(remote uint16) {
	sf.Warn("station %d signals data flow control", remote)
	for i := 0; i <= sf.cfg.MaxRetries; i++ {
		select {
		case <-sf.ctx.Done():
			return
		case <-time.After(sf.cfg.DFCBackoff):
		}
		dfc, err := sf.probe(remote)
		if err == nil && !dfc {
			return
		}
	}
	sf.Warn("station %d still busy after %d probes", remote, sf.cfg.MaxRetries+1)
}

func (sf *Layer) probe(remote uint16) (bool, error) {
	f := &Frame{
		Control:     ControlField{DIR: true, PRM: true, Fun: PrimFcReqStatus},
		Destination: remote,
		Source:      sf.cfg.Address,
	}
	sf.drainSecondary()
	if err := sf.write(f); err != nil {
		return false, err
	}
	timer := time.NewTimer(sf.cfg.Timeout)
	defer timer.Stop()
	for {
		select {
		case <-sf.ctx.Done():
			return false, ErrClosed
		case <-timer.C:
			return false, ErrLinkTimeout
		case rsp := <-sf.secondary:
			if rsp.Source == remote && !rsp.Errored && rsp.Control.Fun == SecFcRespStatus {
				return rsp.Control.DFC, nil
			}
		}
	}
}
