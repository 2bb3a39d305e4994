// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package master

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/gopacket/pcapgo"
	"github.com/google/uuid"

	"github.com/riclolsen/go-dnp3/app"
	"github.com/riclolsen/go-dnp3/clog"
	"github.com/riclolsen/go-dnp3/link"
	"github.com/riclolsen/go-dnp3/object"
	"github.com/riclolsen/go-dnp3/transport"
)

const (
	masterAddr     = DefaultMasterAddress
	outstationAddr = DefaultRemoteAddress
)

// outstation simulates the far end of the channel: it acknowledges link
// services, reassembles requests and answers them through handler.
type outstation struct {
	conn net.Conn
	r    *link.Reader
	re   *transport.Reassembler

	wmu  sync.Mutex
	tseq uint8

	silentReset bool
	resets      atomic.Int32

	apdus    chan []byte
	requests chan []byte
	confirms chan []byte
	// FCB of every confirmed user data frame
	fcbs    chan bool
	handler func(o *outstation, req []byte)
}

func newOutstation(conn net.Conn, handler func(o *outstation, req []byte)) *outstation {
	return &outstation{
		conn:     conn,
		r:        link.NewReader(conn, clog.Clog{}),
		re:       transport.NewReassembler(true, 0),
		apdus:    make(chan []byte, 32),
		requests: make(chan []byte, 32),
		confirms: make(chan []byte, 32),
		fcbs:     make(chan bool, 64),
		handler:  handler,
	}
}

func (o *outstation) run() {
	go o.respond()
	defer close(o.apdus)
	for {
		f, err := o.r.ReadFrame()
		if f == nil {
			return
		}
		if err != nil || !f.Control.PRM {
			continue
		}
		switch f.Control.Fun {
		case link.PrimFcResetLink:
			o.resets.Add(1)
			if !o.silentReset {
				o.secondary(link.SecFcAck)
			}
		case link.PrimFcTestLink:
			o.secondary(link.SecFcAck)
		case link.PrimFcReqStatus:
			o.secondary(link.SecFcRespStatus)
		case link.PrimFcUserDataConf:
			select {
			case o.fcbs <- f.Control.FCB:
			default:
			}
			o.secondary(link.SecFcAck)
			o.segment(f.Data)
		case link.PrimFcUserDataNoCon:
			o.segment(f.Data)
		}
	}
}

func (o *outstation) segment(tpdu []byte) {
	apdu, err := o.re.Process(tpdu)
	if err != nil || apdu == nil {
		return
	}
	o.apdus <- append([]byte(nil), apdu...)
}

func (o *outstation) respond() {
	for apdu := range o.apdus {
		if len(apdu) < 2 {
			continue
		}
		if app.FunctionCode(apdu[1]) == app.FuncConfirm {
			o.confirms <- apdu
			continue
		}
		o.requests <- apdu
		if o.handler != nil {
			o.handler(o, apdu)
		}
	}
}

func (o *outstation) write(f *link.Frame) {
	raw, err := f.MarshalBinary()
	if err != nil {
		return
	}
	o.wmu.Lock()
	defer o.wmu.Unlock()
	_, _ = o.conn.Write(raw)
}

func (o *outstation) secondary(fun byte) {
	o.write(&link.Frame{
		Control:     link.ControlField{Fun: fun},
		Destination: masterAddr,
		Source:      outstationAddr,
	})
}

// send segments apdu into unconfirmed user data frames.
func (o *outstation) send(apdu []byte) {
	o.wmu.Lock()
	segs, next := transport.Segment(apdu, o.tseq)
	o.tseq = next
	o.wmu.Unlock()
	for _, seg := range segs {
		o.write(&link.Frame{
			Control:     link.ControlField{PRM: true, Fun: link.PrimFcUserDataNoCon},
			Destination: masterAddr,
			Source:      outstationAddr,
			Data:        seg,
		})
	}
}

// reply answers req with a single fragment.
func (o *outstation) reply(req []byte, iin1, iin2 byte, objects ...[]byte) {
	o.send(fragment(0xC0|req[0]&app.CtrlSeqMask, app.FuncResponse, iin1, iin2, objects...))
}

func fragment(ctrl byte, fc app.FunctionCode, iin1, iin2 byte, objects ...[]byte) []byte {
	apdu := []byte{ctrl, byte(fc), iin1, iin2}
	for _, obj := range objects {
		apdu = append(apdu, obj...)
	}
	return apdu
}

// analogs encodes g30v1 points start.. with qualifier 0x00 and flag online.
func analogs(start byte, values ...int32) []byte {
	b := []byte{30, 1, 0x00, start, start + byte(len(values)-1)}
	for _, v := range values {
		b = append(b, 0x01)
		b = binary.LittleEndian.AppendUint32(b, uint32(v))
	}
	return b
}

// echo answers control requests with their own objects.
func echo(o *outstation, req []byte) {
	o.reply(req, 0, 0, req[2:])
}

func readResponder(values ...int32) func(o *outstation, req []byte) {
	return func(o *outstation, req []byte) {
		if app.FunctionCode(req[1]) == app.FuncRead {
			o.reply(req, 0, 0, analogs(0, values...))
			return
		}
		o.reply(req, 0, 0)
	}
}

func newTestSession(t *testing.T, o *Option, handler func(o *outstation, req []byte)) (*Session, *outstation) {
	t.Helper()
	s, out, err := startSession(o, handler, false)
	if err != nil {
		t.Fatalf("Init() err=%v", err)
	}
	t.Cleanup(s.Stop)
	return s, out
}

func startSession(o *Option, handler func(o *outstation, req []byte), silentReset bool) (*Session, *outstation, error) {
	a, b := net.Pipe()
	if o == nil {
		o = NewOption()
	}
	s, err := NewSessionWithConn(a, o)
	if err != nil {
		return nil, nil, err
	}
	out := newOutstation(b, handler)
	out.silentReset = silentReset
	go out.run()
	if err := s.Init(context.Background()); err != nil {
		b.Close()
		return s, out, err
	}
	return s, out, nil
}

func nextAPDU(t *testing.T, c <-chan []byte) []byte {
	t.Helper()
	select {
	case apdu := <-c:
		return apdu
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for fragment")
		return nil
	}
}

func TestSessionIntegrity(t *testing.T) {
	s, out := newTestSession(t, nil, readResponder(100))
	if out.resets.Load() != 1 {
		t.Errorf("RESET_LINK sent %d times", out.resets.Load())
	}
	if !s.IsRunning() || s.ID() == uuid.Nil {
		t.Fatalf("running=%v id=%s", s.IsRunning(), s.ID())
	}

	rsp, err := s.Integrity(context.Background())
	if err != nil {
		t.Fatalf("Integrity() err=%v", err)
	}
	req := nextAPDU(t, out.requests)
	if app.FunctionCode(req[1]) != app.FuncRead || req[0]&0xC0 != 0xC0 {
		t.Errorf("request [% X]", req)
	}
	if len(rsp.Points) != 1 || rsp.Points[0].Value.Int != 100 {
		t.Fatalf("points = %v", rsp.Points)
	}
	p, ok := s.Database().ReadLast(object.ClassAnalogInput, 0)
	if !ok || p.Value.Int != 100 || !p.Quality.Online() {
		t.Errorf("database point = %v %v", p, ok)
	}
}

func TestSessionLargeResponse(t *testing.T) {
	values := make([]int32, 60)
	for i := range values {
		values[i] = int32(i * 10)
	}
	s, _ := newTestSession(t, nil, readResponder(values...))

	rsp, err := s.PollEvents(context.Background())
	if err != nil {
		t.Fatalf("PollEvents() err=%v", err)
	}
	if len(rsp.Points) != 60 {
		t.Fatalf("got %d points, want 60", len(rsp.Points))
	}
	if got := s.Database().Indexes(object.ClassAnalogInput); len(got) != 60 {
		t.Errorf("database holds %d indexes", len(got))
	}
	if p, _ := s.Database().ReadLast(object.ClassAnalogInput, 59); p.Value.Int != 590 {
		t.Errorf("point 59 = %v", p)
	}
}

func TestSessionMultiFragmentConfirms(t *testing.T) {
	s, out := newTestSession(t, nil, func(o *outstation, req []byte) {
		seq := req[0] & app.CtrlSeqMask
		o.send(fragment(0xA0|seq, app.FuncResponse, 0, 0, analogs(0, 1, 2)))
		o.send(fragment(0x60|(seq+1)&app.CtrlSeqMask, app.FuncResponse, 0, 0, analogs(2, 3, 4)))
	})

	rsp, err := s.SendSynch(context.Background(), app.ReadStaticData())
	if err != nil {
		t.Fatalf("SendSynch() err=%v", err)
	}
	if rsp.Fragments != 2 || len(rsp.Points) != 4 {
		t.Errorf("fragments=%d points=%d", rsp.Fragments, len(rsp.Points))
	}
	seq := nextAPDU(t, out.requests)[0] & app.CtrlSeqMask
	for i, want := range []byte{0xC0 | seq, 0xC0 | (seq+1)&app.CtrlSeqMask} {
		c := nextAPDU(t, out.confirms)
		if !bytes.Equal(c, []byte{want, 0x00}) {
			t.Errorf("confirm %d = [% X], want [%02X 00]", i, c, want)
		}
	}
}

func TestSessionRequestTimeout(t *testing.T) {
	var calls atomic.Int32
	o := NewOption().SetRequestTimeout(200 * time.Millisecond)
	s, _ := newTestSession(t, o, func(o *outstation, req []byte) {
		if calls.Add(1) == 1 {
			return
		}
		readResponder(7)(o, req)
	})

	start := time.Now()
	if _, err := s.Integrity(context.Background()); !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("Integrity() err=%v, want ErrRequestTimeout", err)
	}
	if d := time.Since(start); d < 200*time.Millisecond || d > 200*time.Millisecond+time.Second {
		t.Errorf("returned after %v, want about 200ms", d)
	}
	rsp, err := s.Integrity(context.Background())
	if err != nil {
		t.Fatalf("second Integrity() err=%v", err)
	}
	if len(rsp.Points) != 1 || rsp.Points[0].Value.Int != 7 {
		t.Errorf("points = %v", rsp.Points)
	}
}

func TestSessionConfirmModes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LinkConfirm = true
	cfg.AppConfirm = true
	s, out := newTestSession(t, NewOption().SetConfig(cfg), readResponder(9))

	const polls = 20
	for i := 0; i < polls; i++ {
		rsp, err := s.Integrity(context.Background())
		if err != nil {
			t.Fatalf("poll %d: Integrity() err=%v", i, err)
		}
		if len(rsp.Points) != 1 || rsp.Points[0].Value.Int != 9 {
			t.Fatalf("poll %d: points = %v", i, rsp.Points)
		}
	}

	wantFCB := true
	for i := 0; i < polls; i++ {
		req := nextAPDU(t, out.requests)
		c := app.ParseControl(req[0])
		if !c.CON {
			t.Errorf("request %d without CON: % X", i, req)
		}
		if want := uint8(i % 16); c.Seq != want {
			t.Errorf("request %d seq = %d, want %d", i, c.Seq, want)
		}
		select {
		case fcb := <-out.fcbs:
			if fcb != wantFCB {
				t.Errorf("frame %d FCB = %v, want %v", i, fcb, wantFCB)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d not sent as confirmed user data", i)
		}
		wantFCB = !wantFCB
	}
}

func TestSessionNotActive(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	s, err := NewSessionWithConn(a, nil)
	if err != nil {
		t.Fatalf("NewSessionWithConn() err=%v", err)
	}
	if _, err := s.Integrity(context.Background()); !errors.Is(err, ErrNotActive) {
		t.Errorf("Integrity() before Init err=%v, want ErrNotActive", err)
	}
	s.Stop()
	if _, err := s.Integrity(context.Background()); !errors.Is(err, ErrUseClosedConnection) {
		t.Errorf("Integrity() after Stop err=%v, want ErrUseClosedConnection", err)
	}
}

func TestSessionResetLinkFailed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LinkTimeout = 20 * time.Millisecond
	cfg.LinkMaxRetries = 1
	s, out, err := startSession(NewOption().SetConfig(cfg), nil, true)
	if !errors.Is(err, ErrResetLinkFailed) {
		t.Fatalf("Init() err=%v, want ErrResetLinkFailed", err)
	}
	if s.IsRunning() {
		t.Error("session running after failed Init")
	}
	if n := out.resets.Load(); n != 2 {
		t.Errorf("RESET_LINK sent %d times, want 2", n)
	}
	if _, err := s.Integrity(context.Background()); !errors.Is(err, ErrUseClosedConnection) {
		t.Errorf("Integrity() err=%v", err)
	}
}

func TestSessionOperate(t *testing.T) {
	s, out := newTestSession(t, nil, echo)
	crob := object.CROB{Code: object.CodeClose, Count: 1, OnTime: 100}

	if err := s.SelectOperateBinary(context.Background(), 3, crob); err != nil {
		t.Fatalf("SelectOperateBinary() err=%v", err)
	}
	sel, op := nextAPDU(t, out.requests), nextAPDU(t, out.requests)
	if app.FunctionCode(sel[1]) != app.FuncSelect || app.FunctionCode(op[1]) != app.FuncOperate {
		t.Errorf("functions %02X %02X", sel[1], op[1])
	}
	if !bytes.Equal(sel[2:], op[2:]) {
		t.Errorf("OPERATE objects [% X] differ from SELECT [% X]", op[2:], sel[2:])
	}

	if err := s.DirectOperateAnalog(context.Background(), 2, 1, 1234); err != nil {
		t.Fatalf("DirectOperateAnalog() err=%v", err)
	}
	req := nextAPDU(t, out.requests)
	if app.FunctionCode(req[1]) != app.FuncDirectOperate || req[2] != 41 || req[3] != 2 {
		t.Errorf("request [% X]", req)
	}
}

func TestSessionOperateRejected(t *testing.T) {
	s, _ := newTestSession(t, nil, func(o *outstation, req []byte) {
		objs := append([]byte(nil), req[2:]...)
		objs[len(objs)-1] = 4
		o.reply(req, 0, 0, objs)
	})
	err := s.DirectOperateBinary(context.Background(), 0, object.CROB{Code: object.CodeClose, Count: 1})
	if !errors.Is(err, ErrControlRejected) {
		t.Errorf("DirectOperateBinary() err=%v, want ErrControlRejected", err)
	}

	s2, _ := newTestSession(t, nil, func(o *outstation, req []byte) {
		o.reply(req, 0, 0x01)
	})
	err = s2.DirectOperateAnalog(context.Background(), 1, 0, 5)
	if !errors.Is(err, ErrControlRejected) {
		t.Errorf("DirectOperateAnalog() err=%v, want ErrControlRejected", err)
	}
}

func TestSessionSyncTime(t *testing.T) {
	s, out := newTestSession(t, nil, func(o *outstation, req []byte) {
		if app.FunctionCode(req[1]) == app.FuncDelayMeasure {
			o.reply(req, 0, 0, []byte{52, 2, 0x07, 0x01, 0x00, 0x00})
			return
		}
		o.reply(req, 0, 0)
	})

	before := time.Now()
	delay, err := s.SyncTime(context.Background())
	if err != nil {
		t.Fatalf("SyncTime() err=%v", err)
	}
	if delay < 0 || delay > time.Second {
		t.Errorf("delay = %v", delay)
	}
	nextAPDU(t, out.requests)
	w := nextAPDU(t, out.requests)
	if app.FunctionCode(w[1]) != app.FuncWrite || w[2] != 50 || w[3] != 1 {
		t.Fatalf("write [% X]", w)
	}
	ms := int64(w[6]) | int64(w[7])<<8 | int64(w[8])<<16 | int64(w[9])<<24 | int64(w[10])<<32 | int64(w[11])<<40
	if written := time.UnixMilli(ms); written.Before(before.Add(-time.Millisecond)) || written.After(time.Now().Add(time.Second)) {
		t.Errorf("written time %v", written)
	}
}

func TestSessionSyncTimeNoDelay(t *testing.T) {
	s, _ := newTestSession(t, nil, func(o *outstation, req []byte) { o.reply(req, 0, 0) })
	if _, err := s.SyncTime(context.Background()); !errors.Is(err, ErrNoTimeDelay) {
		t.Errorf("SyncTime() err=%v, want ErrNoTimeDelay", err)
	}
}

func TestSessionRestart(t *testing.T) {
	s, _ := newTestSession(t, nil, func(o *outstation, req []byte) {
		switch app.FunctionCode(req[1]) {
		case app.FuncColdRestart:
			o.reply(req, 0, 0, []byte{52, 1, 0x07, 0x01, 0x05, 0x00})
		case app.FuncWarmRestart:
			o.reply(req, 0, 0x01)
		default:
			o.reply(req, 0, 0)
		}
	})
	d, err := s.ColdRestart(context.Background())
	if err != nil || d != 5*time.Second {
		t.Errorf("ColdRestart() = %v, %v", d, err)
	}
	if _, err := s.WarmRestart(context.Background()); !errors.Is(err, ErrRequestRejected) {
		t.Errorf("WarmRestart() err=%v, want ErrRequestRejected", err)
	}
	if err := s.ClearRestartIIN(context.Background()); err != nil {
		t.Errorf("ClearRestartIIN() err=%v", err)
	}
	if err := s.EnableUnsolicited(context.Background(), 1, 2); err != nil {
		t.Errorf("EnableUnsolicited() err=%v", err)
	}
	if err := s.DisableUnsolicited(context.Background()); err != nil {
		t.Errorf("DisableUnsolicited() err=%v", err)
	}
	if err := s.FreezeCounters(context.Background()); err != nil {
		t.Errorf("FreezeCounters() err=%v", err)
	}
}

func TestSessionUnsolicited(t *testing.T) {
	s, out := newTestSession(t, nil, nil)
	got := make(chan *app.Response, 1)
	iins := make(chan app.IIN, 1)
	s.SetUnsolicitedHandler(func(rsp *app.Response) { got <- rsp }).
		SetIINHandler(func(iin app.IIN) { iins <- iin })

	out.send(fragment(0xF3, app.FuncUnsolicited, 0x80, 0x00, analogs(4, -5)))
	select {
	case rsp := <-got:
		if len(rsp.Points) != 1 || rsp.Points[0].Index != 4 || rsp.Points[0].Value.Int != -5 {
			t.Errorf("points = %v", rsp.Points)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unsolicited handler not called")
	}
	select {
	case iin := <-iins:
		if !iin.Has(app.IINDeviceRestart) {
			t.Errorf("IIN = %s", iin)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("IIN handler not called")
	}
	if c := nextAPDU(t, out.confirms); !bytes.Equal(c, []byte{0xD3, 0x00}) {
		t.Errorf("confirm [% X], want [D3 00]", c)
	}
	if p, ok := s.Database().ReadLast(object.ClassAnalogInput, 4); !ok || p.Value.Int != -5 {
		t.Errorf("database point = %v %v", p, ok)
	}
}

func TestSessionConnectionLost(t *testing.T) {
	s, out := newTestSession(t, nil, nil)
	errs := make(chan error, 4)
	s.SetExceptionHandler(func(err error) { errs <- err })

	out.conn.Close()
	timeout := time.After(2 * time.Second)
	for lost := false; !lost; {
		select {
		case err := <-errs:
			lost = errors.Is(err, ErrUseClosedConnection)
		case <-timeout:
			t.Fatal("connection loss not reported")
		}
	}
	if s.IsRunning() {
		t.Error("session still running")
	}
	if _, err := s.Integrity(context.Background()); !errors.Is(err, ErrUseClosedConnection) {
		t.Errorf("Integrity() err=%v", err)
	}
}

func TestSessionWorkers(t *testing.T) {
	s, _ := newTestSession(t, nil, nil)
	for name, ok := range s.Workers() {
		if !ok {
			t.Errorf("worker %s not running", name)
		}
	}
	if len(s.Workers()) != len(workerOrder) {
		t.Errorf("workers = %v", s.Workers())
	}
}

func TestSessionCapture(t *testing.T) {
	var buf bytes.Buffer
	s, _, err := startSession(NewOption().SetCapture(&buf), readResponder(1), false)
	if err != nil {
		t.Fatalf("Init() err=%v", err)
	}
	if _, err := s.Integrity(context.Background()); err != nil {
		t.Fatalf("Integrity() err=%v", err)
	}
	s.Stop()

	r, err := pcapgo.NewReader(&buf)
	if err != nil {
		t.Fatalf("pcapgo.NewReader() err=%v", err)
	}
	n := 0
	for {
		if _, _, err := r.ReadPacketData(); err != nil {
			break
		}
		n++
	}
	// RESET_LINK, ACK, request and response
	if n < 4 {
		t.Errorf("captured %d frames, want at least 4", n)
	}
}
