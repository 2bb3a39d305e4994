// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package transport

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/riclolsen/go-dnp3/link"
)

func payload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i * 7)
	}
	return p
}

func TestHeader(t *testing.T) {
	for b := 0; b < 256; b++ {
		if got := ParseHeader(byte(b)).Value(); got != byte(b) {
			t.Fatalf("ParseHeader(0x%02X).Value() = 0x%02X", b, got)
		}
	}
	h := ParseHeader(0xC5)
	if !h.FIN || !h.FIR || h.Seq != 5 {
		t.Errorf("ParseHeader(0xC5) = %+v", h)
	}
}

func TestSegmentReassemble(t *testing.T) {
	for _, n := range []int{1, 10, MaxPayload - 1, MaxPayload, MaxPayload + 1, 2 * MaxPayload, 300, 2048} {
		apdu := payload(n)
		segs, next := Segment(apdu, 62)
		wantSegs := (n + MaxPayload - 1) / MaxPayload
		if len(segs) != wantSegs {
			t.Fatalf("n=%d: %d segments, want %d", n, len(segs), wantSegs)
		}
		if want := uint8((62 + wantSegs) % 64); next != want {
			t.Errorf("n=%d: next seq %d, want %d", n, next, want)
		}
		for i, seg := range segs {
			if len(seg) > link.MaxUserData {
				t.Errorf("n=%d: segment %d is %d octets", n, i, len(seg))
			}
			h := ParseHeader(seg[0])
			if h.FIR != (i == 0) || h.FIN != (i == len(segs)-1) {
				t.Errorf("n=%d: segment %d header %s", n, i, h)
			}
			if want := uint8((62 + i) % 64); h.Seq != want {
				t.Errorf("n=%d: segment %d seq %d, want %d", n, i, h.Seq, want)
			}
		}

		r := NewReassembler(true, 4096)
		var got []byte
		for i, seg := range segs {
			frag, err := r.Process(seg)
			if err != nil {
				t.Fatalf("n=%d: Process(%d) err=%v", n, i, err)
			}
			if i < len(segs)-1 && frag != nil {
				t.Fatalf("n=%d: fragment released before FIN", n)
			}
			got = frag
		}
		if !bytes.Equal(got, apdu) {
			t.Errorf("n=%d: reassembled %d octets differ", n, len(got))
		}
		if r.Pending() {
			t.Errorf("n=%d: reassembler still pending", n)
		}
	}
}

func TestSequenceWraps(t *testing.T) {
	seq := uint8(0)
	for i := 0; i < 130; i++ {
		segs, next := Segment([]byte{1}, seq)
		if ParseHeader(segs[0][0]).Seq != seq%64 {
			t.Fatalf("segment %d seq %d", i, ParseHeader(segs[0][0]).Seq)
		}
		if next != (seq+1)%64 {
			t.Fatalf("next after %d = %d", seq, next)
		}
		seq = next
	}
}

func TestStrictReassembly(t *testing.T) {
	r := NewReassembler(true, 0)

	if _, err := r.Process(nil); !errors.Is(err, ErrEmptySegment) {
		t.Errorf("Process(nil) err=%v", err)
	}
	if _, err := r.Process([]byte{0x05, 1}); !errors.Is(err, ErrMissingFirst) {
		t.Errorf("Process(no FIR) err=%v, want %v", err, ErrMissingFirst)
	}

	if _, err := r.Process([]byte{0x40 | 3, 1, 2}); err != nil {
		t.Fatalf("Process(FIR) err=%v", err)
	}
	if _, err := r.Process([]byte{0x80 | 5, 3}); !errors.Is(err, ErrSequence) {
		t.Fatalf("Process(gap) err=%v, want %v", err, ErrSequence)
	}
	if r.Pending() {
		t.Fatal("fragment kept after sequence error")
	}

	// a new FIR restarts cleanly
	r.Process([]byte{0x40 | 10, 1})
	frag, err := r.Process([]byte{0x80 | 11, 2})
	if err != nil || !bytes.Equal(frag, []byte{1, 2}) {
		t.Fatalf("Process() = [% X], %v", frag, err)
	}
}

func TestFIRRestartsFragment(t *testing.T) {
	r := NewReassembler(true, 0)
	r.Process([]byte{0x40 | 1, 0xAA})
	frag, err := r.Process([]byte{0xC0 | 7, 0xBB})
	if err != nil || !bytes.Equal(frag, []byte{0xBB}) {
		t.Fatalf("Process() = [% X], %v; want only the new fragment", frag, err)
	}
}

func TestLenientReassembly(t *testing.T) {
	r := NewReassembler(false, 0)
	r.Process([]byte{0x40 | 3, 1})
	frag, err := r.Process([]byte{0x80 | 9, 2})
	if err != nil || !bytes.Equal(frag, []byte{1, 2}) {
		t.Fatalf("Process(gap) = [% X], %v", frag, err)
	}
	frag, err = r.Process([]byte{0x80 | 12, 3})
	if err != nil || !bytes.Equal(frag, []byte{3}) {
		t.Fatalf("Process(no FIR) = [% X], %v", frag, err)
	}
}

func TestFragmentTooLarge(t *testing.T) {
	r := NewReassembler(true, 300)
	segs, _ := Segment(payload(400), 0)
	var err error
	for _, seg := range segs {
		if _, err = r.Process(seg); err != nil {
			break
		}
	}
	if !errors.Is(err, ErrFragmentTooLarge) {
		t.Fatalf("err=%v, want %v", err, ErrFragmentTooLarge)
	}
}

type recorder struct {
	mu   sync.Mutex
	segs [][]byte
}

func (sf *recorder) Send(_ context.Context, remote uint16, data []byte) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.segs = append(sf.segs, append([]byte(nil), data...))
	return nil
}

func TestLayer(t *testing.T) {
	in := make(chan link.UserData, 8)
	rec := &recorder{}
	l, err := NewLayer(rec, in, Config{})
	if err != nil {
		t.Fatalf("NewLayer() err=%v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	apdu := payload(600)
	if err := l.Send(ctx, 1024, apdu); err != nil {
		t.Fatalf("Send() err=%v", err)
	}
	if err := l.Send(ctx, 1024, []byte{1}); err != nil {
		t.Fatalf("Send() err=%v", err)
	}
	if len(rec.segs) != 4 {
		t.Fatalf("sent %d segments, want 4", len(rec.segs))
	}
	if h := ParseHeader(rec.segs[3][0]); h.Seq != 3 || !h.FIR || !h.FIN {
		t.Errorf("fourth segment header %s", h)
	}

	// interleave two stations
	a, _ := Segment(payload(300), 0)
	b, _ := Segment([]byte{9, 9}, 40)
	in <- link.UserData{Source: 10, Data: a[0]}
	in <- link.UserData{Source: 20, Data: b[0]}
	in <- link.UserData{Source: 10, Data: a[1]}

	for _, want := range []struct {
		src uint16
		n   int
	}{{20, 2}, {10, 300}} {
		select {
		case f := <-l.Fragments():
			if f.Source != want.src || len(f.Data) != want.n {
				t.Errorf("fragment from %d with %d octets, want %d/%d", f.Source, len(f.Data), want.src, want.n)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no fragment")
		}
	}
	if !l.Running() {
		t.Error("Running() = false")
	}

	cancel()
	<-done
	if _, ok := <-l.Fragments(); ok {
		t.Error("Fragments() not closed after Run returned")
	}
}
