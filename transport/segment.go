// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package transport splits application fragments into link frame sized
// segments and reassembles them per remote station.
package transport

import (
	"errors"
	"fmt"

	"github.com/riclolsen/go-dnp3/clog"
	"github.com/riclolsen/go-dnp3/link"
)

// transport header bits
const (
	FIN     byte = 0x80
	FIR     byte = 0x40
	SeqMask byte = 0x3F

	// MaxPayload is the application octets carried by one segment.
	MaxPayload = link.MaxUserData - 1

	DefaultMaxFragmentSize = 2048
)

// reassembly errors
var (
	ErrEmptySegment     = errors.New("empty transport segment")
	ErrMissingFirst     = errors.New("segment without FIR outside a fragment")
	ErrSequence         = errors.New("transport sequence mismatch")
	ErrFragmentTooLarge = errors.New("fragment exceeds maximum size")
)

// Header is the single transport header octet.
type Header struct {
	FIN bool
	FIR bool
	Seq uint8
}

// ParseHeader decodes a transport header octet.
func ParseHeader(b byte) Header {
	return Header{FIN: b&FIN != 0, FIR: b&FIR != 0, Seq: b & SeqMask}
}

// Value encodes the header.
func (h Header) Value() byte {
	b := h.Seq & SeqMask
	if h.FIN {
		b |= FIN
	}
	if h.FIR {
		b |= FIR
	}
	return b
}

func (h Header) String() string {
	s := fmt.Sprintf("TH<seq=%d", h.Seq)
	if h.FIR {
		s += " FIR"
	}
	if h.FIN {
		s += " FIN"
	}
	return s + ">"
}

// Segment splits apdu into transport segments numbered from seq and returns
// them with the sequence number of the segment that would follow.
func Segment(apdu []byte, seq uint8) ([][]byte, uint8) {
	n := (len(apdu) + MaxPayload - 1) / MaxPayload
	if n == 0 {
		n = 1
	}
	segs := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		start := i * MaxPayload
		end := start + MaxPayload
		if end > len(apdu) {
			end = len(apdu)
		}
		h := Header{FIR: i == 0, FIN: i == n-1, Seq: seq & SeqMask}
		seg := make([]byte, 0, 1+end-start)
		seg = append(seg, h.Value())
		seg = append(seg, apdu[start:end]...)
		segs = append(segs, seg)
		seq = (seq + 1) & SeqMask
	}
	return segs, seq
}

// Reassembler rebuilds fragments of one remote station.
type Reassembler struct {
	clog.Clog
	strict bool
	max    int

	buf    []byte
	active bool
	next   uint8
}

// NewReassembler returns a reassembler. In strict mode an out of sequence
// segment aborts the fragment in progress; otherwise it is logged and
// accepted. max bounds the fragment size, 0 selects DefaultMaxFragmentSize.
func NewReassembler(strict bool, max int) *Reassembler {
	if max <= 0 {
		max = DefaultMaxFragmentSize
	}
	return &Reassembler{strict: strict, max: max}
}

// Pending reports whether a fragment is partially assembled.
func (sf *Reassembler) Pending() bool {
	return sf.active
}

func (sf *Reassembler) reset() {
	sf.active = false
	sf.buf = sf.buf[:0]
}

// Process consumes one segment and returns the complete fragment once the
// FIN segment arrives. A rejected segment yields an error; the reassembler
// stays usable.
func (sf *Reassembler) Process(tpdu []byte) ([]byte, error) {
	if len(tpdu) == 0 {
		return nil, ErrEmptySegment
	}
	h := ParseHeader(tpdu[0])

	switch {
	case h.FIR:
		if sf.active {
			sf.Warn("FIR segment %s discards %d buffered octets", h, len(sf.buf))
		}
		sf.buf = sf.buf[:0]
		sf.active = true
	case !sf.active:
		if sf.strict {
			return nil, fmt.Errorf("%w: %s", ErrMissingFirst, h)
		}
		sf.Warn("%v: %s, accepted", ErrMissingFirst, h)
		sf.active = true
	case h.Seq != sf.next:
		if sf.strict {
			sf.reset()
			return nil, fmt.Errorf("%w: got %d, want %d", ErrSequence, h.Seq, sf.next)
		}
		sf.Warn("%v: got %d, want %d, accepted", ErrSequence, h.Seq, sf.next)
	}

	if len(sf.buf)+len(tpdu)-1 > sf.max {
		sf.reset()
		return nil, fmt.Errorf("%w: %d octets", ErrFragmentTooLarge, sf.max)
	}
	sf.buf = append(sf.buf, tpdu[1:]...)
	sf.next = (h.Seq + 1) & SeqMask

	if !h.FIN {
		return nil, nil
	}
	out := make([]byte, len(sf.buf))
	copy(out, sf.buf)
	sf.reset()
	return out, nil
}
