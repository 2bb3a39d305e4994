// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package object

import (
	"encoding/binary"
	"fmt"
	"math"
)

// field is one element of a byte-aligned object layout.
type field byte

const (
	fBit      field = iota // packed bit, no own octet
	fFlag                  // quality octet
	fFlagBit               // quality octet with the binary state in bit 7
	fU16                   // unsigned 16 bit value
	fU32                   // unsigned 32 bit value
	fI16                   // signed 16 bit value
	fI32                   // signed 32 bit value
	fF32                   // IEEE-754 single
	fF64                   // IEEE-754 double
	fTime48                // absolute time, ms since epoch
	fTime16                // time relative to the last CTO, ms
	fStatus                // control status octet
	fCROB                  // code, count, on-time, off-time (status is a separate field)
	fDelayS                // time delay, seconds
	fDelayMS               // time delay, ms
	fU8                    // unsigned 8 bit value, stored in Status
)

var fieldBits = [...]int{
	fBit:     1,
	fFlag:    8,
	fFlagBit: 8,
	fU16:     16,
	fU32:     32,
	fI16:     16,
	fI32:     32,
	fF32:     32,
	fF64:     64,
	fTime48:  48,
	fTime16:  16,
	fStatus:  8,
	fCROB:    80,
	fDelayS:  16,
	fDelayMS: 16,
	fU8:      8,
}

func layoutBits(fields []field) int {
	n := 0
	for _, f := range fields {
		n += fieldBits[f]
	}
	return n
}

func putUint48(b []byte, v uint64) {
	for i := 0; i < 6; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func uint48(b []byte) uint64 {
	var v uint64
	for i := 0; i < 6; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// decodeLayout fills a point from raw bytes following the layout.
func decodeLayout(fields []field, raw []byte) (Point, error) {
	var p Point
	p.Quality = QualityOnline
	off := 0
	need := func(n int) error {
		if off+n > len(raw) {
			return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortObject, n, off, len(raw))
		}
		return nil
	}
	for _, f := range fields {
		n := fieldBits[f] / 8
		if err := need(n); err != nil {
			return p, err
		}
		b := raw[off : off+n]
		switch f {
		case fBit:
			if err := need(1); err != nil {
				return p, err
			}
			p.Value = BoolValue(raw[0]&0x01 != 0)
		case fFlag:
			p.Quality = Quality(b[0])
		case fFlagBit:
			p.Quality = Quality(b[0]) &^ QualityState
			p.Value = BoolValue(b[0]&byte(QualityState) != 0)
		case fU16:
			p.Value = IntValue(int64(binary.LittleEndian.Uint16(b)))
		case fU32:
			p.Value = IntValue(int64(binary.LittleEndian.Uint32(b)))
		case fI16:
			p.Value = IntValue(int64(int16(binary.LittleEndian.Uint16(b))))
		case fI32:
			p.Value = IntValue(int64(int32(binary.LittleEndian.Uint32(b))))
		case fF32:
			p.Value = FloatValue(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case fF64:
			p.Value = DoubleValue(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		case fTime48:
			p.Timestamp = int64(uint48(b))
			p.DeviceTime = true
			if p.Value.Type == TypeNone {
				p.Value = IntValue(p.Timestamp)
			}
		case fTime16:
			p.Timestamp = int64(binary.LittleEndian.Uint16(b))
			p.DeviceTime = true
		case fStatus:
			p.Status = b[0]
			if p.Control != nil {
				p.Control.Status = b[0]
				p.Value = StatusValue(b[0])
			}
		case fCROB:
			p.Control = &CROB{
				Code:    b[0],
				Count:   b[1],
				OnTime:  binary.LittleEndian.Uint32(b[2:6]),
				OffTime: binary.LittleEndian.Uint32(b[6:10]),
			}
		case fDelayS:
			p.Value = IntValue(int64(binary.LittleEndian.Uint16(b)) * 1000)
		case fDelayMS:
			p.Value = IntValue(int64(binary.LittleEndian.Uint16(b)))
		case fU8:
			p.Status = b[0]
		}
		off += n
	}
	return p, nil
}

// encodeLayout is the inverse of decodeLayout.
func encodeLayout(fields []field, p Point) []byte {
	out := make([]byte, (layoutBits(fields)+7)/8)
	off := 0
	for _, f := range fields {
		n := fieldBits[f] / 8
		b := out[off : off+n]
		switch f {
		case fBit:
			if p.Value.Bool {
				out[0] = 0x01
			}
		case fFlag:
			b[0] = byte(p.Quality)
		case fFlagBit:
			b[0] = byte(p.Quality &^ QualityState)
			if p.Value.Bool {
				b[0] |= byte(QualityState)
			}
		case fU16, fI16:
			binary.LittleEndian.PutUint16(b, uint16(p.Value.Int))
		case fU32, fI32:
			binary.LittleEndian.PutUint32(b, uint32(p.Value.Int))
		case fF32:
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(p.Value.Float)))
		case fF64:
			binary.LittleEndian.PutUint64(b, math.Float64bits(p.Value.Float))
		case fTime48:
			putUint48(b, uint64(p.Timestamp))
		case fTime16:
			binary.LittleEndian.PutUint16(b, uint16(p.Timestamp))
		case fStatus:
			s := p.Status
			if p.Control != nil {
				s = p.Control.Status
			}
			b[0] = s
		case fCROB:
			var c CROB
			if p.Control != nil {
				c = *p.Control
			}
			b[0] = c.Code
			b[1] = c.Count
			binary.LittleEndian.PutUint32(b[2:6], c.OnTime)
			binary.LittleEndian.PutUint32(b[6:10], c.OffTime)
		case fDelayS:
			binary.LittleEndian.PutUint16(b, uint16(p.Value.Int/1000))
		case fDelayMS:
			binary.LittleEndian.PutUint16(b, uint16(p.Value.Int))
		case fU8:
			b[0] = p.Status
		}
		off += n
	}
	return out
}

// Decode decodes a single object instance. For packed bit-strings raw holds
// the bit in its least significant position.
func Decode(group, variation byte, raw []byte) (Point, error) {
	e, err := Lookup(group, variation)
	if err != nil {
		return Point{}, err
	}
	return e.Decode(raw)
}

// Encode encodes a single object instance. Packed bit-strings encode to one
// octet holding the bit in position 0; use PackBits to build the string.
func Encode(group, variation byte, p Point) ([]byte, error) {
	e, err := Lookup(group, variation)
	if err != nil {
		return nil, err
	}
	return e.Encode(p)
}
