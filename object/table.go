// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package object holds the IEEE 1815 object library: the group/variation
// table with bit lengths, and the codec that maps wire layouts to Points.
package object

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnsupportedObject = errors.New("unsupported object")
	ErrNoCodec           = errors.New("object has no codec")
	ErrShortObject       = errors.New("object data too short")
)

// Entry describes one group/variation of the object library.
type Entry struct {
	Group     byte
	Variation byte
	// Bits is the size of one instance on the wire, 0 for header-only objects.
	Bits   int
	Name   string
	fields []field
	// sizeOnly entries are known by length but not decoded.
	sizeOnly bool
}

// IsBitString reports whether instances are packed below octet boundary.
func (e Entry) IsBitString() bool {
	return e.Bits > 0 && e.Bits < 8
}

// HasCodec reports whether the entry can be decoded and encoded.
func (e Entry) HasCodec() bool {
	return !e.sizeOnly
}

// HasFlags reports whether instances carry a quality octet.
func (e Entry) HasFlags() bool {
	for _, f := range e.fields {
		if f == fFlag || f == fFlagBit {
			return true
		}
	}
	return false
}

// RelativeTime reports whether the timestamp is relative to a CTO object.
func (e Entry) RelativeTime() bool {
	for _, f := range e.fields {
		if f == fTime16 {
			return true
		}
	}
	return false
}

// Size returns the number of octets occupied by count instances packed
// back to back.
func (e Entry) Size(count int) int {
	return (count*e.Bits + 7) / 8
}

// Decode decodes one instance.
func (e Entry) Decode(raw []byte) (Point, error) {
	if e.sizeOnly {
		return Point{}, fmt.Errorf("%w: g%dv%d", ErrNoCodec, e.Group, e.Variation)
	}
	p, err := decodeLayout(e.fields, raw)
	if err != nil {
		return Point{}, fmt.Errorf("g%dv%d: %w", e.Group, e.Variation, err)
	}
	p.Group = e.Group
	p.Variation = e.Variation
	p.Class = ClassOf(e.Group)
	return p, nil
}

// Encode encodes one instance.
func (e Entry) Encode(p Point) ([]byte, error) {
	if e.sizeOnly {
		return nil, fmt.Errorf("%w: g%dv%d", ErrNoCodec, e.Group, e.Variation)
	}
	return encodeLayout(e.fields, p), nil
}

func (e Entry) String() string {
	return fmt.Sprintf("g%dv%d %s (%d bits)", e.Group, e.Variation, e.Name, e.Bits)
}

func def(g, v byte, name string, fields ...field) Entry {
	return Entry{Group: g, Variation: v, Name: name, Bits: layoutBits(fields), fields: fields}
}

func size(g, v byte, name string, bits int) Entry {
	return Entry{Group: g, Variation: v, Name: name, Bits: bits, sizeOnly: true}
}

var library = []Entry{
	// binary input
	def(1, 1, "binary input packed", fBit),
	def(1, 2, "binary input with flags", fFlagBit),
	def(2, 1, "binary input event", fFlagBit),
	def(2, 2, "binary input event with time", fFlagBit, fTime48),
	def(2, 3, "binary input event with relative time", fFlagBit, fTime16),
	// double-bit binary input
	size(3, 1, "double-bit input packed", 2),
	size(3, 2, "double-bit input with flags", 8),
	size(4, 1, "double-bit input event", 8),
	size(4, 2, "double-bit input event with time", 56),
	size(4, 3, "double-bit input event with relative time", 24),
	// binary output
	def(10, 1, "binary output packed", fBit),
	def(10, 2, "binary output status", fFlagBit),
	def(11, 1, "binary output event", fFlagBit),
	def(11, 2, "binary output event with time", fFlagBit, fTime48),
	def(12, 1, "control relay output block", fCROB, fStatus),
	def(12, 2, "pattern control block", fCROB, fStatus),
	size(12, 3, "pattern mask", 1),
	size(13, 1, "binary command event", 8),
	size(13, 2, "binary command event with time", 56),
	// counters
	def(20, 1, "counter 32-bit with flag", fFlag, fU32),
	def(20, 2, "counter 16-bit with flag", fFlag, fU16),
	def(20, 3, "delta counter 32-bit with flag", fFlag, fU32),
	def(20, 4, "delta counter 16-bit with flag", fFlag, fU16),
	def(20, 5, "counter 32-bit", fU32),
	def(20, 6, "counter 16-bit", fU16),
	def(20, 7, "delta counter 32-bit", fU32),
	def(20, 8, "delta counter 16-bit", fU16),
	def(21, 1, "frozen counter 32-bit with flag", fFlag, fU32),
	def(21, 2, "frozen counter 16-bit with flag", fFlag, fU16),
	def(21, 3, "frozen delta counter 32-bit with flag", fFlag, fU32),
	def(21, 4, "frozen delta counter 16-bit with flag", fFlag, fU16),
	def(21, 5, "frozen counter 32-bit with flag and time", fFlag, fU32, fTime48),
	def(21, 6, "frozen counter 16-bit with flag and time", fFlag, fU16, fTime48),
	def(21, 7, "frozen delta counter 32-bit with flag and time", fFlag, fU32, fTime48),
	def(21, 8, "frozen delta counter 16-bit with flag and time", fFlag, fU16, fTime48),
	def(21, 9, "frozen counter 32-bit", fU32),
	def(21, 10, "frozen counter 16-bit", fU16),
	def(21, 11, "frozen delta counter 32-bit", fU32),
	def(21, 12, "frozen delta counter 16-bit", fU16),
	def(22, 1, "counter event 32-bit with flag", fFlag, fU32),
	def(22, 2, "counter event 16-bit with flag", fFlag, fU16),
	def(22, 3, "delta counter event 32-bit with flag", fFlag, fU32),
	def(22, 4, "delta counter event 16-bit with flag", fFlag, fU16),
	def(22, 5, "counter event 32-bit with flag and time", fFlag, fU32, fTime48),
	def(22, 6, "counter event 16-bit with flag and time", fFlag, fU16, fTime48),
	def(22, 7, "delta counter event 32-bit with flag and time", fFlag, fU32, fTime48),
	def(22, 8, "delta counter event 16-bit with flag and time", fFlag, fU16, fTime48),
	def(23, 1, "frozen counter event 32-bit with flag", fFlag, fU32),
	def(23, 2, "frozen counter event 16-bit with flag", fFlag, fU16),
	def(23, 3, "frozen delta counter event 32-bit with flag", fFlag, fU32),
	def(23, 4, "frozen delta counter event 16-bit with flag", fFlag, fU16),
	def(23, 5, "frozen counter event 32-bit with flag and time", fFlag, fU32, fTime48),
	def(23, 6, "frozen counter event 16-bit with flag and time", fFlag, fU16, fTime48),
	def(23, 7, "frozen delta counter event 32-bit with flag and time", fFlag, fU32, fTime48),
	def(23, 8, "frozen delta counter event 16-bit with flag and time", fFlag, fU16, fTime48),
	// analog input
	def(30, 1, "analog input 32-bit with flag", fFlag, fI32),
	def(30, 2, "analog input 16-bit with flag", fFlag, fI16),
	def(30, 3, "analog input 32-bit", fI32),
	def(30, 4, "analog input 16-bit", fI16),
	def(30, 5, "analog input single float with flag", fFlag, fF32),
	def(30, 6, "analog input double float with flag", fFlag, fF64),
	def(31, 1, "frozen analog input 32-bit with flag", fFlag, fI32),
	def(31, 2, "frozen analog input 16-bit with flag", fFlag, fI16),
	def(31, 3, "frozen analog input 32-bit with time of freeze", fFlag, fI32, fTime48),
	def(31, 4, "frozen analog input 16-bit with time of freeze", fFlag, fI16, fTime48),
	def(31, 5, "frozen analog input 32-bit", fI32),
	def(31, 6, "frozen analog input 16-bit", fI16),
	def(31, 7, "frozen analog input single float with flag", fFlag, fF32),
	def(31, 8, "frozen analog input double float with flag", fFlag, fF64),
	def(32, 1, "analog input event 32-bit", fFlag, fI32),
	def(32, 2, "analog input event 16-bit", fFlag, fI16),
	def(32, 3, "analog input event 32-bit with time", fFlag, fI32, fTime48),
	def(32, 4, "analog input event 16-bit with time", fFlag, fI16, fTime48),
	def(32, 5, "analog input event single float", fFlag, fF32),
	def(32, 6, "analog input event double float", fFlag, fF64),
	def(32, 7, "analog input event single float with time", fFlag, fF32, fTime48),
	def(32, 8, "analog input event double float with time", fFlag, fF64, fTime48),
	def(33, 1, "frozen analog event 32-bit", fFlag, fI32),
	def(33, 2, "frozen analog event 16-bit", fFlag, fI16),
	def(33, 3, "frozen analog event 32-bit with time", fFlag, fI32, fTime48),
	def(33, 4, "frozen analog event 16-bit with time", fFlag, fI16, fTime48),
	def(33, 5, "frozen analog event single float", fFlag, fF32),
	def(33, 6, "frozen analog event double float", fFlag, fF64),
	def(33, 7, "frozen analog event single float with time", fFlag, fF32, fTime48),
	def(33, 8, "frozen analog event double float with time", fFlag, fF64, fTime48),
	def(34, 1, "analog input deadband 16-bit", fU16),
	def(34, 2, "analog input deadband 32-bit", fU32),
	def(34, 3, "analog input deadband single float", fF32),
	// analog output
	def(40, 1, "analog output status 32-bit with flag", fFlag, fI32),
	def(40, 2, "analog output status 16-bit with flag", fFlag, fI16),
	def(40, 3, "analog output status single float with flag", fFlag, fF32),
	def(40, 4, "analog output status double float with flag", fFlag, fF64),
	def(41, 1, "analog output block 32-bit", fI32, fStatus),
	def(41, 2, "analog output block 16-bit", fI16, fStatus),
	def(41, 3, "analog output block single float", fF32, fStatus),
	def(41, 4, "analog output block double float", fF64, fStatus),
	def(42, 1, "analog output event 32-bit", fFlag, fI32),
	def(42, 2, "analog output event 16-bit", fFlag, fI16),
	def(42, 3, "analog output event 32-bit with time", fFlag, fI32, fTime48),
	def(42, 4, "analog output event 16-bit with time", fFlag, fI16, fTime48),
	def(42, 5, "analog output event single float", fFlag, fF32),
	def(42, 6, "analog output event double float", fFlag, fF64),
	def(42, 7, "analog output event single float with time", fFlag, fF32, fTime48),
	def(42, 8, "analog output event double float with time", fFlag, fF64, fTime48),
	size(43, 1, "analog command event 32-bit", 40),
	size(43, 2, "analog command event 16-bit", 24),
	size(43, 3, "analog command event 32-bit with time", 88),
	size(43, 4, "analog command event 16-bit with time", 72),
	size(43, 5, "analog command event single float", 40),
	size(43, 6, "analog command event double float", 72),
	size(43, 7, "analog command event single float with time", 88),
	size(43, 8, "analog command event double float with time", 120),
	// time
	def(50, 1, "absolute time", fTime48),
	def(50, 2, "absolute time and interval", fTime48, fU32),
	def(50, 3, "absolute time at last recorded time", fTime48),
	def(50, 4, "indexed absolute time and long interval", fTime48, fU32, fU8),
	def(51, 1, "time and date CTO", fTime48),
	def(51, 2, "unsynchronized time and date CTO", fTime48),
	def(52, 1, "time delay coarse", fDelayS),
	def(52, 2, "time delay fine", fDelayMS),
	// class data, header only
	def(60, 1, "class 0 data"),
	def(60, 2, "class 1 data"),
	def(60, 3, "class 2 data"),
	def(60, 4, "class 3 data"),
	// internal indications
	def(80, 1, "internal indications", fBit),
}

type key struct{ group, variation byte }

var byKey = func() map[key]Entry {
	m := make(map[key]Entry, len(library))
	for _, e := range library {
		m[key{e.Group, e.Variation}] = e
	}
	return m
}()

// Lookup returns the table entry for a group/variation.
func Lookup(group, variation byte) (Entry, error) {
	e, ok := byKey[key{group, variation}]
	if ok {
		return e, nil
	}
	// octet strings carry their length in octets as variation
	if group >= 110 && group <= 113 && variation > 0 {
		return size(group, variation, "octet string", 8*int(variation)), nil
	}
	return Entry{}, fmt.Errorf("%w: g%dv%d", ErrUnsupportedObject, group, variation)
}

// Table returns a copy of the object library sorted by group and variation.
func Table() []Entry {
	out := make([]Entry, len(library))
	copy(out, library)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Variation < out[j].Variation
	})
	return out
}
