// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package app

import (
	"encoding/binary"
)

// Qualifier codes. The high nibble selects the index prefix, the low nibble
// the range specifier.
const (
	QualStartStop8  byte = 0x00
	QualStartStop16 byte = 0x01
	QualStartStop32 byte = 0x02
	QualAll         byte = 0x06
	QualCount8      byte = 0x07
	QualCount16     byte = 0x08
	QualCount32     byte = 0x09
	QualIndex8      byte = 0x17
	QualIndex16     byte = 0x28
	QualIndex32     byte = 0x39
)

// rangeWidth returns the octets of each range field and whether the range
// is a start/stop pair. ok is false for unsupported range codes.
func rangeWidth(q byte) (width int, startStop bool, ok bool) {
	switch q & 0x0F {
	case 0x00:
		return 1, true, true
	case 0x01:
		return 2, true, true
	case 0x02:
		return 4, true, true
	case 0x06:
		return 0, false, true
	case 0x07:
		return 1, false, true
	case 0x08:
		return 2, false, true
	case 0x09:
		return 4, false, true
	}
	return 0, false, false
}

// prefixWidth returns the octets of the index prefix of every object.
func prefixWidth(q byte) (int, bool) {
	switch (q >> 4) & 0x07 {
	case 0:
		return 0, true
	case 1:
		return 1, true
	case 2:
		return 2, true
	case 3:
		return 4, true
	}
	return 0, false
}

func readUint(b []byte) uint32 {
	switch len(b) {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(b))
	case 4:
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func appendUint(dst []byte, v uint32, width int) []byte {
	switch width {
	case 1:
		return append(dst, byte(v))
	case 2:
		return binary.LittleEndian.AppendUint16(dst, uint16(v))
	}
	return binary.LittleEndian.AppendUint32(dst, v)
}

// ObjectHeader addresses the objects that follow it.
type ObjectHeader struct {
	Group     byte
	Variation byte
	Qualifier byte
	Start     uint32
	Stop      uint32
	Count     int
	// Discarded is set when the objects were skipped for lack of a codec.
	Discarded bool
}

// headerAll builds an object header with qualifier 0x06.
func headerAll(g, v byte) []byte {
	return []byte{g, v, QualAll}
}

// headerRange builds a start/stop header, 8 bit when both fit.
func headerRange(g, v byte, start, stop uint16) []byte {
	q, w := QualStartStop8, 1
	if stop >= 256 {
		q, w = QualStartStop16, 2
	}
	b := appendUint([]byte{g, v, q}, uint32(start), w)
	return appendUint(b, uint32(stop), w)
}

// headerCount builds a quantity header, 8 bit when the count fits.
func headerCount(g, v byte, n uint16) []byte {
	if n < 256 {
		return []byte{g, v, QualCount8, byte(n)}
	}
	return appendUint([]byte{g, v, QualCount16}, uint32(n), 2)
}

// headerIndexed builds a single object header with an index prefix:
// 0x17 for indexes below 256, 0x28 otherwise.
func headerIndexed(g, v byte, index uint16) []byte {
	q, w := QualIndex8, 1
	if index >= 256 {
		q, w = QualIndex16, 2
	}
	b := appendUint([]byte{g, v, q}, 1, w)
	return appendUint(b, uint32(index), w)
}
