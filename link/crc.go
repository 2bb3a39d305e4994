// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package link

import (
	"github.com/nblair2/go-dnp3/dnp3"
)

// CRC computes the DNP3 CRC of data (CRC-16/DNP, polynomial 0x3D65).
func CRC(data []byte) uint16 {
	c := dnp3.CalculateDNP3CRC(data)
	return uint16(c[0]) | uint16(c[1])<<8
}

// AppendCRC appends the CRC of block to dst, low octet first.
func AppendCRC(dst, block []byte) []byte {
	return append(dst, dnp3.CalculateDNP3CRC(block)...)
}

// VerifyCRC checks a block followed by its two CRC octets.
func VerifyCRC(blockWithCRC []byte) bool {
	n := len(blockWithCRC)
	if n < 2 {
		return false
	}
	c := dnp3.CalculateDNP3CRC(blockWithCRC[:n-2])
	return blockWithCRC[n-2] == c[0] && blockWithCRC[n-1] == c[1]
}

// appendBlocks appends data split in 16 octet blocks, each followed by its CRC.
func appendBlocks(dst, data []byte) []byte {
	return append(dst, dnp3.InsertDNP3CRCs(data)...)
}
