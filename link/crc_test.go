// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package link

import (
	"bytes"
	"testing"
)

func TestCRC(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"check string", []byte("123456789"), 0xEA82},
		{"link header", []byte{0x05, 0x64, 0x05, 0xC0, 0x01, 0x00, 0x00, 0x04}, 0x21E9},
		{"reset link 1 to 1024", []byte{0x05, 0x64, 0x05, 0xC0, 0x00, 0x04, 0x01, 0x00}, 0xF7D7},
		{"empty", nil, 0xFFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CRC(tt.data); got != tt.want {
				t.Errorf("CRC() = 0x%04X, want 0x%04X", got, tt.want)
			}
		})
	}
}

func TestAppendCRCLowOctetFirst(t *testing.T) {
	got := AppendCRC(nil, []byte{0x05, 0x64, 0x05, 0xC0, 0x01, 0x00, 0x00, 0x04})
	if len(got) != 2 || got[0] != 0xE9 || got[1] != 0x21 {
		t.Fatalf("AppendCRC() = [% X], want [E9 21]", got)
	}
}

func TestVerifyCRCSingleBitFlip(t *testing.T) {
	blocks := [][]byte{
		{0x05, 0x64, 0x05, 0xC0, 0x01, 0x00, 0x00, 0x04},
		[]byte("0123456789abcdef"),
		{0xC0, 0xC3, 0x01, 0x3C, 0x02, 0x06},
	}
	for _, block := range blocks {
		good := AppendCRC(append([]byte(nil), block...), block)
		if !VerifyCRC(good) {
			t.Fatalf("VerifyCRC([% X]) = false", good)
		}
		for bit := 0; bit < 8*len(good); bit++ {
			bad := append([]byte(nil), good...)
			bad[bit/8] ^= 1 << (bit % 8)
			if VerifyCRC(bad) {
				t.Errorf("VerifyCRC() accepted [% X] with bit %d flipped", bad, bit)
			}
		}
	}
	if VerifyCRC([]byte{0x01}) {
		t.Error("VerifyCRC() accepted a block shorter than its crc")
	}
}

func TestAppendBlocks(t *testing.T) {
	for _, n := range []int{0, 1, 16, 17, 250} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i * 7)
		}
		got := appendBlocks([]byte{0xAA}, data)
		if len(got) != 1+FrameSize(n)-HeaderSize {
			t.Fatalf("appendBlocks(%d) len = %d, want %d", n, len(got), 1+FrameSize(n)-HeaderSize)
		}
		body := got[1:]
		for off := 0; off < n; off += BlockSize {
			size := min(BlockSize, n-off)
			block := body[:size+2]
			if !bytes.Equal(block[:size], data[off:off+size]) {
				t.Fatalf("appendBlocks(%d) block at %d = [% X]", n, off, block[:size])
			}
			if !VerifyCRC(block) {
				t.Errorf("appendBlocks(%d) block at %d fails crc", n, off)
			}
			body = body[size+2:]
		}
	}
}
