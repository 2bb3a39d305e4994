// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package object

// UnpackBits expands a packed bit-string. The first point is bit 0 of the
// first octet. A negative count returns every bit of data.
func UnpackBits(data []byte, count int) []bool {
	if count < 0 || count > len(data)*8 {
		count = len(data) * 8
	}
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		out[i] = data[i/8]&(1<<(i%8)) != 0
	}
	return out
}

// PackBits is the inverse of UnpackBits.
func PackBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}
