// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package link

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/riclolsen/go-dnp3/clog"
)

// Reader extracts frames from a byte stream. It scans for the 0x05 0x64
// preamble, validates the header CRC and each data block CRC, and keeps
// synchronisation across line noise.
type Reader struct {
	clog.Clog
	r *bufio.Reader
	// octets already consumed from r that must be rescanned
	pending []byte
	// Discarded counts octets dropped while searching for a preamble.
	Discarded uint64
}

// NewReader returns a frame reader over r. log may be the zero Clog.
func NewReader(r io.Reader, log clog.Clog) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 2*MaxFrameSize)
	}
	return &Reader{Clog: log, r: br}
}

func (sf *Reader) readByte() (byte, error) {
	if len(sf.pending) > 0 {
		b := sf.pending[0]
		sf.pending = sf.pending[1:]
		return b, nil
	}
	return sf.r.ReadByte()
}

func (sf *Reader) readFull(p []byte) error {
	n := copy(p, sf.pending)
	sf.pending = sf.pending[n:]
	if n == len(p) {
		return nil
	}
	_, err := io.ReadFull(sf.r, p[n:])
	return err
}

func (sf *Reader) discard(b byte) {
	sf.Discarded++
	sf.Warn("discarding octet 0x%02X while searching for preamble", b)
}

// syncPreamble consumes octets up to and including the next 0x05 0x64.
func (sf *Reader) syncPreamble() error {
	b, err := sf.readByte()
	if err != nil {
		return err
	}
	for {
		if b != StartByte1 {
			sf.discard(b)
			if b, err = sf.readByte(); err != nil {
				return err
			}
			continue
		}
		next, err := sf.readByte()
		if err != nil {
			return err
		}
		if next == StartByte2 {
			return nil
		}
		sf.discard(b)
		b = next
	}
}

// ReadFrame blocks until a frame with a valid header is read.
// Frames whose header CRC fails are dropped and the scan restarts one octet
// after the rejected preamble. A frame with a failed data block is returned
// with Errored set together with an error wrapping ErrCRCMismatch.
// Any other error comes from the underlying stream.
func (sf *Reader) ReadFrame() (*Frame, error) {
	for {
		if err := sf.syncPreamble(); err != nil {
			return nil, err
		}
		head := make([]byte, HeaderSize)
		head[0], head[1] = StartByte1, StartByte2
		if err := sf.readFull(head[2:]); err != nil {
			return nil, err
		}
		if !VerifyCRC(head) {
			sf.Warn("header crc mismatch [% X], resynchronising", head)
			sf.Discarded++
			sf.pending = append(append([]byte(nil), head[1:]...), sf.pending...)
			continue
		}
		length := int(head[2])
		if length < MinLength {
			sf.Warn("%v: %d", ErrInvalidLength, length)
			continue
		}

		f := &Frame{
			Control:     ParseControlField(head[3]),
			Destination: binary.LittleEndian.Uint16(head[4:]),
			Source:      binary.LittleEndian.Uint16(head[6:]),
		}
		n := length - MinLength
		raw := make([]byte, FrameSize(n))
		copy(raw, head)
		body := raw[HeaderSize:]
		if err := sf.readFull(body); err != nil {
			return nil, err
		}
		f.raw = raw
		if n > 0 {
			f.Data = make([]byte, 0, n)
		}
		bad := 0
		for off := 0; off < len(body); {
			size := BlockSize
			if remain := n - len(f.Data); remain < size {
				size = remain
			}
			block := body[off : off+size+2]
			if !VerifyCRC(block) {
				bad++
			}
			f.Data = append(f.Data, block[:size]...)
			off += size + 2
		}
		if bad > 0 {
			f.Errored = true
			return f, fmt.Errorf("%w: %d data block(s) in frame from %d", ErrCRCMismatch, bad, f.Source)
		}
		return f, nil
	}
}
