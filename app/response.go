// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package app

import (
	"fmt"
	"time"

	"github.com/riclolsen/go-dnp3/object"
)

const (
	groupCTO      byte = 51
	groupDelay    byte = 52
	groupDeadband byte = 34
)

// Response is the decoded content of one or more response fragments.
type Response struct {
	Header
	Source uint16
	// Headers lists every object header in wire order.
	Headers []ObjectHeader
	// Points are the measurements destined for the point database.
	Points []object.Point
	// Controls are command objects echoed by SELECT/OPERATE responses.
	Controls []object.Point
	// Others holds time, delay, deadband and IIN objects.
	Others []object.Point
	// Discarded counts object headers skipped for lack of a codec.
	Discarded int
	// Fragments is the number of fragments merged into the response.
	Fragments int
}

// Delay returns the time delay object (g52) if one was received.
func (r *Response) Delay() (time.Duration, bool) {
	for _, p := range r.Others {
		if p.Group == groupDelay {
			return time.Duration(p.Value.Int) * time.Millisecond, true
		}
	}
	return 0, false
}

func (r *Response) merge(o *Response) {
	r.Header = o.Header
	r.IIN |= o.IIN
	r.Headers = append(r.Headers, o.Headers...)
	r.Points = append(r.Points, o.Points...)
	r.Controls = append(r.Controls, o.Controls...)
	r.Others = append(r.Others, o.Others...)
	r.Discarded += o.Discarded
	r.Fragments += o.Fragments
}

func (r *Response) String() string {
	return fmt.Sprintf("%s from %d: %d objects, %d points, %d discarded",
		r.Header, r.Source, len(r.Headers), len(r.Points), r.Discarded)
}

type parser struct {
	data []byte
	pos  int
	now  int64

	cto    int64
	hasCTO bool
}

func (sf *parser) take(n int) ([]byte, error) {
	if n < 0 || sf.pos+n > len(sf.data) {
		return nil, fmt.Errorf("%w: need %d octets at %d of %d", ErrInvalidFrame, n, sf.pos, len(sf.data))
	}
	b := sf.data[sf.pos : sf.pos+n]
	sf.pos += n
	return b, nil
}

// ParseResponse decodes a response fragment. Points without a device
// timestamp are stamped with now. Objects whose group/variation has a known
// length but no codec are skipped; an unknown length aborts the parse with
// ErrInvalidFrame and the objects decoded so far are returned.
func ParseResponse(data []byte, now time.Time) (*Response, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	r := &Response{Header: h, Fragments: 1}
	if !h.Function.IsResponse() {
		return r, fmt.Errorf("%w: %s is not a response", ErrInvalidFrame, h.Function)
	}
	p := &parser{data: data, pos: h.Size(), now: now.UnixMilli()}
	for p.pos < len(p.data) {
		if err := p.object(r); err != nil {
			return r, err
		}
	}
	return r, nil
}

func (sf *parser) object(r *Response) error {
	hdr, err := sf.take(3)
	if err != nil {
		return err
	}
	oh := ObjectHeader{Group: hdr[0], Variation: hdr[1], Qualifier: hdr[2]}
	width, startStop, ok := rangeWidth(oh.Qualifier)
	if !ok {
		return fmt.Errorf("%w: qualifier 0x%02X for g%dv%d", ErrInvalidFrame, oh.Qualifier, oh.Group, oh.Variation)
	}
	iw, ok := prefixWidth(oh.Qualifier)
	if !ok {
		return fmt.Errorf("%w: qualifier 0x%02X for g%dv%d", ErrInvalidFrame, oh.Qualifier, oh.Group, oh.Variation)
	}

	switch {
	case width == 0:
		// all points, no objects follow
		r.Headers = append(r.Headers, oh)
		return nil
	case startStop:
		b, err := sf.take(2 * width)
		if err != nil {
			return err
		}
		oh.Start, oh.Stop = readUint(b[:width]), readUint(b[width:])
		if oh.Stop < oh.Start {
			return fmt.Errorf("%w: range %d..%d", ErrInvalidFrame, oh.Start, oh.Stop)
		}
		oh.Count = int(oh.Stop-oh.Start) + 1
	default:
		b, err := sf.take(width)
		if err != nil {
			return err
		}
		oh.Count = int(readUint(b))
		if oh.Count > 0 {
			oh.Stop = uint32(oh.Count - 1)
		}
	}
	if oh.Count > 8*len(sf.data) {
		return fmt.Errorf("%w: %d objects in %d octets", ErrInvalidFrame, oh.Count, len(sf.data))
	}

	entry, err := object.Lookup(oh.Group, oh.Variation)
	if err != nil {
		r.Headers = append(r.Headers, oh)
		return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	oh.Discarded = !entry.HasCodec()
	if oh.Discarded {
		r.Discarded++
	}
	r.Headers = append(r.Headers, oh)

	if iw == 0 {
		return sf.packed(r, entry, oh)
	}
	return sf.prefixed(r, entry, oh, iw)
}

// packed decodes objects laid out back to back from oh.Start.
func (sf *parser) packed(r *Response, e object.Entry, oh ObjectHeader) error {
	raw, err := sf.take(e.Size(oh.Count))
	if err != nil || oh.Discarded {
		return err
	}
	if e.IsBitString() {
		for i, bit := range object.UnpackBits(raw, oh.Count) {
			var b byte
			if bit {
				b = 1
			}
			if err := sf.emit(r, e, oh.Start+uint32(i), []byte{b}); err != nil {
				return err
			}
		}
		return nil
	}
	size := e.Bits / 8
	for i := 0; i < oh.Count; i++ {
		if err := sf.emit(r, e, oh.Start+uint32(i), raw[i*size:(i+1)*size]); err != nil {
			return err
		}
	}
	return nil
}

// prefixed decodes objects each preceded by its index.
func (sf *parser) prefixed(r *Response, e object.Entry, oh ObjectHeader, iw int) error {
	size := (e.Bits + 7) / 8
	for i := 0; i < oh.Count; i++ {
		b, err := sf.take(iw + size)
		if err != nil {
			return err
		}
		if oh.Discarded {
			continue
		}
		if err := sf.emit(r, e, readUint(b[:iw]), b[iw:]); err != nil {
			return err
		}
	}
	return nil
}

// emit decodes one object and files it by kind.
func (sf *parser) emit(r *Response, e object.Entry, index uint32, raw []byte) error {
	p, err := e.Decode(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	p.Index = index

	switch {
	case p.Group == groupCTO:
		sf.cto, sf.hasCTO = p.Timestamp, true
		r.Others = append(r.Others, p)
		return nil
	case e.RelativeTime():
		if sf.hasCTO {
			p.Timestamp += sf.cto
		} else {
			p.Timestamp, p.DeviceTime = sf.now, false
		}
	case !p.DeviceTime:
		p.Timestamp = sf.now
	}

	switch {
	case p.Group == groupCROB || p.Group == groupAnalogOutput:
		r.Controls = append(r.Controls, p)
	case p.Group == groupDeadband || !p.Class.IsPointClass():
		r.Others = append(r.Others, p)
	default:
		r.Points = append(r.Points, p)
	}
	return nil
}
