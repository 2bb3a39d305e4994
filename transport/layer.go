// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/riclolsen/go-dnp3/clog"
	"github.com/riclolsen/go-dnp3/link"
)

// Sender transmits one segment to a remote station.
type Sender interface {
	Send(ctx context.Context, remote uint16, data []byte) error
}

// Config defines the transport layer.
type Config struct {
	// Lenient accepts out of sequence segments instead of aborting the fragment.
	Lenient bool
	// MaxFragmentSize bounds a reassembled fragment.
	MaxFragmentSize int
	// QueueSize of the fragment channel.
	QueueSize int
}

// Valid applies default values to zero fields and checks ranges.
func (sf *Config) Valid() error {
	if sf.MaxFragmentSize == 0 {
		sf.MaxFragmentSize = DefaultMaxFragmentSize
	} else if sf.MaxFragmentSize < MaxPayload {
		return fmt.Errorf("max fragment size %d below one segment", sf.MaxFragmentSize)
	}
	if sf.QueueSize <= 0 {
		sf.QueueSize = 16
	}
	return nil
}

// Fragment is a reassembled application fragment.
type Fragment struct {
	Source uint16
	Data   []byte
}

// Layer segments outgoing fragments and reassembles incoming segments.
type Layer struct {
	clog.Clog
	cfg    Config
	sender Sender
	in     <-chan link.UserData
	out    chan Fragment

	txMu  sync.Mutex
	txSeq map[uint16]uint8

	rx      map[uint16]*Reassembler
	running atomic.Bool
}

// NewLayer wires the layer between a segment sender and the channel of
// link user data.
func NewLayer(sender Sender, in <-chan link.UserData, cfg Config) (*Layer, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	return &Layer{
		Clog:   clog.NewLogger("dnp3 transport => "),
		cfg:    cfg,
		sender: sender,
		in:     in,
		out:    make(chan Fragment, cfg.QueueSize),
		txSeq:  make(map[uint16]uint8),
		rx:     make(map[uint16]*Reassembler),
	}, nil
}

// Fragments delivers complete fragments. It is closed when Run returns.
func (sf *Layer) Fragments() <-chan Fragment {
	return sf.out
}

// Running reports whether Run is active.
func (sf *Layer) Running() bool {
	return sf.running.Load()
}

// Send segments apdu and hands every segment to the sender in order.
func (sf *Layer) Send(ctx context.Context, remote uint16, apdu []byte) error {
	sf.txMu.Lock()
	defer sf.txMu.Unlock()

	segs, next := Segment(apdu, sf.txSeq[remote])
	sf.txSeq[remote] = next
	for _, seg := range segs {
		sf.Debug("TX %s %d octets to %d", ParseHeader(seg[0]), len(seg)-1, remote)
		if err := sf.sender.Send(ctx, remote, seg); err != nil {
			return err
		}
	}
	return nil
}

// Run reassembles link user data until ctx is done or the input closes.
func (sf *Layer) Run(ctx context.Context) error {
	sf.running.Store(true)
	sf.Debug("transport loop started")
	defer func() {
		sf.running.Store(false)
		close(sf.out)
		sf.Debug("transport loop stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-sf.in:
			if !ok {
				return nil
			}
			frag, err := sf.reassembler(u.Source).Process(u.Data)
			if err != nil {
				sf.Warn("segment from %d dropped: %v", u.Source, err)
				continue
			}
			if frag == nil {
				continue
			}
			select {
			case sf.out <- Fragment{Source: u.Source, Data: frag}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (sf *Layer) reassembler(remote uint16) *Reassembler {
	r, ok := sf.rx[remote]
	if !ok {
		r = NewReassembler(!sf.cfg.Lenient, sf.cfg.MaxFragmentSize)
		r.Clog = sf.Clog
		sf.rx[remote] = r
	}
	return r
}
