// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package database

import (
	"fmt"
	"sync"

	"github.com/riclolsen/go-dnp3/object"
)

// Ring buffer capacity limits.
const (
	DefaultCapacity = 128
	MinCapacity     = 1
	MaxCapacity     = 512
)

// RingBuffer is a fixed capacity FIFO of point records. Inserting into a
// full buffer overwrites the oldest record.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []object.Point
	head  int // oldest record
	count int
}

// NewRingBuffer creates a buffer holding up to capacity records.
func NewRingBuffer(capacity int) (*RingBuffer, error) {
	if capacity < MinCapacity || capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidCapacity, capacity, MinCapacity, MaxCapacity)
	}
	return &RingBuffer{buf: make([]object.Point, capacity)}, nil
}

// Insert appends a record, evicting the oldest one when full.
func (sf *RingBuffer) Insert(p object.Point) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	tail := (sf.head + sf.count) % len(sf.buf)
	sf.buf[tail] = p
	if sf.count == len(sf.buf) {
		sf.head = (sf.head + 1) % len(sf.buf)
	} else {
		sf.count++
	}
}

// Drain returns all buffered records in insertion order and empties the buffer.
func (sf *RingBuffer) Drain() []object.Point {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.count == 0 {
		return nil
	}
	out := make([]object.Point, sf.count)
	for i := range out {
		out[i] = sf.buf[(sf.head+i)%len(sf.buf)]
	}
	sf.head, sf.count = 0, 0
	return out
}

// Last returns the newest record without removing it.
func (sf *RingBuffer) Last() (object.Point, bool) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.count == 0 {
		return object.Point{}, false
	}
	return sf.buf[(sf.head+sf.count-1)%len(sf.buf)], true
}

// Len returns the number of buffered records.
func (sf *RingBuffer) Len() int {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.count
}

// Cap returns the buffer capacity.
func (sf *RingBuffer) Cap() int {
	return len(sf.buf)
}
