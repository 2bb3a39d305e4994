// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package database keeps the points decoded by the master, one ring buffer
// per (class, index).
package database

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/riclolsen/go-dnp3/object"
)

var (
	ErrInvalidCapacity = errors.New("invalid ring buffer capacity")
	ErrNotPointClass   = errors.New("object class is not stored in the database")
)

type pointKey struct {
	class object.Class
	index uint32
}

// Database maps (class, index) to a ring buffer created on first use.
type Database struct {
	mu       sync.RWMutex
	capacity int
	buffers  map[pointKey]*RingBuffer
}

// New creates an empty database whose buffers hold capacity records.
// A zero capacity selects DefaultCapacity.
func New(capacity int) (*Database, error) {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity < MinCapacity || capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	return &Database{
		capacity: capacity,
		buffers:  make(map[pointKey]*RingBuffer),
	}, nil
}

func (sf *Database) buffer(k pointKey, create bool) *RingBuffer {
	sf.mu.RLock()
	rb := sf.buffers[k]
	sf.mu.RUnlock()
	if rb != nil || !create {
		return rb
	}
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if rb = sf.buffers[k]; rb == nil {
		// capacity was validated by New
		rb, _ = NewRingBuffer(sf.capacity)
		sf.buffers[k] = rb
	}
	return rb
}

// Write stores a record in the buffer selected by its class and index.
func (sf *Database) Write(p object.Point) error {
	if !p.Class.IsPointClass() {
		return fmt.Errorf("%w: %v", ErrNotPointClass, p.Class)
	}
	sf.buffer(pointKey{p.Class, p.Index}, true).Insert(p)
	return nil
}

// Read drains every record accumulated for the point.
func (sf *Database) Read(class object.Class, index uint32) []object.Point {
	rb := sf.buffer(pointKey{class, index}, false)
	if rb == nil {
		return nil
	}
	return rb.Drain()
}

// ReadLast returns the newest record of the point without draining it.
func (sf *Database) ReadLast(class object.Class, index uint32) (object.Point, bool) {
	rb := sf.buffer(pointKey{class, index}, false)
	if rb == nil {
		return object.Point{}, false
	}
	return rb.Last()
}

// Indexes lists, in ascending order, the indexes known for a class.
func (sf *Database) Indexes(class object.Class) []uint32 {
	sf.mu.RLock()
	var out []uint32
	for k := range sf.buffers {
		if k.class == class {
			out = append(out, k.index)
		}
	}
	sf.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Snapshot returns the newest record of every point, ordered by class and index.
func (sf *Database) Snapshot() []object.Point {
	sf.mu.RLock()
	keys := make([]pointKey, 0, len(sf.buffers))
	for k := range sf.buffers {
		keys = append(keys, k)
	}
	sf.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].class != keys[j].class {
			return keys[i].class < keys[j].class
		}
		return keys[i].index < keys[j].index
	})
	out := make([]object.Point, 0, len(keys))
	for _, k := range keys {
		if p, ok := sf.ReadLast(k.class, k.index); ok {
			out = append(out, p)
		}
	}
	return out
}

// Capacity returns the size of each ring buffer.
func (sf *Database) Capacity() int {
	return sf.capacity
}
