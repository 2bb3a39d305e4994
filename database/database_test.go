// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package database

import (
	"errors"
	"sync"
	"testing"

	"github.com/riclolsen/go-dnp3/object"
)

func analog(index uint32, v int64) object.Point {
	return object.Point{
		Index: index, Class: object.ClassAnalogInput, Group: 30, Variation: 1,
		Quality: object.QualityOnline, Value: object.IntValue(v),
	}
}

func TestNewRingBufferCapacity(t *testing.T) {
	for _, c := range []int{0, -1, 513} {
		if _, err := NewRingBuffer(c); !errors.Is(err, ErrInvalidCapacity) {
			t.Errorf("NewRingBuffer(%d) err=%v, want ErrInvalidCapacity", c, err)
		}
	}
	for _, c := range []int{1, 128, 512} {
		rb, err := NewRingBuffer(c)
		if err != nil {
			t.Fatalf("NewRingBuffer(%d) err=%v", c, err)
		}
		if rb.Cap() != c {
			t.Errorf("Cap() = %d, want %d", rb.Cap(), c)
		}
	}
}

func TestRingBufferEvictsOldest(t *testing.T) {
	rb, err := NewRingBuffer(4)
	if err != nil {
		t.Fatalf("NewRingBuffer() err=%v", err)
	}
	for i := int64(0); i < 5; i++ {
		rb.Insert(analog(0, i))
	}
	if rb.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", rb.Len())
	}
	last, ok := rb.Last()
	if !ok || last.Value.Int != 4 {
		t.Fatalf("Last() = %v, %v", last, ok)
	}
	got := rb.Drain()
	if len(got) != 4 {
		t.Fatalf("Drain() returned %d records", len(got))
	}
	for i, p := range got {
		if p.Value.Int != int64(i+1) {
			t.Errorf("record %d = %d, want %d", i, p.Value.Int, i+1)
		}
	}
	if rb.Len() != 0 || rb.Drain() != nil {
		t.Fatalf("buffer not empty after Drain")
	}
	if _, ok := rb.Last(); ok {
		t.Fatalf("Last() on empty buffer reported a record")
	}
}

func TestRingBufferWrapAfterDrain(t *testing.T) {
	rb, _ := NewRingBuffer(3)
	rb.Insert(analog(0, 1))
	rb.Insert(analog(0, 2))
	rb.Drain()
	for i := int64(10); i < 14; i++ {
		rb.Insert(analog(0, i))
	}
	got := rb.Drain()
	if len(got) != 3 || got[0].Value.Int != 11 || got[2].Value.Int != 13 {
		t.Fatalf("Drain() = %v", got)
	}
}

func TestDatabaseReadWrite(t *testing.T) {
	db, err := New(0)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	if db.Capacity() != DefaultCapacity {
		t.Fatalf("Capacity() = %d", db.Capacity())
	}
	if err := db.Write(analog(3, 100)); err != nil {
		t.Fatalf("Write() err=%v", err)
	}
	if err := db.Write(analog(3, 101)); err != nil {
		t.Fatalf("Write() err=%v", err)
	}
	if err := db.Write(analog(1, 7)); err != nil {
		t.Fatalf("Write() err=%v", err)
	}

	if p, ok := db.ReadLast(object.ClassAnalogInput, 3); !ok || p.Value.Int != 101 {
		t.Fatalf("ReadLast() = %v, %v", p, ok)
	}
	if idx := db.Indexes(object.ClassAnalogInput); len(idx) != 2 || idx[0] != 1 || idx[1] != 3 {
		t.Fatalf("Indexes() = %v", idx)
	}
	if snap := db.Snapshot(); len(snap) != 2 || snap[1].Value.Int != 101 {
		t.Fatalf("Snapshot() = %v", snap)
	}
	got := db.Read(object.ClassAnalogInput, 3)
	if len(got) != 2 || got[0].Value.Int != 100 {
		t.Fatalf("Read() = %v", got)
	}
	if again := db.Read(object.ClassAnalogInput, 3); len(again) != 0 {
		t.Fatalf("second Read() = %v, want empty", again)
	}
	if got := db.Read(object.ClassCounter, 0); got != nil {
		t.Fatalf("Read() of unknown point = %v", got)
	}
}

func TestDatabaseRejectsNonPointClass(t *testing.T) {
	db, _ := New(8)
	err := db.Write(object.Point{Class: object.ClassTime, Group: 50, Variation: 1})
	if !errors.Is(err, ErrNotPointClass) {
		t.Fatalf("Write() err=%v, want ErrNotPointClass", err)
	}
	if _, err := New(1000); !errors.Is(err, ErrInvalidCapacity) {
		t.Fatalf("New(1000) err=%v", err)
	}
}

func TestDatabaseConcurrentWriteDrain(t *testing.T) {
	db, _ := New(512)
	const writes = 2000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < writes; i++ {
			_ = db.Write(analog(0, int64(i)))
		}
	}()
	total := 0
	last := int64(-1)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	drain := func() {
		for _, p := range db.Read(object.ClassAnalogInput, 0) {
			if p.Value.Int <= last {
				t.Errorf("out of order record %d after %d", p.Value.Int, last)
			}
			last = p.Value.Int
			total++
		}
	}
	for {
		select {
		case <-done:
			drain()
			if total == 0 || last != writes-1 {
				t.Fatalf("drained %d records, last=%d", total, last)
			}
			return
		default:
			drain()
		}
	}
}
