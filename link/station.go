// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package link

import (
	"sync"
)

// StationState is the link state kept per remote address.
type StationState struct {
	Address uint16
	// RecvFCB is the FCB of the last accepted primary frame from the station.
	RecvFCB bool
	// RecvValid is false until the first FCV frame or RESET_LINK is accepted.
	RecvValid bool
	// SendFCB is the FCB to put in the next FCV frame sent to the station.
	SendFCB bool
	// Reset is true once the station acknowledged our RESET_LINK.
	Reset bool
	// Last is the last primary frame sent to the station.
	Last *Frame
}

type stations struct {
	mu     sync.Mutex
	byAddr map[uint16]*StationState
}

// newStations registers the broadcast address and each remote.
func newStations(remotes []uint16) *stations {
	s := &stations{byAddr: make(map[uint16]*StationState, len(remotes)+1)}
	s.byAddr[BroadcastAddress] = &StationState{Address: BroadcastAddress}
	for _, addr := range remotes {
		s.byAddr[addr] = &StationState{Address: addr}
	}
	return s
}

func (sf *stations) known(addr uint16) bool {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	_, ok := sf.byAddr[addr]
	return ok
}

func (sf *stations) get(addr uint16) (StationState, bool) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	st, ok := sf.byAddr[addr]
	if !ok {
		return StationState{}, false
	}
	return *st, true
}

func (sf *stations) update(addr uint16, fn func(st *StationState)) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if st, ok := sf.byAddr[addr]; ok {
		fn(st)
	}
}

// accept applies FCB duplicate detection to a primary frame from addr.
// It reports false for a repeat of the last accepted frame.
func (sf *stations) accept(addr uint16, cf ControlField) bool {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	st, ok := sf.byAddr[addr]
	if !ok {
		return false
	}
	if !cf.FCV {
		return true
	}
	if st.RecvValid && st.RecvFCB == cf.FCB {
		return false
	}
	st.RecvFCB = cf.FCB
	st.RecvValid = true
	return true
}

// resetRecv handles RESET_LINK from the station: the next FCV frame must
// carry FCB=1.
func (sf *stations) resetRecv(addr uint16) {
	sf.update(addr, func(st *StationState) {
		st.RecvFCB = false
		st.RecvValid = true
	})
}
