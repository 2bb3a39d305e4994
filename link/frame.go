// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package link

import (
	"fmt"
)

// Frame format constants (FT3)
const (
	StartByte1 byte = 0x05
	StartByte2 byte = 0x64

	HeaderSize   = 10  // start(2) + length + control + destination(2) + source(2) + crc(2)
	BlockSize    = 16  // user data octets covered by one CRC
	MaxUserData  = 250 // user data octets per frame
	MinLength    = 5   // length field of a frame without user data
	MaxFrameSize = HeaderSize + MaxUserData + 2*((MaxUserData+BlockSize-1)/BlockSize)

	// BroadcastAddress is accepted by every outstation.
	BroadcastAddress uint16 = 0xFFFF
)

const (
	// DIR: Direction bit (1: master -> outstation)
	CtrlDIR byte = 0x80
	// PRM: Primary Message bit (1: from primary station)
	CtrlPRM byte = 0x40
	// FCB: Frame Count Bit (primary)
	CtrlFCB byte = 0x20
	// FCV: Frame Count Valid bit (primary)
	CtrlFCV byte = 0x10
	// DFC: Data Flow Control bit (secondary)
	CtrlDFC byte = 0x10
	// Function Code Mask
	CtrlFuncMask byte = 0x0F
)

// Primary Function Codes (PRM=1)
const (
	PrimFcResetLink     byte = 0 // Reset of remote link
	PrimFcResetUser     byte = 1 // Reset of user process
	PrimFcTestLink      byte = 2 // Test function for link
	PrimFcUserDataConf  byte = 3 // User data, confirmed
	PrimFcUserDataNoCon byte = 4 // User data, unconfirmed
	PrimFcReqStatus     byte = 9 // Request link status
)

// Secondary Function Codes (PRM=0)
const (
	SecFcAck          byte = 0  // Positive acknowledge
	SecFcNack         byte = 1  // Negative acknowledge
	SecFcRespStatus   byte = 11 // Status of link
	SecFcNotSupported byte = 15 // Link service not implemented
)

// ControlField represents the parsed control field byte
type ControlField struct {
	DIR bool // Direction (true if from master)
	PRM bool // Primary Message (true if from primary station)
	FCB bool // Frame Count Bit
	FCV bool // Frame Count Valid
	DFC bool // Data Flow Control (secondary station only)
	Fun byte // Function Code (masked)
}

// ParseControlField parses the control field byte.
func ParseControlField(b byte) ControlField {
	cf := ControlField{
		DIR: b&CtrlDIR != 0,
		PRM: b&CtrlPRM != 0,
		Fun: b & CtrlFuncMask,
	}
	if cf.PRM {
		cf.FCB = b&CtrlFCB != 0
		cf.FCV = b&CtrlFCV != 0
	} else {
		cf.DFC = b&CtrlDFC != 0
	}
	return cf
}

// Value encodes the ControlField back to a byte.
func (cf ControlField) Value() byte {
	b := cf.Fun & CtrlFuncMask
	if cf.DIR {
		b |= CtrlDIR
	}
	if cf.PRM {
		b |= CtrlPRM
		if cf.FCB {
			b |= CtrlFCB
		}
		if cf.FCV {
			b |= CtrlFCV
		}
	} else if cf.DFC {
		b |= CtrlDFC
	}
	return b
}

// String provides a string representation of the control field.
func (cf ControlField) String() string {
	if cf.PRM {
		fcb := ""
		if cf.FCV {
			fcb = fmt.Sprintf(" FCB=%d", b2i(cf.FCB))
		}
		return fmt.Sprintf("CTRL<PRM %s DIR=%d%s>", primaryName(cf.Fun), b2i(cf.DIR), fcb)
	}
	dfc := ""
	if cf.DFC {
		dfc = " DFC=1"
	}
	return fmt.Sprintf("CTRL<SEC %s DIR=%d%s>", secondaryName(cf.Fun), b2i(cf.DIR), dfc)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func primaryName(fc byte) string {
	switch fc {
	case PrimFcResetLink:
		return "RESET_LINK"
	case PrimFcResetUser:
		return "RESET_USER"
	case PrimFcTestLink:
		return "TEST_LINK"
	case PrimFcUserDataConf:
		return "CONFIRMED_DATA"
	case PrimFcUserDataNoCon:
		return "UNCONFIRMED_DATA"
	case PrimFcReqStatus:
		return "REQUEST_LINK_STATUS"
	}
	return fmt.Sprintf("FC=%d", fc)
}

func secondaryName(fc byte) string {
	switch fc {
	case SecFcAck:
		return "ACK"
	case SecFcNack:
		return "NACK"
	case SecFcRespStatus:
		return "LINK_STATUS"
	case SecFcNotSupported:
		return "NOT_SUPPORTED"
	}
	return fmt.Sprintf("FC=%d", fc)
}

// Frame is one link layer frame with its user data already stripped of CRCs.
type Frame struct {
	Control     ControlField
	Destination uint16
	Source      uint16
	Data        []byte
	// Errored is set when a user data block failed its CRC.
	Errored bool

	raw []byte
}

// Raw returns the octets the frame was read from, nil for built frames.
func (f *Frame) Raw() []byte {
	return f.raw
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s %d->%d len=%d", f.Control, f.Source, f.Destination, len(f.Data))
}

// MarshalBinary encodes the frame with header and block CRCs.
func (f *Frame) MarshalBinary() ([]byte, error) {
	if len(f.Data) > MaxUserData {
		return nil, fmt.Errorf("%w: %d octets", ErrFrameTooLong, len(f.Data))
	}
	out := make([]byte, 0, FrameSize(len(f.Data)))
	out = append(out,
		StartByte1, StartByte2,
		byte(MinLength+len(f.Data)),
		f.Control.Value(),
		byte(f.Destination), byte(f.Destination>>8),
		byte(f.Source), byte(f.Source>>8),
	)
	out = AppendCRC(out, out)
	return appendBlocks(out, f.Data), nil
}

// FrameSize returns the wire size of a frame carrying n user data octets.
func FrameSize(n int) int {
	return HeaderSize + n + 2*((n+BlockSize-1)/BlockSize)
}
