// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package app implements the DNP3 application layer of a master: request
// building, response parsing, confirmations and the request scheduler.
package app

import (
	"fmt"
	"strings"
)

// FunctionCode is the application function code.
type FunctionCode byte

// Function codes
const (
	FuncConfirm              FunctionCode = 0x00
	FuncRead                 FunctionCode = 0x01
	FuncWrite                FunctionCode = 0x02
	FuncSelect               FunctionCode = 0x03
	FuncOperate              FunctionCode = 0x04
	FuncDirectOperate        FunctionCode = 0x05
	FuncDirectOperateNoAck   FunctionCode = 0x06
	FuncImmediateFreeze      FunctionCode = 0x07
	FuncImmediateFreezeNoAck FunctionCode = 0x08
	FuncColdRestart          FunctionCode = 0x0D
	FuncWarmRestart          FunctionCode = 0x0E
	FuncEnableUnsolicited    FunctionCode = 0x14
	FuncDisableUnsolicited   FunctionCode = 0x15
	FuncDelayMeasure         FunctionCode = 0x17
	FuncResponse             FunctionCode = 0x81
	FuncUnsolicited          FunctionCode = 0x82
)

var functionNames = map[FunctionCode]string{
	FuncConfirm:              "CONFIRM",
	FuncRead:                 "READ",
	FuncWrite:                "WRITE",
	FuncSelect:               "SELECT",
	FuncOperate:              "OPERATE",
	FuncDirectOperate:        "DIRECT_OPERATE",
	FuncDirectOperateNoAck:   "DIRECT_OPERATE_NR",
	FuncImmediateFreeze:      "IMMED_FREEZE",
	FuncImmediateFreezeNoAck: "IMMED_FREEZE_NR",
	FuncColdRestart:          "COLD_RESTART",
	FuncWarmRestart:          "WARM_RESTART",
	FuncEnableUnsolicited:    "ENABLE_UNSOLICITED",
	FuncDisableUnsolicited:   "DISABLE_UNSOLICITED",
	FuncDelayMeasure:         "DELAY_MEASURE",
	FuncResponse:             "RESPONSE",
	FuncUnsolicited:          "UNSOLICITED_RESPONSE",
}

func (fc FunctionCode) String() string {
	if s, ok := functionNames[fc]; ok {
		return s
	}
	return fmt.Sprintf("FC(0x%02X)", byte(fc))
}

// IsResponse reports whether the function code is sent by outstations.
func (fc FunctionCode) IsResponse() bool {
	return fc == FuncResponse || fc == FuncUnsolicited
}

// application control bits
const (
	CtrlFIR     byte = 0x80
	CtrlFIN     byte = 0x40
	CtrlCON     byte = 0x20
	CtrlUNS     byte = 0x10
	CtrlSeqMask byte = 0x0F
)

// Control is the application control octet.
type Control struct {
	FIR bool
	FIN bool
	CON bool
	UNS bool
	Seq uint8
}

// ParseControl decodes the application control octet.
func ParseControl(b byte) Control {
	return Control{
		FIR: b&CtrlFIR != 0,
		FIN: b&CtrlFIN != 0,
		CON: b&CtrlCON != 0,
		UNS: b&CtrlUNS != 0,
		Seq: b & CtrlSeqMask,
	}
}

// Value encodes the control octet.
func (c Control) Value() byte {
	b := c.Seq & CtrlSeqMask
	if c.FIR {
		b |= CtrlFIR
	}
	if c.FIN {
		b |= CtrlFIN
	}
	if c.CON {
		b |= CtrlCON
	}
	if c.UNS {
		b |= CtrlUNS
	}
	return b
}

func (c Control) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "AC<seq=%d", c.Seq)
	for _, f := range []struct {
		set  bool
		name string
	}{{c.FIR, "FIR"}, {c.FIN, "FIN"}, {c.CON, "CON"}, {c.UNS, "UNS"}} {
		if f.set {
			sb.WriteString(" " + f.name)
		}
	}
	sb.WriteString(">")
	return sb.String()
}

// IIN holds the internal indications, IIN1 in the low octet and IIN2 in the
// high octet.
type IIN uint16

// IIN1 bits
const (
	IINBroadcast IIN = 1 << iota
	IINClass1Events
	IINClass2Events
	IINClass3Events
	IINNeedTime
	IINLocalControl
	IINDeviceTrouble
	IINDeviceRestart
	// IIN2 bits
	IINFuncNotSupported
	IINObjectUnknown
	IINParameterError
	IINEventBufferOverflow
	IINAlreadyExecuting
	IINConfigCorrupt
	IINReserved1
	IINReserved2
)

// IINErrors groups the indications reporting a failed request.
const IINErrors = IINFuncNotSupported | IINObjectUnknown | IINParameterError |
	IINEventBufferOverflow | IINAlreadyExecuting | IINConfigCorrupt

var iinNames = [...]string{
	"BROADCAST", "CLASS_1_EVENTS", "CLASS_2_EVENTS", "CLASS_3_EVENTS",
	"NEED_TIME", "LOCAL_CONTROL", "DEVICE_TROUBLE", "DEVICE_RESTART",
	"NO_FUNC_CODE_SUPPORT", "OBJECT_UNKNOWN", "PARAMETER_ERROR", "EVENT_BUFFER_OVERFLOW",
	"ALREADY_EXECUTING", "CONFIG_CORRUPT", "RESERVED_1", "RESERVED_2",
}

// ParseIIN builds an IIN from its two wire octets.
func ParseIIN(iin1, iin2 byte) IIN {
	return IIN(iin1) | IIN(iin2)<<8
}

// Octets returns IIN1 and IIN2.
func (i IIN) Octets() (byte, byte) {
	return byte(i), byte(i >> 8)
}

// Has reports whether all bits of f are set.
func (i IIN) Has(f IIN) bool {
	return i&f == f
}

// HasErrors reports whether the outstation flagged a failed request.
func (i IIN) HasErrors() bool {
	return i&IINErrors != 0
}

func (i IIN) String() string {
	if i == 0 {
		return "IIN<>"
	}
	var names []string
	for bit := range iinNames {
		if i&(1<<bit) != 0 {
			names = append(names, iinNames[bit])
		}
	}
	return "IIN<" + strings.Join(names, "|") + ">"
}

// Header is the application header of a fragment. IIN is only present in
// responses.
type Header struct {
	Control  Control
	Function FunctionCode
	IIN      IIN
}

// Size returns the header length on the wire.
func (h Header) Size() int {
	if h.Function.IsResponse() {
		return 4
	}
	return 2
}

// ParseHeader decodes the application header at the start of a fragment.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < 2 {
		return Header{}, fmt.Errorf("%w: %d octet fragment", ErrInvalidFrame, len(data))
	}
	h := Header{Control: ParseControl(data[0]), Function: FunctionCode(data[1])}
	if h.Function.IsResponse() {
		if len(data) < 4 {
			return h, fmt.Errorf("%w: response without IIN", ErrInvalidFrame)
		}
		h.IIN = ParseIIN(data[2], data[3])
	}
	return h, nil
}

func (h Header) String() string {
	if h.Function.IsResponse() {
		return fmt.Sprintf("%s %s %s", h.Control, h.Function, h.IIN)
	}
	return fmt.Sprintf("%s %s", h.Control, h.Function)
}
