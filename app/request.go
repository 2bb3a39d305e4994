// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package app

import (
	"fmt"
	"math"
	"time"

	"github.com/riclolsen/go-dnp3/object"
)

// object groups used by the request builders
const (
	groupClass        byte = 60
	groupCROB         byte = 12
	groupAnalogOutput byte = 41
	groupTime         byte = 50
	groupIIN          byte = 80
	groupCounter      byte = 20

	// bit 7 of IIN1 in g80v1 addressing
	iinRestartIndex = 7
)

// Request is an application request without its control octet, which is
// assigned when the request is sent.
type Request struct {
	Function FunctionCode
	Objects  []byte
}

// NewRequest builds a request from raw object headers and data.
func NewRequest(fc FunctionCode, objects ...[]byte) *Request {
	r := &Request{Function: fc}
	for _, o := range objects {
		r.Objects = append(r.Objects, o...)
	}
	return r
}

// Marshal returns the request fragment with the given sequence number.
// con asks the outstation to confirm.
func (r *Request) Marshal(seq uint8, con bool) []byte {
	out := make([]byte, 0, 2+len(r.Objects))
	ctrl := Control{FIR: true, FIN: true, CON: con, Seq: seq}
	out = append(out, ctrl.Value(), byte(r.Function))
	return append(out, r.Objects...)
}

// ExpectsResponse reports whether the outstation answers the request.
func (r *Request) ExpectsResponse() bool {
	switch r.Function {
	case FuncDirectOperateNoAck, FuncImmediateFreezeNoAck, FuncConfirm:
		return false
	}
	return true
}

func (r *Request) String() string {
	return fmt.Sprintf("%s [% X]", r.Function, r.Objects)
}

func classHeaders(classes []int) [][]byte {
	var out [][]byte
	for _, c := range classes {
		if c < 0 || c > 3 {
			continue
		}
		out = append(out, headerAll(groupClass, byte(c+1)))
	}
	return out
}

// ReadClass reads the given classes, 0 being static data.
func ReadClass(classes ...int) *Request {
	return NewRequest(FuncRead, classHeaders(classes)...)
}

// ReadStaticData reads class 0.
func ReadStaticData() *Request {
	return ReadClass(0)
}

// ReadAllEventData reads classes 1, 2 and 3.
func ReadAllEventData() *Request {
	return ReadClass(1, 2, 3)
}

// Integrity reads all event classes followed by static data.
func Integrity() *Request {
	return ReadClass(1, 2, 3, 0)
}

// ReadRange reads points start..stop of one group and variation.
func ReadRange(group, variation byte, start, stop uint16) *Request {
	return NewRequest(FuncRead, headerRange(group, variation, start, stop))
}

// ReadAll reads every point of one group and variation.
func ReadAll(group, variation byte) *Request {
	return NewRequest(FuncRead, headerAll(group, variation))
}

func isControl(fc FunctionCode) bool {
	switch fc {
	case FuncSelect, FuncOperate, FuncDirectOperate, FuncDirectOperateNoAck:
		return true
	}
	return false
}

// BinaryCommand builds a g12v1 control relay output block request.
func BinaryCommand(fc FunctionCode, index uint16, crob object.CROB) (*Request, error) {
	if !isControl(fc) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFunction, fc)
	}
	crob.Status = 0
	data, err := object.Encode(groupCROB, 1, object.Point{Control: &crob})
	if err != nil {
		return nil, err
	}
	return NewRequest(fc, headerIndexed(groupCROB, 1, index), data), nil
}

// AnalogCommand builds a g41 analog output block request. variation 1 and 2
// carry 32 and 16 bit integers, 3 and 4 single and double floats.
func AnalogCommand(fc FunctionCode, variation byte, index uint16, value float64) (*Request, error) {
	if !isControl(fc) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFunction, fc)
	}
	if (variation == 1 || variation == 2) && (math.IsNaN(value) || math.IsInf(value, 0)) {
		return nil, fmt.Errorf("%w: %v for integer g41v%d", ErrInvalidValue, value, variation)
	}
	var v object.Value
	switch variation {
	case 1:
		if value < -2147483648 || value > 2147483647 {
			return nil, fmt.Errorf("%w: %v overflows g41v1", ErrInvalidValue, value)
		}
		v = object.IntValue(int64(value))
	case 2:
		if value < -32768 || value > 32767 {
			return nil, fmt.Errorf("%w: %v overflows g41v2", ErrInvalidValue, value)
		}
		v = object.IntValue(int64(value))
	case 3:
		v = object.FloatValue(float32(value))
	case 4:
		v = object.DoubleValue(value)
	default:
		return nil, fmt.Errorf("%w: g41v%d", object.ErrUnsupportedObject, variation)
	}
	data, err := object.Encode(groupAnalogOutput, variation, object.Point{Value: v})
	if err != nil {
		return nil, err
	}
	return NewRequest(fc, headerIndexed(groupAnalogOutput, variation, index), data), nil
}

// WriteTime writes the outstation clock with g50v1.
func WriteTime(t time.Time) *Request {
	data, _ := object.Encode(groupTime, 1, object.Point{Timestamp: t.UnixMilli()})
	return NewRequest(FuncWrite, headerCount(groupTime, 1, 1), data)
}

// ClearRestart clears the device restart indication.
func ClearRestart() *Request {
	return NewRequest(FuncWrite, headerRange(groupIIN, 1, iinRestartIndex, iinRestartIndex), []byte{0x00})
}

// ColdRestart asks for a full restart of the outstation.
func ColdRestart() *Request {
	return NewRequest(FuncColdRestart)
}

// WarmRestart asks for a restart of the outstation application.
func WarmRestart() *Request {
	return NewRequest(FuncWarmRestart)
}

// DelayMeasurement asks for the outstation turnaround time.
func DelayMeasurement() *Request {
	return NewRequest(FuncDelayMeasure)
}

// EnableUnsolicited enables unsolicited reporting of event classes 1..3.
func EnableUnsolicited(classes ...int) *Request {
	return NewRequest(FuncEnableUnsolicited, classHeaders(eventClasses(classes))...)
}

// DisableUnsolicited disables unsolicited reporting of event classes 1..3.
func DisableUnsolicited(classes ...int) *Request {
	return NewRequest(FuncDisableUnsolicited, classHeaders(eventClasses(classes))...)
}

func eventClasses(classes []int) []int {
	if len(classes) == 0 {
		return []int{1, 2, 3}
	}
	out := classes[:0:0]
	for _, c := range classes {
		if c >= 1 && c <= 3 {
			out = append(out, c)
		}
	}
	return out
}

// ImmediateFreeze freezes all counters.
func ImmediateFreeze() *Request {
	return NewRequest(FuncImmediateFreeze, headerAll(groupCounter, 0))
}
