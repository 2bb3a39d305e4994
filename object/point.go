// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package object

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Class is the generic point class of a group (the "tens digit" of the
// group number shifted into the high nibble).
type Class byte

// Point classes.
const (
	ClassBinaryInput  Class = 0x00 // groups 1, 2
	ClassBinaryOutput Class = 0x10 // groups 10, 11, 12
	ClassCounter      Class = 0x20 // groups 20..23
	ClassAnalogInput  Class = 0x30 // groups 30..34
	ClassAnalogOutput Class = 0x40 // groups 40..42
	ClassTime         Class = 0x50 // groups 50..52
	ClassData         Class = 0x60 // group 60
	ClassIIN          Class = 0x80 // group 80
)

// ClassOf returns the generic class of a group.
func ClassOf(group byte) Class {
	return Class((group / 10) << 4)
}

// IsPointClass reports whether points of this class are kept in the database.
func (c Class) IsPointClass() bool {
	return c <= ClassAnalogOutput && c&0x0F == 0
}

func (c Class) String() string {
	switch c {
	case ClassBinaryInput:
		return "BinaryInput"
	case ClassBinaryOutput:
		return "BinaryOutput"
	case ClassCounter:
		return "Counter"
	case ClassAnalogInput:
		return "AnalogInput"
	case ClassAnalogOutput:
		return "AnalogOutput"
	case ClassTime:
		return "Time"
	case ClassData:
		return "ClassData"
	case ClassIIN:
		return "InternalIndications"
	default:
		return fmt.Sprintf("Class(0x%02X)", byte(c))
	}
}

// Quality is the flag octet carried by most static and event objects. Bits
// 5 and 6 change meaning with the point class.
type Quality byte

// Quality bits.
const (
	QualityOnline       Quality = 0x01
	QualityRestart      Quality = 0x02
	QualityCommLost     Quality = 0x04
	QualityRemoteForced Quality = 0x08
	QualityLocalForced  Quality = 0x10
	// binary inputs
	QualityChatterFilter Quality = 0x20
	// counters
	QualityRollover      Quality = 0x20
	QualityDiscontinuity Quality = 0x40
	// analogs
	QualityOverRange      Quality = 0x20
	QualityReferenceError Quality = 0x40
	// binary state, only inside the flag octet on the wire
	QualityState Quality = 0x80
)

// Online reports the ONLINE bit.
func (q Quality) Online() bool { return q&QualityOnline != 0 }

// Unreliable reports whether a value of class c with this quality should not
// be trusted.
func (q Quality) Unreliable(c Class) bool {
	bad := !q.Online() || q&(QualityCommLost|QualityRemoteForced|QualityLocalForced) != 0
	switch c {
	case ClassAnalogInput, ClassAnalogOutput:
		return bad || q&(QualityRestart|QualityOverRange|QualityReferenceError) != 0
	case ClassCounter:
		return bad || q&(QualityRollover|QualityDiscontinuity) != 0
	case ClassBinaryInput:
		return bad || q&QualityChatterFilter != 0
	case ClassBinaryOutput:
		return bad
	default:
		return false
	}
}

func (q Quality) String() string {
	names := []struct {
		bit  Quality
		name string
	}{
		{QualityOnline, "ONLINE"},
		{QualityRestart, "RESTART"},
		{QualityCommLost, "COMM_LOST"},
		{QualityRemoteForced, "REMOTE_FORCED"},
		{QualityLocalForced, "LOCAL_FORCED"},
		{0x20, "B5"},
		{0x40, "B6"},
	}
	var parts []string
	for _, n := range names {
		if q&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "OFFLINE"
	}
	return strings.Join(parts, "|")
}

// ValueType tags the active member of Value.
type ValueType byte

// Value types.
const (
	TypeNone ValueType = iota
	TypeBool
	TypeInt
	TypeFloat  // IEEE-754 single precision
	TypeDouble // IEEE-754 double precision
	TypeStatus // control status octet
)

// Value is the decoded measurement of a point.
type Value struct {
	Type  ValueType
	Bool  bool
	Int   int64
	Float float64
}

// BoolValue returns a boolean value.
func BoolValue(b bool) Value { return Value{Type: TypeBool, Bool: b} }

// IntValue returns an integer value.
func IntValue(i int64) Value { return Value{Type: TypeInt, Int: i} }

// FloatValue returns a single precision value.
func FloatValue(f float32) Value { return Value{Type: TypeFloat, Float: float64(f)} }

// DoubleValue returns a double precision value.
func DoubleValue(f float64) Value { return Value{Type: TypeDouble, Float: f} }

// StatusValue returns a control status value.
func StatusValue(s byte) Value { return Value{Type: TypeStatus, Int: int64(s)} }

// Float64 converts any numeric value to float64. Booleans map to 0/1.
func (v Value) Float64() float64 {
	switch v.Type {
	case TypeBool:
		if v.Bool {
			return 1
		}
		return 0
	case TypeInt, TypeStatus:
		return float64(v.Int)
	case TypeFloat, TypeDouble:
		return v.Float
	default:
		return math.NaN()
	}
}

func (v Value) String() string {
	switch v.Type {
	case TypeBool:
		return fmt.Sprint(v.Bool)
	case TypeInt:
		return fmt.Sprint(v.Int)
	case TypeFloat, TypeDouble:
		return fmt.Sprint(v.Float)
	case TypeStatus:
		return fmt.Sprintf("status=%d", v.Int)
	default:
		return "-"
	}
}

// CROB is a control relay output block (group 12).
type CROB struct {
	Code    byte
	Count   byte
	OnTime  uint32 // ms
	OffTime uint32 // ms
	Status  byte
}

// Control codes for CROB.Code.
const (
	CodeNul      byte = 0x00
	CodePulseOn  byte = 0x01
	CodePulseOff byte = 0x02
	CodeLatchOn  byte = 0x03
	CodeLatchOff byte = 0x04
	CodeClose    byte = 0x41 // pulse on, trip/close = close
	CodeTrip     byte = 0x81 // pulse on, trip/close = trip
	CodeQueue    byte = 0x10
	CodeClear    byte = 0x20
)

// Point is one decoded object instance. Points are immutable once built by
// the decoder.
type Point struct {
	Index     uint32
	Class     Class
	Group     byte
	Variation byte
	// Timestamp in ms since the Unix epoch. DeviceTime tells whether it came
	// from the outstation or was stamped on reception.
	Timestamp  int64
	DeviceTime bool
	Quality    Quality
	Value      Value
	// Status is the control status echoed by command objects, or the
	// interval units of g50v4.
	Status  byte
	Control *CROB
}

// Time returns the timestamp as time.Time.
func (p Point) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// Unreliable reports whether the quality flags mark the value as unusable.
func (p Point) Unreliable() bool {
	return p.Quality.Unreliable(p.Class)
}

func (p Point) String() string {
	return fmt.Sprintf("g%dv%d[%d] %s q=%s t=%d", p.Group, p.Variation, p.Index, p.Value, p.Quality, p.Timestamp)
}
