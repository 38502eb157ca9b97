// internal/model/value.go
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DataType enumerates the scalar kinds a data point value can carry
type DataType string

const (
	TypeBool   DataType = "BOOL"
	TypeInt16  DataType = "INT16"
	TypeUInt16 DataType = "UINT16"
	TypeInt32  DataType = "INT32"
	TypeUInt32 DataType = "UINT32"
	TypeInt64  DataType = "INT64"
	TypeUInt64 DataType = "UINT64"
	TypeFloat  DataType = "FLOAT"
	TypeDouble DataType = "DOUBLE"
	TypeString DataType = "STRING"
)

// Quality flags the trustworthiness of a single value independent of the
// request-level success flag
type Quality string

const (
	QualityGood         Quality = "GOOD"
	QualityBad          Quality = "BAD"
	QualityUncertain    Quality = "UNCERTAIN"
	QualityTimeout      Quality = "TIMEOUT"
	QualityNotConnected Quality = "NOT_CONNECTED"
	QualityNotFound     Quality = "NOT_FOUND"
)

// Value is a tagged union over the supported scalar kinds. Exactly one of
// the payload fields is meaningful, selected by Type.
type Value struct {
	Type DataType

	boolVal   bool
	intVal    int64
	uintVal   uint64
	floatVal  float64
	stringVal string
}

func BoolValue(b bool) Value { return Value{Type: TypeBool, boolVal: b} }

func StringValue(s string) Value { return Value{Type: TypeString, stringVal: s} }

// FloatValue builds a floating-point value of the given width tag.
func FloatValue(t DataType, f float64) Value { return Value{Type: t, floatVal: f} }

// IntValue builds a signed integer value of the given width tag.
func IntValue(t DataType, i int64) Value { return Value{Type: t, intVal: i} }

// UintValue builds an unsigned integer value of the given width tag.
func UintValue(t DataType, u uint64) Value { return Value{Type: t, uintVal: u} }

// Bool returns the boolean payload.
func (v Value) Bool() bool { return v.boolVal }

// Int returns the signed integer payload.
func (v Value) Int() int64 { return v.intVal }

// Uint returns the unsigned integer payload.
func (v Value) Uint() uint64 { return v.uintVal }

// Float returns the floating-point payload.
func (v Value) Float() float64 { return v.floatVal }

// Interface renders the value as the native scalar used on the wire.
func (v Value) Interface() interface{} {
	switch v.Type {
	case TypeBool:
		return v.boolVal
	case TypeInt16, TypeInt32, TypeInt64:
		return v.intVal
	case TypeUInt16, TypeUInt32, TypeUInt64:
		return v.uintVal
	case TypeFloat, TypeDouble:
		return v.floatVal
	case TypeString:
		return v.stringVal
	default:
		return nil
	}
}

// String renders the value textually.
func (v Value) String() string {
	switch v.Type {
	case TypeBool:
		return strconv.FormatBool(v.boolVal)
	case TypeInt16, TypeInt32, TypeInt64:
		return strconv.FormatInt(v.intVal, 10)
	case TypeUInt16, TypeUInt32, TypeUInt64:
		return strconv.FormatUint(v.uintVal, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.floatVal, 'g', -1, 32)
	case TypeDouble:
		return strconv.FormatFloat(v.floatVal, 'g', -1, 64)
	case TypeString:
		return v.stringVal
	default:
		return ""
	}
}

// MarshalJSON writes the native scalar representation.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// intBits returns the bit width and signedness for integer tags.
func intBits(t DataType) (bits int, signed bool, ok bool) {
	switch t {
	case TypeInt16:
		return 16, true, true
	case TypeUInt16:
		return 16, false, true
	case TypeInt32:
		return 32, true, true
	case TypeUInt32:
		return 32, false, true
	case TypeInt64:
		return 64, true, true
	case TypeUInt64:
		return 64, false, true
	}
	return 0, false, false
}

// Convert coerces a raw decoded JSON scalar into a Value of the target tag.
// Conversion is total over the supported pairs; anything else is an error,
// never a silent truncation.
func Convert(raw interface{}, target DataType) (Value, error) {
	switch target {
	case TypeBool:
		return convertBool(raw)
	case TypeInt16, TypeInt32, TypeInt64:
		return convertInt(raw, target)
	case TypeUInt16, TypeUInt32, TypeUInt64:
		return convertUint(raw, target)
	case TypeFloat, TypeDouble:
		return convertFloat(raw, target)
	case TypeString:
		return convertString(raw)
	default:
		return Value{}, fmt.Errorf("unsupported data type: %s", target)
	}
}

func convertBool(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case bool:
		return BoolValue(t), nil
	case string:
		switch strings.ToLower(t) {
		case "true":
			return BoolValue(true), nil
		case "false":
			return BoolValue(false), nil
		}
		return Value{}, fmt.Errorf("cannot convert %q to BOOL", t)
	case float64:
		return BoolValue(t != 0), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("cannot convert %q to BOOL", t.String())
		}
		return BoolValue(f != 0), nil
	default:
		return Value{}, fmt.Errorf("cannot convert %T to BOOL", raw)
	}
}

func convertInt(raw interface{}, target DataType) (Value, error) {
	bits, _, _ := intBits(target)
	switch t := raw.(type) {
	case float64:
		if t != math.Trunc(t) {
			return Value{}, fmt.Errorf("cannot convert non-integer %v to %s", t, target)
		}
		i := int64(t)
		if err := checkIntRange(i, bits); err != nil {
			return Value{}, fmt.Errorf("value %v out of range for %s", t, target)
		}
		return IntValue(target, i), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, bits)
		if err != nil {
			return Value{}, fmt.Errorf("cannot convert %q to %s: %w", t, target, err)
		}
		return IntValue(target, i), nil
	case json.Number:
		i, err := strconv.ParseInt(t.String(), 10, bits)
		if err != nil {
			return Value{}, fmt.Errorf("cannot convert %q to %s: %w", t.String(), target, err)
		}
		return IntValue(target, i), nil
	case bool:
		if t {
			return IntValue(target, 1), nil
		}
		return IntValue(target, 0), nil
	default:
		return Value{}, fmt.Errorf("cannot convert %T to %s", raw, target)
	}
}

func convertUint(raw interface{}, target DataType) (Value, error) {
	bits, _, _ := intBits(target)
	switch t := raw.(type) {
	case float64:
		if t != math.Trunc(t) || t < 0 {
			return Value{}, fmt.Errorf("cannot convert %v to %s", t, target)
		}
		u := uint64(t)
		if bits < 64 && u > (uint64(1)<<uint(bits))-1 {
			return Value{}, fmt.Errorf("value %v out of range for %s", t, target)
		}
		return UintValue(target, u), nil
	case string:
		u, err := strconv.ParseUint(strings.TrimSpace(t), 10, bits)
		if err != nil {
			return Value{}, fmt.Errorf("cannot convert %q to %s: %w", t, target, err)
		}
		return UintValue(target, u), nil
	case json.Number:
		u, err := strconv.ParseUint(t.String(), 10, bits)
		if err != nil {
			return Value{}, fmt.Errorf("cannot convert %q to %s: %w", t.String(), target, err)
		}
		return UintValue(target, u), nil
	case bool:
		if t {
			return UintValue(target, 1), nil
		}
		return UintValue(target, 0), nil
	default:
		return Value{}, fmt.Errorf("cannot convert %T to %s", raw, target)
	}
}

func convertFloat(raw interface{}, target DataType) (Value, error) {
	switch t := raw.(type) {
	case float64:
		if target == TypeFloat && !math.IsInf(t, 0) && math.Abs(t) > math.MaxFloat32 {
			return Value{}, fmt.Errorf("value %v out of range for %s", t, target)
		}
		return FloatValue(target, t), nil
	case string:
		bits := 64
		if target == TypeFloat {
			bits = 32
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(t), bits)
		if err != nil {
			return Value{}, fmt.Errorf("cannot convert %q to %s: %w", t, target, err)
		}
		return FloatValue(target, f), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("cannot convert %q to %s: %w", t.String(), target, err)
		}
		return FloatValue(target, f), nil
	default:
		return Value{}, fmt.Errorf("cannot convert %T to %s", raw, target)
	}
}

func convertString(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case string:
		return StringValue(t), nil
	case bool:
		return StringValue(strconv.FormatBool(t)), nil
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return StringValue(strconv.FormatInt(int64(t), 10)), nil
		}
		return StringValue(strconv.FormatFloat(t, 'g', -1, 64)), nil
	case json.Number:
		return StringValue(t.String()), nil
	default:
		return Value{}, fmt.Errorf("cannot convert %T to STRING", raw)
	}
}

func checkIntRange(i int64, bits int) error {
	if bits >= 64 {
		return nil
	}
	max := int64(1)<<uint(bits-1) - 1
	min := -(int64(1) << uint(bits-1))
	if i < min || i > max {
		return fmt.Errorf("out of range")
	}
	return nil
}
