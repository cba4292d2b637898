package zcl

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ZCL data type IDs
const (
	TypeNoData   uint8 = 0x00
	TypeBool     uint8 = 0x10
	TypeBitmap8  uint8 = 0x18
	TypeBitmap16 uint8 = 0x19
	TypeBitmap32 uint8 = 0x1B
	TypeUint8    uint8 = 0x20
	TypeUint16   uint8 = 0x21
	TypeUint24   uint8 = 0x22
	TypeUint32   uint8 = 0x23
	TypeInt8     uint8 = 0x28
	TypeInt16    uint8 = 0x29
	TypeInt24    uint8 = 0x2A
	TypeInt32    uint8 = 0x2B
	TypeEnum8    uint8 = 0x30
	TypeEnum16   uint8 = 0x31
	TypeFloat32  uint8 = 0x39
	TypeOctetStr uint8 = 0x41
	TypeCharStr  uint8 = 0x42
	TypeUTC      uint8 = 0xE2
	TypeEUI64    uint8 = 0xF0
)

// ErrUnsupportedType is returned for data types the codec does not handle.
var ErrUnsupportedType = errors.New("unsupported zcl data type")

type kind int

const (
	kindNone kind = iota
	kindBool
	kindUnsigned
	kindSigned
	kindFloat
	kindString
	kindOctets
	kindEUI64
)

type typeInfo struct {
	name string
	kind kind
	size int // bytes on the wire; 0 for length-prefixed
}

var types = map[uint8]typeInfo{
	TypeNoData:   {"nodata", kindNone, 0},
	TypeBool:     {"bool", kindBool, 1},
	TypeBitmap8:  {"map8", kindUnsigned, 1},
	TypeBitmap16: {"map16", kindUnsigned, 2},
	TypeBitmap32: {"map32", kindUnsigned, 4},
	TypeUint8:    {"uint8", kindUnsigned, 1},
	TypeUint16:   {"uint16", kindUnsigned, 2},
	TypeUint24:   {"uint24", kindUnsigned, 3},
	TypeUint32:   {"uint32", kindUnsigned, 4},
	TypeInt8:     {"int8", kindSigned, 1},
	TypeInt16:    {"int16", kindSigned, 2},
	TypeInt24:    {"int24", kindSigned, 3},
	TypeInt32:    {"int32", kindSigned, 4},
	TypeEnum8:    {"enum8", kindUnsigned, 1},
	TypeEnum16:   {"enum16", kindUnsigned, 2},
	TypeFloat32:  {"float32", kindFloat, 4},
	TypeOctetStr: {"octstr", kindOctets, 0},
	TypeCharStr:  {"string", kindString, 0},
	TypeUTC:      {"UTC", kindUnsigned, 4},
	TypeEUI64:    {"EUI64", kindEUI64, 8},
}

// TypeName returns a human-readable name for a ZCL type.
func TypeName(typeID uint8) string {
	if ti, ok := types[typeID]; ok {
		return ti.name
	}
	return fmt.Sprintf("0x%02X", typeID)
}

// TypeByName resolves a type name as printed by TypeName.
func TypeByName(name string) (uint8, bool) {
	for id, ti := range types {
		if ti.name == name {
			return id, true
		}
	}
	return 0, false
}

func lookupType(typeID uint8) (typeInfo, error) {
	ti, ok := types[typeID]
	if !ok {
		return typeInfo{}, fmt.Errorf("type 0x%02X: %w", typeID, ErrUnsupportedType)
	}
	return ti, nil
}

// Coerce converts v into the canonical Go representation for typeID:
// uintN for unsigned kinds, intN for signed kinds, float32, bool, string,
// []byte or [8]byte. Values out of range for the type are rejected.
func Coerce(typeID uint8, v any) (any, error) {
	ti, err := lookupType(typeID)
	if err != nil {
		return nil, err
	}
	switch ti.kind {
	case kindNone:
		return nil, nil
	case kindBool:
		b, ok := ToBool(v)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to %s", v, ti.name)
		}
		return b, nil
	case kindUnsigned:
		n, ok := ToInt64(v)
		max := int64(1)<<(8*ti.size) - 1
		if !ok || n < 0 || n > max {
			return nil, fmt.Errorf("zcl: %v out of range for %s", v, ti.name)
		}
		switch ti.size {
		case 1:
			return uint8(n), nil
		case 2:
			return uint16(n), nil
		default:
			return uint32(n), nil
		}
	case kindSigned:
		n, ok := ToInt64(v)
		lim := int64(1) << (8*ti.size - 1)
		if !ok || n < -lim || n >= lim {
			return nil, fmt.Errorf("zcl: %v out of range for %s", v, ti.name)
		}
		switch ti.size {
		case 1:
			return int8(n), nil
		case 2:
			return int16(n), nil
		default:
			return int32(n), nil
		}
	case kindFloat:
		f, ok := ToFloat64(v)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to %s", v, ti.name)
		}
		return float32(f), nil
	case kindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to %s", v, ti.name)
		}
		if len(s) > 254 {
			return nil, fmt.Errorf("zcl: string too long: %d (max 254)", len(s))
		}
		return s, nil
	case kindOctets:
		var b []byte
		switch o := v.(type) {
		case []byte:
			b = append([]byte(nil), o...)
		case string:
			b = []byte(o)
		default:
			return nil, fmt.Errorf("zcl: cannot convert %T to %s", v, ti.name)
		}
		if len(b) > 254 {
			return nil, fmt.Errorf("zcl: octets too long: %d (max 254)", len(b))
		}
		return b, nil
	case kindEUI64:
		switch a := v.(type) {
		case [8]byte:
			return a, nil
		case []byte:
			if len(a) == 8 {
				var out [8]byte
				copy(out[:], a)
				return out, nil
			}
		}
		return nil, fmt.Errorf("zcl: cannot convert %T to %s", v, ti.name)
	}
	return nil, fmt.Errorf("type 0x%02X: %w", typeID, ErrUnsupportedType)
}

// EncodeValue encodes a Go value into ZCL wire format (little-endian).
func EncodeValue(typeID uint8, v any) ([]byte, error) {
	c, err := Coerce(typeID, v)
	if err != nil {
		return nil, err
	}
	ti := types[typeID]
	switch val := c.(type) {
	case nil:
		return nil, nil
	case bool:
		if val {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case uint8, uint16, uint32, int8, int16, int32:
		n, _ := ToInt64(val)
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(n))
		return buf[:ti.size], nil
	case float32:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(val))
		return buf, nil
	case string:
		return append([]byte{byte(len(val))}, val...), nil
	case []byte:
		return append([]byte{byte(len(val))}, val...), nil
	case [8]byte:
		return append([]byte(nil), val[:]...), nil
	}
	return nil, fmt.Errorf("type 0x%02X: %w", typeID, ErrUnsupportedType)
}

// DecodeValue decodes one value of typeID from data, returning the value
// and the number of bytes consumed.
func DecodeValue(typeID uint8, data []byte) (any, int, error) {
	ti, err := lookupType(typeID)
	if err != nil {
		return nil, 0, err
	}
	if ti.size == 0 && ti.kind != kindNone {
		if len(data) < 1 {
			return nil, 0, fmt.Errorf("zcl: no length byte for %s", ti.name)
		}
		n := int(data[0])
		if n == 0xFF {
			return nil, 1, nil
		}
		if len(data) < 1+n {
			return nil, 0, fmt.Errorf("zcl: %s truncated: need %d, have %d", ti.name, n, len(data)-1)
		}
		if ti.kind == kindString {
			return string(data[1 : 1+n]), 1 + n, nil
		}
		return append([]byte(nil), data[1:1+n]...), 1 + n, nil
	}
	if len(data) < ti.size {
		return nil, 0, fmt.Errorf("zcl: not enough data for %s: need %d, have %d", ti.name, ti.size, len(data))
	}
	var raw uint64
	for i := ti.size - 1; i >= 0; i-- {
		raw = raw<<8 | uint64(data[i])
	}
	switch ti.kind {
	case kindNone:
		return nil, 0, nil
	case kindBool:
		return data[0] != 0, 1, nil
	case kindUnsigned:
		v, err := Coerce(typeID, int64(raw))
		return v, ti.size, err
	case kindSigned:
		shift := 64 - 8*ti.size
		v, err := Coerce(typeID, int64(raw<<shift)>>shift)
		return v, ti.size, err
	case kindFloat:
		return math.Float32frombits(uint32(raw)), 4, nil
	case kindEUI64:
		var a [8]byte
		copy(a[:], data[:8])
		return a, 8, nil
	}
	return nil, 0, fmt.Errorf("type 0x%02X: %w", typeID, ErrUnsupportedType)
}

// ToBool interprets v as a boolean. Numbers are true when non-zero.
func ToBool(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	if f, ok := ToFloat64(v); ok {
		return f != 0, true
	}
	return false, false
}

// ToInt64 converts integer, whole float and json.Number values to int64.
func ToInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint:
		return int64(val), true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		if val > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	case float32:
		return floatToInt(float64(val))
	case float64:
		return floatToInt(val)
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, true
		}
		if f, err := val.Float64(); err == nil {
			return floatToInt(f)
		}
	}
	return 0, false
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// ToFloat64 converts any numeric value to float64.
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case bool:
		return 0, false
	}
	if n, ok := ToInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}
