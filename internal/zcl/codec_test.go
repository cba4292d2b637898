package zcl

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		name   string
		typeID uint8
		in     any
		want   []byte
	}{
		{"bool true", TypeBool, true, []byte{0x01}},
		{"uint8 from int", TypeUint8, 254, []byte{0xFE}},
		{"uint16 little endian", TypeUint16, 0x1234, []byte{0x34, 0x12}},
		{"uint24", TypeUint24, 0x010203, []byte{0x03, 0x02, 0x01}},
		{"int16 negative", TypeInt16, -2, []byte{0xFE, 0xFF}},
		{"int16 from float", TypeInt16, float64(2150), []byte{0x66, 0x08}},
		{"enum8", TypeEnum8, uint8(3), []byte{0x03}},
		{"string", TypeCharStr, "abc", []byte{0x03, 'a', 'b', 'c'}},
		{"octets", TypeOctetStr, []byte{0xAA}, []byte{0x01, 0xAA}},
		{"float32 one", TypeFloat32, 1.0, []byte{0x00, 0x00, 0x80, 0x3F}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeValue(tt.typeID, tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got % X, want % X", got, tt.want)
			}
		})
	}
}

func TestEncodeValueRejectsOutOfRange(t *testing.T) {
	for _, tc := range []struct {
		typeID uint8
		in     any
	}{
		{TypeUint8, 256},
		{TypeUint8, -1},
		{TypeInt8, 128},
		{TypeInt16, 40000},
		{TypeUint16, 1.5},
		{TypeCharStr, 7},
	} {
		if _, err := EncodeValue(tc.typeID, tc.in); err == nil {
			t.Errorf("EncodeValue(%s, %v) succeeded", TypeName(tc.typeID), tc.in)
		}
	}
}

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		name   string
		typeID uint8
		in     []byte
		want   any
		n      int
	}{
		{"bool", TypeBool, []byte{0x00}, false, 1},
		{"uint8", TypeUint8, []byte{0x1E}, uint8(30), 1},
		{"uint16", TypeUint16, []byte{0x34, 0x12}, uint16(0x1234), 2},
		{"int16 sign", TypeInt16, []byte{0xFE, 0xFF}, int16(-2), 2},
		{"int24 sign", TypeInt24, []byte{0xFF, 0xFF, 0xFF}, int32(-1), 3},
		{"uint32", TypeUint32, []byte{0x01, 0x00, 0x00, 0x80}, uint32(0x80000001), 4},
		{"float32", TypeFloat32, []byte{0x00, 0x00, 0x80, 0x3F}, float32(1), 4},
		{"string", TypeCharStr, []byte{0x02, 'h', 'i', 0x99}, "hi", 3},
		{"invalid string", TypeCharStr, []byte{0xFF}, nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n, err := DecodeValue(tt.typeID, tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if n != tt.n {
				t.Errorf("consumed %d, want %d", n, tt.n)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeValueTruncated(t *testing.T) {
	if _, _, err := DecodeValue(TypeUint16, []byte{0x01}); err == nil {
		t.Error("expected error for short uint16")
	}
	if _, _, err := DecodeValue(TypeCharStr, []byte{0x05, 'a'}); err == nil {
		t.Error("expected error for short string")
	}
	if _, _, err := DecodeValue(0x48, []byte{0x00}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("err = %v, want ErrUnsupportedType", err)
	}
}

func TestCoerceCanonicalTypes(t *testing.T) {
	v, err := Coerce(TypeUint8, json.Number("42"))
	if err != nil {
		t.Fatal(err)
	}
	if v != uint8(42) {
		t.Errorf("got %#v, want uint8(42)", v)
	}

	v, err = Coerce(TypeBool, float64(20))
	if err != nil {
		t.Fatal(err)
	}
	if v != true {
		t.Errorf("got %#v, want true", v)
	}

	v, err = Coerce(TypeInt16, int64(-300))
	if err != nil {
		t.Fatal(err)
	}
	if v != int16(-300) {
		t.Errorf("got %#v, want int16(-300)", v)
	}
}

func TestTypeByName(t *testing.T) {
	id, ok := TypeByName("int16")
	if !ok || id != TypeInt16 {
		t.Errorf("TypeByName(int16) = 0x%02X, %v", id, ok)
	}
	if _, ok := TypeByName("nope"); ok {
		t.Error("unknown name resolved")
	}
}
