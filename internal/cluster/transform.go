package cluster

import (
	"fmt"
	"math"

	"zigbee-quirks/internal/zcl"
)

// Transform derives a target value from a source value. It must be pure.
type Transform func(value any) (any, error)

// Identity passes the value through.
func Identity() Transform {
	return func(v any) (any, error) { return v, nil }
}

// Scale multiplies numeric values by factor. Integers stay integers when
// factor is whole.
func Scale(factor float64) Transform {
	return func(v any) (any, error) {
		if n, ok := zcl.ToInt64(v); ok && factor == math.Trunc(factor) {
			if _, isBool := v.(bool); !isBool {
				return n * int64(factor), nil
			}
		}
		f, ok := zcl.ToFloat64(v)
		if !ok {
			return nil, fmt.Errorf("scale: %T is not numeric", v)
		}
		return f * factor, nil
	}
}

// Bool casts a value to a boolean; numbers are true when non-zero.
func Bool() Transform {
	return func(v any) (any, error) {
		b, ok := zcl.ToBool(v)
		if !ok {
			return nil, fmt.Errorf("bool: cannot cast %T", v)
		}
		return b, nil
	}
}

// Threshold maps a value to true when it equals on and to false when it
// equals off. Any other value is rejected.
func Threshold(on, off int64) Transform {
	return func(v any) (any, error) {
		n, ok := zcl.ToInt64(v)
		if !ok {
			return nil, fmt.Errorf("threshold: %T is not an integer", v)
		}
		switch n {
		case on:
			return true, nil
		case off:
			return false, nil
		}
		return nil, fmt.Errorf("threshold: %d is neither %d nor %d", n, on, off)
	}
}

// conform converts v to the declared type of attrID on def, rounding
// fractional values bound for integer attributes. Values the definition
// does not describe are returned unchanged.
func conform(def *zcl.ClusterDef, attrID uint16, v any) any {
	attr := def.FindAttribute(attrID)
	if attr == nil {
		return v
	}
	if f, ok := v.(float64); ok && attr.Type != zcl.TypeFloat32 {
		v = math.Round(f)
	}
	if c, err := zcl.Coerce(attr.Type, v); err == nil {
		return c
	}
	return v
}
