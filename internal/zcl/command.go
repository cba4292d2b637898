package zcl

import (
	"errors"
	"fmt"
)

// ErrMissingArgument is returned when a command argument was given neither
// positionally nor by name.
var ErrMissingArgument = errors.New("missing command argument")

// ResolveArgs merges positional and named arguments into schema order.
// Positional values fill the leading fields; named values fill the rest and
// may not repeat a field already given positionally.
func ResolveArgs(def *CommandDef, args []any, kwargs map[string]any) ([]any, error) {
	if len(args) > len(def.Args) {
		return nil, fmt.Errorf("command %s: %d arguments given, schema has %d", def.Name, len(args), len(def.Args))
	}
	out := make([]any, len(def.Args))
	for i, a := range def.Args {
		if i < len(args) {
			if _, dup := kwargs[a.Name]; dup {
				return nil, fmt.Errorf("command %s: argument %q given twice", def.Name, a.Name)
			}
			out[i] = args[i]
			continue
		}
		v, ok := kwargs[a.Name]
		if !ok {
			return nil, fmt.Errorf("command %s: %q: %w", def.Name, a.Name, ErrMissingArgument)
		}
		out[i] = v
	}
	for name := range kwargs {
		if def.ArgIndex(name) < 0 {
			return nil, fmt.Errorf("command %s: unknown argument %q", def.Name, name)
		}
	}
	return out, nil
}

// EncodeCommandPayload serializes the command arguments in schema order.
func EncodeCommandPayload(def *CommandDef, args []any, kwargs map[string]any) ([]byte, error) {
	values, err := ResolveArgs(def, args, kwargs)
	if err != nil {
		return nil, err
	}
	var payload []byte
	for i, a := range def.Args {
		b, err := EncodeValue(a.Type, values[i])
		if err != nil {
			return nil, fmt.Errorf("command %s: argument %q: %w", def.Name, a.Name, err)
		}
		payload = append(payload, b...)
	}
	return payload, nil
}

// DecodeCommandPayload is the inverse of EncodeCommandPayload. It returns the
// arguments keyed by name.
func DecodeCommandPayload(def *CommandDef, payload []byte) (map[string]any, error) {
	out := make(map[string]any, len(def.Args))
	off := 0
	for _, a := range def.Args {
		v, n, err := DecodeValue(a.Type, payload[off:])
		if err != nil {
			return nil, fmt.Errorf("command %s: argument %q: %w", def.Name, a.Name, err)
		}
		out[a.Name] = v
		off += n
	}
	return out, nil
}
