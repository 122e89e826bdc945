package protocol

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"
	"strings"
)

// NewEnvelope builds an outbound envelope. Data is marshaled leniently: fields
// that cannot be represented in JSON are omitted instead of failing the message.
func NewEnvelope(msgType string, data any) Envelope {
	return Envelope{Type: msgType, Data: MarshalLenient(data)}
}

// EncodeEnvelope writes env to w as a single newline-terminated JSON line.
func EncodeEnvelope(w io.Writer, env Envelope) error {
	if env.Type == "" {
		return fmt.Errorf("envelope missing required field: type")
	}
	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("failed to write envelope: %w", err)
	}
	return nil
}

// DecodeEnvelope parses one line received from the engine.
func DecodeEnvelope(line []byte) (Envelope, error) {
	var env Envelope
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return env, fmt.Errorf("empty line")
	}
	if err := json.Unmarshal(line, &env); err != nil {
		return env, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("envelope missing required field: type")
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into T. A missing or null payload
// yields the zero value.
func DecodeData[T any](env Envelope) (T, error) {
	var out T
	if len(env.Data) == 0 || bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		return out, nil
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("decode %s data: %w", env.Type, err)
	}
	return out, nil
}

// DecodeLog reads a LOG payload, which the engine sends either as a bare
// string or as {value, level}.
func DecodeLog(env Envelope) LogData {
	var s string
	if err := json.Unmarshal(env.Data, &s); err == nil {
		return LogData{Value: s}
	}
	var ld LogData
	if err := json.Unmarshal(env.Data, &ld); err != nil {
		return LogData{Value: string(env.Data)}
	}
	return ld
}

// MarshalLenient marshals v to JSON, dropping anything encoding/json rejects:
// channels, funcs, complex numbers, NaN/Inf floats, failing Marshalers and
// pointer cycles. It never fails; at worst it returns null.
func MarshalLenient(v any) json.RawMessage {
	if b, err := json.Marshal(v); err == nil {
		return b
	}
	clean, ok := sanitize(reflect.ValueOf(v), make(map[uintptr]bool))
	if !ok {
		return json.RawMessage("null")
	}
	b, err := json.Marshal(clean)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

var (
	marshalerType     = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// sanitize converts v into a tree of maps, slices and scalars that
// encoding/json accepts. The bool is false when v itself must be dropped.
func sanitize(v reflect.Value, visiting map[uintptr]bool) (any, bool) {
	if !v.IsValid() {
		return nil, true
	}

	if v.Type().Implements(marshalerType) || v.Type().Implements(textMarshalerType) {
		if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && v.IsNil() {
			return nil, true
		}
		b, err := json.Marshal(v.Interface())
		if err != nil {
			return nil, false
		}
		return json.RawMessage(b), true
	}

	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil, false

	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		return f, true

	case reflect.Interface:
		if v.IsNil() {
			return nil, true
		}
		return sanitize(v.Elem(), visiting)

	case reflect.Pointer:
		if v.IsNil() {
			return nil, true
		}
		ptr := v.Pointer()
		if visiting[ptr] {
			return nil, false
		}
		visiting[ptr] = true
		defer delete(visiting, ptr)
		return sanitize(v.Elem(), visiting)

	case reflect.Map:
		if v.IsNil() {
			return nil, true
		}
		ptr := v.Pointer()
		if visiting[ptr] {
			return nil, false
		}
		visiting[ptr] = true
		defer delete(visiting, ptr)

		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key, ok := mapKey(iter.Key())
			if !ok {
				return nil, false
			}
			if val, ok := sanitize(iter.Value(), visiting); ok {
				out[key] = val
			}
		}
		return out, true

	case reflect.Slice:
		if v.IsNil() {
			return nil, true
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Bytes(), true
		}
		ptr := v.Pointer()
		if visiting[ptr] {
			return nil, false
		}
		visiting[ptr] = true
		defer delete(visiting, ptr)
		return sanitizeList(v, visiting), true

	case reflect.Array:
		return sanitizeList(v, visiting), true

	case reflect.Struct:
		out := make(map[string]any)
		sanitizeStruct(v, out, visiting)
		return out, true

	default:
		return v.Interface(), true
	}
}

// sanitizeList keeps positions stable: a dropped element becomes null.
func sanitizeList(v reflect.Value, visiting map[uintptr]bool) []any {
	out := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		if val, ok := sanitize(v.Index(i), visiting); ok {
			out[i] = val
		}
	}
	return out
}

func sanitizeStruct(v reflect.Value, out map[string]any, visiting map[uintptr]bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, omitEmpty, skip := fieldName(field)
		if skip {
			continue
		}
		fv := v.Field(i)

		if field.Anonymous && field.Tag.Get("json") == "" {
			ft := field.Type
			if ft.Kind() == reflect.Pointer {
				if fv.IsNil() {
					continue
				}
				fv = fv.Elem()
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				sanitizeStruct(fv, out, visiting)
				continue
			}
		}
		if !field.IsExported() {
			continue
		}
		if omitEmpty && fv.IsZero() {
			continue
		}
		if val, ok := sanitize(fv, visiting); ok {
			out[name] = val
		}
	}
}

func fieldName(field reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = field.Name
	if tag == "" {
		return name, false, false
	}
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

func mapKey(k reflect.Value) (string, bool) {
	if k.Kind() == reflect.String {
		return k.String(), true
	}
	if k.Type().Implements(textMarshalerType) {
		b, err := k.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return "", false
		}
		return string(b), true
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprintf("%d", k.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return fmt.Sprintf("%d", k.Uint()), true
	}
	return "", false
}
