package marshal

import (
	"math"
	"reflect"
	"strconv"
	"unicode/utf8"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/yaroher/go-protoplus/errs"
)

// coerceKind converts a native scalar into the Go type protoreflect uses for
// kind. Integers are range checked against the declared width; floats are
// accepted for float kinds only.
func coerceKind(field string, kind protoreflect.Kind, v any) (any, error) {
	v = deref(v)
	switch kind {
	case protoreflect.BoolKind:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, errs.Mismatch(field, "bool", v)
	case protoreflect.StringKind:
		var s string
		switch x := v.(type) {
		case string:
			s = x
		case []byte:
			s = string(x)
		default:
			return nil, errs.Mismatch(field, "string", v)
		}
		if !utf8.ValidString(s) {
			return nil, errs.TypeMismatchError{Field: field, Expected: "valid UTF-8 string", Got: "invalid UTF-8"}
		}
		return s, nil
	case protoreflect.BytesKind:
		if b, ok := v.([]byte); ok {
			return b, nil
		}
		return nil, errs.Mismatch(field, "bytes", v)
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, err := signed(field, kind, v, math.MinInt32, math.MaxInt32)
		return int32(n), err
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return signed(field, kind, v, math.MinInt64, math.MaxInt64)
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, err := unsigned(field, kind, v, math.MaxUint32)
		return uint32(n), err
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return unsigned(field, kind, v, math.MaxUint64)
	case protoreflect.FloatKind:
		f, err := floating(field, kind, v)
		if err != nil {
			return nil, err
		}
		if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
			return nil, errs.RangeError{
				Field: field,
				Kind:  kind.String(),
				Value: strconv.FormatFloat(f, 'g', -1, 64),
				Min:   strconv.FormatFloat(-math.MaxFloat32, 'g', -1, 32),
				Max:   strconv.FormatFloat(math.MaxFloat32, 'g', -1, 32),
			}
		}
		return float32(f), nil
	case protoreflect.DoubleKind:
		return floating(field, kind, v)
	}
	return nil, errs.Mismatch(field, kind.String(), v)
}

func signed(field string, kind protoreflect.Kind, v any, lo, hi int64) (int64, error) {
	if v == nil {
		return 0, errs.Mismatch(field, kind.String(), v)
	}
	rv := reflect.ValueOf(v)
	var n int64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > uint64(hi) {
			return 0, outOfRange(field, kind, strconv.FormatUint(u, 10), lo, hi)
		}
		n = int64(u)
	default:
		return 0, errs.Mismatch(field, kind.String(), v)
	}
	if n < lo || n > hi {
		return 0, outOfRange(field, kind, strconv.FormatInt(n, 10), lo, hi)
	}
	return n, nil
}

func unsigned(field string, kind protoreflect.Kind, v any, hi uint64) (uint64, error) {
	if v == nil {
		return 0, errs.Mismatch(field, kind.String(), v)
	}
	rv := reflect.ValueOf(v)
	var u uint64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n < 0 {
			return 0, errs.RangeError{
				Field: field, Kind: kind.String(), Value: strconv.FormatInt(n, 10),
				Min: "0", Max: strconv.FormatUint(hi, 10),
			}
		}
		u = uint64(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u = rv.Uint()
	default:
		return 0, errs.Mismatch(field, kind.String(), v)
	}
	if u > hi {
		return 0, errs.RangeError{
			Field: field, Kind: kind.String(), Value: strconv.FormatUint(u, 10),
			Min: "0", Max: strconv.FormatUint(hi, 10),
		}
	}
	return u, nil
}

func floating(field string, kind protoreflect.Kind, v any) (float64, error) {
	if v == nil {
		return 0, errs.Mismatch(field, kind.String(), v)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	}
	return 0, errs.Mismatch(field, kind.String(), v)
}

func outOfRange(field string, kind protoreflect.Kind, value string, lo, hi int64) error {
	return errs.RangeError{
		Field: field,
		Kind:  kind.String(),
		Value: value,
		Min:   strconv.FormatInt(lo, 10),
		Max:   strconv.FormatInt(hi, 10),
	}
}

// coerceEnum accepts a number, a generated or minted enum value, an integer
// or a value name.
func coerceEnum(fd protoreflect.FieldDescriptor, v any) (any, error) {
	field := fieldName(fd)
	switch x := deref(v).(type) {
	case protoreflect.EnumNumber:
		return x, nil
	case protoreflect.Enum:
		return x.Number(), nil
	case string:
		ev := fd.Enum().Values().ByName(protoreflect.Name(x))
		if ev == nil {
			return nil, errs.TypeMismatchError{
				Field:    field,
				Expected: "value of " + string(fd.Enum().FullName()),
				Got:      strconv.Quote(x),
			}
		}
		return ev.Number(), nil
	case bool, nil:
		return nil, errs.Mismatch(field, string(fd.Enum().FullName()), v)
	default:
		n, err := signed(field, protoreflect.EnumKind, x, math.MinInt32, math.MaxInt32)
		if err != nil {
			return nil, err
		}
		return protoreflect.EnumNumber(n), nil
	}
}

// checkWire verifies that w has the Go type protoreflect stores for fd.
func checkWire(fd protoreflect.FieldDescriptor, w any) error {
	field := fieldName(fd)
	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		want := fd.Message().FullName()
		m, ok := w.(protoreflect.Message)
		if !ok {
			return errs.Mismatch(field, string(want), w)
		}
		if got := m.Descriptor().FullName(); got != want {
			return errs.TypeMismatchError{Field: field, Expected: string(want), Got: string(got)}
		}
		return nil
	case protoreflect.EnumKind:
		if _, ok := w.(protoreflect.EnumNumber); !ok {
			return errs.Mismatch(field, string(fd.Enum().FullName()), w)
		}
		return nil
	}
	var ok bool
	switch fd.Kind() {
	case protoreflect.BoolKind:
		_, ok = w.(bool)
	case protoreflect.StringKind:
		_, ok = w.(string)
	case protoreflect.BytesKind:
		_, ok = w.([]byte)
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		_, ok = w.(int32)
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		_, ok = w.(int64)
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		_, ok = w.(uint32)
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		_, ok = w.(uint64)
	case protoreflect.FloatKind:
		_, ok = w.(float32)
	case protoreflect.DoubleKind:
		_, ok = w.(float64)
	}
	if !ok {
		return errs.Mismatch(field, fd.Kind().String(), w)
	}
	return nil
}
