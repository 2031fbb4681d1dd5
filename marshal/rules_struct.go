package marshal

import (
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yaroher/go-protoplus/errs"
)

// structRule maps google.protobuf.Struct to map[string]any.
type structRule struct{}

func (structRule) ToNative(wire any, absent bool) (any, error) {
	m, ok := asMessage(wire)
	if !ok {
		return wire, nil
	}
	if absent {
		return nil, nil
	}
	s, err := concrete[*structpb.Struct](m)
	if err != nil {
		return nil, err
	}
	return s.AsMap(), nil
}

func (structRule) ToWire(native any) (any, error) {
	switch v := native.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		s, err := structpb.NewStruct(v)
		if err != nil {
			return nil, errs.TypeMismatchError{Expected: "JSON-compatible map", Got: err.Error()}
		}
		return s, nil
	}
	if m, ok := asMessage(native); ok {
		return m, nil
	}
	return nil, errs.Mismatch("", "map[string]any", native)
}

// valueRule maps google.protobuf.Value to a dynamic JSON-like value.
type valueRule struct{}

func (valueRule) ToNative(wire any, absent bool) (any, error) {
	m, ok := asMessage(wire)
	if !ok {
		return wire, nil
	}
	if absent {
		return nil, nil
	}
	v, err := concrete[*structpb.Value](m)
	if err != nil {
		return nil, err
	}
	return v.AsInterface(), nil
}

func (valueRule) ToWire(native any) (any, error) {
	if native == nil {
		return structpb.NewNullValue(), nil
	}
	if m, ok := asMessage(native); ok {
		return m, nil
	}
	v, err := structpb.NewValue(native)
	if err != nil {
		return nil, errs.TypeMismatchError{Expected: "JSON-compatible value", Got: err.Error()}
	}
	return v, nil
}

// listValueRule maps google.protobuf.ListValue to []any.
type listValueRule struct{}

func (listValueRule) ToNative(wire any, absent bool) (any, error) {
	m, ok := asMessage(wire)
	if !ok {
		return wire, nil
	}
	if absent {
		return nil, nil
	}
	l, err := concrete[*structpb.ListValue](m)
	if err != nil {
		return nil, err
	}
	return l.AsSlice(), nil
}

func (listValueRule) ToWire(native any) (any, error) {
	switch v := native.(type) {
	case nil:
		return nil, nil
	case []any:
		l, err := structpb.NewList(v)
		if err != nil {
			return nil, errs.TypeMismatchError{Expected: "JSON-compatible list", Got: err.Error()}
		}
		return l, nil
	}
	if m, ok := asMessage(native); ok {
		return m, nil
	}
	return nil, errs.Mismatch("", "[]any", native)
}
