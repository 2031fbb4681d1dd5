package marshal

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// wrapperRule maps one of the google.protobuf wrapper types to its scalar.
// An unset field reads as nil, a set one as the scalar even when it is zero.
type wrapperRule struct {
	name  protoreflect.FullName
	kind  protoreflect.Kind
	build func(v any) proto.Message
}

func (wrapperRule) Cacheable() bool { return true }

func (r wrapperRule) ToNative(wire any, absent bool) (any, error) {
	m, ok := asMessage(wire)
	if !ok {
		return wire, nil
	}
	if absent {
		return nil, nil
	}
	v := fieldOf(m, "value").Interface()
	if b, ok := v.([]byte); ok && b == nil {
		return []byte{}, nil
	}
	return v, nil
}

func (r wrapperRule) ToWire(native any) (any, error) {
	native = deref(native)
	if native == nil {
		return nil, nil
	}
	if m, ok := asMessage(native); ok {
		return m, nil
	}
	v, err := coerceKind(string(r.name), r.kind, native)
	if err != nil {
		return nil, err
	}
	return r.build(v), nil
}

func wrapperRules() []wrapperRule {
	return []wrapperRule{
		{kind: protoreflect.BoolKind, build: func(v any) proto.Message { return wrapperspb.Bool(v.(bool)) }},
		{kind: protoreflect.BytesKind, build: func(v any) proto.Message { return wrapperspb.Bytes(v.([]byte)) }},
		{kind: protoreflect.DoubleKind, build: func(v any) proto.Message { return wrapperspb.Double(v.(float64)) }},
		{kind: protoreflect.FloatKind, build: func(v any) proto.Message { return wrapperspb.Float(v.(float32)) }},
		{kind: protoreflect.Int32Kind, build: func(v any) proto.Message { return wrapperspb.Int32(v.(int32)) }},
		{kind: protoreflect.Int64Kind, build: func(v any) proto.Message { return wrapperspb.Int64(v.(int64)) }},
		{kind: protoreflect.StringKind, build: func(v any) proto.Message { return wrapperspb.String(v.(string)) }},
		{kind: protoreflect.Uint32Kind, build: func(v any) proto.Message { return wrapperspb.UInt32(v.(uint32)) }},
		{kind: protoreflect.Uint64Kind, build: func(v any) proto.Message { return wrapperspb.UInt64(v.(uint64)) }},
	}
}

// wrapperName resolves the wrapper message whose value field has kind.
func wrapperName(kind protoreflect.Kind) protoreflect.FullName {
	for _, m := range []proto.Message{
		&wrapperspb.BoolValue{}, &wrapperspb.BytesValue{}, &wrapperspb.DoubleValue{},
		&wrapperspb.FloatValue{}, &wrapperspb.Int32Value{}, &wrapperspb.Int64Value{},
		&wrapperspb.StringValue{}, &wrapperspb.UInt32Value{}, &wrapperspb.UInt64Value{},
	} {
		md := m.ProtoReflect().Descriptor()
		if md.Fields().ByName("value").Kind() == kind {
			return md.FullName()
		}
	}
	return ""
}
