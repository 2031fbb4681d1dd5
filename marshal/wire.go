package marshal

import (
	"reflect"

	"github.com/go-faster/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

func protoNew[T proto.Message]() (model T) {
	return model.ProtoReflect().Type().New().Interface().(T)
}

func asMessage(v any) (protoreflect.Message, bool) {
	switch m := v.(type) {
	case protoreflect.Message:
		return m, true
	case proto.Message:
		return m.ProtoReflect(), true
	}
	return nil, false
}

func fieldOf(m protoreflect.Message, name protoreflect.Name) protoreflect.Value {
	return m.Get(m.Descriptor().Fields().ByName(name))
}

// concrete returns m as the generated type T. Messages minted by dynamicpb
// are re-encoded into T.
func concrete[T proto.Message](m protoreflect.Message) (T, error) {
	if v, ok := m.Interface().(T); ok {
		return v, nil
	}
	out := protoNew[T]()
	b, err := proto.Marshal(m.Interface())
	if err != nil {
		var zero T
		return zero, errors.Wrapf(err, "encode %s", m.Descriptor().FullName())
	}
	if err := proto.Unmarshal(b, out); err != nil {
		var zero T
		return zero, errors.Wrapf(err, "decode %s", m.Descriptor().FullName())
	}
	return out, nil
}

// deref unwraps pointers to native values; nil pointers become nil.
func deref(v any) any {
	if v == nil {
		return nil
	}
	if _, ok := v.(proto.Message); ok {
		return v
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

func fieldName(fd protoreflect.FieldDescriptor) string {
	return string(fd.FullName())
}

// WireValue turns a converted wire value into a protoreflect.Value ready to
// be stored in a message, list or map. Messages are cloned so the container
// never aliases the caller's message.
func WireValue(w any) protoreflect.Value {
	if m, ok := asMessage(w); ok {
		if !m.IsValid() {
			return protoreflect.ValueOfMessage(m.New())
		}
		return protoreflect.ValueOfMessage(proto.Clone(m.Interface()).ProtoReflect())
	}
	return protoreflect.ValueOf(w)
}

// Snapshot copies the elements out of a wire-native list or map so the
// container may be cleared before its values are written back.
func Snapshot(w any) any {
	switch c := w.(type) {
	case protoreflect.List:
		out := make([]any, c.Len())
		for i := range out {
			out[i] = c.Get(i).Interface()
		}
		return out
	case protoreflect.Map:
		out := make(map[any]any, c.Len())
		c.Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
			out[k.Interface()] = v.Interface()
			return true
		})
		return out
	}
	return w
}

// Truthy reports whether a raw wire value is set to something non-default.
func Truthy(v protoreflect.Value) bool {
	switch x := v.Interface().(type) {
	case nil:
		return false
	case bool:
		return x
	case int32:
		return x != 0
	case int64:
		return x != 0
	case uint32:
		return x != 0
	case uint64:
		return x != 0
	case float32:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case []byte:
		return len(x) > 0
	case protoreflect.EnumNumber:
		return x != 0
	case protoreflect.List:
		return x.Len() > 0
	case protoreflect.Map:
		return x.Len() > 0
	case protoreflect.Message:
		if !x.IsValid() {
			return false
		}
		set := false
		x.Range(func(protoreflect.FieldDescriptor, protoreflect.Value) bool {
			set = true
			return false
		})
		return set
	}
	return false
}
