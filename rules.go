package protoplus

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/yaroher/go-protoplus/errs"
)

// messageRule converts between wire messages of a declared type and
// Messages aliasing them.
type messageRule struct{ t *Type }

func (r messageRule) ToNative(wire any, _ bool) (any, error) {
	var w protoreflect.Message
	switch x := wire.(type) {
	case *Message:
		return x, nil
	case protoreflect.Message:
		w = x
	case proto.Message:
		w = x.ProtoReflect()
	default:
		return nil, errs.Mismatch(string(r.t.Name()), string(r.t.Name()), wire)
	}
	if !w.IsValid() {
		return r.t.wrap(r.t.newWire()), nil
	}
	w, err := r.t.adopt(w)
	if err != nil {
		return nil, err
	}
	return r.t.wrap(w), nil
}

func (r messageRule) ToWire(native any) (any, error) {
	switch x := native.(type) {
	case *Message:
		if x.typ.Name() != r.t.Name() {
			return nil, errs.TypeMismatchError{Expected: string(r.t.Name()), Got: string(x.typ.Name())}
		}
		if err := x.Flush(); err != nil {
			return nil, err
		}
		return r.t.adopt(x.wire)
	case map[string]any:
		m, err := r.t.New(x)
		if err != nil {
			return nil, err
		}
		if err := m.Flush(); err != nil {
			return nil, err
		}
		return m.wire, nil
	case protoreflect.Message:
		return r.t.adopt(x)
	case proto.Message:
		return r.t.adopt(x.ProtoReflect())
	}
	return nil, errs.Mismatch(string(r.t.Name()), string(r.t.Name()), native)
}

// enumRule converts between enum numbers and EnumValues.
type enumRule struct{ e *EnumType }

func (enumRule) Cacheable() bool { return true }

func (r enumRule) ToNative(wire any, _ bool) (any, error) {
	switch x := wire.(type) {
	case EnumValue:
		return x, nil
	case protoreflect.EnumNumber:
		return r.e.valueOf(x), nil
	case protoreflect.Enum:
		return r.e.valueOf(x.Number()), nil
	}
	return nil, errs.Mismatch(string(r.e.Name()), string(r.e.Name()), wire)
}

func (r enumRule) ToWire(native any) (any, error) {
	return r.e.number(native)
}
