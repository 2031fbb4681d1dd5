package marshal

import (
	"reflect"

	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/yaroher/go-protoplus/errs"
	"github.com/yaroher/go-protoplus/logger"
)

// Registry maps wire type full names to conversion rules and dispatches
// per-field conversions.
type Registry struct {
	rules map[protoreflect.FullName]Rule
}

// NewRegistry returns a registry with the built-in well-known type rules
// installed.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Reset()
	return r
}

// Reset drops every registered rule and reinstalls the built-ins.
func (r *Registry) Reset() {
	r.rules = make(map[protoreflect.FullName]Rule)
	registerBuiltins(r.rules)
}

// Register installs rule for the wire type name, replacing any previous one.
func (r *Registry) Register(name protoreflect.FullName, rule Rule) error {
	if name == "" || rule == nil {
		return errs.Schema(string(name), "rule registration requires a type name and a rule")
	}
	if _, ok := r.rules[name]; ok {
		logger.Debug("replacing marshal rule", zap.String("type", string(name)))
	}
	r.rules[name] = rule
	return nil
}

// RegisterMessage installs rule for the type of m.
func (r *Registry) RegisterMessage(m proto.Message, rule Rule) error {
	return r.Register(m.ProtoReflect().Descriptor().FullName(), rule)
}

// Lookup returns the rule registered for name.
func (r *Registry) Lookup(name protoreflect.FullName) (Rule, bool) {
	rule, ok := r.rules[name]
	return rule, ok
}

// Rule returns the rule registered for name or a pass-through rule.
func (r *Registry) Rule(name protoreflect.FullName) Rule {
	if rule, ok := r.rules[name]; ok {
		return rule
	}
	return noopRule{}
}

// IsStructFamily reports whether fd holds a Struct, Value or ListValue.
func (r *Registry) IsStructFamily(fd protoreflect.FieldDescriptor) bool {
	md := fd.Message()
	if md == nil {
		return false
	}
	_, ok := structFamily[md.FullName()]
	return ok
}

// Cacheable reports whether native values read from fd may be served from
// a field accessor's cache. Scalars and enums without a rule are immutable;
// containers never are.
func (r *Registry) Cacheable(fd protoreflect.FieldDescriptor) bool {
	if fd.IsList() || fd.IsMap() {
		return false
	}
	var name protoreflect.FullName
	switch {
	case fd.Message() != nil:
		name = fd.Message().FullName()
	case fd.Enum() != nil:
		name = fd.Enum().FullName()
		if _, ok := r.rules[name]; !ok {
			return true
		}
	default:
		return true
	}
	c, ok := r.rules[name].(Cacheable)
	return ok && c.Cacheable()
}

// ToNative converts a wire value read from fd. Lists and maps are wrapped in
// live views; everything else goes through the element rule. absent tells
// rules with presence semantics to return nil.
func (r *Registry) ToNative(fd protoreflect.FieldDescriptor, wire any, absent bool) (any, error) {
	switch w := wire.(type) {
	case protoreflect.Value:
		return r.ToNative(fd, w.Interface(), absent)
	case protoreflect.List:
		return NewRepeatedView(r, fd, w), nil
	case protoreflect.Map:
		return NewMapView(r, fd, w), nil
	}
	return r.elemToNative(fd, wire, absent)
}

func (r *Registry) elemToNative(fd protoreflect.FieldDescriptor, wire any, absent bool) (any, error) {
	if r.IsStructFamily(fd) {
		return r.Rule(fd.Message().FullName()).ToNative(wire, absent)
	}
	if seq, ok := wire.([]any); ok {
		out := make([]any, len(seq))
		for i, el := range seq {
			v, err := r.elemToNative(fd, el, false)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return r.Rule(fd.Message().FullName()).ToNative(wire, absent)
	case protoreflect.EnumKind:
		if rule, ok := r.rules[fd.Enum().FullName()]; ok {
			return rule.ToNative(wire, absent)
		}
		return wire, nil
	case protoreflect.BytesKind:
		if b, ok := wire.([]byte); ok && b == nil {
			return []byte{}, nil
		}
	}
	return wire, nil
}

// ToWire converts a native value for storage in fd. Views unwrap to their
// live container; slices and maps convert element-wise for repeated and map
// fields. With strict set every produced wire value is checked against the
// declared type.
func (r *Registry) ToWire(fd protoreflect.FieldDescriptor, native any, strict bool) (any, error) {
	switch v := native.(type) {
	case *RepeatedView:
		if !fd.IsList() {
			return nil, containerMismatch(fd, describe(v.fd))
		}
		if sameElem(fd, v.fd) {
			return v.list, nil
		}
		return r.elemsToWire(fd, Snapshot(v.list).([]any), strict)
	case *MapView:
		if !fd.IsMap() {
			return nil, containerMismatch(fd, describe(v.fd))
		}
		if err := v.Flush(); err != nil {
			return nil, err
		}
		if sameElem(fd.MapKey(), v.fd.MapKey()) && sameElem(fd.MapValue(), v.fd.MapValue()) {
			return v.m, nil
		}
		return r.mapToWire(fd, Snapshot(v.m), strict)
	case protoreflect.List:
		if !fd.IsList() {
			return nil, containerMismatch(fd, "list")
		}
		return r.elemsToWire(fd, Snapshot(v).([]any), strict)
	case protoreflect.Map:
		if !fd.IsMap() {
			return nil, containerMismatch(fd, "map")
		}
		return r.mapToWire(fd, Snapshot(v), strict)
	}
	switch {
	case fd.IsList():
		return r.listToWire(fd, native, strict)
	case fd.IsMap():
		return r.mapToWire(fd, native, strict)
	}
	return r.elemToWire(fd, native, strict)
}

// Validate reports whether native could be stored in fd.
func (r *Registry) Validate(fd protoreflect.FieldDescriptor, native any) error {
	_, err := r.ToWire(fd, native, true)
	return err
}

func (r *Registry) listToWire(fd protoreflect.FieldDescriptor, native any, strict bool) ([]any, error) {
	if seq, ok := native.([]any); ok {
		return r.elemsToWire(fd, seq, strict)
	}
	rv := reflect.ValueOf(native)
	if native == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, errs.Mismatch(fieldName(fd), "sequence", native)
	}
	if _, ok := native.([]byte); ok {
		return nil, errs.Mismatch(fieldName(fd), "sequence", native)
	}
	seq := make([]any, rv.Len())
	for i := range seq {
		seq[i] = rv.Index(i).Interface()
	}
	return r.elemsToWire(fd, seq, strict)
}

func (r *Registry) elemsToWire(fd protoreflect.FieldDescriptor, seq []any, strict bool) ([]any, error) {
	out := make([]any, len(seq))
	for i, el := range seq {
		if el == nil {
			return nil, errs.Mismatch(fieldName(fd), "non-nil element", el)
		}
		w, err := r.elemToWire(fd, el, strict)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

func (r *Registry) mapToWire(fd protoreflect.FieldDescriptor, native any, strict bool) (map[any]any, error) {
	rv := reflect.ValueOf(native)
	if native == nil || rv.Kind() != reflect.Map {
		return nil, errs.Mismatch(fieldName(fd), "mapping", native)
	}
	kfd, vfd := fd.MapKey(), fd.MapValue()
	out := make(map[any]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k, err := coerceKind(fieldName(kfd), kfd.Kind(), iter.Key().Interface())
		if err != nil {
			return nil, err
		}
		val := iter.Value().Interface()
		if val == nil {
			return nil, errs.Mismatch(fieldName(vfd), "non-nil value", val)
		}
		w, err := r.elemToWire(vfd, val, strict)
		if err != nil {
			return nil, err
		}
		out[k] = w
	}
	return out, nil
}

func (r *Registry) elemToWire(fd protoreflect.FieldDescriptor, native any, strict bool) (any, error) {
	if native == nil {
		return nil, nil
	}
	var (
		out any
		err error
	)
	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		out, err = r.Rule(fd.Message().FullName()).ToWire(native)
		if m, ok := asMessage(out); ok {
			out = m
		}
	case protoreflect.EnumKind:
		if rule, ok := r.rules[fd.Enum().FullName()]; ok {
			out, err = rule.ToWire(native)
		} else {
			out, err = coerceEnum(fd, native)
		}
	default:
		out, err = coerceKind(fieldName(fd), fd.Kind(), native)
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	// Messages and enums are always checked: storing the wrong message type
	// into a dynamic message panics.
	if strict || fd.Message() != nil || fd.Enum() != nil {
		if err := checkWire(fd, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// sameElem reports whether values of a and b share a wire representation,
// so a live container of one can be stored in the other as is.
func sameElem(a, b protoreflect.FieldDescriptor) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return a.Message() == b.Message()
	case protoreflect.EnumKind:
		return a.Enum().FullName() == b.Enum().FullName()
	}
	return true
}

func elemName(fd protoreflect.FieldDescriptor) string {
	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return string(fd.Message().FullName())
	case protoreflect.EnumKind:
		return string(fd.Enum().FullName())
	}
	return fd.Kind().String()
}

// describe renders the declared shape of fd, e.g. "repeated int32" or
// "map<string, pkg.Item>".
func describe(fd protoreflect.FieldDescriptor) string {
	switch {
	case fd.IsMap():
		return "map<" + elemName(fd.MapKey()) + ", " + elemName(fd.MapValue()) + ">"
	case fd.IsList():
		return "repeated " + elemName(fd)
	}
	return elemName(fd)
}

func containerMismatch(fd protoreflect.FieldDescriptor, got string) error {
	return errs.TypeMismatchError{Field: fieldName(fd), Expected: describe(fd), Got: got}
}
