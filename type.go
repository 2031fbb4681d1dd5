package protoplus

import (
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/samber/lo"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/yaroher/go-protoplus/errs"
	"github.com/yaroher/go-protoplus/schema"
)

// Type is the handle of a declared message. It becomes usable when its file
// unit finalizes; until then every operation fails with a SchemaError.
type Type struct {
	s      *Schema
	spec   *schema.MessageSpec
	typ    protoreflect.MessageType
	fields map[string]*FieldAccessor
	order  []*FieldAccessor
}

func (t *Type) bind(typ protoreflect.MessageType) {
	t.typ = typ
	t.fields = make(map[string]*FieldAccessor)
	t.order = t.order[:0]
	fds := typ.Descriptor().Fields()
	for i := 0; i < fds.Len(); i++ {
		a := newAccessor(t, fds.Get(i))
		t.fields[a.Name()] = a
		t.order = append(t.order, a)
	}
}

func (t *Type) Name() protoreflect.FullName { return t.spec.FullName() }

func (t *Type) Spec() *schema.MessageSpec { return t.spec }

// Ready reports whether the type has been finalized and bound.
func (t *Type) Ready() bool { return t.typ != nil }

// Descriptor is nil until the type is ready.
func (t *Type) Descriptor() protoreflect.MessageDescriptor {
	if t.typ == nil {
		return nil
	}
	return t.typ.Descriptor()
}

// check fails with the reasons the type's unit is still pending.
func (t *Type) check() error {
	if t.typ != nil {
		return nil
	}
	var details []string
	if u := t.spec.Unit(); u != nil {
		if u.Err() != nil {
			details = append(details, u.Err().Error())
		}
		for _, ur := range t.s.ctx.Pending().Units {
			if ur.Key != u.Key {
				continue
			}
			for _, d := range ur.Diagnostics {
				details = append(details, d.Subject+": "+d.Message)
			}
		}
	}
	return errs.Schema(string(t.Name()), "type is not finalized", details...)
}

// Field returns the accessor of the named field.
func (t *Type) Field(name string) (*FieldAccessor, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	a, ok := t.fields[name]
	if !ok {
		return nil, errs.ConstructionError{Type: string(t.Name()), Input: name, Reason: "unknown field"}
	}
	return a, nil
}

// Fields returns the accessors in declaration order.
func (t *Type) Fields() []*FieldAccessor { return t.order }

func (t *Type) accessor(fd protoreflect.FieldDescriptor) *FieldAccessor {
	return t.fields[string(fd.Name())]
}

func (t *Type) newWire() protoreflect.Message { return t.typ.New() }

func (t *Type) wrap(w protoreflect.Message) *Message {
	return &Message{
		typ:   t,
		wire:  w,
		cache: make(map[protoreflect.FieldNumber]any),
		stale: make(map[protoreflect.FieldNumber]struct{}),
	}
}

// adopt returns w as a message of this type. Messages built from another
// descriptor of the same full name are copied over the wire.
func (t *Type) adopt(w protoreflect.Message) (protoreflect.Message, error) {
	if w.Descriptor() == t.Descriptor() {
		return w, nil
	}
	if w.Descriptor().FullName() != t.Name() {
		return nil, errs.TypeMismatchError{Expected: string(t.Name()), Got: string(w.Descriptor().FullName())}
	}
	b, err := proto.Marshal(w.Interface())
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", t.Name())
	}
	out := t.newWire()
	if err := proto.Unmarshal(b, out.Interface()); err != nil {
		return nil, errors.Wrapf(err, "decode %s", t.Name())
	}
	return out, nil
}

// New builds a message from a mapping of field names to native values.
// Fields are written in declaration order, so of two oneof members given
// together the later one wins.
func (t *Type) New(values map[string]any) (*Message, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	m := t.wrap(t.newWire())
	names := lo.Keys(values)
	if unknown := lo.Filter(names, func(n string, _ int) bool { _, ok := t.fields[n]; return !ok }); len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, errs.ConstructionError{
			Type:   string(t.Name()),
			Input:  strings.Join(unknown, ", "),
			Reason: "unknown field",
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return t.fields[names[i]].Index() < t.fields[names[j]].Index()
	})
	for _, name := range names {
		if err := t.fields[name].Set(m, values[name]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// From builds a message from a mapping, another message of this type or a
// protobuf message of the same full name. The input is always copied.
func (t *Type) From(v any) (*Message, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case nil:
		return t.New(nil)
	case map[string]any:
		return t.New(x)
	case *Message:
		if x.typ != t {
			return nil, errs.ConstructionError{Type: string(t.Name()), Input: string(x.typ.Name()), Reason: "different message type"}
		}
		return x.Clone()
	case proto.Message:
		return t.copyOf(x.ProtoReflect())
	case protoreflect.Message:
		return t.copyOf(x)
	}
	return nil, errs.ConstructionError{
		Type:   string(t.Name()),
		Input:  errs.TypeName(v),
		Reason: "expected a mapping, a message of this type or a protobuf message",
	}
}

func (t *Type) copyOf(w protoreflect.Message) (*Message, error) {
	if w.Descriptor().FullName() != t.Name() {
		return nil, errs.ConstructionError{Type: string(t.Name()), Input: string(w.Descriptor().FullName()), Reason: "different message type"}
	}
	if w.Descriptor() == t.Descriptor() {
		return t.wrap(proto.Clone(w.Interface()).ProtoReflect()), nil
	}
	out, err := t.adopt(w)
	if err != nil {
		return nil, err
	}
	return t.wrap(out), nil
}

// Wrap aliases a message built from this type's descriptor: writes through
// the returned Message are visible in m.
func (t *Type) Wrap(m proto.Message) (*Message, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errs.ConstructionError{Type: string(t.Name()), Input: "nil", Reason: "nothing to wrap"}
	}
	w := m.ProtoReflect()
	if w.Descriptor() != t.Descriptor() {
		return nil, errs.ConstructionError{
			Type:   string(t.Name()),
			Input:  string(w.Descriptor().FullName()),
			Reason: "wrapped message must use the type's own descriptor",
		}
	}
	if !w.IsValid() {
		return nil, errs.ConstructionError{Type: string(t.Name()), Input: "read-only message", Reason: "nothing to wrap"}
	}
	return t.wrap(w), nil
}

// Deserialize parses b into a new message.
func (t *Type) Deserialize(b []byte) (*Message, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	w := t.newWire()
	if err := proto.Unmarshal(b, w.Interface()); err != nil {
		return nil, errors.Wrapf(err, "decode %s", t.Name())
	}
	return t.wrap(w), nil
}
