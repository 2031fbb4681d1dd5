package protoplus

import (
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/yaroher/go-protoplus/errs"
	"github.com/yaroher/go-protoplus/marshal"
)

// FieldAccessor reads and writes one field of messages of one type. A type
// keeps one accessor per field, keyed by field name.
type FieldAccessor struct {
	typ *Type
	fd  protoreflect.FieldDescriptor
	// siblings are the other members of the field's oneof.
	siblings []protoreflect.FieldDescriptor
}

func newAccessor(t *Type, fd protoreflect.FieldDescriptor) *FieldAccessor {
	a := &FieldAccessor{typ: t, fd: fd}
	if od := fd.ContainingOneof(); od != nil && !od.IsSynthetic() {
		fields := od.Fields()
		for i := 0; i < fields.Len(); i++ {
			if f := fields.Get(i); f.Number() != fd.Number() {
				a.siblings = append(a.siblings, f)
			}
		}
	}
	return a
}

func (a *FieldAccessor) Name() string { return string(a.fd.Name()) }

func (a *FieldAccessor) Number() protoreflect.FieldNumber { return a.fd.Number() }

// Index is the declaration-order position of the field.
func (a *FieldAccessor) Index() int { return a.fd.Index() }

func (a *FieldAccessor) Descriptor() protoreflect.FieldDescriptor { return a.fd }

// Oneof is the name of the field's oneof group, empty when there is none.
func (a *FieldAccessor) Oneof() string {
	if od := a.fd.ContainingOneof(); od != nil && !od.IsSynthetic() {
		return string(od.Name())
	}
	return ""
}

func (a *FieldAccessor) owns(m *Message) error {
	if m == nil || m.typ == nil {
		return errs.Mismatch(string(a.fd.FullName()), string(a.typ.Name()), m)
	}
	if m.typ != a.typ {
		return errs.TypeMismatchError{
			Field:    string(a.fd.FullName()),
			Expected: string(a.typ.Name()),
			Got:      string(m.typ.Name()),
		}
	}
	return nil
}

// live values alias the wire and stay valid until the field is written.
func live(v any) bool {
	switch v.(type) {
	case *marshal.RepeatedView, *marshal.MapView, *Message:
		return true
	}
	return false
}

// Get returns the native value of the field. Immutable values come from
// the cache; containers and sub-messages are read from the wire after
// pending writes are synced and alias it.
func (a *FieldAccessor) Get(m *Message) (any, error) {
	if err := a.owns(m); err != nil {
		return nil, err
	}
	reg := a.typ.s.reg
	num := a.fd.Number()
	if v, ok := m.cache[num]; ok {
		if reg.Cacheable(a.fd) {
			return v, nil
		}
		if _, stale := m.stale[num]; !stale && live(v) {
			return v, nil
		}
		if f, ok := v.(marshal.Flusher); ok {
			if err := f.Flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := m.commit(a); err != nil {
		return nil, err
	}
	absent := !a.present(m)
	var wire protoreflect.Value
	if a.fd.IsList() || a.fd.IsMap() {
		wire = m.wire.Mutable(a.fd)
	} else {
		wire = m.wire.Get(a.fd)
	}
	v, err := reg.ToNative(a.fd, wire, absent)
	if err != nil {
		return nil, err
	}
	if sub, ok := v.(*Message); ok {
		sub.SetAlwaysCommit(true)
		if absent {
			sub.attach = func() { a.materialize(m, sub) }
		}
	}
	m.cache[num] = v
	return v, nil
}

// materialize stores a sub-message read from the unset field into m.
func (a *FieldAccessor) materialize(m, sub *Message) {
	m.touch()
	if m.wire.Has(a.fd) {
		return
	}
	m.wire.Set(a.fd, protoreflect.ValueOfMessage(sub.wire))
	a.clearSiblings(m)
}

// Set writes v. nil deletes the field. The value is validated at once; it
// reaches the wire immediately in always-commit mode or for Struct family
// fields, and on the next read or serialization otherwise. Other members of
// the field's oneof are deleted.
func (a *FieldAccessor) Set(m *Message, v any) error {
	if err := a.owns(m); err != nil {
		return err
	}
	if v == nil {
		return a.Delete(m)
	}
	reg := a.typ.s.reg
	v, err := a.coerce(v)
	if err != nil {
		return err
	}
	w, err := reg.ToWire(a.fd, v, true)
	if err != nil {
		return err
	}
	num := a.fd.Number()
	detach(m, num)
	native := v
	if reg.Cacheable(a.fd) {
		if native, err = reg.ToNative(a.fd, w, false); err != nil {
			return err
		}
	}
	if m.alwaysCommit || reg.IsStructFamily(a.fd) {
		m.write(a.fd, w)
		delete(m.stale, num)
		if reg.Cacheable(a.fd) {
			m.cache[num] = native
		} else {
			delete(m.cache, num)
		}
	} else {
		m.cache[num] = native
		m.stale[num] = struct{}{}
	}
	a.clearSiblings(m)
	return nil
}

// coerce hydrates a mapping assigned to a singular message field into a
// Message of the field's type.
func (a *FieldAccessor) coerce(v any) (any, error) {
	md := a.fd.Message()
	if md == nil || a.fd.IsList() || a.fd.IsMap() || a.typ.s.reg.IsStructFamily(a.fd) {
		return v, nil
	}
	x, ok := v.(map[string]any)
	if !ok {
		return v, nil
	}
	t, ok := a.typ.s.types[md.FullName()]
	if !ok {
		return v, nil
	}
	return t.New(x)
}

func (a *FieldAccessor) clearSiblings(m *Message) {
	for _, fd := range a.siblings {
		num := fd.Number()
		detach(m, num)
		delete(m.cache, num)
		delete(m.stale, num)
		m.wire.Clear(fd)
	}
}

// Delete drops the cached value and any pending write and clears the wire
// field.
func (a *FieldAccessor) Delete(m *Message) error {
	if err := a.owns(m); err != nil {
		return err
	}
	num := a.fd.Number()
	detach(m, num)
	delete(m.cache, num)
	delete(m.stale, num)
	m.wire.Clear(a.fd)
	return nil
}

// detach unlinks a sub-message read from an unset field once the field is
// overwritten or cleared; later writes to it stay on its own wire.
func detach(m *Message, num protoreflect.FieldNumber) {
	if sub, ok := m.cache[num].(*Message); ok {
		sub.attach = nil
	}
}

// Has reports presence for singular fields that track it and whether the
// value is non-default otherwise.
func (a *FieldAccessor) Has(m *Message) (bool, error) {
	if err := a.owns(m); err != nil {
		return false, err
	}
	if err := m.commit(a); err != nil {
		return false, err
	}
	if f, ok := m.cache[a.fd.Number()].(*marshal.MapView); ok {
		if err := f.Flush(); err != nil {
			return false, err
		}
	}
	return a.present(m), nil
}

func (a *FieldAccessor) present(m *Message) bool {
	if !a.fd.IsList() && !a.fd.IsMap() && a.fd.HasPresence() {
		return m.wire.Has(a.fd)
	}
	return marshal.Truthy(m.wire.Get(a.fd))
}
