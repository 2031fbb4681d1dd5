package protoplus

import (
	"sort"

	"github.com/go-faster/errors"
	"github.com/samber/lo"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/yaroher/go-protoplus/errs"
	"github.com/yaroher/go-protoplus/marshal"
)

// Message is an instance of a declared type. The wire message is the source
// of truth; native values written through accessors are cached and, unless
// the message is in always-commit mode, synced into the wire lazily.
type Message struct {
	typ          *Type
	wire         protoreflect.Message
	cache        map[protoreflect.FieldNumber]any
	stale        map[protoreflect.FieldNumber]struct{}
	alwaysCommit bool
	// attach links a sub-message read from an unset parent field into the
	// parent on its first write.
	attach func()
}

func (m *Message) Type() *Type { return m.typ }

// SetAlwaysCommit switches write-through mode. Turning it on syncs pending
// writes.
func (m *Message) SetAlwaysCommit(v bool) {
	m.alwaysCommit = v
	if v {
		_ = m.commitAll()
	}
}

func (m *Message) AlwaysCommit() bool { return m.alwaysCommit }

func (m *Message) field(name string) (*FieldAccessor, error) {
	return m.typ.Field(name)
}

func (m *Message) Get(name string) (any, error) {
	a, err := m.field(name)
	if err != nil {
		return nil, err
	}
	return a.Get(m)
}

func (m *Message) Set(name string, v any) error {
	a, err := m.field(name)
	if err != nil {
		return err
	}
	return a.Set(m, v)
}

func (m *Message) Delete(name string) error {
	a, err := m.field(name)
	if err != nil {
		return err
	}
	return a.Delete(m)
}

func (m *Message) Has(name string) (bool, error) {
	a, err := m.field(name)
	if err != nil {
		return false, err
	}
	return a.Has(m)
}

// touch materializes the message in its parent before the first wire write.
func (m *Message) touch() {
	if m.attach != nil {
		attach := m.attach
		m.attach = nil
		attach()
	}
}

// write replaces the wire value of fd with w: the field is cleared and the
// converted value merged back in.
func (m *Message) write(fd protoreflect.FieldDescriptor, w any) {
	m.touch()
	w = marshal.Snapshot(w)
	m.wire.Clear(fd)
	if w == nil {
		return
	}
	switch {
	case fd.IsList():
		list := m.wire.Mutable(fd).List()
		for _, el := range w.([]any) {
			list.Append(marshal.WireValue(el))
		}
	case fd.IsMap():
		mp := m.wire.Mutable(fd).Map()
		for k, v := range w.(map[any]any) {
			mp.Set(protoreflect.ValueOf(k).MapKey(), marshal.WireValue(v))
		}
	default:
		m.wire.Set(fd, marshal.WireValue(w))
	}
}

// commit syncs the cached value of a stale field into the wire.
func (m *Message) commit(a *FieldAccessor) error {
	num := a.fd.Number()
	if _, ok := m.stale[num]; !ok {
		return nil
	}
	w, err := m.typ.s.reg.ToWire(a.fd, m.cache[num], true)
	if err != nil {
		return err
	}
	m.write(a.fd, w)
	delete(m.stale, num)
	if !m.typ.s.reg.Cacheable(a.fd) {
		// The wire now holds a copy; the next read wraps it.
		delete(m.cache, num)
	}
	return nil
}

func (m *Message) commitAll() error {
	nums := lo.Keys(m.stale)
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	for _, num := range nums {
		fd := m.wire.Descriptor().Fields().ByNumber(num)
		if err := m.commit(m.typ.accessor(fd)); err != nil {
			return err
		}
	}
	return nil
}

// Flush syncs every stale field and every cached value holding writes of
// its own, such as map views.
func (m *Message) Flush() error {
	if err := m.commitAll(); err != nil {
		return err
	}
	nums := lo.Keys(m.cache)
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	for _, num := range nums {
		if f, ok := m.cache[num].(marshal.Flusher); ok {
			if err := f.Flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Proto flushes pending writes and returns the wire message. The result
// aliases m.
func (m *Message) Proto() (proto.Message, error) {
	if err := m.Flush(); err != nil {
		return nil, err
	}
	return m.wire.Interface(), nil
}

// Serialize flushes pending writes and encodes the wire message.
func (m *Message) Serialize() ([]byte, error) {
	if err := m.Flush(); err != nil {
		return nil, err
	}
	b, err := proto.MarshalOptions{Deterministic: m.typ.s.cfg.Deterministic}.Marshal(m.wire.Interface())
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", m.typ.Name())
	}
	return b, nil
}

// Equal compares wire contents with another Message, a protobuf message of
// the same type or a mapping.
func (m *Message) Equal(other any) bool {
	if m.Flush() != nil {
		return false
	}
	var w protoreflect.Message
	switch x := other.(type) {
	case *Message:
		if x == nil || x.typ.Name() != m.typ.Name() || x.Flush() != nil {
			return false
		}
		w = x.wire
	case map[string]any:
		o, err := m.typ.New(x)
		if err != nil || o.Flush() != nil {
			return false
		}
		w = o.wire
	case proto.Message:
		w = x.ProtoReflect()
	case protoreflect.Message:
		w = x
	default:
		return false
	}
	w, err := m.typ.adopt(w)
	if err != nil {
		return false
	}
	return proto.Equal(m.wire.Interface(), w.Interface())
}

// Clone returns a deep copy with its own wire message.
func (m *Message) Clone() (*Message, error) {
	if err := m.Flush(); err != nil {
		return nil, err
	}
	return m.typ.wrap(proto.Clone(m.wire.Interface()).ProtoReflect()), nil
}

// AsMap returns the set fields as native values; nested messages become
// nested maps and views become slices and maps.
func (m *Message) AsMap() (map[string]any, error) {
	out := make(map[string]any)
	for _, a := range m.typ.order {
		has, err := a.Has(m)
		if err != nil {
			return nil, err
		}
		if !has {
			continue
		}
		v, err := a.Get(m)
		if err != nil {
			return nil, err
		}
		if out[a.Name()], err = plain(v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func plain(v any) (any, error) {
	switch x := v.(type) {
	case *Message:
		return x.AsMap()
	case *marshal.RepeatedView:
		vals, err := x.Values()
		if err != nil {
			return nil, err
		}
		out := make([]any, len(vals))
		for i, el := range vals {
			if out[i], err = plain(el); err != nil {
				return nil, err
			}
		}
		return out, nil
	case *marshal.MapView:
		out := make(map[any]any)
		var ferr error
		err := x.Range(func(k, val any) bool {
			out[k], ferr = plain(val)
			return ferr == nil
		})
		if err != nil {
			return nil, err
		}
		return out, ferr
	}
	return v, nil
}

// MarshalJSON encodes the message with protojson.
func (m *Message) MarshalJSON() ([]byte, error) {
	if err := m.Flush(); err != nil {
		return nil, err
	}
	return protojson.Marshal(m.wire.Interface())
}

// UnmarshalJSON replaces the message contents. The receiver must come from
// a Type.
func (m *Message) UnmarshalJSON(b []byte) error {
	if m.typ == nil {
		return errs.ConstructionError{Type: "protoplus.Message", Input: "json", Reason: "message has no type"}
	}
	m.touch()
	for num := range m.cache {
		detach(m, num)
	}
	m.cache = make(map[protoreflect.FieldNumber]any)
	m.stale = make(map[protoreflect.FieldNumber]struct{})
	if err := protojson.Unmarshal(b, m.wire.Interface()); err != nil {
		return errors.Wrapf(err, "decode %s", m.typ.Name())
	}
	return nil
}

func (m *Message) String() string {
	if err := m.Flush(); err != nil {
		return "<" + string(m.typ.Name()) + ": " + err.Error() + ">"
	}
	return prototext.MarshalOptions{}.Format(m.wire.Interface())
}

var (
	_ marshal.Flusher         = (*Message)(nil)
	_ marshal.AlwaysCommitter = (*Message)(nil)
)
