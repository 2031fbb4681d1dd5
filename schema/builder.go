package schema

import (
	"strconv"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/yaroher/go-protoplus/errs"
)

const (
	maxFieldNumber      = 1<<29 - 1
	reservedRangeStart  = 19000
	reservedRangeFinish = 19999
)

// MessageBuilder collects the fields of one message declaration. Errors are
// kept and reported by Finish.
type MessageBuilder struct {
	ctx  *Context
	spec *MessageSpec
	opts declOptions
	err  error
	done bool
}

// Begin starts a message declaration. A dotted name such as "Outer.Inner"
// declares a nested type.
func (c *Context) Begin(name string, opts ...Option) *MessageBuilder {
	o := applyOptions(opts)
	path := strings.TrimPrefix(name, ".")
	if o.fullName != "" {
		path = o.fullName[strings.LastIndexByte(o.fullName, '.')+1:]
	}
	b := &MessageBuilder{
		ctx:  c,
		opts: o,
		spec: &MessageSpec{
			Name:    localName(path),
			Path:    path,
			Options: o.msgOpts,
		},
	}
	if path == "" {
		b.err = errs.Schema(name, "message name is empty")
	}
	return b
}

// Spec is the message under construction.
func (b *MessageBuilder) Spec() *MessageSpec { return b.spec }

func (b *MessageBuilder) fail(err error) *MessageBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Field declares a scalar, repeated, message or enum field. typ may be Infer
// when a Target is given.
func (b *MessageBuilder) Field(name string, number int32, typ Type, opts ...FieldOption) *MessageBuilder {
	f := &FieldSpec{Name: name, Number: number, Type: typ, oneofIndex: -1}
	for _, opt := range opts {
		opt(f)
	}
	subject := b.spec.Path + "." + name
	switch {
	case name == "":
		return b.fail(errs.Schema(b.spec.Path, "field name is empty"))
	case f.Optional && f.Repeated:
		return b.fail(errs.Schema(subject, "optional field cannot be repeated"))
	case f.Optional && f.Oneof != "":
		return b.fail(errs.Schema(subject, "optional field cannot be in a oneof"))
	case f.Repeated && f.Oneof != "":
		return b.fail(errs.Schema(subject, "repeated field cannot be in a oneof"))
	case (typ == MessageKind || typ == EnumKind) && f.Target.IsZero():
		return b.fail(errs.Schema(subject, "message and enum fields need a target"))
	case typ == Infer && f.Target.IsZero():
		return b.fail(errs.Schema(subject, "field type cannot be inferred without a target"))
	case typ != Infer && typ != MessageKind && typ != EnumKind && !f.Target.IsZero():
		return b.fail(errs.Schema(subject, "scalar field cannot have a target", typ.String()))
	}
	b.spec.Fields = append(b.spec.Fields, f)
	return b
}

// Map declares a map field. The value target, if any, is given with Target.
func (b *MessageBuilder) Map(name string, number int32, key, value Type, opts ...FieldOption) *MessageBuilder {
	f := &FieldSpec{Name: name, Number: number, MapKey: key, MapValue: value, oneofIndex: -1}
	for _, opt := range opts {
		opt(f)
	}
	subject := b.spec.Path + "." + name
	switch {
	case name == "":
		return b.fail(errs.Schema(b.spec.Path, "field name is empty"))
	case f.Repeated || f.Optional:
		return b.fail(errs.Schema(subject, "map field cannot be repeated or optional"))
	case f.Oneof != "":
		return b.fail(errs.Schema(subject, "map field cannot be in a oneof"))
	case !validMapKey(key):
		return b.fail(errs.Schema(subject, "map key must be an integral, bool or string type", key.String()))
	case (value == MessageKind || value == EnumKind || value == Infer) && f.Target.IsZero():
		return b.fail(errs.Schema(subject, "map value needs a target"))
	}
	b.spec.Fields = append(b.spec.Fields, f)
	return b
}

func validMapKey(t Type) bool {
	switch t {
	case Int32, Int64, Uint32, Uint64, Sint32, Sint64,
		Fixed32, Fixed64, Sfixed32, Sfixed64, Bool, String:
		return true
	}
	return false
}

// Finish completes a message declaration: maps are desugared, fields and
// oneofs enumerated, targets resolved or parked, and every unit that became
// ready is finalized. A finalization failure is returned along with the
// spec, which stays declared.
func (c *Context) Finish(b *MessageBuilder) (_ *MessageSpec, err error) {
	if b.done {
		return nil, errs.Schema(b.spec.Path, "builder already finished")
	}
	b.done = true
	if b.err != nil {
		return nil, b.err
	}
	m := b.spec
	u, err := c.unitFor(b.opts, m.Path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			c.dropIfEmpty(u)
		}
	}()
	m.Package = u.Package
	if err := checkFields(m); err != nil {
		return nil, err
	}
	if err := c.desugarMaps(m); err != nil {
		return nil, err
	}
	enumerate(m)

	inflight := append([]*MessageSpec{m}, m.Messages...)
	for _, mm := range inflight {
		if err := c.checkNew(mm.FullName()); err != nil {
			return nil, err
		}
	}
	if err := c.checkParent(u, m.Path); err != nil {
		return nil, err
	}
	for _, mm := range inflight {
		for _, f := range mm.Fields {
			if err := c.resolve(f, inflight); err != nil {
				c.unpark(inflight)
				return nil, err
			}
		}
	}
	for _, mm := range inflight {
		mm.unit = u
		c.messages[mm.FullName()] = mm
	}
	u.attach(m.Path, m)
	log.Debug("declared message",
		zap.String("name", string(m.FullName())),
		zap.String("unit", u.Key),
		zap.Int("fields", len(m.Fields)),
	)
	c.patch(m.FullName(), MessageRef(m))
	return m, c.settle(m.Path)
}

func (c *Context) checkNew(name protoreflect.FullName) error {
	if _, ok := c.messages[name]; ok {
		return errs.Schema(string(name), "type already declared")
	}
	if _, ok := c.enums[name]; ok {
		return errs.Schema(string(name), "type already declared")
	}
	return nil
}

func checkFields(m *MessageSpec) error {
	if dups := lo.FindDuplicatesBy(m.Fields, func(f *FieldSpec) int32 { return f.Number }); len(dups) > 0 {
		names := lo.Map(lo.Filter(m.Fields, func(f *FieldSpec, _ int) bool { return f.Number == dups[0].Number }),
			func(f *FieldSpec, _ int) string { return f.Name })
		return errs.Schema(m.Path, "duplicate field number "+strconv.Itoa(int(dups[0].Number)), names...)
	}
	if dups := lo.FindDuplicatesBy(m.Fields, func(f *FieldSpec) string { return f.Name }); len(dups) > 0 {
		return errs.Schema(m.Path, "duplicate field name "+dups[0].Name)
	}
	for _, f := range m.Fields {
		if f.Number <= 0 || f.Number > maxFieldNumber {
			return errs.Schema(m.Path+"."+f.Name, "field number out of range", strconv.Itoa(int(f.Number)))
		}
		if f.Number >= reservedRangeStart && f.Number <= reservedRangeFinish {
			return errs.Schema(m.Path+"."+f.Name, "field number is reserved for the protobuf implementation", strconv.Itoa(int(f.Number)))
		}
	}
	return nil
}

// desugarMaps rewrites every map field into a repeated reference to a
// synthetic nested entry message with key = 1 and value = 2.
func (c *Context) desugarMaps(m *MessageSpec) error {
	for _, f := range m.Fields {
		if f.MapKey == Infer {
			continue
		}
		entryName := mapEntryName(f.Name)
		if m.hasNested(entryName) {
			return errs.Schema(m.Path+"."+entryName, "map entry name collides with a nested type")
		}
		entry := &MessageSpec{
			Name:     entryName,
			Package:  m.Package,
			Path:     m.Path + "." + entryName,
			MapEntry: true,
			Options:  &descriptorpb.MessageOptions{MapEntry: boolPtr(true)},
		}
		entry.Fields = []*FieldSpec{
			{Name: "key", Number: 1, Type: f.MapKey, oneofIndex: -1, owner: entry},
			{Name: "value", Number: 2, Type: f.MapValue, Target: f.Target, oneofIndex: -1, owner: entry, index: 1},
		}
		m.Messages = append(m.Messages, entry)
		f.entry = entry
		f.Repeated = true
		f.Type = MessageKind
		f.Target = MessageRef(entry)
	}
	return nil
}

func (m *MessageSpec) hasNested(name string) bool {
	return lo.ContainsBy(m.Messages, func(n *MessageSpec) bool { return n.Name == name }) ||
		lo.ContainsBy(m.Enums, func(e *EnumSpec) bool { return e.Name == name })
}

// enumerate assigns declaration-order indices and first-seen oneof indices.
func enumerate(m *MessageSpec) {
	m.Oneofs = m.Oneofs[:0]
	for i, f := range m.Fields {
		f.owner = m
		f.index = i
		f.oneofIndex = -1
		if f.Oneof == "" {
			continue
		}
		idx := lo.IndexOf(m.Oneofs, f.Oneof)
		if idx < 0 {
			m.Oneofs = append(m.Oneofs, f.Oneof)
			idx = len(m.Oneofs) - 1
		}
		f.oneofIndex = idx
	}
}

func localName(path string) string {
	return path[strings.LastIndexByte(path, '.')+1:]
}

func parentPath(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return ""
}

func boolPtr(v bool) *bool { return &v }
