// Package protoplus maps native Go values onto protobuf messages declared at
// runtime.
//
// A Schema declares record types with an explicit builder, compiles them into
// protobuf descriptors and mints dynamic message types once every reference
// is resolved. A Message keeps the protobuf message as the single source of
// truth and exposes its fields as native values through per-field accessors:
//
//	s := protoplus.NewSchema()
//	foo, err := s.Finish(s.Begin("Foo", schema.Package("demo")).
//		Field("bar", 1, schema.Int32))
//	msg, err := foo.New(map[string]any{"bar": 100})
//	b, err := msg.Serialize()
package protoplus

import (
	"go.uber.org/zap"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/yaroher/go-protoplus/logger"
	"github.com/yaroher/go-protoplus/marshal"
	"github.com/yaroher/go-protoplus/schema"
)

var log = logger.Logger.Named("types")

// Schema is a declaration context plus the marshal registry its types
// convert through. It is not safe for concurrent use.
type Schema struct {
	cfg   Config
	ctx   *schema.Context
	reg   *marshal.Registry
	types map[protoreflect.FullName]*Type
	enums map[protoreflect.FullName]*EnumType
}

func NewSchema(opts ...Option) *Schema {
	s := &Schema{reg: marshal.NewRegistry()}
	for _, opt := range opts {
		opt(&s.cfg)
	}
	s.ctx = schema.NewContext(schema.WithBinder(binder{s}), schema.WithSalt(s.cfg.Salt))
	s.types = make(map[protoreflect.FullName]*Type)
	s.enums = make(map[protoreflect.FullName]*EnumType)
	return s
}

func (s *Schema) Config() Config { return s.cfg }

// Context is the underlying declaration context.
func (s *Schema) Context() *schema.Context { return s.ctx }

// Registry is the marshal registry used by every type of the schema. Custom
// rules registered here apply to fields declared with the matching target.
func (s *Schema) Registry() *marshal.Registry { return s.reg }

// Begin starts a message declaration.
func (s *Schema) Begin(name string, opts ...schema.Option) *schema.MessageBuilder {
	return s.ctx.Begin(name, opts...)
}

// Finish completes a declaration and returns its type handle. The handle is
// usable once its unit finalizes, which may happen on a later declaration.
func (s *Schema) Finish(b *schema.MessageBuilder) (*Type, error) {
	spec, err := s.ctx.Finish(b)
	if spec == nil {
		return nil, err
	}
	return s.typeFor(spec), err
}

// Enum declares an enum and returns its handle.
func (s *Schema) Enum(name string, values []schema.EnumValue, opts ...schema.Option) (*EnumType, error) {
	spec, err := s.ctx.DeclareEnum(name, values, opts...)
	if spec == nil {
		return nil, err
	}
	return s.enumFor(spec), err
}

// Unit configures a file unit ahead of its members.
func (s *Schema) Unit(path string, opts ...schema.Option) (*schema.FileUnit, error) {
	return s.ctx.DeclareUnit(path, opts...)
}

// Type returns the handle of a declared message.
func (s *Schema) Type(name protoreflect.FullName) (*Type, bool) {
	t, ok := s.types[name]
	return t, ok
}

// EnumType returns the handle of a declared enum.
func (s *Schema) EnumType(name protoreflect.FullName) (*EnumType, bool) {
	e, ok := s.enums[name]
	return e, ok
}

// Pending reports the units that have not finalized yet.
func (s *Schema) Pending() schema.Report { return s.ctx.Pending() }

// Reset drops every declaration, pool and custom rule. Handles obtained
// before the reset must not be used afterwards.
func (s *Schema) Reset() {
	s.ctx.Reset()
	s.reg.Reset()
	s.types = make(map[protoreflect.FullName]*Type)
	s.enums = make(map[protoreflect.FullName]*EnumType)
}

func (s *Schema) typeFor(spec *schema.MessageSpec) *Type {
	if t, ok := s.types[spec.FullName()]; ok && t.spec == spec {
		return t
	}
	t := &Type{s: s, spec: spec}
	s.types[spec.FullName()] = t
	return t
}

func (s *Schema) enumFor(spec *schema.EnumSpec) *EnumType {
	if e, ok := s.enums[spec.FullName()]; ok && e.spec == spec {
		return e
	}
	e := &EnumType{s: s, spec: spec}
	s.enums[spec.FullName()] = e
	return e
}

// binder installs accessors and marshal rules for freshly minted types.
type binder struct{ s *Schema }

func (b binder) BindEnum(spec *schema.EnumSpec, typ protoreflect.EnumType) error {
	e := b.s.enumFor(spec)
	e.typ = typ
	if err := b.s.reg.Register(spec.FullName(), enumRule{e}); err != nil {
		return err
	}
	log.Debug("bound enum", zap.String("name", string(spec.FullName())))
	return nil
}

func (b binder) BindMessage(spec *schema.MessageSpec, typ protoreflect.MessageType) error {
	t := b.s.typeFor(spec)
	t.bind(typ)
	if err := b.s.reg.Register(spec.FullName(), messageRule{t}); err != nil {
		return err
	}
	log.Debug("bound message",
		zap.String("name", string(spec.FullName())),
		zap.Int("fields", len(t.order)),
	)
	return nil
}
