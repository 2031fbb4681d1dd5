package schema

import (
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"

	"github.com/yaroher/go-protoplus/logger"
)

var log = logger.Logger.Named("schema")

// Binder receives every type minted by a finalized unit. Enums are bound
// before messages; map entry messages are not bound.
type Binder interface {
	BindEnum(spec *EnumSpec, typ protoreflect.EnumType) error
	BindMessage(spec *MessageSpec, typ protoreflect.MessageType) error
}

// SaltPolicy selects how finalized file names are made unique.
type SaltPolicy int

const (
	// SaltRandom appends 8 hex digits taken from a random UUID.
	SaltRandom SaltPolicy = iota
	// SaltDeterministic appends the snake_case name of the declaration that
	// completed the unit, falling back to random on a collision.
	SaltDeterministic
)

func (p SaltPolicy) String() string {
	if p == SaltDeterministic {
		return "deterministic"
	}
	return "random"
}

// Context owns all compilation state: pending units, the forward reference
// table and the descriptor and type pools. It is not safe for concurrent
// use.
type Context struct {
	binder Binder
	salt   SaltPolicy

	files    *protoregistry.Files
	types    *protoregistry.Types
	messages map[protoreflect.FullName]*MessageSpec
	enums    map[protoreflect.FullName]*EnumSpec
	pending  map[string]*FileUnit
	forward  map[protoreflect.FullName][]*FieldSpec
}

type ContextOption func(*Context)

func WithBinder(b Binder) ContextOption {
	return func(c *Context) { c.binder = b }
}

func WithSalt(p SaltPolicy) ContextOption {
	return func(c *Context) { c.salt = p }
}

func NewContext(opts ...ContextOption) *Context {
	c := &Context{}
	for _, opt := range opts {
		opt(c)
	}
	c.Reset()
	return c
}

// Reset drops every declaration, pending unit and forward reference and
// starts over with empty pools.
func (c *Context) Reset() {
	c.files = new(protoregistry.Files)
	c.types = new(protoregistry.Types)
	c.messages = make(map[protoreflect.FullName]*MessageSpec)
	c.enums = make(map[protoreflect.FullName]*EnumSpec)
	c.pending = make(map[string]*FileUnit)
	c.forward = make(map[protoreflect.FullName][]*FieldSpec)
}

// Files is the pool every finalized unit is registered in.
func (c *Context) Files() *protoregistry.Files { return c.files }

// Types holds the minted message and enum types.
func (c *Context) Types() *protoregistry.Types { return c.types }

func (c *Context) Salt() SaltPolicy { return c.salt }

func (c *Context) Message(name protoreflect.FullName) (*MessageSpec, bool) {
	m, ok := c.messages[name]
	return m, ok
}

func (c *Context) Enum(name protoreflect.FullName) (*EnumSpec, bool) {
	e, ok := c.enums[name]
	return e, ok
}

// resolver looks descriptors up in the context pool first and the global
// registry second.
type resolver struct {
	local *protoregistry.Files
}

func (r resolver) FindFileByPath(path string) (protoreflect.FileDescriptor, error) {
	if fd, err := r.local.FindFileByPath(path); err == nil {
		return fd, nil
	}
	return protoregistry.GlobalFiles.FindFileByPath(path)
}

func (r resolver) FindDescriptorByName(name protoreflect.FullName) (protoreflect.Descriptor, error) {
	if d, err := r.local.FindDescriptorByName(name); err == nil {
		return d, nil
	}
	return protoregistry.GlobalFiles.FindDescriptorByName(name)
}

func (c *Context) resolver() resolver {
	return resolver{local: c.files}
}
