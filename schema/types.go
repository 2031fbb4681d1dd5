// Package schema compiles message and enum declarations into protobuf file
// descriptors.
//
// Declarations are grouped into file units. A unit finalizes once every type
// it references is known: its FileDescriptorProto is built, validated by
// protodesc against the context's pool, registered, and dynamic message and
// enum types are minted for every declaration. Types may be declared in any
// order; references to names not yet declared are parked and patched when the
// target appears.
package schema

import (
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Type is the wire type of a field.
type Type = descriptorpb.FieldDescriptorProto_Type

// Infer leaves the wire type to be taken from the field's target.
const Infer Type = 0

const (
	Double      = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	Float       = descriptorpb.FieldDescriptorProto_TYPE_FLOAT
	Int64       = descriptorpb.FieldDescriptorProto_TYPE_INT64
	Uint64      = descriptorpb.FieldDescriptorProto_TYPE_UINT64
	Int32       = descriptorpb.FieldDescriptorProto_TYPE_INT32
	Fixed64     = descriptorpb.FieldDescriptorProto_TYPE_FIXED64
	Fixed32     = descriptorpb.FieldDescriptorProto_TYPE_FIXED32
	Bool        = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	String      = descriptorpb.FieldDescriptorProto_TYPE_STRING
	MessageKind = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
	Bytes       = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	Uint32      = descriptorpb.FieldDescriptorProto_TYPE_UINT32
	EnumKind    = descriptorpb.FieldDescriptorProto_TYPE_ENUM
	Sfixed32    = descriptorpb.FieldDescriptorProto_TYPE_SFIXED32
	Sfixed64    = descriptorpb.FieldDescriptorProto_TYPE_SFIXED64
	Sint32      = descriptorpb.FieldDescriptorProto_TYPE_SINT32
	Sint64      = descriptorpb.FieldDescriptorProto_TYPE_SINT64
)

// Ref points a field at a message or enum. The zero Ref means no target.
type Ref struct {
	name string
	msg  *MessageSpec
	enum *EnumSpec
	desc protoreflect.Descriptor
}

// Named refers to a type by name. Bare names resolve relative to the
// declaring message's package; a leading "." makes the name absolute.
func Named(name string) Ref { return Ref{name: name} }

func MessageRef(m *MessageSpec) Ref { return Ref{msg: m} }

func EnumRef(e *EnumSpec) Ref { return Ref{enum: e} }

// External refers to a message or enum descriptor that lives outside the
// schema, such as a generated or well-known type.
func External(d protoreflect.Descriptor) Ref { return Ref{desc: d} }

// Of refers to the type of a generated message.
func Of(m proto.Message) Ref { return External(m.ProtoReflect().Descriptor()) }

// OfEnum refers to the type of a generated enum.
func OfEnum(e protoreflect.Enum) Ref { return External(e.Descriptor()) }

func (r Ref) IsZero() bool {
	return r.name == "" && r.msg == nil && r.enum == nil && r.desc == nil
}

// FullName is the resolved full name, or the pending name as written.
func (r Ref) FullName() protoreflect.FullName {
	switch {
	case r.msg != nil:
		return r.msg.FullName()
	case r.enum != nil:
		return r.enum.FullName()
	case r.desc != nil:
		return r.desc.FullName()
	}
	return protoreflect.FullName(strings.TrimPrefix(r.name, "."))
}

func (r Ref) Message() *MessageSpec { return r.msg }

func (r Ref) Enum() *EnumSpec { return r.enum }

func (r Ref) Descriptor() protoreflect.Descriptor { return r.desc }

func (r Ref) kind() Type {
	switch {
	case r.msg != nil:
		return MessageKind
	case r.enum != nil:
		return EnumKind
	}
	switch r.desc.(type) {
	case protoreflect.MessageDescriptor:
		return MessageKind
	case protoreflect.EnumDescriptor:
		return EnumKind
	}
	return Infer
}

// FieldSpec is one declared field.
type FieldSpec struct {
	Name     string
	Number   int32
	Type     Type
	Repeated bool
	Optional bool
	Oneof    string
	Target   Ref

	// MapKey and MapValue are set for fields declared through Map. After
	// Finish the field is a repeated reference to its entry message.
	MapKey   Type
	MapValue Type

	owner      *MessageSpec
	index      int
	oneofIndex int
	entry      *MessageSpec
	pending    protoreflect.FullName
}

func (f *FieldSpec) Owner() *MessageSpec { return f.owner }

// Index is the declaration-order position of the field in its message.
func (f *FieldSpec) Index() int { return f.index }

// OneofIndex is the position of the field's oneof group, or -1.
func (f *FieldSpec) OneofIndex() int { return f.oneofIndex }

// Entry is the synthetic entry message of a map field.
func (f *FieldSpec) Entry() *MessageSpec { return f.entry }

func (f *FieldSpec) IsMap() bool { return f.entry != nil }

// Pending is the full name the field waits for, or "".
func (f *FieldSpec) Pending() protoreflect.FullName { return f.pending }

// MessageSpec is a declared message type.
type MessageSpec struct {
	Name    string
	Package string
	// Path is the dotted local path, "Outer.Inner" for a nested type.
	Path     string
	Fields   []*FieldSpec
	Oneofs   []string
	Messages []*MessageSpec
	Enums    []*EnumSpec
	Options  *descriptorpb.MessageOptions
	MapEntry bool

	unit *FileUnit
	desc protoreflect.MessageDescriptor
	typ  protoreflect.MessageType
}

func (m *MessageSpec) FullName() protoreflect.FullName {
	return joinName(m.Package, m.Path)
}

func (m *MessageSpec) Field(name string) *FieldSpec {
	for _, f := range m.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (m *MessageSpec) Unit() *FileUnit { return m.unit }

// Descriptor is nil until the message's unit is finalized.
func (m *MessageSpec) Descriptor() protoreflect.MessageDescriptor { return m.desc }

// Type is the minted dynamic message type, nil until finalized.
func (m *MessageSpec) Type() protoreflect.MessageType { return m.typ }

func (m *MessageSpec) Finalized() bool { return m.typ != nil }

// Ready reports whether every field target is resolved, following message
// targets transitively. Self references and cycles count as resolved.
func (m *MessageSpec) Ready() bool {
	return m.ready(make(map[*MessageSpec]struct{}))
}

func (m *MessageSpec) ready(seen map[*MessageSpec]struct{}) bool {
	if _, ok := seen[m]; ok {
		return true
	}
	seen[m] = struct{}{}
	for _, f := range m.Fields {
		if f.pending != "" {
			return false
		}
		if t := f.Target.msg; t != nil && !t.ready(seen) {
			return false
		}
	}
	for _, n := range m.Messages {
		if !n.ready(seen) {
			return false
		}
	}
	return true
}

// EnumValue is one enum variant.
type EnumValue struct {
	Name   string
	Number int32
}

// EnumSpec is a declared enum type.
type EnumSpec struct {
	Name    string
	Package string
	Path    string
	Values  []EnumValue
	Options *descriptorpb.EnumOptions

	unit *FileUnit
	desc protoreflect.EnumDescriptor
	typ  protoreflect.EnumType
}

func (e *EnumSpec) FullName() protoreflect.FullName {
	return joinName(e.Package, e.Path)
}

func (e *EnumSpec) Unit() *FileUnit { return e.unit }

func (e *EnumSpec) Descriptor() protoreflect.EnumDescriptor { return e.desc }

func (e *EnumSpec) Type() protoreflect.EnumType { return e.typ }

func (e *EnumSpec) Finalized() bool { return e.typ != nil }

func joinName(pkg, path string) protoreflect.FullName {
	if pkg == "" {
		return protoreflect.FullName(path)
	}
	return protoreflect.FullName(pkg + "." + path)
}
