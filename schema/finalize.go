package schema

import (
	"sort"

	"github.com/go-faster/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/yaroher/go-protoplus/errs"
)

// settle finalizes ready units until a pass changes nothing. Finalizing one
// unit can make units depending on it ready. The first failure is returned
// after every ready unit has been tried.
func (c *Context) settle(trigger string) error {
	var first error
	for changed := true; changed; {
		changed = false
		keys := lo.Keys(c.pending)
		sort.Strings(keys)
		for _, key := range keys {
			u, ok := c.pending[key]
			if !ok || u.err != nil || !u.ready() {
				continue
			}
			if err := c.finalize(u, trigger); err != nil {
				if first == nil {
					first = err
				}
				continue
			}
			changed = true
		}
	}
	return first
}

func (c *Context) finalize(u *FileUnit, trigger string) error {
	if u.finalized {
		return nil
	}
	deps, external := u.dependencies()
	for _, fd := range external {
		if err := c.importFile(fd); err != nil {
			return c.fail(u, err)
		}
	}
	u.filename = c.filename(u, trigger)
	fdp := u.fileProto(deps)
	fd, err := protodesc.NewFile(fdp, c.resolver())
	if err != nil {
		return c.fail(u, err)
	}
	if err := c.files.RegisterFile(fd); err != nil {
		return c.fail(u, err)
	}
	u.desc = fd
	u.finalized = true
	delete(c.pending, u.Key)

	enums, messages := c.mint(fd)
	log.Debug("finalized unit",
		zap.String("unit", u.Key),
		zap.String("file", u.filename),
		zap.Int("messages", len(messages)),
		zap.Int("enums", len(enums)),
	)
	return c.bind(u, enums, messages)
}

func (c *Context) fail(u *FileUnit, err error) error {
	u.err = err
	log.Error("unit finalization failed", zap.String("unit", u.Key), zap.Error(err))
	return errs.SchemaError{Subject: u.Key, Reason: "finalization failed", Details: []string{err.Error()}}
}

// importFile registers an external file, and its imports, in the context
// pool unless the chained resolver already knows it.
func (c *Context) importFile(fd protoreflect.FileDescriptor) error {
	if _, err := c.resolver().FindFileByPath(fd.Path()); err == nil {
		return nil
	}
	imports := fd.Imports()
	for i := 0; i < imports.Len(); i++ {
		if err := c.importFile(imports.Get(i).FileDescriptor); err != nil {
			return err
		}
	}
	return errors.Wrapf(c.files.RegisterFile(fd), "import %s", fd.Path())
}

// mint creates and registers dynamic types for every message and enum of
// fd, returning the specs in declaration order.
func (c *Context) mint(fd protoreflect.FileDescriptor) ([]*EnumSpec, []*MessageSpec) {
	var (
		enums    []*EnumSpec
		messages []*MessageSpec
	)
	var visit func(msgs protoreflect.MessageDescriptors, ens protoreflect.EnumDescriptors)
	visit = func(msgs protoreflect.MessageDescriptors, ens protoreflect.EnumDescriptors) {
		for i := 0; i < ens.Len(); i++ {
			ed := ens.Get(i)
			e, ok := c.enums[ed.FullName()]
			if !ok {
				continue
			}
			e.desc = ed
			e.typ = dynamicpb.NewEnumType(ed)
			if err := c.types.RegisterEnum(e.typ); err != nil {
				log.Warn("enum type registration failed", zap.String("enum", string(ed.FullName())), zap.Error(err))
			}
			enums = append(enums, e)
		}
		for i := 0; i < msgs.Len(); i++ {
			md := msgs.Get(i)
			m, ok := c.messages[md.FullName()]
			if !ok {
				continue
			}
			m.desc = md
			m.typ = dynamicpb.NewMessageType(md)
			if err := c.types.RegisterMessage(m.typ); err != nil {
				log.Warn("message type registration failed", zap.String("message", string(md.FullName())), zap.Error(err))
			}
			messages = append(messages, m)
			visit(md.Messages(), md.Enums())
		}
	}
	visit(fd.Messages(), fd.Enums())
	return enums, messages
}

// bind hands minted types to the binder, enums first so message rules can
// see them.
func (c *Context) bind(u *FileUnit, enums []*EnumSpec, messages []*MessageSpec) error {
	if c.binder == nil {
		return nil
	}
	var first error
	for _, e := range enums {
		if err := c.binder.BindEnum(e, e.typ); err != nil {
			log.Warn("bind enum failed", zap.String("enum", string(e.FullName())), zap.Error(err))
			if first == nil {
				first = errors.Wrapf(err, "bind %s", e.FullName())
			}
		}
	}
	for _, m := range messages {
		if m.MapEntry {
			continue
		}
		if err := c.binder.BindMessage(m, m.typ); err != nil {
			log.Warn("bind message failed", zap.String("message", string(m.FullName())), zap.Error(err))
			if first == nil {
				first = errors.Wrapf(err, "bind %s", m.FullName())
			}
		}
	}
	if first != nil {
		return errs.SchemaError{Subject: u.Key, Reason: "binding failed", Details: []string{first.Error()}}
	}
	return nil
}

func (u *FileUnit) fileProto(deps []string) *descriptorpb.FileDescriptorProto {
	fdp := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(u.filename),
		Syntax:     proto.String("proto3"),
		Dependency: deps,
	}
	if u.Package != "" {
		fdp.Package = proto.String(u.Package)
	}
	for _, m := range u.messages {
		fdp.MessageType = append(fdp.MessageType, messageProto(m))
	}
	for _, e := range u.enums {
		fdp.EnumType = append(fdp.EnumType, enumProto(e))
	}
	return fdp
}

func messageProto(m *MessageSpec) *descriptorpb.DescriptorProto {
	dp := &descriptorpb.DescriptorProto{
		Name:    proto.String(m.Name),
		Options: m.Options,
	}
	used := make(map[string]struct{}, len(m.Fields)+len(m.Oneofs))
	for _, name := range m.Oneofs {
		dp.OneofDecl = append(dp.OneofDecl, &descriptorpb.OneofDescriptorProto{Name: proto.String(name)})
		used[name] = struct{}{}
	}
	for _, f := range m.Fields {
		dp.Field = append(dp.Field, fieldProto(f))
		used[f.Name] = struct{}{}
	}
	// proto3 optional fields get synthetic oneofs after the real ones.
	for i, f := range m.Fields {
		if !f.Optional {
			continue
		}
		name := "_" + f.Name
		for {
			if _, ok := used[name]; !ok {
				break
			}
			name = "X" + name
		}
		used[name] = struct{}{}
		dp.Field[i].OneofIndex = proto.Int32(int32(len(dp.OneofDecl)))
		dp.Field[i].Proto3Optional = proto.Bool(true)
		dp.OneofDecl = append(dp.OneofDecl, &descriptorpb.OneofDescriptorProto{Name: proto.String(name)})
	}
	for _, n := range m.Messages {
		dp.NestedType = append(dp.NestedType, messageProto(n))
	}
	for _, e := range m.Enums {
		dp.EnumType = append(dp.EnumType, enumProto(e))
	}
	return dp
}

func fieldProto(f *FieldSpec) *descriptorpb.FieldDescriptorProto {
	label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	if f.Repeated {
		label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
	}
	fp := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(f.Name),
		Number: proto.Int32(f.Number),
		Label:  label.Enum(),
		Type:   f.Type.Enum(),
	}
	if !f.Target.IsZero() {
		fp.TypeName = proto.String("." + string(f.Target.FullName()))
	}
	if f.oneofIndex >= 0 {
		fp.OneofIndex = proto.Int32(int32(f.oneofIndex))
	}
	return fp
}

// enumProto emits values with zero first, as proto3 requires, then by
// number.
func enumProto(e *EnumSpec) *descriptorpb.EnumDescriptorProto {
	ep := &descriptorpb.EnumDescriptorProto{
		Name:    proto.String(e.Name),
		Options: e.Options,
	}
	values := append([]EnumValue(nil), e.Values...)
	sort.SliceStable(values, func(i, j int) bool {
		a, b := values[i].Number, values[j].Number
		if (a == 0) != (b == 0) {
			return a == 0
		}
		return a < b
	})
	for _, v := range values {
		ep.Value = append(ep.Value, &descriptorpb.EnumValueDescriptorProto{
			Name:   proto.String(v.Name),
			Number: proto.Int32(v.Number),
		})
	}
	return ep
}
