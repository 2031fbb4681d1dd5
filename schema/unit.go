package schema

import (
	"sort"

	"github.com/samber/lo"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/yaroher/go-protoplus/errs"
)

// FileUnit is a batch of declarations finalized together into one file.
type FileUnit struct {
	Key      string
	Package  string
	Manifest []string

	messages   []*MessageSpec
	enums      []*EnumSpec
	byPath     map[string]any
	unattached map[string][]any
	filename   string
	desc       protoreflect.FileDescriptor
	finalized  bool
	err        error
}

func newUnit(key, pkg string) *FileUnit {
	return &FileUnit{
		Key:        key,
		Package:    pkg,
		byPath:     make(map[string]any),
		unattached: make(map[string][]any),
	}
}

// Filename is the salted file path, set on finalization.
func (u *FileUnit) Filename() string { return u.filename }

func (u *FileUnit) Descriptor() protoreflect.FileDescriptor { return u.desc }

func (u *FileUnit) Finalized() bool { return u.finalized }

// Err is the finalization failure, if any.
func (u *FileUnit) Err() error { return u.err }

// Messages are the top-level messages in declaration order.
func (u *FileUnit) Messages() []*MessageSpec { return u.messages }

// Enums are the top-level enums in declaration order.
func (u *FileUnit) Enums() []*EnumSpec { return u.enums }

// attach records decl under path and hangs it off its parent, or parks it
// until the parent is declared. Children already waiting for decl are
// adopted.
func (u *FileUnit) attach(path string, decl any) {
	u.byPath[path] = decl
	if m, ok := decl.(*MessageSpec); ok {
		for _, child := range u.unattached[path] {
			adopt(m, child)
		}
		delete(u.unattached, path)
	}
	pp := parentPath(path)
	if pp == "" {
		switch d := decl.(type) {
		case *MessageSpec:
			u.messages = append(u.messages, d)
		case *EnumSpec:
			u.enums = append(u.enums, d)
		}
		return
	}
	if parent, ok := u.byPath[pp].(*MessageSpec); ok {
		adopt(parent, decl)
		return
	}
	u.unattached[pp] = append(u.unattached[pp], decl)
}

func adopt(parent *MessageSpec, child any) {
	switch c := child.(type) {
	case *MessageSpec:
		parent.Messages = append(parent.Messages, c)
	case *EnumSpec:
		parent.Enums = append(parent.Enums, c)
	}
}

func (c *Context) dropIfEmpty(u *FileUnit) {
	if len(u.byPath) == 0 && len(u.Manifest) == 0 {
		delete(c.pending, u.Key)
	}
}

// paths returns the declared local paths in sorted order.
func (u *FileUnit) paths() []string {
	paths := lo.Keys(u.byPath)
	sort.Strings(paths)
	return paths
}

// eachField visits the fields of every declared message, including the map
// entries they own.
func (u *FileUnit) eachField(fn func(m *MessageSpec, f *FieldSpec)) {
	for _, p := range u.paths() {
		m, ok := u.byPath[p].(*MessageSpec)
		if !ok {
			continue
		}
		for _, mm := range append([]*MessageSpec{m}, lo.Filter(m.Messages, func(n *MessageSpec, _ int) bool { return n.MapEntry })...) {
			for _, f := range mm.Fields {
				fn(mm, f)
			}
		}
	}
}

// diagnostics lists what keeps the unit from finalizing. A unit is ready
// when the list holds no errors.
func (u *FileUnit) diagnostics() []Diagnostic {
	var out []Diagnostic
	if u.err != nil {
		out = append(out, Diagnostic{Level: DiagError, Subject: u.Key, Message: "finalization failed: " + u.err.Error()})
	}
	if len(u.byPath) == 0 {
		out = append(out, Diagnostic{Level: DiagInfo, Subject: u.Key, Message: "no declarations yet"})
	}
	parents := lo.Keys(u.unattached)
	sort.Strings(parents)
	for _, pp := range parents {
		for _, child := range u.unattached[pp] {
			out = append(out, Diagnostic{
				Level:   DiagError,
				Subject: declPath(child),
				Message: "nested type waits for parent " + pp,
			})
		}
	}
	u.eachField(func(m *MessageSpec, f *FieldSpec) {
		subject := m.Path + "." + f.Name
		if f.pending != "" {
			out = append(out, Diagnostic{Level: DiagError, Subject: subject, Message: "waits for type " + string(f.pending)})
			return
		}
		if dep := targetUnit(f); dep != nil && dep != u && !dep.finalized {
			out = append(out, Diagnostic{Level: DiagError, Subject: subject, Message: "depends on unfinalized unit " + dep.Key})
		}
	})
	for _, name := range u.Manifest {
		if _, ok := u.byPath[name]; !ok {
			out = append(out, Diagnostic{Level: DiagError, Subject: name, Message: "manifest member not declared"})
		}
	}
	return out
}

func (u *FileUnit) ready() bool {
	if len(u.byPath) == 0 {
		return false
	}
	return !hasErrors(u.diagnostics())
}

func targetUnit(f *FieldSpec) *FileUnit {
	switch {
	case f.Target.msg != nil:
		return f.Target.msg.unit
	case f.Target.enum != nil:
		return f.Target.enum.unit
	}
	return nil
}

func declPath(decl any) string {
	switch d := decl.(type) {
	case *MessageSpec:
		return d.Path
	case *EnumSpec:
		return d.Path
	}
	return ""
}

// dependencies lists the files the unit imports: other units it refers to
// and the files of external descriptors.
func (u *FileUnit) dependencies() ([]string, []protoreflect.FileDescriptor) {
	paths := make(map[string]struct{})
	var external []protoreflect.FileDescriptor
	u.eachField(func(_ *MessageSpec, f *FieldSpec) {
		if dep := targetUnit(f); dep != nil {
			if dep != u {
				paths[dep.filename] = struct{}{}
			}
			return
		}
		if d := f.Target.desc; d != nil {
			file := d.ParentFile()
			if _, ok := paths[file.Path()]; !ok {
				external = append(external, file)
			}
			paths[file.Path()] = struct{}{}
		}
	})
	out := lo.Keys(paths)
	sort.Strings(out)
	return out, external
}

// DeclareUnit configures the unit keyed by path before its members are
// declared. A manifest holds finalization until every listed local path is
// declared and disables filename salting.
func (c *Context) DeclareUnit(path string, opts ...Option) (*FileUnit, error) {
	o := applyOptions(opts)
	o.file = trimProto(path)
	if o.file == "" {
		return nil, errs.Schema(path, "unit path is empty")
	}
	u, err := c.unitFor(o, o.file)
	if err != nil {
		return nil, err
	}
	u.Manifest = lo.Uniq(append(u.Manifest, o.manifest...))
	return u, c.settle(o.file)
}
