package schema

import (
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/yaroher/go-protoplus/errs"
)

// resolve binds the target of f, or parks f in the forward table under the
// full name it waits for.
func (c *Context) resolve(f *FieldSpec, inflight []*MessageSpec) error {
	t := f.Target
	if t.IsZero() {
		return nil
	}
	if t.name != "" {
		ref, key, ok := c.lookup(t.name, f.owner, inflight)
		if !ok {
			f.pending = key
			c.forward[key] = append(c.forward[key], f)
			log.Debug("parked forward reference",
				zap.String("field", f.owner.Path+"."+f.Name),
				zap.String("target", string(key)),
			)
			return nil
		}
		t = ref
	}
	return bindTarget(f, t)
}

func bindTarget(f *FieldSpec, ref Ref) error {
	kind := ref.kind()
	subject := f.owner.Path + "." + f.Name
	if kind == Infer {
		return errs.Schema(subject, "target is neither a message nor an enum", string(ref.FullName()))
	}
	if f.Type != Infer && f.Type != kind {
		return errs.Schema(subject, "field type does not match its target", f.Type.String(), string(ref.FullName()))
	}
	f.Type = kind
	f.Target = ref
	f.pending = ""
	return nil
}

// lookup searches for name from the innermost scope of owner outwards, the
// way protobuf resolves relative names. A leading "." makes name absolute.
// Unknown names are keyed by their package-qualified form.
func (c *Context) lookup(name string, owner *MessageSpec, inflight []*MessageSpec) (Ref, protoreflect.FullName, bool) {
	var candidates []protoreflect.FullName
	if strings.HasPrefix(name, ".") {
		candidates = append(candidates, protoreflect.FullName(name[1:]))
	} else {
		for scope := string(owner.FullName()); ; scope = parentPath(scope) {
			candidates = append(candidates, joinName(scope, name))
			if scope == "" {
				break
			}
		}
	}
	for _, cand := range candidates {
		for _, m := range inflight {
			if m.FullName() == cand {
				return MessageRef(m), cand, true
			}
		}
		if m, ok := c.messages[cand]; ok {
			return MessageRef(m), cand, true
		}
		if e, ok := c.enums[cand]; ok {
			return EnumRef(e), cand, true
		}
	}
	r := c.resolver()
	for _, cand := range candidates {
		d, err := r.FindDescriptorByName(cand)
		if err != nil {
			continue
		}
		switch d.(type) {
		case protoreflect.MessageDescriptor, protoreflect.EnumDescriptor:
			return External(d), cand, true
		}
	}
	if strings.HasPrefix(name, ".") {
		return Ref{}, candidates[0], false
	}
	return Ref{}, joinName(owner.Package, name), false
}

// patch binds every field waiting for name.
func (c *Context) patch(name protoreflect.FullName, ref Ref) {
	waiting := c.forward[name]
	if len(waiting) == 0 {
		return
	}
	delete(c.forward, name)
	for _, f := range waiting {
		if err := bindTarget(f, ref); err != nil {
			// The field keeps waiting and shows up in the pending report.
			log.Warn("forward reference does not fit its target", zap.Error(err))
			continue
		}
		log.Debug("patched forward reference",
			zap.String("field", f.owner.Path+"."+f.Name),
			zap.String("target", string(name)),
		)
	}
}

// unitFor returns the pending unit a declaration belongs to, creating it on
// demand. Without a File option the key is the package with dots as
// slashes, or the snake_case root type name when there is no package. A
// nested type without options joins the unit holding its parent.
func (c *Context) unitFor(o declOptions, path string) (*FileUnit, error) {
	key := o.file
	if key == "" && !o.pkgSet {
		if pp := parentPath(path); pp != "" {
			for _, u := range c.pending {
				if _, ok := u.byPath[pp]; ok {
					return u, nil
				}
			}
		}
	}
	if key == "" {
		if o.pkg != "" {
			key = strings.ReplaceAll(o.pkg, ".", "/")
		} else {
			root := path
			if i := strings.IndexByte(path, '.'); i >= 0 {
				root = path[:i]
			}
			key = strcase.ToSnake(root)
		}
	}
	u, ok := c.pending[key]
	if !ok {
		u = newUnit(key, o.pkg)
		c.pending[key] = u
		return u, nil
	}
	if o.pkgSet && u.Package != o.pkg {
		if len(u.byPath) > 0 {
			return nil, errs.Schema(path, "unit "+key+" already has package "+u.Package, o.pkg)
		}
		u.Package = o.pkg
	}
	return u, nil
}

// checkParent rejects nesting under an enum or under a message whose unit
// was already finalized.
func (c *Context) checkParent(u *FileUnit, path string) error {
	pp := parentPath(path)
	if pp == "" {
		return nil
	}
	if _, ok := u.byPath[pp].(*EnumSpec); ok {
		return errs.Schema(path, "types cannot be nested in an enum")
	}
	if _, ok := u.byPath[pp]; ok {
		return nil
	}
	if m, ok := c.messages[joinName(u.Package, pp)]; ok && m.unit != u {
		return errs.Schema(path, "parent "+pp+" belongs to finalized unit "+m.unit.Key)
	}
	if _, ok := c.enums[joinName(u.Package, pp)]; ok {
		return errs.Schema(path, "types cannot be nested in an enum")
	}
	return nil
}

// unpark drops forward references held by fields of a rejected declaration.
func (c *Context) unpark(specs []*MessageSpec) {
	for _, m := range specs {
		for _, f := range m.Fields {
			if f.pending == "" {
				continue
			}
			c.forward[f.pending] = lo.Without(c.forward[f.pending], f)
			if len(c.forward[f.pending]) == 0 {
				delete(c.forward, f.pending)
			}
		}
	}
}
