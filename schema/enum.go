package schema

import (
	"strconv"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/yaroher/go-protoplus/errs"
)

// DeclareEnum declares an enum. A value numbered 0 is required; two names
// may share a number only when the options set allow_alias.
func (c *Context) DeclareEnum(name string, values []EnumValue, opts ...Option) (_ *EnumSpec, err error) {
	o := applyOptions(opts)
	path := strings.TrimPrefix(name, ".")
	if o.fullName != "" {
		path = o.fullName[strings.LastIndexByte(o.fullName, '.')+1:]
	}
	if path == "" {
		return nil, errs.Schema(name, "enum name is empty")
	}
	if err := checkValues(path, values, o.enumOpts.GetAllowAlias()); err != nil {
		return nil, err
	}
	u, err := c.unitFor(o, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			c.dropIfEmpty(u)
		}
	}()
	e := &EnumSpec{
		Name:    localName(path),
		Package: u.Package,
		Path:    path,
		Values:  append([]EnumValue(nil), values...),
		Options: o.enumOpts,
		unit:    u,
	}
	if err := c.checkNew(e.FullName()); err != nil {
		return nil, err
	}
	if err := c.checkParent(u, path); err != nil {
		return nil, err
	}
	c.enums[e.FullName()] = e
	u.attach(path, e)
	log.Debug("declared enum",
		zap.String("name", string(e.FullName())),
		zap.String("unit", u.Key),
		zap.Int("values", len(values)),
	)
	c.patch(e.FullName(), EnumRef(e))
	return e, c.settle(path)
}

func checkValues(path string, values []EnumValue, allowAlias bool) error {
	if len(values) == 0 {
		return errs.Schema(path, "enum has no values")
	}
	if !lo.ContainsBy(values, func(v EnumValue) bool { return v.Number == 0 }) {
		return errs.Schema(path, "enum needs a value numbered 0")
	}
	if dups := lo.FindDuplicatesBy(values, func(v EnumValue) string { return v.Name }); len(dups) > 0 {
		return errs.Schema(path, "duplicate enum value name "+dups[0].Name)
	}
	if allowAlias {
		return nil
	}
	if dups := lo.FindDuplicatesBy(values, func(v EnumValue) int32 { return v.Number }); len(dups) > 0 {
		return errs.Schema(path, "duplicate enum value number "+strconv.Itoa(int(dups[0].Number)), "set allow_alias to permit aliases")
	}
	return nil
}
