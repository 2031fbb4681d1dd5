package schema

import (
	"strings"

	"google.golang.org/protobuf/types/descriptorpb"
)

type declOptions struct {
	pkg      string
	pkgSet   bool
	file     string
	fullName string
	msgOpts  *descriptorpb.MessageOptions
	enumOpts *descriptorpb.EnumOptions
	manifest []string
}

// Option configures a message, enum or unit declaration.
type Option func(*declOptions)

// Package sets the protobuf package of the declaration.
func Package(pkg string) Option {
	return func(o *declOptions) {
		o.pkg = pkg
		o.pkgSet = true
	}
}

// File places the declaration in the unit keyed by path. A trailing
// ".proto" is ignored.
func File(path string) Option {
	return func(o *declOptions) {
		o.file = strings.TrimSuffix(path, ".proto")
	}
}

// FullName declares a top-level type under an absolute name; everything
// before the last dot becomes the package.
func FullName(name string) Option {
	return func(o *declOptions) {
		o.fullName = strings.TrimPrefix(name, ".")
	}
}

func MessageOptions(opts *descriptorpb.MessageOptions) Option {
	return func(o *declOptions) {
		o.msgOpts = opts
	}
}

func EnumOptions(opts *descriptorpb.EnumOptions) Option {
	return func(o *declOptions) {
		o.enumOpts = opts
	}
}

// Manifest lists the local paths a unit must contain before it finalizes.
// A unit with a manifest is written under an unsalted filename.
func Manifest(names ...string) Option {
	return func(o *declOptions) {
		o.manifest = append(o.manifest, names...)
	}
}

func applyOptions(opts []Option) declOptions {
	var o declOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.fullName != "" {
		if i := strings.LastIndexByte(o.fullName, '.'); i >= 0 {
			o.pkg, o.pkgSet = o.fullName[:i], true
		}
	}
	return o
}

// FieldOption configures a field declaration.
type FieldOption func(*FieldSpec)

func Repeated() FieldOption {
	return func(f *FieldSpec) { f.Repeated = true }
}

// Optional gives a proto3 scalar field explicit presence.
func Optional() FieldOption {
	return func(f *FieldSpec) { f.Optional = true }
}

// InOneof adds the field to the named oneof group.
func InOneof(group string) FieldOption {
	return func(f *FieldSpec) { f.Oneof = group }
}

// Target sets the message or enum a field (or a map's value) refers to.
func Target(ref Ref) FieldOption {
	return func(f *FieldSpec) { f.Target = ref }
}
