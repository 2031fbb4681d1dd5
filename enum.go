package protoplus

import (
	"math"
	"reflect"
	"strconv"
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/yaroher/go-protoplus/errs"
	"github.com/yaroher/go-protoplus/schema"
)

// EnumValue is the native form of an enum field. Numbers unknown to the
// enum keep an empty Name.
type EnumValue struct {
	Number protoreflect.EnumNumber
	Name   string
	enum   protoreflect.FullName
}

// Enum is the full name of the enum the value belongs to.
func (v EnumValue) Enum() protoreflect.FullName { return v.enum }

func (v EnumValue) String() string {
	if v.Name == "" {
		return strconv.Itoa(int(v.Number))
	}
	return v.Name
}

// Discriminator encodes the value as "<enum full name>:<number>".
func (v EnumValue) Discriminator() string {
	var b strings.Builder
	b.WriteString(string(v.enum))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(int(v.Number)))
	return b.String()
}

// ParseDiscriminator resolves a discriminator produced by
// EnumValue.Discriminator against the schema's enums.
func (s *Schema) ParseDiscriminator(d string) (EnumValue, error) {
	parts := strings.Split(d, ":")
	if len(parts) != 2 {
		return EnumValue{}, errs.ConstructionError{Type: "discriminator", Input: d, Reason: "expected <enum>:<number>"}
	}
	e, ok := s.enums[protoreflect.FullName(parts[0])]
	if !ok {
		return EnumValue{}, errs.ConstructionError{Type: "discriminator", Input: d, Reason: "unknown enum " + parts[0]}
	}
	n, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return EnumValue{}, errs.ConstructionError{Type: "discriminator", Input: d, Reason: "invalid number"}
	}
	return e.valueOf(protoreflect.EnumNumber(n)), nil
}

// EnumType is the handle of a declared enum. Name and number lookups work
// before finalization; Descriptor does not.
type EnumType struct {
	s    *Schema
	spec *schema.EnumSpec
	typ  protoreflect.EnumType

	byName   map[string]EnumValue
	byNumber map[protoreflect.EnumNumber]EnumValue
	values   []EnumValue
}

func (e *EnumType) Name() protoreflect.FullName { return e.spec.FullName() }

func (e *EnumType) Spec() *schema.EnumSpec { return e.spec }

func (e *EnumType) Ready() bool { return e.typ != nil }

// Descriptor is nil until the enum is ready.
func (e *EnumType) Descriptor() protoreflect.EnumDescriptor {
	if e.typ == nil {
		return nil
	}
	return e.typ.Descriptor()
}

// index builds the reverse lookup tables on first use. Aliases resolve to
// the first declared name.
func (e *EnumType) index() {
	if e.byName != nil {
		return
	}
	e.byName = make(map[string]EnumValue, len(e.spec.Values))
	e.byNumber = make(map[protoreflect.EnumNumber]EnumValue, len(e.spec.Values))
	e.values = make([]EnumValue, 0, len(e.spec.Values))
	for _, v := range e.spec.Values {
		ev := EnumValue{Number: protoreflect.EnumNumber(v.Number), Name: v.Name, enum: e.Name()}
		e.byName[v.Name] = ev
		if _, ok := e.byNumber[ev.Number]; !ok {
			e.byNumber[ev.Number] = ev
		}
		e.values = append(e.values, ev)
	}
}

// Value looks a variant up by name.
func (e *EnumType) Value(name string) (EnumValue, error) {
	e.index()
	v, ok := e.byName[name]
	if !ok {
		return EnumValue{}, errs.TypeMismatchError{Field: string(e.Name()), Expected: "variant of " + string(e.Name()), Got: strconv.Quote(name)}
	}
	return v, nil
}

// Number looks a variant up by number.
func (e *EnumType) Number(n protoreflect.EnumNumber) (EnumValue, error) {
	e.index()
	v, ok := e.byNumber[n]
	if !ok {
		return EnumValue{}, errs.TypeMismatchError{Field: string(e.Name()), Expected: "variant of " + string(e.Name()), Got: strconv.Itoa(int(n))}
	}
	return v, nil
}

// Values returns the variants in declaration order.
func (e *EnumType) Values() []EnumValue {
	e.index()
	return append([]EnumValue(nil), e.values...)
}

func (e *EnumType) valueOf(n protoreflect.EnumNumber) EnumValue {
	if v, err := e.Number(n); err == nil {
		return v
	}
	return EnumValue{Number: n, enum: e.Name()}
}

// number converts an EnumValue, a generated enum, a variant name or an
// integer to the wire number. Unknown numbers are kept; unknown names are
// not.
func (e *EnumType) number(v any) (protoreflect.EnumNumber, error) {
	field := string(e.Name())
	switch x := v.(type) {
	case EnumValue:
		if x.enum != "" && x.enum != e.Name() {
			return 0, errs.TypeMismatchError{Field: field, Expected: field, Got: string(x.enum)}
		}
		return x.Number, nil
	case protoreflect.EnumNumber:
		return x, nil
	case protoreflect.Enum:
		if got := x.Descriptor().FullName(); got != e.Name() {
			return 0, errs.TypeMismatchError{Field: field, Expected: field, Got: string(got)}
		}
		return x.Number(), nil
	case string:
		ev, err := e.Value(x)
		if err != nil {
			return 0, err
		}
		return ev.Number, nil
	}
	rv := reflect.ValueOf(v)
	var n int64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if rv.Uint() > math.MaxInt32 {
			return 0, e.outOfRange(strconv.FormatUint(rv.Uint(), 10))
		}
		n = int64(rv.Uint())
	default:
		return 0, errs.Mismatch(field, field, v)
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, e.outOfRange(strconv.FormatInt(n, 10))
	}
	return protoreflect.EnumNumber(n), nil
}

func (e *EnumType) outOfRange(value string) error {
	return errs.RangeError{
		Field: string(e.Name()),
		Kind:  "enum",
		Value: value,
		Min:   strconv.Itoa(math.MinInt32),
		Max:   strconv.Itoa(math.MaxInt32),
	}
}
