// Package errs holds the error taxonomy shared by the schema builder, the
// marshal registry and the message facade.
package errs

import (
	"fmt"
	"strings"
)

// ConstructionError reports constructor input that is neither a mapping,
// a message of the same type, nor a raw wire message.
type ConstructionError struct {
	Type   string
	Input  string
	Reason string
}

func (e ConstructionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid constructor input for %s: %s", e.Type, e.Input)
	}
	return fmt.Sprintf("invalid constructor input for %s: %s: %s", e.Type, e.Input, e.Reason)
}

// TypeMismatchError reports a native value whose runtime shape disagrees
// with the declared wire type.
type TypeMismatchError struct {
	Field    string
	Expected string
	Got      string
}

func (e TypeMismatchError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("type mismatch: expected %s, got %s", e.Expected, e.Got)
	}
	return fmt.Sprintf("type mismatch for %s: expected %s, got %s", e.Field, e.Expected, e.Got)
}

// RangeError reports an integral value outside the representable range of
// the declared width.
type RangeError struct {
	Field string
	Kind  string
	Value string
	Min   string
	Max   string
}

func (e RangeError) Error() string {
	return fmt.Sprintf("value %s out of range for %s field %s: [%s, %s]", e.Value, e.Kind, e.Field, e.Min, e.Max)
}

// SchemaError reports an invalid declaration or a type that cannot be used
// yet (never resolved, never finalized).
type SchemaError struct {
	Subject string
	Reason  string
	Details []string
}

func (e SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("schema error")
	if e.Subject != "" {
		b.WriteString(" for ")
		b.WriteString(e.Subject)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if len(e.Details) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Details, "; "))
		b.WriteString(")")
	}
	return b.String()
}

// Mismatch builds a TypeMismatchError describing got by its dynamic type.
func Mismatch(field, expected string, got any) error {
	return TypeMismatchError{Field: field, Expected: expected, Got: TypeName(got)}
}

// Schema builds a SchemaError.
func Schema(subject, reason string, details ...string) error {
	return SchemaError{Subject: subject, Reason: reason, Details: details}
}

// TypeName renders the dynamic type of v the way error messages show it.
func TypeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
