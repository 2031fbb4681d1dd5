// Package marshal converts between native Go values and protobuf wire values.
//
// A Registry maps a wire type (by full name) to a Rule. Built-in rules cover
// the well-known types: Timestamp <-> time.Time, Duration <-> time.Duration,
// the nine wrappers <-> native-or-nil, google.type.Decimal <-> decimal.Decimal
// and the Struct family <-> map[string]any / []any / any. Repeated and map
// containers are exposed through RepeatedView and MapView.
package marshal

// Rule converts values of one wire type. Both directions must be idempotent:
// ToNative given a native value and ToWire given a wire value return it
// unchanged.
type Rule interface {
	ToNative(wire any, absent bool) (any, error)
	ToWire(native any) (any, error)
}

// Cacheable is implemented by rules whose native values are immutable, so a
// field accessor may hand back its cached value without reading the wire.
type Cacheable interface {
	Cacheable() bool
}

// AlwaysCommitter is implemented by native values that can be switched to
// write-through mode. Values extracted from containers are switched on.
type AlwaysCommitter interface {
	SetAlwaysCommit(bool)
}

// Flusher is implemented by native values holding writes not yet synced into
// the wire object.
type Flusher interface {
	Flush() error
}

type noopRule struct{}

func (noopRule) ToNative(wire any, _ bool) (any, error) {
	return wire, nil
}

func (noopRule) ToWire(native any) (any, error) {
	return native, nil
}

func markAlwaysCommit(v any) {
	if c, ok := v.(AlwaysCommitter); ok {
		c.SetAlwaysCommit(true)
	}
}
