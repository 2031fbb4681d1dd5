package marshal

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	decimalpb "google.golang.org/genproto/googleapis/type/decimal"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/yaroher/go-protoplus/errs"
)

func field(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type, typeName string, repeated bool) *descriptorpb.FieldDescriptorProto {
	label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	if repeated {
		label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
	}
	f := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Type:   typ.Enum(),
		Label:  label.Enum(),
	}
	if typeName != "" {
		f.TypeName = proto.String(typeName)
	}
	return f
}

func sampleDescriptor(t *testing.T) protoreflect.MessageDescriptor {
	t.Helper()
	const (
		msg  = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
		enum = descriptorpb.FieldDescriptorProto_TYPE_ENUM
	)
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("marshaltest/sample.proto"),
		Package: proto.String("marshaltest"),
		Syntax:  proto.String("proto3"),
		Dependency: []string{
			"google/protobuf/timestamp.proto",
			"google/protobuf/duration.proto",
			"google/protobuf/wrappers.proto",
			"google/protobuf/struct.proto",
			"google/type/decimal.proto",
		},
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name: proto.String("Color"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				{Name: proto.String("COLOR_UNSPECIFIED"), Number: proto.Int32(0)},
				{Name: proto.String("RED"), Number: proto.Int32(1)},
				{Name: proto.String("GREEN"), Number: proto.Int32(2)},
			},
		}},
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: proto.String("Sample"),
			Field: []*descriptorpb.FieldDescriptorProto{
				field("i32", 1, descriptorpb.FieldDescriptorProto_TYPE_INT32, "", false),
				field("u32", 2, descriptorpb.FieldDescriptorProto_TYPE_UINT32, "", false),
				field("f", 3, descriptorpb.FieldDescriptorProto_TYPE_FLOAT, "", false),
				field("s", 4, descriptorpb.FieldDescriptorProto_TYPE_STRING, "", false),
				field("b", 5, descriptorpb.FieldDescriptorProto_TYPE_BYTES, "", false),
				field("ts", 6, msg, ".google.protobuf.Timestamp", false),
				field("dur", 7, msg, ".google.protobuf.Duration", false),
				field("w", 8, msg, ".google.protobuf.Int32Value", false),
				field("dec", 9, msg, ".google.type.Decimal", false),
				field("st", 10, msg, ".google.protobuf.Struct", false),
				field("tags", 11, descriptorpb.FieldDescriptorProto_TYPE_STRING, "", true),
				field("counts", 12, msg, ".marshaltest.Sample.CountsEntry", true),
				field("color", 13, enum, ".marshaltest.Color", false),
				field("nums", 14, descriptorpb.FieldDescriptorProto_TYPE_INT64, "", true),
				field("i64", 15, descriptorpb.FieldDescriptorProto_TYPE_INT64, "", false),
			},
			NestedType: []*descriptorpb.DescriptorProto{{
				Name: proto.String("CountsEntry"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("key", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, "", false),
					field("value", 2, descriptorpb.FieldDescriptorProto_TYPE_INT32, "", false),
				},
				Options: &descriptorpb.MessageOptions{MapEntry: proto.Bool(true)},
			}},
		}},
	}
	fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	require.NoError(t, err)
	return fd.Messages().ByName("Sample")
}

func TestPrimitiveCoercion(t *testing.T) {
	md := sampleDescriptor(t)
	reg := NewRegistry()

	tests := []struct {
		name    string
		field   protoreflect.Name
		in      any
		want    any
		wantErr any
	}{
		{name: "int32 from int", field: "i32", in: 5, want: int32(5)},
		{name: "int32 overflow", field: "i32", in: int64(1) << 31, wantErr: &errs.RangeError{}},
		{name: "int32 from string", field: "i32", in: "5", wantErr: &errs.TypeMismatchError{}},
		{name: "int32 from bool", field: "i32", in: true, wantErr: &errs.TypeMismatchError{}},
		{name: "int32 from float", field: "i32", in: 1.5, wantErr: &errs.TypeMismatchError{}},
		{name: "int64 from uint8", field: "i64", in: uint8(9), want: int64(9)},
		{name: "uint32 negative", field: "u32", in: -1, wantErr: &errs.RangeError{}},
		{name: "uint32 from uint64", field: "u32", in: uint64(7), want: uint32(7)},
		{name: "float from float64", field: "f", in: 1.5, want: float32(1.5)},
		{name: "float from int", field: "f", in: 2, want: float32(2)},
		{name: "float overflow", field: "f", in: 1e39, wantErr: &errs.RangeError{}},
		{name: "string", field: "s", in: "hi", want: "hi"},
		{name: "string from bytes", field: "s", in: []byte("hi"), want: "hi"},
		{name: "string invalid utf8", field: "s", in: string([]byte{0xff}), wantErr: &errs.TypeMismatchError{}},
		{name: "string from int", field: "s", in: 3, wantErr: &errs.TypeMismatchError{}},
		{name: "bytes", field: "b", in: []byte{1}, want: []byte{1}},
		{name: "bytes from string", field: "b", in: "x", wantErr: &errs.TypeMismatchError{}},
		{name: "enum by name", field: "color", in: "RED", want: protoreflect.EnumNumber(1)},
		{name: "enum by number", field: "color", in: 2, want: protoreflect.EnumNumber(2)},
		{name: "enum unknown name", field: "color", in: "BLUE", wantErr: &errs.TypeMismatchError{}},
		{name: "enum overflow", field: "color", in: int64(1) << 31, wantErr: &errs.RangeError{}},
		{name: "int64 from uint64 overflow", field: "i64", in: uint64(math.MaxInt64) + 1, wantErr: &errs.RangeError{}},
		{name: "repeated int64 element overflow", field: "nums", in: []uint64{1, math.MaxUint64}, wantErr: &errs.RangeError{}},
		{name: "pointer deref", field: "i32", in: proto.Int32(4), want: int32(4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.ToWire(md.Fields().ByName(tt.field), tt.in, true)
			switch target := tt.wantErr.(type) {
			case nil:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			case *errs.RangeError:
				require.ErrorAs(t, err, target)
			case *errs.TypeMismatchError:
				require.ErrorAs(t, err, target)
			}
		})
	}
}

// roundTrip stores native into a fresh message and reads it back.
func roundTrip(t *testing.T, reg *Registry, md protoreflect.MessageDescriptor, name protoreflect.Name, native any) any {
	t.Helper()
	fd := md.Fields().ByName(name)
	w, err := reg.ToWire(fd, native, true)
	require.NoError(t, err)
	m := dynamicpb.NewMessage(md)
	m.Set(fd, WireValue(w))
	got, err := reg.ToNative(fd, m.Get(fd), !m.Has(fd))
	require.NoError(t, err)
	return got
}

func TestWellKnownRoundTrips(t *testing.T) {
	md := sampleDescriptor(t)
	reg := NewRegistry()

	when := time.Date(2024, 1, 2, 3, 4, 5, 6, time.FixedZone("X", 3600))
	got := roundTrip(t, reg, md, "ts", when)
	require.IsType(t, time.Time{}, got)
	assert.True(t, when.Equal(got.(time.Time)))
	assert.Equal(t, time.UTC, got.(time.Time).Location())

	assert.Equal(t, 90*time.Second+5, roundTrip(t, reg, md, "dur", 90*time.Second+5))
	assert.Equal(t, int32(0), roundTrip(t, reg, md, "w", 0))
	assert.Equal(t, int32(12), roundTrip(t, reg, md, "w", int64(12)))

	dec := roundTrip(t, reg, md, "dec", decimal.RequireFromString("12.50"))
	assert.True(t, decimal.RequireFromString("12.5").Equal(dec.(decimal.Decimal)))

	st := map[string]any{"a": 1.0, "b": "x", "c": []any{true, nil}}
	assert.Equal(t, st, roundTrip(t, reg, md, "st", st))
}

func TestAbsentReads(t *testing.T) {
	md := sampleDescriptor(t)
	reg := NewRegistry()
	m := dynamicpb.NewMessage(md)

	for _, name := range []protoreflect.Name{"ts", "w", "dec", "st"} {
		fd := md.Fields().ByName(name)
		got, err := reg.ToNative(fd, m.Get(fd), !m.Has(fd))
		require.NoError(t, err)
		assert.Nil(t, got, name)
	}
	fd := md.Fields().ByName("dur")
	got, err := reg.ToNative(fd, m.Get(fd), true)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), got)
}

func TestDecimalWire(t *testing.T) {
	md := sampleDescriptor(t)
	reg := NewRegistry()
	fd := md.Fields().ByName("dec")

	tests := []struct {
		in   any
		want string
	}{
		{in: 2.5, want: "2.5"},
		{in: 7, want: "7"},
		{in: uint16(3), want: "3"},
		{in: decimal.New(15, -1), want: "1.5"},
	}
	for _, tt := range tests {
		w, err := reg.ToWire(fd, tt.in, true)
		require.NoError(t, err)
		c, err := concrete[*decimalpb.Decimal](w.(protoreflect.Message))
		require.NoError(t, err)
		assert.Equal(t, tt.want, c.GetValue())
	}

	_, err := reg.ToWire(fd, "1.5", true)
	var mismatch errs.TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestScalarRanges(t *testing.T) {
	type bounds struct {
		kinds []protoreflect.Kind
		in    []any
		out   []any
	}
	tests := []struct {
		name string
		bounds
	}{
		{name: "32-bit signed", bounds: bounds{
			kinds: []protoreflect.Kind{protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind},
			in:    []any{int64(math.MinInt32), int64(math.MaxInt32), uint32(math.MaxInt32)},
			out:   []any{int64(math.MinInt32) - 1, int64(math.MaxInt32) + 1, uint32(math.MaxInt32) + 1},
		}},
		{name: "64-bit signed", bounds: bounds{
			kinds: []protoreflect.Kind{protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind},
			in:    []any{int64(math.MinInt64), int64(math.MaxInt64), uint64(math.MaxInt64)},
			out:   []any{uint64(math.MaxInt64) + 1, uint64(math.MaxUint64)},
		}},
		{name: "32-bit unsigned", bounds: bounds{
			kinds: []protoreflect.Kind{protoreflect.Uint32Kind, protoreflect.Fixed32Kind},
			in:    []any{0, uint64(math.MaxUint32), int64(math.MaxUint32)},
			out:   []any{-1, int64(math.MinInt64), uint64(math.MaxUint32) + 1, int64(math.MaxUint32) + 1},
		}},
		{name: "64-bit unsigned", bounds: bounds{
			kinds: []protoreflect.Kind{protoreflect.Uint64Kind, protoreflect.Fixed64Kind},
			in:    []any{0, uint64(math.MaxUint64), int64(math.MaxInt64)},
			out:   []any{-1, int8(-1), int64(math.MinInt64)},
		}},
		{name: "float", bounds: bounds{
			kinds: []protoreflect.Kind{protoreflect.FloatKind},
			in:    []any{math.MaxFloat32, -math.MaxFloat32, math.Inf(1)},
			out:   []any{1e39, -1e39, math.MaxFloat64},
		}},
		{name: "double", bounds: bounds{
			kinds: []protoreflect.Kind{protoreflect.DoubleKind},
			in:    []any{math.MaxFloat64, -math.MaxFloat64, uint64(math.MaxUint64)},
		}},
	}
	for _, tt := range tests {
		for _, kind := range tt.kinds {
			t.Run(tt.name+"/"+kind.String(), func(t *testing.T) {
				for _, v := range tt.in {
					_, err := coerceKind("f", kind, v)
					require.NoError(t, err, "%T(%v)", v, v)
				}
				for _, v := range tt.out {
					_, err := coerceKind("f", kind, v)
					var rangeErr errs.RangeError
					require.ErrorAs(t, err, &rangeErr, "%T(%v)", v, v)
					assert.Equal(t, kind.String(), rangeErr.Kind)
				}
			})
		}
	}
}

func TestRulesAreIdempotent(t *testing.T) {
	tests := []struct {
		wire   proto.Message
		native any
	}{
		{wire: timestamppb.New(time.Unix(10, 0)), native: time.Unix(20, 0).UTC()},
		{wire: durationpb.New(90 * time.Second), native: 5 * time.Second},
		{wire: &decimalpb.Decimal{Value: "1.5"}, native: decimal.NewFromInt(3)},
		{wire: &structpb.Struct{Fields: map[string]*structpb.Value{"a": structpb.NewStringValue("x")}}, native: map[string]any{"a": "x"}},
		{wire: structpb.NewStringValue("x"), native: "x"},
		{wire: &structpb.ListValue{Values: []*structpb.Value{structpb.NewBoolValue(true)}}, native: []any{true}},
		{wire: wrapperspb.Bool(true), native: true},
		{wire: wrapperspb.Bytes([]byte("x")), native: []byte("x")},
		{wire: wrapperspb.Double(1.5), native: 1.5},
		{wire: wrapperspb.Float(1.5), native: float32(1.5)},
		{wire: wrapperspb.Int32(3), native: int32(3)},
		{wire: wrapperspb.Int64(3), native: int64(3)},
		{wire: wrapperspb.String("x"), native: "x"},
		{wire: wrapperspb.UInt32(3), native: uint32(3)},
		{wire: wrapperspb.UInt64(3), native: uint64(3)},
	}
	reg := NewRegistry()
	covered := make(map[protoreflect.FullName]bool)
	for _, tt := range tests {
		name := fullNameOf(tt.wire)
		covered[name] = true
		t.Run(string(name), func(t *testing.T) {
			rule, ok := reg.Lookup(name)
			require.True(t, ok)

			w, err := rule.ToWire(tt.wire)
			require.NoError(t, err)
			m, ok := asMessage(w)
			require.True(t, ok)
			assert.True(t, proto.Equal(tt.wire, m.Interface()))

			n, err := rule.ToNative(tt.native, false)
			require.NoError(t, err)
			assert.Equal(t, tt.native, n)
		})
	}
	for name := range reg.rules {
		assert.True(t, covered[name], "built-in rule %s", name)
	}
}

func TestDurationRange(t *testing.T) {
	tests := []struct {
		name    string
		seconds int64
		nanos   int32
		want    time.Duration
		wantErr bool
	}{
		{name: "max", seconds: maxDurationSeconds, nanos: 854775807, want: time.Duration(math.MaxInt64)},
		{name: "min", seconds: -maxDurationSeconds, nanos: -854775808, want: time.Duration(math.MinInt64)},
		{name: "nanos overflow", seconds: maxDurationSeconds, nanos: 854775808, wantErr: true},
		{name: "nanos underflow", seconds: -maxDurationSeconds, nanos: -854775809, wantErr: true},
		{name: "four hundred years", seconds: 400 * 365 * 24 * 3600, wantErr: true},
		{name: "minus four hundred years", seconds: -400 * 365 * 24 * 3600, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := durationRule{}.ToNative(&durationpb.Duration{Seconds: tt.seconds, Nanos: tt.nanos}, false)
			if tt.wantErr {
				var rangeErr errs.RangeError
				require.ErrorAs(t, err, &rangeErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContainerToWire(t *testing.T) {
	md := sampleDescriptor(t)
	reg := NewRegistry()

	got, err := reg.ToWire(md.Fields().ByName("tags"), []string{"a", "b"}, true)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, got)

	_, err = reg.ToWire(md.Fields().ByName("tags"), "a", true)
	assert.Error(t, err)

	got, err = reg.ToWire(md.Fields().ByName("counts"), map[string]int{"a": 1}, true)
	require.NoError(t, err)
	assert.Equal(t, map[any]any{"a": int32(1)}, got)

	_, err = reg.ToWire(md.Fields().ByName("counts"), map[int]int{1: 1}, true)
	assert.Error(t, err)
}

func TestRepeatedView(t *testing.T) {
	md := sampleDescriptor(t)
	reg := NewRegistry()
	fd := md.Fields().ByName("tags")
	m := dynamicpb.NewMessage(md)

	got, err := reg.ToNative(fd, m.Mutable(fd).List(), false)
	require.NoError(t, err)
	view := got.(*RepeatedView)

	require.NoError(t, view.Append("a", "b"))
	require.NoError(t, view.Insert(0, "z"))
	vals, err := view.Values()
	require.NoError(t, err)
	assert.Equal(t, []any{"z", "a", "b"}, vals)

	require.NoError(t, view.Delete(1))
	require.NoError(t, view.Set(0, "y"))
	assert.True(t, view.Equal([]string{"y", "b"}))

	idx, err := view.Index("b")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	idx, err = view.Index("nope")
	require.NoError(t, err)
	assert.Equal(t, -1, idx)

	_, err = view.Get(5)
	var rangeErr errs.RangeError
	require.ErrorAs(t, err, &rangeErr)

	// A failing element leaves the list untouched.
	require.Error(t, view.Append("c", 3))
	assert.Equal(t, 2, view.Len())

	require.NoError(t, view.Extend([]string{"c"}))
	assert.Equal(t, 3, m.Get(fd).List().Len())

	view.Clear()
	assert.Equal(t, 0, m.Get(fd).List().Len())
}

func TestRepeatedViewNormalizesLookups(t *testing.T) {
	md := sampleDescriptor(t)
	reg := NewRegistry()
	fd := md.Fields().ByName("nums")
	m := dynamicpb.NewMessage(md)
	view := NewRepeatedView(reg, fd, m.Mutable(fd).List())

	require.NoError(t, view.Append(1, int32(2), uint8(2)))
	n, err := view.Count(2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	el, err := view.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), el)
}

func TestMapView(t *testing.T) {
	md := sampleDescriptor(t)
	reg := NewRegistry()
	fd := md.Fields().ByName("counts")
	m := dynamicpb.NewMessage(md)
	view := NewMapView(reg, fd, m.Mutable(fd).Map())

	require.NoError(t, view.Set("b", 2))
	require.NoError(t, view.Set("a", 1))
	assert.Equal(t, 0, m.Get(fd).Map().Len(), "writes are buffered")

	ok, err := view.Has("a")
	require.NoError(t, err)
	assert.True(t, ok)

	v, ok, err := view.Get("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), v)

	keys, err := view.Keys()
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, keys)
	assert.Equal(t, 2, m.Get(fd).Map().Len())

	require.NoError(t, view.Delete("a"))
	ok, err = view.Has("a")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = view.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, view.Sync("a"))
	assert.Equal(t, 1, m.Get(fd).Map().Len())
	assert.True(t, view.Equal(map[string]int32{"b": 2}))

	var mismatch errs.TypeMismatchError
	require.ErrorAs(t, view.Set("c", "x"), &mismatch)
	require.ErrorAs(t, view.Set(3, 1), &mismatch)
}

type colorRule struct{}

func (colorRule) ToNative(wire any, _ bool) (any, error) {
	if n, ok := wire.(protoreflect.EnumNumber); ok {
		return map[protoreflect.EnumNumber]string{0: "none", 1: "red", 2: "green"}[n], nil
	}
	return wire, nil
}

func (colorRule) ToWire(native any) (any, error) {
	if s, ok := native.(string); ok {
		return map[string]protoreflect.EnumNumber{"none": 0, "red": 1, "green": 2}[s], nil
	}
	return native, nil
}

func TestRegisterCustomRule(t *testing.T) {
	md := sampleDescriptor(t)
	reg := NewRegistry()
	fd := md.Fields().ByName("color")

	var schemaErr errs.SchemaError
	require.ErrorAs(t, reg.Register("", nil), &schemaErr)

	require.NoError(t, reg.Register("marshaltest.Color", colorRule{}))
	got, err := reg.ToNative(fd, protoreflect.EnumNumber(1), false)
	require.NoError(t, err)
	assert.Equal(t, "red", got)
	w, err := reg.ToWire(fd, "green", true)
	require.NoError(t, err)
	assert.Equal(t, protoreflect.EnumNumber(2), w)

	reg.Reset()
	got, err = reg.ToNative(fd, protoreflect.EnumNumber(1), false)
	require.NoError(t, err)
	assert.Equal(t, protoreflect.EnumNumber(1), got)
	_, ok := reg.Lookup(TimestampName)
	assert.True(t, ok, "built-ins survive reset")
}

func TestFieldClassification(t *testing.T) {
	md := sampleDescriptor(t)
	reg := NewRegistry()
	fields := md.Fields()

	assert.True(t, reg.Cacheable(fields.ByName("ts")))
	assert.True(t, reg.Cacheable(fields.ByName("dec")))
	assert.False(t, reg.Cacheable(fields.ByName("st")))
	assert.True(t, reg.Cacheable(fields.ByName("i32")))
	assert.True(t, reg.Cacheable(fields.ByName("color")))
	assert.False(t, reg.Cacheable(fields.ByName("tags")))
	assert.True(t, reg.IsStructFamily(fields.ByName("st")))
	assert.False(t, reg.IsStructFamily(fields.ByName("ts")))
}

func TestEqual(t *testing.T) {
	a := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, Equal(a, a.In(time.FixedZone("Y", 7200))))
	assert.True(t, Equal(decimal.RequireFromString("1.50"), decimal.RequireFromString("1.5")))
	assert.True(t, Equal([]byte("x"), []byte("x")))
	assert.False(t, Equal([]byte("x"), "x"))
	assert.True(t, Equal(timestamppb.New(a), timestamppb.New(a)))
	assert.True(t, Equal(nil, nil))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(protoreflect.ValueOfInt32(0)))
	assert.True(t, Truthy(protoreflect.ValueOfString("x")))
	assert.False(t, Truthy(protoreflect.ValueOfBytes(nil)))
	assert.True(t, Truthy(protoreflect.ValueOfEnum(1)))
}
