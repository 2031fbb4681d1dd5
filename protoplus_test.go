package protoplus_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	decimalpb "google.golang.org/genproto/googleapis/type/decimal"
	"google.golang.org/protobuf/testing/protocmp"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	protoplus "github.com/yaroher/go-protoplus"
	"github.com/yaroher/go-protoplus/errs"
	"github.com/yaroher/go-protoplus/marshal"
	"github.com/yaroher/go-protoplus/schema"
)

func finish(t *testing.T, s *protoplus.Schema, b *schema.MessageBuilder) *protoplus.Type {
	t.Helper()
	typ, err := s.Finish(b)
	require.NoError(t, err)
	return typ
}

func get(t *testing.T, m *protoplus.Message, name string) any {
	t.Helper()
	v, err := m.Get(name)
	require.NoError(t, err)
	return v
}

func has(t *testing.T, m *protoplus.Message, name string) bool {
	t.Helper()
	ok, err := m.Has(name)
	require.NoError(t, err)
	return ok
}

func TestInt32RoundTrip(t *testing.T) {
	s := protoplus.NewSchema()
	foo := finish(t, s, s.Begin("Foo", schema.Package("e2e")).Field("bar", 1, schema.Int32))
	require.True(t, foo.Ready())

	m, err := foo.New(map[string]any{"bar": 100})
	require.NoError(t, err)
	b, err := m.Serialize()
	require.NoError(t, err)

	back, err := foo.Deserialize(b)
	require.NoError(t, err)
	assert.Equal(t, int32(100), get(t, back, "bar"))
	assert.True(t, m.Equal(back))
	assert.True(t, back.Equal(map[string]any{"bar": int32(100)}))
}

func TestBytesFields(t *testing.T) {
	s := protoplus.NewSchema()
	typ := finish(t, s, s.Begin("Blob", schema.Package("e2e")).
		Field("data", 1, schema.Bytes).
		Field("other", 2, schema.Bytes))
	m, err := typ.New(nil)
	require.NoError(t, err)

	require.NoError(t, m.Set("data", []byte("spam")))
	assert.Equal(t, []byte("spam"), get(t, m, "data"))
	assert.True(t, has(t, m, "data"))
	assert.Equal(t, []byte{}, get(t, m, "other"))
	assert.False(t, has(t, m, "other"))
}

func TestOneofExclusivity(t *testing.T) {
	s := protoplus.NewSchema()
	typ := finish(t, s, s.Begin("Pick", schema.Package("e2e")).
		Field("bar", 1, schema.Int32, schema.InOneof("choice")).
		Field("baz", 2, schema.String, schema.InOneof("choice")))
	m, err := typ.New(nil)
	require.NoError(t, err)

	require.NoError(t, m.Set("bar", 7))
	assert.True(t, has(t, m, "bar"))
	require.NoError(t, m.Set("baz", "x"))
	assert.False(t, has(t, m, "bar"))
	assert.Equal(t, int32(0), get(t, m, "bar"))
	assert.Equal(t, "x", get(t, m, "baz"))

	b, err := m.Serialize()
	require.NoError(t, err)
	back, err := typ.Deserialize(b)
	require.NoError(t, err)
	assert.False(t, has(t, back, "bar"))
	assert.True(t, has(t, back, "baz"))

	field, err := typ.Field("baz")
	require.NoError(t, err)
	assert.Equal(t, "choice", field.Oneof())
}

func TestOneofSubMessageDetaches(t *testing.T) {
	s := protoplus.NewSchema()
	finish(t, s, s.Begin("Card", schema.Package("pay")).Field("number", 1, schema.String))
	typ := finish(t, s, s.Begin("Payment", schema.Package("pay")).
		Field("card", 1, schema.Infer, schema.Target(schema.Named("Card")), schema.InOneof("method")).
		Field("iban", 2, schema.String, schema.InOneof("method")))

	t.Run("sibling set", func(t *testing.T) {
		m, err := typ.New(nil)
		require.NoError(t, err)
		card := get(t, m, "card").(*protoplus.Message)
		require.NoError(t, m.Set("iban", "DE00"))
		require.NoError(t, card.Set("number", "4242"))

		assert.True(t, has(t, m, "iban"))
		assert.False(t, has(t, m, "card"))
		assert.Equal(t, "DE00", get(t, m, "iban"))
		assert.Equal(t, "4242", get(t, card, "number"))
	})
	t.Run("field deleted", func(t *testing.T) {
		m, err := typ.New(nil)
		require.NoError(t, err)
		card := get(t, m, "card").(*protoplus.Message)
		require.NoError(t, m.Delete("card"))
		require.NoError(t, card.Set("number", "1"))
		assert.False(t, has(t, m, "card"))
	})
}

func TestMapView(t *testing.T) {
	s := protoplus.NewSchema()
	typ := finish(t, s, s.Begin("Counter", schema.Package("e2e")).
		Map("counts", 1, schema.String, schema.Int64))
	m, err := typ.New(nil)
	require.NoError(t, err)

	view, ok := get(t, m, "counts").(*marshal.MapView)
	require.True(t, ok)
	require.NoError(t, view.Set("k", 5))

	v, present, err := view.Get("k")
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, int64(5), v)

	keys, err := view.Keys()
	require.NoError(t, err)
	assert.Equal(t, []any{"k"}, keys)

	v, present, err = view.Get("k")
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, int64(5), v)

	p, err := m.Proto()
	require.NoError(t, err)
	wire := p.ProtoReflect().Get(typ.Descriptor().Fields().ByName("counts")).Map()
	assert.Equal(t, 1, wire.Len())

	// Writes buffered in the view reach Serialize through the parent.
	require.NoError(t, view.Set("other", 2))
	b, err := m.Serialize()
	require.NoError(t, err)
	back, err := typ.Deserialize(b)
	require.NoError(t, err)
	backView := get(t, back, "counts").(*marshal.MapView)
	n, err := backView.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRepeatedField(t *testing.T) {
	s := protoplus.NewSchema()
	typ := finish(t, s, s.Begin("Tagged", schema.Package("e2e")).
		Field("tags", 1, schema.String, schema.Repeated()))
	m, err := typ.New(map[string]any{"tags": []string{"a", "b"}})
	require.NoError(t, err)

	view, ok := get(t, m, "tags").(*marshal.RepeatedView)
	require.True(t, ok)
	require.NoError(t, view.Append("c"))
	assert.Equal(t, 3, view.Len())
	assert.Error(t, view.Append(1))

	b, err := m.Serialize()
	require.NoError(t, err)
	back, err := typ.Deserialize(b)
	require.NoError(t, err)
	vals, err := get(t, back, "tags").(*marshal.RepeatedView).Values()
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, vals)
}

func TestContainerAssignment(t *testing.T) {
	s := protoplus.NewSchema()
	typ := finish(t, s, s.Begin("Lists", schema.Package("views")).
		Field("count", 1, schema.Int32).
		Field("nums", 2, schema.Int32, schema.Repeated()).
		Field("names", 3, schema.String, schema.Repeated()).
		Field("wide", 4, schema.Int64, schema.Repeated()).
		Map("counts", 5, schema.String, schema.Int32).
		Map("labels", 6, schema.String, schema.String))
	m, err := typ.New(map[string]any{
		"nums":   []int32{1, 2},
		"counts": map[string]int32{"a": 1},
	})
	require.NoError(t, err)
	nums := get(t, m, "nums").(*marshal.RepeatedView)
	counts := get(t, m, "counts").(*marshal.MapView)

	var mismatch errs.TypeMismatchError
	require.ErrorAs(t, m.Set("count", nums), &mismatch)
	assert.Equal(t, "int32", mismatch.Expected)
	assert.Equal(t, "repeated int32", mismatch.Got)
	require.ErrorAs(t, m.Set("count", counts), &mismatch)
	assert.Equal(t, "map<string, int32>", mismatch.Got)
	require.ErrorAs(t, m.Set("nums", counts), &mismatch)
	require.ErrorAs(t, m.Set("names", nums), &mismatch)
	require.ErrorAs(t, m.Set("names", nums.List()), &mismatch)
	require.ErrorAs(t, m.Set("labels", counts), &mismatch)

	// Element-compatible containers convert; a view may be stored back
	// into its own field.
	require.NoError(t, m.Set("wide", nums))
	require.NoError(t, m.Set("nums", nums))

	b, err := m.Serialize()
	require.NoError(t, err)
	back, err := typ.Deserialize(b)
	require.NoError(t, err)
	assert.False(t, has(t, back, "count"))
	assert.False(t, has(t, back, "names"))
	wide, err := get(t, back, "wide").(*marshal.RepeatedView).Values()
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2)}, wide)
	vals, err := get(t, back, "nums").(*marshal.RepeatedView).Values()
	require.NoError(t, err)
	assert.Equal(t, []any{int32(1), int32(2)}, vals)
}

func TestForwardReference(t *testing.T) {
	for _, aFirst := range []bool{false, true} {
		name := "referrer first"
		if aFirst {
			name = "target first"
		}
		t.Run(name, func(t *testing.T) {
			s := protoplus.NewSchema()
			declareA := func() *protoplus.Type {
				return finish(t, s, s.Begin("A", schema.Package("fwd")).Field("n", 1, schema.Int32))
			}
			var a *protoplus.Type
			if aFirst {
				a = declareA()
			}
			b := finish(t, s, s.Begin("B", schema.Package("fwd")).
				Field("a", 1, schema.Infer, schema.Target(schema.Named("A"))))
			if !aFirst {
				assert.False(t, b.Ready())
				_, err := b.New(nil)
				var schemaErr errs.SchemaError
				require.ErrorAs(t, err, &schemaErr)
				assert.Contains(t, err.Error(), "waits for type fwd.A")
				a = declareA()
			}
			require.True(t, a.Ready())
			require.True(t, b.Ready())

			m, err := b.New(map[string]any{"a": map[string]any{"n": 3}})
			require.NoError(t, err)
			sub, ok := get(t, m, "a").(*protoplus.Message)
			require.True(t, ok)
			assert.Same(t, a, sub.Type())
			assert.Equal(t, int32(3), get(t, sub, "n"))
		})
	}
}

func TestNestedWriteThrough(t *testing.T) {
	s := protoplus.NewSchema()
	finish(t, s, s.Begin("Inner", schema.Package("nest")).Field("n", 1, schema.Int32))
	outer := finish(t, s, s.Begin("Outer", schema.Package("nest")).
		Field("inner", 1, schema.Infer, schema.Target(schema.Named("Inner"))))

	m, err := outer.New(nil)
	require.NoError(t, err)
	inner := get(t, m, "inner").(*protoplus.Message)
	assert.True(t, inner.AlwaysCommit())
	assert.False(t, has(t, m, "inner"))

	require.NoError(t, inner.Set("n", 7))
	assert.True(t, has(t, m, "inner"))

	b, err := m.Serialize()
	require.NoError(t, err)
	back, err := outer.Deserialize(b)
	require.NoError(t, err)
	assert.Equal(t, int32(7), get(t, get(t, back, "inner").(*protoplus.Message), "n"))
}

func TestMessageValuesFromMapAreAlwaysCommit(t *testing.T) {
	s := protoplus.NewSchema()
	finish(t, s, s.Begin("Item", schema.Package("mapmsg")).Field("n", 1, schema.Int32))
	bag := finish(t, s, s.Begin("Bag", schema.Package("mapmsg")).
		Map("items", 1, schema.String, schema.Infer, schema.Target(schema.Named("Item"))))

	m, err := bag.New(nil)
	require.NoError(t, err)
	view := get(t, m, "items").(*marshal.MapView)
	require.NoError(t, view.Set("a", map[string]any{"n": 1}))
	require.NoError(t, view.Flush())

	v, ok, err := view.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	item := v.(*protoplus.Message)
	assert.True(t, item.AlwaysCommit())
	require.NoError(t, item.Set("n", 2))

	b, err := m.Serialize()
	require.NoError(t, err)
	back, err := bag.Deserialize(b)
	require.NoError(t, err)
	v, ok, err = get(t, back, "items").(*marshal.MapView).Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int32(2), get(t, v.(*protoplus.Message), "n"))
}

func TestEnumField(t *testing.T) {
	s := protoplus.NewSchema()
	color, err := s.Enum("Color", []schema.EnumValue{
		{Name: "COLOR_UNSPECIFIED", Number: 0},
		{Name: "COLOR_RED", Number: 1},
		{Name: "COLOR_GREEN", Number: 2},
	}, schema.Package("paint"))
	require.NoError(t, err)
	require.True(t, color.Ready())
	typ := finish(t, s, s.Begin("Brush", schema.Package("paint")).
		Field("color", 1, schema.Infer, schema.Target(schema.Named("Color"))))

	m, err := typ.New(nil)
	require.NoError(t, err)
	unspecified, err := color.Number(0)
	require.NoError(t, err)
	assert.Equal(t, unspecified, get(t, m, "color"))

	red, err := color.Value("COLOR_RED")
	require.NoError(t, err)
	require.NoError(t, m.Set("color", 1))
	assert.Equal(t, red, get(t, m, "color"))

	green, err := color.Value("COLOR_GREEN")
	require.NoError(t, err)
	require.NoError(t, m.Set("color", "COLOR_GREEN"))
	assert.Equal(t, green, get(t, m, "color"))

	var mismatch errs.TypeMismatchError
	require.ErrorAs(t, m.Set("color", "COLOR_BLUE"), &mismatch)
	require.ErrorAs(t, m.Set("color", true), &mismatch)
	var rangeErr errs.RangeError
	require.ErrorAs(t, m.Set("color", int64(1)<<40), &rangeErr)

	parsed, err := s.ParseDiscriminator(green.Discriminator())
	require.NoError(t, err)
	assert.Equal(t, green, parsed)
	assert.Equal(t, "paint.Color:2", green.Discriminator())
	assert.Len(t, color.Values(), 3)
}

func TestWellKnownFields(t *testing.T) {
	s := protoplus.NewSchema()
	typ := finish(t, s, s.Begin("Event", schema.Package("wkt")).
		Field("at", 1, schema.Infer, schema.Target(schema.Of(&timestamppb.Timestamp{}))).
		Field("count", 2, schema.Infer, schema.Target(schema.Of(&wrapperspb.Int32Value{}))).
		Field("price", 3, schema.Infer, schema.Target(schema.Of(&decimalpb.Decimal{}))).
		Field("meta", 4, schema.Infer, schema.Target(schema.Of(&structpb.Struct{}))))
	m, err := typ.New(nil)
	require.NoError(t, err)

	assert.Nil(t, get(t, m, "count"))
	assert.Nil(t, get(t, m, "at"))
	require.NoError(t, m.Set("count", 5))
	assert.Equal(t, int32(5), get(t, m, "count"))

	at := time.Unix(1700000000, 42).UTC()
	require.NoError(t, m.Set("at", at))
	got := get(t, m, "at").(time.Time)
	assert.True(t, at.Equal(got))

	var mismatch errs.TypeMismatchError
	require.ErrorAs(t, m.Set("price", "1.50"), &mismatch)
	require.NoError(t, m.Set("price", decimal.RequireFromString("1.50")))
	assert.True(t, decimal.RequireFromString("1.5").Equal(get(t, m, "price").(decimal.Decimal)))

	require.NoError(t, m.Set("meta", map[string]any{"k": "v"}))
	p, err := m.Proto()
	require.NoError(t, err)
	assert.True(t, p.ProtoReflect().Has(typ.Descriptor().Fields().ByName("meta")))
	assert.Equal(t, map[string]any{"k": "v"}, get(t, m, "meta"))
}

func TestDurationOutOfRange(t *testing.T) {
	s := protoplus.NewSchema()
	typ := finish(t, s, s.Begin("Lease", schema.Package("wkt")).
		Field("span", 1, schema.Infer, schema.Target(schema.Of(&durationpb.Duration{}))))
	m, err := typ.New(nil)
	require.NoError(t, err)

	var rangeErr errs.RangeError
	require.ErrorAs(t, m.Set("span", &durationpb.Duration{Seconds: 400 * 365 * 24 * 3600}), &rangeErr)
	assert.False(t, has(t, m, "span"))

	require.NoError(t, m.Set("span", 90*time.Minute))
	b, err := m.Serialize()
	require.NoError(t, err)
	back, err := typ.Deserialize(b)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, get(t, back, "span"))
}

func TestWrapAliasesAndNewCopies(t *testing.T) {
	s := protoplus.NewSchema()
	typ := finish(t, s, s.Begin("Shared", schema.Package("alias")).Field("bar", 1, schema.Int32))
	fd := typ.Descriptor().Fields().ByName("bar")

	raw := dynamicpb.NewMessage(typ.Descriptor())
	wrapped, err := typ.Wrap(raw)
	require.NoError(t, err)
	require.NoError(t, wrapped.Set("bar", 5))
	assert.False(t, raw.Has(fd), "writes are deferred")
	assert.Equal(t, int32(5), get(t, wrapped, "bar"))
	assert.True(t, has(t, wrapped, "bar"))
	assert.Equal(t, int32(5), int32(raw.Get(fd).Int()))

	copied, err := typ.From(raw)
	require.NoError(t, err)
	require.NoError(t, copied.Set("bar", 9))
	_, err = copied.Serialize()
	require.NoError(t, err)
	assert.Equal(t, int64(5), raw.Get(fd).Int())

	cloned, err := copied.Clone()
	require.NoError(t, err)
	assert.True(t, cloned.Equal(copied))
	fromMsg, err := typ.From(copied)
	require.NoError(t, err)
	assert.True(t, fromMsg.Equal(copied))
}

func TestConstructionErrors(t *testing.T) {
	s := protoplus.NewSchema()
	typ := finish(t, s, s.Begin("Strict", schema.Package("ctor")).Field("bar", 1, schema.Int32))

	var ctorErr errs.ConstructionError
	_, err := typ.From(42)
	require.ErrorAs(t, err, &ctorErr)
	_, err = typ.New(map[string]any{"nope": 1})
	require.ErrorAs(t, err, &ctorErr)
	_, err = typ.Wrap(&timestamppb.Timestamp{})
	require.ErrorAs(t, err, &ctorErr)
	_, err = typ.From(&timestamppb.Timestamp{})
	require.ErrorAs(t, err, &ctorErr)
}

func TestFieldValidation(t *testing.T) {
	s := protoplus.NewSchema()
	typ := finish(t, s, s.Begin("Checked", schema.Package("valid")).
		Field("i32", 1, schema.Int32).
		Field("u32", 2, schema.Uint32).
		Field("flag", 3, schema.Bool).
		Field("name", 4, schema.String))
	m, err := typ.New(nil)
	require.NoError(t, err)

	tests := []struct {
		field   string
		value   any
		wantErr any
	}{
		{"i32", int64(1) << 40, &errs.RangeError{}},
		{"u32", -1, &errs.RangeError{}},
		{"i32", "x", &errs.TypeMismatchError{}},
		{"flag", 1, &errs.TypeMismatchError{}},
		{"name", []byte("ok"), nil},
		{"name", []byte{0xff}, &errs.TypeMismatchError{}},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			err := m.Set(tt.field, tt.value)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorAs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, "ok", get(t, m, "name"))
}

func TestJSONAndAsMap(t *testing.T) {
	s := protoplus.NewSchema()
	typ := finish(t, s, s.Begin("Doc", schema.Package("json")).
		Field("bar", 1, schema.Int32).
		Field("tags", 2, schema.String, schema.Repeated()).
		Field("empty", 3, schema.String))
	m, err := typ.New(map[string]any{"bar": 100, "tags": []any{"x"}})
	require.NoError(t, err)

	data, err := m.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"bar":100,"tags":["x"]}`, string(data))

	back, err := typ.New(nil)
	require.NoError(t, err)
	require.NoError(t, back.UnmarshalJSON(data))
	p1, err := m.Proto()
	require.NoError(t, err)
	p2, err := back.Proto()
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(p1, p2, protocmp.Transform()))

	asMap, err := back.AsMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"bar": int32(100), "tags": []any{"x"}}, asMap)
	assert.Contains(t, back.String(), "bar")
}

func TestDeterministicConfig(t *testing.T) {
	cfg, err := protoplus.ParseConfig("salt=deterministic,deterministic=true")
	require.NoError(t, err)
	s := protoplus.NewSchema(protoplus.WithConfig(cfg))
	typ := finish(t, s, s.Begin("Stable", schema.Package("det")).Field("bar", 1, schema.Int32))
	assert.Equal(t, "det_stable.proto", typ.Spec().Unit().Filename())
	assert.True(t, s.Config().Deterministic)
}

func TestSchemaReset(t *testing.T) {
	s := protoplus.NewSchema()
	typ := finish(t, s, s.Begin("Gone", schema.Package("reset")).Field("bar", 1, schema.Int32))
	_, ok := s.Type(typ.Name())
	require.True(t, ok)

	s.Reset()
	_, ok = s.Type(typ.Name())
	assert.False(t, ok)
	assert.True(t, s.Pending().Empty())

	again := finish(t, s, s.Begin("Gone", schema.Package("reset")).Field("bar", 1, schema.Int32))
	assert.True(t, again.Ready())
}
