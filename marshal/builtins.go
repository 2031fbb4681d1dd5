package marshal

import (
	decimalpb "google.golang.org/genproto/googleapis/type/decimal"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

func fullNameOf(m proto.Message) protoreflect.FullName {
	return m.ProtoReflect().Descriptor().FullName()
}

var (
	TimestampName = fullNameOf(&timestamppb.Timestamp{})
	DurationName  = fullNameOf(&durationpb.Duration{})
	DecimalName   = fullNameOf(&decimalpb.Decimal{})
	StructName    = fullNameOf(&structpb.Struct{})
	ValueName     = fullNameOf(&structpb.Value{})
	ListValueName = fullNameOf(&structpb.ListValue{})
)

// structFamily members are committed eagerly and never cached.
var structFamily = map[protoreflect.FullName]struct{}{
	StructName:    {},
	ValueName:     {},
	ListValueName: {},
}

func registerBuiltins(rules map[protoreflect.FullName]Rule) {
	rules[TimestampName] = timestampRule{}
	rules[DurationName] = durationRule{}
	rules[DecimalName] = decimalRule{}
	rules[StructName] = structRule{}
	rules[ValueName] = valueRule{}
	rules[ListValueName] = listValueRule{}
	for _, w := range wrapperRules() {
		w.name = wrapperName(w.kind)
		rules[w.name] = w
	}
}
