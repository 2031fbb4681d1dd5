package marshal

import (
	"bytes"
	"reflect"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/proto"
)

type equaler interface {
	Equal(other any) bool
}

// Equal compares two native values. Times and decimals compare by value,
// messages by proto.Equal and views through their own Equal.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case decimal.Decimal:
		y, ok := b.(decimal.Decimal)
		return ok && x.Equal(y)
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case equaler:
		return x.Equal(b)
	}
	if y, ok := b.(equaler); ok {
		return y.Equal(a)
	}
	if ma, ok := asMessage(a); ok {
		mb, ok := asMessage(b)
		return ok && proto.Equal(ma.Interface(), mb.Interface())
	}
	return reflect.DeepEqual(a, b)
}
