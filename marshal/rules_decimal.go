package marshal

import (
	"math/big"
	"reflect"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	decimalpb "google.golang.org/genproto/googleapis/type/decimal"

	"github.com/yaroher/go-protoplus/errs"
)

// decimalRule maps google.type.Decimal to decimal.Decimal. Integers and
// floats are accepted on write; the wire string is lower-cased so exponents
// read as "e".
type decimalRule struct{}

func (decimalRule) Cacheable() bool { return true }

func (decimalRule) ToNative(wire any, absent bool) (any, error) {
	m, ok := asMessage(wire)
	if !ok {
		return wire, nil
	}
	if absent {
		return nil, nil
	}
	s := fieldOf(m, "value").String()
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "parse decimal %q", s)
	}
	return d, nil
}

func (decimalRule) ToWire(native any) (any, error) {
	native = deref(native)
	var d decimal.Decimal
	switch v := native.(type) {
	case nil:
		return nil, nil
	case decimal.Decimal:
		d = v
	case float32:
		d = decimal.NewFromFloat32(v)
	case float64:
		d = decimal.NewFromFloat(v)
	default:
		if m, ok := asMessage(native); ok {
			return m, nil
		}
		rv := reflect.ValueOf(native)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			d = decimal.NewFromInt(rv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			d = decimal.NewFromBigInt(new(big.Int).SetUint64(rv.Uint()), 0)
		default:
			return nil, errs.Mismatch("", "decimal.Decimal, integer or float", native)
		}
	}
	return &decimalpb.Decimal{Value: strings.ToLower(d.String())}, nil
}
