package marshal

import (
	"math"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/yaroher/go-protoplus/errs"
)

// timestampRule maps google.protobuf.Timestamp to a UTC time.Time. An unset
// field reads as nil.
type timestampRule struct{}

func (timestampRule) Cacheable() bool { return true }

func (timestampRule) ToNative(wire any, absent bool) (any, error) {
	m, ok := asMessage(wire)
	if !ok {
		return wire, nil
	}
	if absent {
		return nil, nil
	}
	return time.Unix(fieldOf(m, "seconds").Int(), fieldOf(m, "nanos").Int()).UTC(), nil
}

func (timestampRule) ToWire(native any) (any, error) {
	switch v := deref(native).(type) {
	case nil:
		return nil, nil
	case time.Time:
		return timestamppb.New(v), nil
	}
	if m, ok := asMessage(native); ok {
		return m, nil
	}
	return nil, errs.Mismatch("", "time.Time", native)
}

// durationRule maps google.protobuf.Duration to time.Duration. An unset
// field reads as zero.
type durationRule struct{}

func (durationRule) Cacheable() bool { return true }

func (durationRule) ToNative(wire any, _ bool) (any, error) {
	m, ok := asMessage(wire)
	if !ok {
		return wire, nil
	}
	return durationOf(fieldOf(m, "seconds").Int(), fieldOf(m, "nanos").Int())
}

// maxDurationSeconds is the largest whole second count time.Duration holds.
const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

// durationOf combines a wire Duration into a time.Duration. Wire durations
// span about 10,000 years; time.Duration about 292, the rest is a RangeError.
func durationOf(seconds, nanos int64) (time.Duration, error) {
	if seconds > maxDurationSeconds || seconds < -maxDurationSeconds {
		return 0, durationOutOfRange(seconds, nanos)
	}
	d := time.Duration(seconds) * time.Second
	n := time.Duration(nanos)
	if (n > 0 && d > math.MaxInt64-n) || (n < 0 && d < math.MinInt64-n) {
		return 0, durationOutOfRange(seconds, nanos)
	}
	return d + n, nil
}

func durationOutOfRange(seconds, nanos int64) error {
	return errs.RangeError{
		Kind:  "google.protobuf.Duration",
		Value: strconv.FormatInt(seconds, 10) + "s " + strconv.FormatInt(nanos, 10) + "ns",
		Min:   time.Duration(math.MinInt64).String(),
		Max:   time.Duration(math.MaxInt64).String(),
	}
}

func (durationRule) ToWire(native any) (any, error) {
	switch v := deref(native).(type) {
	case nil:
		return nil, nil
	case time.Duration:
		return durationpb.New(v), nil
	}
	if m, ok := asMessage(native); ok {
		return m, nil
	}
	return nil, errs.Mismatch("", "time.Duration", native)
}
