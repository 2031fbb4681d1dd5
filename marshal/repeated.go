package marshal

import (
	"reflect"
	"strconv"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/yaroher/go-protoplus/errs"
)

// RepeatedView is a live view over a repeated field. Reads convert elements
// on the fly; writes are converted strictly and land in the wire list
// immediately.
type RepeatedView struct {
	reg  *Registry
	fd   protoreflect.FieldDescriptor
	list protoreflect.List
}

func NewRepeatedView(reg *Registry, fd protoreflect.FieldDescriptor, list protoreflect.List) *RepeatedView {
	return &RepeatedView{reg: reg, fd: fd, list: list}
}

// List returns the underlying wire list.
func (v *RepeatedView) List() protoreflect.List { return v.list }

func (v *RepeatedView) Len() int { return v.list.Len() }

func (v *RepeatedView) bounds(i int) error {
	if i < 0 || i >= v.list.Len() {
		return errs.RangeError{
			Field: fieldName(v.fd),
			Kind:  "index",
			Value: strconv.Itoa(i),
			Min:   "0",
			Max:   strconv.Itoa(v.list.Len() - 1),
		}
	}
	return nil
}

func (v *RepeatedView) toWire(x any) (protoreflect.Value, error) {
	if x == nil {
		return protoreflect.Value{}, errs.Mismatch(fieldName(v.fd), "non-nil element", x)
	}
	w, err := v.reg.elemToWire(v.fd, x, true)
	if err != nil {
		return protoreflect.Value{}, err
	}
	return WireValue(w), nil
}

// Get returns element i. Message elements come back in write-through mode.
func (v *RepeatedView) Get(i int) (any, error) {
	if err := v.bounds(i); err != nil {
		return nil, err
	}
	out, err := v.reg.elemToNative(v.fd, v.list.Get(i).Interface(), false)
	if err != nil {
		return nil, err
	}
	markAlwaysCommit(out)
	return out, nil
}

func (v *RepeatedView) Set(i int, x any) error {
	if err := v.bounds(i); err != nil {
		return err
	}
	w, err := v.toWire(x)
	if err != nil {
		return err
	}
	v.list.Set(i, w)
	return nil
}

// Append converts every value before appending any of them.
func (v *RepeatedView) Append(xs ...any) error {
	ws := make([]protoreflect.Value, 0, len(xs))
	for _, x := range xs {
		w, err := v.toWire(x)
		if err != nil {
			return err
		}
		ws = append(ws, w)
	}
	for _, w := range ws {
		v.list.Append(w)
	}
	return nil
}

// Extend appends every element of a slice or array.
func (v *RepeatedView) Extend(seq any) error {
	switch s := seq.(type) {
	case []any:
		return v.Append(s...)
	case *RepeatedView:
		vals, err := s.Values()
		if err != nil {
			return err
		}
		return v.Append(vals...)
	}
	rv := reflect.ValueOf(seq)
	if seq == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return errs.Mismatch(fieldName(v.fd), "sequence", seq)
	}
	if _, ok := seq.([]byte); ok {
		return errs.Mismatch(fieldName(v.fd), "sequence", seq)
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return v.Append(items...)
}

// Insert places x before index i; i is clamped into [0, Len].
func (v *RepeatedView) Insert(i int, x any) error {
	w, err := v.toWire(x)
	if err != nil {
		return err
	}
	n := v.list.Len()
	if i < 0 {
		i = 0
	}
	if i > n {
		i = n
	}
	v.list.Append(w)
	for j := n; j > i; j-- {
		v.list.Set(j, v.list.Get(j-1))
	}
	v.list.Set(i, w)
	return nil
}

func (v *RepeatedView) Delete(i int) error {
	if err := v.bounds(i); err != nil {
		return err
	}
	n := v.list.Len()
	for j := i; j < n-1; j++ {
		v.list.Set(j, v.list.Get(j+1))
	}
	v.list.Truncate(n - 1)
	return nil
}

func (v *RepeatedView) Clear() {
	v.list.Truncate(0)
}

// normalize runs x through both conversions so it compares equal to the
// elements read back from the list.
func (v *RepeatedView) normalize(x any) any {
	w, err := v.reg.elemToWire(v.fd, x, false)
	if err != nil || w == nil {
		return x
	}
	n, err := v.reg.elemToNative(v.fd, w, false)
	if err != nil {
		return x
	}
	return n
}

// Index returns the position of the first element equal to x, or -1.
func (v *RepeatedView) Index(x any) (int, error) {
	x = v.normalize(x)
	for i := 0; i < v.list.Len(); i++ {
		el, err := v.Get(i)
		if err != nil {
			return -1, err
		}
		if Equal(el, x) {
			return i, nil
		}
	}
	return -1, nil
}

func (v *RepeatedView) Count(x any) (int, error) {
	x = v.normalize(x)
	n := 0
	for i := 0; i < v.list.Len(); i++ {
		el, err := v.Get(i)
		if err != nil {
			return 0, err
		}
		if Equal(el, x) {
			n++
		}
	}
	return n, nil
}

// Values converts every element into a fresh slice.
func (v *RepeatedView) Values() ([]any, error) {
	out := make([]any, v.list.Len())
	for i := range out {
		el, err := v.Get(i)
		if err != nil {
			return nil, err
		}
		out[i] = el
	}
	return out, nil
}

// Equal compares element-wise against another view or a slice.
func (v *RepeatedView) Equal(other any) bool {
	var items []any
	switch o := other.(type) {
	case *RepeatedView:
		vals, err := o.Values()
		if err != nil {
			return false
		}
		items = vals
	default:
		rv := reflect.ValueOf(other)
		if other == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return false
		}
		items = make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
	}
	if len(items) != v.list.Len() {
		return false
	}
	for i, it := range items {
		el, err := v.Get(i)
		if err != nil || !Equal(el, v.normalize(it)) {
			return false
		}
	}
	return true
}
