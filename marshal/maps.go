package marshal

import (
	"reflect"
	"sort"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// MapView is a live view over a map field. Writes are validated eagerly but
// buffered until Flush or Sync; reads see buffered writes first. Message
// values read through the view are cached so edits to them are kept.
type MapView struct {
	reg   *Registry
	fd    protoreflect.FieldDescriptor
	m     protoreflect.Map
	items map[any]any
	stale map[any]struct{}
}

func NewMapView(reg *Registry, fd protoreflect.FieldDescriptor, m protoreflect.Map) *MapView {
	return &MapView{
		reg:   reg,
		fd:    fd,
		m:     m,
		items: make(map[any]any),
		stale: make(map[any]struct{}),
	}
}

// Map flushes pending writes and returns the underlying wire map.
func (v *MapView) Map() (protoreflect.Map, error) {
	if err := v.Flush(); err != nil {
		return nil, err
	}
	return v.m, nil
}

func (v *MapView) key(k any) (any, error) {
	kfd := v.fd.MapKey()
	return coerceKind(fieldName(kfd), kfd.Kind(), k)
}

func mapKey(wk any) protoreflect.MapKey {
	return protoreflect.ValueOf(wk).MapKey()
}

// wireHas enumerates the wire map; Has on a dynamic map is not consulted so
// the check never materializes an entry.
func (v *MapView) wireHas(wk any) bool {
	found := false
	v.m.Range(func(k protoreflect.MapKey, _ protoreflect.Value) bool {
		if k.Interface() == wk {
			found = true
			return false
		}
		return true
	})
	return found
}

// Get returns the value stored under k and whether it is present.
func (v *MapView) Get(k any) (any, bool, error) {
	wk, err := v.key(k)
	if err != nil {
		return nil, false, err
	}
	if val, ok := v.items[wk]; ok {
		return val, true, nil
	}
	if _, ok := v.stale[wk]; ok {
		return nil, false, nil
	}
	if !v.wireHas(wk) {
		return nil, false, nil
	}
	val, err := v.reg.elemToNative(v.fd.MapValue(), v.m.Get(mapKey(wk)).Interface(), false)
	if err != nil {
		return nil, false, err
	}
	if _, ok := val.(AlwaysCommitter); ok {
		markAlwaysCommit(val)
		v.items[wk] = val
	}
	return val, true, nil
}

func (v *MapView) Has(k any) (bool, error) {
	wk, err := v.key(k)
	if err != nil {
		return false, err
	}
	if _, ok := v.items[wk]; ok {
		return true, nil
	}
	if _, ok := v.stale[wk]; ok {
		return false, nil
	}
	return v.wireHas(wk), nil
}

// Set buffers the converted val under k. A nil value deletes.
func (v *MapView) Set(k, val any) error {
	if val == nil {
		return v.Delete(k)
	}
	wk, err := v.key(k)
	if err != nil {
		return err
	}
	w, err := v.reg.elemToWire(v.fd.MapValue(), val, true)
	if err != nil {
		return err
	}
	native, err := v.reg.elemToNative(v.fd.MapValue(), w, false)
	if err != nil {
		return err
	}
	v.items[wk] = native
	v.stale[wk] = struct{}{}
	return nil
}

func (v *MapView) Delete(k any) error {
	wk, err := v.key(k)
	if err != nil {
		return err
	}
	delete(v.items, wk)
	v.stale[wk] = struct{}{}
	return nil
}

func (v *MapView) Len() (int, error) {
	if err := v.Flush(); err != nil {
		return 0, err
	}
	return v.m.Len(), nil
}

// Keys flushes and returns the wire keys in ascending order.
func (v *MapView) Keys() ([]any, error) {
	if err := v.Flush(); err != nil {
		return nil, err
	}
	keys := make([]any, 0, v.m.Len())
	v.m.Range(func(k protoreflect.MapKey, _ protoreflect.Value) bool {
		keys = append(keys, k.Interface())
		return true
	})
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
	return keys, nil
}

// Range calls fn for every entry in key order until fn returns false.
func (v *MapView) Range(fn func(k, val any) bool) error {
	keys, err := v.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		val, _, err := v.Get(k)
		if err != nil {
			return err
		}
		if !fn(k, val) {
			return nil
		}
	}
	return nil
}

// Sync writes the buffered state of k into the wire map.
func (v *MapView) Sync(k any) error {
	wk, err := v.key(k)
	if err != nil {
		return err
	}
	return v.sync(wk)
}

func (v *MapView) sync(wk any) error {
	mk := mapKey(wk)
	delete(v.stale, wk)
	val, ok := v.items[wk]
	if !ok {
		v.m.Clear(mk)
		return nil
	}
	w, err := v.reg.elemToWire(v.fd.MapValue(), val, true)
	if err != nil {
		return err
	}
	v.m.Clear(mk)
	v.m.Set(mk, WireValue(w))
	// A cached message keeps its write-through alias to the old entry; drop
	// it so the next read wraps the stored copy.
	delete(v.items, wk)
	return nil
}

// Flush syncs every buffered key.
func (v *MapView) Flush() error {
	for wk := range v.stale {
		if err := v.sync(wk); err != nil {
			return err
		}
	}
	return nil
}

// Equal compares against another view or a Go map with matching keys.
func (v *MapView) Equal(other any) bool {
	keys, err := v.Keys()
	if err != nil {
		return false
	}
	var lookup func(k any) (any, bool)
	n := 0
	switch o := other.(type) {
	case *MapView:
		okeys, err := o.Keys()
		if err != nil {
			return false
		}
		n = len(okeys)
		lookup = func(k any) (any, bool) {
			val, ok, err := o.Get(k)
			return val, ok && err == nil
		}
	default:
		rv := reflect.ValueOf(other)
		if other == nil || rv.Kind() != reflect.Map {
			return false
		}
		n = rv.Len()
		wire := make(map[any]any, n)
		iter := rv.MapRange()
		for iter.Next() {
			wk, err := v.key(iter.Key().Interface())
			if err != nil {
				return false
			}
			wire[wk] = iter.Value().Interface()
		}
		lookup = func(k any) (any, bool) {
			val, ok := wire[k]
			return val, ok
		}
	}
	if n != len(keys) {
		return false
	}
	for _, k := range keys {
		want, ok := lookup(k)
		if !ok {
			return false
		}
		got, _, err := v.Get(k)
		if err != nil || !Equal(got, v.normalize(want)) {
			return false
		}
	}
	return true
}

func (v *MapView) normalize(x any) any {
	w, err := v.reg.elemToWire(v.fd.MapValue(), x, false)
	if err != nil || w == nil {
		return x
	}
	n, err := v.reg.elemToNative(v.fd.MapValue(), w, false)
	if err != nil {
		return x
	}
	return n
}

func lessKey(a, b any) bool {
	switch x := a.(type) {
	case string:
		return x < b.(string)
	case int32:
		return x < b.(int32)
	case int64:
		return x < b.(int64)
	case uint32:
		return x < b.(uint32)
	case uint64:
		return x < b.(uint64)
	case bool:
		return !x && b.(bool)
	}
	return false
}

var _ Flusher = (*MapView)(nil)
