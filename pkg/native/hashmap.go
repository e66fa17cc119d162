package native

import (
	"strings"

	"github.com/daimatz/j4go/pkg/jvm"
)

const (
	tMap     = "java.util.Map"
	tHashMap = "java.util.HashMap"
)

// HashMap backs java.util.HashMap and java.util.LinkedHashMap. Keys are
// bucketed by their Java hashCode and compared with equals; iteration
// follows insertion order for both classes.
type HashMap struct {
	buckets map[int32][]*MapEntry
	order   []*MapEntry
}

// MapEntry is one key/value pair of a HashMap.
type MapEntry struct {
	Key, Value jvm.Value
	removed    bool
}

func newHashMap() *HashMap {
	return &HashMap{buckets: make(map[int32][]*MapEntry)}
}

func mapOf(this *jvm.Object) *HashMap {
	if m, ok := this.Native.(*HashMap); ok {
		return m
	}
	m := newHashMap()
	this.Native = m
	return m
}

// Entries returns the live entries in insertion order.
func (m *HashMap) Entries() []*MapEntry {
	out := make([]*MapEntry, 0, len(m.order))
	for _, e := range m.order {
		if !e.removed {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries.
func (m *HashMap) Len() int { return len(m.Entries()) }

func (m *HashMap) find(env *jvm.Env, key jvm.Value) (*MapEntry, int32, error) {
	h, err := hashValue(env, key)
	if err != nil {
		return nil, 0, err
	}
	for _, e := range m.buckets[h] {
		eq, err := equalValues(env, key, e.Key)
		if err != nil {
			return nil, 0, err
		}
		if eq {
			return e, h, nil
		}
	}
	return nil, h, nil
}

// Get returns the value for key; null if absent.
func (m *HashMap) Get(env *jvm.Env, key jvm.Value) (jvm.Value, bool, error) {
	e, _, err := m.find(env, key)
	if err != nil || e == nil {
		return jvm.NullValue(), false, err
	}
	return e.Value, true, nil
}

// Put stores a key/value pair and returns the previous value.
func (m *HashMap) Put(env *jvm.Env, key, value jvm.Value) (jvm.Value, error) {
	e, h, err := m.find(env, key)
	if err != nil {
		return jvm.Value{}, err
	}
	if e != nil {
		old := e.Value
		e.Value = value
		return old, nil
	}
	e = &MapEntry{Key: key, Value: value}
	m.buckets[h] = append(m.buckets[h], e)
	m.order = append(m.order, e)
	return jvm.NullValue(), nil
}

// Remove deletes key and returns its value.
func (m *HashMap) Remove(env *jvm.Env, key jvm.Value) (jvm.Value, error) {
	e, h, err := m.find(env, key)
	if err != nil || e == nil {
		return jvm.NullValue(), err
	}
	bucket := m.buckets[h]
	for i, b := range bucket {
		if b == e {
			m.buckets[h] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(m.buckets[h]) == 0 {
		delete(m.buckets, h)
	}
	e.removed = true
	// compact once tombstones dominate
	if live := m.Len(); live*2 < len(m.order) {
		m.order = m.Entries()
	}
	return e.Value, nil
}

func hashMapClasses() []*jvm.Class {
	mapIface := jvm.NewInterface(tMap).
		AbstractMethod("size", nil, "int").
		AbstractMethod("isEmpty", nil, "boolean").
		AbstractMethod("get", params(tObject), tObject).
		AbstractMethod("put", params(tObject, tObject), tObject).
		AbstractMethod("remove", params(tObject), tObject).
		AbstractMethod("containsKey", params(tObject), "boolean").
		AbstractMethod("clear", nil, "void")

	hashMap := defineMap(jvm.NewClass(tHashMap, "").Implements(tMap, "java.io.Serializable"))
	linked := defineMap(jvm.NewClass("java.util.LinkedHashMap", tHashMap).Implements(tMap))
	keySet := jvm.NewClass("java.util.HashMap$KeySet", tArrayList).Implements("java.util.Set").
		Constructor(nil, func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			this.Native = &ArrayList{}
			return void()
		})
	return []*jvm.Class{mapIface, hashMap, linked, keySet}
}

// defineMap installs the map methods; LinkedHashMap inherits them but needs
// its own constructors.
func defineMap(c *jvm.Class) *jvm.Class {
	c.Constructor(nil, func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
		this.Native = newHashMap()
		return void()
	}).Constructor(params("int"), func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
		this.Native = newHashMap()
		return void()
	})
	if c.Name != tHashMap {
		return c
	}
	return c.
		Method("size", nil, "int", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return jvm.IntValue(int32(mapOf(this).Len())), nil
		}).
		Method("isEmpty", nil, "boolean", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return jvm.BoolValue(mapOf(this).Len() == 0), nil
		}).
		Method("get", params(tObject), tObject, func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			v, _, err := mapOf(this).Get(env, args[0])
			return v, err
		}).
		Method("getOrDefault", params(tObject, tObject), tObject, func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			v, ok, err := mapOf(this).Get(env, args[0])
			if err != nil || ok {
				return v, err
			}
			return args[1], nil
		}).
		Method("containsKey", params(tObject), "boolean", func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			_, ok, err := mapOf(this).Get(env, args[0])
			return jvm.BoolValue(ok), err
		}).
		Method("put", params(tObject, tObject), tObject, func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			return mapOf(this).Put(env, args[0], args[1])
		}).
		Method("remove", params(tObject), tObject, func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			return mapOf(this).Remove(env, args[0])
		}).
		Method("clear", nil, "void", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			this.Native = newHashMap()
			return void()
		}).
		Method("keySet", nil, "java.util.Set", func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			ks, err := env.New("java.util.HashMap$KeySet", "()V")
			if err != nil {
				return jvm.Value{}, err
			}
			l := listOf(ks)
			for _, e := range mapOf(this).Entries() {
				l.Elems = append(l.Elems, e.Key)
			}
			return jvm.RefValue(ks), nil
		}).
		Method("values", nil, tCollection, func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			entries := mapOf(this).Entries()
			values := make([]jvm.Value, len(entries))
			for i, e := range entries {
				values[i] = e.Value
			}
			l, err := NewArrayList(env, values)
			if err != nil {
				return jvm.Value{}, err
			}
			return jvm.RefValue(l), nil
		}).
		Method("toString", nil, tString, func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			var b strings.Builder
			b.WriteByte('{')
			for i, e := range mapOf(this).Entries() {
				if i > 0 {
					b.WriteString(", ")
				}
				k, err := env.ToString(e.Key.Ref)
				if err != nil {
					return jvm.Value{}, err
				}
				v, err := env.ToString(e.Value.Ref)
				if err != nil {
					return jvm.Value{}, err
				}
				b.WriteString(k + "=" + v)
			}
			b.WriteByte('}')
			return StringValue(env, b.String()), nil
		})
}

// MapOf returns the Go view of a HashMap object.
func MapOf(obj *jvm.Object) (*HashMap, bool) {
	m, ok := obj.Native.(*HashMap)
	return m, ok
}

// NewHashMap creates an empty java.util.HashMap.
func NewHashMap(env *jvm.Env) (*jvm.Object, error) {
	return env.New(tHashMap, "()V")
}
