package native

import (
	"strings"

	"github.com/daimatz/j4go/pkg/jvm"
)

const (
	tArrayList  = "java.util.ArrayList"
	tList       = "java.util.List"
	tCollection = "java.util.Collection"
	tIterable   = "java.lang.Iterable"
)

// ArrayList backs java.util.ArrayList. Like its Java counterpart it is not
// synchronized.
type ArrayList struct {
	Elems []jvm.Value
}

func listOf(this *jvm.Object) *ArrayList {
	if l, ok := this.Native.(*ArrayList); ok {
		return l
	}
	l := &ArrayList{}
	this.Native = l
	return l
}

// NewArrayList creates a java.util.ArrayList holding elems.
func NewArrayList(env *jvm.Env, elems []jvm.Value) (*jvm.Object, error) {
	obj, err := env.New(tArrayList, "()V")
	if err != nil {
		return nil, err
	}
	listOf(obj).Elems = append([]jvm.Value(nil), elems...)
	return obj, nil
}

// Elements returns the elements of an array, an ArrayList or any Iterable.
func Elements(env *jvm.Env, obj *jvm.Object) ([]jvm.Value, error) {
	if elems, ok := obj.Elements(); ok {
		return elems, nil
	}
	if l, ok := obj.Native.(*ArrayList); ok {
		return l.Elems, nil
	}
	it, err := env.InvokeVirtual(obj, "iterator", "()Ljava/util/Iterator;")
	if err != nil {
		return nil, err
	}
	var out []jvm.Value
	for {
		more, err := env.InvokeVirtual(it.Ref, "hasNext", "()Z")
		if err != nil {
			return nil, err
		}
		if !more.Bool() {
			return out, nil
		}
		v, err := env.InvokeVirtual(it.Ref, "next", "()Ljava/lang/Object;")
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

// equalValues implements Objects.equals.
func equalValues(env *jvm.Env, a, b jvm.Value) (bool, error) {
	switch {
	case a.IsNull() || b.IsNull():
		return a.IsNull() && b.IsNull(), nil
	case a.Ref == b.Ref:
		return true, nil
	}
	if s, ok := a.Ref.GoString(); ok {
		t, ok := b.Ref.GoString()
		return ok && s == t, nil
	}
	eq, err := env.InvokeVirtual(a.Ref, "equals", "(Ljava/lang/Object;)Z", b)
	if err != nil {
		return false, err
	}
	return eq.Bool(), nil
}

func (l *ArrayList) indexOf(env *jvm.Env, v jvm.Value) (int, error) {
	for i, e := range l.Elems {
		eq, err := equalValues(env, v, e)
		if err != nil {
			return -1, err
		}
		if eq {
			return i, nil
		}
	}
	return -1, nil
}

func (l *ArrayList) check(env *jvm.Env, i, size int) error {
	if i < 0 || i >= size {
		return env.Exceptionf("java.lang.IndexOutOfBoundsException", "Index %d out of bounds for length %d", i, size)
	}
	return nil
}

func listClasses() []*jvm.Class {
	iterable := jvm.NewInterface(tIterable).
		AbstractMethod("iterator", nil, tIterator)
	iterator := jvm.NewInterface(tIterator).
		AbstractMethod("hasNext", nil, "boolean").
		AbstractMethod("next", nil, tObject)
	collection := jvm.NewInterface(tCollection, tIterable).
		AbstractMethod("size", nil, "int").
		AbstractMethod("isEmpty", nil, "boolean").
		AbstractMethod("contains", params(tObject), "boolean").
		AbstractMethod("add", params(tObject), "boolean").
		AbstractMethod("clear", nil, "void")
	list := jvm.NewInterface(tList, tCollection).
		AbstractMethod("get", params("int"), tObject).
		AbstractMethod("set", params("int", tObject), tObject).
		AbstractMethod("add", params("int", tObject), "void").
		AbstractMethod("remove", params("int"), tObject).
		AbstractMethod("indexOf", params(tObject), "int")
	set := jvm.NewInterface("java.util.Set", tCollection)

	itr := jvm.NewClass("java.util.ArrayList$Itr", "").
		Implements(tIterator).
		Field("cursor", "int").
		Field("list", tArrayList).
		Method("hasNext", nil, "boolean", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			l := listOf(this.Field("list").Ref)
			return jvm.BoolValue(int(this.Field("cursor").I32()) < len(l.Elems)), nil
		}).
		Method("next", nil, tObject, func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			l := listOf(this.Field("list").Ref)
			i := int(this.Field("cursor").I32())
			if i >= len(l.Elems) {
				return jvm.Value{}, env.Exception("java.util.NoSuchElementException", "")
			}
			this.SetField("cursor", jvm.IntValue(int32(i+1)))
			return l.Elems[i], nil
		})

	arrayList := jvm.NewClass(tArrayList, "").
		Implements(tList, "java.io.Serializable").
		Constructor(nil, func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			this.Native = &ArrayList{}
			return void()
		}).
		Constructor(params("int"), func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			if args[0].I32() < 0 {
				return jvm.Value{}, env.Exceptionf("java.lang.IllegalArgumentException", "Illegal Capacity: %d", args[0].I32())
			}
			this.Native = &ArrayList{Elems: make([]jvm.Value, 0, args[0].I32())}
			return void()
		}).
		Constructor(params(tCollection), func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			if args[0].IsNull() {
				return jvm.Value{}, env.Exception("java.lang.NullPointerException", "")
			}
			elems, err := Elements(env, args[0].Ref)
			if err != nil {
				return jvm.Value{}, err
			}
			this.Native = &ArrayList{Elems: append([]jvm.Value(nil), elems...)}
			return void()
		}).
		Method("size", nil, "int", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return jvm.IntValue(int32(len(listOf(this).Elems))), nil
		}).
		Method("isEmpty", nil, "boolean", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return jvm.BoolValue(len(listOf(this).Elems) == 0), nil
		}).
		Method("add", params(tObject), "boolean", func(_ *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			l := listOf(this)
			l.Elems = append(l.Elems, args[0])
			return jvm.BoolValue(true), nil
		}).
		Method("add", params("int", tObject), "void", func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			l := listOf(this)
			i := int(args[0].I32())
			if err := l.check(env, i, len(l.Elems)+1); err != nil {
				return jvm.Value{}, err
			}
			l.Elems = append(l.Elems, jvm.Value{})
			copy(l.Elems[i+1:], l.Elems[i:])
			l.Elems[i] = args[1]
			return void()
		}).
		Method("addAll", params(tCollection), "boolean", func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			if args[0].IsNull() {
				return jvm.Value{}, env.Exception("java.lang.NullPointerException", "")
			}
			elems, err := Elements(env, args[0].Ref)
			if err != nil {
				return jvm.Value{}, err
			}
			l := listOf(this)
			l.Elems = append(l.Elems, elems...)
			return jvm.BoolValue(len(elems) > 0), nil
		}).
		Method("get", params("int"), tObject, func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			l := listOf(this)
			i := int(args[0].I32())
			if err := l.check(env, i, len(l.Elems)); err != nil {
				return jvm.Value{}, err
			}
			return l.Elems[i], nil
		}).
		Method("set", params("int", tObject), tObject, func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			l := listOf(this)
			i := int(args[0].I32())
			if err := l.check(env, i, len(l.Elems)); err != nil {
				return jvm.Value{}, err
			}
			old := l.Elems[i]
			l.Elems[i] = args[1]
			return old, nil
		}).
		Method("remove", params("int"), tObject, func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			l := listOf(this)
			i := int(args[0].I32())
			if err := l.check(env, i, len(l.Elems)); err != nil {
				return jvm.Value{}, err
			}
			old := l.Elems[i]
			l.Elems = append(l.Elems[:i], l.Elems[i+1:]...)
			return old, nil
		}).
		Method("remove", params(tObject), "boolean", func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			l := listOf(this)
			i, err := l.indexOf(env, args[0])
			if err != nil || i < 0 {
				return jvm.BoolValue(false), err
			}
			l.Elems = append(l.Elems[:i], l.Elems[i+1:]...)
			return jvm.BoolValue(true), nil
		}).
		Method("indexOf", params(tObject), "int", func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			i, err := listOf(this).indexOf(env, args[0])
			return jvm.IntValue(int32(i)), err
		}).
		Method("contains", params(tObject), "boolean", func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			i, err := listOf(this).indexOf(env, args[0])
			return jvm.BoolValue(i >= 0), err
		}).
		Method("clear", nil, "void", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			listOf(this).Elems = nil
			return void()
		}).
		Method("iterator", nil, tIterator, func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			it, err := env.New("java.util.ArrayList$Itr", "()V")
			if err != nil {
				return jvm.Value{}, err
			}
			it.SetField("list", jvm.RefValue(this))
			return jvm.RefValue(it), nil
		}).
		Method("toArray", nil, "[Ljava.lang.Object;", func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			arr, err := env.NewArrayOf(tObject, listOf(this).Elems)
			if err != nil {
				return jvm.Value{}, err
			}
			return jvm.RefValue(arr), nil
		}).
		Method("equals", params(tObject), "boolean", func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			other := args[0]
			if other.IsNull() {
				return jvm.BoolValue(false), nil
			}
			o, ok := other.Ref.Native.(*ArrayList)
			l := listOf(this)
			if !ok || len(o.Elems) != len(l.Elems) {
				return jvm.BoolValue(false), nil
			}
			for i := range l.Elems {
				eq, err := equalValues(env, l.Elems[i], o.Elems[i])
				if err != nil || !eq {
					return jvm.BoolValue(false), err
				}
			}
			return jvm.BoolValue(true), nil
		}).
		Method("hashCode", nil, "int", func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			h := int32(1)
			for _, e := range listOf(this).Elems {
				eh, err := hashValue(env, e)
				if err != nil {
					return jvm.Value{}, err
				}
				h = 31*h + eh
			}
			return jvm.IntValue(h), nil
		}).
		Method("toString", nil, tString, func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			s, err := joinValues(env, this, listOf(this).Elems)
			if err != nil {
				return jvm.Value{}, err
			}
			return StringValue(env, "["+s+"]"), nil
		})
	// Itr is created by iterator() only
	itr.Constructor(nil, func(*jvm.Env, *jvm.Object, []jvm.Value) (jvm.Value, error) { return void() })

	arrays := jvm.NewClass("java.util.Arrays", "").
		StaticMethod("asList", params("[Ljava.lang.Object;"), tList, func(env *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			if args[0].IsNull() {
				return jvm.Value{}, env.Exception("java.lang.NullPointerException", "")
			}
			elems, _ := args[0].Ref.Elements()
			l, err := NewArrayList(env, elems)
			if err != nil {
				return jvm.Value{}, err
			}
			return jvm.RefValue(l), nil
		})

	return []*jvm.Class{iterable, iterator, collection, list, set, itr, arrayList, arrays}
}

func joinValues(env *jvm.Env, self *jvm.Object, elems []jvm.Value) (string, error) {
	parts := make([]string, len(elems))
	for i, e := range elems {
		if e.Ref == self && e.Ref != nil {
			parts[i] = "(this Collection)"
			continue
		}
		s, err := env.ToString(e.Ref)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return strings.Join(parts, ", "), nil
}

// hashValue implements Objects.hashCode.
func hashValue(env *jvm.Env, v jvm.Value) (int32, error) {
	if v.IsNull() {
		return 0, nil
	}
	if s, ok := v.Ref.GoString(); ok {
		return javaHash(s), nil
	}
	h, err := env.InvokeVirtual(v.Ref, "hashCode", "()I")
	if err != nil {
		return 0, err
	}
	return h.I32(), nil
}
