package j4go

import (
	"fmt"
	"math"
	"reflect"

	"github.com/goccy/go-json"

	"github.com/daimatz/j4go/pkg/classfile"
	"github.com/daimatz/j4go/pkg/jvm"
)

type argKind int

const (
	argScalar argKind = iota
	argString
	argInstance
	argInstanceRef
	argArray
	argJSON
	argNull
)

// InvocationArg is one argument of a managed call: a Go value plus the
// Java type it is sent as.
type InvocationArg struct {
	kind      argKind
	className string

	// scalar is bool, int8, int16, int32, int64, float32, float64 or
	// uint16 (char).
	scalar any
	str    string
	inst   *Instance
	elems  []InvocationArg
	json   string
}

// ClassName is the Java type the argument is sent as.
func (a InvocationArg) ClassName() string { return a.className }

var boxedNames = map[string]string{
	"boolean": "java.lang.Boolean",
	"byte":    "java.lang.Byte",
	"short":   "java.lang.Short",
	"char":    "java.lang.Character",
	"int":     "java.lang.Integer",
	"long":    "java.lang.Long",
	"float":   "java.lang.Float",
	"double":  "java.lang.Double",
}

var primitiveNames = func() map[string]string {
	m := make(map[string]string, len(boxedNames))
	for p, w := range boxedNames {
		m[w] = p
	}
	return m
}()

func scalarArg(prim string, v any) InvocationArg {
	return InvocationArg{kind: argScalar, className: boxedNames[prim], scalar: v}
}

// BoolArg sends a java.lang.Boolean.
func BoolArg(v bool) InvocationArg { return scalarArg("boolean", v) }

// ByteArg sends a java.lang.Byte.
func ByteArg(v int8) InvocationArg { return scalarArg("byte", v) }

// ShortArg sends a java.lang.Short.
func ShortArg(v int16) InvocationArg { return scalarArg("short", v) }

// CharArg sends a java.lang.Character. Runes outside the Basic
// Multilingual Plane do not fit a char and are rejected.
func CharArg(r rune) (InvocationArg, error) {
	if r < 0 || r > math.MaxUint16 {
		return InvocationArg{}, newError(KindConversion, "char argument", fmt.Sprintf("%U does not fit in a char", r))
	}
	return scalarArg("char", uint16(r)), nil
}

// IntArg sends a java.lang.Integer.
func IntArg(v int32) InvocationArg { return scalarArg("int", v) }

// LongArg sends a java.lang.Long.
func LongArg(v int64) InvocationArg { return scalarArg("long", v) }

// FloatArg sends a java.lang.Float.
func FloatArg(v float32) InvocationArg { return scalarArg("float", v) }

// DoubleArg sends a java.lang.Double.
func DoubleArg(v float64) InvocationArg { return scalarArg("double", v) }

// StringArg sends a java.lang.String.
func StringArg(s string) InvocationArg {
	return InvocationArg{kind: argString, className: "java.lang.String", str: s}
}

// InstanceArg sends the object behind inst and consumes it: the call closes
// inst whether it succeeds or not. A nil inst makes the call fail with a
// conversion error.
func InstanceArg(inst *Instance) InvocationArg {
	return instanceArg(argInstance, inst)
}

// InstanceRefArg sends the object behind inst without consuming it.
func InstanceRefArg(inst *Instance) InvocationArg {
	return instanceArg(argInstanceRef, inst)
}

func instanceArg(kind argKind, inst *Instance) InvocationArg {
	if inst == nil {
		return InvocationArg{kind: kind}
	}
	return InvocationArg{kind: kind, className: inst.className, inst: inst}
}

// NullArg sends a null typed as className.
func NullArg(className string) (InvocationArg, error) {
	if className == "" || classfile.IsPrimitiveName(className) {
		return InvocationArg{}, newError(KindConversion, "null argument", fmt.Sprintf("null cannot be typed as %q", className))
	}
	return InvocationArg{kind: argNull, className: className}, nil
}

// NewJSONArg serializes v and sends the object the managed JSON hook builds
// from it as className.
func NewJSONArg(v any, className string) (InvocationArg, error) {
	if className == "" || classfile.IsPrimitiveName(className) {
		return InvocationArg{}, newError(KindConversion, "json argument",
			fmt.Sprintf("%q is not a class name; use a scalar argument for primitives", className))
	}
	b, err := json.Marshal(v)
	if err != nil {
		return InvocationArg{}, wrapError(KindConversion, "json argument", err)
	}
	return InvocationArg{kind: argJSON, className: className, json: string(b)}, nil
}

// NewArrayArg sends a Java array of the elements. Every element must have
// the same type; an empty array needs NewTypedArrayArg.
func NewArrayArg(elems ...InvocationArg) (InvocationArg, error) {
	if len(elems) == 0 {
		return InvocationArg{}, newError(KindConversion, "array argument", "element type of an empty array is unknown")
	}
	return NewTypedArrayArg(elems[0].className, elems...)
}

// NewTypedArrayArg sends an array whose component type is elemClass.
func NewTypedArrayArg(elemClass string, elems ...InvocationArg) (InvocationArg, error) {
	for i, e := range elems {
		if e.className != elemClass {
			return InvocationArg{}, newError(KindConversion, "array argument",
				fmt.Sprintf("element %d is %s, want %s", i, e.className, elemClass))
		}
		if e.kind == argInstance {
			return InvocationArg{}, newError(KindConversion, "array argument",
				fmt.Sprintf("element %d consumes an instance; use InstanceRefArg", i))
		}
	}
	return InvocationArg{kind: argArray, className: jvm.ArrayClassName(elemClass), elems: elems}, nil
}

// NewArg builds an argument from a Go value: bool, int8, int16, int32, int,
// int64, float32, float64, string, *Instance (consumed), an InvocationArg,
// or a slice of those (an array).
func NewArg(v any) (InvocationArg, error) {
	switch x := v.(type) {
	case InvocationArg:
		return x, nil
	case bool:
		return BoolArg(x), nil
	case int8:
		return ByteArg(x), nil
	case int16:
		return ShortArg(x), nil
	case int32:
		return IntArg(x), nil
	case int:
		if x < math.MinInt32 || x > math.MaxInt32 {
			return InvocationArg{}, newError(KindConversion, "argument", fmt.Sprintf("int %d overflows java.lang.Integer; use int64", x))
		}
		return IntArg(int32(x)), nil
	case int64:
		return LongArg(x), nil
	case float32:
		return FloatArg(x), nil
	case float64:
		return DoubleArg(x), nil
	case string:
		return StringArg(x), nil
	case *Instance:
		if x == nil {
			return InvocationArg{}, newError(KindConversion, "argument", "nil *Instance; use NullArg")
		}
		return InstanceArg(x), nil
	case nil:
		return InvocationArg{}, newError(KindConversion, "argument", "untyped nil; use NullArg")
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return InvocationArg{}, newError(KindConversion, "argument", fmt.Sprintf("unsupported Go type %T", v))
	}
	elems := make([]InvocationArg, rv.Len())
	for i := range elems {
		e, err := NewArg(rv.Index(i).Interface())
		if err != nil {
			return InvocationArg{}, err
		}
		if e.kind == argInstance {
			e = InstanceRefArg(e.inst)
		}
		elems[i] = e
	}
	if len(elems) == 0 {
		elem, err := NewArg(reflect.Zero(rv.Type().Elem()).Interface())
		if err != nil {
			return InvocationArg{}, err
		}
		return NewTypedArrayArg(elem.className)
	}
	return NewArrayArg(elems...)
}

// Args converts several Go values with NewArg.
func Args(vs ...any) ([]InvocationArg, error) {
	out := make([]InvocationArg, len(vs))
	for i, v := range vs {
		a, err := NewArg(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = a
	}
	return out, nil
}

// Primitive sends a scalar, or an array of scalars, as the primitive type
// (int instead of java.lang.Integer). Other arguments are returned as is.
func (a InvocationArg) Primitive() InvocationArg {
	switch a.kind {
	case argScalar:
		if p, ok := primitiveNames[a.className]; ok {
			a.className = p
		}
	case argArray:
		elems := make([]InvocationArg, len(a.elems))
		for i, e := range a.elems {
			elems[i] = e.Primitive()
		}
		comp, _ := componentName(a.className)
		if p, ok := primitiveNames[comp]; ok {
			a.className = jvm.ArrayClassName(p)
		}
		a.elems = elems
	}
	return a
}

// Boxed reverses Primitive.
func (a InvocationArg) Boxed() InvocationArg {
	switch a.kind {
	case argScalar:
		if w, ok := boxedNames[a.className]; ok {
			a.className = w
		}
	case argArray:
		elems := make([]InvocationArg, len(a.elems))
		for i, e := range a.elems {
			elems[i] = e.Boxed()
		}
		comp, _ := componentName(a.className)
		if w, ok := boxedNames[comp]; ok {
			a.className = jvm.ArrayClassName(w)
		}
		a.elems = elems
	}
	return a
}

// componentName returns the element type of an array class name.
func componentName(arrayClass string) (string, error) {
	if len(arrayClass) < 2 || arrayClass[0] != '[' {
		return "", fmt.Errorf("%s is not an array class", arrayClass)
	}
	return classfile.TypeName(classfile.InternalName(arrayClass[1:]))
}

// consumed returns the instance the argument consumes, if any.
func (a InvocationArg) consumed() *Instance {
	if a.kind == argInstance {
		return a.inst
	}
	return nil
}

// primitiveOf returns the primitive type carried by a scalar argument or a
// boxed-scalar Instance.
func (a InvocationArg) primitiveOf() (string, any, bool) {
	switch a.kind {
	case argScalar:
		if p, ok := primitiveNames[a.className]; ok {
			return p, a.scalar, true
		}
		return a.className, a.scalar, true
	case argInstance, argInstanceRef:
		if a.inst == nil {
			break
		}
		if p, ok := primitiveNames[a.inst.className]; ok && a.inst.hasPayload {
			return p, a.inst.payload, true
		}
	}
	return "", nil, false
}
