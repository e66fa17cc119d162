// Package native implements the java.lang and java.util classes the bridge
// relies on, the JSON hooks and the callback support classes, all in Go.
package native

import (
	"errors"
	"fmt"
	"unicode/utf16"

	"github.com/daimatz/j4go/pkg/classfile"
	"github.com/daimatz/j4go/pkg/jvm"
)

// Well-known class names of the bridge's managed side.
const (
	CallbackSupportClass = "io.github.daimatz.j4go.api.NativeCallbackSupport"
	ChannelSupportClass  = "io.github.daimatz.j4go.api.NativeCallbackToChannelSupport"
	JSONClass            = "io.github.daimatz.j4go.api.Json"
)

// Classes returns fresh definitions of every built-in class. Class values
// carry per-runtime state, so each runtime needs its own set.
func Classes() []*jvm.Class {
	var classes []*jvm.Class
	classes = append(classes, langClasses()...)
	classes = append(classes, boxedClasses()...)
	classes = append(classes, throwableClasses()...)
	classes = append(classes, systemClasses()...)
	classes = append(classes, threadClasses()...)
	classes = append(classes, listClasses()...)
	classes = append(classes, hashMapClasses()...)
	classes = append(classes, jsonClass())
	classes = append(classes, callbackClasses()...)
	return classes
}

// NewBootstrapLoader returns a loader serving the built-in classes. Extra
// classes (for example Go-defined application classes) are added on top.
func NewBootstrapLoader(extra ...*jvm.Class) *jvm.MapLoader {
	l := jvm.NewMapLoader(Classes()...)
	for _, c := range extra {
		l.Define(c)
	}
	return l
}

var errNotString = errors.New("not a java.lang.String")

// GoString returns the Go string behind a String value. Null is reported
// with ok=false.
func GoString(v jvm.Value) (string, bool) {
	if v.IsNull() {
		return "", false
	}
	return v.Ref.GoString()
}

// StringValue wraps s as a java.lang.String value.
func StringValue(env *jvm.Env, s string) jvm.Value {
	return jvm.RefValue(env.NewStringObject(s))
}

// stringArg reads a String argument; null throws NullPointerException.
func stringArg(env *jvm.Env, v jvm.Value) (string, error) {
	if v.IsNull() {
		return "", env.Exception("java.lang.NullPointerException", "")
	}
	s, ok := v.Ref.GoString()
	if !ok {
		return "", fmt.Errorf("%s: %w", v.Ref.Class.Name, errNotString)
	}
	return s, nil
}

// charSequence reads any CharSequence argument through toString.
func charSequence(env *jvm.Env, v jvm.Value) (string, error) {
	if v.IsNull() {
		return "", env.Exception("java.lang.NullPointerException", "")
	}
	return env.ToString(v.Ref)
}

func units(s string) []uint16 { return utf16.Encode([]rune(s)) }

func fromUnits(u []uint16) string { return string(utf16.Decode(u)) }

// javaHash is String.hashCode over UTF-16 code units.
func javaHash(s string) int32 {
	var h int32
	for _, u := range units(s) {
		h = 31*h + int32(u)
	}
	return h
}

// identityHash derives Object.hashCode from the object id.
func identityHash(obj *jvm.Object) int32 {
	return int32(uint32(obj.ID() * 2654435761))
}

// Box wraps a primitive value into its java.lang wrapper; references pass
// through unchanged.
func Box(env *jvm.Env, typeName string, v jvm.Value) (jvm.Value, error) {
	wrapper, ok := wrappers[typeName]
	if !ok {
		return v, nil
	}
	obj, err := env.New(wrapper, classfile.MethodDescriptor(params(typeName), "void"), v)
	if err != nil {
		return jvm.Value{}, err
	}
	return jvm.RefValue(obj), nil
}

// Unbox returns the primitive behind a wrapper object and its type name.
func Unbox(v jvm.Value) (jvm.Value, string, bool) {
	if v.IsNull() {
		return jvm.Value{}, "", false
	}
	prim, ok := primitives[v.Ref.Class.Name]
	if !ok {
		return jvm.Value{}, "", false
	}
	return v.Ref.Field("value"), prim, true
}

var wrappers = map[string]string{
	"boolean": "java.lang.Boolean",
	"byte":    "java.lang.Byte",
	"short":   "java.lang.Short",
	"char":    "java.lang.Character",
	"int":     "java.lang.Integer",
	"long":    "java.lang.Long",
	"float":   "java.lang.Float",
	"double":  "java.lang.Double",
}

var primitives = func() map[string]string {
	m := make(map[string]string, len(wrappers))
	for prim, w := range wrappers {
		m[w] = prim
	}
	return m
}()

// params is shorthand for method parameter lists.
func params(types ...string) []string { return types }

func void() (jvm.Value, error) { return jvm.VoidValue(), nil }
