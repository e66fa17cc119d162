package native

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/daimatz/j4go/pkg/classfile"
	"github.com/daimatz/j4go/pkg/jvm"
)

// maxJSONDepth bounds object graphs walked by toJson; deeper graphs are
// almost always cycles.
const maxJSONDepth = 64

var errTooDeep = errors.New("object graph too deep (cycle?)")

func jsonClass() *jvm.Class {
	return jvm.NewClass(JSONClass, "").
		StaticMethod("toJson", params(tObject), tString, func(env *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			s, err := ToJSON(env, args[0])
			if err != nil {
				return jvm.Value{}, err
			}
			return StringValue(env, s), nil
		}).
		StaticMethod("fromJson", params(tString, tString), tObject, func(env *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			payload, err := stringArg(env, args[0])
			if err != nil {
				return jvm.Value{}, err
			}
			className, err := stringArg(env, args[1])
			if err != nil {
				return jvm.Value{}, err
			}
			v, err := FromJSON(env, payload, className)
			if err != nil {
				return jvm.Value{}, err
			}
			return Box(env, className, v)
		})
}

// ToJSON serializes a managed value. Strings, wrappers, arrays, lists and
// maps map onto their JSON counterparts; other objects become JSON objects
// of their instance fields.
func ToJSON(env *jvm.Env, v jvm.Value) (string, error) {
	tree, err := toTree(env, v, 0)
	if err != nil {
		var je *jvm.JavaException
		if errors.As(err, &je) {
			return "", err
		}
		return "", env.Exception("java.lang.IllegalArgumentException", err.Error())
	}
	b, err := json.Marshal(tree)
	if err != nil {
		return "", env.Exception("java.lang.IllegalArgumentException", err.Error())
	}
	return string(b), nil
}

type jsonMember struct {
	key   string
	value any
}

// jsonObject keeps members in insertion order when marshaled.
type jsonObject []jsonMember

func (o jsonObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(m.key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(m.value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func primitiveTree(typeName string, v jvm.Value) (any, error) {
	switch typeName {
	case "boolean":
		return v.Bool(), nil
	case "char":
		return fromUnits([]uint16{uint16(v.Int)}), nil
	case "float", "double":
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return nil, fmt.Errorf("%s value %v is not representable in JSON", typeName, v.Float)
		}
		return v.Float, nil
	}
	return v.Int, nil
}

func toTree(env *jvm.Env, v jvm.Value, depth int) (any, error) {
	if depth > maxJSONDepth {
		return nil, errTooDeep
	}
	if v.IsNull() {
		return nil, nil
	}
	if v.Type != jvm.TypeRef {
		return nil, fmt.Errorf("unexpected %s value", v.Type)
	}
	obj := v.Ref
	if s, ok := obj.GoString(); ok {
		return s, nil
	}
	if prim, typeName, ok := Unbox(v); ok {
		return primitiveTree(typeName, prim)
	}
	if elems, ok := obj.Elements(); ok {
		return elemsTree(env, obj.Class.Component.Name, elems, depth)
	}
	switch n := obj.Native.(type) {
	case *ArrayList:
		return elemsTree(env, tObject, n.Elems, depth)
	case *HashMap:
		out := jsonObject{}
		for _, e := range n.Entries() {
			k, err := env.ToString(e.Key.Ref)
			if err != nil {
				return nil, err
			}
			val, err := toTree(env, e.Value, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, jsonMember{key: k, value: val})
		}
		return out, nil
	case *strings.Builder:
		return n.String(), nil
	}
	out := jsonObject{}
	for _, f := range obj.Class.InstanceFields() {
		fv := obj.Field(f.Name)
		var (
			val any
			err error
		)
		if classfile.IsPrimitiveName(f.Type) {
			val, err = primitiveTree(f.Type, fv)
		} else {
			val, err = toTree(env, fv, depth+1)
		}
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", obj.Class.Name, f.Name, err)
		}
		out = append(out, jsonMember{key: f.Name, value: val})
	}
	return out, nil
}

func elemsTree(env *jvm.Env, component string, elems []jvm.Value, depth int) (any, error) {
	out := make([]any, len(elems))
	for i, e := range elems {
		var err error
		if classfile.IsPrimitiveName(component) {
			out[i], err = primitiveTree(component, e)
		} else {
			out[i], err = toTree(env, e, depth+1)
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FromJSON builds a value of the named type from a JSON payload. Primitive
// type names yield primitive values.
func FromJSON(env *jvm.Env, payload, className string) (jvm.Value, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return jvm.Value{}, env.Exceptionf("java.lang.IllegalArgumentException", "invalid JSON for %s: %v", className, err)
	}
	return fromTree(env, className, tree)
}

func fromTree(env *jvm.Env, typeName string, tree any) (jvm.Value, error) {
	mismatch := func() error {
		return env.Exceptionf("java.lang.IllegalArgumentException", "cannot deserialize %s from JSON %T", typeName, tree)
	}
	if tree == nil {
		if classfile.IsPrimitiveName(typeName) {
			return jvm.Value{}, mismatch()
		}
		return jvm.NullValue(), nil
	}
	if classfile.IsPrimitiveName(typeName) {
		return primitiveFromTree(env, typeName, tree)
	}
	if prim, ok := primitives[typeName]; ok {
		v, err := primitiveFromTree(env, prim, tree)
		if err != nil {
			return jvm.Value{}, err
		}
		return Box(env, prim, v)
	}

	switch typeName {
	case tObject, "java.io.Serializable":
		return naturalFromTree(env, tree)
	case tString, tCharSeq:
		switch t := tree.(type) {
		case string:
			return StringValue(env, t), nil
		case json.Number:
			return StringValue(env, t.String()), nil
		case bool:
			return StringValue(env, strconv.FormatBool(t)), nil
		}
		return jvm.Value{}, mismatch()
	case tList, tArrayList, tCollection, tIterable:
		arr, ok := tree.([]any)
		if !ok {
			return jvm.Value{}, mismatch()
		}
		elems, err := naturalElems(env, arr)
		if err != nil {
			return jvm.Value{}, err
		}
		l, err := NewArrayList(env, elems)
		return jvm.RefValue(l), err
	case tMap, tHashMap, "java.util.LinkedHashMap":
		obj, ok := tree.(map[string]any)
		if !ok {
			return jvm.Value{}, mismatch()
		}
		return mapFromTree(env, obj)
	}

	if strings.HasPrefix(typeName, "[") {
		arr, ok := tree.([]any)
		if !ok {
			return jvm.Value{}, mismatch()
		}
		component, err := classfile.TypeName(strings.TrimPrefix(internalArray(typeName), "["))
		if err != nil {
			return jvm.Value{}, mismatch()
		}
		elems := make([]jvm.Value, len(arr))
		for i, e := range arr {
			if elems[i], err = fromTree(env, component, e); err != nil {
				return jvm.Value{}, err
			}
		}
		out, err := env.NewArrayOf(component, elems)
		return jvm.RefValue(out), err
	}

	members, ok := tree.(map[string]any)
	if !ok {
		return jvm.Value{}, mismatch()
	}
	return beanFromTree(env, typeName, members)
}

// internalArray turns "[Ljava.lang.String;" into "[Ljava/lang/String;".
func internalArray(name string) string {
	return strings.ReplaceAll(name, ".", "/")
}

func primitiveFromTree(env *jvm.Env, typeName string, tree any) (jvm.Value, error) {
	bad := func() error {
		return env.Exceptionf("java.lang.IllegalArgumentException", "cannot deserialize %s from JSON %v", typeName, tree)
	}
	switch typeName {
	case "boolean":
		b, ok := tree.(bool)
		if !ok {
			return jvm.Value{}, bad()
		}
		return jvm.BoolValue(b), nil
	case "char":
		s, ok := tree.(string)
		u := units(s)
		if !ok || len(u) != 1 {
			return jvm.Value{}, bad()
		}
		return jvm.IntValue(int32(u[0])), nil
	}
	n, ok := tree.(json.Number)
	if !ok {
		return jvm.Value{}, bad()
	}
	switch typeName {
	case "float", "double":
		f, err := n.Float64()
		if err != nil {
			return jvm.Value{}, bad()
		}
		if typeName == "float" {
			return jvm.FloatValue(float32(f)), nil
		}
		return jvm.DoubleValue(f), nil
	}
	bits := map[string]int{"byte": 8, "short": 16, "int": 32, "long": 64}[typeName]
	i, err := strconv.ParseInt(n.String(), 10, bits)
	if err != nil {
		return jvm.Value{}, bad()
	}
	if typeName == "long" {
		return jvm.LongValue(i), nil
	}
	return jvm.IntValue(int32(i)), nil
}

// naturalFromTree picks the Java type a JSON value maps to when the target
// is Object: Integer, Long or Double for numbers, ArrayList for arrays and
// HashMap for objects.
func naturalFromTree(env *jvm.Env, tree any) (jvm.Value, error) {
	switch t := tree.(type) {
	case nil:
		return jvm.NullValue(), nil
	case string:
		return StringValue(env, t), nil
	case bool:
		return Box(env, "boolean", jvm.BoolValue(t))
	case json.Number:
		if i, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			if i >= math.MinInt32 && i <= math.MaxInt32 {
				return Box(env, "int", jvm.IntValue(int32(i)))
			}
			return Box(env, "long", jvm.LongValue(i))
		}
		f, err := t.Float64()
		if err != nil {
			return jvm.Value{}, env.Exceptionf("java.lang.NumberFormatException", "For input string: %q", t.String())
		}
		return Box(env, "double", jvm.DoubleValue(f))
	case []any:
		elems, err := naturalElems(env, t)
		if err != nil {
			return jvm.Value{}, err
		}
		l, err := NewArrayList(env, elems)
		return jvm.RefValue(l), err
	case map[string]any:
		return mapFromTree(env, t)
	}
	return jvm.Value{}, env.Exceptionf("java.lang.IllegalArgumentException", "unsupported JSON value %T", tree)
}

func naturalElems(env *jvm.Env, arr []any) ([]jvm.Value, error) {
	elems := make([]jvm.Value, len(arr))
	for i, e := range arr {
		v, err := naturalFromTree(env, e)
		if err != nil {
			return nil, err
		}
		elems[i] = v
	}
	return elems, nil
}

func mapFromTree(env *jvm.Env, members map[string]any) (jvm.Value, error) {
	obj, err := NewHashMap(env)
	if err != nil {
		return jvm.Value{}, err
	}
	m := mapOf(obj)
	keys := make([]string, 0, len(members))
	for k := range members {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v, err := naturalFromTree(env, members[k])
		if err != nil {
			return jvm.Value{}, err
		}
		if _, err := m.Put(env, StringValue(env, k), v); err != nil {
			return jvm.Value{}, err
		}
	}
	return jvm.RefValue(obj), nil
}

// beanFromTree instantiates a class through its no-arg constructor and
// assigns JSON members to instance fields of the same name. Unknown members
// are rejected.
func beanFromTree(env *jvm.Env, className string, members map[string]any) (jvm.Value, error) {
	cls, err := env.Runtime().FindClass(className)
	if err != nil {
		return jvm.Value{}, env.Exception("java.lang.ClassNotFoundException", className)
	}
	if cls.DeclaredMethod("<init>", "()V") == nil {
		return jvm.Value{}, env.Exceptionf("java.lang.IllegalArgumentException",
			"cannot deserialize %s: no default constructor", className)
	}
	obj, err := env.New(className, "()V")
	if err != nil {
		return jvm.Value{}, err
	}
	for name, raw := range members {
		f := cls.LookupField(name)
		if f == nil || f.Static {
			return jvm.Value{}, env.Exceptionf("java.lang.IllegalArgumentException",
				"Unrecognized field %q (class %s)", name, className)
		}
		v, err := fromTree(env, f.Type, raw)
		if err != nil {
			return jvm.Value{}, err
		}
		obj.SetField(name, v)
	}
	return jvm.RefValue(obj), nil
}
