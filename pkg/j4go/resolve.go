package j4go

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/daimatz/j4go/pkg/classfile"
	"github.com/daimatz/j4go/pkg/jvm"
	"github.com/daimatz/j4go/pkg/native"
)

// Conversion costs of one argument; the overload with the lowest total wins.
const (
	costExact     = 0
	costBoxing    = 1
	costWidening  = 2
	costReference = 3 // plus the inheritance distance
)

// widensTo lists the widening primitive conversions.
var widensTo = map[string][]string{
	"byte":  {"short", "int", "long", "float", "double"},
	"short": {"int", "long", "float", "double"},
	"char":  {"int", "long", "float", "double"},
	"int":   {"long", "float", "double"},
	"long":  {"float", "double"},
	"float": {"double"},
}

func widens(from, to string) bool {
	return slices.Contains(widensTo[from], to)
}

// refCost scores a reference widening, -1 if from is not assignable to to.
func (b *bridge) refCost(from, to string) int {
	fc, err := b.rt.FindClass(from)
	if err != nil {
		return -1
	}
	tc, err := b.rt.FindClass(to)
	if err != nil {
		return -1
	}
	d := fc.Distance(tc)
	if d < 0 {
		return -1
	}
	return costReference + d
}

// argCost scores passing a to a parameter of type param, -1 if it cannot.
func (b *bridge) argCost(param string, a InvocationArg) int {
	arg := a.className
	if param == arg {
		return costExact
	}
	pp, ap := classfile.IsPrimitiveName(param), classfile.IsPrimitiveName(arg)
	if a.kind == argNull {
		if pp {
			return -1
		}
		return b.refCost(arg, param)
	}
	switch {
	case pp && ap:
		if widens(arg, param) {
			return costWidening
		}
		return -1
	case pp:
		prim, _, ok := a.primitiveOf()
		if !ok {
			return -1
		}
		if prim == param {
			return costBoxing
		}
		if widens(prim, param) {
			return costBoxing + costWidening
		}
		return -1
	case ap:
		w := boxedNames[arg]
		if w == param {
			return costBoxing
		}
		if c := b.refCost(w, param); c >= 0 {
			return costBoxing + c
		}
		return -1
	}
	return b.refCost(arg, param)
}

func describeArgs(args []InvocationArg) string {
	names := make([]string, len(args))
	for i, a := range args {
		names[i] = a.className
	}
	return strings.Join(names, ", ")
}

// resolve picks the overload of name on cls that fits args best.
// Constructors are looked up with name "<init>".
func (b *bridge) resolve(op string, cls *jvm.Class, name string, static bool, args []InvocationArg) (*jvm.Method, error) {
	var (
		best      *jvm.Method
		bestCost  int
		ambiguous []*jvm.Method
	)
	for _, m := range cls.MethodsNamed(name) {
		if len(m.Params) != len(args) || (name != "<init>" && m.IsStatic() != static) {
			continue
		}
		total := 0
		for i, p := range m.Params {
			c := b.argCost(p, args[i])
			if c < 0 {
				total = -1
				break
			}
			total += c
		}
		switch {
		case total < 0:
		case best == nil || total < bestCost:
			best, bestCost, ambiguous = m, total, nil
		case total == bestCost:
			ambiguous = append(ambiguous, m)
		}
	}
	kind := "method"
	if static {
		kind = "static method"
	}
	if name == "<init>" {
		kind = "constructor"
	}
	if best == nil {
		return nil, newError(KindResolution, op,
			fmt.Sprintf("no %s %s.%s matches (%s)", kind, cls.Name, name, describeArgs(args)))
	}
	if len(ambiguous) > 0 {
		sigs := []string{best.Descriptor()}
		for _, m := range ambiguous {
			sigs = append(sigs, m.Descriptor())
		}
		return nil, newError(KindResolution, op,
			fmt.Sprintf("ambiguous %s %s.%s(%s): %s", kind, cls.Name, name, describeArgs(args), strings.Join(sigs, " ")))
	}
	return best, nil
}

// findClass loads a class, reporting unknown classes as resolution errors.
func (b *bridge) findClass(env *jvm.Env, op, name string) (*jvm.Class, error) {
	cls, err := env.FindClass(name)
	if err != nil {
		if errors.Is(err, jvm.ErrClassNotFound) {
			return nil, wrapError(KindResolution, op, err)
		}
		return nil, runtimeError(op, err)
	}
	return cls, nil
}

// encodeArgs builds the call arguments for the resolved method.
func (b *bridge) encodeArgs(env *jvm.Env, op string, m *jvm.Method, args []InvocationArg) ([]jvm.JValue, error) {
	out := make([]jvm.JValue, len(args))
	for i, a := range args {
		v, err := b.encode(env, op, m.Params[i], a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// encode converts one argument for a parameter of type param. Local
// references it creates belong to the caller's frame.
func (b *bridge) encode(env *jvm.Env, op, param string, a InvocationArg) (jvm.JValue, error) {
	switch a.kind {
	case argNull:
		return jvm.JObject(0), nil
	case argString:
		r, err := env.NewString(a.str)
		if err != nil {
			return jvm.JValue{}, runtimeError(op, err)
		}
		return jvm.JObject(r), nil
	case argJSON:
		return b.fromJSON(env, op, a)
	case argArray:
		return b.encodeArray(env, op, a)
	}

	if classfile.IsPrimitiveName(param) {
		_, v, ok := a.primitiveOf()
		if !ok {
			return jvm.JValue{}, newError(KindConversion, op, fmt.Sprintf("%s has no %s value", a.className, param))
		}
		return primitiveJValue(op, param, v)
	}
	if a.kind == argScalar {
		prim, v, _ := a.primitiveOf()
		return b.box(env, op, prim, v)
	}
	return jvm.JObject(a.inst.ref), nil
}

func (b *bridge) encodeArray(env *jvm.Env, op string, a InvocationArg) (jvm.JValue, error) {
	comp, err := componentName(a.className)
	if err != nil {
		return jvm.JValue{}, wrapError(KindConversion, op, err)
	}
	cls, err := b.findClass(env, op, a.className)
	if err != nil {
		return jvm.JValue{}, err
	}
	elems := make([]jvm.JValue, len(a.elems))
	for i, e := range a.elems {
		if elems[i], err = b.encode(env, op, comp, e); err != nil {
			return jvm.JValue{}, err
		}
	}
	r, err := env.NewArray(cls, elems)
	if err := b.check(env, op, err); err != nil {
		return jvm.JValue{}, err
	}
	return jvm.JObject(r), nil
}

// box creates the wrapper object of a primitive value.
func (b *bridge) box(env *jvm.Env, op, prim string, v any) (jvm.JValue, error) {
	cls, err := b.findClass(env, op, boxedNames[prim])
	if err != nil {
		return jvm.JValue{}, err
	}
	ctor := cls.DeclaredMethod("<init>", classfile.MethodDescriptor([]string{prim}, "void"))
	if ctor == nil {
		return jvm.JValue{}, newError(KindResolution, op, "no constructor "+cls.Name+"("+prim+")")
	}
	jv, err := primitiveJValue(op, prim, v)
	if err != nil {
		return jvm.JValue{}, err
	}
	r, err := env.NewObject(cls, ctor, jv)
	if err := b.check(env, op, err); err != nil {
		return jvm.JValue{}, err
	}
	return jvm.JObject(r), nil
}

// fromJSON asks the managed JSON hook to build the argument object.
func (b *bridge) fromJSON(env *jvm.Env, op string, a InvocationArg) (jvm.JValue, error) {
	cls, err := b.findClass(env, op, native.JSONClass)
	if err != nil {
		return jvm.JValue{}, err
	}
	m := cls.LookupMethod("fromJson", "(Ljava/lang/String;Ljava/lang/String;)Ljava/lang/Object;")
	if m == nil {
		return jvm.JValue{}, newError(KindResolution, op, "JSON hook fromJson is missing")
	}
	payload, err := env.NewString(a.json)
	if err != nil {
		return jvm.JValue{}, runtimeError(op, err)
	}
	name, err := env.NewString(a.className)
	if err != nil {
		return jvm.JValue{}, runtimeError(op, err)
	}
	jv, err := env.CallStaticMethod(cls, m, jvm.JObject(payload), jvm.JObject(name))
	if err := b.check(env, op, err); err != nil {
		return jvm.JValue{}, err
	}
	return jv, nil
}

func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint16:
		return int64(x), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	i, ok := asInt(v)
	return float64(i), ok
}

// primitiveJValue converts a Go scalar to a value of the primitive type.
func primitiveJValue(op, prim string, v any) (jvm.JValue, error) {
	bad := func() (jvm.JValue, error) {
		return jvm.JValue{}, newError(KindConversion, op, fmt.Sprintf("cannot send %T as %s", v, prim))
	}
	switch prim {
	case "boolean":
		bv, ok := v.(bool)
		if !ok {
			return bad()
		}
		return jvm.JBoolean(bv), nil
	case "float", "double":
		f, ok := asFloat(v)
		if !ok {
			return bad()
		}
		if prim == "float" {
			return jvm.JFloat(float32(f)), nil
		}
		return jvm.JDouble(f), nil
	case "long":
		i, ok := asInt(v)
		if !ok {
			return bad()
		}
		return jvm.JLong(i), nil
	case "byte", "short", "char", "int":
		i, ok := asInt(v)
		if !ok {
			return bad()
		}
		return jvm.JInt(int32(i)), nil
	}
	return bad()
}
