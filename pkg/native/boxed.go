package native

import (
	"math"
	"strconv"
	"strings"

	"github.com/daimatz/j4go/pkg/jvm"
)

type boxSpec struct {
	class string
	prim  string
	// parse names the static parseXxx method; empty if the class has none.
	parse string
	bits  int
}

var boxSpecs = []boxSpec{
	{class: "java.lang.Boolean", prim: "boolean", parse: "parseBoolean"},
	{class: "java.lang.Character", prim: "char"},
	{class: "java.lang.Byte", prim: "byte", parse: "parseByte", bits: 8},
	{class: "java.lang.Short", prim: "short", parse: "parseShort", bits: 16},
	{class: "java.lang.Integer", prim: "int", parse: "parseInt", bits: 32},
	{class: "java.lang.Long", prim: "long", parse: "parseLong", bits: 64},
	{class: "java.lang.Float", prim: "float", parse: "parseFloat", bits: 32},
	{class: "java.lang.Double", prim: "double", parse: "parseDouble", bits: 64},
}

func boxedClasses() []*jvm.Class {
	number := jvm.NewClass("java.lang.Number", "").
		Abstract().
		Implements("java.io.Serializable").
		Constructor(nil, func(*jvm.Env, *jvm.Object, []jvm.Value) (jvm.Value, error) { return void() }).
		AbstractMethod("intValue", nil, "int").
		AbstractMethod("longValue", nil, "long").
		AbstractMethod("floatValue", nil, "float").
		AbstractMethod("doubleValue", nil, "double").
		Method("byteValue", nil, "byte", func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			v, err := env.InvokeVirtual(this, "intValue", "()I")
			return jvm.IntValue(int32(int8(v.I32()))), err
		}).
		Method("shortValue", nil, "short", func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			v, err := env.InvokeVirtual(this, "intValue", "()I")
			return jvm.IntValue(int32(int16(v.I32()))), err
		})

	classes := []*jvm.Class{number}
	for _, bs := range boxSpecs {
		classes = append(classes, bs.define())
	}
	return classes
}

func (bs boxSpec) define() *jvm.Class {
	super := tObject
	if bs.prim != "boolean" && bs.prim != "char" {
		super = "java.lang.Number"
	}
	prim := bs.prim
	c := jvm.NewClass(bs.class, super).
		Implements("java.lang.Comparable", "java.io.Serializable").
		Field("value", prim).
		Constructor(params(prim), func(_ *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			this.SetField("value", args[0])
			return void()
		}).
		StaticMethod("valueOf", params(prim), bs.class, func(env *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			return Box(env, prim, args[0])
		}).
		StaticMethod("toString", params(prim), tString, func(env *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			return StringValue(env, formatPrimitive(prim, args[0])), nil
		}).
		Method(prim+"Value", nil, prim, func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return this.Field("value"), nil
		}).
		Method("toString", nil, tString, func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return StringValue(env, formatPrimitive(prim, this.Field("value"))), nil
		}).
		Method("hashCode", nil, "int", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return jvm.IntValue(hashPrimitive(prim, this.Field("value"))), nil
		}).
		Method("equals", params(tObject), "boolean", func(_ *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			other := args[0]
			if other.IsNull() || other.Ref.Class != this.Class {
				return jvm.BoolValue(false), nil
			}
			a, b := this.Field("value"), other.Ref.Field("value")
			return jvm.BoolValue(a.Int == b.Int && math.Float64bits(a.Float) == math.Float64bits(b.Float)), nil
		}).
		Method("compareTo", params(tObject), "int", func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			other := args[0]
			if other.IsNull() {
				return jvm.Value{}, env.Exception("java.lang.NullPointerException", "")
			}
			if other.Ref.Class != this.Class {
				return jvm.Value{}, env.Exceptionf("java.lang.ClassCastException",
					"class %s cannot be cast to class %s", other.Ref.Class.Name, this.Class.Name)
			}
			return jvm.IntValue(comparePrimitive(this.Field("value"), other.Ref.Field("value"))), nil
		})

	if super == "java.lang.Number" {
		numberViews(c)
	}
	if bs.parse != "" {
		c.StaticMethod(bs.parse, params(tString), prim, func(env *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			s, err := stringArg(env, args[0])
			if err != nil {
				return jvm.Value{}, err
			}
			return bs.parseValue(env, s)
		})
		c.StaticMethod("valueOf", params(tString), bs.class, func(env *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			s, err := stringArg(env, args[0])
			if err != nil {
				return jvm.Value{}, err
			}
			v, err := bs.parseValue(env, s)
			if err != nil {
				return jvm.Value{}, err
			}
			return Box(env, prim, v)
		})
	}
	switch prim {
	case "int":
		c.StaticField("MAX_VALUE", prim).StaticField("MIN_VALUE", prim).
			OnInit(func(_ *jvm.Env, c *jvm.Class) error {
				c.SetStatic("MAX_VALUE", jvm.IntValue(math.MaxInt32))
				c.SetStatic("MIN_VALUE", jvm.IntValue(math.MinInt32))
				return nil
			})
	case "long":
		c.StaticField("MAX_VALUE", prim).StaticField("MIN_VALUE", prim).
			OnInit(func(_ *jvm.Env, c *jvm.Class) error {
				c.SetStatic("MAX_VALUE", jvm.LongValue(math.MaxInt64))
				c.SetStatic("MIN_VALUE", jvm.LongValue(math.MinInt64))
				return nil
			})
	}
	return c
}

// numberViews adds the Number conversions. Narrowing from floating point
// saturates like the d2i family of instructions.
func numberViews(c *jvm.Class) {
	c.Method("intValue", nil, "int", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
		v := this.Field("value")
		if v.Type == jvm.TypeFloat || v.Type == jvm.TypeDouble {
			return jvm.IntValue(int32(saturate(v.Float, math.MinInt32, math.MaxInt32))), nil
		}
		return jvm.IntValue(int32(v.Int)), nil
	}).Method("longValue", nil, "long", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
		v := this.Field("value")
		if v.Type == jvm.TypeFloat || v.Type == jvm.TypeDouble {
			return jvm.LongValue(saturate(v.Float, math.MinInt64, math.MaxInt64)), nil
		}
		return jvm.LongValue(v.Int), nil
	}).Method("floatValue", nil, "float", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
		v := this.Field("value")
		if v.Type == jvm.TypeFloat || v.Type == jvm.TypeDouble {
			return jvm.FloatValue(float32(v.Float)), nil
		}
		return jvm.FloatValue(float32(v.Int)), nil
	}).Method("doubleValue", nil, "double", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
		v := this.Field("value")
		if v.Type == jvm.TypeFloat || v.Type == jvm.TypeDouble {
			return jvm.DoubleValue(v.Float), nil
		}
		return jvm.DoubleValue(float64(v.Int)), nil
	})
}

func saturate(f float64, lo, hi int64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f <= float64(lo):
		return lo
	case f >= float64(hi):
		return hi
	}
	return int64(f)
}

func (bs boxSpec) parseValue(env *jvm.Env, s string) (jvm.Value, error) {
	nfe := func() error {
		return env.Exceptionf("java.lang.NumberFormatException", "For input string: %q", s)
	}
	switch bs.prim {
	case "boolean":
		return jvm.BoolValue(strings.EqualFold(s, "true")), nil
	case "float", "double":
		f, err := strconv.ParseFloat(strings.TrimSpace(s), bs.bits)
		if err != nil {
			return jvm.Value{}, nfe()
		}
		if bs.prim == "float" {
			return jvm.FloatValue(float32(f)), nil
		}
		return jvm.DoubleValue(f), nil
	}
	n, err := strconv.ParseInt(s, 10, bs.bits)
	if err != nil {
		return jvm.Value{}, nfe()
	}
	if bs.prim == "long" {
		return jvm.LongValue(n), nil
	}
	return jvm.IntValue(int32(n)), nil
}

// formatPrimitive renders a primitive the way String.valueOf does.
func formatPrimitive(prim string, v jvm.Value) string {
	switch prim {
	case "boolean":
		return strconv.FormatBool(v.Bool())
	case "char":
		return fromUnits([]uint16{uint16(v.Int)})
	case "float":
		return formatFloating(v.Float, 32)
	case "double":
		return formatFloating(v.Float, 64)
	}
	return strconv.FormatInt(v.Int, 10)
}

// formatFloating follows Double.toString: plain notation in [1e-3, 1e7),
// computerized scientific notation otherwise, always with a fraction digit.
func formatFloating(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}
	if abs := math.Abs(f); abs >= 1e-3 && abs < 1e7 {
		s := strconv.FormatFloat(f, 'f', -1, bits)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	s := strconv.FormatFloat(f, 'E', -1, bits)
	mant, exp, _ := strings.Cut(s, "E")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	e, _ := strconv.Atoi(exp)
	return mant + "E" + strconv.Itoa(e)
}

func hashPrimitive(prim string, v jvm.Value) int32 {
	switch prim {
	case "boolean":
		if v.Bool() {
			return 1231
		}
		return 1237
	case "long":
		return int32(v.Int ^ int64(uint64(v.Int)>>32))
	case "float":
		return int32(math.Float32bits(float32(v.Float)))
	case "double":
		bits := math.Float64bits(v.Float)
		return int32(bits ^ bits>>32)
	}
	return int32(v.Int)
}

func comparePrimitive(a, b jvm.Value) int32 {
	switch {
	case a.Type == jvm.TypeFloat || a.Type == jvm.TypeDouble:
		switch {
		case a.Float < b.Float:
			return -1
		case a.Float > b.Float:
			return 1
		}
		return 0
	case a.Int < b.Int:
		return -1
	case a.Int > b.Int:
		return 1
	}
	return 0
}
