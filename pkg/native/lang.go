package native

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/daimatz/j4go/pkg/jvm"
)

const (
	tObject   = "java.lang.Object"
	tString   = "java.lang.String"
	tClass    = "java.lang.Class"
	tCharSeq  = "java.lang.CharSequence"
	tBuilder  = "java.lang.StringBuilder"
	tThrow    = "java.lang.Throwable"
	tIterator = "java.util.Iterator"
)

func langClasses() []*jvm.Class {
	return []*jvm.Class{
		objectClass(),
		classClass(),
		jvm.NewInterface("java.lang.Cloneable"),
		jvm.NewInterface("java.io.Serializable"),
		jvm.NewInterface("java.lang.Comparable").
			AbstractMethod("compareTo", params(tObject), "int"),
		jvm.NewInterface(tCharSeq).
			AbstractMethod("length", nil, "int").
			AbstractMethod("charAt", params("int"), "char").
			AbstractMethod("toString", nil, tString),
		stringClass(),
		stringBuilderClass(),
		mathClass(),
	}
}

func objectClass() *jvm.Class {
	return jvm.NewClass(tObject, "").
		Constructor(nil, func(*jvm.Env, *jvm.Object, []jvm.Value) (jvm.Value, error) {
			return void()
		}).
		Method("hashCode", nil, "int", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return jvm.IntValue(identityHash(this)), nil
		}).
		Method("equals", params(tObject), "boolean", func(_ *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			return jvm.BoolValue(args[0].Ref == this), nil
		}).
		Method("toString", nil, tString, func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			h, err := env.InvokeVirtual(this, "hashCode", "()I")
			if err != nil {
				return jvm.Value{}, err
			}
			return StringValue(env, fmt.Sprintf("%s@%x", this.Class.Name, uint32(h.I32()))), nil
		}).
		Method("getClass", nil, tClass, func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			mirror, err := env.Runtime().ClassObject(this.Class)
			if err != nil {
				return jvm.Value{}, err
			}
			return jvm.RefValue(mirror), nil
		}).
		Method("clone", nil, tObject, cloneObject)
}

func cloneObject(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
	if elems, ok := this.Elements(); ok {
		cp, err := env.NewArrayOf(this.Class.Component.Name, elems)
		if err != nil {
			return jvm.Value{}, err
		}
		return jvm.RefValue(cp), nil
	}
	cloneable, err := env.Runtime().FindClass("java.lang.Cloneable")
	if err != nil {
		return jvm.Value{}, err
	}
	if !this.Class.IsSubclassOf(cloneable) {
		return jvm.Value{}, env.Exception("java.lang.CloneNotSupportedException", this.Class.Name)
	}
	cp, err := env.Allocate(this.Class)
	if err != nil {
		return jvm.Value{}, err
	}
	for _, f := range this.Class.InstanceFields() {
		cp.SetField(f.Name, this.Field(f.Name))
	}
	cp.Native = this.Native
	return jvm.RefValue(cp), nil
}

func mirrorOf(this *jvm.Object) *jvm.Class {
	c, _ := this.Native.(*jvm.Class)
	return c
}

func classClass() *jvm.Class {
	return jvm.NewClass(tClass, "").
		Method("getName", nil, tString, func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return StringValue(env, mirrorOf(this).Name), nil
		}).
		Method("getSimpleName", nil, tString, func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			name := mirrorOf(this).Name
			if i := strings.LastIndexAny(name, ".$"); i >= 0 {
				name = name[i+1:]
			}
			return StringValue(env, name), nil
		}).
		Method("isInstance", params(tObject), "boolean", func(_ *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			return jvm.BoolValue(!args[0].IsNull() && args[0].Ref.Class.IsSubclassOf(mirrorOf(this))), nil
		}).
		Method("isInterface", nil, "boolean", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return jvm.BoolValue(mirrorOf(this).IsInterface()), nil
		}).
		Method("isArray", nil, "boolean", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return jvm.BoolValue(mirrorOf(this).IsArray()), nil
		}).
		Method("toString", nil, tString, func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			c := mirrorOf(this)
			switch {
			case c.IsPrimitive():
				return StringValue(env, c.Name), nil
			case c.IsInterface():
				return StringValue(env, "interface "+c.Name), nil
			}
			return StringValue(env, "class "+c.Name), nil
		}).
		StaticMethod("forName", params(tString), tClass, func(env *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			name, err := stringArg(env, args[0])
			if err != nil {
				return jvm.Value{}, err
			}
			c, err := env.Runtime().FindClass(name)
			if err != nil {
				return jvm.Value{}, env.Exception("java.lang.ClassNotFoundException", name)
			}
			mirror, err := env.Runtime().ClassObject(c)
			if err != nil {
				return jvm.Value{}, err
			}
			return jvm.RefValue(mirror), nil
		})
}

type stringFunc func(env *jvm.Env, s string, args []jvm.Value) (jvm.Value, error)

// onString adapts a method body that works on the receiver's Go string.
func onString(fn stringFunc) jvm.GoMethod {
	return func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
		s, _ := this.GoString()
		return fn(env, s, args)
	}
}

func stringClass() *jvm.Class {
	c := jvm.NewClass(tString, "").
		Implements(tCharSeq, "java.lang.Comparable", "java.io.Serializable").
		Constructor(nil, func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			this.Native = ""
			return void()
		}).
		Constructor(params(tString), func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			s, err := stringArg(env, args[0])
			if err != nil {
				return jvm.Value{}, err
			}
			this.Native = s
			return void()
		}).
		Method("length", nil, "int", onString(func(_ *jvm.Env, s string, _ []jvm.Value) (jvm.Value, error) {
			return jvm.IntValue(int32(len(units(s)))), nil
		})).
		Method("isEmpty", nil, "boolean", onString(func(_ *jvm.Env, s string, _ []jvm.Value) (jvm.Value, error) {
			return jvm.BoolValue(s == ""), nil
		})).
		Method("charAt", params("int"), "char", onString(func(env *jvm.Env, s string, args []jvm.Value) (jvm.Value, error) {
			u := units(s)
			i := int(args[0].I32())
			if i < 0 || i >= len(u) {
				return jvm.Value{}, env.Exceptionf("java.lang.StringIndexOutOfBoundsException", "index %d, length %d", i, len(u))
			}
			return jvm.IntValue(int32(u[i])), nil
		})).
		Method("equals", params(tObject), "boolean", onString(func(_ *jvm.Env, s string, args []jvm.Value) (jvm.Value, error) {
			other, ok := GoString(args[0])
			return jvm.BoolValue(ok && other == s), nil
		})).
		Method("equalsIgnoreCase", params(tString), "boolean", onString(func(_ *jvm.Env, s string, args []jvm.Value) (jvm.Value, error) {
			other, ok := GoString(args[0])
			return jvm.BoolValue(ok && strings.EqualFold(s, other)), nil
		})).
		Method("hashCode", nil, "int", onString(func(_ *jvm.Env, s string, _ []jvm.Value) (jvm.Value, error) {
			return jvm.IntValue(javaHash(s)), nil
		})).
		Method("compareTo", params(tString), "int", onString(compareStrings)).
		Method("compareTo", params(tObject), "int", onString(compareStrings)).
		Method("concat", params(tString), tString, onString(func(env *jvm.Env, s string, args []jvm.Value) (jvm.Value, error) {
			other, err := stringArg(env, args[0])
			if err != nil {
				return jvm.Value{}, err
			}
			return StringValue(env, s+other), nil
		})).
		Method("contains", params(tCharSeq), "boolean", onString(func(env *jvm.Env, s string, args []jvm.Value) (jvm.Value, error) {
			sub, err := charSequence(env, args[0])
			if err != nil {
				return jvm.Value{}, err
			}
			return jvm.BoolValue(strings.Contains(s, sub)), nil
		})).
		Method("startsWith", params(tString), "boolean", onString(func(env *jvm.Env, s string, args []jvm.Value) (jvm.Value, error) {
			p, err := stringArg(env, args[0])
			if err != nil {
				return jvm.Value{}, err
			}
			return jvm.BoolValue(strings.HasPrefix(s, p)), nil
		})).
		Method("endsWith", params(tString), "boolean", onString(func(env *jvm.Env, s string, args []jvm.Value) (jvm.Value, error) {
			p, err := stringArg(env, args[0])
			if err != nil {
				return jvm.Value{}, err
			}
			return jvm.BoolValue(strings.HasSuffix(s, p)), nil
		})).
		Method("indexOf", params(tString), "int", onString(func(env *jvm.Env, s string, args []jvm.Value) (jvm.Value, error) {
			sub, err := stringArg(env, args[0])
			if err != nil {
				return jvm.Value{}, err
			}
			i := strings.Index(s, sub)
			if i < 0 {
				return jvm.IntValue(-1), nil
			}
			return jvm.IntValue(int32(len(units(s[:i])))), nil
		})).
		Method("indexOf", params("int"), "int", onString(func(_ *jvm.Env, s string, args []jvm.Value) (jvm.Value, error) {
			for i, u := range units(s) {
				if int32(u) == args[0].I32() {
					return jvm.IntValue(int32(i)), nil
				}
			}
			return jvm.IntValue(-1), nil
		})).
		Method("substring", params("int"), tString, onString(func(env *jvm.Env, s string, args []jvm.Value) (jvm.Value, error) {
			return substring(env, s, int(args[0].I32()), len(units(s)))
		})).
		Method("substring", params("int", "int"), tString, onString(func(env *jvm.Env, s string, args []jvm.Value) (jvm.Value, error) {
			return substring(env, s, int(args[0].I32()), int(args[1].I32()))
		})).
		Method("toUpperCase", nil, tString, onString(func(env *jvm.Env, s string, _ []jvm.Value) (jvm.Value, error) {
			return StringValue(env, strings.ToUpper(s)), nil
		})).
		Method("toLowerCase", nil, tString, onString(func(env *jvm.Env, s string, _ []jvm.Value) (jvm.Value, error) {
			return StringValue(env, strings.ToLower(s)), nil
		})).
		Method("trim", nil, tString, onString(func(env *jvm.Env, s string, _ []jvm.Value) (jvm.Value, error) {
			return StringValue(env, strings.TrimFunc(s, func(r rune) bool { return r <= ' ' })), nil
		})).
		Method("replace", params(tCharSeq, tCharSeq), tString, onString(func(env *jvm.Env, s string, args []jvm.Value) (jvm.Value, error) {
			from, err := charSequence(env, args[0])
			if err != nil {
				return jvm.Value{}, err
			}
			to, err := charSequence(env, args[1])
			if err != nil {
				return jvm.Value{}, err
			}
			return StringValue(env, strings.ReplaceAll(s, from, to)), nil
		})).
		Method("split", params(tString), "[Ljava.lang.String;", onString(splitString)).
		Method("intern", nil, tString, onString(func(env *jvm.Env, s string, _ []jvm.Value) (jvm.Value, error) {
			return jvm.RefValue(env.Runtime().Intern(s)), nil
		})).
		Method("toString", nil, tString, func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return jvm.RefValue(this), nil
		}).
		StaticMethod("valueOf", params(tObject), tString, func(env *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			s, err := env.ToString(args[0].Ref)
			if err != nil {
				return jvm.Value{}, err
			}
			return StringValue(env, s), nil
		})
	for _, prim := range []string{"int", "long", "boolean", "char", "double", "float"} {
		c.StaticMethod("valueOf", params(prim), tString, func(env *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			return StringValue(env, formatPrimitive(prim, args[0])), nil
		})
	}
	return c
}

func compareStrings(env *jvm.Env, s string, args []jvm.Value) (jvm.Value, error) {
	other, err := stringArg(env, args[0])
	if err != nil {
		return jvm.Value{}, err
	}
	a, b := units(s), units(other)
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return jvm.IntValue(int32(a[i]) - int32(b[i])), nil
		}
	}
	return jvm.IntValue(int32(len(a) - len(b))), nil
}

func substring(env *jvm.Env, s string, begin, end int) (jvm.Value, error) {
	u := units(s)
	if begin < 0 || end > len(u) || begin > end {
		return jvm.Value{}, env.Exceptionf("java.lang.StringIndexOutOfBoundsException",
			"begin %d, end %d, length %d", begin, end, len(u))
	}
	return StringValue(env, fromUnits(u[begin:end])), nil
}

func splitString(env *jvm.Env, s string, args []jvm.Value) (jvm.Value, error) {
	expr, err := stringArg(env, args[0])
	if err != nil {
		return jvm.Value{}, err
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return jvm.Value{}, env.Exception("java.util.regex.PatternSyntaxException", err.Error())
	}
	parts := re.Split(s, -1)
	// trailing empty strings are removed, as String.split(regex) does
	for len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 1 && parts[0] == "" && s != "" {
		parts = nil
	}
	elems := make([]jvm.Value, len(parts))
	for i, p := range parts {
		elems[i] = StringValue(env, p)
	}
	arr, err := env.NewArrayOf(tString, elems)
	if err != nil {
		return jvm.Value{}, err
	}
	return jvm.RefValue(arr), nil
}

// builderOf returns the buffer of a StringBuilder, allocating it for
// objects created by bytecode subclasses that skipped our constructor.
func builderOf(this *jvm.Object) *strings.Builder {
	if b, ok := this.Native.(*strings.Builder); ok {
		return b
	}
	b := &strings.Builder{}
	this.Native = b
	return b
}

func stringBuilderClass() *jvm.Class {
	appendWith := func(format func(env *jvm.Env, v jvm.Value) (string, error)) jvm.GoMethod {
		return func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			s, err := format(env, args[0])
			if err != nil {
				return jvm.Value{}, err
			}
			builderOf(this).WriteString(s)
			return jvm.RefValue(this), nil
		}
	}
	c := jvm.NewClass(tBuilder, "").
		Implements(tCharSeq).
		Constructor(nil, func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			this.Native = &strings.Builder{}
			return void()
		}).
		Constructor(params("int"), func(_ *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			b := &strings.Builder{}
			b.Grow(int(max(args[0].I32(), 0)))
			this.Native = b
			return void()
		}).
		Constructor(params(tString), func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			s, err := stringArg(env, args[0])
			if err != nil {
				return jvm.Value{}, err
			}
			b := &strings.Builder{}
			b.WriteString(s)
			this.Native = b
			return void()
		}).
		Method("append", params(tString), tBuilder, appendWith(func(_ *jvm.Env, v jvm.Value) (string, error) {
			if s, ok := GoString(v); ok {
				return s, nil
			}
			return "null", nil
		})).
		Method("append", params(tObject), tBuilder, appendWith(func(env *jvm.Env, v jvm.Value) (string, error) {
			return env.ToString(v.Ref)
		})).
		Method("append", params(tCharSeq), tBuilder, appendWith(func(env *jvm.Env, v jvm.Value) (string, error) {
			return env.ToString(v.Ref)
		})).
		Method("length", nil, "int", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return jvm.IntValue(int32(len(units(builderOf(this).String())))), nil
		}).
		Method("charAt", params("int"), "char", func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			u := units(builderOf(this).String())
			i := int(args[0].I32())
			if i < 0 || i >= len(u) {
				return jvm.Value{}, env.Exceptionf("java.lang.StringIndexOutOfBoundsException", "index %d, length %d", i, len(u))
			}
			return jvm.IntValue(int32(u[i])), nil
		}).
		Method("toString", nil, tString, func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return StringValue(env, builderOf(this).String()), nil
		})
	for _, prim := range []string{"int", "long", "boolean", "char", "double", "float"} {
		c.Method("append", params(prim), tBuilder, appendWith(func(_ *jvm.Env, v jvm.Value) (string, error) {
			return formatPrimitive(prim, v), nil
		}))
	}
	return c
}

func mathClass() *jvm.Class {
	return jvm.NewClass("java.lang.Math", "").
		StaticMethod("max", params("int", "int"), "int", func(_ *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			return jvm.IntValue(max(args[0].I32(), args[1].I32())), nil
		}).
		StaticMethod("min", params("int", "int"), "int", func(_ *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			return jvm.IntValue(min(args[0].I32(), args[1].I32())), nil
		}).
		StaticMethod("max", params("long", "long"), "long", func(_ *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			return jvm.LongValue(max(args[0].Int, args[1].Int)), nil
		}).
		StaticMethod("min", params("long", "long"), "long", func(_ *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			return jvm.LongValue(min(args[0].Int, args[1].Int)), nil
		}).
		StaticMethod("abs", params("int"), "int", func(_ *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			v := args[0].I32()
			if v < 0 {
				v = -v
			}
			return jvm.IntValue(v), nil
		}).
		StaticMethod("abs", params("double"), "double", func(_ *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			return jvm.DoubleValue(math.Abs(args[0].Float)), nil
		}).
		StaticMethod("sqrt", params("double"), "double", func(_ *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			return jvm.DoubleValue(math.Sqrt(args[0].Float)), nil
		}).
		StaticMethod("pow", params("double", "double"), "double", func(_ *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			return jvm.DoubleValue(math.Pow(args[0].Float, args[1].Float)), nil
		})
}
