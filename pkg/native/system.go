package native

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/daimatz/j4go/pkg/jvm"
)

const tPrintStream = "java.io.PrintStream"

// PrintStream backs a java.io.PrintStream object.
type PrintStream struct {
	mu     sync.Mutex
	Writer io.Writer
}

// Print writes s without a newline.
func (ps *PrintStream) Print(s string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	_, err := io.WriteString(ps.Writer, s)
	return err
}

// Println writes s followed by a newline.
func (ps *PrintStream) Println(s string) error {
	return ps.Print(s + "\n")
}

var startTime = time.Now()

func systemClasses() []*jvm.Class {
	return []*jvm.Class{printStreamClass(), systemClass()}
}

func printStreamOf(env *jvm.Env, this *jvm.Object) (*PrintStream, error) {
	ps, ok := this.Native.(*PrintStream)
	if !ok {
		return nil, env.Exception("java.lang.IllegalStateException", "print stream is not connected")
	}
	return ps, nil
}

func printStreamClass() *jvm.Class {
	printer := func(newline bool, format func(env *jvm.Env, v jvm.Value) (string, error)) jvm.GoMethod {
		return func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			ps, err := printStreamOf(env, this)
			if err != nil {
				return jvm.Value{}, err
			}
			s := ""
			if len(args) > 0 {
				if s, err = format(env, args[0]); err != nil {
					return jvm.Value{}, err
				}
			}
			if newline {
				err = ps.Println(s)
			} else {
				err = ps.Print(s)
			}
			if err != nil {
				return jvm.Value{}, env.Exception("java.io.IOException", err.Error())
			}
			return void()
		}
	}
	object := func(env *jvm.Env, v jvm.Value) (string, error) { return env.ToString(v.Ref) }

	c := jvm.NewClass(tPrintStream, "").
		Method("println", nil, "void", printer(true, nil)).
		Method("println", params(tString), "void", printer(true, object)).
		Method("println", params(tObject), "void", printer(true, object)).
		Method("print", params(tString), "void", printer(false, object)).
		Method("print", params(tObject), "void", printer(false, object)).
		Method("flush", nil, "void", func(*jvm.Env, *jvm.Object, []jvm.Value) (jvm.Value, error) {
			return void()
		})
	for _, prim := range []string{"int", "long", "boolean", "char", "double", "float"} {
		format := func(_ *jvm.Env, v jvm.Value) (string, error) { return formatPrimitive(prim, v), nil }
		c.Method("println", params(prim), "void", printer(true, format))
		c.Method("print", params(prim), "void", printer(false, format))
	}
	return c
}

func systemClass() *jvm.Class {
	return jvm.NewClass("java.lang.System", "").
		StaticField("out", tPrintStream).
		StaticField("err", tPrintStream).
		OnInit(func(env *jvm.Env, c *jvm.Class) error {
			for name, w := range map[string]io.Writer{"out": env.Runtime().Stdout(), "err": env.Runtime().Stderr()} {
				cls, err := env.Runtime().FindClass(tPrintStream)
				if err != nil {
					return err
				}
				ps, err := env.Allocate(cls)
				if err != nil {
					return err
				}
				ps.Native = &PrintStream{Writer: w}
				c.SetStatic(name, jvm.RefValue(ps))
			}
			return nil
		}).
		StaticMethod("currentTimeMillis", nil, "long", func(*jvm.Env, *jvm.Object, []jvm.Value) (jvm.Value, error) {
			return jvm.LongValue(time.Now().UnixMilli()), nil
		}).
		StaticMethod("nanoTime", nil, "long", func(*jvm.Env, *jvm.Object, []jvm.Value) (jvm.Value, error) {
			return jvm.LongValue(int64(time.Since(startTime))), nil
		}).
		StaticMethod("lineSeparator", nil, tString, func(env *jvm.Env, _ *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			sep, _ := env.Runtime().Property("line.separator")
			return StringValue(env, sep), nil
		}).
		StaticMethod("getProperty", params(tString), tString, func(env *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			return property(env, args[0], jvm.NullValue())
		}).
		StaticMethod("getProperty", params(tString, tString), tString, func(env *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			return property(env, args[0], args[1])
		}).
		StaticMethod("identityHashCode", params(tObject), "int", func(_ *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			if args[0].IsNull() {
				return jvm.IntValue(0), nil
			}
			return jvm.IntValue(identityHash(args[0].Ref)), nil
		}).
		StaticMethod("arraycopy", params(tObject, "int", tObject, "int", "int"), "void", arraycopy)
}

func property(env *jvm.Env, key, def jvm.Value) (jvm.Value, error) {
	k, err := stringArg(env, key)
	if err != nil {
		return jvm.Value{}, err
	}
	if v, ok := env.Runtime().Property(k); ok {
		return StringValue(env, v), nil
	}
	return def, nil
}

func arraycopy(env *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
	if args[0].IsNull() || args[2].IsNull() {
		return jvm.Value{}, env.Exception("java.lang.NullPointerException", "")
	}
	src, dst := args[0].Ref, args[2].Ref
	from, ok1 := src.Elements()
	to, ok2 := dst.Elements()
	if !ok1 || !ok2 {
		return jvm.Value{}, env.Exception("java.lang.ArrayStoreException", "arraycopy: argument type mismatch")
	}
	srcComp, dstComp := src.Class.Component, dst.Class.Component
	if (srcComp.IsPrimitive() || dstComp.IsPrimitive()) && srcComp != dstComp {
		return jvm.Value{}, env.Exceptionf("java.lang.ArrayStoreException",
			"arraycopy: type mismatch: can not copy %s[] into %s[]", srcComp.Name, dstComp.Name)
	}
	srcPos, dstPos, n := int(args[1].I32()), int(args[3].I32()), int(args[4].I32())
	if srcPos < 0 || dstPos < 0 || n < 0 || srcPos+n > len(from) || dstPos+n > len(to) {
		return jvm.Value{}, env.Exception("java.lang.ArrayIndexOutOfBoundsException",
			fmt.Sprintf("arraycopy: last source index %d out of bounds for length %d", srcPos+n, len(from)))
	}
	if !dstComp.IsPrimitive() {
		for _, v := range from[srcPos : srcPos+n] {
			if !v.IsNull() && !v.Ref.Class.IsSubclassOf(dstComp) {
				return jvm.Value{}, env.Exceptionf("java.lang.ArrayStoreException",
					"arraycopy: element type mismatch: %s", v.Ref.Class.Name)
			}
		}
	}
	copy(to[dstPos:dstPos+n], from[srcPos:srcPos+n])
	return void()
}
