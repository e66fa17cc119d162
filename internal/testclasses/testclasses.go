// Package testclasses defines the managed classes the bridge tests and the
// CLI smoke runs call into. They are plain Go-implemented classes loaded
// through the bootstrap loader, standing in for a compiled test jar.
package testclasses

import (
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/daimatz/j4go/pkg/jvm"
	"github.com/daimatz/j4go/pkg/native"
)

const pkg = "io.github.daimatz.j4go.tests."

// Class names.
const (
	MyTest          = pkg + "MyTest"
	MySecondTest    = pkg + "MySecondTest"
	Echo            = pkg + "Echo"
	Dummy           = pkg + "Dummy"
	ChildDummy      = pkg + "ChildDummy"
	DummyWithStatic = pkg + "DummyWithStatic"
	FailingDummy    = pkg + "FailingDummy"
	Person          = pkg + "Person"
)

// TheString is what the callback tests deliver.
const TheString = "THE STRING"

const (
	tObject = "java.lang.Object"
	tString = "java.lang.String"
)

// Classes returns fresh definitions of every test class.
func Classes() []*jvm.Class {
	return []*jvm.Class{
		myTest(),
		mySecondTest(),
		echo(),
		dummy(),
		childDummy(),
		dummyWithStatic(),
		failingDummy(),
		person(),
	}
}

func void() (jvm.Value, error) { return jvm.VoidValue(), nil }

func str(env *jvm.Env, s string) jvm.Value { return native.StringValue(env, s) }

func noop(*jvm.Env, *jvm.Object, []jvm.Value) (jvm.Value, error) { return void() }

// deliver hands v to the object's callback entry point on the current thread.
func deliver(env *jvm.Env, this *jvm.Object, v jvm.Value) error {
	_, err := env.InvokeVirtual(this, "doCallback", "(Ljava/lang/Object;)V", v)
	return err
}

func myTest() *jvm.Class {
	return jvm.NewClass(MyTest, native.CallbackSupportClass).
		Field("origin", MyTest).
		Constructor(nil, noop).
		Constructor([]string{MyTest}, func(_ *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			this.SetField("origin", args[0])
			return void()
		}).
		Method("getMyString", nil, tString, func(env *jvm.Env, _ *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return str(env, TheString), nil
		}).
		Method("list", []string{"[Ljava.lang.String;"}, tString, func(env *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			if args[0].IsNull() {
				return jvm.Value{}, env.Exception("java.lang.NullPointerException", "list")
			}
			elems, _ := args[0].Ref.Elements()
			parts := make([]string, len(elems))
			for i, e := range elems {
				s, err := env.ToString(e.Ref)
				if err != nil {
					return jvm.Value{}, err
				}
				parts[i] = s
			}
			return str(env, strings.Join(parts, ",")), nil
		}).
		Method("performCallback", nil, "void", func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return void1(env.Runtime().Go("my-test-callback", func(env *jvm.Env) error {
				return deliver(env, this, str(env, TheString))
			}))
		}).
		Method("performCallbackSync", []string{tString}, "void", func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			return void1(deliver(env, this, args[0]))
		})
}

func void1(err error) (jvm.Value, error) {
	if err != nil {
		return jvm.Value{}, err
	}
	return void()
}

func mySecondTest() *jvm.Class {
	return jvm.NewClass(MySecondTest, native.ChannelSupportClass).
		Constructor(nil, noop).
		Method("performCallback", nil, "void", func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return void1(env.Runtime().Go("second-test-callback", func(env *jvm.Env) error {
				return deliver(env, this, str(env, TheString))
			}))
		}).
		Method("performTenCallbacks", nil, "void", func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return void1(env.Runtime().Go("second-test-ten", func(env *jvm.Env) error {
				for i := range 10 {
					if err := deliver(env, this, str(env, fmt.Sprintf("%s %d", TheString, i))); err != nil {
						return err
					}
				}
				return nil
			}))
		}).
		Method("performCallbackFromTenThreads", nil, "void", func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			rt := env.Runtime()
			return void1(rt.Go("second-test-fanout", func(*jvm.Env) error {
				var g errgroup.Group
				for i := range 10 {
					g.Go(func() error {
						done := make(chan error, 1)
						err := rt.Go(fmt.Sprintf("second-test-%d", i), func(env *jvm.Env) error {
							err := deliver(env, this, str(env, fmt.Sprintf("%s from thread %d", TheString, i)))
							done <- err
							return err
						})
						if err != nil {
							return err
						}
						return <-done
					})
				}
				return g.Wait()
			}))
		}).
		// The token is read before the thread starts, so concurrent
		// registrations on one object each keep their own.
		Method("performTaggedCallbacks", []string{tString, "int"}, "void", func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			token := this.Field("token")
			tag, _ := native.GoString(args[0])
			count := int(args[1].I32())
			return void1(env.Runtime().Go("tagged-"+tag, func(env *jvm.Env) error {
				for i := range count {
					_, err := env.InvokeStatic(native.ChannelSupportClass, native.ChannelEntryPoint, native.EntryPointDesc,
						token, str(env, fmt.Sprintf("%s-%d", tag, i)))
					if err != nil {
						return err
					}
				}
				return nil
			}))
		}).
		Method("performCallbacksNow", []string{"int"}, "void", func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			for i := range int(args[0].I32()) {
				if err := deliver(env, this, str(env, fmt.Sprintf("%s %d", TheString, i))); err != nil {
					return jvm.Value{}, err
				}
			}
			return void()
		}).
		Method("deliverNow", []string{tObject}, "void", func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			return void1(deliver(env, this, args[0]))
		})
}

// echo returns its argument unchanged, one overload per Java type.
func echo() *jvm.Class {
	c := jvm.NewClass(Echo, "")
	identity := func(_ *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) { return args[0], nil }
	for _, t := range []string{"boolean", "byte", "short", "char", "int", "long", "float", "double", tString} {
		c.StaticMethod("echo", []string{t}, t, identity)
	}
	return c.
		StaticMethod("widen", []string{"long"}, "long", identity).
		StaticMethod("boxed", []string{"java.lang.Integer"}, "java.lang.Integer", identity).
		StaticMethod("object", []string{tObject}, tObject, identity).
		StaticMethod("describe", []string{tObject}, tString, func(env *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			if args[0].IsNull() {
				return str(env, "null"), nil
			}
			return str(env, args[0].Ref.Class.Name), nil
		}).
		StaticMethod("pick", []string{"java.lang.Integer", tObject}, tString, func(env *jvm.Env, _ *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return str(env, "Integer,Object"), nil
		}).
		StaticMethod("pick", []string{tObject, "java.lang.Integer"}, tString, func(env *jvm.Env, _ *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return str(env, "Object,Integer"), nil
		}).
		StaticMethod("sum", []string{"[I"}, "int", func(env *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			if args[0].IsNull() {
				return jvm.Value{}, env.Exception("java.lang.NullPointerException", "sum")
			}
			elems, _ := args[0].Ref.Elements()
			var total int32
			for _, e := range elems {
				total += e.I32()
			}
			return jvm.IntValue(total), nil
		}).
		StaticMethod("nothing", nil, "void", noop).
		StaticMethod("nothingAtAll", nil, tString, func(*jvm.Env, *jvm.Object, []jvm.Value) (jvm.Value, error) {
			return jvm.NullValue(), nil
		})
}

func dummy() *jvm.Class {
	return jvm.NewClass(Dummy, "").
		Field("i", "int").
		Constructor(nil, noop).
		Constructor([]string{"int"}, func(_ *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			this.SetField("i", args[0])
			return void()
		}).
		Method("getI", nil, "int", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return this.Field("i"), nil
		}).
		Method("setI", []string{"int"}, "void", func(_ *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			this.SetField("i", args[0])
			return void()
		})
}

func childDummy() *jvm.Class {
	return jvm.NewClass(ChildDummy, Dummy).
		Constructor(nil, noop)
}

func dummyWithStatic() *jvm.Class {
	return jvm.NewClass(DummyWithStatic, "").
		StaticField("NAME", tString).
		StaticField("COUNT", "int").
		OnInit(func(env *jvm.Env, c *jvm.Class) error {
			c.SetStatic("NAME", str(env, "static"))
			c.SetStatic("COUNT", jvm.IntValue(7))
			return nil
		}).
		StaticMethod("method", nil, tString, func(env *jvm.Env, _ *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return str(env, "method product"), nil
		}).
		StaticMethod("methodWithArg", []string{"java.lang.Integer"}, tString, func(env *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			s, err := env.ToString(args[0].Ref)
			if err != nil {
				return jvm.Value{}, err
			}
			return str(env, s), nil
		})
}

func failingDummy() *jvm.Class {
	return jvm.NewClass(FailingDummy, "").
		Constructor(nil, noop).
		Method("throwException", nil, "void", func(env *jvm.Env, _ *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return jvm.Value{}, env.Exception("java.lang.RuntimeException", "Here is an exception")
		})
}

func person() *jvm.Class {
	return jvm.NewClass(Person, "").
		Field("name", tString).
		Field("age", "int").
		Constructor(nil, noop).
		Constructor([]string{tString, "int"}, func(_ *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			this.SetField("name", args[0])
			this.SetField("age", args[1])
			return void()
		}).
		Method("getName", nil, tString, func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return this.Field("name"), nil
		}).
		Method("getAge", nil, "int", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return this.Field("age"), nil
		}).
		Method("greet", []string{Person}, tString, func(env *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			if args[0].IsNull() {
				return jvm.Value{}, env.Exception("java.lang.NullPointerException", "greet")
			}
			name, _ := native.GoString(args[0].Ref.Field("name"))
			return str(env, "Hello, "+name), nil
		})
}
