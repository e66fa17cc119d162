package native

import (
	"fmt"
	"io"

	"github.com/daimatz/j4go/pkg/jvm"
)

// exceptionTree lists built-in throwables as class -> superclass, parents
// before children.
var exceptionTree = [][2]string{
	{"java.lang.Exception", tThrow},
	{"java.lang.Error", tThrow},
	{"java.lang.RuntimeException", "java.lang.Exception"},
	{"java.lang.ReflectiveOperationException", "java.lang.Exception"},
	{"java.lang.ClassNotFoundException", "java.lang.ReflectiveOperationException"},
	{"java.lang.InstantiationException", "java.lang.ReflectiveOperationException"},
	{"java.lang.CloneNotSupportedException", "java.lang.Exception"},
	{"java.lang.InterruptedException", "java.lang.Exception"},
	{"java.io.IOException", "java.lang.Exception"},

	{"java.lang.IllegalArgumentException", "java.lang.RuntimeException"},
	{"java.lang.NumberFormatException", "java.lang.IllegalArgumentException"},
	{"java.util.regex.PatternSyntaxException", "java.lang.IllegalArgumentException"},
	{"java.lang.IllegalThreadStateException", "java.lang.IllegalArgumentException"},
	{"java.lang.IllegalStateException", "java.lang.RuntimeException"},
	{"java.lang.IllegalMonitorStateException", "java.lang.RuntimeException"},
	{"java.lang.NullPointerException", "java.lang.RuntimeException"},
	{"java.lang.ArithmeticException", "java.lang.RuntimeException"},
	{"java.lang.ClassCastException", "java.lang.RuntimeException"},
	{"java.lang.ArrayStoreException", "java.lang.RuntimeException"},
	{"java.lang.NegativeArraySizeException", "java.lang.RuntimeException"},
	{"java.lang.UnsupportedOperationException", "java.lang.RuntimeException"},
	{"java.lang.IndexOutOfBoundsException", "java.lang.RuntimeException"},
	{"java.lang.ArrayIndexOutOfBoundsException", "java.lang.IndexOutOfBoundsException"},
	{"java.lang.StringIndexOutOfBoundsException", "java.lang.IndexOutOfBoundsException"},
	{"java.util.NoSuchElementException", "java.lang.RuntimeException"},
	{"java.util.ConcurrentModificationException", "java.lang.RuntimeException"},

	{"java.lang.VirtualMachineError", "java.lang.Error"},
	{"java.lang.InternalError", "java.lang.VirtualMachineError"},
	{"java.lang.StackOverflowError", "java.lang.VirtualMachineError"},
	{"java.lang.OutOfMemoryError", "java.lang.VirtualMachineError"},
	{"java.lang.LinkageError", "java.lang.Error"},
	{"java.lang.NoClassDefFoundError", "java.lang.LinkageError"},
	{"java.lang.UnsatisfiedLinkError", "java.lang.LinkageError"},
	{"java.lang.ExceptionInInitializerError", "java.lang.LinkageError"},
	{"java.lang.ClassCircularityError", "java.lang.LinkageError"},
	{"java.lang.IncompatibleClassChangeError", "java.lang.LinkageError"},
	{"java.lang.NoSuchFieldError", "java.lang.IncompatibleClassChangeError"},
	{"java.lang.NoSuchMethodError", "java.lang.IncompatibleClassChangeError"},
	{"java.lang.AbstractMethodError", "java.lang.IncompatibleClassChangeError"},
	{"java.lang.InstantiationError", "java.lang.IncompatibleClassChangeError"},
	{"java.lang.AssertionError", "java.lang.Error"},
}

func throwableClasses() []*jvm.Class {
	throwable := withThrowableConstructors(jvm.NewClass(tThrow, "")).
		Implements("java.io.Serializable").
		Field("detailMessage", tString).
		Field("cause", tThrow).
		Method("getMessage", nil, tString, func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return this.Field("detailMessage"), nil
		}).
		Method("getLocalizedMessage", nil, tString, func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return env.InvokeVirtual(this, "getMessage", "()Ljava/lang/String;")
		}).
		Method("getCause", nil, tThrow, func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return this.Field("cause"), nil
		}).
		Method("initCause", params(tThrow), tThrow, func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			if args[0].Ref == this {
				return jvm.Value{}, env.Exception("java.lang.IllegalArgumentException", "Self-causation not permitted")
			}
			this.SetField("cause", args[0])
			return jvm.RefValue(this), nil
		}).
		Method("fillInStackTrace", nil, tThrow, func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return jvm.RefValue(this), nil
		}).
		Method("toString", nil, tString, func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			msg, err := env.InvokeVirtual(this, "getLocalizedMessage", "()Ljava/lang/String;")
			if err != nil {
				return jvm.Value{}, err
			}
			if s, ok := GoString(msg); ok {
				return StringValue(env, this.Class.Name+": "+s), nil
			}
			return StringValue(env, this.Class.Name), nil
		}).
		Method("printStackTrace", nil, "void", func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			return jvm.VoidValue(), PrintThrowable(env, env.Runtime().Stderr(), this)
		})

	classes := []*jvm.Class{throwable}
	for _, e := range exceptionTree {
		classes = append(classes, withThrowableConstructors(jvm.NewClass(e[0], e[1])))
	}
	return classes
}

// withThrowableConstructors adds the four standard Throwable constructors.
// Every subclass needs its own set because constructors are not inherited.
func withThrowableConstructors(c *jvm.Class) *jvm.Class {
	return c.
		Constructor(nil, func(*jvm.Env, *jvm.Object, []jvm.Value) (jvm.Value, error) {
			return void()
		}).
		Constructor(params(tString), func(_ *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			this.SetField("detailMessage", args[0])
			return void()
		}).
		Constructor(params(tString, tThrow), func(_ *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			this.SetField("detailMessage", args[0])
			this.SetField("cause", args[1])
			return void()
		}).
		Constructor(params(tThrow), func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			this.SetField("cause", args[0])
			if !args[0].IsNull() {
				s, err := env.ToString(args[0].Ref)
				if err != nil {
					return jvm.Value{}, err
				}
				this.SetField("detailMessage", StringValue(env, s))
			}
			return void()
		})
}

// PrintThrowable writes the throwable and its causes the way
// printStackTrace does, without frames.
func PrintThrowable(env *jvm.Env, w io.Writer, t *jvm.Object) error {
	prefix := ""
	for seen := map[*jvm.Object]bool{}; t != nil && !seen[t]; t = t.Field("cause").Ref {
		seen[t] = true
		s, err := env.ToString(t)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, prefix+s); err != nil {
			return err
		}
		prefix = "Caused by: "
	}
	return nil
}
