package j4go

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/daimatz/j4go/pkg/classfile"
	"github.com/daimatz/j4go/pkg/jvm"
)

// check turns a pending managed exception, or a runtime error, into a
// bridge error. The pending exception is always cleared.
func (b *bridge) check(env *jvm.Env, op string, err error) error {
	if env.ExceptionCheck() {
		return b.takeException(env, op)
	}
	if err != nil {
		return runtimeError(op, err)
	}
	return nil
}

func (b *bridge) takeException(env *jvm.Env, op string) error {
	exc := env.ExceptionOccurred()
	env.ExceptionClear()
	cls, err := env.GetObjectClass(exc)
	if err != nil {
		return runtimeError(op, err)
	}
	e := &Error{Kind: KindInvocation, Op: op, JavaClass: cls.Name}
	if m := cls.LookupMethod("getMessage", "()Ljava/lang/String;"); m != nil {
		jv, err := env.CallMethod(exc, m)
		switch {
		case err != nil:
			env.ExceptionClear()
		case jv.Type == jvm.TypeRef:
			e.Message, _ = env.GetStringUTF(jv.L)
		}
	}
	b.log.Debug("managed exception", zap.String("op", op), zap.String("class", e.JavaClass), zap.String("message", e.Message))
	return e
}

// adopt wraps a call result in an Instance. Primitive results are boxed;
// declared is the static type, used for null results.
func (b *bridge) adopt(env *jvm.Env, op string, jv jvm.JValue, declared string) (*Instance, error) {
	switch jv.Type {
	case jvm.TypeVoid:
		return b.voidInstance(), nil
	case jvm.TypeNull:
		return b.nullInstance(declared), nil
	case jvm.TypeRef:
	default:
		boxed, err := b.box(env, op, declared, scalarPayload(declared, jv))
		if err != nil {
			return nil, err
		}
		jv = boxed
	}
	if jv.L == 0 {
		return b.nullInstance(declared), nil
	}
	cls, err := env.GetObjectClass(jv.L)
	if err != nil {
		return nil, runtimeError(op, err)
	}
	payload, has, err := b.payloadOf(env, op, jv.L, cls)
	if err != nil {
		return nil, err
	}
	g, err := env.NewGlobalRef(jv.L)
	if err != nil {
		return nil, runtimeError(op, err)
	}
	return b.newInstance(g, cls.Name, payload, has), nil
}

// payloadOf decodes strings and boxed primitives up front.
func (b *bridge) payloadOf(env *jvm.Env, op string, r jvm.Ref, cls *jvm.Class) (any, bool, error) {
	if cls.Name == "java.lang.String" {
		s, err := env.GetStringUTF(r)
		if err != nil {
			return nil, false, runtimeError(op, err)
		}
		return s, true, nil
	}
	prim, ok := primitiveNames[cls.Name]
	if !ok {
		return nil, false, nil
	}
	jv, err := env.GetField(r, "value")
	if err := b.check(env, op, err); err != nil {
		return nil, false, err
	}
	return scalarPayload(prim, jv), true, nil
}

// scalarPayload is the Go value of a primitive.
func scalarPayload(prim string, jv jvm.JValue) any {
	switch prim {
	case "boolean":
		return jv.Int != 0
	case "byte":
		return int8(jv.Int)
	case "short":
		return int16(jv.Int)
	case "char":
		return rune(uint16(jv.Int))
	case "int":
		return int32(jv.Int)
	case "long":
		return jv.Int
	case "float":
		return float32(jv.Float)
	}
	return jv.Float
}

// call runs fn on the calling goroutine's Env inside a local frame, then
// closes the instances the arguments consume.
func (j *Jvm) call(op, kind string, args []InvocationArg, fn func(env *jvm.Env) (*Instance, error)) (inst *Instance, err error) {
	defer func() {
		j.b.consume(op, args)
		j.b.metrics.Invocations.WithLabelValues(kind, outcome(err)).Inc()
	}()
	if err := j.b.checkArgs(op, args); err != nil {
		return nil, err
	}
	env, done, err := j.env(op)
	if err != nil {
		return nil, err
	}
	defer done()
	if err := env.PushLocalFrame(); err != nil {
		return nil, runtimeError(op, err)
	}
	defer func() {
		if _, perr := env.PopLocalFrame(0); perr != nil {
			j.b.log.Warn("pop local frame", zap.String("op", op), zap.Error(perr))
		}
	}()
	return fn(env)
}

func (b *bridge) checkArgs(op string, args []InvocationArg) error {
	for _, a := range args {
		switch a.kind {
		case argInstance, argInstanceRef:
			if err := a.inst.usable(b, op); err != nil {
				return err
			}
			if a.inst.IsVoid() {
				return newError(KindConversion, op, "void cannot be an argument")
			}
		case argArray:
			if err := b.checkArgs(op, a.elems); err != nil {
				return err
			}
		}
	}
	return nil
}

// consume closes instances passed by value. Failures are only logged.
func (b *bridge) consume(op string, args []InvocationArg) {
	var err error
	for _, a := range args {
		if inst := a.consumed(); inst != nil {
			err = multierr.Append(err, inst.Close())
		}
	}
	if err != nil {
		b.log.Warn("closing consumed arguments", zap.String("op", op), zap.Error(err))
	}
}

// CreateInstance calls the constructor of className that best fits args.
func (j *Jvm) CreateInstance(className string, args ...InvocationArg) (*Instance, error) {
	op := "create " + className
	return j.call(op, "constructor", args, func(env *jvm.Env) (*Instance, error) {
		if classfile.IsPrimitiveName(className) {
			return nil, newError(KindResolution, op, "primitive types cannot be instantiated")
		}
		cls, err := j.b.findClass(env, op, className)
		if err != nil {
			return nil, err
		}
		ctor, err := j.b.resolve(op, cls, "<init>", false, args)
		if err != nil {
			return nil, err
		}
		jargs, err := j.b.encodeArgs(env, op, ctor, args)
		if err != nil {
			return nil, err
		}
		r, err := env.NewObject(cls, ctor, jargs...)
		if err := j.b.check(env, op, err); err != nil {
			return nil, err
		}
		return j.b.adopt(env, op, jvm.JObject(r), className)
	})
}

// Invoke calls an instance method. Void methods return the void Instance.
func (j *Jvm) Invoke(inst *Instance, method string, args ...InvocationArg) (*Instance, error) {
	if err := inst.usable(j.b, "invoke "+method); err != nil {
		return nil, err
	}
	op := "invoke " + inst.className + "." + method
	return j.call(op, "instance", args, func(env *jvm.Env) (*Instance, error) {
		if inst.IsVoid() {
			return nil, newError(KindConversion, op, "cannot invoke methods on void")
		}
		cls, err := j.b.findClass(env, op, inst.className)
		if err != nil {
			return nil, err
		}
		m, err := j.b.resolve(op, cls, method, false, args)
		if err != nil {
			return nil, err
		}
		jargs, err := j.b.encodeArgs(env, op, m, args)
		if err != nil {
			return nil, err
		}
		jv, err := env.CallMethod(inst.ref, m, jargs...)
		if err := j.b.check(env, op, err); err != nil {
			return nil, err
		}
		return j.b.adopt(env, op, jv, m.Return)
	})
}

// InvokeStatic calls a static method.
func (j *Jvm) InvokeStatic(className, method string, args ...InvocationArg) (*Instance, error) {
	op := "invoke static " + className + "." + method
	return j.call(op, "static", args, func(env *jvm.Env) (*Instance, error) {
		cls, err := j.b.findClass(env, op, className)
		if err != nil {
			return nil, err
		}
		m, err := j.b.resolve(op, cls, method, true, args)
		if err != nil {
			return nil, err
		}
		jargs, err := j.b.encodeArgs(env, op, m, args)
		if err != nil {
			return nil, err
		}
		jv, err := env.CallStaticMethod(cls, m, jargs...)
		if err := j.b.check(env, op, err); err != nil {
			return nil, err
		}
		return j.b.adopt(env, op, jv, m.Return)
	})
}

// GetStaticField reads a static field, initializing its class.
func (j *Jvm) GetStaticField(className, field string) (*Instance, error) {
	op := "get static " + className + "." + field
	return j.call(op, "field", nil, func(env *jvm.Env) (*Instance, error) {
		cls, err := j.b.findClass(env, op, className)
		if err != nil {
			return nil, err
		}
		f := cls.LookupField(field)
		if f == nil || !f.Static {
			return nil, newError(KindResolution, op, "no static field "+field)
		}
		jv, err := env.GetStaticField(cls, field)
		if err := j.b.check(env, op, err); err != nil {
			return nil, err
		}
		return j.b.adopt(env, op, jv, f.Type)
	})
}

// FieldOf reads an instance field of inst.
func (j *Jvm) FieldOf(inst *Instance, field string) (*Instance, error) {
	if err := inst.usable(j.b, "field "+field); err != nil {
		return nil, err
	}
	op := "get field " + inst.className + "." + field
	return j.call(op, "field", nil, func(env *jvm.Env) (*Instance, error) {
		if inst.IsVoid() {
			return nil, newError(KindConversion, op, "void has no fields")
		}
		cls, err := j.b.findClass(env, op, inst.className)
		if err != nil {
			return nil, err
		}
		f := cls.LookupField(field)
		if f == nil || f.Static {
			return nil, newError(KindResolution, op, "no instance field "+field)
		}
		jv, err := env.GetField(inst.ref, field)
		if err := j.b.check(env, op, err); err != nil {
			return nil, err
		}
		return j.b.adopt(env, op, jv, f.Type)
	})
}

// Cast returns a new Instance of the same object typed as className. The
// object must be assignable to it.
func (j *Jvm) Cast(inst *Instance, className string) (*Instance, error) {
	op := "cast to " + className
	if err := inst.usable(j.b, op); err != nil {
		return nil, err
	}
	return j.call(op, "cast", nil, func(env *jvm.Env) (*Instance, error) {
		if inst.IsVoid() {
			return nil, newError(KindConversion, op, "void cannot be cast")
		}
		target, err := j.b.findClass(env, op, className)
		if err != nil {
			return nil, err
		}
		if inst.IsNull() {
			return j.b.nullInstance(className), nil
		}
		ok, err := env.IsInstanceOf(inst.ref, target)
		if err != nil {
			return nil, runtimeError(op, err)
		}
		if !ok {
			return nil, newError(KindConversion, op, fmt.Sprintf("%s cannot be cast to %s", inst.className, className))
		}
		g, err := env.NewGlobalRef(inst.ref)
		if err != nil {
			return nil, runtimeError(op, err)
		}
		return j.b.newInstance(g, className, inst.payload, inst.hasPayload), nil
	})
}

// CloneInstance returns a second Instance owning its own global reference
// to the same object.
func (j *Jvm) CloneInstance(inst *Instance) (*Instance, error) {
	const op = "clone instance"
	if err := inst.usable(j.b, op); err != nil {
		return nil, err
	}
	switch {
	case inst.IsVoid():
		return j.b.voidInstance(), nil
	case inst.IsNull():
		return j.b.nullInstance(inst.className), nil
	}
	env, done, err := j.env(op)
	if err != nil {
		return nil, err
	}
	defer done()
	g, err := env.NewGlobalRef(inst.ref)
	if err != nil {
		return nil, runtimeError(op, err)
	}
	return j.b.newInstance(g, inst.className, inst.payload, inst.hasPayload), nil
}

// IsSameObject reports whether two Instances refer to the same object.
func (j *Jvm) IsSameObject(a, b *Instance) (bool, error) {
	const op = "compare instances"
	if err := multierr.Combine(a.usable(j.b, op), b.usable(j.b, op)); err != nil {
		return false, err
	}
	env, done, err := j.env(op)
	if err != nil {
		return false, err
	}
	defer done()
	same, err := env.IsSameObject(a.ref, b.ref)
	if err != nil {
		return false, runtimeError(op, err)
	}
	return same, nil
}
