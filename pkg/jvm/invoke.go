package jvm

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// invoke runs a resolved method. Static methods initialize their class
// first. Every failure comes back as a *JavaException unless the runtime
// itself is broken (a bootstrap class is missing).
func (env *Env) invoke(m *Method, this *Object, args []Value) (Value, error) {
	if m.IsStatic() {
		if err := env.initClass(m.Class); err != nil {
			return Value{}, err
		}
	}
	env.depth++
	defer func() { env.depth-- }()
	if env.depth > env.rt.opts.MaxFrameDepth {
		return Value{}, env.Exceptionf("java.lang.StackOverflowError", "frame depth exceeded %d", env.rt.opts.MaxFrameDepth)
	}

	switch {
	case m.IsNative():
		return env.invokeNative(m, this, args)
	case m.Impl != nil:
		v, err := m.Impl(env, this, args)
		if err != nil {
			return Value{}, env.asThrowable(err, "java.lang.InternalError")
		}
		return v, nil
	case m.Code != nil:
		return env.interpret(m, this, args)
	}
	return Value{}, env.Exception("java.lang.AbstractMethodError", m.String())
}

func (env *Env) invokeNative(m *Method, this *Object, args []Value) (ret Value, err error) {
	fn, ok := env.rt.native(m)
	if !ok {
		return Value{}, env.Exception("java.lang.UnsatisfiedLinkError", m.String())
	}

	env.frames = append(env.frames, nil)
	popFrame := func() {
		for _, r := range env.frames[len(env.frames)-1] {
			delete(env.locals, r)
		}
		env.frames = env.frames[:len(env.frames)-1]
	}
	defer func() {
		if r := recover(); r != nil {
			env.rt.log.Error("native method panicked", zap.Stringer("method", m), zap.Any("panic", r), zap.Stack("stack"))
			ret, err = Value{}, env.Exceptionf("java.lang.RuntimeException", "native %s panicked: %v", m, r)
		}
		popFrame()
	}()

	jargs := make([]JValue, len(args))
	for i, a := range args {
		jargs[i] = env.toJValue(a)
	}
	jret, nerr := fn(env, env.local(this), jargs)

	if env.pending != nil {
		thrown := env.pending
		env.pending = nil
		return Value{}, &JavaException{Object: thrown}
	}
	if nerr != nil {
		return Value{}, env.asThrowable(nerr, "java.lang.RuntimeException")
	}
	if m.Return == "void" {
		return VoidValue(), nil
	}
	v, err := env.toValue(jret)
	if err != nil {
		return Value{}, env.Exceptionf("java.lang.InternalError", "native %s returned %v", m, err)
	}
	if v, err = env.checkAssignable(m.Return, v); err != nil {
		return Value{}, env.Exceptionf("java.lang.InternalError", "native %s returned %v", m, err)
	}
	return v, nil
}

// initClass runs static initialization once per class. The thread running
// an initializer may re-enter it; other threads wait for the outcome.
func (env *Env) initClass(c *Class) error {
	c.initMu.Lock()
	for {
		switch c.initState {
		case classInitialized:
			c.initMu.Unlock()
			return nil
		case classErroneous:
			c.initMu.Unlock()
			return env.Exception("java.lang.NoClassDefFoundError", "Could not initialize class "+c.Name)
		case classInitializing:
			if c.initEnv == env {
				c.initMu.Unlock()
				return nil
			}
			c.initCond.Wait()
			continue
		}
		break
	}
	c.initState = classInitializing
	c.initEnv = env
	c.initMu.Unlock()

	err := env.runInitializers(c)

	c.initMu.Lock()
	if err != nil {
		c.initState = classErroneous
		c.initErr = err
	} else {
		c.initState = classInitialized
	}
	c.initEnv = nil
	c.initCond.Broadcast()
	c.initMu.Unlock()
	return err
}

func (env *Env) runInitializers(c *Class) error {
	if c.Super != nil && !c.IsInterface() {
		if err := env.initClass(c.Super); err != nil {
			return err
		}
	}
	if c.clinit != nil {
		if err := c.clinit(env, c); err != nil {
			return env.wrapInitError(c, err)
		}
	}
	if m := c.DeclaredMethod("<clinit>", "()V"); m != nil {
		if _, err := env.invoke(m, nil, nil); err != nil {
			return env.wrapInitError(c, err)
		}
	}
	return nil
}

// wrapInitError reports non-Error throwables from static initializers as
// ExceptionInInitializerError, keeping the original as the cause.
func (env *Env) wrapInitError(c *Class, err error) error {
	err = env.asThrowable(err, "java.lang.InternalError")
	var je *JavaException
	if !errors.As(err, &je) {
		return err
	}
	if errCls, ferr := env.rt.FindClass("java.lang.Error"); ferr == nil && je.Object.Class.IsSubclassOf(errCls) {
		return je
	}
	wrapped, werr := env.NewThrowable("java.lang.ExceptionInInitializerError", "initializing "+c.Name+": "+je.Error())
	if werr != nil {
		return je
	}
	wrapped.SetField("cause", RefValue(je.Object))
	return &JavaException{Object: wrapped}
}

// InvokeVirtual calls an instance method by name and descriptor with virtual
// dispatch. It is meant for methods implemented in Go.
func (env *Env) InvokeVirtual(obj *Object, name, descriptor string, args ...Value) (Value, error) {
	if obj == nil {
		return Value{}, env.Exception("java.lang.NullPointerException", "invoking "+name+" on null")
	}
	m := obj.Class.LookupMethod(name, descriptor)
	if m == nil || m.IsStatic() {
		return Value{}, env.Exception("java.lang.NoSuchMethodError", obj.Class.Name+"."+name+descriptor)
	}
	return env.invoke(m, obj, args)
}

// InvokeStatic calls a static method by class, name and descriptor.
func (env *Env) InvokeStatic(className, name, descriptor string, args ...Value) (Value, error) {
	c, err := env.resolveClass(className)
	if err != nil {
		return Value{}, err
	}
	m := c.LookupMethod(name, descriptor)
	if m == nil || !m.IsStatic() {
		return Value{}, env.Exception("java.lang.NoSuchMethodError", className+"."+name+descriptor)
	}
	return env.invoke(m, nil, args)
}

// New allocates an object and runs the constructor with the given descriptor.
func (env *Env) New(className, descriptor string, args ...Value) (*Object, error) {
	c, err := env.resolveClass(className)
	if err != nil {
		return nil, err
	}
	ctor := c.DeclaredMethod("<init>", descriptor)
	if ctor == nil {
		return nil, env.Exception("java.lang.NoSuchMethodError", className+".<init>"+descriptor)
	}
	if err := env.initClass(c); err != nil {
		return nil, err
	}
	obj := env.rt.allocate(c)
	if _, err := env.invoke(ctor, obj, args); err != nil {
		return nil, err
	}
	return obj, nil
}

// Allocate creates an instance without running a constructor.
func (env *Env) Allocate(c *Class) (*Object, error) {
	if err := env.initClass(c); err != nil {
		return nil, err
	}
	return env.rt.allocate(c), nil
}

// NewStringObject creates a java.lang.String.
func (env *Env) NewStringObject(s string) *Object { return env.rt.NewStringObject(s) }

// NewArrayOf creates an array with the given element type and contents.
func (env *Env) NewArrayOf(elemType string, elems []Value) (*Object, error) {
	c, err := env.resolveClass(ArrayClassName(elemType))
	if err != nil {
		return nil, err
	}
	arr := env.rt.newArray(c, len(elems))
	values, _ := arr.Elements()
	copy(values, elems)
	return arr, nil
}

// ToString returns String.valueOf(obj).
func (env *Env) ToString(obj *Object) (string, error) {
	if obj == nil {
		return "null", nil
	}
	if s, ok := obj.GoString(); ok {
		return s, nil
	}
	v, err := env.InvokeVirtual(obj, "toString", "()Ljava/lang/String;")
	if err != nil {
		return "", err
	}
	s, _ := v.Ref.GoString()
	if v.IsNull() {
		s = "null"
	}
	return s, nil
}

// resolveClass loads a class for execution, reporting failures as
// NoClassDefFoundError.
func (env *Env) resolveClass(name string) (*Class, error) {
	c, err := env.rt.FindClass(name)
	if err != nil {
		return nil, env.Exception("java.lang.NoClassDefFoundError", fmt.Sprintf("%s (%v)", name, err))
	}
	return c, nil
}

type monitor struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner *Env
	count int
}

func (o *Object) monitor() *monitor {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mon == nil {
		o.mon = &monitor{}
		o.mon.cond = sync.NewCond(&o.mon.mu)
	}
	return o.mon
}

// MonitorEnter acquires the object's monitor; it is reentrant per thread.
func (env *Env) MonitorEnter(obj *Object) {
	m := obj.monitor()
	m.mu.Lock()
	for m.owner != nil && m.owner != env {
		m.cond.Wait()
	}
	m.owner = env
	m.count++
	m.mu.Unlock()
}

// MonitorExit releases the object's monitor once.
func (env *Env) MonitorExit(obj *Object) error {
	m := obj.monitor()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != env {
		return env.Exception("java.lang.IllegalMonitorStateException", "current thread does not own the monitor")
	}
	m.count--
	if m.count == 0 {
		m.owner = nil
		m.cond.Signal()
	}
	return nil
}
