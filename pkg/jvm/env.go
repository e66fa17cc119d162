package jvm

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/petermattis/goid"
	"go.uber.org/zap"

	"github.com/daimatz/j4go/pkg/classfile"
)

// Env is one goroutine's view of the runtime, the JNIEnv analogue. It owns
// the goroutine's local reference frames and pending exception and must
// only be used from that goroutine.
type Env struct {
	rt        *Runtime
	gid       int64
	name      string
	hostOwned bool
	detached  atomic.Bool

	locals   map[Ref]*Object
	frames   [][]Ref
	localSeq uint64

	pending *Object
	depth   int
}

func newEnv(rt *Runtime, gid int64, name string, hostOwned bool) *Env {
	return &Env{
		rt:        rt,
		gid:       gid,
		name:      name,
		hostOwned: hostOwned,
		locals:    make(map[Ref]*Object),
		frames:    make([][]Ref, 1),
	}
}

func (env *Env) detach() {
	env.detached.Store(true)
	env.locals = nil
	env.frames = nil
}

// Runtime returns the owning runtime.
func (env *Env) Runtime() *Runtime { return env.rt }

// Name is the thread name given at attach time.
func (env *Env) Name() string { return env.name }

// IsHostThread reports whether the thread was started by the runtime.
func (env *Env) IsHostThread() bool { return env.hostOwned }

// Attached reports whether the Env is still usable.
func (env *Env) Attached() bool { return !env.detached.Load() }

func (env *Env) enter(op string) error {
	if env.detached.Load() {
		return ErrNotAttached
	}
	if env.rt.destroyed.Load() {
		return ErrDestroyed
	}
	if env.rt.opts.CheckJNI && goid.Get() != env.gid {
		return fmt.Errorf("%w: %s called on %s", ErrWrongThread, op, env.name)
	}
	if env.rt.opts.VerboseJNI {
		env.rt.log.Debug("jni", zap.String("op", op), zap.String("thread", env.name))
	}
	return nil
}

// enterCall additionally refuses to run while an exception is pending.
func (env *Env) enterCall(op string) error {
	if err := env.enter(op); err != nil {
		return err
	}
	if env.pending != nil {
		return fmt.Errorf("%w: %s before clearing %s", ErrExceptionPending, op, env.pending.Class.Name)
	}
	return nil
}

// raise turns a thrown JavaException into the pending exception.
func (env *Env) raise(err error) error {
	var je *JavaException
	if errors.As(err, &je) {
		env.pending = je.Object
		return ErrThrown
	}
	return err
}

func (env *Env) throw(className, msg string) error {
	return env.raise(env.Exception(className, msg))
}

func (env *Env) local(obj *Object) Ref {
	if obj == nil {
		return 0
	}
	env.localSeq++
	r := Ref(env.localSeq)
	env.locals[r] = obj
	top := len(env.frames) - 1
	env.frames[top] = append(env.frames[top], r)
	return r
}

func (env *Env) deref(r Ref) (*Object, error) {
	if r == 0 {
		return nil, nil
	}
	if r.IsGlobal() {
		return env.rt.global(r)
	}
	obj, ok := env.locals[r]
	if !ok {
		return nil, fmt.Errorf("%w: local %d", ErrInvalidRef, uint64(r))
	}
	return obj, nil
}

// Wrap returns a new local reference to an object obtained from Go code.
func (env *Env) Wrap(obj *Object) (Ref, error) {
	if err := env.enter("Wrap"); err != nil {
		return 0, err
	}
	return env.local(obj), nil
}

// Unwrap resolves a local or global reference. The null reference yields nil.
func (env *Env) Unwrap(r Ref) (*Object, error) {
	if err := env.enter("Unwrap"); err != nil {
		return nil, err
	}
	return env.deref(r)
}

// PushLocalFrame opens a frame; local references created until the matching
// PopLocalFrame are released by it.
func (env *Env) PushLocalFrame() error {
	if err := env.enter("PushLocalFrame"); err != nil {
		return err
	}
	env.frames = append(env.frames, nil)
	return nil
}

// PopLocalFrame releases the top frame. result, if not 0, is carried over
// as a new local reference in the enclosing frame.
func (env *Env) PopLocalFrame(result Ref) (Ref, error) {
	if err := env.enter("PopLocalFrame"); err != nil {
		return 0, err
	}
	if len(env.frames) <= 1 {
		return 0, errors.New("jvm: no local frame to pop")
	}
	obj, err := env.deref(result)
	top := env.frames[len(env.frames)-1]
	for _, r := range top {
		delete(env.locals, r)
	}
	env.frames = env.frames[:len(env.frames)-1]
	if err != nil {
		return 0, err
	}
	return env.local(obj), nil
}

// LocalRefCount returns the number of live local references.
func (env *Env) LocalRefCount() int { return len(env.locals) }

// NewLocalRef creates a local reference to the object behind r.
func (env *Env) NewLocalRef(r Ref) (Ref, error) {
	if err := env.enter("NewLocalRef"); err != nil {
		return 0, err
	}
	obj, err := env.deref(r)
	if err != nil {
		return 0, err
	}
	return env.local(obj), nil
}

// DeleteLocalRef releases a local reference before its frame is popped.
func (env *Env) DeleteLocalRef(r Ref) error {
	if err := env.enter("DeleteLocalRef"); err != nil {
		return err
	}
	if r == 0 {
		return nil
	}
	if _, ok := env.locals[r]; !ok || r.IsGlobal() {
		return fmt.Errorf("%w: local %d", ErrInvalidRef, uint64(r))
	}
	delete(env.locals, r)
	return nil
}

// NewGlobalRef creates a global reference, valid on every thread until
// DeleteGlobalRef. A null reference yields 0.
func (env *Env) NewGlobalRef(r Ref) (Ref, error) {
	if err := env.enter("NewGlobalRef"); err != nil {
		return 0, err
	}
	obj, err := env.deref(r)
	if err != nil {
		return 0, err
	}
	return env.rt.newGlobal(obj), nil
}

// DeleteGlobalRef releases a global reference. Releasing an unknown or
// already released reference is an error.
func (env *Env) DeleteGlobalRef(r Ref) error {
	if err := env.enter("DeleteGlobalRef"); err != nil {
		return err
	}
	if !r.IsGlobal() {
		return fmt.Errorf("%w: %d is not a global reference", ErrInvalidRef, uint64(r))
	}
	return env.rt.deleteGlobal(r)
}

// IsSameObject compares identities.
func (env *Env) IsSameObject(a, b Ref) (bool, error) {
	oa, err := env.deref(a)
	if err != nil {
		return false, err
	}
	ob, err := env.deref(b)
	if err != nil {
		return false, err
	}
	return oa == ob, nil
}

// FindClass loads a class by binary name.
func (env *Env) FindClass(name string) (*Class, error) {
	if err := env.enterCall("FindClass"); err != nil {
		return nil, err
	}
	return env.rt.FindClass(name)
}

// GetObjectClass returns the runtime class of a non-null reference.
func (env *Env) GetObjectClass(r Ref) (*Class, error) {
	if err := env.enter("GetObjectClass"); err != nil {
		return nil, err
	}
	obj, err := env.deref(r)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: null", ErrInvalidRef)
	}
	return obj.Class, nil
}

// IsInstanceOf reports whether the object is assignable to c. null is an
// instance of every class.
func (env *Env) IsInstanceOf(r Ref, c *Class) (bool, error) {
	if err := env.enter("IsInstanceOf"); err != nil {
		return false, err
	}
	obj, err := env.deref(r)
	if err != nil {
		return false, err
	}
	return obj == nil || obj.Class.IsSubclassOf(c), nil
}

// NewObject allocates an instance of c and runs the constructor.
func (env *Env) NewObject(c *Class, ctor *Method, args ...JValue) (Ref, error) {
	if err := env.enterCall("NewObject"); err != nil {
		return 0, err
	}
	if ctor == nil || !ctor.IsConstructor() || ctor.Class != c {
		return 0, fmt.Errorf("jvm: %v is not a constructor of %s", ctor, c.Name)
	}
	if c.IsAbstract() || c.IsInterface() {
		return 0, env.throw("java.lang.InstantiationException", c.Name)
	}
	vals, err := env.fromJValues(ctor, args)
	if err != nil {
		return 0, env.raise(err)
	}
	if err := env.initClass(c); err != nil {
		return 0, env.raise(err)
	}
	obj := env.rt.allocate(c)
	if _, err := env.invoke(ctor, obj, vals); err != nil {
		return 0, env.raise(err)
	}
	return env.local(obj), nil
}

// CallMethod invokes an instance method with virtual dispatch on the
// receiver's class.
func (env *Env) CallMethod(obj Ref, m *Method, args ...JValue) (JValue, error) {
	if err := env.enterCall("CallMethod"); err != nil {
		return JValue{}, err
	}
	if m.IsStatic() {
		return JValue{}, fmt.Errorf("jvm: %s is static", m)
	}
	recv, err := env.deref(obj)
	if err != nil {
		return JValue{}, err
	}
	if recv == nil {
		return JValue{}, env.throw("java.lang.NullPointerException", "invoking "+m.Name+" on null")
	}
	if !recv.Class.IsSubclassOf(m.Class) {
		return JValue{}, env.throw("java.lang.IllegalArgumentException", "object is not an instance of "+m.Class.Name)
	}
	vals, err := env.fromJValues(m, args)
	if err != nil {
		return JValue{}, env.raise(err)
	}
	v, err := env.invoke(env.dispatch(recv, m), recv, vals)
	if err != nil {
		return JValue{}, env.raise(err)
	}
	return env.toJValue(v), nil
}

// CallStaticMethod invokes a static method, initializing its class first.
func (env *Env) CallStaticMethod(c *Class, m *Method, args ...JValue) (JValue, error) {
	if err := env.enterCall("CallStaticMethod"); err != nil {
		return JValue{}, err
	}
	if !m.IsStatic() {
		return JValue{}, fmt.Errorf("jvm: %s is not static", m)
	}
	if !c.IsSubclassOf(m.Class) {
		return JValue{}, fmt.Errorf("jvm: %s is not a method of %s", m, c.Name)
	}
	vals, err := env.fromJValues(m, args)
	if err != nil {
		return JValue{}, env.raise(err)
	}
	v, err := env.invoke(m, nil, vals)
	if err != nil {
		return JValue{}, env.raise(err)
	}
	return env.toJValue(v), nil
}

// GetField reads an instance field by name.
func (env *Env) GetField(obj Ref, name string) (JValue, error) {
	if err := env.enterCall("GetField"); err != nil {
		return JValue{}, err
	}
	recv, err := env.deref(obj)
	if err != nil {
		return JValue{}, err
	}
	if recv == nil {
		return JValue{}, env.throw("java.lang.NullPointerException", "reading field "+name+" of null")
	}
	if f := recv.Class.LookupField(name); f == nil || f.Static {
		return JValue{}, env.throw("java.lang.NoSuchFieldError", recv.Class.Name+"."+name)
	}
	return env.toJValue(recv.Field(name)), nil
}

// SetField writes an instance field by name.
func (env *Env) SetField(obj Ref, name string, v JValue) error {
	if err := env.enterCall("SetField"); err != nil {
		return err
	}
	recv, err := env.deref(obj)
	if err != nil {
		return err
	}
	if recv == nil {
		return env.throw("java.lang.NullPointerException", "writing field "+name+" of null")
	}
	f := recv.Class.LookupField(name)
	if f == nil || f.Static {
		return env.throw("java.lang.NoSuchFieldError", recv.Class.Name+"."+name)
	}
	val, err := env.toValue(v)
	if err != nil {
		return err
	}
	if val, err = env.checkAssignable(f.Type, val); err != nil {
		return env.raise(err)
	}
	recv.SetField(name, val)
	return nil
}

// GetStaticField reads a static field, initializing the declaring class.
func (env *Env) GetStaticField(c *Class, name string) (JValue, error) {
	if err := env.enterCall("GetStaticField"); err != nil {
		return JValue{}, err
	}
	f := c.LookupField(name)
	if f == nil || !f.Static {
		return JValue{}, env.throw("java.lang.NoSuchFieldError", c.Name+"."+name)
	}
	if err := env.initClass(f.Class); err != nil {
		return JValue{}, env.raise(err)
	}
	v, _ := f.Class.GetStatic(f.Name)
	return env.toJValue(v), nil
}

// NewString creates a java.lang.String.
func (env *Env) NewString(s string) (Ref, error) {
	if err := env.enter("NewString"); err != nil {
		return 0, err
	}
	return env.local(env.rt.NewStringObject(s)), nil
}

// GetStringUTF returns the contents of a java.lang.String.
func (env *Env) GetStringUTF(r Ref) (string, error) {
	if err := env.enter("GetStringUTF"); err != nil {
		return "", err
	}
	obj, err := env.deref(r)
	if err != nil {
		return "", err
	}
	s, ok := obj.GoString()
	if !ok {
		return "", fmt.Errorf("jvm: %v is not a string", obj)
	}
	return s, nil
}

// NewArray creates an array of the given array class filled with elems.
func (env *Env) NewArray(c *Class, elems []JValue) (Ref, error) {
	if err := env.enterCall("NewArray"); err != nil {
		return 0, err
	}
	if !c.IsArray() {
		return 0, fmt.Errorf("jvm: %s is not an array class", c.Name)
	}
	arr := env.rt.newArray(c, len(elems))
	values, _ := arr.Elements()
	for i, jv := range elems {
		v, err := env.toValue(jv)
		if err != nil {
			return 0, err
		}
		if v, err = env.checkAssignable(c.Component.Name, v); err != nil {
			return 0, env.raise(err)
		}
		values[i] = v
	}
	return env.local(arr), nil
}

// GetArrayLength returns the length of an array.
func (env *Env) GetArrayLength(r Ref) (int, error) {
	if err := env.enter("GetArrayLength"); err != nil {
		return 0, err
	}
	obj, err := env.deref(r)
	if err != nil {
		return 0, err
	}
	elems, ok := obj.Elements()
	if !ok {
		return 0, fmt.Errorf("jvm: %v is not an array", obj)
	}
	return len(elems), nil
}

// GetArrayElement reads one element of an array.
func (env *Env) GetArrayElement(r Ref, i int) (JValue, error) {
	if err := env.enterCall("GetArrayElement"); err != nil {
		return JValue{}, err
	}
	obj, err := env.deref(r)
	if err != nil {
		return JValue{}, err
	}
	elems, ok := obj.Elements()
	if !ok {
		return JValue{}, fmt.Errorf("jvm: %v is not an array", obj)
	}
	if i < 0 || i >= len(elems) {
		return JValue{}, env.throw("java.lang.ArrayIndexOutOfBoundsException",
			fmt.Sprintf("Index %d out of bounds for length %d", i, len(elems)))
	}
	return env.toJValue(elems[i]), nil
}

// ExceptionCheck reports whether an exception is pending.
func (env *Env) ExceptionCheck() bool { return env.pending != nil }

// ExceptionOccurred returns a local reference to the pending exception, or 0.
func (env *Env) ExceptionOccurred() Ref {
	if env.pending == nil || env.detached.Load() {
		return 0
	}
	return env.local(env.pending)
}

// ExceptionClear clears the pending exception.
func (env *Env) ExceptionClear() { env.pending = nil }

// Throw makes the throwable behind r the pending exception.
func (env *Env) Throw(r Ref) error {
	if err := env.enter("Throw"); err != nil {
		return err
	}
	obj, err := env.deref(r)
	if err != nil {
		return err
	}
	if !env.isThrowable(obj) {
		return fmt.Errorf("jvm: %v is not a Throwable", obj)
	}
	env.pending = obj
	return nil
}

// ThrowNew creates a throwable of class c with a message and makes it pending.
func (env *Env) ThrowNew(c *Class, msg string) error {
	if err := env.enter("ThrowNew"); err != nil {
		return err
	}
	obj, err := env.NewThrowable(c.Name, msg)
	if err != nil {
		return err
	}
	if !env.isThrowable(obj) {
		return fmt.Errorf("jvm: %s is not a Throwable", c.Name)
	}
	env.pending = obj
	return nil
}

func (env *Env) isThrowable(obj *Object) bool {
	if obj == nil {
		return false
	}
	throwable, err := env.rt.FindClass("java.lang.Throwable")
	return err == nil && obj.Class.IsSubclassOf(throwable)
}

func (env *Env) toJValue(v Value) JValue {
	switch v.Type {
	case TypeRef:
		return JObject(env.local(v.Ref))
	case TypeNull, TypeVoid:
		return JValue{Type: v.Type}
	}
	return JValue{Type: v.Type, Int: v.Int, Float: v.Float}
}

func (env *Env) toValue(jv JValue) (Value, error) {
	switch jv.Type {
	case TypeRef:
		obj, err := env.deref(jv.L)
		if err != nil {
			return Value{}, err
		}
		return RefValue(obj), nil
	case TypeNull:
		return NullValue(), nil
	}
	return Value{Type: jv.Type, Int: jv.Int, Float: jv.Float}, nil
}

// fromJValues converts and checks call arguments against the parameter list.
// Mismatches are reported as IllegalArgumentException.
func (env *Env) fromJValues(m *Method, args []JValue) ([]Value, error) {
	if len(args) != len(m.Params) {
		return nil, env.Exceptionf("java.lang.IllegalArgumentException",
			"wrong number of arguments for %s: got %d, want %d", m, len(args), len(m.Params))
	}
	vals := make([]Value, len(args))
	for i, jv := range args {
		v, err := env.toValue(jv)
		if err != nil {
			return nil, err
		}
		if vals[i], err = env.checkAssignable(m.Params[i], v); err != nil {
			var je *JavaException
			if errors.As(err, &je) {
				return nil, err
			}
			return nil, env.Exceptionf("java.lang.IllegalArgumentException", "argument %d of %s: %v", i, m, err)
		}
	}
	return vals, nil
}

// checkAssignable coerces primitives and verifies reference assignability.
func (env *Env) checkAssignable(typeName string, v Value) (Value, error) {
	v, err := coerce(typeName, v)
	if err != nil || v.Type != TypeRef {
		return v, err
	}
	target, err := env.rt.FindClass(typeName)
	if err != nil {
		return Value{}, err
	}
	if !v.Ref.Class.IsSubclassOf(target) {
		return Value{}, fmt.Errorf("%s is not assignable to %s", v.Ref.Class.Name, typeName)
	}
	return v, nil
}

func (env *Env) dispatch(recv *Object, m *Method) *Method {
	if m.IsConstructor() || m.Flags&classfile.AccPrivate != 0 {
		return m
	}
	if found := recv.Class.LookupMethod(m.Name, m.descriptor); found != nil {
		return found
	}
	return m
}
