package jvm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	goruntime "runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/petermattis/goid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/daimatz/j4go/pkg/classfile"
)

// DefaultMaxFrameDepth is the interpreter call depth allowed per thread
// when Options.MaxFrameDepth is unset (the equivalent of -Xss1m).
const DefaultMaxFrameDepth = 1024

// NativeFunc implements a method declared native. this is 0 for static
// methods. Returning a *JavaException, or ErrThrown after Env.Throw,
// propagates the exception; any other error becomes a RuntimeException.
type NativeFunc func(env *Env, this Ref, args []JValue) (JValue, error)

// Options configures a Runtime.
type Options struct {
	// Loader defines every class, java.lang.Object included.
	Loader ClassLoader
	// Properties are visible through System.getProperty.
	Properties map[string]string

	Stdout io.Writer
	Stderr io.Writer

	// MaxFrameDepth bounds nested calls per thread; exceeding it throws
	// StackOverflowError.
	MaxFrameDepth int
	// VerboseJNI logs every Env entry point at debug level.
	VerboseJNI bool
	// CheckJNI verifies Env ownership on each call and reports leaked
	// global references on Destroy.
	CheckJNI bool

	Logger *zap.Logger
}

// Runtime is a Java virtual machine instance.
type Runtime struct {
	id    uuid.UUID
	opts  Options
	log   *zap.Logger
	props map[string]string

	classMu sync.RWMutex
	classes map[string]*Class
	loading map[string]bool

	classObjects sync.Map // *Class -> *Object
	interned     sync.Map // string -> *Object
	stringClass  *Class

	nativeMu sync.RWMutex
	natives  map[string]NativeFunc

	globalMu  sync.Mutex
	globals   map[Ref]*Object
	globalSeq uint64

	envs sync.Map // goroutine id -> *Env

	lifeMu    sync.Mutex
	threads   sync.WaitGroup
	destroyed atomic.Bool

	objSeq atomic.Uint64
}

// New boots a runtime. java.lang.Object, java.lang.String and
// java.lang.Throwable must be loadable.
func New(opts Options) (*Runtime, error) {
	if opts.Loader == nil {
		return nil, errors.New("jvm: no class loader")
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.MaxFrameDepth <= 0 {
		opts.MaxFrameDepth = DefaultMaxFrameDepth
	}
	if opts.Logger == nil {
		opts.Logger = Logger()
	}

	rt := &Runtime{
		id:      uuid.New(),
		opts:    opts,
		classes: make(map[string]*Class),
		loading: make(map[string]bool),
		natives: make(map[string]NativeFunc),
		globals: make(map[Ref]*Object),
	}
	rt.log = opts.Logger.With(zap.Stringer("runtime", rt.id))
	rt.props = map[string]string{
		"java.version":    "1.8",
		"java.vendor":     "j4go",
		"os.name":         goruntime.GOOS,
		"os.arch":         goruntime.GOARCH,
		"file.separator":  string(os.PathSeparator),
		"path.separator":  string(os.PathListSeparator),
		"line.separator":  "\n",
		"j4go.runtime.id": rt.id.String(),
	}
	for k, v := range opts.Properties {
		rt.props[k] = v
	}

	for _, name := range []string{"java.lang.Object", "java.lang.String", "java.lang.Throwable"} {
		c, err := rt.FindClass(name)
		if err != nil {
			return nil, fmt.Errorf("jvm: bootstrap: %w", err)
		}
		if name == "java.lang.String" {
			rt.stringClass = c
		}
	}
	rt.log.Info("runtime created", zap.Int("max_frame_depth", opts.MaxFrameDepth),
		zap.Bool("check_jni", opts.CheckJNI), zap.Bool("verbose_jni", opts.VerboseJNI))
	return rt, nil
}

// ID identifies the runtime in logs.
func (rt *Runtime) ID() uuid.UUID { return rt.id }

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() *zap.Logger { return rt.log }

// Stdout is where System.out writes.
func (rt *Runtime) Stdout() io.Writer { return rt.opts.Stdout }

// Stderr is where System.err and uncaught exceptions write.
func (rt *Runtime) Stderr() io.Writer { return rt.opts.Stderr }

// Property returns a system property.
func (rt *Runtime) Property(key string) (string, bool) {
	v, ok := rt.props[key]
	return v, ok
}

// FindClass loads and links a class by binary name. Primitive type names
// and array names ([I, [Ljava.lang.String;) are synthesized.
func (rt *Runtime) FindClass(name string) (*Class, error) {
	rt.classMu.RLock()
	c, ok := rt.classes[name]
	rt.classMu.RUnlock()
	if ok {
		return c, nil
	}
	rt.classMu.Lock()
	defer rt.classMu.Unlock()
	return rt.loadLocked(name)
}

func (rt *Runtime) loadLocked(name string) (*Class, error) {
	if c, ok := rt.classes[name]; ok {
		return c, nil
	}
	if rt.loading[name] {
		return nil, fmt.Errorf("class circularity: %s", name)
	}
	rt.loading[name] = true
	defer delete(rt.loading, name)

	var c *Class
	switch {
	case classfile.IsPrimitiveName(name):
		c = &Class{Name: name, primitive: true, Flags: classfile.AccPublic | classfile.AccFinal | classfile.AccAbstract}
		c.initState = classInitialized
	case strings.HasPrefix(name, "["):
		elem, err := classfile.TypeName(classfile.InternalName(name[1:]))
		if err != nil || elem == "void" {
			return nil, fmt.Errorf("invalid array class %s: %w", name, ErrClassNotFound)
		}
		comp, err := rt.loadLocked(elem)
		if err != nil {
			return nil, err
		}
		object, err := rt.loadLocked("java.lang.Object")
		if err != nil {
			return nil, err
		}
		c = &Class{
			Name:      name,
			SuperName: object.Name,
			Super:     object,
			Component: comp,
			Flags:     classfile.AccPublic | classfile.AccFinal | classfile.AccAbstract,
		}
		c.initState = classInitialized
	default:
		loaded, err := rt.opts.Loader.LoadClass(name)
		if err != nil {
			return nil, err
		}
		if loaded.Name != name {
			return nil, fmt.Errorf("loader returned %s for %s: %w", loaded.Name, name, ErrClassNotFound)
		}
		if err := rt.linkLocked(loaded); err != nil {
			return nil, fmt.Errorf("linking %s: %w", name, err)
		}
		c = loaded
	}
	c.initCond = sync.NewCond(&c.initMu)
	rt.classes[name] = c
	return c, nil
}

func (rt *Runtime) linkLocked(c *Class) error {
	if c.SuperName != "" {
		super, err := rt.loadLocked(c.SuperName)
		if err != nil {
			return err
		}
		if super.IsInterface() {
			return fmt.Errorf("super class %s is an interface", super.Name)
		}
		c.Super = super
	}
	c.Interfaces = c.Interfaces[:0]
	for _, name := range c.InterfaceNames {
		iface, err := rt.loadLocked(name)
		if err != nil {
			return err
		}
		if !iface.IsInterface() {
			return fmt.Errorf("%s is not an interface", name)
		}
		c.Interfaces = append(c.Interfaces, iface)
	}

	for _, f := range c.Fields {
		if !f.Static {
			continue
		}
		if _, ok := c.GetStatic(f.Name); !ok {
			c.SetStatic(f.Name, ZeroValue(f.Type))
		}
	}
	if c.File != nil {
		for _, fi := range c.File.Fields {
			if fi.ConstantValue == 0 || !fi.IsStatic() {
				continue
			}
			v, err := rt.constant(c.File.ConstantPool, fi.ConstantValue)
			if err != nil {
				return fmt.Errorf("constant value of %s: %w", fi.Name, err)
			}
			c.SetStatic(fi.Name, v)
		}
	}
	c.initState = classLinked
	return nil
}

// constant materializes a loadable constant other than a class literal.
func (rt *Runtime) constant(pool []classfile.ConstantPoolEntry, idx uint16) (Value, error) {
	if int(idx) >= len(pool) || pool[idx] == nil {
		return Value{}, fmt.Errorf("invalid constant pool index %d", idx)
	}
	switch c := pool[idx].(type) {
	case *classfile.ConstantInteger:
		return IntValue(c.Value), nil
	case *classfile.ConstantFloat:
		return FloatValue(c.Value), nil
	case *classfile.ConstantLong:
		return LongValue(c.Value), nil
	case *classfile.ConstantDouble:
		return DoubleValue(c.Value), nil
	case *classfile.ConstantString:
		s, err := classfile.GetUtf8(pool, c.StringIndex)
		if err != nil {
			return Value{}, err
		}
		return RefValue(rt.Intern(s)), nil
	}
	return Value{}, fmt.Errorf("unsupported constant at %d (tag=%d)", idx, pool[idx].Tag())
}

// ArrayClassName returns the name of the array class whose elements have the
// given type: int -> [I, java.lang.String -> [Ljava.lang.String;.
func ArrayClassName(elem string) string {
	return classfile.BinaryName("[" + classfile.TypeDescriptor(elem))
}

// RegisterNatives binds Go functions to methods declared native on a class.
// Keys are a method name, or a name followed by its descriptor when the
// name is overloaded ("docallback(JLjava/lang/Object;)V").
func (rt *Runtime) RegisterNatives(className string, methods map[string]NativeFunc) error {
	cls, err := rt.FindClass(className)
	if err != nil {
		return err
	}
	rt.nativeMu.Lock()
	defer rt.nativeMu.Unlock()
	for key, fn := range methods {
		name, desc := key, ""
		if i := strings.IndexByte(key, '('); i >= 0 {
			name, desc = key[:i], key[i:]
		}
		var target *Method
		for _, m := range cls.Methods {
			if m.Name != name || !m.IsNative() || (desc != "" && m.descriptor != desc) {
				continue
			}
			if target != nil {
				return fmt.Errorf("jvm: native %s.%s is overloaded; give a descriptor", className, name)
			}
			target = m
		}
		if target == nil {
			return fmt.Errorf("jvm: no native method %s.%s%s", className, name, desc)
		}
		rt.natives[nativeKey(target)] = fn
		rt.log.Debug("native registered", zap.Stringer("method", target))
	}
	return nil
}

func nativeKey(m *Method) string {
	return m.Class.Name + "." + m.Name + m.descriptor
}

func (rt *Runtime) native(m *Method) (NativeFunc, bool) {
	rt.nativeMu.RLock()
	defer rt.nativeMu.RUnlock()
	fn, ok := rt.natives[nativeKey(m)]
	return fn, ok
}

func (rt *Runtime) allocate(c *Class) *Object {
	obj := &Object{Class: c, id: rt.objSeq.Add(1)}
	if fields := c.InstanceFields(); len(fields) > 0 {
		obj.fields = make(map[string]Value, len(fields))
		for _, f := range fields {
			obj.fields[f.Name] = ZeroValue(f.Type)
		}
	}
	return obj
}

// NewStringObject creates a java.lang.String.
func (rt *Runtime) NewStringObject(s string) *Object {
	return &Object{Class: rt.stringClass, Native: s, id: rt.objSeq.Add(1)}
}

// Intern returns the canonical String object for s.
func (rt *Runtime) Intern(s string) *Object {
	if obj, ok := rt.interned.Load(s); ok {
		return obj.(*Object)
	}
	obj, _ := rt.interned.LoadOrStore(s, rt.NewStringObject(s))
	return obj.(*Object)
}

// newArray creates a zero-filled array of an array class.
func (rt *Runtime) newArray(c *Class, n int) *Object {
	elems := make([]Value, n)
	zero := ZeroValue(c.Component.Name)
	for i := range elems {
		elems[i] = zero
	}
	return &Object{Class: c, Native: elems, id: rt.objSeq.Add(1)}
}

// ClassObject returns the java.lang.Class mirror of c.
func (rt *Runtime) ClassObject(c *Class) (*Object, error) {
	if obj, ok := rt.classObjects.Load(c); ok {
		return obj.(*Object), nil
	}
	mirror, err := rt.FindClass("java.lang.Class")
	if err != nil {
		return nil, err
	}
	obj, _ := rt.classObjects.LoadOrStore(c, &Object{Class: mirror, Native: c, id: rt.objSeq.Add(1)})
	return obj.(*Object), nil
}

func (rt *Runtime) newGlobal(obj *Object) Ref {
	if obj == nil {
		return 0
	}
	rt.globalMu.Lock()
	defer rt.globalMu.Unlock()
	rt.globalSeq++
	r := globalRefBit | Ref(rt.globalSeq)
	rt.globals[r] = obj
	return r
}

func (rt *Runtime) global(r Ref) (*Object, error) {
	rt.globalMu.Lock()
	defer rt.globalMu.Unlock()
	obj, ok := rt.globals[r]
	if !ok {
		return nil, fmt.Errorf("%w: global %#x", ErrInvalidRef, uint64(r))
	}
	return obj, nil
}

func (rt *Runtime) deleteGlobal(r Ref) error {
	rt.globalMu.Lock()
	defer rt.globalMu.Unlock()
	if _, ok := rt.globals[r]; !ok {
		return fmt.Errorf("%w: global %#x already released or unknown", ErrInvalidRef, uint64(r))
	}
	delete(rt.globals, r)
	return nil
}

// GlobalRefCount returns the number of live global references.
func (rt *Runtime) GlobalRefCount() int {
	rt.globalMu.Lock()
	defer rt.globalMu.Unlock()
	return len(rt.globals)
}

// AttachCurrentThread returns the Env of the calling goroutine, creating it
// on first use.
func (rt *Runtime) AttachCurrentThread(name string) (*Env, error) {
	if rt.destroyed.Load() {
		return nil, ErrDestroyed
	}
	gid := goid.Get()
	if v, ok := rt.envs.Load(gid); ok {
		return v.(*Env), nil
	}
	env := newEnv(rt, gid, name, false)
	rt.envs.Store(gid, env)
	rt.log.Debug("thread attached", zap.String("thread", name), zap.Int64("goid", gid))
	return env, nil
}

// DetachCurrentThread drops the calling goroutine's Env. Threads started by
// the runtime cannot be detached.
func (rt *Runtime) DetachCurrentThread() error {
	gid := goid.Get()
	v, ok := rt.envs.Load(gid)
	if !ok {
		return ErrNotAttached
	}
	env := v.(*Env)
	if env.hostOwned {
		return fmt.Errorf("%w: %s", ErrHostThread, env.name)
	}
	rt.envs.Delete(gid)
	env.detach()
	rt.log.Debug("thread detached", zap.String("thread", env.name), zap.Int64("goid", gid))
	return nil
}

// CurrentEnv returns the calling goroutine's Env, if attached.
func (rt *Runtime) CurrentEnv() (*Env, bool) {
	v, ok := rt.envs.Load(goid.Get())
	if !ok {
		return nil, false
	}
	return v.(*Env), true
}

// AttachedThreads returns the number of attached goroutines, host threads included.
func (rt *Runtime) AttachedThreads() int {
	n := 0
	rt.envs.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Go starts a runtime-owned thread. Uncaught exceptions and errors are
// reported on Stderr and logged; they never stop the runtime.
func (rt *Runtime) Go(name string, fn func(env *Env) error) error {
	rt.lifeMu.Lock()
	defer rt.lifeMu.Unlock()
	if rt.destroyed.Load() {
		return ErrDestroyed
	}
	rt.threads.Add(1)
	go func() {
		defer rt.threads.Done()
		gid := goid.Get()
		env := newEnv(rt, gid, name, true)
		rt.envs.Store(gid, env)
		defer func() {
			if r := recover(); r != nil {
				rt.log.Error("host thread panicked", zap.String("thread", name), zap.Any("panic", r), zap.Stack("stack"))
			}
			rt.envs.Delete(gid)
			env.detach()
		}()

		err := fn(env)
		if err == nil && env.pending != nil {
			err = &JavaException{Object: env.pending}
			env.pending = nil
		}
		if err != nil {
			rt.uncaught(name, err)
		}
	}()
	return nil
}

func (rt *Runtime) uncaught(thread string, err error) {
	rt.log.Warn("uncaught exception", zap.String("thread", thread), zap.Error(err))
	fmt.Fprintf(rt.opts.Stderr, "Exception in thread %q %v\n", thread, err)
}

// Destroyed reports whether Destroy has been called.
func (rt *Runtime) Destroyed() bool { return rt.destroyed.Load() }

// Destroy stops accepting new threads, waits for host threads until ctx is
// done and releases every global reference.
func (rt *Runtime) Destroy(ctx context.Context) error {
	rt.lifeMu.Lock()
	if rt.destroyed.Load() {
		rt.lifeMu.Unlock()
		return nil
	}
	rt.destroyed.Store(true)
	rt.lifeMu.Unlock()

	done := make(chan struct{})
	go func() {
		rt.threads.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("jvm: waiting for host threads: %w", ctx.Err())
	}

	rt.globalMu.Lock()
	leaked := len(rt.globals)
	if rt.opts.CheckJNI {
		for r, obj := range rt.globals {
			rt.log.Warn("global reference leaked", zap.Uint64("ref", uint64(r)), zap.String("class", obj.Class.Name))
		}
	}
	rt.globals = make(map[Ref]*Object)
	rt.globalMu.Unlock()

	if closer, ok := rt.opts.Loader.(io.Closer); ok {
		err = multierr.Append(err, closer.Close())
	}
	rt.log.Info("runtime destroyed", zap.Int("leaked_globals", leaked))
	return err
}
