package j4go

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/daimatz/j4go/pkg/jvm"
)

// VoidClass is the class name of the Instance returned by void methods.
const VoidClass = "void"

// Instance owns a global reference to one managed object. The object
// stays alive until Close, which is idempotent; an Instance that becomes
// unreachable without Close is released by a cleanup as a fallback.
//
// Copying an Instance value does not copy ownership: use Jvm.CloneInstance
// for a second, independent reference.
type Instance struct {
	b         *bridge
	ref       jvm.Ref
	className string

	// payload is the decoded value of strings and boxed primitives.
	payload    any
	hasPayload bool

	closed  atomic.Bool
	cleanup runtime.Cleanup
}

// releaser is what the cleanup keeps; it must not reach the Instance.
type releaser struct {
	b   *bridge
	ref jvm.Ref
}

func (b *bridge) newInstance(ref jvm.Ref, className string, payload any, hasPayload bool) *Instance {
	inst := &Instance{
		b:          b,
		ref:        ref,
		className:  className,
		payload:    payload,
		hasPayload: hasPayload,
	}
	if ref != 0 {
		b.metrics.LiveInstances.Inc()
		inst.cleanup = runtime.AddCleanup(inst, func(r releaser) {
			r.b.log.Debug("releasing unclosed instance", zap.Uint64("ref", uint64(r.ref)))
			if err := r.b.release(r.ref); err != nil {
				r.b.log.Warn("cleanup release failed", zap.Error(err))
			}
		}, releaser{b: b, ref: ref})
	}
	return inst
}

func (b *bridge) voidInstance() *Instance {
	return &Instance{b: b, className: VoidClass}
}

func (b *bridge) nullInstance(className string) *Instance {
	return &Instance{b: b, className: className}
}

// release deletes a global reference from whatever goroutine runs it,
// attaching transiently when the goroutine is not attached.
func (b *bridge) release(ref jvm.Ref) (err error) {
	b.metrics.LiveInstances.Dec()
	if b.rt.Destroyed() {
		return nil
	}
	env, ok := b.currentEnv()
	if !ok {
		env, err = b.rt.AttachCurrentThread("j4go-release")
		if err != nil {
			return wrapError(KindAttach, "release", err)
		}
		defer func() {
			if derr := b.rt.DetachCurrentThread(); derr != nil {
				b.log.Warn("detach after release failed", zap.Error(derr))
			}
		}()
	}
	if err := env.DeleteGlobalRef(ref); err != nil {
		return runtimeError("release", err)
	}
	return nil
}

// ClassName is the class the Instance is typed as: the runtime class of
// results, the declared type of null results, or the target of a Cast.
func (i *Instance) ClassName() string { return i.className }

// IsNull reports whether the Instance holds the null reference.
func (i *Instance) IsNull() bool { return i.ref == 0 && i.className != VoidClass }

// IsVoid reports whether the Instance is the result of a void method.
func (i *Instance) IsVoid() bool { return i.ref == 0 && i.className == VoidClass }

// Ref returns the global reference, valid until Close.
func (i *Instance) Ref() jvm.Ref { return i.ref }

// Closed reports whether Close has been called.
func (i *Instance) Closed() bool { return i.closed.Load() }

// Close releases the reference. Later calls do nothing.
func (i *Instance) Close() error {
	if !i.closed.CompareAndSwap(false, true) || i.ref == 0 {
		return nil
	}
	i.cleanup.Stop()
	return i.b.release(i.ref)
}

func (i *Instance) String() string {
	switch {
	case i.IsVoid():
		return "Instance(void)"
	case i.IsNull():
		return fmt.Sprintf("Instance(%s null)", i.className)
	}
	return fmt.Sprintf("Instance(%s %#x)", i.className, uint64(i.ref))
}

// usable fails for nil and closed instances, and for instances of a
// runtime other than b's: references are only meaningful to the runtime
// that issued them.
func (i *Instance) usable(b *bridge, op string) error {
	if i == nil {
		return newError(KindConversion, op, "nil instance")
	}
	if i.b != b {
		return newError(KindConversion, op, "instance belongs to another runtime")
	}
	if i.closed.Load() {
		return newError(KindConversion, op, "instance is closed")
	}
	return nil
}
