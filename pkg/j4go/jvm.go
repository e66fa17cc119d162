// Package j4go calls into a managed runtime from Go: it creates objects,
// invokes methods, and receives objects the managed side hands back
// through callbacks or channels.
//
// A Jvm is a goroutine's view of a runtime. The goroutine that gets it
// from Build, Attach or AttachTo stays attached until Close; any other
// goroutine calling through it is attached for the length of the call.
package j4go

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/daimatz/j4go/pkg/jvm"
	"github.com/daimatz/j4go/pkg/native"
)

// bridge is the state shared by every Jvm over one runtime.
type bridge struct {
	rt       *jvm.Runtime
	log      *zap.Logger
	metrics  *Metrics
	capacity int

	// envs caches the Env of each goroutine the bridge attached, keyed by
	// goroutine id.
	envs sync.Map

	callbacks *registry[Callback]
	channels  *registry[*producer]
}

func newBridge(rt *jvm.Runtime, log *zap.Logger, metrics *Metrics, capacity int) (*bridge, error) {
	b := &bridge{
		rt:        rt,
		log:       log.With(zap.Stringer("runtime", rt.ID())),
		metrics:   metrics,
		capacity:  capacity,
		callbacks: newRegistry[Callback](),
		channels:  newRegistry[*producer](),
	}
	err := multierr.Combine(
		rt.RegisterNatives(native.CallbackSupportClass, map[string]jvm.NativeFunc{
			native.CallbackEntryPoint: b.docallback,
		}),
		rt.RegisterNatives(native.ChannelSupportClass, map[string]jvm.NativeFunc{
			native.ChannelEntryPoint: b.docallbacktochannel,
		}),
	)
	if err != nil {
		return nil, wrapError(KindConfig, "register callback entry points", err)
	}
	return b, nil
}

func nop() {}

// attach returns the calling goroutine's Env. With pin, the goroutine is
// attached and cached until Jvm.Close. Without it, a goroutine that is not
// attached yet is attached for one call: done detaches it again. Envs the
// bridge did not attach, host threads included, are used as they are.
func (b *bridge) attach(pin bool) (env *jvm.Env, done func(), err error) {
	if b.rt.Destroyed() {
		return nil, nop, jvm.ErrDestroyed
	}
	gid := goid.Get()
	if v, ok := b.envs.Load(gid); ok {
		env := v.(*jvm.Env)
		if env.Attached() {
			return env, nop, nil
		}
		b.forget(gid)
	}
	if env, ok := b.rt.CurrentEnv(); ok {
		if pin && !env.IsHostThread() {
			b.keep(gid, env)
		}
		return env, nop, nil
	}
	env, err = b.rt.AttachCurrentThread(fmt.Sprintf("j4go-%d", gid))
	if err != nil {
		return nil, nop, err
	}
	if pin {
		b.keep(gid, env)
		return env, nop, nil
	}
	b.metrics.AttachedThreads.Inc()
	return env, func() {
		b.metrics.AttachedThreads.Dec()
		if b.rt.Destroyed() {
			return
		}
		if err := b.rt.DetachCurrentThread(); err != nil {
			b.log.Warn("detach after call", zap.Int64("goid", gid), zap.Error(err))
		}
	}, nil
}

func (b *bridge) keep(gid int64, env *jvm.Env) {
	if _, loaded := b.envs.LoadOrStore(gid, env); !loaded {
		b.metrics.AttachedThreads.Inc()
	}
}

func (b *bridge) forget(gid int64) {
	if _, ok := b.envs.LoadAndDelete(gid); ok {
		b.metrics.AttachedThreads.Dec()
	}
}

// detach detaches the calling goroutine.
func (b *bridge) detach() error {
	gid := goid.Get()
	err := b.rt.DetachCurrentThread()
	b.forget(gid)
	return err
}

// currentEnv returns the calling goroutine's Env without attaching.
func (b *bridge) currentEnv() (*jvm.Env, bool) {
	if v, ok := b.envs.Load(goid.Get()); ok && v.(*jvm.Env).Attached() {
		return v.(*jvm.Env), true
	}
	return b.rt.CurrentEnv()
}

func (b *bridge) attachJvm(op string) (*Jvm, error) {
	if _, _, err := b.attach(true); err != nil {
		return nil, wrapError(KindAttach, op, err)
	}
	j := &Jvm{b: b}
	j.detachOnClose.Store(true)
	return j, nil
}

// Jvm is the entry point for calls into the runtime. Each call runs on the
// calling goroutine's Env. A Jvm can be shared: goroutines that are not
// attached are attached for each call and detached after it, and Close
// only detaches the goroutine that calls it.
type Jvm struct {
	b             *bridge
	detachOnClose atomic.Bool
	closed        atomic.Bool
}

// Runtime returns the underlying runtime.
func (j *Jvm) Runtime() *jvm.Runtime { return j.b.rt }

// Metrics returns the bridge collectors.
func (j *Jvm) Metrics() *Metrics { return j.b.metrics }

// DetachOnClose sets whether Close detaches the calling goroutine. It is
// true for Jvms from Build and Attach.
func (j *Jvm) DetachOnClose(detach bool) *Jvm {
	j.detachOnClose.Store(detach)
	return j
}

// Close releases the Jvm and, unless suppressed, detaches the calling
// goroutine. Closing twice is a no-op.
func (j *Jvm) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !j.detachOnClose.Load() || j.b.rt.Destroyed() {
		return nil
	}
	if err := j.b.detach(); err != nil {
		j.b.log.Warn("detach failed", zap.Error(err))
		return wrapError(KindAttach, "detach", err)
	}
	return nil
}

// Shutdown closes every callback channel and destroys the runtime,
// waiting for its threads until ctx is done.
func (j *Jvm) Shutdown(ctx context.Context) error {
	b := j.b
	created.remove(b)
	var err error
	for _, p := range b.channels.drain() {
		err = multierr.Append(err, p.close(b))
	}
	b.callbacks.drain()
	err = multierr.Append(err, b.rt.Destroy(ctx))
	b.envs.Range(func(k, _ any) bool {
		b.forget(k.(int64))
		return true
	})
	j.closed.Store(true)
	if err != nil {
		return wrapError(KindAttach, "shutdown", err)
	}
	return nil
}

// env returns the Env for a call made by op. done must be called when the
// call is over, after its local frame is popped.
func (j *Jvm) env(op string) (*jvm.Env, func(), error) {
	if j.closed.Load() {
		return nil, nop, newError(KindAttach, op, "jvm is closed")
	}
	env, done, err := j.b.attach(false)
	if err != nil {
		return nil, nop, wrapError(KindAttach, op, err)
	}
	return env, done, nil
}

// callbackJvm is handed to callbacks running on the delivering thread.
func (b *bridge) callbackJvm() *Jvm {
	return &Jvm{b: b}
}

// runtimeError classifies an error coming straight from the runtime.
func runtimeError(op string, err error) error {
	switch {
	case errors.Is(err, jvm.ErrNotAttached), errors.Is(err, jvm.ErrDestroyed),
		errors.Is(err, jvm.ErrWrongThread), errors.Is(err, jvm.ErrHostThread):
		return wrapError(KindAttach, op, err)
	case errors.Is(err, jvm.ErrClassNotFound):
		return wrapError(KindResolution, op, err)
	case errors.Is(err, jvm.ErrInvalidRef):
		return wrapError(KindConversion, op, err)
	}
	return wrapError(KindInvocation, op, err)
}
