package j4go

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/daimatz/j4go/pkg/jvm"
	"github.com/daimatz/j4go/pkg/native"
)

// Callback receives an object delivered by the managed side. It runs
// synchronously on the delivering thread with a Jvm that never detaches
// it, so it should return quickly or hand the work to another goroutine.
type Callback func(j *Jvm, inst *Instance)

// registry maps the numeric tokens handed to the managed side to the
// native targets of their deliveries. Token 0 is never issued.
type registry[T any] struct {
	mu      sync.RWMutex
	next    int64
	entries map[int64]T
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{entries: make(map[int64]T)}
}

func (r *registry[T]) add(v T) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.entries[r.next] = v
	return r.next
}

func (r *registry[T]) get(token int64) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[token]
	return v, ok
}

func (r *registry[T]) remove(token int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, token)
}

func (r *registry[T]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// drain empties the registry and returns what it held.
func (r *registry[T]) drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, 0, len(r.entries))
	for _, v := range r.entries {
		out = append(out, v)
	}
	r.entries = make(map[int64]T)
	return out
}

// producer is the sending side of one InvokeToChannel registration. ch is
// never closed; done is closed when the receiver closes.
type producer struct {
	token int64
	ch    chan *Instance
	done  chan struct{}
	once  sync.Once

	// registrar is the goroutine running InvokeToChannel, 0 once the
	// receiver has been handed out.
	registrar atomic.Int64
}

var (
	errDeliveryClosed = errors.New("delivery to a closed receiver")
	errChannelFull    = errors.New("buffer is full and the receiver is not returned yet")
)

// send blocks while the buffer is full, until the receiver reads or closes.
// Deliveries made by the registering goroutine itself cannot wait for a
// receiver that does not exist yet, so they fail instead.
func (p *producer) send(inst *Instance) error {
	select {
	case <-p.done:
		return errDeliveryClosed
	default:
	}
	if p.registrar.Load() == goid.Get() {
		select {
		case p.ch <- inst:
			return nil
		default:
			return errChannelFull
		}
	}
	select {
	case p.ch <- inst:
		return nil
	case <-p.done:
		return errDeliveryClosed
	}
}

// close unregisters the producer and releases undelivered instances.
func (p *producer) close(b *bridge) error {
	var err error
	p.once.Do(func() {
		close(p.done)
		b.channels.remove(p.token)
		for {
			select {
			case inst := <-p.ch:
				err = multierr.Append(err, inst.Close())
			default:
				return
			}
		}
	})
	return err
}

// InstanceReceiver yields the Instances delivered to one InvokeToChannel
// registration, in delivery order.
type InstanceReceiver struct {
	b *bridge
	p *producer
}

// Token is the number the managed side delivers to.
func (r *InstanceReceiver) Token() int64 { return r.p.token }

// Chan exposes the buffer for select statements. It is never closed; use
// Done to observe Close.
func (r *InstanceReceiver) Chan() <-chan *Instance { return r.p.ch }

// Done is closed by Close.
func (r *InstanceReceiver) Done() <-chan struct{} { return r.p.done }

// Recv blocks until an Instance is delivered or the receiver is closed.
func (r *InstanceReceiver) Recv() (*Instance, error) {
	return r.RecvContext(context.Background())
}

// RecvTimeout is Recv giving up after d with an error wrapping ErrTimeout.
func (r *InstanceReceiver) RecvTimeout(d time.Duration) (*Instance, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return r.RecvContext(ctx)
}

// RecvContext is Recv bounded by ctx.
func (r *InstanceReceiver) RecvContext(ctx context.Context) (*Instance, error) {
	select {
	case <-r.p.done:
		return nil, wrapError(KindChannel, "recv", ErrClosed)
	default:
	}
	select {
	case inst := <-r.p.ch:
		return inst, nil
	case <-r.p.done:
		return nil, wrapError(KindChannel, "recv", ErrClosed)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, wrapError(KindChannel, "recv", ErrTimeout)
		}
		return nil, wrapError(KindChannel, "recv", ctx.Err())
	}
}

// Close ends the registration. Later deliveries fail on the managed side
// with IllegalStateException; buffered Instances are released.
func (r *InstanceReceiver) Close() error {
	if err := r.p.close(r.b); err != nil {
		return wrapError(KindChannel, "close receiver", err)
	}
	return nil
}

// InvokeAsync registers cb and calls method on inst, which must extend
// NativeCallbackSupport. Objects the instance passes to doCallback, now or
// later and from any thread, are handed to cb. The registration lasts
// until Shutdown.
//
// The object's token field holds this registration's token while method
// runs. A thread that reads it after method returns may see the token of a
// newer registration on the same object.
func (j *Jvm) InvokeAsync(inst *Instance, method string, cb Callback, args ...InvocationArg) error {
	op := "invoke async " + method
	if cb == nil {
		j.b.consume(op, args)
		return newError(KindConversion, op, "nil callback")
	}
	token := j.b.callbacks.add(cb)
	if err := j.register(op, inst, native.CallbackSupportClass, token, method, args); err != nil {
		j.b.callbacks.remove(token)
		return err
	}
	return nil
}

// InvokeToChannel calls method on inst, which must extend
// NativeCallbackToChannelSupport, and returns a receiver for the objects
// the instance passes to doCallback.
//
// Deliveries made synchronously by method, on the calling goroutine, go
// into the buffer without waiting; once it is full they throw
// IllegalStateException to the managed side. Deliveries from other
// threads wait for the receiver. As with InvokeAsync, the token field is
// only guaranteed to hold this registration's token while method runs: a
// thread that reads it later may see a newer registration's token.
func (j *Jvm) InvokeToChannel(inst *Instance, method string, args ...InvocationArg) (*InstanceReceiver, error) {
	op := "invoke to channel " + method
	p := &producer{ch: make(chan *Instance, j.b.capacity), done: make(chan struct{})}
	p.registrar.Store(goid.Get())
	defer p.registrar.Store(0)
	p.token = j.b.channels.add(p)
	if err := j.register(op, inst, native.ChannelSupportClass, p.token, method, args); err != nil {
		_ = p.close(j.b)
		return nil, err
	}
	return &InstanceReceiver{b: j.b, p: p}, nil
}

// register hands token to inst and calls method while holding the object's
// monitor, so concurrent registrations on one object cannot overwrite each
// other's token while the method runs. A token the method reads after it
// returns is not protected.
func (j *Jvm) register(op string, inst *Instance, supportClass string, token int64, method string, args []InvocationArg) (err error) {
	defer func() {
		if err != nil {
			j.b.consume(op, args)
		}
	}()
	if err := inst.usable(j.b, op); err != nil {
		return err
	}
	if inst.ref == 0 {
		return newError(KindConversion, op, "cannot register callbacks on "+inst.String())
	}
	env, done, err := j.env(op)
	if err != nil {
		return err
	}
	defer done()
	support, err := j.b.findClass(env, op, supportClass)
	if err != nil {
		return err
	}
	ok, err := env.IsInstanceOf(inst.ref, support)
	if err != nil {
		return runtimeError(op, err)
	}
	if !ok {
		return newError(KindResolution, op, fmt.Sprintf("%s does not extend %s", inst.className, supportClass))
	}
	obj, err := env.Unwrap(inst.ref)
	if err != nil {
		return runtimeError(op, err)
	}
	env.MonitorEnter(obj)
	defer func() {
		if merr := env.MonitorExit(obj); merr != nil {
			j.b.log.Warn("monitor exit", zap.Error(merr))
		}
	}()

	initialize := support.LookupMethod("initialize", "(J)V")
	if initialize == nil {
		return newError(KindResolution, op, supportClass+".initialize(long) is missing")
	}
	_, err = env.CallMethod(inst.ref, initialize, jvm.JLong(token))
	if err := j.b.check(env, op, err); err != nil {
		return err
	}
	res, err := j.Invoke(inst, method, args...)
	if err != nil {
		return err
	}
	return res.Close()
}

// docallback is the native NativeCallbackSupport.docallback(long, Object).
func (b *bridge) docallback(env *jvm.Env, _ jvm.Ref, args []jvm.JValue) (jvm.JValue, error) {
	token := args[0].Int
	cb, ok := b.callbacks.get(token)
	if !ok {
		b.metrics.Deliveries.WithLabelValues("function", "rejected").Inc()
		return jvm.JValue{}, env.Exceptionf("java.lang.IllegalStateException", "no callback registered for token %d", token)
	}
	inst, err := b.adopt(env, "callback", args[1], "java.lang.Object")
	if err != nil {
		b.metrics.Deliveries.WithLabelValues("function", "rejected").Inc()
		return jvm.JValue{}, err
	}
	if err := b.runCallback(cb, inst); err != nil {
		b.metrics.Deliveries.WithLabelValues("function", "rejected").Inc()
		return jvm.JValue{}, env.Exception("java.lang.RuntimeException", err.Error())
	}
	b.metrics.Deliveries.WithLabelValues("function", "ok").Inc()
	return jvm.JValue{Type: jvm.TypeVoid}, nil
}

func (b *bridge) runCallback(cb Callback, inst *Instance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("callback panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("native callback panicked: %v", r)
		}
	}()
	cb(b.callbackJvm(), inst)
	return nil
}

// docallbacktochannel is the native
// NativeCallbackToChannelSupport.docallbacktochannel(long, Object).
func (b *bridge) docallbacktochannel(env *jvm.Env, _ jvm.Ref, args []jvm.JValue) (jvm.JValue, error) {
	token := args[0].Int
	p, ok := b.channels.get(token)
	if !ok {
		b.metrics.Deliveries.WithLabelValues("channel", "rejected").Inc()
		b.log.Warn("delivery to closed channel", zap.Int64("token", token), zap.String("thread", env.Name()))
		return jvm.JValue{}, env.Exceptionf("java.lang.IllegalStateException", "callback channel %d is closed", token)
	}
	inst, err := b.adopt(env, "channel delivery", args[1], "java.lang.Object")
	if err != nil {
		b.metrics.Deliveries.WithLabelValues("channel", "rejected").Inc()
		return jvm.JValue{}, err
	}
	if err := p.send(inst); err != nil {
		b.metrics.Deliveries.WithLabelValues("channel", "rejected").Inc()
		if cerr := inst.Close(); cerr != nil {
			b.log.Warn("releasing undelivered instance", zap.Error(cerr))
		}
		b.log.Warn("channel delivery rejected", zap.Int64("token", token), zap.String("thread", env.Name()), zap.Error(err))
		return jvm.JValue{}, env.Exceptionf("java.lang.IllegalStateException", "callback channel %d: %v", token, err)
	}
	b.metrics.Deliveries.WithLabelValues("channel", "ok").Inc()
	return jvm.JValue{Type: jvm.TypeVoid}, nil
}
