package native

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/daimatz/j4go/pkg/jvm"
)

const (
	tThread   = "java.lang.Thread"
	tRunnable = "java.lang.Runnable"
)

var threadSeq atomic.Int64

// thread is the state behind a java.lang.Thread. Each started thread runs
// on its own host-owned Env through Runtime.Go.
type thread struct {
	mu      sync.Mutex
	name    string
	target  *jvm.Object
	started bool
	done    chan struct{}
}

func threadOf(this *jvm.Object) *thread {
	if t, ok := this.Native.(*thread); ok {
		return t
	}
	t := &thread{name: fmt.Sprintf("Thread-%d", threadSeq.Add(1)-1), done: make(chan struct{})}
	this.Native = t
	return t
}

func threadClasses() []*jvm.Class {
	runnable := jvm.NewInterface(tRunnable).AbstractMethod("run", nil, "void")

	setup := func(this *jvm.Object, target *jvm.Object, name string) {
		t := threadOf(this)
		t.target = target
		if name != "" {
			t.name = name
		}
	}

	c := jvm.NewClass(tThread, "").
		Implements(tRunnable).
		Constructor(nil, func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			setup(this, nil, "")
			return void()
		}).
		Constructor(params(tRunnable), func(_ *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			setup(this, args[0].Ref, "")
			return void()
		}).
		Constructor(params(tString), func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			name, err := stringArg(env, args[0])
			if err != nil {
				return jvm.Value{}, err
			}
			setup(this, nil, name)
			return void()
		}).
		Constructor(params(tRunnable, tString), func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			name, err := stringArg(env, args[1])
			if err != nil {
				return jvm.Value{}, err
			}
			setup(this, args[0].Ref, name)
			return void()
		}).
		Method("run", nil, "void", func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			if target := threadOf(this).target; target != nil {
				return env.InvokeVirtual(target, "run", "()V")
			}
			return void()
		}).
		Method("start", nil, "void", startThread).
		Method("join", nil, "void", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			t := threadOf(this)
			t.mu.Lock()
			started := t.started
			t.mu.Unlock()
			if started {
				<-t.done
			}
			return void()
		}).
		Method("join", params("long"), "void", func(_ *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			t := threadOf(this)
			t.mu.Lock()
			started := t.started
			t.mu.Unlock()
			if !started {
				return void()
			}
			if args[0].Int <= 0 {
				<-t.done
				return void()
			}
			timer := time.NewTimer(time.Duration(args[0].Int) * time.Millisecond)
			defer timer.Stop()
			select {
			case <-t.done:
			case <-timer.C:
			}
			return void()
		}).
		Method("isAlive", nil, "boolean", func(_ *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			t := threadOf(this)
			t.mu.Lock()
			defer t.mu.Unlock()
			if !t.started {
				return jvm.BoolValue(false), nil
			}
			select {
			case <-t.done:
				return jvm.BoolValue(false), nil
			default:
				return jvm.BoolValue(true), nil
			}
		}).
		Method("getName", nil, tString, func(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
			t := threadOf(this)
			t.mu.Lock()
			defer t.mu.Unlock()
			return StringValue(env, t.name), nil
		}).
		Method("setName", params(tString), "void", func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			name, err := stringArg(env, args[0])
			if err != nil {
				return jvm.Value{}, err
			}
			t := threadOf(this)
			t.mu.Lock()
			t.name = name
			t.mu.Unlock()
			return void()
		}).
		// every host thread is a daemon: Destroy waits only until its deadline
		Method("setDaemon", params("boolean"), "void", func(*jvm.Env, *jvm.Object, []jvm.Value) (jvm.Value, error) {
			return void()
		}).
		StaticMethod("sleep", params("long"), "void", func(env *jvm.Env, _ *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			if args[0].Int < 0 {
				return jvm.Value{}, env.Exception("java.lang.IllegalArgumentException", "timeout value is negative")
			}
			time.Sleep(time.Duration(args[0].Int) * time.Millisecond)
			return void()
		})
	return []*jvm.Class{runnable, c}
}

func startThread(env *jvm.Env, this *jvm.Object, _ []jvm.Value) (jvm.Value, error) {
	t := threadOf(this)
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return jvm.Value{}, env.Exception("java.lang.IllegalThreadStateException", "")
	}
	t.started = true
	name := t.name
	t.mu.Unlock()

	err := env.Runtime().Go(name, func(env *jvm.Env) error {
		defer close(t.done)
		_, err := env.InvokeVirtual(this, "run", "()V")
		return err
	})
	if err != nil {
		close(t.done)
		return jvm.Value{}, env.Exceptionf("java.lang.IllegalStateException", "starting %s: %v", name, err)
	}
	return void()
}
