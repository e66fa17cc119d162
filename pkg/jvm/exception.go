package jvm

import (
	"errors"
	"fmt"
)

var (
	// ErrThrown is returned by Env calls that left a pending exception.
	ErrThrown = errors.New("jvm: exception thrown")
	// ErrExceptionPending is returned when a call is made while an exception
	// is still pending on the Env.
	ErrExceptionPending = errors.New("jvm: exception pending")
	// ErrNotAttached is returned when the current goroutine has no Env.
	ErrNotAttached = errors.New("jvm: thread not attached")
	// ErrHostThread is returned when detaching a thread started by the runtime.
	ErrHostThread = errors.New("jvm: thread is owned by the runtime")
	// ErrDestroyed is returned after Destroy.
	ErrDestroyed = errors.New("jvm: runtime destroyed")
	// ErrInvalidRef is returned for references unknown to the Env or runtime.
	ErrInvalidRef = errors.New("jvm: invalid reference")
	// ErrWrongThread is returned (with -Xcheck:jni) when an Env is used from
	// a goroutine other than the one it belongs to.
	ErrWrongThread = errors.New("jvm: env used from another thread")
)

// JavaException carries a thrown java.lang.Throwable through Go code.
type JavaException struct {
	Object *Object
}

func (e *JavaException) Error() string {
	if msg, ok := e.Message(); ok {
		return e.ClassName() + ": " + msg
	}
	return e.ClassName()
}

// ClassName returns the throwable's class name.
func (e *JavaException) ClassName() string { return e.Object.Class.Name }

// Message returns the detail message, if any.
func (e *JavaException) Message() (string, bool) {
	return e.Object.Field("detailMessage").Ref.GoString()
}

// NewThrowable allocates a throwable of the named class with a detail message
// without running a constructor. An empty message leaves it null.
func (env *Env) NewThrowable(className, msg string) (*Object, error) {
	cls, err := env.rt.FindClass(className)
	if err != nil {
		return nil, err
	}
	if err := env.initClass(cls); err != nil {
		return nil, err
	}
	obj := env.rt.allocate(cls)
	if msg != "" {
		obj.SetField("detailMessage", RefValue(env.rt.NewStringObject(msg)))
	}
	return obj, nil
}

// Exception builds a throwable and returns it as an error for Go methods
// to return.
func (env *Env) Exception(className, msg string) error {
	obj, err := env.NewThrowable(className, msg)
	if err != nil {
		return fmt.Errorf("creating %s(%q): %w", className, msg, err)
	}
	return &JavaException{Object: obj}
}

// Exceptionf is Exception with a formatted message.
func (env *Env) Exceptionf(className, format string, args ...any) error {
	return env.Exception(className, fmt.Sprintf(format, args...))
}

// asThrowable maps a Go error onto a Java throwable. JavaExceptions pass
// through; anything else becomes an instance of className.
func (env *Env) asThrowable(err error, className string) error {
	if err == nil {
		return nil
	}
	var je *JavaException
	if errors.As(err, &je) {
		return je
	}
	if errors.Is(err, ErrThrown) && env.pending != nil {
		obj := env.pending
		env.pending = nil
		return &JavaException{Object: obj}
	}
	return env.Exception(className, err.Error())
}
