package jvm

import (
	"fmt"
	"sync"
)

// Object is a managed object. Strings carry their Go string in Native,
// arrays carry []Value; built-in classes implemented in Go keep their own
// state there as well.
type Object struct {
	Class  *Class
	Native any

	id     uint64
	mu     sync.RWMutex
	fields map[string]Value
	mon    *monitor
}

// ID returns the object's identity, stable for its lifetime.
func (o *Object) ID() uint64 { return o.id }

// Field returns the value of an instance field. Unknown fields read as null.
func (o *Object) Field(name string) Value {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.fields[name]
	if !ok {
		return NullValue()
	}
	return v
}

// SetField stores an instance field.
func (o *Object) SetField(name string, v Value) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fields == nil {
		o.fields = make(map[string]Value)
	}
	o.fields[name] = v
}

// HasField reports whether the object's class declares (or inherits) the field.
func (o *Object) HasField(name string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.fields[name]
	return ok
}

// Elements returns the backing slice of an array object.
func (o *Object) Elements() ([]Value, bool) {
	elems, ok := o.Native.([]Value)
	return elems, ok
}

// GoString returns the Go string of a java.lang.String object.
func (o *Object) GoString() (string, bool) {
	if o == nil {
		return "", false
	}
	s, ok := o.Native.(string)
	return s, ok
}

func (o *Object) String() string {
	if o == nil {
		return "null"
	}
	if s, ok := o.GoString(); ok {
		return s
	}
	return fmt.Sprintf("%s@%x", o.Class.Name, o.id)
}
