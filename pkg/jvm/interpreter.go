package jvm

import (
	"errors"
	"fmt"

	"github.com/daimatz/j4go/pkg/classfile"
)

// interpret executes a bytecode method. Exceptions thrown inside the method
// are dispatched through its exception table.
func (env *Env) interpret(m *Method, this *Object, args []Value) (Value, error) {
	f := NewFrame(m)
	idx := 0
	if this != nil {
		f.SetLocal(0, RefValue(this))
		idx = 1
	}
	for _, a := range args {
		f.SetLocal(idx, a)
		idx++
		if a.Type.category2() {
			idx++
		}
	}

	for {
		ret, err := env.run(f)
		if err == nil {
			return ret, nil
		}
		var je *JavaException
		if !errors.As(err, &je) {
			return Value{}, err
		}
		handler, ok := env.findHandler(f, je.Object)
		if !ok {
			return Value{}, je
		}
		f.SP = 0
		f.Push(RefValue(je.Object))
		f.PC = handler
	}
}

func (env *Env) run(f *Frame) (ret Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = env.Exceptionf("java.lang.InternalError", "%s at pc %d: %v", f.Method, f.start, r)
		}
	}()
	for {
		f.start = f.PC
		opcode := f.ReadU8()
		ret, done, err := env.executeInstruction(f, opcode)
		if err != nil {
			return Value{}, env.asThrowable(err, "java.lang.InternalError")
		}
		if done {
			return ret, nil
		}
	}
}

func (env *Env) findHandler(f *Frame, thrown *Object) (int, bool) {
	for _, h := range f.Method.Code.ExceptionHandlers {
		if f.start < int(h.StartPC) || f.start >= int(h.EndPC) {
			continue
		}
		if h.CatchType == 0 {
			return int(h.HandlerPC), true
		}
		name, err := classfile.GetClassName(f.Pool, h.CatchType)
		if err != nil {
			continue
		}
		catch, err := env.rt.FindClass(classfile.BinaryName(name))
		if err != nil {
			continue
		}
		if thrown.Class.IsSubclassOf(catch) {
			return int(h.HandlerPC), true
		}
	}
	return 0, false
}

func (env *Env) executeLdc(f *Frame, index uint16) error {
	if int(index) < len(f.Pool) {
		if c, ok := f.Pool[index].(*classfile.ConstantClass); ok {
			name, err := classfile.GetUtf8(f.Pool, c.NameIndex)
			if err != nil {
				return err
			}
			cls, err := env.resolveClass(classfile.BinaryName(name))
			if err != nil {
				return err
			}
			mirror, err := env.rt.ClassObject(cls)
			if err != nil {
				return err
			}
			f.Push(RefValue(mirror))
			return nil
		}
	}
	v, err := env.rt.constant(f.Pool, index)
	if err != nil {
		return fmt.Errorf("ldc: %w", err)
	}
	f.Push(v)
	return nil
}

// resolveField resolves a Fieldref to the declaring class's field.
func (env *Env) resolveField(f *Frame, static bool) (*Field, error) {
	ref, err := classfile.ResolveMemberref(f.Pool, f.ReadU16())
	if err != nil {
		return nil, err
	}
	cls, err := env.resolveClass(classfile.BinaryName(ref.ClassName))
	if err != nil {
		return nil, err
	}
	field := cls.LookupField(ref.Name)
	if field == nil {
		return nil, env.Exception("java.lang.NoSuchFieldError", cls.Name+"."+ref.Name)
	}
	if field.Static != static {
		return nil, env.Exceptionf("java.lang.IncompatibleClassChangeError", "%s.%s static=%v", cls.Name, ref.Name, field.Static)
	}
	return field, nil
}

func (env *Env) executeGetstatic(f *Frame) error {
	field, err := env.resolveField(f, true)
	if err != nil {
		return err
	}
	if err := env.initClass(field.Class); err != nil {
		return err
	}
	v, _ := field.Class.GetStatic(field.Name)
	f.Push(v)
	return nil
}

func (env *Env) executePutstatic(f *Frame) error {
	field, err := env.resolveField(f, true)
	if err != nil {
		return err
	}
	if err := env.initClass(field.Class); err != nil {
		return err
	}
	v, err := coerce(field.Type, f.Pop())
	if err != nil {
		return fmt.Errorf("putstatic %s.%s: %w", field.Class.Name, field.Name, err)
	}
	field.Class.SetStatic(field.Name, v)
	return nil
}

func (env *Env) executeGetfield(f *Frame) error {
	field, err := env.resolveField(f, false)
	if err != nil {
		return err
	}
	obj := f.Pop()
	if obj.IsNull() {
		return env.Exception("java.lang.NullPointerException", "reading field "+field.Name+" of null")
	}
	f.Push(obj.Ref.Field(field.Name))
	return nil
}

func (env *Env) executePutfield(f *Frame) error {
	field, err := env.resolveField(f, false)
	if err != nil {
		return err
	}
	v, err := coerce(field.Type, f.Pop())
	if err != nil {
		return fmt.Errorf("putfield %s.%s: %w", field.Class.Name, field.Name, err)
	}
	obj := f.Pop()
	if obj.IsNull() {
		return env.Exception("java.lang.NullPointerException", "writing field "+field.Name+" of null")
	}
	obj.Ref.SetField(field.Name, v)
	return nil
}

// popArgs pops the arguments of a method descriptor, first argument first.
func popArgs(f *Frame, descriptor string) ([]Value, string, error) {
	params, ret, err := classfile.ParseMethodDescriptor(descriptor)
	if err != nil {
		return nil, "", err
	}
	args := make([]Value, len(params))
	for i := len(params) - 1; i >= 0; i-- {
		args[i] = f.Pop()
	}
	return args, ret, nil
}

func (env *Env) executeInvoke(f *Frame, opcode byte) error {
	ref, err := classfile.ResolveMemberref(f.Pool, f.ReadU16())
	if err != nil {
		return err
	}
	if opcode == OpInvokeinterface {
		f.ReadU8() // count
		f.ReadU8() // 0
	}
	args, ret, err := popArgs(f, ref.Descriptor)
	if err != nil {
		return err
	}
	cls, err := env.resolveClass(classfile.BinaryName(ref.ClassName))
	if err != nil {
		return err
	}

	var (
		m    *Method
		recv *Object
	)
	switch opcode {
	case OpInvokestatic:
		m = cls.LookupMethod(ref.Name, ref.Descriptor)
		if m == nil || !m.IsStatic() {
			return env.Exception("java.lang.NoSuchMethodError", cls.Name+"."+ref.Name+ref.Descriptor)
		}
	case OpInvokespecial:
		this := f.Pop()
		if this.IsNull() {
			return env.Exception("java.lang.NullPointerException", "invoking "+ref.Name+" on null")
		}
		recv = this.Ref
		current := f.Method.Class
		switch {
		case ref.Name == "<init>":
			m = cls.DeclaredMethod(ref.Name, ref.Descriptor)
		case cls != current && current.Super != nil && current.IsSubclassOf(cls) && !cls.IsInterface():
			m = current.Super.LookupMethod(ref.Name, ref.Descriptor)
		default:
			m = cls.LookupMethod(ref.Name, ref.Descriptor)
		}
		if m == nil {
			return env.Exception("java.lang.NoSuchMethodError", cls.Name+"."+ref.Name+ref.Descriptor)
		}
	default:
		this := f.Pop()
		if this.IsNull() {
			return env.Exception("java.lang.NullPointerException", "invoking "+ref.Name+" on null")
		}
		recv = this.Ref
		m = recv.Class.LookupMethod(ref.Name, ref.Descriptor)
		if m == nil {
			return env.Exception("java.lang.AbstractMethodError", recv.Class.Name+"."+ref.Name+ref.Descriptor)
		}
	}

	v, err := env.invoke(m, recv, args)
	if err != nil {
		return err
	}
	if ret != "void" {
		f.Push(v)
	}
	return nil
}

func (env *Env) executeNew(f *Frame) error {
	name, err := classfile.GetClassName(f.Pool, f.ReadU16())
	if err != nil {
		return err
	}
	cls, err := env.resolveClass(classfile.BinaryName(name))
	if err != nil {
		return err
	}
	if cls.IsAbstract() || cls.IsInterface() {
		return env.Exception("java.lang.InstantiationError", cls.Name)
	}
	if err := env.initClass(cls); err != nil {
		return err
	}
	f.Push(RefValue(env.rt.allocate(cls)))
	return nil
}

var newarrayTypes = map[uint8]string{
	4: "boolean", 5: "char", 6: "float", 7: "double",
	8: "byte", 9: "short", 10: "int", 11: "long",
}

func (env *Env) newArray(elemType string, count int32) (*Object, error) {
	if count < 0 {
		return nil, env.Exceptionf("java.lang.NegativeArraySizeException", "%d", count)
	}
	cls, err := env.resolveClass(ArrayClassName(elemType))
	if err != nil {
		return nil, err
	}
	return env.rt.newArray(cls, int(count)), nil
}

func (env *Env) executeAnewarray(f *Frame) error {
	name, err := classfile.GetClassName(f.Pool, f.ReadU16())
	if err != nil {
		return err
	}
	arr, err := env.newArray(classfile.BinaryName(name), f.Pop().I32())
	if err != nil {
		return err
	}
	f.Push(RefValue(arr))
	return nil
}

func (env *Env) executeMultianewarray(f *Frame) error {
	name, err := classfile.GetClassName(f.Pool, f.ReadU16())
	if err != nil {
		return err
	}
	dims := int(f.ReadU8())
	counts := make([]int32, dims)
	for i := dims - 1; i >= 0; i-- {
		counts[i] = f.Pop().I32()
	}
	cls, err := env.resolveClass(classfile.BinaryName(name))
	if err != nil {
		return err
	}
	arr, err := env.buildArray(cls, counts)
	if err != nil {
		return err
	}
	f.Push(RefValue(arr))
	return nil
}

func (env *Env) buildArray(cls *Class, counts []int32) (*Object, error) {
	if counts[0] < 0 {
		return nil, env.Exceptionf("java.lang.NegativeArraySizeException", "%d", counts[0])
	}
	arr := env.rt.newArray(cls, int(counts[0]))
	if len(counts) == 1 {
		return arr, nil
	}
	elems, _ := arr.Elements()
	for i := range elems {
		sub, err := env.buildArray(cls.Component, counts[1:])
		if err != nil {
			return nil, err
		}
		elems[i] = RefValue(sub)
	}
	return arr, nil
}

// arrayAccess pops an index and an array reference and checks bounds.
func (env *Env) arrayAccess(f *Frame) ([]Value, int, *Object, error) {
	index := int(f.Pop().I32())
	ref := f.Pop()
	if ref.IsNull() {
		return nil, 0, nil, env.Exception("java.lang.NullPointerException", "array is null")
	}
	elems, ok := ref.Ref.Elements()
	if !ok {
		return nil, 0, nil, fmt.Errorf("%s is not an array", ref.Ref.Class.Name)
	}
	if index < 0 || index >= len(elems) {
		return nil, 0, nil, env.Exceptionf("java.lang.ArrayIndexOutOfBoundsException",
			"Index %d out of bounds for length %d", index, len(elems))
	}
	return elems, index, ref.Ref, nil
}

func (env *Env) executeArrayLoad(f *Frame) error {
	elems, i, _, err := env.arrayAccess(f)
	if err != nil {
		return err
	}
	f.Push(elems[i])
	return nil
}

func (env *Env) executeArrayStore(f *Frame) error {
	v := f.Pop()
	elems, i, arr, err := env.arrayAccess(f)
	if err != nil {
		return err
	}
	comp := arr.Class.Component
	if !comp.IsPrimitive() && !v.IsNull() && !v.Ref.Class.IsSubclassOf(comp) {
		return env.Exception("java.lang.ArrayStoreException", v.Ref.Class.Name)
	}
	if v, err = coerce(comp.Name, v); err != nil {
		return err
	}
	elems[i] = v
	return nil
}

func (env *Env) executeTypeCheck(f *Frame, opcode byte) error {
	name, err := classfile.GetClassName(f.Pool, f.ReadU16())
	if err != nil {
		return err
	}
	cls, err := env.resolveClass(classfile.BinaryName(name))
	if err != nil {
		return err
	}
	if opcode == OpCheckcast {
		v := f.Peek(0)
		if !v.IsNull() && !v.Ref.Class.IsSubclassOf(cls) {
			return env.Exceptionf("java.lang.ClassCastException", "class %s cannot be cast to class %s", v.Ref.Class.Name, cls.Name)
		}
		return nil
	}
	v := f.Pop()
	f.Push(BoolValue(!v.IsNull() && v.Ref.Class.IsSubclassOf(cls)))
	return nil
}

func (env *Env) executeTableswitch(f *Frame) {
	f.PC = (f.PC + 3) &^ 3
	def := f.ReadI32()
	low := f.ReadI32()
	high := f.ReadI32()
	key := f.Pop().I32()
	if key < low || key > high {
		f.branch(int(def))
		return
	}
	f.PC += int(key-low) * 4
	f.branch(int(f.ReadI32()))
}

func (env *Env) executeLookupswitch(f *Frame) {
	f.PC = (f.PC + 3) &^ 3
	def := f.ReadI32()
	n := int(f.ReadI32())
	key := f.Pop().I32()
	for i := 0; i < n; i++ {
		match := f.ReadI32()
		offset := f.ReadI32()
		if match == key {
			f.branch(int(offset))
			return
		}
	}
	f.branch(int(def))
}
