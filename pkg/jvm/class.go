package jvm

import (
	"strings"
	"sync"

	"github.com/daimatz/j4go/pkg/classfile"
)

// GoMethod implements a method in Go. For static methods this is nil.
// A thrown Java exception is returned as a *JavaException error.
type GoMethod func(env *Env, this *Object, args []Value) (Value, error)

// StaticInit runs once when a class is initialized.
type StaticInit func(env *Env, cls *Class) error

// Method describes a constructor (<init>), static initializer (<clinit>) or method.
type Method struct {
	Class  *Class
	Name   string
	Params []string
	Return string
	Flags  uint16

	Impl GoMethod
	Code *classfile.CodeAttribute

	descriptor string
}

// Descriptor returns the JVM method descriptor, e.g. (ILjava/lang/String;)V.
func (m *Method) Descriptor() string { return m.descriptor }

// IsStatic reports whether the method is static.
func (m *Method) IsStatic() bool { return m.Flags&classfile.AccStatic != 0 }

// IsNative reports whether the method is bound through RegisterNatives.
func (m *Method) IsNative() bool { return m.Flags&classfile.AccNative != 0 }

// IsAbstract reports whether the method has no implementation.
func (m *Method) IsAbstract() bool {
	return m.Flags&classfile.AccAbstract != 0 || (m.Impl == nil && m.Code == nil && !m.IsNative())
}

// IsConstructor reports whether the method is an instance initializer.
func (m *Method) IsConstructor() bool { return m.Name == "<init>" }

func (m *Method) String() string {
	return m.Class.Name + "." + m.Name + m.descriptor
}

// Field describes a declared field.
type Field struct {
	Class  *Class
	Name   string
	Type   string
	Static bool
}

type initState int

const (
	classLinked initState = iota
	classInitializing
	classInitialized
	classErroneous
)

// Class is a loaded (or being defined) class, interface, array or primitive type.
// Names use Class.getName() form: java.lang.String, int, [I, [Ljava.lang.String;.
type Class struct {
	Name           string
	SuperName      string
	InterfaceNames []string
	Flags          uint16

	Super      *Class
	Interfaces []*Class
	Component  *Class

	Fields  []*Field
	Methods []*Method

	File   *classfile.ClassFile
	Source string

	primitive bool
	clinit    StaticInit

	staticMu sync.RWMutex
	statics  map[string]Value

	initMu    sync.Mutex
	initCond  *sync.Cond
	initState initState
	initEnv   *Env
	initErr   error
}

// NewClass starts the definition of a Go-implemented class. An empty super
// name is only valid for java.lang.Object and interfaces.
func NewClass(name, super string) *Class {
	if super == "" && name != "java.lang.Object" {
		super = "java.lang.Object"
	}
	return &Class{Name: name, SuperName: super, Flags: classfile.AccPublic}
}

// NewInterface starts the definition of an interface.
func NewInterface(name string, extends ...string) *Class {
	return &Class{
		Name:           name,
		SuperName:      "java.lang.Object",
		InterfaceNames: extends,
		Flags:          classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract,
	}
}

// Implements declares implemented interfaces.
func (c *Class) Implements(names ...string) *Class {
	c.InterfaceNames = append(c.InterfaceNames, names...)
	return c
}

// Abstract marks the class abstract.
func (c *Class) Abstract() *Class {
	c.Flags |= classfile.AccAbstract
	return c
}

// Field declares an instance field.
func (c *Class) Field(name, typeName string) *Class {
	c.Fields = append(c.Fields, &Field{Class: c, Name: name, Type: typeName})
	return c
}

// StaticField declares a static field.
func (c *Class) StaticField(name, typeName string) *Class {
	c.Fields = append(c.Fields, &Field{Class: c, Name: name, Type: typeName, Static: true})
	return c
}

// OnInit sets the Go static initializer.
func (c *Class) OnInit(fn StaticInit) *Class {
	c.clinit = fn
	return c
}

func (c *Class) add(name string, params []string, ret string, flags uint16, impl GoMethod) *Class {
	c.Methods = append(c.Methods, &Method{
		Class:      c,
		Name:       name,
		Params:     params,
		Return:     ret,
		Flags:      flags,
		Impl:       impl,
		descriptor: classfile.MethodDescriptor(params, ret),
	})
	return c
}

// Constructor declares an <init> overload.
func (c *Class) Constructor(params []string, impl GoMethod) *Class {
	return c.add("<init>", params, "void", classfile.AccPublic, impl)
}

// Method declares an instance method.
func (c *Class) Method(name string, params []string, ret string, impl GoMethod) *Class {
	return c.add(name, params, ret, classfile.AccPublic, impl)
}

// AbstractMethod declares an instance method without implementation.
func (c *Class) AbstractMethod(name string, params []string, ret string) *Class {
	return c.add(name, params, ret, classfile.AccPublic|classfile.AccAbstract, nil)
}

// StaticMethod declares a static method.
func (c *Class) StaticMethod(name string, params []string, ret string, impl GoMethod) *Class {
	return c.add(name, params, ret, classfile.AccPublic|classfile.AccStatic, impl)
}

// NativeMethod declares a method bound later through Runtime.RegisterNatives.
func (c *Class) NativeMethod(name string, params []string, ret string, static bool) *Class {
	flags := uint16(classfile.AccPublic | classfile.AccNative)
	if static {
		flags |= classfile.AccStatic
	}
	return c.add(name, params, ret, flags, nil)
}

// DefineClassFile converts a parsed class file into an unlinked Class.
func DefineClassFile(cf *classfile.ClassFile) (*Class, error) {
	internal, err := cf.ClassName()
	if err != nil {
		return nil, err
	}
	ifaces, err := cf.InterfaceNames()
	if err != nil {
		return nil, err
	}
	c := &Class{
		Name:      classfile.BinaryName(internal),
		SuperName: classfile.BinaryName(cf.SuperClassName()),
		Flags:     cf.AccessFlags,
		File:      cf,
		Source:    cf.SourceFile,
	}
	for _, name := range ifaces {
		c.InterfaceNames = append(c.InterfaceNames, classfile.BinaryName(name))
	}
	for i := range cf.Fields {
		f := &cf.Fields[i]
		typeName, err := classfile.TypeName(f.Descriptor)
		if err != nil {
			return nil, err
		}
		c.Fields = append(c.Fields, &Field{Class: c, Name: f.Name, Type: typeName, Static: f.IsStatic()})
	}
	for i := range cf.Methods {
		mi := &cf.Methods[i]
		params, ret, err := classfile.ParseMethodDescriptor(mi.Descriptor)
		if err != nil {
			return nil, err
		}
		c.Methods = append(c.Methods, &Method{
			Class:      c,
			Name:       mi.Name,
			Params:     params,
			Return:     ret,
			Flags:      mi.AccessFlags,
			Code:       mi.Code,
			descriptor: mi.Descriptor,
		})
	}
	return c, nil
}

// IsInterface reports whether the class is an interface.
func (c *Class) IsInterface() bool { return c.Flags&classfile.AccInterface != 0 }

// IsAbstract reports whether the class cannot be instantiated.
func (c *Class) IsAbstract() bool { return c.Flags&classfile.AccAbstract != 0 }

// IsPrimitive reports whether the class represents a primitive type.
func (c *Class) IsPrimitive() bool { return c.primitive }

// IsArray reports whether the class is an array type.
func (c *Class) IsArray() bool { return c.Component != nil }

// DeclaredMethod finds a method declared directly on the class.
func (c *Class) DeclaredMethod(name, descriptor string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.descriptor == descriptor {
			return m
		}
	}
	return nil
}

// LookupMethod finds a method by name and descriptor in the class, its super
// classes and then its interfaces (default methods).
func (c *Class) LookupMethod(name, descriptor string) *Method {
	for k := c; k != nil; k = k.Super {
		if m := k.DeclaredMethod(name, descriptor); m != nil {
			return m
		}
	}
	for k := c; k != nil; k = k.Super {
		for _, iface := range k.Interfaces {
			if m := iface.LookupMethod(name, descriptor); m != nil && !m.IsAbstract() {
				return m
			}
		}
	}
	return nil
}

// MethodsNamed returns the overloads visible on the class for a name,
// most-derived first, skipping overridden signatures. Constructors are
// never inherited.
func (c *Class) MethodsNamed(name string) []*Method {
	var out []*Method
	seen := make(map[string]bool)
	visit := func(k *Class) {
		for _, m := range k.Methods {
			if m.Name != name || seen[m.descriptor] {
				continue
			}
			seen[m.descriptor] = true
			out = append(out, m)
		}
	}
	if name == "<init>" {
		visit(c)
		return out
	}
	var ifaces []*Class
	for k := c; k != nil; k = k.Super {
		visit(k)
		ifaces = append(ifaces, k.Interfaces...)
	}
	for len(ifaces) > 0 {
		iface := ifaces[0]
		ifaces = ifaces[1:]
		visit(iface)
		ifaces = append(ifaces, iface.Interfaces...)
	}
	return out
}

// LookupField finds a field by name in the class hierarchy.
func (c *Class) LookupField(name string) *Field {
	for k := c; k != nil; k = k.Super {
		for _, f := range k.Fields {
			if f.Name == name {
				return f
			}
		}
		for _, iface := range k.Interfaces {
			if f := iface.LookupField(name); f != nil {
				return f
			}
		}
	}
	return nil
}

// IsSubclassOf reports whether c is other or inherits from it (class or interface).
func (c *Class) IsSubclassOf(other *Class) bool {
	return c.Distance(other) >= 0
}

// Distance returns the number of inheritance steps from c to other, or -1
// when c is not assignable to other.
func (c *Class) Distance(other *Class) int {
	if c == other {
		return 0
	}
	if c.primitive || other.primitive {
		return -1
	}
	if c.IsArray() {
		if other.Name == "java.lang.Object" {
			return 1
		}
		if other.IsArray() && !c.Component.primitive && !other.Component.primitive {
			return c.Component.Distance(other.Component)
		}
		return -1
	}
	best := -1
	consider := func(d int) {
		if d >= 0 && (best < 0 || d+1 < best) {
			best = d + 1
		}
	}
	if c.Super != nil {
		consider(c.Super.Distance(other))
	}
	for _, iface := range c.Interfaces {
		consider(iface.Distance(other))
	}
	if best < 0 && c.IsInterface() && other.Name == "java.lang.Object" {
		return 1
	}
	return best
}

// InstanceFields returns every non-static field of the class and its supers,
// super-most first.
func (c *Class) InstanceFields() []*Field {
	var chain []*Class
	for k := c; k != nil; k = k.Super {
		chain = append(chain, k)
	}
	var out []*Field
	for i := len(chain) - 1; i >= 0; i-- {
		for _, f := range chain[i].Fields {
			if !f.Static {
				out = append(out, f)
			}
		}
	}
	return out
}

// GetStatic reads a static field declared on this class.
func (c *Class) GetStatic(name string) (Value, bool) {
	c.staticMu.RLock()
	defer c.staticMu.RUnlock()
	v, ok := c.statics[name]
	return v, ok
}

// SetStatic writes a static field declared on this class.
func (c *Class) SetStatic(name string, v Value) {
	c.staticMu.Lock()
	defer c.staticMu.Unlock()
	if c.statics == nil {
		c.statics = make(map[string]Value)
	}
	c.statics[name] = v
}

// PackageName returns the package part of the class name.
func (c *Class) PackageName() string {
	if i := strings.LastIndexByte(c.Name, '.'); i >= 0 && !c.IsArray() {
		return c.Name[:i]
	}
	return ""
}

func (c *Class) String() string { return c.Name }
