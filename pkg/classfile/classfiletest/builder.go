// Package classfiletest assembles class files in memory so that class
// loading and interpretation can be tested without a Java compiler.
package classfiletest

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/daimatz/j4go/pkg/classfile"
)

type member struct {
	access     uint16
	name       uint16
	descriptor uint16
	code       []byte // encoded Code attribute body, nil for fields and abstract methods
	constant   uint16 // ConstantValue index for fields
}

// Handler is one exception table entry; CatchType is a class name or "" for any.
type Handler struct {
	StartPC, EndPC, HandlerPC uint16
	CatchType                 string
}

// Builder accumulates a constant pool, fields and methods for one class.
type Builder struct {
	pool    bytes.Buffer
	count   uint16
	utf8s   map[string]uint16
	classes map[string]uint16
	access  uint16
	this    uint16
	super   uint16
	ifaces  []uint16
	fields  []member
	methods []member
}

// NewClass starts a public class with the given internal name and super class.
// An empty super name produces a class without a super class (java/lang/Object itself).
func NewClass(name, super string) *Builder {
	b := &Builder{
		count:   1,
		utf8s:   make(map[string]uint16),
		classes: make(map[string]uint16),
		access:  classfile.AccPublic | classfile.AccSuper,
	}
	b.this = b.Class(name)
	if super != "" {
		b.super = b.Class(super)
	}
	return b
}

// Access overrides the class access flags.
func (b *Builder) Access(flags uint16) *Builder {
	b.access = flags
	return b
}

// Implements adds a directly implemented interface.
func (b *Builder) Implements(name string) *Builder {
	b.ifaces = append(b.ifaces, b.Class(name))
	return b
}

func (b *Builder) u1(v uint8)  { b.pool.WriteByte(v) }
func (b *Builder) u2(v uint16) { binary.Write(&b.pool, binary.BigEndian, v) }
func (b *Builder) u4(v uint32) { binary.Write(&b.pool, binary.BigEndian, v) }

func (b *Builder) next(slots uint16) uint16 {
	idx := b.count
	b.count += slots
	return idx
}

// Utf8 adds (or reuses) a CONSTANT_Utf8 entry.
func (b *Builder) Utf8(s string) uint16 {
	if idx, ok := b.utf8s[s]; ok {
		return idx
	}
	b.u1(classfile.TagUtf8)
	b.u2(uint16(len(s)))
	b.pool.WriteString(s)
	idx := b.next(1)
	b.utf8s[s] = idx
	return idx
}

// Class adds (or reuses) a CONSTANT_Class entry.
func (b *Builder) Class(name string) uint16 {
	if idx, ok := b.classes[name]; ok {
		return idx
	}
	nameIdx := b.Utf8(name)
	b.u1(classfile.TagClass)
	b.u2(nameIdx)
	idx := b.next(1)
	b.classes[name] = idx
	return idx
}

// String adds a CONSTANT_String entry.
func (b *Builder) String(s string) uint16 {
	utf := b.Utf8(s)
	b.u1(classfile.TagString)
	b.u2(utf)
	return b.next(1)
}

// Int adds a CONSTANT_Integer entry.
func (b *Builder) Int(v int32) uint16 {
	b.u1(classfile.TagInteger)
	b.u4(uint32(v))
	return b.next(1)
}

// Float adds a CONSTANT_Float entry.
func (b *Builder) Float(v float32) uint16 {
	b.u1(classfile.TagFloat)
	b.u4(math.Float32bits(v))
	return b.next(1)
}

// Long adds a CONSTANT_Long entry (two slots).
func (b *Builder) Long(v int64) uint16 {
	b.u1(classfile.TagLong)
	binary.Write(&b.pool, binary.BigEndian, v)
	return b.next(2)
}

// Double adds a CONSTANT_Double entry (two slots).
func (b *Builder) Double(v float64) uint16 {
	b.u1(classfile.TagDouble)
	binary.Write(&b.pool, binary.BigEndian, math.Float64bits(v))
	return b.next(2)
}

func (b *Builder) nameAndType(name, descriptor string) uint16 {
	n := b.Utf8(name)
	d := b.Utf8(descriptor)
	b.u1(classfile.TagNameAndType)
	b.u2(n)
	b.u2(d)
	return b.next(1)
}

func (b *Builder) memberref(tag uint8, class, name, descriptor string) uint16 {
	c := b.Class(class)
	nat := b.nameAndType(name, descriptor)
	b.u1(tag)
	b.u2(c)
	b.u2(nat)
	return b.next(1)
}

// Methodref adds a CONSTANT_Methodref entry.
func (b *Builder) Methodref(class, name, descriptor string) uint16 {
	return b.memberref(classfile.TagMethodref, class, name, descriptor)
}

// InterfaceMethodref adds a CONSTANT_InterfaceMethodref entry.
func (b *Builder) InterfaceMethodref(class, name, descriptor string) uint16 {
	return b.memberref(classfile.TagInterfaceMethodref, class, name, descriptor)
}

// Fieldref adds a CONSTANT_Fieldref entry.
func (b *Builder) Fieldref(class, name, descriptor string) uint16 {
	return b.memberref(classfile.TagFieldref, class, name, descriptor)
}

// Field declares a field.
func (b *Builder) Field(access uint16, name, descriptor string) *Builder {
	b.fields = append(b.fields, member{access: access, name: b.Utf8(name), descriptor: b.Utf8(descriptor)})
	return b
}

// ConstantField declares a static field initialized from a constant pool entry.
func (b *Builder) ConstantField(access uint16, name, descriptor string, constant uint16) *Builder {
	b.Utf8("ConstantValue")
	b.fields = append(b.fields, member{
		access:     access | classfile.AccStatic,
		name:       b.Utf8(name),
		descriptor: b.Utf8(descriptor),
		constant:   constant,
	})
	return b
}

// Method declares a method with a Code attribute.
func (b *Builder) Method(access uint16, name, descriptor string, maxStack, maxLocals uint16, code []byte, handlers ...Handler) *Builder {
	var attr bytes.Buffer
	binary.Write(&attr, binary.BigEndian, maxStack)
	binary.Write(&attr, binary.BigEndian, maxLocals)
	binary.Write(&attr, binary.BigEndian, uint32(len(code)))
	attr.Write(code)
	binary.Write(&attr, binary.BigEndian, uint16(len(handlers)))
	for _, h := range handlers {
		var catch uint16
		if h.CatchType != "" {
			catch = b.Class(h.CatchType)
		}
		binary.Write(&attr, binary.BigEndian, []uint16{h.StartPC, h.EndPC, h.HandlerPC, catch})
	}
	binary.Write(&attr, binary.BigEndian, uint16(0)) // attributes_count
	b.Utf8("Code")
	b.methods = append(b.methods, member{
		access:     access,
		name:       b.Utf8(name),
		descriptor: b.Utf8(descriptor),
		code:       attr.Bytes(),
	})
	return b
}

// NativeMethod declares a method without code.
func (b *Builder) NativeMethod(access uint16, name, descriptor string) *Builder {
	b.methods = append(b.methods, member{
		access:     access | classfile.AccNative,
		name:       b.Utf8(name),
		descriptor: b.Utf8(descriptor),
	})
	return b
}

// Bytes encodes the class file.
func (b *Builder) Bytes() []byte {
	codeName := b.Utf8("Code")

	var out bytes.Buffer
	w := func(v any) { binary.Write(&out, binary.BigEndian, v) }
	w(uint32(0xCAFEBABE))
	w(uint16(0))  // minor
	w(uint16(52)) // major: Java 8
	w(b.count)
	out.Write(b.pool.Bytes())
	w(b.access)
	w(b.this)
	w(b.super)
	w(uint16(len(b.ifaces)))
	w(b.ifaces)

	w(uint16(len(b.fields)))
	for _, f := range b.fields {
		if f.constant == 0 {
			w([]uint16{f.access, f.name, f.descriptor, 0})
			continue
		}
		w([]uint16{f.access, f.name, f.descriptor, 1, b.utf8s["ConstantValue"]})
		w(uint32(2))
		w(f.constant)
	}

	w(uint16(len(b.methods)))
	for _, m := range b.methods {
		w([]uint16{m.access, m.name, m.descriptor})
		if m.code == nil {
			w(uint16(0))
			continue
		}
		w(uint16(1))
		w(codeName)
		w(uint32(len(m.code)))
		out.Write(m.code)
	}

	w(uint16(0)) // class attributes
	return out.Bytes()
}

// Code concatenates bytes and byte slices into one instruction stream.
func Code(parts ...any) []byte {
	var out []byte
	for _, p := range parts {
		switch v := p.(type) {
		case byte:
			out = append(out, v)
		case int:
			out = append(out, byte(v))
		case []byte:
			out = append(out, v...)
		default:
			panic("classfiletest: unsupported code part")
		}
	}
	return out
}

// Op encodes an opcode followed by a two-byte operand (constant pool index or branch offset).
func Op(opcode byte, operand uint16) []byte {
	return []byte{opcode, byte(operand >> 8), byte(operand)}
}
