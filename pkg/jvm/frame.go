package jvm

import (
	"fmt"

	"github.com/daimatz/j4go/pkg/classfile"
)

// Frame is the activation record of a bytecode method.
type Frame struct {
	Method       *Method
	Pool         []classfile.ConstantPoolEntry
	LocalVars    []Value
	OperandStack []Value
	SP           int
	Code         []byte
	PC           int

	// start is the PC of the instruction being executed; branch offsets and
	// exception ranges are relative to it.
	start int
}

// NewFrame creates a frame for a method with a Code attribute.
func NewFrame(m *Method) *Frame {
	f := &Frame{
		Method:       m,
		LocalVars:    make([]Value, m.Code.MaxLocals),
		OperandStack: make([]Value, m.Code.MaxStack),
		Code:         m.Code.Code,
	}
	if m.Class.File != nil {
		f.Pool = m.Class.File.ConstantPool
	}
	return f
}

// Push pushes a value onto the operand stack.
func (f *Frame) Push(v Value) {
	if f.SP >= len(f.OperandStack) {
		panic(fmt.Sprintf("operand stack overflow: SP=%d, max=%d", f.SP, len(f.OperandStack)))
	}
	f.OperandStack[f.SP] = v
	f.SP++
}

// Pop pops a value from the operand stack.
func (f *Frame) Pop() Value {
	if f.SP <= 0 {
		panic("operand stack underflow: SP=0")
	}
	f.SP--
	return f.OperandStack[f.SP]
}

// Peek returns the value n slots below the top without popping it.
func (f *Frame) Peek(n int) Value {
	if f.SP-1-n < 0 {
		panic(fmt.Sprintf("operand stack underflow: SP=%d, peek=%d", f.SP, n))
	}
	return f.OperandStack[f.SP-1-n]
}

// GetLocal returns the value at the given local variable index.
func (f *Frame) GetLocal(index int) Value {
	if index < 0 || index >= len(f.LocalVars) {
		panic(fmt.Sprintf("local variable index out of range: index=%d, max=%d", index, len(f.LocalVars)))
	}
	return f.LocalVars[index]
}

// SetLocal sets the value at the given local variable index.
func (f *Frame) SetLocal(index int, v Value) {
	if index < 0 || index >= len(f.LocalVars) {
		panic(fmt.Sprintf("local variable index out of range: index=%d, max=%d", index, len(f.LocalVars)))
	}
	f.LocalVars[index] = v
}

// ReadU8 reads a uint8 operand and advances PC.
func (f *Frame) ReadU8() uint8 {
	val := f.Code[f.PC]
	f.PC++
	return val
}

// ReadI8 reads an int8 operand and advances PC.
func (f *Frame) ReadI8() int8 {
	return int8(f.ReadU8())
}

// ReadU16 reads a uint16 operand (big-endian) and advances PC by 2.
func (f *Frame) ReadU16() uint16 {
	val := uint16(f.Code[f.PC])<<8 | uint16(f.Code[f.PC+1])
	f.PC += 2
	return val
}

// ReadI16 reads an int16 operand (big-endian) and advances PC by 2.
func (f *Frame) ReadI16() int16 {
	return int16(f.ReadU16())
}

// ReadI32 reads an int32 operand (big-endian) and advances PC by 4.
func (f *Frame) ReadI32() int32 {
	hi := uint32(f.ReadU16())
	lo := uint32(f.ReadU16())
	return int32(hi<<16 | lo)
}

// branch jumps relative to the current instruction.
func (f *Frame) branch(offset int) {
	f.PC = f.start + offset
}
