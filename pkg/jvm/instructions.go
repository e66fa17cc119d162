package jvm

import (
	"fmt"
	"math"
)

// Opcodes
const (
	OpNop             = 0x00
	OpAconstNull      = 0x01
	OpIconstM1        = 0x02
	OpIconst0         = 0x03
	OpIconst5         = 0x08
	OpLconst0         = 0x09
	OpLconst1         = 0x0A
	OpFconst0         = 0x0B
	OpFconst1         = 0x0C
	OpFconst2         = 0x0D
	OpDconst0         = 0x0E
	OpDconst1         = 0x0F
	OpBipush          = 0x10
	OpSipush          = 0x11
	OpLdc             = 0x12
	OpLdcW            = 0x13
	OpLdc2W           = 0x14
	OpIload           = 0x15
	OpLload           = 0x16
	OpFload           = 0x17
	OpDload           = 0x18
	OpAload           = 0x19
	OpIload0          = 0x1A
	OpAload3          = 0x2D
	OpIaload          = 0x2E
	OpSaload          = 0x35
	OpIstore          = 0x36
	OpLstore          = 0x37
	OpFstore          = 0x38
	OpDstore          = 0x39
	OpAstore          = 0x3A
	OpIstore0         = 0x3B
	OpAstore3         = 0x4E
	OpIastore         = 0x4F
	OpSastore         = 0x56
	OpPop             = 0x57
	OpPop2            = 0x58
	OpDup             = 0x59
	OpDupX1           = 0x5A
	OpDupX2           = 0x5B
	OpDup2            = 0x5C
	OpDup2X1          = 0x5D
	OpDup2X2          = 0x5E
	OpSwap            = 0x5F
	OpIadd            = 0x60
	OpLadd            = 0x61
	OpFadd            = 0x62
	OpDadd            = 0x63
	OpIsub            = 0x64
	OpLsub            = 0x65
	OpFsub            = 0x66
	OpDsub            = 0x67
	OpImul            = 0x68
	OpLmul            = 0x69
	OpFmul            = 0x6A
	OpDmul            = 0x6B
	OpIdiv            = 0x6C
	OpLdiv            = 0x6D
	OpFdiv            = 0x6E
	OpDdiv            = 0x6F
	OpIrem            = 0x70
	OpLrem            = 0x71
	OpFrem            = 0x72
	OpDrem            = 0x73
	OpIneg            = 0x74
	OpLneg            = 0x75
	OpFneg            = 0x76
	OpDneg            = 0x77
	OpIshl            = 0x78
	OpLshl            = 0x79
	OpIshr            = 0x7A
	OpLshr            = 0x7B
	OpIushr           = 0x7C
	OpLushr           = 0x7D
	OpIand            = 0x7E
	OpLand            = 0x7F
	OpIor             = 0x80
	OpLor             = 0x81
	OpIxor            = 0x82
	OpLxor            = 0x83
	OpIinc            = 0x84
	OpI2l             = 0x85
	OpI2f             = 0x86
	OpI2d             = 0x87
	OpL2i             = 0x88
	OpL2f             = 0x89
	OpL2d             = 0x8A
	OpF2i             = 0x8B
	OpF2l             = 0x8C
	OpF2d             = 0x8D
	OpD2i             = 0x8E
	OpD2l             = 0x8F
	OpD2f             = 0x90
	OpI2b             = 0x91
	OpI2c             = 0x92
	OpI2s             = 0x93
	OpLcmp            = 0x94
	OpFcmpl           = 0x95
	OpFcmpg           = 0x96
	OpDcmpl           = 0x97
	OpDcmpg           = 0x98
	OpIfeq            = 0x99
	OpIfne            = 0x9A
	OpIflt            = 0x9B
	OpIfge            = 0x9C
	OpIfgt            = 0x9D
	OpIfle            = 0x9E
	OpIfIcmpeq        = 0x9F
	OpIfIcmpne        = 0xA0
	OpIfIcmplt        = 0xA1
	OpIfIcmpge        = 0xA2
	OpIfIcmpgt        = 0xA3
	OpIfIcmple        = 0xA4
	OpIfAcmpeq        = 0xA5
	OpIfAcmpne        = 0xA6
	OpGoto            = 0xA7
	OpJsr             = 0xA8
	OpRet             = 0xA9
	OpTableswitch     = 0xAA
	OpLookupswitch    = 0xAB
	OpIreturn         = 0xAC
	OpLreturn         = 0xAD
	OpFreturn         = 0xAE
	OpDreturn         = 0xAF
	OpAreturn         = 0xB0
	OpReturn          = 0xB1
	OpGetstatic       = 0xB2
	OpPutstatic       = 0xB3
	OpGetfield        = 0xB4
	OpPutfield        = 0xB5
	OpInvokevirtual   = 0xB6
	OpInvokespecial   = 0xB7
	OpInvokestatic    = 0xB8
	OpInvokeinterface = 0xB9
	OpInvokedynamic   = 0xBA
	OpNew             = 0xBB
	OpNewarray        = 0xBC
	OpAnewarray       = 0xBD
	OpArraylength     = 0xBE
	OpAthrow          = 0xBF
	OpCheckcast       = 0xC0
	OpInstanceof      = 0xC1
	OpMonitorenter    = 0xC2
	OpMonitorexit     = 0xC3
	OpWide            = 0xC4
	OpMultianewarray  = 0xC5
	OpIfnull          = 0xC6
	OpIfnonnull       = 0xC7
	OpGotoW           = 0xC8
	OpJsrW            = 0xC9
)

// executeInstruction executes a single bytecode instruction.
// Returns (returnValue, hasReturn, error).
func (env *Env) executeInstruction(f *Frame, opcode byte) (Value, bool, error) {
	switch {
	case opcode >= OpIconstM1 && opcode <= OpIconst5:
		f.Push(IntValue(int32(opcode) - OpIconst0))
		return Value{}, false, nil
	case opcode >= OpIload0 && opcode <= OpAload3:
		// xload_<n>: five families of four
		f.Push(f.GetLocal(int(opcode-OpIload0) % 4))
		return Value{}, false, nil
	case opcode >= OpIstore0 && opcode <= OpAstore3:
		f.SetLocal(int(opcode-OpIstore0)%4, f.Pop())
		return Value{}, false, nil
	case opcode >= OpIaload && opcode <= OpSaload:
		return Value{}, false, env.executeArrayLoad(f)
	case opcode >= OpIastore && opcode <= OpSastore:
		return Value{}, false, env.executeArrayStore(f)
	case opcode >= OpIadd && opcode <= OpLxor:
		return Value{}, false, env.executeArithmetic(f, opcode)
	case opcode >= OpI2l && opcode <= OpI2s:
		executeConversion(f, opcode)
		return Value{}, false, nil
	case opcode >= OpIfeq && opcode <= OpIfAcmpne, opcode == OpIfnull, opcode == OpIfnonnull:
		executeBranch(f, opcode)
		return Value{}, false, nil
	case opcode >= OpIreturn && opcode <= OpAreturn:
		return f.Pop(), true, nil
	}

	switch opcode {
	case OpNop:
	case OpAconstNull:
		f.Push(NullValue())
	case OpLconst0, OpLconst1:
		f.Push(LongValue(int64(opcode - OpLconst0)))
	case OpFconst0, OpFconst1, OpFconst2:
		f.Push(FloatValue(float32(opcode - OpFconst0)))
	case OpDconst0, OpDconst1:
		f.Push(DoubleValue(float64(opcode - OpDconst0)))
	case OpBipush:
		f.Push(IntValue(int32(f.ReadI8())))
	case OpSipush:
		f.Push(IntValue(int32(f.ReadI16())))
	case OpLdc:
		return Value{}, false, env.executeLdc(f, uint16(f.ReadU8()))
	case OpLdcW, OpLdc2W:
		return Value{}, false, env.executeLdc(f, f.ReadU16())

	case OpIload, OpLload, OpFload, OpDload, OpAload:
		f.Push(f.GetLocal(int(f.ReadU8())))
	case OpIstore, OpLstore, OpFstore, OpDstore, OpAstore:
		f.SetLocal(int(f.ReadU8()), f.Pop())
	case OpIinc:
		index := int(f.ReadU8())
		delta := int32(f.ReadI8())
		f.SetLocal(index, IntValue(f.GetLocal(index).I32()+delta))
	case OpWide:
		return Value{}, false, executeWide(f)

	case OpPop:
		f.Pop()
	case OpPop2:
		if v := f.Pop(); !v.Type.category2() {
			f.Pop()
		}
	case OpDup:
		f.Push(f.Peek(0))
	case OpDupX1:
		v1, v2 := f.Pop(), f.Pop()
		f.Push(v1)
		f.Push(v2)
		f.Push(v1)
	case OpDupX2:
		v1, v2 := f.Pop(), f.Pop()
		if v2.Type.category2() {
			f.Push(v1)
			f.Push(v2)
			f.Push(v1)
			break
		}
		v3 := f.Pop()
		f.Push(v1)
		f.Push(v3)
		f.Push(v2)
		f.Push(v1)
	case OpDup2:
		if v := f.Peek(0); v.Type.category2() {
			f.Push(v)
			break
		}
		v1, v2 := f.Peek(0), f.Peek(1)
		f.Push(v2)
		f.Push(v1)
	case OpDup2X1:
		v1 := f.Pop()
		if v1.Type.category2() {
			v2 := f.Pop()
			f.Push(v1)
			f.Push(v2)
			f.Push(v1)
			break
		}
		v2, v3 := f.Pop(), f.Pop()
		f.Push(v2)
		f.Push(v1)
		f.Push(v3)
		f.Push(v2)
		f.Push(v1)
	case OpDup2X2:
		executeDup2X2(f)
	case OpSwap:
		v1, v2 := f.Pop(), f.Pop()
		f.Push(v1)
		f.Push(v2)

	case OpLcmp:
		v2, v1 := f.Pop().Int, f.Pop().Int
		f.Push(IntValue(compare(v1 > v2, v1 < v2)))
	case OpFcmpl, OpFcmpg, OpDcmpl, OpDcmpg:
		v2, v1 := f.Pop().Float, f.Pop().Float
		switch {
		case math.IsNaN(v1) || math.IsNaN(v2):
			if opcode == OpFcmpg || opcode == OpDcmpg {
				f.Push(IntValue(1))
			} else {
				f.Push(IntValue(-1))
			}
		default:
			f.Push(IntValue(compare(v1 > v2, v1 < v2)))
		}

	case OpGoto:
		f.branch(int(f.ReadI16()))
	case OpGotoW:
		f.branch(int(f.ReadI32()))
	case OpTableswitch:
		env.executeTableswitch(f)
	case OpLookupswitch:
		env.executeLookupswitch(f)
	case OpReturn:
		return VoidValue(), true, nil

	case OpGetstatic:
		return Value{}, false, env.executeGetstatic(f)
	case OpPutstatic:
		return Value{}, false, env.executePutstatic(f)
	case OpGetfield:
		return Value{}, false, env.executeGetfield(f)
	case OpPutfield:
		return Value{}, false, env.executePutfield(f)
	case OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpInvokeinterface:
		return Value{}, false, env.executeInvoke(f, opcode)

	case OpNew:
		return Value{}, false, env.executeNew(f)
	case OpNewarray:
		elemType, ok := newarrayTypes[f.ReadU8()]
		if !ok {
			return Value{}, false, fmt.Errorf("newarray: invalid type at pc %d", f.start)
		}
		arr, err := env.newArray(elemType, f.Pop().I32())
		if err != nil {
			return Value{}, false, err
		}
		f.Push(RefValue(arr))
	case OpAnewarray:
		return Value{}, false, env.executeAnewarray(f)
	case OpMultianewarray:
		return Value{}, false, env.executeMultianewarray(f)
	case OpArraylength:
		ref := f.Pop()
		if ref.IsNull() {
			return Value{}, false, env.Exception("java.lang.NullPointerException", "array is null")
		}
		elems, ok := ref.Ref.Elements()
		if !ok {
			return Value{}, false, fmt.Errorf("arraylength: %s is not an array", ref.Ref.Class.Name)
		}
		f.Push(IntValue(int32(len(elems))))

	case OpAthrow:
		ref := f.Pop()
		if ref.IsNull() {
			return Value{}, false, env.Exception("java.lang.NullPointerException", "throwing null")
		}
		return Value{}, false, &JavaException{Object: ref.Ref}
	case OpCheckcast, OpInstanceof:
		return Value{}, false, env.executeTypeCheck(f, opcode)
	case OpMonitorenter:
		ref := f.Pop()
		if ref.IsNull() {
			return Value{}, false, env.Exception("java.lang.NullPointerException", "monitorenter on null")
		}
		env.MonitorEnter(ref.Ref)
	case OpMonitorexit:
		ref := f.Pop()
		if ref.IsNull() {
			return Value{}, false, env.Exception("java.lang.NullPointerException", "monitorexit on null")
		}
		return Value{}, false, env.MonitorExit(ref.Ref)

	default:
		// jsr, ret and invokedynamic are not emitted for class file version 52
		// code without lambdas; they are rejected like any unknown opcode.
		return Value{}, false, fmt.Errorf("unsupported opcode 0x%02X at pc %d", opcode, f.start)
	}
	return Value{}, false, nil
}

func compare(gt, lt bool) int32 {
	switch {
	case gt:
		return 1
	case lt:
		return -1
	}
	return 0
}

func executeWide(f *Frame) error {
	opcode := f.ReadU8()
	index := int(f.ReadU16())
	switch {
	case opcode >= OpIload && opcode <= OpAload:
		f.Push(f.GetLocal(index))
	case opcode >= OpIstore && opcode <= OpAstore:
		f.SetLocal(index, f.Pop())
	case opcode == OpIinc:
		delta := int32(f.ReadI16())
		f.SetLocal(index, IntValue(f.GetLocal(index).I32()+delta))
	default:
		return fmt.Errorf("wide: unsupported opcode 0x%02X", opcode)
	}
	return nil
}

func executeDup2X2(f *Frame) {
	v1 := f.Pop()
	if v1.Type.category2() {
		v2 := f.Pop()
		if v2.Type.category2() {
			f.Push(v1)
			f.Push(v2)
			f.Push(v1)
			return
		}
		v3 := f.Pop()
		f.Push(v1)
		f.Push(v3)
		f.Push(v2)
		f.Push(v1)
		return
	}
	v2 := f.Pop()
	v3 := f.Pop()
	if v3.Type.category2() {
		f.Push(v2)
		f.Push(v1)
		f.Push(v3)
		f.Push(v2)
		f.Push(v1)
		return
	}
	v4 := f.Pop()
	f.Push(v2)
	f.Push(v1)
	f.Push(v4)
	f.Push(v3)
	f.Push(v2)
	f.Push(v1)
}

func executeBranch(f *Frame, opcode byte) {
	offset := int(f.ReadI16())
	var taken bool
	switch opcode {
	case OpIfeq, OpIfne, OpIflt, OpIfge, OpIfgt, OpIfle:
		taken = intCondition(opcode-OpIfeq, f.Pop().I32(), 0)
	case OpIfIcmpeq, OpIfIcmpne, OpIfIcmplt, OpIfIcmpge, OpIfIcmpgt, OpIfIcmple:
		v2, v1 := f.Pop().I32(), f.Pop().I32()
		taken = intCondition(opcode-OpIfIcmpeq, v1, v2)
	case OpIfAcmpeq, OpIfAcmpne:
		v2, v1 := f.Pop(), f.Pop()
		same := v1.Ref == v2.Ref || (v1.IsNull() && v2.IsNull())
		taken = same == (opcode == OpIfAcmpeq)
	case OpIfnull:
		taken = f.Pop().IsNull()
	case OpIfnonnull:
		taken = !f.Pop().IsNull()
	}
	if taken {
		f.branch(offset)
	}
}

// intCondition evaluates eq, ne, lt, ge, gt, le (in opcode order).
func intCondition(cond byte, a, b int32) bool {
	switch cond {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a >= b
	case 4:
		return a > b
	}
	return a <= b
}

func (env *Env) executeArithmetic(f *Frame, opcode byte) error {
	// Negation is unary; everything else pops two operands.
	if opcode >= OpIneg && opcode <= OpDneg {
		v := f.Pop()
		switch opcode {
		case OpIneg:
			f.Push(IntValue(-v.I32()))
		case OpLneg:
			f.Push(LongValue(-v.Int))
		case OpFneg:
			f.Push(FloatValue(-v.F32()))
		case OpDneg:
			f.Push(DoubleValue(-v.Float))
		}
		return nil
	}

	v2, v1 := f.Pop(), f.Pop()
	switch opcode {
	case OpIadd:
		f.Push(IntValue(v1.I32() + v2.I32()))
	case OpLadd:
		f.Push(LongValue(v1.Int + v2.Int))
	case OpFadd:
		f.Push(FloatValue(v1.F32() + v2.F32()))
	case OpDadd:
		f.Push(DoubleValue(v1.Float + v2.Float))
	case OpIsub:
		f.Push(IntValue(v1.I32() - v2.I32()))
	case OpLsub:
		f.Push(LongValue(v1.Int - v2.Int))
	case OpFsub:
		f.Push(FloatValue(v1.F32() - v2.F32()))
	case OpDsub:
		f.Push(DoubleValue(v1.Float - v2.Float))
	case OpImul:
		f.Push(IntValue(v1.I32() * v2.I32()))
	case OpLmul:
		f.Push(LongValue(v1.Int * v2.Int))
	case OpFmul:
		f.Push(FloatValue(v1.F32() * v2.F32()))
	case OpDmul:
		f.Push(DoubleValue(v1.Float * v2.Float))
	case OpIdiv, OpIrem:
		if v2.I32() == 0 {
			return env.Exception("java.lang.ArithmeticException", "/ by zero")
		}
		if opcode == OpIdiv {
			f.Push(IntValue(v1.I32() / v2.I32()))
		} else {
			f.Push(IntValue(v1.I32() % v2.I32()))
		}
	case OpLdiv, OpLrem:
		if v2.Int == 0 {
			return env.Exception("java.lang.ArithmeticException", "/ by zero")
		}
		if opcode == OpLdiv {
			f.Push(LongValue(v1.Int / v2.Int))
		} else {
			f.Push(LongValue(v1.Int % v2.Int))
		}
	case OpFdiv:
		f.Push(FloatValue(v1.F32() / v2.F32()))
	case OpDdiv:
		f.Push(DoubleValue(v1.Float / v2.Float))
	case OpFrem:
		f.Push(FloatValue(float32(math.Mod(float64(v1.F32()), float64(v2.F32())))))
	case OpDrem:
		f.Push(DoubleValue(math.Mod(v1.Float, v2.Float)))
	case OpIshl:
		f.Push(IntValue(v1.I32() << (uint32(v2.I32()) & 0x1f)))
	case OpLshl:
		f.Push(LongValue(v1.Int << (uint32(v2.I32()) & 0x3f)))
	case OpIshr:
		f.Push(IntValue(v1.I32() >> (uint32(v2.I32()) & 0x1f)))
	case OpLshr:
		f.Push(LongValue(v1.Int >> (uint32(v2.I32()) & 0x3f)))
	case OpIushr:
		f.Push(IntValue(int32(uint32(v1.I32()) >> (uint32(v2.I32()) & 0x1f))))
	case OpLushr:
		f.Push(LongValue(int64(uint64(v1.Int) >> (uint32(v2.I32()) & 0x3f))))
	case OpIand:
		f.Push(IntValue(v1.I32() & v2.I32()))
	case OpLand:
		f.Push(LongValue(v1.Int & v2.Int))
	case OpIor:
		f.Push(IntValue(v1.I32() | v2.I32()))
	case OpLor:
		f.Push(LongValue(v1.Int | v2.Int))
	case OpIxor:
		f.Push(IntValue(v1.I32() ^ v2.I32()))
	case OpLxor:
		f.Push(LongValue(v1.Int ^ v2.Int))
	}
	return nil
}

func executeConversion(f *Frame, opcode byte) {
	v := f.Pop()
	switch opcode {
	case OpI2l:
		f.Push(LongValue(int64(v.I32())))
	case OpI2f:
		f.Push(FloatValue(float32(v.I32())))
	case OpI2d:
		f.Push(DoubleValue(float64(v.I32())))
	case OpL2i:
		f.Push(IntValue(int32(v.Int)))
	case OpL2f:
		f.Push(FloatValue(float32(v.Int)))
	case OpL2d:
		f.Push(DoubleValue(float64(v.Int)))
	case OpF2i, OpD2i:
		f.Push(IntValue(int32(floatToInt(v.Float, math.MinInt32, math.MaxInt32))))
	case OpF2l, OpD2l:
		f.Push(LongValue(floatToInt(v.Float, math.MinInt64, math.MaxInt64)))
	case OpF2d:
		f.Push(DoubleValue(v.Float))
	case OpD2f:
		f.Push(FloatValue(float32(v.Float)))
	case OpI2b:
		f.Push(IntValue(int32(int8(v.I32()))))
	case OpI2c:
		f.Push(IntValue(int32(uint16(v.I32()))))
	case OpI2s:
		f.Push(IntValue(int32(int16(v.I32()))))
	}
}

// floatToInt applies Java's saturating float-to-integer conversion.
func floatToInt(v float64, lo, hi int64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v <= float64(lo):
		return lo
	case v >= float64(hi):
		return hi
	}
	return int64(v)
}
