package jvm

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs bytecode in a fresh frame until a return instruction.
// locals are stored starting at index 0.
func execute(t *testing.T, env *Env, code []byte, locals ...Value) (Value, error) {
	t.Helper()
	frame := newTestFrame(8, 10, code)
	for i, v := range locals {
		frame.SetLocal(i, v)
	}
	return env.run(frame)
}

func executeAndGetInt(t *testing.T, code []byte, locals ...int32) int32 {
	t.Helper()
	vals := make([]Value, len(locals))
	for i, l := range locals {
		vals[i] = IntValue(l)
	}
	v, err := execute(t, newTestEnv(t), code, vals...)
	require.NoError(t, err)
	return v.I32()
}

func TestIconst(t *testing.T) {
	tests := []struct {
		name   string
		opcode byte
		want   int32
	}{
		{"iconst_m1", 0x02, -1},
		{"iconst_0", 0x03, 0},
		{"iconst_1", 0x04, 1},
		{"iconst_5", 0x08, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, executeAndGetInt(t, []byte{tt.opcode, OpIreturn}))
		})
	}
}

func TestPushConstants(t *testing.T) {
	assert.Equal(t, int32(-128), executeAndGetInt(t, []byte{OpBipush, 0x80, OpIreturn}))
	assert.Equal(t, int32(-2), executeAndGetInt(t, []byte{OpSipush, 0xFF, 0xFE, OpIreturn}))
	assert.Equal(t, int32(1000), executeAndGetInt(t, []byte{OpSipush, 0x03, 0xE8, OpIreturn}))
}

func TestIntArithmetic(t *testing.T) {
	tests := []struct {
		name   string
		opcode byte
		a, b   int32
		want   int32
	}{
		{"iadd", OpIadd, 3, 4, 7},
		{"iadd overflow", OpIadd, math.MaxInt32, 1, math.MinInt32},
		{"isub", 0x64, 3, 10, -7},
		{"imul", 0x68, -6, 7, -42},
		{"idiv truncates", OpIdiv, -7, 2, -3},
		{"idiv min by -1", OpIdiv, math.MinInt32, -1, math.MinInt32},
		{"irem", 0x70, -7, 2, -1},
		{"ishl masks shift", 0x78, 1, 33, 2},
		{"ishr", 0x7A, -16, 2, -4},
		{"iushr", 0x7C, -1, 28, 15},
		{"iand", 0x7E, 0b1100, 0b1010, 0b1000},
		{"ior", 0x80, 0b1100, 0b1010, 0b1110},
		{"ixor", 0x82, 0b1100, 0b1010, 0b0110},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// iload_0, iload_1, <op>, ireturn
			got := executeAndGetInt(t, []byte{OpIload0, OpIload0 + 1, tt.opcode, OpIreturn}, tt.a, tt.b)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdivByZero(t *testing.T) {
	env := newTestEnv(t)
	_, err := execute(t, env, []byte{OpIload0, OpIconst0, OpIdiv, OpIreturn}, IntValue(1))

	var je *JavaException
	require.True(t, errors.As(err, &je))
	assert.Equal(t, "java.lang.ArithmeticException", je.ClassName())
	msg, ok := je.Message()
	require.True(t, ok)
	assert.Equal(t, "/ by zero", msg)
}

func TestLongAndDouble(t *testing.T) {
	env := newTestEnv(t)

	// lload_0 (as local 0), lconst_1, ladd, lreturn
	v, err := execute(t, env, []byte{0x1E, OpLconst1, OpLadd, 0xAD}, LongValue(math.MaxInt64))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), v.Int)

	// dconst_1, dconst_1, dadd, dreturn
	v, err = execute(t, env, []byte{OpDconst1, OpDconst1, OpDadd, 0xAF})
	require.NoError(t, err)
	assert.Equal(t, 2.0, v.Float)
}

func TestConversions(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		in   Value
		op   byte
		ret  byte
		want Value
	}{
		{"i2b wraps", IntValue(200), OpI2b, OpIreturn, IntValue(-56)},
		{"i2c is unsigned", IntValue(-1), OpI2c, OpIreturn, IntValue(0xFFFF)},
		{"i2s", IntValue(70000), OpI2s, OpIreturn, IntValue(4464)},
		{"d2i saturates", DoubleValue(1e20), OpD2i, OpIreturn, IntValue(math.MaxInt32)},
		{"d2i NaN is zero", DoubleValue(math.NaN()), OpD2i, OpIreturn, IntValue(0)},
		{"l2i truncates", LongValue(1<<32 + 5), OpL2i, OpIreturn, IntValue(5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			load := byte(OpIload)
			switch tt.in.Type {
			case TypeLong:
				load = OpLload
			case TypeDouble:
				load = OpDload
			}
			v, err := execute(t, env, []byte{load, 0, tt.op, tt.ret}, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Type, v.Type)
			assert.Equal(t, tt.want.Int, v.Int)
		})
	}
}

func TestCompareNaN(t *testing.T) {
	env := newTestEnv(t)
	nan := DoubleValue(math.NaN())
	one := DoubleValue(1)
	// dload_0, dload_1 (slot 1 here), dcmpl/dcmpg, ireturn
	for op, want := range map[byte]int32{OpDcmpl: -1, OpDcmpg: 1} {
		v, err := execute(t, env, []byte{OpDload, 0, OpDload, 1, op, OpIreturn}, nan, one)
		require.NoError(t, err)
		assert.Equal(t, want, v.I32())
	}
}

func TestBranches(t *testing.T) {
	// max(a, b):
	//  0: iload_0
	//  1: iload_1
	//  2: if_icmplt +5 -> 7
	//  5: iload_0
	//  6: ireturn
	//  7: iload_1
	//  8: ireturn
	code := []byte{OpIload0, OpIload0 + 1, OpIfIcmplt, 0x00, 0x05, OpIload0, OpIreturn, OpIload0 + 1, OpIreturn}
	assert.Equal(t, int32(9), executeAndGetInt(t, code, 9, 4))
	assert.Equal(t, int32(7), executeAndGetInt(t, code, -3, 7))
}

func TestLoop(t *testing.T) {
	// sum of 1..n:
	//  0: iconst_0
	//  1: istore_1
	//  2: iload_0
	//  3: ifle +13 -> 16
	//  6: iload_1
	//  7: iload_0
	//  8: iadd
	//  9: istore_1
	// 10: iinc 0 -1
	// 13: goto -11 -> 2
	// 16: iload_1
	// 17: ireturn
	code := []byte{
		OpIconst0, OpIstore0 + 1,
		OpIload0, OpIfle, 0x00, 0x0D,
		OpIload0 + 1, OpIload0, OpIadd, OpIstore0 + 1,
		OpIinc, 0x00, 0xFF,
		OpGoto, 0xFF, 0xF5,
		OpIload0 + 1, OpIreturn,
	}
	assert.Equal(t, int32(55), executeAndGetInt(t, code, 10))
	assert.Equal(t, int32(0), executeAndGetInt(t, code, -1))
}

func TestTableswitch(t *testing.T) {
	//  0: iload_0
	//  1: tableswitch (pad to 4) default=+28 low=1 high=2 [+24, +26]
	// 25: iconst_1 / ireturn, 27: iconst_2 / ireturn, 29: iconst_m1 / ireturn
	code := []byte{
		OpIload0, OpTableswitch, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x1C,
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x18,
		0x00, 0x00, 0x00, 0x1A,
		OpNop,
		OpIconst0 + 1, OpIreturn,
		OpIconst0 + 2, OpIreturn,
		OpIconstM1, OpIreturn,
	}
	assert.Equal(t, int32(1), executeAndGetInt(t, code, 1))
	assert.Equal(t, int32(2), executeAndGetInt(t, code, 2))
	assert.Equal(t, int32(-1), executeAndGetInt(t, code, 3))
}

func TestLookupswitch(t *testing.T) {
	//  0: iload_0
	//  1: lookupswitch (pad) default=+31 npairs=2 {10:+27, 20:+29}
	// 28: iconst_1 / ireturn, 30: iconst_2 / ireturn, 32: iconst_0 / ireturn
	code := []byte{
		OpIload0, OpLookupswitch, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x1F,
		0x00, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x0A, 0x00, 0x00, 0x00, 0x1B,
		0x00, 0x00, 0x00, 0x14, 0x00, 0x00, 0x00, 0x1D,
		OpIconst0 + 1, OpIreturn,
		OpIconst0 + 2, OpIreturn,
		OpIconst0, OpIreturn,
	}
	assert.Equal(t, int32(1), executeAndGetInt(t, code, 10))
	assert.Equal(t, int32(2), executeAndGetInt(t, code, 20))
	assert.Equal(t, int32(0), executeAndGetInt(t, code, 15))
}

func TestStackManipulation(t *testing.T) {
	// iconst_1, iconst_2, swap, isub, ireturn -> 2 - 1
	assert.Equal(t, int32(1), executeAndGetInt(t, []byte{0x04, 0x05, OpSwap, 0x64, OpIreturn}))
	// iconst_3, dup, imul, ireturn
	assert.Equal(t, int32(9), executeAndGetInt(t, []byte{0x06, OpDup, 0x68, OpIreturn}))
	// iconst_1, iconst_2, dup_x1, pop, pop, ireturn -> 2
	assert.Equal(t, int32(2), executeAndGetInt(t, []byte{0x04, 0x05, OpDupX1, OpPop, OpPop, OpIreturn}))
}

func TestPrimitiveArrays(t *testing.T) {
	env := newTestEnv(t)

	// iconst_3, newarray int, astore_1, aload_1, iconst_2, bipush 42, iastore,
	// aload_1, iconst_2, iaload, aload_1, arraylength, iadd, ireturn
	code := []byte{
		0x06, OpNewarray, 10, 0x4C,
		0x2B, 0x05, OpBipush, 42, OpIastore,
		0x2B, 0x05, OpIaload,
		0x2B, OpArraylength,
		OpIadd, OpIreturn,
	}
	v, err := execute(t, env, code)
	require.NoError(t, err)
	assert.Equal(t, int32(45), v.I32())
}

func TestArrayErrors(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		code []byte
		want string
	}{
		{"index out of bounds", []byte{0x04, OpNewarray, 10, 0x05, OpIaload, OpIreturn}, "java.lang.ArrayIndexOutOfBoundsException"},
		{"negative size", []byte{OpIconstM1, OpNewarray, 10, OpArraylength, OpIreturn}, "java.lang.NegativeArraySizeException"},
		{"null array", []byte{OpAconstNull, OpArraylength, OpIreturn}, "java.lang.NullPointerException"},
		{"athrow null", []byte{OpAconstNull, OpAthrow}, "java.lang.NullPointerException"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, env, tt.code)
			var je *JavaException
			require.True(t, errors.As(err, &je), "got %v", err)
			assert.Equal(t, tt.want, je.ClassName())
		})
	}
}

func TestUnsupportedOpcode(t *testing.T) {
	env := newTestEnv(t)
	// invokedynamic
	_, err := execute(t, env, []byte{0xBA, 0x00, 0x01, 0x00, 0x00})
	var je *JavaException
	require.True(t, errors.As(err, &je))
	assert.Equal(t, "java.lang.InternalError", je.ClassName())
}

func TestOperandStackOverflowIsInternalError(t *testing.T) {
	env := newTestEnv(t)
	frame := newTestFrame(0, 1, []byte{0x04, 0x04, OpIreturn})
	_, err := env.run(frame)
	var je *JavaException
	require.True(t, errors.As(err, &je))
	assert.Equal(t, "java.lang.InternalError", je.ClassName())
}
