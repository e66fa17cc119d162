package jvm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramePushPop(t *testing.T) {
	t.Run("LIFO order", func(t *testing.T) {
		frame := newTestFrame(0, 10, nil)

		frame.Push(IntValue(10))
		frame.Push(IntValue(20))
		frame.Push(IntValue(30))

		assert.Equal(t, int32(30), frame.Pop().I32())
		assert.Equal(t, int32(20), frame.Pop().I32())
		assert.Equal(t, int32(10), frame.Pop().I32())
	})

	t.Run("push after pop reuses space", func(t *testing.T) {
		frame := newTestFrame(0, 2, nil)

		frame.Push(IntValue(1))
		frame.Push(IntValue(2))
		frame.Pop()

		frame.Push(IntValue(3))
		assert.Equal(t, int32(3), frame.Pop().I32())
		assert.Equal(t, int32(1), frame.Pop().I32())
	})

	t.Run("mixed types", func(t *testing.T) {
		frame := newTestFrame(0, 4, nil)

		frame.Push(LongValue(1 << 40))
		frame.Push(DoubleValue(2.5))
		frame.Push(NullValue())

		assert.True(t, frame.Pop().IsNull())
		assert.Equal(t, 2.5, frame.Pop().Float)
		assert.Equal(t, int64(1<<40), frame.Pop().Int)
	})

	t.Run("peek", func(t *testing.T) {
		frame := newTestFrame(0, 4, nil)
		frame.Push(IntValue(1))
		frame.Push(IntValue(2))

		assert.Equal(t, int32(2), frame.Peek(0).I32())
		assert.Equal(t, int32(1), frame.Peek(1).I32())
		assert.Equal(t, 2, frame.SP)
	})

	t.Run("overflow and underflow panic", func(t *testing.T) {
		frame := newTestFrame(0, 1, nil)
		assert.Panics(t, func() { frame.Pop() })
		frame.Push(IntValue(1))
		assert.Panics(t, func() { frame.Push(IntValue(2)) })
	})
}

func TestFrameLocalVars(t *testing.T) {
	frame := newTestFrame(4, 0, nil)

	frame.SetLocal(0, IntValue(10))
	frame.SetLocal(3, LongValue(-1))

	assert.Equal(t, int32(10), frame.GetLocal(0).I32())
	assert.Equal(t, int64(-1), frame.GetLocal(3).Int)
	// 未設定のローカル変数は int 0
	assert.Equal(t, TypeInt, frame.GetLocal(1).Type)

	assert.Panics(t, func() { frame.GetLocal(4) })
	assert.Panics(t, func() { frame.SetLocal(-1, IntValue(0)) })
}

func TestFrameOperands(t *testing.T) {
	frame := newTestFrame(0, 0, []byte{0xFF, 0x12, 0x34, 0xFF, 0xFE, 0x80, 0x00, 0x00, 0x01})

	assert.Equal(t, int8(-1), frame.ReadI8())
	assert.Equal(t, uint16(0x1234), frame.ReadU16())
	assert.Equal(t, int16(-2), frame.ReadI16())
	assert.Equal(t, int32(-0x7FFFFFFF), frame.ReadI32())
	require.Equal(t, len(frame.Code), frame.PC)
}

func TestFrameBranchIsRelativeToInstruction(t *testing.T) {
	frame := newTestFrame(0, 0, make([]byte, 16))
	frame.PC = 8
	frame.start = 5
	frame.branch(-3)
	assert.Equal(t, 2, frame.PC)
}
