package j4go_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/j4go/internal/testclasses"
	"github.com/daimatz/j4go/pkg/j4go"
)

func TestNewArg(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{true, "java.lang.Boolean"},
		{int8(1), "java.lang.Byte"},
		{int16(1), "java.lang.Short"},
		{int32(1), "java.lang.Integer"},
		{1, "java.lang.Integer"},
		{int64(1), "java.lang.Long"},
		{float32(1), "java.lang.Float"},
		{1.0, "java.lang.Double"},
		{"s", "java.lang.String"},
		{[]bool{true}, "[Ljava.lang.Boolean;"},
		{[]float64{}, "[Ljava.lang.Double;"},
		{[]string{"a"}, "[Ljava.lang.String;"},
		{[][]int32{{1}}, "[[Ljava.lang.Integer;"},
		{j4go.LongArg(2), "java.lang.Long"},
	}
	for _, tt := range tests {
		a, err := j4go.NewArg(tt.in)
		require.NoError(t, err, "%T", tt.in)
		assert.Equal(t, tt.want, a.ClassName(), "%T", tt.in)
	}

	for _, bad := range []any{nil, uint(1), map[string]int{}, struct{}{}, math.MaxInt32 + 1, []any{1, "a"}} {
		_, err := j4go.NewArg(bad)
		assert.ErrorIs(t, err, j4go.ErrConversion, "%#v", bad)
	}

	args, err := j4go.Args(1, "two", int64(3))
	require.NoError(t, err)
	require.Len(t, args, 3)
	assert.Equal(t, "java.lang.String", args[1].ClassName())

	_, err = j4go.Args(1, uint8(2))
	assert.ErrorIs(t, err, j4go.ErrConversion)
	assert.Contains(t, err.Error(), "argument 1")
}

func TestPrimitiveAndBoxed(t *testing.T) {
	tests := []struct {
		arg       j4go.InvocationArg
		primitive string
	}{
		{j4go.BoolArg(true), "boolean"},
		{j4go.ByteArg(1), "byte"},
		{j4go.ShortArg(1), "short"},
		{j4go.IntArg(1), "int"},
		{j4go.LongArg(1), "long"},
		{j4go.FloatArg(1), "float"},
		{j4go.DoubleArg(1), "double"},
	}
	for _, tt := range tests {
		p := tt.arg.Primitive()
		assert.Equal(t, tt.primitive, p.ClassName())
		assert.Equal(t, tt.arg.ClassName(), p.Boxed().ClassName())
		assert.Equal(t, p.ClassName(), p.Primitive().ClassName())
	}

	s := j4go.StringArg("x")
	assert.Equal(t, "java.lang.String", s.Primitive().ClassName())

	arr, err := j4go.NewArg([]int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, "[J", arr.Primitive().ClassName())
	assert.Equal(t, "[Ljava.lang.Long;", arr.Primitive().Boxed().ClassName())
}

func TestCharArg(t *testing.T) {
	a, err := j4go.CharArg('A')
	require.NoError(t, err)
	assert.Equal(t, "java.lang.Character", a.ClassName())
	assert.Equal(t, "char", a.Primitive().ClassName())

	_, err = j4go.CharArg('😀')
	assert.ErrorIs(t, err, j4go.ErrConversion)
}

func TestArrayArg(t *testing.T) {
	_, err := j4go.NewArrayArg()
	assert.ErrorIs(t, err, j4go.ErrConversion)

	_, err = j4go.NewArrayArg(j4go.IntArg(1), j4go.StringArg("a"))
	assert.ErrorIs(t, err, j4go.ErrConversion)

	_, err = j4go.NewArrayArg(j4go.IntArg(1), j4go.IntArg(2).Primitive())
	assert.ErrorIs(t, err, j4go.ErrConversion)

	empty, err := j4go.NewTypedArrayArg("int")
	require.NoError(t, err)
	assert.Equal(t, "[I", empty.ClassName())
}

func TestNullAndJSONArg(t *testing.T) {
	for _, name := range []string{"", "int", "boolean"} {
		_, err := j4go.NullArg(name)
		assert.ErrorIs(t, err, j4go.ErrConversion, name)
		_, err = j4go.NewJSONArg(1, name)
		assert.ErrorIs(t, err, j4go.ErrConversion, name)
	}

	a, err := j4go.NewJSONArg(map[string]int{"a": 1}, "java.util.HashMap")
	require.NoError(t, err)
	assert.Equal(t, "java.util.HashMap", a.ClassName())

	_, err = j4go.NewJSONArg(make(chan int), "java.lang.Object")
	assert.ErrorIs(t, err, j4go.ErrConversion)
}

func TestNilInstanceArg(t *testing.T) {
	j := newJvm(t)
	for _, a := range []j4go.InvocationArg{j4go.InstanceArg(nil), j4go.InstanceRefArg(nil)} {
		assert.Empty(t, a.ClassName())
		_, err := j.InvokeStatic(testclasses.Echo, "describe", a)
		assert.ErrorIs(t, err, j4go.ErrConversion)
		assert.ErrorContains(t, err, "nil instance")
	}
}
