package jvm

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/daimatz/j4go/pkg/classfile"
)

// minimalClasses is just enough of java.lang for the interpreter to throw.
func minimalClasses() []*Class {
	classes := []*Class{
		NewClass("java.lang.Object", ""),
		NewClass("java.lang.String", ""),
		NewClass("java.lang.Throwable", "").
			Field("detailMessage", "java.lang.String").
			Field("cause", "java.lang.Throwable"),
	}
	for _, pair := range [][2]string{
		{"java.lang.Exception", "java.lang.Throwable"},
		{"java.lang.RuntimeException", "java.lang.Exception"},
		{"java.lang.ArithmeticException", "java.lang.RuntimeException"},
		{"java.lang.NullPointerException", "java.lang.RuntimeException"},
		{"java.lang.ArrayIndexOutOfBoundsException", "java.lang.RuntimeException"},
		{"java.lang.NegativeArraySizeException", "java.lang.RuntimeException"},
		{"java.lang.Error", "java.lang.Throwable"},
		{"java.lang.InternalError", "java.lang.Error"},
	} {
		classes = append(classes, NewClass(pair[0], pair[1]))
	}
	return classes
}

func newTestEnv(t *testing.T) *Env {
	t.Helper()
	rt, err := New(Options{
		Loader: NewMapLoader(minimalClasses()...),
		Stdout: io.Discard,
		Stderr: io.Discard,
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	env, err := rt.AttachCurrentThread("test")
	require.NoError(t, err)
	return env
}

// newTestFrame builds a frame for a bare code array; the method belongs to a
// class without a constant pool.
func newTestFrame(maxLocals, maxStack uint16, code []byte) *Frame {
	m := &Method{
		Class: &Class{Name: "test.Code"},
		Name:  "run",
		Code:  &classfile.CodeAttribute{MaxLocals: maxLocals, MaxStack: maxStack, Code: code},
	}
	return NewFrame(m)
}
