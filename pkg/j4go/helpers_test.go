package j4go_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/daimatz/j4go/internal/testclasses"
	"github.com/daimatz/j4go/pkg/j4go"
)

const recvTimeout = 5 * time.Second

// newJvm builds a runtime with the test classes and shuts it down when the
// test ends.
func newJvm(t *testing.T, configure ...func(*j4go.Builder)) *j4go.Jvm {
	t.Helper()
	b := j4go.NewBuilder().
		Classes(testclasses.Classes()...).
		Logger(zap.NewNop()).
		Output(&bytes.Buffer{}, &bytes.Buffer{})
	for _, c := range configure {
		c(b)
	}
	j, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), recvTimeout)
		defer cancel()
		_ = j.Shutdown(ctx)
	})
	return j
}

func create(t *testing.T, j *j4go.Jvm, className string, args ...j4go.InvocationArg) *j4go.Instance {
	t.Helper()
	inst, err := j.CreateInstance(className, args...)
	require.NoError(t, err)
	return inst
}

func toString(t *testing.T, j *j4go.Jvm, inst *j4go.Instance, err error) string {
	t.Helper()
	require.NoError(t, err)
	s, err := j4go.ToGo[string](j, inst)
	require.NoError(t, err)
	return s
}

func primitiveInt(v int32) j4go.InvocationArg { return j4go.IntArg(v).Primitive() }
