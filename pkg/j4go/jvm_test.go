package j4go_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/daimatz/j4go/internal/testclasses"
	"github.com/daimatz/j4go/pkg/j4go"
	"github.com/daimatz/j4go/pkg/jvm"
	"github.com/daimatz/j4go/pkg/native"
)

func TestBuilder(t *testing.T) {
	t.Run("system properties", func(t *testing.T) {
		j := newJvm(t, func(b *j4go.Builder) {
			b.JavaOpts("-Dapp.mode=test", "-Dempty=", "-Xss512k", "-verbose:jni", "-Xcheck:jni")
		})
		v, ok := j.Runtime().Property("app.mode")
		assert.True(t, ok)
		assert.Equal(t, "test", v)
		v, ok = j.Runtime().Property("empty")
		assert.True(t, ok)
		assert.Empty(t, v)
	})

	t.Run("classpath directory", func(t *testing.T) {
		dir := t.TempDir()
		j := newJvm(t, func(b *j4go.Builder) { b.ClasspathEntry(j4go.ClasspathEntry(dir)) })
		_, err := j.CreateInstance("com.example.Missing")
		assert.ErrorIs(t, err, j4go.ErrResolution)
	})

	for _, tt := range []struct {
		name      string
		configure func(*j4go.Builder)
	}{
		{"unrecognized option", func(b *j4go.Builder) { b.JavaOpt("-Xmx1g") }},
		{"property without a key", func(b *j4go.Builder) { b.JavaOpt("-D=v") }},
		{"bad stack size", func(b *j4go.Builder) { b.JavaOpt("-Xssbig") }},
		{"negative capacity", func(b *j4go.Builder) { b.ChannelCapacity(-1) }},
		{"missing classpath entry", func(b *j4go.Builder) {
			b.ClasspathEntry(j4go.ClasspathEntry(filepath.Join(t.TempDir(), "nope")))
		}},
		{"classpath file that is not a jar", func(b *j4go.Builder) {
			p := filepath.Join(t.TempDir(), "classes.txt")
			require.NoError(t, os.WriteFile(p, nil, 0o600))
			b.ClasspathEntry(j4go.ClasspathEntry(p))
		}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			b := j4go.NewBuilder().Logger(zap.NewNop())
			tt.configure(b)
			_, err := b.Build()
			assert.ErrorIs(t, err, j4go.ErrConfig)
			assert.Equal(t, j4go.KindConfig, j4go.KindOf(err))
		})
	}

	t.Run("NewJvm", func(t *testing.T) {
		j, err := j4go.NewJvm(nil, []j4go.JavaOpt{"-Dx=y"})
		require.NoError(t, err)
		defer j.Shutdown(context.Background())
		s, err := j.CreateInstance("java.lang.Object")
		require.NoError(t, err)
		assert.Equal(t, "java.lang.Object", s.ClassName())
		require.NoError(t, s.Close())
	})
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	j := newJvm(t, func(b *j4go.Builder) { b.Metrics(reg) })

	assert.Equal(t, 1.0, testutil.ToFloat64(j.Metrics().AttachedThreads))
	d := create(t, j, testclasses.Dummy)
	_, err := j.Invoke(d, "missing")
	require.Error(t, err)
	require.NoError(t, d.Close())

	n, err := testutil.GatherAndCount(reg, "j4go_invocations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(j.Metrics().Invocations.WithLabelValues("constructor", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(j.Metrics().Invocations.WithLabelValues("instance", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(j.Metrics().LiveInstances))

	t.Run("registering twice fails", func(t *testing.T) {
		_, err := j4go.NewBuilder().Logger(zap.NewNop()).Metrics(reg).Build()
		assert.ErrorIs(t, err, j4go.ErrConfig)
	})
}

func TestAttachDetach(t *testing.T) {
	t.Run("close detaches once", func(t *testing.T) {
		j := newJvm(t)
		other, err := j4go.AttachTo(j.Runtime())
		require.NoError(t, err)

		require.NoError(t, j.Close())
		require.NoError(t, j.Close())
		_, ok := j.Runtime().CurrentEnv()
		assert.False(t, ok)

		// すでに detach 済みのスレッドをもう一度 detach するとエラー
		assert.ErrorIs(t, other.Close(), j4go.ErrAttach)

		_, err = j.InvokeStatic(testclasses.Echo, "nothing")
		assert.ErrorIs(t, err, j4go.ErrAttach)
	})

	t.Run("suppressed detach", func(t *testing.T) {
		j := newJvm(t)
		require.NoError(t, j.DetachOnClose(false).Close())
		_, ok := j.Runtime().CurrentEnv()
		assert.True(t, ok)
	})

	t.Run("reattach after close", func(t *testing.T) {
		j := newJvm(t)
		require.NoError(t, j.Close())
		again, err := j4go.AttachTo(j.Runtime())
		require.NoError(t, err)
		defer again.Close()
		res, err := again.InvokeStatic(testclasses.DummyWithStatic, "method")
		assert.Equal(t, "method product", toString(t, again, res, err))
	})

	t.Run("unknown runtime", func(t *testing.T) {
		rt, err := jvm.New(jvm.Options{Loader: native.NewBootstrapLoader(), Logger: zap.NewNop(), Stdout: &bytes.Buffer{}})
		require.NoError(t, err)
		defer rt.Destroy(context.Background())
		_, err = j4go.AttachTo(rt)
		assert.ErrorIs(t, err, j4go.ErrAttach)
	})
}

func TestShutdown(t *testing.T) {
	j := newJvm(t)
	rt := j.Runtime()
	assert.Contains(t, j4go.CreatedRuntimes(), rt)

	second := create(t, j, testclasses.MySecondTest)
	rx, err := j.InvokeToChannel(second, "performTaggedCallbacks", j4go.StringArg("none"), primitiveInt(0))
	require.NoError(t, err)

	require.NoError(t, j.Shutdown(context.Background()))
	assert.True(t, rt.Destroyed())
	assert.NotContains(t, j4go.CreatedRuntimes(), rt)

	_, err = rx.Recv()
	assert.ErrorIs(t, err, j4go.ErrClosed)
	assert.NoError(t, second.Close())

	_, err = j.CreateInstance(testclasses.Dummy)
	assert.ErrorIs(t, err, j4go.ErrAttach)
	_, err = j4go.AttachTo(rt)
	assert.ErrorIs(t, err, j4go.ErrAttach)
	assert.NoError(t, j.Close())
}

func TestSetRuntime(t *testing.T) {
	assert.ErrorIs(t, j4go.SetRuntime(nil), j4go.ErrAttach)

	rt, err := jvm.New(jvm.Options{Loader: native.NewBootstrapLoader(), Logger: zap.NewNop(), Stdout: &bytes.Buffer{}})
	require.NoError(t, err)
	require.NoError(t, j4go.SetRuntime(rt))

	j, err := j4go.Attach()
	require.NoError(t, err)
	defer j.Shutdown(context.Background())
	assert.Same(t, rt, j.Runtime())
	assert.Equal(t, rt, j4go.CreatedRuntimes()[0])

	obj, err := j.CreateInstance("java.lang.Object")
	require.NoError(t, err)
	require.NoError(t, obj.Close())

	t.Run("known runtime moves to the front", func(t *testing.T) {
		built := newJvm(t)
		require.NoError(t, j4go.SetRuntime(built.Runtime()))
		assert.Equal(t, built.Runtime(), j4go.CreatedRuntimes()[0])
		require.NoError(t, j4go.SetRuntime(rt))
	})
}
