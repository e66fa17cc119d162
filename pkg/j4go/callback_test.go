package j4go_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/daimatz/j4go/internal/testclasses"
	"github.com/daimatz/j4go/pkg/j4go"
)

// collect returns a callback that decodes every delivery into out.
func collect(t *testing.T, out chan<- string) j4go.Callback {
	return func(j *j4go.Jvm, inst *j4go.Instance) {
		s, err := j4go.ToGo[string](j, inst)
		if err != nil {
			t.Errorf("decoding callback value: %v", err)
			return
		}
		out <- s
	}
}

func recvString(t *testing.T, j *j4go.Jvm, rx *j4go.InstanceReceiver) string {
	t.Helper()
	inst, err := rx.RecvTimeout(recvTimeout)
	require.NoError(t, err)
	s, err := j4go.ToGo[string](j, inst)
	require.NoError(t, err)
	return s
}

// assertNoMore checks that nothing beyond what was received gets delivered.
func assertNoMore(t *testing.T, rx *j4go.InstanceReceiver) {
	t.Helper()
	_, err := rx.RecvTimeout(100 * time.Millisecond)
	assert.ErrorIs(t, err, j4go.ErrTimeout)
}

func TestInvokeAsync(t *testing.T) {
	j := newJvm(t)

	t.Run("from a host thread", func(t *testing.T) {
		my := create(t, j, testclasses.MyTest)
		defer my.Close()
		got := make(chan string, 1)
		require.NoError(t, j.InvokeAsync(my, "performCallback", collect(t, got)))
		select {
		case s := <-got:
			assert.Equal(t, testclasses.TheString, s)
		case <-time.After(recvTimeout):
			t.Fatal("callback was not called")
		}
	})

	t.Run("synchronously", func(t *testing.T) {
		my := create(t, j, testclasses.MyTest)
		defer my.Close()
		got := make(chan string, 1)
		require.NoError(t, j.InvokeAsync(my, "performCallbackSync", collect(t, got), j4go.StringArg("now")))
		assert.Equal(t, "now", <-got)
	})

	t.Run("callback can call back in", func(t *testing.T) {
		my := create(t, j, testclasses.MyTest)
		defer my.Close()
		got := make(chan string, 1)
		err := j.InvokeAsync(my, "performCallback", func(cj *j4go.Jvm, inst *j4go.Instance) {
			res, err := cj.Invoke(inst, "toUpperCase")
			if err != nil {
				t.Errorf("invoke from callback: %v", err)
				return
			}
			s, _ := j4go.ToGo[string](cj, res)
			got <- s
			_ = inst.Close()
		})
		require.NoError(t, err)
		select {
		case s := <-got:
			assert.Equal(t, strings.ToUpper(testclasses.TheString), s)
		case <-time.After(recvTimeout):
			t.Fatal("callback was not called")
		}
	})

	t.Run("panicking callback", func(t *testing.T) {
		my := create(t, j, testclasses.MyTest)
		defer my.Close()
		err := j.InvokeAsync(my, "performCallbackSync", func(*j4go.Jvm, *j4go.Instance) {
			panic("boom")
		}, j4go.StringArg("x"))
		var jerr *j4go.Error
		require.ErrorAs(t, err, &jerr)
		assert.Equal(t, j4go.KindInvocation, jerr.Kind)
		assert.Equal(t, "java.lang.RuntimeException", jerr.JavaClass)
		assert.Contains(t, jerr.Message, "boom")

		// 失敗後も同じスレッドで呼び出せる
		res, err := j.Invoke(my, "getMyString")
		assert.Equal(t, testclasses.TheString, toString(t, j, res, err))
	})

	t.Run("callback jvm does not detach", func(t *testing.T) {
		my := create(t, j, testclasses.MyTest)
		defer my.Close()
		errs := make(chan error, 1)
		require.NoError(t, j.InvokeAsync(my, "performCallbackSync", func(cj *j4go.Jvm, inst *j4go.Instance) {
			_ = inst.Close()
			errs <- cj.Close()
		}, j4go.StringArg("x")))
		assert.NoError(t, <-errs)
		_, ok := j.Runtime().CurrentEnv()
		assert.True(t, ok)
	})

	t.Run("host threads cannot be detached", func(t *testing.T) {
		my := create(t, j, testclasses.MyTest)
		defer my.Close()
		errs := make(chan error, 1)
		require.NoError(t, j.InvokeAsync(my, "performCallback", func(cj *j4go.Jvm, inst *j4go.Instance) {
			_ = inst.Close()
			errs <- cj.DetachOnClose(true).Close()
		}))
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, j4go.ErrAttach)
		case <-time.After(recvTimeout):
			t.Fatal("callback was not called")
		}
	})

	t.Run("requires the callback support class", func(t *testing.T) {
		d := create(t, j, testclasses.Dummy)
		defer d.Close()
		err := j.InvokeAsync(d, "getI", func(*j4go.Jvm, *j4go.Instance) {})
		assert.ErrorIs(t, err, j4go.ErrResolution)

		second := create(t, j, testclasses.MySecondTest)
		defer second.Close()
		err = j.InvokeAsync(second, "performCallback", func(*j4go.Jvm, *j4go.Instance) {})
		assert.ErrorIs(t, err, j4go.ErrResolution)
	})

	t.Run("nil callback", func(t *testing.T) {
		my := create(t, j, testclasses.MyTest)
		defer my.Close()
		assert.ErrorIs(t, j.InvokeAsync(my, "performCallback", nil), j4go.ErrConversion)
	})

	t.Run("uninitialized object", func(t *testing.T) {
		my := create(t, j, testclasses.MyTest)
		defer my.Close()
		_, err := j.Invoke(my, "performCallbackSync", j4go.StringArg("x"))
		var jerr *j4go.Error
		require.ErrorAs(t, err, &jerr)
		assert.Equal(t, "java.lang.IllegalStateException", jerr.JavaClass)
	})
}

func TestInvokeToChannel(t *testing.T) {
	j := newJvm(t)

	t.Run("single delivery", func(t *testing.T) {
		second := create(t, j, testclasses.MySecondTest)
		defer second.Close()
		rx, err := j.InvokeToChannel(second, "performCallback")
		require.NoError(t, err)
		defer rx.Close()
		assert.Equal(t, testclasses.TheString, recvString(t, j, rx))
		assertNoMore(t, rx)
	})

	t.Run("ten deliveries keep their order", func(t *testing.T) {
		second := create(t, j, testclasses.MySecondTest)
		defer second.Close()
		rx, err := j.InvokeToChannel(second, "performTenCallbacks")
		require.NoError(t, err)
		defer rx.Close()
		for i := range 10 {
			assert.Equal(t, fmt.Sprintf("%s %d", testclasses.TheString, i), recvString(t, j, rx))
		}
		assertNoMore(t, rx)
	})

	t.Run("deliveries from ten threads", func(t *testing.T) {
		second := create(t, j, testclasses.MySecondTest)
		defer second.Close()
		rx, err := j.InvokeToChannel(second, "performCallbackFromTenThreads")
		require.NoError(t, err)
		defer rx.Close()
		var got, want []string
		for i := range 10 {
			got = append(got, recvString(t, j, rx))
			want = append(want, fmt.Sprintf("%s from thread %d", testclasses.TheString, i))
		}
		assert.ElementsMatch(t, want, got)
	})

	t.Run("timeout", func(t *testing.T) {
		second := create(t, j, testclasses.MySecondTest)
		defer second.Close()
		rx, err := j.InvokeToChannel(second, "performTaggedCallbacks", j4go.StringArg("none"), primitiveInt(0))
		require.NoError(t, err)
		defer rx.Close()
		_, err = rx.RecvTimeout(20 * time.Millisecond)
		assert.ErrorIs(t, err, j4go.ErrChannel)
		assert.ErrorIs(t, err, j4go.ErrTimeout)
	})

	t.Run("delivery after close", func(t *testing.T) {
		second := create(t, j, testclasses.MySecondTest)
		defer second.Close()
		rx, err := j.InvokeToChannel(second, "performTaggedCallbacks", j4go.StringArg("none"), primitiveInt(0))
		require.NoError(t, err)
		require.NoError(t, rx.Close())
		require.NoError(t, rx.Close())

		_, err = rx.Recv()
		assert.ErrorIs(t, err, j4go.ErrClosed)

		_, err = j.Invoke(second, "deliverNow", j4go.StringArg("late"))
		var jerr *j4go.Error
		require.ErrorAs(t, err, &jerr)
		assert.Equal(t, j4go.KindInvocation, jerr.Kind)
		assert.Equal(t, "java.lang.IllegalStateException", jerr.JavaClass)
		assert.Equal(t, 1.0, testutil.ToFloat64(j.Metrics().Deliveries.WithLabelValues("channel", "rejected")))
	})

	t.Run("close releases buffered instances", func(t *testing.T) {
		second := create(t, j, testclasses.MySecondTest)
		defer second.Close()
		rx, err := j.InvokeToChannel(second, "performTaggedCallbacks", j4go.StringArg("none"), primitiveInt(0))
		require.NoError(t, err)
		before := j.Runtime().GlobalRefCount()
		for _, s := range []string{"a", "b"} {
			res, err := j.Invoke(second, "deliverNow", j4go.StringArg(s))
			require.NoError(t, err)
			assert.True(t, res.IsVoid())
		}
		assert.Equal(t, before+2, j.Runtime().GlobalRefCount())
		require.NoError(t, rx.Close())
		assert.Equal(t, before, j.Runtime().GlobalRefCount())
	})

	t.Run("requires the channel support class", func(t *testing.T) {
		my := create(t, j, testclasses.MyTest)
		defer my.Close()
		_, err := j.InvokeToChannel(my, "performCallback")
		assert.ErrorIs(t, err, j4go.ErrResolution)
	})

	t.Run("failed registration is closed", func(t *testing.T) {
		second := create(t, j, testclasses.MySecondTest)
		defer second.Close()
		_, err := j.InvokeToChannel(second, "noSuchMethod")
		assert.ErrorIs(t, err, j4go.ErrResolution)

		_, err = j.Invoke(second, "deliverNow", j4go.StringArg("late"))
		assert.ErrorIs(t, err, j4go.ErrInvocation)
	})
}

func TestDeliveriesDuringRegistration(t *testing.T) {
	j := newJvm(t, func(b *j4go.Builder) { b.ChannelCapacity(2) })
	rt := j.Runtime()

	t.Run("within capacity", func(t *testing.T) {
		second := create(t, j, testclasses.MySecondTest)
		defer second.Close()
		rx, err := j.InvokeToChannel(second, "performCallbacksNow", primitiveInt(2))
		require.NoError(t, err)
		defer rx.Close()
		assert.Equal(t, testclasses.TheString+" 0", recvString(t, j, rx))
		assert.Equal(t, testclasses.TheString+" 1", recvString(t, j, rx))
		assertNoMore(t, rx)
	})

	t.Run("beyond capacity", func(t *testing.T) {
		second := create(t, j, testclasses.MySecondTest)
		defer second.Close()
		before := rt.GlobalRefCount()

		done := make(chan error, 1)
		go func() {
			jj, err := j4go.AttachTo(rt)
			if err != nil {
				done <- err
				return
			}
			defer jj.Close()
			_, err = jj.InvokeToChannel(second, "performCallbacksNow", primitiveInt(3))
			done <- err
		}()

		var err error
		select {
		case err = <-done:
		case <-time.After(recvTimeout):
			t.Fatal("InvokeToChannel did not return")
		}
		var jerr *j4go.Error
		require.ErrorAs(t, err, &jerr)
		assert.Equal(t, j4go.KindInvocation, jerr.Kind)
		assert.Equal(t, "java.lang.IllegalStateException", jerr.JavaClass)
		assert.Contains(t, jerr.Message, "buffer is full")
		// 失敗した登録のバッファは解放される
		assert.Equal(t, before, rt.GlobalRefCount())
	})
}

func TestConcurrentRegistrations(t *testing.T) {
	j := newJvm(t, func(b *j4go.Builder) { b.ChannelCapacity(4) })
	second := create(t, j, testclasses.MySecondTest)
	defer second.Close()

	const perTag = 5
	var g errgroup.Group
	for i := range 10 {
		tag := fmt.Sprintf("tag%d", i)
		g.Go(func() error {
			jj, err := j4go.AttachTo(j.Runtime())
			if err != nil {
				return err
			}
			defer jj.Close()
			rx, err := jj.InvokeToChannel(second, "performTaggedCallbacks", j4go.StringArg(tag), primitiveInt(perTag))
			if err != nil {
				return err
			}
			defer rx.Close()
			for k := range perTag {
				inst, err := rx.RecvTimeout(recvTimeout)
				if err != nil {
					return fmt.Errorf("%s: %w", tag, err)
				}
				s, err := j4go.ToGo[string](jj, inst)
				if err != nil {
					return err
				}
				if want := fmt.Sprintf("%s-%d", tag, k); s != want {
					return fmt.Errorf("got %q, want %q", s, want)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 50.0, testutil.ToFloat64(j.Metrics().Deliveries.WithLabelValues("channel", "ok")))
}
