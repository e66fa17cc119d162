package native_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/j4go/pkg/jvm"
	"github.com/daimatz/j4go/pkg/native"
)

func TestCallbackSupport(t *testing.T) {
	for _, tc := range []struct {
		class, entry string
	}{
		{native.CallbackSupportClass, native.CallbackEntryPoint},
		{native.ChannelSupportClass, native.ChannelEntryPoint},
	} {
		t.Run(tc.class, func(t *testing.T) {
			vm := newTestVM(t)
			var (
				gotToken int64
				gotValue string
			)
			err := vm.rt.RegisterNatives(tc.class, map[string]jvm.NativeFunc{
				tc.entry: func(env *jvm.Env, _ jvm.Ref, args []jvm.JValue) (jvm.JValue, error) {
					gotToken = args[0].Int
					s, err := env.GetStringUTF(args[1].L)
					gotValue = s
					return jvm.JValue{}, err
				},
			})
			require.NoError(t, err)

			obj, err := vm.env.New(tc.class, "()V")
			require.NoError(t, err)

			// initialize 前の doCallback は IllegalStateException
			_, err = vm.env.InvokeVirtual(obj, "doCallback", "(Ljava/lang/Object;)V", vm.str("early"))
			requireThrown(t, err, "java.lang.IllegalStateException")

			vm.call(t, jvm.RefValue(obj), "initialize", "(J)V", jvm.LongValue(7))
			vm.call(t, jvm.RefValue(obj), "doCallback", "(Ljava/lang/Object;)V", vm.str("payload"))
			assert.Equal(t, int64(7), gotToken)
			assert.Equal(t, "payload", gotValue)
		})
	}
}

func TestCallbackSupportUnbound(t *testing.T) {
	vm := newTestVM(t)
	obj, err := vm.env.New(native.CallbackSupportClass, "()V")
	require.NoError(t, err)
	vm.call(t, jvm.RefValue(obj), "initialize", "(J)V", jvm.LongValue(1))

	_, err = vm.env.InvokeVirtual(obj, "doCallback", "(Ljava/lang/Object;)V", jvm.NullValue())
	requireThrown(t, err, "java.lang.UnsatisfiedLinkError")
}
