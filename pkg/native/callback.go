package native

import (
	"github.com/daimatz/j4go/pkg/jvm"
)

// Native entry points declared by the callback support classes. The bridge
// binds them with Runtime.RegisterNatives.
const (
	CallbackEntryPoint = "docallback"
	ChannelEntryPoint  = "docallbacktochannel"
	EntryPointDesc     = "(JLjava/lang/Object;)V"
)

func callbackClasses() []*jvm.Class {
	return []*jvm.Class{
		callbackSupport(CallbackSupportClass, CallbackEntryPoint),
		callbackSupport(ChannelSupportClass, ChannelEntryPoint),
	}
}

// callbackSupport defines a base class that application classes extend to
// hand objects back to native code. initialize stores the token issued by
// the bridge; doCallback forwards to the static native entry point.
func callbackSupport(name, entry string) *jvm.Class {
	return jvm.NewClass(name, "").
		Field("token", "long").
		Field("initialized", "boolean").
		Constructor(nil, func(*jvm.Env, *jvm.Object, []jvm.Value) (jvm.Value, error) {
			return void()
		}).
		NativeMethod(entry, params("long", tObject), "void", true).
		Method("initialize", params("long"), "void", func(_ *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			this.SetField("token", args[0])
			this.SetField("initialized", jvm.BoolValue(true))
			return void()
		}).
		Method("doCallback", params(tObject), "void", func(env *jvm.Env, this *jvm.Object, args []jvm.Value) (jvm.Value, error) {
			if !this.Field("initialized").Bool() {
				return jvm.Value{}, env.Exception("java.lang.IllegalStateException",
					this.Class.Name+" was not initialized with a callback token")
			}
			return env.InvokeStatic(name, entry, EntryPointDesc, this.Field("token"), args[0])
		})
}
