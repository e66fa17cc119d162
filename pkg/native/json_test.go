package native_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/j4go/pkg/jvm"
	"github.com/daimatz/j4go/pkg/native"
)

func personClass() *jvm.Class {
	return jvm.NewClass("test.Person", "").
		Field("name", "java.lang.String").
		Field("age", "int").
		Field("tags", "java.util.List").
		Constructor(nil, func(*jvm.Env, *jvm.Object, []jvm.Value) (jvm.Value, error) { return jvm.VoidValue(), nil })
}

func TestToJSON(t *testing.T) {
	vm := newTestVM(t, personClass())

	tests := []struct {
		name  string
		value func(t *testing.T) jvm.Value
		want  string
	}{
		{
			name:  "null",
			value: func(*testing.T) jvm.Value { return jvm.NullValue() },
			want:  `null`,
		},
		{
			name:  "string",
			value: func(*testing.T) jvm.Value { return vm.str(`say "hi"`) },
			want:  `"say \"hi\""`,
		},
		{
			name:  "boxed long",
			value: func(t *testing.T) jvm.Value { return vm.box(t, "long", jvm.LongValue(1<<40)) },
			want:  `1099511627776`,
		},
		{
			name:  "char",
			value: func(t *testing.T) jvm.Value { return vm.box(t, "char", jvm.IntValue('x')) },
			want:  `"x"`,
		},
		{
			name: "primitive array",
			value: func(t *testing.T) jvm.Value {
				arr, err := vm.env.NewArrayOf("boolean", []jvm.Value{jvm.BoolValue(true), jvm.BoolValue(false)})
				require.NoError(t, err)
				return jvm.RefValue(arr)
			},
			want: `[true,false]`,
		},
		{
			name: "map keeps insertion order",
			value: func(t *testing.T) jvm.Value {
				obj, err := native.NewHashMap(vm.env)
				require.NoError(t, err)
				m, ok := native.MapOf(obj)
				require.True(t, ok)
				_, err = m.Put(vm.env, vm.str("z"), vm.box(t, "int", jvm.IntValue(1)))
				require.NoError(t, err)
				_, err = m.Put(vm.env, vm.str("a"), jvm.NullValue())
				require.NoError(t, err)
				return jvm.RefValue(obj)
			},
			want: `{"z":1,"a":null}`,
		},
		{
			name: "object fields",
			value: func(t *testing.T) jvm.Value {
				p, err := vm.env.New("test.Person", "()V")
				require.NoError(t, err)
				p.SetField("name", vm.str("Ada"))
				p.SetField("age", jvm.IntValue(36))
				tags, err := native.NewArrayList(vm.env, []jvm.Value{vm.str("math")})
				require.NoError(t, err)
				p.SetField("tags", jvm.RefValue(tags))
				return jvm.RefValue(p)
			},
			want: `{"name":"Ada","age":36,"tags":["math"]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := native.ToJSON(vm.env, tt.value(t))
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToJSONRejectsCycles(t *testing.T) {
	vm := newTestVM(t)
	obj, err := native.NewArrayList(vm.env, nil)
	require.NoError(t, err)
	_, err = vm.env.InvokeVirtual(obj, "add", "(Ljava/lang/Object;)Z", jvm.RefValue(obj))
	require.NoError(t, err)

	_, err = native.ToJSON(vm.env, jvm.RefValue(obj))
	requireThrown(t, err, "java.lang.IllegalArgumentException")
}

func TestFromJSON(t *testing.T) {
	vm := newTestVM(t, personClass())

	t.Run("bean", func(t *testing.T) {
		v, err := native.FromJSON(vm.env, `{"name":"Ada","age":36,"tags":["math","poetry"]}`, "test.Person")
		require.NoError(t, err)
		require.Equal(t, "test.Person", v.Ref.Class.Name)
		assert.Equal(t, "Ada", goString(t, v.Ref.Field("name")))
		assert.Equal(t, int32(36), v.Ref.Field("age").I32())

		tags, err := native.Elements(vm.env, v.Ref.Field("tags").Ref)
		require.NoError(t, err)
		assert.Len(t, tags, 2)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := native.FromJSON(vm.env, `{"nickname":"A"}`, "test.Person")
		requireThrown(t, err, "java.lang.IllegalArgumentException")
	})

	t.Run("wrapper", func(t *testing.T) {
		v, err := native.FromJSON(vm.env, `42`, "java.lang.Integer")
		require.NoError(t, err)
		prim, typeName, ok := native.Unbox(v)
		require.True(t, ok)
		assert.Equal(t, "int", typeName)
		assert.Equal(t, int32(42), prim.I32())
	})

	t.Run("int out of range", func(t *testing.T) {
		_, err := native.FromJSON(vm.env, `4294967296`, "java.lang.Integer")
		requireThrown(t, err, "java.lang.IllegalArgumentException")
	})

	t.Run("string array", func(t *testing.T) {
		v, err := native.FromJSON(vm.env, `["a","b"]`, "[Ljava.lang.String;")
		require.NoError(t, err)
		assert.Equal(t, "[Ljava.lang.String;", v.Ref.Class.Name)
		elems, _ := v.Ref.Elements()
		assert.Equal(t, "b", goString(t, elems[1]))
	})

	t.Run("object picks natural types", func(t *testing.T) {
		v, err := native.FromJSON(vm.env, `{"n":1,"big":10000000000,"f":1.5,"ok":true,"list":[]}`, "java.lang.Object")
		require.NoError(t, err)
		m, ok := native.MapOf(v.Ref)
		require.True(t, ok)

		classes := map[string]string{}
		for _, e := range m.Entries() {
			k, _ := native.GoString(e.Key)
			classes[k] = e.Value.Ref.Class.Name
		}
		assert.Equal(t, map[string]string{
			"n":    "java.lang.Integer",
			"big":  "java.lang.Long",
			"f":    "java.lang.Double",
			"ok":   "java.lang.Boolean",
			"list": "java.util.ArrayList",
		}, classes)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := native.FromJSON(vm.env, `{`, "java.lang.Object")
		requireThrown(t, err, "java.lang.IllegalArgumentException")
	})
}

func TestJSONHooks(t *testing.T) {
	vm := newTestVM(t)

	obj, err := vm.env.InvokeStatic(native.JSONClass, "fromJson", "(Ljava/lang/String;Ljava/lang/String;)Ljava/lang/Object;",
		vm.str(`[1,2,3]`), vm.str("java.util.List"))
	require.NoError(t, err)
	s, err := vm.env.InvokeStatic(native.JSONClass, "toJson", "(Ljava/lang/Object;)Ljava/lang/String;", obj)
	require.NoError(t, err)
	assert.Equal(t, `[1,2,3]`, goString(t, s))

	// プリミティブ名を渡すとラッパーで返る
	boxed, err := vm.env.InvokeStatic(native.JSONClass, "fromJson", "(Ljava/lang/String;Ljava/lang/String;)Ljava/lang/Object;",
		vm.str(`2.5`), vm.str("double"))
	require.NoError(t, err)
	assert.Equal(t, "java.lang.Double", boxed.Ref.Class.Name)
}
