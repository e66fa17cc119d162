package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethodDescriptor(t *testing.T) {
	tests := []struct {
		descriptor string
		params     []string
		ret        string
	}{
		{"()V", nil, "void"},
		{"(II)I", []string{"int", "int"}, "int"},
		{"([Ljava/lang/String;)V", []string{"[Ljava.lang.String;"}, "void"},
		{"(JLjava/lang/Object;)V", []string{"long", "java.lang.Object"}, "void"},
		{"(ZBCSFD[[I)Ljava/util/List;", []string{"boolean", "byte", "char", "short", "float", "double", "[[I"}, "java.util.List"},
	}

	for _, tt := range tests {
		t.Run(tt.descriptor, func(t *testing.T) {
			params, ret, err := ParseMethodDescriptor(tt.descriptor)
			require.NoError(t, err)
			assert.Equal(t, tt.params, params)
			assert.Equal(t, tt.ret, ret)
			assert.Equal(t, tt.descriptor, MethodDescriptor(params, ret))
		})
	}
}

func TestParseMethodDescriptorErrors(t *testing.T) {
	for _, d := range []string{"", "I", "(I", "(Ljava/lang/String)V", "(Q)V", "()VV"} {
		_, _, err := ParseMethodDescriptor(d)
		assert.Error(t, err, "descriptor %q", d)
	}
}

func TestTypeDescriptor(t *testing.T) {
	assert.Equal(t, "I", TypeDescriptor("int"))
	assert.Equal(t, "Ljava/lang/String;", TypeDescriptor("java.lang.String"))
	assert.Equal(t, "[Ljava/lang/String;", TypeDescriptor("[Ljava.lang.String;"))

	name, err := TypeName("[J")
	require.NoError(t, err)
	assert.Equal(t, "[J", name)

	_, err = TypeName("II")
	assert.Error(t, err)
}
