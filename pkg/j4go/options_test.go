package j4go

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStackSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"1m", 1024, false},
		{"1M", 1024, false},
		{"512k", 512, false},
		{"2048", 2, false},
		{"1g", 1 << 20, false},
		{"100", 0, true},
		{"0k", 0, true},
		{"-1m", 0, true},
		{"", 0, true},
		{"k", 0, true},
		{"big", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseStackSize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJavaOpts(t *testing.T) {
	ro, err := parseJavaOpts([]JavaOpt{"-Da=1", "-Db", "-Dc=x=y", "-verbose:jni", "-Xss2m"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "", "c": "x=y"}, ro.props)
	assert.True(t, ro.verboseJNI)
	assert.False(t, ro.checkJNI)
	assert.Equal(t, 2048, ro.maxDepth)

	_, err = parseJavaOpts([]JavaOpt{"-server"})
	assert.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "unrecognized option: -server")
}

func TestRegistry(t *testing.T) {
	r := newRegistry[string]()
	a := r.add("a")
	b := r.add("b")
	assert.Equal(t, int64(1), a)
	assert.Equal(t, int64(2), b)
	assert.Equal(t, 2, r.len())

	v, ok := r.get(b)
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	r.remove(a)
	_, ok = r.get(a)
	assert.False(t, ok)

	assert.Equal(t, []string{"b"}, r.drain())
	assert.Zero(t, r.len())
	// トークンは再利用しない
	assert.Equal(t, int64(3), r.add("c"))
}

func TestError(t *testing.T) {
	err := &Error{Kind: KindInvocation, Op: "invoke Foo.bar", JavaClass: "java.lang.RuntimeException", Message: "boom"}
	assert.Equal(t, "j4go: invocation error in invoke Foo.bar: java.lang.RuntimeException: boom", err.Error())
	assert.ErrorIs(t, err, ErrInvocation)
	assert.NotErrorIs(t, err, ErrResolution)
	assert.Equal(t, KindInvocation, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))

	wrapped := wrapError(KindChannel, "recv", ErrTimeout)
	assert.ErrorIs(t, wrapped, ErrTimeout)
	assert.ErrorIs(t, wrapped, ErrChannel)
	assert.Equal(t, "j4go: channel error in recv (caused by: receive timed out)", wrapped.Error())
}
