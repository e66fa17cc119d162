package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/j4go/internal/testclasses"
	"github.com/daimatz/j4go/pkg/j4go"
)

func TestMain(m *testing.M) {
	extraClasses = testclasses.Classes
	os.Exit(m.Run())
}

func TestParseFlags(t *testing.T) {
	var stderr bytes.Buffer
	o, err := parseFlags([]string{"-cp", "a" + string(filepath.ListSeparator) + "b", "-J", "-Dx=1", "-J", "-Xss1m", "-v", "Main", "run", "int:1", "s"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "a"+string(filepath.ListSeparator)+"b", o.classpath)
	assert.Equal(t, stringList{"-Dx=1", "-Xss1m"}, o.javaOpts)
	assert.True(t, o.verbose)
	assert.Equal(t, "Main", o.className)
	assert.Equal(t, "run", o.method)
	assert.Equal(t, []string{"int:1", "s"}, o.args)

	_, err = parseFlags([]string{"Main"}, &stderr)
	assert.Error(t, err)
	assert.Contains(t, stderr.String(), "Usage: j4go")

	_, err = parseFlags([]string{"-h"}, &stderr)
	assert.ErrorIs(t, err, flag.ErrHelp)

	_, err = parseFlags([]string{"-nope", "Main", "run"}, &stderr)
	assert.Error(t, err)
}

func TestParseArg(t *testing.T) {
	tests := []struct {
		in        string
		className string
	}{
		{"plain", "java.lang.String"},
		{"a:b", "java.lang.String"},
		{"string:int:5", "java.lang.String"},
		{"int:5", "java.lang.Integer"},
		{"long:5", "java.lang.Long"},
		{"double:1.5", "java.lang.Double"},
		{"bool:true", "java.lang.Boolean"},
		{"char:é", "java.lang.Character"},
		{"null:java.lang.String", "java.lang.String"},
		{`json:java.util.HashMap:{"a":1}`, "java.util.HashMap"},
	}
	for _, tt := range tests {
		a, err := parseArg(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.className, a.ClassName(), tt.in)
	}

	for _, bad := range []string{"int:x", "int:99999999999", "long:1.5", "double:x", "bool:maybe", "char:ab", "char:", "null:int", "json:{}", "json:java.lang.Object:{"} {
		_, err := parseArg(bad)
		assert.Error(t, err, bad)
	}
}

func TestRun(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"int", []string{testclasses.Echo, "echo", "int:5"}, "5\n"},
		{"string", []string{testclasses.Echo, "echo", "hello"}, "hello\n"},
		{"boolean", []string{testclasses.Echo, "echo", "bool:true"}, "true\n"},
		{"void", []string{testclasses.Echo, "nothing"}, ""},
		{"null", []string{testclasses.Echo, "nothingAtAll"}, "null\n"},
		{"static", []string{testclasses.DummyWithStatic, "methodWithArg", "int:12"}, "12\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(tt.args, &stdout, &stderr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stdout.String())
		})
	}

	t.Run("object as JSON", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		err := run([]string{testclasses.Echo, "object", `json:` + testclasses.Person + `:{"name":"Ann","age":30}`}, &stdout, &stderr)
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"Ann","age":30}`, strings.TrimSpace(stdout.String()))
	})

	t.Run("managed exception", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		err := run([]string{testclasses.Echo, "sum", "null:[I"}, &stdout, &stderr)
		assert.ErrorIs(t, err, j4go.ErrInvocation)
		assert.Contains(t, err.Error(), "java.lang.NullPointerException")
	})

	t.Run("unknown class", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		err := run([]string{"com.example.Missing", "main"}, &stdout, &stderr)
		assert.ErrorIs(t, err, j4go.ErrResolution)
	})

	t.Run("config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "j4go.toml")
		require.NoError(t, os.WriteFile(path, []byte("[jvm]\noptions = [\"-Xbogus\"]\n"), 0o644))
		var stdout, stderr bytes.Buffer
		err := run([]string{"-config", path, testclasses.Echo, "nothing"}, &stdout, &stderr)
		assert.ErrorIs(t, err, j4go.ErrConfig)
	})

	t.Run("bad argument", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		err := run([]string{testclasses.Echo, "echo", "int:x"}, &stdout, &stderr)
		assert.ErrorContains(t, err, "argument 1")
	})
}
