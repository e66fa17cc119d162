package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/daimatz/j4go/pkg/j4go"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	doc := `
[jvm]
classpath = ["classes", "/opt/lib/app.jar"]
options = ["-Dapp.mode=test", "-Xss2m"]
channel_capacity = 16

[log]
level = "debug"
development = true
`
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"-Dapp.mode=test", "-Xss2m"}, c.JVM.Options)
	assert.Equal(t, 16, c.JVM.ChannelCapacity)
	assert.Equal(t, "debug", c.Log.Level)
	assert.True(t, c.Log.Development)
	assert.Equal(t, []j4go.ClasspathEntry{
		j4go.ClasspathEntry(filepath.Join(dir, "classes")),
		"/opt/lib/app.jar",
	}, c.ClasspathEntries())

	log, err := c.NewLogger()
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestParseDefaults(t *testing.T) {
	c, err := Parse("", "")
	require.NoError(t, err)
	assert.Equal(t, "info", c.Log.Level)
	assert.Empty(t, c.ClasspathEntries())
	assert.Zero(t, c.JVM.ChannelCapacity)

	log, err := c.NewLogger()
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"syntax", "[jvm"},
		{"unknown key", "[jvm]\nclass_path = []"},
		{"unknown table", "[server]\nport = 1"},
		{"wrong type", "[jvm]\nchannel_capacity = \"big\""},
		{"negative capacity", "[jvm]\nchannel_capacity = -1"},
		{"bad level", "[log]\nlevel = \"loud\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.doc, "")
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), FileName))
	assert.Error(t, err)
}

func TestBuilder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "classes"), 0o755))
	c, err := Parse("[jvm]\nclasspath = [\"classes\"]\noptions = [\"-Dk=v\"]\n", dir)
	require.NoError(t, err)

	j, err := c.Builder().Build()
	require.NoError(t, err)
	defer j.Shutdown(t.Context())
	v, ok := j.Runtime().Property("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	c.JVM.Options = []string{"-Xmx1g"}
	_, err = c.Builder().Build()
	assert.ErrorIs(t, err, j4go.ErrConfig)
}
