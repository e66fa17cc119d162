// Package config loads j4go.toml files describing how to start a runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/daimatz/j4go/pkg/j4go"
)

// FileName is the conventional name of the config file.
const FileName = "j4go.toml"

// Config is a parsed j4go.toml.
type Config struct {
	JVM JVM `toml:"jvm"`
	Log Log `toml:"log"`

	// Dir is the directory relative classpath entries are resolved against.
	Dir string `toml:"-"`
}

// JVM configures the runtime.
type JVM struct {
	Classpath       []string `toml:"classpath"`
	Options         []string `toml:"options"`
	ChannelCapacity int      `toml:"channel_capacity"`
}

// Log configures the zap logger.
type Log struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Load parses the file at path. Relative classpath entries are resolved
// against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	c, err := Parse(string(data), dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a config document. Unknown keys are errors.
func Parse(doc, dir string) (*Config, error) {
	c := &Config{Dir: dir}
	md, err := toml.Decode(doc, c)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	if c.JVM.ChannelCapacity < 0 {
		return nil, fmt.Errorf("jvm.channel_capacity must not be negative, got %d", c.JVM.ChannelCapacity)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	return c, nil
}

// ClasspathEntries returns the classpath with relative entries resolved.
func (c *Config) ClasspathEntries() []j4go.ClasspathEntry {
	out := make([]j4go.ClasspathEntry, len(c.JVM.Classpath))
	for i, p := range c.JVM.Classpath {
		if !filepath.IsAbs(p) && c.Dir != "" {
			p = filepath.Join(c.Dir, p)
		}
		out[i] = j4go.ClasspathEntry(p)
	}
	return out
}

// Builder returns a j4go.Builder carrying the runtime settings.
func (c *Config) Builder() *j4go.Builder {
	opts := make([]j4go.JavaOpt, len(c.JVM.Options))
	for i, o := range c.JVM.Options {
		opts[i] = j4go.JavaOpt(o)
	}
	return j4go.NewBuilder().
		ClasspathEntries(c.ClasspathEntries()...).
		JavaOpts(opts...).
		ChannelCapacity(c.JVM.ChannelCapacity)
}

// NewLogger builds the configured logger.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
