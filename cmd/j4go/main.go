// Command j4go starts a runtime and calls one static method, printing the
// result.
//
//	j4go [-config j4go.toml] [-cp dir:app.jar] [-J -Dk=v] Class method [arg...]
//
// Arguments are strings unless prefixed with a type: int:5, long:5,
// double:1.5, bool:true, char:x, string:s, null:java.lang.String or
// json:com.example.Person:{"name":"Ann"}.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/daimatz/j4go/pkg/config"
	"github.com/daimatz/j4go/pkg/j4go"
	"github.com/daimatz/j4go/pkg/jvm"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// extraClasses returns classes defined in every runtime the command
// builds. Builds tagged fixtures add the test classes for smoke runs.
var extraClasses func() []*jvm.Class

// stringList is a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, " ") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type options struct {
	configPath  string
	classpath   string
	javaOpts    stringList
	verbose     bool
	timeout     time.Duration

	className string
	method    string
	args      []string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("j4go", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "Path to "+config.FileName+" (default: ./"+config.FileName+" if present)")
	fs.StringVar(&o.classpath, "cp", "", "Classpath entries separated by "+string(filepath.ListSeparator))
	fs.Var(&o.javaOpts, "J", "Runtime option, e.g. -J -Dkey=value (repeatable)")
	fs.BoolVar(&o.verbose, "v", false, "Debug logging")
	fs.DurationVar(&o.timeout, "shutdown-timeout", 5*time.Second, "How long to wait for runtime threads on exit")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: j4go [flags] Class method [arg...]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return nil, errors.New("class and method are required")
	}
	o.className, o.method, o.args = fs.Arg(0), fs.Arg(1), fs.Args()[2:]
	return o, nil
}

// loadConfig reads the config file, falling back to the defaults when no
// path is given and the current directory has none.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(config.FileName); err == nil {
		return config.Load(config.FileName)
	}
	return config.Parse("", "")
}

// parseArg converts a command line argument to an InvocationArg.
func parseArg(s string) (j4go.InvocationArg, error) {
	kind, v, ok := strings.Cut(s, ":")
	if !ok {
		return j4go.StringArg(s), nil
	}
	switch kind {
	case "string":
		return j4go.StringArg(v), nil
	case "int":
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return j4go.InvocationArg{}, err
		}
		return j4go.IntArg(int32(n)), nil
	case "long":
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return j4go.InvocationArg{}, err
		}
		return j4go.LongArg(n), nil
	case "double":
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return j4go.InvocationArg{}, err
		}
		return j4go.DoubleArg(f), nil
	case "bool":
		b, err := strconv.ParseBool(v)
		if err != nil {
			return j4go.InvocationArg{}, err
		}
		return j4go.BoolArg(b), nil
	case "char":
		r, size := utf8.DecodeRuneInString(v)
		if size == 0 || size != len(v) {
			return j4go.InvocationArg{}, fmt.Errorf("char argument %q must be one character", v)
		}
		return j4go.CharArg(r)
	case "null":
		return j4go.NullArg(v)
	case "json":
		className, payload, ok := strings.Cut(v, ":")
		if !ok {
			return j4go.InvocationArg{}, fmt.Errorf("json argument %q needs a class name", v)
		}
		var tree any
		if err := json.Unmarshal([]byte(payload), &tree); err != nil {
			return j4go.InvocationArg{}, fmt.Errorf("json argument: %w", err)
		}
		return j4go.NewJSONArg(tree, className)
	}
	return j4go.StringArg(s), nil
}

// format renders a result for printing. Void prints nothing.
func format(j *j4go.Jvm, inst *j4go.Instance) (string, error) {
	switch {
	case inst.IsVoid():
		return "", nil
	case inst.IsNull():
		return "null", nil
	}
	v, err := j4go.ToGo[any](j, inst)
	if err != nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func run(args []string, stdout, stderr io.Writer) (err error) {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	c, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}
	if o.verbose {
		c.Log.Level = "debug"
	}
	log, err := c.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	b := c.Builder().Logger(log).Output(stdout, stderr)
	if o.classpath != "" {
		for _, p := range filepath.SplitList(o.classpath) {
			b.ClasspathEntry(j4go.ClasspathEntry(p))
		}
	}
	for _, opt := range o.javaOpts {
		b.JavaOpt(j4go.JavaOpt(opt))
	}
	if extraClasses != nil {
		b.Classes(extraClasses()...)
	}

	callArgs := make([]j4go.InvocationArg, len(o.args))
	for i, a := range o.args {
		if callArgs[i], err = parseArg(a); err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
	}

	j, err := b.Build()
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		defer cancel()
		if serr := j.Shutdown(ctx); serr != nil {
			log.Warn("shutdown", zap.Error(serr))
		}
	}()

	res, err := j.InvokeStatic(o.className, o.method, callArgs...)
	if err != nil {
		return err
	}
	out, err := format(j, res)
	if err != nil {
		return err
	}
	if out != "" {
		fmt.Fprintln(stdout, out)
	}
	return nil
}
