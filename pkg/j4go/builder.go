package j4go

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/daimatz/j4go/pkg/jvm"
	"github.com/daimatz/j4go/pkg/native"
)

// DefaultChannelCapacity bounds InvokeToChannel buffers when the builder
// sets none.
const DefaultChannelCapacity = 64

// ClasspathEntry is a directory or .jar file searched for classes.
type ClasspathEntry string

// JavaOpt is a runtime option in java command line form.
type JavaOpt string

// Builder configures and creates a runtime.
type Builder struct {
	classpath []ClasspathEntry
	opts      []JavaOpt
	classes   []*jvm.Class
	log       *zap.Logger
	reg       prometheus.Registerer
	capacity  int
	stdout    io.Writer
	stderr    io.Writer
}

// NewBuilder returns a builder with no classpath entries and no options.
func NewBuilder() *Builder {
	return &Builder{}
}

// ClasspathEntry appends one classpath entry.
func (b *Builder) ClasspathEntry(e ClasspathEntry) *Builder {
	b.classpath = append(b.classpath, e)
	return b
}

// ClasspathEntries appends classpath entries in order.
func (b *Builder) ClasspathEntries(es ...ClasspathEntry) *Builder {
	b.classpath = append(b.classpath, es...)
	return b
}

// JavaOpt appends one option.
func (b *Builder) JavaOpt(o JavaOpt) *Builder {
	b.opts = append(b.opts, o)
	return b
}

// JavaOpts appends options in order.
func (b *Builder) JavaOpts(os ...JavaOpt) *Builder {
	b.opts = append(b.opts, os...)
	return b
}

// Classes defines Go-implemented classes next to the built-in ones. They
// take precedence over the classpath.
func (b *Builder) Classes(cs ...*jvm.Class) *Builder {
	b.classes = append(b.classes, cs...)
	return b
}

// Logger sets the logger used by the bridge and the runtime.
func (b *Builder) Logger(l *zap.Logger) *Builder {
	b.log = l
	return b
}

// Metrics registers the bridge collectors with reg.
func (b *Builder) Metrics(reg prometheus.Registerer) *Builder {
	b.reg = reg
	return b
}

// ChannelCapacity sets the buffer size of InvokeToChannel receivers.
func (b *Builder) ChannelCapacity(n int) *Builder {
	b.capacity = n
	return b
}

// Output redirects System.out and System.err of the runtime.
func (b *Builder) Output(stdout, stderr io.Writer) *Builder {
	b.stdout, b.stderr = stdout, stderr
	return b
}

// runtimeOptions is the parsed form of the JavaOpts.
type runtimeOptions struct {
	props      map[string]string
	verboseJNI bool
	checkJNI   bool
	maxDepth   int
}

func parseJavaOpts(opts []JavaOpt) (runtimeOptions, error) {
	ro := runtimeOptions{props: make(map[string]string)}
	for _, o := range opts {
		s := string(o)
		switch {
		case strings.HasPrefix(s, "-D"):
			kv := strings.TrimPrefix(s, "-D")
			k, v, _ := strings.Cut(kv, "=")
			if k == "" {
				return ro, newError(KindConfig, "parse options", fmt.Sprintf("invalid system property %q", s))
			}
			ro.props[k] = v
		case s == "-verbose:jni":
			ro.verboseJNI = true
		case s == "-Xcheck:jni":
			ro.checkJNI = true
		case strings.HasPrefix(s, "-Xss"):
			depth, err := parseStackSize(strings.TrimPrefix(s, "-Xss"))
			if err != nil {
				return ro, &Error{Kind: KindConfig, Op: "parse options", Message: fmt.Sprintf("invalid thread stack size %q", s), Cause: err}
			}
			ro.maxDepth = depth
		default:
			return ro, newError(KindConfig, "parse options", fmt.Sprintf("unrecognized option: %s", s))
		}
	}
	return ro, nil
}

// parseStackSize converts a -Xss size to a frame depth, one frame per KiB,
// so -Xss1m gives the default depth.
func parseStackSize(s string) (int, error) {
	mult := 1
	if s != "" {
		switch s[len(s)-1] {
		case 'k', 'K':
			mult = 1 << 10
		case 'm', 'M':
			mult = 1 << 20
		case 'g', 'G':
			mult = 1 << 30
		}
		if mult != 1 {
			s = s[:len(s)-1]
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	depth := n * mult / 1024
	if n <= 0 || depth < 1 {
		return 0, fmt.Errorf("stack size %d is too small", n*mult)
	}
	return depth, nil
}

// Build creates the runtime, binds the callback entry points and returns a
// Jvm attached to the calling goroutine.
func (b *Builder) Build() (*Jvm, error) {
	ro, err := parseJavaOpts(b.opts)
	if err != nil {
		return nil, err
	}
	log := b.log
	if log == nil {
		log = Logger()
	}
	capacity := b.capacity
	if capacity == 0 {
		capacity = DefaultChannelCapacity
	}
	if capacity < 0 {
		return nil, newError(KindConfig, "build", fmt.Sprintf("negative channel capacity %d", capacity))
	}

	paths := make([]string, len(b.classpath))
	for i, e := range b.classpath {
		paths[i] = string(e)
	}
	loader, err := jvm.NewClasspathLoader(native.NewBootstrapLoader(b.classes...), paths...)
	if err != nil {
		return nil, wrapError(KindConfig, "build", err)
	}
	rt, err := jvm.New(jvm.Options{
		Loader:        loader,
		Properties:    ro.props,
		Stdout:        b.stdout,
		Stderr:        b.stderr,
		MaxFrameDepth: ro.maxDepth,
		VerboseJNI:    ro.verboseJNI,
		CheckJNI:      ro.checkJNI,
		Logger:        log,
	})
	if err != nil {
		return nil, wrapError(KindConfig, "build", err)
	}
	metrics, err := NewMetrics(b.reg)
	if err != nil {
		_ = rt.Destroy(context.Background())
		return nil, wrapError(KindConfig, "build", err)
	}
	br, err := newBridge(rt, log, metrics, capacity)
	if err != nil {
		_ = rt.Destroy(context.Background())
		return nil, err
	}
	created.add(br)
	log.Info("jvm created", zap.Stringer("runtime", rt.ID()), zap.Strings("classpath", paths))
	return br.attachJvm("build")
}

// NewJvm builds a runtime from classpath entries and options.
func NewJvm(classpath []ClasspathEntry, opts []JavaOpt) (*Jvm, error) {
	return NewBuilder().ClasspathEntries(classpath...).JavaOpts(opts...).Build()
}

// registry of the bridges over created runtimes, oldest first.
type runtimes struct {
	mu      sync.Mutex
	bridges []*bridge
}

var created runtimes

func (r *runtimes) add(b *bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bridges = append(r.bridges, b)
}

func (r *runtimes) remove(b *bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bridges = slices.DeleteFunc(r.bridges, func(x *bridge) bool { return x == b })
}

// first returns the default bridge for Attach.
func (r *runtimes) first() (*bridge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.bridges) == 0 {
		return nil, false
	}
	return r.bridges[0], true
}

func (r *runtimes) find(rt *jvm.Runtime) (*bridge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bridges {
		if b.rt == rt {
			return b, true
		}
	}
	return nil, false
}

// CreatedRuntimes lists the runtimes known to the bridge, oldest first.
func CreatedRuntimes() []*jvm.Runtime {
	created.mu.Lock()
	defer created.mu.Unlock()
	out := make([]*jvm.Runtime, len(created.bridges))
	for i, b := range created.bridges {
		out[i] = b.rt
	}
	return out
}

// SetRuntime makes an existing runtime the one Attach connects to. A
// runtime the bridge has not seen must load the callback support classes;
// their entry points are bound here.
func SetRuntime(rt *jvm.Runtime) error {
	if rt == nil || rt.Destroyed() {
		return newError(KindAttach, "set runtime", "runtime is nil or destroyed")
	}
	created.mu.Lock()
	for i, b := range created.bridges {
		if b.rt == rt {
			created.bridges = append([]*bridge{b}, slices.Delete(created.bridges, i, i+1)...)
			created.mu.Unlock()
			return nil
		}
	}
	created.mu.Unlock()

	metrics, _ := NewMetrics(nil)
	br, err := newBridge(rt, rt.Logger(), metrics, DefaultChannelCapacity)
	if err != nil {
		return err
	}
	created.mu.Lock()
	created.bridges = append([]*bridge{br}, created.bridges...)
	created.mu.Unlock()
	return nil
}

// Attach returns a Jvm for the calling goroutine on the default runtime:
// the one given to SetRuntime, else the first one built.
func Attach() (*Jvm, error) {
	b, ok := created.first()
	if !ok {
		return nil, newError(KindAttach, "attach", "no runtime has been created")
	}
	return b.attachJvm("attach")
}

// AttachTo returns a Jvm for the calling goroutine on a specific runtime.
func AttachTo(rt *jvm.Runtime) (*Jvm, error) {
	b, ok := created.find(rt)
	if !ok {
		return nil, newError(KindAttach, "attach", "runtime is not known to the bridge")
	}
	return b.attachJvm("attach")
}
