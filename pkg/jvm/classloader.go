package jvm

import (
	"archive/zip"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/daimatz/j4go/pkg/classfile"
)

// ErrClassNotFound is returned (wrapped) by loaders that do not know a class.
var ErrClassNotFound = errors.New("class not found")

// ClassLoader defines classes by binary name (java.lang.String). The
// returned Class is not linked yet; the Runtime links it.
type ClassLoader interface {
	LoadClass(name string) (*Class, error)
}

// MapLoader serves classes defined in Go.
type MapLoader struct {
	classes map[string]*Class
}

// NewMapLoader creates a loader serving the given classes.
func NewMapLoader(classes ...*Class) *MapLoader {
	l := &MapLoader{classes: make(map[string]*Class, len(classes))}
	for _, c := range classes {
		l.Define(c)
	}
	return l
}

// Define adds or replaces a class.
func (l *MapLoader) Define(c *Class) {
	l.classes[c.Name] = c
}

// Names returns the sorted names of all classes served by the loader.
func (l *MapLoader) Names() []string {
	names := make([]string, 0, len(l.classes))
	for name := range l.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l *MapLoader) LoadClass(name string) (*Class, error) {
	if c, ok := l.classes[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("bootstrap: %s: %w", name, ErrClassNotFound)
}

// BytesLoader defines classes from in-memory class files, keyed by binary name.
type BytesLoader map[string][]byte

func (l BytesLoader) LoadClass(name string) (*Class, error) {
	data, ok := l[name]
	if !ok {
		return nil, fmt.Errorf("memory: %s: %w", name, ErrClassNotFound)
	}
	cf, err := classfile.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("memory: parsing %s: %w", name, err)
	}
	return DefineClassFile(cf)
}

// DirLoader loads class files from a directory tree.
type DirLoader struct {
	Dir string
}

func (l *DirLoader) LoadClass(name string) (*Class, error) {
	path := filepath.Join(l.Dir, filepath.FromSlash(classfile.InternalName(name))+".class")
	cf, err := classfile.ParseFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("dir: %s not in %s: %w", name, l.Dir, ErrClassNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("dir: %w", err)
	}
	return DefineClassFile(cf)
}

// JarLoader loads class files from a jar archive. The archive is opened
// lazily and kept open until Close.
type JarLoader struct {
	Path string

	once   sync.Once
	err    error
	reader *zip.ReadCloser
	index  map[string]*zip.File
}

// NewJarLoader creates a loader for the jar at path.
func NewJarLoader(path string) *JarLoader {
	return &JarLoader{Path: path}
}

func (l *JarLoader) open() error {
	l.once.Do(func() {
		r, err := zip.OpenReader(l.Path)
		if err != nil {
			l.err = fmt.Errorf("jar: opening %s: %w", l.Path, err)
			return
		}
		l.reader = r
		l.index = make(map[string]*zip.File, len(r.File))
		for _, f := range r.File {
			if strings.HasSuffix(f.Name, ".class") {
				l.index[f.Name] = f
			}
		}
	})
	return l.err
}

func (l *JarLoader) LoadClass(name string) (*Class, error) {
	if err := l.open(); err != nil {
		return nil, err
	}
	entry := classfile.InternalName(name) + ".class"
	f, ok := l.index[entry]
	if !ok {
		return nil, fmt.Errorf("jar: %s not in %s: %w", name, l.Path, ErrClassNotFound)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("jar: opening %s: %w", entry, err)
	}
	defer rc.Close()

	cf, err := classfile.Parse(rc)
	if err != nil {
		return nil, fmt.Errorf("jar: parsing %s: %w", name, err)
	}
	return DefineClassFile(cf)
}

// Close releases the archive.
func (l *JarLoader) Close() error {
	if l.reader == nil {
		return nil
	}
	return l.reader.Close()
}

// ClasspathLoader delegates to its parent first, then tries each classpath
// entry in order.
type ClasspathLoader struct {
	Parent  ClassLoader
	Entries []ClassLoader
}

// NewClasspathLoader builds a loader from classpath entries: directories and
// .jar files. Entries that do not exist are rejected.
func NewClasspathLoader(parent ClassLoader, paths ...string) (*ClasspathLoader, error) {
	cl := &ClasspathLoader{Parent: parent}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("classpath entry %s: %w", p, err)
		}
		switch {
		case info.IsDir():
			cl.Entries = append(cl.Entries, &DirLoader{Dir: p})
		case strings.HasSuffix(strings.ToLower(p), ".jar"):
			cl.Entries = append(cl.Entries, NewJarLoader(p))
		default:
			return nil, fmt.Errorf("classpath entry %s: not a directory or jar", p)
		}
	}
	return cl, nil
}

func (cl *ClasspathLoader) LoadClass(name string) (*Class, error) {
	if cl.Parent != nil {
		c, err := cl.Parent.LoadClass(name)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrClassNotFound) {
			return nil, err
		}
	}
	for _, entry := range cl.Entries {
		c, err := entry.LoadClass(name)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrClassNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("classpath: %s: %w", name, ErrClassNotFound)
}

// Close releases every jar opened by the loader.
func (cl *ClasspathLoader) Close() error {
	var err error
	for _, entry := range cl.Entries {
		if j, ok := entry.(*JarLoader); ok {
			err = multierr.Append(err, j.Close())
		}
	}
	return err
}
