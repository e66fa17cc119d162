package jvm_test

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/j4go/pkg/classfile/classfiletest"
	"github.com/daimatz/j4go/pkg/jvm"
	"github.com/daimatz/j4go/pkg/native"
)

func emptyClass(name string) []byte {
	return classfiletest.NewClass(name, "java/lang/Object").Bytes()
}

func writeClassDir(t *testing.T, classes map[string][]byte) string {
	t.Helper()
	dir := t.TempDir()
	for name, data := range classes {
		path := filepath.Join(dir, filepath.FromSlash(name)+".class")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
	return dir
}

func writeJar(t *testing.T, classes map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.jar")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("META-INF/MANIFEST.MF")
	require.NoError(t, err)
	_, err = w.Write([]byte("Manifest-Version: 1.0\n"))
	require.NoError(t, err)
	for name, data := range classes {
		w, err := zw.Create(name + ".class")
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestMapLoader(t *testing.T) {
	l := jvm.NewMapLoader(jvm.NewClass("b.B", ""), jvm.NewClass("a.A", ""))
	l.Define(jvm.NewClass("c.C", ""))
	assert.Equal(t, []string{"a.A", "b.B", "c.C"}, l.Names())

	_, err := l.LoadClass("d.D")
	assert.ErrorIs(t, err, jvm.ErrClassNotFound)
}

func TestBytesLoader(t *testing.T) {
	l := jvm.BytesLoader{"demo.Empty": emptyClass("demo/Empty"), "demo.Broken": []byte{0xCA, 0xFE}}

	c, err := l.LoadClass("demo.Empty")
	require.NoError(t, err)
	assert.Equal(t, "demo.Empty", c.Name)
	assert.Equal(t, "java.lang.Object", c.SuperName)

	_, err = l.LoadClass("demo.Broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, jvm.ErrClassNotFound)

	_, err = l.LoadClass("demo.Missing")
	assert.ErrorIs(t, err, jvm.ErrClassNotFound)
}

func TestDirLoader(t *testing.T) {
	dir := writeClassDir(t, map[string][]byte{"demo/pkg/Thing": emptyClass("demo/pkg/Thing")})
	l := &jvm.DirLoader{Dir: dir}

	c, err := l.LoadClass("demo.pkg.Thing")
	require.NoError(t, err)
	assert.Equal(t, "demo.pkg.Thing", c.Name)
	assert.Equal(t, "demo.pkg", c.PackageName())

	_, err = l.LoadClass("demo.pkg.Other")
	assert.ErrorIs(t, err, jvm.ErrClassNotFound)
}

func TestJarLoader(t *testing.T) {
	path := writeJar(t, map[string][]byte{"demo/Jarred": emptyClass("demo/Jarred")})
	l := jvm.NewJarLoader(path)
	defer l.Close()

	c, err := l.LoadClass("demo.Jarred")
	require.NoError(t, err)
	assert.Equal(t, "demo.Jarred", c.Name)

	_, err = l.LoadClass("demo.Missing")
	assert.ErrorIs(t, err, jvm.ErrClassNotFound)

	missing := jvm.NewJarLoader(filepath.Join(t.TempDir(), "nope.jar"))
	_, err = missing.LoadClass("demo.Jarred")
	require.Error(t, err)
	assert.NotErrorIs(t, err, jvm.ErrClassNotFound)
}

func TestClasspathLoader(t *testing.T) {
	dir := writeClassDir(t, map[string][]byte{
		"demo/FromDir": emptyClass("demo/FromDir"),
		// 親ローダーが優先されるので使われない
		"java/lang/String": emptyClass("java/lang/String"),
	})
	jar := writeJar(t, map[string][]byte{
		"demo/FromJar": emptyClass("demo/FromJar"),
		"demo/FromDir": emptyClass("demo/FromDir"),
	})

	t.Run("rejects bad entries", func(t *testing.T) {
		_, err := jvm.NewClasspathLoader(nil, filepath.Join(dir, "missing"))
		assert.Error(t, err)

		notJar := filepath.Join(t.TempDir(), "classes.txt")
		require.NoError(t, os.WriteFile(notJar, nil, 0o644))
		_, err = jvm.NewClasspathLoader(nil, notJar)
		assert.Error(t, err)
	})

	t.Run("resolves in order", func(t *testing.T) {
		cl, err := jvm.NewClasspathLoader(native.NewBootstrapLoader(), dir, jar)
		require.NoError(t, err)
		require.Len(t, cl.Entries, 2)

		tr := newRuntime(t, jvm.Options{Loader: cl})

		fromDir := tr.class(t, "demo.FromDir")
		assert.NotNil(t, fromDir.File)
		assert.NotNil(t, tr.class(t, "demo.FromJar").File)

		// String はブートストラップの Go 実装のまま
		str := tr.class(t, "java.lang.String")
		assert.Nil(t, str.File)

		_, err = tr.env.FindClass("demo.Nowhere")
		assert.ErrorIs(t, err, jvm.ErrClassNotFound)

		// Destroy で jar が閉じられる
		require.NoError(t, tr.rt.Destroy(t.Context()))
	})
}
