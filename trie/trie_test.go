package trie

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImplicitDirectories(t *testing.T) {
	t.Parallel()

	tr := New[int]()
	_, _, ok := tr.CreateFile("a/b/c.txt", 1)
	require.True(t, ok)

	assert.True(t, tr.ContainsDir("a"))
	assert.True(t, tr.ContainsDir("a/b"))
	assert.True(t, tr.ContainsFile("a/b/c.txt"))
	assert.False(t, tr.ContainsFile("a"))
	assert.False(t, tr.ContainsDir("a/b/c.txt"))

	n, ok := tr.DirLen("a")
	require.True(t, ok)
	assert.Equal(t, 1, n)
	n, ok = tr.DirLen("a/b")
	require.True(t, ok)
	assert.Equal(t, 1, n)
}

func TestNamespaceDisjointness(t *testing.T) {
	t.Parallel()

	tr := New[int]()
	_, _, ok := tr.CreateFile("x", 1)
	require.True(t, ok)

	// A file blocks a directory at the same path, and vice versa.
	assert.False(t, tr.CreateDir("x"))
	_, _, ok = tr.CreateFile("x/y", 2)
	assert.False(t, ok)

	require.True(t, tr.CreateDir("d"))
	_, _, ok = tr.CreateFile("d", 3)
	assert.False(t, ok)

	// Nothing was disturbed.
	v, ok := tr.GetFile("x")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.True(t, tr.ContainsDir("d"))
}

func TestCreateFileReplace(t *testing.T) {
	t.Parallel()

	tr := New[string]()
	_, replaced, ok := tr.CreateFile("f", "old")
	require.True(t, ok)
	assert.False(t, replaced)

	prev, replaced, ok := tr.CreateFile("f", "new")
	require.True(t, ok)
	assert.True(t, replaced)
	assert.Equal(t, "old", prev)

	v, _ := tr.GetFile("f")
	assert.Equal(t, "new", v)
}

func TestRootIsADirectory(t *testing.T) {
	t.Parallel()

	tr := New[int]()
	assert.True(t, tr.ContainsDir(""))
	assert.False(t, tr.ContainsFile(""))

	// The root cannot be a file.
	_, _, ok := tr.CreateFile("", 1)
	assert.False(t, ok)

	n, ok := tr.DirLen("")
	require.True(t, ok)
	assert.Equal(t, 0, n)
}

func TestGetFileRefMutatesInPlace(t *testing.T) {
	t.Parallel()

	tr := New[int]()
	tr.CreateFile("f", 1)

	ref := tr.GetFileRef("f")
	require.NotNil(t, ref)
	*ref = 42

	v, _ := tr.GetFile("f")
	assert.Equal(t, 42, v)

	assert.Nil(t, tr.GetFileRef("missing"))
	tr.CreateDir("d")
	assert.Nil(t, tr.GetFileRef("d"))
}

func TestGetOrCreateFile(t *testing.T) {
	t.Parallel()

	tr := New[int]()
	ref := tr.GetOrCreateFile("a/f", 7)
	require.NotNil(t, ref)
	assert.Equal(t, 7, *ref)

	again := tr.GetOrCreateFile("a/f", 99)
	require.NotNil(t, again)
	assert.Equal(t, 7, *again)

	tr.CreateDir("d")
	assert.Nil(t, tr.GetOrCreateFile("d", 1))
}

func TestIterDir(t *testing.T) {
	t.Parallel()

	tr := New[int]()
	tr.CreateFile("dir/b.txt", 2)
	tr.CreateFile("dir/a.txt", 1)
	tr.CreateFile("dir/sub/c.txt", 3)

	seq, ok := tr.IterDir("dir")
	require.True(t, ok)

	var names []string
	var dirs []string
	for name, v := range seq {
		if v == nil {
			dirs = append(dirs, name)
			continue
		}
		names = append(names, name)
	}
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)
	assert.Equal(t, []string{"sub"}, dirs)

	_, ok = tr.IterDir("dir/a.txt")
	assert.False(t, ok)
	_, ok = tr.IterDir("missing")
	assert.False(t, ok)
}

func TestIterPrefix(t *testing.T) {
	t.Parallel()

	tr := New[int]()
	tr.CreateFile("a/x.txt", 1)
	tr.CreateFile("a/b/y.txt", 2)
	tr.CreateFile("z.txt", 3)

	seq, ok := tr.IterPrefix("")
	require.True(t, ok)
	var all []string
	for path := range seq {
		all = append(all, path)
	}
	assert.Equal(t, []string{"a/b/y.txt", "a/x.txt", "z.txt"}, all)

	seq, ok = tr.IterPrefix("a")
	require.True(t, ok)
	var under []string
	for path := range seq {
		under = append(under, path)
	}
	assert.Equal(t, []string{"a/b/y.txt", "a/x.txt"}, under)
}

func TestRemoveFile(t *testing.T) {
	t.Parallel()

	tr := New[int]()
	tr.CreateFile("a/f", 5)

	v, ok := tr.RemoveFile("a/f")
	require.True(t, ok)
	assert.Equal(t, 5, v)
	assert.False(t, tr.ContainsFile("a/f"))

	// The now-empty parent directory stays.
	assert.True(t, tr.ContainsDir("a"))

	_, ok = tr.RemoveFile("a/f")
	assert.False(t, ok)
	tr.CreateDir("d")
	_, ok = tr.RemoveFile("d")
	assert.False(t, ok)
}

func TestRemoveDir(t *testing.T) {
	t.Parallel()

	tr := New[int]()
	tr.CreateFile("a/b/f", 1)
	tr.CreateFile("a/g", 2)

	require.True(t, tr.RemoveDir("a/b"))
	assert.False(t, tr.Contains("a/b"))
	assert.False(t, tr.ContainsFile("a/b/f"))
	assert.True(t, tr.ContainsFile("a/g"))

	assert.False(t, tr.RemoveDir("a/g"))
	assert.False(t, tr.RemoveDir("missing"))

	require.True(t, tr.RemoveDir(""))
	assert.True(t, tr.ContainsDir(""))
	n, _ := tr.DirLen("")
	assert.Equal(t, 0, n)
}
