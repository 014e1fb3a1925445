package rgssad

import (
	"bytes"
	"encoding/binary"
	"io"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// v1Builder encodes version 1 archives with its own key arithmetic, kept
// deliberately separate from the production keystream code.
type v1Builder struct {
	buf bytes.Buffer
	key uint32
}

func newV1Builder() *v1Builder {
	b := &v1Builder{key: 0xDEADCAFE}
	b.buf.WriteString("RGSSAD\x00\x01")
	return b
}

func (b *v1Builder) step() uint32 {
	old := b.key
	b.key = old*7 + 3
	return old
}

func (b *v1Builder) u32(v uint32) {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], v^b.step())
	b.buf.Write(raw[:])
}

// add appends one record. The stored name uses backslash separators, as the
// game engine writes them.
func (b *v1Builder) add(name string, content []byte) {
	stored := []byte(name)
	for i, c := range stored {
		if c == '/' {
			stored[i] = '\\'
		}
	}
	b.u32(uint32(len(stored)))
	for _, c := range stored {
		b.buf.WriteByte(c ^ byte(b.step()))
	}
	b.u32(uint32(len(content)))

	key, cur := b.key, 0
	for _, c := range content {
		if cur == 4 {
			cur = 0
			key = key*7 + 3
		}
		b.buf.WriteByte(c ^ byte(key>>(8*cur)))
		cur++
	}
}

func (b *v1Builder) bytes() []byte { return b.buf.Bytes() }

func TestOpenV1SingleRecord(t *testing.T) {
	t.Parallel()

	b := newV1Builder()
	b.add("a.txt", []byte("abc"))

	a, err := New(NewMemStore(b.bytes()))
	require.NoError(t, err)
	assert.Equal(t, V1, a.Version())
	assert.Equal(t, 1, a.Len())

	entries, err := a.ReadDir(".")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name())
	assert.False(t, entries[0].IsDir())
	info, err := entries[0].Info()
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size())

	content, err := a.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), content)
}

func TestOpenBackslashPaths(t *testing.T) {
	t.Parallel()

	b := newV1Builder()
	b.add("Data/Map001.rvdata", []byte("map"))
	b.add("Graphics/Titles/castle.png", []byte{0x89, 'P', 'N', 'G'})

	a, err := New(NewMemStore(b.bytes()))
	require.NoError(t, err)

	// Stored backslashes become forward slashes with implicit directories.
	assert.True(t, a.Exists("Data/Map001.rvdata"))
	assert.True(t, a.Exists("Graphics/Titles"))

	content, err := a.ReadFile("Graphics/Titles/castle.png")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, content)
}

func TestOpenHeaderValidation(t *testing.T) {
	t.Parallel()

	_, err := New(NewMemStore(nil))
	assert.ErrorIs(t, err, ErrInvalidHeader)

	_, err = New(NewMemStore([]byte("RGSS")))
	assert.ErrorIs(t, err, ErrInvalidHeader)

	_, err = New(NewMemStore([]byte("NOTANAR\x00")))
	assert.ErrorIs(t, err, ErrInvalidHeader)

	_, err = New(NewMemStore([]byte("RGSSAD\x00\x04")))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = New(NewMemStore([]byte("RGSSAD\x00\x00")))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestOpenTruncatedArchive(t *testing.T) {
	t.Parallel()

	b := newV1Builder()
	b.add("a.txt", []byte("hello world"))
	full := b.bytes()

	// Cut into the name: parse must fail, not silently succeed.
	_, err := New(NewMemStore(full[:headerSize+6]))
	assert.ErrorIs(t, err, ErrFormat)

	// Cut into the body: the declared size points past the end.
	_, err = New(NewMemStore(full[:len(full)-3]))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestOpenEmptyArchive(t *testing.T) {
	t.Parallel()

	a, err := New(NewMemStore([]byte("RGSSAD\x00\x01")))
	require.NoError(t, err)
	assert.Equal(t, 0, a.Len())

	entries, err := a.ReadDir(".")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStatAndMetadata(t *testing.T) {
	t.Parallel()

	b := newV1Builder()
	b.add("dir/file.bin", bytes.Repeat([]byte{7}, 10))

	a, err := New(NewMemStore(b.bytes()))
	require.NoError(t, err)

	info, err := a.Stat("dir/file.bin")
	require.NoError(t, err)
	assert.Equal(t, "file.bin", info.Name())
	assert.Equal(t, int64(10), info.Size())
	assert.False(t, info.IsDir())

	info, err = a.Stat("dir")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	info, err = a.Stat(".")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	md, err := a.Metadata("dir/file.bin")
	require.NoError(t, err)
	assert.True(t, md.IsFile)
	assert.Equal(t, uint64(10), md.Size)

	md, err = a.Metadata("dir")
	require.NoError(t, err)
	assert.False(t, md.IsFile)

	_, err = a.Stat("missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	_, err = a.Metadata("missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestOpenAsFS(t *testing.T) {
	t.Parallel()

	b := newV1Builder()
	b.add("a/one.txt", []byte("one"))
	b.add("a/two.txt", []byte("two"))
	b.add("b/three.txt", []byte("three"))

	a, err := New(NewMemStore(b.bytes()))
	require.NoError(t, err)

	f, err := a.Open("a/one.txt")
	require.NoError(t, err)
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), content)
	require.NoError(t, f.Close())

	// The fs.FS contract is checked by the standard library's own suite.
	require.NoError(t, fstest.TestFS(a, "a/one.txt", "a/two.txt", "b/three.txt"))
}

func TestReadDirSubdirectory(t *testing.T) {
	t.Parallel()

	b := newV1Builder()
	b.add("a/one.txt", []byte("1"))
	b.add("a/sub/two.txt", []byte("2"))
	b.add("b.txt", []byte("3"))

	a, err := New(NewMemStore(b.bytes()))
	require.NoError(t, err)

	entries, err := a.ReadDir("a")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "one.txt", entries[0].Name())
	assert.Equal(t, "sub", entries[1].Name())
	assert.True(t, entries[1].IsDir())

	_, err = a.ReadDir("b.txt")
	assert.Error(t, err)
	_, err = a.ReadDir("missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestFilesIterator(t *testing.T) {
	t.Parallel()

	b := newV1Builder()
	b.add("b.txt", []byte("bb"))
	b.add("a/c.txt", []byte("c"))

	a, err := New(NewMemStore(b.bytes()))
	require.NoError(t, err)

	got := map[string]uint64{}
	for path, e := range a.Files() {
		got[path] = e.Size
	}
	assert.Equal(t, map[string]uint64{"a/c.txt": 1, "b.txt": 2}, got)
}

func TestMutationOpsNotSupported(t *testing.T) {
	t.Parallel()

	b := newV1Builder()
	b.add("a.txt", []byte("abc"))
	a, err := New(NewMemStore(b.bytes()))
	require.NoError(t, err)

	assert.ErrorIs(t, a.Rename("a.txt", "b.txt"), ErrNotSupported)
	assert.ErrorIs(t, a.Remove("a.txt"), ErrNotSupported)
	assert.ErrorIs(t, a.RemoveAll("a.txt"), ErrNotSupported)
	assert.ErrorIs(t, a.Mkdir("dir"), ErrNotSupported)
}

func TestEntryCoordinates(t *testing.T) {
	t.Parallel()

	b := newV1Builder()
	b.add("a.txt", []byte("abc"))

	a, err := New(NewMemStore(b.bytes()))
	require.NoError(t, err)

	e, ok := a.Entry("a.txt")
	require.True(t, ok)
	// Header right after the archive header, body after the 8-byte record
	// header plus the 5-byte name.
	assert.Equal(t, uint64(headerSize), e.HeaderOffset)
	assert.Equal(t, uint64(headerSize+8+5), e.BodyOffset)
	assert.Equal(t, uint64(3), e.Size)
}
