package rgssad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRoundTrip(t *testing.T) {
	t.Parallel()

	files := []FileSpec{
		{Path: "Data/Scripts.rvdata", Data: pattern(4096, 1)},
		{Path: "Data/Map001.rvdata", Data: pattern(3, 2)},
		{Path: "Graphics/empty.png", Data: nil},
		{Path: "top.txt", Data: []byte("hello")},
	}

	for _, version := range []Version{V1, V2, V3} {
		t.Run(version.String(), func(t *testing.T) {
			t.Parallel()
			mem := NewMemStore(nil)
			a, err := Create(mem, version, files)
			require.NoError(t, err)
			assert.Equal(t, version, a.Version())
			assert.Equal(t, len(files), a.Len())

			// Both the returned archive and a fresh parse must agree.
			fresh, err := New(NewMemStore(mem.Bytes()))
			require.NoError(t, err)
			for _, f := range files {
				got, err := a.ReadFile(f.Path)
				require.NoError(t, err, f.Path)
				assert.Equal(t, len(f.Data), len(got), f.Path)
				if len(f.Data) > 0 {
					assert.Equal(t, f.Data, got, f.Path)
				}
				got, err = fresh.ReadFile(f.Path)
				require.NoError(t, err, f.Path)
				if len(f.Data) > 0 {
					assert.Equal(t, f.Data, got, f.Path)
				}
			}
		})
	}
}

func TestCreateEmptyArchive(t *testing.T) {
	t.Parallel()

	for _, version := range []Version{V1, V2, V3} {
		mem := NewMemStore(nil)
		a, err := Create(mem, version, nil)
		require.NoError(t, err, version)
		assert.Equal(t, 0, a.Len())

		fresh, err := New(NewMemStore(mem.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, 0, fresh.Len())
	}
}

func TestCreateInvalidVersion(t *testing.T) {
	t.Parallel()

	_, err := Create(NewMemStore(nil), Version(9), nil)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestCreateInvalidPath(t *testing.T) {
	t.Parallel()

	_, err := Create(NewMemStore(nil), V1, []FileSpec{{Path: "", Data: nil}})
	assert.Error(t, err)
}

func TestCreateReplacesStoreContent(t *testing.T) {
	t.Parallel()

	mem := NewMemStore(nil)
	_, err := Create(mem, V1, []FileSpec{{Path: "big.bin", Data: pattern(10000, 1)}})
	require.NoError(t, err)

	a, err := Create(mem, V1, []FileSpec{{Path: "small.bin", Data: pattern(4, 2)}})
	require.NoError(t, err)
	assert.Equal(t, 1, a.Len())
	assert.False(t, a.Exists("big.bin"))

	// No residue of the previous, larger archive.
	fresh, err := New(NewMemStore(mem.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.Len())
}
