package keystream

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceRegressInverse(t *testing.T) {
	t.Parallel()

	// Stride across the full 32-bit domain plus random probes.
	for state := uint32(0); ; state += 0x10001 {
		k := Key(state)
		k.Advance()
		k.Regress()
		require.Equal(t, state, uint32(k), "state 0x%08x", state)
		if state > 0xFFFF0000 {
			break
		}
	}
	for range 10000 {
		state := rand.Uint32()
		k := Key(state)
		k.Advance()
		k.Regress()
		require.Equal(t, state, uint32(k), "state 0x%08x", state)
	}
}

func TestAdvanceReturnsOldState(t *testing.T) {
	t.Parallel()

	state := uint32(0xDEADCAFE)
	k := Key(state)
	assert.Equal(t, state, k.Advance())
	assert.Equal(t, state*7+3, uint32(k))
}

func TestRegressReturnsOldState(t *testing.T) {
	t.Parallel()

	k := Key(0xDEADCAFE)
	k.Advance()
	advanced := uint32(k)
	assert.Equal(t, advanced, k.Regress())
	assert.Equal(t, uint32(0xDEADCAFE), uint32(k))
}

func TestContentCipherSelfInverse(t *testing.T) {
	t.Parallel()

	lengths := []int{0, 1, 3, 4, 5, 4096, 4*3 + 2}
	for _, n := range lengths {
		plain := make([]byte, n)
		for i := range plain {
			plain[i] = byte(i * 7)
		}
		buf := bytes.Clone(plain)

		NewContentCipher(0xCAFEBABE).Apply(buf)
		if n > 0 {
			assert.NotEqual(t, plain, buf, "length %d should change under the cipher", n)
		}
		NewContentCipher(0xCAFEBABE).Apply(buf)
		assert.Equal(t, plain, buf, "length %d", n)
	}
}

func TestContentCipherWindowAdvance(t *testing.T) {
	t.Parallel()

	// The first four bytes XOR against the seed's little-endian bytes; the
	// fifth byte uses the advanced state.
	seed := uint32(0x11223344)
	buf := make([]byte, 5)
	NewContentCipher(seed).Apply(buf)

	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11}, buf[:4])
	assert.Equal(t, byte(seed*7+3), buf[4])
}

func TestContentCipherResumesAcrossCalls(t *testing.T) {
	t.Parallel()

	plain := make([]byte, 64)
	for i := range plain {
		plain[i] = byte(i)
	}

	whole := bytes.Clone(plain)
	NewContentCipher(42).Apply(whole)

	split := bytes.Clone(plain)
	c := NewContentCipher(42)
	c.Apply(split[:7])
	c.Apply(split[7:30])
	c.Apply(split[30:])

	assert.Equal(t, whole, split)
}
