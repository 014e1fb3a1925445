// Package keystream implements the linear-congruential keystream that
// obfuscates RGSSAD archives.
//
// The generator holds a single 32-bit state. Two schedules are derived from
// it: a field schedule, which burns one state per decoded header field (or
// per name byte), and a content schedule, which stretches one state across
// four consecutive body bytes. Both are plain XOR and therefore self-inverse.
package keystream

// Key is the 32-bit generator state.
type Key uint32

// Advance returns the current state, then steps it forward
// (state = state*7 + 3, wrapping).
func (k *Key) Advance() uint32 {
	old := uint32(*k)
	*k = Key(old*7 + 3)
	return old
}

// Regress returns the current state, then steps it backward, undoing one
// Advance. 3067833783 is the multiplicative inverse of 7 mod 2^32.
//
// Only the version 1/2 relocator needs this: those archives key every record
// off one running stream, so rewriting a record's neighborhood means
// re-deriving earlier stream positions. Version 3 keys are independent per
// file and never regress.
func (k *Key) Regress() uint32 {
	old := uint32(*k)
	*k = Key((old - 3) * 3067833783)
	return old
}

// ContentCipher applies the content schedule: four consecutive bytes share
// one key state, XORed against the little-endian bytes of that state in
// order, and the state advances when the window is exhausted.
//
// Applying the cipher twice with the same seed restores the input, so the
// same type serves both decode and encode.
type ContentCipher struct {
	key Key
	cur int
}

// NewContentCipher returns a cipher seeded at the given key state with the
// byte cursor at the start of a window.
func NewContentCipher(seed uint32) *ContentCipher {
	return &ContentCipher{key: Key(seed)}
}

// Apply transforms p in place, consuming keystream as it goes. Successive
// calls continue where the previous call stopped.
func (c *ContentCipher) Apply(p []byte) {
	for i := range p {
		if c.cur == 4 {
			c.cur = 0
			c.key.Advance()
		}
		p[i] ^= byte(uint32(c.key) >> (8 * c.cur))
		c.cur++
	}
}
