package rgssad

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io/fs"
	"math/rand/v2"

	"github.com/meigma/rgssad/internal/keystream"
)

// FileSpec names one file to include when building a fresh archive.
type FileSpec struct {
	Path string
	Data []byte
}

// Create writes a brand-new archive of the given version into store and
// returns it opened. The store's existing content, if any, is discarded.
// File paths use forward slashes and are stored in the order given.
func Create(store ByteStore, version Version, files []FileSpec, opts ...Option) (*Archive, error) {
	if !version.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	var out bytes.Buffer
	out.WriteString(headerMagic)
	out.WriteByte(byte(version))

	switch version {
	case V1, V2:
		if err := buildV12(&out, files); err != nil {
			return nil, err
		}
	case V3:
		if err := buildV3(&out, files); err != nil {
			return nil, err
		}
	}

	if err := store.SetLen(int64(out.Len())); err != nil {
		return nil, fmt.Errorf("size store: %w", err)
	}
	if _, err := store.WriteAt(out.Bytes(), 0); err != nil {
		return nil, fmt.Errorf("write archive: %w", err)
	}
	return New(store, opts...)
}

func buildV12(out *bytes.Buffer, files []FileSpec) error {
	key := keystream.Key(initialKey)
	for _, f := range files {
		name, err := encodePath(f.Path)
		if err != nil {
			return err
		}
		writeU32(out, uint32(len(name))^key.Advance())
		for _, b := range name {
			out.WriteByte(b ^ byte(key.Advance()))
		}
		writeU32(out, uint32(len(f.Data))^key.Advance())

		body := make([]byte, len(f.Data))
		copy(body, f.Data)
		keystream.NewContentCipher(uint32(key)).Apply(body)
		out.Write(body)
	}
	return nil
}

func buildV3(out *bytes.Buffer, files []FileSpec) error {
	seed := rand.Uint32()
	base := seed*9 + 3
	writeU32(out, seed)

	names := make([][]byte, len(files))
	tableLen := uint64(out.Len()) + 4 // rows plus the zero terminator
	for i, f := range files {
		name, err := encodePath(f.Path)
		if err != nil {
			return err
		}
		names[i] = name
		tableLen += 16 + uint64(len(name))
	}

	bodyOff := tableLen
	magics := make([]uint32, len(files))
	for i, f := range files {
		magics[i] = rand.Uint32()
		writeU32(out, uint32(bodyOff)^base)
		writeU32(out, uint32(len(f.Data))^base)
		writeU32(out, magics[i]^base)
		writeU32(out, uint32(len(names[i]))^base)
		for j, b := range names[i] {
			out.WriteByte(b ^ byte(base>>(8*(j%4))))
		}
		bodyOff += uint64(len(f.Data))
	}
	writeU32(out, 0^base)

	for i, f := range files {
		body := make([]byte, len(f.Data))
		copy(body, f.Data)
		keystream.NewContentCipher(magics[i]).Apply(body)
		out.Write(body)
	}
	return nil
}

// appendEmptyLocked appends a new zero-length record for path. Both mutexes
// must be held for writing. The caller fills the body in through the normal
// flush path afterwards.
func (a *Archive) appendEmptyLocked(path string) error {
	name, err := encodePath(path)
	if err != nil {
		return err
	}
	storeLen, err := a.store.Size()
	if err != nil {
		return err
	}

	switch a.version {
	case V1, V2:
		return a.appendEmptyV12Locked(path, name, storeLen)
	case V3:
		return a.appendEmptyV3Locked(path, name, storeLen)
	}
	return fmt.Errorf("%w: %d", ErrUnsupportedVersion, a.version)
}

// appendEmptyV12Locked continues the running key stream past the last record
// and writes the new header at the end of the archive.
func (a *Archive) appendEmptyV12Locked(path string, name []byte, storeLen int64) error {
	// The stream state after the final record's size field is that record's
	// start magic; bodies never advance the running key.
	key := keystream.Key(initialKey)
	last := uint64(0)
	all, _ := a.paths.IterPrefix("")
	for _, e := range all {
		if e != nil && e.BodyOffset > last {
			last = e.BodyOffset
			key = keystream.Key(e.StartMagic)
		}
	}

	var out bytes.Buffer
	writeU32(&out, uint32(len(name))^key.Advance())
	for _, b := range name {
		out.WriteByte(b ^ byte(key.Advance()))
	}
	writeU32(&out, 0^key.Advance())

	// Extend the store explicitly before writing past its old end.
	if err := a.store.SetLen(storeLen + int64(out.Len())); err != nil {
		return fmt.Errorf("extend archive for %q: %w", path, err)
	}
	if _, err := a.store.WriteAt(out.Bytes(), storeLen); err != nil {
		return fmt.Errorf("append record %q: %w", path, err)
	}
	entry := Entry{
		HeaderOffset: uint64(storeLen),
		BodyOffset:   uint64(storeLen) + 8 + uint64(len(name)),
		Size:         0,
		StartMagic:   uint32(key),
	}
	if _, _, ok := a.paths.CreateFile(path, entry); !ok {
		return fmt.Errorf("path %q conflicts with a directory: %w", path, fs.ErrExist)
	}
	a.log().Debug("appended record", "path", path, "version", a.version)
	return nil
}

// appendEmptyV3Locked inserts a new row before the header table's zero
// terminator, shifting every body up by the row's length and patching the
// stored offsets, on disk and in the index, to match.
func (a *Archive) appendEmptyV3Locked(path string, name []byte, storeLen int64) error {
	base := a.baseMagic
	rowLen := int64(16 + len(name))

	// Locate the terminator by walking the table.
	rr := newRecordReader(a.store, headerSize+4, storeLen)
	type row struct{ pos int64 }
	var rows []row
	var termPos int64
	for i := 0; ; i++ {
		rowPos := rr.pos
		rawOff, err := rr.u32()
		if err != nil {
			return fmt.Errorf("%w: header table of record %d is truncated", ErrFormat, i)
		}
		if rawOff^base == 0 {
			termPos = rowPos
			break
		}
		if err := rr.skip(8); err != nil {
			return fmt.Errorf("%w: header table of record %d is truncated", ErrFormat, i)
		}
		rawNameLen, err := rr.u32()
		if err != nil {
			return fmt.Errorf("%w: header table of record %d is truncated", ErrFormat, i)
		}
		if err := rr.skip(int64(rawNameLen ^ base)); err != nil {
			return fmt.Errorf("%w: truncated name of record %d", ErrFormat, i)
		}
		rows = append(rows, row{pos: rowPos})
	}

	// Shift the terminator and every body up by the new row's length,
	// extending the store explicitly before writing past its old end.
	tail := make([]byte, storeLen-termPos)
	if _, err := a.store.ReadAt(tail, termPos); err != nil {
		return fmt.Errorf("read bodies for append of %q: %w", path, err)
	}
	if err := a.store.SetLen(storeLen + rowLen); err != nil {
		return fmt.Errorf("extend archive for %q: %w", path, err)
	}
	if _, err := a.store.WriteAt(tail, termPos+rowLen); err != nil {
		return fmt.Errorf("shift bodies for append of %q: %w", path, err)
	}

	// Patch the offset field of every existing row.
	var field [4]byte
	for _, r := range rows {
		if _, err := a.store.ReadAt(field[:], r.pos); err != nil {
			return fmt.Errorf("patch header table: %w", err)
		}
		off := binary.LittleEndian.Uint32(field[:]) ^ base
		binary.LittleEndian.PutUint32(field[:], (off+uint32(rowLen))^base)
		if _, err := a.store.WriteAt(field[:], r.pos); err != nil {
			return fmt.Errorf("patch header table: %w", err)
		}
	}

	// Write the new row where the terminator used to sit. The empty body
	// lands at the shifted end of the archive.
	newBody := uint64(storeLen) + uint64(rowLen)
	magic := rand.Uint32()
	var out bytes.Buffer
	writeU32(&out, uint32(newBody)^base)
	writeU32(&out, 0^base)
	writeU32(&out, magic^base)
	writeU32(&out, uint32(len(name))^base)
	for j, b := range name {
		out.WriteByte(b ^ byte(base>>(8*(j%4))))
	}
	if _, err := a.store.WriteAt(out.Bytes(), termPos); err != nil {
		return fmt.Errorf("append record %q: %w", path, err)
	}

	// Disk is consistent; bring the index up to date.
	all, _ := a.paths.IterPrefix("")
	for _, e := range all {
		if e != nil {
			e.BodyOffset += uint64(rowLen)
		}
	}
	entry := Entry{
		HeaderOffset: uint64(termPos),
		BodyOffset:   newBody,
		Size:         0,
		StartMagic:   magic,
	}
	if _, _, ok := a.paths.CreateFile(path, entry); !ok {
		return fmt.Errorf("path %q conflicts with a directory: %w", path, fs.ErrExist)
	}
	a.log().Debug("appended record", "path", path, "version", a.version)
	return nil
}

// encodePath validates a normalized archive path and returns its stored
// form, with backslash separators.
func encodePath(path string) ([]byte, error) {
	if path == "" {
		return nil, fs.ErrInvalid
	}
	name := []byte(path)
	for i, b := range name {
		if b == '/' {
			name[i] = '\\'
		}
	}
	return name, nil
}

func writeU32(out *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	out.Write(buf[:])
}
