package rgssad

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/meigma/rgssad/internal/keystream"
)

// relocateLocked moves the record at path to the logical end of the archive
// so that its body can be rewritten with a different size. The moved record
// is left with size zero; the caller writes the real size field and body
// afterwards. Both mutexes must be held for writing.
//
// Index updates are staged and applied only after every disk write
// succeeded, so a failed relocation never leaves the index ahead of the
// bytes.
func (a *Archive) relocateLocked(path string, storeLen int64) error {
	entryRef := a.paths.GetFileRef(path)
	if entryRef == nil {
		return &fs.PathError{Op: "relocate", Path: path, Err: fs.ErrNotExist}
	}
	entry := *entryRef

	a.log().Debug("relocating record", "path", path, "size", entry.Size,
		"bodyOffset", entry.BodyOffset, "archiveLen", storeLen)

	switch a.version {
	case V1, V2:
		return a.relocateV12Locked(path, entry, storeLen)
	case V3:
		return a.relocateV3Locked(path, entry, storeLen)
	}
	return fmt.Errorf("%w: %d", ErrUnsupportedVersion, a.version)
}

// relocateV12Locked rewrites every record after the moved one. Version 1/2
// archives key each record off the running stream state, so shifting the
// stream by one record forces a full re-encryption of the tail: each
// downstream record is decoded with the old key schedule and re-encoded with
// the schedule that skips the moved record's header and body.
func (a *Archive) relocateV12Locked(path string, entry Entry, storeLen int64) error {
	pathBytes := []byte(path)
	nameLen := uint64(len(pathBytes))

	// The writer stream starts where the reader stream would have been
	// before the moved record's own header: regress once for its size
	// field, once for its name length, and once per name byte.
	readerKey := keystream.Key(entry.StartMagic)
	writerKey := keystream.Key(entry.StartMagic)
	writerKey.Regress()
	writerKey.Regress()
	for range pathBytes {
		writerKey.Regress()
	}

	delta := entry.Size + nameLen + 8

	type update struct {
		path  string
		entry Entry
	}
	var updates []update

	var out bytes.Buffer
	rr := newRecordReader(a.store, int64(entry.BodyOffset+entry.Size), storeLen)
	for {
		rawLen, err := rr.u32()
		if errors.Is(err, io.EOF) {
			// End of stream: every downstream record consumed.
			break
		}
		if err != nil {
			return fmt.Errorf("%w: truncated record after %q", ErrFormat, path)
		}
		curNameLen := rawLen ^ readerKey.Advance()
		if int64(curNameLen) > storeLen-rr.pos {
			return fmt.Errorf("%w: downstream record of %q has name length %d past the archive",
				ErrFormat, path, curNameLen)
		}
		var lenField [4]byte
		binary.LittleEndian.PutUint32(lenField[:], curNameLen^writerKey.Advance())
		out.Write(lenField[:])

		name, err := rr.bytes(curNameLen)
		if err != nil {
			return fmt.Errorf("%w: downstream record of %q has a truncated name", ErrFormat, path)
		}
		for j := range name {
			name[j] ^= byte(readerKey.Advance())
			if name[j] == '\\' {
				name[j] = '/'
			}
			enc := name[j]
			if enc == '/' {
				enc = '\\'
			}
			out.WriteByte(enc ^ byte(writerKey.Advance()))
		}
		curPath := string(name)

		curRef := a.paths.GetFileRef(curPath)
		if curRef == nil {
			return fmt.Errorf("%w: record %q found on disk but not in the index", ErrFormat, curPath)
		}
		cur := *curRef

		if _, err := rr.u32(); err != nil {
			return fmt.Errorf("%w: record %q has a truncated size field", ErrFormat, curPath)
		}
		readerKey.Advance()
		var sizeField [4]byte
		binary.LittleEndian.PutUint32(sizeField[:], uint32(cur.Size)^writerKey.Advance())
		out.Write(sizeField[:])

		// Decode the body with the old content key and re-encode with the
		// new one in a single pass.
		body, err := rr.bytes(uint32(cur.Size))
		if err != nil {
			return fmt.Errorf("%w: body of %q ends past the archive", ErrFormat, curPath)
		}
		keystream.NewContentCipher(uint32(readerKey)).Apply(body)
		keystream.NewContentCipher(uint32(writerKey)).Apply(body)
		out.Write(body)

		if cur.HeaderOffset < delta || cur.BodyOffset < delta {
			return fmt.Errorf("%w: record %q cannot shift %d bytes backwards", ErrFormat, curPath, delta)
		}
		updates = append(updates, update{path: curPath, entry: Entry{
			HeaderOffset: cur.HeaderOffset - delta,
			BodyOffset:   cur.BodyOffset - delta,
			Size:         cur.Size,
			StartMagic:   uint32(writerKey),
		}})
	}

	// Append the moved record's header at the shifted end of the stream,
	// with a placeholder size of zero. Its body follows once the caller
	// writes it.
	var lenField [4]byte
	binary.LittleEndian.PutUint32(lenField[:], uint32(nameLen)^writerKey.Advance())
	out.Write(lenField[:])
	for _, b := range pathBytes {
		if b == '/' {
			b = '\\'
		}
		out.WriteByte(b ^ byte(writerKey.Advance()))
	}
	var sizeField [4]byte
	binary.LittleEndian.PutUint32(sizeField[:], 0^writerKey.Advance())
	out.Write(sizeField[:])
	movedMagic := uint32(writerKey)

	if _, err := a.store.WriteAt(out.Bytes(), int64(entry.HeaderOffset)); err != nil {
		return fmt.Errorf("rewrite records after %q: %w", path, err)
	}

	for _, u := range updates {
		ref := a.paths.GetFileRef(u.path)
		if ref == nil {
			return fmt.Errorf("%w: entry %q lost during relocation", ErrFormat, u.path)
		}
		*ref = u.entry
	}
	newBody := uint64(storeLen) - entry.Size
	movedRef := a.paths.GetFileRef(path)
	if movedRef == nil {
		return fmt.Errorf("%w: entry %q lost during relocation", ErrFormat, path)
	}
	*movedRef = Entry{
		HeaderOffset: newBody - nameLen - 8,
		BodyOffset:   newBody,
		Size:         0,
		StartMagic:   movedMagic,
	}
	return nil
}

// relocateV3Locked moves only the record's body: version 3 keys every record
// independently, so the tail bodies shift down unchanged and the header
// table is patched in place. Rows whose bodies sat after the moved body get
// their offset field rewritten; the moved row's offset points at the new end
// and its size field is zeroed.
func (a *Archive) relocateV3Locked(path string, entry Entry, storeLen int64) error {
	tailOff := int64(entry.BodyOffset + entry.Size)
	tailLen := storeLen - tailOff
	if tailLen < 0 {
		return fmt.Errorf("%w: body of %q ends past the archive", ErrFormat, path)
	}
	tail := make([]byte, tailLen)
	if _, err := a.store.ReadAt(tail, tailOff); err != nil {
		return fmt.Errorf("read bodies after %q: %w", path, err)
	}
	if _, err := a.store.WriteAt(tail, int64(entry.BodyOffset)); err != nil {
		return fmt.Errorf("shift bodies after %q: %w", path, err)
	}

	base := a.baseMagic

	type rowPatch struct {
		rowPos   int64
		newOff   uint32
		zeroSize bool
	}
	type update struct {
		path   string
		newOff uint64
		moved  bool
	}
	var patches []rowPatch
	var updates []update

	// +4 skips the stored seed in front of the table.
	rr := newRecordReader(a.store, headerSize+4, storeLen)
	for i := 0; ; i++ {
		rowPos := rr.pos
		rawOff, err := rr.u32()
		if err != nil {
			return fmt.Errorf("%w: header table of record %d is truncated", ErrFormat, i)
		}
		bodyOff := rawOff ^ base
		if bodyOff == 0 {
			break
		}
		if err := rr.skip(8); err != nil {
			return fmt.Errorf("%w: header table of record %d is truncated", ErrFormat, i)
		}
		rawNameLen, err := rr.u32()
		if err != nil {
			return fmt.Errorf("%w: header table of record %d is truncated", ErrFormat, i)
		}
		nameLen := rawNameLen ^ base
		if int64(nameLen) > storeLen-rr.pos {
			return fmt.Errorf("%w: name length %d of record %d exceeds archive", ErrFormat, nameLen, i)
		}

		moved := uint64(rowPos) == entry.HeaderOffset
		if !moved && uint64(bodyOff) <= entry.BodyOffset {
			if err := rr.skip(int64(nameLen)); err != nil {
				return fmt.Errorf("%w: truncated name of record %d", ErrFormat, i)
			}
			continue
		}
		name, err := rr.bytes(nameLen)
		if err != nil {
			return fmt.Errorf("%w: truncated name of record %d", ErrFormat, i)
		}
		decodeV3Name(name, base)
		rowPath := string(name)

		var newOff uint64
		if moved {
			newOff = uint64(storeLen) - entry.Size
		} else {
			if uint64(bodyOff) < entry.Size {
				return fmt.Errorf("%w: record %q cannot shift %d bytes backwards", ErrFormat, rowPath, entry.Size)
			}
			newOff = uint64(bodyOff) - entry.Size
		}
		patches = append(patches, rowPatch{rowPos: rowPos, newOff: uint32(newOff), zeroSize: moved})
		updates = append(updates, update{path: rowPath, newOff: newOff, moved: moved})
	}

	var field [4]byte
	for _, p := range patches {
		binary.LittleEndian.PutUint32(field[:], p.newOff^base)
		if _, err := a.store.WriteAt(field[:], p.rowPos); err != nil {
			return fmt.Errorf("patch header table: %w", err)
		}
		if p.zeroSize {
			binary.LittleEndian.PutUint32(field[:], 0^base)
			if _, err := a.store.WriteAt(field[:], p.rowPos+4); err != nil {
				return fmt.Errorf("patch header table: %w", err)
			}
		}
	}

	for _, u := range updates {
		ref := a.paths.GetFileRef(u.path)
		if ref == nil {
			return fmt.Errorf("%w: record %q found on disk but not in the index", ErrFormat, u.path)
		}
		ref.BodyOffset = u.newOff
		if u.moved {
			ref.Size = 0
		}
	}
	return nil
}
