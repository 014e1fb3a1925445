package rgssad

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"sync"

	"github.com/meigma/rgssad/internal/keystream"
)

// Flag controls how OpenFile opens an archive path.
type Flag uint8

const (
	// FlagRead permits reads from the handle.
	FlagRead Flag = 1 << iota

	// FlagWrite permits writes; the handle flushes back into the archive
	// on Flush or Close.
	FlagWrite

	// FlagTruncate starts the handle with empty content instead of the
	// file's current bytes.
	FlagTruncate

	// FlagCreate appends a new empty record when the path does not exist.
	FlagCreate
)

// File is an open handle onto one archived file.
//
// The handle owns a private buffer of decoded plaintext, populated eagerly
// at open, so reads never touch the archive. Writes stay in the buffer until
// Flush (or Close), which re-encrypts the content and rewrites the archive —
// relocating the record to the archive's logical end first if its size
// changed.
type File struct {
	archive *Archive
	path    string

	mu       sync.Mutex
	buf      []byte
	pos      int64
	readable bool
	writable bool
	dirty    bool
	closed   bool
}

// Interface compliance.
var (
	_ fs.File   = (*File)(nil)
	_ io.Writer = (*File)(nil)
	_ io.Seeker = (*File)(nil)
)

// OpenFile opens the archive path with the given flags.
//
// Opening a missing path with FlagCreate appends an empty record to the
// archive immediately. FlagTruncate on an existing file marks the handle
// dirty: closing it writes the (possibly empty) buffer back.
func (a *Archive) OpenFile(name string, flag Flag) (*File, error) {
	path, ok := normalize(name)
	if !ok || path == "" {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if flag&(FlagWrite|FlagCreate) != 0 && a.readOnly {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrPermission}
	}

	exclusive := flag&(FlagWrite|FlagCreate) != 0
	if exclusive {
		a.storeMu.Lock()
		defer a.storeMu.Unlock()
		a.trieMu.Lock()
		defer a.trieMu.Unlock()
	} else {
		a.storeMu.RLock()
		defer a.storeMu.RUnlock()
		a.trieMu.RLock()
		defer a.trieMu.RUnlock()
	}

	created := false
	var buf []byte
	switch {
	case flag&FlagCreate != 0 && !a.paths.ContainsFile(path):
		if err := a.appendEmptyLocked(path); err != nil {
			return nil, &fs.PathError{Op: "create", Path: name, Err: err}
		}
		created = true

	case flag&FlagTruncate == 0:
		entry, isFile := a.paths.GetFile(path)
		if !isFile {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		decoded, err := a.readBodyLocked(entry)
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		buf = decoded

	default:
		if !a.paths.ContainsFile(path) {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
	}

	return &File{
		archive:  a,
		path:     path,
		buf:      buf,
		readable: flag&FlagRead != 0,
		writable: flag&FlagWrite != 0,
		// Truncating an existing file is already a modification, even if
		// nothing is ever written.
		dirty: !created && flag&FlagWrite != 0 && flag&FlagTruncate != 0,
	}, nil
}

// Read implements io.Reader over the handle's decoded buffer.
func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, &fs.PathError{Op: "read", Path: f.path, Err: fs.ErrClosed}
	}
	if !f.readable {
		return 0, &fs.PathError{Op: "read", Path: f.path, Err: fs.ErrPermission}
	}
	if f.pos >= int64(len(f.buf)) {
		return 0, io.EOF
	}
	n := copy(p, f.buf[f.pos:])
	f.pos += int64(n)
	return n, nil
}

// Write implements io.Writer, buffering plaintext until flush. Writing past
// the end extends the buffer; a gap left by seeking reads back as zeros.
func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, &fs.PathError{Op: "write", Path: f.path, Err: fs.ErrClosed}
	}
	if !f.writable {
		return 0, &fs.PathError{Op: "write", Path: f.path, Err: fs.ErrPermission}
	}
	f.dirty = true
	if end := f.pos + int64(len(p)); end > int64(len(f.buf)) {
		grown := make([]byte, end)
		copy(grown, f.buf)
		f.buf = grown
	}
	n := copy(f.buf[f.pos:], p)
	f.pos += int64(n)
	return n, nil
}

// Seek implements io.Seeker over the buffer.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, &fs.PathError{Op: "seek", Path: f.path, Err: fs.ErrClosed}
	}
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = f.pos + offset
	case io.SeekEnd:
		next = int64(len(f.buf)) + offset
	default:
		return 0, fmt.Errorf("rgssad: invalid seek whence %d", whence)
	}
	if next < 0 {
		return 0, &fs.PathError{Op: "seek", Path: f.path, Err: fs.ErrInvalid}
	}
	f.pos = next
	return next, nil
}

// Truncate resizes the buffer to n bytes.
func (f *File) Truncate(n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return &fs.PathError{Op: "truncate", Path: f.path, Err: fs.ErrClosed}
	}
	if !f.writable {
		return &fs.PathError{Op: "truncate", Path: f.path, Err: fs.ErrPermission}
	}
	if n < 0 {
		return &fs.PathError{Op: "truncate", Path: f.path, Err: fs.ErrInvalid}
	}
	f.dirty = true
	if n <= int64(len(f.buf)) {
		f.buf = f.buf[:n]
		return nil
	}
	grown := make([]byte, n)
	copy(grown, f.buf)
	f.buf = grown
	return nil
}

// Stat implements fs.File.
func (f *File) Stat() (fs.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return newFileInfo(baseName(f.path), int64(len(f.buf))), nil
}

// Flush writes buffered modifications back into the archive. It is a no-op
// when nothing was written since the last flush; the archive is not touched
// at all.
//
// After a flush failure the archive's in-memory index may be behind its
// bytes for this file; callers must stop mutating the archive.
func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return &fs.PathError{Op: "flush", Path: f.path, Err: fs.ErrClosed}
	}
	if !f.dirty {
		return nil
	}
	if !f.writable {
		return &fs.PathError{Op: "flush", Path: f.path, Err: fs.ErrPermission}
	}
	if err := f.archive.flushFile(f.path, f.buf); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// Close flushes pending modifications and invalidates the handle.
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return &fs.PathError{Op: "close", Path: f.path, Err: fs.ErrClosed}
	}
	var err error
	if f.dirty && f.writable {
		if flushErr := f.archive.flushFile(f.path, f.buf); flushErr != nil {
			err = flushErr
		} else {
			f.dirty = false
		}
	}
	f.closed = true
	f.mu.Unlock()
	return err
}

// flushFile re-encrypts content and writes it over the record at path,
// relocating the record first when its size changed. Structural disk writes
// always complete before the corresponding index update so that a failure
// leaves the divergence visible instead of silently masked.
func (a *Archive) flushFile(path string, content []byte) error {
	a.storeMu.Lock()
	defer a.storeMu.Unlock()
	a.trieMu.Lock()
	defer a.trieMu.Unlock()

	storeLen, err := a.store.Size()
	if err != nil {
		return err
	}
	entryRef := a.paths.GetFileRef(path)
	if entryRef == nil {
		return &fs.PathError{Op: "flush", Path: path, Err: fs.ErrNotExist}
	}

	oldSize := entryRef.Size
	newSize := uint64(len(content))
	if oldSize != newSize {
		if err := a.relocateLocked(path, storeLen); err != nil {
			return err
		}
		entryRef = a.paths.GetFileRef(path)
		if entryRef == nil {
			return fmt.Errorf("%w: entry lost during relocation of %q", ErrFormat, path)
		}

		// Write the new length into the on-disk size field.
		var sizeKey uint32
		var sizeOff uint64
		switch a.version {
		case V1, V2:
			if entryRef.BodyOffset < 4 {
				return fmt.Errorf("%w: record %q has no size field", ErrFormat, path)
			}
			key := keystream.Key(entryRef.StartMagic)
			key.Regress()
			sizeKey = uint32(key)
			sizeOff = entryRef.BodyOffset - 4
		case V3:
			sizeKey = a.baseMagic
			sizeOff = entryRef.HeaderOffset + 4
		}
		var field [4]byte
		binary.LittleEndian.PutUint32(field[:], uint32(newSize)^sizeKey)
		if _, err := a.store.WriteAt(field[:], int64(sizeOff)); err != nil {
			return fmt.Errorf("write size field of %q: %w", path, err)
		}
		entryRef.Size = newSize
	}

	entry := *entryRef

	// Growing writes past the old end of the store; extend it explicitly
	// rather than relying on WriteAt doing so.
	required := int64(entry.BodyOffset + newSize)
	cur, err := a.store.Size()
	if err != nil {
		return err
	}
	if required > cur {
		if err := a.store.SetLen(required); err != nil {
			return fmt.Errorf("extend archive for %q: %w", path, err)
		}
	}

	enc := make([]byte, len(content))
	copy(enc, content)
	keystream.NewContentCipher(entry.StartMagic).Apply(enc)
	if _, err := a.store.WriteAt(enc, int64(entry.BodyOffset)); err != nil {
		return fmt.Errorf("write body of %q: %w", path, err)
	}

	if oldSize > newSize {
		if err := a.store.SetLen(storeLen - int64(oldSize) + int64(newSize)); err != nil {
			return fmt.Errorf("truncate archive after shrinking %q: %w", path, err)
		}
	}

	a.log().Debug("flushed file", "path", path, "oldSize", oldSize, "newSize", newSize,
		"bodyOffset", entry.BodyOffset)
	return nil
}
