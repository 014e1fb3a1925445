package rgssad

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/meigma/rgssad/internal/keystream"
	"github.com/meigma/rgssad/trie"
)

// Archive header: seven magic bytes, then the version byte.
const (
	headerMagic = "RGSSAD\x00"
	headerSize  = 8

	// initialKey seeds the running keystream of version 1/2 archives.
	initialKey = 0xDEADCAFE
)

// Interface compliance.
var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
	_ fs.ReadDirFS  = (*Archive)(nil)
)

// Archive is an open RGSSAD container exposed as a virtual filesystem.
//
// Reads of different files may proceed concurrently; a flush that mutates
// the archive excludes all other access and appears atomic to readers.
type Archive struct {
	// storeMu guards the backing bytes: many readers or one writer.
	storeMu sync.RWMutex
	store   ByteStore

	// trieMu guards the path index with the same discipline.
	trieMu sync.RWMutex
	paths  *trie.Trie[Entry]

	version Version

	// baseMagic is the fixed header-table key of a version 3 archive.
	// Versions 1/2 leave it at initialKey; it is never used for them
	// outside of bookkeeping.
	baseMagic uint32

	readOnly bool
	logger   *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// New parses the archive in store and builds its path index.
//
// Any structural problem — bad magic, unknown version byte, a truncated
// record, an invalid UTF-8 path — aborts the whole open; there is no
// partial mount.
func New(store ByteStore, opts ...Option) (*Archive, error) {
	a := &Archive{
		store:     store,
		paths:     trie.New[Entry](),
		baseMagic: initialKey,
	}
	for _, opt := range opts {
		opt(a)
	}

	size, err := store.Size()
	if err != nil {
		return nil, err
	}
	if size < headerSize {
		return nil, ErrInvalidHeader
	}
	hdr := make([]byte, headerSize)
	if _, err := store.ReadAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("read archive header: %w", err)
	}
	if string(hdr[:7]) != headerMagic {
		return nil, ErrInvalidHeader
	}
	a.version = Version(hdr[7])
	if !a.version.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, hdr[7])
	}

	switch a.version {
	case V1, V2:
		err = a.parseV12(size)
	case V3:
		err = a.parseV3(size)
	}
	if err != nil {
		return nil, err
	}

	a.log().Debug("archive opened", "version", a.version, "files", a.Len(), "bytes", size)
	return a, nil
}

// recordReader tracks an absolute position while decoding the record
// directory sequentially.
type recordReader struct {
	r   *bufio.Reader
	pos int64
}

func newRecordReader(store ByteStore, off, size int64) *recordReader {
	return &recordReader{
		r:   bufio.NewReader(io.NewSectionReader(store, off, size-off)),
		pos: off,
	}
}

// u32 reads one little-endian u32. A clean EOF before the first byte is
// reported as io.EOF; a partial read surfaces as io.ErrUnexpectedEOF.
func (rr *recordReader) u32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(rr.r, buf[:]); err != nil {
		return 0, err
	}
	rr.pos += 4
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (rr *recordReader) bytes(n uint32) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rr.r, buf); err != nil {
		return nil, err
	}
	rr.pos += int64(n)
	return buf, nil
}

func (rr *recordReader) skip(n int64) error {
	if _, err := rr.r.Discard(int(n)); err != nil {
		return err
	}
	rr.pos += n
	return nil
}

// parseV12 decodes the interleaved record stream of a version 1/2 archive.
// The only clean termination is end-of-stream on a record's name-length
// field.
func (a *Archive) parseV12(size int64) error {
	rr := newRecordReader(a.store, headerSize, size)
	key := keystream.Key(initialKey)

	for i := 0; ; i++ {
		raw, err := rr.u32()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: truncated name length of record %d", ErrFormat, i)
		}
		nameLen := raw ^ key.Advance()
		if int64(nameLen) > size-rr.pos {
			return fmt.Errorf("%w: name length %d of record %d exceeds archive", ErrFormat, nameLen, i)
		}
		name, err := rr.bytes(nameLen)
		if err != nil {
			return fmt.Errorf("%w: truncated name of record %d", ErrFormat, i)
		}
		for j := range name {
			name[j] ^= byte(key.Advance())
			if name[j] == '\\' {
				name[j] = '/'
			}
		}
		if !utf8.Valid(name) {
			return fmt.Errorf("%w: record %d name is not valid UTF-8", ErrFormat, i)
		}
		path := string(name)

		rawSize, err := rr.u32()
		if err != nil {
			return fmt.Errorf("%w: truncated size of %q", ErrFormat, path)
		}
		entrySize := rawSize ^ key.Advance()

		entry := Entry{
			HeaderOffset: uint64(rr.pos) - uint64(nameLen) - 8,
			BodyOffset:   uint64(rr.pos),
			Size:         uint64(entrySize),
			StartMagic:   uint32(key),
		}
		if entry.BodyOffset+entry.Size > uint64(size) {
			return fmt.Errorf("%w: body of %q ends past the archive", ErrFormat, path)
		}
		if _, _, ok := a.paths.CreateFile(path, entry); !ok {
			return fmt.Errorf("%w: path %q conflicts with a directory", ErrFormat, path)
		}
		if err := rr.skip(int64(entrySize)); err != nil {
			return fmt.Errorf("%w: body of %q ends past the archive", ErrFormat, path)
		}
	}
}

// parseV3 decodes the header table of a version 3 archive. The table is
// terminated by an explicit zero offset, not by end-of-stream.
func (a *Archive) parseV3(size int64) error {
	rr := newRecordReader(a.store, headerSize, size)

	seed, err := rr.u32()
	if err != nil {
		return fmt.Errorf("%w: truncated base key", ErrFormat)
	}
	base := seed*9 + 3
	a.baseMagic = base

	for i := 0; ; i++ {
		rowPos := rr.pos
		rawOff, err := rr.u32()
		if err != nil {
			return fmt.Errorf("%w: header table of record %d is truncated", ErrFormat, i)
		}
		bodyOff := rawOff ^ base
		if bodyOff == 0 {
			return nil
		}

		rawSize, err := rr.u32()
		if err != nil {
			return fmt.Errorf("%w: header table of record %d is truncated", ErrFormat, i)
		}
		rawMagic, err := rr.u32()
		if err != nil {
			return fmt.Errorf("%w: header table of record %d is truncated", ErrFormat, i)
		}
		rawNameLen, err := rr.u32()
		if err != nil {
			return fmt.Errorf("%w: header table of record %d is truncated", ErrFormat, i)
		}
		entrySize := rawSize ^ base
		entryMagic := rawMagic ^ base
		nameLen := rawNameLen ^ base
		if int64(nameLen) > size-rr.pos {
			return fmt.Errorf("%w: name length %d of record %d exceeds archive", ErrFormat, nameLen, i)
		}
		name, err := rr.bytes(nameLen)
		if err != nil {
			return fmt.Errorf("%w: truncated name of record %d", ErrFormat, i)
		}
		decodeV3Name(name, base)
		if !utf8.Valid(name) {
			return fmt.Errorf("%w: record %d name is not valid UTF-8", ErrFormat, i)
		}
		path := string(name)

		entry := Entry{
			HeaderOffset: uint64(rowPos),
			BodyOffset:   uint64(bodyOff),
			Size:         uint64(entrySize),
			StartMagic:   entryMagic,
		}
		if entry.BodyOffset+entry.Size > uint64(size) {
			return fmt.Errorf("%w: body of %q ends past the archive", ErrFormat, path)
		}
		if _, _, ok := a.paths.CreateFile(path, entry); !ok {
			return fmt.Errorf("%w: path %q conflicts with a directory", ErrFormat, path)
		}
	}
}

// decodeV3Name XORs name bytes against the cycled little-endian bytes of the
// fixed table key and rewrites backslashes. Self-inverse apart from the
// slash rewrite, so the encoder runs the slash rewrite first.
func decodeV3Name(name []byte, base uint32) {
	for i := range name {
		name[i] ^= byte(base >> (8 * (i % 4)))
		if name[i] == '\\' {
			name[i] = '/'
		}
	}
}

// Version reports the archive's format version.
func (a *Archive) Version() Version { return a.version }

// Len returns the number of files in the archive.
func (a *Archive) Len() int {
	a.trieMu.RLock()
	defer a.trieMu.RUnlock()
	n := 0
	files, _ := a.paths.IterPrefix("")
	for range files {
		n++
	}
	return n
}

// Files returns every file path and its entry in depth-first name order.
// The iterator works on a snapshot taken up front, so it is safe to use
// while the archive is being mutated.
func (a *Archive) Files() iter.Seq2[string, Entry] {
	type pair struct {
		path  string
		entry Entry
	}
	a.trieMu.RLock()
	var pairs []pair
	files, _ := a.paths.IterPrefix("")
	for p, e := range files {
		pairs = append(pairs, pair{path: p, entry: *e})
	}
	a.trieMu.RUnlock()

	return func(yield func(string, Entry) bool) {
		for _, p := range pairs {
			if !yield(p.path, p.entry) {
				return
			}
		}
	}
}

// normalize maps fs-style names onto trie paths: "." (and "") name the
// root; everything else must be a valid fs path.
func normalize(name string) (string, bool) {
	if name == "" || name == "." {
		return "", true
	}
	return name, fs.ValidPath(name)
}

// readPath resolves path and decodes its body under one store read lock.
// Holding the lock across both steps keeps a concurrent flush from
// relocating the entry between lookup and decode; a reader sees the archive
// strictly before or strictly after any flush, never in between.
func (a *Archive) readPath(path string) ([]byte, error) {
	a.storeMu.RLock()
	defer a.storeMu.RUnlock()

	a.trieMu.RLock()
	entry, isFile := a.paths.GetFile(path)
	a.trieMu.RUnlock()
	if !isFile {
		return nil, fs.ErrNotExist
	}
	return a.readBodyLocked(entry)
}

func (a *Archive) readBodyLocked(e Entry) ([]byte, error) {
	size, err := a.store.Size()
	if err != nil {
		return nil, err
	}
	if e.BodyOffset+e.Size > uint64(size) {
		return nil, fmt.Errorf("%w: entry body ends past the archive", ErrFormat)
	}
	buf := make([]byte, e.Size)
	if _, err := a.store.ReadAt(buf, int64(e.BodyOffset)); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	keystream.NewContentCipher(e.StartMagic).Apply(buf)
	return buf, nil
}

// Open implements fs.FS. The returned handle holds the file's decoded
// content in a private buffer; it never touches the archive again.
func (a *Archive) Open(name string) (fs.File, error) {
	path, ok := normalize(name)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	a.storeMu.RLock()
	defer a.storeMu.RUnlock()

	a.trieMu.RLock()
	entry, isFile := a.paths.GetFile(path)
	isDir := !isFile && a.paths.ContainsDir(path)
	a.trieMu.RUnlock()

	if isFile {
		// Decode before releasing the store lock so a concurrent flush
		// cannot relocate the entry under us.
		buf, err := a.readBodyLocked(entry)
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		return &File{archive: a, path: path, buf: buf, readable: true}, nil
	}
	if isDir {
		return &dirHandle{archive: a, path: path, name: name}, nil
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// Stat implements fs.StatFS. Directory info is synthesized from the path
// index; the format does not store directories explicitly.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	path, ok := normalize(name)
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}

	a.trieMu.RLock()
	defer a.trieMu.RUnlock()
	if entry, isFile := a.paths.GetFile(path); isFile {
		return newFileInfo(baseName(path), int64(entry.Size)), nil
	}
	if a.paths.ContainsDir(path) {
		return newDirInfo(dirDisplayName(path)), nil
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// Metadata describes the path: whether it is a file
// and its size (child count for directories).
func (a *Archive) Metadata(name string) (Metadata, error) {
	path, ok := normalize(name)
	if !ok {
		return Metadata{}, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}

	a.trieMu.RLock()
	defer a.trieMu.RUnlock()
	if entry, isFile := a.paths.GetFile(path); isFile {
		return Metadata{IsFile: true, Size: entry.Size}, nil
	}
	if n, isDir := a.paths.DirLen(path); isDir {
		return Metadata{IsFile: false, Size: uint64(n)}, nil
	}
	return Metadata{}, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// Exists reports whether a file or directory exists at name.
func (a *Archive) Exists(name string) bool {
	path, ok := normalize(name)
	if !ok {
		return false
	}
	a.trieMu.RLock()
	defer a.trieMu.RUnlock()
	return a.paths.Contains(path)
}

// ReadFile implements fs.ReadFileFS.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	path, ok := normalize(name)
	if !ok {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}

	buf, err := a.readPath(path)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return buf, nil
}

// ReadDir implements fs.ReadDirFS. Entries are sorted by name; directory
// entries are synthesized from file paths.
func (a *Archive) ReadDir(name string) ([]fs.DirEntry, error) {
	path, ok := normalize(name)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}

	a.trieMu.RLock()
	defer a.trieMu.RUnlock()
	children, isDir := a.paths.IterDir(path)
	if !isDir {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}

	entries := make([]fs.DirEntry, 0)
	for child, value := range children {
		if value == nil {
			entries = append(entries, newDirInfo(child))
			continue
		}
		entries = append(entries, newFileInfo(child, int64(value.Size)))
	}
	return entries, nil
}

// Entry returns the on-disk coordinates of the file at name.
func (a *Archive) Entry(name string) (Entry, bool) {
	path, ok := normalize(name)
	if !ok {
		return Entry{}, false
	}
	a.trieMu.RLock()
	defer a.trieMu.RUnlock()
	return a.paths.GetFile(path)
}

// Rename is not supported: versions 1/2 key every downstream record off the
// renamed record's bytes, so the editing surface keeps names immutable.
func (a *Archive) Rename(oldname, newname string) error {
	return &fs.PathError{Op: "rename", Path: oldname, Err: ErrNotSupported}
}

// Remove is not supported: the format has no free list and the editing
// surface defines no record removal.
func (a *Archive) Remove(name string) error {
	return &fs.PathError{Op: "remove", Path: name, Err: ErrNotSupported}
}

// RemoveAll is not supported, for the same reason as Remove.
func (a *Archive) RemoveAll(name string) error {
	return &fs.PathError{Op: "removeall", Path: name, Err: ErrNotSupported}
}

// Mkdir is not supported: directories exist only implicitly as path
// prefixes of stored files.
func (a *Archive) Mkdir(name string) error {
	return &fs.PathError{Op: "mkdir", Path: name, Err: ErrNotSupported}
}
