package rgssad

import (
	"fmt"
	"io"
	"os"
)

// ByteStore is the random-access primitive the archive engine needs from its
// backing bytes: positioned reads and writes, a length query, and explicit
// length changes. The engine never relies on writes past the end silently
// extending the store; it calls SetLen first when growing.
//
// Implementations exist for local files (*os.File) and in-memory buffers.
type ByteStore interface {
	io.ReaderAt
	io.WriterAt
	Size() (int64, error)
	SetLen(n int64) error
}

// fileStore adapts *os.File to ByteStore. The size is queried per call
// because mutation changes it.
type fileStore struct {
	file *os.File
}

func (s *fileStore) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

func (s *fileStore) WriteAt(p []byte, off int64) (int, error) {
	return s.file.WriteAt(p, off)
}

func (s *fileStore) Size() (int64, error) {
	info, err := s.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat archive: %w", err)
	}
	return info.Size(), nil
}

func (s *fileStore) SetLen(n int64) error {
	return s.file.Truncate(n)
}

// MemStore is an in-memory ByteStore, useful for tests and for building
// archives before writing them to disk atomically.
type MemStore struct {
	data []byte
}

// NewMemStore returns a MemStore seeded with data. The store takes ownership
// of the slice.
func NewMemStore(data []byte) *MemStore {
	return &MemStore{data: data}
}

// Bytes returns the store's current contents. The slice aliases the store's
// buffer and is invalidated by further writes.
func (m *MemStore) Bytes() []byte { return m.data }

// ReadAt implements io.ReaderAt.
func (m *MemStore) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("rgssad: negative read offset %d", off)
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt, extending the buffer when the write ends
// past the current length (matching *os.File semantics).
func (m *MemStore) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("rgssad: negative write offset %d", off)
	}
	if end := off + int64(len(p)); end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	return copy(m.data[off:], p), nil
}

// Size returns the current length.
func (m *MemStore) Size() (int64, error) { return int64(len(m.data)), nil }

// SetLen truncates or zero-extends the buffer to n bytes.
func (m *MemStore) SetLen(n int64) error {
	if n < 0 {
		return fmt.Errorf("rgssad: negative length %d", n)
	}
	if n <= int64(len(m.data)) {
		m.data = m.data[:n]
		return nil
	}
	grown := make([]byte, n)
	copy(grown, m.data)
	m.data = grown
	return nil
}

// Interface compliance.
var (
	_ ByteStore = (*fileStore)(nil)
	_ ByteStore = (*MemStore)(nil)
)

// ArchiveFile wraps an Archive with its underlying file handle.
// Close must be called to release the file.
type ArchiveFile struct {
	*Archive
	file *os.File
}

// Close closes the underlying archive file.
func (af *ArchiveFile) Close() error {
	if af.file == nil {
		return nil
	}
	err := af.file.Close()
	af.file = nil
	return err
}

// OpenPath opens an archive file from disk.
//
// The file is opened read-write unless WithReadOnly is given. The returned
// ArchiveFile must be closed to release the handle.
func OpenPath(path string, opts ...Option) (*ArchiveFile, error) {
	cfg := applyOptions(opts)

	flag := os.O_RDWR
	if cfg.readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open archive file: %w", err)
	}

	a, err := New(&fileStore{file: f}, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &ArchiveFile{Archive: a, file: f}, nil
}
