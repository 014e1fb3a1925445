package rgssad

import (
	"io"
	"io/fs"
	"strings"
	"time"
)

// fileInfo is the synthetic fs.FileInfo / fs.DirEntry for archive paths.
// The format stores no modes, owners, or times, so those are fixed.
type fileInfo struct {
	name string
	size int64
	dir  bool
}

func newFileInfo(name string, size int64) *fileInfo {
	return &fileInfo{name: name, size: size}
}

func newDirInfo(name string) *fileInfo {
	return &fileInfo{name: name, dir: true}
}

// Interface compliance.
var (
	_ fs.FileInfo = (*fileInfo)(nil)
	_ fs.DirEntry = (*fileInfo)(nil)
)

func (fi *fileInfo) Name() string { return fi.name }
func (fi *fileInfo) Size() int64  { return fi.size }
func (fi *fileInfo) Mode() fs.FileMode {
	if fi.dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}
func (fi *fileInfo) ModTime() time.Time { return time.Time{} }
func (fi *fileInfo) IsDir() bool        { return fi.dir }
func (fi *fileInfo) Sys() any           { return nil }

func (fi *fileInfo) Type() fs.FileMode          { return fi.Mode().Type() }
func (fi *fileInfo) Info() (fs.FileInfo, error) { return fi, nil }

// baseName returns the final component of a trie path.
func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// dirDisplayName is baseName with the root mapped to ".".
func dirDisplayName(path string) string {
	if path == "" {
		return "."
	}
	return baseName(path)
}

// dirHandle implements fs.File and fs.ReadDirFile for synthetic directories.
type dirHandle struct {
	archive *Archive
	path    string
	name    string
	entries []fs.DirEntry
	offset  int
}

var _ fs.ReadDirFile = (*dirHandle)(nil)

func (d *dirHandle) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}

func (d *dirHandle) Stat() (fs.FileInfo, error) {
	return newDirInfo(dirDisplayName(d.path)), nil
}

func (d *dirHandle) Close() error {
	d.entries = nil
	return nil
}

func (d *dirHandle) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.entries == nil {
		entries, err := d.archive.ReadDir(d.name)
		if err != nil {
			return nil, err
		}
		d.entries = entries
		d.offset = 0
	}

	remaining := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return remaining, nil
	}
	if len(remaining) == 0 {
		return nil, io.EOF
	}
	if n > len(remaining) {
		n = len(remaining)
	}
	d.offset += n
	return remaining[:n], nil
}
