// Package trie provides a directory-tree index over slash-separated paths.
//
// The trie maps each path to either a file value or a directory. Directories
// come into existence implicitly: storing "a/b/c.txt" makes "a" and "a/b"
// directories without any explicit create. File and directory namespaces are
// disjoint — a path is never both.
//
// Paths use forward slashes with no leading slash; the empty string is the
// root directory.
package trie

import (
	"iter"
	"sort"
	"strings"
)

// node is either a directory (children non-nil) or a file (children nil).
// The explicit split keeps "known child, and which kind" an O(1) question.
type node[V any] struct {
	children map[string]*node[V]
	value    V
}

func newDir[V any]() *node[V] {
	return &node[V]{children: make(map[string]*node[V])}
}

func (n *node[V]) isDir() bool { return n.children != nil }

// Trie indexes file values by slash-separated path.
//
// The zero value is not usable; call New.
type Trie[V any] struct {
	root *node[V]
}

// New returns an empty trie whose root is an empty directory.
func New[V any]() *Trie[V] {
	return &Trie[V]{root: newDir[V]()}
}

// split breaks a path into components. The root path ("") has none.
func split(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// walk returns the node at path, or nil if no node exists there.
func (t *Trie[V]) walk(path string) *node[V] {
	n := t.root
	for _, part := range split(path) {
		if !n.isDir() {
			return nil
		}
		child, ok := n.children[part]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}

// CreateDir creates a directory at path, creating missing ancestors. It is
// idempotent. It reports false and changes nothing when path or one of its
// ancestors is already a file.
func (t *Trie[V]) CreateDir(path string) bool {
	_, ok := t.makeDir(path)
	return ok
}

// makeDir walks to path creating directory nodes as needed.
func (t *Trie[V]) makeDir(path string) (*node[V], bool) {
	n := t.root
	for _, part := range split(path) {
		child, ok := n.children[part]
		if !ok {
			child = newDir[V]()
			n.children[part] = child
		} else if !child.isDir() {
			return nil, false
		}
		n = child
	}
	return n, true
}

// CreateFile stores value at path, creating missing ancestor directories.
// If a file already exists at path its previous value is returned with
// replaced true. Storing over a directory, or under an ancestor that is a
// file, reports ok false and changes nothing.
func (t *Trie[V]) CreateFile(path string, value V) (prev V, replaced, ok bool) {
	dir, name, valid := splitParent(path)
	if !valid {
		return prev, false, false
	}
	parent, dirOK := t.makeDir(dir)
	if !dirOK {
		return prev, false, false
	}
	if child, exists := parent.children[name]; exists {
		if child.isDir() {
			return prev, false, false
		}
		prev = child.value
		child.value = value
		return prev, true, true
	}
	parent.children[name] = &node[V]{value: value}
	return prev, false, true
}

// splitParent splits path into its parent directory and final component.
// The root path has no final component and is not a valid file path.
func splitParent(path string) (dir, name string, ok bool) {
	if path == "" {
		return "", "", false
	}
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i], path[i+1:], true
	}
	return "", path, true
}

// ContainsFile reports whether a file exists at path.
func (t *Trie[V]) ContainsFile(path string) bool {
	n := t.walk(path)
	return n != nil && !n.isDir()
}

// ContainsDir reports whether a directory exists at path. The root always
// exists.
func (t *Trie[V]) ContainsDir(path string) bool {
	n := t.walk(path)
	return n != nil && n.isDir()
}

// Contains reports whether a file or directory exists at path.
func (t *Trie[V]) Contains(path string) bool {
	return t.walk(path) != nil
}

// GetFile returns the value stored at path.
func (t *Trie[V]) GetFile(path string) (V, bool) {
	var zero V
	n := t.walk(path)
	if n == nil || n.isDir() {
		return zero, false
	}
	return n.value, true
}

// GetFileRef returns a pointer to the value stored at path, or nil. The
// pointer stays valid until the file is removed; mutating through it updates
// the stored value in place.
func (t *Trie[V]) GetFileRef(path string) *V {
	n := t.walk(path)
	if n == nil || n.isDir() {
		return nil
	}
	return &n.value
}

// GetOrCreateFile returns a pointer to the value at path, storing value
// first if no file exists there. It returns nil when path is unusable (root,
// occupied by a directory, or shadowed by a file ancestor).
func (t *Trie[V]) GetOrCreateFile(path string, value V) *V {
	return t.GetOrCreateFileWith(path, func() V { return value })
}

// GetOrCreateFileWith is GetOrCreateFile with a lazily invoked factory.
func (t *Trie[V]) GetOrCreateFileWith(path string, factory func() V) *V {
	dir, name, valid := splitParent(path)
	if !valid {
		return nil
	}
	parent, dirOK := t.makeDir(dir)
	if !dirOK {
		return nil
	}
	child, exists := parent.children[name]
	if exists {
		if child.isDir() {
			return nil
		}
		return &child.value
	}
	child = &node[V]{value: factory()}
	parent.children[name] = child
	return &child.value
}

// DirLen returns the number of immediate children of the directory at path.
// ok is false when path is not a directory.
func (t *Trie[V]) DirLen(path string) (int, bool) {
	n := t.walk(path)
	if n == nil || !n.isDir() {
		return 0, false
	}
	return len(n.children), true
}

// RemoveFile removes the file at path and returns its value.
func (t *Trie[V]) RemoveFile(path string) (V, bool) {
	var zero V
	dir, name, valid := splitParent(path)
	if !valid {
		return zero, false
	}
	parent := t.walk(dir)
	if parent == nil || !parent.isDir() {
		return zero, false
	}
	child, exists := parent.children[name]
	if !exists || child.isDir() {
		return zero, false
	}
	delete(parent.children, name)
	return child.value, true
}

// RemoveDir removes the directory at path and its entire subtree, detaching
// it from the parent's listing. Removing the root clears the trie. It
// reports whether a directory existed at path.
func (t *Trie[V]) RemoveDir(path string) bool {
	if path == "" {
		t.root = newDir[V]()
		return true
	}
	dir, name, _ := splitParent(path)
	parent := t.walk(dir)
	if parent == nil || !parent.isDir() {
		return false
	}
	child, exists := parent.children[name]
	if !exists || !child.isDir() {
		return false
	}
	delete(parent.children, name)
	return true
}

// IterDir returns the immediate children of the directory at path in name
// order. A nil value pointer marks a child that is itself a directory.
// ok is false when path is not a directory.
func (t *Trie[V]) IterDir(path string) (iter.Seq2[string, *V], bool) {
	n := t.walk(path)
	if n == nil || !n.isDir() {
		return nil, false
	}
	names := sortedNames(n)
	return func(yield func(string, *V) bool) {
		for _, name := range names {
			child := n.children[name]
			if child == nil {
				continue
			}
			var v *V
			if !child.isDir() {
				v = &child.value
			}
			if !yield(name, v) {
				return
			}
		}
	}, true
}

// IterPrefix walks every file at or beneath the directory at path in
// depth-first name order, yielding full paths. ok is false when path is not
// a directory.
func (t *Trie[V]) IterPrefix(path string) (iter.Seq2[string, *V], bool) {
	n := t.walk(path)
	if n == nil || !n.isDir() {
		return nil, false
	}
	return func(yield func(string, *V) bool) {
		walkFiles(n, path, yield)
	}, true
}

func walkFiles[V any](n *node[V], prefix string, yield func(string, *V) bool) bool {
	for _, name := range sortedNames(n) {
		child := n.children[name]
		full := name
		if prefix != "" {
			full = prefix + "/" + name
		}
		if child.isDir() {
			if !walkFiles(child, full, yield) {
				return false
			}
			continue
		}
		if !yield(full, &child.value) {
			return false
		}
	}
	return true
}

func sortedNames[V any](n *node[V]) []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
