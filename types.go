package rgssad

import "fmt"

// Version identifies the archive layout.
//
// Versions 1 and 2 (Game.rgssad, Game.rgss2a) share an identical layout and
// differ only in the engine that produced them. Version 3 (Game.rgss3a) uses
// a separate header table with per-file keys.
type Version uint8

const (
	V1 Version = 1
	V2 Version = 2
	V3 Version = 3
)

func (v Version) String() string {
	switch v {
	case V1, V2, V3:
		return fmt.Sprintf("RGSSAD v%d", uint8(v))
	default:
		return fmt.Sprintf("RGSSAD v%d (unsupported)", uint8(v))
	}
}

// valid reports whether the version byte names a supported layout.
func (v Version) valid() bool {
	return v == V1 || v == V2 || v == V3
}

// Entry records where one archived file lives and how to decode it.
//
// Offsets are absolute positions in the backing store. BodyOffset+Size never
// exceeds the store's length while the archive is consistent.
type Entry struct {
	// HeaderOffset is the position of the record's header: the table row
	// for version 3, the interleaved name-length field for versions 1/2.
	HeaderOffset uint64

	// BodyOffset is the position of the first content byte.
	BodyOffset uint64

	// Size is the content length in bytes.
	Size uint64

	// StartMagic seeds the content keystream for this file. In versions
	// 1/2 it is a position in the archive's single running stream; in
	// version 3 it is an independent random key.
	StartMagic uint32
}

// Metadata describes a path inside an archive. For directories, Size is the
// number of immediate children.
type Metadata struct {
	IsFile bool
	Size   uint64
}
