// Package rgssad reads and edits RGSS encrypted archives, the single-file
// containers used by RPG Maker XP, VX, and VX Ace projects (Game.rgssad,
// Game.rgss2a, Game.rgss3a).
//
// An archive packs many named byte blobs into one file, obfuscated with a
// linear-congruential XOR keystream. This package decodes the record
// directory into a path-indexed trie and exposes the result as a virtual
// filesystem: it implements fs.FS, fs.StatFS, fs.ReadFileFS, and
// fs.ReadDirFS for reading, and adds an in-place mutation engine so archived
// files can be rewritten, grown, or shrunk even though the format has no
// free list.
//
// # Quick start
//
// Open an archive and read a file:
//
//	arc, err := rgssad.OpenPath("Game.rgssad")
//	if err != nil {
//	    return err
//	}
//	defer arc.Close()
//	data, err := arc.ReadFile("Data/Map001.rxdata")
//
// Rewrite a file in place:
//
//	f, err := arc.OpenFile("Data/Map001.rxdata", rgssad.FlagRead|rgssad.FlagWrite|rgssad.FlagTruncate)
//	if err != nil {
//	    return err
//	}
//	if _, err := f.Write(updated); err != nil {
//	    return err
//	}
//	return f.Close() // flushes, relocating the record if the size changed
//
// # Format versions
//
// Versions 1 and 2 share one layout: records are interleaved
// header-then-body, keyed off a single running keystream seeded at
// 0xDEADCAFE. Version 3 keeps a header table up front with per-file random
// keys and a fixed table key derived from a stored seed.
//
// The XOR scheme is reversible obfuscation, not cryptography. Entry deletion
// is not part of the format's editing surface; Rename, Remove, and Mkdir on
// archive paths return ErrNotSupported.
package rgssad
