package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/docopt/docopt-go"
	"github.com/google/renameio"

	"github.com/meigma/rgssad"
)

const usage = `rgssad - inspect and repack RGSSAD game archives

Usage:
  rgssad list <archive> [<prefix>]
  rgssad cat <archive> <path>
  rgssad extract <archive> <dest> [<prefix>] [--workers=<n>]
  rgssad pack <archive> <dir> [--version=<v>]
  rgssad info <archive>

Options:
  -h --help      Show this screen.
  --workers=<n>  Concurrent extraction workers [default: 0].
  --version=<v>  Archive version to write: 1, 2 or 3 [default: 1].
`

type opts struct {
	List    bool
	Cat     bool
	Extract bool
	Pack    bool
	Info    bool

	Archive string `docopt:"<archive>"`
	Path    string `docopt:"<path>"`
	Prefix  string `docopt:"<prefix>"`
	Dest    string `docopt:"<dest>"`
	Dir     string `docopt:"<dir>"`
	Workers string `docopt:"--workers"`
	Version string `docopt:"--version"`
}

func main() {
	os.Exit(run())
}

func run() int {
	parser := &docopt.Parser{OptionsFirst: false}
	parsed, err := parser.ParseArgs(usage, os.Args[1:], "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	var o opts
	if err := parsed.Bind(&o); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger := slog.New(slog.DiscardHandler)
	if os.Getenv("DEBUG") != "" {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	switch {
	case o.List:
		err = list(o.Archive, o.Prefix, logger)
	case o.Cat:
		err = cat(o.Archive, o.Path, logger)
	case o.Extract:
		err = extract(o, logger)
	case o.Pack:
		err = pack(o, logger)
	case o.Info:
		err = info(o.Archive, logger)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "rgssad:", err)
		return 1
	}
	return 0
}

func openRead(path string, logger *slog.Logger) (*rgssad.ArchiveFile, error) {
	return rgssad.OpenPath(path, rgssad.WithReadOnly(), rgssad.WithLogger(logger))
}

func list(archive, prefix string, logger *slog.Logger) error {
	af, err := openRead(archive, logger)
	if err != nil {
		return err
	}
	defer af.Close()

	if prefix == "" {
		prefix = "."
	}
	return fs.WalkDir(af, prefix, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		fmt.Printf("%10d  %s\n", info.Size(), path)
		return nil
	})
}

func cat(archive, path string, logger *slog.Logger) error {
	af, err := openRead(archive, logger)
	if err != nil {
		return err
	}
	defer af.Close()

	content, err := af.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(content)
	return err
}

func extract(o opts, logger *slog.Logger) error {
	af, err := openRead(o.Archive, logger)
	if err != nil {
		return err
	}
	defer af.Close()

	workers, err := strconv.Atoi(o.Workers)
	if err != nil {
		return fmt.Errorf("invalid worker count %q", o.Workers)
	}
	return af.ExtractDir(context.Background(), o.Dest, o.Prefix,
		rgssad.WithExtractWorkers(workers))
}

// pack builds the archive in memory and replaces the target file atomically,
// so an interrupted pack never leaves a half-written archive behind.
func pack(o opts, logger *slog.Logger) error {
	v, err := strconv.Atoi(o.Version)
	if err != nil || v < 1 || v > 3 {
		return fmt.Errorf("invalid archive version %q", o.Version)
	}

	var files []rgssad.FileSpec
	root := filepath.Clean(o.Dir)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files = append(files, rgssad.FileSpec{Path: filepath.ToSlash(rel), Data: data})
		return nil
	})
	if err != nil {
		return err
	}

	mem := rgssad.NewMemStore(nil)
	if _, err := rgssad.Create(mem, rgssad.Version(v), files, rgssad.WithLogger(logger)); err != nil {
		return err
	}
	if err := renameio.WriteFile(o.Archive, mem.Bytes(), 0o644); err != nil {
		return err
	}
	fmt.Printf("packed %d files into %s\n", len(files), o.Archive)
	return nil
}

func info(archive string, logger *slog.Logger) error {
	af, err := openRead(archive, logger)
	if err != nil {
		return err
	}
	defer af.Close()

	var total uint64
	n := 0
	for _, e := range af.Files() {
		total += e.Size
		n++
	}
	fmt.Printf("version: %s\nfiles:   %d\nbytes:   %d\n", af.Version(), n, total)
	return nil
}
