package rgssad

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// extractOptions configures ExtractDir.
type extractOptions struct {
	workers int
}

// ExtractOption configures an ExtractDir call.
type ExtractOption func(*extractOptions)

// WithExtractWorkers sets the number of files decoded concurrently.
// Values < 1 use one worker per CPU.
func WithExtractWorkers(n int) ExtractOption {
	return func(o *extractOptions) {
		o.workers = n
	}
}

// ExtractDir decodes every file at or beneath prefix into destDir,
// recreating the directory structure. Prefix "" or "." extracts the whole
// archive. Files are decoded concurrently; decoding stops on the first
// error or when ctx is canceled.
func (a *Archive) ExtractDir(ctx context.Context, destDir, prefix string, opts ...ExtractOption) error {
	o := extractOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	workers := o.workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}

	path, ok := normalize(prefix)
	if !ok {
		return &fs.PathError{Op: "extract", Path: prefix, Err: fs.ErrInvalid}
	}

	// Snapshot the paths only; each worker resolves its entry atomically at
	// decode time so a flush between snapshot and decode cannot leave it
	// reading from stale coordinates.
	var targets []string
	a.trieMu.RLock()
	if files, isDir := a.paths.IterPrefix(path); isDir {
		for p := range files {
			targets = append(targets, p)
		}
	} else if a.paths.ContainsFile(path) {
		// A file prefix extracts that single file under destDir.
		targets = append(targets, path)
		path = parentOf(path)
	} else {
		a.trieMu.RUnlock()
		return &fs.PathError{Op: "extract", Path: prefix, Err: fs.ErrNotExist}
	}
	a.trieMu.RUnlock()

	a.log().Debug("extracting", "prefix", path, "files", len(targets),
		"dest", destDir, "workers", workers)

	sem := semaphore.NewWeighted(int64(workers))
	eg, ctx := errgroup.WithContext(ctx)
	for _, target := range targets {
		rel := target
		if path != "" {
			rel = target[len(path)+1:]
		}
		dest := filepath.Join(destDir, filepath.FromSlash(rel))

		if err := sem.Acquire(ctx, 1); err != nil {
			// Canceled either externally or by a failed worker; the worker
			// error, if any, wins.
			if werr := eg.Wait(); werr != nil {
				return werr
			}
			return err
		}
		eg.Go(func() error {
			defer sem.Release(1)
			if err := ctx.Err(); err != nil {
				return err
			}
			content, err := a.readPath(target)
			if err != nil {
				return fmt.Errorf("extract %s: %w", target, err)
			}
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("extract %s: %w", target, err)
			}
			if err := os.WriteFile(dest, content, 0o644); err != nil {
				return fmt.Errorf("extract %s: %w", target, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// parentOf returns the directory portion of a trie path, "" for the root.
func parentOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}
