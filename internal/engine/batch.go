package engine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ModifiedSuffix is appended to the base name of every batch output.
const ModifiedSuffix = "_modified"

type BatchResult struct {
	Input  string
	Output string
	Stats  Stats
	Err    error
}

// OutputPath returns the batch output name for input: foo.dex becomes
// foo_modified.dex in the same directory.
func OutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + ModifiedSuffix + ext
}

// FindDexFiles lists the .dex files under dir, skipping earlier outputs.
// Subdirectories are only visited when recursive is set.
func FindDexFiles(dir string, recursive bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &IOError{Op: "stat", Path: dir, Err: err}
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir)
	}

	var found []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if !strings.EqualFold(filepath.Ext(name), ".dex") {
			return nil
		}
		if strings.HasSuffix(strings.TrimSuffix(name, filepath.Ext(name)), ModifiedSuffix) {
			return nil
		}
		found = append(found, path)
		return nil
	})
	if err != nil {
		return nil, &IOError{Op: "walk", Path: dir, Err: err}
	}
	return found, nil
}

// Batch rewrites every dex file found under dir using at most workers
// concurrent rewrites. A failure on one file is recorded in its result and
// does not stop the others; the returned error covers the directory walk
// and cancellation only.
func (e *Engine) Batch(ctx context.Context, dir string, recursive bool, workers int) ([]BatchResult, error) {
	files, err := FindDexFiles(dir, recursive)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	e.log().Debug("batch", "dir", dir, "files", len(files), "workers", workers)

	results := make([]BatchResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, in := range files {
		results[i] = BatchResult{Input: in, Output: OutputPath(in)}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			res, err := e.run(in, results[i].Output)
			if err != nil {
				e.log().Error("batch item failed", "input", in, "err", err)
				results[i].Err = err
				return nil
			}
			results[i].Stats = res.Stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
