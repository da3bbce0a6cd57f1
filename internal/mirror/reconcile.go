// Package mirror removes local artifacts that are no longer referenced by
// the remote source and prunes the directories they leave empty.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fruitsalade/gallerysync/internal/logging"
)

// Options tune a reconciliation pass.
type Options struct {
	// DryRun reports what would be removed without touching the filesystem.
	DryRun bool
}

// Failure is a path that could not be inspected or removed.
type Failure struct {
	Path string
	Err  error
}

// Report is the outcome of a reconciliation pass.
type Report struct {
	Removed []string // orphan files
	Pruned  []string // empty directories
	Failed  []Failure
}

// Reconcile deletes every file under root that is neither in current nor
// inside a protected subtree, then removes empty directories deepest first
// until none remain. root itself is kept.
//
// Deletion is best effort: failures are collected in the report and
// returned joined, but never stop the pass. Running Reconcile twice with
// the same set removes nothing the second time.
func Reconcile(ctx context.Context, fs afero.Fs, root string, current *PathSet, opts Options) (Report, error) {
	var rep Report
	root = filepath.Clean(root)
	log := logging.WithContext(ctx)

	if _, err := fs.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return rep, nil
		}
		return rep, fmt.Errorf("stat mirror root: %w", err)
	}

	orphans, dirs := scan(fs, root, current, &rep)

	gone := make(map[string]bool)
	for _, path := range orphans {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rel, _ := filepath.Rel(root, path)
		if !opts.DryRun {
			if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
				rep.Failed = append(rep.Failed, Failure{Path: path, Err: err})
				log.Warn("failed to remove orphan", zap.String("path", rel), zap.Error(err))
				continue
			}
		}
		gone[path] = true
		rep.Removed = append(rep.Removed, path)
		log.Info("removing orphan", zap.String("path", rel), zap.Bool("dry_run", opts.DryRun))
	}

	rep.Pruned = prune(ctx, fs, root, dirs, gone, opts, &rep)

	return rep, rep.Err()
}

// Err joins all failures, nil when there were none.
func (r Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", f.Path, f.Err))
	}
	return errors.Join(errs...)
}

// scan walks root and returns orphan files and all directories below root.
func scan(fs afero.Fs, root string, current *PathSet, rep *Report) (orphans, dirs []string) {
	afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			rep.Failed = append(rep.Failed, Failure{Path: path, Err: err})
			if info != nil && info.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		if current.Protected(path) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		if !current.Has(path) {
			orphans = append(orphans, path)
		}
		return nil
	})
	return orphans, dirs
}

// prune removes empty directories, children before parents, repeating
// until a pass removes nothing. Entries in gone count as absent so that a
// dry run predicts the same result as a real one.
func prune(ctx context.Context, fs afero.Fs, root string, dirs []string, gone map[string]bool, opts Options, rep *Report) []string {
	log := logging.WithContext(ctx)
	failed := make(map[string]bool)

	sort.Slice(dirs, func(i, j int) bool {
		di, dj := strings.Count(dirs[i], string(filepath.Separator)), strings.Count(dirs[j], string(filepath.Separator))
		if di != dj {
			return di > dj
		}
		return dirs[i] > dirs[j]
	})

	var pruned []string
	for {
		removed := 0
		for _, dir := range dirs {
			if gone[dir] || failed[dir] {
				continue
			}
			empty, err := isEmpty(fs, dir, gone)
			if err != nil {
				rep.Failed = append(rep.Failed, Failure{Path: dir, Err: err})
				failed[dir] = true
				continue
			}
			if !empty {
				continue
			}
			if !opts.DryRun {
				if err := fs.Remove(dir); err != nil && !os.IsNotExist(err) {
					rep.Failed = append(rep.Failed, Failure{Path: dir, Err: err})
					failed[dir] = true
					log.Warn("failed to remove empty dir", zap.String("path", dir), zap.Error(err))
					continue
				}
			}
			gone[dir] = true
			removed++
			pruned = append(pruned, dir)
			rel, _ := filepath.Rel(root, dir)
			log.Info("removing empty dir", zap.String("path", rel), zap.Bool("dry_run", opts.DryRun))
		}
		if removed == 0 {
			return pruned
		}
	}
}

func isEmpty(fs afero.Fs, dir string, gone map[string]bool) (bool, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if !gone[filepath.Join(dir, e.Name())] {
			return false, nil
		}
	}
	return true, nil
}
