package syncer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fruitsalade/gallerysync/internal/logging"
	"github.com/fruitsalade/gallerysync/internal/manifest"
	"github.com/fruitsalade/gallerysync/internal/metrics"
	"github.com/fruitsalade/gallerysync/internal/mirror"
	"github.com/fruitsalade/gallerysync/internal/preview"
	"github.com/fruitsalade/gallerysync/internal/remote"
)

// RunOptions configure a full pass.
type RunOptions struct {
	Options
	ManifestPath string
}

// Result is the outcome of one pass.
type Result struct {
	RunID     string
	Plan      *Plan
	Reconcile mirror.Report
	Previews  *preview.Report
	Duration  time.Duration
}

// Runner performs complete synchronization passes.
type Runner struct {
	source   remote.Source
	fs       afero.Fs
	fetcher  Fetcher
	previews *preview.Generator
	opts     RunOptions
}

// NewRunner creates a runner. previews may be nil.
func NewRunner(source remote.Source, fs afero.Fs, fetcher Fetcher, previews *preview.Generator, opts RunOptions) *Runner {
	return &Runner{source: source, fs: fs, fetcher: fetcher, previews: previews, opts: opts}
}

// Run walks the remote tree, fetches what changed, removes orphans and
// writes the manifest. Reconciliation starts only after the whole walk
// finished. A failed walk leaves both the mirror and the previous manifest
// untouched; deletion failures are logged and do not fail the pass.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: logging.NewRunID()}
	ctx = logging.WithRun(ctx, res.RunID)

	err := r.run(ctx, res)
	res.Duration = time.Since(start)
	metrics.RecordRun(res.Duration, err == nil)
	if err != nil {
		logging.WithContext(ctx).Error("sync failed", zap.Error(err), zap.Duration("duration", res.Duration))
		return res, err
	}
	r.summarize(ctx, res)
	return res, nil
}

func (r *Runner) run(ctx context.Context, res *Result) error {
	log := logging.WithContext(ctx)
	log.Info("starting sync",
		zap.String("source", r.source.Type()),
		zap.String("root", r.opts.Root),
		zap.Bool("dry_run", r.opts.DryRun))

	if err := prepareRoot(ctx, r.fs, r.opts.Root, r.opts.DryRun); err != nil {
		return err
	}

	plan, err := NewPlanner(r.source, r.fs, r.fetcher, r.opts.Options).Plan(ctx)
	if err != nil {
		return err
	}
	res.Plan = plan

	rep, err := mirror.Reconcile(ctx, r.fs, r.opts.Root, plan.Current, mirror.Options{DryRun: r.opts.DryRun})
	res.Reconcile = rep
	metrics.RecordReconcile(len(rep.Removed), len(rep.Pruned), len(rep.Failed))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("reconciliation incomplete", zap.Int("failures", len(rep.Failed)), zap.Error(err))
	}

	if r.previews != nil && !r.opts.DryRun {
		prep, err := r.previews.Sync(ctx, plan.Current)
		res.Previews = &prep
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("preview pass incomplete", zap.Error(err))
		}
	}

	if r.opts.DryRun {
		log.Info("dry run: manifest not written", zap.String("path", r.opts.ManifestPath))
		return nil
	}
	if err := manifest.Write(r.fs, r.opts.ManifestPath, plan.Manifest); err != nil {
		return err
	}
	metrics.SetManifestSize(len(plan.Manifest), plan.Manifest.ImageCount())
	log.Info("manifest written",
		zap.String("path", r.opts.ManifestPath),
		zap.Int("projects", len(plan.Manifest)))
	return nil
}

// prepareRoot makes sure the mirror root is a real directory. A symlink
// left by an older deployment is replaced.
func prepareRoot(ctx context.Context, fs afero.Fs, root string, dryRun bool) error {
	if lst, ok := fs.(afero.Lstater); ok {
		info, _, err := lst.LstatIfPossible(root)
		if err == nil && info.Mode()&os.ModeSymlink != 0 {
			logging.WithContext(ctx).Warn("mirror root is a symlink, replacing with a directory",
				zap.String("root", root), zap.Bool("dry_run", dryRun))
			if dryRun {
				return nil
			}
			if err := fs.Remove(root); err != nil {
				return fmt.Errorf("remove symlinked mirror root: %w", err)
			}
		}
	}
	if dryRun {
		return nil
	}
	if err := fs.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("create mirror root: %w", err)
	}
	return nil
}

func (r *Runner) summarize(ctx context.Context, res *Result) {
	s := res.Plan.Stats
	fields := []zap.Field{
		zap.Int("categories", s.Categories),
		zap.Int("projects", len(res.Plan.Manifest)),
		zap.Int("skipped", s.Skipped),
		zap.Int("fetched", s.Fetched),
		zap.Int("failed", s.Failed),
		zap.Int("stale_retained", s.StaleRetained),
		zap.Int("listing_errors", s.ListingErrors),
		zap.Int64("bytes", s.Bytes),
		zap.Int("orphans_removed", len(res.Reconcile.Removed)),
		zap.Int("dirs_pruned", len(res.Reconcile.Pruned)),
		zap.Duration("duration", res.Duration),
		zap.Bool("dry_run", r.opts.DryRun),
	}
	if res.Previews != nil {
		fields = append(fields,
			zap.Int("previews_generated", res.Previews.Generated),
			zap.Int("previews_failed", res.Previews.Failed))
	}
	logging.WithContext(ctx).Info("sync complete", fields...)
}
