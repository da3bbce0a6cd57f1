// Package syncer drives a synchronization pass: it walks the remote tree,
// brings each project's images up to date in the local mirror, builds the
// manifest and hands the set of current paths to the reconciler.
package syncer

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/gallerysync/internal/dates"
	"github.com/fruitsalade/gallerysync/internal/fingerprint"
	"github.com/fruitsalade/gallerysync/internal/logging"
	"github.com/fruitsalade/gallerysync/internal/manifest"
	"github.com/fruitsalade/gallerysync/internal/metrics"
	"github.com/fruitsalade/gallerysync/internal/mirror"
	"github.com/fruitsalade/gallerysync/internal/naming"
	"github.com/fruitsalade/gallerysync/internal/remote"
)

// Decision is what happened to a single remote item.
type Decision string

const (
	// DecisionSkip means the local copy was already current.
	DecisionSkip Decision = "skip"
	// DecisionFetch means the item was new or stale and was downloaded.
	DecisionFetch Decision = "fetch"
	// DecisionFetchFailed means the download failed and no local copy exists.
	DecisionFetchFailed Decision = "fetch-failed"
	// DecisionStaleRetained means the refresh failed but a previous local
	// copy exists. The copy is kept on disk but is not listed.
	DecisionStaleRetained Decision = "stale-retained"
)

// Resolved reports whether the item is current and belongs in the manifest.
func (d Decision) Resolved() bool {
	return d == DecisionSkip || d == DecisionFetch
}

// Retained reports whether the item's local file must survive
// reconciliation.
func (d Decision) Retained() bool {
	return d.Resolved() || d == DecisionStaleRetained
}

// Fetcher transfers one item to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, item remote.Item, dest string) (int64, error)
}

// Options configure a planner.
type Options struct {
	Root      string // mirror root
	RootID    string // remote root folder
	WebPrefix string // prefix of manifest image paths
	Order     manifest.Order
	Workers   int  // parallel fetches per project
	DryRun    bool // decide only, never fetch
}

// ItemResult is the outcome for one remote item.
type ItemResult struct {
	Item     remote.Item
	Path     string
	WebPath  string
	Date     string
	Decision Decision
	Bytes    int64
	Err      error
}

// ProjectResult is the outcome for one remote project.
type ProjectResult struct {
	Category manifest.Category
	Slug     string
	Title    string
	Dir      string
	Items    []ItemResult // display order

	// Entry is nil when no item resolved.
	Entry *manifest.Project
}

// Stats summarizes a plan.
type Stats struct {
	Categories    int
	Projects      int
	EmptyProjects int
	Skipped       int
	Fetched       int
	Failed        int
	StaleRetained int
	Collisions    int
	ListingErrors int
	Bytes         int64
}

// Plan is the result of walking the remote tree.
type Plan struct {
	Manifest manifest.Manifest
	Current  *mirror.PathSet
	Projects []ProjectResult
	Stats    Stats

	// ListingErrors holds category and project listing failures. Their
	// local subtrees are protected in Current.
	ListingErrors []error
}

// Planner walks a remote source and synchronizes the mirror.
type Planner struct {
	source  remote.Source
	fs      afero.Fs
	fetcher Fetcher
	opts    Options
}

// NewPlanner creates a planner.
func NewPlanner(source remote.Source, fs afero.Fs, fetcher Fetcher, opts Options) *Planner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.WebPrefix == "" {
		opts.WebPrefix = "/images"
	}
	return &Planner{source: source, fs: fs, fetcher: fetcher, opts: opts}
}

// Plan walks every category and project, fetches stale items and returns
// the manifest together with the current path set. A failure to list the
// root is returned as an error; failures below the root are recorded and
// the walk continues.
func (p *Planner) Plan(ctx context.Context) (*Plan, error) {
	log := logging.WithContext(ctx)
	plan := &Plan{Current: mirror.NewPathSet()}

	categories, err := p.source.ListFolders(ctx, p.opts.RootID)
	if err != nil {
		metrics.RecordListingError("root")
		return nil, fmt.Errorf("list categories: %w", err)
	}
	if len(categories) == 0 {
		log.Warn("no category folders found", zap.String("root", p.opts.RootID))
	}

	catSlugs := make(map[string]bool)
	for _, cat := range categories {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		catSlug := uniqueName(catSlugs, naming.Slugify(cat.Name), cat.ID)
		category := manifest.Category{Slug: catSlug, Name: cat.Name}
		catDir := filepath.Join(p.opts.Root, catSlug)
		plan.Stats.Categories++

		log.Info("processing category", zap.String("category", cat.Name))

		projects, err := p.source.ListFolders(ctx, cat.ID)
		if err != nil {
			p.listingFailed(ctx, plan, "category", cat.Name, catDir, err)
			continue
		}

		projSlugs := make(map[string]bool)
		for _, proj := range projects {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			projSlug := uniqueName(projSlugs, naming.Slugify(proj.Name), proj.ID)
			projDir := filepath.Join(catDir, projSlug)

			items, err := p.source.ListImages(ctx, proj.ID)
			if err != nil {
				p.listingFailed(ctx, plan, "project", proj.Name, projDir, err)
				continue
			}
			if len(items) == 0 {
				plan.Stats.EmptyProjects++
				log.Info("skipping project: no images found", zap.String("project", proj.Name))
				continue
			}

			res := p.syncProject(ctx, plan, category, projSlug, proj.Name, projDir, items)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			plan.Projects = append(plan.Projects, res)
			plan.Stats.Projects++

			if res.Entry == nil {
				log.Warn("skipping project: no images downloaded", zap.String("project", proj.Name))
				continue
			}
			plan.Manifest = append(plan.Manifest, *res.Entry)
			log.Info("added project",
				zap.String("project", proj.Name),
				zap.Int("images", len(res.Entry.Images)),
				zap.String("date", res.Entry.Date))
		}
	}

	manifest.Sort(plan.Manifest, p.opts.Order)
	return plan, nil
}

func (p *Planner) listingFailed(ctx context.Context, plan *Plan, level, name, dir string, err error) {
	metrics.RecordListingError(level)
	plan.Stats.ListingErrors++
	plan.ListingErrors = append(plan.ListingErrors, fmt.Errorf("list %s %q: %w", level, name, err))
	plan.Current.Protect(dir)
	logging.WithContext(ctx).Error("listing failed, keeping local copy untouched",
		zap.String(level, name),
		zap.String("dir", dir),
		zap.Error(err))
}

// syncProject resolves one project's items. Local names are assigned in
// listing order so that collision suffixes stay stable between runs; the
// display order is by resolved date and is fixed before any fetch starts.
func (p *Planner) syncProject(ctx context.Context, plan *Plan, cat manifest.Category, slug, title, dir string, items []remote.Item) ProjectResult {
	log := logging.WithContext(ctx)

	res := ProjectResult{Category: cat, Slug: slug, Title: title, Dir: dir}
	res.Items = make([]ItemResult, len(items))

	used := make(map[string]bool)
	for i, item := range items {
		base := naming.LocalFilename(item.Name, item.MimeType)
		candidate := base
		collided := false
		if naming.Stem(base) == "" {
			candidate = naming.Disambiguate(base, item.ID)
		} else if used[base] {
			collided = true
		}
		name := uniqueName(used, candidate, item.ID)
		if collided {
			plan.Stats.Collisions++
			log.Warn("local name collision, disambiguating",
				zap.String("project", title),
				zap.String("item", item.Name),
				zap.String("name", name))
		}

		res.Items[i] = ItemResult{
			Item:    item,
			Path:    filepath.Join(dir, name),
			WebPath: manifest.WebPath(p.opts.WebPrefix, cat.Slug, slug, name),
			Date:    dates.Resolve(item),
		}
	}

	sort.SliceStable(res.Items, func(i, j int) bool {
		return p.opts.Order.Before(res.Items[i].Date, res.Items[j].Date)
	})

	log.Info("processing project",
		zap.String("project", title),
		zap.Int("images", len(items)),
		zap.String("newest", newestDate(res.Items)))

	p.resolveItems(ctx, res.Items)

	var images []manifest.Image
	for _, r := range res.Items {
		metrics.RecordDecision(string(r.Decision))
		switch r.Decision {
		case DecisionSkip:
			plan.Stats.Skipped++
		case DecisionFetch:
			plan.Stats.Fetched++
			plan.Stats.Bytes += r.Bytes
		case DecisionStaleRetained:
			plan.Stats.StaleRetained++
		case DecisionFetchFailed:
			plan.Stats.Failed++
		}
		if r.Decision.Retained() {
			plan.Current.Add(r.Path)
		}
		if !r.Decision.Resolved() {
			continue
		}
		images = append(images, manifest.Image{
			WebPath:   r.WebPath,
			Timestamp: dates.Timestamp(r.Item),
			Date:      r.Date,
			Thumbnail: naming.IsThumbnail(filepath.Base(r.Path)),
		})
	}

	if len(images) > 0 {
		entry := manifest.Build(cat, slug, title, images)
		res.Entry = &entry
	}
	return res
}

// resolveItems decides every item and fetches the stale ones, at most
// Workers at a time. Results are written by index so completion order
// does not matter.
func (p *Planner) resolveItems(ctx context.Context, results []ItemResult) {
	log := logging.WithContext(ctx)

	var g errgroup.Group
	g.SetLimit(p.opts.Workers)

	for i := range results {
		r := &results[i]

		needs, err := fingerprint.NeedsUpdate(p.fs, r.Path, r.Item.Size, r.Item.MD5)
		if err != nil {
			log.Warn("cannot verify local copy, refetching", zap.String("path", r.Path), zap.Error(err))
		}
		if !needs {
			r.Decision = DecisionSkip
			log.Debug("up to date", zap.String("item", r.Item.Name))
			continue
		}

		if p.opts.DryRun {
			r.Decision = DecisionFetch
			log.Info("would download", zap.String("item", r.Item.Name), zap.String("path", r.Path))
			continue
		}

		log.Info("downloading", zap.String("item", r.Item.Name))
		g.Go(func() error {
			n, err := p.fetcher.Fetch(ctx, r.Item, r.Path)
			if err == nil {
				r.Decision = DecisionFetch
				r.Bytes = n
				return nil
			}

			r.Err = err
			if exists, _ := afero.Exists(p.fs, r.Path); exists {
				r.Decision = DecisionStaleRetained
				log.Warn("download failed, keeping previous copy", zap.String("item", r.Item.Name), zap.Error(err))
			} else {
				r.Decision = DecisionFetchFailed
				log.Warn("download failed", zap.String("item", r.Item.Name), zap.Error(err))
			}
			return nil
		})
	}

	g.Wait()
}

func newestDate(items []ItemResult) string {
	newest := ""
	for _, r := range items {
		if r.Date > newest {
			newest = r.Date
		}
	}
	return newest
}

// uniqueName returns name if unused, otherwise a variant derived from id,
// numbered further if that is taken too. The result is marked used.
func uniqueName(used map[string]bool, name, id string) string {
	candidate := name
	if candidate == "" || used[candidate] {
		candidate = naming.Disambiguate(name, id)
	}
	ext := path.Ext(candidate)
	stem := strings.TrimSuffix(candidate, ext)
	for n := 2; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d%s", stem, n, ext)
	}
	used[candidate] = true
	return candidate
}
