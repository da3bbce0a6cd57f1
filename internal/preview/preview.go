// Package preview keeps a tree of downscaled JPEG previews in step with
// the image mirror.
package preview

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fruitsalade/gallerysync/internal/logging"
	"github.com/fruitsalade/gallerysync/internal/metrics"
	"github.com/fruitsalade/gallerysync/internal/mirror"
)

// Config holds preview settings.
type Config struct {
	MirrorRoot string // where source images live
	Root       string // where previews are written
	MaxSize    int
	Quality    int
}

// Report is the outcome of a preview pass.
type Report struct {
	Generated int
	Current   int
	Failed    int
	Reconcile mirror.Report
}

// Generator renders previews for mirrored images.
type Generator struct {
	fs  afero.Fs
	cfg Config
}

// New creates a generator.
func New(fs afero.Fs, cfg Config) *Generator {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Quality <= 0 {
		cfg.Quality = DefaultQuality
	}
	cfg.MirrorRoot = filepath.Clean(cfg.MirrorRoot)
	cfg.Root = filepath.Clean(cfg.Root)
	return &Generator{fs: fs, cfg: cfg}
}

// PathFor maps a mirror path to its preview path. Non-JPEG sources get a
// ".jpg" suffix appended so that a.png and a.jpg never share a preview.
func (g *Generator) PathFor(src string) (string, error) {
	rel, err := g.relative(src)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(filepath.Ext(rel)) {
	case ".jpg", ".jpeg":
	default:
		rel += ".jpg"
	}
	return filepath.Join(g.cfg.Root, rel), nil
}

func (g *Generator) relative(path string) (string, error) {
	rel, err := filepath.Rel(g.cfg.MirrorRoot, filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not below the mirror root", path)
	}
	return rel, nil
}

// Sync renders a preview for every path in current whose preview is
// missing or older than the source, then reconciles the preview root
// against the resulting set. Subtrees protected in current stay protected.
// A source that cannot be rendered keeps its previous preview if any.
func (g *Generator) Sync(ctx context.Context, current *mirror.PathSet) (Report, error) {
	var rep Report
	log := logging.WithContext(ctx)
	previews := mirror.NewPathSet()

	for _, dir := range current.ProtectedDirs() {
		if rel, err := g.relative(dir); err == nil {
			previews.Protect(filepath.Join(g.cfg.Root, rel))
		}
	}

	for _, src := range current.Paths() {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		dest, err := g.PathFor(src)
		if err != nil {
			log.Warn("skipping preview", zap.String("path", src), zap.Error(err))
			continue
		}

		stale, err := g.stale(src, dest)
		if err != nil {
			rep.Failed++
			log.Warn("cannot stat preview source", zap.String("path", src), zap.Error(err))
			continue
		}
		if !stale {
			previews.Add(dest)
			rep.Current++
			continue
		}

		if err := g.render(src, dest); err != nil {
			rep.Failed++
			metrics.RecordPreview(false)
			log.Warn("preview failed", zap.String("path", src), zap.Error(err))
			if ok, _ := afero.Exists(g.fs, dest); ok {
				previews.Add(dest)
			}
			continue
		}
		metrics.RecordPreview(true)
		previews.Add(dest)
		rep.Generated++
	}

	recon, err := mirror.Reconcile(ctx, g.fs, g.cfg.Root, previews, mirror.Options{})
	rep.Reconcile = recon
	return rep, err
}

func (g *Generator) stale(src, dest string) (bool, error) {
	si, err := g.fs.Stat(src)
	if err != nil {
		return false, err
	}
	di, err := g.fs.Stat(dest)
	if err != nil {
		return true, nil
	}
	return di.ModTime().Before(si.ModTime()), nil
}

func (g *Generator) render(src, dest string) error {
	f, err := g.fs.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := Render(f, g.cfg.MaxSize, g.cfg.Quality)
	if err != nil {
		return err
	}

	dir := filepath.Dir(dest)
	if err := g.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create preview dir: %w", err)
	}
	tmp, err := afero.TempFile(g.fs, dir, ".preview-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp preview: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		g.fs.Remove(tmpName)
		return fmt.Errorf("write preview: %w", err)
	}
	if err := tmp.Close(); err != nil {
		g.fs.Remove(tmpName)
		return fmt.Errorf("close preview: %w", err)
	}
	if err := g.fs.Rename(tmpName, dest); err != nil {
		g.fs.Remove(tmpName)
		return fmt.Errorf("rename preview: %w", err)
	}
	return nil
}
