// Package fetch transfers remote items into the local mirror.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fruitsalade/gallerysync/internal/fingerprint"
	"github.com/fruitsalade/gallerysync/internal/logging"
	"github.com/fruitsalade/gallerysync/internal/metrics"
	"github.com/fruitsalade/gallerysync/internal/remote"
	"github.com/fruitsalade/gallerysync/internal/retry"
)

// ErrChecksum is returned when downloaded content does not match the
// declared size or digest.
var ErrChecksum = errors.New("downloaded content does not match remote metadata")

// tempPattern names in-flight downloads. A crash leaves such files behind;
// they are never tracked, so the next reconciliation removes them.
const tempPattern = ".gallerysync-*.tmp"

// Config holds executor settings.
type Config struct {
	Timeout     time.Duration // per-item bound, 0 = none
	RetryConfig retry.Config
}

// Executor downloads items to destination paths atomically.
type Executor struct {
	source remote.Source
	fs     afero.Fs
	cfg    Config
}

// New creates an executor writing to fs.
func New(source remote.Source, fs afero.Fs, cfg Config) *Executor {
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	return &Executor{source: source, fs: fs, cfg: cfg}
}

// Fetch streams item into dest, creating parent directories. Content goes
// to a temporary file in the destination directory and is renamed over
// dest only after the whole body arrived and matched the declared size
// and digest. On failure dest is left as it was.
func (e *Executor) Fetch(ctx context.Context, item remote.Item, dest string) (int64, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	n, err := retry.DoWithResult(ctx, e.cfg.RetryConfig, func() (int64, error) {
		return e.fetchOnce(ctx, item, dest)
	})
	metrics.RecordFetch(n, time.Since(start), err == nil)
	if err != nil {
		return 0, fmt.Errorf("fetch %s (%s): %w", item.Name, item.ID, err)
	}

	logging.WithContext(ctx).Debug("fetched",
		zap.String("item", item.ID),
		zap.String("dest", dest),
		zap.Int64("bytes", n),
		zap.Duration("duration", time.Since(start)))
	return n, nil
}

func (e *Executor) fetchOnce(ctx context.Context, item remote.Item, dest string) (int64, error) {
	dir := filepath.Dir(dest)
	if err := e.fs.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("create dirs for %s: %w", dest, err)
	}

	body, err := e.source.Download(ctx, item.ID)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	tmp, err := afero.TempFile(e.fs, dir, tempPattern)
	if err != nil {
		return 0, fmt.Errorf("create temp for %s: %w", dest, err)
	}
	tmpName := tmp.Name()

	v := fingerprint.NewVerifier(tmp)
	if _, err := io.Copy(v, body); err != nil {
		tmp.Close()
		e.fs.Remove(tmpName)
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		// A broken stream is worth another attempt.
		return 0, retry.Retryable(fmt.Errorf("write %s: %w", dest, err))
	}
	if err := tmp.Close(); err != nil {
		e.fs.Remove(tmpName)
		return 0, fmt.Errorf("close temp for %s: %w", dest, err)
	}

	if err := v.Check(item.Size, item.MD5); err != nil {
		e.fs.Remove(tmpName)
		return 0, retry.Retryable(fmt.Errorf("%w: %v", ErrChecksum, err))
	}

	if err := e.fs.Rename(tmpName, dest); err != nil {
		e.fs.Remove(tmpName)
		return 0, fmt.Errorf("rename temp to %s: %w", dest, err)
	}

	return v.Written(), nil
}
