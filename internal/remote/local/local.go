// Package local reads the gallery tree from a directory, such as an
// exported Drive folder. Folder and item ids are slash-separated paths
// relative to the root; the root itself is "".
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/fruitsalade/gallerysync/internal/fingerprint"
	"github.com/fruitsalade/gallerysync/internal/naming"
	"github.com/fruitsalade/gallerysync/internal/remote"
)

// Source implements remote.Source on a directory tree.
type Source struct {
	fs   afero.Fs
	root string
}

// New creates a source rooted at root on fs.
func New(fs afero.Fs, root string) *Source {
	return &Source{fs: fs, root: filepath.Clean(root)}
}

// Type implements remote.Source.
func (s *Source) Type() string { return "local" }

// resolve maps an id to a filesystem path, rejecting ids that escape the root.
func (s *Source) resolve(id string) (string, error) {
	clean := path.Clean("/" + id)
	if clean != "/"+strings.Trim(id, "/") && id != "" {
		return "", fmt.Errorf("invalid id %q", id)
	}
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func (s *Source) readDir(id string) ([]os.FileInfo, error) {
	dir, err := s.resolve(id)
	if err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("list %s: %w", id, remote.ErrNotFound)
		}
		return nil, fmt.Errorf("list %s: %w", id, err)
	}
	return entries, nil
}

// ListFolders implements remote.Source. Hidden directories are skipped.
func (s *Source) ListFolders(_ context.Context, parentID string) ([]remote.Folder, error) {
	entries, err := s.readDir(parentID)
	if err != nil {
		return nil, err
	}
	var out []remote.Folder
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, remote.Folder{ID: path.Join(parentID, e.Name()), Name: e.Name()})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListImages implements remote.Source. Size and MD5 are taken from the
// file itself and the modification time stands in for the creation time.
func (s *Source) ListImages(_ context.Context, folderID string) ([]remote.Item, error) {
	entries, err := s.readDir(folderID)
	if err != nil {
		return nil, err
	}
	var out []remote.Item
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		mime := naming.MimeForExtension(path.Ext(e.Name()))
		if mime == "" {
			continue
		}
		id := path.Join(folderID, e.Name())
		p, _ := s.resolve(id)
		sum, err := fingerprint.MD5File(s.fs, p)
		if err != nil {
			return nil, err
		}
		out = append(out, remote.Item{
			ID:          id,
			Name:        e.Name(),
			MimeType:    mime,
			Size:        remote.SizePtr(e.Size()),
			MD5:         sum,
			CreatedTime: e.ModTime().UTC().Format("2006-01-02T15:04:05.000Z"),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Download implements remote.Source.
func (s *Source) Download(_ context.Context, itemID string) (io.ReadCloser, error) {
	p, err := s.resolve(itemID)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("open %s: %w", itemID, remote.ErrNotFound)
		}
		return nil, err
	}
	return f, nil
}
