// Package manifest builds and persists the projects document describing
// the synchronized mirror.
package manifest

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/fruitsalade/gallerysync/internal/dates"
)

// Order selects the direction images and projects are sorted in.
type Order int

const (
	NewestFirst Order = iota
	OldestFirst
)

// ParseOrder maps "newest"/"oldest" to an Order.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(s) {
	case "", "newest", "desc":
		return NewestFirst, nil
	case "oldest", "asc":
		return OldestFirst, nil
	}
	return NewestFirst, fmt.Errorf("unknown sort order %q", s)
}

// Before reports whether date a sorts ahead of date b.
func (o Order) Before(a, b string) bool {
	if o == OldestFirst {
		return a < b
	}
	return a > b
}

// Project is one synchronized project.
type Project struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Category     string            `json:"category"`
	CategoryName string            `json:"categoryName"`
	Thumbnail    string            `json:"thumbnail"`
	Images       map[string]string `json:"images"`
	Description  string            `json:"description"`
	Date         string            `json:"date"`
}

// Manifest is the ordered list of projects.
type Manifest []Project

// Category identifies the category a project belongs to.
type Category struct {
	Slug string
	Name string
}

// Image is a resolved image of a project, in display order.
type Image struct {
	WebPath   string
	Timestamp string
	Date      string // YYYY-MM-DD
	Thumbnail bool   // named thumbnail.<ext>
}

// Build assembles a project from its resolved images. images must be in
// display order and non-empty. The thumbnail is the first image flagged as
// Thumbnail, else the first image. The project date is the month of the
// newest image.
func Build(cat Category, slug, title string, images []Image) Project {
	p := Project{
		ID:           slug,
		Title:        title,
		Category:     cat.Slug,
		CategoryName: cat.Name,
		Images:       make(map[string]string, len(images)),
		Description:  Describe(title, cat.Name),
	}

	newest := ""
	for _, img := range images {
		p.Images[img.WebPath] = img.Timestamp
		if img.Date > newest {
			newest = img.Date
		}
		if img.Thumbnail && p.Thumbnail == "" {
			p.Thumbnail = img.WebPath
		}
	}
	if p.Thumbnail == "" && len(images) > 0 {
		p.Thumbnail = images[0].WebPath
	}
	if newest == "" {
		newest = dates.Epoch
	}
	p.Date = dates.Month(newest)
	return p
}

// Describe is the fixed description template for a project.
func Describe(title, categoryName string) string {
	return fmt.Sprintf("Handcrafted %s from the %s collection.", strings.ToLower(title), categoryName)
}

// Sort orders projects by date, keeping listing order among equal dates.
func Sort(m Manifest, order Order) {
	sort.SliceStable(m, func(i, j int) bool {
		return order.Before(m[i].Date, m[j].Date)
	})
}

// ImageCount returns the total number of images across all projects.
func (m Manifest) ImageCount() int {
	n := 0
	for _, p := range m {
		n += len(p.Images)
	}
	return n
}

// WebPath joins a web prefix and mirror-relative segments with "/".
func WebPath(prefix string, segments ...string) string {
	return strings.TrimRight(prefix, "/") + "/" + strings.Join(segments, "/")
}

// LocalPath maps a web path under prefix back to its file under root.
func LocalPath(webPath, prefix, root string) (string, error) {
	prefix = strings.TrimRight(prefix, "/") + "/"
	if !strings.HasPrefix(webPath, prefix) {
		return "", fmt.Errorf("%s is not under %s", webPath, prefix)
	}
	return filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(webPath, prefix))), nil
}

// Missing returns the web paths of m, thumbnails included, that have no
// file under root. The result is sorted.
func Missing(fs afero.Fs, m Manifest, prefix, root string) []string {
	seen := make(map[string]bool)
	var missing []string
	check := func(web string) {
		if seen[web] {
			return
		}
		seen[web] = true
		p, err := LocalPath(web, prefix, root)
		if err != nil {
			missing = append(missing, web)
			return
		}
		if ok, _ := afero.Exists(fs, p); !ok {
			missing = append(missing, web)
		}
	}
	for _, p := range m {
		check(p.Thumbnail)
		for web := range p.Images {
			check(web)
		}
	}
	sort.Strings(missing)
	return missing
}

// Write encodes m as indented JSON and replaces path atomically.
func Write(fs afero.Fs, path string, m Manifest) error {
	if m == nil {
		m = Manifest{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}

	tmp, err := afero.TempFile(fs, dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := fs.Rename(tmpName, path); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}

// Load reads a manifest written by Write.
func Load(fs afero.Fs, path string) (Manifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}
