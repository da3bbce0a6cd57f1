// Package remote defines the content source the mirror is synchronized
// from. A source is a two-level tree: the root holds category folders,
// each category holds project folders, and each project holds image items.
package remote

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a folder or item does not exist.
var ErrNotFound = errors.New("remote object not found")

// Folder is a category or project listing entry.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Item is an image leaf in the remote tree.
type Item struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`

	// Size is the declared byte length, nil when the source does not know it.
	Size *int64 `json:"size,omitempty"`

	// MD5 is the declared hex content digest, empty when unknown.
	MD5 string `json:"md5Checksum,omitempty"`

	// CreatedTime is an ISO-8601-like timestamp, empty when unknown.
	CreatedTime string `json:"createdTime,omitempty"`
}

// Source is the transport the sync engine consumes.
type Source interface {
	// ListFolders returns the non-trashed sub-folders of parentID, ordered
	// by name.
	ListFolders(ctx context.Context, parentID string) ([]Folder, error)

	// ListImages returns the non-trashed image items of folderID with a
	// recognized content-type, ordered by name.
	ListImages(ctx context.Context, folderID string) ([]Item, error)

	// Download streams the content of itemID.
	Download(ctx context.Context, itemID string) (io.ReadCloser, error)

	// Type returns the backend identifier ("drive", "s3", "local").
	Type() string
}

// SizePtr is a helper for building items with a declared size.
func SizePtr(n int64) *int64 {
	return &n
}
