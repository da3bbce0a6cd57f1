// Package remotetest provides an in-memory remote.Source for tests.
package remotetest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/fruitsalade/gallerysync/internal/remote"
	"github.com/fruitsalade/gallerysync/internal/retry"
)

// Source is a mutable in-memory tree. Folder and item listings are
// returned sorted by name, like the real adapters.
type Source struct {
	mu       sync.Mutex
	folders  map[string][]remote.Folder
	items    map[string][]remote.Item
	content  map[string][]byte
	failList map[string]error
	failGet  map[string]error
	flaky    map[string]int
	calls    map[string]int
}

// New returns an empty source.
func New() *Source {
	return &Source{
		folders:  make(map[string][]remote.Folder),
		items:    make(map[string][]remote.Item),
		content:  make(map[string][]byte),
		failList: make(map[string]error),
		failGet:  make(map[string]error),
		flaky:    make(map[string]int),
		calls:    make(map[string]int),
	}
}

// AddFolder registers a folder under parentID.
func (s *Source) AddFolder(parentID, id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[parentID] = append(s.folders[parentID], remote.Folder{ID: id, Name: name})
}

// AddImage registers an image with content under folderID. Size and MD5
// are declared from the content.
func (s *Source) AddImage(folderID, id, name, createdTime string, data []byte) remote.Item {
	sum := md5.Sum(data)
	item := remote.Item{
		ID:          id,
		Name:        name,
		MimeType:    "image/jpeg",
		Size:        remote.SizePtr(int64(len(data))),
		MD5:         hex.EncodeToString(sum[:]),
		CreatedTime: createdTime,
	}
	s.AddItem(folderID, item, data)
	return item
}

// AddItem registers an arbitrary item.
func (s *Source) AddItem(folderID string, item remote.Item, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[folderID] = append(s.items[folderID], item)
	s.content[item.ID] = data
}

// RemoveItem deletes an item from every folder.
func (s *Source) RemoveItem(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for folder, items := range s.items {
		kept := items[:0]
		for _, it := range items {
			if it.ID != id {
				kept = append(kept, it)
			}
		}
		s.items[folder] = kept
	}
	delete(s.content, id)
}

// SetContent replaces an item's bytes and its declared size and digest.
func (s *Source) SetContent(id string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := md5.Sum(data)
	for folder, items := range s.items {
		for i := range items {
			if items[i].ID == id {
				s.items[folder][i].Size = remote.SizePtr(int64(len(data)))
				s.items[folder][i].MD5 = hex.EncodeToString(sum[:])
			}
		}
	}
	s.content[id] = data
}

// FailList makes listing folderID fail.
func (s *Source) FailList(folderID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failList[folderID] = err
}

// FailDownload makes downloading itemID fail. A nil err clears it.
func (s *Source) FailDownload(itemID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGet[itemID] = err
}

// Flaky makes the next n downloads of itemID fail with a retryable error.
func (s *Source) Flaky(itemID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flaky[itemID] = n
}

// Downloads returns how many times itemID was downloaded.
func (s *Source) Downloads(itemID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[itemID]
}

// ListFolders implements remote.Source.
func (s *Source) ListFolders(_ context.Context, parentID string) ([]remote.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failList[parentID]; err != nil {
		return nil, err
	}
	out := append([]remote.Folder(nil), s.folders[parentID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListImages implements remote.Source.
func (s *Source) ListImages(_ context.Context, folderID string) ([]remote.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failList[folderID]; err != nil {
		return nil, err
	}
	out := append([]remote.Item(nil), s.items[folderID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Download implements remote.Source.
func (s *Source) Download(ctx context.Context, itemID string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[itemID]++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.failGet[itemID]; err != nil {
		return nil, err
	}
	if s.flaky[itemID] > 0 {
		s.flaky[itemID]--
		return nil, retry.Retryable(errors.New("temporary failure"))
	}
	data, ok := s.content[itemID]
	if !ok {
		return nil, fmt.Errorf("download %s: %w", itemID, remote.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Type implements remote.Source.
func (s *Source) Type() string { return "memory" }
