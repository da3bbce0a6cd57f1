// Package drive reads the gallery tree from a Google Drive folder through
// the Drive v3 REST API with an API key.
package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/gallerysync/internal/logging"
	"github.com/fruitsalade/gallerysync/internal/metrics"
	"github.com/fruitsalade/gallerysync/internal/naming"
	"github.com/fruitsalade/gallerysync/internal/remote"
	"github.com/fruitsalade/gallerysync/internal/retry"
)

const (
	DefaultBaseURL = "https://www.googleapis.com/drive/v3"
	folderMimeType = "application/vnd.google-apps.folder"
	pageSize       = 1000
	backendName    = "drive"
)

// Config holds client configuration.
type Config struct {
	BaseURL     string
	APIKey      string
	UserAgent   string
	Timeout     time.Duration // listing requests only; downloads use the caller's context
	RetryConfig retry.Config

	// RequestsPerMinute caps listing and download requests, 0 = unlimited.
	RequestsPerMinute int
}

// Client is a remote.Source backed by Google Drive.
type Client struct {
	baseURL     string
	apiKey      string
	userAgent   string
	httpClient  *http.Client
	timeout     time.Duration
	retryConfig retry.Config
	limiter     *limiter
}

// New creates a new Drive client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "gallerysync"
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		timeout:     cfg.Timeout,
		retryConfig: cfg.RetryConfig,
		limiter:     newLimiter(cfg.RequestsPerMinute),
	}
}

// Type implements remote.Source.
func (c *Client) Type() string { return backendName }

// file is the subset of a Drive files resource we request. Drive encodes
// size as a decimal string.
type file struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MimeType    string `json:"mimeType"`
	Size        string `json:"size"`
	MD5Checksum string `json:"md5Checksum"`
	CreatedTime string `json:"createdTime"`
}

type fileList struct {
	NextPageToken string `json:"nextPageToken"`
	Files         []file `json:"files"`
}

// ListFolders implements remote.Source.
func (c *Client) ListFolders(ctx context.Context, parentID string) ([]remote.Folder, error) {
	q := fmt.Sprintf("'%s' in parents and mimeType='%s' and trashed=false", escape(parentID), folderMimeType)
	files, err := c.list(ctx, "list_folders", q, "nextPageToken, files(id, name)")
	if err != nil {
		return nil, err
	}
	out := make([]remote.Folder, 0, len(files))
	for _, f := range files {
		out = append(out, remote.Folder{ID: f.ID, Name: f.Name})
	}
	return out, nil
}

// ListImages implements remote.Source.
func (c *Client) ListImages(ctx context.Context, folderID string) ([]remote.Item, error) {
	types := naming.ImageMimeTypes()
	clauses := make([]string, len(types))
	for i, mt := range types {
		clauses[i] = fmt.Sprintf("mimeType='%s'", mt)
	}
	q := fmt.Sprintf("'%s' in parents and (%s) and trashed=false", escape(folderID), strings.Join(clauses, " or "))

	files, err := c.list(ctx, "list_images", q, "nextPageToken, files(id, name, mimeType, size, md5Checksum, createdTime)")
	if err != nil {
		return nil, err
	}
	out := make([]remote.Item, 0, len(files))
	for _, f := range files {
		item := remote.Item{
			ID:          f.ID,
			Name:        f.Name,
			MimeType:    f.MimeType,
			MD5:         f.MD5Checksum,
			CreatedTime: f.CreatedTime,
		}
		if f.Size != "" {
			if n, err := strconv.ParseInt(f.Size, 10, 64); err == nil {
				item.Size = remote.SizePtr(n)
			}
		}
		out = append(out, item)
	}
	return out, nil
}

// list runs files.list and follows nextPageToken until exhausted.
func (c *Client) list(ctx context.Context, op, q, fields string) ([]file, error) {
	var all []file
	pageToken := ""
	for {
		params := url.Values{}
		params.Set("q", q)
		params.Set("fields", fields)
		params.Set("orderBy", "name")
		params.Set("pageSize", strconv.Itoa(pageSize))
		params.Set("key", c.apiKey)
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		page, err := c.listPage(ctx, op, params)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Files...)
		if page.NextPageToken == "" {
			return all, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *Client) listPage(ctx context.Context, op string, params url.Values) (*fileList, error) {
	start := time.Now()
	page, err := retry.DoWithResult(ctx, c.retryConfig, func() (*fileList, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, "GET", c.baseURL+"/files?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil, retry.FromStatus(op, resp.StatusCode)
		}

		var page fileList
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", op, err)
		}
		return &page, nil
	})
	metrics.RecordRemoteOperation(backendName, op, time.Since(start), err == nil)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Download implements remote.Source. The returned body must be closed.
// Retrying is left to the caller, which owns the destination file.
func (c *Client) Download(ctx context.Context, itemID string) (io.ReadCloser, error) {
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/files/%s?alt=media&key=%s", c.baseURL, url.PathEscape(itemID), url.QueryEscape(c.apiKey))

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordRemoteOperation(backendName, "download", time.Since(start), false)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.Retryable(err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		metrics.RecordRemoteOperation(backendName, "download", time.Since(start), false)
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("download %s: %w", itemID, remote.ErrNotFound)
		}
		logging.WithContext(ctx).Debug("download rejected",
			zap.String("item", itemID),
			zap.Int("status", resp.StatusCode))
		return nil, retry.FromStatus("download", resp.StatusCode)
	}

	metrics.RecordRemoteOperation(backendName, "download", time.Since(start), true)
	return resp.Body, nil
}

// escape quotes a value for use inside a Drive query string literal.
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
