// Package s3 reads the gallery tree from an S3 or MinIO bucket. Folder
// ids are key prefixes: the root prefix holds category prefixes, each
// holding project prefixes, each holding image objects.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/fruitsalade/gallerysync/internal/logging"
	"github.com/fruitsalade/gallerysync/internal/metrics"
	"github.com/fruitsalade/gallerysync/internal/naming"
	"github.com/fruitsalade/gallerysync/internal/remote"
	"github.com/fruitsalade/gallerysync/internal/retry"
)

const backendName = "s3"

// Config holds S3 connection settings.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// api is the part of the S3 client the source uses.
type api interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Source implements remote.Source on a bucket.
type Source struct {
	client api
	bucket string
}

// New connects to the bucket described by cfg.
func New(ctx context.Context, cfg Config) (*Source, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
				}, nil
			},
		)
		opts = append(opts, config.WithEndpointResolverWithOptions(resolver))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	logging.Info("S3 source configured",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("bucket", cfg.Bucket))

	return &Source{client: client, bucket: cfg.Bucket}, nil
}

// Type implements remote.Source.
func (s *Source) Type() string { return backendName }

// ListFolders implements remote.Source.
func (s *Source) ListFolders(ctx context.Context, parentID string) ([]remote.Folder, error) {
	var folders []remote.Folder
	err := s.walk(ctx, "list_folders", parentID, func(page *s3.ListObjectsV2Output) {
		for _, cp := range page.CommonPrefixes {
			prefix := aws.ToString(cp.Prefix)
			name := path.Base(strings.TrimSuffix(prefix, "/"))
			folders = append(folders, remote.Folder{ID: prefix, Name: name})
		}
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	return folders, nil
}

// ListImages implements remote.Source. Objects whose extension is not a
// recognized web image are ignored.
func (s *Source) ListImages(ctx context.Context, folderID string) ([]remote.Item, error) {
	var items []remote.Item
	err := s.walk(ctx, "list_images", folderID, func(page *s3.ListObjectsV2Output) {
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := path.Base(key)
			mime := naming.MimeForExtension(path.Ext(name))
			if mime == "" || strings.HasSuffix(key, "/") {
				continue
			}
			item := remote.Item{
				ID:       key,
				Name:     name,
				MimeType: mime,
				MD5:      etagMD5(aws.ToString(obj.ETag)),
			}
			if obj.Size != nil {
				item.Size = remote.SizePtr(*obj.Size)
			}
			if obj.LastModified != nil {
				item.CreatedTime = obj.LastModified.UTC().Format("2006-01-02T15:04:05.000Z")
			}
			items = append(items, item)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (s *Source) walk(ctx context.Context, op, prefix string, fn func(*s3.ListObjectsV2Output)) error {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	start := time.Now()
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			metrics.RecordRemoteOperation(backendName, op, time.Since(start), false)
			return fmt.Errorf("list %s: %w", prefix, err)
		}
		fn(page)
	}
	metrics.RecordRemoteOperation(backendName, op, time.Since(start), true)
	return nil
}

// Download implements remote.Source.
func (s *Source) Download(ctx context.Context, itemID string) (io.ReadCloser, error) {
	start := time.Now()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(itemID),
	})
	if err != nil {
		metrics.RecordRemoteOperation(backendName, "get", time.Since(start), false)
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("get %s: %w", itemID, remote.ErrNotFound)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.Retryable(fmt.Errorf("get %s: %w", itemID, err))
	}
	metrics.RecordRemoteOperation(backendName, "get", time.Since(start), true)
	return out.Body, nil
}

// etagMD5 returns the hex MD5 carried by a single-part upload ETag, or ""
// for multipart ETags, which are not content digests.
func etagMD5(etag string) string {
	etag = strings.Trim(etag, `"`)
	if len(etag) != 32 || strings.Contains(etag, "-") {
		return ""
	}
	return strings.ToLower(etag)
}
