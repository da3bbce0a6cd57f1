package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/fruitsalade/gallerysync/internal/remote"
)

// fakeAPI serves a fixed key set with one object per page to exercise
// pagination.
type fakeAPI struct {
	keys    []string
	objects map[string]string
	calls   int
}

func (f *fakeAPI) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.calls++
	prefix := aws.ToString(in.Prefix)
	start := aws.ToString(in.ContinuationToken)

	var entries []string
	seen := map[string]bool{}
	for _, k := range f.keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			cp := prefix + rest[:i+1]
			if !seen[cp] {
				seen[cp] = true
				entries = append(entries, cp)
			}
			continue
		}
		entries = append(entries, k)
	}

	out := &s3.ListObjectsV2Output{}
	for i, e := range entries {
		if start != "" && e <= start {
			continue
		}
		if strings.HasSuffix(e, "/") {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(e)})
		} else {
			body := f.objects[e]
			out.Contents = append(out.Contents, types.Object{
				Key:          aws.String(e),
				Size:         aws.Int64(int64(len(body))),
				ETag:         aws.String(`"0123456789ABCDEF0123456789abcdef"`),
				LastModified: aws.Time(time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)),
			})
		}
		if i < len(entries)-1 {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = aws.String(e)
		}
		break
	}
	return out, nil
}

func (f *fakeAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func newFake() *fakeAPI {
	objects := map[string]string{
		"gallery/Bowls/Blue Bowl/thumbnail.jpg": "thumb",
		"gallery/Bowls/Blue Bowl/side.JPG":      "side",
		"gallery/Bowls/Blue Bowl/notes.txt":     "not an image",
		"gallery/Furniture/Table/1.png":         "png",
	}
	keys := []string{
		"gallery/Bowls/Blue Bowl/notes.txt",
		"gallery/Bowls/Blue Bowl/side.JPG",
		"gallery/Bowls/Blue Bowl/thumbnail.jpg",
		"gallery/Furniture/Table/1.png",
	}
	return &fakeAPI{keys: keys, objects: objects}
}

func TestListFolders(t *testing.T) {
	src := &Source{client: newFake(), bucket: "b"}

	cats, err := src.ListFolders(context.Background(), "gallery")
	if err != nil {
		t.Fatalf("ListFolders: %v", err)
	}
	if len(cats) != 2 || cats[0].Name != "Bowls" || cats[0].ID != "gallery/Bowls/" || cats[1].Name != "Furniture" {
		t.Fatalf("categories = %+v", cats)
	}

	projects, err := src.ListFolders(context.Background(), cats[0].ID)
	if err != nil {
		t.Fatalf("ListFolders: %v", err)
	}
	if len(projects) != 1 || projects[0].Name != "Blue Bowl" {
		t.Errorf("projects = %+v", projects)
	}
}

func TestListImages(t *testing.T) {
	fake := newFake()
	src := &Source{client: fake, bucket: "b"}

	items, err := src.ListImages(context.Background(), "gallery/Bowls/Blue Bowl/")
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Name != "side.JPG" || items[0].MimeType != "image/jpeg" {
		t.Errorf("first item = %+v", items[0])
	}
	if items[1].Size == nil || *items[1].Size != 5 {
		t.Errorf("size = %v", items[1].Size)
	}
	if items[1].MD5 != "0123456789abcdef0123456789abcdef" {
		t.Errorf("MD5 = %q", items[1].MD5)
	}
	if items[1].CreatedTime != "2024-02-01T10:00:00.000Z" {
		t.Errorf("CreatedTime = %q", items[1].CreatedTime)
	}
	if fake.calls < 3 {
		t.Errorf("expected paginated listing, got %d calls", fake.calls)
	}
}

func TestDownload(t *testing.T) {
	src := &Source{client: newFake(), bucket: "b"}

	body, err := src.Download(context.Background(), "gallery/Furniture/Table/1.png")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, _ := io.ReadAll(body)
	body.Close()
	if string(data) != "png" {
		t.Errorf("body = %q", data)
	}

	if _, err := src.Download(context.Background(), "nope"); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEtagMD5(t *testing.T) {
	tests := map[string]string{
		`"d41d8cd98f00b204e9800998ecf8427e"`:   "d41d8cd98f00b204e9800998ecf8427e",
		`"9b2cf535f27731c974343645a3985328-3"`: "",
		``:                                     "",
	}
	for in, want := range tests {
		if got := etagMD5(in); got != want {
			t.Errorf("etagMD5(%q) = %q, want %q", in, got, want)
		}
	}
}
