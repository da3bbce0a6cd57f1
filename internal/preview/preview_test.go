package preview

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/fruitsalade/gallerysync/internal/mirror"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func newGenerator(fs afero.Fs) *Generator {
	return New(fs, Config{MirrorRoot: "/site/images", Root: "/site/previews", MaxSize: 16})
}

func TestRender_Fits(t *testing.T) {
	out, err := Render(bytes.NewReader(pngBytes(t, 40, 20)), 16, 80)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Errorf("preview size = %dx%d, want 16x8", b.Dx(), b.Dy())
	}
}

func TestRender_SmallImageKeepsSize(t *testing.T) {
	out, err := Render(bytes.NewReader(pngBytes(t, 10, 6)), 16, 80)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if cfg.Width != 10 || cfg.Height != 6 {
		t.Errorf("size = %dx%d, want 10x6", cfg.Width, cfg.Height)
	}
}

func TestRender_Garbage(t *testing.T) {
	if _, err := Render(bytes.NewReader([]byte("not an image")), 16, 80); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestOrientation_NoExif(t *testing.T) {
	if got := Orientation(bytes.NewReader(pngBytes(t, 2, 2))); got != 1 {
		t.Errorf("Orientation = %d, want 1", got)
	}
}

func TestApplyOrientation_SwapsAxes(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for _, o := range []int{5, 6, 7, 8} {
		b := applyOrientation(img, o).Bounds()
		if b.Dx() != 20 || b.Dy() != 40 {
			t.Errorf("orientation %d: %dx%d, want 20x40", o, b.Dx(), b.Dy())
		}
	}
	for _, o := range []int{1, 2, 3, 4} {
		b := applyOrientation(img, o).Bounds()
		if b.Dx() != 40 || b.Dy() != 20 {
			t.Errorf("orientation %d: %dx%d, want 40x20", o, b.Dx(), b.Dy())
		}
	}
}

func TestPathFor(t *testing.T) {
	g := newGenerator(afero.NewMemMapFs())
	tests := []struct {
		src, want string
	}{
		{"/site/images/bowls/blue/a.jpg", "/site/previews/bowls/blue/a.jpg"},
		{"/site/images/bowls/blue/a.JPEG", "/site/previews/bowls/blue/a.JPEG"},
		{"/site/images/bowls/blue/a.png", "/site/previews/bowls/blue/a.png.jpg"},
	}
	for _, tt := range tests {
		got, err := g.PathFor(tt.src)
		if err != nil || got != tt.want {
			t.Errorf("PathFor(%q) = %q, %v; want %q", tt.src, got, err, tt.want)
		}
	}
	if _, err := g.PathFor("/elsewhere/a.jpg"); err == nil {
		t.Error("expected error for path outside mirror root")
	}
}

func TestSync_GeneratesAndReconciles(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/site/images/bowls/blue/a.png", pngBytes(t, 40, 20), 0644)
	afero.WriteFile(fs, "/site/previews/bowls/old/gone.jpg", []byte("stale"), 0644)

	current := mirror.NewPathSet()
	current.Add("/site/images/bowls/blue/a.png")

	g := newGenerator(fs)
	rep, err := g.Sync(context.Background(), current)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rep.Generated != 1 {
		t.Errorf("Generated = %d", rep.Generated)
	}
	if ok, _ := afero.Exists(fs, "/site/previews/bowls/blue/a.png.jpg"); !ok {
		t.Error("preview not written")
	}
	if ok, _ := afero.Exists(fs, "/site/previews/bowls/old"); ok {
		t.Error("orphan preview dir kept")
	}

	rep, err = g.Sync(context.Background(), current)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if rep.Generated != 0 || rep.Current != 1 {
		t.Errorf("second pass: generated %d, current %d", rep.Generated, rep.Current)
	}
}

func TestSync_RegeneratesWhenSourceIsNewer(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := "/site/images/c/p/a.png"
	afero.WriteFile(fs, src, pngBytes(t, 4, 4), 0644)

	current := mirror.NewPathSet()
	current.Add(src)

	g := newGenerator(fs)
	if _, err := g.Sync(context.Background(), current); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	future := time.Now().Add(time.Hour)
	fs.Chtimes(src, future, future)

	rep, err := g.Sync(context.Background(), current)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rep.Generated != 1 {
		t.Errorf("Generated = %d, want regeneration", rep.Generated)
	}
}

func TestSync_FailureKeepsPreviousPreview(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := "/site/images/c/p/broken.jpg"
	afero.WriteFile(fs, "/site/previews/c/p/broken.jpg", []byte("old preview"), 0644)
	afero.WriteFile(fs, src, []byte("not an image"), 0644)
	future := time.Now().Add(time.Hour)
	fs.Chtimes(src, future, future)

	current := mirror.NewPathSet()
	current.Add(src)

	rep, err := newGenerator(fs).Sync(context.Background(), current)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rep.Failed != 1 {
		t.Errorf("Failed = %d", rep.Failed)
	}
	if ok, _ := afero.Exists(fs, "/site/previews/c/p/broken.jpg"); !ok {
		t.Error("previous preview removed after failed render")
	}
}

func TestSync_ProtectedSubtree(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/site/previews/furniture/table/1.jpg", []byte("x"), 0644)

	current := mirror.NewPathSet()
	current.Protect("/site/images/furniture")

	if _, err := newGenerator(fs).Sync(context.Background(), current); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if ok, _ := afero.Exists(fs, "/site/previews/furniture/table/1.jpg"); !ok {
		t.Error("protected preview removed")
	}
}
