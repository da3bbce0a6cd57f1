package naming

import (
	"regexp"
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Blue Bowl", "blue-bowl"},
		{"  Walnut -- Table  ", "walnut-table"},
		{"Chair (2024)!", "chair-2024"},
		{"IMG_2024", "img_2024"},
		{"Café Stool", "café-stool"},
		{"Ünïcödé Näme", "ünïcödé-näme"},
		{"_under_", "_under_"},
		{"---", ""},
		{"a\tb\nc", "a-b-c"},
		{"already-a-slug", "already-a-slug"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlugify_Idempotent(t *testing.T) {
	inputs := []string{
		"Blue Bowl", "  x  y ", "Ünïcödé Näme", "a--b__c", "-lead", "trail-",
		"Mixed CASE 123", "tab\tsep", "!!!", "",
	}
	allowed := regexp.MustCompile(`^[\p{L}\p{N}_-]*$`)
	for _, in := range inputs {
		once := Slugify(in)
		if twice := Slugify(once); twice != once {
			t.Errorf("Slugify not idempotent for %q: %q then %q", in, once, twice)
		}
		if !allowed.MatchString(once) {
			t.Errorf("Slugify(%q) = %q contains disallowed characters", in, once)
		}
		if once != strings.ToLower(once) {
			t.Errorf("Slugify(%q) = %q is not lower-case", in, once)
		}
		if strings.Contains(once, "--") || strings.HasPrefix(once, "-") || strings.HasSuffix(once, "-") {
			t.Errorf("Slugify(%q) = %q has stray hyphens", in, once)
		}
	}
}

func TestResolveExtension(t *testing.T) {
	tests := []struct {
		name, mime, want string
	}{
		{"photo.JPG", "image/jpeg", ".jpg"},
		{"photo.jpeg", "image/jpeg", ".jpeg"},
		{"photo.webp", "image/png", ".webp"},
		{"scan.heic", "image/png", ".png"},
		{"noext", "image/gif", ".gif"},
		{"noext", "application/octet-stream", ".jpg"},
		{"", "", ".jpg"},
	}
	for _, tt := range tests {
		if got := ResolveExtension(tt.name, tt.mime); got != tt.want {
			t.Errorf("ResolveExtension(%q, %q) = %q, want %q", tt.name, tt.mime, got, tt.want)
		}
	}
}

func TestLocalFilename(t *testing.T) {
	tests := []struct {
		name, mime, want string
	}{
		{"Thumbnail.JPG", "image/jpeg", "thumbnail.jpg"},
		{"Side View.png", "image/png", "side-view.png"},
		{"archive.tar.gz", "image/jpeg", "archivetar.jpg"},
		{"IMG_20240101.JPG", "image/jpeg", "img_20240101.jpg"},
		{"Café Stool.png", "image/png", "café-stool.png"},
	}
	for _, tt := range tests {
		if got := LocalFilename(tt.name, tt.mime); got != tt.want {
			t.Errorf("LocalFilename(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestDisambiguate(t *testing.T) {
	if got := Disambiguate("side.jpg", "1AbCdEfGhIjK"); got != "side-1abcdefg.jpg" {
		t.Errorf("Disambiguate = %q", got)
	}
	if got := Disambiguate(".png", "xyz"); got != "xyz.png" {
		t.Errorf("Disambiguate empty stem = %q", got)
	}
	if got := Disambiguate("a.jpg", "!!"); got != "a-item.jpg" {
		t.Errorf("Disambiguate empty id = %q", got)
	}
	if got := Disambiguate("a.jpg", "ÄÖÜäöüßéè"); got != "a-äöüäöüßé.jpg" {
		t.Errorf("Disambiguate multibyte id = %q", got)
	}
}

func TestIsThumbnail(t *testing.T) {
	for name, want := range map[string]bool{
		"thumbnail.jpg":    true,
		"THUMBNAIL.PNG":    true,
		"thumbnail":        false,
		"thumbnail-2.jpg":  false,
		"my-thumbnail.jpg": false,
	} {
		if got := IsThumbnail(name); got != want {
			t.Errorf("IsThumbnail(%q) = %v, want %v", name, got, want)
		}
	}
}
