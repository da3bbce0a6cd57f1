// Package naming maps remote display names to stable local file names.
package naming

import (
	"path"
	"regexp"
	"strings"
)

// DefaultExtension is used when neither the name nor the content-type
// identify a web image format.
const DefaultExtension = ".jpg"

// webExtensions are the extensions kept verbatim from a remote name.
var webExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// mimeExtensions maps recognized image content-types to extensions.
var mimeExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

var (
	unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	separators  = regexp.MustCompile(`[\s-]+`)
)

// Slugify lower-cases text, drops everything except word characters
// (Unicode letters, digits and underscore), whitespace and hyphens,
// collapses whitespace and hyphen runs into one hyphen and trims hyphens
// from both ends. Slugify(Slugify(s)) == Slugify(s).
func Slugify(text string) string {
	s := strings.ToLower(text)
	s = unsafeChars.ReplaceAllString(s, "")
	s = separators.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ResolveExtension returns the local extension for a remote image.
func ResolveExtension(filename, mimeType string) string {
	ext := strings.ToLower(path.Ext(filename))
	if webExtensions[ext] {
		return ext
	}
	if ext, ok := mimeExtensions[mimeType]; ok {
		return ext
	}
	return DefaultExtension
}

// Stem returns filename without its final extension.
func Stem(filename string) string {
	return strings.TrimSuffix(filename, path.Ext(filename))
}

// LocalFilename is the slugified stem plus the resolved extension.
func LocalFilename(filename, mimeType string) string {
	return Slugify(Stem(filename)) + ResolveExtension(filename, mimeType)
}

// Disambiguate derives an alternative name for filename from the remote
// identity, used when two items of one project normalize to the same name
// or a name slugifies to nothing.
func Disambiguate(filename, id string) string {
	suffix := Slugify(id)
	if r := []rune(suffix); len(r) > 8 {
		suffix = string(r[:8])
	}
	if suffix == "" {
		suffix = "item"
	}
	ext := path.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	if stem == "" {
		return suffix + ext
	}
	return stem + "-" + suffix + ext
}

// IsThumbnail reports whether a local filename marks the project thumbnail.
func IsThumbnail(filename string) bool {
	return strings.EqualFold(Stem(filename), "thumbnail") && path.Ext(filename) != ""
}

// IsImageMime reports whether mimeType is a recognized image content-type.
func IsImageMime(mimeType string) bool {
	_, ok := mimeExtensions[mimeType]
	return ok
}

// ImageMimeTypes returns the recognized image content-types in a fixed order.
func ImageMimeTypes() []string {
	return []string{"image/jpeg", "image/png", "image/gif", "image/webp"}
}

// MimeForExtension maps a web image extension back to its content-type.
// Unknown extensions return "".
func MimeForExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}
	return ""
}
