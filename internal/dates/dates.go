// Package dates derives comparable dates for remote images.
package dates

import (
	"regexp"

	"github.com/fruitsalade/gallerysync/internal/remote"
)

const (
	// Epoch is the date of items that carry no usable date.
	Epoch = "1970-01-01"

	// EpochTimestamp is the manifest timestamp of items without a created time.
	EpochTimestamp = "1970-01-01T00:00:00.000Z"
)

var nameDate = regexp.MustCompile(`(\d{4})(\d{2})(\d{2})`)

// Resolve returns the item's date as YYYY-MM-DD. The created timestamp
// wins over a date embedded in the name, which wins over Epoch.
func Resolve(item remote.Item) string {
	if item.CreatedTime != "" {
		if len(item.CreatedTime) > 10 {
			return item.CreatedTime[:10]
		}
		return item.CreatedTime
	}

	if m := nameDate.FindStringSubmatch(item.Name); m != nil {
		return m[1] + "-" + m[2] + "-" + m[3]
	}

	return Epoch
}

// Month truncates a YYYY-MM-DD date to YYYY-MM.
func Month(date string) string {
	if len(date) > 7 {
		return date[:7]
	}
	return date
}

// Timestamp returns the value recorded for an image in the manifest.
func Timestamp(item remote.Item) string {
	if item.CreatedTime != "" {
		return item.CreatedTime
	}
	return EpochTimestamp
}
