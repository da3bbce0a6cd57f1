package dates

import (
	"testing"

	"github.com/fruitsalade/gallerysync/internal/remote"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		item remote.Item
		want string
	}{
		{
			name: "created time wins over name",
			item: remote.Item{CreatedTime: "2023-05-01T00:00:00Z", Name: "IMG_20240101.jpg"},
			want: "2023-05-01",
		},
		{
			name: "name pattern",
			item: remote.Item{Name: "IMG_20240101_120000.jpg"},
			want: "2024-01-01",
		},
		{
			name: "first eight digit run",
			item: remote.Item{Name: "shot-2021031599.png"},
			want: "2021-03-15",
		},
		{
			name: "seven digits is not a date",
			item: remote.Item{Name: "bowl-1234567.jpg"},
			want: Epoch,
		},
		{
			name: "nothing",
			item: remote.Item{Name: "bowl.jpg"},
			want: Epoch,
		},
		{
			name: "short created time kept",
			item: remote.Item{CreatedTime: "2022-07"},
			want: "2022-07",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.item); got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMonth(t *testing.T) {
	if got := Month("2024-02-01"); got != "2024-02" {
		t.Errorf("Month = %q", got)
	}
	if got := Month("2024"); got != "2024" {
		t.Errorf("Month short = %q", got)
	}
}

func TestTimestamp(t *testing.T) {
	if got := Timestamp(remote.Item{}); got != EpochTimestamp {
		t.Errorf("Timestamp empty = %q", got)
	}
	ts := "2024-02-01T10:30:00.000Z"
	if got := Timestamp(remote.Item{CreatedTime: ts}); got != ts {
		t.Errorf("Timestamp = %q", got)
	}
}
