package normalize

import (
	"testing"
)

func TestRegionCode(t *testing.T) {
	tests := []struct {
		raw   string
		level Level
		want  string
	}{
		{"330100", City, "330100"},
		{"3301", City, "330100"},
		{"330106", City, "330100"},
		{"330106", District, "330106"},
		{"330100.0", City, "330100"},
		{"33", Province, "330000"},
		{"33", City, ""},
		{"", District, ""},
		{"abc", City, ""},
		{"000000", District, ""},
		{" 330106 ", District, "330106"},
	}

	for _, tt := range tests {
		t.Run(tt.level.String()+"/"+tt.raw, func(t *testing.T) {
			if got := RegionCode(tt.raw, tt.level); got != tt.want {
				t.Errorf("RegionCode(%q, %v) = %q, want %q", tt.raw, tt.level, got, tt.want)
			}
		})
	}
}
