package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractVenueToken(t *testing.T) {
	tests := []struct {
		name    string
		store   string
		address string
		want    string
		wantOK  bool
	}{
		{"latin store suffix", "Starlight Shopping Plaza Store #3", "", "Starlight Shopping Plaza", true},
		{"latin after separator", "Nike - Oceanview Center", "", "Oceanview Center", true},
		{"latin in parentheses", "Nike (Harbour City)", "", "Harbour City", true},
		{"unit number stops walk back", "Unit 5 Starlight Plaza", "", "Starlight Plaza", true},
		{"generic words only", "Shopping Mall", "", "", false},
		{"chinese with admin prefix", "杭州市西湖区文三路万达广场店", "", "万达广场", true},
		{"chinese long keyword", "星光购物中心一楼", "", "星光购物中心", true},
		{"core too short", "市广场", "", "", false},
		{"falls back to address", "Nike", "12 Harbour Road, Oceanview Center", "Oceanview Center", true},
		{"nothing to find", "Nike", "12 Harbour Road", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractVenueToken(tt.store, tt.address)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
