package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "starlight", "starlight", 100},
		{"empty left", "", "starlight", 0},
		{"empty both", "", "", 0},
		{"disjoint", "abc", "xyz", 0},
		{"one substitution", "abcd", "abce", 75},
		{"embedded name", "starlight", "starlightplaza", 100},
		{"embedded cjk", "万达", "杭州万达", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 0.01)
		})
	}
}

func TestNameSimilarity(t *testing.T) {
	assert.InDelta(t, 100, NameSimilarity("Starlight Shopping Plaza", "Starlight Plaza"), 0.01)
	assert.Less(t, NameSimilarity("Starlight Plaza", "Oceanview Center"), 50.0)
}

func TestSimilarityProperties(t *testing.T) {
	chars := rapid.SampledFrom([]rune("abcde万达"))
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.StringOfN(chars, 0, 12, -1).Draw(t, "a")
		b := rapid.StringOfN(chars, 0, 12, -1).Draw(t, "b")

		ab := Similarity(a, b)
		if ab < 0 || ab > 100 {
			t.Fatalf("similarity out of range: %v", ab)
		}
		if ba := Similarity(b, a); ab != ba {
			t.Fatalf("asymmetric similarity %q %q: %v vs %v", a, b, ab, ba)
		}
		if a != "" && Similarity(a, a) != 100 {
			t.Fatalf("self similarity of %q is not 100", a)
		}
	})
}
