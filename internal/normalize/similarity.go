package normalize

import (
	"github.com/hbollon/go-edlib"
)

// Similarity scores two strings on [0,100]. The score is the larger of the
// Levenshtein ratio over the whole strings and the best ratio of the shorter
// string against any equal-length window of the longer one, so a short name
// embedded in a longer one still scores high.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}

	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}

	best := ratio(string(ra), string(rb), len(rb))

	// Single runes match too easily as substrings
	if len(ra) >= 2 && len(ra) < len(rb) {
		short := string(ra)
		for start := 0; start+len(ra) <= len(rb); start++ {
			window := string(rb[start : start+len(ra)])
			if r := ratio(short, window, len(ra)); r > best {
				best = r
				if best == 100 {
					break
				}
			}
		}
	}

	return best
}

func ratio(a, b string, maxLen int) float64 {
	if maxLen == 0 {
		return 0
	}
	dist := edlib.LevenshteinDistance(a, b)
	r := 1 - float64(dist)/float64(maxLen)
	if r < 0 {
		return 0
	}
	return r * 100
}

// NameSimilarity normalizes both names before scoring them
func NameSimilarity(a, b string) float64 {
	return Similarity(NormalizeName(a), NormalizeName(b))
}
