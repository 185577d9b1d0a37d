package normalize

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// genericSuffixes are venue-type words dropped from the end of a folded name.
// Entries are already folded (lower case, no spaces).
var genericSuffixes = []string{
	"shoppingcenter", "shoppingcentre", "shoppingmall", "shoppingplaza",
	"plaza", "mall", "center", "centre", "city", "square",
	"购物中心", "购物广场", "购物公园",
	"广场", "商场", "商城", "百货", "中心", "天地", "城",
}

func init() {
	// Longest first so "shoppingcenter" wins over "center"
	sort.SliceStable(genericSuffixes, func(i, j int) bool {
		return utf8.RuneCountInString(genericSuffixes[i]) > utf8.RuneCountInString(genericSuffixes[j])
	})
}

// maxFoldPasses bounds the fixed-point loop in CanonicalName
const maxFoldPasses = 4

// CanonicalName folds full-width forms, applies NFKC, lower-cases and keeps only
// letters and digits. It does not drop venue-type suffixes.
func CanonicalName(text string) string {
	s := text
	for i := 0; i < maxFoldPasses; i++ {
		next := foldOnce(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func foldOnce(s string) string {
	folded, _, err := transform.String(transform.Chain(width.Fold, norm.NFKC), s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	kept, _, err := transform.String(runes.Remove(runes.Predicate(isNoise)), folded)
	if err != nil {
		return folded
	}
	return kept
}

func isNoise(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// NormalizeName reduces a store or mall name to the form used for comparison:
// CanonicalName with generic venue suffixes removed from the end for as long as
// something remains. NormalizeName(NormalizeName(x)) == NormalizeName(x).
func NormalizeName(text string) string {
	return stripSuffixes(CanonicalName(text))
}

func stripSuffixes(s string) string {
	for {
		stripped := false
		for _, suffix := range genericSuffixes {
			if len(s) > len(suffix) && strings.HasSuffix(s, suffix) {
				s = strings.TrimSuffix(s, suffix)
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}
