package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/mall-resolver/internal/debug"
)

// AbbrevRules handles street abbreviation expansion in Latin-script addresses
type AbbrevRules struct {
	rules []abbrevRule
}

type abbrevRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// NewAbbrevRules creates the default abbreviation rules
func NewAbbrevRules() *AbbrevRules {
	defaults := []struct{ pattern, replacement string }{
		{`\bRD\b`, "ROAD"},
		{`\bST\b`, "STREET"},
		{`\bAVE\b`, "AVENUE"},
		{`\bBLVD\b`, "BOULEVARD"},
		{`\bDR\b`, "DRIVE"},
		{`\bSQ\b`, "SQUARE"},
		{`\bCTR\b`, "CENTER"},
		{`\bCENTRE\b`, "CENTER"},
		{`\bBLDG\b`, "BUILDING"},
		{`\bFL\b`, "FLOOR"},
	}

	rules := make([]abbrevRule, 0, len(defaults))
	for _, d := range defaults {
		rules = append(rules, abbrevRule{pattern: regexp.MustCompile(d.pattern), replacement: d.replacement})
	}
	return &AbbrevRules{rules: rules}
}

// Expand rewrites every abbreviation in upper-cased text to its long form
func (ar *AbbrevRules) Expand(text string) string {
	for _, rule := range ar.rules {
		text = rule.pattern.ReplaceAllString(text, rule.replacement)
	}
	return text
}

var defaultAbbrevRules = NewAbbrevRules()

// Floor and unit designations carry no information about which venue an address is in
var reFloorUnit = regexp.MustCompile(`\b(FLOOR|UNIT|SHOP|NO)\s*[0-9][0-9A-Z]*\b|[0-9]+(楼|层|F\b)|[A-Z]?[0-9]+号?铺`)

// CanonicalAddress normalizes a store address for search queries and token comparison
func CanonicalAddress(raw string) (addrCan string, tokens []string) {
	return CanonicalAddressDebug(false, raw)
}

// CanonicalAddressDebug is CanonicalAddress with localDebug tracing
func CanonicalAddressDebug(localDebug bool, raw string) (addrCan string, tokens []string) {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	if strings.TrimSpace(raw) == "" {
		return "", []string{}
	}

	s, _, err := transform.String(transform.Chain(width.Fold, norm.NFKC), raw)
	if err != nil {
		s = raw
	}
	s = strings.ToUpper(s)

	s = strings.Join(strings.Fields(strings.Map(keepAlnum, s)), " ")
	debug.DebugOutput(localDebug, "Stripped: %s", s)

	s = defaultAbbrevRules.Expand(s)
	s = reFloorUnit.ReplaceAllString(s, " ")

	tokens = strings.Fields(s)
	s = strings.Join(tokens, " ")
	debug.DebugOutput(localDebug, "Canonical: %s (%d tokens)", s, len(tokens))

	return s, tokens
}

// keepAlnum maps punctuation and symbols to spaces
func keepAlnum(r rune) rune {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return r
	}
	return ' '
}

// IsBlank reports whether nothing is left of an address after normalization
func IsBlank(addr string) bool {
	canonical, _ := CanonicalAddress(addr)
	return canonical == ""
}
