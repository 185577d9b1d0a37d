package normalize

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// Extractor is a fallback venue extractor consulted when the keyword rules find nothing
type Extractor func(text string) (string, bool)

var (
	extractorsMu sync.RWMutex
	extractors   []Extractor
)

// RegisterExtractor adds a fallback extractor. Extractors run in registration order.
func RegisterExtractor(e Extractor) {
	extractorsMu.Lock()
	defer extractorsMu.Unlock()
	extractors = append(extractors, e)
}

const venueSeparators = ",，()（）-—|/·#、;；"

// maxVenueWords caps how many name words precede a Latin venue keyword
const maxVenueWords = 4

var latinVenueKeywords = map[string]bool{
	"plaza": true, "mall": true, "center": true, "centre": true, "square": true,
	"outlets": true, "outlet": true, "galleria": true, "city": true,
}

// Words that cannot name a venue on their own
var genericVenueWords = map[string]bool{
	"shopping": true, "the": true, "store": true, "shop": true, "new": true,
	"plaza": true, "mall": true, "center": true, "centre": true, "square": true,
	"outlets": true, "outlet": true, "galleria": true, "city": true,
}

// Longest first so 购物中心 is preferred over 中心
var cjkVenueKeywords = []string{
	"奥特莱斯", "购物中心", "购物广场", "购物公园",
	"广场", "商场", "商城", "百货", "中心", "天地", "城",
}

// Administrative and street markers; a venue core starts after the last one
const adminMarkers = "省市区县路街道号"

// ExtractVenueToken pulls the venue part out of a store name or address, e.g.
// "Starlight Shopping Plaza" from "Starlight Shopping Plaza Store #3" or
// "万达广场" from "杭州市西湖区文三路万达广场店". The name is tried before the address.
func ExtractVenueToken(name, address string) (string, bool) {
	for _, text := range []string{name, address} {
		if token, ok := extractFromText(text); ok {
			return token, true
		}
	}

	extractorsMu.RLock()
	fallbacks := append([]Extractor(nil), extractors...)
	extractorsMu.RUnlock()

	for _, e := range fallbacks {
		for _, text := range []string{name, address} {
			if strings.TrimSpace(text) == "" {
				continue
			}
			if token, ok := e(text); ok && strings.TrimSpace(token) != "" {
				return strings.TrimSpace(token), true
			}
		}
	}

	return "", false
}

func extractFromText(text string) (string, bool) {
	for _, segment := range splitSegments(text) {
		var token string
		var ok bool
		if containsHan(segment) {
			token, ok = extractCJK(segment)
		} else {
			token, ok = extractLatin(segment)
		}
		if ok {
			return token, true
		}
	}
	return "", false
}

func splitSegments(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return strings.ContainsRune(venueSeparators, r)
	})

	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}

func containsHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

func extractLatin(segment string) (string, bool) {
	words := strings.Fields(segment)

	keyword := -1
	for i := len(words) - 1; i >= 0; i-- {
		if latinVenueKeywords[strings.ToLower(words[i])] {
			keyword = i
			break
		}
	}
	if keyword < 0 {
		return "", false
	}

	start := keyword
	for start > 0 && keyword-start < maxVenueWords && isAlphaWord(words[start-1]) {
		start--
	}

	picked := words[start : keyword+1]
	for _, w := range picked {
		if !genericVenueWords[strings.ToLower(w)] {
			return strings.Join(picked, " "), true
		}
	}
	return "", false
}

func isAlphaWord(w string) bool {
	for _, r := range w {
		if !unicode.IsLetter(r) && r != '\'' {
			return false
		}
	}
	return w != ""
}

func extractCJK(segment string) (string, bool) {
	for _, kw := range cjkVenueKeywords {
		idx := strings.LastIndex(segment, kw)
		if idx < 0 {
			continue
		}

		core := segment[:idx]
		if cut := strings.LastIndexAny(core, adminMarkers); cut >= 0 {
			_, size := utf8.DecodeRuneInString(core[cut:])
			core = core[cut+size:]
		}
		core = strings.TrimSpace(core)

		if utf8.RuneCountInString(core) >= 2 {
			return core + kw, true
		}
	}
	return "", false
}
