package normalize

import (
	"strings"
	"unicode"
)

// Level is an administrative level of a region code
type Level int

const (
	Province Level = iota
	City
	District
)

// regionCodeWidth is the fixed width of every administrative code
const regionCodeWidth = 6

func (l Level) significant() int {
	switch l {
	case Province:
		return 2
	case City:
		return 4
	default:
		return 6
	}
}

func (l Level) String() string {
	switch l {
	case Province:
		return "province"
	case City:
		return "city"
	default:
		return "district"
	}
}

// RegionCode normalizes a raw administrative code to six digits for the given
// level: province PP0000, city PPCC00, district PPCCDD. Input without enough
// digits for the level, or all zeros, yields "".
func RegionCode(raw string, level Level) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		// "330100.0" from spreadsheet exports
		raw = raw[:i]
	}

	var digits strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) && r < unicode.MaxLatin1 {
			digits.WriteRune(r)
		}
	}

	d := digits.String()
	sig := level.significant()
	if len(d) < sig {
		return ""
	}

	code := d[:sig] + strings.Repeat("0", regionCodeWidth-sig)
	if strings.Trim(code, "0") == "" {
		return ""
	}
	return code
}
