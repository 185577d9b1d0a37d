//go:build libpostal

package normalize

import (
	postal "github.com/openvenues/gopostal/parser"
)

func init() {
	RegisterExtractor(postalHouse)
}

// postalHouse returns the libpostal "house" component, which is where venue
// names such as "Starlight Plaza" land when the address parser recognises them
func postalHouse(text string) (string, bool) {
	for _, component := range postal.ParseAddress(text) {
		if component.Label == "house" && component.Value != "" {
			return component.Value, true
		}
	}
	return "", false
}
