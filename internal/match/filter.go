package match

import (
	"strings"

	"github.com/mall-resolver/internal/models"
	"github.com/mall-resolver/internal/normalize"
)

// CategoryFilter excludes stores that are not mall-type locations. Category
// names compare case-insensitively; name keywords compare on canonical names.
type CategoryFilter struct {
	AllowCategories  []string // when non-empty, only these categories are matched
	DenyCategories   []string
	DenyNameKeywords []string // e.g. "airport", "机场", "outlet store"
}

// Excluded reports whether the store should skip matching and why
func (f *CategoryFilter) Excluded(store *models.Store) (bool, string) {
	if f == nil {
		return false, ""
	}

	category := strings.TrimSpace(store.Category)
	if len(f.AllowCategories) > 0 && !containsFold(f.AllowCategories, category) {
		return true, "category_not_allowed:" + category
	}
	if containsFold(f.DenyCategories, category) {
		return true, "category_denied:" + category
	}

	name := normalize.CanonicalName(store.Name)
	for _, kw := range f.DenyNameKeywords {
		if k := normalize.CanonicalName(kw); k != "" && strings.Contains(name, k) {
			return true, "name_keyword:" + kw
		}
	}

	return false, ""
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), s) {
			return true
		}
	}
	return false
}
