package poi

import (
	"context"

	"github.com/mall-resolver/internal/geo"
)

// POI is one place returned by a search provider
type POI struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Address  string     `json:"address"`
	Type     string     `json:"type"`
	AdCode   string     `json:"adcode"`
	CityName string     `json:"city_name"`
	Location *geo.Point `json:"location,omitempty"`
}

// Searcher looks up places by free text, optionally restricted to a city
type Searcher interface {
	Search(ctx context.Context, query, cityHint string) ([]POI, error)
}
