package poi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mall-resolver/internal/geo"
)

const (
	defaultAMapURL = "https://restapi.amap.com/v3"
	defaultPerPage = 20

	// AMap's free tier allows a few queries per second per key
	defaultRateLimit = 3
)

// AMapConfig configures the AMap place-search client
type AMapConfig struct {
	BaseURL       string
	Key           string
	PerPage       int
	RatePerSecond float64
	Timeout       time.Duration
}

// AMapClient implements Searcher against the AMap place/text endpoint
type AMapClient struct {
	config  AMapConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewAMapClient creates a client. A key is required.
func NewAMapClient(config AMapConfig) (*AMapClient, error) {
	if config.Key == "" {
		return nil, errors.New("amap key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultAMapURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.PerPage <= 0 {
		config.PerPage = defaultPerPage
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = defaultRateLimit
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &AMapClient{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), 1),
	}, nil
}

type amapResponse struct {
	Status   string    `json:"status"`
	Info     string    `json:"info"`
	InfoCode string    `json:"infocode"`
	Count    string    `json:"count"`
	POIs     []amapPOI `json:"pois"`
}

type amapPOI struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	Address  flexString `json:"address"`
	Location flexString `json:"location"`
	CityName flexString `json:"cityname"`
	AdCode   flexString `json:"adcode"`
}

// flexString accepts a JSON string or the empty array AMap sends for missing values
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		var parts []string
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*f = flexString(strings.Join(parts, ""))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexString(s)
	return nil
}

// Search queries place/text for query, limited to cityHint when given
func (c *AMapClient) Search(ctx context.Context, query, cityHint string) ([]POI, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("empty query")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	searchURL, err := c.buildSearchURL(query, cityHint)
	if err != nil {
		return nil, fmt.Errorf("failed to build search URL: %w", err)
	}
	log.Debug().Str("query", query).Str("city", cityHint).Msg("AMap place search")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("amap HTTP error %d", resp.StatusCode)
	}

	var apiResp amapResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if apiResp.Status != "1" {
		return nil, fmt.Errorf("amap API error: %s (code %s)", apiResp.Info, apiResp.InfoCode)
	}

	results := make([]POI, 0, len(apiResp.POIs))
	for _, p := range apiResp.POIs {
		results = append(results, POI{
			ID:       p.ID,
			Name:     p.Name,
			Address:  string(p.Address),
			Type:     p.Type,
			AdCode:   string(p.AdCode),
			CityName: string(p.CityName),
			Location: parseLocation(string(p.Location)),
		})
	}
	return results, nil
}

func (c *AMapClient) buildSearchURL(query, cityHint string) (string, error) {
	u, err := url.Parse(c.config.BaseURL + "/place/text")
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("key", c.config.Key)
	params.Set("keywords", query)
	params.Set("offset", strconv.Itoa(c.config.PerPage))
	params.Set("page", "1")
	params.Set("extensions", "base")
	if cityHint != "" {
		params.Set("city", cityHint)
		params.Set("citylimit", "true")
	}

	u.RawQuery = params.Encode()
	return u.String(), nil
}

// parseLocation reads AMap's "lng,lat" form and drops coordinates out of bounds
func parseLocation(s string) *geo.Point {
	lngStr, latStr, ok := strings.Cut(s, ",")
	if !ok {
		return nil
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return nil
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return nil
	}
	p, err := geo.NewPoint(lat, lng)
	if err != nil {
		return nil
	}
	return &p
}
