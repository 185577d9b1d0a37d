package poi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mall-resolver/internal/geo"
)

const placeResponse = `{
  "status": "1", "info": "OK", "infocode": "10000", "count": "2",
  "pois": [
    {"id": "B0FFG1", "name": "银泰城", "type": "购物服务;商场;购物中心",
     "address": "文一西路588号", "location": "120.012345,30.284321",
     "cityname": "杭州市", "adcode": "330106"},
    {"id": "B0FFG2", "name": "Nike Store", "type": "购物服务",
     "address": [], "location": "", "cityname": [], "adcode": []}
  ]
}`

func TestAMapSearch(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = w.Write([]byte(placeResponse))
	}))
	defer srv.Close()

	client, err := NewAMapClient(AMapConfig{BaseURL: srv.URL, Key: "k", RatePerSecond: 1000})
	require.NoError(t, err)

	pois, err := client.Search(context.Background(), "Nike 文一西路", "330100")
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "/place/text", got.URL.Path)
	assert.Equal(t, "Nike 文一西路", got.URL.Query().Get("keywords"))
	assert.Equal(t, "330100", got.URL.Query().Get("city"))
	assert.Equal(t, "true", got.URL.Query().Get("citylimit"))
	assert.Equal(t, "k", got.URL.Query().Get("key"))

	require.Len(t, pois, 2)
	assert.Equal(t, "银泰城", pois[0].Name)
	assert.Equal(t, "文一西路588号", pois[0].Address)
	assert.Equal(t, &geo.Point{Lat: 30.284321, Lng: 120.012345}, pois[0].Location)
	assert.Equal(t, "", pois[1].Address)
	assert.Nil(t, pois[1].Location)
}

func TestAMapErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"api status", http.StatusOK, `{"status": "0", "info": "INVALID_USER_KEY", "infocode": "10001"}`},
		{"http status", http.StatusServiceUnavailable, ``},
		{"bad json", http.StatusOK, `{"status":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, err := NewAMapClient(AMapConfig{BaseURL: srv.URL, Key: "k", RatePerSecond: 1000})
			require.NoError(t, err)
			_, err = client.Search(context.Background(), "query", "")
			assert.Error(t, err)
		})
	}
}

func TestNewAMapClientNeedsKey(t *testing.T) {
	_, err := NewAMapClient(AMapConfig{})
	assert.Error(t, err)
}

func TestParseLocation(t *testing.T) {
	assert.Equal(t, &geo.Point{Lat: 30.5, Lng: 120.25}, parseLocation("120.25,30.5"))
	assert.Nil(t, parseLocation(""))
	assert.Nil(t, parseLocation("abc,30"))
	assert.Nil(t, parseLocation("-74.0,40.7"))
}
