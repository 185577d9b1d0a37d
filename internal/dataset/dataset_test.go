package dataset

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mall-resolver/internal/geo"
	"github.com/mall-resolver/internal/match"
	"github.com/mall-resolver/internal/models"
)

const storesCSV = `store_id,brand,name,address,category,province_code,city_code,district_code,lat,lng,mall_id,distance_km,inactive
S1,Nike,Nike 西溪银泰城店,文一西路588号,Sportswear,330000,330100,330106.0,30.2843,120.0123,,,
S2,Puma,Puma,,,,330106,,abc,120,,,
,Adidas,Adidas,,,,,,,,,,
S1,Nike,Nike duplicate,,,,,,,,,,
S3,Lego,Lego,,Toys,,,,-33.8,151.2,M1,0.25,true
`

const mallsCSV = `mall_id,name,original_name,province_code,city_code,district_code,lat,lng,store_count
M1,西溪银泰城,,33,3301,330106,30.2843,120.0123,7
M2,Starlight Plaza,Starlight Shopping Plaza,,,,,,
`

func TestReadStores(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/stores.csv", []byte(storesCSV), 0o644))

	stores, rowErrs, err := ReadStores(fs, "/data/stores.csv")
	require.NoError(t, err)
	require.Len(t, stores, 3)

	s1 := stores[0]
	assert.Equal(t, "S1", s1.ID)
	assert.Equal(t, "Nike 西溪银泰城店", s1.Name)
	assert.Equal(t, models.RegionCodes{Province: "330000", City: "330100", District: "330106"}, s1.Region)
	assert.Equal(t, &geo.Point{Lat: 30.2843, Lng: 120.0123}, s1.Location)
	assert.Nil(t, s1.DistanceKm)

	s2 := stores[1]
	assert.Equal(t, "330100", s2.Region.City)
	assert.Nil(t, s2.Location)

	s3 := stores[2]
	assert.Nil(t, s3.Location, "coordinates outside the bounds are dropped")
	assert.Equal(t, "M1", s3.MallID)
	assert.True(t, s3.Inactive)
	require.NotNil(t, s3.DistanceKm)
	assert.Equal(t, 0.25, *s3.DistanceKm)

	require.Len(t, rowErrs, 4)
	assert.Equal(t, 3, rowErrs[0].Line)
	assert.Equal(t, "S2", rowErrs[0].ID)
	assert.Equal(t, 4, rowErrs[1].Line)
	assert.Contains(t, rowErrs[1].Error(), "missing store_id")
	assert.Contains(t, rowErrs[2].Error(), "duplicate store_id")
	assert.Equal(t, "S3", rowErrs[3].ID)
}

func TestReadMalls(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "malls.csv", []byte(mallsCSV), 0o644))

	malls, rowErrs, err := ReadMalls(fs, "malls.csv")
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, malls, 2)

	assert.Equal(t, "西溪银泰城", malls[0].OriginalName)
	assert.Equal(t, models.RegionCodes{Province: "330000", City: "330100", District: "330106"}, malls[0].Region)
	assert.Equal(t, 0, malls[0].StoreCount, "store counts are derived, never loaded")
	assert.Equal(t, "Starlight Shopping Plaza", malls[1].OriginalName)
	assert.Nil(t, malls[1].Location)
}

func TestReadMissingAndEmptyFiles(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, _, err := ReadStores(fs, "nope.csv")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "empty.csv", nil, 0o644))
	malls, rowErrs, err := ReadMalls(fs, "empty.csv")
	require.NoError(t, err)
	assert.Empty(t, malls)
	assert.Empty(t, rowErrs)
}

func TestWriteAndReadBack(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := 0.0735
	stores := []*models.Store{
		{ID: "S1", Name: "Nike", Region: models.RegionCodes{City: "330100"}, Location: &geo.Point{Lat: 30, Lng: 120}, MallID: "M1", DistanceKm: &d},
		{ID: "S2", Name: "Puma, Inc", Inactive: true},
	}
	malls := []*models.Mall{
		{ID: "M1", Name: "Starlight Plaza", OriginalName: "Starlight Plaza", Location: &geo.Point{Lat: 30.0005, Lng: 120.0005}, StoreCount: 1},
	}

	require.NoError(t, WriteStores(fs, "out/stores.csv", stores))
	require.NoError(t, WriteMalls(fs, "out/malls.csv", malls))

	gotStores, rowErrs, err := ReadStores(fs, "out/stores.csv")
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	assert.Equal(t, stores, gotStores)

	raw, err := afero.ReadFile(fs, "out/malls.csv")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "M1,Starlight Plaza,Starlight Plaza,,,,30.000500,120.000500,1")

	exists, err := afero.Exists(fs, "out/malls.csv.tmp")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWriteReview(t *testing.T) {
	items := []match.QueueItem{
		{
			Store:  &models.Store{ID: "S1"},
			Tier:   match.TierMedium,
			Reason: match.ReasonMediumConfident,
			Candidates: []match.Candidate{
				{MallID: "M1", MallName: "Starlight Plaza", DistanceKm: 0.9456, NameSimilarity: 100, Tier: match.TierMedium, Reason: match.ReasonMediumConfident},
				{MallID: "M2", MallName: "Riverside Mall", DistanceKm: 1.5, NameSimilarity: 12.34, Tier: match.TierLow},
			},
		},
		{Store: &models.Store{ID: "S2"}, Tier: match.TierLow, Reason: match.ReasonNoCoordinates},
	}

	fs := afero.NewMemMapFs()
	require.NoError(t, WriteReview(fs, "review_medium.csv", items))
	raw, err := afero.ReadFile(fs, "review_medium.csv")
	require.NoError(t, err)

	want := "store_id,candidate_mall_id,candidate_mall_name,distance_km,name_similarity,confidence_tier,reason\n" +
		"S1,M1,Starlight Plaza,0.9456,100.0,medium,medium_confidence\n" +
		"S1,M2,Riverside Mall,1.5000,12.3,low,medium_confidence\n" +
		"S2,,,,,low,no_coordinates\n"
	assert.Equal(t, want, string(raw))

	var buf bytes.Buffer
	require.NoError(t, MarshalReview(items, &buf))
	assert.Equal(t, want, buf.String())
}

func TestReadLabels(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "labels.csv", []byte("store_id,mall_id\nS1,M1\nS2,\n,M3\n"), 0o644))

	labels, err := ReadLabels(fs, "labels.csv")
	require.NoError(t, err)
	assert.Equal(t, []match.Label{{StoreID: "S1", MallID: "M1"}, {StoreID: "S2"}}, labels)
}
