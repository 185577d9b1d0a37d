package match

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mall-resolver/internal/catalog"
	"github.com/mall-resolver/internal/geo"
	"github.com/mall-resolver/internal/models"
)

const hangzhou = "330100"

func pt(lat, lng float64) *geo.Point {
	return &geo.Point{Lat: lat, Lng: lng}
}

func mall(id, name, city string, lat, lng float64) *models.Mall {
	return &models.Mall{ID: id, Name: name, Region: models.RegionCodes{City: city}, Location: pt(lat, lng)}
}

func store(id, name, city string, lat, lng float64) *models.Store {
	return &models.Store{ID: id, Name: name, Region: models.RegionCodes{City: city}, Location: pt(lat, lng)}
}

func newCatalog(t *testing.T, stores []*models.Store, malls []*models.Mall) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(stores, malls)
	require.NoError(t, err)
	return c
}

// stubAdjudicator answers from a function and counts calls
type stubAdjudicator struct {
	calls int
	fn    func(req Request) (Decision, error)
}

func (s *stubAdjudicator) Adjudicate(_ context.Context, req Request) (Decision, error) {
	s.calls++
	return s.fn(req)
}

func acceptFirst() *stubAdjudicator {
	return &stubAdjudicator{fn: func(req Request) (Decision, error) {
		return Decision{Verdict: VerdictAccept, MallID: req.Candidates[0].MallID, Confidence: TierHigh, Source: "stub"}, nil
	}}
}

func rejectAll() *stubAdjudicator {
	return &stubAdjudicator{fn: func(Request) (Decision, error) {
		return Decision{Verdict: VerdictNone, Confidence: TierHigh, Source: "stub"}, nil
	}}
}

type recorderStub struct {
	decisions []Decision
}

func (r *recorderStub) RecordDecision(_ context.Context, _ string, _ Request, dec Decision) error {
	r.decisions = append(r.decisions, dec)
	return nil
}

func newCatalogT(stores []*models.Store, malls []*models.Mall) (*catalog.Catalog, error) {
	return catalog.New(stores, malls)
}
