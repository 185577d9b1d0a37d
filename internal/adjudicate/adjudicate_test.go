package adjudicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mall-resolver/internal/catalog"
	"github.com/mall-resolver/internal/decisions"
	"github.com/mall-resolver/internal/geo"
	"github.com/mall-resolver/internal/match"
	"github.com/mall-resolver/internal/models"
	"github.com/mall-resolver/internal/resilience"
)

func request() match.Request {
	return match.Request{
		Store: &models.Store{ID: "S1", Name: "Adidas Starlight Plaza", Address: "1 Harbour Rd", Location: &geo.Point{Lat: 30, Lng: 120}},
		Tier:  match.TierMedium,
		Candidates: []match.Candidate{
			{MallID: "M1", MallName: "Starlight Plaza", DistanceKm: 0.8, NameSimilarity: 100, Tier: match.TierMedium},
			{MallID: "M2", MallName: "Riverside Mall", DistanceKm: 1.2, NameSimilarity: 20, Tier: match.TierLow},
		},
	}
}

func TestConsole(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    match.Decision
		wantErr error
	}{
		{
			name:  "accept number",
			input: "2\n",
			want:  match.Decision{Verdict: match.VerdictAccept, MallID: "M2", Confidence: match.TierHigh, Reason: "manual_review", Source: "console:alice"},
		},
		{
			name:  "invalid then accept",
			input: "7\nfoo\n1\n",
			want:  match.Decision{Verdict: match.VerdictAccept, MallID: "M1", Confidence: match.TierHigh, Reason: "manual_review", Source: "console:alice"},
		},
		{
			name:  "reject with notes",
			input: "r\nstreet shop\n",
			want:  match.Decision{Verdict: match.VerdictNone, Confidence: match.TierHigh, Reason: "street shop", Source: "console:alice"},
		},
		{
			name:  "search again",
			input: "s Starlight Plaza\n",
			want:  match.Decision{Verdict: match.VerdictResearch, Name: "Starlight Plaza", Confidence: match.TierHigh, Source: "console:alice"},
		},
		{
			name:  "search needs a name",
			input: "s\nn Harbour City\n",
			want:  match.Decision{Verdict: match.VerdictNewVenue, Name: "Harbour City", Confidence: match.TierHigh, Source: "console:alice"},
		},
		{
			name:  "last line without newline",
			input: "1",
			want:  match.Decision{Verdict: match.VerdictAccept, MallID: "M1", Confidence: match.TierHigh, Reason: "manual_review", Source: "console:alice"},
		},
		{name: "quit", input: "q\n", wantErr: match.ErrStopAdjudication},
		{name: "end of input", input: "", wantErr: match.ErrStopAdjudication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			c := NewConsole(strings.NewReader(tt.input), &out, "alice")

			got, err := c.Adjudicate(context.Background(), request())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Starlight Plaza (M1)")
		})
	}
}

func llmServer(t *testing.T, status int, content string) (*httptest.Server, *openai.ChatCompletionRequest) {
	t.Helper()
	var received openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": http.StatusText(status), "type": "invalid_request_error"},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &received
}

func TestLLM(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		content   string
		want      match.Decision
		wantErr   bool
		permanent bool
	}{
		{
			name:    "accept",
			status:  http.StatusOK,
			content: `{"mall_id": "M1", "confidence": "high", "reason": "name matches"}`,
			want:    match.Decision{Verdict: match.VerdictAccept, MallID: "M1", Confidence: match.TierHigh, Reason: "name matches", Source: "llm"},
		},
		{
			name:    "none in code fence",
			status:  http.StatusOK,
			content: "```json\n{\"mall_id\": \"none\", \"confidence\": \"Medium\", \"reason\": \"street shop\"}\n```",
			want:    match.Decision{Verdict: match.VerdictNone, Confidence: match.TierMedium, Reason: "street shop", Source: "llm"},
		},
		{name: "not json", status: http.StatusOK, content: "I think M1", wantErr: true},
		{name: "unknown confidence", status: http.StatusOK, content: `{"mall_id": "M1", "confidence": "sure"}`, wantErr: true},
		{name: "id outside candidates", status: http.StatusOK, content: `{"mall_id": "M9", "confidence": "high"}`, wantErr: true},
		{name: "empty id", status: http.StatusOK, content: `{"mall_id": "", "confidence": "high"}`, wantErr: true},
		{name: "server error", status: http.StatusBadGateway, wantErr: true},
		{name: "rate limited", status: http.StatusTooManyRequests, wantErr: true},
		{name: "bad request", status: http.StatusBadRequest, wantErr: true, permanent: true},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: true, permanent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, received := llmServer(t, tt.status, tt.content)
			llm := NewLLM(LLMConfig{Endpoint: srv.URL + "/v1/", APIKey: "secret", MaxCandidates: 1})

			got, err := llm.Adjudicate(context.Background(), request())
			assert.Equal(t, defaultModel, received.Model)
			require.Len(t, received.Messages, 2)
			assert.Contains(t, received.Messages[1].Content, "id=M1")
			assert.NotContains(t, received.Messages[1].Content, "id=M2")
			require.NotNil(t, received.ResponseFormat)
			assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, received.ResponseFormat.Type)

			if tt.wantErr {
				require.Error(t, err)
				var perm *backoff.PermanentError
				assert.Equal(t, tt.permanent, errors.As(err, &perm))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPolicy(t *testing.T) {
	p := &Policy{MaxDistanceKm: 1.0, MinSimilarity: 80}

	tests := []struct {
		name       string
		mutate     func(*match.Request)
		verdict    match.Verdict
		confidence match.Tier
	}{
		{"accepts close similar top", func(*match.Request) {}, match.VerdictAccept, match.TierHigh},
		{"too far", func(r *match.Request) { r.Candidates[0].DistanceKm = 1.5 }, match.VerdictNone, match.TierMedium},
		{"too different", func(r *match.Request) { r.Candidates[0].NameSimilarity = 60 }, match.VerdictNone, match.TierMedium},
		{"no candidates", func(r *match.Request) { r.Candidates = nil }, match.VerdictNone, match.TierMedium},
		{"low tier skipped", func(r *match.Request) { r.Tier = match.TierLow }, match.VerdictNone, match.TierLow},
		{"tie skipped", func(r *match.Request) { r.Reason = match.ReasonAmbiguousTie }, match.VerdictNone, match.TierLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request()
			tt.mutate(&req)
			dec, err := p.Adjudicate(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.verdict, dec.Verdict)
			assert.Equal(t, tt.confidence, dec.Confidence)
		})
	}

	low := request()
	low.Tier = match.TierLow
	dec, err := (&Policy{MaxDistanceKm: 1, MinSimilarity: 80, IncludeLow: true}).Adjudicate(context.Background(), low)
	require.NoError(t, err)
	assert.Equal(t, match.VerdictAccept, dec.Verdict)
}

type failing struct {
	calls int
	err   error
}

func (f *failing) Adjudicate(context.Context, match.Request) (match.Decision, error) {
	f.calls++
	return match.Decision{}, f.err
}

func fastPolicy() *resilience.Policy {
	return resilience.NewPolicy(resilience.Config{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond})
}

func TestRetryingPassesStopThrough(t *testing.T) {
	inner := &failing{err: match.ErrStopAdjudication}
	_, err := NewRetrying(inner, fastPolicy()).Adjudicate(context.Background(), request())
	assert.ErrorIs(t, err, match.ErrStopAdjudication)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryExhaustionLeavesStoreQueued(t *testing.T) {
	cat, err := catalog.New(
		[]*models.Store{{ID: "S1", Name: "Starlight Plaza Adidas", Region: models.RegionCodes{City: "330100"}, Location: &geo.Point{Lat: 30.009, Lng: 120}}},
		[]*models.Mall{{ID: "M1", Name: "Starlight Plaza", Region: models.RegionCodes{City: "330100"}, Location: &geo.Point{Lat: 30.0005, Lng: 120.0005}}},
	)
	require.NoError(t, err)

	inner := &failing{err: errors.New("upstream timeout")}
	config := match.DefaultEngineConfig()
	config.Adjudicator = NewRetrying(inner, fastPolicy())
	engine := match.NewEngine(cat, config)

	report, err := engine.Resolve(context.Background(), false, nil)
	require.NoError(t, err)
	require.Len(t, report.Medium, 1)

	require.NoError(t, engine.Adjudicate(context.Background(), report))
	assert.Equal(t, 3, inner.calls)
	require.Len(t, report.Medium, 1)
	assert.Contains(t, report.Medium[0].Reason, "retries exhausted")
	require.Len(t, report.Errors, 1)
	assert.Equal(t, match.KindExternal, report.Errors[0].Kind)

	s, _ := cat.Store("S1")
	assert.False(t, s.Assigned())
}

func TestPolicyCannotOverturnCachedReject(t *testing.T) {
	hangzhou := models.RegionCodes{City: "330100"}
	cat, err := catalog.New(
		[]*models.Store{{ID: "S1", Name: "Starlight Shopping Plaza Store #3", Region: hangzhou, Location: &geo.Point{Lat: 30, Lng: 120}}},
		[]*models.Mall{
			{ID: "M1", Name: "Starlight Plaza", Region: hangzhou, Location: &geo.Point{Lat: 30.0005, Lng: 120.0005}},
			{ID: "M2", Name: "Riverside Mall", Region: hangzhou, Location: &geo.Point{Lat: 30.002, Lng: 120.0005}},
		},
	)
	require.NoError(t, err)

	ctx := context.Background()
	cache := decisions.NewMemoryCache()
	require.NoError(t, cache.Put(ctx, decisions.PairKey("S1", "M1"), decisions.Entry{Outcome: decisions.OutcomeReject, Source: "console:alice"}))

	config := match.DefaultEngineConfig()
	config.Cache = cache
	config.Adjudicator = &Policy{MaxDistanceKm: 0.5, MinSimilarity: 60}
	engine := match.NewEngine(cat, config)

	report, err := engine.Resolve(ctx, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.AutoHigh)
	require.Len(t, report.Medium, 1)
	assert.Equal(t, match.ReasonCachedReject, report.Medium[0].Reason)
	for _, c := range report.Medium[0].Candidates {
		assert.NotEqual(t, "M1", c.MallID)
	}

	require.NoError(t, engine.Adjudicate(ctx, report))

	s, _ := cat.Store("S1")
	assert.NotEqual(t, "M1", s.MallID)

	entry, err := cache.Get(ctx, decisions.PairKey("S1", "M1"))
	require.NoError(t, err)
	assert.Equal(t, decisions.OutcomeReject, entry.Outcome)
	assert.Equal(t, "console:alice", entry.Source)
}
