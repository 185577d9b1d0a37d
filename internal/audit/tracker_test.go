package audit

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mall-resolver/internal/match"
	"github.com/mall-resolver/internal/models"
)

func newMockTracker(t *testing.T) (*Tracker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewTracker(db, false), mock
}

func candidates(n int) []match.Candidate {
	out := make([]match.Candidate, n)
	for i := range out {
		out[i] = match.Candidate{
			MallID:         "M" + string(rune('A'+i)),
			DistanceKm:     float64(i) * 0.1,
			NameSimilarity: 80 - float64(i),
			Score:          0.9 - float64(i)*0.1,
			Tier:           match.TierMedium,
		}
	}
	return out
}

func TestRecordDecision(t *testing.T) {
	tracker, mock := newMockTracker(t)

	req := match.Request{
		Store:      &models.Store{ID: "S1"},
		Tier:       match.TierMedium,
		Reason:     "medium_confidence",
		Candidates: candidates(7),
	}
	dec := match.Decision{
		Verdict:    match.VerdictAccept,
		MallID:     "MA",
		Confidence: match.TierHigh,
		Source:     "console:alice",
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO decision_audit")).
		WithArgs("run-1", "S1", "accept", "MA", nil, "high", nil, "console:alice", "medium", "medium_confidence").
		WillReturnRows(sqlmock.NewRows([]string{"audit_id"}).AddRow(42))
	for i := 0; i < maxAuditCandidates; i++ {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO decision_candidates")).
			WithArgs(int64(42), i+1, req.Candidates[i].MallID, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "medium").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	require.NoError(t, tracker.RecordDecision(context.Background(), "run-1", req, dec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDecisionRollsBack(t *testing.T) {
	tracker, mock := newMockTracker(t)

	req := match.Request{Store: &models.Store{ID: "S1"}, Candidates: candidates(1)}
	dec := match.Decision{Verdict: match.VerdictNone, Confidence: match.TierMedium}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO decision_audit")).
		WillReturnRows(sqlmock.NewRows([]string{"audit_id"}).AddRow(7))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO decision_candidates")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := tracker.RecordDecision(context.Background(), "run-1", req, dec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistory(t *testing.T) {
	tracker, mock := newMockTracker(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"audit_id", "run_id", "verdict", "mall_id", "search_name", "confidence",
		"reason", "source", "queue_tier", "queue_reason", "decided_at",
	}).
		AddRow(2, "run-2", "research", nil, "Harbour City", "medium", nil, "llm:gpt-4o-mini", "low", "no_candidates", at).
		AddRow(1, "run-1", "accept", "M1", nil, "high", "manual_review", "console:alice", "medium", "medium_confidence", at.Add(-time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta("FROM decision_audit")).WithArgs("S1").WillReturnRows(rows)

	history, err := tracker.History(context.Background(), "S1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "research", history[0].Verdict)
	assert.Equal(t, "Harbour City", history[0].SearchName)
	assert.Empty(t, history[0].MallID)
	assert.Equal(t, "M1", history[1].MallID)
	assert.Equal(t, "manual_review", history[1].Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatistics(t *testing.T) {
	tracker, mock := newMockTracker(t)

	rows := sqlmock.NewRows([]string{"verdict", "source", "count"}).
		AddRow("accept", "console:alice", 3).
		AddRow("accept", "policy", 2).
		AddRow("none", "", 4)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY verdict")).WithArgs("run-1").WillReturnRows(rows)

	stats, err := tracker.Statistics(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 9, stats.Total)
	assert.Equal(t, map[string]int{"accept": 5, "none": 4}, stats.ByVerdict)
	assert.Equal(t, map[string]int{"console:alice": 3, "policy": 2}, stats.BySource)
	assert.NoError(t, mock.ExpectationsWereMet())
}
