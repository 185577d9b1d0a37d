package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mall-resolver/internal/debug"
	"github.com/mall-resolver/internal/match"
)

// maxAuditCandidates caps the candidates stored alongside each decision
const maxAuditCandidates = 5

// Tracker writes every applied decision to the audit tables
type Tracker struct {
	db         *sql.DB
	localDebug bool
}

// NewTracker creates a new audit tracker
func NewTracker(db *sql.DB, localDebug bool) *Tracker {
	return &Tracker{db: db, localDebug: localDebug}
}

// RecordDecision saves a decision and the candidates it was made from
func (t *Tracker) RecordDecision(ctx context.Context, runID string, req match.Request, dec match.Decision) error {
	localDebug := t.localDebug
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	debug.DebugOutput(localDebug, "Recording %s decision for store %s -> %q", dec.Verdict, req.Store.ID, dec.MallID)

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var auditID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO decision_audit (
			run_id, store_id, verdict, mall_id, search_name, confidence,
			reason, source, queue_tier, queue_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING audit_id
	`, runID, req.Store.ID, string(dec.Verdict), nullable(dec.MallID), nullable(dec.Name),
		string(dec.Confidence), nullable(dec.Reason), nullable(dec.Source),
		nullable(string(req.Tier)), nullable(req.Reason)).Scan(&auditID)
	if err != nil {
		return fmt.Errorf("failed to insert decision audit: %w", err)
	}

	debug.DebugOutput(localDebug, "Created decision_audit record %d", auditID)

	for rank, c := range req.Candidates {
		if rank >= maxAuditCandidates {
			break
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO decision_candidates (audit_id, rank, mall_id, distance_km, name_similarity, score, tier)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, auditID, rank+1, c.MallID, c.DistanceKm, c.NameSimilarity, c.Score, string(c.Tier))
		if err != nil {
			return fmt.Errorf("failed to record candidate %d: %w", rank+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// HistoryEntry is one audited decision for a store
type HistoryEntry struct {
	AuditID     int64     `json:"audit_id"`
	RunID       string    `json:"run_id"`
	Verdict     string    `json:"verdict"`
	MallID      string    `json:"mall_id,omitempty"`
	SearchName  string    `json:"search_name,omitempty"`
	Confidence  string    `json:"confidence"`
	Reason      string    `json:"reason,omitempty"`
	Source      string    `json:"source,omitempty"`
	QueueTier   string    `json:"queue_tier,omitempty"`
	QueueReason string    `json:"queue_reason,omitempty"`
	DecidedAt   time.Time `json:"decided_at"`
}

// History returns the decisions made for a store, newest first
func (t *Tracker) History(ctx context.Context, storeID string) ([]HistoryEntry, error) {
	localDebug := t.localDebug
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	rows, err := t.db.QueryContext(ctx, `
		SELECT audit_id, run_id, verdict, mall_id, search_name, confidence,
		       reason, source, queue_tier, queue_reason, decided_at
		FROM decision_audit
		WHERE store_id = $1
		ORDER BY decided_at DESC, audit_id DESC
	`, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query decision history: %w", err)
	}
	defer rows.Close()

	var history []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var mallID, searchName, reason, source, queueTier, queueReason sql.NullString
		if err := rows.Scan(&e.AuditID, &e.RunID, &e.Verdict, &mallID, &searchName, &e.Confidence,
			&reason, &source, &queueTier, &queueReason, &e.DecidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision history: %w", err)
		}
		e.MallID = mallID.String
		e.SearchName = searchName.String
		e.Reason = reason.String
		e.Source = source.String
		e.QueueTier = queueTier.String
		e.QueueReason = queueReason.String
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read decision history: %w", err)
	}

	debug.DebugOutput(localDebug, "Retrieved %d decision history entries for store %s", len(history), storeID)
	return history, nil
}

// Statistics counts the audited decisions of a run
type Statistics struct {
	RunID     string         `json:"run_id"`
	Total     int            `json:"total"`
	ByVerdict map[string]int `json:"by_verdict"`
	BySource  map[string]int `json:"by_source"`
}

// Statistics returns decision counts for a run. An empty runID covers every run.
func (t *Tracker) Statistics(ctx context.Context, runID string) (*Statistics, error) {
	localDebug := t.localDebug
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	stats := &Statistics{
		RunID:     runID,
		ByVerdict: make(map[string]int),
		BySource:  make(map[string]int),
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT verdict, COALESCE(source, ''), COUNT(*)
		FROM decision_audit
		WHERE $1::text = '' OR run_id = $1
		GROUP BY verdict, COALESCE(source, '')
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query decision statistics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var verdict, source string
		var count int
		if err := rows.Scan(&verdict, &source, &count); err != nil {
			return nil, fmt.Errorf("failed to scan decision statistics: %w", err)
		}
		stats.Total += count
		stats.ByVerdict[verdict] += count
		if source != "" {
			stats.BySource[source] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read decision statistics: %w", err)
	}

	debug.DebugOutput(localDebug, "Retrieved statistics for run %q: %d decisions", runID, stats.Total)
	return stats, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
