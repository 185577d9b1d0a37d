package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/mall-resolver/internal/audit"
	"github.com/mall-resolver/internal/catalog"
	"github.com/mall-resolver/internal/match"
	"github.com/mall-resolver/internal/models"
)

// HistorySource provides the audited decisions of a store
type HistorySource interface {
	History(ctx context.Context, storeID string) ([]audit.HistoryEntry, error)
}

// Persister writes applied assignments through to storage
type Persister interface {
	SaveAssignments(ctx context.Context, malls []*models.Mall, stores []*models.Store) error
}

// ReviewHandler serves the review queues and applies reviewer decisions
type ReviewHandler struct {
	Engine  *match.Engine
	Queue   *ReviewQueue
	History HistorySource // optional
	Store   Persister     // optional

	mu sync.Mutex
}

// DecisionRequest is the body of a decision submission
type DecisionRequest struct {
	Verdict  string `json:"verdict"`
	MallID   string `json:"mall_id"`
	Name     string `json:"name"`
	Reason   string `json:"reason"`
	Reviewer string `json:"reviewer"`
}

// DecisionResponse reports the outcome of a decision
type DecisionResponse struct {
	Status    string           `json:"status"` // "applied" or "requeued"
	Store     *models.Store    `json:"store,omitempty"`
	Item      *match.QueueItem `json:"item,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// ListReview returns the queued items of one tier
func (h *ReviewHandler) ListReview(w http.ResponseWriter, r *http.Request) {
	tier, err := match.ParseTier(mux.Vars(r)["tier"])
	if err != nil || tier == match.TierHigh {
		writeError(w, http.StatusBadRequest, "tier must be medium or low")
		return
	}
	writeJSON(w, http.StatusOK, h.Queue.List(tier))
}

// SubmitDecision applies a reviewer decision to one store
func (h *ReviewHandler) SubmitDecision(w http.ResponseWriter, r *http.Request) {
	storeID := mux.Vars(r)["storeID"]

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	verdict := match.Verdict(strings.ToLower(strings.TrimSpace(req.Verdict)))
	switch verdict {
	case match.VerdictAccept, match.VerdictNone, match.VerdictResearch, match.VerdictNewVenue:
	default:
		writeError(w, http.StatusBadRequest, "verdict must be accept, none, research or new_venue")
		return
	}

	reviewer := req.Reviewer
	if reviewer == "" {
		reviewer = "anonymous"
	}
	dec := match.Decision{
		Verdict:    verdict,
		MallID:     req.MallID,
		Name:       req.Name,
		Confidence: match.TierHigh,
		Reason:     req.Reason,
		Source:     "web:" + reviewer,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	requeue, err := h.Engine.ApplyDecision(r.Context(), storeID, dec)
	if err != nil {
		var recErr match.RecordError
		switch {
		case errors.Is(err, catalog.ErrUnknownStore):
			writeError(w, http.StatusNotFound, "store not found")
		case errors.As(err, &recErr):
			writeError(w, http.StatusUnprocessableEntity, recErr.Error())
		default:
			log.Error().Err(err).Str("store_id", storeID).Msg("failed to apply decision")
			writeError(w, http.StatusInternalServerError, "failed to apply decision")
		}
		return
	}

	resp := DecisionResponse{Status: "applied", Timestamp: time.Now()}
	if requeue != nil {
		h.Queue.Put(*requeue)
		resp.Status = "requeued"
		resp.Item = requeue
	} else {
		h.Queue.Remove(storeID)
	}

	store, _ := h.Engine.Catalog().Store(storeID)
	resp.Store = store

	if h.Store != nil && store != nil {
		var malls []*models.Mall
		if mall, ok := h.Engine.Catalog().Mall(store.MallID); ok {
			malls = append(malls, mall)
		}
		if err := h.Store.SaveAssignments(r.Context(), malls, []*models.Store{store}); err != nil {
			log.Error().Err(err).Str("store_id", storeID).Msg("failed to persist decision")
			writeError(w, http.StatusInternalServerError, "decision applied but not persisted")
			return
		}
	}

	log.Info().Str("store_id", storeID).Str("verdict", string(verdict)).Str("source", dec.Source).
		Str("status", resp.Status).Msg("review decision")
	writeJSON(w, http.StatusOK, resp)
}

// GetHistory returns the audited decisions of a store
func (h *ReviewHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		writeError(w, http.StatusNotImplemented, "audit trail not configured")
		return
	}

	storeID := mux.Vars(r)["storeID"]
	history, err := h.History.History(r.Context(), storeID)
	if err != nil {
		log.Error().Err(err).Str("store_id", storeID).Msg("failed to load history")
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if history == nil {
		history = []audit.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, history)
}
