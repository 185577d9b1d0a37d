package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/mall-resolver/internal/audit"
	"github.com/mall-resolver/internal/match"
	"github.com/mall-resolver/internal/models"
)

// StatisticsSource provides audited decision counts
type StatisticsSource interface {
	Statistics(ctx context.Context, runID string) (*audit.Statistics, error)
}

// APIHandler handles general API endpoints
type APIHandler struct {
	Engine *match.Engine
	Queue  *ReviewQueue
	Audit  StatisticsSource // optional
}

// StatsResponse represents overall statistics
type StatsResponse struct {
	TotalStores    int                `json:"total_stores"`
	AssignedStores int                `json:"assigned_stores"`
	TotalMalls     int                `json:"total_malls"`
	AssignmentRate float64            `json:"assignment_rate"`
	Queued         map[match.Tier]int `json:"queued"`
	Decisions      *audit.Statistics  `json:"decisions,omitempty"`
}

// MallResponse is a mall with the ids of its assigned stores
type MallResponse struct {
	Mall   *models.Mall `json:"mall"`
	Stores []string     `json:"stores"`
}

// GetStats returns catalog and queue statistics
func (h *APIHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stores, malls, assigned := h.Engine.Catalog().Counts()

	stats := StatsResponse{
		TotalStores:    stores,
		AssignedStores: assigned,
		TotalMalls:     malls,
		Queued:         h.Queue.Sizes(),
	}
	if stores > 0 {
		stats.AssignmentRate = float64(assigned) / float64(stores) * 100
	}

	if h.Audit != nil {
		decisions, err := h.Audit.Statistics(r.Context(), r.URL.Query().Get("run_id"))
		if err != nil {
			log.Warn().Err(err).Msg("failed to load decision statistics")
		} else {
			stats.Decisions = decisions
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

// GetMall returns one mall and its stores
func (h *APIHandler) GetMall(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	mall, ok := h.Engine.Catalog().Mall(id)
	if !ok {
		writeError(w, http.StatusNotFound, "mall not found")
		return
	}

	resp := MallResponse{Mall: mall, Stores: make([]string, 0, mall.StoreCount)}
	for _, s := range h.Engine.Catalog().Stores() {
		if s.MallID == id {
			resp.Stores = append(resp.Stores, s.ID)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
