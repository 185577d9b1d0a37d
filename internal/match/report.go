package match

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mall-resolver/internal/catalog"
	"github.com/mall-resolver/internal/models"
)

// ErrorKind classifies a per-record failure
type ErrorKind string

const (
	KindMissingInput ErrorKind = "missing_input"
	KindExternal     ErrorKind = "external"
	KindIntegrity    ErrorKind = "integrity"
)

// RecordError is a failure confined to one store or mall. Batches never stop
// for one; every RecordError ends up in the run report.
type RecordError struct {
	Kind    ErrorKind `json:"kind"`
	StoreID string    `json:"store_id,omitempty"`
	MallID  string    `json:"mall_id,omitempty"`
	Message string    `json:"message"`
}

func (e RecordError) Error() string {
	switch {
	case e.StoreID != "" && e.MallID != "":
		return fmt.Sprintf("%s: store %s, mall %s: %s", e.Kind, e.StoreID, e.MallID, e.Message)
	case e.StoreID != "":
		return fmt.Sprintf("%s: store %s: %s", e.Kind, e.StoreID, e.Message)
	default:
		return fmt.Sprintf("%s: mall %s: %s", e.Kind, e.MallID, e.Message)
	}
}

// QueueItem is a store waiting for an external decision
type QueueItem struct {
	Store      *models.Store `json:"store"`
	Tier       Tier          `json:"tier"`
	Reason     string        `json:"reason"`
	Candidates []Candidate   `json:"candidates"`
}

// Report summarises one resolution run. Partial success is the normal outcome.
type Report struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Total           int `json:"total"`
	Filtered        int `json:"filtered"`
	Kept            int `json:"kept"`
	AutoHigh        int `json:"auto_high"`
	QueuedMedium    int `json:"queued_medium"`
	QueuedLow       int `json:"queued_low"`
	MissingInput    int `json:"missing_input"`
	CacheHits       int `json:"cache_hits"`
	Adjudicated     int `json:"adjudicated"`
	AdjudicatedNone int `json:"adjudicated_none"`
	Researched      int `json:"researched"`
	NewVenues       int `json:"new_venues"`
	POIRequeued     int `json:"poi_requeued"`
	MergedClusters  int `json:"merged_clusters"`
	RetiredMalls    int `json:"retired_malls"`

	Medium []QueueItem    `json:"medium"`
	Low    []QueueItem    `json:"low"`
	Errors []RecordError `json:"errors"`
}

// NewReport starts a report with a fresh run id
func NewReport() *Report {
	return &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
}

// AddError records a per-record failure
func (r *Report) AddError(kind ErrorKind, storeID, mallID string, err error) {
	r.Errors = append(r.Errors, RecordError{Kind: kind, StoreID: storeID, MallID: mallID, Message: err.Error()})
}

// RecordMerge adds the outcome of a clustering pass
func (r *Report) RecordMerge(result catalog.MergeResult) {
	r.MergedClusters += result.Clusters
	r.RetiredMalls += result.RetiredMalls
}

// ErrorCounts returns the number of record errors per kind
func (r *Report) ErrorCounts() map[ErrorKind]int {
	counts := make(map[ErrorKind]int)
	for _, e := range r.Errors {
		counts[e.Kind]++
	}
	return counts
}

func (r *Report) finish() {
	r.Duration = time.Since(r.StartedAt)
	r.QueuedMedium = len(r.Medium)
	r.QueuedLow = len(r.Low)
}
