package handlers

import (
	"sync"

	"github.com/mall-resolver/internal/match"
)

// ReviewQueue holds the open review items of the latest run, keyed by store id
type ReviewQueue struct {
	mu    sync.RWMutex
	items map[string]match.QueueItem
	order []string
}

// NewReviewQueue creates a queue seeded from a run report
func NewReviewQueue(report *match.Report) *ReviewQueue {
	q := &ReviewQueue{items: make(map[string]match.QueueItem)}
	if report != nil {
		for _, item := range report.Medium {
			q.Put(item)
		}
		for _, item := range report.Low {
			q.Put(item)
		}
	}
	return q
}

// Put adds or replaces the item for its store
func (q *ReviewQueue) Put(item match.QueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := item.Store.ID
	if _, ok := q.items[id]; !ok {
		q.order = append(q.order, id)
	}
	q.items[id] = item
}

// Remove drops the item for a store and reports whether it was queued
func (q *ReviewQueue) Remove(storeID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.items[storeID]; !ok {
		return false
	}
	delete(q.items, storeID)
	for i, id := range q.order {
		if id == storeID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns the queued items of a tier in queue order
func (q *ReviewQueue) List(tier match.Tier) []match.QueueItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]match.QueueItem, 0)
	for _, id := range q.order {
		if item := q.items[id]; item.Tier == tier {
			out = append(out, item)
		}
	}
	return out
}

// Sizes returns the number of queued items per tier
func (q *ReviewQueue) Sizes() map[match.Tier]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	sizes := map[match.Tier]int{match.TierMedium: 0, match.TierLow: 0}
	for _, item := range q.items {
		sizes[item.Tier]++
	}
	return sizes
}
