package match

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mall-resolver/internal/catalog"
	"github.com/mall-resolver/internal/debug"
	"github.com/mall-resolver/internal/decisions"
	"github.com/mall-resolver/internal/models"
	"github.com/mall-resolver/internal/normalize"
)

// Outcomes of the proposal phase that never reach the scorer
const (
	outcomeFiltered  = "filtered"
	outcomeKept      = "kept"
	outcomeIntegrity = "integrity"
)

// ReasonLowAdjudicatorConfidence marks items an adjudicator answered without enough confidence
const ReasonLowAdjudicatorConfidence = "low_adjudicator_confidence"

// EngineConfig holds configuration for the resolution engine
type EngineConfig struct {
	Weights   *FeatureWeights
	Tiers     *MatchTiers
	Neighbors int // candidates kept per store, default 5
	Workers   int // proposal-phase goroutines, default GOMAXPROCS

	// WidenSearch lets the finder fall back to the city and then the whole
	// catalog when the store's district has no mall in range
	WidenSearch bool
	// Reassign re-resolves stores that already have a live mall
	Reassign bool

	Filter      *CategoryFilter
	Cache       decisions.Cache
	Adjudicator Adjudicator
	Recorder    DecisionRecorder

	// MinAdjudicatorConfidence is the lowest adjudicator confidence that is applied
	MinAdjudicatorConfidence Tier
}

// DefaultEngineConfig returns the standard configuration
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Weights:                  DefaultWeights(),
		Tiers:                    DefaultTiers(),
		Neighbors:                5,
		Workers:                  runtime.GOMAXPROCS(0),
		WidenSearch:              true,
		MinAdjudicatorConfidence: TierMedium,
	}
}

// Engine resolves stores to malls against a catalog
type Engine struct {
	catalog *catalog.Catalog
	scorer  *Scorer
	config  EngineConfig

	mu     sync.Mutex
	finder *Finder
}

// NewEngine creates a new resolution engine
func NewEngine(cat *catalog.Catalog, config EngineConfig) *Engine {
	if config.Weights == nil {
		config.Weights = DefaultWeights()
	}
	if config.Tiers == nil {
		config.Tiers = DefaultTiers()
	}
	if config.Neighbors <= 0 {
		config.Neighbors = 5
	}
	if config.Workers <= 0 {
		config.Workers = runtime.GOMAXPROCS(0)
	}
	if config.Cache == nil {
		config.Cache = decisions.NewMemoryCache()
	}
	if config.MinAdjudicatorConfidence == "" {
		config.MinAdjudicatorConfidence = TierMedium
	}

	return &Engine{
		catalog: cat,
		scorer:  NewScorerWithConfig(config.Weights, config.Tiers),
		config:  config,
	}
}

// Scorer returns the engine's scorer
func (e *Engine) Scorer() *Scorer {
	return e.scorer
}

// Catalog returns the catalog the engine writes to
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Refresh rebuilds the region index from the current catalog
func (e *Engine) Refresh() {
	idx := NewIndex(e.catalog.Malls())

	e.mu.Lock()
	e.finder = NewFinder(idx, e.config.WidenSearch)
	e.mu.Unlock()
}

func (e *Engine) currentFinder() *Finder {
	e.mu.Lock()
	f := e.finder
	e.mu.Unlock()

	if f == nil {
		e.Refresh()
		return e.currentFinder()
	}
	return f
}

func (e *Engine) invalidate() {
	e.mu.Lock()
	e.finder = nil
	e.mu.Unlock()
}

// proposal is the read-only result of scoring one store
type proposal struct {
	outcome    string
	mallID     string
	reason     string
	candidates []Candidate
	missing    bool
}

// Resolve runs one batch over storeIDs, or over every store when storeIDs is
// empty. Scoring runs in parallel over an immutable index; assignments are
// written serially and store counts are recomputed at the end. Cancelling ctx
// stops further rows and keeps assignments already written.
func (e *Engine) Resolve(ctx context.Context, localDebug bool, storeIDs []string) (*Report, error) {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)
	defer debug.DebugTiming(localDebug, "resolve")()

	report := NewReport()
	e.Refresh()
	finder := e.currentFinder()

	if len(storeIDs) == 0 {
		storeIDs = e.catalog.StoreIDs()
	}

	stores := make([]*models.Store, 0, len(storeIDs))
	for _, id := range storeIDs {
		s, ok := e.catalog.Store(id)
		if !ok {
			report.AddError(KindIntegrity, id, "", catalog.ErrUnknownStore)
			continue
		}
		stores = append(stores, s)
	}
	report.Total = len(stores)
	debug.DebugOutput(localDebug, "Resolving %d stores against %d malls", len(stores), finder.index.Len())

	proposals := make([]proposal, len(stores))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Workers)
	for i, s := range stores {
		if gctx.Err() != nil {
			break
		}
		i, s := i, s
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			proposals[i] = e.propose(finder, s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		report.finish()
		return report, err
	}
	if err := ctx.Err(); err != nil {
		report.finish()
		return report, err
	}

	var runErr error
	for i, p := range proposals {
		if err := ctx.Err(); err != nil {
			runErr = err
			log.Warn().Str("run_id", report.RunID).Int("applied", i).Int("total", len(proposals)).
				Msg("resolution cancelled, keeping assignments written so far")
			break
		}
		e.apply(ctx, localDebug, report, stores[i], p)
	}

	e.catalog.RecountStores()
	report.finish()

	log.Info().
		Str("run_id", report.RunID).
		Int("total", report.Total).
		Int("auto_high", report.AutoHigh).
		Int("queued_medium", report.QueuedMedium).
		Int("queued_low", report.QueuedLow).
		Int("kept", report.Kept).
		Int("filtered", report.Filtered).
		Int("errors", len(report.Errors)).
		Dur("duration", report.Duration).
		Msg("resolution complete")

	return report, runErr
}

// propose reads only immutable state and is safe to run concurrently
func (e *Engine) propose(finder *Finder, store *models.Store) proposal {
	if store.Inactive {
		return proposal{outcome: outcomeFiltered, reason: "inactive"}
	}
	if excluded, why := e.config.Filter.Excluded(store); excluded {
		return proposal{outcome: outcomeFiltered, reason: why}
	}

	if store.Assigned() {
		if _, ok := e.catalog.Mall(store.MallID); !ok {
			return proposal{outcome: outcomeIntegrity, mallID: store.MallID, reason: "assigned mall does not exist"}
		}
		if !e.config.Reassign {
			return proposal{outcome: outcomeKept, mallID: store.MallID}
		}
	}

	if normalize.CanonicalName(store.Name) == "" && normalize.IsBlank(store.Address) {
		return proposal{outcome: DecisionReject, reason: ReasonNoName, missing: true}
	}
	if !store.HasLocation() {
		return proposal{outcome: DecisionReject, reason: ReasonNoCoordinates, missing: true}
	}

	neighbors := finder.Nearest(store, e.config.Tiers.MaxDistanceKm, e.config.Neighbors)
	candidates := e.scorer.ScoreCandidates(false, store, neighbors)
	decision, mallID, reason := e.scorer.MakeDecision(false, candidates)

	return proposal{outcome: decision, mallID: mallID, reason: reason, candidates: candidates}
}

func (e *Engine) apply(ctx context.Context, localDebug bool, report *Report, store *models.Store, p proposal) {
	switch p.outcome {
	case outcomeFiltered:
		report.Filtered++
		debug.DebugOutput(localDebug, "Store %s filtered: %s", store.ID, p.reason)
		return
	case outcomeKept:
		report.Kept++
		return
	case outcomeIntegrity:
		report.AddError(KindIntegrity, store.ID, p.mallID, errors.New(p.reason))
		log.Warn().Str("store_id", store.ID).Str("mall_id", p.mallID).Str("reason", p.reason).Msg("skipping store")
		return
	}

	if p.missing {
		report.MissingInput++
		report.AddError(KindMissingInput, store.ID, "", errors.New(p.reason))
	}

	if p.outcome == DecisionAutoAccept {
		if e.cachedOutcome(ctx, store.ID, p.mallID) != decisions.OutcomeReject {
			if err := e.catalog.Assign(store.ID, p.mallID); err != nil {
				report.AddError(KindIntegrity, store.ID, p.mallID, err)
				return
			}
			report.AutoHigh++
			debug.DebugOutput(localDebug, "Store %s auto-assigned to %s", store.ID, p.mallID)
			return
		}
		// A recorded rejection outranks the rule-based match
		p.outcome = DecisionReview
		p.reason = ReasonCachedReject
	}

	switch outcome, mallID := e.resolveFromCache(ctx, store, p.candidates); outcome {
	case decisions.OutcomeAccept:
		if err := e.catalog.Assign(store.ID, mallID); err != nil {
			report.AddError(KindIntegrity, store.ID, mallID, err)
			return
		}
		report.CacheHits++
		report.Adjudicated++
		return
	case decisions.OutcomeNone:
		if store.Assigned() {
			if err := e.catalog.Unassign(store.ID); err != nil {
				report.AddError(KindIntegrity, store.ID, "", err)
				return
			}
		}
		report.CacheHits++
		report.AdjudicatedNone++
		return
	}

	candidates := e.dropRejected(ctx, store.ID, p.candidates)
	item := QueueItem{Store: store, Tier: topTier(candidates), Reason: p.reason, Candidates: withReason(candidates, p.reason)}
	if p.outcome == DecisionReview {
		report.Medium = append(report.Medium, item)
	} else {
		report.Low = append(report.Low, item)
	}
}

func (e *Engine) cachedOutcome(ctx context.Context, storeID, mallID string) decisions.Outcome {
	entry, err := e.config.Cache.Get(ctx, decisions.PairKey(storeID, mallID))
	if err != nil {
		if !errors.Is(err, decisions.ErrNotFound) {
			log.Warn().Err(err).Str("store_id", storeID).Str("mall_id", mallID).Msg("decision cache lookup failed")
		}
		return ""
	}
	return entry.Outcome
}

// dropRejected removes candidates whose pairing with the store was rejected before
func (e *Engine) dropRejected(ctx context.Context, storeID string, candidates []Candidate) []Candidate {
	kept := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if e.cachedOutcome(ctx, storeID, c.MallID) == decisions.OutcomeReject {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// resolveFromCache replays earlier decisions: an accepted pair wins, a store
// whose every candidate was rejected (or which was marked as having no mall)
// resolves to none, anything else stays undecided
func (e *Engine) resolveFromCache(ctx context.Context, store *models.Store, candidates []Candidate) (decisions.Outcome, string) {
	rejected := 0
	for _, c := range candidates {
		switch e.cachedOutcome(ctx, store.ID, c.MallID) {
		case decisions.OutcomeAccept:
			if _, ok := e.catalog.Mall(c.MallID); ok {
				return decisions.OutcomeAccept, c.MallID
			}
		case decisions.OutcomeReject:
			rejected++
		}
	}
	if len(candidates) > 0 && rejected == len(candidates) {
		return decisions.OutcomeNone, ""
	}

	entry, err := e.config.Cache.Get(ctx, decisions.StoreKey(store.ID))
	if err == nil && entry.Outcome == decisions.OutcomeNone && len(candidates) == rejected {
		return decisions.OutcomeNone, ""
	}
	return "", ""
}

func topTier(candidates []Candidate) Tier {
	if len(candidates) == 0 {
		return TierLow
	}
	return candidates[0].Tier
}

func withReason(candidates []Candidate, reason string) []Candidate {
	out := make([]Candidate, len(candidates))
	for i, c := range candidates {
		c.Reason = reason
		out[i] = c
	}
	return out
}

// Adjudicate passes every queued item of the report to the configured
// adjudicator. Applied items leave the queues; failures, low-confidence answers
// and items after an early stop stay queued with their reason.
func (e *Engine) Adjudicate(ctx context.Context, report *Report) error {
	if e.config.Adjudicator == nil {
		return errors.New("no adjudicator configured")
	}

	var researched []QueueItem
	stopped := false

	process := func(items []QueueItem) []QueueItem {
		var keep []QueueItem
		for i, item := range items {
			if stopped || ctx.Err() != nil {
				keep = append(keep, items[i:]...)
				break
			}

			req := Request{Store: item.Store, Tier: item.Tier, Reason: item.Reason, Candidates: item.Candidates}
			dec, err := e.config.Adjudicator.Adjudicate(ctx, req)
			if errors.Is(err, ErrStopAdjudication) {
				stopped = true
				keep = append(keep, items[i:]...)
				break
			}
			if err != nil {
				report.AddError(KindExternal, item.Store.ID, "", err)
				item.Reason = "adjudication_failed: " + err.Error()
				keep = append(keep, item)
				log.Warn().Err(err).Str("store_id", item.Store.ID).Msg("adjudication failed, leaving store for manual review")
				continue
			}

			if dec.Confidence.Rank() < e.config.MinAdjudicatorConfidence.Rank() {
				item.Reason = ReasonLowAdjudicatorConfidence
				keep = append(keep, item)
				log.Info().Str("store_id", item.Store.ID).Str("confidence", string(dec.Confidence)).
					Str("verdict", string(dec.Verdict)).Msg("adjudicator not confident enough, keeping in queue")
				continue
			}

			requeue, err := e.applyDecision(ctx, report, req, dec, true)
			if err != nil {
				var recErr RecordError
				if errors.As(err, &recErr) {
					report.Errors = append(report.Errors, recErr)
				} else {
					report.AddError(KindIntegrity, item.Store.ID, dec.MallID, err)
				}
				keep = append(keep, item)
				continue
			}
			if requeue != nil {
				researched = append(researched, *requeue)
			}
		}
		return keep
	}

	report.Medium = process(report.Medium)
	report.Low = process(report.Low)
	report.Medium = append(report.Medium, researched...)

	e.catalog.RecountStores()
	report.finish()

	log.Info().
		Str("run_id", report.RunID).
		Int("adjudicated", report.Adjudicated).
		Int("adjudicated_none", report.AdjudicatedNone).
		Int("new_venues", report.NewVenues).
		Int("still_queued", len(report.Medium)+len(report.Low)).
		Msg("adjudication complete")

	return ctx.Err()
}

// ApplyDecision applies one external decision to a single store outside a batch,
// e.g. from the web review surface. An accept may name any live mall. A research
// decision that does not resolve returns the new queue item.
func (e *Engine) ApplyDecision(ctx context.Context, storeID string, dec Decision) (*QueueItem, error) {
	store, ok := e.catalog.Store(storeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrUnknownStore, storeID)
	}

	finder := e.currentFinder()
	var candidates []Candidate
	if store.HasLocation() {
		neighbors := finder.Nearest(store, e.config.Tiers.MaxDistanceKm, e.config.Neighbors)
		candidates = e.scorer.ScoreCandidates(false, store, neighbors)
	}

	report := NewReport()
	req := Request{Store: store, Tier: topTier(candidates), Candidates: candidates}
	requeue, err := e.applyDecision(ctx, report, req, dec, false)
	e.catalog.RecountStores()
	return requeue, err
}

func (e *Engine) applyDecision(ctx context.Context, report *Report, req Request, dec Decision, strict bool) (*QueueItem, error) {
	store := req.Store
	now := time.Now()
	var requeue *QueueItem

	switch dec.Verdict {
	case VerdictAccept:
		if dec.MallID == "" {
			return nil, RecordError{Kind: KindExternal, StoreID: store.ID, Message: "accept without mall id"}
		}
		if strict && !hasCandidate(req.Candidates, dec.MallID) {
			return nil, RecordError{Kind: KindExternal, StoreID: store.ID, MallID: dec.MallID, Message: "mall was not among the presented candidates"}
		}
		if strict && e.cachedOutcome(ctx, store.ID, dec.MallID) == decisions.OutcomeReject {
			return nil, RecordError{Kind: KindExternal, StoreID: store.ID, MallID: dec.MallID, Message: "pair was rejected by an earlier decision"}
		}
		if err := e.catalog.Assign(store.ID, dec.MallID); err != nil {
			return nil, RecordError{Kind: KindIntegrity, StoreID: store.ID, MallID: dec.MallID, Message: err.Error()}
		}
		e.remember(ctx, decisions.PairKey(store.ID, dec.MallID), decisions.OutcomeAccept, dec, now)
		report.Adjudicated++

	case VerdictNone:
		if store.Assigned() {
			if err := e.catalog.Unassign(store.ID); err != nil {
				return nil, RecordError{Kind: KindIntegrity, StoreID: store.ID, Message: err.Error()}
			}
		}
		for _, c := range req.Candidates {
			e.remember(ctx, decisions.PairKey(store.ID, c.MallID), decisions.OutcomeReject, dec, now)
		}
		e.remember(ctx, decisions.StoreKey(store.ID), decisions.OutcomeNone, dec, now)
		report.AdjudicatedNone++

	case VerdictResearch:
		if dec.Name == "" {
			return nil, RecordError{Kind: KindExternal, StoreID: store.ID, Message: "research without a name"}
		}
		if !store.HasLocation() {
			return nil, RecordError{Kind: KindMissingInput, StoreID: store.ID, Message: "cannot re-search a store without coordinates"}
		}

		variant := models.CloneStore(store)
		variant.Name = dec.Name
		variant.Address = ""

		neighbors := e.currentFinder().Nearest(variant, e.config.Tiers.MaxDistanceKm, e.config.Neighbors)
		candidates := e.scorer.ScoreCandidates(false, variant, neighbors)
		decision, mallID, _ := e.scorer.MakeDecision(false, candidates)
		report.Researched++

		if decision == DecisionAutoAccept && e.cachedOutcome(ctx, store.ID, mallID) != decisions.OutcomeReject {
			if err := e.catalog.Assign(store.ID, mallID); err != nil {
				return nil, RecordError{Kind: KindIntegrity, StoreID: store.ID, MallID: mallID, Message: err.Error()}
			}
			e.remember(ctx, decisions.PairKey(store.ID, mallID), decisions.OutcomeAccept, dec, now)
			report.Adjudicated++
		} else {
			candidates = e.dropRejected(ctx, store.ID, candidates)
			requeue = &QueueItem{
				Store:      store,
				Tier:       topTier(candidates),
				Reason:     ReasonResearch,
				Candidates: withReason(candidates, ReasonResearch),
			}
		}

	case VerdictNewVenue:
		if !store.HasLocation() {
			return nil, RecordError{Kind: KindMissingInput, StoreID: store.ID, Message: "cannot create a venue for a store without coordinates"}
		}
		name := dec.Name
		if name == "" {
			if token, ok := normalize.ExtractVenueToken(store.Name, store.Address); ok {
				name = token
			} else {
				name = store.Name
			}
		}

		mall, err := e.catalog.MintMall(name, store.Region, store.Location)
		if err != nil {
			return nil, RecordError{Kind: KindIntegrity, StoreID: store.ID, Message: err.Error()}
		}
		if err := e.catalog.Assign(store.ID, mall.ID); err != nil {
			return nil, RecordError{Kind: KindIntegrity, StoreID: store.ID, MallID: mall.ID, Message: err.Error()}
		}
		e.invalidate()
		e.remember(ctx, decisions.PairKey(store.ID, mall.ID), decisions.OutcomeAccept, dec, now)
		dec.MallID = mall.ID
		report.NewVenues++
		log.Info().Str("store_id", store.ID).Str("mall_id", mall.ID).Str("name", name).Msg("minted new mall")

	default:
		return nil, RecordError{Kind: KindExternal, StoreID: store.ID, Message: fmt.Sprintf("unknown verdict %q", dec.Verdict)}
	}

	if e.config.Recorder != nil {
		if err := e.config.Recorder.RecordDecision(ctx, report.RunID, req, dec); err != nil {
			log.Warn().Err(err).Str("store_id", store.ID).Msg("failed to record decision")
		}
	}

	return requeue, nil
}

func (e *Engine) remember(ctx context.Context, key string, outcome decisions.Outcome, dec Decision, at time.Time) {
	entry := decisions.Entry{Outcome: outcome, Source: dec.Source, Reason: dec.Reason, DecidedAt: at}
	if err := e.config.Cache.Put(ctx, key, entry); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to cache decision")
	}
}

func hasCandidate(candidates []Candidate, mallID string) bool {
	for _, c := range candidates {
		if c.MallID == mallID {
			return true
		}
	}
	return false
}
