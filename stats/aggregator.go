package stats

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"firecore/lifecycle"
	"firecore/protocol"
	"firecore/store"
)

// Counts summarizes one entity kind.
type Counts struct {
	Total          int            `json:"total"`
	ActiveByStatus map[string]int `json:"activeByStatus"`
}

// TransitionSource pages through the persisted transition log.
type TransitionSource interface {
	ListTransitions(ctx context.Context, afterID int64, limit int) ([]*store.Transition, error)
}

type entityKey struct {
	kind protocol.EntityKind
	id   int64
}

type entityState struct {
	status  string
	version int
}

// Aggregator derives counts from the transition stream. Events may arrive
// more than once and out of order.
type Aggregator struct {
	mu          sync.Mutex
	seen        *lru.Cache[string, struct{}]
	entities    map[entityKey]entityState
	totals      map[protocol.EntityKind]int
	active      map[protocol.EntityKind]map[string]int
	late        int
	unfulfilled map[int64]struct{}

	metrics *metrics
	log     zerolog.Logger
}

// NewAggregator keeps the last window transition ids for dedupe. reg may be
// nil to skip metric registration.
func NewAggregator(window int, reg prometheus.Registerer, logger zerolog.Logger) *Aggregator {
	if window <= 0 {
		window = 4096
	}
	seen, _ := lru.New[string, struct{}](window)
	a := &Aggregator{
		seen:    seen,
		metrics: newMetrics(reg),
		log:     logger.With().Str("component", "stats").Logger(),
	}
	a.reset()
	return a
}

func (a *Aggregator) reset() {
	a.seen.Purge()
	a.entities = make(map[entityKey]entityState)
	a.totals = make(map[protocol.EntityKind]int)
	a.active = make(map[protocol.EntityKind]map[string]int)
	a.unfulfilled = make(map[int64]struct{})
	a.late = 0
	a.metrics.active.Reset()
}

// Observe folds one transition in. It returns false for a duplicate.
func (a *Aggregator) Observe(t *store.Transition) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.observe(t)
}

func (a *Aggregator) observe(t *store.Transition) bool {
	if t.TransitionID != "" {
		if a.seen.Contains(t.TransitionID) {
			return false
		}
		a.seen.Add(t.TransitionID, struct{}{})
	}
	a.metrics.transitions.WithLabelValues(string(t.EntityKind), t.ToStatus).Inc()
	if t.FromStatus == "" {
		a.totals[t.EntityKind]++
	}

	key := entityKey{t.EntityKind, t.EntityID}
	cur, known := a.entities[key]
	if known && t.Version <= cur.version {
		a.late++
		return true
	}
	if known {
		a.adjust(t.EntityKind, cur.status, -1)
	}
	a.entities[key] = entityState{status: t.ToStatus, version: t.Version}
	a.adjust(t.EntityKind, t.ToStatus, 1)
	return true
}

func (a *Aggregator) adjust(kind protocol.EntityKind, status string, delta int) {
	if lifecycle.IsTerminal(kind, status) {
		return
	}
	byStatus := a.active[kind]
	if byStatus == nil {
		byStatus = make(map[string]int)
		a.active[kind] = byStatus
	}
	byStatus[status] += delta
	if byStatus[status] <= 0 {
		delete(byStatus, status)
	}
	a.metrics.active.WithLabelValues(string(kind), status).Set(float64(byStatus[status]))
}

// ObserveUnfulfilled records a dispatch that got no units. Repeats for the
// same dispatch are ignored.
func (a *Aggregator) ObserveUnfulfilled(dispatchID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.unfulfilled[dispatchID]; ok {
		return false
	}
	a.unfulfilled[dispatchID] = struct{}{}
	a.metrics.unfulfilled.Inc()
	return true
}

func (a *Aggregator) Unfulfilled() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.unfulfilled)
}

// ObserveOutcome counts a finished assignment run by its kind.
func (a *Aggregator) ObserveOutcome(kind string) {
	a.metrics.outcomes.WithLabelValues(kind).Inc()
}

// ObserveResponse records a unit's dispatch-to-arrival time.
func (a *Aggregator) ObserveResponse(minutes float64) {
	if minutes < 0 {
		return
	}
	a.metrics.response.Observe(minutes)
}

// GetCounts returns a snapshot for kind.
func (a *Aggregator) GetCounts(kind protocol.EntityKind) Counts {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := Counts{Total: a.totals[kind], ActiveByStatus: make(map[string]int)}
	for s, n := range a.active[kind] {
		c.ActiveByStatus[s] = n
	}
	return c
}

// Late returns how many events arrived behind an already applied version.
func (a *Aggregator) Late() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.late
}

const rebuildPage = 500

// Rebuild discards current state and replays the transition log.
// Unfulfilled dispatch ids are not in the log and start over empty.
func (a *Aggregator) Rebuild(ctx context.Context, src TransitionSource) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
	var after int64
	n := 0
	for {
		page, err := src.ListTransitions(ctx, after, rebuildPage)
		if err != nil {
			return n, err
		}
		for _, t := range page {
			a.observe(t)
			after = t.ID
			n++
		}
		if len(page) < rebuildPage {
			break
		}
	}
	a.log.Info().Int("transitions", n).Msg("statistics rebuilt")
	return n, nil
}
