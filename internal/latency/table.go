/*
Package latency implements the per-region Latency Table: a process-local, concurrency-safe mapping
from Region Key to a per-upstream exponentially-weighted moving average of observed round-trip
latency. The Racing Dispatcher (internal/dispatcher) consults it via order() to decide launch order
and feeds it via observe() after every winning fetch.

The table is intentionally dumb: it has no notion of a single "best" server, no periodic resampling,
and no failure bookkeeping. Those belong to the Racing Dispatcher's own concurrency model - the
table's only job is "what do we currently believe about latency for this (region, upstream) pair".

Missing entries sort after all observed ones (+infinity), and the first observation for a pair seeds
the EMA directly rather than averaging against a zero baseline.
*/
package latency

import (
	"math"
	"sort"
	"sync"

	"github.com/dohrelay/dohrelay/internal/constants"
)

// Table is the Latency Table described by the data model. The zero value is not usable; construct
// one with New().
type Table struct {
	alpha float64 // EMA smoothing factor, fixed at construction time

	mu      sync.RWMutex // Protects regions below
	regions map[string]map[string]float64
}

// New constructs an empty Latency Table using the default EMA smoothing factor from
// internal/constants. Regions and upstreams are created lazily on first observation.
func New() *Table {
	return &Table{
		alpha:   constants.Get().LatencyEMAlpha,
		regions: make(map[string]map[string]float64),
	}
}

// Order returns a copy of upstreams stably sorted by ascending known latency for region. Upstreams
// with no observation sort after all observed ones, preserving their relative input order among
// themselves. order() and observe() may run concurrently; the latency snapshot below is taken under
// the read lock so the sort itself never touches the shared map, which is the only way to race
// observe()'s write lock on it. A sort against a snapshot may use a value that's since gone stale,
// which is acceptable since sort order is advisory only.
func (t *Table) Order(region string, upstreams []string) []string {
	t.mu.RLock()
	byUpstream := t.regions[region]
	snapshot := make(map[string]float64, len(byUpstream))
	for u, ms := range byUpstream {
		snapshot[u] = ms
	}
	t.mu.RUnlock()

	out := make([]string, len(upstreams))
	copy(out, upstreams)

	latencyOf := func(u string) float64 {
		if v, ok := snapshot[u]; ok {
			return v
		}

		return math.Inf(1)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return latencyOf(out[i]) < latencyOf(out[j])
	})

	return out
}

// Observe applies the EMA update for (region, upstream): next = prev + alpha*(ms-prev). The first
// observation for a pair seeds the value directly rather than averaging against zero. ms must be
// non-negative and finite, otherwise Observe is a no-op - a transport failure should never pollute
// the table with a synthetic latency value.
func (t *Table) Observe(region, upstream string, ms float64) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	byUpstream, ok := t.regions[region]
	if !ok {
		byUpstream = make(map[string]float64)
		t.regions[region] = byUpstream
	}

	prev, known := byUpstream[upstream]
	if !known {
		byUpstream[upstream] = ms
		return
	}

	byUpstream[upstream] = prev + t.alpha*(ms-prev)
}

// Name satisfies internal/reporter.Reporter.
func (t *Table) Name() string {
	return "Latency Table"
}
