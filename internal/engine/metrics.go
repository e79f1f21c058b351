package engine

import "sync/atomic"

// Metrics holds the evaluator's telemetry counters. No wire format is
// mandated; callers take a Snapshot and export it however they like.
type Metrics struct {
	requests            atomic.Int64
	transactions        atomic.Int64
	recomputations      atomic.Int64
	cycles              atomic.Int64
	speculativeDiscards atomic.Int64
	maxParticipants     atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	// Requests is the number of top-level Request calls.
	Requests int64
	// Transactions counts tentative scopes opened.
	Transactions int64
	// Recomputations counts participant nodes evaluated a second time at
	// commit.
	Recomputations int64
	// Cycles counts reentrant evaluations routed to cycle resolution.
	Cycles int64
	// SpeculativeDiscards counts results thrown away because another
	// context published first.
	SpeculativeDiscards int64
	// MaxParticipants is the largest participant set of any transaction.
	MaxParticipants int64
}

// Snapshot returns a copy of the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Requests:            m.requests.Load(),
		Transactions:        m.transactions.Load(),
		Recomputations:      m.recomputations.Load(),
		Cycles:              m.cycles.Load(),
		SpeculativeDiscards: m.speculativeDiscards.Load(),
		MaxParticipants:     m.maxParticipants.Load(),
	}
}

// observeParticipants raises the participant-set high-water mark.
func (m *Metrics) observeParticipants(n int) {
	for {
		cur := m.maxParticipants.Load()
		if int64(n) <= cur || m.maxParticipants.CompareAndSwap(cur, int64(n)) {
			return
		}
	}
}
