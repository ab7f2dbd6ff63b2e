// Package rank combines vector, graph, confidence, and freshness signals
// into a single deterministic ordering of retrieval results.
package rank

import (
	"math"
	"sort"
	"time"

	"github.com/recallgraph/recalld/internal/models"
)

// Weights controls the relative importance of each ranking factor.
type Weights struct {
	Vector     float64 `json:"vector" mapstructure:"vector"`
	Graph      float64 `json:"graph" mapstructure:"graph"`
	Confidence float64 `json:"confidence" mapstructure:"confidence"`
	Freshness  float64 `json:"freshness" mapstructure:"freshness"`
}

// DefaultWeights returns the default ranking weights.
func DefaultWeights() Weights {
	return Weights{
		Vector:     0.55,
		Graph:      0.25,
		Confidence: 0.15,
		Freshness:  0.05,
	}
}

// DefaultFreshnessDecayDays is the default exponential decay constant for
// the freshness factor, in days.
const DefaultFreshnessDecayDays = 30.0

// Ranker scores and orders hybrid retrieval results.
type Ranker struct {
	weights   Weights
	decayDays float64
}

// NewRanker creates a ranker with the given weights and freshness decay
// constant. A non-positive decay falls back to the default.
func NewRanker(weights Weights, decayDays float64) *Ranker {
	if decayDays <= 0 {
		decayDays = DefaultFreshnessDecayDays
	}
	return &Ranker{weights: weights, decayDays: decayDays}
}

// Rank fills in the per-factor and combined scores of each result, then
// sorts descending by combined score. Ties break on newer created_at, then
// lexicographically lower id, so repeated searches return stable orderings.
func (r *Ranker) Rank(results []models.ScoredMemory, now time.Time) []models.ScoredMemory {
	for i := range results {
		m := &results[i]
		m.Freshness = freshness(m.Record.CreatedAt, now, r.decayDays)
		m.CombinedScore = r.weights.Vector*m.VectorScore +
			r.weights.Graph*m.GraphScore +
			r.weights.Confidence*float64(m.Record.Confidence)/10.0 +
			r.weights.Freshness*m.Freshness
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := &results[i], &results[j]
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		if !a.Record.CreatedAt.Equal(b.Record.CreatedAt) {
			return a.Record.CreatedAt.After(b.Record.CreatedAt)
		}
		return a.Record.ID < b.Record.ID
	})
	return results
}

// freshness is an exponential decay over record age in days.
func freshness(createdAt, now time.Time, decayDays float64) float64 {
	if createdAt.IsZero() {
		return 0
	}
	ageDays := now.Sub(createdAt).Hours() / 24.0
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / decayDays)
}
