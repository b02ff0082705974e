// Package training builds artifact generations: initial training from the
// historical corpus and feedback-driven retraining.
package training

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/opensource-finance/kestrel/internal/corpus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Resampling weights by provenance.
const (
	WeightDefault           = 1.0
	WeightMitigationSuccess = 2.0
)

// Weight returns a row's resampling weight. Successful mitigations count
// double; every other row counts once.
func Weight(r corpus.Row) float64 {
	if r.Source == corpus.Mitigation && r.Outcome == domain.OutcomeSuccess {
		return WeightMitigationSuccess
	}
	return WeightDefault
}

// WeightedSample draws n indices with replacement, each index i chosen with
// probability weights[i]/sum(weights). Equal seeds give equal draws.
func WeightedSample(weights []float64, n int, seed uint64) ([]int, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: sample size %d", domain.ErrInvalidInput, n)
	}
	if len(weights) == 0 {
		if n == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: sampling from an empty population", domain.ErrInvalidInput)
	}

	cum := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: weight %v at index %d", domain.ErrInvalidInput, w, i)
		}
		total += w
		cum[i] = total
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: all weights are zero", domain.ErrInvalidInput)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]int, n)
	for k := range out {
		u := rng.Float64() * total
		// First index whose cumulative weight exceeds u. Zero-weight rows
		// share their predecessor's cumulative value and are never chosen.
		i := sort.Search(len(cum), func(j int) bool { return cum[j] > u })
		if i == len(cum) {
			i = len(cum) - 1
		}
		out[k] = i
	}
	return out, nil
}

// Resample draws len(rows) rows with replacement, weighted by Weight.
func Resample(rows []corpus.Row, seed uint64) ([]corpus.Row, error) {
	weights := make([]float64, len(rows))
	for i, r := range rows {
		weights[i] = Weight(r)
	}

	idx, err := WeightedSample(weights, len(rows), seed)
	if err != nil {
		return nil, err
	}

	out := make([]corpus.Row, len(idx))
	for k, i := range idx {
		out[k] = rows[i]
	}
	return out, nil
}
