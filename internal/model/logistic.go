// Package model provides the built-in fraud classifier, a weighted logistic
// regression over the transaction feature vector, and hold-out metrics.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Kind identifies the serialized classifier format.
const Kind = "logistic_regression"

// Params controls fitting.
type Params struct {
	Epochs       int
	LearningRate float64
	BatchSize    int
	L2           float64
	Seed         uint64
}

// DefaultParams returns the fitting defaults.
func DefaultParams() Params {
	return Params{
		Epochs:       30,
		LearningRate: 0.1,
		BatchSize:    256,
		L2:           0.0001,
		Seed:         42,
	}
}

// ErrNoSamples is returned when fitting on an empty set.
var ErrNoSamples = errors.New("no training samples")

// Logistic is a fitted logistic regression. Inputs are standardized with
// the per-column mean and deviation captured at fit time. A fitted model
// is never mutated.
type Logistic struct {
	Kind    string                        `json:"kind"`
	Weights [domain.FeatureCount]float64 `json:"weights"`
	Bias    float64                       `json:"bias"`
	Mean    [domain.FeatureCount]float64 `json:"mean"`
	Std     [domain.FeatureCount]float64 `json:"std"`
}

// Fit trains a model by mini-batch gradient descent on weighted samples.
// Each sample's gradient contribution is scaled by its weight. Shuffling is
// seeded, so equal inputs produce equal models.
func Fit(samples []domain.Sample, p Params) (*Logistic, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	if p.Epochs <= 0 {
		p.Epochs = DefaultParams().Epochs
	}
	if p.LearningRate <= 0 {
		p.LearningRate = DefaultParams().LearningRate
	}
	if p.BatchSize <= 0 {
		p.BatchSize = DefaultParams().BatchSize
	}

	m := &Logistic{Kind: Kind}
	m.fitStandardization(samples)

	xs := make([][domain.FeatureCount]float64, len(samples))
	for i, s := range samples {
		xs[i] = m.standardize(s.Features)
	}

	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
	idx := make([]int, len(samples))
	for i := range idx {
		idx[i] = i
	}

	for epoch := 0; epoch < p.Epochs; epoch++ {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		for start := 0; start < len(idx); start += p.BatchSize {
			end := min(start+p.BatchSize, len(idx))

			var grad [domain.FeatureCount]float64
			var gradBias, wsum float64
			for _, k := range idx[start:end] {
				w := samples[k].Weight
				if w <= 0 {
					continue
				}
				y := 0.0
				if samples[k].Fraud {
					y = 1
				}
				e := (m.logit(xs[k]) - y) * w
				for j, x := range xs[k] {
					grad[j] += e * x
				}
				gradBias += e
				wsum += w
			}
			if wsum == 0 {
				continue
			}

			for j := range m.Weights {
				m.Weights[j] -= p.LearningRate * (grad[j]/wsum + p.L2*m.Weights[j])
			}
			m.Bias -= p.LearningRate * gradBias / wsum
		}
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("fit diverged: %w", err)
	}
	return m, nil
}

func (m *Logistic) fitStandardization(samples []domain.Sample) {
	n := float64(len(samples))
	for _, s := range samples {
		for j, x := range s.Features.Values() {
			m.Mean[j] += x
		}
	}
	for j := range m.Mean {
		m.Mean[j] /= n
	}
	for _, s := range samples {
		for j, x := range s.Features.Values() {
			d := x - m.Mean[j]
			m.Std[j] += d * d
		}
	}
	for j := range m.Std {
		m.Std[j] = math.Sqrt(m.Std[j] / n)
		if m.Std[j] == 0 {
			m.Std[j] = 1
		}
	}
}

func (m *Logistic) standardize(v domain.FeatureVector) [domain.FeatureCount]float64 {
	x := v.Values()
	for j := range x {
		x[j] = (x[j] - m.Mean[j]) / m.Std[j]
	}
	return x
}

func (m *Logistic) logit(x [domain.FeatureCount]float64) float64 {
	z := m.Bias
	for j := range x {
		z += m.Weights[j] * x[j]
	}
	return sigmoid(z)
}

// PredictProba returns the estimated probability of fraud.
func (m *Logistic) PredictProba(v domain.FeatureVector) float64 {
	return m.logit(m.standardize(v))
}

// Predict is PredictProba ≥ 0.5.
func (m *Logistic) Predict(v domain.FeatureVector) bool {
	return m.PredictProba(v) >= 0.5
}

// Validate rejects non-finite parameters and zero deviations.
func (m *Logistic) Validate() error {
	if m.Kind != Kind {
		return fmt.Errorf("unsupported classifier kind %q", m.Kind)
	}
	if !finite(m.Bias) {
		return errors.New("non-finite bias")
	}
	for j := 0; j < domain.FeatureCount; j++ {
		if !finite(m.Weights[j]) || !finite(m.Mean[j]) || !finite(m.Std[j]) || m.Std[j] == 0 {
			return fmt.Errorf("invalid parameters for column %s", domain.FeatureNames[j])
		}
	}
	return nil
}

// Decode parses and validates a serialized model.
func Decode(data []byte) (*Logistic, error) {
	var m Logistic
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode classifier: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("decode classifier: %w", err)
	}
	return &m, nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
