// Package features turns raw transactions into the ordered feature vector
// consumed by the classifier.
package features

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/cities"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Scaler standardizes amounts with training-time parameters.
type Scaler struct {
	Mean  float64 `json:"mean"`
	Scale float64 `json:"scale"`
}

// FitScaler computes the mean and population standard deviation of amounts.
// A zero deviation is replaced by 1 so Apply stays finite.
func FitScaler(amounts []float64) Scaler {
	if len(amounts) == 0 {
		return Scaler{Mean: 0, Scale: 1}
	}
	var sum float64
	for _, a := range amounts {
		sum += a
	}
	mean := sum / float64(len(amounts))

	var ss float64
	for _, a := range amounts {
		d := a - mean
		ss += d * d
	}
	scale := math.Sqrt(ss / float64(len(amounts)))
	if scale == 0 {
		scale = 1
	}
	return Scaler{Mean: mean, Scale: scale}
}

// Apply returns (amount - Mean) / Scale.
func (s Scaler) Apply(amount float64) float64 {
	return (amount - s.Mean) / s.Scale
}

// Validate rejects parameters that would make Apply undefined.
func (s Scaler) Validate() error {
	if s.Scale == 0 || math.IsNaN(s.Scale) || math.IsInf(s.Scale, 0) || math.IsNaN(s.Mean) {
		return fmt.Errorf("invalid scaler parameters mean=%v scale=%v", s.Mean, s.Scale)
	}
	return nil
}

// Preprocessor maps a Transaction to a FeatureVector using fitted encoders.
// It holds no mutable state and is safe for concurrent use.
type Preprocessor struct {
	cities *cities.Table
	scaler Scaler
}

// NewPreprocessor binds a rarity table and an amount scaler.
func NewPreprocessor(tbl *cities.Table, scaler Scaler) *Preprocessor {
	return &Preprocessor{cities: tbl, scaler: scaler}
}

// Transform builds the feature vector. A malformed Time returns an error
// wrapping domain.ErrInvalidTime; an unseen city encodes as 0.
func (p *Preprocessor) Transform(tx domain.Transaction) (domain.FeatureVector, error) {
	clock, err := domain.ParseClock(tx.Time)
	if err != nil {
		return domain.FeatureVector{}, err
	}
	return p.vector(tx, clock), nil
}

func (p *Preprocessor) vector(tx domain.Transaction, clock domain.Clock) domain.FeatureVector {
	return domain.FeatureVector{
		User:         float64(tx.User),
		Year:         float64(tx.Year),
		Month:        float64(tx.Month),
		Day:          float64(tx.Day),
		Hour:         float64(clock.Hour),
		Minute:       float64(clock.Minute),
		CityEncoded:  p.cities.Frequency(tx.City),
		AmountScaled: p.scaler.Apply(tx.Amount),
	}
}

// Scaler returns the fitted amount scaler.
func (p *Preprocessor) Scaler() Scaler {
	return p.scaler
}

// Cities returns the rarity table used for encoding.
func (p *Preprocessor) Cities() *cities.Table {
	return p.cities
}
