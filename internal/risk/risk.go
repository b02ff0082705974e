// Package risk converts the classifier probability and raw transaction
// fields into a bounded, interpretable 0–100 risk score.
package risk

import (
	"math"
	"strconv"
	"strings"
)

// Score weights.
const (
	ProbabilityWeight = 70
	DeviationWeight   = 20
	TimeWeight        = 10
)

// Input carries everything the scorer reads.
type Input struct {
	Probability float64
	Amount      float64
	// UserMean is the user's historical mean amount; HasUserMean is false
	// for users without a profile.
	UserMean    float64
	HasUserMean bool
	Time        string
}

// Score returns round(p×70 + deviation×20 + time_risk×10) clamped to [0,100].
func Score(in Input) int {
	raw := in.Probability*ProbabilityWeight +
		Deviation(in.Amount, in.UserMean, in.HasUserMean)*DeviationWeight +
		TimeRisk(in.Time)*TimeWeight

	if math.IsNaN(raw) {
		return 0
	}
	s := math.Round(raw)
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return int(s)
}

// Deviation is |amount/mean| when a positive mean is known, else 1.
func Deviation(amount, mean float64, known bool) float64 {
	if !known || mean <= 0 {
		return 1
	}
	return math.Abs(amount / mean)
}

// TimeRisk is 1 for hours in [20,24) ∪ [0,6) and 0 otherwise. Only the
// hour before the first ':' is read; an unparsable hour scores 0.
func TimeRisk(t string) float64 {
	h, _, _ := strings.Cut(strings.TrimSpace(t), ":")
	hour, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return 0
	}
	if hour >= 20 || hour < 6 {
		return 1
	}
	return 0
}
