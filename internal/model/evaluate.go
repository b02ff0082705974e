package model

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Outcome is one scored prediction with its true label.
type Outcome struct {
	Probability float64
	Flagged     bool
	Fraud       bool
}

// Evaluate scores a classifier on labeled samples. Sample weights are
// ignored; every row counts once.
func Evaluate(c domain.Classifier, samples []domain.Sample) domain.Metrics {
	outcomes := make([]Outcome, len(samples))
	for i, s := range samples {
		outcomes[i] = Outcome{
			Probability: domain.FraudProbability(c, s.Features),
			Flagged:     c.Predict(s.Features),
			Fraud:       s.Fraud,
		}
	}
	return Summarize(outcomes)
}

// Summarize computes detection metrics over outcomes. ROC-AUC is 0 when
// only one class is present.
func Summarize(outcomes []Outcome) domain.Metrics {
	var tp, fp, tn, fn int
	for _, o := range outcomes {
		switch {
		case o.Flagged && o.Fraud:
			tp++
		case o.Flagged && !o.Fraud:
			fp++
		case !o.Flagged && o.Fraud:
			fn++
		default:
			tn++
		}
	}

	m := domain.Metrics{Support: len(outcomes)}
	if len(outcomes) == 0 {
		return m
	}
	m.Accuracy = float64(tp+tn) / float64(len(outcomes))
	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	m.ROCAUC = rocAUC(outcomes)
	return m
}

// rocAUC computes the Mann-Whitney statistic with average ranks for ties.
func rocAUC(outcomes []Outcome) float64 {
	var pos, neg int
	for _, o := range outcomes {
		if o.Fraud {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0
	}

	sorted := make([]Outcome, len(outcomes))
	copy(sorted, outcomes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Probability < sorted[j].Probability })

	var rankSum float64
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j].Probability == sorted[i].Probability {
			j++
		}
		avg := float64(i+j+1) / 2 // ranks are 1-based: (i+1 + j) / 2
		for k := i; k < j; k++ {
			if sorted[k].Fraud {
				rankSum += avg
			}
		}
		i = j
	}

	return (rankSum - float64(pos)*float64(pos+1)/2) / (float64(pos) * float64(neg))
}
