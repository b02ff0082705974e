package domain

// Classifier produces a binary fraud prediction for a feature vector.
type Classifier interface {
	Predict(v FeatureVector) bool
}

// ProbabilisticClassifier can also estimate the probability of fraud.
type ProbabilisticClassifier interface {
	Classifier
	PredictProba(v FeatureVector) float64
}

// FraudProbability returns the classifier's probability estimate, or the
// binary prediction as 0 or 1 when no estimate is available.
func FraudProbability(c Classifier, v FeatureVector) float64 {
	if pc, ok := c.(ProbabilisticClassifier); ok {
		return pc.PredictProba(v)
	}
	if c.Predict(v) {
		return 1
	}
	return 0
}

// Sample is one weighted, labeled training row.
type Sample struct {
	Features FeatureVector
	Fraud    bool
	Weight   float64
}
