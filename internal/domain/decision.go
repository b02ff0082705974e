package domain

// UserAmountProfile holds historical amount statistics for one user.
type UserAmountProfile struct {
	UserID      int     `json:"userId"`
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"stdDev"`
	SampleCount int     `json:"sampleCount"`
}

// DecisionAnalysis is the structured record of one fusion decision.
// It is returned to the caller and never persisted by the decision core.
type DecisionAnalysis struct {
	MLPrediction       bool               `json:"mlPrediction"`
	AmountFraud        bool               `json:"amountFraud"`
	CityFraud          bool               `json:"cityFraud"`
	CityRiskScore      float64            `json:"cityRiskScore"`
	UserStats          *UserAmountProfile `json:"userStats,omitempty"`
	Policy             string             `json:"policy"`
	FinalPrediction    bool               `json:"finalPrediction"`
	DecisionReason     string             `json:"decisionReason"`
	PatternExplanation string             `json:"patternExplanation"`
}

// Verdict labels used in decision responses.
const (
	VerdictFraud    = "FRAUD"
	VerdictNotFraud = "NOT FRAUD"
)

// VerdictLabel maps a boolean verdict to its response label.
func VerdictLabel(fraud bool) string {
	if fraud {
		return VerdictFraud
	}
	return VerdictNotFraud
}

// Decision is the complete serving result for one transaction.
type Decision struct {
	ID           string           `json:"decision_id"`
	GenerationID string           `json:"generation_id"`
	Prediction   string           `json:"prediction"`
	RiskScore    int              `json:"risk_score"`
	Mitigation   string           `json:"mitigation"`
	Pattern      string           `json:"pattern"`
	Probability  float64          `json:"-"`
	Analysis     DecisionAnalysis `json:"-"`
}
