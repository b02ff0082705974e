// Package fusion implements the decision fusion engine: it combines the
// classifier prediction, the per-user amount check and the city rarity
// check into one verdict under a configured policy.
package fusion

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/opensource-finance/kestrel/internal/cities"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/profiles"
)

// Engine fuses signals for one artifact generation. It is read-only and
// safe for concurrent use.
type Engine struct {
	policy   Policy
	profiles *profiles.Store
	cities   *cities.Table
	printer  *message.Printer
}

// NewEngine binds a policy to a generation's profile store and rarity table.
func NewEngine(policy Policy, ps *profiles.Store, tbl *cities.Table) *Engine {
	return &Engine{
		policy:   policy,
		profiles: ps,
		cities:   tbl,
		printer:  message.NewPrinter(language.English),
	}
}

// Policy returns the engine's fusion policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Analyze produces the verdict and its analysis for a transaction given
// the classifier's binary prediction.
func (e *Engine) Analyze(tx domain.Transaction, mlPrediction bool) domain.DecisionAnalysis {
	profile, hasProfile := e.profiles.Stats(tx.User)

	s := Signals{
		Classifier:  mlPrediction,
		AmountFraud: e.profiles.CheckAmountFraud(tx.User, tx.Amount),
		CityFraud:   e.cities.IsRare(tx.City),
		HasProfile:  hasProfile,
	}
	verdict := e.policy.Verdict(s)
	cityRisk := e.cities.Frequency(tx.City)

	a := domain.DecisionAnalysis{
		MLPrediction:       s.Classifier,
		AmountFraud:        s.AmountFraud,
		CityFraud:          s.CityFraud,
		CityRiskScore:      cityRisk,
		Policy:             e.policy.String(),
		FinalPrediction:    verdict,
		DecisionReason:     e.policy.Reason(s, verdict),
		PatternExplanation: e.explain(tx, s, profile, cityRisk),
	}
	if hasProfile {
		p := profile
		a.UserStats = &p
	}
	return a
}

// explain picks exactly one explanation, in order of precedence:
// amount anomaly, rare city, classifier, unknown user, normal.
func (e *Engine) explain(tx domain.Transaction, s Signals, profile domain.UserAmountProfile, cityRisk float64) string {
	switch {
	case s.AmountFraud && s.HasProfile:
		return e.printer.Sprintf("Amount %.0f is unusually high (3x above user's average of %.0f)", tx.Amount, profile.Mean)
	case s.CityFraud:
		return e.printer.Sprintf("City '%s' is rarely used in transactions (risk score: %.4f)", tx.City, cityRisk)
	case s.Classifier:
		return "ML classifier detected suspicious patterns in transaction features"
	case !s.HasProfile:
		return "Transaction from new user, no history for amount comparison"
	default:
		return "Transaction appears normal based on amount, city, and user patterns"
	}
}
