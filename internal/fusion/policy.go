package fusion

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Policy selects how the three risk signals combine into a verdict.
type Policy int

const (
	// Balanced flags when any signal flags. It is the default.
	Balanced Policy = iota
	// MLFirst follows the classifier alone.
	MLFirst
	// AmountFirst follows the amount flag for profiled users, else the classifier.
	AmountFirst
	// CityFirst follows the city rarity flag alone.
	CityFirst
	// Majority flags when at least two of the three signals flag.
	Majority
)

var policyNames = map[Policy]string{
	Balanced:    "balanced",
	MLFirst:     "ml_first",
	AmountFirst: "amount_first",
	CityFirst:   "city_first",
	Majority:    "majority",
}

// Policies lists every policy in declaration order.
func Policies() []Policy {
	return []Policy{Balanced, MLFirst, AmountFirst, CityFirst, Majority}
}

// ParsePolicy maps a configured name to a Policy. An empty name selects
// Balanced; an unknown name returns domain.ErrUnknownPolicy.
func ParsePolicy(name string) (Policy, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return Balanced, nil
	}
	for p, s := range policyNames {
		if s == n {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", domain.ErrUnknownPolicy, name)
}

func (p Policy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// Signals are the three per-transaction risk flags plus whether the user
// has a historical profile.
type Signals struct {
	Classifier  bool
	AmountFraud bool
	CityFraud   bool
	HasProfile  bool
}

// Votes counts how many of the three signals flag.
func (s Signals) Votes() int {
	n := 0
	for _, f := range []bool{s.Classifier, s.AmountFraud, s.CityFraud} {
		if f {
			n++
		}
	}
	return n
}

// Verdict applies the policy to the signals.
func (p Policy) Verdict(s Signals) bool {
	switch p {
	case MLFirst:
		return s.Classifier
	case AmountFirst:
		if s.HasProfile {
			return s.AmountFraud
		}
		return s.Classifier
	case CityFirst:
		return s.CityFraud
	case Majority:
		return s.Votes() >= 2
	default:
		return s.Classifier || s.AmountFraud || s.CityFraud
	}
}

// Reason describes which rule produced the verdict.
func (p Policy) Reason(s Signals, verdict bool) string {
	label := domain.VerdictLabel(verdict)
	switch p {
	case MLFirst:
		return "ML Model Priority: " + label
	case AmountFirst:
		if s.HasProfile {
			return "Amount Priority: " + label
		}
		return "Amount Priority (New User): ML Model " + label
	case CityFirst:
		return "City Priority: " + label
	case Majority:
		return fmt.Sprintf("Majority Vote: %d/3 flags = %s", s.Votes(), label)
	default:
		return "Balanced (OR Logic): " + label
	}
}
