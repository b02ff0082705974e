package fusion

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/cities"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/profiles"
)

func TestParsePolicy(t *testing.T) {
	for _, p := range Policies() {
		got, err := ParsePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	got, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, Balanced, got)

	got, err = ParsePolicy(" Majority ")
	require.NoError(t, err)
	assert.Equal(t, Majority, got)

	_, err = ParsePolicy("weighted")
	assert.True(t, errors.Is(err, domain.ErrUnknownPolicy))
}

// combos enumerates all 8 assignments of the three signals.
func combos() []Signals {
	var out []Signals
	for i := 0; i < 8; i++ {
		out = append(out, Signals{
			Classifier:  i&1 != 0,
			AmountFraud: i&2 != 0,
			CityFraud:   i&4 != 0,
			HasProfile:  true,
		})
	}
	return out
}

func TestMajorityTruthTable(t *testing.T) {
	for _, s := range combos() {
		want := s.Votes() >= 2
		assert.Equalf(t, want, Majority.Verdict(s), "signals %+v", s)
	}
}

func TestBalancedTruthTable(t *testing.T) {
	for _, s := range combos() {
		want := s.Classifier || s.AmountFraud || s.CityFraud
		assert.Equalf(t, want, Balanced.Verdict(s), "signals %+v", s)
	}
}

func TestSingleSignalPolicies(t *testing.T) {
	for _, s := range combos() {
		assert.Equal(t, s.Classifier, MLFirst.Verdict(s))
		assert.Equal(t, s.CityFraud, CityFirst.Verdict(s))
	}
}

func TestAmountFirst(t *testing.T) {
	t.Run("KnownUserIgnoresClassifier", func(t *testing.T) {
		for _, s := range combos() {
			assert.Equalf(t, s.AmountFraud, AmountFirst.Verdict(s), "signals %+v", s)
		}
	})

	t.Run("UnknownUserEqualsMLFirst", func(t *testing.T) {
		for _, s := range combos() {
			s.HasProfile = false
			assert.Equalf(t, MLFirst.Verdict(s), AmountFirst.Verdict(s), "signals %+v", s)
		}
	})
}

func testEngine(t *testing.T, policy Policy) *Engine {
	t.Helper()

	ps := profiles.Build([]domain.Transaction{{User: 1, City: "Austin", Time: "10:00", Amount: 100_000}})
	tbl, err := cities.FromFrequencies(map[string]float64{
		"Austin":    0.9895,
		"Smalltown": 0.0005,
		"Boston":    0.01,
	})
	require.NoError(t, err)
	return NewEngine(policy, ps, tbl)
}

func TestAnalyze(t *testing.T) {
	base := domain.Transaction{User: 1, City: "Austin", Year: 2020, Month: 5, Day: 1, Time: "12:00"}

	t.Run("AmountAnomaly", func(t *testing.T) {
		e := testEngine(t, Balanced)
		tx := base
		tx.Amount = 400_000

		a := e.Analyze(tx, false)
		assert.True(t, a.AmountFraud)
		assert.True(t, a.FinalPrediction)
		assert.Contains(t, a.PatternExplanation, "3x above user's average")
		assert.Contains(t, a.PatternExplanation, "400,000")
		assert.Contains(t, a.PatternExplanation, "100,000")
		require.NotNil(t, a.UserStats)
		assert.Equal(t, 1, a.UserStats.SampleCount)
		assert.Equal(t, "Balanced (OR Logic): FRAUD", a.DecisionReason)
	})

	t.Run("RareCity", func(t *testing.T) {
		e := testEngine(t, CityFirst)
		tx := base
		tx.City = "Smalltown"
		tx.Amount = 10

		a := e.Analyze(tx, false)
		assert.True(t, a.CityFraud)
		assert.True(t, a.FinalPrediction)
		assert.InDelta(t, 0.0005, a.CityRiskScore, 1e-12)
		assert.Equal(t, "City 'Smalltown' is rarely used in transactions (risk score: 0.0005)", a.PatternExplanation)
	})

	t.Run("CommonCityNotRare", func(t *testing.T) {
		e := testEngine(t, CityFirst)
		tx := base
		tx.City = "Boston"
		tx.Amount = 10

		a := e.Analyze(tx, false)
		assert.False(t, a.CityFraud)
		assert.False(t, a.FinalPrediction)
	})

	t.Run("ClassifierOnly", func(t *testing.T) {
		e := testEngine(t, MLFirst)
		tx := base
		tx.Amount = 50

		a := e.Analyze(tx, true)
		assert.True(t, a.FinalPrediction)
		assert.Contains(t, a.PatternExplanation, "detected suspicious pattern")
		assert.Equal(t, "ML Model Priority: FRAUD", a.DecisionReason)
	})

	t.Run("NewUserNormal", func(t *testing.T) {
		e := testEngine(t, Balanced)
		tx := base
		tx.User = 42
		tx.Amount = 1_000_000

		a := e.Analyze(tx, false)
		assert.False(t, a.AmountFraud)
		assert.False(t, a.FinalPrediction)
		assert.Nil(t, a.UserStats)
		assert.Contains(t, a.PatternExplanation, "new user, no history")
	})

	t.Run("NewUserAmountFirstFallsBackToClassifier", func(t *testing.T) {
		e := testEngine(t, AmountFirst)
		tx := base
		tx.User = 42

		a := e.Analyze(tx, true)
		assert.True(t, a.FinalPrediction)
		assert.Equal(t, "Amount Priority (New User): ML Model FRAUD", a.DecisionReason)
	})

	t.Run("KnownUserNormal", func(t *testing.T) {
		e := testEngine(t, Majority)
		tx := base
		tx.Amount = 90_000

		a := e.Analyze(tx, false)
		assert.False(t, a.FinalPrediction)
		assert.Equal(t, "Majority Vote: 0/3 flags = NOT FRAUD", a.DecisionReason)
		assert.Contains(t, a.PatternExplanation, "appears normal")
	})
}
