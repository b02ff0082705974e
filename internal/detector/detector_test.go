package detector

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/advisor"
	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/cities"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/fusion"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/profiles"
)

type fixedAdvisor struct {
	mu    sync.Mutex
	calls []advisor.Request
}

func (a *fixedAdvisor) Suggest(ctx context.Context, req advisor.Request) advisor.Suggestion {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, req)
	return advisor.Suggestion{Text: "Call the cardholder.", Source: advisor.SourceRemote}
}

// constantClassifier returns a model whose probability ignores the input:
// a large positive bias predicts fraud, a large negative bias does not.
func constantClassifier(bias float64) *model.Logistic {
	m := &model.Logistic{Kind: model.Kind, Bias: bias}
	for j := range m.Std {
		m.Std[j] = 1
	}
	return m
}

func testGeneration(id string, bias float64) *artifact.Generation {
	// 1999 Austin rows and one Nome row: Nome's frequency is 0.0005.
	names := make([]string, 0, 2000)
	for i := 0; i < 1999; i++ {
		names = append(names, "Austin")
	}
	names = append(names, "Nome")

	return &artifact.Generation{
		ID:         id,
		Classifier: constantClassifier(bias),
		Scaler:     features.FitScaler([]float64{10, 100, 1000}),
		Cities:     cities.Build(names),
		Profiles: profiles.Build([]domain.Transaction{
			{User: 1, City: "Austin", Time: "10:00", Amount: 100000},
			{User: 1, City: "Austin", Time: "11:00", Amount: 100000},
		}),
	}
}

func tx(user int, city, clock string, amount float64) domain.Transaction {
	return domain.Transaction{User: user, City: city, Year: 2024, Month: 3, Day: 9, Time: clock, Amount: amount}
}

func TestDetectorNotServing(t *testing.T) {
	d := New(fusion.Balanced, &fixedAdvisor{})
	assert.False(t, d.Ready())
	assert.Empty(t, d.GenerationID())

	_, err := d.Decide(context.Background(), tx(1, "Austin", "12:00", 10))
	assert.ErrorIs(t, err, domain.ErrNotServing)
}

func TestDetectorDecide(t *testing.T) {
	ctx := context.Background()
	adv := &fixedAdvisor{}
	d := New(fusion.Balanced, adv)
	_, err := d.Swap(testGeneration("g1", -20))
	require.NoError(t, err)

	t.Run("NewUserCommonCity", func(t *testing.T) {
		dec, err := d.Decide(ctx, tx(99, "Austin", "14:30", 50))
		require.NoError(t, err)

		assert.Equal(t, domain.VerdictNotFraud, dec.Prediction)
		assert.Equal(t, "Transaction from new user, no history for amount comparison", dec.Pattern)
		// p≈0, deviation 1 for an unknown user, daytime.
		assert.Equal(t, 20, dec.RiskScore)
		assert.Equal(t, "Call the cardholder.", dec.Mitigation)
		assert.Equal(t, "g1", dec.GenerationID)
		assert.NotEmpty(t, dec.ID)
	})

	t.Run("AmountAnomaly", func(t *testing.T) {
		dec, err := d.Decide(ctx, tx(1, "Austin", "23:45", 400000))
		require.NoError(t, err)

		assert.Equal(t, domain.VerdictFraud, dec.Prediction)
		assert.True(t, dec.Analysis.AmountFraud)
		assert.Contains(t, dec.Pattern, "3x above user's average")
		assert.Equal(t, "Amount 400,000 is unusually high (3x above user's average of 100,000)", dec.Pattern)
		// deviation 4 → 80, night → 10.
		assert.Equal(t, 90, dec.RiskScore)
		require.NotNil(t, dec.Analysis.UserStats)
		assert.Equal(t, 100000.0, dec.Analysis.UserStats.Mean)
	})

	t.Run("RareCity", func(t *testing.T) {
		dec, err := d.Decide(ctx, tx(99, "Nome", "9:05", 50))
		require.NoError(t, err)

		assert.Equal(t, domain.VerdictFraud, dec.Prediction)
		assert.True(t, dec.Analysis.CityFraud)
		assert.True(t, strings.HasPrefix(dec.Pattern, "City 'Nome' is rarely used"))
	})

	t.Run("AdvisorSeesScore", func(t *testing.T) {
		adv.mu.Lock()
		defer adv.mu.Unlock()
		require.NotEmpty(t, adv.calls)
		last := adv.calls[len(adv.calls)-1]
		assert.Equal(t, "Nome", last.City)
		assert.Equal(t, "9:05", last.Time)
	})

	t.Run("MalformedTime", func(t *testing.T) {
		_, err := d.Decide(ctx, tx(1, "Austin", "25:00", 10))
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
		assert.True(t, errors.Is(err, domain.ErrInvalidTime))
	})

	t.Run("MissingCity", func(t *testing.T) {
		_, err := d.Decide(ctx, tx(1, "", "10:00", 10))
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("AssessSkipsAdvisor", func(t *testing.T) {
		adv.mu.Lock()
		before := len(adv.calls)
		adv.mu.Unlock()

		dec, err := d.Assess(ctx, tx(99, "Austin", "14:30", 50))
		require.NoError(t, err)
		assert.Empty(t, dec.Mitigation)

		adv.mu.Lock()
		assert.Equal(t, before, len(adv.calls))
		adv.mu.Unlock()
	})
}

func TestDetectorPolicies(t *testing.T) {
	ctx := context.Background()

	// Classifier says fraud; the user is known and the amount is normal.
	normal := tx(1, "Austin", "12:00", 90000)

	tests := []struct {
		policy fusion.Policy
		want   string
	}{
		{fusion.MLFirst, domain.VerdictFraud},
		{fusion.AmountFirst, domain.VerdictNotFraud},
		{fusion.CityFirst, domain.VerdictNotFraud},
		{fusion.Majority, domain.VerdictNotFraud},
		{fusion.Balanced, domain.VerdictFraud},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			d := New(tt.policy, &fixedAdvisor{})
			_, err := d.Swap(testGeneration("g1", 20))
			require.NoError(t, err)

			dec, err := d.Assess(ctx, normal)
			require.NoError(t, err)
			assert.Equal(t, tt.want, dec.Prediction)
			assert.Equal(t, tt.policy.String(), dec.Analysis.Policy)
		})
	}
}

type stubSource struct {
	gen *artifact.Generation
	err error
}

func (s stubSource) LoadPromoted(ctx context.Context) (*artifact.Generation, error) {
	return s.gen, s.err
}

func TestDetectorReload(t *testing.T) {
	ctx := context.Background()
	d := New(fusion.Balanced, &fixedAdvisor{})

	id, err := d.Reload(ctx, stubSource{gen: testGeneration("g1", -20)})
	require.NoError(t, err)
	assert.Equal(t, "g1", id)

	// A failed reload keeps the current generation.
	_, err = d.Reload(ctx, stubSource{err: domain.ErrNoPromotedGeneration})
	assert.ErrorIs(t, err, domain.ErrNoPromotedGeneration)
	assert.Equal(t, "g1", d.GenerationID())

	incomplete := testGeneration("g2", -20)
	incomplete.Profiles = nil
	_, err = d.Reload(ctx, stubSource{gen: incomplete})
	assert.ErrorIs(t, err, domain.ErrIncompleteGeneration)
	assert.Equal(t, "g1", d.GenerationID())

	prev, err := d.Swap(testGeneration("g3", -20))
	require.NoError(t, err)
	assert.Equal(t, "g1", prev)
	assert.Equal(t, "g3", d.GenerationID())
}
