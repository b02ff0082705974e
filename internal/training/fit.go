package training

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/opensource-finance/kestrel/internal/cities"
	"github.com/opensource-finance/kestrel/internal/corpus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/model"
)

// ErrEmptyCorpus is returned when no usable rows remain for fitting.
var ErrEmptyCorpus = errors.New("no usable training rows")

// Fitted holds the encoders and classifier fitted on one corpus.
type Fitted struct {
	Classifier *model.Logistic
	Scaler     features.Scaler
	Cities     *cities.Table
	// Metrics are measured on the chronological hold-out.
	Metrics domain.Metrics
}

type timedRow struct {
	corpus.Row
	clock domain.Clock
}

// Fit sorts rows chronologically, measures hold-out metrics by fitting on
// the earliest (1-testFraction) share and scoring the rest, then fits the
// final encoders and classifier on all rows. A row whose Time does not
// parse fails the whole fit.
func Fit(rows []corpus.Row, params model.Params, testFraction float64) (*Fitted, error) {
	timed := make([]timedRow, 0, len(rows))
	for i, r := range rows {
		c, err := domain.ParseClock(r.Tx.Time)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d (user %d, %s source): %w",
				domain.ErrInvalidInput, i, r.Tx.User, r.Source, err)
		}
		timed = append(timed, timedRow{Row: r, clock: c})
	}
	if len(timed) == 0 {
		return nil, ErrEmptyCorpus
	}

	slices.SortStableFunc(timed, func(a, b timedRow) int {
		return cmp.Or(
			cmp.Compare(a.Tx.Year, b.Tx.Year),
			cmp.Compare(a.Tx.Month, b.Tx.Month),
			cmp.Compare(a.Tx.Day, b.Tx.Day),
			cmp.Compare(a.clock.Hour, b.clock.Hour),
			cmp.Compare(a.clock.Minute, b.clock.Minute),
		)
	})

	var metrics domain.Metrics
	split := len(timed) - int(float64(len(timed))*testFraction)
	if testFraction > 0 && split > 0 && split < len(timed) {
		clf, pre, err := fitOn(timed[:split], params)
		if err != nil {
			return nil, fmt.Errorf("hold-out fit: %w", err)
		}
		metrics = model.Evaluate(clf, encode(pre, timed[split:]))
	}

	clf, pre, err := fitOn(timed, params)
	if err != nil {
		return nil, err
	}

	return &Fitted{
		Classifier: clf,
		Scaler:     pre.Scaler(),
		Cities:     pre.Cities(),
		Metrics:    metrics,
	}, nil
}

func fitOn(rows []timedRow, params model.Params) (*model.Logistic, *features.Preprocessor, error) {
	cityNames := make([]string, len(rows))
	amounts := make([]float64, len(rows))
	for i, r := range rows {
		cityNames[i] = r.Tx.City
		amounts[i] = r.Tx.Amount
	}

	pre := features.NewPreprocessor(cities.Build(cityNames), features.FitScaler(amounts))
	clf, err := model.Fit(encode(pre, rows), params)
	if err != nil {
		return nil, nil, err
	}
	return clf, pre, nil
}

// encode transforms rows with pre. Rows were pre-filtered for valid Time,
// so Transform cannot fail here.
func encode(pre *features.Preprocessor, rows []timedRow) []domain.Sample {
	out := make([]domain.Sample, 0, len(rows))
	for _, r := range rows {
		v, err := pre.Transform(r.Tx)
		if err != nil {
			continue
		}
		out = append(out, domain.Sample{Features: v, Fraud: r.Fraud, Weight: 1})
	}
	return out
}
