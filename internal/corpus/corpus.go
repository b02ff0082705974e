// Package corpus reads and writes the CSV files the engine learns from:
// the historical labeled corpus and the two append-only feedback logs.
package corpus

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Source records where a training row came from.
type Source int

const (
	Historical Source = iota
	Feedback
	Mitigation
)

func (s Source) String() string {
	switch s {
	case Historical:
		return "historical"
	case Feedback:
		return "feedback"
	case Mitigation:
		return "mitigation"
	default:
		return "unknown"
	}
}

// Row is one labeled transaction with its provenance.
type Row struct {
	Tx    domain.Transaction
	Fraud bool
	// Source decides the row's resampling weight.
	Source Source
	// Outcome is set for Mitigation rows only.
	Outcome string
}

// Column headers of the feedback logs.
var (
	FeedbackHeader   = []string{"User", "City", "Year", "Month", "Day", "Time", "Amount", "Is_Fraud"}
	MitigationHeader = []string{"User", "City", "Year", "Month", "Day", "Time", "Amount", "Mitigation", "Outcome"}
)

// Label column names accepted in the historical corpus.
var labelColumns = []string{"Is Fraud?", "Is_Fraud"}

// FromFeedback converts label feedback to rows, keeping the reviewer's label.
func FromFeedback(recs []domain.FeedbackRecord) []Row {
	out := make([]Row, 0, len(recs))
	for _, r := range recs {
		out = append(out, Row{Tx: r.Transaction, Fraud: r.Fraud(), Source: Feedback})
	}
	return out
}

// FromMitigation converts mitigation feedback to rows. Every mitigation row
// is labeled fraud regardless of outcome; a mitigation was only applied to
// transactions that were treated as fraud.
func FromMitigation(recs []domain.MitigationFeedbackRecord) []Row {
	out := make([]Row, 0, len(recs))
	for _, r := range recs {
		out = append(out, Row{Tx: r.Transaction, Fraud: true, Source: Mitigation, Outcome: r.Outcome})
	}
	return out
}

// Transactions returns the raw transactions of rows in order.
func Transactions(rows []Row) []domain.Transaction {
	out := make([]domain.Transaction, len(rows))
	for i, r := range rows {
		out[i] = r.Tx
	}
	return out
}
