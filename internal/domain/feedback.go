package domain

import (
	"context"
	"fmt"
)

// Fraud labels accepted on feedback.
const (
	LabelYes = "Yes"
	LabelNo  = "No"
)

// Mitigation outcomes accepted on mitigation feedback.
const (
	OutcomeSuccess = "Success"
	OutcomeFailure = "Failure"
)

// FeedbackRecord is a reviewed transaction with its confirmed fraud label.
// Records are append-only.
type FeedbackRecord struct {
	Transaction
	IsFraud string `json:"Is_Fraud"`
}

// Validate checks the transaction fields, the Time format and the label
// enum. A record that could not be trained on is never appended.
func (r FeedbackRecord) Validate() error {
	if err := r.Transaction.validateLogged(); err != nil {
		return err
	}
	if r.IsFraud != LabelYes && r.IsFraud != LabelNo {
		return fmt.Errorf("%w: Is_Fraud must be %q or %q", ErrInvalidInput, LabelYes, LabelNo)
	}
	return nil
}

// Fraud reports whether the record carries a fraud label.
func (r FeedbackRecord) Fraud() bool {
	return r.IsFraud == LabelYes
}

// MitigationFeedbackRecord is a transaction with an applied mitigation and its outcome.
// Records are append-only.
type MitigationFeedbackRecord struct {
	Transaction
	Mitigation string `json:"Mitigation"`
	Outcome    string `json:"Outcome"`
}

// Validate checks the transaction fields, the Time format and the outcome
// enum.
func (r MitigationFeedbackRecord) Validate() error {
	if err := r.Transaction.validateLogged(); err != nil {
		return err
	}
	if r.Outcome != OutcomeSuccess && r.Outcome != OutcomeFailure {
		return fmt.Errorf("%w: Outcome must be %q or %q", ErrInvalidInput, OutcomeSuccess, OutcomeFailure)
	}
	return nil
}

// FeedbackStore persists reviewed feedback for later retraining.
// Appends to one log are serialized; the two logs are independent.
type FeedbackStore interface {
	AppendFeedback(ctx context.Context, rec FeedbackRecord) error
	AppendMitigationFeedback(ctx context.Context, rec MitigationFeedbackRecord) error

	// ListFeedback returns all feedback in append order. A store with no
	// records returns an empty slice, not an error.
	ListFeedback(ctx context.Context) ([]FeedbackRecord, error)
	ListMitigationFeedback(ctx context.Context) ([]MitigationFeedbackRecord, error)

	Close() error
}
