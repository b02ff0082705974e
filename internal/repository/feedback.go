package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// AppendFeedback stores a labeled transaction.
func (r *SQLRepository) AppendFeedback(ctx context.Context, rec domain.FeedbackRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO feedback (
			id, recorded_ns, user_id, city, year, month, day, time, amount, is_fraud
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		uuid.New().String(), r.now(),
		rec.User, rec.City, rec.Year, rec.Month, rec.Day, rec.Time, rec.Amount,
		rec.IsFraud,
	)
	return err
}

// AppendMitigationFeedback stores a mitigation outcome.
func (r *SQLRepository) AppendMitigationFeedback(ctx context.Context, rec domain.MitigationFeedbackRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO mitigation_feedback (
			id, recorded_ns, user_id, city, year, month, day, time, amount, mitigation, outcome
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		uuid.New().String(), r.now(),
		rec.User, rec.City, rec.Year, rec.Month, rec.Day, rec.Time, rec.Amount,
		rec.Mitigation, rec.Outcome,
	)
	return err
}

// ListFeedback returns every labeled transaction in append order.
func (r *SQLRepository) ListFeedback(ctx context.Context) ([]domain.FeedbackRecord, error) {
	query := `
		SELECT user_id, city, year, month, day, time, amount, is_fraud
		FROM feedback
		ORDER BY recorded_ns, id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FeedbackRecord
	for rows.Next() {
		var rec domain.FeedbackRecord
		if err := rows.Scan(
			&rec.User, &rec.City, &rec.Year, &rec.Month, &rec.Day, &rec.Time, &rec.Amount,
			&rec.IsFraud,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListMitigationFeedback returns every mitigation outcome in append order.
func (r *SQLRepository) ListMitigationFeedback(ctx context.Context) ([]domain.MitigationFeedbackRecord, error) {
	query := `
		SELECT user_id, city, year, month, day, time, amount, mitigation, outcome
		FROM mitigation_feedback
		ORDER BY recorded_ns, id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MitigationFeedbackRecord
	for rows.Next() {
		var rec domain.MitigationFeedbackRecord
		if err := rows.Scan(
			&rec.User, &rec.City, &rec.Year, &rec.Month, &rec.Day, &rec.Time, &rec.Amount,
			&rec.Mitigation, &rec.Outcome,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
