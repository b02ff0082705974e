package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Promotion actions recorded in the promotions table.
const (
	actionPromote  = "promote"
	actionRollback = "rollback"
)

// RegisterGeneration records a new generation without promoting it.
func (r *SQLRepository) RegisterGeneration(ctx context.Context, info domain.GenerationInfo) error {
	if info.ID == "" {
		return fmt.Errorf("%w: generation id is required", ErrInvalidInput)
	}

	metrics, err := json.Marshal(info.Metrics)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO generations (id, created_ns, source, path, row_count, metrics)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		info.ID, info.CreatedAt.UTC().UnixNano(), info.Source, info.Path, info.Rows, string(metrics),
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGeneration(s scanner) (*domain.GenerationInfo, error) {
	var info domain.GenerationInfo
	var createdNs int64
	var metrics string

	if err := s.Scan(&info.ID, &createdNs, &info.Source, &info.Path, &info.Rows, &metrics); err != nil {
		return nil, err
	}
	info.CreatedAt = time.Unix(0, createdNs).UTC()
	if err := json.Unmarshal([]byte(metrics), &info.Metrics); err != nil {
		return nil, fmt.Errorf("failed to parse metrics for generation %s: %w", info.ID, err)
	}
	return &info, nil
}

const generationColumns = `id, created_ns, source, path, row_count, metrics`

// GetGeneration retrieves one generation.
func (r *SQLRepository) GetGeneration(ctx context.Context, id string) (*domain.GenerationInfo, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = ?`

	info, err := scanGeneration(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrGenerationNotFound, id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	current, err := r.currentPromotion(ctx, r.db)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	info.Promoted = current != nil && current.generationID == info.ID
	return info, nil
}

// ListGenerations returns generations newest first.
func (r *SQLRepository) ListGenerations(ctx context.Context) ([]domain.GenerationInfo, error) {
	current, err := r.currentPromotion(ctx, r.db)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	query := `SELECT ` + generationColumns + ` FROM generations ORDER BY created_ns DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.GenerationInfo
	for rows.Next() {
		info, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		info.Promoted = current != nil && current.generationID == info.ID
		out = append(out, *info)
	}
	return out, rows.Err()
}

type promotion struct {
	seq          int64
	generationID string
	previousSeq  sql.NullInt64
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLRepository) currentPromotion(ctx context.Context, q querier) (*promotion, error) {
	var p promotion
	err := q.QueryRowContext(ctx, `
		SELECT seq, generation_id, previous_seq
		FROM promotions
		ORDER BY seq DESC
		LIMIT 1
	`).Scan(&p.seq, &p.generationID, &p.previousSeq)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *SQLRepository) promotionAt(ctx context.Context, q querier, seq int64) (*promotion, error) {
	var p promotion
	err := q.QueryRowContext(ctx, r.rebind(`
		SELECT seq, generation_id, previous_seq
		FROM promotions
		WHERE seq = ?
	`), seq).Scan(&p.seq, &p.generationID, &p.previousSeq)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *SQLRepository) insertPromotion(ctx context.Context, tx *sql.Tx, generationID string, previous sql.NullInt64, action string) error {
	var maxSeq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM promotions`).Scan(&maxSeq); err != nil {
		return err
	}

	query := `
		INSERT INTO promotions (seq, generation_id, previous_seq, action)
		VALUES (?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, r.rebind(query), maxSeq+1, generationID, previous, action)
	return err
}

// PromoteGeneration makes id the promoted generation. Promoting the
// already-promoted generation is a no-op.
func (r *SQLRepository) PromoteGeneration(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, r.rebind(`SELECT 1 FROM generations WHERE id = ?`), id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s: %w", domain.ErrGenerationNotFound, id, ErrNotFound)
	}
	if err != nil {
		return err
	}

	current, err := r.currentPromotion(ctx, tx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	var previous sql.NullInt64
	if current != nil {
		if current.generationID == id {
			return nil
		}
		previous = sql.NullInt64{Int64: current.seq, Valid: true}
	}

	if err := r.insertPromotion(ctx, tx, id, previous, actionPromote); err != nil {
		return err
	}
	return tx.Commit()
}

// PromotedGeneration returns the currently promoted generation.
func (r *SQLRepository) PromotedGeneration(ctx context.Context) (*domain.GenerationInfo, error) {
	current, err := r.currentPromotion(ctx, r.db)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoPromotedGeneration
	}
	if err != nil {
		return nil, err
	}
	return r.GetGeneration(ctx, current.generationID)
}

// RollbackGeneration restores the promotion that the current one superseded.
func (r *SQLRepository) RollbackGeneration(ctx context.Context) (*domain.GenerationInfo, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	current, err := r.currentPromotion(ctx, tx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoPromotedGeneration
	}
	if err != nil {
		return nil, err
	}
	if !current.previousSeq.Valid {
		return nil, domain.ErrNoRollbackTarget
	}

	restored, err := r.promotionAt(ctx, tx, current.previousSeq.Int64)
	if err != nil {
		return nil, fmt.Errorf("load superseded promotion: %w", err)
	}

	if err := r.insertPromotion(ctx, tx, restored.generationID, restored.previousSeq, actionRollback); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.GetGeneration(ctx, restored.generationID)
}
