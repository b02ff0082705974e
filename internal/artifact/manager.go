package artifact

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Manager couples the artifact store with the generation registry.
// Promotion checks that a generation loads completely before recording it.
type Manager struct {
	store    *Store
	registry domain.GenerationRegistry
}

// NewManager creates a manager.
func NewManager(store *Store, registry domain.GenerationRegistry) *Manager {
	return &Manager{store: store, registry: registry}
}

// Store returns the underlying artifact store.
func (m *Manager) Store() *Store {
	return m.store
}

// Publish saves a generation and registers it. The generation is not promoted.
func (m *Manager) Publish(ctx context.Context, g *Generation) (domain.GenerationInfo, error) {
	path, err := m.store.Save(g)
	if err != nil {
		return domain.GenerationInfo{}, err
	}

	info := domain.GenerationInfo{
		ID:        g.ID,
		CreatedAt: g.Manifest.CreatedAt,
		Source:    g.Manifest.Source,
		Path:      path,
		Rows:      g.Manifest.Rows.Resampled,
		Metrics:   g.Manifest.Metrics,
	}
	if err := m.registry.RegisterGeneration(ctx, info); err != nil {
		return domain.GenerationInfo{}, fmt.Errorf("register generation %s: %w", g.ID, err)
	}

	slog.Info("generation published",
		"generation_id", g.ID,
		"source", info.Source,
		"rows", info.Rows,
		"accuracy", info.Metrics.Accuracy,
		"roc_auc", info.Metrics.ROCAUC,
	)
	return info, nil
}

// List returns registered generations, newest first.
func (m *Manager) List(ctx context.Context) ([]domain.GenerationInfo, error) {
	return m.registry.ListGenerations(ctx)
}

// Promote verifies the generation is complete on disk, then promotes it.
func (m *Manager) Promote(ctx context.Context, id string) (*domain.GenerationInfo, error) {
	if _, err := m.registry.GetGeneration(ctx, id); err != nil {
		return nil, err
	}
	if _, err := m.store.Load(id); err != nil {
		return nil, err
	}
	if err := m.registry.PromoteGeneration(ctx, id); err != nil {
		return nil, err
	}
	slog.Info("generation promoted", "generation_id", id)
	return m.registry.GetGeneration(ctx, id)
}

// Rollback re-promotes the previously promoted generation.
func (m *Manager) Rollback(ctx context.Context) (*domain.GenerationInfo, error) {
	info, err := m.registry.RollbackGeneration(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("generation rolled back", "generation_id", info.ID)
	return info, nil
}

// Promoted returns the promoted generation's registry entry.
func (m *Manager) Promoted(ctx context.Context) (*domain.GenerationInfo, error) {
	return m.registry.PromotedGeneration(ctx)
}

// LoadPromoted loads the promoted generation's artifacts.
func (m *Manager) LoadPromoted(ctx context.Context) (*Generation, error) {
	info, err := m.registry.PromotedGeneration(ctx)
	if err != nil {
		return nil, err
	}
	return m.store.Load(info.ID)
}
