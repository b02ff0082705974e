package domain

import (
	"context"
	"time"
)

// Generation sources.
const (
	SourceTrain   = "train"
	SourceRetrain = "retrain"
)

// Metrics are hold-out evaluation scores recorded when a generation is fitted.
type Metrics struct {
	Accuracy  float64 `json:"accuracy" yaml:"accuracy"`
	Precision float64 `json:"precision" yaml:"precision"`
	Recall    float64 `json:"recall" yaml:"recall"`
	F1        float64 `json:"f1" yaml:"f1"`
	ROCAUC    float64 `json:"rocAuc" yaml:"roc_auc"`
	Support   int     `json:"support" yaml:"support"`
}

// GenerationInfo describes one registered model artifact generation.
type GenerationInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Source    string    `json:"source"`
	Path      string    `json:"path"`
	Rows      int       `json:"rows"`
	Metrics   Metrics   `json:"metrics"`
	Promoted  bool      `json:"promoted"`
}

// GenerationRegistry tracks artifact generations and which one is promoted.
// Registering never promotes; promotion is an explicit operator action.
type GenerationRegistry interface {
	RegisterGeneration(ctx context.Context, info GenerationInfo) error
	GetGeneration(ctx context.Context, id string) (*GenerationInfo, error)

	// ListGenerations returns generations newest first.
	ListGenerations(ctx context.Context) ([]GenerationInfo, error)

	PromoteGeneration(ctx context.Context, id string) error

	// PromotedGeneration returns ErrNoPromotedGeneration when nothing is promoted.
	PromotedGeneration(ctx context.Context) (*GenerationInfo, error)

	// RollbackGeneration re-promotes the generation that was promoted before
	// the current one and returns it.
	RollbackGeneration(ctx context.Context) (*GenerationInfo, error)
}
