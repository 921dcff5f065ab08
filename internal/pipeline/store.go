package pipeline

import (
	"context"

	"github.com/calcforge/calcforge/pkg/types"
)

// ArtifactStore persists accepted artifacts. Persistence is an external
// collaborator: the pipeline only calls Save after every stage has passed,
// and a Save failure is reported as a system failure, never as a refusal.
type ArtifactStore interface {
	Save(ctx context.Context, id string, result types.GenerationResult) error
}

// NopStore discards artifacts; the default when no store is wired in
type NopStore struct{}

// Save implements ArtifactStore
func (NopStore) Save(ctx context.Context, id string, result types.GenerationResult) error {
	return nil
}
