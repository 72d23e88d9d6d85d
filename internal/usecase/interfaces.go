package usecase

import (
	"context"
	"time"

	"keystack/internal/domain"
)

type Clock func() time.Time

type PolicyGuard interface {
	Evaluate(ctx context.Context, input domain.GuardInput) (domain.GuardEvaluation, error)
}

// ExportRegistry stores resolved exports. Export names are unique per
// account and region; only Target.Account and Target.Region key a lookup.
type ExportRegistry interface {
	Get(ctx context.Context, target domain.Target, exportName string) (*domain.ResolvedOutput, error)
	Put(ctx context.Context, target domain.Target, out domain.ResolvedOutput) error
	ListByStack(ctx context.Context, target domain.Target) ([]domain.ResolvedOutput, error)
}

type ExportCache interface {
	Get(ctx context.Context, key string) (*domain.ResolvedOutput, bool, error)
	Put(ctx context.Context, key string, value domain.ResolvedOutput, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// TemplateSynthesizer renders the deployable template of one key and returns
// it with its fingerprint.
type TemplateSynthesizer interface {
	Synthesize(target domain.Target, desc domain.KeyDescriptor, out domain.ExportedOutput) ([]byte, string, error)
}
