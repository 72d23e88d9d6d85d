package usecase

import (
	"context"
	"errors"
	"time"

	"keystack/internal/domain"
	"keystack/internal/metrics"
	"keystack/internal/observability/logger"
)

// ExportCacheKey is the cache key of one export. Export names are unique per
// account and region, so the stack name is not part of the key.
func ExportCacheKey(target domain.Target, exportName string) string {
	return "keystack:export:" + target.Account + ":" + target.Region + ":" + exportName
}

type ExportLookupService struct {
	Exports ExportRegistry
	Cache   ExportCache
	TTL     time.Duration
}

func NewExportLookupService(exports ExportRegistry, cache ExportCache, ttl time.Duration) *ExportLookupService {
	return &ExportLookupService{Exports: exports, Cache: cache, TTL: ttl}
}

// Get resolves an export by name, reading through the cache. Cache failures
// degrade to a registry read.
func (s *ExportLookupService) Get(ctx context.Context, target domain.Target, name string) (domain.ResolvedOutput, error) {
	if s.Exports == nil {
		return domain.ResolvedOutput{}, errors.New("export registry is required")
	}
	if name == "" {
		return domain.ResolvedOutput{}, errors.New("export name is required")
	}
	key := ExportCacheKey(target, name)
	if s.Cache != nil {
		cached, ok, err := s.Cache.Get(ctx, key)
		if err != nil {
			logger.From(ctx).Warn("export cache read failed", logger.ExportName(name), logger.Err(err))
		} else if ok && cached != nil {
			metrics.ExportLookups.WithLabelValues("cache").Inc()
			return *cached, nil
		}
	}

	out, err := s.Exports.Get(ctx, target, name)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.ExportLookups.WithLabelValues("miss").Inc()
		return domain.ResolvedOutput{}, err
	}
	if err != nil {
		return domain.ResolvedOutput{}, err
	}
	if out == nil {
		metrics.ExportLookups.WithLabelValues("miss").Inc()
		return domain.ResolvedOutput{}, domain.ErrNotFound
	}
	metrics.ExportLookups.WithLabelValues("registry").Inc()
	if s.Cache != nil && s.TTL > 0 {
		if err := s.Cache.Put(ctx, key, *out, s.TTL); err != nil {
			logger.From(ctx).Warn("export cache write failed", logger.ExportName(name), logger.Err(err))
		}
	}
	return *out, nil
}

func (s *ExportLookupService) ListByStack(ctx context.Context, target domain.Target) ([]domain.ResolvedOutput, error) {
	if s.Exports == nil {
		return nil, errors.New("export registry is required")
	}
	if target.StackName == "" {
		return nil, errors.New("stack name is required")
	}
	return s.Exports.ListByStack(ctx, target)
}
