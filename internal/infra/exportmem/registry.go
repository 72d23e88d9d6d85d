// Package exportmem is the export registry used when no database is
// configured. Contents do not survive a restart.
package exportmem

import (
	"context"
	"sort"
	"sync"

	"keystack/internal/domain"
	"keystack/internal/usecase"
)

type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	account string
	region  string
	out     domain.ResolvedOutput
}

func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func key(target domain.Target, name string) string {
	return target.Account + "|" + target.Region + "|" + name
}

func (r *Registry) Get(ctx context.Context, target domain.Target, name string) (*domain.ResolvedOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key(target, name)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := e.out
	return &out, nil
}

// Put records or replaces the export. Ownership is enforced by callers.
func (r *Registry) Put(ctx context.Context, target domain.Target, out domain.ResolvedOutput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if out.StackName == "" {
		out.StackName = target.StackName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key(target, out.ExportName)] = entry{account: target.Account, region: target.Region, out: out}
	return nil
}

func (r *Registry) ListByStack(ctx context.Context, target domain.Target) ([]domain.ResolvedOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ResolvedOutput, 0)
	for _, e := range r.entries {
		if e.account == target.Account && e.region == target.Region && e.out.StackName == target.StackName {
			out = append(out, e.out)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExportName < out[j].ExportName })
	return out, nil
}

var _ usecase.ExportRegistry = (*Registry)(nil)
