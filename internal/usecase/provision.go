package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keystack/internal/config"
	"keystack/internal/domain"
	"keystack/internal/metrics"
	"keystack/internal/observability/logger"

	"go.uber.org/zap"
)

// Plan is everything known about a key before it is applied.
type Plan struct {
	Target      domain.Target           `json:"target"`
	Descriptor  domain.KeyDescriptor    `json:"descriptor"`
	Output      domain.ExportedOutput   `json:"output"`
	Template    []byte                  `json:"-"`
	Fingerprint string                  `json:"fingerprint"`
	Guard       *domain.GuardEvaluation `json:"guard,omitempty"`
}

// Warnings returns the advisory guard findings.
func (p Plan) Warnings() []domain.GuardFinding {
	if p.Guard == nil {
		return nil
	}
	return p.Guard.Result.Warn
}

type Receipt struct {
	Plan
	Engine     string                `json:"engine"`
	ResourceID string                `json:"resource_id"`
	Export     domain.ResolvedOutput `json:"export"`
}

type ProvisionService struct {
	Engine      domain.ProvisioningEngine
	EngineName  string
	Synthesizer TemplateSynthesizer
	Guard       PolicyGuard
	Exports     ExportRegistry
	Cache       ExportCache
	Clock       Clock
}

func NewProvisionService(engine domain.ProvisioningEngine, engineName string, synth TemplateSynthesizer, guard PolicyGuard, exports ExportRegistry, cache ExportCache, clock Clock) *ProvisionService {
	return &ProvisionService{
		Engine:      engine,
		EngineName:  engineName,
		Synthesizer: synth,
		Guard:       guard,
		Exports:     exports,
		Cache:       cache,
		Clock:       clock,
	}
}

// Validate builds the key and runs it through the guard. A guard deny is
// returned as a *domain.ConfigurationError carrying one violation per finding.
// The returned plan has no template.
func (s *ProvisionService) Validate(ctx context.Context, target domain.Target, cfg config.KeyConfig) (Plan, error) {
	scope := domain.NewScope(target)
	log := logger.From(ctx).With(logger.Stack(target.StackName))

	desc, out, err := BuildKeyDescriptor(scope, cfg)
	if err != nil {
		log.Info("descriptor rejected", codesField(err))
		return Plan{}, err
	}
	plan := Plan{Target: scope.Target, Descriptor: desc, Output: out}
	if s.Guard == nil {
		return plan, nil
	}

	eval, err := s.Guard.Evaluate(ctx, domain.GuardInput{Target: scope.Target, Descriptor: desc, Output: out})
	if err != nil {
		return Plan{}, fmt.Errorf("guard: %w", err)
	}
	recordFindings(eval.Result)
	for _, w := range eval.Result.Warn {
		log.Warn("guard warning", logger.Code(w.Code), zap.String("message", w.Message))
	}
	if !eval.Result.Allow || len(eval.Result.Deny) > 0 {
		cfgErr := GuardViolations(eval.Result)
		log.Info("descriptor denied by guard", logger.Codes(cfgErr.Codes()))
		return Plan{}, cfgErr
	}
	plan.Guard = &eval
	return plan, nil
}

// Plan builds, guards and synthesizes the key without applying it. When a
// registry is configured the export name is also checked against exports
// owned by other stacks.
func (s *ProvisionService) Plan(ctx context.Context, target domain.Target, cfg config.KeyConfig) (Plan, error) {
	if s.Synthesizer == nil {
		return Plan{}, errors.New("template synthesizer is required")
	}
	if target.StackName == "" {
		return Plan{}, errors.New("stack name is required")
	}
	plan, err := s.Validate(ctx, target, cfg)
	if err != nil {
		return Plan{}, err
	}
	log := logger.From(ctx).With(logger.Stack(plan.Target.StackName))
	desc, out := plan.Descriptor, plan.Output

	template, fingerprint, err := s.Synthesizer.Synthesize(plan.Target, desc, out)
	if err != nil {
		return Plan{}, fmt.Errorf("synthesize: %w", err)
	}
	plan.Template = template
	plan.Fingerprint = fingerprint

	if err := s.checkExportOwner(ctx, plan.Target, out.ExportName); err != nil {
		return Plan{}, err
	}
	log.Debug("plan ready", logger.LogicalID(desc.LogicalID), logger.Fingerprint(fingerprint))
	return plan, nil
}

// Provision plans the key, submits it to the engine and records the resolved
// export. An *domain.ApplyError from the engine is returned as is and nothing
// is recorded. When the key was applied but the export could not be recorded,
// the filled receipt is returned together with a *domain.ExportRecordError.
func (s *ProvisionService) Provision(ctx context.Context, target domain.Target, cfg config.KeyConfig) (Receipt, error) {
	if s.Engine == nil {
		return Receipt{}, errors.New("provisioning engine is required")
	}
	plan, err := s.Plan(ctx, target, cfg)
	if err != nil {
		return Receipt{}, err
	}
	log := logger.From(ctx).With(
		logger.Stack(plan.Target.StackName),
		logger.Engine(s.EngineName),
		logger.ExportName(plan.Output.ExportName),
	)

	start := s.now()
	resourceID, err := s.Engine.Apply(ctx, domain.Submission{
		Target:      plan.Target,
		Descriptor:  plan.Descriptor.Clone(),
		Output:      plan.Output,
		Template:    plan.Template,
		Fingerprint: plan.Fingerprint,
	})
	metrics.ApplyLatency.WithLabelValues(s.EngineName).Observe(s.now().Sub(start).Seconds())
	if err != nil {
		metrics.Applies.WithLabelValues(s.EngineName, applyResult(err)).Inc()
		log.Error("apply failed", logger.Err(err))
		return Receipt{}, err
	}
	if resourceID == "" {
		metrics.Applies.WithLabelValues(s.EngineName, string(domain.ApplyUnknown)).Inc()
		return Receipt{}, &domain.ApplyError{Code: domain.ApplyUnknown, Op: "apply", Err: errors.New("engine returned no resource id")}
	}
	metrics.Applies.WithLabelValues(s.EngineName, "ok").Inc()

	resolved := domain.ResolvedOutput{
		StackName:   plan.Target.StackName,
		ExportName:  plan.Output.ExportName,
		Value:       resourceID,
		Fingerprint: plan.Fingerprint,
		UpdatedAt:   s.now().UTC(),
	}
	receipt := Receipt{
		Plan:       plan,
		Engine:     s.EngineName,
		ResourceID: resourceID,
		Export:     resolved,
	}
	if s.Exports != nil {
		if err := s.Exports.Put(ctx, plan.Target, resolved); err != nil {
			log.Error("key applied but export not recorded", logger.ResourceID(resourceID), logger.Err(err))
			return receipt, &domain.ExportRecordError{ExportName: resolved.ExportName, ResourceID: resourceID, Err: err}
		}
	}
	if s.Cache != nil {
		if err := s.Cache.Delete(ctx, ExportCacheKey(plan.Target, resolved.ExportName)); err != nil {
			log.Warn("export cache invalidation failed", logger.Err(err))
		}
	}
	log.Info("key provisioned", logger.ResourceID(resourceID), logger.Fingerprint(plan.Fingerprint))
	return receipt, nil
}

func (s *ProvisionService) checkExportOwner(ctx context.Context, target domain.Target, name string) error {
	if s.Exports == nil {
		return nil
	}
	existing, err := s.Exports.Get(ctx, target, name)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("export lookup: %w", err)
	}
	if existing == nil || existing.StackName == target.StackName {
		return nil
	}
	return &domain.ConfigurationError{Violations: []domain.Violation{{
		Code:    domain.CodeDuplicateExport,
		Field:   "export.name",
		Message: fmt.Sprintf("export %q is already owned by stack %q", name, existing.StackName),
	}}}
}

func (s *ProvisionService) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock()
}

// GuardViolations converts the deny findings of a guard result into a
// configuration error.
func GuardViolations(result domain.GuardResult) *domain.ConfigurationError {
	out := &domain.ConfigurationError{}
	for _, d := range result.Deny {
		out.Violations = append(out.Violations, domain.Violation{Code: d.Code, Field: "policy", Message: d.Message})
	}
	if len(out.Violations) == 0 {
		out.Violations = []domain.Violation{{Code: "GUARD_DENIED", Message: "descriptor denied by policy guard"}}
	}
	return out
}

func recordFindings(result domain.GuardResult) {
	for _, d := range result.Deny {
		metrics.GuardFindings.WithLabelValues("deny", d.Code).Inc()
	}
	for _, w := range result.Warn {
		metrics.GuardFindings.WithLabelValues("warn", w.Code).Inc()
	}
}

func applyResult(err error) string {
	var applyErr *domain.ApplyError
	if errors.As(err, &applyErr) {
		return string(applyErr.Code)
	}
	return "error"
}

func codesField(err error) zap.Field {
	var cfgErr *domain.ConfigurationError
	if errors.As(err, &cfgErr) {
		return logger.Codes(cfgErr.Codes())
	}
	return logger.Err(err)
}
