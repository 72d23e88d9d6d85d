package usecase

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"keystack/internal/config"
	"keystack/internal/domain"
	"keystack/internal/metrics"
)

const (
	maxDescriptionLength = 8192
	maxTagKeyLength      = 128
	maxTagValueLength    = 256
)

var (
	logicalIDPattern  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{0,254}$`)
	exportNamePattern = regexp.MustCompile(`^[A-Za-z0-9:-]{1,255}$`)
	tagCharPattern    = regexp.MustCompile(`^[\p{L}\p{Z}\p{N}_.:/=+\-@]*$`)
)

// BuildKeyDescriptor validates cfg and produces the key descriptor and its
// exported output, registering both in scope. Every violation found is
// reported in a single *domain.ConfigurationError; on error nothing is
// registered. The function performs no I/O and its result depends only on
// cfg and the names already registered in scope.
func BuildKeyDescriptor(scope *domain.Scope, cfg config.KeyConfig) (domain.KeyDescriptor, domain.ExportedOutput, error) {
	if scope == nil {
		scope = domain.NewScope(domain.Target{})
	}
	v := &violations{}

	logicalID := cfg.LogicalID
	if logicalID == "" {
		logicalID = config.DefaultLogicalID
	}
	checkLogicalID(v, scope, "logical_id", logicalID)

	if utf8.RuneCountInString(cfg.Description) > maxDescriptionLength {
		v.add(domain.CodeDescriptionTooLong, "description",
			fmt.Sprintf("description exceeds %d characters", maxDescriptionLength))
	}

	usage := cfg.KeyUsage
	if usage == "" {
		usage = domain.KeyUsageSignVerify
	}
	checkKeyShape(v, cfg.KeySpec, usage, cfg.RotationEnabled)

	tags := buildTags(v, cfg.Tags)
	policy := buildPolicy(v, cfg.Policy)

	out := buildOutput(v, scope, logicalID, cfg.Export)

	if !v.empty() {
		metrics.DescriptorBuilds.WithLabelValues("rejected").Inc()
		return domain.KeyDescriptor{}, domain.ExportedOutput{}, v.err()
	}

	desc := domain.KeyDescriptor{
		LogicalID:       logicalID,
		Description:     cfg.Description,
		KeyUsage:        usage,
		KeySpec:         cfg.KeySpec,
		RotationEnabled: cfg.RotationEnabled,
		Enabled:         cfg.IsEnabled(),
		Tags:            tags,
		Policy:          policy,
	}
	scope.Add(desc, out)
	metrics.DescriptorBuilds.WithLabelValues("ok").Inc()
	return desc, out, nil
}

type violations struct {
	list []domain.Violation
}

func (v *violations) add(code, field, message string) {
	v.list = append(v.list, domain.Violation{Code: code, Field: field, Message: message})
}

func (v *violations) empty() bool {
	return len(v.list) == 0
}

func (v *violations) err() error {
	return &domain.ConfigurationError{Violations: v.list}
}

func checkLogicalID(v *violations, scope *domain.Scope, field, id string) {
	if !logicalIDPattern.MatchString(id) {
		v.add(domain.CodeInvalidLogicalID, field, fmt.Sprintf("%q is not alphanumeric or starts with a digit", id))
		return
	}
	if scope.HasConstruct(id) {
		v.add(domain.CodeDuplicateLogicalID, field, fmt.Sprintf("%q is already defined in stack %q", id, scope.StackName))
	}
}

func checkKeyShape(v *violations, spec domain.KeySpec, usage domain.KeyUsage, rotation bool) {
	knownUsage := domain.KnownKeyUsage(usage)
	knownSpec := domain.KnownKeySpec(spec)
	if !knownUsage {
		v.add(domain.CodeUnsupportedKeyUsage, "key_usage", fmt.Sprintf("unsupported key usage %q", usage))
	}
	if !knownSpec {
		v.add(domain.CodeUnsupportedKeySpec, "key_spec", fmt.Sprintf("unsupported key spec %q", spec))
	}
	if knownUsage && knownSpec && !domain.Supports(spec, usage) {
		v.add(domain.CodeSpecUsageMismatch, "key_usage",
			fmt.Sprintf("key spec %s cannot be used for %s", spec, usage))
	}
	if rotation && (usage == domain.KeyUsageSignVerify || (knownSpec && spec.Asymmetric())) {
		v.add(domain.CodeRotationAsymmetric, "rotation_enabled", "automatic rotation is not supported for asymmetric keys")
	}
}

func buildTags(v *violations, in []domain.Tag) []domain.Tag {
	seen := make(map[string]struct{}, len(in))
	out := make([]domain.Tag, 0, len(in))
	for i, tag := range in {
		field := fmt.Sprintf("tags[%d]", i)
		if msg := tagProblem(tag); msg != "" {
			v.add(domain.CodeInvalidTag, field, msg)
			continue
		}
		if _, ok := seen[tag.Key]; ok {
			v.add(domain.CodeDuplicateTag, field, fmt.Sprintf("duplicate tag key %q", tag.Key))
			continue
		}
		seen[tag.Key] = struct{}{}
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key < out[j].Key
	})
	return out
}

func tagProblem(tag domain.Tag) string {
	keyLen := utf8.RuneCountInString(tag.Key)
	switch {
	case keyLen == 0:
		return "tag key is empty"
	case keyLen > maxTagKeyLength:
		return fmt.Sprintf("tag key exceeds %d characters", maxTagKeyLength)
	case utf8.RuneCountInString(tag.Value) > maxTagValueLength:
		return fmt.Sprintf("tag value exceeds %d characters", maxTagValueLength)
	case strings.HasPrefix(strings.ToLower(tag.Key), "aws:"):
		return "tag keys starting with aws: are reserved"
	case !tagCharPattern.MatchString(tag.Key) || !tagCharPattern.MatchString(tag.Value):
		return fmt.Sprintf("tag %q contains unsupported characters", tag.Key)
	default:
		return ""
	}
}

func buildPolicy(v *violations, in []domain.PolicyStatement) []domain.PolicyStatement {
	if len(in) == 0 {
		v.add(domain.CodeEmptyPolicy, "policy", "policy has no statements")
		return nil
	}
	out := make([]domain.PolicyStatement, 0, len(in))
	valid := true
	for i, raw := range in {
		field := fmt.Sprintf("policy[%d]", i)
		stmt := domain.PolicyStatement{
			Sid:        raw.Sid,
			Effect:     raw.Effect,
			Principals: nonBlank(raw.Principals),
			Actions:    nonBlank(raw.Actions),
			Resources:  nonBlank(raw.Resources),
		}.Normalize()

		if stmt.Effect != domain.EffectAllow && stmt.Effect != domain.EffectDeny {
			v.add(domain.CodeInvalidEffect, field+".effect", fmt.Sprintf("effect must be Allow or Deny, got %q", raw.Effect))
			valid = false
		}
		if len(stmt.Principals) == 0 {
			v.add(domain.CodeNoPrincipal, field+".principals", "statement names no principal")
			valid = false
		}
		for _, p := range stmt.Principals {
			if domain.PrincipalKind(p) == "" {
				v.add(domain.CodeInvalidPrincipal, field+".principals", fmt.Sprintf("unrecognized principal %q", p))
				valid = false
			}
		}
		if len(stmt.Actions) == 0 {
			v.add(domain.CodeNoAction, field+".actions", "statement names no action")
			valid = false
		}
		if len(stmt.Resources) == 0 {
			v.add(domain.CodeNoResource, field+".resources", "statement names no resource")
			valid = false
		}
		out = append(out, stmt)
	}
	if valid && !domain.PolicyGrantsAdmin(out) {
		v.add(domain.CodePolicyUnmanageable, "policy",
			fmt.Sprintf("no principal keeps %s on resource * once Deny statements apply; the key could never be administered", domain.AdminAction))
	}
	return out
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func buildOutput(v *violations, scope *domain.Scope, keyID string, cfg config.ExportConfig) domain.ExportedOutput {
	outputID := cfg.LogicalID
	if outputID == "" {
		outputID = keyID + domain.AttributeArn
	}
	if outputID == keyID {
		v.add(domain.CodeDuplicateLogicalID, "export.logical_id", fmt.Sprintf("%q is also the key's logical id", outputID))
	} else {
		checkLogicalID(v, scope, "export.logical_id", outputID)
	}

	switch {
	case !exportNamePattern.MatchString(cfg.Name):
		v.add(domain.CodeInvalidExportName, "export.name",
			fmt.Sprintf("export name %q must be 1-255 characters of letters, digits, ':' or '-'", cfg.Name))
	case scope.HasExport(cfg.Name):
		v.add(domain.CodeDuplicateExport, "export.name",
			fmt.Sprintf("export %q is already defined in stack %q", cfg.Name, scope.StackName))
	}

	return domain.ExportedOutput{
		LogicalID:  outputID,
		ExportName: cfg.Name,
		Value:      domain.AttributeRef{LogicalID: keyID, Attribute: domain.AttributeArn},
	}
}
