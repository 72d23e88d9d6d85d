package domain

import (
	"sort"
	"time"
)

type KeyUsage string

const (
	KeyUsageSignVerify     KeyUsage = "SIGN_VERIFY"
	KeyUsageEncryptDecrypt KeyUsage = "ENCRYPT_DECRYPT"
)

type KeySpec string

const (
	KeySpecECCNistP256      KeySpec = "ECC_NIST_P256"
	KeySpecECCNistP384      KeySpec = "ECC_NIST_P384"
	KeySpecECCNistP521      KeySpec = "ECC_NIST_P521"
	KeySpecECCSecgP256K1    KeySpec = "ECC_SECG_P256K1"
	KeySpecRSA2048          KeySpec = "RSA_2048"
	KeySpecRSA3072          KeySpec = "RSA_3072"
	KeySpecRSA4096          KeySpec = "RSA_4096"
	KeySpecSymmetricDefault KeySpec = "SYMMETRIC_DEFAULT"
)

// Asymmetric reports whether the spec describes a fixed key pair.
func (s KeySpec) Asymmetric() bool {
	return s != KeySpecSymmetricDefault
}

type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

const (
	// PrincipalAccountRoot is the root principal of the account the stack
	// is deployed into. Engines resolve it to arn:<partition>:iam::<account>:root.
	PrincipalAccountRoot = "account-root"
	Wildcard             = "*"
)

type Tag struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

type PolicyStatement struct {
	Sid        string   `json:"sid,omitempty" yaml:"sid,omitempty"`
	Effect     Effect   `json:"effect,omitempty" yaml:"effect,omitempty"`
	Principals []string `json:"principals" yaml:"principals"`
	Actions    []string `json:"actions" yaml:"actions"`
	Resources  []string `json:"resources" yaml:"resources"`
}

// KeyDescriptor is the desired end state of one key. Values returned by the
// builder are normalized and must be treated as read-only; use Clone before
// handing one to code that may mutate it.
type KeyDescriptor struct {
	LogicalID       string            `json:"logical_id"`
	Description     string            `json:"description"`
	KeyUsage        KeyUsage          `json:"key_usage"`
	KeySpec         KeySpec           `json:"key_spec"`
	RotationEnabled bool              `json:"rotation_enabled"`
	Enabled         bool              `json:"enabled"`
	Tags            []Tag             `json:"tags"`
	Policy          []PolicyStatement `json:"policy"`
}

func (d KeyDescriptor) Clone() KeyDescriptor {
	out := d
	if d.Tags != nil {
		out.Tags = make([]Tag, len(d.Tags))
		copy(out.Tags, d.Tags)
	}
	out.Policy = make([]PolicyStatement, len(d.Policy))
	for i, stmt := range d.Policy {
		out.Policy[i] = PolicyStatement{
			Sid:        stmt.Sid,
			Effect:     stmt.Effect,
			Principals: cloneStrings(stmt.Principals),
			Actions:    cloneStrings(stmt.Actions),
			Resources:  cloneStrings(stmt.Resources),
		}
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// TagMap returns the tags keyed by tag key. Tags must already be unique.
func (d KeyDescriptor) TagMap() map[string]string {
	out := make(map[string]string, len(d.Tags))
	for _, tag := range d.Tags {
		out[tag.Key] = tag.Value
	}
	return out
}

const AttributeArn = "Arn"

// AttributeRef points at an attribute of a resource that only exists after
// apply, e.g. the ARN of the key.
type AttributeRef struct {
	LogicalID string `json:"logical_id"`
	Attribute string `json:"attribute"`
}

type ExportedOutput struct {
	LogicalID  string       `json:"logical_id"`
	ExportName string       `json:"export_name"`
	Value      AttributeRef `json:"value"`
}

// ResolvedOutput is an ExportedOutput after apply, carrying the concrete value.
type ResolvedOutput struct {
	StackName   string    `json:"stack_name"`
	ExportName  string    `json:"export_name"`
	Value       string    `json:"value"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Normalize returns a copy of the statement with its sets sorted and
// de-duplicated and the effect defaulted to Allow.
func (s PolicyStatement) Normalize() PolicyStatement {
	effect := s.Effect
	if effect == "" {
		effect = EffectAllow
	}
	return PolicyStatement{
		Sid:        s.Sid,
		Effect:     effect,
		Principals: sortedUnique(s.Principals),
		Actions:    sortedUnique(s.Actions),
		Resources:  sortedUnique(s.Resources),
	}
}
