// Package cfn synthesizes CloudFormation templates for key descriptors.
package cfn

import (
	"errors"

	"keystack/internal/domain"
	"keystack/internal/infra/canonical"
	"keystack/internal/infra/policydoc"
)

const (
	FormatVersion = "2010-09-09"
	KeyType       = "AWS::KMS::Key"
)

// Synthesize renders the template for one key and its export and returns the
// canonical template bytes with their fingerprint.
func Synthesize(target domain.Target, desc domain.KeyDescriptor, out domain.ExportedOutput) ([]byte, string, error) {
	if desc.LogicalID == "" || out.LogicalID == "" {
		return nil, "", errors.New("logical id is required")
	}
	if out.Value.LogicalID != desc.LogicalID {
		return nil, "", errors.New("output does not reference the key")
	}
	tmpl := Template(target, desc, out)
	body, err := canonical.Marshal(tmpl)
	if err != nil {
		return nil, "", err
	}
	return body, canonical.DigestBytes(body), nil
}

// Template builds the template document.
func Template(target domain.Target, desc domain.KeyDescriptor, out domain.ExportedOutput) map[string]any {
	tags := make([]any, 0, len(desc.Tags))
	for _, tag := range desc.Tags {
		tags = append(tags, map[string]any{"Key": tag.Key, "Value": tag.Value})
	}
	props := map[string]any{
		"Enabled":           desc.Enabled,
		"EnableKeyRotation": desc.RotationEnabled,
		"KeySpec":           string(desc.KeySpec),
		"KeyUsage":          string(desc.KeyUsage),
		"KeyPolicy":         policydoc.Document(desc.Policy, policydoc.Intrinsic),
	}
	if desc.Description != "" {
		props["Description"] = desc.Description
	}
	if len(tags) > 0 {
		props["Tags"] = tags
	}

	attribute := out.Value.Attribute
	if attribute == "" {
		attribute = domain.AttributeArn
	}

	tmpl := map[string]any{
		"AWSTemplateFormatVersion": FormatVersion,
		"Resources": map[string]any{
			desc.LogicalID: map[string]any{
				"Type":                KeyType,
				"Properties":          props,
				"DeletionPolicy":      "Retain",
				"UpdateReplacePolicy": "Retain",
			},
		},
		"Outputs": map[string]any{
			out.LogicalID: map[string]any{
				"Value":  map[string]any{"Fn::GetAtt": []any{desc.LogicalID, attribute}},
				"Export": map[string]any{"Name": out.ExportName},
			},
		},
	}
	if target.StackName != "" {
		tmpl["Description"] = "keystack: " + target.StackName
	}
	return tmpl
}

// Synthesizer adapts Synthesize to the provisioning service.
type Synthesizer struct{}

func (Synthesizer) Synthesize(target domain.Target, desc domain.KeyDescriptor, out domain.ExportedOutput) ([]byte, string, error) {
	return Synthesize(target, desc, out)
}
