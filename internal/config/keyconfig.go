package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"keystack/internal/domain"

	"gopkg.in/yaml.v3"
)

// KeyConfig is the typed configuration surface of one signing key and its
// export. It is the only input of the descriptor builder.
type KeyConfig struct {
	LogicalID       string                   `yaml:"logical_id" json:"logical_id"`
	Description     string                   `yaml:"description" json:"description"`
	KeyUsage        domain.KeyUsage          `yaml:"key_usage" json:"key_usage"`
	KeySpec         domain.KeySpec           `yaml:"key_spec" json:"key_spec"`
	RotationEnabled bool                     `yaml:"rotation_enabled" json:"rotation_enabled"`
	Enabled         *bool                    `yaml:"enabled" json:"enabled"`
	Tags            []domain.Tag             `yaml:"tags" json:"tags"`
	Policy          []domain.PolicyStatement `yaml:"policy" json:"policy"`
	Export          ExportConfig             `yaml:"export" json:"export"`
}

type ExportConfig struct {
	LogicalID string `yaml:"logical_id" json:"logical_id"`
	Name      string `yaml:"name" json:"name"`
}

const DefaultLogicalID = "LicenseKey"

// IsEnabled defaults to true when enabled is not set.
func (k KeyConfig) IsEnabled() bool {
	if k.Enabled == nil {
		return true
	}
	return *k.Enabled
}

// LicenseKey is the literal configuration of the license signing key.
func LicenseKey() KeyConfig {
	enabled := true
	return KeyConfig{
		LogicalID:       DefaultLogicalID,
		Description:     "Key to sign licenses with",
		KeyUsage:        domain.KeyUsageSignVerify,
		KeySpec:         domain.KeySpecECCNistP384,
		RotationEnabled: false,
		Enabled:         &enabled,
		Tags: []domain.Tag{
			{Key: "keytype", Value: "ECC384"},
			{Key: "masterkey", Value: "true"},
		},
		Policy: []domain.PolicyStatement{
			{
				Effect:     domain.EffectAllow,
				Principals: []string{domain.PrincipalAccountRoot},
				Actions:    []string{"kms:*"},
				Resources:  []string{domain.Wildcard},
			},
		},
		Export: ExportConfig{Name: "license-key"},
	}
}

// LoadKeyConfig reads a YAML key configuration. An empty path yields
// LicenseKey.
func LoadKeyConfig(path string) (KeyConfig, error) {
	if path == "" {
		return LicenseKey(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return KeyConfig{}, err
	}
	cfg, err := ParseKeyConfig(b)
	if err != nil {
		return KeyConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseKeyConfig decodes a single YAML document. Unknown fields are rejected
// so a misspelled option never silently falls back to a default.
func ParseKeyConfig(data []byte) (KeyConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg KeyConfig
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return KeyConfig{}, errors.New("key config is empty")
		}
		return KeyConfig{}, err
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return KeyConfig{}, errors.New("key config must be a single document")
	}
	if cfg.LogicalID == "" {
		cfg.LogicalID = DefaultLogicalID
	}
	return cfg, nil
}
