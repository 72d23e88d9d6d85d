package domain

import "context"

// Submission is everything a provisioning engine needs to create one key and
// publish its export.
type Submission struct {
	Target      Target
	Descriptor  KeyDescriptor
	Output      ExportedOutput
	Template    []byte
	Fingerprint string
}

// ProvisioningEngine applies a submission against the platform and returns
// the identifier (ARN) of the resulting key. Failures are reported as
// *ApplyError; retry and backoff are the engine's own concern.
type ProvisioningEngine interface {
	Apply(ctx context.Context, sub Submission) (string, error)
}
