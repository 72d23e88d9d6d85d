// Package awskms provisions keys by calling AWS KMS directly.
package awskms

import (
	"context"
	"errors"
	"time"

	"keystack/internal/config"
	"keystack/internal/domain"
	"keystack/internal/infra/awsclient"
	"keystack/internal/infra/canonical"
	"keystack/internal/infra/policydoc"
	"keystack/internal/observability/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

const (
	MinPendingWindowDays = 7
	MaxPendingWindowDays = 30
)

// API is the subset of the KMS client the engine uses.
type API interface {
	CreateKey(ctx context.Context, in *kms.CreateKeyInput, optFns ...func(*kms.Options)) (*kms.CreateKeyOutput, error)
	DisableKey(ctx context.Context, in *kms.DisableKeyInput, optFns ...func(*kms.Options)) (*kms.DisableKeyOutput, error)
	EnableKeyRotation(ctx context.Context, in *kms.EnableKeyRotationInput, optFns ...func(*kms.Options)) (*kms.EnableKeyRotationOutput, error)
	DescribeKey(ctx context.Context, in *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
	GetPublicKey(ctx context.Context, in *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	ScheduleKeyDeletion(ctx context.Context, in *kms.ScheduleKeyDeletionInput, optFns ...func(*kms.Options)) (*kms.ScheduleKeyDeletionOutput, error)
	Sign(ctx context.Context, in *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	Verify(ctx context.Context, in *kms.VerifyInput, optFns ...func(*kms.Options)) (*kms.VerifyOutput, error)
}

// Engine creates keys with CreateKey. It does not diff: every Apply creates a
// new key.
type Engine struct {
	api API
}

func New(api API) *Engine {
	return &Engine{api: api}
}

func NewFromConfig(ctx context.Context, cfg config.Config) (*Engine, error) {
	awsCfg, err := awsclient.LoadConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(kms.NewFromConfig(awsCfg)), nil
}

// Apply creates the key and returns its ARN. If a follow-up call fails the
// new key is scheduled for deletion so no half-configured key is left
// behind.
func (e *Engine) Apply(ctx context.Context, sub domain.Submission) (string, error) {
	if e == nil || e.api == nil {
		return "", errors.New("kms engine not configured")
	}
	desc := sub.Descriptor
	if sub.Target.Account == "" {
		return "", &domain.ApplyError{
			Code: domain.ApplyRejected,
			Op:   "CreateKey",
			Err:  errors.New("AWS_ACCOUNT_ID is required to resolve the account root principal"),
		}
	}
	policy, err := canonical.Marshal(policydoc.Document(desc.Policy, policydoc.Literal(sub.Target.Partition, sub.Target.Account)))
	if err != nil {
		return "", err
	}

	input := &kms.CreateKeyInput{
		KeySpec:  types.KeySpec(desc.KeySpec),
		KeyUsage: types.KeyUsageType(desc.KeyUsage),
		Origin:   types.OriginTypeAwsKms,
		Policy:   aws.String(string(policy)),
		Tags:     tags(desc.Tags),
	}
	if desc.Description != "" {
		input.Description = aws.String(desc.Description)
	}
	out, err := e.api.CreateKey(ctx, input)
	if err != nil {
		return "", awsclient.ApplyError("CreateKey", err)
	}
	if out == nil || out.KeyMetadata == nil || aws.ToString(out.KeyMetadata.Arn) == "" {
		return "", &domain.ApplyError{Code: domain.ApplyUnknown, Op: "CreateKey", Err: errors.New("response has no key ARN")}
	}
	arn := aws.ToString(out.KeyMetadata.Arn)
	log := logger.From(ctx).With(logger.ResourceID(arn))

	if desc.RotationEnabled {
		if _, err := e.api.EnableKeyRotation(ctx, &kms.EnableKeyRotationInput{KeyId: aws.String(arn)}); err != nil {
			e.rollback(ctx, arn)
			return "", awsclient.ApplyError("EnableKeyRotation", err)
		}
	}
	if !desc.Enabled {
		if _, err := e.api.DisableKey(ctx, &kms.DisableKeyInput{KeyId: aws.String(arn)}); err != nil {
			e.rollback(ctx, arn)
			return "", awsclient.ApplyError("DisableKey", err)
		}
	}
	log.Info("kms key created", logger.KeySpec(string(desc.KeySpec)))
	return arn, nil
}

func (e *Engine) rollback(ctx context.Context, keyID string) {
	if _, err := e.ScheduleDeletion(ctx, keyID, MinPendingWindowDays); err != nil {
		logger.From(ctx).Error("rollback failed; key left in place", logger.ResourceID(keyID), logger.Err(err))
	}
}

type KeyInfo struct {
	KeyID             string     `json:"key_id"`
	Arn               string     `json:"arn"`
	Description       string     `json:"description,omitempty"`
	KeySpec           string     `json:"key_spec"`
	KeyUsage          string     `json:"key_usage"`
	State             string     `json:"state"`
	Enabled           bool       `json:"enabled"`
	SigningAlgorithms []string   `json:"signing_algorithms,omitempty"`
	CreatedAt         *time.Time `json:"created_at,omitempty"`
	DeletionDate      *time.Time `json:"deletion_date,omitempty"`
}

func (e *Engine) Describe(ctx context.Context, keyID string) (KeyInfo, error) {
	if keyID == "" {
		return KeyInfo{}, errors.New("key id is required")
	}
	out, err := e.api.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		return KeyInfo{}, awsclient.ApplyError("DescribeKey", err)
	}
	if out == nil || out.KeyMetadata == nil {
		return KeyInfo{}, domain.ErrNotFound
	}
	md := out.KeyMetadata
	algs := make([]string, 0, len(md.SigningAlgorithms))
	for _, a := range md.SigningAlgorithms {
		algs = append(algs, string(a))
	}
	return KeyInfo{
		KeyID:             aws.ToString(md.KeyId),
		Arn:               aws.ToString(md.Arn),
		Description:       aws.ToString(md.Description),
		KeySpec:           string(md.KeySpec),
		KeyUsage:          string(md.KeyUsage),
		State:             string(md.KeyState),
		Enabled:           md.Enabled,
		SigningAlgorithms: algs,
		CreatedAt:         md.CreationDate,
		DeletionDate:      md.DeletionDate,
	}, nil
}

// PublicKey returns the DER encoded SubjectPublicKeyInfo of an asymmetric key.
func (e *Engine) PublicKey(ctx context.Context, keyID string) ([]byte, error) {
	if keyID == "" {
		return nil, errors.New("key id is required")
	}
	out, err := e.api.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		return nil, awsclient.ApplyError("GetPublicKey", err)
	}
	if out == nil || len(out.PublicKey) == 0 {
		return nil, errors.New("response has no public key")
	}
	return out.PublicKey, nil
}

// ScheduleDeletion schedules the key for deletion. The pending window is
// clamped to the 7 to 30 days KMS accepts.
func (e *Engine) ScheduleDeletion(ctx context.Context, keyID string, pendingDays int) (time.Time, error) {
	if keyID == "" {
		return time.Time{}, errors.New("key id is required")
	}
	days := ClampPendingWindow(pendingDays)
	out, err := e.api.ScheduleKeyDeletion(ctx, &kms.ScheduleKeyDeletionInput{
		KeyId:               aws.String(keyID),
		PendingWindowInDays: aws.Int32(days),
	})
	if err != nil {
		return time.Time{}, awsclient.ApplyError("ScheduleKeyDeletion", err)
	}
	if out == nil || out.DeletionDate == nil {
		return time.Time{}, nil
	}
	return *out.DeletionDate, nil
}

func ClampPendingWindow(days int) int32 {
	if days < MinPendingWindowDays {
		return MinPendingWindowDays
	}
	if days > MaxPendingWindowDays {
		return MaxPendingWindowDays
	}
	return int32(days)
}

// Sign signs msg with the key. The signature is returned as KMS produces it
// (DER for ECDSA).
func (e *Engine) Sign(ctx context.Context, keyID string, alg string, msg []byte) ([]byte, error) {
	if keyID == "" || alg == "" {
		return nil, errors.New("key id and signing algorithm are required")
	}
	out, err := e.api.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(keyID),
		Message:          msg,
		MessageType:      types.MessageTypeRaw,
		SigningAlgorithm: types.SigningAlgorithmSpec(alg),
	})
	if err != nil {
		return nil, awsclient.ApplyError("Sign", err)
	}
	return out.Signature, nil
}

func (e *Engine) Verify(ctx context.Context, keyID string, alg string, msg, sig []byte) (bool, error) {
	if keyID == "" || alg == "" {
		return false, errors.New("key id and signing algorithm are required")
	}
	out, err := e.api.Verify(ctx, &kms.VerifyInput{
		KeyId:            aws.String(keyID),
		Message:          msg,
		MessageType:      types.MessageTypeRaw,
		Signature:        sig,
		SigningAlgorithm: types.SigningAlgorithmSpec(alg),
	})
	if err != nil {
		var invalid *types.KMSInvalidSignatureException
		if errors.As(err, &invalid) {
			return false, nil
		}
		return false, awsclient.ApplyError("Verify", err)
	}
	return out.SignatureValid, nil
}

func tags(in []domain.Tag) []types.Tag {
	out := make([]types.Tag, 0, len(in))
	for _, tag := range in {
		out = append(out, types.Tag{
			TagKey:   aws.String(tag.Key),
			TagValue: aws.String(tag.Value),
		})
	}
	return out
}
