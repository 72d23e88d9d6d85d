package awskms

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"keystack/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/smithy-go"
)

const testArn = "arn:aws:kms:us-east-1:111122223333:key/1234abcd-12ab-34cd-56ef-1234567890ab"

type fakeKMS struct {
	create      *kms.CreateKeyInput
	createErr   error
	disabled    []string
	disableErr  error
	rotated     []string
	scheduled   []*kms.ScheduleKeyDeletionInput
	deletionAt  time.Time
	signErr     error
	verifyErr   error
	verifyValid bool
}

func (f *fakeKMS) CreateKey(ctx context.Context, in *kms.CreateKeyInput, _ ...func(*kms.Options)) (*kms.CreateKeyOutput, error) {
	f.create = in
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &kms.CreateKeyOutput{KeyMetadata: &types.KeyMetadata{Arn: aws.String(testArn), KeyId: aws.String("1234abcd")}}, nil
}

func (f *fakeKMS) DisableKey(ctx context.Context, in *kms.DisableKeyInput, _ ...func(*kms.Options)) (*kms.DisableKeyOutput, error) {
	f.disabled = append(f.disabled, aws.ToString(in.KeyId))
	return &kms.DisableKeyOutput{}, f.disableErr
}

func (f *fakeKMS) EnableKeyRotation(ctx context.Context, in *kms.EnableKeyRotationInput, _ ...func(*kms.Options)) (*kms.EnableKeyRotationOutput, error) {
	f.rotated = append(f.rotated, aws.ToString(in.KeyId))
	return &kms.EnableKeyRotationOutput{}, nil
}

func (f *fakeKMS) DescribeKey(ctx context.Context, in *kms.DescribeKeyInput, _ ...func(*kms.Options)) (*kms.DescribeKeyOutput, error) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return &kms.DescribeKeyOutput{KeyMetadata: &types.KeyMetadata{
		Arn:               aws.String(testArn),
		KeyId:             in.KeyId,
		KeySpec:           types.KeySpecEccNistP384,
		KeyUsage:          types.KeyUsageTypeSignVerify,
		KeyState:          types.KeyStateEnabled,
		Enabled:           true,
		SigningAlgorithms: []types.SigningAlgorithmSpec{types.SigningAlgorithmSpecEcdsaSha384},
		CreationDate:      &created,
	}}, nil
}

func (f *fakeKMS) GetPublicKey(ctx context.Context, in *kms.GetPublicKeyInput, _ ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error) {
	return &kms.GetPublicKeyOutput{PublicKey: []byte{0x30, 0x76}}, nil
}

func (f *fakeKMS) ScheduleKeyDeletion(ctx context.Context, in *kms.ScheduleKeyDeletionInput, _ ...func(*kms.Options)) (*kms.ScheduleKeyDeletionOutput, error) {
	f.scheduled = append(f.scheduled, in)
	return &kms.ScheduleKeyDeletionOutput{DeletionDate: aws.Time(f.deletionAt)}, nil
}

func (f *fakeKMS) Sign(ctx context.Context, in *kms.SignInput, _ ...func(*kms.Options)) (*kms.SignOutput, error) {
	if f.signErr != nil {
		return nil, f.signErr
	}
	return &kms.SignOutput{Signature: append([]byte("sig:"), in.Message...)}, nil
}

func (f *fakeKMS) Verify(ctx context.Context, in *kms.VerifyInput, _ ...func(*kms.Options)) (*kms.VerifyOutput, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return &kms.VerifyOutput{SignatureValid: f.verifyValid}, nil
}

func licenseSubmission() domain.Submission {
	return domain.Submission{
		Target: domain.Target{StackName: "license", Account: "111122223333", Region: "us-east-1", Partition: "aws"},
		Descriptor: domain.KeyDescriptor{
			LogicalID:   "LicenseKey",
			Description: "Key to sign licenses with",
			KeyUsage:    domain.KeyUsageSignVerify,
			KeySpec:     domain.KeySpecECCNistP384,
			Enabled:     true,
			Tags:        []domain.Tag{{Key: "keytype", Value: "ECC384"}, {Key: "masterkey", Value: "true"}},
			Policy: []domain.PolicyStatement{{
				Effect:     domain.EffectAllow,
				Principals: []string{domain.PrincipalAccountRoot},
				Actions:    []string{"kms:*"},
				Resources:  []string{"*"},
			}},
		},
		Output: domain.ExportedOutput{LogicalID: "LicenseKeyArn", ExportName: "license-key"},
	}
}

func TestApplyCreatesKey(t *testing.T) {
	api := &fakeKMS{}
	arn, err := New(api).Apply(context.Background(), licenseSubmission())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if arn != testArn {
		t.Fatalf("unexpected arn %q", arn)
	}
	in := api.create
	if in.KeySpec != types.KeySpecEccNistP384 || in.KeyUsage != types.KeyUsageTypeSignVerify {
		t.Fatalf("unexpected key shape %s/%s", in.KeySpec, in.KeyUsage)
	}
	if aws.ToString(in.Description) != "Key to sign licenses with" {
		t.Fatalf("unexpected description %q", aws.ToString(in.Description))
	}
	if len(in.Tags) != 2 || aws.ToString(in.Tags[0].TagKey) != "keytype" {
		t.Fatalf("unexpected tags %+v", in.Tags)
	}

	var policy struct {
		Statement []struct {
			Principal map[string]string `json:"Principal"`
			Action    string            `json:"Action"`
		} `json:"Statement"`
	}
	if err := json.Unmarshal([]byte(aws.ToString(in.Policy)), &policy); err != nil {
		t.Fatalf("policy json: %v", err)
	}
	if got := policy.Statement[0].Principal["AWS"]; got != "arn:aws:iam::111122223333:root" {
		t.Fatalf("unexpected principal %q", got)
	}
	if policy.Statement[0].Action != "kms:*" {
		t.Fatalf("unexpected action %q", policy.Statement[0].Action)
	}
	if len(api.disabled) != 0 || len(api.rotated) != 0 {
		t.Fatalf("unexpected follow-up calls")
	}
}

func TestApplyDisablesKey(t *testing.T) {
	api := &fakeKMS{}
	sub := licenseSubmission()
	sub.Descriptor.Enabled = false
	if _, err := New(api).Apply(context.Background(), sub); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(api.disabled) != 1 || api.disabled[0] != testArn {
		t.Fatalf("expected key to be disabled, got %v", api.disabled)
	}
}

func TestApplyRollsBackOnDisableFailure(t *testing.T) {
	api := &fakeKMS{disableErr: &smithy.GenericAPIError{Code: "AccessDeniedException"}}
	sub := licenseSubmission()
	sub.Descriptor.Enabled = false
	_, err := New(api).Apply(context.Background(), sub)
	var applyErr *domain.ApplyError
	if !errors.As(err, &applyErr) || applyErr.Code != domain.ApplyPermissionDenied || applyErr.Op != "DisableKey" {
		t.Fatalf("unexpected error %v", err)
	}
	if len(api.scheduled) != 1 || aws.ToInt32(api.scheduled[0].PendingWindowInDays) != MinPendingWindowDays {
		t.Fatalf("expected rollback deletion, got %+v", api.scheduled)
	}
}

func TestApplyMapsCreateErrors(t *testing.T) {
	tests := []struct {
		code string
		want domain.ApplyErrorCode
	}{
		{"AccessDeniedException", domain.ApplyPermissionDenied},
		{"LimitExceededException", domain.ApplyLimitExceeded},
		{"AlreadyExistsException", domain.ApplyNameConflict},
		{"MalformedPolicyDocumentException", domain.ApplyRejected},
	}
	for _, tt := range tests {
		api := &fakeKMS{createErr: &smithy.GenericAPIError{Code: tt.code}}
		_, err := New(api).Apply(context.Background(), licenseSubmission())
		var applyErr *domain.ApplyError
		if !errors.As(err, &applyErr) || applyErr.Code != tt.want {
			t.Fatalf("%s: unexpected error %v", tt.code, err)
		}
	}
}

func TestApplyRequiresAccount(t *testing.T) {
	api := &fakeKMS{}
	sub := licenseSubmission()
	sub.Target.Account = ""
	_, err := New(api).Apply(context.Background(), sub)
	if !errors.Is(err, domain.ErrApply) {
		t.Fatalf("expected apply error, got %v", err)
	}
	if api.create != nil {
		t.Fatalf("CreateKey must not be called")
	}
}

func TestClampPendingWindow(t *testing.T) {
	tests := map[int]int32{0: 7, 6: 7, 7: 7, 14: 14, 30: 30, 31: 30, 365: 30}
	for in, want := range tests {
		if got := ClampPendingWindow(in); got != want {
			t.Fatalf("ClampPendingWindow(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestScheduleDeletion(t *testing.T) {
	when := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	api := &fakeKMS{deletionAt: when}
	got, err := New(api).ScheduleDeletion(context.Background(), testArn, 90)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !got.Equal(when) {
		t.Fatalf("unexpected deletion date %v", got)
	}
	if aws.ToInt32(api.scheduled[0].PendingWindowInDays) != MaxPendingWindowDays {
		t.Fatalf("expected window clamped to %d", MaxPendingWindowDays)
	}
	if _, err := New(api).ScheduleDeletion(context.Background(), "", 7); err == nil {
		t.Fatalf("expected error for empty key id")
	}
}

func TestDescribeAndPublicKey(t *testing.T) {
	engine := New(&fakeKMS{})
	info, err := engine.Describe(context.Background(), testArn)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if info.KeySpec != "ECC_NIST_P384" || info.State != "Enabled" || !info.Enabled {
		t.Fatalf("unexpected key info %+v", info)
	}
	if len(info.SigningAlgorithms) != 1 || info.SigningAlgorithms[0] != "ECDSA_SHA_384" {
		t.Fatalf("unexpected signing algorithms %v", info.SigningAlgorithms)
	}
	der, err := engine.PublicKey(context.Background(), testArn)
	if err != nil || len(der) == 0 {
		t.Fatalf("public key: %v", err)
	}
}

func TestSignVerify(t *testing.T) {
	api := &fakeKMS{verifyValid: true}
	engine := New(api)
	sig, err := engine.Sign(context.Background(), testArn, "ECDSA_SHA_384", []byte("license"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if string(sig) != "sig:license" {
		t.Fatalf("unexpected signature %q", sig)
	}
	ok, err := engine.Verify(context.Background(), testArn, "ECDSA_SHA_384", []byte("license"), sig)
	if err != nil || !ok {
		t.Fatalf("verify: %v %v", ok, err)
	}

	api.verifyErr = &types.KMSInvalidSignatureException{Message: aws.String("bad")}
	ok, err = engine.Verify(context.Background(), testArn, "ECDSA_SHA_384", []byte("license"), sig)
	if err != nil || ok {
		t.Fatalf("expected invalid signature to verify false, got %v %v", ok, err)
	}
}
