// Package awsclient loads AWS SDK configuration and classifies AWS API
// failures into apply errors.
package awsclient

import (
	"context"
	"errors"

	"keystack/internal/config"
	"keystack/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/smithy-go"
)

// LoadConfig resolves credentials through the SDK default chain. AWS_REGION
// from cfg wins over the shared config file.
func LoadConfig(ctx context.Context, cfg config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	if awsCfg.Region == "" {
		return aws.Config{}, errors.New("AWS_REGION is required")
	}
	return awsCfg, nil
}

var codeClasses = map[string]domain.ApplyErrorCode{
	"AccessDenied":                domain.ApplyPermissionDenied,
	"AccessDeniedException":       domain.ApplyPermissionDenied,
	"ExpiredToken":                domain.ApplyPermissionDenied,
	"ExpiredTokenException":       domain.ApplyPermissionDenied,
	"InvalidClientTokenId":        domain.ApplyPermissionDenied,
	"UnrecognizedClientException": domain.ApplyPermissionDenied,

	"LimitExceeded":          domain.ApplyLimitExceeded,
	"LimitExceededException": domain.ApplyLimitExceeded,
	"Throttling":             domain.ApplyLimitExceeded,
	"ThrottlingException":    domain.ApplyLimitExceeded,

	"AlreadyExists":          domain.ApplyNameConflict,
	"AlreadyExistsException": domain.ApplyNameConflict,
	"NameConflict":           domain.ApplyNameConflict,

	"InsufficientCapabilitiesException": domain.ApplyRejected,
	"InvalidParameterValue":             domain.ApplyRejected,
	"MalformedPolicyDocumentException":  domain.ApplyRejected,
	"TagException":                      domain.ApplyRejected,
	"UnsupportedOperationException":     domain.ApplyRejected,
	"ValidationError":                   domain.ApplyRejected,
	"ValidationException":               domain.ApplyRejected,
}

// Classify maps an AWS API error code to an apply error code.
func Classify(err error) domain.ApplyErrorCode {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return domain.ApplyUnknown
	}
	if code, ok := codeClasses[apiErr.ErrorCode()]; ok {
		return code
	}
	if apiErr.ErrorFault() == smithy.FaultClient {
		return domain.ApplyRejected
	}
	return domain.ApplyUnknown
}

// ApplyError wraps err for op. An existing *domain.ApplyError is returned
// unchanged.
func ApplyError(op string, err error) error {
	if err == nil {
		return nil
	}
	var applyErr *domain.ApplyError
	if errors.As(err, &applyErr) {
		return applyErr
	}
	return &domain.ApplyError{Code: Classify(err), Op: op, Err: err}
}
