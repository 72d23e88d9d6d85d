package cfn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"keystack/internal/config"
	"keystack/internal/domain"
	"keystack/internal/infra/awsclient"
	"keystack/internal/observability/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
)

// API is the subset of the CloudFormation client the engine uses.
type API interface {
	CreateStack(ctx context.Context, in *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, in *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DescribeStacks(ctx context.Context, in *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
}

const (
	defaultWait      = 15 * time.Minute
	defaultPollDelay = 5 * time.Second
)

// Engine deploys the synthesized template as a CloudFormation stack. The
// stack service does the diffing; an unchanged template is a no-op.
type Engine struct {
	api   API
	wait  time.Duration
	delay time.Duration
}

func NewEngine(api API, wait time.Duration) *Engine {
	if wait <= 0 {
		wait = defaultWait
	}
	return &Engine{api: api, wait: wait, delay: defaultPollDelay}
}

func NewEngineFromConfig(ctx context.Context, cfg config.Config) (*Engine, error) {
	awsCfg, err := awsclient.LoadConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewEngine(cloudformation.NewFromConfig(awsCfg), cfg.CloudFormationWait()), nil
}

// WithPollDelay sets the delay between stack status polls.
func (e *Engine) WithPollDelay(d time.Duration) *Engine {
	if d > 0 {
		e.delay = d
	}
	return e
}

func (e *Engine) Apply(ctx context.Context, sub domain.Submission) (string, error) {
	if e == nil || e.api == nil {
		return "", errors.New("cloudformation engine not configured")
	}
	if len(sub.Template) == 0 {
		return "", &domain.ApplyError{Code: domain.ApplyRejected, Op: "apply", Err: errors.New("template is empty")}
	}
	stackName := sub.Target.StackName
	log := logger.From(ctx).With(logger.Stack(stackName), logger.Fingerprint(sub.Fingerprint))

	existing, err := e.describe(ctx, stackName)
	if err != nil {
		return "", awsclient.ApplyError("DescribeStacks", err)
	}

	switch {
	case existing == nil:
		log.Info("creating stack")
		if err := e.create(ctx, stackName, sub.Template); err != nil {
			return "", err
		}
	case existing.StackStatus == types.StackStatusRollbackComplete:
		return "", &domain.ApplyError{
			Code: domain.ApplyRejected,
			Op:   "UpdateStack",
			Err:  fmt.Errorf("stack %s is in %s and must be deleted before it can be re-created", stackName, existing.StackStatus),
		}
	default:
		log.Info("updating stack", logger.StackStatus(string(existing.StackStatus)))
		if err := e.update(ctx, stackName, sub.Template); err != nil {
			return "", err
		}
	}

	stack, err := e.describe(ctx, stackName)
	if err != nil {
		return "", awsclient.ApplyError("DescribeStacks", err)
	}
	if stack == nil {
		return "", &domain.ApplyError{Code: domain.ApplyUnknown, Op: "DescribeStacks", Err: errors.New("stack disappeared")}
	}
	for _, out := range stack.Outputs {
		if aws.ToString(out.ExportName) == sub.Output.ExportName || aws.ToString(out.OutputKey) == sub.Output.LogicalID {
			return aws.ToString(out.OutputValue), nil
		}
	}
	return "", &domain.ApplyError{
		Code: domain.ApplyUnknown,
		Op:   "DescribeStacks",
		Err:  fmt.Errorf("stack %s has no output %s", stackName, sub.Output.LogicalID),
	}
}

func (e *Engine) create(ctx context.Context, stackName string, template []byte) error {
	_, err := e.api.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(stackName),
		TemplateBody: aws.String(string(template)),
		OnFailure:    types.OnFailureDelete,
	})
	if err != nil {
		return awsclient.ApplyError("CreateStack", err)
	}
	waiter := cloudformation.NewStackCreateCompleteWaiter(e.api, func(o *cloudformation.StackCreateCompleteWaiterOptions) {
		o.MinDelay = e.delay
		o.MaxDelay = e.delay
	})
	if err := waiter.Wait(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(stackName)}, e.wait); err != nil {
		return e.failure(ctx, "CreateStack", stackName, err)
	}
	return nil
}

func (e *Engine) update(ctx context.Context, stackName string, template []byte) error {
	_, err := e.api.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(stackName),
		TemplateBody: aws.String(string(template)),
	})
	if isNoUpdates(err) {
		return nil
	}
	if err != nil {
		return awsclient.ApplyError("UpdateStack", err)
	}
	waiter := cloudformation.NewStackUpdateCompleteWaiter(e.api, func(o *cloudformation.StackUpdateCompleteWaiterOptions) {
		o.MinDelay = e.delay
		o.MaxDelay = e.delay
	})
	if err := waiter.Wait(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(stackName)}, e.wait); err != nil {
		return e.failure(ctx, "UpdateStack", stackName, err)
	}
	return nil
}

// failure turns a waiter error into an apply error, using the stack status
// reason when the stack still exists.
func (e *Engine) failure(ctx context.Context, op, stackName string, waitErr error) error {
	reason := waitErr.Error()
	if stack, err := e.describe(ctx, stackName); err == nil && stack != nil {
		if r := aws.ToString(stack.StackStatusReason); r != "" {
			reason = string(stack.StackStatus) + ": " + r
		}
	}
	return &domain.ApplyError{Code: classifyReason(reason), Op: op, Err: errors.New(reason)}
}

func (e *Engine) describe(ctx context.Context, stackName string) (*types.Stack, error) {
	out, err := e.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(stackName)})
	if isStackMissing(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Stacks) == 0 {
		return nil, nil
	}
	return &out.Stacks[0], nil
}

func classifyReason(reason string) domain.ApplyErrorCode {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "already exported"), strings.Contains(lower, "already exists"):
		return domain.ApplyNameConflict
	case strings.Contains(lower, "accessdenied"), strings.Contains(lower, "not authorized"):
		return domain.ApplyPermissionDenied
	case strings.Contains(lower, "limitexceeded"), strings.Contains(lower, "limit exceeded"):
		return domain.ApplyLimitExceeded
	default:
		return domain.ApplyRejected
	}
}

func isStackMissing(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) &&
		apiErr.ErrorCode() == "ValidationError" &&
		strings.Contains(apiErr.ErrorMessage(), "does not exist")
}

func isNoUpdates(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) &&
		apiErr.ErrorCode() == "ValidationError" &&
		strings.Contains(apiErr.ErrorMessage(), "No updates are to be performed")
}
