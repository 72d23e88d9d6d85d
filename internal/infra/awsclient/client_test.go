package awsclient

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"keystack/internal/domain"

	"github.com/aws/smithy-go"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ApplyErrorCode
	}{
		{"access denied", &smithy.GenericAPIError{Code: "AccessDeniedException"}, domain.ApplyPermissionDenied},
		{"limit", &smithy.GenericAPIError{Code: "LimitExceededException"}, domain.ApplyLimitExceeded},
		{"throttled", &smithy.GenericAPIError{Code: "ThrottlingException"}, domain.ApplyLimitExceeded},
		{"exists", &smithy.GenericAPIError{Code: "AlreadyExistsException"}, domain.ApplyNameConflict},
		{"bad policy", &smithy.GenericAPIError{Code: "MalformedPolicyDocumentException"}, domain.ApplyRejected},
		{"other client fault", &smithy.GenericAPIError{Code: "Whatever", Fault: smithy.FaultClient}, domain.ApplyRejected},
		{"server fault", &smithy.GenericAPIError{Code: "KMSInternalException", Fault: smithy.FaultServer}, domain.ApplyUnknown},
		{"wrapped", fmt.Errorf("op: %w", &smithy.GenericAPIError{Code: "AccessDenied"}), domain.ApplyPermissionDenied},
		{"network", context.DeadlineExceeded, domain.ApplyUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Fatalf("%s: Classify = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestApplyError(t *testing.T) {
	if ApplyError("CreateKey", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
	cause := &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "no"}
	err := ApplyError("CreateKey", cause)
	var applyErr *domain.ApplyError
	if !errors.As(err, &applyErr) {
		t.Fatalf("expected *domain.ApplyError, got %T", err)
	}
	if applyErr.Code != domain.ApplyPermissionDenied || applyErr.Op != "CreateKey" {
		t.Fatalf("unexpected apply error %+v", applyErr)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be preserved")
	}
	if again := ApplyError("Other", err); again != applyErr {
		t.Fatalf("expected existing apply error to pass through")
	}
}
