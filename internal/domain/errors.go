package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrApply         = errors.New("apply error")
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	// ErrExportNotRecorded matches an ExportRecordError.
	ErrExportNotRecorded = errors.New("export not recorded")
)

// Violation codes reported in a ConfigurationError.
const (
	CodeUnsupportedKeyUsage = "UNSUPPORTED_KEY_USAGE"
	CodeUnsupportedKeySpec  = "UNSUPPORTED_KEY_SPEC"
	CodeSpecUsageMismatch   = "KEY_SPEC_USAGE_MISMATCH"
	CodeRotationAsymmetric  = "ROTATION_NOT_SUPPORTED"
	CodeDescriptionTooLong  = "DESCRIPTION_TOO_LONG"
	CodeEmptyPolicy         = "EMPTY_POLICY"
	CodeNoPrincipal         = "STATEMENT_NO_PRINCIPAL"
	CodeNoAction            = "STATEMENT_NO_ACTION"
	CodeNoResource          = "STATEMENT_NO_RESOURCE"
	CodeInvalidEffect       = "STATEMENT_INVALID_EFFECT"
	CodeInvalidPrincipal    = "STATEMENT_INVALID_PRINCIPAL"
	CodePolicyUnmanageable  = "POLICY_UNMANAGEABLE"
	CodeDuplicateTag        = "DUPLICATE_TAG_KEY"
	CodeInvalidTag          = "INVALID_TAG"
	CodeInvalidLogicalID    = "INVALID_LOGICAL_ID"
	CodeDuplicateLogicalID  = "DUPLICATE_LOGICAL_ID"
	CodeInvalidExportName   = "INVALID_EXPORT_NAME"
	CodeDuplicateExport     = "DUPLICATE_EXPORT_NAME"
)

type Violation struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ConfigurationError is a local, pre-submission failure. It is fatal: no
// descriptor is produced and no engine is called.
type ConfigurationError struct {
	Violations []Violation
}

func (e *ConfigurationError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return ErrConfiguration.Error()
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		if v.Field != "" {
			parts = append(parts, v.Field+": "+v.Message)
		} else {
			parts = append(parts, v.Message)
		}
	}
	return ErrConfiguration.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Codes returns the violation codes in report order.
func (e *ConfigurationError) Codes() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		out = append(out, v.Code)
	}
	return out
}

// HasCode reports whether err is a ConfigurationError carrying code.
func HasCode(err error, code string) bool {
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		return false
	}
	for _, v := range cfgErr.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

type ApplyErrorCode string

const (
	ApplyPermissionDenied ApplyErrorCode = "PERMISSION_DENIED"
	ApplyLimitExceeded    ApplyErrorCode = "LIMIT_EXCEEDED"
	ApplyNameConflict     ApplyErrorCode = "NAME_CONFLICT"
	ApplyRejected         ApplyErrorCode = "REJECTED"
	ApplyUnknown          ApplyErrorCode = "UNKNOWN"
)

// ApplyError is a structured failure reported by a provisioning engine.
type ApplyError struct {
	Code ApplyErrorCode
	Op   string
	Err  error
}

func (e *ApplyError) Error() string {
	msg := ErrApply.Error()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	msg += ": " + string(e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

func (e *ApplyError) Is(target error) bool {
	return target == ErrApply
}

// ExportRecordError reports a key that was applied but whose export could not
// be written to the registry. ResourceID identifies the live key.
type ExportRecordError struct {
	ExportName string
	ResourceID string
	Err        error
}

func (e *ExportRecordError) Error() string {
	msg := fmt.Sprintf("%s: %s (resource %s)", ErrExportNotRecorded.Error(), e.ExportName, e.ResourceID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExportRecordError) Unwrap() error {
	return e.Err
}

func (e *ExportRecordError) Is(target error) bool {
	return target == ErrExportNotRecorded
}
