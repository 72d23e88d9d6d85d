package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"keystack/internal/config"
	"keystack/internal/domain"
	"keystack/internal/usecase"

	"github.com/gin-gonic/gin"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// keyRequest is the body of every descriptor route. Absent fields fall back
// to the server configuration.
type keyRequest struct {
	Target *targetRequest    `json:"target,omitempty"`
	Key    *config.KeyConfig `json:"key,omitempty"`
}

type targetRequest struct {
	StackName string `json:"stack_name"`
	Account   string `json:"account"`
	Region    string `json:"region"`
	Partition string `json:"partition"`
}

type validateResponse struct {
	Descriptor domain.KeyDescriptor    `json:"descriptor"`
	Output     domain.ExportedOutput   `json:"output"`
	Warnings   []domain.GuardFinding   `json:"warnings,omitempty"`
	Guard      *domain.GuardEvaluation `json:"guard,omitempty"`
}

type synthResponse struct {
	Fingerprint string          `json:"fingerprint"`
	Template    json.RawMessage `json:"template"`
}

type planResponse struct {
	usecase.Plan
	Template json.RawMessage `json:"template"`
}

type exportListResponse struct {
	StackName string                  `json:"stack_name"`
	Exports   []domain.ResolvedOutput `json:"exports"`
}

func (s *Server) handleNoRoute(c *gin.Context) {
	if c.Request.Method == http.MethodPost {
		switch c.Request.URL.Path {
		case "/v1/descriptors:validate":
			s.handleValidate(c)
			return
		case "/v1/descriptors:synth":
			s.handleSynth(c)
			return
		case "/v1/descriptors:plan":
			s.handlePlan(c)
			return
		}
		if stack, ok := stackAction(c.Request.URL.Path, "apply"); ok {
			s.handleApply(c, stack)
			return
		}
	}
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func (s *Server) handleValidate(c *gin.Context) {
	target, key, ok := s.decodeKeyRequest(c, "")
	if !ok {
		return
	}
	if s.provision == nil {
		desc, out, err := usecase.BuildKeyDescriptor(domain.NewScope(target), key)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, validateResponse{Descriptor: desc, Output: out})
		return
	}
	plan, err := s.provision.Validate(c.Request.Context(), target, key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, validateResponse{
		Descriptor: plan.Descriptor,
		Output:     plan.Output,
		Warnings:   plan.Warnings(),
		Guard:      plan.Guard,
	})
}

func (s *Server) handleSynth(c *gin.Context) {
	if s.provision == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "provisioning not configured")
		return
	}
	target, key, ok := s.decodeKeyRequest(c, "")
	if !ok {
		return
	}
	plan, err := s.provision.Plan(c.Request.Context(), target, key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, synthResponse{Fingerprint: plan.Fingerprint, Template: json.RawMessage(plan.Template)})
}

func (s *Server) handlePlan(c *gin.Context) {
	if s.provision == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "provisioning not configured")
		return
	}
	target, key, ok := s.decodeKeyRequest(c, "")
	if !ok {
		return
	}
	plan, err := s.provision.Plan(c.Request.Context(), target, key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, planResponse{Plan: plan, Template: json.RawMessage(plan.Template)})
}

func (s *Server) handleApply(c *gin.Context, stack string) {
	if !s.requireAdmin(c) {
		return
	}
	if s.provision == nil || s.provision.Engine == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "provisioning not configured")
		return
	}
	if !s.enforceRateLimit(c, routeStacksApply, stack) {
		return
	}
	target, key, ok := s.decodeKeyRequest(c, stack)
	if !ok {
		return
	}
	receipt, err := s.provision.Provision(c.Request.Context(), target, key)
	var recordErr *domain.ExportRecordError
	if errors.As(err, &recordErr) {
		c.JSON(http.StatusInternalServerError, errorResponse{
			Code:    "EXPORT_NOT_RECORDED",
			Message: err.Error(),
			Details: map[string]any{"receipt": receipt},
		})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (s *Server) handleGetExport(c *gin.Context) {
	if s.lookup == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "export registry not configured")
		return
	}
	target := s.targetFromQuery(c, "")
	out, err := s.lookup.Get(c.Request.Context(), target, c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleListExports(c *gin.Context) {
	if s.lookup == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "export registry not configured")
		return
	}
	target := s.targetFromQuery(c, c.Param("stack"))
	exports, err := s.lookup.ListByStack(c.Request.Context(), target)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, exportListResponse{StackName: target.StackName, Exports: exports})
}

// stackAction matches /v1/stacks/<stack>:<action>.
func stackAction(path, action string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/v1/stacks/")
	if !ok {
		return "", false
	}
	stack, ok := strings.CutSuffix(rest, ":"+action)
	if !ok || stack == "" || strings.Contains(stack, "/") {
		return "", false
	}
	return stack, true
}

// decodeKeyRequest reads a JSON keyRequest, or a bare YAML key configuration
// when the content type says so. An empty body plans the configured key.
func (s *Server) decodeKeyRequest(c *gin.Context, stack string) (domain.Target, config.KeyConfig, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "failed to read body")
		return domain.Target{}, config.KeyConfig{}, false
	}
	if len(body) > maxBodyBytes {
		writeErrorCode(c, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body too large")
		return domain.Target{}, config.KeyConfig{}, false
	}

	var req keyRequest
	body = bytes.TrimSpace(body)
	switch {
	case len(body) == 0:
	case strings.Contains(c.ContentType(), "yaml"):
		key, err := config.ParseKeyConfig(body)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return domain.Target{}, config.KeyConfig{}, false
		}
		req.Key = &key
	default:
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "invalid json body")
			return domain.Target{}, config.KeyConfig{}, false
		}
	}

	target := s.defaultTarget(stack)
	if req.Target != nil {
		if req.Target.StackName != "" && stack == "" {
			target.StackName = req.Target.StackName
		}
		if req.Target.Account != "" {
			target.Account = req.Target.Account
		}
		if req.Target.Region != "" {
			target.Region = req.Target.Region
		}
		if req.Target.Partition != "" {
			target.Partition = req.Target.Partition
		}
	}
	key := s.keyConfig
	if req.Key != nil {
		key = *req.Key
	}
	return target, key, true
}

func (s *Server) targetFromQuery(c *gin.Context, stack string) domain.Target {
	target := s.defaultTarget(stack)
	if v := c.Query("account"); v != "" {
		target.Account = v
	}
	if v := c.Query("region"); v != "" {
		target.Region = v
	}
	return target
}

func (s *Server) defaultTarget(stack string) domain.Target {
	if stack == "" {
		stack = s.cfg.StackName
	}
	return domain.Target{
		StackName: stack,
		Account:   s.cfg.AWSAccountID,
		Region:    s.cfg.AWSRegion,
		Partition: s.cfg.AWSPartition,
	}
}

func writeError(c *gin.Context, err error) {
	var cfgErr *domain.ConfigurationError
	if errors.As(err, &cfgErr) {
		c.JSON(http.StatusBadRequest, errorResponse{
			Code:    "CONFIGURATION_ERROR",
			Message: err.Error(),
			Details: map[string]any{"violations": cfgErr.Violations},
		})
		return
	}
	var applyErr *domain.ApplyError
	if errors.As(err, &applyErr) {
		c.JSON(applyStatus(applyErr.Code), errorResponse{
			Code:    "APPLY_" + string(applyErr.Code),
			Message: err.Error(),
			Details: map[string]any{"op": applyErr.Op},
		})
		return
	}

	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	}
	writeErrorCode(c, status, code, err.Error())
}

func applyStatus(code domain.ApplyErrorCode) int {
	switch code {
	case domain.ApplyPermissionDenied:
		return http.StatusForbidden
	case domain.ApplyLimitExceeded:
		return http.StatusTooManyRequests
	case domain.ApplyNameConflict:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
