package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"keystack/internal/config"
	"keystack/internal/domain"
	"keystack/internal/infra/cfn"
	"keystack/internal/infra/exportcache"
	"keystack/internal/infra/exportmem"
	"keystack/internal/infra/keys/memory"
	"keystack/internal/infra/policyopa"
	"keystack/internal/infra/ratelimit"
	"keystack/internal/usecase"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const testAdminKey = "s3cret"

func testConfig() config.Config {
	return config.Config{
		StackName:                   "license",
		AWSAccountID:                "123456789012",
		AWSRegion:                   "eu-west-1",
		AWSPartition:                "aws",
		AdminAPIKey:                 testAdminKey,
		ApplyRateLimitRequests:      10,
		ApplyRateLimitWindowSeconds: 60,
	}
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	guard, err := policyopa.NewEngine(context.Background())
	require.NoError(t, err)
	exports := exportmem.New()
	cache := exportcache.NewMemory()
	provision := usecase.NewProvisionService(memory.New(), "memory", cfn.Synthesizer{}, guard, exports, cache, nil)
	lookup := usecase.NewExportLookupService(exports, cache, time.Minute)

	return NewServerWithDeps(cfg, ServerDeps{
		Provision:   provision,
		Lookup:      lookup,
		KeyConfig:   config.LicenseKey(),
		RateLimiter: ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{}),
		Gatherer:    prometheus.NewRegistry(),
	})
}

func do(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func admin() map[string]string {
	return map[string]string{adminKeyHeader: testAdminKey}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := do(t, s, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "no-db", body["mode"])
	require.Equal(t, "memory", body["engine"])
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := do(t, s, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestValidateDefaultKey(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := do(t, s, http.MethodPost, "/v1/descriptors:validate", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp validateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, domain.KeySpecECCNistP384, resp.Descriptor.KeySpec)
	require.Equal(t, domain.KeyUsageSignVerify, resp.Descriptor.KeyUsage)
	require.Equal(t, "license-key", resp.Output.ExportName)
	require.Equal(t, domain.AttributeArn, resp.Output.Value.Attribute)
	require.NotNil(t, resp.Guard)
	codes := make([]string, 0, len(resp.Warnings))
	for _, w := range resp.Warnings {
		codes = append(codes, w.Code)
	}
	require.Contains(t, codes, "BROAD_PRIVILEGE")
}

func TestSynthIsDeterministic(t *testing.T) {
	s := newTestServer(t, testConfig())
	first := do(t, s, http.MethodPost, "/v1/descriptors:synth", "", nil)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := do(t, s, http.MethodPost, "/v1/descriptors:synth", "", nil)
	require.Equal(t, first.Body.String(), second.Body.String())

	var resp synthResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &resp))
	require.Len(t, resp.Fingerprint, 64)
	require.Contains(t, string(resp.Template), "AWS::KMS::Key")
}

func TestStackAction(t *testing.T) {
	cases := []struct {
		path  string
		stack string
		ok    bool
	}{
		{"/v1/stacks/license:apply", "license", true},
		{"/v1/stacks/:apply", "", false},
		{"/v1/stacks/a/b:apply", "", false},
		{"/v1/stacks/license:plan", "", false},
		{"/v1/exports/license:apply", "", false},
	}
	for _, tc := range cases {
		stack, ok := stackAction(tc.path, "apply")
		require.Equal(t, tc.ok, ok, tc.path)
		require.Equal(t, tc.stack, stack, tc.path)
	}
}

func TestValidateRejectsEmptyPolicy(t *testing.T) {
	s := newTestServer(t, testConfig())
	body := `{"key":{"key_spec":"ECC_NIST_P384","policy":[],"export":{"name":"license-key"}}}`
	rec := do(t, s, http.MethodPost, "/v1/descriptors:validate", body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Code    string `json:"code"`
		Details struct {
			Violations []domain.Violation `json:"violations"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "CONFIGURATION_ERROR", resp.Code)
	codes := make([]string, 0, len(resp.Details.Violations))
	for _, v := range resp.Details.Violations {
		codes = append(codes, v.Code)
	}
	require.Contains(t, codes, domain.CodeEmptyPolicy)
}

func TestValidateRejectsGuardDeny(t *testing.T) {
	s := newTestServer(t, testConfig())
	body := `{"key":{"key_spec":"ECC_NIST_P384","policy":[` +
		`{"effect":"Allow","principals":["account-root"],"actions":["kms:*"],"resources":["*"]},` +
		`{"effect":"Allow","principals":["*"],"actions":["kms:Verify"],"resources":["*"]}` +
		`],"export":{"name":"license-key"}}}`
	rec := do(t, s, http.MethodPost, "/v1/descriptors:validate", body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	var resp struct {
		Code    string `json:"code"`
		Details struct {
			Violations []domain.Violation `json:"violations"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "CONFIGURATION_ERROR", resp.Code)
	codes := make([]string, 0, len(resp.Details.Violations))
	for _, v := range resp.Details.Violations {
		codes = append(codes, v.Code)
	}
	require.Contains(t, codes, "ANONYMOUS_PRINCIPAL")
}

func TestValidateYAMLBody(t *testing.T) {
	s := newTestServer(t, testConfig())
	yamlBody := "key_spec: ECC_NIST_P384\npolicy:\n  - principals: [account-root]\n    actions: [\"kms:*\"]\n    resources: [\"*\"]\nexport:\n  name: other-key\n"
	req := httptest.NewRequest(http.MethodPost, "/v1/descriptors:validate", strings.NewReader(yamlBody))
	req.Header.Set("Content-Type", "application/yaml")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp validateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "other-key", resp.Output.ExportName)
}

func TestValidateRejectsUnknownFields(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := do(t, s, http.MethodPost, "/v1/descriptors:validate", `{"keyy":{}}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "BAD_REQUEST", decode(t, rec)["code"])
}

func TestPlanReturnsTemplateAndWarnings(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := do(t, s, http.MethodPost, "/v1/descriptors:plan", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Fingerprint string                  `json:"fingerprint"`
		Guard       *domain.GuardEvaluation `json:"guard"`
		Template    struct {
			Resources map[string]any `json:"Resources"`
			Outputs   map[string]any `json:"Outputs"`
		} `json:"template"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Fingerprint)
	require.Contains(t, resp.Template.Resources, "LicenseKey")
	require.Contains(t, resp.Template.Outputs, "LicenseKeyArn")
	require.NotNil(t, resp.Guard)

	codes := make([]string, 0, len(resp.Guard.Result.Warn))
	for _, w := range resp.Guard.Result.Warn {
		codes = append(codes, w.Code)
	}
	require.Contains(t, codes, "BROAD_PRIVILEGE")
}

func TestApplyRequiresAdminKey(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := do(t, s, http.MethodPost, "/v1/stacks/license:apply", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/stacks/license:apply", "", map[string]string{adminKeyHeader: "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestApplyThenLookup(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := do(t, s, http.MethodPost, "/v1/stacks/license:apply", "", admin())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var receipt struct {
		Engine     string                `json:"engine"`
		ResourceID string                `json:"resource_id"`
		Export     domain.ResolvedOutput `json:"export"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	require.Equal(t, "memory", receipt.Engine)
	require.True(t, strings.HasPrefix(receipt.ResourceID, "arn:aws:kms:eu-west-1:123456789012:key/"), receipt.ResourceID)
	require.Equal(t, "license-key", receipt.Export.ExportName)

	rec = do(t, s, http.MethodGet, "/v1/exports/license-key", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var export domain.ResolvedOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &export))
	require.Equal(t, receipt.ResourceID, export.Value)
	require.Equal(t, "license", export.StackName)

	rec = do(t, s, http.MethodGet, "/v1/stacks/license/exports", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list exportListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Exports, 1)
}

func TestApplyFromOtherStackConflicts(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := do(t, s, http.MethodPost, "/v1/stacks/license:apply", "", admin())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/v1/stacks/billing:apply", "", admin())
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), domain.CodeDuplicateExport)
}

func TestApplyRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.ApplyRateLimitRequests = 1
	s := newTestServer(t, cfg)

	rec := do(t, s, http.MethodPost, "/v1/stacks/license:apply", "", admin())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "1", rec.Header().Get("RateLimit-Limit"))
	require.Equal(t, "0", rec.Header().Get("RateLimit-Remaining"))

	rec = do(t, s, http.MethodPost, "/v1/stacks/license:apply", "", admin())
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "RATE_LIMITED", decode(t, rec)["code"])
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, int, time.Duration) (domain.RateLimitDecision, error) {
	return domain.RateLimitDecision{}, errors.New("redis down")
}

func TestRateLimiterFailureModes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, failClosed := range []bool{false, true} {
		cfg := testConfig()
		cfg.RateLimitFailClosed = failClosed
		s := NewServerWithDeps(cfg, ServerDeps{RateLimiter: failingLimiter{}, Gatherer: prometheus.NewRegistry()})

		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodPost, "/v1/stacks/license:apply", nil)
		allowed := s.enforceRateLimit(c, routeStacksApply, "license")
		require.Equal(t, !failClosed, allowed)
		if failClosed {
			require.Equal(t, http.StatusTooManyRequests, rec.Code)
		}
	}
}

func TestGetExportNotFound(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := do(t, s, http.MethodGet, "/v1/exports/missing", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", decode(t, rec)["code"])
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := do(t, s, http.MethodPost, "/v1/descriptors:destroy", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteErrorMapsApplyErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		code   domain.ApplyErrorCode
		status int
	}{
		{domain.ApplyPermissionDenied, http.StatusForbidden},
		{domain.ApplyLimitExceeded, http.StatusTooManyRequests},
		{domain.ApplyNameConflict, http.StatusConflict},
		{domain.ApplyRejected, http.StatusBadGateway},
		{domain.ApplyUnknown, http.StatusBadGateway},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		writeError(c, &domain.ApplyError{Code: tc.code, Op: "CreateKey", Err: errors.New("boom")})
		require.Equal(t, tc.status, rec.Code, tc.code)

		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "APPLY_"+string(tc.code), resp.Code)
		require.Equal(t, "CreateKey", resp.Details["op"])
	}
}

type failingExports struct {
	*exportmem.Registry
}

func (failingExports) Put(ctx context.Context, target domain.Target, out domain.ResolvedOutput) error {
	return errors.New("registry unavailable")
}

func TestApplyReportsUnrecordedExport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	guard, err := policyopa.NewEngine(context.Background())
	require.NoError(t, err)
	exports := failingExports{Registry: exportmem.New()}
	provision := usecase.NewProvisionService(memory.New(), "memory", cfn.Synthesizer{}, guard, exports, nil, nil)
	s := NewServerWithDeps(testConfig(), ServerDeps{
		Provision:   provision,
		KeyConfig:   config.LicenseKey(),
		RateLimiter: ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{}),
		Gatherer:    prometheus.NewRegistry(),
	})

	rec := do(t, s, http.MethodPost, "/v1/stacks/license:apply", "", admin())
	require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())

	var resp struct {
		Code    string `json:"code"`
		Details struct {
			Receipt usecase.Receipt `json:"receipt"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "EXPORT_NOT_RECORDED", resp.Code)
	require.NotEmpty(t, resp.Details.Receipt.ResourceID)
	require.Equal(t, resp.Details.Receipt.ResourceID, resp.Details.Receipt.Export.Value)
}

func TestWriteErrorDefaults(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	writeError(c, domain.ErrUnauthorized)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	writeError(c, errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.True(t, bytes.Contains(rec.Body.Bytes(), []byte("INTERNAL")))
}
