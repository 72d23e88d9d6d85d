// Package policyopa evaluates key descriptors against rego guard rules.
package policyopa

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"keystack/internal/domain"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

const (
	defaultQuery    = "data.keystack.guard.result"
	EmbeddedBundle  = "embedded"
	embeddedRootDir = "bundle"
)

//go:embed bundle/*.rego
var embedded embed.FS

type Engine struct {
	query      rego.PreparedEvalQuery
	bundleHash string
	bundleID   string
}

// NewEngine prepares the guard rules compiled into the binary.
func NewEngine(ctx context.Context) (*Engine, error) {
	bundleHash, err := ComputeBundleHashFromFS(embedded, embeddedRootDir)
	if err != nil {
		return nil, err
	}
	var modules []func(*rego.Rego)
	err = fs.WalkDir(embedded, embeddedRootDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return walkErr
		}
		src, err := fs.ReadFile(embedded, path)
		if err != nil {
			return err
		}
		modules = append(modules, rego.Module(path, string(src)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prepare(ctx, EmbeddedBundle, bundleHash, modules...)
}

// NewEngineFromBundlePath prepares the rules of a bundle directory in place
// of the embedded ones.
func NewEngineFromBundlePath(ctx context.Context, bundlePath string, bundleID string) (*Engine, error) {
	bundleHash, err := ComputeBundleHashFromPath(bundlePath)
	if err != nil {
		return nil, err
	}
	return prepare(ctx, bundleID, bundleHash, rego.Load([]string{bundlePath}, nil))
}

func prepare(ctx context.Context, bundleID, bundleHash string, sources ...func(*rego.Rego)) (*Engine, error) {
	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	opts := []func(*rego.Rego){
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
	}
	opts = append(opts, sources...)
	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}
	return &Engine{
		query:      prepared,
		bundleHash: bundleHash,
		bundleID:   bundleID,
	}, nil
}

func (e *Engine) BundleHash() string {
	return e.bundleHash
}

func (e *Engine) BundleID() string {
	return e.bundleID
}

func (e *Engine) Evaluate(ctx context.Context, input domain.GuardInput) (domain.GuardEvaluation, error) {
	if e == nil {
		return domain.GuardEvaluation{}, errors.New("policy engine is nil")
	}
	doc, err := toDocument(input)
	if err != nil {
		return domain.GuardEvaluation{}, err
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return domain.GuardEvaluation{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.GuardEvaluation{}, errors.New("empty policy result")
	}
	result, err := decodeGuardResult(results[0].Expressions[0].Value)
	if err != nil {
		return domain.GuardEvaluation{}, err
	}
	normalizeGuardResult(&result)
	return domain.GuardEvaluation{
		BundleID:   e.bundleID,
		BundleHash: e.bundleHash,
		Result:     result,
	}, nil
}

// toDocument converts the input to plain JSON values so rules see the json
// field names.
func toDocument(input domain.GuardInput) (map[string]any, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeGuardResult(value any) (domain.GuardResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return domain.GuardResult{}, err
	}
	var result domain.GuardResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return domain.GuardResult{}, err
	}
	return result, nil
}

func normalizeGuardResult(result *domain.GuardResult) {
	if result == nil {
		return
	}
	sortFindings(result.Deny)
	sortFindings(result.Warn)
	if len(result.Deny) > 0 {
		result.Allow = false
	}
}

func sortFindings(findings []domain.GuardFinding) {
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Code == findings[j].Code {
			return findings[i].Message < findings[j].Message
		}
		return findings[i].Code < findings[j].Code
	})
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("policy compiler is nil")
	}
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; ok {
				return false
			}
			forbidden[name] = struct{}{}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}
