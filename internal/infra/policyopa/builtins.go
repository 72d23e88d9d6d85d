package policyopa

import "github.com/open-policy-agent/opa/ast"

// allowedBuiltins is the deterministic subset guard rules may call. Anything
// reading the clock, randomness or the network is excluded.
var allowedBuiltins = map[string]struct{}{
	"assign":     {},
	"concat":     {},
	"contains":   {},
	"count":      {},
	"endswith":   {},
	"eq":         {},
	"equal":      {},
	"glob.match": {},
	"gt":         {},
	"gte":        {},
	"lower":      {},
	"lt":         {},
	"lte":        {},
	"neq":        {},
	"object.get": {},
	"sort":       {},
	"split":      {},
	"sprintf":    {},
	"startswith": {},
	"substring":  {},
	"trim":       {},
	"upper":      {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(builtins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; !ok {
			continue
		}
		allowed = append(allowed, builtin)
	}
	return allowed
}
