package domain

import (
	"regexp"
	"strings"
)

// AdminAction is the action whose grant keeps a key manageable: whoever may
// call it can always repair the rest of the policy.
const AdminAction = "kms:PutKeyPolicy"

// GrantsAdmin reports whether the statement lets at least one principal
// administer the key it is attached to.
func (s PolicyStatement) GrantsAdmin() bool {
	if s.Effect != "" && s.Effect != EffectAllow {
		return false
	}
	if len(s.Principals) == 0 {
		return false
	}
	if !containsString(s.Resources, Wildcard) {
		return false
	}
	for _, action := range s.Actions {
		if ActionMatches(action, AdminAction) {
			return true
		}
	}
	return false
}

// DeniesAdmin reports whether the statement takes administration of the key
// away from principal.
func (s PolicyStatement) DeniesAdmin(principal string) bool {
	if s.Effect != EffectDeny {
		return false
	}
	if !containsString(s.Resources, Wildcard) {
		return false
	}
	if !containsString(s.Principals, principal) && !containsString(s.Principals, Wildcard) {
		return false
	}
	for _, action := range s.Actions {
		if ActionMatches(action, AdminAction) {
			return true
		}
	}
	return false
}

// AdminPrincipals returns the principals an Allow statement grants
// administration to and no Deny statement takes it away from, in policy
// order.
func AdminPrincipals(policy []PolicyStatement) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, stmt := range policy {
		if !stmt.GrantsAdmin() {
			continue
		}
		for _, principal := range stmt.Principals {
			if _, ok := seen[principal]; ok {
				continue
			}
			seen[principal] = struct{}{}
			if !policyDeniesAdmin(policy, principal) {
				out = append(out, principal)
			}
		}
	}
	return out
}

func policyDeniesAdmin(policy []PolicyStatement, principal string) bool {
	for _, stmt := range policy {
		if stmt.DeniesAdmin(principal) {
			return true
		}
	}
	return false
}

// PolicyGrantsAdmin reports whether at least one principal keeps
// administration once Deny statements are applied.
func PolicyGrantsAdmin(policy []PolicyStatement) bool {
	return len(AdminPrincipals(policy)) > 0
}

// ActionMatches evaluates an IAM action pattern against an action name. The
// comparison is case-insensitive; '*' matches any run of characters and '?'
// exactly one.
func ActionMatches(pattern, action string) bool {
	return wildcardMatch(strings.ToLower(pattern), strings.ToLower(action))
}

func wildcardMatch(pattern, s string) bool {
	p, i := 0, 0
	star, mark := -1, 0
	for i < len(s) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == s[i]):
			p++
			i++
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = i
			p++
		case star >= 0:
			p = star + 1
			mark++
			i = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// IsBroadAction reports whether an action pattern covers every key operation.
func IsBroadAction(action string) bool {
	return action == Wildcard || strings.EqualFold(action, "kms:*")
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

const (
	PrincipalKindAWS     = "AWS"
	PrincipalKindService = "Service"
)

var accountIDPattern = regexp.MustCompile(`^[0-9]{12}$`)

func IsAccountID(s string) bool {
	return accountIDPattern.MatchString(s)
}

// PrincipalKind classifies a principal as written in configuration: AWS for
// account-root, '*', IAM ARNs and bare account IDs, Service for service
// principals, "" when unrecognized.
func PrincipalKind(principal string) string {
	switch {
	case principal == PrincipalAccountRoot,
		principal == Wildcard,
		strings.HasPrefix(principal, "arn:"),
		IsAccountID(principal):
		return PrincipalKindAWS
	case strings.HasSuffix(principal, ".amazonaws.com"):
		return PrincipalKindService
	default:
		return ""
	}
}
