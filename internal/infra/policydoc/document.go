// Package policydoc renders key policy statements as IAM policy documents.
package policydoc

import "keystack/internal/domain"

const Version = "2012-10-17"

// Resolver turns a principal as written in configuration into the value
// placed under its principal type in the document.
type Resolver func(principal string) any

// Kind classifies a principal: "AWS", "Service" or "" when unrecognized.
func Kind(principal string) string {
	return domain.PrincipalKind(principal)
}

// Literal resolves account-root to a concrete ARN for the given account.
func Literal(partition, account string) Resolver {
	if partition == "" {
		partition = "aws"
	}
	return func(principal string) any {
		switch {
		case principal == domain.PrincipalAccountRoot:
			return "arn:" + partition + ":iam::" + account + ":root"
		case domain.IsAccountID(principal):
			return "arn:" + partition + ":iam::" + principal + ":root"
		default:
			return principal
		}
	}
}

// Intrinsic resolves account-root with CloudFormation pseudo parameters so
// the template stays account independent.
func Intrinsic(principal string) any {
	if principal != domain.PrincipalAccountRoot {
		return principal
	}
	return map[string]any{
		"Fn::Join": []any{"", []any{
			"arn:",
			map[string]any{"Ref": "AWS::Partition"},
			":iam::",
			map[string]any{"Ref": "AWS::AccountId"},
			":root",
		}},
	}
}

// Document renders the statements. Single-valued lists collapse to a scalar,
// matching how IAM documents are usually written.
func Document(policy []domain.PolicyStatement, resolve Resolver) map[string]any {
	statements := make([]any, 0, len(policy))
	for _, stmt := range policy {
		statements = append(statements, statement(stmt, resolve))
	}
	return map[string]any{
		"Version":   Version,
		"Statement": statements,
	}
}

func statement(stmt domain.PolicyStatement, resolve Resolver) map[string]any {
	effect := stmt.Effect
	if effect == "" {
		effect = domain.EffectAllow
	}
	out := map[string]any{
		"Effect":   string(effect),
		"Action":   scalarOrList(stringsToAny(stmt.Actions)),
		"Resource": scalarOrList(stringsToAny(stmt.Resources)),
	}
	if stmt.Sid != "" {
		out["Sid"] = stmt.Sid
	}

	byKind := map[string][]any{}
	for _, p := range stmt.Principals {
		kind := Kind(p)
		if kind == "" {
			kind = domain.PrincipalKindAWS
		}
		byKind[kind] = append(byKind[kind], resolve(p))
	}
	principal := make(map[string]any, len(byKind))
	for kind, values := range byKind {
		principal[kind] = scalarOrList(values)
	}
	out["Principal"] = principal
	return out
}

func stringsToAny(in []string) []any {
	out := make([]any, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}

func scalarOrList(values []any) any {
	if len(values) == 1 {
		return values[0]
	}
	return values
}
