package domain

type GuardFinding struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type GuardResult struct {
	Allow bool           `json:"allow"`
	Deny  []GuardFinding `json:"deny,omitempty"`
	Warn  []GuardFinding `json:"warn,omitempty"`
}

type GuardEvaluation struct {
	BundleID   string      `json:"bundle_id,omitempty"`
	BundleHash string      `json:"bundle_hash"`
	Result     GuardResult `json:"result"`
}

// GuardInput is the document policy rules are evaluated against.
type GuardInput struct {
	Target     Target         `json:"target"`
	Descriptor KeyDescriptor  `json:"descriptor"`
	Output     ExportedOutput `json:"output"`
}

// DenyCodes returns the deny codes in result order.
func (r GuardResult) DenyCodes() []string {
	out := make([]string, 0, len(r.Deny))
	for _, f := range r.Deny {
		out = append(out, f.Code)
	}
	return out
}
