package domain

import "sort"

// Target identifies where a stack is deployed.
type Target struct {
	StackName string `json:"stack_name"`
	Account   string `json:"account,omitempty"`
	Region    string `json:"region,omitempty"`
	Partition string `json:"partition,omitempty"`
}

// Scope is the handle descriptors register into. Logical IDs and export
// names are unique within a scope. A Scope is not safe for concurrent use.
type Scope struct {
	Target

	constructs map[string]struct{}
	exports    map[string]ExportedOutput
}

func NewScope(target Target) *Scope {
	if target.Partition == "" {
		target.Partition = "aws"
	}
	return &Scope{
		Target:     target,
		constructs: make(map[string]struct{}),
		exports:    make(map[string]ExportedOutput),
	}
}

func (s *Scope) HasConstruct(logicalID string) bool {
	_, ok := s.constructs[logicalID]
	return ok
}

func (s *Scope) HasExport(name string) bool {
	_, ok := s.exports[name]
	return ok
}

// Add registers a validated descriptor and its output.
func (s *Scope) Add(desc KeyDescriptor, out ExportedOutput) {
	s.constructs[desc.LogicalID] = struct{}{}
	s.constructs[out.LogicalID] = struct{}{}
	s.exports[out.ExportName] = out
}

// Exports returns the registered outputs ordered by export name.
func (s *Scope) Exports() []ExportedOutput {
	out := make([]ExportedOutput, 0, len(s.exports))
	for _, e := range s.exports {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExportName < out[j].ExportName
	})
	return out
}
