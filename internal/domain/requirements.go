package domain

// NeedsClarification is the literal marker stored in requirement fields that
// could not be resolved from the conversation.
const NeedsClarification = "[NEEDS CLARIFICATION]"

// Requirement field names, as used in RequirementRecord.Unresolved.
const (
	FieldProblem      = "problem"
	FieldSolution     = "solution"
	FieldTargetMarket = "target_market"
	FieldMonetization = "monetization"
	FieldTimeline     = "timeline"
)

// RequirementRecord is the structured summary of a conversation.
type RequirementRecord struct {
	Problem      string   `json:"problem"`
	Solution     string   `json:"solution"`
	TargetMarket string   `json:"target_market"`
	Monetization string   `json:"monetization"`
	Timeline     string   `json:"timeline"`
	Features     []string `json:"features,omitempty"`
	Constraints  []string `json:"constraints,omitempty"`
	Unresolved   []string `json:"unresolved,omitempty"`
	Source       string   `json:"source"` // capability or fallback
}

// Fields returns the business fields keyed by name.
func (r RequirementRecord) Fields() map[string]string {
	return map[string]string{
		FieldProblem:      r.Problem,
		FieldSolution:     r.Solution,
		FieldTargetMarket: r.TargetMarket,
		FieldMonetization: r.Monetization,
		FieldTimeline:     r.Timeline,
	}
}

// Complete reports whether every business field was resolved.
func (r RequirementRecord) Complete() bool {
	return len(r.Unresolved) == 0
}

// Clone returns a deep copy.
func (r RequirementRecord) Clone() RequirementRecord {
	c := r
	c.Features = append([]string(nil), r.Features...)
	c.Constraints = append([]string(nil), r.Constraints...)
	c.Unresolved = append([]string(nil), r.Unresolved...)
	return c
}
