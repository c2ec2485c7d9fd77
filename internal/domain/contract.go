package domain

import (
	"time"
)

// ContractStatus is the lifecycle status of a FounderContract.
type ContractStatus string

const (
	ContractActive     ContractStatus = "active"
	ContractSuperseded ContractStatus = "superseded"
)

// Category groups criteria into the sub-scores aggregated by the compliance engine.
type Category string

const (
	CategoryFeature       Category = "feature"
	CategoryTechnical     Category = "technical"
	CategoryQuality       Category = "quality"
	CategorySecurity      Category = "security"
	CategoryDocumentation Category = "documentation"
)

// Categories lists every category in reporting order.
var Categories = []Category{
	CategoryFeature,
	CategoryTechnical,
	CategoryQuality,
	CategorySecurity,
	CategoryDocumentation,
}

// CheckKind selects how a criterion is checked against an output.
type CheckKind string

const (
	// CheckKeyword scores the fraction of required terms present in the output.
	CheckKeyword CheckKind = "keyword"
	// CheckSection requires a heading or labelled section.
	CheckSection CheckKind = "section"
	// CheckExpression evaluates a CEL expression to a bool or a number.
	CheckExpression CheckKind = "expression"
	// CheckJudgment asks the completion capability for a confidence in [0,1].
	CheckJudgment CheckKind = "judgment"
)

// Check describes how to verify a criterion. A zero Check means keyword
// matching on terms derived from the statement.
type Check struct {
	Kind    CheckKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Terms   []string  `json:"terms,omitempty" yaml:"terms,omitempty"`
	Section string    `json:"section,omitempty" yaml:"section,omitempty"`
	Expr    string    `json:"expr,omitempty" yaml:"expr,omitempty"`
}

// Criterion is one independently checkable statement of a contract.
type Criterion struct {
	ID        string   `json:"id" yaml:"id"`
	Statement string   `json:"statement" yaml:"statement"`
	Category  Category `json:"category" yaml:"category"`
	Check     Check    `json:"check" yaml:"check"`
}

// SuccessCriteria holds the checkable statements and numeric quality targets.
type SuccessCriteria struct {
	Technical      []Criterion          `json:"technical"`
	Business       []Criterion          `json:"business"`
	QualityTargets map[Category]float64 `json:"quality_targets,omitempty"`
}

// All returns technical then business criteria.
func (s SuccessCriteria) All() []Criterion {
	out := make([]Criterion, 0, len(s.Technical)+len(s.Business))
	out = append(out, s.Technical...)
	return append(out, s.Business...)
}

// BusinessRequirements is the business half of a contract.
type BusinessRequirements struct {
	Problem      string `json:"problem"`
	Solution     string `json:"solution"`
	TargetMarket string `json:"target_market"`
	Monetization string `json:"monetization"`
	Timeline     string `json:"timeline"`
}

// TechnicalSpecifications is the technical half of a contract.
type TechnicalSpecifications struct {
	Stack            []string `json:"stack"`
	RequiredFeatures []string `json:"required_features"`
	Requirements     []string `json:"requirements,omitempty"`
	Performance      string   `json:"performance"`
	Security         string   `json:"security"`
	Scalability      string   `json:"scalability"`
	Testing          string   `json:"testing"`
	Documentation    string   `json:"documentation"`
}

// ProhibitedBehavior is a pattern the AI output must never contain.
type ProhibitedBehavior struct {
	ID          string   `json:"id" yaml:"id"`
	Description string   `json:"description" yaml:"description"`
	Category    Category `json:"category" yaml:"category"`
	Patterns    []string `json:"patterns" yaml:"patterns"`
}

// Thresholds are score drops from a 1.0 baseline that escalate severity.
type Thresholds struct {
	Minor    float64 `json:"minor"`
	Major    float64 `json:"major"`
	Critical float64 `json:"critical"`
}

// DefaultThresholds returns the minor/major/critical drops used unless overridden.
func DefaultThresholds() Thresholds {
	return Thresholds{Minor: 0.10, Major: 0.30, Critical: 0.50}
}

// MonitorPerOutput is the only monitoring frequency: every output is checked
// before the next one is produced.
const MonitorPerOutput = "per_output"

// ComplianceRules configure how outputs are policed.
type ComplianceRules struct {
	Prohibited            []ProhibitedBehavior `json:"prohibited"`
	QualityThreshold      float64              `json:"quality_threshold"`
	MonitoringFrequency   string               `json:"monitoring_frequency"`
	AutoCorrectionEnabled bool                 `json:"auto_correction_enabled"`
	AutoCorrectable       []DeviationType      `json:"auto_correctable,omitempty"`
	Thresholds            Thresholds           `json:"thresholds"`
	Weights               map[Category]float64 `json:"weights,omitempty"`
}

// IsAutoCorrectable reports whether deviations of type t may be repaired automatically.
func (r ComplianceRules) IsAutoCorrectable(t DeviationType) bool {
	for _, c := range r.AutoCorrectable {
		if c == t {
			return true
		}
	}
	return false
}

// FounderContract is the checkable specification agreed in a conversation.
// It never changes after creation except for the active → superseded transition.
type FounderContract struct {
	ContractID   string                  `json:"contract_id"`
	ProjectID    string                  `json:"project_id"`
	FounderID    string                  `json:"founder_id"`
	SessionID    string                  `json:"session_id"`
	Version      int                     `json:"version"`
	Business     BusinessRequirements    `json:"business"`
	Technical    TechnicalSpecifications `json:"technical"`
	Criteria     SuccessCriteria         `json:"criteria"`
	Rules        ComplianceRules         `json:"rules"`
	ContentHash  string                  `json:"content_hash"`
	CreatedAt    time.Time               `json:"created_at"`
	Status       ContractStatus          `json:"status"`
	SupersededAt *time.Time              `json:"superseded_at,omitempty"`
}

// Active reports whether the contract is the live agreement.
func (c *FounderContract) Active() bool {
	return c.Status == ContractActive
}
