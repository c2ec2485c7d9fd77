package domain

import (
	"time"
)

// DeviationType classifies what kind of mismatch an alert records.
type DeviationType string

const (
	DeviationMissingFeature       DeviationType = "missing-feature"
	DeviationRequirementMismatch  DeviationType = "requirement-mismatch"
	DeviationQualityBreach        DeviationType = "quality-threshold-breach"
	DeviationProhibitedBehavior   DeviationType = "prohibited-behavior"
	DeviationMissingDocumentation DeviationType = "missing-documentation"
	DeviationSecurityGap          DeviationType = "security-gap"
)

// Severity of a deviation, derived from the score drop.
type Severity string

const (
	SeverityNone     Severity = ""
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank orders severities from none (0) to critical (4).
func (s Severity) Rank() int {
	return severityRank[s]
}

// AlertStatus is the lifecycle status of a deviation alert.
type AlertStatus string

const (
	AlertOpen          AlertStatus = "open"
	AlertAutoCorrected AlertStatus = "auto-corrected"
	AlertEscalated     AlertStatus = "escalated"
)

// DeviationAlert is one detected violation. Status moves open → auto-corrected
// or open → escalated and is never reopened.
type DeviationAlert struct {
	AlertID          string        `json:"alert_id"`
	ContractID       string        `json:"contract_id"`
	CriterionID      string        `json:"criterion_id"`
	Type             DeviationType `json:"type"`
	Category         Category      `json:"category"`
	Severity         Severity      `json:"severity"`
	Description      string        `json:"description"`
	Correctable      bool          `json:"correctable"`
	Check            Check         `json:"check"`
	Patterns         []string      `json:"patterns,omitempty"`
	CorrectiveAction string        `json:"corrective_action,omitempty"`
	Status           AlertStatus   `json:"status"`
	OutputRef        string        `json:"output_ref"`
	CreatedAt        time.Time     `json:"created_at"`
	ResolvedAt       *time.Time    `json:"resolved_at,omitempty"`
}

// MonitoredOutput is one AI output checked by the compliance engine.
type MonitoredOutput struct {
	OutputRef string    `json:"output_ref"`
	Score     float64   `json:"score"`
	Degraded  bool      `json:"degraded"`
	CheckedAt time.Time `json:"checked_at"`
}

// CorrectionAttempt records one auto-correction pass.
type CorrectionAttempt struct {
	AttemptID       string    `json:"attempt_id"`
	AlertID         string    `json:"alert_id"`
	Attempted       bool      `json:"attempted"`
	Success         bool      `json:"success"`
	Action          string    `json:"action"`
	CorrectedOutput string    `json:"corrected_output,omitempty"`
	At              time.Time `json:"at"`
}

// ComplianceMonitor is the live compliance state of one contract.
// Outputs, deviations and corrections are append-only.
type ComplianceMonitor struct {
	MonitorID    string              `json:"monitor_id"`
	ContractID   string              `json:"contract_id"`
	Outputs      []MonitoredOutput   `json:"outputs"`
	CurrentScore float64             `json:"current_score"`
	Deviations   []*DeviationAlert   `json:"deviations"`
	Corrections  []CorrectionAttempt `json:"corrections"`
	LastResults  []CriterionResult   `json:"last_results,omitempty"`
	LastCheckAt  *time.Time          `json:"last_check_at,omitempty"`
}

// NewComplianceMonitor creates an empty monitor for a contract. The baseline score is 1.0.
func NewComplianceMonitor(monitorID, contractID string) *ComplianceMonitor {
	return &ComplianceMonitor{
		MonitorID:    monitorID,
		ContractID:   contractID,
		CurrentScore: 1.0,
	}
}

// Deviation returns the alert with the given id.
func (m *ComplianceMonitor) Deviation(alertID string) (*DeviationAlert, bool) {
	for _, d := range m.Deviations {
		if d.AlertID == alertID {
			return d, true
		}
	}
	return nil, false
}

// OpenDeviations returns alerts still awaiting resolution.
func (m *ComplianceMonitor) OpenDeviations() []*DeviationAlert {
	var out []*DeviationAlert
	for _, d := range m.Deviations {
		if d.Status == AlertOpen {
			out = append(out, d)
		}
	}
	return out
}

// RecordCorrection appends a correction attempt.
func (m *ComplianceMonitor) RecordCorrection(a CorrectionAttempt) {
	m.Corrections = append(m.Corrections, a)
}

// CheckMethod records which checker produced a criterion result.
type CheckMethod string

const (
	MethodKeyword    CheckMethod = "keyword"
	MethodSection    CheckMethod = "section"
	MethodExpression CheckMethod = "expression"
	MethodJudgment   CheckMethod = "judgment"
	MethodPattern    CheckMethod = "pattern"
	MethodThreshold  CheckMethod = "threshold"
)

// CriterionResult is the outcome of checking one contract item against an output.
type CriterionResult struct {
	CriterionID string      `json:"criterion_id"`
	Statement   string      `json:"statement"`
	Category    Category    `json:"category"`
	Method      CheckMethod `json:"method"`
	Score       float64     `json:"score"`
	Satisfied   bool        `json:"satisfied"`
	Skipped     bool        `json:"skipped,omitempty"`
	Evidence    string      `json:"evidence,omitempty"`
}

// ComplianceResult is the output of one evaluation. It is not persisted on its own.
type ComplianceResult struct {
	ContractID  string               `json:"contract_id"`
	OutputRef   string               `json:"output_ref"`
	Score       float64              `json:"score"`
	SubScores   map[Category]float64 `json:"sub_scores"`
	Results     []CriterionResult    `json:"results"`
	Prohibited  []CriterionResult    `json:"prohibited,omitempty"`
	Degraded    bool                 `json:"degraded"`
	EvaluatedAt time.Time            `json:"evaluated_at"`
}

// Trend is the direction of compliance over the last two outputs.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// ComplianceReport is a snapshot of a contract's compliance.
type ComplianceReport struct {
	ContractID        string            `json:"contract_id"`
	OverallCompliance float64           `json:"overall_compliance"`
	CurrentScore      float64           `json:"current_score"`
	Satisfied         []CriterionResult `json:"satisfied"`
	Unsatisfied       []CriterionResult `json:"unsatisfied"`
	OpenDeviations    []DeviationAlert  `json:"open_deviations"`
	Escalated         []DeviationAlert  `json:"escalated"`
	AutoCorrected     int               `json:"auto_corrected"`
	OutputsChecked    int               `json:"outputs_checked"`
	Trend             Trend             `json:"trend"`
	GeneratedAt       time.Time         `json:"generated_at"`
}
