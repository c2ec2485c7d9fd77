// Package compliance scores AI outputs against a FounderContract, raises
// deviation alerts and repairs the deviations that can be repaired.
package compliance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
	"github.com/voicebootix/aidebuggerfoundry/internal/llm"
	"github.com/voicebootix/aidebuggerfoundry/internal/metrics"
)

const (
	// defaultPassMark is used when a contract has no quality threshold.
	defaultPassMark = 0.7
	// trendDeadBand is the score change below which the trend is stable.
	trendDeadBand = 0.01
)

// Config configures an Engine.
type Config struct {
	Capability llm.Capability // used by judgment checks only
	Timeout    time.Duration
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Engine evaluates outputs against contracts. It holds no per-contract
// state; callers serialize Monitor calls for the same monitor.
type Engine struct {
	capability llm.Capability
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	exprs      *exprEvaluator
	patterns   *patternSet
}

// NewEngine creates an engine.
func NewEngine(cfg Config) (*Engine, error) {
	exprs, err := newExprEvaluator()
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		capability: cfg.Capability,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
		exprs:      exprs,
		patterns:   newPatternSet(),
	}, nil
}

// OutputRef returns the reference stored for an output: its sha256.
func OutputRef(output string) string {
	sum := sha256.Sum256([]byte(output))
	return hex.EncodeToString(sum[:])
}

// Severity maps a score drop from the 1.0 baseline to a severity.
// Lower bounds are inclusive; the minor band splits into low and medium at its midpoint.
// The drop is rounded first so 1-0.9 lands on the 0.1 boundary it means.
func Severity(drop float64, t domain.Thresholds) domain.Severity {
	drop = roundScore(drop)
	switch {
	case drop < t.Minor:
		return domain.SeverityNone
	case drop < t.Major:
		if drop < roundScore((t.Minor+t.Major)/2) {
			return domain.SeverityLow
		}
		return domain.SeverityMedium
	case drop < t.Critical:
		return domain.SeverityHigh
	default:
		return domain.SeverityCritical
	}
}

// roundScore drops float noise below 1e-9 from a score or score difference.
func roundScore(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}

func passMark(c *domain.FounderContract) float64 {
	if c.Rules.QualityThreshold > 0 {
		return c.Rules.QualityThreshold
	}
	return defaultPassMark
}

// Evaluate scores output against every criterion and prohibited behavior of c.
// Each criterion is checked independently; a criterion whose check cannot run
// (capability down, broken expression) is excluded and the result is marked
// degraded. Evaluate does not mutate anything.
func (e *Engine) Evaluate(ctx context.Context, c *domain.FounderContract, output string) domain.ComplianceResult {
	res := domain.ComplianceResult{
		ContractID:  c.ContractID,
		OutputRef:   OutputRef(output),
		SubScores:   map[domain.Category]float64{},
		EvaluatedAt: e.now().UTC(),
	}
	mark := passMark(c)

	for _, cr := range c.Criteria.All() {
		r := e.checkCriterion(ctx, cr, output)
		if r.Skipped {
			res.Degraded = true
		} else {
			r.Satisfied = r.Score >= mark
		}
		res.Results = append(res.Results, r)
	}

	for _, p := range c.Rules.Prohibited {
		r, err := e.checkProhibited(p, output)
		if err != nil {
			e.logger.Warn("prohibited behavior check failed", "contract_id", c.ContractID, "rule_id", p.ID, "error", err)
			res.Degraded = true
			continue
		}
		res.Prohibited = append(res.Prohibited, r)
	}

	sums := map[domain.Category]float64{}
	counts := map[domain.Category]int{}
	for _, r := range res.Results {
		if r.Skipped {
			continue
		}
		sums[r.Category] += r.Score
		counts[r.Category]++
	}
	for cat, n := range counts {
		res.SubScores[cat] = sums[cat] / float64(n)
	}
	for _, p := range res.Prohibited {
		if !p.Satisfied {
			res.SubScores[p.Category] = 0
		}
	}

	res.Score = weightedScore(res.SubScores, c.Rules.Weights)
	return res
}

// weightedScore averages sub-scores. Categories without items are absent
// from subs and therefore excluded. A category missing from a non-empty
// weights map keeps weight 1. With nothing to score the output is compliant.
func weightedScore(subs map[domain.Category]float64, weights map[domain.Category]float64) float64 {
	var total, wsum float64
	for _, cat := range domain.Categories {
		s, ok := subs[cat]
		if !ok {
			continue
		}
		w := 1.0
		if v, ok := weights[cat]; ok {
			w = v
		}
		if w <= 0 {
			continue
		}
		total += w * s
		wsum += w
	}
	if wsum == 0 {
		return 1
	}
	return llm.Clamp01(total / wsum)
}

func (e *Engine) checkCriterion(ctx context.Context, cr domain.Criterion, output string) (res domain.CriterionResult) {
	res = domain.CriterionResult{
		CriterionID: cr.ID,
		Statement:   cr.Statement,
		Category:    cr.Category,
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("criterion check panicked", "criterion_id", cr.ID, "panic", r)
			res.Score = 0
			res.Skipped = true
			res.Evidence = "check failed"
		}
	}()

	switch cr.Check.Kind {
	case domain.CheckSection:
		res.Method = domain.MethodSection
		if hasSection(output, cr.Check.Section) {
			res.Score = 1
		} else {
			res.Evidence = "missing section " + cr.Check.Section
		}

	case domain.CheckExpression:
		res.Method = domain.MethodExpression
		v, err := e.exprs.Eval(cr.Check.Expr, output)
		if err != nil {
			e.logger.Warn("expression check failed", "criterion_id", cr.ID, "error", err)
			res.Skipped = true
			res.Evidence = err.Error()
			return res
		}
		res.Score = v

	case domain.CheckJudgment:
		res.Method = domain.MethodJudgment
		v, err := e.judge(ctx, cr.Statement, output)
		if err != nil {
			e.logger.Warn("judgment check skipped", "criterion_id", cr.ID, "error", err)
			e.metrics.Fallback("compliance")
			res.Skipped = true
			res.Evidence = "judgment unavailable"
			return res
		}
		res.Score = v

	default:
		res.Method = domain.MethodKeyword
		terms := cr.Check.Terms
		if len(terms) == 0 {
			terms = DeriveTerms(cr.Statement)
		}
		if len(terms) == 0 {
			res.Skipped = true
			res.Evidence = "no checkable terms"
			return res
		}
		score, missing := keywordScore(output, terms)
		res.Score = score
		if len(missing) > 0 {
			res.Evidence = fmt.Sprintf("missing %v", missing)
		}
	}
	return res
}

// Monitor evaluates output, appends it to m and raises one alert per violated
// item when the score drop reaches the minor threshold. It returns the
// evaluation and the alerts raised by this output.
func (e *Engine) Monitor(ctx context.Context, m *domain.ComplianceMonitor, c *domain.FounderContract, output string) (domain.ComplianceResult, []*domain.DeviationAlert, error) {
	if m == nil || c == nil {
		return domain.ComplianceResult{}, nil, fmt.Errorf("%w: monitor and contract are required", domain.ErrValidation)
	}
	if m.ContractID != c.ContractID {
		return domain.ComplianceResult{}, nil, fmt.Errorf("%w: monitor %s belongs to contract %s, not %s", domain.ErrValidation, m.MonitorID, m.ContractID, c.ContractID)
	}
	if output == "" {
		return domain.ComplianceResult{}, nil, fmt.Errorf("%w: output is empty", domain.ErrValidation)
	}
	if !c.Active() {
		return domain.ComplianceResult{}, nil, fmt.Errorf("%w: contract %s is %s", domain.ErrInvalidState, c.ContractID, c.Status)
	}

	res := e.Evaluate(ctx, c, output)

	m.Outputs = append(m.Outputs, domain.MonitoredOutput{
		OutputRef: res.OutputRef,
		Score:     res.Score,
		Degraded:  res.Degraded,
		CheckedAt: res.EvaluatedAt,
	})
	m.CurrentScore = res.Score
	m.LastResults = res.Results
	at := res.EvaluatedAt
	m.LastCheckAt = &at

	e.metrics.Evaluated(res.Score, res.Degraded)

	drop := roundScore(1 - res.Score)
	if drop <= 0 {
		return res, nil, nil
	}
	sev := Severity(drop, c.Rules.Thresholds)
	if sev == domain.SeverityNone {
		return res, nil, nil
	}

	alerts := e.raiseAlerts(c, res, sev)
	m.Deviations = append(m.Deviations, alerts...)
	for _, a := range alerts {
		e.metrics.Deviation(string(a.Type), string(a.Severity))
	}
	e.logger.Info("compliance deviations raised",
		"contract_id", c.ContractID,
		"output_ref", res.OutputRef,
		"score", res.Score,
		"severity", sev,
		"alerts", len(alerts),
	)
	return res, alerts, nil
}

// Rescore evaluates an auto-corrected output and makes it the current view
// of m. The output history keeps the entry of the output as submitted.
func (e *Engine) Rescore(ctx context.Context, m *domain.ComplianceMonitor, c *domain.FounderContract, corrected string) domain.ComplianceResult {
	res := e.Evaluate(ctx, c, corrected)
	m.CurrentScore = res.Score
	m.LastResults = res.Results
	at := res.EvaluatedAt
	m.LastCheckAt = &at
	return res
}

func (e *Engine) raiseAlerts(c *domain.FounderContract, res domain.ComplianceResult, sev domain.Severity) []*domain.DeviationAlert {
	criteria := map[string]domain.Criterion{}
	for _, cr := range c.Criteria.All() {
		criteria[cr.ID] = cr
	}
	prohibited := map[string]domain.ProhibitedBehavior{}
	for _, p := range c.Rules.Prohibited {
		prohibited[p.ID] = p
	}

	var alerts []*domain.DeviationAlert
	alerted := map[domain.Category]bool{}
	newAlert := func(criterionID string, t domain.DeviationType, cat domain.Category, desc string) *domain.DeviationAlert {
		alerted[cat] = true
		return &domain.DeviationAlert{
			AlertID:     uuid.NewString(),
			ContractID:  c.ContractID,
			CriterionID: criterionID,
			Type:        t,
			Category:    cat,
			Severity:    sev,
			Description: desc,
			Status:      domain.AlertOpen,
			OutputRef:   res.OutputRef,
			CreatedAt:   res.EvaluatedAt,
		}
	}

	for _, r := range res.Results {
		if r.Skipped || r.Satisfied {
			continue
		}
		cr := criteria[r.CriterionID]
		a := newAlert(r.CriterionID, deviationType(r.Category), r.Category,
			fmt.Sprintf("%s not satisfied (score %.2f)", r.Statement, r.Score))
		a.Check = cr.Check
		if a.Check.Kind == "" || a.Check.Kind == domain.CheckKeyword {
			a.Check.Kind = domain.CheckKeyword
			if len(a.Check.Terms) == 0 {
				a.Check.Terms = DeriveTerms(cr.Statement)
			}
		}
		e.classifyCorrection(c, a)
		alerts = append(alerts, a)
	}

	for _, r := range res.Prohibited {
		if r.Satisfied {
			continue
		}
		a := newAlert(r.CriterionID, domain.DeviationProhibitedBehavior, r.Category,
			fmt.Sprintf("Prohibited behavior: %s", r.Statement))
		a.Patterns = append([]string(nil), prohibited[r.CriterionID].Patterns...)
		e.classifyCorrection(c, a)
		alerts = append(alerts, a)
	}

	for _, cat := range domain.Categories {
		target, ok := c.Criteria.QualityTargets[cat]
		sub, scored := res.SubScores[cat]
		if !ok || !scored || alerted[cat] || sub >= target {
			continue
		}
		a := newAlert("target-"+string(cat), domain.DeviationQualityBreach, cat,
			fmt.Sprintf("%s score %.2f below target %.2f", cat, sub, target))
		e.classifyCorrection(c, a)
		alerts = append(alerts, a)
	}
	return alerts
}

func deviationType(cat domain.Category) domain.DeviationType {
	switch cat {
	case domain.CategoryFeature:
		return domain.DeviationMissingFeature
	case domain.CategoryTechnical:
		return domain.DeviationRequirementMismatch
	case domain.CategorySecurity:
		return domain.DeviationSecurityGap
	case domain.CategoryDocumentation:
		return domain.DeviationMissingDocumentation
	default:
		return domain.DeviationQualityBreach
	}
}

// classifyCorrection marks a as an auto-correction candidate when the contract
// allows repairs of its type and a deterministic repair exists.
func (e *Engine) classifyCorrection(c *domain.FounderContract, a *domain.DeviationAlert) {
	if !c.Rules.AutoCorrectionEnabled || !c.Rules.IsAutoCorrectable(a.Type) {
		return
	}
	if _, ok := repairFor(a); ok {
		a.Correctable = true
	}
}

// Report summarizes the compliance of c from its monitor.
func (e *Engine) Report(c *domain.FounderContract, m *domain.ComplianceMonitor) domain.ComplianceReport {
	rep := domain.ComplianceReport{
		ContractID:     c.ContractID,
		CurrentScore:   m.CurrentScore,
		OutputsChecked: len(m.Outputs),
		Trend:          trend(m.Outputs),
		GeneratedAt:    e.now().UTC(),
	}
	for _, r := range m.LastResults {
		if r.Skipped {
			continue
		}
		if r.Satisfied {
			rep.Satisfied = append(rep.Satisfied, r)
		} else {
			rep.Unsatisfied = append(rep.Unsatisfied, r)
		}
	}
	if n := len(rep.Satisfied) + len(rep.Unsatisfied); n > 0 {
		rep.OverallCompliance = float64(len(rep.Satisfied)) / float64(n)
	}
	for _, d := range m.Deviations {
		switch d.Status {
		case domain.AlertOpen:
			rep.OpenDeviations = append(rep.OpenDeviations, *d)
		case domain.AlertEscalated:
			rep.Escalated = append(rep.Escalated, *d)
		case domain.AlertAutoCorrected:
			rep.AutoCorrected++
		}
	}
	return rep
}

func trend(outputs []domain.MonitoredOutput) domain.Trend {
	n := len(outputs)
	if n < 2 {
		return domain.TrendStable
	}
	diff := outputs[n-1].Score - outputs[n-2].Score
	switch {
	case diff > trendDeadBand:
		return domain.TrendImproving
	case diff < -trendDeadBand:
		return domain.TrendDegrading
	default:
		return domain.TrendStable
	}
}
