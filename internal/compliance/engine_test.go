package compliance

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
)

type judgeCapability struct {
	reply string
	err   error
}

func (j judgeCapability) Complete(context.Context, string, string) (string, error) {
	return j.reply, j.err
}

func (j judgeCapability) Classify(context.Context, string) (string, float64, error) {
	return "", 0, nil
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func testContract(criteria ...domain.Criterion) *domain.FounderContract {
	return &domain.FounderContract{
		ContractID: "contract-1",
		SessionID:  "sess-1",
		Version:    1,
		Status:     domain.ContractActive,
		Criteria:   domain.SuccessCriteria{Technical: criteria},
		Rules: domain.ComplianceRules{
			QualityThreshold:    0.7,
			MonitoringFrequency: domain.MonitorPerOutput,
			Thresholds:          domain.DefaultThresholds(),
		},
	}
}

func scenarioContract() *domain.FounderContract {
	return testContract(
		domain.Criterion{ID: "tasks", Statement: "API endpoint /tasks exists", Category: domain.CategoryFeature},
		domain.Criterion{ID: "auth", Statement: "Authentication implemented", Category: domain.CategorySecurity},
	)
}

func TestMonitorUnmetCriteriaRaiseOneAlertEach(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	c := scenarioContract()
	m := domain.NewComplianceMonitor("mon-1", c.ContractID)

	res, alerts, err := e.Monitor(context.Background(), m, c, "Here is a landing page with a hero banner and a signup button.")
	require.NoError(t, err)

	assert.LessOrEqual(t, res.Score, 0.5)
	require.Len(t, alerts, 2)
	assert.Len(t, m.OpenDeviations(), 2)
	for _, a := range alerts {
		assert.Equal(t, domain.AlertOpen, a.Status)
		assert.Equal(t, domain.SeverityCritical, a.Severity)
	}
	assert.Equal(t, domain.DeviationMissingFeature, alerts[0].Type)
	assert.Equal(t, domain.DeviationSecurityGap, alerts[1].Type)
	assert.Len(t, m.Outputs, 1)
	assert.Equal(t, res.Score, m.CurrentScore)
	require.NotNil(t, m.LastCheckAt)
}

func TestEvaluateSatisfiedOutput(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	out := "## API\n\nThe endpoint GET /tasks lists tasks.\n\nAuthentication uses signed session cookies."
	res := e.Evaluate(context.Background(), scenarioContract(), out)

	assert.InDelta(t, 1.0, res.Score, 1e-9)
	assert.False(t, res.Degraded)
	for _, r := range res.Results {
		assert.True(t, r.Satisfied, r.CriterionID)
	}
	assert.Equal(t, OutputRef(out), res.OutputRef)
}

func TestEvaluatePathTermIsMandatory(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	c := testContract(domain.Criterion{ID: "tasks", Statement: "API endpoint /tasks exists", Category: domain.CategoryFeature})
	res := e.Evaluate(context.Background(), c, "Our API exposes an endpoint for /users")
	assert.Equal(t, 0.0, res.Results[0].Score)
}

func TestEvaluateExcludesEmptyCategoriesAndAppliesWeights(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	c := testContract(
		domain.Criterion{ID: "f", Statement: "Task list", Category: domain.CategoryFeature},
		domain.Criterion{ID: "s", Statement: "Rate limiting", Category: domain.CategorySecurity},
	)
	out := "A task list view."

	res := e.Evaluate(context.Background(), c, out)
	assert.InDelta(t, 0.5, res.Score, 1e-9)
	assert.NotContains(t, res.SubScores, domain.CategoryDocumentation)

	c.Rules.Weights = map[domain.Category]float64{domain.CategoryFeature: 3, domain.CategorySecurity: 1}
	res = e.Evaluate(context.Background(), c, out)
	assert.InDelta(t, 0.75, res.Score, 1e-9)
}

func TestEvaluateWithNothingToCheckIsCompliant(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	res := e.Evaluate(context.Background(), testContract(), "anything")
	assert.Equal(t, 1.0, res.Score)
}

func TestJudgmentUnavailableIsExcludedAndDegraded(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	c := testContract(
		domain.Criterion{ID: "f", Statement: "Task list", Category: domain.CategoryFeature},
		domain.Criterion{ID: "j", Statement: "Serves agencies", Category: domain.CategoryFeature, Check: domain.Check{Kind: domain.CheckJudgment}},
	)
	res := e.Evaluate(context.Background(), c, "task list")

	assert.True(t, res.Degraded)
	assert.True(t, res.Results[1].Skipped)
	assert.InDelta(t, 1.0, res.Score, 1e-9)
}

func TestJudgmentUsesCapability(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{Capability: judgeCapability{reply: "0.8 - mostly there"}})
	c := testContract(domain.Criterion{ID: "j", Statement: "Serves agencies", Category: domain.CategoryFeature, Check: domain.Check{Kind: domain.CheckJudgment}})
	res := e.Evaluate(context.Background(), c, "output")

	assert.False(t, res.Degraded)
	assert.InDelta(t, 0.8, res.Results[0].Score, 1e-9)
	assert.Equal(t, domain.MethodJudgment, res.Results[0].Method)
}

func TestExpressionCriteria(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	tests := []struct {
		expr     string
		want     float64
		degraded bool
	}{
		{`length > 5`, 1, false},
		{`"usage" in sections`, 1, false},
		{`lines >= 100`, 0, false},
		{`0.25 * 2.0`, 0.5, false},
		{`5.0`, 1, false},
		{`output.nope(`, 0, true},
		{`"text"`, 0, true},
	}
	for _, tt := range tests {
		c := testContract(domain.Criterion{ID: "x", Statement: "expr", Category: domain.CategoryTechnical, Check: domain.Check{Kind: domain.CheckExpression, Expr: tt.expr}})
		res := e.Evaluate(context.Background(), c, "# Usage\n\nrun it")
		assert.Equal(t, tt.degraded, res.Degraded, tt.expr)
		if !tt.degraded {
			assert.InDelta(t, tt.want, res.Results[0].Score, 1e-9, tt.expr)
		}
	}
}

func TestSeverityBands(t *testing.T) {
	t.Parallel()

	th := domain.DefaultThresholds()
	tests := []struct {
		drop float64
		want domain.Severity
	}{
		{0, domain.SeverityNone},
		{0.05, domain.SeverityNone},
		{0.10, domain.SeverityLow},
		{0.19, domain.SeverityLow},
		{0.20, domain.SeverityMedium},
		{0.29, domain.SeverityMedium},
		{0.30, domain.SeverityHigh},
		{0.49, domain.SeverityHigh},
		{0.50, domain.SeverityCritical},
		{1, domain.SeverityCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Severity(tt.drop, th), "drop %v", tt.drop)
	}

	nine, eight := 0.9, 0.8
	assert.Equal(t, domain.SeverityLow, Severity(1-nine, th))
	assert.Equal(t, domain.SeverityMedium, Severity(1-eight, th))
}

func TestMonitorBelowMinorThresholdRaisesNothing(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	c := testContract(
		domain.Criterion{ID: "a", Statement: "a", Category: domain.CategoryFeature, Check: domain.Check{Terms: []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta", "theta", "iota", "kappa", "lambda", "mu"}}},
	)
	m := domain.NewComplianceMonitor("m", c.ContractID)
	res, alerts, err := e.Monitor(context.Background(), m, c, "alpha beta gamma delta epsilon zeta eta theta iota kappa lambda")
	require.NoError(t, err)
	assert.Greater(t, res.Score, 0.9)
	assert.Empty(t, alerts)
}

func TestMonitorSeverityAtExactBoundaries(t *testing.T) {
	t.Parallel()

	words := []string{"apple", "banana", "cherry", "damson", "elderberry", "fig", "grape", "hazelnut", "ironwood", "juniper"}
	var criteria []domain.Criterion
	for _, w := range words {
		criteria = append(criteria, domain.Criterion{ID: w, Statement: w, Category: domain.CategoryFeature, Check: domain.Check{Terms: []string{w}}})
	}

	tests := []struct {
		present int
		want    domain.Severity
	}{
		{10, domain.SeverityNone},
		{9, domain.SeverityLow},
		{8, domain.SeverityMedium},
		{7, domain.SeverityHigh},
		{5, domain.SeverityCritical},
	}
	for _, tt := range tests {
		e := newTestEngine(t, Config{})
		c := testContract(criteria...)
		m := domain.NewComplianceMonitor("m", c.ContractID)

		res, alerts, err := e.Monitor(context.Background(), m, c, strings.Join(words[:tt.present], " "))
		require.NoError(t, err)
		assert.InDelta(t, float64(tt.present)/10, res.Score, 1e-9)
		if tt.want == domain.SeverityNone {
			assert.Empty(t, alerts, "present %d", tt.present)
			continue
		}
		require.Len(t, alerts, 10-tt.present, "present %d", tt.present)
		for _, a := range alerts {
			assert.Equal(t, tt.want, a.Severity, "present %d", tt.present)
		}
	}
}

func TestMonitorPerfectScoreWithZeroMinorRaisesNothing(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	c := testContract(domain.Criterion{ID: "f", Statement: "Task list", Category: domain.CategoryFeature})
	c.Rules.Thresholds = domain.Thresholds{Minor: 0, Major: 0.3, Critical: 0.5}
	m := domain.NewComplianceMonitor("m", c.ContractID)

	res, alerts, err := e.Monitor(context.Background(), m, c, "A task list for every team")
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Score)
	assert.Empty(t, alerts)
	assert.Empty(t, m.Deviations)
}

func TestQualityTargetBreach(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	c := testContract(
		domain.Criterion{ID: "a", Statement: "Task list", Category: domain.CategoryFeature},
		domain.Criterion{ID: "b", Statement: "b", Category: domain.CategoryFeature, Check: domain.Check{Terms: []string{"alpha", "beta", "gamma", "delta"}}},
	)
	c.Criteria.QualityTargets = map[domain.Category]float64{domain.CategoryFeature: 0.9}
	m := domain.NewComplianceMonitor("m", c.ContractID)

	_, alerts, err := e.Monitor(context.Background(), m, c, "task list alpha beta gamma")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.DeviationQualityBreach, alerts[0].Type)
	assert.Equal(t, domain.SeverityLow, alerts[0].Severity)
	assert.Equal(t, "target-feature", alerts[0].CriterionID)
}

func TestMonitorRejects(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	c := scenarioContract()

	_, _, err := e.Monitor(context.Background(), domain.NewComplianceMonitor("m", "other"), c, "x")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = e.Monitor(context.Background(), domain.NewComplianceMonitor("m", c.ContractID), c, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	c.Status = domain.ContractSuperseded
	_, _, err = e.Monitor(context.Background(), domain.NewComplianceMonitor("m", c.ContractID), c, "x")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAutoCorrectEscalatesNonCorrectable(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	c := scenarioContract()
	m := domain.NewComplianceMonitor("m", c.ContractID)
	out := "nothing relevant"
	_, alerts, err := e.Monitor(context.Background(), m, c, out)
	require.NoError(t, err)

	attempt, err := e.AutoCorrect(alerts[0], out)
	require.NoError(t, err)
	assert.False(t, attempt.Attempted)
	assert.False(t, attempt.Success)
	assert.Equal(t, domain.AlertEscalated, alerts[0].Status)
	require.NotNil(t, alerts[0].ResolvedAt)

	_, err = e.AutoCorrect(alerts[0], out)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAutoCorrectRedactsSecrets(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	c := testContract(domain.Criterion{ID: "f", Statement: "Task list", Category: domain.CategoryFeature})
	c.Rules.AutoCorrectionEnabled = true
	c.Rules.AutoCorrectable = []domain.DeviationType{domain.DeviationProhibitedBehavior}
	c.Rules.Prohibited = []domain.ProhibitedBehavior{{
		ID:          "hardcoded-secret",
		Description: "Hard-coded credentials",
		Category:    domain.CategorySecurity,
		Patterns:    []string{`(?i)(api[_-]?key|secret|password|token)\s*[:=]\s*["'][^"'\s]{6,}["']`},
	}}
	m := domain.NewComplianceMonitor("m", c.ContractID)
	out := "Task list page\nconst apiKey = \"sk_live_abcdef123\""

	res, alerts, err := e.Monitor(context.Background(), m, c, out)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Score, 1e-9)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.DeviationProhibitedBehavior, alerts[0].Type)
	assert.True(t, alerts[0].Correctable)

	attempts, corrected := e.CorrectOpen(m, out)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
	assert.NotContains(t, corrected, "sk_live_abcdef123")
	assert.Contains(t, corrected, redactedMarker)
	assert.Equal(t, domain.AlertAutoCorrected, alerts[0].Status)
	assert.Len(t, m.Corrections, 1)
	assert.Empty(t, m.OpenDeviations())
}

func TestAutoCorrectInsertsMissingSection(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	c := testContract(domain.Criterion{ID: "readme", Statement: "README documents setup", Category: domain.CategoryDocumentation, Check: domain.Check{Kind: domain.CheckSection, Section: "README"}})
	c.Rules.AutoCorrectionEnabled = true
	c.Rules.AutoCorrectable = []domain.DeviationType{domain.DeviationMissingDocumentation}
	m := domain.NewComplianceMonitor("m", c.ContractID)
	out := "func main() {}"

	_, alerts, err := e.Monitor(context.Background(), m, c, out)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.True(t, alerts[0].Correctable)

	attempt, err := e.AutoCorrect(alerts[0], out)
	require.NoError(t, err)
	assert.True(t, attempt.Success)
	assert.True(t, strings.HasPrefix(attempt.CorrectedOutput, out))
	assert.Equal(t, out+"\n\n## README\n", attempt.CorrectedOutput)
	assert.Equal(t, "inserted placeholder section README (content still required)", attempt.Action)
	assert.Equal(t, attempt.Action, alerts[0].CorrectiveAction)
	assert.Equal(t, 1.0, e.Evaluate(context.Background(), c, attempt.CorrectedOutput).Score)
}

func TestAutoCorrectDisabledEscalates(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	c := testContract(domain.Criterion{ID: "readme", Statement: "README", Category: domain.CategoryDocumentation, Check: domain.Check{Kind: domain.CheckSection, Section: "README"}})
	c.Rules.AutoCorrectable = []domain.DeviationType{domain.DeviationMissingDocumentation}
	m := domain.NewComplianceMonitor("m", c.ContractID)

	_, alerts, err := e.Monitor(context.Background(), m, c, "x")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.False(t, alerts[0].Correctable)
}

func TestReportTrendAndCounts(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	c := scenarioContract()
	m := domain.NewComplianceMonitor("m", c.ContractID)

	_, _, err := e.Monitor(context.Background(), m, c, "GET /tasks endpoint for the API")
	require.NoError(t, err)
	rep := e.Report(c, m)
	assert.Equal(t, domain.TrendStable, rep.Trend)
	assert.InDelta(t, 0.5, rep.OverallCompliance, 1e-9)
	assert.Len(t, rep.Satisfied, 1)
	assert.Len(t, rep.Unsatisfied, 1)

	_, _, err = e.Monitor(context.Background(), m, c, "API endpoint /tasks with authentication")
	require.NoError(t, err)
	rep = e.Report(c, m)
	assert.Equal(t, domain.TrendImproving, rep.Trend)
	assert.Equal(t, 2, rep.OutputsChecked)
	assert.Len(t, rep.OpenDeviations, 1)

	_, _, err = e.Monitor(context.Background(), m, c, "nothing")
	require.NoError(t, err)
	assert.Equal(t, domain.TrendDegrading, e.Report(c, m).Trend)
}

func TestDeriveTerms(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"api", "endpoint", "/tasks"}, DeriveTerms("API endpoint /tasks exists"))
	assert.Equal(t, []string{"authentic"}, DeriveTerms("Authentication implemented"))
	assert.Empty(t, DeriveTerms("is implemented"))
}
