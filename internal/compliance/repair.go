package compliance

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
)

const redactedMarker = "[REDACTED]"

type repairKind int

const (
	repairRedact repairKind = iota + 1
	repairStrip
	repairSection
	repairDocs
)

// repairFor picks the deterministic repair for an alert, if one exists.
func repairFor(a *domain.DeviationAlert) (repairKind, bool) {
	switch {
	case a.Type == domain.DeviationProhibitedBehavior && len(a.Patterns) > 0:
		if a.Category == domain.CategorySecurity {
			return repairRedact, true
		}
		return repairStrip, true
	case a.Check.Kind == domain.CheckSection && strings.TrimSpace(a.Check.Section) != "":
		return repairSection, true
	case a.Type == domain.DeviationMissingDocumentation && a.Check.Kind == domain.CheckKeyword && len(a.Check.Terms) > 0:
		return repairDocs, true
	}
	return 0, false
}

func (e *Engine) applyRepair(kind repairKind, a *domain.DeviationAlert, output string) (string, string, error) {
	switch kind {
	case repairRedact, repairStrip:
		replacement, action := redactedMarker, "redacted hard-coded secrets"
		if kind == repairStrip {
			replacement, action = "", "stripped placeholder markers"
		}
		for _, pat := range a.Patterns {
			re, err := e.patterns.get(pat)
			if err != nil {
				return output, "", err
			}
			output = re.ReplaceAllString(output, replacement)
		}
		return output, action, nil

	case repairSection:
		// Only the heading is inserted; its content stays the author's job.
		section := strings.TrimSpace(a.Check.Section)
		return appendBlock(output, "## "+section+"\n"), "inserted placeholder section " + section + " (content still required)", nil

	case repairDocs:
		var b strings.Builder
		b.WriteString("## Documentation\n\n")
		for _, t := range a.Check.Terms {
			fmt.Fprintf(&b, "- %s\n", t)
		}
		return appendBlock(output, b.String()), "appended documentation block", nil
	}
	return output, "", fmt.Errorf("no repair for %s", a.Type)
}

func appendBlock(output, block string) string {
	return strings.TrimRight(output, "\n") + "\n\n" + block
}

// recheck reports whether output now satisfies the failing check of a.
func (e *Engine) recheck(a *domain.DeviationAlert, output string) bool {
	if a.Type == domain.DeviationProhibitedBehavior {
		idx, err := e.patterns.firstHit(output, a.Patterns)
		return err == nil && idx < 0
	}
	switch a.Check.Kind {
	case domain.CheckSection:
		return hasSection(output, a.Check.Section)
	case domain.CheckKeyword:
		score, _ := keywordScore(output, a.Check.Terms)
		return score >= 1
	}
	return false
}

// AutoCorrect resolves an open deviation against output. A non-correctable
// deviation is escalated without an attempt. A correctable one gets its
// repair and a re-check: passing marks it auto-corrected, failing escalates
// it. The returned attempt carries the corrected output on success.
func (e *Engine) AutoCorrect(a *domain.DeviationAlert, output string) (domain.CorrectionAttempt, error) {
	if a == nil {
		return domain.CorrectionAttempt{}, fmt.Errorf("%w: deviation is required", domain.ErrValidation)
	}
	if a.Status != domain.AlertOpen {
		return domain.CorrectionAttempt{}, fmt.Errorf("%w: deviation %s is %s", domain.ErrInvalidState, a.AlertID, a.Status)
	}

	now := e.now().UTC()
	attempt := domain.CorrectionAttempt{
		AttemptID: uuid.NewString(),
		AlertID:   a.AlertID,
		At:        now,
	}

	kind, ok := repairFor(a)
	if !a.Correctable || !ok {
		e.resolve(a, domain.AlertEscalated, "escalated: not auto-correctable", now)
		attempt.Action = a.CorrectiveAction
		return attempt, nil
	}

	attempt.Attempted = true
	corrected, action, err := e.applyRepair(kind, a, output)
	if err != nil {
		e.logger.Warn("auto-correction failed", "alert_id", a.AlertID, "error", err)
		e.resolve(a, domain.AlertEscalated, "escalated: repair failed", now)
		attempt.Action = a.CorrectiveAction
		return attempt, nil
	}

	if !e.recheck(a, corrected) {
		e.resolve(a, domain.AlertEscalated, "escalated: "+action+" did not pass re-check", now)
		attempt.Action = a.CorrectiveAction
		return attempt, nil
	}

	e.resolve(a, domain.AlertAutoCorrected, action, now)
	attempt.Success = true
	attempt.Action = action
	attempt.CorrectedOutput = corrected
	return attempt, nil
}

func (e *Engine) resolve(a *domain.DeviationAlert, status domain.AlertStatus, action string, at time.Time) {
	a.Status = status
	a.CorrectiveAction = action
	a.ResolvedAt = &at
	e.metrics.Resolved(string(status))
}

// CorrectOpen runs AutoCorrect on every open deviation raised for output,
// feeding each successful repair into the next, and records the attempts on
// m. It returns the attempts and the final output.
func (e *Engine) CorrectOpen(m *domain.ComplianceMonitor, output string) ([]domain.CorrectionAttempt, string) {
	ref := OutputRef(output)
	var attempts []domain.CorrectionAttempt
	for _, a := range m.OpenDeviations() {
		if a.OutputRef != ref {
			continue
		}
		attempt, err := e.AutoCorrect(a, output)
		if err != nil {
			e.logger.Warn("auto-correction skipped", "alert_id", a.AlertID, "error", err)
			continue
		}
		if attempt.Success {
			output = attempt.CorrectedOutput
		}
		m.RecordCorrection(attempt)
		attempts = append(attempts, attempt)
	}
	return attempts, output
}
