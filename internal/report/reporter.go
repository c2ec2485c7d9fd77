// Package report turns compliance reports into plain-language summaries for founders.
package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"text/template"

	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
)

// Disclaimer states what the compliance checks can and cannot tell a founder.
const Disclaimer = "These checks compare AI output with your agreement using keyword, structure and pattern rules. " +
	"They do not prove the software is correct or secure, and they are not legal or financial advice."

// maxListed caps how many items a next step names.
const maxListed = 3

// FounderReport is a non-technical view of a ComplianceReport.
type FounderReport struct {
	ContractID string       `json:"contract_id"`
	Headline   string       `json:"headline"`
	Percent    int          `json:"percent"`
	Trend      domain.Trend `json:"trend"`
	Works      []string     `json:"works"`
	Attention  []string     `json:"attention"`
	NextSteps  []string     `json:"next_steps"`
	Disclaimer string       `json:"disclaimer"`
}

// FounderView summarizes rep. It does no scoring of its own.
func FounderView(rep domain.ComplianceReport) FounderReport {
	pct := int(math.Round(rep.OverallCompliance * 100))
	fr := FounderReport{
		ContractID: rep.ContractID,
		Percent:    pct,
		Trend:      rep.Trend,
		Disclaimer: Disclaimer,
	}

	for _, r := range rep.Satisfied {
		fr.Works = append(fr.Works, r.Statement)
	}
	if rep.AutoCorrected > 0 {
		fr.Works = append(fr.Works, fmt.Sprintf("%d %s fixed automatically", rep.AutoCorrected, plural(rep.AutoCorrected, "issue was", "issues were")))
	}

	escalated := append([]domain.DeviationAlert(nil), rep.Escalated...)
	sort.SliceStable(escalated, func(i, j int) bool {
		return escalated[i].Severity.Rank() > escalated[j].Severity.Rank()
	})
	seen := map[string]bool{}
	for _, d := range escalated {
		line := fmt.Sprintf("%s (%s)", d.Description, d.Severity)
		if !seen[line] {
			seen[line] = true
			fr.Attention = append(fr.Attention, line)
		}
	}
	var pending []string
	for _, r := range rep.Unsatisfied {
		if !seen[r.Statement] {
			seen[r.Statement] = true
			fr.Attention = append(fr.Attention, r.Statement)
			pending = append(pending, r.Statement)
		}
	}

	open := len(rep.OpenDeviations)
	switch {
	case rep.OutputsChecked == 0:
		fr.Headline = "No AI output has been checked against your agreement yet."
	case len(escalated) > 0:
		fr.Headline = fmt.Sprintf("Needs your decision: %d %s could not be fixed automatically.", len(escalated), plural(len(escalated), "issue", "issues"))
	case pct >= 90 && open == 0:
		fr.Headline = fmt.Sprintf("On track: %d%% of the agreed criteria are met.", pct)
	default:
		fr.Headline = fmt.Sprintf("In progress: %d%% of the agreed criteria are met, %d open %s.", pct, open, plural(open, "issue", "issues"))
	}

	if len(escalated) > 0 {
		fr.NextSteps = append(fr.NextSteps, "Review the escalated issues and decide whether to change the agreement or ask for a fix.")
	}
	if len(pending) > 0 {
		if len(pending) > maxListed {
			pending = pending[:maxListed]
		}
		fr.NextSteps = append(fr.NextSteps, "Ask the AI to address: "+strings.Join(pending, "; ")+".")
	}
	if rep.Trend == domain.TrendDegrading {
		fr.NextSteps = append(fr.NextSteps, "Compliance dropped with the latest output; check recent changes before continuing.")
	}
	if len(fr.NextSteps) == 0 {
		fr.NextSteps = append(fr.NextSteps, "Continue generation; every new output is checked automatically.")
	}
	return fr
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

var markdownTemplate = template.Must(template.New("report").Parse(`# {{.Headline}}

Compliance: {{.Percent}}% ({{.Trend}})
{{if .Works}}
## What works
{{range .Works}}
- {{.}}{{end}}
{{end}}{{if .Attention}}
## Needs attention
{{range .Attention}}
- {{.}}{{end}}
{{end}}
## Next steps
{{range .NextSteps}}
- {{.}}{{end}}

_{{.Disclaimer}}_
`))

// Markdown renders the report for chat or email.
func (r FounderReport) Markdown() string {
	var b strings.Builder
	if err := markdownTemplate.Execute(&b, r); err != nil {
		return r.Headline + "\n\n" + r.Disclaimer
	}
	return b.String()
}
