package conversation

import (
	"fmt"
	"strings"

	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
)

var nextActions = map[domain.State][]string{
	domain.StateDiscovery:      {"Tell me more about the problem", "Validate my idea", "Start coding"},
	domain.StateValidation:     {"Looks right, continue to strategy", "Finalize the agreement", "Correct something"},
	domain.StateStrategy:       {"Agree and move to the contract", "Adjust the plan"},
	domain.StateAgreement:      {"Approve the contract", "Request changes"},
	domain.StateCodeGeneration: {"Review the compliance report", "Finish the project"},
	domain.StateCompleted:      nil,
}

// NextActions returns the fixed menu of choices offered in state s.
func NextActions(s domain.State) []string {
	return append([]string(nil), nextActions[s]...)
}

// templateProfile collapses founder types onto the three template variants.
func templateProfile(p *domain.FounderProfile) domain.FounderType {
	if p == nil {
		return domain.FounderUnknown
	}
	switch p.Type {
	case domain.FounderTechnical, domain.FounderHybrid:
		return domain.FounderTechnical
	case domain.FounderBusiness:
		return domain.FounderBusiness
	default:
		return domain.FounderUnknown
	}
}

var openings = map[domain.FounderType]string{
	domain.FounderTechnical: "Great, let's get concrete. What stack do you have in mind, and which parts do you want to own yourself versus delegate?",
	domain.FounderBusiness:  "Love it. Before we talk technology, tell me who has this problem today and what they currently do about it.",
	domain.FounderUnknown:   "Thanks for sharing. To start, what problem are you solving and who would use it first?",
}

var stateReplies = map[domain.State]map[domain.FounderType]string{
	domain.StateDiscovery: {
		domain.FounderTechnical: "Noted. Any constraints on hosting, integrations or data storage I should know about?",
		domain.FounderBusiness:  "Got it. How do you plan to make money from this, and by when do you need a first version?",
		domain.FounderUnknown:   "Got it. Tell me more about who pays for this and what a first version must do.",
	},
	domain.StateValidation: {
		domain.FounderTechnical: "Here is what I captured so far.",
		domain.FounderBusiness:  "Here is my understanding of your business so far.",
		domain.FounderUnknown:   "Here is what I understood so far.",
	},
	domain.StateStrategy: {
		domain.FounderTechnical: "Proposed approach: ship the core features first behind a documented API, with tests from day one. Say yes to lock this in.",
		domain.FounderBusiness:  "Proposed plan: launch the smallest version your first customers would pay for, then grow from their feedback. Say yes to lock this in.",
		domain.FounderUnknown:   "Proposed plan: build the core features first and validate with real users. Say yes to lock this in.",
	},
	domain.StateAgreement: {
		domain.FounderTechnical: "The agreement is ready: technical specs, success criteria and compliance rules. Approve it to start generation.",
		domain.FounderBusiness:  "The agreement is ready. It lists what will be built and how we will check it. Approve it to start.",
		domain.FounderUnknown:   "The agreement is ready. Approve it to start building.",
	},
	domain.StateCodeGeneration: {
		domain.FounderTechnical: "Contract locked. Every generated output is now checked against it before the next one is produced.",
		domain.FounderBusiness:  "We're building. I'll check every piece of work against what we agreed and tell you if anything drifts.",
		domain.FounderUnknown:   "We're building. Every output is checked against the agreement.",
	},
	domain.StateCompleted: {
		domain.FounderTechnical: "Generation is complete and the session is archived.",
		domain.FounderBusiness:  "Your project is complete. The session is archived with the final compliance report.",
		domain.FounderUnknown:   "The project is complete and this session is archived.",
	},
}

// Opening returns the first assistant message for a founder profile.
func Opening(p *domain.FounderProfile) string {
	return openings[templateProfile(p)]
}

// templateReply is the deterministic response used when the capability is
// unavailable or not configured.
func templateReply(s *domain.ConversationSession, buildFailed bool) string {
	if buildFailed {
		return clarificationRequest(s.Requirements)
	}
	base := stateReplies[s.State][templateProfile(s.Profile)]
	switch s.State {
	case domain.StateValidation, domain.StateAgreement:
		if s.Requirements != nil {
			return base + "\n\n" + summarize(s.Requirements)
		}
	case domain.StateCodeGeneration:
		if s.ContractID != "" {
			return base + " Contract: " + s.ContractID + "."
		}
	}
	return base
}

func clarificationRequest(rec *domain.RequirementRecord) string {
	if rec == nil || len(rec.Unresolved) == 0 {
		return "I couldn't put the agreement together yet. Could you restate the key features you need?"
	}
	return "I couldn't put the agreement together yet. Please clarify: " + strings.Join(labels(rec.Unresolved), ", ") + "."
}

var fieldLabels = map[string]string{
	domain.FieldProblem:      "the problem",
	domain.FieldSolution:     "the solution",
	domain.FieldTargetMarket: "the target market",
	domain.FieldMonetization: "how it makes money",
	domain.FieldTimeline:     "the timeline",
}

func labels(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if l, ok := fieldLabels[f]; ok {
			out = append(out, l)
		} else {
			out = append(out, f)
		}
	}
	return out
}

func summarize(rec *domain.RequirementRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- Problem: %s\n", rec.Problem)
	fmt.Fprintf(&b, "- Solution: %s\n", rec.Solution)
	fmt.Fprintf(&b, "- Target market: %s\n", rec.TargetMarket)
	fmt.Fprintf(&b, "- Monetization: %s\n", rec.Monetization)
	fmt.Fprintf(&b, "- Timeline: %s\n", rec.Timeline)
	if len(rec.Features) > 0 {
		fmt.Fprintf(&b, "- Features: %s\n", strings.Join(rec.Features, ", "))
	}
	if len(rec.Unresolved) > 0 {
		fmt.Fprintf(&b, "\nStill open: %s.", strings.Join(labels(rec.Unresolved), ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}
