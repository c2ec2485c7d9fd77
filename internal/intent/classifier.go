// Package intent classifies founders by archetype and founder turns by intent.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
	"github.com/voicebootix/aidebuggerfoundry/internal/llm"
	"github.com/voicebootix/aidebuggerfoundry/internal/metrics"
)

// Profile sources.
const (
	SourceCapability = "capability"
	SourceHeuristic  = "heuristic"
)

// Business experience tags.
const (
	ExperienceFirstTime   = "first-time"
	ExperienceExperienced = "experienced"
	ExperienceUnknown     = "unknown"
)

// unknownConfidence is reported when the heuristic found no signal at all.
const unknownConfidence = 0.3

// TurnIntent is the decision a founder turn carries for the state machine.
type TurnIntent string

const (
	IntentContinue          TurnIntent = "continue"
	IntentFinalize          TurnIntent = "finalize"
	IntentRequestValidation TurnIntent = "requestValidation"
	IntentAffirm            TurnIntent = "affirm"
)

// ParseTurnIntent maps a label to a TurnIntent. Matching ignores case and
// separators so "request_validation" and "RequestValidation" both parse.
func ParseTurnIntent(label string) (TurnIntent, bool) {
	norm := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, label)
	switch norm {
	case "continue":
		return IntentContinue, true
	case "finalize":
		return IntentFinalize, true
	case "requestvalidation":
		return IntentRequestValidation, true
	case "affirm":
		return IntentAffirm, true
	}
	return IntentContinue, false
}

// Config configures a Classifier.
type Config struct {
	Capability llm.Capability // nil selects the heuristic for every call
	Timeout    time.Duration
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Classifier determines founder archetype and turn intent.
type Classifier struct {
	capability llm.Capability
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewClassifier creates a classifier.
func NewClassifier(cfg Config) *Classifier {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		capability: cfg.Capability,
		timeout:    cfg.Timeout,
		logger:     logger,
		metrics:    cfg.Metrics,
	}
}

type classification struct {
	label      string
	confidence float64
}

// ClassifyFounder determines the founder archetype from free text.
// It never fails: capability errors and unexpected labels fall back to the heuristic.
func (c *Classifier) ClassifyFounder(ctx context.Context, text string) domain.FounderProfile {
	heuristic := Heuristic(text)
	if c.capability == nil {
		return heuristic
	}

	got, err := llm.Call(ctx, c.capability, c.timeout, func(ctx context.Context, capability llm.Capability) (classification, error) {
		label, conf, err := capability.Classify(ctx, text)
		return classification{label: label, confidence: conf}, err
	})
	if err != nil {
		c.logger.Warn("founder classification fell back to heuristic", "error", err)
		c.metrics.Fallback("intent")
		return heuristic
	}

	ft, ok := domain.ParseFounderType(strings.ToLower(strings.TrimSpace(got.label)))
	if !ok {
		c.logger.Warn("founder classification returned unknown label", "label", got.label)
		c.metrics.Fallback("intent")
		return heuristic
	}
	// A technical label needs at least one technical word to back it up.
	if ft == domain.FounderTechnical && len(heuristic.TechnicalSkills) == 0 {
		c.logger.Warn("capability labelled founder technical without technical vocabulary")
		return heuristic
	}

	return domain.FounderProfile{
		Type:               ft,
		Confidence:         llm.Clamp01(got.confidence),
		TechnicalSkills:    heuristic.TechnicalSkills,
		BusinessExperience: heuristic.BusinessExperience,
		Source:             SourceCapability,
	}
}

// Heuristic classifies text by keyword frequency over the technical and
// business vocabularies. Text with no technical word is never technical.
func Heuristic(text string) domain.FounderProfile {
	var tech, biz int
	skills := map[string]struct{}{}
	for _, tok := range tokenize(text) {
		if _, ok := technicalTerms[tok]; ok {
			tech++
			skills[tok] = struct{}{}
		}
		if _, ok := businessTerms[tok]; ok {
			biz++
		}
	}

	p := domain.FounderProfile{
		TechnicalSkills:    sortedKeys(skills),
		BusinessExperience: experienceTag(text),
		Source:             SourceHeuristic,
	}

	total := tech + biz
	switch {
	case total == 0:
		p.Type = domain.FounderUnknown
		p.Confidence = unknownConfidence
	case tech > 0 && biz > 0 && nearEqual(tech, biz):
		p.Type = domain.FounderHybrid
		p.Confidence = 0.6
	case tech > biz:
		p.Type = domain.FounderTechnical
		p.Confidence = dominance(tech, total)
	default:
		p.Type = domain.FounderBusiness
		p.Confidence = dominance(biz, total)
	}
	return p
}

func nearEqual(a, b int) bool {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return float64(lo)/float64(hi) >= 2.0/3.0
}

func dominance(hits, total int) float64 {
	conf := 0.5 + 0.4*float64(hits)/float64(total)
	if conf > 0.9 {
		conf = 0.9
	}
	return conf
}

func experienceTag(text string) string {
	norm := normalize(text)
	for _, p := range experiencedPhrases {
		if strings.Contains(norm, p) {
			return ExperienceExperienced
		}
	}
	for _, p := range firstTimePhrases {
		if strings.Contains(norm, p) {
			return ExperienceFirstTime
		}
	}
	return ExperienceUnknown
}

// ClassifyTurn determines what a founder turn asks of the conversation.
// The phrase heuristic decides first; only when it finds neither an intent
// phrase nor a negated one is the capability consulted.
func (c *Classifier) ClassifyTurn(ctx context.Context, state domain.State, text string) TurnIntent {
	got, decided := heuristicTurn(state, text)
	if decided || c.capability == nil {
		return got
	}

	prompt := fmt.Sprintf("Conversation state: %s\nFounder message: %s\nLabel one of: continue, finalize, requestValidation, affirm.", state, text)
	label, err := llm.Call(ctx, c.capability, c.timeout, func(ctx context.Context, capability llm.Capability) (string, error) {
		return capability.Complete(ctx, prompt, llm.SchemaTurnIntent)
	})
	if err != nil {
		c.logger.Warn("turn intent classification fell back to heuristic", "state", state, "error", err)
		c.metrics.Fallback("intent")
		return IntentContinue
	}
	ti, ok := ParseTurnIntent(label)
	if !ok {
		c.logger.Warn("turn intent classification returned unknown label", "label", label)
		return IntentContinue
	}
	return ti
}

// HeuristicTurn classifies a turn by phrase matching, independent of state.
// Negated turns ("no", "not yet", "I do not agree") always continue.
func HeuristicTurn(text string) TurnIntent {
	got, _ := heuristicTurn("", text)
	return got
}

// heuristicTurn reports the intent and whether the text decided it, either by
// an explicit phrase or by a negation that rules one out.
func heuristicTurn(state domain.State, text string) (TurnIntent, bool) {
	norm := normalize(text)
	for _, p := range negationPrefixes {
		if norm == p || strings.HasPrefix(norm, p+" ") || strings.HasPrefix(norm, p+",") {
			return IntentContinue, true
		}
	}

	clauses := splitClauses(norm)
	finalize, finalizeNegated := matchPhrases(clauses, finalizePhrases)
	if finalizeNegated {
		// An explicit refusal to finalize overrides any agreement in the turn.
		return IntentContinue, true
	}
	if finalize {
		return IntentFinalize, true
	}

	validation, negated := matchPhrases(clauses, validationPhrases)
	if !validation && state == domain.StateDiscovery {
		var neg bool
		validation, neg = matchPhrases(clauses, discoveryValidationWords)
		negated = negated || neg
	}
	if validation {
		return IntentRequestValidation, true
	}

	affirm, neg := matchPhrases(clauses, affirmPhrases)
	negated = negated || neg
	if !affirm {
		affirm, neg = matchWords(clauses, affirmWords)
		negated = negated || neg
	}
	if affirm {
		return IntentAffirm, true
	}
	return IntentContinue, negated
}

// splitClauses breaks normalized text into sentence-level clauses of tokens.
// Apostrophes stay inside tokens so "don't" and "let's" survive.
func splitClauses(norm string) [][]string {
	var out [][]string
	for _, clause := range strings.FieldsFunc(norm, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == ';'
	}) {
		toks := strings.FieldsFunc(clause, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
		})
		for i, tok := range toks {
			toks[i] = strings.Trim(tok, "'")
		}
		if len(toks) > 0 {
			out = append(out, toks)
		}
	}
	return out
}

// matchPhrases reports whether any phrase occurs un-negated in clauses, and
// whether an occurrence was cancelled by a preceding negation.
func matchPhrases(clauses [][]string, phrases []string) (matched, negated bool) {
	for _, p := range phrases {
		want := strings.Fields(p)
		for _, toks := range clauses {
			for i := 0; i+len(want) <= len(toks); i++ {
				if !phraseAt(toks, i, want) {
					continue
				}
				if negatedAt(toks, i) {
					negated = true
					continue
				}
				matched = true
			}
		}
	}
	return matched, negated
}

func matchWords(clauses [][]string, words map[string]struct{}) (matched, negated bool) {
	for _, toks := range clauses {
		for i, tok := range toks {
			if _, ok := words[tok]; !ok {
				continue
			}
			if negatedAt(toks, i) {
				negated = true
				continue
			}
			matched = true
		}
	}
	return matched, negated
}

// phraseAt matches want at toks[i]. The last word also matches inflections
// ("finalize" in "finalized") when it is long enough to be unambiguous.
func phraseAt(toks []string, i int, want []string) bool {
	last := len(want) - 1
	for j, w := range want {
		tok := toks[i+j]
		if j == last && len(w) >= 4 {
			if !strings.HasPrefix(tok, w) {
				return false
			}
			continue
		}
		if tok != w {
			return false
		}
	}
	return true
}

func negatedAt(toks []string, i int) bool {
	for k := max(0, i-negationWindow); k < i; k++ {
		if _, ok := negationWords[toks[k]]; ok {
			return true
		}
	}
	return false
}

// normalize lowercases text, unifies apostrophes and collapses whitespace.
func normalize(text string) string {
	text = strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	return strings.Join(strings.Fields(text), " ")
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
