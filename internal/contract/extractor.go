// Package contract turns a finished conversation into a FounderContract.
package contract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
	"github.com/voicebootix/aidebuggerfoundry/internal/llm"
	"github.com/voicebootix/aidebuggerfoundry/internal/metrics"
)

// Record sources.
const (
	SourceCapability = "capability"
	SourceFallback   = "fallback"
)

const requirementsSchemaURL = "https://aidebuggerfoundry.local/schemas/requirements.v1.json"

const requirementsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["problem", "solution", "target_market", "monetization", "timeline"],
  "properties": {
    "problem":       {"type": "string"},
    "solution":      {"type": "string"},
    "target_market": {"type": "string"},
    "monetization":  {"type": "string"},
    "timeline":      {"type": "string"},
    "features":      {"type": "array", "items": {"type": "string"}},
    "constraints":   {"type": "array", "items": {"type": "string"}}
  },
  "additionalProperties": false
}`

// ExtractorConfig configures an Extractor.
type ExtractorConfig struct {
	Capability llm.Capability
	Timeout    time.Duration
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Extractor summarizes a conversation into a RequirementRecord.
type Extractor struct {
	capability llm.Capability
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
	schema     *jsonschema.Schema
}

// NewExtractor creates an extractor and compiles the reply schema.
func NewExtractor(cfg ExtractorConfig) (*Extractor, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(requirementsSchemaURL, strings.NewReader(requirementsSchema)); err != nil {
		return nil, fmt.Errorf("load requirements schema: %w", err)
	}
	schema, err := c.Compile(requirementsSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile requirements schema: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		capability: cfg.Capability,
		timeout:    cfg.Timeout,
		logger:     logger,
		metrics:    cfg.Metrics,
		schema:     schema,
	}, nil
}

type extractedRequirements struct {
	Problem      string   `json:"problem"`
	Solution     string   `json:"solution"`
	TargetMarket string   `json:"target_market"`
	Monetization string   `json:"monetization"`
	Timeline     string   `json:"timeline"`
	Features     []string `json:"features"`
	Constraints  []string `json:"constraints"`
}

// Extract summarizes turns. It never fails: a capability timeout, an
// unparseable reply or a schema violation yields the conservative default
// record in which every field is marked [NEEDS CLARIFICATION].
func (e *Extractor) Extract(ctx context.Context, turns []domain.Turn) (rec domain.RequirementRecord) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("requirement extraction panicked", "panic", r)
			rec = Fallback(turns)
		}
	}()

	if e.capability == nil {
		return Fallback(turns)
	}

	reply, err := llm.Call(ctx, e.capability, e.timeout, func(ctx context.Context, c llm.Capability) (string, error) {
		return c.Complete(ctx, extractionPrompt(turns), llm.SchemaRequirements)
	})
	if err != nil {
		e.logger.Warn("requirement extraction fell back to defaults", "error", err)
		e.metrics.Fallback("extractor")
		return Fallback(turns)
	}

	parsed, err := e.parse(reply)
	if err != nil {
		e.logger.Warn("requirement extraction reply rejected", "error", err)
		e.metrics.Fallback("extractor")
		return Fallback(turns)
	}

	rec = domain.RequirementRecord{
		Problem:      parsed.Problem,
		Solution:     parsed.Solution,
		TargetMarket: parsed.TargetMarket,
		Monetization: parsed.Monetization,
		Timeline:     parsed.Timeline,
		Features:     dedupe(append(parsed.Features, detectFeatures(userTexts(turns))...)),
		Constraints:  dedupe(parsed.Constraints),
		Source:       SourceCapability,
	}
	markUnresolved(&rec)
	return rec
}

func (e *Extractor) parse(reply string) (extractedRequirements, error) {
	var out extractedRequirements
	body := stripFences(reply)

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return out, fmt.Errorf("decode requirements: %w", err)
	}
	if err := e.schema.Validate(doc); err != nil {
		return out, fmt.Errorf("validate requirements: %w", err)
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return out, fmt.Errorf("decode requirements: %w", err)
	}
	return out, nil
}

// Fallback returns the conservative default record for turns: every business
// field is unresolved, features and constraints come from keyword detection.
func Fallback(turns []domain.Turn) domain.RequirementRecord {
	texts := userTexts(turns)
	rec := domain.RequirementRecord{
		Features:    detectFeatures(texts),
		Constraints: detectConstraints(texts),
		Source:      SourceFallback,
	}
	markUnresolved(&rec)
	return rec
}

// markUnresolved replaces blank or placeholder fields with the marker and lists them.
func markUnresolved(rec *domain.RequirementRecord) {
	fields := []struct {
		name string
		v    *string
	}{
		{domain.FieldProblem, &rec.Problem},
		{domain.FieldSolution, &rec.Solution},
		{domain.FieldTargetMarket, &rec.TargetMarket},
		{domain.FieldMonetization, &rec.Monetization},
		{domain.FieldTimeline, &rec.Timeline},
	}
	rec.Unresolved = nil
	for _, f := range fields {
		v := strings.TrimSpace(*f.v)
		if v == "" || strings.Contains(v, domain.NeedsClarification) || strings.EqualFold(v, "unknown") {
			*f.v = domain.NeedsClarification
			rec.Unresolved = append(rec.Unresolved, f.name)
			continue
		}
		*f.v = v
	}
}

func extractionPrompt(turns []domain.Turn) string {
	var b strings.Builder
	b.WriteString("Summarize this founder conversation as JSON with keys problem, solution, target_market, monetization, timeline, features, constraints.\n")
	b.WriteString("Use \"" + domain.NeedsClarification + "\" for anything the founder did not state.\n\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
	}
	return b.String()
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func userTexts(turns []domain.Turn) []string {
	var out []string
	for _, t := range turns {
		if t.Role == domain.RoleUser {
			out = append(out, t.Text)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
