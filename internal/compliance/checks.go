package compliance

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/google/cel-go/cel"
	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
	"github.com/voicebootix/aidebuggerfoundry/internal/llm"
)

// maxJudgedOutput bounds how much of an output is sent for judgment.
const maxJudgedOutput = 8000

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "for": {},
	"in": {}, "on": {}, "with": {}, "is": {}, "are": {}, "be": {}, "must": {},
	"should": {}, "all": {}, "every": {}, "its": {}, "by": {}, "as": {}, "at": {},
	"from": {}, "that": {}, "this": {}, "it": {}, "can": {},
}

var genericVerbs = map[string]struct{}{
	"exists": {}, "exist": {}, "implemented": {}, "implement": {}, "supported": {},
	"support": {}, "included": {}, "include": {}, "includes": {}, "provided": {},
	"provide": {}, "works": {}, "work": {}, "available": {}, "has": {}, "have": {},
	"added": {}, "present": {}, "documented": {}, "used": {}, "uses": {}, "enabled": {},
}

var suffixes = []string{"ations", "ation", "ments", "ment", "ing", "ed", "es", "s"}

// term is one required word (stemmed) or path of a keyword check.
type term struct {
	text string
	path bool
}

// DeriveTerms extracts the required terms of a statement. Path tokens such
// as "/tasks" are kept verbatim and are mandatory; stop words and generic
// verbs are dropped and the remaining words are stemmed.
func DeriveTerms(statement string) []string {
	var out []string
	seen := map[string]bool{}
	push := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, field := range strings.Fields(strings.ToLower(statement)) {
		field = strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '/'
		})
		if strings.HasPrefix(field, "/") && len(field) > 1 {
			push(field)
			continue
		}
		for _, w := range splitWords(field) {
			if _, ok := stopWords[w]; ok {
				continue
			}
			if _, ok := genericVerbs[w]; ok {
				continue
			}
			if len(w) < 2 {
				continue
			}
			push(stem(w))
		}
	}
	return out
}

func stem(w string) string {
	for _, suf := range suffixes {
		if strings.HasSuffix(w, suf) && len(w)-len(suf) >= 4 {
			return strings.TrimSuffix(w, suf)
		}
	}
	return w
}

func splitWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func toTerms(words []string) []term {
	out := make([]term, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		out = append(out, term{text: w, path: strings.HasPrefix(w, "/")})
	}
	return out
}

// keywordScore returns the fraction of terms present in output and the
// missing terms. A missing path term scores 0.
func keywordScore(output string, words []string) (float64, []string) {
	terms := toTerms(words)
	if len(terms) == 0 {
		return 0, nil
	}
	lower := strings.ToLower(output)
	tokens := splitWords(lower)

	var hits int
	var missing []string
	pathMissing := false
	for _, t := range terms {
		if t.path {
			if strings.Contains(lower, t.text) {
				hits++
			} else {
				missing = append(missing, t.text)
				pathMissing = true
			}
			continue
		}
		found := false
		for _, tok := range tokens {
			if strings.HasPrefix(tok, t.text) {
				found = true
				break
			}
		}
		if found {
			hits++
		} else {
			missing = append(missing, t.text)
		}
	}
	if pathMissing {
		return 0, missing
	}
	return float64(hits) / float64(len(terms)), missing
}

func sectionPattern(section string) *regexp.Regexp {
	q := regexp.QuoteMeta(strings.TrimSpace(section))
	return regexp.MustCompile(`(?im)^[ \t]{0,3}(?:#{1,6}[ \t]*(?:\*\*)?` + q + `(?:[^\pL\pN]|$)|(?:\*\*)?` + q + `(?:\*\*)?[ \t]*:)`)
}

// hasSection reports whether output has a markdown heading or a labelled
// line ("Section:") named section.
func hasSection(output, section string) bool {
	if strings.TrimSpace(section) == "" {
		return false
	}
	return sectionPattern(section).MatchString(output)
}

var headingPattern = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]+(.+?)[ \t#]*$`)

// headings returns the lowercased markdown headings of output.
func headings(output string) []string {
	var out []string
	for _, m := range headingPattern.FindAllStringSubmatch(output, -1) {
		out = append(out, strings.ToLower(strings.TrimSpace(m[1])))
	}
	return out
}

// exprEvaluator compiles and caches CEL programs over an output.
type exprEvaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

func newExprEvaluator() (*exprEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("output", cel.StringType),
		cel.Variable("sections", cel.ListType(cel.StringType)),
		cel.Variable("lines", cel.IntType),
		cel.Variable("length", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &exprEvaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

func (e *exprEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok = e.cache[expr]; ok {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(100000),
	)
	if err != nil {
		return nil, fmt.Errorf("build expression program: %w", err)
	}
	e.cache[expr] = prg
	return prg, nil
}

// Eval returns the expression value as a score in [0,1]. Booleans map to 0 or 1.
func (e *exprEvaluator) Eval(expr, output string) (float64, error) {
	prg, err := e.program(expr)
	if err != nil {
		return 0, err
	}
	out, _, err := prg.Eval(map[string]any{
		"output":   output,
		"sections": headings(output),
		"lines":    int64(strings.Count(output, "\n") + 1),
		"length":   int64(len(output)),
	})
	if err != nil {
		return 0, fmt.Errorf("evaluate expression: %w", err)
	}
	switch v := out.Value().(type) {
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case float64:
		return llm.Clamp01(v), nil
	case int64:
		return llm.Clamp01(float64(v)), nil
	case uint64:
		return llm.Clamp01(float64(v)), nil
	}
	return 0, fmt.Errorf("expression %q returned %T, want bool or number", expr, out.Value())
}

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// judge asks the capability how well output satisfies statement.
func (e *Engine) judge(ctx context.Context, statement, output string) (float64, error) {
	if len(output) > maxJudgedOutput {
		output = output[:maxJudgedOutput]
	}
	prompt := fmt.Sprintf("Criterion: %s\n\nOutput:\n%s\n\nReply with a number between 0 and 1.", statement, output)
	reply, err := llm.Call(ctx, e.capability, e.timeout, func(ctx context.Context, c llm.Capability) (string, error) {
		return c.Complete(ctx, prompt, llm.SchemaJudgment)
	})
	if err != nil {
		return 0, err
	}
	num := numberPattern.FindString(reply)
	if num == "" {
		return 0, fmt.Errorf("judgment reply %q has no number", reply)
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("parse judgment: %w", err)
	}
	return llm.Clamp01(v), nil
}

// patternSet caches compiled prohibited-behavior patterns.
type patternSet struct {
	mu    sync.RWMutex
	cache map[string]*regexp.Regexp
}

func newPatternSet() *patternSet {
	return &patternSet{cache: make(map[string]*regexp.Regexp)}
}

func (p *patternSet) get(pattern string) (*regexp.Regexp, error) {
	p.mu.RLock()
	re, ok := p.cache[pattern]
	p.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	p.mu.Lock()
	p.cache[pattern] = re
	p.mu.Unlock()
	return re, nil
}

// firstHit returns the index of the first of patterns matching output, or -1.
func (p *patternSet) firstHit(output string, patterns []string) (int, error) {
	for i, pat := range patterns {
		re, err := p.get(pat)
		if err != nil {
			return -1, err
		}
		if re.MatchString(output) {
			return i, nil
		}
	}
	return -1, nil
}

// checkProhibited scores one prohibited behavior: 1 when absent, 0 on any match.
func (e *Engine) checkProhibited(p domain.ProhibitedBehavior, output string) (domain.CriterionResult, error) {
	res := domain.CriterionResult{
		CriterionID: p.ID,
		Statement:   p.Description,
		Category:    p.Category,
		Method:      domain.MethodPattern,
		Score:       1,
		Satisfied:   true,
	}
	idx, err := e.patterns.firstHit(output, p.Patterns)
	if err != nil {
		return res, err
	}
	if idx >= 0 {
		res.Score = 0
		res.Satisfied = false
		res.Evidence = fmt.Sprintf("matched pattern %d", idx+1)
	}
	return res, nil
}
