package contract

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

var errInvalidRules = errors.New("invalid mapping rules")

// Specifications are the default technical expectations of every contract.
type Specifications struct {
	Performance   string `yaml:"performance"`
	Security      string `yaml:"security"`
	Scalability   string `yaml:"scalability"`
	Testing       string `yaml:"testing"`
	Documentation string `yaml:"documentation"`
}

// BaseRules apply to every contract.
type BaseRules struct {
	Stack        []string                    `yaml:"stack"`
	Requirements []string                    `yaml:"requirements"`
	Criteria     []domain.Criterion          `yaml:"criteria"`
	Prohibited   []domain.ProhibitedBehavior `yaml:"prohibited"`
}

// MappingRule adds requirements and criteria when one of its triggers
// appears in the requirement record.
type MappingRule struct {
	ID           string             `yaml:"id"`
	Triggers     []string           `yaml:"triggers"`
	Features     []string           `yaml:"features"`
	Requirements []string           `yaml:"requirements"`
	Stack        []string           `yaml:"stack"`
	Criteria     []domain.Criterion `yaml:"criteria"`
}

// Rules is the full mapping used by the Builder.
type Rules struct {
	Version          int                         `yaml:"version"`
	Specifications   Specifications              `yaml:"specifications"`
	QualityThreshold float64                     `yaml:"quality_threshold"`
	QualityTargets   map[domain.Category]float64 `yaml:"quality_targets"`
	AutoCorrectable  []domain.DeviationType      `yaml:"auto_correctable"`
	Base             BaseRules                   `yaml:"base"`
	Rules            []MappingRule               `yaml:"rules"`
}

// DefaultRules returns the embedded mapping rules.
func DefaultRules() (*Rules, error) {
	return ParseRules(defaultRulesYAML)
}

// LoadRules reads mapping rules from path, or the embedded defaults when path is empty.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates YAML mapping rules.
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode mapping rules: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks ids are unique, categories and check kinds are known and
// every prohibited pattern compiles.
func (r *Rules) Validate() error {
	if r.QualityThreshold < 0 || r.QualityThreshold > 1 {
		return fmt.Errorf("%w: quality_threshold %v outside [0,1]", errInvalidRules, r.QualityThreshold)
	}
	for cat, v := range r.QualityTargets {
		if !validCategory(cat) {
			return fmt.Errorf("%w: unknown quality target category %q", errInvalidRules, cat)
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: quality target %s=%v outside [0,1]", errInvalidRules, cat, v)
		}
	}

	seen := map[string]bool{}
	checkCriteria := func(owner string, cs []domain.Criterion) error {
		for _, c := range cs {
			if c.ID == "" || c.Statement == "" {
				return fmt.Errorf("%w: %s has a criterion without id or statement", errInvalidRules, owner)
			}
			if seen[c.ID] {
				return fmt.Errorf("%w: duplicate criterion id %q", errInvalidRules, c.ID)
			}
			seen[c.ID] = true
			if !validCategory(c.Category) {
				return fmt.Errorf("%w: criterion %q has unknown category %q", errInvalidRules, c.ID, c.Category)
			}
			if err := validateCheck(c.Check); err != nil {
				return fmt.Errorf("%w: criterion %q: %v", errInvalidRules, c.ID, err)
			}
		}
		return nil
	}

	if err := checkCriteria("base", r.Base.Criteria); err != nil {
		return err
	}
	for _, p := range r.Base.Prohibited {
		if p.ID == "" || len(p.Patterns) == 0 {
			return fmt.Errorf("%w: prohibited behavior without id or patterns", errInvalidRules)
		}
		if !validCategory(p.Category) {
			return fmt.Errorf("%w: prohibited behavior %q has unknown category %q", errInvalidRules, p.ID, p.Category)
		}
		for _, pat := range p.Patterns {
			if _, err := regexp.Compile(pat); err != nil {
				return fmt.Errorf("%w: prohibited behavior %q: %v", errInvalidRules, p.ID, err)
			}
		}
	}
	for _, rule := range r.Rules {
		if rule.ID == "" || len(rule.Triggers) == 0 {
			return fmt.Errorf("%w: rule without id or triggers", errInvalidRules)
		}
		if err := checkCriteria("rule "+rule.ID, rule.Criteria); err != nil {
			return err
		}
	}
	return nil
}

func validateCheck(c domain.Check) error {
	switch c.Kind {
	case "", domain.CheckKeyword, domain.CheckJudgment:
		return nil
	case domain.CheckSection:
		if strings.TrimSpace(c.Section) == "" {
			return errors.New("section check without section")
		}
		return nil
	case domain.CheckExpression:
		if strings.TrimSpace(c.Expr) == "" {
			return errors.New("expression check without expr")
		}
		return nil
	}
	return fmt.Errorf("unknown check kind %q", c.Kind)
}

func validCategory(c domain.Category) bool {
	for _, known := range domain.Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Matching returns the rules triggered by text, in declaration order.
func (r *Rules) Matching(text string) []MappingRule {
	text = strings.ToLower(text)
	var out []MappingRule
	for _, rule := range r.Rules {
		for _, t := range rule.Triggers {
			if containsWordPrefix(text, strings.ToLower(t)) {
				out = append(out, rule)
				break
			}
		}
	}
	return out
}

// containsWordPrefix reports whether needle occurs in s starting at a word boundary.
func containsWordPrefix(s, needle string) bool {
	if needle == "" {
		return false
	}
	for i := 0; ; {
		j := strings.Index(s[i:], needle)
		if j < 0 {
			return false
		}
		pos := i + j
		if pos == 0 || !isWordRune(rune(s[pos-1])) {
			return true
		}
		i = pos + 1
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
