package contract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
	"github.com/voicebootix/aidebuggerfoundry/internal/locks"
	"github.com/voicebootix/aidebuggerfoundry/internal/metrics"
)

// defaultQualityThreshold is the criterion pass mark when the rules set none.
const defaultQualityThreshold = 0.7

var (
	contractNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://aidebuggerfoundry.dev/contracts"))
	monitorNamespace  = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://aidebuggerfoundry.dev/monitors"))
	projectNamespace  = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://aidebuggerfoundry.dev/projects"))
)

// Store persists contracts and their monitors.
type Store interface {
	GetContract(ctx context.Context, contractID string) (*domain.FounderContract, error)
	ListContractsBySession(ctx context.Context, sessionID string) ([]*domain.FounderContract, error)
	// CreateContract stores a new contract and its monitor atomically.
	CreateContract(ctx context.Context, c *domain.FounderContract, m *domain.ComplianceMonitor) error
	UpdateContract(ctx context.Context, c *domain.FounderContract) error
}

// Options tune the compliance rules of built contracts.
type Options struct {
	Thresholds     *domain.Thresholds
	Weights        map[domain.Category]float64
	AutoCorrection *bool
}

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	Store   Store
	Rules   *Rules
	Locker  locks.Locker
	Options Options
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Builder creates FounderContracts from conversations.
type Builder struct {
	store   Store
	rules   *Rules
	locker  locks.Locker
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewBuilder creates a builder. Nil rules select the embedded defaults.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.Store == nil {
		return nil, errors.New("contract builder requires a store")
	}
	rules := cfg.Rules
	if rules == nil {
		var err error
		if rules, err = DefaultRules(); err != nil {
			return nil, err
		}
	}
	if cfg.Locker == nil {
		cfg.Locker = locks.NewLocalLocker()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Builder{
		store:   cfg.Store,
		rules:   rules,
		locker:  cfg.Locker,
		opts:    cfg.Options,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}, nil
}

// ContractID returns the deterministic id of version n of a session's contract.
func ContractID(sessionID string, version int) string {
	return uuid.NewSHA1(contractNamespace, []byte(fmt.Sprintf("%s/v%d", sessionID, version))).String()
}

// Build creates the contract for s and its monitor. The session must carry a
// requirement record and be at AGREEMENT or later. Build is idempotent: the
// active contract of the session is returned when one exists. Callers hold
// the session lock.
func (b *Builder) Build(ctx context.Context, s *domain.ConversationSession) (*domain.FounderContract, error) {
	if s == nil || s.SessionID == "" {
		return nil, fmt.Errorf("%w: session is required", domain.ErrValidation)
	}
	if s.Requirements == nil {
		return nil, fmt.Errorf("%w: requirements not extracted for session %s", domain.ErrPrecondition, s.SessionID)
	}
	if !s.State.AtLeast(domain.StateAgreement) {
		return nil, fmt.Errorf("%w: session %s is in %s, contract needs %s", domain.ErrPrecondition, s.SessionID, s.State, domain.StateAgreement)
	}

	existing, err := b.store.ListContractsBySession(ctx, s.SessionID)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	version := 1
	for _, c := range existing {
		if c.Active() {
			return c, nil
		}
		if c.Version >= version {
			version = c.Version + 1
		}
	}

	c, err := b.Assemble(s, version)
	if err != nil {
		return nil, err
	}
	monitor := domain.NewComplianceMonitor(uuid.NewSHA1(monitorNamespace, []byte(c.ContractID)).String(), c.ContractID)

	if err := b.store.CreateContract(ctx, c, monitor); err != nil {
		// Another instance may have built the same version first.
		if got, getErr := b.store.GetContract(ctx, c.ContractID); getErr == nil && got.Active() {
			return got, nil
		}
		return nil, fmt.Errorf("create contract: %w", err)
	}

	b.metrics.ContractBuilt()
	b.logger.Info("contract built",
		"contract_id", c.ContractID,
		"session_id", s.SessionID,
		"version", c.Version,
		"criteria", len(c.Criteria.All()),
	)
	return c, nil
}

// Assemble derives version n of the contract for s without persisting it.
// Equal inputs produce equal contracts apart from CreatedAt.
func (b *Builder) Assemble(s *domain.ConversationSession, version int) (*domain.FounderContract, error) {
	rec := s.Requirements
	matched := b.rules.Matching(triggerText(rec))

	tech := domain.TechnicalSpecifications{
		Performance:   b.rules.Specifications.Performance,
		Security:      b.rules.Specifications.Security,
		Scalability:   b.rules.Specifications.Scalability,
		Testing:       b.rules.Specifications.Testing,
		Documentation: b.rules.Specifications.Documentation,
	}
	stack := append([]string(nil), b.rules.Base.Stack...)
	features := append([]string(nil), rec.Features...)
	requirements := append([]string(nil), b.rules.Base.Requirements...)

	var criteria []domain.Criterion
	seen := map[string]bool{}
	add := func(cs ...domain.Criterion) {
		for _, c := range cs {
			if !seen[c.ID] {
				seen[c.ID] = true
				criteria = append(criteria, c)
			}
		}
	}
	add(b.rules.Base.Criteria...)

	covered := map[string]bool{}
	for _, r := range matched {
		stack = append(stack, r.Stack...)
		features = append(features, r.Features...)
		requirements = append(requirements, r.Requirements...)
		for _, f := range r.Features {
			covered[strings.ToLower(f)] = true
		}
		add(r.Criteria...)
	}
	tech.Stack = dedupe(stack)
	tech.RequiredFeatures = dedupe(features)
	tech.Requirements = dedupe(requirements)

	for _, f := range tech.RequiredFeatures {
		if covered[strings.ToLower(f)] {
			continue
		}
		add(domain.Criterion{
			ID:        "feature-" + slug(f),
			Statement: capitalize(f) + " implemented",
			Category:  domain.CategoryFeature,
		})
	}

	c := &domain.FounderContract{
		ContractID: ContractID(s.SessionID, version),
		ProjectID:  uuid.NewSHA1(projectNamespace, []byte(s.SessionID)).String(),
		FounderID:  s.UserID,
		SessionID:  s.SessionID,
		Version:    version,
		Business: domain.BusinessRequirements{
			Problem:      rec.Problem,
			Solution:     rec.Solution,
			TargetMarket: rec.TargetMarket,
			Monetization: rec.Monetization,
			Timeline:     rec.Timeline,
		},
		Technical: tech,
		Criteria: domain.SuccessCriteria{
			Technical:      criteria,
			Business:       businessCriteria(rec),
			QualityTargets: copyCategoryMap(b.rules.QualityTargets),
		},
		Rules:     b.complianceRules(),
		CreatedAt: b.now().UTC(),
		Status:    domain.ContractActive,
	}

	hash, err := ContentHash(c)
	if err != nil {
		return nil, err
	}
	c.ContentHash = hash
	return c, nil
}

func (b *Builder) complianceRules() domain.ComplianceRules {
	threshold := b.rules.QualityThreshold
	if threshold == 0 {
		threshold = defaultQualityThreshold
	}
	thresholds := domain.DefaultThresholds()
	if b.opts.Thresholds != nil {
		thresholds = *b.opts.Thresholds
	}
	autoCorrect := true
	if b.opts.AutoCorrection != nil {
		autoCorrect = *b.opts.AutoCorrection
	}
	return domain.ComplianceRules{
		Prohibited:            append([]domain.ProhibitedBehavior(nil), b.rules.Base.Prohibited...),
		QualityThreshold:      threshold,
		MonitoringFrequency:   domain.MonitorPerOutput,
		AutoCorrectionEnabled: autoCorrect,
		AutoCorrectable:       append([]domain.DeviationType(nil), b.rules.AutoCorrectable...),
		Thresholds:            thresholds,
		Weights:               copyCategoryMap(b.opts.Weights),
	}
}

// businessCriteria turns each resolved business field into a judged criterion.
func businessCriteria(rec *domain.RequirementRecord) []domain.Criterion {
	var out []domain.Criterion
	items := []struct {
		field, label, value string
	}{
		{domain.FieldProblem, "Addresses the problem", rec.Problem},
		{domain.FieldTargetMarket, "Serves the target market", rec.TargetMarket},
		{domain.FieldMonetization, "Supports the monetization model", rec.Monetization},
	}
	for _, it := range items {
		if it.value == "" || it.value == domain.NeedsClarification {
			continue
		}
		out = append(out, domain.Criterion{
			ID:        "business-" + strings.ReplaceAll(it.field, "_", "-"),
			Statement: it.label + ": " + it.value,
			Category:  domain.CategoryFeature,
			Check:     domain.Check{Kind: domain.CheckJudgment},
		})
	}
	return out
}

// Supersede retires an active contract. A later Build creates the next version.
func (b *Builder) Supersede(ctx context.Context, contractID string) (*domain.FounderContract, error) {
	c, err := b.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}

	unlock, err := b.locker.Lock(ctx, locks.SessionKey(c.SessionID))
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	defer unlock()

	// Re-read under the lock.
	if c, err = b.store.GetContract(ctx, contractID); err != nil {
		return nil, err
	}
	if !c.Active() {
		return nil, fmt.Errorf("%w: contract %s is already %s", domain.ErrInvalidState, contractID, c.Status)
	}

	at := b.now().UTC()
	c.Status = domain.ContractSuperseded
	c.SupersededAt = &at
	if err := b.store.UpdateContract(ctx, c); err != nil {
		return nil, fmt.Errorf("update contract: %w", err)
	}
	b.logger.Info("contract superseded", "contract_id", contractID, "session_id", c.SessionID)
	return c, nil
}

// ContentHash returns the sha256 of the RFC 8785 canonical JSON of the
// contract's immutable content. Status fields and the hash itself are excluded.
func ContentHash(c *domain.FounderContract) (string, error) {
	content := *c
	content.ContentHash = ""
	content.Status = ""
	content.SupersededAt = nil

	raw, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("marshal contract: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize contract: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func triggerText(rec *domain.RequirementRecord) string {
	parts := append([]string(nil), rec.Features...)
	parts = append(parts, rec.Constraints...)
	for _, v := range []string{rec.Problem, rec.Solution, rec.TargetMarket, rec.Monetization} {
		if v != domain.NeedsClarification {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n")
}

func copyCategoryMap(m map[domain.Category]float64) map[domain.Category]float64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[domain.Category]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
