package contract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
)

type memStore struct {
	mu        sync.Mutex
	contracts map[string]*domain.FounderContract
	monitors  map[string]*domain.ComplianceMonitor
}

func newMemStore() *memStore {
	return &memStore{
		contracts: map[string]*domain.FounderContract{},
		monitors:  map[string]*domain.ComplianceMonitor{},
	}
}

func (m *memStore) GetContract(_ context.Context, id string) (*domain.FounderContract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return nil, fmt.Errorf("%w: contract %s", domain.ErrNotFound, id)
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListContractsBySession(_ context.Context, sessionID string) ([]*domain.FounderContract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.FounderContract
	for _, c := range m.contracts {
		if c.SessionID == sessionID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) CreateContract(_ context.Context, c *domain.FounderContract, mon *domain.ComplianceMonitor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contracts[c.ContractID]; ok {
		return errors.New("duplicate contract")
	}
	cp := *c
	m.contracts[c.ContractID] = &cp
	m.monitors[c.ContractID] = mon
	return nil
}

func (m *memStore) UpdateContract(_ context.Context, c *domain.FounderContract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.contracts[c.ContractID] = &cp
	return nil
}

func agreedSession() *domain.ConversationSession {
	return &domain.ConversationSession{
		SessionID: "sess-1",
		UserID:    "user-1",
		State:     domain.StateAgreement,
		Requirements: &domain.RequirementRecord{
			Problem:      "Small teams lose track of tasks",
			Solution:     "A shared task board",
			TargetMarket: "Agencies with under 20 people",
			Monetization: domain.NeedsClarification,
			Timeline:     domain.NeedsClarification,
			Features:     []string{"task management", "user authentication", "calendar sync"},
			Unresolved:   []string{domain.FieldMonetization, domain.FieldTimeline},
		},
	}
}

func newTestBuilder(t *testing.T, store *memStore) *Builder {
	t.Helper()
	b, err := NewBuilder(BuilderConfig{
		Store: store,
		Now:   func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return b
}

func TestBuildPreconditions(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t, newMemStore())

	s := agreedSession()
	s.Requirements = nil
	_, err := b.Build(context.Background(), s)
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	s = agreedSession()
	s.State = domain.StateStrategy
	_, err = b.Build(context.Background(), s)
	assert.ErrorIs(t, err, domain.ErrPrecondition)
}

func TestBuildDerivesCriteriaFromRules(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	b := newTestBuilder(t, store)

	c, err := b.Build(context.Background(), agreedSession())
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, cr := range c.Criteria.All() {
		ids[cr.ID] = true
	}
	for _, want := range []string{"base-readme", "base-tests", "base-input-validation", "tasks-endpoint", "auth-implemented", "teams-membership", "feature-calendar-sync"} {
		assert.True(t, ids[want], "missing criterion %s", want)
	}
	assert.False(t, ids["payments-integration"], "payments rule should not fire")

	assert.Equal(t, domain.DefaultThresholds(), c.Rules.Thresholds)
	assert.Equal(t, domain.MonitorPerOutput, c.Rules.MonitoringFrequency)
	assert.True(t, c.Rules.AutoCorrectionEnabled)
	assert.Len(t, c.ContentHash, 64)
	assert.Equal(t, ContractID("sess-1", 1), c.ContractID)
	assert.Equal(t, "user-1", c.FounderID)

	mon, ok := store.monitors[c.ContractID]
	require.True(t, ok, "monitor must be created with the contract")
	assert.Equal(t, 1.0, mon.CurrentScore)
}

func TestBuildIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	b := newTestBuilder(t, store)

	first, err := b.Build(context.Background(), agreedSession())
	require.NoError(t, err)
	second, err := b.Build(context.Background(), agreedSession())
	require.NoError(t, err)

	assert.Equal(t, first.ContractID, second.ContractID)
	assert.Len(t, store.contracts, 1)
}

func TestSupersedeThenRebuild(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	b := newTestBuilder(t, store)
	ctx := context.Background()

	v1, err := b.Build(ctx, agreedSession())
	require.NoError(t, err)

	old, err := b.Supersede(ctx, v1.ContractID)
	require.NoError(t, err)
	assert.Equal(t, domain.ContractSuperseded, old.Status)
	require.NotNil(t, old.SupersededAt)

	_, err = b.Supersede(ctx, v1.ContractID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	v2, err := b.Build(ctx, agreedSession())
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.NotEqual(t, v1.ContractID, v2.ContractID)

	_, err = b.Supersede(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestContentHashIgnoresStatus(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t, newMemStore())
	c, err := b.Assemble(agreedSession(), 1)
	require.NoError(t, err)

	before, err := ContentHash(c)
	require.NoError(t, err)
	c.Status = domain.ContractSuperseded
	after, err := ContentHash(c)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	c.Business.Problem = "something else"
	changed, err := ContentHash(c)
	require.NoError(t, err)
	assert.NotEqual(t, before, changed)
}

func TestParseRulesRejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"bad category": `
base:
  criteria:
    - {id: a, statement: A, category: vibes}`,
		"duplicate id": `
base:
  criteria:
    - {id: a, statement: A, category: feature}
rules:
  - id: r
    triggers: [x]
    criteria:
      - {id: a, statement: B, category: feature}`,
		"bad pattern": `
base:
  prohibited:
    - {id: p, category: security, patterns: ["("]}`,
		"section without name": `
base:
  criteria:
    - {id: a, statement: A, category: documentation, check: {kind: section}}`,
	}
	for name, doc := range tests {
		_, err := ParseRules([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestDefaultRulesLoad(t *testing.T) {
	t.Parallel()

	r, err := LoadRules("")
	require.NoError(t, err)
	assert.NotEmpty(t, r.Rules)
	assert.True(t, len(r.Matching("we need stripe checkout")) > 0)
	assert.Empty(t, r.Matching("rapid prototyping"), "api must match at a word boundary only")
}
