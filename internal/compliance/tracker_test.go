package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
)

// memStore round-trips monitors through JSON so the tracker never shares
// memory with the store, as with a real database.
type memStore struct {
	mu        sync.Mutex
	contracts map[string]*domain.FounderContract
	monitors  map[string][]byte
}

func newMemStore(c *domain.FounderContract) *memStore {
	s := &memStore{
		contracts: map[string]*domain.FounderContract{c.ContractID: c},
		monitors:  map[string][]byte{},
	}
	data, _ := json.Marshal(domain.NewComplianceMonitor("mon-"+c.ContractID, c.ContractID))
	s.monitors[c.ContractID] = data
	return s
}

func (s *memStore) GetContract(_ context.Context, id string) (*domain.FounderContract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return nil, fmt.Errorf("%w: contract %s", domain.ErrNotFound, id)
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) GetMonitor(_ context.Context, contractID string) (*domain.ComplianceMonitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.monitors[contractID]
	if !ok {
		return nil, fmt.Errorf("%w: monitor for %s", domain.ErrNotFound, contractID)
	}
	var m domain.ComplianceMonitor
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *memStore) SaveMonitor(_ context.Context, m *domain.ComplianceMonitor) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitors[m.ContractID] = data
	return nil
}

func TestTrackerRecordPersistsAndAutoCorrects(t *testing.T) {
	t.Parallel()

	c := testContract(domain.Criterion{ID: "readme", Statement: "README", Category: domain.CategoryDocumentation, Check: domain.Check{Kind: domain.CheckSection, Section: "README"}})
	c.Rules.AutoCorrectionEnabled = true
	c.Rules.AutoCorrectable = []domain.DeviationType{domain.DeviationMissingDocumentation}
	store := newMemStore(c)
	tr := NewTracker(newTestEngine(t, Config{}), store, nil, nil)

	res, err := tr.Record(context.Background(), c.ContractID, "package main")
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	require.Len(t, res.Corrections, 1)
	assert.True(t, res.Corrections[0].Success)
	assert.Contains(t, res.Output, "## README")

	m, err := store.GetMonitor(context.Background(), c.ContractID)
	require.NoError(t, err)
	assert.Len(t, m.Outputs, 1)
	assert.Len(t, m.Corrections, 1)
	assert.Equal(t, domain.AlertAutoCorrected, m.Deviations[0].Status)

	rep, err := tr.Report(context.Background(), c.ContractID)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.AutoCorrected)
	assert.Empty(t, rep.Unsatisfied)
	require.Len(t, rep.Satisfied, 1)
	assert.Equal(t, "readme", rep.Satisfied[0].CriterionID)
	assert.Equal(t, 1.0, rep.CurrentScore)

	require.NotNil(t, res.Corrected)
	assert.Equal(t, 1.0, res.Corrected.Score)
	assert.Equal(t, 0.0, res.Result.Score)
	assert.Equal(t, 1.0, m.CurrentScore)
	assert.Equal(t, res.Result.OutputRef, m.Outputs[0].OutputRef)
}

func TestTrackerManualCorrectionRefreshesCurrentView(t *testing.T) {
	t.Parallel()

	c := testContract(domain.Criterion{ID: "readme", Statement: "README", Category: domain.CategoryDocumentation, Check: domain.Check{Kind: domain.CheckSection, Section: "README"}})
	c.Rules.AutoCorrectable = []domain.DeviationType{domain.DeviationMissingDocumentation}
	store := newMemStore(c)
	tr := NewTracker(newTestEngine(t, Config{}), store, nil, nil)

	res, err := tr.Record(context.Background(), c.ContractID, "package main")
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	require.Empty(t, res.Corrections)

	m, err := store.GetMonitor(context.Background(), c.ContractID)
	require.NoError(t, err)
	m.Deviations[0].Correctable = true
	require.NoError(t, store.SaveMonitor(context.Background(), m))

	attempt, err := tr.Correct(context.Background(), c.ContractID, res.Alerts[0].AlertID, "package main")
	require.NoError(t, err)
	require.True(t, attempt.Success)

	rep, err := tr.Report(context.Background(), c.ContractID)
	require.NoError(t, err)
	assert.Empty(t, rep.Unsatisfied)
	assert.Equal(t, 1.0, rep.CurrentScore)
}

func TestTrackerSerializesPerContract(t *testing.T) {
	t.Parallel()

	c := scenarioContract()
	store := newMemStore(c)
	tr := NewTracker(newTestEngine(t, Config{}), store, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := tr.Record(context.Background(), c.ContractID, fmt.Sprintf("output %d for /tasks API endpoint", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	m, err := store.GetMonitor(context.Background(), c.ContractID)
	require.NoError(t, err)
	assert.Len(t, m.Outputs, 12, "every output must be appended exactly once")
	assert.Len(t, m.Deviations, 12)
}

func TestTrackerCorrectUnknownAlert(t *testing.T) {
	t.Parallel()

	c := scenarioContract()
	tr := NewTracker(newTestEngine(t, Config{}), newMemStore(c), nil, nil)

	_, err := tr.Correct(context.Background(), c.ContractID, "missing", "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = tr.Record(context.Background(), "no-such-contract", "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTrackerCorrectEscalatesAndPublishes(t *testing.T) {
	t.Parallel()

	c := scenarioContract()
	store := newMemStore(c)
	tr := NewTracker(newTestEngine(t, Config{}), store, nil, nil)

	updates, cancel := tr.Subscribe(c.ContractID)
	defer cancel()

	res, err := tr.Record(context.Background(), c.ContractID, "nothing")
	require.NoError(t, err)
	require.Len(t, res.Alerts, 2)

	select {
	case u := <-updates:
		assert.Equal(t, "output", u.Kind)
		assert.Len(t, u.Alerts, 2)
	case <-time.After(time.Second):
		t.Fatal("expected an output update")
	}

	attempt, err := tr.Correct(context.Background(), c.ContractID, res.Alerts[0].AlertID, "nothing")
	require.NoError(t, err)
	assert.False(t, attempt.Success)

	select {
	case u := <-updates:
		assert.Equal(t, "correction", u.Kind)
		assert.Equal(t, domain.AlertEscalated, u.Alerts[0].Status)
	case <-time.After(time.Second):
		t.Fatal("expected a correction update")
	}

	_, err = tr.Correct(context.Background(), c.ContractID, res.Alerts[0].AlertID, "nothing")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

type fakeSource struct {
	mu      sync.Mutex
	pending []PendingOutput
	acked   map[string]string
}

func (f *fakeSource) PendingOutputs(_ context.Context, limit int) ([]PendingOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PendingOutput
	for _, p := range f.pending {
		if _, done := f.acked[p.ID]; done {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) AckOutput(_ context.Context, id, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked[id] = errMsg
	return nil
}

func TestDrainPendingRecordsAndAcks(t *testing.T) {
	t.Parallel()

	c := scenarioContract()
	store := newMemStore(c)
	tr := NewTracker(newTestEngine(t, Config{}), store, nil, nil)
	src := &fakeSource{
		pending: []PendingOutput{
			{ID: "o1", ContractID: c.ContractID, Output: "API endpoint /tasks"},
			{ID: "o2", ContractID: "unknown", Output: "x"},
			{ID: "o3", ContractID: c.ContractID, Output: "authentication"},
		},
		acked: map[string]string{},
	}

	assert.Equal(t, 3, drainPending(context.Background(), src, tr))
	assert.Equal(t, "", src.acked["o1"])
	assert.NotEmpty(t, src.acked["o2"])
	assert.Equal(t, 0, drainPending(context.Background(), src, tr))

	m, err := store.GetMonitor(context.Background(), c.ContractID)
	require.NoError(t, err)
	assert.Len(t, m.Outputs, 2)
}
