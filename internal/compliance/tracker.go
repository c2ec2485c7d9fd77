package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
	"github.com/voicebootix/aidebuggerfoundry/internal/locks"
)

const subscriberBuffer = 16

// Store loads contracts and loads and saves their monitors.
type Store interface {
	GetContract(ctx context.Context, contractID string) (*domain.FounderContract, error)
	GetMonitor(ctx context.Context, contractID string) (*domain.ComplianceMonitor, error)
	SaveMonitor(ctx context.Context, m *domain.ComplianceMonitor) error
}

// Update is published to subscribers after every change to a monitor.
type Update struct {
	ContractID   string                     `json:"contract_id"`
	Kind         string                     `json:"kind"` // output or correction
	OutputRef    string                     `json:"output_ref,omitempty"`
	Score        float64                    `json:"score"`
	CurrentScore float64                    `json:"current_score"`
	Degraded     bool                       `json:"degraded"`
	Alerts       []domain.DeviationAlert    `json:"alerts,omitempty"`
	Corrections  []domain.CorrectionAttempt `json:"corrections,omitempty"`
	At           time.Time                  `json:"at"`
}

// RecordResult is the outcome of monitoring one output.
type RecordResult struct {
	Result      domain.ComplianceResult    `json:"result"`
	Alerts      []domain.DeviationAlert    `json:"alerts"`
	Corrections []domain.CorrectionAttempt `json:"corrections,omitempty"`
	// Output is the output after auto-correction; equal to the input when nothing was repaired.
	Output string `json:"output"`
	// Corrected is the evaluation of Output when a repair changed it.
	Corrected *domain.ComplianceResult `json:"corrected,omitempty"`
}

// Tracker runs the engine against stored monitors with at most one
// in-flight evaluation per contract.
type Tracker struct {
	engine *Engine
	store  Store
	locker locks.Locker
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[chan Update]struct{}
}

// NewTracker creates a tracker. A nil locker selects an in-process one.
func NewTracker(engine *Engine, store Store, locker locks.Locker, logger *slog.Logger) *Tracker {
	if locker == nil {
		locker = locks.NewLocalLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		engine: engine,
		store:  store,
		locker: locker,
		logger: logger,
		subs:   make(map[string]map[chan Update]struct{}),
	}
}

func (t *Tracker) load(ctx context.Context, contractID string) (*domain.FounderContract, *domain.ComplianceMonitor, error) {
	c, err := t.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, nil, err
	}
	m, err := t.store.GetMonitor(ctx, contractID)
	if err != nil {
		return nil, nil, err
	}
	return c, m, nil
}

// Record monitors output for a contract, auto-corrects when the contract
// enables it and saves the monitor before returning.
func (t *Tracker) Record(ctx context.Context, contractID, output string) (*RecordResult, error) {
	unlock, err := t.locker.Lock(ctx, locks.ContractKey(contractID))
	if err != nil {
		return nil, fmt.Errorf("lock contract: %w", err)
	}
	defer unlock()

	c, m, err := t.load(ctx, contractID)
	if err != nil {
		return nil, err
	}

	res, alerts, err := t.engine.Monitor(ctx, m, c, output)
	if err != nil {
		return nil, err
	}

	out := &RecordResult{Result: res, Output: output}
	if c.Rules.AutoCorrectionEnabled && len(alerts) > 0 {
		out.Corrections, out.Output = t.engine.CorrectOpen(m, output)
		if out.Output != output {
			corrected := t.engine.Rescore(ctx, m, c, out.Output)
			out.Corrected = &corrected
		}
	}
	for _, a := range alerts {
		out.Alerts = append(out.Alerts, *a)
	}

	if err := t.store.SaveMonitor(ctx, m); err != nil {
		return nil, fmt.Errorf("save monitor: %w", err)
	}

	t.publish(Update{
		ContractID:   contractID,
		Kind:         "output",
		OutputRef:    res.OutputRef,
		Score:        res.Score,
		CurrentScore: m.CurrentScore,
		Degraded:     res.Degraded,
		Alerts:       out.Alerts,
		Corrections:  out.Corrections,
		At:           res.EvaluatedAt,
	})
	return out, nil
}

// Correct runs AutoCorrect for one deviation of a contract and saves the monitor.
func (t *Tracker) Correct(ctx context.Context, contractID, alertID, output string) (domain.CorrectionAttempt, error) {
	unlock, err := t.locker.Lock(ctx, locks.ContractKey(contractID))
	if err != nil {
		return domain.CorrectionAttempt{}, fmt.Errorf("lock contract: %w", err)
	}
	defer unlock()

	c, m, err := t.load(ctx, contractID)
	if err != nil {
		return domain.CorrectionAttempt{}, err
	}
	a, ok := m.Deviation(alertID)
	if !ok {
		return domain.CorrectionAttempt{}, fmt.Errorf("%w: deviation %s", domain.ErrNotFound, alertID)
	}

	attempt, err := t.engine.AutoCorrect(a, output)
	if err != nil {
		return domain.CorrectionAttempt{}, err
	}
	m.RecordCorrection(attempt)
	if attempt.Success && a.OutputRef == lastOutputRef(m) {
		t.engine.Rescore(ctx, m, c, attempt.CorrectedOutput)
	}
	if err := t.store.SaveMonitor(ctx, m); err != nil {
		return domain.CorrectionAttempt{}, fmt.Errorf("save monitor: %w", err)
	}

	t.publish(Update{
		ContractID:   contractID,
		Kind:         "correction",
		CurrentScore: m.CurrentScore,
		Alerts:       []domain.DeviationAlert{*a},
		Corrections:  []domain.CorrectionAttempt{attempt},
		At:           attempt.At,
	})
	return attempt, nil
}

func lastOutputRef(m *domain.ComplianceMonitor) string {
	if len(m.Outputs) == 0 {
		return ""
	}
	return m.Outputs[len(m.Outputs)-1].OutputRef
}

// Report loads a contract and its monitor and summarizes them.
func (t *Tracker) Report(ctx context.Context, contractID string) (domain.ComplianceReport, error) {
	c, m, err := t.load(ctx, contractID)
	if err != nil {
		return domain.ComplianceReport{}, err
	}
	return t.engine.Report(c, m), nil
}

// Subscribe returns a channel of updates for a contract and a cancel func.
// Slow subscribers miss updates rather than blocking monitoring.
func (t *Tracker) Subscribe(contractID string) (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)
	t.mu.Lock()
	if _, ok := t.subs[contractID]; !ok {
		t.subs[contractID] = make(map[chan Update]struct{})
	}
	t.subs[contractID][ch] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if set, ok := t.subs[contractID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(t.subs, contractID)
				}
			}
			close(ch)
		})
	}
}

func (t *Tracker) publish(u Update) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for ch := range t.subs[u.ContractID] {
		select {
		case ch <- u:
		default:
			t.logger.Warn("dropping compliance update for slow subscriber", "contract_id", u.ContractID)
		}
	}
}
