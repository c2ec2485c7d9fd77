// Package conversation drives a founder through discovery, validation,
// strategy and agreement, up to a contract that code generation runs under.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
	"github.com/voicebootix/aidebuggerfoundry/internal/intent"
	"github.com/voicebootix/aidebuggerfoundry/internal/llm"
	"github.com/voicebootix/aidebuggerfoundry/internal/locks"
	"github.com/voicebootix/aidebuggerfoundry/internal/metrics"
)

// replyContextTurns is how many trailing turns are sent with a reply prompt.
const replyContextTurns = 10

// Store persists sessions.
type Store interface {
	CreateSession(ctx context.Context, s *domain.ConversationSession) error
	GetSession(ctx context.Context, sessionID string) (*domain.ConversationSession, error)
	UpdateSession(ctx context.Context, s *domain.ConversationSession) error
}

// Classifier determines founder archetype and turn intent.
type Classifier interface {
	ClassifyFounder(ctx context.Context, text string) domain.FounderProfile
	ClassifyTurn(ctx context.Context, state domain.State, text string) intent.TurnIntent
}

// Extractor summarizes turns into requirements.
type Extractor interface {
	Extract(ctx context.Context, turns []domain.Turn) domain.RequirementRecord
}

// ContractBuilder creates the contract of an agreed session.
type ContractBuilder interface {
	Build(ctx context.Context, s *domain.ConversationSession) (*domain.FounderContract, error)
}

// Config wires a StateMachine.
type Config struct {
	Store      Store
	Classifier Classifier
	Extractor  Extractor
	Builder    ContractBuilder
	Capability llm.Capability // optional; replies fall back to templates
	Timeout    time.Duration
	Locker     locks.Locker
	Transcript *TranscriptLogger
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// StateMachine runs conversations. Calls for the same session are serialized.
type StateMachine struct {
	store      Store
	classifier Classifier
	extractor  Extractor
	builder    ContractBuilder
	capability llm.Capability
	timeout    time.Duration
	locker     locks.Locker
	transcript *TranscriptLogger
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Result is the outcome of a conversation step.
type Result struct {
	Session     *domain.ConversationSession `json:"session"`
	NextActions []string                    `json:"next_actions"`
	Intent      intent.TurnIntent           `json:"intent,omitempty"`
	Reply       string                      `json:"reply"`
}

// NewStateMachine validates cfg and creates a state machine.
func NewStateMachine(cfg Config) (*StateMachine, error) {
	if cfg.Store == nil || cfg.Classifier == nil || cfg.Extractor == nil || cfg.Builder == nil {
		return nil, errors.New("state machine requires store, classifier, extractor and builder")
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
	return &StateMachine{
		store:      cfg.Store,
		classifier: cfg.Classifier,
		extractor:  cfg.Extractor,
		builder:    cfg.Builder,
		capability: cfg.Capability,
		timeout:    cfg.Timeout,
		locker:     cfg.Locker,
		transcript: cfg.Transcript,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
	}, nil
}

// transitions is the forward-only state table. Intents missing for a state
// leave it unchanged.
var transitions = map[domain.State]map[intent.TurnIntent]domain.State{
	domain.StateDiscovery: {
		intent.IntentFinalize:          domain.StateAgreement,
		intent.IntentRequestValidation: domain.StateValidation,
	},
	domain.StateValidation: {
		intent.IntentAffirm:   domain.StateStrategy,
		intent.IntentFinalize: domain.StateAgreement,
	},
	domain.StateStrategy: {
		intent.IntentAffirm:   domain.StateAgreement,
		intent.IntentFinalize: domain.StateAgreement,
	},
	domain.StateAgreement: {
		intent.IntentAffirm:   domain.StateCodeGeneration,
		intent.IntentFinalize: domain.StateCodeGeneration,
	},
	domain.StateCodeGeneration: {
		intent.IntentFinalize: domain.StateCompleted,
	},
}

// NextState returns the state a turn with intent ti moves s to.
func NextState(s domain.State, ti intent.TurnIntent) domain.State {
	if next, ok := transitions[s][ti]; ok {
		return next
	}
	return s
}

func validateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: message text is empty", domain.ErrValidation)
	}
	return text, nil
}

// Start opens a session in DISCOVERY, classifies the founder from the first
// message and answers with the opening for that founder type.
func (m *StateMachine) Start(ctx context.Context, userID, text string) (*Result, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	text, err := validateText(text)
	if err != nil {
		return nil, err
	}

	profile := m.classifier.ClassifyFounder(ctx, text)
	now := m.now().UTC()
	s := &domain.ConversationSession{
		SessionID: uuid.NewString(),
		UserID:    userID,
		State:     domain.StateDiscovery,
		Profile:   &profile,
		CreatedAt: now,
		UpdatedAt: now,
	}
	userTurn := s.AppendTurn(domain.RoleUser, text, now)
	reply := Opening(s.Profile)
	assistantTurn := s.AppendTurn(domain.RoleAssistant, reply, m.now().UTC())

	if err := m.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.logTurn(s, userTurn, "")
	m.logTurn(s, assistantTurn, "")
	m.logger.Info("conversation started",
		"session_id", s.SessionID,
		"user_id", userID,
		"founder_type", profile.Type,
		"profile_source", profile.Source,
	)
	return &Result{Session: s, NextActions: NextActions(s.State), Reply: reply}, nil
}

// Advance appends a founder turn, applies the transition its intent selects
// and answers. A COMPLETED session is rejected and left untouched; on any
// error the stored session is unchanged.
func (m *StateMachine) Advance(ctx context.Context, sessionID, text string) (*Result, error) {
	text, err := validateText(text)
	if err != nil {
		return nil, err
	}

	unlock, err := m.locker.Lock(ctx, locks.SessionKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	defer unlock()

	stored, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if stored.State == domain.StateCompleted || stored.Archived {
		return nil, fmt.Errorf("%w: session %s is completed", domain.ErrInvalidState, sessionID)
	}

	s := stored.Clone()
	userTurn := s.AppendTurn(domain.RoleUser, text, m.now().UTC())
	ti := m.classifier.ClassifyTurn(ctx, s.State, text)

	from := s.State
	next := NextState(from, ti)
	buildFailed := false

	if next != from {
		if next == domain.StateValidation || (next == domain.StateAgreement && s.Requirements == nil) {
			rec := m.extractor.Extract(ctx, s.Turns)
			s.Requirements = &rec
		}

		if next == domain.StateCodeGeneration {
			c, err := m.builder.Build(ctx, s)
			if err != nil {
				m.logger.Warn("contract build failed, staying in agreement", "session_id", sessionID, "error", err)
				buildFailed = true
				next = from
			} else {
				s.ContractID = c.ContractID
			}
		}

		if next == domain.StateCompleted {
			s.Archived = true
		}

		if err := s.TransitionTo(next); err != nil {
			return nil, err
		}
		if next != from {
			m.metrics.Transition(string(from), string(next))
			m.logger.Info("conversation state changed",
				"session_id", sessionID,
				"from", from,
				"to", next,
				"intent", ti,
			)
		}
	}

	reply := m.reply(ctx, s, buildFailed)
	assistantTurn := s.AppendTurn(domain.RoleAssistant, reply, m.now().UTC())

	if err := m.store.UpdateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	m.logTurn(s, userTurn, ti)
	m.logTurn(s, assistantTurn, "")
	return &Result{Session: s, NextActions: NextActions(s.State), Intent: ti, Reply: reply}, nil
}

// BuildContract builds (or returns) the contract of an agreed session and
// records its id on the session.
func (m *StateMachine) BuildContract(ctx context.Context, sessionID string) (*domain.FounderContract, error) {
	unlock, err := m.locker.Lock(ctx, locks.SessionKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	defer unlock()

	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	c, err := m.builder.Build(ctx, s)
	if err != nil {
		return nil, err
	}
	if s.ContractID != c.ContractID {
		s.ContractID = c.ContractID
		s.UpdatedAt = m.now().UTC()
		if err := m.store.UpdateSession(ctx, s); err != nil {
			return nil, fmt.Errorf("update session: %w", err)
		}
	}
	return c, nil
}

// Complete marks code generation finished: CODE_GENERATION moves to
// COMPLETED and the session is archived.
func (m *StateMachine) Complete(ctx context.Context, sessionID string) (*Result, error) {
	unlock, err := m.locker.Lock(ctx, locks.SessionKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	defer unlock()

	stored, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if stored.State != domain.StateCodeGeneration {
		return nil, fmt.Errorf("%w: session %s is in %s, not %s", domain.ErrInvalidState, sessionID, stored.State, domain.StateCodeGeneration)
	}

	s := stored.Clone()
	if err := s.TransitionTo(domain.StateCompleted); err != nil {
		return nil, err
	}
	s.Archived = true
	reply := templateReply(s, false)
	turn := s.AppendTurn(domain.RoleAssistant, reply, m.now().UTC())

	if err := m.store.UpdateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	m.metrics.Transition(string(domain.StateCodeGeneration), string(domain.StateCompleted))
	m.logTurn(s, turn, "")
	m.logger.Info("conversation completed", "session_id", sessionID, "contract_id", s.ContractID)
	return &Result{Session: s, NextActions: NextActions(s.State), Reply: reply}, nil
}

// Reclassify recomputes the founder profile from every founder turn.
func (m *StateMachine) Reclassify(ctx context.Context, sessionID string) (*domain.ConversationSession, error) {
	unlock, err := m.locker.Lock(ctx, locks.SessionKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	defer unlock()

	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Archived {
		return nil, fmt.Errorf("%w: session %s is archived", domain.ErrInvalidState, sessionID)
	}

	profile := m.classifier.ClassifyFounder(ctx, strings.Join(s.UserTexts(), "\n"))
	s.Profile = &profile
	s.UpdatedAt = m.now().UTC()
	if err := m.store.UpdateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	m.logger.Info("founder reclassified", "session_id", sessionID, "founder_type", profile.Type)
	return s, nil
}

// Get returns a session.
func (m *StateMachine) Get(ctx context.Context, sessionID string) (*domain.ConversationSession, error) {
	return m.store.GetSession(ctx, sessionID)
}

// reply asks the capability for a state-appropriate answer and falls back
// to the static template.
func (m *StateMachine) reply(ctx context.Context, s *domain.ConversationSession, buildFailed bool) string {
	fallback := templateReply(s, buildFailed)
	if m.capability == nil || buildFailed {
		return fallback
	}

	var b strings.Builder
	fmt.Fprintf(&b, "State: %s\nFounder type: %s\nGuidance: %s\n\nConversation:\n", s.State, templateProfile(s.Profile), fallback)
	for _, t := range s.LastTurns(replyContextTurns) {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
	}

	out, err := llm.Call(ctx, m.capability, m.timeout, func(ctx context.Context, c llm.Capability) (string, error) {
		return c.Complete(ctx, b.String(), llm.SchemaReply)
	})
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			m.logger.Warn("assistant reply fell back to template", "session_id", s.SessionID, "error", err)
		}
		m.metrics.Fallback("conversation")
		return fallback
	}
	return strings.TrimSpace(out)
}

func (m *StateMachine) logTurn(s *domain.ConversationSession, t domain.Turn, ti intent.TurnIntent) {
	m.transcript.Log(TranscriptEvent{
		Timestamp: t.Timestamp,
		UserID:    s.UserID,
		SessionID: s.SessionID,
		EventType: string(t.Role) + "_turn",
		Role:      string(t.Role),
		State:     string(t.State),
		Intent:    string(ti),
		TextRaw:   t.Text,
	})
}
