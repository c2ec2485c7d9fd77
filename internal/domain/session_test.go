package domain

import (
	"errors"
	"testing"
	"time"
)

func TestAppendTurnKeepsTimestampsStrictlyIncreasing(t *testing.T) {
	t.Parallel()

	s := &ConversationSession{State: StateDiscovery}
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	s.AppendTurn(RoleUser, "first", at)
	s.AppendTurn(RoleAssistant, "second", at)
	s.AppendTurn(RoleUser, "third", at.Add(-time.Minute))

	for i := 1; i < len(s.Turns); i++ {
		if !s.Turns[i].Timestamp.After(s.Turns[i-1].Timestamp) {
			t.Fatalf("turn %d timestamp %v not after %v", i, s.Turns[i].Timestamp, s.Turns[i-1].Timestamp)
		}
	}
	if s.Turns[0].State != StateDiscovery {
		t.Fatalf("expected turn state label %s, got %s", StateDiscovery, s.Turns[0].State)
	}
}

func TestTransitionToRejectsBackwardMoves(t *testing.T) {
	t.Parallel()

	s := &ConversationSession{State: StateStrategy}
	if err := s.TransitionTo(StateValidation); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if err := s.TransitionTo(State("BOGUS")); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for unknown state, got %v", err)
	}
	if err := s.TransitionTo(StateAgreement); err != nil {
		t.Fatalf("forward transition failed: %v", err)
	}
	if s.State != StateAgreement {
		t.Fatalf("expected %s, got %s", StateAgreement, s.State)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	s := &ConversationSession{
		State:        StateValidation,
		Profile:      &FounderProfile{Type: FounderBusiness, TechnicalSkills: []string{"sql"}},
		Requirements: &RequirementRecord{Features: []string{"tasks"}},
	}
	s.AppendTurn(RoleUser, "hello", time.Now())

	c := s.Clone()
	c.AppendTurn(RoleUser, "more", time.Now())
	c.Profile.TechnicalSkills[0] = "go"
	c.Requirements.Features[0] = "billing"

	if len(s.Turns) != 1 {
		t.Fatalf("original turns mutated: %d", len(s.Turns))
	}
	if s.Profile.TechnicalSkills[0] != "sql" || s.Requirements.Features[0] != "tasks" {
		t.Fatal("original nested slices mutated")
	}
}

func TestSeverityRankOrder(t *testing.T) {
	t.Parallel()

	order := []Severity{SeverityNone, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("%q should outrank %q", order[i], order[i-1])
		}
	}
}
