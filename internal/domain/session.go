package domain

import (
	"fmt"
	"time"
)

// State is the conversation phase of a session.
type State string

// Conversation states, in order. COMPLETED is terminal.
const (
	StateDiscovery      State = "DISCOVERY"
	StateValidation     State = "VALIDATION"
	StateStrategy       State = "STRATEGY"
	StateAgreement      State = "AGREEMENT"
	StateCodeGeneration State = "CODE_GENERATION"
	StateCompleted      State = "COMPLETED"
)

var stateOrder = map[State]int{
	StateDiscovery:      0,
	StateValidation:     1,
	StateStrategy:       2,
	StateAgreement:      3,
	StateCodeGeneration: 4,
	StateCompleted:      5,
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	_, ok := stateOrder[s]
	return ok
}

// Rank returns the position of s in the state order, or -1 for unknown states.
func (s State) Rank() int {
	if r, ok := stateOrder[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is at or past other.
func (s State) AtLeast(other State) bool {
	return s.Rank() >= other.Rank() && s.Valid() && other.Valid()
}

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	State     State     `json:"state,omitempty"`
}

// ConversationSession is one dialogue between a founder and the cofounder.
// Turns are append-only and strictly time-ordered.
type ConversationSession struct {
	SessionID    string             `json:"session_id"`
	UserID       string             `json:"user_id"`
	Turns        []Turn             `json:"turns"`
	Profile      *FounderProfile    `json:"profile,omitempty"`
	State        State              `json:"state"`
	Requirements *RequirementRecord `json:"requirements,omitempty"`
	ContractID   string             `json:"contract_id,omitempty"`
	Archived     bool               `json:"archived"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// AppendTurn adds a turn, nudging its timestamp forward when the clock did not
// advance past the previous turn.
func (s *ConversationSession) AppendTurn(role Role, text string, at time.Time) Turn {
	if n := len(s.Turns); n > 0 {
		last := s.Turns[n-1].Timestamp
		if !at.After(last) {
			at = last.Add(time.Nanosecond)
		}
	}
	t := Turn{Role: role, Text: text, Timestamp: at, State: s.State}
	s.Turns = append(s.Turns, t)
	s.UpdatedAt = at
	return t
}

// TransitionTo moves the session forward. Moving backward or to an unknown state fails.
func (s *ConversationSession) TransitionTo(next State) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidState, next)
	}
	if next.Rank() < s.State.Rank() {
		return fmt.Errorf("%w: cannot move from %s back to %s", ErrInvalidState, s.State, next)
	}
	s.State = next
	return nil
}

// UserTexts returns the text of every founder turn in order.
func (s *ConversationSession) UserTexts() []string {
	var out []string
	for _, t := range s.Turns {
		if t.Role == RoleUser {
			out = append(out, t.Text)
		}
	}
	return out
}

// LastTurns returns up to n trailing turns.
func (s *ConversationSession) LastTurns(n int) []Turn {
	if n >= len(s.Turns) {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// Clone returns a deep copy, used to leave the stored session untouched on failure.
func (s *ConversationSession) Clone() *ConversationSession {
	c := *s
	c.Turns = append([]Turn(nil), s.Turns...)
	if s.Profile != nil {
		p := *s.Profile
		p.TechnicalSkills = append([]string(nil), s.Profile.TechnicalSkills...)
		c.Profile = &p
	}
	if s.Requirements != nil {
		r := s.Requirements.Clone()
		c.Requirements = &r
	}
	return &c
}
