// Package llm provides the completion/classification capability used by the
// cofounder core, and clients for the services that implement it.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
)

// Capability is the external completion/classification service.
// Implementations may fail or time out; every caller has a deterministic fallback.
type Capability interface {
	// Complete returns a free-text completion. schemaHint names the expected output
	// shape (e.g. "requirements.v1") so the service can constrain its reply.
	Complete(ctx context.Context, prompt, schemaHint string) (string, error)

	// Classify labels text and returns the label with a confidence in [0,1].
	Classify(ctx context.Context, text string) (string, float64, error)
}

// Schema hints understood by capability services.
const (
	SchemaFounderProfile = "founder_profile.v1"
	SchemaTurnIntent     = "turn_intent.v1"
	SchemaRequirements   = "requirements.v1"
	SchemaReply          = "reply.v1"
	SchemaJudgment       = "judgment.v1"
)

// DefaultTimeout bounds a capability call when the caller did not configure one.
const DefaultTimeout = 20 * time.Second

// Call runs fn against c with a timeout. A nil capability, a timeout or a
// transport failure is reported as domain.ErrCapabilityUnavailable.
func Call[T any](ctx context.Context, c Capability, timeout time.Duration, fn func(context.Context, Capability) (T, error)) (T, error) {
	var zero T
	if c == nil {
		return zero, fmt.Errorf("%w: no capability configured", domain.ErrCapabilityUnavailable)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := fn(ctx, c)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, domain.ErrCapabilityUnavailable) {
		return zero, err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return zero, fmt.Errorf("%w: %w", domain.ErrCapabilityUnavailable, err)
	}
	return zero, err
}

// Clamp01 forces v into [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
