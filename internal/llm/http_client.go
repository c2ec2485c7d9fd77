package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
)

// HTTPClient is a Capability backed by an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPClient creates a client. baseURL defaults to the OpenAI API.
func NewHTTPClient(baseURL, apiKey, model string) *HTTPClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

var systemPrompts = map[string]string{
	SchemaFounderProfile: "Classify the founder as technical, business, hybrid or unknown. Reply with JSON {\"label\": string, \"confidence\": number}.",
	SchemaTurnIntent:     "Classify the founder's message as continue, finalize, requestValidation or affirm. Reply with the label only.",
	SchemaRequirements:   "Summarize the conversation into the requested JSON object. Use \"[NEEDS CLARIFICATION]\" for anything not stated.",
	SchemaReply:          "You are an AI cofounder helping a founder shape a software project. Be concise and concrete.",
	SchemaJudgment:       "Rate how well the output satisfies the criterion. Reply with a single number between 0 and 1.",
}

// Complete implements Capability.
func (c *HTTPClient) Complete(ctx context.Context, prompt, schemaHint string) (string, error) {
	req := chatRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompts[schemaHint]},
			{Role: "user", Content: prompt},
		},
	}
	if schemaHint == SchemaRequirements || schemaHint == SchemaFounderProfile {
		req.ResponseFormat = map[string]string{"type": "json_object"}
	}
	return c.chat(ctx, req)
}

// Classify implements Capability using a JSON-constrained completion.
func (c *HTTPClient) Classify(ctx context.Context, text string) (string, float64, error) {
	out, err := c.Complete(ctx, text, SchemaFounderProfile)
	if err != nil {
		return "", 0, err
	}
	var parsed struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return "", 0, fmt.Errorf("decode classification: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(parsed.Label)), Clamp01(parsed.Confidence), nil
}

func (c *HTTPClient) chat(ctx context.Context, body chatRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", domain.ErrCapabilityUnavailable, err)
		}
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: completion status %d", domain.ErrCapabilityUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

var _ Capability = (*HTTPClient)(nil)
