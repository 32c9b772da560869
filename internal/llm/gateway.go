package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/healthadvisor/server/internal/config"
)

const defaultHTTPTimeout = 30 * time.Second

// Message is a single role/content pair in a prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage carries token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the normalized result of one completion call.
type Response struct {
	Content string
	Model   string
	Usage   *Usage
}

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Gateway calls an OpenAI-compatible chat completions endpoint. Provider
// error shapes stay inside this package; callers see a single wrapped error.
type Gateway struct {
	baseURL string
	apiKey  string
	model   string
	client  httpDoer
	logger  *zap.Logger
}

func NewGateway(cfg config.LLMConfig, logger *zap.Logger) *Gateway {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gateway{
		baseURL: base,
		apiKey:  cfg.APIKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Send posts the prompt and returns the assistant's reply. userID is passed
// through as the provider's end-user identifier for abuse tracking.
func (g *Gateway) Send(ctx context.Context, messages []Message, userID string, maxTokens int) (*Response, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("llm: prompt is empty")
	}

	payload := completionRequest{
		Model:    g.model,
		Messages: messages,
		User:     userID,
	}
	if maxTokens > 0 {
		payload.MaxTokens = maxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	endpoint := g.baseURL + "/chat/completions"
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}

	request.Header.Set("Authorization", "Bearer "+g.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := g.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("llm: call completion api: %w", err)
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, buildAPIError(response.StatusCode, respBody)
	}

	var apiResp completionResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}

	if apiResp.Error != nil && apiResp.Error.Message != "" {
		return nil, fmt.Errorf("llm: provider error: %s", apiResp.Error.Message)
	}

	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("llm: response contained no choices")
	}

	content := strings.TrimSpace(apiResp.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("llm: response contained empty content")
	}

	model := strings.TrimSpace(apiResp.Model)
	if model == "" {
		model = g.model
	}

	return &Response{
		Content: content,
		Model:   model,
		Usage:   apiResp.Usage,
	}, nil
}

type completionRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	User      string    `json:"user,omitempty"`
}

type completionChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type completionResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   *Usage             `json:"usage"`
	Error   *apiError          `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type apiErrorEnvelope struct {
	Error *apiError `json:"error,omitempty"`
}

func buildAPIError(statusCode int, body []byte) error {
	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		message := strings.TrimSpace(envelope.Error.Message)
		if message != "" && envelope.Error.Code != "" {
			return fmt.Errorf("llm: api error (%d, %s): %s", statusCode, envelope.Error.Code, message)
		}
		if message != "" {
			return fmt.Errorf("llm: api error (%d): %s", statusCode, message)
		}
	}

	snippet := strings.TrimSpace(string(body))
	if snippet == "" {
		snippet = http.StatusText(statusCode)
	}
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}

	return fmt.Errorf("llm: api error (%d): %s", statusCode, snippet)
}
