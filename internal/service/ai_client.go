package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"forge/internal/model"

	"github.com/rs/zerolog"
)

// AIClient is the narrow interface over the text-generation capability:
// given messages and a model identifier, produce a stream of deltas.
type AIClient interface {
	StreamChatCompletion(ctx context.Context, apiKey, modelID string, messages []model.ChatMessage, maxTokens int) (io.ReadCloser, error)
}

type groqClient struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewGroqClient talks to an OpenAI-compatible chat completions endpoint.
func NewGroqClient(baseURL string, logger zerolog.Logger) AIClient {
	return &groqClient{
		baseURL: baseURL,
		client: &http.Client{
			// No timeout for streaming - rely on context cancellation instead
		},
		logger: logger.With().Str("service", "GroqClient").Logger(),
	}
}

type chatCompletionRequest struct {
	Model     string              `json:"model"`
	Messages  []model.ChatMessage `json:"messages"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
	Stream    bool                `json:"stream"`
}

func (c *groqClient) StreamChatCompletion(ctx context.Context, apiKey, modelID string, messages []model.ChatMessage, maxTokens int) (io.ReadCloser, error) {
	reqBody := chatCompletionRequest{
		Model:     modelID,
		Messages:  messages,
		MaxTokens: maxTokens,
		Stream:    true,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request body: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request to completions endpoint: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		c.logger.Error().Int("status", resp.StatusCode).Str("model", modelID).Msg("Completions endpoint returned non-200")
		return nil, fmt.Errorf("completions endpoint returned %d: %s", resp.StatusCode, string(body))
	}
	return resp.Body, nil
}
