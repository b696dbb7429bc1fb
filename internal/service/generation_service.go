package service

import (
	"context"
	"fmt"
	"io"

	"forge/internal/config"
	"forge/internal/model"

	"github.com/rs/zerolog"
)

// OperationChatCompletion is the rate-limited operation name for AI
// generation requests.
const OperationChatCompletion = "chat-completion"

// Rough chars-per-token ratio for prompt size estimation.
const charsPerToken = 4

const defaultMaxTokens = 4096

// GenerationService runs the costed AI operation behind the usage governor:
// resolve the caller's tier, enforce admission, then stream the completion.
type GenerationService interface {
	StreamCompletion(ctx context.Context, userID string, messages []model.ChatMessage, modelID string, maxTokens int) (io.ReadCloser, error)
}

type generationService struct {
	cfg     *config.Config
	subSvc  SubscriptionService
	rlSvc   RateLimitService
	ai      AIClient
	secrets SecretManagerService
	logger  zerolog.Logger
}

// NewGenerationService creates a GenerationService with a scoped logger.
// The secrets service may be nil when per-user provider keys are disabled.
func NewGenerationService(
	cfg *config.Config,
	subSvc SubscriptionService,
	rlSvc RateLimitService,
	ai AIClient,
	secrets SecretManagerService,
	logger zerolog.Logger,
) GenerationService {
	return &generationService{
		cfg:     cfg,
		subSvc:  subSvc,
		rlSvc:   rlSvc,
		ai:      ai,
		secrets: secrets,
		logger:  logger.With().Str("service", "GenerationService").Logger(),
	}
}

// StreamCompletion enforces the caller's rate limits and then streams text
// deltas from the AI provider. A *RateLimitError passes through untouched so
// the handler can render kind and retry time.
func (s *generationService) StreamCompletion(ctx context.Context, userID string, messages []model.ChatMessage, modelID string, maxTokens int) (io.ReadCloser, error) {
	if modelID == "" {
		modelID = s.cfg.DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	tier, err := s.subSvc.TierFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolving tier: %w", err)
	}

	promptTokens := estimatePromptTokens(messages)
	estimatedCost := model.EstimateCost(modelID, promptTokens, maxTokens)

	// The authoritative gate: the AI call must not happen when this fails.
	if err := s.rlSvc.Enforce(ctx, userID, OperationChatCompletion, tier, EnforceOptions{
		EstimatedCost: estimatedCost,
		Tokens:        int64(promptTokens + maxTokens),
	}); err != nil {
		return nil, err
	}

	apiKey := s.cfg.GroqAPIKey
	if s.secrets != nil {
		if userKey, err := s.secrets.GetProviderKey(ctx, userID, "groq"); err == nil && userKey != "" {
			apiKey = userKey
		}
	}

	stream, err := s.ai.StreamChatCompletion(ctx, apiKey, modelID, messages, maxTokens)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("model", modelID).Msg("Completion request failed")
		return nil, fmt.Errorf("streaming completion: %w", err)
	}
	return stream, nil
}

func estimatePromptTokens(messages []model.ChatMessage) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	return chars / charsPerToken
}
