package dto

// GenerationMessageDTO is a single message in a generation request.
type GenerationMessageDTO struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

// GenerationRequestDTO is used for incoming chat completion requests.
type GenerationRequestDTO struct {
	Messages  []GenerationMessageDTO `json:"messages" validate:"required,min=1,dive"`
	Model     *string                `json:"model,omitempty"`
	MaxTokens *int                   `json:"max_tokens,omitempty" validate:"omitempty,min=1,max=32768"`
}

// RateLimitedResponseDTO is returned with a 429 when a usage ceiling is hit.
type RateLimitedResponseDTO struct {
	Error      string   `json:"error"`
	Kind       string   `json:"kind"`
	Operation  string   `json:"operation"`
	RetryAfter int64    `json:"retry_after_seconds"`
	ResetAt    int64    `json:"reset_at"`
	Remaining  int      `json:"remaining"`
	Detail     string   `json:"detail,omitempty"`
	Cost       *float64 `json:"cost_remaining,omitempty"`
}
