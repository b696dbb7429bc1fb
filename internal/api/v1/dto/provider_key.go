package dto

// ProviderKeyUpdateDTO is used to store a user-supplied AI provider API key.
type ProviderKeyUpdateDTO struct {
	Provider string `json:"provider" validate:"required,oneof=groq openai anthropic"`
	APIKey   string `json:"api_key" validate:"required,min=8"`
}
