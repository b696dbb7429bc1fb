package model

// ChatMessage is one turn of a generation conversation, in the
// OpenAI-compatible wire shape.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
