package llm

import "time"

// ConversationTurn is one user message and its assistant response, together
// with the session metadata the memory pipeline needs. Turns are ephemeral:
// created per message, serialized into the extraction queue, and discarded
// after processing.
type ConversationTurn struct {
	UserMessage       string    `json:"user_message"`
	AssistantResponse string    `json:"assistant_response"`
	UserID            string    `json:"user_id"`
	SessionID         string    `json:"session_id,omitempty"`
	Channel           string    `json:"channel,omitempty"`
	RecentContext     []string  `json:"recent_context,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}
