package llm

import (
	"strings"

	"ai-call-presence-service/internal/models"
	"ai-call-presence-service/internal/service/transcript"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DefaultPersona is used when no persona is configured.
const DefaultPersona = "You are attending a video call on someone's behalf. " +
	"Reply the way they would speak: short, natural sentences without lists or markup."

// BuildMessages assembles the request for a spoken reply: persona, standing
// context about the call, the recent transcript and an optional hint about
// what to say. Empty parts are left out.
func BuildMessages(persona, context string, recent []models.TranscriptItem, hint string) []Message {
	if strings.TrimSpace(persona) == "" {
		persona = DefaultPersona
	}
	msgs := []Message{{Role: RoleSystem, Content: persona}}

	if c := strings.TrimSpace(context); c != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: "Context about this call:\n" + c})
	}

	if len(recent) > 0 {
		msgs = append(msgs, Message{
			Role:    RoleUser,
			Content: "Recent transcript:\n" + transcript.Render(recent),
		})
	}

	prompt := "Write what I should say next."
	if h := strings.TrimSpace(hint); h != "" {
		prompt = "Write what I should say next. Guidance: " + h
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: prompt})
	return msgs
}
