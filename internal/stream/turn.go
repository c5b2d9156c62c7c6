// Package stream folds the streamed deltas of one assistant turn into the
// message list.
package stream

import (
	"strings"
	"time"

	"chat-orchestrator/internal/domain"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSending   Phase = "sending"
	PhaseStreaming Phase = "streaming"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// FallbackMessage replaces an assistant reply that failed before any text
// arrived.
const FallbackMessage = "Sorry, something went wrong while generating a response. Please try again."

// Turn tracks one outgoing user message and its assistant placeholder.
// A Turn is not safe for concurrent use; the owner serializes access.
type Turn struct {
	UserMessageID      string
	AssistantMessageID string
	// OriginConversationID is the conversation selected when the turn began,
	// empty for a brand-new conversation.
	OriginConversationID string

	phase     Phase
	tracked   string
	locked    bool
	sentFiles bool
}

// Begin synthesizes the user message and the empty assistant placeholder.
// Both must be appended to the message list together.
func Begin(now time.Time, conversationID, text string, atts []domain.Attachment, newID func() string) (*Turn, domain.Message, domain.Message) {
	created := now.UTC().Format(time.RFC3339Nano)
	user := domain.Message{
		ID:             newID(),
		Role:           domain.RoleUser,
		Content:        text,
		CreatedAt:      created,
		ConversationID: conversationID,
	}
	for _, a := range atts {
		user.Attachments = append(user.Attachments, a.Clone())
	}
	assistant := domain.Message{
		ID:             newID(),
		Role:           domain.RoleAssistant,
		CreatedAt:      created,
		ConversationID: conversationID,
	}
	t := &Turn{
		UserMessageID:        user.ID,
		AssistantMessageID:   assistant.ID,
		OriginConversationID: conversationID,
		phase:                PhaseSending,
		tracked:              conversationID,
		sentFiles:            len(atts) > 0,
	}
	return t, user, assistant
}

func (t *Turn) Phase() Phase { return t.phase }

// Active reports whether the turn is still sending or streaming.
func (t *Turn) Active() bool {
	return t != nil && (t.phase == PhaseSending || t.phase == PhaseStreaming)
}

// ConversationID is the id the turn currently tracks.
func (t *Turn) ConversationID() string { return t.tracked }

// SentFiles reports whether the turn carried attachments.
func (t *Turn) SentFiles() bool { return t.sentFiles }

// Apply folds d into msgs in place. It returns the conversation id to promote
// the session to, or "" when no promotion is due. Empty deltas are
// heartbeats and change nothing.
func (t *Turn) Apply(msgs []domain.Message, d domain.Delta) string {
	if d.Text == "" || !t.Active() {
		return ""
	}
	t.phase = PhaseStreaming
	if i := indexOf(msgs, t.AssistantMessageID); i >= 0 {
		msgs[i].Content += d.Text
		if d.ConversationID != "" {
			msgs[i].ConversationID = d.ConversationID
		}
	}
	return t.promote(msgs, d.ConversationID)
}

// Complete marks the turn done and returns a promotion if the server's final
// conversation id is still pending one.
func (t *Turn) Complete(msgs []domain.Message, conversationID string) string {
	if !t.Active() {
		return ""
	}
	t.phase = PhaseCompleted
	return t.promote(msgs, conversationID)
}

// Fail marks the turn failed. The fallback text is written only when no
// content was streamed.
func (t *Turn) Fail(msgs []domain.Message) {
	if !t.Active() {
		return
	}
	t.phase = PhaseFailed
	if i := indexOf(msgs, t.AssistantMessageID); i >= 0 && strings.TrimSpace(msgs[i].Content) == "" {
		msgs[i].Content = FallbackMessage
	}
}

// promote locks onto the first non-empty id seen in this turn. Later ids,
// differing or not, never move the session again.
func (t *Turn) promote(msgs []domain.Message, id string) string {
	if id == "" || t.locked {
		return ""
	}
	t.locked = true
	if id == t.tracked {
		return ""
	}
	t.tracked = id
	for _, msgID := range []string{t.UserMessageID, t.AssistantMessageID} {
		if i := indexOf(msgs, msgID); i >= 0 && msgs[i].ConversationID == "" {
			msgs[i].ConversationID = id
		}
	}
	return id
}

// indexOf matches messages by identity, never by position.
func indexOf(msgs []domain.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}
