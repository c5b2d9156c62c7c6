package domain

import "time"

// ChatRequest is one outgoing user turn.
type ChatRequest struct {
	Message        string   `json:"message"`
	ConversationID string   `json:"conversationId,omitempty"`
	ServiceCode    string   `json:"serviceCode"`
	FileIDs        []string `json:"fileIds,omitempty"`
}

// Delta is one streamed fragment of the assistant response.
type Delta struct {
	Text           string
	ConversationID string
}

// ChatResult is returned once the stream has ended.
type ChatResult struct {
	ConversationID string
}

type JiraIssue struct {
	IssueKey string `json:"issueKey,omitempty"`
	IssueURL string `json:"issueUrl,omitempty"`
}

// UsageState is the persisted usage-window state. At most one of the two
// fields is active at any evaluation instant.
type UsageState struct {
	WindowStart   *time.Time `json:"windowStart,omitempty"`
	CooldownUntil *time.Time `json:"cooldownUntil,omitempty"`
}

// IsZero reports whether neither a window nor a cooldown is recorded.
func (s UsageState) IsZero() bool {
	return s.WindowStart == nil && s.CooldownUntil == nil
}
