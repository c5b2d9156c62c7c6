package domain

// HandoffStatus tracks transfer of a conversation to a human operator.
type HandoffStatus string

const (
	HandoffNone      HandoffStatus = "none"
	HandoffRequested HandoffStatus = "requested"
	HandoffActive    HandoffStatus = "active"
	HandoffResolved  HandoffStatus = "resolved"
)

// Conversation is a conversation summary as listed by the backend.
// Timestamps are kept as the raw strings the backend sent; consumers parse
// them and ignore values that do not parse.
type Conversation struct {
	ID                 string        `json:"id"`
	Title              string        `json:"title"`
	ServiceCode        string        `json:"serviceCode"`
	TenantID           string        `json:"tenantId"`
	UserID             string        `json:"userId"`
	HandoffStatus      HandoffStatus `json:"handoffStatus"`
	HandoffRequestedAt string        `json:"handoffRequestedAt,omitempty"`
	HandoffAcceptedAt  string        `json:"handoffAcceptedAt,omitempty"`
	HandoffResolvedAt  string        `json:"handoffResolvedAt,omitempty"`
	UpdatedAt          string        `json:"updatedAt,omitempty"`
}

// ConversationDetail is a conversation together with its messages.
type ConversationDetail struct {
	Conversation
	Messages []Message `json:"messages"`
}
