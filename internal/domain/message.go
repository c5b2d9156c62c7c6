package domain

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single rendered conversation turn. ConversationID stays empty
// until the turn is promoted to a server-assigned conversation.
type Message struct {
	ID             string       `json:"id"`
	Role           Role         `json:"role"`
	Content        string       `json:"content"`
	CreatedAt      string       `json:"createdAt"`
	ConversationID string       `json:"conversationId,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		atts := make([]Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			atts[i] = a.Clone()
		}
		m.Attachments = atts
	}
	return m
}

// CloneMessages deep-copies a message list.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// Processing states reported by the file pipeline.
const (
	FileStatusPending    = "pending"
	FileStatusProcessing = "processing"
	FileStatusCompleted  = "completed"
	FileStatusFailed     = "failed"
)

// Attachment is a file attached to a message. A staged attachment carries
// LocalPath only; once uploaded it gains FileID and URL, and processing later
// fills the status fields. Key is client-generated and stable while staged.
type Attachment struct {
	Key             string `json:"key"`
	FileID          string `json:"fileId,omitempty"`
	Filename        string `json:"filename"`
	MimeType        string `json:"mimeType,omitempty"`
	SizeBytes       int64  `json:"sizeBytes,omitempty"`
	LocalPath       string `json:"-"`
	URL             string `json:"url,omitempty"`
	Status          string `json:"status,omitempty"`
	OCRStatus       string `json:"ocrStatus,omitempty"`
	SemanticStatus  string `json:"semanticStatus,omitempty"`
	EmbeddingStatus string `json:"embeddingStatus,omitempty"`
	EmbeddingCount  *int   `json:"embeddingCount,omitempty"`
	ResultType      string `json:"resultType,omitempty"`
	ResultFileURL   string `json:"resultFileUrl,omitempty"`
}

// Staged reports whether the attachment still waits for upload.
func (a Attachment) Staged() bool {
	return a.FileID == "" && a.URL == ""
}

func (a Attachment) Clone() Attachment {
	if a.EmbeddingCount != nil {
		n := *a.EmbeddingCount
		a.EmbeddingCount = &n
	}
	return a
}

// FileRecord is a processing-status record for an uploaded file. Nil fields
// were absent from the backend response and must not overwrite known values.
type FileRecord struct {
	FileID          string  `json:"fileId"`
	Status          *string `json:"status,omitempty"`
	OCRStatus       *string `json:"ocrStatus,omitempty"`
	SemanticStatus  *string `json:"semanticStatus,omitempty"`
	EmbeddingStatus *string `json:"embeddingStatus,omitempty"`
	EmbeddingCount  *int    `json:"embeddingCount,omitempty"`
	ResultType      *string `json:"resultType,omitempty"`
	ResultFileURL   *string `json:"resultFileUrl,omitempty"`
}
