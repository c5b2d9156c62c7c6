package handler

import (
	"strings"
	"sync"

	"chat-orchestrator/internal/domain"
	"chat-orchestrator/internal/usecase"
)

// StreamPrinter turns successive snapshots into the text to append to a
// terminal while an assistant reply streams in.
type StreamPrinter struct {
	mu      sync.Mutex
	current string
	printed int
}

// Next returns the part of the streaming reply not printed yet. A finished
// reply is terminated with a newline.
func (p *StreamPrinter) Next(st usecase.State) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg, ok := lastAssistant(st.Messages)
	if !ok {
		return ""
	}
	var b strings.Builder
	if msg.ID != p.current {
		if !st.Streaming {
			return ""
		}
		p.current = msg.ID
		p.printed = 0
		b.WriteString("assistant: ")
	}
	if len(msg.Content) > p.printed {
		b.WriteString(msg.Content[p.printed:])
		p.printed = len(msg.Content)
	}
	if !st.Streaming && p.current != "" {
		b.WriteString("\n")
		p.current = ""
		p.printed = 0
	}
	return b.String()
}

func lastAssistant(msgs []domain.Message) (domain.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleAssistant {
			return msgs[i], true
		}
	}
	return domain.Message{}, false
}
