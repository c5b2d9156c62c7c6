package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"chat-orchestrator/internal/domain"
	"chat-orchestrator/internal/usage"
	"chat-orchestrator/internal/usecase"
)

// Session is the orchestrator surface the line handler drives.
type Session interface {
	Snapshot() usecase.State
	ReloadConversations(ctx context.Context) error
	SelectConversation(ctx context.Context, id string) error
	CreateConversation(ctx context.Context, title string) (domain.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	SendMessage(ctx context.Context, in usecase.SendInput) error
	RequestHandoff(ctx context.Context, reason string) error
	CreateJiraIssue(ctx context.Context, content string) (domain.JiraIssue, error)
}

// Response is what one input line produced. Code carries the usecase error
// code when the command failed.
type Response struct {
	Output string
	Code   string
	Quit   bool
}

type Handler struct {
	session Session
	stage   func(path string) (domain.Attachment, error)
	logger  *slog.Logger

	mu      sync.Mutex
	pending []domain.Attachment
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithStager replaces the function turning a local path into a staged
// attachment.
func WithStager(fn func(path string) (domain.Attachment, error)) Option {
	return func(h *Handler) {
		if fn != nil {
			h.stage = fn
		}
	}
}

func NewHandler(s Session, opts ...Option) (*Handler, error) {
	if s == nil {
		return nil, errors.New("handler: session must not be nil")
	}
	h := &Handler{session: s, stage: usecase.StageFile, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

const helpText = `commands:
  /list                 list conversations
  /select <n|id>        open a conversation
  /new [title]          start a conversation
  /delete <n|id>        delete a conversation
  /attach <path>        stage a file for the next message
  /detach               drop staged files
  /handoff [reason]     ask for a human agent
  /jira <text>          file a support ticket
  /show                 print the open conversation
  /quit                 exit
anything else is sent as a message`

// Handle runs one input line.
func (h *Handler) Handle(ctx context.Context, line string) (Response, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Response{}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return h.send(ctx, line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/help":
		return Response{Output: helpText}, nil
	case "/quit", "/exit":
		return Response{Quit: true}, nil
	case "/list":
		if err := h.session.ReloadConversations(ctx); err != nil {
			return h.failure(err), nil
		}
		return Response{Output: RenderConversations(h.session.Snapshot())}, nil
	case "/show":
		return Response{Output: Render(h.session.Snapshot())}, nil
	case "/select":
		id, err := h.resolveConversation(arg)
		if err != nil {
			return Response{Output: err.Error(), Code: string(usecase.ErrorInvalidInput)}, nil
		}
		if err := h.session.SelectConversation(ctx, id); err != nil {
			return h.failure(err), nil
		}
		return Response{Output: RenderMessages(h.session.Snapshot())}, nil
	case "/new":
		conv, err := h.session.CreateConversation(ctx, arg)
		if err != nil {
			return h.failure(err), nil
		}
		return Response{Output: fmt.Sprintf("created %s (%s)", conv.Title, conv.ID)}, nil
	case "/delete":
		id, err := h.resolveConversation(arg)
		if err != nil {
			return Response{Output: err.Error(), Code: string(usecase.ErrorInvalidInput)}, nil
		}
		if err := h.session.DeleteConversation(ctx, id); err != nil {
			return h.failure(err), nil
		}
		return Response{Output: "deleted " + id}, nil
	case "/attach":
		att, err := h.stage(arg)
		if err != nil {
			return h.failure(err), nil
		}
		h.mu.Lock()
		h.pending = append(h.pending, att)
		n := len(h.pending)
		h.mu.Unlock()
		return Response{Output: fmt.Sprintf("attached %s (%d staged)", att.Filename, n)}, nil
	case "/detach":
		h.mu.Lock()
		h.pending = nil
		h.mu.Unlock()
		return Response{Output: "staged files cleared"}, nil
	case "/handoff":
		if err := h.session.RequestHandoff(ctx, arg); err != nil {
			return h.failure(err), nil
		}
		return Response{Output: "a human agent has been requested"}, nil
	case "/jira":
		issue, err := h.session.CreateJiraIssue(ctx, arg)
		if err != nil {
			return h.failure(err), nil
		}
		if issue.IssueURL != "" {
			return Response{Output: fmt.Sprintf("ticket %s created: %s", issue.IssueKey, issue.IssueURL)}, nil
		}
		return Response{Output: fmt.Sprintf("ticket %s created", issue.IssueKey)}, nil
	default:
		return Response{Output: "unknown command " + cmd + ", try /help", Code: string(usecase.ErrorInvalidInput)}, nil
	}
}

// Staged returns the attachments waiting for the next message.
func (h *Handler) Staged() []domain.Attachment {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.Attachment, len(h.pending))
	for i, a := range h.pending {
		out[i] = a.Clone()
	}
	return out
}

func (h *Handler) send(ctx context.Context, text string) (Response, error) {
	atts := h.Staged()
	err := h.session.SendMessage(ctx, usecase.SendInput{Text: text, Attachments: atts})
	if err == nil || uploadedBeforeFailure(err) {
		h.mu.Lock()
		h.pending = nil
		h.mu.Unlock()
	}
	if err != nil {
		return h.failure(err), nil
	}
	return Response{}, nil
}

// uploadedBeforeFailure reports whether err happened after the staged files
// were already handed to the backend.
func uploadedBeforeFailure(err error) bool {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return false
	}
	return ue.Code == usecase.ErrorSendFailed || ue.Reason == "chat_rate_limited"
}

func (h *Handler) resolveConversation(arg string) (string, error) {
	if arg == "" {
		return "", errors.New("a conversation number or id is required")
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return arg, nil
	}
	convs := h.session.Snapshot().Conversations
	if n < 1 || n > len(convs) {
		return "", fmt.Errorf("no conversation #%d", n)
	}
	return convs[n-1].ID, nil
}

func (h *Handler) failure(err error) Response {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		h.logger.Error("unexpected command error", "err", err)
		return Response{Output: "error: something went wrong", Code: string(usecase.ErrorInternal)}
	}
	msg := h.session.Snapshot().Error
	if msg == "" {
		msg = defaultMessage(ue)
	}
	return Response{Output: "error: " + msg, Code: string(ue.Code)}
}

func defaultMessage(e *usecase.Error) string {
	switch e.Code {
	case usecase.ErrorInvalidInput:
		return strings.ReplaceAll(e.Reason, "_", " ")
	case usecase.ErrorBusy:
		return "a response is still streaming"
	case usecase.ErrorForbidden:
		return "that conversation belongs to another service"
	case usecase.ErrorUnavailable:
		return strings.ReplaceAll(e.Reason, "_", " ")
	case usecase.ErrorUploadInvalid:
		if e.Err != nil {
			return strings.ReplaceAll(e.Err.Error(), "\n", "; ")
		}
		return "some files cannot be attached"
	default:
		return "request failed, please try again"
	}
}

// RenderConversations lists conversations, numbered from 1, marking the
// selected one.
func RenderConversations(st usecase.State) string {
	if len(st.Conversations) == 0 {
		return "no conversations"
	}
	var b strings.Builder
	for i, c := range st.Conversations {
		marker := " "
		if c.ID == st.SelectedID {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %2d. %s", marker, i+1, c.Title)
		if c.HandoffStatus != "" && c.HandoffStatus != domain.HandoffNone {
			fmt.Fprintf(&b, " [handoff %s]", c.HandoffStatus)
		}
		fmt.Fprintf(&b, " (%s)\n", c.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderMessages prints the messages of the open conversation.
func RenderMessages(st usecase.State) string {
	if st.Loading {
		return "loading..."
	}
	if len(st.Messages) == 0 {
		return "no messages yet"
	}
	var b strings.Builder
	for _, m := range st.Messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		for _, a := range m.Attachments {
			fmt.Fprintf(&b, "    [file] %s%s\n", a.Filename, attachmentStatus(a))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func attachmentStatus(a domain.Attachment) string {
	switch {
	case a.Staged():
		return " (not uploaded)"
	case a.Status != "":
		return " (" + a.Status + ")"
	default:
		return ""
	}
}

// Render prints the whole view: list, messages, usage and the last error.
func Render(st usecase.State) string {
	parts := []string{RenderConversations(st)}
	if st.SelectedID != "" {
		parts = append(parts, "", RenderMessages(st))
	}
	if line := renderUsage(st.Usage); line != "" {
		parts = append(parts, "", line)
	}
	if st.Error != "" {
		parts = append(parts, "", "error: "+st.Error)
	}
	return strings.Join(parts, "\n")
}

func renderUsage(s usage.Status) string {
	switch s.Mode {
	case usage.ModeActive:
		return "usage window: " + s.Remaining.Round(time.Second).String() + " left"
	case usage.ModeCooldown:
		return fmt.Sprintf("cooling down: %d min left", usage.RemainingMinutes(s.Remaining))
	default:
		return ""
	}
}
