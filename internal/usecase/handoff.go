package usecase

import (
	"context"
	"strings"
	"time"

	"chat-orchestrator/internal/domain"
	"chat-orchestrator/internal/handoff"
)

const (
	msgHandoffFailed = "Could not reach a human agent. Please try again."
	msgJiraFailed    = "Could not create the ticket. Please try again."
)

// RequestHandoff asks for a human operator on the selected conversation. The
// status is set to requested locally before the detail is refreshed.
func (o *Orchestrator) RequestHandoff(ctx context.Context, reason string) error {
	if o.skip(OpHandoff) {
		return nil
	}
	snap := o.Snapshot()
	if !snap.Capabilities.HumanHandoffEnabled {
		return newError(ErrorUnavailable, "handoff_disabled", nil)
	}
	id := snap.SelectedID
	if id == "" {
		return newError(ErrorInvalidInput, "no_conversation_selected", nil)
	}
	if conv, ok := snap.Selected(); ok && handoff.IsOpen(conv.HandoffStatus) {
		return nil
	}

	if err := o.svc.Chat.RequestHandoff(ctx, id, strings.TrimSpace(reason)); err != nil {
		o.logger.Error("handoff request failed", "conversation_id", id, "err", err)
		o.update(func(st *State) { st.Error = msgHandoffFailed })
		return newError(ErrorHandoffFailed, "request_handoff_error", err)
	}

	o.update(func(st *State) {
		i := indexOfConversation(st.Conversations, id)
		if i < 0 {
			return
		}
		st.Conversations[i].HandoffStatus = domain.HandoffRequested
		st.Conversations[i].HandoffRequestedAt = o.slots.Now().UTC().Format(time.RFC3339Nano)
		st.Error = ""
		if st.SelectedID == id {
			o.observeLocked()
		}
	})
	o.refreshDetail(ctx, id)
	return nil
}

// CreateJiraIssue files a ticket for the selected conversation.
func (o *Orchestrator) CreateJiraIssue(ctx context.Context, content string) (domain.JiraIssue, error) {
	if o.skip(OpJira) {
		return domain.JiraIssue{}, nil
	}
	snap := o.Snapshot()
	if !snap.Capabilities.JiraEnabled {
		return domain.JiraIssue{}, newError(ErrorUnavailable, "jira_disabled", nil)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.JiraIssue{}, newError(ErrorInvalidInput, "empty_content", nil)
	}
	if snap.SelectedID == "" {
		return domain.JiraIssue{}, newError(ErrorInvalidInput, "no_conversation_selected", nil)
	}
	issue, err := o.svc.Chat.CreateJiraIssue(ctx, snap.SelectedID, content)
	if err != nil {
		o.logger.Error("jira issue creation failed", "conversation_id", snap.SelectedID, "err", err)
		o.update(func(st *State) { st.Error = msgJiraFailed })
		return domain.JiraIssue{}, newError(ErrorUpstream, "jira_error", err)
	}
	o.logger.Info("jira issue created", "conversation_id", snap.SelectedID, "issue_key", issue.IssueKey)
	return issue, nil
}

// onHandoffResolved refreshes the list after the watchdog resolved an idle
// handoff.
func (o *Orchestrator) onHandoffResolved(ctx context.Context, conversationID string) {
	if err := o.ReloadConversations(ctx); err != nil {
		o.logger.Warn("conversation list refresh after auto-resolve failed", "conversation_id", conversationID, "err", err)
	}
}

// pollHandoff picks up operator changes made out of band while a handoff is
// open.
func (o *Orchestrator) pollHandoff(ctx context.Context, conversationID string) {
	o.refreshDetail(ctx, conversationID)
	if !o.capabilities().FileStorageEnabled {
		return
	}
	if err := o.reconciler.Once(ctx, conversationID); err != nil {
		o.logger.Debug("file status refresh failed", "conversation_id", conversationID, "err", err)
	}
}
