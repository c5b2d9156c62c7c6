package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"chat-orchestrator/internal/domain"
)

type createConversationRequest struct {
	Title       string `json:"title"`
	ServiceCode string `json:"serviceCode"`
}

type handoffRequest struct {
	Reason string `json:"reason,omitempty"`
}

type jiraRequest struct {
	Content string `json:"content"`
}

func conversationPath(id string, suffix string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("backend: conversation id is required")
	}
	return "/v1/conversations/" + url.PathEscape(id) + suffix, nil
}

func (c *Client) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	var out []domain.Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/v1/conversations", nil, &out); err != nil {
		return nil, fmt.Errorf("backend: list conversations: %w", err)
	}
	return out, nil
}

func (c *Client) CreateConversation(ctx context.Context, title, serviceCode string) (domain.Conversation, error) {
	var out domain.Conversation
	in := createConversationRequest{Title: title, ServiceCode: serviceCode}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/conversations", in, &out); err != nil {
		return domain.Conversation{}, fmt.Errorf("backend: create conversation: %w", err)
	}
	return out, nil
}

// GetConversation returns the conversation together with its messages.
func (c *Client) GetConversation(ctx context.Context, id string) (domain.ConversationDetail, error) {
	path, err := conversationPath(id, "")
	if err != nil {
		return domain.ConversationDetail{}, err
	}
	var out domain.ConversationDetail
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return domain.ConversationDetail{}, fmt.Errorf("backend: get conversation: %w", err)
	}
	return out, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	path, err := conversationPath(id, "")
	if err != nil {
		return err
	}
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("backend: delete conversation: %w", err)
	}
	return nil
}

func (c *Client) RequestHandoff(ctx context.Context, conversationID, reason string) error {
	path, err := conversationPath(conversationID, "/handoff")
	if err != nil {
		return err
	}
	if err := c.doJSON(ctx, http.MethodPost, path, handoffRequest{Reason: strings.TrimSpace(reason)}, nil); err != nil {
		return fmt.Errorf("backend: request handoff: %w", err)
	}
	return nil
}

func (c *Client) ResolveHandoff(ctx context.Context, conversationID string) error {
	path, err := conversationPath(conversationID, "/handoff/resolve")
	if err != nil {
		return err
	}
	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("backend: resolve handoff: %w", err)
	}
	return nil
}

func (c *Client) CreateJiraIssue(ctx context.Context, conversationID, content string) (domain.JiraIssue, error) {
	path, err := conversationPath(conversationID, "/jira")
	if err != nil {
		return domain.JiraIssue{}, err
	}
	var out domain.JiraIssue
	if err := c.doJSON(ctx, http.MethodPost, path, jiraRequest{Content: content}, &out); err != nil {
		return domain.JiraIssue{}, fmt.Errorf("backend: create jira issue: %w", err)
	}
	return out, nil
}
