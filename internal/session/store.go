// Package session persists the per-identity state that outlives the process:
// the usage window/cooldown and the last selected conversation.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"chat-orchestrator/internal/domain"
	"chat-orchestrator/internal/repository"
)

const (
	kindUsage    = "usage"
	kindSelected = "selected-conversation"
)

// Key namespaces kind by (tenant, service, user). Parts are query-escaped so
// a ':' inside one cannot collide with another identity. When the identity is
// not fully known the unscoped kind is used on its own.
func Key(kind string, id domain.Identity) string {
	if !id.Complete() {
		return kind
	}
	parts := []string{kind}
	for _, p := range []string{id.TenantID, id.ServiceCode, id.UserID} {
		parts = append(parts, url.QueryEscape(p))
	}
	return strings.Join(parts, ":")
}

// UsageStore persists usage.Evaluate state.
type UsageStore struct {
	kv repository.Store
}

func NewUsageStore(kv repository.Store) (*UsageStore, error) {
	if kv == nil {
		return nil, errors.New("session: store must not be nil")
	}
	return &UsageStore{kv: kv}, nil
}

// Load returns the zero state when nothing is stored or the stored value is
// unreadable.
func (s *UsageStore) Load(ctx context.Context, id domain.Identity) (domain.UsageState, error) {
	raw, ok, err := s.kv.Get(ctx, Key(kindUsage, id))
	if err != nil {
		return domain.UsageState{}, fmt.Errorf("session: load usage: %w", err)
	}
	if !ok {
		return domain.UsageState{}, nil
	}
	var st domain.UsageState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return domain.UsageState{}, nil
	}
	return st, nil
}

// Save stores st; a zero state clears the key.
func (s *UsageStore) Save(ctx context.Context, id domain.Identity, st domain.UsageState) error {
	if st.IsZero() {
		return s.Clear(ctx, id)
	}
	buf, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("session: encode usage: %w", err)
	}
	if err := s.kv.Put(ctx, Key(kindUsage, id), string(buf)); err != nil {
		return fmt.Errorf("session: save usage: %w", err)
	}
	return nil
}

func (s *UsageStore) Clear(ctx context.Context, id domain.Identity) error {
	if err := s.kv.Delete(ctx, Key(kindUsage, id)); err != nil {
		return fmt.Errorf("session: clear usage: %w", err)
	}
	return nil
}

// SelectionStore persists the last selected conversation id.
type SelectionStore struct {
	kv repository.Store
}

func NewSelectionStore(kv repository.Store) (*SelectionStore, error) {
	if kv == nil {
		return nil, errors.New("session: store must not be nil")
	}
	return &SelectionStore{kv: kv}, nil
}

func (s *SelectionStore) Load(ctx context.Context, id domain.Identity) (string, error) {
	v, _, err := s.kv.Get(ctx, Key(kindSelected, id))
	if err != nil {
		return "", fmt.Errorf("session: load selection: %w", err)
	}
	return strings.TrimSpace(v), nil
}

// Save stores conversationID; an empty id clears the key.
func (s *SelectionStore) Save(ctx context.Context, id domain.Identity, conversationID string) error {
	key := Key(kindSelected, id)
	var err error
	if conversationID == "" {
		err = s.kv.Delete(ctx, key)
	} else {
		err = s.kv.Put(ctx, key, conversationID)
	}
	if err != nil {
		return fmt.Errorf("session: save selection: %w", err)
	}
	return nil
}
