package usecase

import (
	"context"
	"slices"
	"strings"
	"time"

	"chat-orchestrator/internal/domain"
)

const (
	msgLoadConversations = "Could not load conversations. Please try again."
	msgLoadConversation  = "Could not load this conversation. Please try again."
	msgCreateFailed      = "Could not create a conversation. Please try again."
	defaultTitle         = "New conversation"
)

// ReloadConversations replaces the conversation list with the backend's,
// keeping only conversations of the active service. On failure the previous
// list stays in place.
func (o *Orchestrator) ReloadConversations(ctx context.Context) error {
	if o.skip(OpReload) {
		return nil
	}
	convs, err := o.svc.Conversations.ListConversations(ctx)
	if err != nil {
		o.logger.Error("conversation list load failed", "err", err)
		o.update(func(st *State) { st.Error = msgLoadConversations })
		return newError(ErrorLoadFailed, "list_conversations_error", err)
	}
	o.update(func(st *State) {
		st.Conversations = filterService(convs, st.Identity.ServiceCode)
		o.observeLocked()
	})
	return nil
}

func filterService(convs []domain.Conversation, serviceCode string) []domain.Conversation {
	out := make([]domain.Conversation, 0, len(convs))
	for _, c := range convs {
		if serviceCode == "" || c.ServiceCode == serviceCode {
			out = append(out, c)
		}
	}
	return out
}

// SelectConversation switches to id and loads its messages, or clears the
// selection when id is empty.
func (o *Orchestrator) SelectConversation(ctx context.Context, id string) error {
	if o.skip(OpSelect) {
		return nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		o.update(func(st *State) {
			o.loadSeq++
			st.SelectedID = ""
			st.Messages = nil
			st.Loading = false
			o.switchTimersLocked("")
		})
		o.saveSelection(ctx, "")
		return nil
	}

	var seq uint64
	var rejected bool
	o.update(func(st *State) {
		if i := indexOfConversation(st.Conversations, id); i >= 0 && !sameService(st.Conversations[i].ServiceCode, st.Identity.ServiceCode) {
			rejected = true
			return
		}
		o.loadSeq++
		seq = o.loadSeq
		if st.SelectedID != id {
			st.Messages = nil
		}
		st.SelectedID = id
		st.Loading = true
		st.Error = ""
		o.switchTimersLocked(id)
	})
	if rejected {
		return newError(ErrorForbidden, "service_mismatch", nil)
	}
	o.saveSelection(ctx, id)

	if err := o.loadDetail(ctx, id, seq); err != nil {
		return err
	}
	if o.capabilities().FileStorageEnabled {
		if err := o.reconciler.Once(ctx, id); err != nil {
			o.logger.Debug("file status refresh failed", "conversation_id", id, "err", err)
		}
	}
	return nil
}

func sameService(convService, active string) bool {
	return active == "" || convService == active
}

// loadDetail fetches id and installs it if the load identified by seq is
// still the latest one.
func (o *Orchestrator) loadDetail(ctx context.Context, id string, seq uint64) error {
	detail, err := o.svc.Conversations.GetConversation(ctx, id)

	var forbidden bool
	o.update(func(st *State) {
		if o.loadSeq != seq || st.SelectedID != id {
			return
		}
		st.Loading = false
		if err != nil {
			st.Messages = nil
			st.Error = msgLoadConversation
			return
		}
		if !sameService(detail.ServiceCode, st.Identity.ServiceCode) && detail.ServiceCode != "" {
			forbidden = true
			st.SelectedID = ""
			st.Messages = nil
			o.switchTimersLocked("")
			return
		}
		o.installDetailLocked(detail)
	})
	if err != nil {
		o.logger.Error("conversation load failed", "conversation_id", id, "err", err)
		return newError(ErrorLoadFailed, "get_conversation_error", err)
	}
	if forbidden {
		o.saveSelection(ctx, "")
		return newError(ErrorForbidden, "service_mismatch", nil)
	}
	return nil
}

// installDetailLocked replaces the messages of the selected conversation and
// refreshes its list entry.
func (o *Orchestrator) installDetailLocked(detail domain.ConversationDetail) {
	st := &o.state
	st.Messages = sortMessages(detail.Messages)
	if detail.ID != "" {
		if i := indexOfConversation(st.Conversations, detail.ID); i >= 0 {
			st.Conversations[i] = detail.Conversation
		} else if sameService(detail.ServiceCode, st.Identity.ServiceCode) {
			st.Conversations = append([]domain.Conversation{detail.Conversation}, st.Conversations...)
		}
	}
	o.observeLocked()
}

// sortMessages orders messages by creation time, oldest first. Messages whose
// timestamps do not parse follow all the others in their original order.
func sortMessages(msgs []domain.Message) []domain.Message {
	type entry struct {
		msg domain.Message
		at  time.Time
		ok  bool
	}
	entries := make([]entry, len(msgs))
	for i, m := range msgs {
		at, ok := domain.ParseTimestamp(m.CreatedAt)
		entries[i] = entry{msg: m.Clone(), at: at, ok: ok}
	}
	slices.SortStableFunc(entries, func(a, b entry) int {
		switch {
		case a.ok && b.ok:
			return a.at.Compare(b.at)
		case a.ok:
			return -1
		case b.ok:
			return 1
		default:
			return 0
		}
	})
	if msgs == nil {
		return nil
	}
	out := make([]domain.Message, len(entries))
	for i, e := range entries {
		out[i] = e.msg
	}
	return out
}

// CreateConversation creates a conversation for the active service and
// selects it.
func (o *Orchestrator) CreateConversation(ctx context.Context, title string) (domain.Conversation, error) {
	if o.skip(OpCreate) {
		return domain.Conversation{}, nil
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultTitle
	}
	service := o.identity().ServiceCode
	conv, err := o.svc.Conversations.CreateConversation(ctx, title, service)
	if err != nil {
		o.logger.Error("conversation create failed", "err", err)
		o.update(func(st *State) { st.Error = msgCreateFailed })
		return domain.Conversation{}, newError(ErrorUpstream, "create_conversation_error", err)
	}
	if conv.ServiceCode == "" {
		conv.ServiceCode = service
	}
	o.update(func(st *State) {
		if indexOfConversation(st.Conversations, conv.ID) < 0 {
			st.Conversations = append([]domain.Conversation{conv}, st.Conversations...)
		}
	})
	if err := o.SelectConversation(ctx, conv.ID); err != nil {
		return conv, err
	}
	return conv, nil
}

// DeleteConversation removes id locally first and then asks the backend to
// delete it. A deleted selection moves to the previous list entry.
func (o *Orchestrator) DeleteConversation(ctx context.Context, id string) error {
	if o.skip(OpDelete) {
		return nil
	}
	id = strings.TrimSpace(id)

	var found, wasSelected bool
	var next string
	o.update(func(st *State) {
		i := indexOfConversation(st.Conversations, id)
		if i < 0 {
			return
		}
		found = true
		st.Conversations = slices.Delete(slices.Clone(st.Conversations), i, i+1)
		o.slots.CancelConversation(id)
		o.watchdog.Stop(id)
		if st.SelectedID != id {
			return
		}
		wasSelected = true
		o.loadSeq++
		st.Messages = nil
		st.SelectedID = ""
		if len(st.Conversations) > 0 {
			next = st.Conversations[max(i-1, 0)].ID
			st.SelectedID = next
		}
	})
	if !found {
		return newError(ErrorInvalidInput, "unknown_conversation", nil)
	}

	if err := o.svc.Conversations.DeleteConversation(ctx, id); err != nil {
		o.logger.Warn("server-side conversation delete failed", "conversation_id", id, "err", err)
	}

	if !wasSelected {
		return nil
	}
	if next == "" {
		return o.SelectConversation(ctx, "")
	}
	return o.SelectConversation(ctx, next)
}

// refreshDetail reloads the selected conversation in the background. Results
// for a conversation no longer selected, or arriving while a turn streams,
// are dropped.
func (o *Orchestrator) refreshDetail(ctx context.Context, id string) {
	detail, err := o.svc.Conversations.GetConversation(ctx, id)
	if err != nil {
		o.logger.Debug("conversation refresh failed", "conversation_id", id, "err", err)
		return
	}
	o.update(func(st *State) {
		if st.SelectedID != id || o.turn.Active() || st.Loading {
			return
		}
		o.installDetailLocked(detail)
	})
}
