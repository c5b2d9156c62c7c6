package usecase

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"chat-orchestrator/internal/domain"
	"chat-orchestrator/internal/reconcile"
	"chat-orchestrator/internal/stream"
	"chat-orchestrator/internal/timers"
	"chat-orchestrator/internal/usage"
)

const (
	msgSendFailed     = "The message could not be sent. Please try again."
	msgChatBusy       = "The assistant is receiving too many requests. Please try again shortly."
	msgUploadFailed   = "File upload failed. Your files are still attached, please try again."
	msgUploadInvalid  = "Some files cannot be attached"
	msgStorageOff     = "File attachments are not available for this service."
	msgTurnInProgress = "Please wait for the current response to finish."
)

// SendInput is one user turn. ConversationID overrides the selected
// conversation when set.
type SendInput struct {
	Text           string
	Attachments    []domain.Attachment
	ConversationID string
}

// SendMessage runs one turn: usage gate, optional upload, then the streamed
// reply folded into the message list.
func (o *Orchestrator) SendMessage(ctx context.Context, in SendInput) error {
	if o.skip(OpSend) {
		return nil
	}
	text := strings.TrimSpace(in.Text)
	if text == "" && len(in.Attachments) == 0 {
		return newError(ErrorInvalidInput, "empty_message", nil)
	}

	caps := o.capabilities()
	if len(in.Attachments) > 0 {
		if !caps.FileStorageEnabled || caps.Ephemeral {
			o.update(func(st *State) { st.Error = msgStorageOff })
			return newError(ErrorUnavailable, "file_storage_disabled", nil)
		}
		if err := validateUploads(in.Attachments, o.limits); err != nil {
			o.update(func(st *State) { st.Error = msgUploadInvalid + ": " + strings.ReplaceAll(err.Error(), "\n", "; ") })
			return newError(ErrorUploadInvalid, "upload_validation_failed", err)
		}
	}

	turn, err := o.beginTurn(ctx, text, in)
	if err != nil {
		return err
	}

	convID := turn.OriginConversationID
	var fileIDs []string
	if len(in.Attachments) > 0 {
		uploaded, err := o.svc.Uploads.UploadFiles(ctx, in.Attachments, convID)
		if err != nil {
			o.logger.Error("file upload failed", "conversation_id", convID, "files", len(in.Attachments), "err", err)
			o.finishTurn(turn, func(msgs []domain.Message) { turn.Fail(msgs) }, msgUploadFailed)
			return newError(ErrorUploadFailed, "upload_error", err)
		}
		o.update(func(st *State) {
			for i := range st.Messages {
				if st.Messages[i].ID == turn.UserMessageID {
					st.Messages[i].Attachments = applyUploaded(st.Messages[i].Attachments, uploaded)
				}
			}
		})
		for _, a := range uploaded {
			if a.FileID != "" {
				fileIDs = append(fileIDs, a.FileID)
			}
		}
	}

	req := domain.ChatRequest{
		Message:        text,
		ConversationID: convID,
		ServiceCode:    o.identity().ServiceCode,
		FileIDs:        fileIDs,
	}
	res, err := o.svc.Chat.SendMessage(ctx, req, func(d domain.Delta) {
		o.applyDelta(ctx, turn, d)
	})
	if err != nil {
		o.logger.Error("chat stream failed", "conversation_id", turn.ConversationID(), "err", err)
		if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
			o.finishTurn(turn, func(msgs []domain.Message) { turn.Fail(msgs) }, msgChatBusy)
			return newError(ErrorRateLimited, "chat_rate_limited", err)
		}
		o.finishTurn(turn, func(msgs []domain.Message) { turn.Fail(msgs) }, msgSendFailed)
		return newError(ErrorSendFailed, "chat_error", err)
	}

	var promoted string
	o.finishTurn(turn, func(msgs []domain.Message) {
		if id := turn.Complete(msgs, res.ConversationID); id != "" && o.promoteLocked(turn, id) {
			promoted = id
		}
	}, "")
	o.afterTurn(ctx, turn, promoted)
	return nil
}

// beginTurn applies the usage gate and, when allowed, appends the user
// message and the assistant placeholder in one update.
func (o *Orchestrator) beginTurn(ctx context.Context, text string, in SendInput) (*stream.Turn, error) {
	var (
		turn      *stream.Turn
		busy      bool
		rejected  bool
		persist   bool
		nextUsage domain.UsageState
		id        domain.Identity
		restrict  bool
	)
	o.update(func(st *State) {
		if o.turn.Active() {
			busy = true
			st.Error = msgTurnInProgress
			return
		}
		id = st.Identity
		persist = !st.Capabilities.Ephemeral
		restrict = st.Capabilities.Restricted
		now := o.slots.Now()
		if restrict {
			d := usage.Evaluate(now, o.usageState)
			o.usageState = d.Next
			nextUsage = d.Next
			st.Usage = o.usageViewLocked()
			if !d.Allowed {
				rejected = true
				st.Error = limitMessage(d)
				return
			}
		} else {
			o.usageState = domain.UsageState{}
			st.Usage = o.usageViewLocked()
		}

		convID := strings.TrimSpace(in.ConversationID)
		if convID == "" {
			convID = st.SelectedID
		}
		var user, assistant domain.Message
		turn, user, assistant = stream.Begin(now, convID, text, in.Attachments, newUUID)
		o.turn = turn
		// a turn sent to another conversation streams off screen
		if convID == st.SelectedID {
			st.Messages = append(st.Messages, user, assistant)
		}
		st.Streaming = true
		st.Error = ""
		o.observeLocked()
	})
	if busy {
		return nil, newError(ErrorBusy, "turn_in_progress", nil)
	}

	if persist {
		var err error
		if restrict {
			err = o.svc.Usage.Save(ctx, id, nextUsage)
		} else {
			err = o.svc.Usage.Clear(ctx, id)
		}
		if err != nil {
			o.logger.Warn("usage state persist failed", "err", err)
		}
	}
	if rejected {
		return nil, newError(ErrorRateLimited, "usage_limit", nil)
	}
	return turn, nil
}

func limitMessage(d usage.Decision) string {
	n := usage.RemainingMinutes(d.Remaining)
	unit := "minutes"
	if n == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("Usage limit reached. Please try again in %d %s.", n, unit)
}

// applyDelta folds one streamed fragment into the live message list.
func (o *Orchestrator) applyDelta(ctx context.Context, turn *stream.Turn, d domain.Delta) {
	var promoted string
	o.update(func(st *State) {
		if o.turn != turn {
			return
		}
		if id := turn.Apply(st.Messages, d); id != "" && o.promoteLocked(turn, id) {
			promoted = id
		}
	})
	if promoted != "" {
		o.saveSelection(ctx, promoted)
	}
}

// promoteLocked moves the selection to the server-assigned id, but only if
// the user is still looking at the conversation the turn started in.
func (o *Orchestrator) promoteLocked(turn *stream.Turn, id string) bool {
	if o.state.SelectedID != turn.OriginConversationID {
		return false
	}
	o.state.SelectedID = id
	o.loadSeq++
	o.switchTimersLocked(id)
	return true
}

// finishTurn ends turn with fn and clears the streaming flag. errMsg, when
// set, becomes the user-visible error.
func (o *Orchestrator) finishTurn(turn *stream.Turn, fn func(msgs []domain.Message), errMsg string) {
	o.update(func(st *State) {
		if o.turn != turn {
			return
		}
		fn(st.Messages)
		st.Streaming = false
		if errMsg != "" {
			st.Error = errMsg
		}
		o.observeLocked()
	})
}

// afterTurn runs the follow-ups of a completed turn: persist a promotion,
// refresh the list and start file reconciliation.
func (o *Orchestrator) afterTurn(ctx context.Context, turn *stream.Turn, promoted string) {
	caps := o.capabilities()
	if caps.Ephemeral {
		return
	}
	if promoted != "" {
		o.saveSelection(ctx, promoted)
	}
	if err := o.ReloadConversations(ctx); err != nil {
		o.logger.Warn("conversation list refresh after send failed", "err", err)
	}
	convID := turn.ConversationID()
	if turn.SentFiles() && caps.FileStorageEnabled && convID != "" && o.ctx.Err() == nil {
		o.reconciler.Start(o.ctx, convID)
	}
}

// applyFileRecords merges reconciled file status into the selected
// conversation's messages.
func (o *Orchestrator) applyFileRecords(conversationID string, records []domain.FileRecord) bool {
	var pending bool
	o.update(func(st *State) {
		if st.SelectedID != conversationID {
			return
		}
		_, pending = reconcile.Merge(st.Messages, records)
	})
	return pending
}

func (o *Orchestrator) usageViewLocked() usage.Status {
	if !o.state.Capabilities.Restricted {
		return usage.Status{Mode: usage.ModeIdle}
	}
	return usage.View(o.slots.Now(), o.usageState)
}

// armUsageRefresh recomputes the usage view every UsageRefreshInterval.
func (o *Orchestrator) armUsageRefresh() {
	key := timers.Key{Component: timers.UsageRefresh}
	var tick func(timers.Lease)
	tick = func(lease timers.Lease) {
		o.update(func(st *State) { st.Usage = o.usageViewLocked() })
		o.slots.Rearm(lease, UsageRefreshInterval, tick)
	}
	o.slots.Arm(key, UsageRefreshInterval, tick)
}
