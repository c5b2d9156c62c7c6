// Package handoff supervises conversations handed to a human operator: it
// resolves them after a period of inactivity and polls for out-of-band
// operator changes while the handoff is open.
package handoff

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chat-orchestrator/internal/domain"
	"chat-orchestrator/internal/timers"
)

const (
	InactivityTimeout = 5 * time.Minute
	PollInterval      = 5 * time.Second
)

// IsOpen reports whether the watchdog applies to status.
func IsOpen(status domain.HandoffStatus) bool {
	return status == domain.HandoffRequested || status == domain.HandoffActive
}

// Deadline is the latest parseable activity timestamp of the conversation
// plus InactivityTimeout. When nothing parses, activity is taken to be now.
func Deadline(conv domain.Conversation, msgs []domain.Message, now time.Time) time.Time {
	var latest time.Time
	found := false
	consider := func(s string) {
		if t, ok := domain.ParseTimestamp(s); ok && (!found || t.After(latest)) {
			latest, found = t, true
		}
	}
	for _, m := range msgs {
		consider(m.CreatedAt)
	}
	consider(conv.HandoffRequestedAt)
	consider(conv.HandoffAcceptedAt)
	consider(conv.UpdatedAt)
	if !found {
		latest = now
	}
	return latest.Add(InactivityTimeout)
}

type Resolver interface {
	ResolveHandoff(ctx context.Context, conversationID string) error
}

// Watchdog keeps one deadline timer and one poll loop per conversation.
type Watchdog struct {
	resolver   Resolver
	slots      *timers.Slots
	onResolved func(ctx context.Context, conversationID string)
	poll       func(ctx context.Context, conversationID string)
	logger     *slog.Logger

	mu    sync.Mutex
	armed map[string]arming
}

// arming tracks the deadline timer of one conversation. inFlight is set
// while a resolve runs and kept after one succeeded. A failed resolve sets
// retryAt so the next Observe re-arms no earlier than one poll later.
type arming struct {
	deadline time.Time
	inFlight bool
	retryAt  time.Time
}

type Option func(*Watchdog)

func WithLogger(l *slog.Logger) Option {
	return func(w *Watchdog) {
		if l != nil {
			w.logger = l
		}
	}
}

// New builds a watchdog. onResolved runs after a successful automatic
// resolve; poll runs every PollInterval while the handoff is open and no
// turn is streaming.
func New(resolver Resolver, slots *timers.Slots, onResolved, poll func(ctx context.Context, conversationID string), opts ...Option) (*Watchdog, error) {
	if resolver == nil {
		return nil, errors.New("handoff: resolver must not be nil")
	}
	if slots == nil {
		return nil, errors.New("handoff: slots must not be nil")
	}
	w := &Watchdog{
		resolver:   resolver,
		slots:      slots,
		onResolved: onResolved,
		poll:       poll,
		logger:     slog.Default(),
		armed:      map[string]arming{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func deadlineKey(id string) timers.Key {
	return timers.Key{Component: timers.HandoffDeadline, ConversationID: id}
}

func pollKey(id string) timers.Key {
	return timers.Key{Component: timers.HandoffPoll, ConversationID: id}
}

// Observe re-derives the inactivity deadline of conv and (re)arms or clears
// its timers. After a failed resolve the same deadline is re-armed by the
// next Observe, at most once per PollInterval.
func (w *Watchdog) Observe(ctx context.Context, conv *domain.Conversation, msgs []domain.Message, streaming bool) {
	if conv == nil || conv.ID == "" {
		return
	}
	id := conv.ID
	if !IsOpen(conv.HandoffStatus) {
		w.Stop(id)
		return
	}

	now := w.slots.Now()
	deadline := Deadline(*conv, msgs, now)

	w.mu.Lock()
	prev, seen := w.armed[id]
	rearm := !seen || !prev.deadline.Equal(deadline) || (!prev.inFlight && !w.slots.Active(deadlineKey(id)))
	at := deadline
	if rearm {
		if seen && prev.retryAt.After(at) {
			at = prev.retryAt
		}
		w.armed[id] = arming{deadline: deadline, retryAt: prev.retryAt}
	}
	w.mu.Unlock()

	if rearm {
		wait := at.Sub(now)
		if wait < 0 {
			wait = 0
		}
		w.slots.Arm(deadlineKey(id), wait, func(lease timers.Lease) {
			w.fire(ctx, id, deadline, lease)
		})
	}

	if streaming {
		w.slots.Cancel(pollKey(id))
	} else if w.poll != nil && !w.slots.Active(pollKey(id)) {
		var tick func(timers.Lease)
		tick = func(lease timers.Lease) {
			w.poll(ctx, id)
			w.slots.Rearm(lease, PollInterval, tick)
		}
		w.slots.Arm(pollKey(id), PollInterval, tick)
	}
}

func (w *Watchdog) fire(ctx context.Context, id string, deadline time.Time, lease timers.Lease) {
	w.mu.Lock()
	if a, ok := w.armed[id]; ok && a.deadline.Equal(deadline) {
		a.inFlight = true
		w.armed[id] = a
	}
	w.mu.Unlock()
	w.slots.Release(lease)

	if err := w.resolver.ResolveHandoff(ctx, id); err != nil {
		w.logger.Warn("handoff auto-resolve failed", "conversation_id", id, "err", err)
		w.mu.Lock()
		if a, ok := w.armed[id]; ok && a.deadline.Equal(deadline) {
			a.inFlight = false
			a.retryAt = w.slots.Now().Add(PollInterval)
			w.armed[id] = a
		}
		w.mu.Unlock()
		return
	}
	w.logger.Info("handoff auto-resolved after inactivity", "conversation_id", id)
	if w.onResolved != nil {
		w.onResolved(ctx, id)
	}
}

// Stop clears both timers of conversationID and forgets its deadline.
func (w *Watchdog) Stop(conversationID string) {
	w.slots.Cancel(deadlineKey(conversationID))
	w.slots.Cancel(pollKey(conversationID))
	w.mu.Lock()
	delete(w.armed, conversationID)
	w.mu.Unlock()
}

// Armed reports whether a deadline timer is pending for conversationID.
func (w *Watchdog) Armed(conversationID string) bool {
	return w.slots.Active(deadlineKey(conversationID))
}

// Polling reports whether the poll loop runs for conversationID.
func (w *Watchdog) Polling(conversationID string) bool {
	return w.slots.Active(pollKey(conversationID))
}
