// Package reconcile merges asynchronously updated file-processing status into
// already rendered message attachments.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chat-orchestrator/internal/domain"
	"chat-orchestrator/internal/timers"
)

const (
	DefaultInterval    = 3 * time.Second
	DefaultMaxAttempts = 12
)

// Lister fetches the file records of a conversation.
type Lister interface {
	ListConversationFiles(ctx context.Context, conversationID string) ([]domain.FileRecord, error)
}

// ApplyFunc merges records into the live message list of conversationID and
// reports whether any merged attachment is still processing. It returns
// false when the conversation is no longer on screen.
type ApplyFunc func(conversationID string, records []domain.FileRecord) (pending bool)

// Reconciler runs at most one bounded polling loop per conversation.
type Reconciler struct {
	lister      Lister
	apply       ApplyFunc
	slots       *timers.Slots
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

type Option func(*Reconciler)

func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

func New(lister Lister, apply ApplyFunc, slots *timers.Slots, opts ...Option) (*Reconciler, error) {
	if lister == nil {
		return nil, errors.New("reconcile: lister must not be nil")
	}
	if apply == nil {
		return nil, errors.New("reconcile: apply func must not be nil")
	}
	if slots == nil {
		return nil, errors.New("reconcile: slots must not be nil")
	}
	r := &Reconciler{
		lister:      lister,
		apply:       apply,
		slots:       slots,
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func slotKey(conversationID string) timers.Key {
	return timers.Key{Component: timers.FileReconcile, ConversationID: conversationID}
}

// Start (re)starts the polling loop for conversationID, replacing any loop
// already running for it. The loop ends silently once nothing is pending,
// after maxAttempts fetches, or on the first fetch error.
func (r *Reconciler) Start(ctx context.Context, conversationID string) {
	if conversationID == "" {
		return
	}
	attempts := 0
	var attempt func(timers.Lease)
	attempt = func(lease timers.Lease) {
		attempts++
		records, err := r.lister.ListConversationFiles(ctx, conversationID)
		if err != nil {
			r.logger.Debug("file status polling stopped", "conversation_id", conversationID, "attempt", attempts, "err", err)
			r.slots.Release(lease)
			return
		}
		if !lease.Valid() {
			return
		}
		if r.apply(conversationID, records) && attempts < r.maxAttempts {
			r.slots.Rearm(lease, r.interval, attempt)
			return
		}
		r.slots.Release(lease)
	}
	r.slots.Arm(slotKey(conversationID), r.interval, attempt)
}

// Once fetches and merges a single time without scheduling anything.
func (r *Reconciler) Once(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return nil
	}
	records, err := r.lister.ListConversationFiles(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("reconcile: list files: %w", err)
	}
	r.apply(conversationID, records)
	return nil
}

func (r *Reconciler) Stop(conversationID string) {
	r.slots.Cancel(slotKey(conversationID))
}

// Running reports whether a polling loop is armed for conversationID.
func (r *Reconciler) Running(conversationID string) bool {
	return r.slots.Active(slotKey(conversationID))
}
