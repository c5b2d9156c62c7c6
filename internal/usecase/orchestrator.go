package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-orchestrator/internal/domain"
	"chat-orchestrator/internal/handoff"
	"chat-orchestrator/internal/reconcile"
	"chat-orchestrator/internal/stream"
	"chat-orchestrator/internal/timers"
	"chat-orchestrator/internal/usage"
)

// UsageRefreshInterval is how often the usage view is recomputed without a
// send attempt.
const UsageRefreshInterval = 30 * time.Second

type ConversationService interface {
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	CreateConversation(ctx context.Context, title, serviceCode string) (domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (domain.ConversationDetail, error)
	DeleteConversation(ctx context.Context, id string) error
}

type ChatService interface {
	SendMessage(ctx context.Context, in domain.ChatRequest, onDelta func(domain.Delta)) (domain.ChatResult, error)
	RequestHandoff(ctx context.Context, conversationID, reason string) error
	ResolveHandoff(ctx context.Context, conversationID string) error
	CreateJiraIssue(ctx context.Context, conversationID, content string) (domain.JiraIssue, error)
}

type UploadService interface {
	UploadFiles(ctx context.Context, files []domain.Attachment, conversationID string) ([]domain.Attachment, error)
	ListConversationFiles(ctx context.Context, conversationID string) ([]domain.FileRecord, error)
}

type IdentityProvider interface {
	Identity(ctx context.Context) (domain.Identity, error)
	Capabilities(ctx context.Context) (domain.Capabilities, error)
}

type UsageStore interface {
	Load(ctx context.Context, id domain.Identity) (domain.UsageState, error)
	Save(ctx context.Context, id domain.Identity, st domain.UsageState) error
	Clear(ctx context.Context, id domain.Identity) error
}

type SelectionStore interface {
	Load(ctx context.Context, id domain.Identity) (string, error)
	Save(ctx context.Context, id domain.Identity, conversationID string) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Services are the collaborators the orchestrator drives.
type Services struct {
	Conversations ConversationService
	Chat          ChatService
	Uploads       UploadService
	Identity      IdentityProvider
	Usage         UsageStore
	Selection     SelectionStore
}

// State is the snapshot handed to the UI after every change. It shares no
// memory with the orchestrator.
type State struct {
	Version       uint64
	Identity      domain.Identity
	Capabilities  domain.Capabilities
	Conversations []domain.Conversation
	SelectedID    string
	Messages      []domain.Message
	Streaming     bool
	Loading       bool
	Usage         usage.Status
	// Error is the last user-visible error, cleared by the next successful
	// user action.
	Error string
}

func (s State) clone() State {
	if s.Conversations != nil {
		s.Conversations = append([]domain.Conversation(nil), s.Conversations...)
	}
	s.Messages = domain.CloneMessages(s.Messages)
	return s
}

// Selected returns the selected conversation when it is listed.
func (s State) Selected() (domain.Conversation, bool) {
	if s.SelectedID == "" {
		return domain.Conversation{}, false
	}
	for _, c := range s.Conversations {
		if c.ID == s.SelectedID {
			return c, true
		}
	}
	return domain.Conversation{}, false
}

// Orchestrator owns the conversation list, the selected conversation and its
// messages, and every background timer acting on them. All methods are safe
// for concurrent use.
type Orchestrator struct {
	svc        Services
	slots      *timers.Slots
	reconciler *reconcile.Reconciler
	watchdog   *handoff.Watchdog
	limits     UploadLimits
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	usageState domain.UsageState
	turn       *stream.Turn
	loadSeq    uint64

	pubMu       sync.Mutex
	published   uint64
	subscribers map[int]func(State)
	nextSubID   int
}

type options struct {
	clock  timers.Clock
	logger *slog.Logger
	limits UploadLimits
	recon  []reconcile.Option
}

type Option func(*options)

func WithClock(c timers.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithUploadLimits(l UploadLimits) Option {
	return func(o *options) {
		o.limits = l
	}
}

func WithReconcileOptions(opts ...reconcile.Option) Option {
	return func(o *options) {
		o.recon = append(o.recon, opts...)
	}
}

func NewOrchestrator(svc Services, opts ...Option) (*Orchestrator, error) {
	if svc.Conversations == nil {
		return nil, errors.New("usecase: conversation service must not be nil")
	}
	if svc.Chat == nil {
		return nil, errors.New("usecase: chat service must not be nil")
	}
	if svc.Uploads == nil {
		return nil, errors.New("usecase: upload service must not be nil")
	}
	if svc.Identity == nil {
		return nil, errors.New("usecase: identity provider must not be nil")
	}
	if svc.Usage == nil {
		return nil, errors.New("usecase: usage store must not be nil")
	}
	if svc.Selection == nil {
		return nil, errors.New("usecase: selection store must not be nil")
	}

	cfg := options{clock: timers.System, logger: slog.Default(), limits: DefaultUploadLimits()}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		svc:         svc,
		slots:       timers.NewSlots(cfg.clock),
		limits:      cfg.limits,
		logger:      cfg.logger,
		ctx:         ctx,
		cancel:      cancel,
		state:       State{Usage: usage.Status{Mode: usage.ModeIdle}},
		subscribers: map[int]func(State){},
	}

	var err error
	reconOpts := append([]reconcile.Option{reconcile.WithLogger(cfg.logger)}, cfg.recon...)
	o.reconciler, err = reconcile.New(svc.Uploads, o.applyFileRecords, o.slots, reconOpts...)
	if err != nil {
		cancel()
		return nil, err
	}
	o.watchdog, err = handoff.New(svc.Chat, o.slots, o.onHandoffResolved, o.pollHandoff, handoff.WithLogger(cfg.logger))
	if err != nil {
		cancel()
		return nil, err
	}
	return o, nil
}

// Start loads identity and capabilities, restores persisted usage and
// selection, loads the conversation list and starts the usage refresh.
func (o *Orchestrator) Start(ctx context.Context) error {
	id, err := o.svc.Identity.Identity(ctx)
	if err != nil {
		return newError(ErrorUnavailable, "identity_load_error", err)
	}
	caps, err := o.svc.Identity.Capabilities(ctx)
	if err != nil {
		return newError(ErrorUnavailable, "capabilities_load_error", err)
	}

	var restored domain.UsageState
	var savedSelection string
	if !caps.Ephemeral {
		if caps.Restricted {
			if restored, err = o.svc.Usage.Load(ctx, id); err != nil {
				o.logger.Warn("usage state load failed", "err", err)
			}
		} else if err := o.svc.Usage.Clear(ctx, id); err != nil {
			o.logger.Warn("usage state clear failed", "err", err)
		}
		if savedSelection, err = o.svc.Selection.Load(ctx, id); err != nil {
			o.logger.Warn("selection load failed", "err", err)
		}
	}

	o.update(func(st *State) {
		st.Identity = id
		st.Capabilities = caps
		o.usageState = restored
		st.Usage = o.usageViewLocked()
	})
	o.armUsageRefresh()

	if caps.Ephemeral {
		return nil
	}
	if err := o.ReloadConversations(ctx); err != nil {
		return err
	}
	if savedSelection != "" && o.listed(savedSelection) {
		return o.SelectConversation(ctx, savedSelection)
	}
	return nil
}

// Close stops every background timer. The orchestrator must not be used
// afterwards.
func (o *Orchestrator) Close() {
	o.cancel()
	o.slots.CancelAll()
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

// Subscribe registers fn to receive every new snapshot, in version order. fn
// runs synchronously and must not call Subscribe. The returned func removes
// the subscription.
func (o *Orchestrator) Subscribe(fn func(State)) func() {
	o.pubMu.Lock()
	defer o.pubMu.Unlock()
	id := o.nextSubID
	o.nextSubID++
	o.subscribers[id] = fn
	return func() {
		o.pubMu.Lock()
		defer o.pubMu.Unlock()
		delete(o.subscribers, id)
	}
}

// update applies fn to the live state under the lock and publishes the
// result.
func (o *Orchestrator) update(fn func(st *State)) State {
	o.mu.Lock()
	fn(&o.state)
	snap := o.commitLocked()
	o.mu.Unlock()
	o.publish(snap)
	return snap
}

func (o *Orchestrator) commitLocked() State {
	o.state.Version++
	return o.state.clone()
}

// publish drops snapshots older than one already delivered.
func (o *Orchestrator) publish(snap State) {
	o.pubMu.Lock()
	defer o.pubMu.Unlock()
	if snap.Version <= o.published {
		return
	}
	o.published = snap.Version
	for _, fn := range o.subscribers {
		fn(snap)
	}
}

func (o *Orchestrator) identity() domain.Identity {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Identity
}

func (o *Orchestrator) capabilities() domain.Capabilities {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Capabilities
}

func (o *Orchestrator) listed(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return indexOfConversation(o.state.Conversations, id) >= 0
}

func indexOfConversation(convs []domain.Conversation, id string) int {
	for i := range convs {
		if convs[i].ID == id {
			return i
		}
	}
	return -1
}

// observeLocked re-derives the handoff timers of the selected conversation.
func (o *Orchestrator) observeLocked() {
	if o.ctx.Err() != nil {
		return
	}
	conv, ok := o.state.Selected()
	if !ok {
		return
	}
	o.watchdog.Observe(o.ctx, &conv, o.state.Messages, o.turn.Active())
}

// switchTimersLocked cancels every conversation-scoped timer that does not
// belong to keep.
func (o *Orchestrator) switchTimersLocked(keep string) {
	o.slots.CancelExcept(keep)
}

func (o *Orchestrator) saveSelection(ctx context.Context, conversationID string) {
	if o.capabilities().Ephemeral {
		return
	}
	if err := o.svc.Selection.Save(ctx, o.identity(), conversationID); err != nil {
		o.logger.Warn("selection save failed", "conversation_id", conversationID, "err", err)
	}
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
