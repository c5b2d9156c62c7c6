package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"chat-orchestrator/internal/domain"
	"chat-orchestrator/internal/repository"
	"chat-orchestrator/internal/session"
	"chat-orchestrator/internal/timers"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	t0           = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	testIdentity = domain.Identity{TenantID: "t1", ServiceCode: "svc", UserID: "u1"}
)

func ts(d time.Duration) string { return t0.Add(d).Format(time.RFC3339) }

func conv(id string) domain.Conversation {
	return domain.Conversation{ID: id, Title: "title " + id, ServiceCode: "svc", HandoffStatus: domain.HandoffNone, UpdatedAt: ts(0)}
}

// fakeBackend implements the conversation, chat and upload services.
type fakeBackend struct {
	mu sync.Mutex

	convs   []domain.Conversation
	details map[string]domain.ConversationDetail

	listErr     error
	getErr      error
	createErr   error
	deleteErr   error
	listCalls   int
	getCalls    map[string]int
	createCalls int
	deleted     []string

	deltas     []domain.Delta
	result     domain.ChatResult
	sendErr    error
	sendCalls  int
	lastSend   domain.ChatRequest
	afterFirst func()

	handoffErr  error
	handoffReqs []string
	resolveErr  error
	resolved    []string
	jira        domain.JiraIssue
	jiraErr     error
	jiraCalls   int

	uploaded    []domain.Attachment
	uploadErr   error
	uploadCalls int
	records     []domain.FileRecord
	filesErr    error
	fileCalls   int
}

func newFakeBackend(convs ...domain.Conversation) *fakeBackend {
	return &fakeBackend{convs: convs, details: map[string]domain.ConversationDetail{}, getCalls: map[string]int{}}
}

func (f *fakeBackend) ListConversations(context.Context) ([]domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.Conversation(nil), f.convs...), nil
}

func (f *fakeBackend) CreateConversation(_ context.Context, title, serviceCode string) (domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return domain.Conversation{}, f.createErr
	}
	c := domain.Conversation{ID: fmt.Sprintf("new-%d", f.createCalls), Title: title, ServiceCode: serviceCode, HandoffStatus: domain.HandoffNone}
	f.convs = append([]domain.Conversation{c}, f.convs...)
	return c, nil
}

func (f *fakeBackend) GetConversation(_ context.Context, id string) (domain.ConversationDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls[id]++
	if f.getErr != nil {
		return domain.ConversationDetail{}, f.getErr
	}
	if d, ok := f.details[id]; ok {
		for _, c := range f.convs {
			if c.ID == id {
				d.Conversation = c
			}
		}
		d.Messages = domain.CloneMessages(d.Messages)
		return d, nil
	}
	for _, c := range f.convs {
		if c.ID == id {
			return domain.ConversationDetail{Conversation: c}, nil
		}
	}
	return domain.ConversationDetail{}, errors.New("404 not found")
}

func (f *fakeBackend) DeleteConversation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

func (f *fakeBackend) SendMessage(_ context.Context, in domain.ChatRequest, onDelta func(domain.Delta)) (domain.ChatResult, error) {
	f.mu.Lock()
	f.sendCalls++
	f.lastSend = in
	deltas, res, err, hook := f.deltas, f.result, f.sendErr, f.afterFirst
	f.mu.Unlock()

	for i, d := range deltas {
		onDelta(d)
		if i == 0 && hook != nil {
			hook()
		}
	}
	if err == nil && res.ConversationID != "" {
		f.mu.Lock()
		known := false
		for _, c := range f.convs {
			known = known || c.ID == res.ConversationID
		}
		if !known {
			f.convs = append([]domain.Conversation{conv(res.ConversationID)}, f.convs...)
		}
		f.mu.Unlock()
	}
	return res, err
}

func (f *fakeBackend) RequestHandoff(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handoffReqs = append(f.handoffReqs, id)
	if f.handoffErr != nil {
		return f.handoffErr
	}
	for i := range f.convs {
		if f.convs[i].ID == id {
			f.convs[i].HandoffStatus = domain.HandoffRequested
		}
	}
	return nil
}

func (f *fakeBackend) ResolveHandoff(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, id)
	if f.resolveErr != nil {
		return f.resolveErr
	}
	for i := range f.convs {
		if f.convs[i].ID == id {
			f.convs[i].HandoffStatus = domain.HandoffResolved
		}
	}
	return nil
}

func (f *fakeBackend) CreateJiraIssue(context.Context, string, string) (domain.JiraIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jiraCalls++
	return f.jira, f.jiraErr
}

func (f *fakeBackend) UploadFiles(_ context.Context, files []domain.Attachment, _ string) ([]domain.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return f.uploaded, nil
}

func (f *fakeBackend) ListConversationFiles(context.Context, string) ([]domain.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fileCalls++
	return f.records, f.filesErr
}

func (f *fakeBackend) setConvs(convs ...domain.Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs = convs
}

type fakeIdentity struct {
	id      domain.Identity
	caps    domain.Capabilities
	capsErr error
}

func (f *fakeIdentity) Identity(context.Context) (domain.Identity, error) { return f.id, nil }

func (f *fakeIdentity) Capabilities(context.Context) (domain.Capabilities, error) {
	return f.caps, f.capsErr
}

type harness struct {
	clock *timers.ManualClock
	be    *fakeBackend
	ident *fakeIdentity
	usage *session.UsageStore
	sel   *session.SelectionStore
	o     *Orchestrator
}

func newHarness(t *testing.T, caps domain.Capabilities, convs ...domain.Conversation) *harness {
	t.Helper()
	kv := repository.NewMemoryStore()
	usageStore, err := session.NewUsageStore(kv)
	require.NoError(t, err)
	selStore, err := session.NewSelectionStore(kv)
	require.NoError(t, err)

	h := &harness{
		clock: timers.NewManualClock(t0),
		be:    newFakeBackend(convs...),
		ident: &fakeIdentity{id: testIdentity, caps: caps},
		usage: usageStore,
		sel:   selStore,
	}
	h.o, err = NewOrchestrator(Services{
		Conversations: h.be,
		Chat:          h.be,
		Uploads:       h.be,
		Identity:      h.ident,
		Usage:         h.usage,
		Selection:     h.sel,
	}, WithClock(h.clock))
	require.NoError(t, err)
	t.Cleanup(h.o.Close)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.o.Start(context.Background()))
}

func expectUsecaseError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func ids(convs []domain.Conversation) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.ID
	}
	return out
}

func TestNewOrchestrator_ValidatesDependencies(t *testing.T) {
	be := newFakeBackend()
	kv := repository.NewMemoryStore()
	us, _ := session.NewUsageStore(kv)
	ss, _ := session.NewSelectionStore(kv)
	full := Services{Conversations: be, Chat: be, Uploads: be, Identity: &fakeIdentity{}, Usage: us, Selection: ss}

	for name, mutate := range map[string]func(*Services){
		"conversations": func(s *Services) { s.Conversations = nil },
		"chat":          func(s *Services) { s.Chat = nil },
		"uploads":       func(s *Services) { s.Uploads = nil },
		"identity":      func(s *Services) { s.Identity = nil },
		"usage":         func(s *Services) { s.Usage = nil },
		"selection":     func(s *Services) { s.Selection = nil },
	} {
		t.Run(name, func(t *testing.T) {
			svc := full
			mutate(&svc)
			_, err := NewOrchestrator(svc)
			require.Error(t, err)
		})
	}

	o, err := NewOrchestrator(full)
	require.NoError(t, err)
	o.Close()
}

func TestStart_FiltersServiceAndRestoresSelection(t *testing.T) {
	other := conv("x1")
	other.ServiceCode = "other"
	h := newHarness(t, domain.Capabilities{}, conv("c1"), other, conv("c2"))
	h.be.details["c2"] = domain.ConversationDetail{Messages: []domain.Message{
		{ID: "m2", Role: domain.RoleAssistant, CreatedAt: ts(2 * time.Minute)},
		{ID: "m1", Role: domain.RoleUser, CreatedAt: ts(time.Minute)},
	}}
	require.NoError(t, h.sel.Save(context.Background(), testIdentity, "c2"))

	h.start(t)
	snap := h.o.Snapshot()
	require.Equal(t, []string{"c1", "c2"}, ids(snap.Conversations))
	require.Equal(t, "c2", snap.SelectedID)
	require.Equal(t, "m1", snap.Messages[0].ID)
	require.Equal(t, "m2", snap.Messages[1].ID)
	require.False(t, snap.Loading)
	require.Equal(t, testIdentity, snap.Identity)
}

func TestStart_IgnoresSavedSelectionNoLongerListed(t *testing.T) {
	h := newHarness(t, domain.Capabilities{}, conv("c1"))
	require.NoError(t, h.sel.Save(context.Background(), testIdentity, "gone"))
	h.start(t)
	require.Empty(t, h.o.Snapshot().SelectedID)
	require.Zero(t, h.be.getCalls["gone"])
}

func TestStart_ClearsUsageWhenUnrestricted(t *testing.T) {
	h := newHarness(t, domain.Capabilities{})
	until := t0.Add(10 * time.Minute)
	require.NoError(t, h.usage.Save(context.Background(), testIdentity, domain.UsageState{CooldownUntil: &until}))

	h.start(t)
	st, err := h.usage.Load(context.Background(), testIdentity)
	require.NoError(t, err)
	require.True(t, st.IsZero())
}

func TestStart_RestoresUsageWhenRestricted(t *testing.T) {
	h := newHarness(t, domain.Capabilities{Restricted: true})
	until := t0.Add(10 * time.Minute)
	require.NoError(t, h.usage.Save(context.Background(), testIdentity, domain.UsageState{CooldownUntil: &until}))

	h.start(t)
	snap := h.o.Snapshot()
	require.Equal(t, "cooldown", string(snap.Usage.Mode))
	require.Equal(t, 10*time.Minute, snap.Usage.Remaining)

	h.clock.Advance(UsageRefreshInterval)
	require.Equal(t, 10*time.Minute-UsageRefreshInterval, h.o.Snapshot().Usage.Remaining)
}

func TestStart_CapabilitiesError(t *testing.T) {
	h := newHarness(t, domain.Capabilities{})
	h.ident.capsErr = errors.New("ssm down")
	expectUsecaseError(t, h.o.Start(context.Background()), ErrorUnavailable, "capabilities_load_error")
}

func TestSubscribe_DeliversIndependentSnapshotsInOrder(t *testing.T) {
	h := newHarness(t, domain.Capabilities{}, conv("c1"))
	var versions []uint64
	var last State
	unsubscribe := h.o.Subscribe(func(s State) {
		versions = append(versions, s.Version)
		last = s
	})

	h.start(t)
	require.NotEmpty(t, versions)
	for i := 1; i < len(versions); i++ {
		require.Greater(t, versions[i], versions[i-1])
	}

	last.Conversations[0].Title = "mutated"
	require.Equal(t, "title c1", h.o.Snapshot().Conversations[0].Title)

	unsubscribe()
	n := len(versions)
	require.NoError(t, h.o.ReloadConversations(context.Background()))
	require.Len(t, versions, n)
}

func TestClose_CancelsAllTimers(t *testing.T) {
	active := conv("c1")
	active.HandoffStatus = domain.HandoffActive
	h := newHarness(t, domain.Capabilities{HumanHandoffEnabled: true}, active)
	h.start(t)
	require.NoError(t, h.o.SelectConversation(context.Background(), "c1"))
	require.NotZero(t, h.clock.Pending())

	h.o.Close()
	require.Zero(t, h.clock.Pending())
	h.clock.Advance(time.Hour)
	require.Empty(t, h.be.resolved)
}
