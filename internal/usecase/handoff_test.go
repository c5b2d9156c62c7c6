package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-orchestrator/internal/domain"
	"chat-orchestrator/internal/handoff"
)

func handoffCaps() domain.Capabilities {
	return domain.Capabilities{HumanHandoffEnabled: true, JiraEnabled: true}
}

func TestRequestHandoff_SetsStatusOptimistically(t *testing.T) {
	h := newHarness(t, handoffCaps(), conv("c1"))
	h.start(t)
	ctx := context.Background()
	require.NoError(t, h.o.SelectConversation(ctx, "c1"))
	h.be.getErr = errors.New("refresh unavailable")

	require.NoError(t, h.o.RequestHandoff(ctx, "  need a human "))
	require.Equal(t, []string{"c1"}, h.be.handoffReqs)

	selected, ok := h.o.Snapshot().Selected()
	require.True(t, ok)
	require.Equal(t, domain.HandoffRequested, selected.HandoffStatus)
	require.Equal(t, t0.Format(time.RFC3339Nano), selected.HandoffRequestedAt)
	require.True(t, h.o.watchdog.Armed("c1"))
}

func TestRequestHandoff_RefreshesDetail(t *testing.T) {
	h := newHarness(t, handoffCaps(), conv("c1"))
	h.start(t)
	ctx := context.Background()
	require.NoError(t, h.o.SelectConversation(ctx, "c1"))

	require.NoError(t, h.o.RequestHandoff(ctx, ""))
	require.Equal(t, 2, h.be.getCalls["c1"])
	selected, _ := h.o.Snapshot().Selected()
	require.Equal(t, domain.HandoffRequested, selected.HandoffStatus)
}

func TestRequestHandoff_AlreadyOpenIsNoop(t *testing.T) {
	open := conv("c1")
	open.HandoffStatus = domain.HandoffActive
	h := newHarness(t, handoffCaps(), open)
	h.start(t)
	require.NoError(t, h.o.SelectConversation(context.Background(), "c1"))

	require.NoError(t, h.o.RequestHandoff(context.Background(), "again"))
	require.Empty(t, h.be.handoffReqs)
}

func TestRequestHandoff_Errors(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h := newHarness(t, domain.Capabilities{}, conv("c1"))
		h.start(t)
		require.NoError(t, h.o.SelectConversation(context.Background(), "c1"))
		expectUsecaseError(t, h.o.RequestHandoff(context.Background(), ""), ErrorUnavailable, "handoff_disabled")
	})
	t.Run("no selection", func(t *testing.T) {
		h := newHarness(t, handoffCaps(), conv("c1"))
		h.start(t)
		expectUsecaseError(t, h.o.RequestHandoff(context.Background(), ""), ErrorInvalidInput, "no_conversation_selected")
	})
	t.Run("upstream", func(t *testing.T) {
		h := newHarness(t, handoffCaps(), conv("c1"))
		h.start(t)
		require.NoError(t, h.o.SelectConversation(context.Background(), "c1"))
		h.be.handoffErr = errors.New("502")

		expectUsecaseError(t, h.o.RequestHandoff(context.Background(), ""), ErrorHandoffFailed, "request_handoff_error")
		snap := h.o.Snapshot()
		require.Equal(t, msgHandoffFailed, snap.Error)
		selected, _ := snap.Selected()
		require.Equal(t, domain.HandoffNone, selected.HandoffStatus)
	})
}

func TestWatchdog_AutoResolvesIdleHandoff(t *testing.T) {
	active := conv("c1")
	active.HandoffStatus = domain.HandoffActive
	h := newHarness(t, handoffCaps(), active)
	h.start(t)
	require.NoError(t, h.o.SelectConversation(context.Background(), "c1"))
	require.Equal(t, 1, h.be.getCalls["c1"])

	h.clock.Advance(handoff.PollInterval)
	require.Equal(t, 2, h.be.getCalls["c1"])
	require.Empty(t, h.be.resolved)

	h.clock.Advance(handoff.InactivityTimeout - handoff.PollInterval)
	require.Equal(t, []string{"c1"}, h.be.resolved)

	selected, ok := h.o.Snapshot().Selected()
	require.True(t, ok)
	require.Equal(t, domain.HandoffResolved, selected.HandoffStatus)
	require.False(t, h.o.watchdog.Armed("c1"))
	require.False(t, h.o.watchdog.Polling("c1"))

	polls := h.be.getCalls["c1"]
	h.clock.Advance(time.Minute)
	require.Equal(t, polls, h.be.getCalls["c1"])
}

func TestWatchdog_RetriesFailedResolveOnLaterPolls(t *testing.T) {
	active := conv("c1")
	active.HandoffStatus = domain.HandoffActive
	h := newHarness(t, handoffCaps(), active)
	h.start(t)
	require.NoError(t, h.o.SelectConversation(context.Background(), "c1"))

	h.be.resolveErr = errors.New("502")
	h.clock.Advance(handoff.InactivityTimeout)
	require.Equal(t, []string{"c1"}, h.be.resolved)

	h.clock.Advance(30 * time.Second)
	attempts := len(h.be.resolved)
	require.Greater(t, attempts, 1)
	require.LessOrEqual(t, attempts, 2+int(30*time.Second/handoff.PollInterval))
	selected, _ := h.o.Snapshot().Selected()
	require.Equal(t, domain.HandoffActive, selected.HandoffStatus)

	h.be.mu.Lock()
	h.be.resolveErr = nil
	h.be.mu.Unlock()
	h.clock.Advance(2 * handoff.PollInterval)

	selected, ok := h.o.Snapshot().Selected()
	require.True(t, ok)
	require.Equal(t, domain.HandoffResolved, selected.HandoffStatus)
	require.False(t, h.o.watchdog.Armed("c1"))
	require.False(t, h.o.watchdog.Polling("c1"))
}

func TestWatchdog_NoPollWhileStreaming(t *testing.T) {
	active := conv("c1")
	active.HandoffStatus = domain.HandoffActive
	h := newHarness(t, handoffCaps(), active)
	h.start(t)
	require.NoError(t, h.o.SelectConversation(context.Background(), "c1"))
	require.True(t, h.o.watchdog.Polling("c1"))

	h.be.deltas = []domain.Delta{{Text: "a"}}
	h.be.afterFirst = func() {
		require.False(t, h.o.watchdog.Polling("c1"))
	}
	require.NoError(t, h.o.SendMessage(context.Background(), SendInput{Text: "hi"}))
	require.True(t, h.o.watchdog.Polling("c1"))
}

func TestCreateJiraIssue(t *testing.T) {
	h := newHarness(t, handoffCaps(), conv("c1"))
	h.start(t)
	ctx := context.Background()

	_, err := h.o.CreateJiraIssue(ctx, "broken login")
	expectUsecaseError(t, err, ErrorInvalidInput, "no_conversation_selected")

	require.NoError(t, h.o.SelectConversation(ctx, "c1"))
	_, err = h.o.CreateJiraIssue(ctx, "  ")
	expectUsecaseError(t, err, ErrorInvalidInput, "empty_content")

	h.be.jira = domain.JiraIssue{IssueKey: "SUP-12", IssueURL: "https://jira/SUP-12"}
	issue, err := h.o.CreateJiraIssue(ctx, "broken login")
	require.NoError(t, err)
	require.Equal(t, "SUP-12", issue.IssueKey)

	h.be.jiraErr = errors.New("500")
	_, err = h.o.CreateJiraIssue(ctx, "broken login")
	expectUsecaseError(t, err, ErrorUpstream, "jira_error")
	require.Equal(t, msgJiraFailed, h.o.Snapshot().Error)
}

func TestCreateJiraIssue_Disabled(t *testing.T) {
	h := newHarness(t, domain.Capabilities{}, conv("c1"))
	h.start(t)
	_, err := h.o.CreateJiraIssue(context.Background(), "x")
	expectUsecaseError(t, err, ErrorUnavailable, "jira_disabled")
	require.Zero(t, h.be.jiraCalls)
}

func TestEphemeral_SkipsEverythingButSend(t *testing.T) {
	h := newHarness(t, domain.Capabilities{Ephemeral: true, HumanHandoffEnabled: true, JiraEnabled: true}, conv("c1"))
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.o.ReloadConversations(ctx))
	require.NoError(t, h.o.SelectConversation(ctx, "c1"))
	_, err := h.o.CreateConversation(ctx, "x")
	require.NoError(t, err)
	require.NoError(t, h.o.DeleteConversation(ctx, "c1"))
	require.NoError(t, h.o.RequestHandoff(ctx, "x"))
	_, err = h.o.CreateJiraIssue(ctx, "x")
	require.NoError(t, err)

	require.Zero(t, h.be.listCalls)
	require.Empty(t, h.be.getCalls)
	require.Zero(t, h.be.createCalls)
	require.Empty(t, h.be.deleted)
	require.Empty(t, h.be.handoffReqs)
	require.Zero(t, h.be.jiraCalls)

	for op, skipped := range ephemeralSkips {
		require.Equal(t, op != OpSend, skipped, string(op))
	}
}
