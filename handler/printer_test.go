package handler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chat-orchestrator/internal/domain"
	"chat-orchestrator/internal/usecase"
)

func streamingState(content string, streaming bool) usecase.State {
	return usecase.State{
		Streaming: streaming,
		Messages: []domain.Message{
			{ID: "u1", Role: domain.RoleUser, Content: "hi"},
			{ID: "a1", Role: domain.RoleAssistant, Content: content},
		},
	}
}

func TestStreamPrinter_PrintsIncrements(t *testing.T) {
	var p StreamPrinter
	require.Equal(t, "assistant: ", p.Next(streamingState("", true)))
	require.Equal(t, "Hel", p.Next(streamingState("Hel", true)))
	require.Equal(t, "", p.Next(streamingState("Hel", true)))
	require.Equal(t, "lo\n", p.Next(streamingState("Hello", false)))
	require.Equal(t, "", p.Next(streamingState("Hello", false)))
}

func TestStreamPrinter_IgnoresHistory(t *testing.T) {
	var p StreamPrinter
	require.Equal(t, "", p.Next(streamingState("old reply", false)))
	require.Equal(t, "", p.Next(usecase.State{}))
}
