package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-orchestrator/internal/domain"
)

type fakeParams struct {
	values   map[string]string
	err      error
	calls    int
	lastPath string
}

func (f *fakeParams) GetParametersByPath(_ context.Context, path string) (map[string]string, error) {
	f.calls++
	f.lastPath = path
	if f.err != nil {
		return nil, f.err
	}
	return f.values, nil
}

func TestCapabilities_StaticWithoutParams(t *testing.T) {
	static := domain.Capabilities{JiraEnabled: true, Restricted: true}
	p, err := New(domain.Identity{TenantID: " t1 ", ServiceCode: "svc", UserID: "u1"}, static)
	require.NoError(t, err)

	caps, err := p.Capabilities(context.Background())
	require.NoError(t, err)
	require.Equal(t, static, caps)

	id, err := p.Identity(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.Identity{TenantID: "t1", ServiceCode: "svc", UserID: "u1"}, id)
}

func TestCapabilities_OverlaysParameterStore(t *testing.T) {
	params := &fakeParams{values: map[string]string{
		"human_handoff_enabled": "true",
		"file_storage_enabled":  " 1 ",
		"restricted":            "false",
		"unrelated":             "whatever",
	}}
	p, err := New(domain.Identity{}, domain.Capabilities{Restricted: true, JiraEnabled: true}, WithParams(params, "/assistant/"))
	require.NoError(t, err)

	caps, err := p.Capabilities(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.Capabilities{
		HumanHandoffEnabled: true,
		FileStorageEnabled:  true,
		JiraEnabled:         true,
	}, caps)
	require.Equal(t, "/assistant/capabilities", params.lastPath)

	_, err = p.Capabilities(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, params.calls)
}

func TestCapabilities_RetriesAfterError(t *testing.T) {
	params := &fakeParams{err: errors.New("access denied")}
	p, err := New(domain.Identity{}, domain.Capabilities{}, WithParams(params, "/assistant"))
	require.NoError(t, err)

	_, err = p.Capabilities(context.Background())
	require.ErrorContains(t, err, "access denied")

	params.err = nil
	params.values = map[string]string{"ephemeral": "true"}
	caps, err := p.Capabilities(context.Background())
	require.NoError(t, err)
	require.True(t, caps.Ephemeral)
	require.Equal(t, 2, params.calls)
}

func TestCapabilities_InvalidFlag(t *testing.T) {
	params := &fakeParams{values: map[string]string{"jira_enabled": "maybe"}}
	p, err := New(domain.Identity{}, domain.Capabilities{}, WithParams(params, "/assistant"))
	require.NoError(t, err)
	_, err = p.Capabilities(context.Background())
	require.ErrorContains(t, err, "jira_enabled")
}

func TestNew_RequiresPrefixWithParams(t *testing.T) {
	_, err := New(domain.Identity{}, domain.Capabilities{}, WithParams(&fakeParams{}, " / "))
	require.ErrorContains(t, err, "prefix")
}
