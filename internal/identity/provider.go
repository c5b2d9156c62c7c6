// Package identity resolves who the session acts for and which optional
// features the deployment has switched on.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"chat-orchestrator/internal/domain"
)

// Capability parameter names below <prefix>/capabilities.
const (
	paramHumanHandoff = "human_handoff_enabled"
	paramFileStorage  = "file_storage_enabled"
	paramJira         = "jira_enabled"
	paramRestricted   = "restricted"
	paramEphemeral    = "ephemeral"
)

type PathGetter interface {
	GetParametersByPath(ctx context.Context, path string) (map[string]string, error)
}

// Provider serves a fixed identity and capability flags that are either
// static or loaded once from the parameter store.
type Provider struct {
	identity domain.Identity
	static   domain.Capabilities
	params   PathGetter
	prefix   string

	cacheMu     sync.RWMutex
	cacheLoaded bool
	caps        domain.Capabilities
}

type Option func(*Provider)

// WithParams loads capability flags from <prefix>/capabilities. Flags that
// are not present keep their static value.
func WithParams(params PathGetter, prefix string) Option {
	return func(p *Provider) {
		p.params = params
		p.prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	}
}

func New(id domain.Identity, static domain.Capabilities, opts ...Option) (*Provider, error) {
	p := &Provider{
		identity: domain.Identity{
			TenantID:    strings.TrimSpace(id.TenantID),
			ServiceCode: strings.TrimSpace(id.ServiceCode),
			UserID:      strings.TrimSpace(id.UserID),
		},
		static: static,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.params != nil && p.prefix == "" {
		return nil, errors.New("identity: parameter prefix must not be empty")
	}
	return p, nil
}

func (p *Provider) Identity(context.Context) (domain.Identity, error) {
	return p.identity, nil
}

// Capabilities returns the deployment flags. A failed parameter-store load is
// returned to the caller and retried on the next call.
func (p *Provider) Capabilities(ctx context.Context) (domain.Capabilities, error) {
	if p.params == nil {
		return p.static, nil
	}

	p.cacheMu.RLock()
	if p.cacheLoaded {
		caps := p.caps
		p.cacheMu.RUnlock()
		return caps, nil
	}
	p.cacheMu.RUnlock()

	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	if p.cacheLoaded {
		return p.caps, nil
	}
	caps, err := p.loadCapabilities(ctx)
	if err != nil {
		return domain.Capabilities{}, err
	}
	p.caps = caps
	p.cacheLoaded = true
	return caps, nil
}

func (p *Provider) loadCapabilities(ctx context.Context) (domain.Capabilities, error) {
	values, err := p.params.GetParametersByPath(ctx, p.prefix+"/capabilities")
	if err != nil {
		return domain.Capabilities{}, fmt.Errorf("identity: load capabilities: %w", err)
	}
	caps := p.static
	for name, dst := range map[string]*bool{
		paramHumanHandoff: &caps.HumanHandoffEnabled,
		paramFileStorage:  &caps.FileStorageEnabled,
		paramJira:         &caps.JiraEnabled,
		paramRestricted:   &caps.Restricted,
		paramEphemeral:    &caps.Ephemeral,
	} {
		raw, ok := values[name]
		if !ok {
			continue
		}
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return domain.Capabilities{}, fmt.Errorf("identity: capability %q: %w", name, err)
		}
		*dst = v
	}
	return caps, nil
}
