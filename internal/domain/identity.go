package domain

// Identity scopes everything persisted on behalf of the signed-in user.
type Identity struct {
	TenantID    string
	ServiceCode string
	UserID      string
}

// Complete reports whether every part of the identity is known.
func (id Identity) Complete() bool {
	return id.TenantID != "" && id.ServiceCode != "" && id.UserID != ""
}

// Capabilities are the deployment feature flags.
type Capabilities struct {
	HumanHandoffEnabled bool
	FileStorageEnabled  bool
	JiraEnabled         bool
	Restricted          bool
	// Ephemeral marks the no-persistence identity mode.
	Ephemeral bool
}
