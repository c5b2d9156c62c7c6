package usecase

// Operation names a public orchestrator operation.
type Operation string

const (
	OpReload  Operation = "reload"
	OpSelect  Operation = "select"
	OpSend    Operation = "send"
	OpCreate  Operation = "create"
	OpDelete  Operation = "delete"
	OpHandoff Operation = "handoff"
	OpJira    Operation = "jira"
)

// ephemeralSkips lists what happens to each operation in the ephemeral
// identity mode: true means the operation returns immediately. Send still
// runs, but nothing it does is persisted or reloaded.
var ephemeralSkips = map[Operation]bool{
	OpReload:  true,
	OpSelect:  true,
	OpSend:    false,
	OpCreate:  true,
	OpDelete:  true,
	OpHandoff: true,
	OpJira:    true,
}

// skip reports whether op must be a no-op under the current capabilities.
func (o *Orchestrator) skip(op Operation) bool {
	o.mu.Lock()
	ephemeral := o.state.Capabilities.Ephemeral
	o.mu.Unlock()
	if ephemeral && ephemeralSkips[op] {
		o.logger.Debug("operation skipped in ephemeral mode", "op", op)
		return true
	}
	return false
}
