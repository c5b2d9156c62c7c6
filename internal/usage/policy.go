// Package usage implements the send-rate policy: a fixed window of free use
// followed by a cooldown once the window is exhausted.
package usage

import (
	"time"

	"chat-orchestrator/internal/domain"
)

const (
	WindowDuration   = 5 * time.Minute
	CooldownDuration = 30 * time.Minute
)

type Mode string

const (
	ModeIdle     Mode = "idle"
	ModeActive   Mode = "active"
	ModeCooldown Mode = "cooldown"
)

// Decision is the outcome of evaluating one send attempt.
type Decision struct {
	Allowed   bool
	Next      domain.UsageState
	Remaining time.Duration
}

// Status is the UI-facing projection of a usage state.
type Status struct {
	Mode      Mode
	Remaining time.Duration
}

// Evaluate decides whether a send at now is allowed and computes the state to
// persist. An expired cooldown is cleared and the call proceeds as idle, so it
// opens a fresh window within the same evaluation.
func Evaluate(now time.Time, prior domain.UsageState) Decision {
	state := prior
	if state.CooldownUntil != nil && !now.Before(*state.CooldownUntil) {
		state = domain.UsageState{}
	}

	if state.CooldownUntil != nil {
		return Decision{
			Allowed:   false,
			Next:      state,
			Remaining: state.CooldownUntil.Sub(now),
		}
	}

	if state.WindowStart != nil {
		end := state.WindowStart.Add(WindowDuration)
		if !now.After(end) {
			return Decision{Allowed: true, Next: state, Remaining: end.Sub(now)}
		}
		until := now.Add(CooldownDuration)
		return Decision{
			Allowed:   false,
			Next:      domain.UsageState{CooldownUntil: &until},
			Remaining: CooldownDuration,
		}
	}

	start := now
	return Decision{
		Allowed:   true,
		Next:      domain.UsageState{WindowStart: &start},
		Remaining: WindowDuration,
	}
}

// View projects state at now without mutating it. A window that has run out
// but has not yet been converted into a cooldown is reported as cooldown with
// the full cooldown ahead, since that is what the next send will start.
func View(now time.Time, state domain.UsageState) Status {
	if state.CooldownUntil != nil && now.Before(*state.CooldownUntil) {
		return Status{Mode: ModeCooldown, Remaining: state.CooldownUntil.Sub(now)}
	}
	if state.CooldownUntil == nil && state.WindowStart != nil {
		end := state.WindowStart.Add(WindowDuration)
		if !now.After(end) {
			return Status{Mode: ModeActive, Remaining: end.Sub(now)}
		}
		return Status{Mode: ModeCooldown, Remaining: CooldownDuration}
	}
	return Status{Mode: ModeIdle}
}

// RemainingMinutes rounds d up to whole minutes for user-facing messages.
func RemainingMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}
