// Package timers owns the background timers of a session. Every timer lives
// in a slot keyed by (component, conversation id); arming a slot cancels
// whatever previously occupied it, and a Lease tells a running callback
// whether it still owns its slot.
package timers

import (
	"sync"
	"time"
)

// Clock abstracts time so timer behavior can be driven in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

// System is the wall clock.
var System Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Component names a kind of background loop.
type Component string

const (
	FileReconcile   Component = "file-reconcile"
	HandoffDeadline Component = "handoff-deadline"
	HandoffPoll     Component = "handoff-poll"
	UsageRefresh    Component = "usage-refresh"
)

type Key struct {
	Component      Component
	ConversationID string
}

type entry struct {
	id    uint64
	timer Timer
}

// Slots is the per-key timer table.
type Slots struct {
	clock Clock

	mu      sync.Mutex
	entries map[Key]*entry
	seq     uint64
}

func NewSlots(clock Clock) *Slots {
	if clock == nil {
		clock = System
	}
	return &Slots{clock: clock, entries: map[Key]*entry{}}
}

// Lease identifies one arming of a slot.
type Lease struct {
	slots *Slots
	key   Key
	id    uint64
}

func (l Lease) Key() Key { return l.key }

// Valid reports whether the slot has not been re-armed, cancelled or released
// since this lease was issued.
func (l Lease) Valid() bool {
	if l.slots == nil {
		return false
	}
	l.slots.mu.Lock()
	defer l.slots.mu.Unlock()
	e, ok := l.slots.entries[l.key]
	return ok && e.id == l.id
}

// Arm cancels the timer currently in key's slot and schedules fn after d.
// fn runs on the clock's goroutine, never inside Arm.
func (s *Slots) Arm(key Key, d time.Duration, fn func(Lease)) Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[key]; ok {
		old.timer.Stop()
	}
	s.seq++
	lease := Lease{slots: s, key: key, id: s.seq}
	e := &entry{id: lease.id}
	s.entries[key] = e
	e.timer = s.clock.AfterFunc(d, func() {
		if lease.Valid() {
			fn(lease)
		}
	})
	return lease
}

// Rearm schedules fn again under the same lease, unless the lease has been
// superseded in the meantime.
func (s *Slots) Rearm(lease Lease, d time.Duration, fn func(Lease)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[lease.key]
	if !ok || e.id != lease.id {
		return false
	}
	e.timer.Stop()
	e.timer = s.clock.AfterFunc(d, func() {
		if lease.Valid() {
			fn(lease)
		}
	})
	return true
}

// Release frees the slot if lease still owns it.
func (s *Slots) Release(lease Lease) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[lease.key]; ok && e.id == lease.id {
		e.timer.Stop()
		delete(s.entries, lease.key)
	}
}

func (s *Slots) Active(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

func (s *Slots) Cancel(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.timer.Stop()
		delete(s.entries, key)
	}
}

// CancelConversation cancels every slot belonging to conversationID.
func (s *Slots) CancelConversation(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if k.ConversationID == conversationID {
			e.timer.Stop()
			delete(s.entries, k)
		}
	}
}

// CancelExcept cancels the slots of every conversation other than keep.
// Slots with no conversation are left alone.
func (s *Slots) CancelExcept(keep string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if k.ConversationID != "" && k.ConversationID != keep {
			e.timer.Stop()
			delete(s.entries, k)
		}
	}
}

func (s *Slots) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, k)
	}
}

// Len returns the number of occupied slots.
func (s *Slots) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Slots) Now() time.Time { return s.clock.Now() }
