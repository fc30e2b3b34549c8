/*
Package relay contains the core logic of the real-time relay.

This file defines the PresenceTracker, the per-user status machine. The base
status is derived purely from connectivity (online iff at least one live
connection); idle and dnd are explicit client-requested overlays on top of
that base, cleared when the user fully disconnects.
*/
package relay

import "time"

// Status is a user's derived presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusDnd     Status = "dnd"
	StatusOffline Status = "offline"
)

// ParseStatus validates an explicit client-requested status. Only online,
// idle, and dnd may be requested; offline is derived, never requested.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusOnline, StatusIdle, StatusDnd:
		return Status(s), true
	}
	return "", false
}

// PresenceRecord is a snapshot of one user's presence.
type PresenceRecord struct {
	UserID   string
	Status   Status
	LastSeen time.Time
}

type presenceEntry struct {
	connected bool
	overlay   Status // StatusIdle or StatusDnd while set, "" otherwise
	lastSeen  time.Time
}

// PresenceTracker derives online/idle/dnd/offline per user. Not safe for
// concurrent use; the Hub serializes all access. Presence is deliberately
// ephemeral: nothing here is ever persisted.
type PresenceTracker struct {
	entries map[string]*presenceEntry
}

// NewPresenceTracker creates an empty presence tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{entries: make(map[string]*presenceEntry)}
}

// HandleConnect records a new connection of the user. Returns the resulting
// status and whether this call changed it (the offline -> online edge).
func (p *PresenceTracker) HandleConnect(userID string) (Status, bool) {
	e, ok := p.entries[userID]
	if !ok {
		e = &presenceEntry{}
		p.entries[userID] = e
	}

	if e.connected {
		return p.statusOf(e), false
	}

	e.connected = true
	e.overlay = ""
	return StatusOnline, true
}

// HandleDisconnect records a connection of the user closing. remaining is
// the user's live connection count after the close; the offline transition
// fires only when it reaches zero, stamping lastSeen with the close instant.
func (p *PresenceTracker) HandleDisconnect(userID string, remaining int, at time.Time) (Status, bool) {
	e, ok := p.entries[userID]
	if !ok || !e.connected {
		return StatusOffline, false
	}

	if remaining > 0 {
		return p.statusOf(e), false
	}

	e.connected = false
	e.overlay = ""
	e.lastSeen = at
	return StatusOffline, true
}

// SetExplicit applies a client-requested idle/dnd/online status. Requests
// from fully disconnected users are refused. Returns the resulting status
// and whether it changed.
func (p *PresenceTracker) SetExplicit(userID string, status Status) (Status, bool) {
	e, ok := p.entries[userID]
	if !ok || !e.connected {
		return StatusOffline, false
	}

	prev := p.statusOf(e)

	if status == StatusOnline {
		e.overlay = ""
	} else {
		e.overlay = status
	}

	now := p.statusOf(e)
	return now, now != prev
}

// StatusOf returns the presence snapshot for the user.
func (p *PresenceTracker) StatusOf(userID string) PresenceRecord {
	e, ok := p.entries[userID]
	if !ok {
		return PresenceRecord{UserID: userID, Status: StatusOffline}
	}

	return PresenceRecord{
		UserID:   userID,
		Status:   p.statusOf(e),
		LastSeen: e.lastSeen,
	}
}

func (p *PresenceTracker) statusOf(e *presenceEntry) Status {
	if !e.connected {
		return StatusOffline
	}
	if e.overlay != "" {
		return e.overlay
	}
	return StatusOnline
}
