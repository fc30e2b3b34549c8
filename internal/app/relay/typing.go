/*
Package relay contains the core logic of the real-time relay.

This file defines the TypingCoordinator, the ephemeral per-(room,user)
"is typing" marks. At most one live mark exists per pair; repeat pulses
refresh the deadline without a second broadcast. Deadline expiry itself is
driven by the Hub's scheduler, since a crashed client never sends a stop.
*/
package relay

import "time"

// TypingTTL is how long a typing mark lives without a refreshing pulse.
const TypingTTL = 2 * time.Second

type typingKey struct {
	room RoomID
	user string
}

// TypingCoordinator tracks live typing marks. Not safe for concurrent use;
// the Hub serializes all access and owns the expiry timers.
type TypingCoordinator struct {
	marks map[typingKey]struct{}
}

// NewTypingCoordinator creates an empty coordinator.
func NewTypingCoordinator() *TypingCoordinator {
	return &TypingCoordinator{marks: make(map[typingKey]struct{})}
}

// Start upserts the mark for (room, user). Returns true only on the
// not-typing -> typing edge; refreshes return false so the caller can bound
// fan-out volume to one broadcast per mark lifetime.
func (t *TypingCoordinator) Start(room RoomID, userID string) bool {
	key := typingKey{room: room, user: userID}
	if _, ok := t.marks[key]; ok {
		return false
	}

	t.marks[key] = struct{}{}
	return true
}

// Stop removes the mark for (room, user). Returns true if a live mark was
// actually removed, so stop broadcasts fire at most once per mark.
func (t *TypingCoordinator) Stop(room RoomID, userID string) bool {
	key := typingKey{room: room, user: userID}
	if _, ok := t.marks[key]; !ok {
		return false
	}

	delete(t.marks, key)
	return true
}

// IsTyping reports whether a live mark exists for (room, user).
func (t *TypingCoordinator) IsTyping(room RoomID, userID string) bool {
	_, ok := t.marks[typingKey{room: room, user: userID}]
	return ok
}

// StopAllFor removes every mark owned by the user and returns the rooms
// they were typing in. Used when the user's last connection unregisters.
func (t *TypingCoordinator) StopAllFor(userID string) []RoomID {
	var rooms []RoomID
	for key := range t.marks {
		if key.user == userID {
			rooms = append(rooms, key.room)
			delete(t.marks, key)
		}
	}
	return rooms
}
