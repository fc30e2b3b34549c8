/*
Package relay contains the core logic of the real-time relay.

This file defines room identifiers and the MembershipTable mapping rooms to
their subscribed connections. A room has no storage of its own: it exists
exactly as long as its member set is non-empty.
*/
package relay

import (
	"sort"
	"strings"
)

// RoomID is a typed broadcast scope identifier. Three shapes exist:
// "channel:<id>" for group channels, "server:<id>" for server-wide fan-out,
// and "dm:<lowUser>:<highUser>" for direct-message pairs.
type RoomID string

const (
	channelPrefix = "channel:"
	serverPrefix  = "server:"
	directPrefix  = "dm:"
)

// ChannelRoom builds the room id for a group channel.
func ChannelRoom(channelID string) RoomID {
	return RoomID(channelPrefix + channelID)
}

// ServerRoom builds the room id for server-wide broadcasts.
func ServerRoom(serverID string) RoomID {
	return RoomID(serverPrefix + serverID)
}

// DirectRoom builds the room id for a 1:1 pair. The pair is unordered:
// DirectRoom(a, b) == DirectRoom(b, a).
func DirectRoom(userA, userB string) RoomID {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return RoomID(directPrefix + pair[0] + ":" + pair[1])
}

// IsChannel reports whether the room is a channel room.
func (r RoomID) IsChannel() bool {
	return strings.HasPrefix(string(r), channelPrefix)
}

// IsServer reports whether the room is a server room.
func (r RoomID) IsServer() bool {
	return strings.HasPrefix(string(r), serverPrefix)
}

// IsDirect reports whether the room is a direct-pair room.
func (r RoomID) IsDirect() bool {
	return strings.HasPrefix(string(r), directPrefix)
}

// ChannelID returns the channel identifier of a channel room, or "".
func (r RoomID) ChannelID() string {
	if !r.IsChannel() {
		return ""
	}
	return strings.TrimPrefix(string(r), channelPrefix)
}

// DirectParticipants returns the two user ids encoded in a direct-pair
// room id, or empty strings for any other room shape.
func (r RoomID) DirectParticipants() (string, string) {
	if !r.IsDirect() {
		return "", ""
	}

	parts := strings.SplitN(strings.TrimPrefix(string(r), directPrefix), ":", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

// Valid reports whether the room id has one of the three known shapes with
// a non-empty identifier part.
func (r RoomID) Valid() bool {
	s := string(r)
	switch {
	case strings.HasPrefix(s, channelPrefix):
		return len(s) > len(channelPrefix)
	case strings.HasPrefix(s, serverPrefix):
		return len(s) > len(serverPrefix)
	case strings.HasPrefix(s, directPrefix):
		rest := strings.TrimPrefix(s, directPrefix)
		parts := strings.SplitN(rest, ":", 2)
		return len(parts) == 2 && parts[0] != "" && parts[1] != ""
	}
	return false
}

// MembershipTable tracks which connections subscribe to which room.
// Both directions are indexed so join/leave and room fan-out stay O(1)
// lookups, and unregister can strip a connection from every room it joined.
//
// The table is not safe for concurrent use; the Hub serializes all access.
type MembershipTable struct {
	byRoom map[RoomID]map[string]struct{}
	byConn map[string]map[RoomID]struct{}
}

// NewMembershipTable creates an empty membership table.
func NewMembershipTable() *MembershipTable {
	return &MembershipTable{
		byRoom: make(map[RoomID]map[string]struct{}),
		byConn: make(map[string]map[RoomID]struct{}),
	}
}

// Join subscribes the connection to the room. Re-joining is a no-op.
func (t *MembershipTable) Join(connID string, room RoomID) {
	members, ok := t.byRoom[room]
	if !ok {
		members = make(map[string]struct{})
		t.byRoom[room] = members
	}
	members[connID] = struct{}{}

	rooms, ok := t.byConn[connID]
	if !ok {
		rooms = make(map[RoomID]struct{})
		t.byConn[connID] = rooms
	}
	rooms[room] = struct{}{}
}

// Leave unsubscribes the connection from the room. Leaving a room the
// connection never joined is a no-op. An emptied room is deleted outright.
func (t *MembershipTable) Leave(connID string, room RoomID) {
	if members, ok := t.byRoom[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(t.byRoom, room)
		}
	}

	if rooms, ok := t.byConn[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(t.byConn, connID)
		}
	}
}

// LeaveAll removes the connection from every room it joined and returns the
// rooms it was a member of.
func (t *MembershipTable) LeaveAll(connID string) []RoomID {
	rooms, ok := t.byConn[connID]
	if !ok {
		return nil
	}

	left := make([]RoomID, 0, len(rooms))
	for room := range rooms {
		left = append(left, room)

		if members, ok := t.byRoom[room]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(t.byRoom, room)
			}
		}
	}
	delete(t.byConn, connID)

	return left
}

// MembersOf returns the connection ids subscribed to the room.
func (t *MembershipTable) MembersOf(room RoomID) []string {
	members, ok := t.byRoom[room]
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// IsMember reports whether the connection is subscribed to the room.
func (t *MembershipTable) IsMember(connID string, room RoomID) bool {
	rooms, ok := t.byConn[connID]
	if !ok {
		return false
	}
	_, ok = rooms[room]
	return ok
}

// RoomsOf returns the rooms the connection is subscribed to.
func (t *MembershipTable) RoomsOf(connID string) []RoomID {
	rooms, ok := t.byConn[connID]
	if !ok {
		return nil
	}

	ids := make([]RoomID, 0, len(rooms))
	for room := range rooms {
		ids = append(ids, room)
	}
	return ids
}
