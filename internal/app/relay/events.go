/*
Package relay contains the core logic of the real-time relay: connection
bookkeeping, room membership, presence, typing marks, and event fan-out.

This file defines the wire-level event catalog. Every frame on a WebSocket
connection, in either direction, is a JSON Event envelope with a name and a
raw payload; malformed frames are dropped and logged, never fatal.
*/
package relay

import (
	"encoding/json"
	"fmt"
)

// EventName identifies one event type in the catalog.
type EventName string

// Client -> relay events.
const (
	EventJoinChannel  EventName = "join-channel"
	EventLeaveChannel EventName = "leave-channel"
	EventSendMessage  EventName = "send-message"
	EventTypingStart  EventName = "typing-start"
	EventTypingStop   EventName = "typing-stop"
	EventStatusUpdate EventName = "status-update"
	EventCallSignal   EventName = "callSignal"
	EventCallEnded    EventName = "callEnded"
)

// Relay -> client events.
const (
	EventNewMessage         EventName = "new-message"
	EventUserTyping         EventName = "user-typing"
	EventUserStoppedTyping  EventName = "user-stopped-typing"
	EventNewNotification    EventName = "new-notification"
	EventServerAnnouncement EventName = "server-announcement"
	EventMemberStatusUpdate EventName = "memberStatusUpdate"
	EventMemberJoined       EventName = "memberJoined"
	EventMemberLeft         EventName = "memberLeft"
	EventError              EventName = "error"
)

// Event is the JSON envelope carried on the wire in both directions.
type Event struct {
	Name    EventName       `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeEvent marshals an event envelope with the given payload.
func EncodeEvent(name EventName, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}

	return json.Marshal(Event{Name: name, Payload: raw})
}

// SenderMeta identifies the author of a relayed message.
type SenderMeta struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// RoomPayload is the payload of join-channel / leave-channel.
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// SendMessagePayload is the payload of send-message. PersistedID references
// the row the caller already created through the persistence collaborator;
// the relay never stores messages itself.
type SendMessagePayload struct {
	RoomID      string     `json:"roomId"`
	Content     string     `json:"content"`
	PersistedID string     `json:"persistedId"`
	Sender      SenderMeta `json:"senderMeta"`
}

// MessagePayload is the payload of new-message fan-out.
type MessagePayload struct {
	ID      string     `json:"id"`
	RoomID  string     `json:"roomId"`
	Content string     `json:"content"`
	Sender  SenderMeta `json:"sender"`
	SentAt  int64      `json:"sentAt"`
}

// TypingPayload is the payload of typing-start / typing-stop.
type TypingPayload struct {
	RoomID string `json:"roomId"`
}

// UserTypingPayload is the payload of user-typing.
type UserTypingPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// UserStoppedTypingPayload is the payload of user-stopped-typing.
type UserStoppedTypingPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// StatusUpdatePayload is the payload of status-update: an explicit
// idle/dnd/online request layered atop the connectivity-derived base.
type StatusUpdatePayload struct {
	Status string `json:"status"`
}

// MemberStatusPayload is the payload of memberStatusUpdate.
type MemberStatusPayload struct {
	UserID   string `json:"userId"`
	Status   string `json:"status"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

// MemberEventPayload is the payload of memberJoined / memberLeft.
type MemberEventPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// NotificationPayload is the transient relay payload of new-notification.
// The durable notification row is owned by the persistence collaborator.
type NotificationPayload struct {
	UserID    string `json:"userId"`
	Heading   string `json:"heading"`
	Message   string `json:"message"`
	Link      string `json:"link,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// AnnouncementPayload is the payload of server-announcement bulk fan-out.
type AnnouncementPayload struct {
	ServerID  string `json:"serverId"`
	Heading   string `json:"heading"`
	Message   string `json:"message"`
	Link      string `json:"link,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// CallSignalPayload carries offer/answer/candidate signals in both directions.
type CallSignalPayload struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	To        string          `json:"to,omitempty"`
	Media     string          `json:"media,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// CallEndedPayload is the terminal call signal.
type CallEndedPayload struct {
	SessionID string `json:"sessionId,omitempty"`
	To        string `json:"to,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ErrorPayload is the payload of error events sent back to a single caller.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
