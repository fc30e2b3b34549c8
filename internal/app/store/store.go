/*
Package store is the persistence collaborator boundary. The relay core
never owns durable state; callers persist through this interface before or
alongside fan-out, and clients recover missed history by re-fetching from
the same tables over REST.
*/
package store

import (
	"context"
	"time"
)

// MessageRecord is a durable chat message row.
type MessageRecord struct {
	ID       string
	RoomID   string
	SenderID string
	Content  string
	SentAt   time.Time
}

// NotificationRecord is a durable notification row.
type NotificationRecord struct {
	ID        string
	UserID    string
	Heading   string
	Message   string
	Link      string
	CreatedAt time.Time
}

// Collaborator is the contract the relay's callers consume: durable writes
// plus the membership check used to authorize a channel join before it
// reaches the core.
type Collaborator interface {
	CreateMessage(ctx context.Context, m MessageRecord) error
	CreateNotification(ctx context.Context, n NotificationRecord) error
	IsChannelMember(ctx context.Context, userID, channelID string) (bool, error)
}
