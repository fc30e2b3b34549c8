package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the PostgreSQL-backed Collaborator implementation.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a connection pool as a Collaborator.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateMessage inserts a durable message row. A duplicate id is treated
// as already persisted, not a failure, so relay-side retries stay safe.
func (s *Store) CreateMessage(ctx context.Context, m MessageRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, room_id, sender_id, content, sent_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.RoomID, m.SenderID, m.Content, m.SentAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// CreateNotification inserts a durable notification row.
func (s *Store) CreateNotification(ctx context.Context, n NotificationRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, heading, message, link, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.UserID, n.Heading, n.Message, n.Link, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// IsChannelMember reports whether the user belongs to the channel's group.
func (s *Store) IsChannelMember(ctx context.Context, userID, channelID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM channel_members
		   WHERE user_id = $1 AND channel_id = $2
		 )`,
		userID, channelID,
	).Scan(&exists)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("membership check: %w", err)
	}

	return exists, nil
}

// isUniqueViolation checks for a PostgreSQL unique constraint violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
