/*
Package randx provides generators for the unique identifiers used across the relay.

Connection, call session, and notification identifiers are standard UUID v4
strings; validity helpers keep identifier checks in one place.
*/
package randx

import (
	"github.com/google/uuid"
)

// ConnectionID generates a UUID v4 string identifying one live transport session.
func ConnectionID() string {
	return uuid.New().String()
}

// CallSessionID generates a UUID v4 string identifying one call negotiation.
func CallSessionID() string {
	return uuid.New().String()
}

// NotificationID generates a UUID v4 string for a persisted notification row.
func NotificationID() string {
	return uuid.New().String()
}

// IsValidID reports whether s parses as a UUID.
func IsValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
