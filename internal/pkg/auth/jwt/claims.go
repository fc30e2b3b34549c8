package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the JWT claims the relay accepts as proof of identity.
// The relay never issues user tokens; it only validates tokens minted by
// the account service and reads the identity out of them.
type Payload struct {
	// StandardClaims embeds Exp, Iat and Iss, required for validity checks.
	jwt.StandardClaims `json:"standard_claims"`

	// UserID is the authenticated user's identifier.
	UserID string `json:"user_id"`

	// Username is the display name carried into presence and typing events.
	Username string `json:"username"`

	// Service marks tokens minted for the persistence collaborator, which
	// may call the notify/announce endpoints but never opens a socket.
	Service bool `json:"service,omitempty"`
}
