/*
Package errs provides custom error types and application-level error code constants.

These codes identify specific relay failures both internally and in the
error events sent back to connected clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON is malformed.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates trailing content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates the request rate exceeded the configured limit.
	ErrRateLimitExceeded = 1005
)

// 2xxx: Room and Message Errors
const (
	// ErrRoomIDInvalid indicates a room identifier that is not a channel,
	// server, or direct-pair room id.
	ErrRoomIDInvalid = 2101

	// ErrNotRoomMember indicates the caller tried to publish into a room it
	// has not joined.
	ErrNotRoomMember = 2102

	// ErrChannelAccessDenied indicates the membership check against the
	// persistence collaborator rejected a channel join.
	ErrChannelAccessDenied = 2103

	// ErrMessageContentTooLong indicates message content over the size limit.
	ErrMessageContentTooLong = 2201
)

// 3xxx: Identity and Session Errors
const (
	// ErrIdentityRequired indicates a connection attempted an operation
	// before presenting a user identity.
	ErrIdentityRequired = 3001

	// ErrTokenInvalid indicates the presented identity token failed validation.
	ErrTokenInvalid = 3002

	// ErrConnectionUnknown indicates an operation referenced a connection id
	// that is not registered.
	ErrConnectionUnknown = 3003
)

// 4xxx: Call Negotiation Errors
const (
	// ErrCallBusy indicates one of the participants already has a live
	// negotiation with that peer.
	ErrCallBusy = 4001

	// ErrCallSessionUnknown indicates a signal referenced a session that does
	// not exist or already reached a terminal state.
	ErrCallSessionUnknown = 4002

	// ErrCallInvalidState indicates a signal arrived in a state that cannot
	// accept it (e.g. an answer before any offer).
	ErrCallInvalidState = 4003

	// ErrCallPeerOffline indicates the target of a call has no live connection.
	ErrCallPeerOffline = 4004
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified internal error.
	ErrUnknown = 5000
)
