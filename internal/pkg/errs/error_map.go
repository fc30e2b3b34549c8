package errs

import "net/http"

// errorMap maps business error codes to their CustomError templates.
// A zero Status defaults to HTTP 200 at construction time; relay-only
// errors that never cross the REST surface still carry a sensible status
// for the logs.
var errorMap = map[int]CustomError{
	ErrInvalidParams: {
		Code:    ErrInvalidParams,
		Message: "Invalid request parameters.",
		Status:  http.StatusBadRequest,
	},
	ErrUnsupportedMediaType: {
		Code:    ErrUnsupportedMediaType,
		Message: "Unsupported Content-Type.",
		Status:  http.StatusUnsupportedMediaType,
	},
	ErrInvalidJSONFormat: {
		Code:    ErrInvalidJSONFormat,
		Message: "Request body is not valid JSON.",
		Status:  http.StatusBadRequest,
	},
	ErrExtraContentInBody: {
		Code:    ErrExtraContentInBody,
		Message: "Request body contains extra content after the JSON document.",
		Status:  http.StatusBadRequest,
	},
	ErrRateLimitExceeded: {
		Code:    ErrRateLimitExceeded,
		Message: "Too many requests. Slow down and try again.",
		Status:  http.StatusTooManyRequests,
	},

	ErrRoomIDInvalid: {
		Code:    ErrRoomIDInvalid,
		Message: "Room identifier is not valid.",
		Status:  http.StatusBadRequest,
	},
	ErrNotRoomMember: {
		Code:    ErrNotRoomMember,
		Message: "You are not a member of this room.",
		Status:  http.StatusForbidden,
	},
	ErrChannelAccessDenied: {
		Code:    ErrChannelAccessDenied,
		Message: "You do not have access to this channel.",
		Status:  http.StatusForbidden,
	},
	ErrMessageContentTooLong: {
		Code:    ErrMessageContentTooLong,
		Message: "Message content exceeds the maximum allowed length.",
		Status:  http.StatusRequestEntityTooLarge,
	},

	ErrIdentityRequired: {
		Code:    ErrIdentityRequired,
		Message: "Authentication is required for this operation.",
		Status:  http.StatusUnauthorized,
	},
	ErrTokenInvalid: {
		Code:    ErrTokenInvalid,
		Message: "Identity token is invalid or expired.",
		Status:  http.StatusUnauthorized,
	},
	ErrConnectionUnknown: {
		Code:    ErrConnectionUnknown,
		Message: "Connection is not registered.",
		Status:  http.StatusBadRequest,
	},

	ErrCallBusy: {
		Code:    ErrCallBusy,
		Message: "A call with this peer is already in progress.",
		Status:  http.StatusConflict,
	},
	ErrCallSessionUnknown: {
		Code:    ErrCallSessionUnknown,
		Message: "Call session not found.",
		Status:  http.StatusNotFound,
	},
	ErrCallInvalidState: {
		Code:    ErrCallInvalidState,
		Message: "Call signal is not valid in the session's current state.",
		Status:  http.StatusConflict,
	},
	ErrCallPeerOffline: {
		Code:    ErrCallPeerOffline,
		Message: "The peer you are calling is not online.",
		Status:  http.StatusNotFound,
	},

	ErrUnknown: {
		Code:    ErrUnknown,
		Message: "Internal server error.",
		Status:  http.StatusInternalServerError,
	},
}
