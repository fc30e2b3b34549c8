/*
Package handler provides the HTTP handlers and routing setup for the relay.

This file contains the collaborator-facing endpoints: the REST side of the
application calls them to persist a notification or announcement row and
trigger relay fan-out. Persistence failures are logged and never block the
fan-out of the transient event.
*/
package handler

import (
	"net/http"
	"strings"
	"time"

	"crosstalk/internal/app/relay"
	"crosstalk/internal/app/store"
	"crosstalk/internal/pkg/auth/jwt"
	"crosstalk/internal/pkg/errs"
	"crosstalk/internal/pkg/logx"
	"crosstalk/internal/pkg/randx"
	"crosstalk/internal/pkg/req"
	"crosstalk/internal/pkg/resp"
)

// ServiceTokenMiddleware admits only requests bearing a valid service JWT.
// User tokens are rejected: these endpoints belong to the persistence
// collaborator, not to browsers.
func ServiceTokenMiddleware(secretKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				resp.RespondError(w, r, errs.NewError(errs.ErrIdentityRequired))
				return
			}

			payload, err := jwt.ParseToken(parts[1], secretKey)
			if err != nil || !payload.Service {
				resp.RespondError(w, r, errs.NewError(errs.ErrTokenInvalid))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NotifyRequest is the body of POST /api/notify.
type NotifyRequest struct {
	UserID  string `json:"userId"`
	Heading string `json:"heading"`
	Message string `json:"message"`
	Link    string `json:"link,omitempty"`
}

// NotifyResponse reports how many live connections received the event.
type NotifyResponse struct {
	Delivered int `json:"delivered"`
}

// HandleNotify persists a notification row and fans the transient event out
// to every live connection of the target user.
func HandleNotify(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body NotifyRequest
		if bindErr := req.BindJSON(r, &body); bindErr != nil {
			resp.RespondError(w, r, bindErr)
			return
		}

		if body.UserID == "" || body.Heading == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		createdAt := time.Now()

		if err := deps.Store.CreateNotification(r.Context(), store.NotificationRecord{
			ID:        randx.NotificationID(),
			UserID:    body.UserID,
			Heading:   body.Heading,
			Message:   body.Message,
			Link:      body.Link,
			CreatedAt: createdAt,
		}); err != nil {
			// Durable insert failed; the live event still goes out.
			logx.Error(err, "Notification insert failed, fan-out proceeding", "user_id", body.UserID)
		}

		delivered := deps.Hub.NotifyUser(body.UserID, relay.NotificationPayload{
			UserID:    body.UserID,
			Heading:   body.Heading,
			Message:   body.Message,
			Link:      body.Link,
			CreatedAt: createdAt.UnixMilli(),
		})

		resp.RespondSuccess(w, r, NotifyResponse{Delivered: delivered})
	}
}

// AnnounceRequest is the body of POST /api/announce.
type AnnounceRequest struct {
	ServerID string `json:"serverId"`
	Heading  string `json:"heading"`
	Message  string `json:"message"`
	Link     string `json:"link,omitempty"`
}

// HandleAnnounce triggers the server-wide bulk fan-out of an announcement.
// The durable announcement rows are written by the collaborator before it
// calls here.
func HandleAnnounce(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body AnnounceRequest
		if bindErr := req.BindJSON(r, &body); bindErr != nil {
			resp.RespondError(w, r, bindErr)
			return
		}

		if body.ServerID == "" || body.Heading == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		delivered := deps.Hub.Announce(body.ServerID, relay.AnnouncementPayload{
			ServerID:  body.ServerID,
			Heading:   body.Heading,
			Message:   body.Message,
			Link:      body.Link,
			CreatedAt: time.Now().UnixMilli(),
		})

		resp.RespondSuccess(w, r, NotifyResponse{Delivered: delivered})
	}
}
