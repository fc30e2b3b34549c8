/*
Package handler provides the HTTP handlers and routing setup for the relay.

This file contains the WebSocket upgrade handler: it validates the identity
token (auth issuance lives elsewhere; the relay only consumes the
capability), upgrades the connection, and starts the client pumps.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"crosstalk/internal/app/relay"
	"crosstalk/internal/pkg/auth/jwt"
	"crosstalk/internal/pkg/errs"
	"crosstalk/internal/pkg/logx"
	"crosstalk/internal/pkg/resp"
)

// HandleWebSocket returns the HandlerFunc processing WebSocket connection
// requests. Expected query parameters: token (identity JWT, required) and
// server (active server context, optional).
func HandleWebSocket(upgrader websocket.Upgrader, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		tokenString := query.Get("token")
		if tokenString == "" {
			logx.Warn("WebSocket request rejected: Missing token")
			resp.RespondError(w, r, errs.NewError(errs.ErrIdentityRequired))
			return
		}

		payload, err := jwt.ParseToken(tokenString, deps.Config.JWTSecret)
		if err != nil {
			logx.Warn("WebSocket request rejected: Invalid token", "error", err)
			resp.RespondError(w, r, errs.NewError(errs.ErrTokenInvalid))
			return
		}

		if payload.UserID == "" || payload.Service {
			resp.RespondError(w, r, errs.NewError(errs.ErrTokenInvalid))
			return
		}

		serverID := query.Get("server")

		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := relay.NewConnection(deps.Hub, wsConn, payload.UserID, payload.Username, serverID)

		go client.WritePump()

		deps.Hub.Register(client)

		logx.Info("WebSocket connection established",
			"connection_id", client.ID(),
			"user_id", payload.UserID,
			"server_id", serverID,
		)

		client.ReadPump()
	}
}
