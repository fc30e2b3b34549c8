/*
Package relay contains the core logic of the real-time relay.

This file defines the Connection struct, one live transport session. It owns
the WebSocket read/write pumps, heartbeats, and the buffered outbound queue,
and dispatches decoded inbound events into the Hub. The Hub's Unregister is
the single cleanup path: a client that vanishes mid-call or mid-typing is
cleaned up there, never by a cooperative goodbye.
*/
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"crosstalk/internal/pkg/errs"
	"crosstalk/internal/pkg/logx"
	"crosstalk/internal/pkg/randx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of an inbound frame.
	maxMessageSize = 8192

	// MaxContentBytes bounds relayed message content.
	MaxContentBytes = 5000

	// sendQueueSize is the outbound buffer per connection; a full queue
	// drops the frame (at-most-once, best-effort delivery).
	sendQueueSize = 256

	// authorizeTimeout bounds the membership check against the persistence
	// collaborator; it runs on the read goroutine, never under the Hub lock.
	authorizeTimeout = 3 * time.Second
)

// Transport is the surface the Connection needs from its socket.
// *websocket.Conn satisfies it; tests substitute fakes.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Connection represents one live transport session and its owning user.
type Connection struct {
	// id is the unique connection identifier, immutable after creation.
	id string

	// hub is the relay core this connection dispatches into.
	hub *Hub

	// transport is the underlying socket.
	transport Transport

	// userID and username identify the authenticated owner. Empty until
	// an identity is attached. Mutated only under the Hub lock.
	userID   string
	username string

	// serverID is the optional active server context. Mutated only under
	// the Hub lock.
	serverID string

	// send queues outbound frames for the write pump.
	send chan []byte

	// closed guards the single close of the send channel.
	closed bool

	// structured logger with connection context.
	logger zerolog.Logger
}

// NewConnection constructs a Connection for an authenticated user. The
// caller registers it with the Hub before starting the pumps.
func NewConnection(hub *Hub, transport Transport, userID, username, serverID string) *Connection {
	id := randx.ConnectionID()

	connLogger := logx.Logger().With().
		Str("connection_id", id).
		Str("user_id", userID).
		Logger()

	return &Connection{
		id:        id,
		hub:       hub,
		transport: transport,
		userID:    userID,
		username:  username,
		serverID:  serverID,
		send:      make(chan []byte, sendQueueSize),
		logger:    connLogger,
	}
}

// ID returns the connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// ReadPump reads frames from the transport until the connection closes,
// handling heartbeats and dispatching decoded events. It runs on the
// connection's goroutine; Hub.Unregister is invoked exactly once on exit.
func (c *Connection) ReadPump() {
	defer func() {
		c.hub.Unregister(c.id)

		if err := c.transport.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Transport close after read pump exit")
		}
	}()

	c.transport.SetReadLimit(maxMessageSize)

	if err := c.transport.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.transport.SetPongHandler(func(string) error {
		return c.transport.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.transport.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Read pump terminating on unexpected close")
			}
			break
		}

		c.dispatch(frame)
	}
}

// dispatch decodes one inbound frame and routes it to the Hub. Malformed
// frames are dropped and logged, never propagated as a crash.
func (c *Connection) dispatch(frame []byte) {
	var ev Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		c.logger.Warn().Err(err).Bytes("frame", frame).Msg("Client sent invalid JSON")
		return
	}

	switch ev.Name {
	case EventJoinChannel:
		c.handleJoin(ev.Payload)

	case EventLeaveChannel:
		var p RoomPayload
		if !c.decode(ev.Name, ev.Payload, &p) {
			return
		}
		c.hub.LeaveRoom(c.id, RoomID(p.RoomID))

	case EventSendMessage:
		var p SendMessagePayload
		if !c.decode(ev.Name, ev.Payload, &p) {
			return
		}
		c.hub.SendMessage(c.id, p)

	case EventTypingStart:
		var p TypingPayload
		if !c.decode(ev.Name, ev.Payload, &p) {
			return
		}
		c.hub.TypingStart(c.id, RoomID(p.RoomID))

	case EventTypingStop:
		var p TypingPayload
		if !c.decode(ev.Name, ev.Payload, &p) {
			return
		}
		c.hub.TypingStop(c.id, RoomID(p.RoomID))

	case EventStatusUpdate:
		var p StatusUpdatePayload
		if !c.decode(ev.Name, ev.Payload, &p) {
			return
		}
		c.hub.SetStatus(c.id, p.Status)

	case EventCallSignal:
		var p CallSignalPayload
		if !c.decode(ev.Name, ev.Payload, &p) {
			return
		}
		c.hub.CallSignal(c.id, p)

	case EventCallEnded:
		var p CallEndedPayload
		if !c.decode(ev.Name, ev.Payload, &p) {
			return
		}
		c.hub.CallEnd(c.id, p)

	default:
		c.logger.Warn().Str("event", string(ev.Name)).Msg("Client sent unsupported event")
	}
}

// handleJoin authorizes a join before it ever reaches the membership table.
// Channel rooms are checked against the persistence collaborator; the check
// runs here on the read goroutine so the Hub lock is never held across a
// database call. Direct rooms admit only the two users encoded in the room
// id. Server rooms are entered through the connection's server context,
// never by explicit join.
func (c *Connection) handleJoin(payload json.RawMessage) {
	var p RoomPayload
	if !c.decode(EventJoinChannel, payload, &p) {
		return
	}

	room := RoomID(p.RoomID)
	if !room.Valid() {
		c.SendError(errs.NewError(errs.ErrRoomIDInvalid))
		return
	}

	switch {
	case room.IsDirect():
		low, high := room.DirectParticipants()
		if c.userID != low && c.userID != high {
			// Rejected without surfacing anything to peers.
			c.logger.Warn().Str("room", p.RoomID).Msg("Direct room join denied: caller is not a participant")
			c.SendError(errs.NewError(errs.ErrNotRoomMember))
			return
		}

	case room.IsServer():
		c.logger.Warn().Str("room", p.RoomID).Msg("Explicit server room join denied")
		c.SendError(errs.NewError(errs.ErrNotRoomMember))
		return

	case room.IsChannel():
		if c.hub.authz == nil {
			break
		}

		ctx, cancel := context.WithTimeout(context.Background(), authorizeTimeout)
		defer cancel()

		ok, err := c.hub.authz.IsChannelMember(ctx, c.userID, room.ChannelID())
		if err != nil {
			c.logger.Error().Err(err).Str("room", p.RoomID).Msg("Membership check failed")
			c.SendError(errs.NewError(errs.ErrChannelAccessDenied))
			return
		}
		if !ok {
			c.logger.Warn().Str("room", p.RoomID).Msg("Channel join denied by membership check")
			c.SendError(errs.NewError(errs.ErrChannelAccessDenied))
			return
		}
	}

	c.hub.JoinRoom(c.id, room)
}

func (c *Connection) decode(name EventName, payload json.RawMessage, dst any) bool {
	if err := json.Unmarshal(payload, dst); err != nil {
		c.logger.Warn().Err(err).Str("event", string(name)).Msg("Client sent invalid payload")
		return false
	}
	return true
}

// WritePump drains the send queue into the transport and keeps the
// heartbeat alive. It exits when the send channel closes (unregister) or a
// write fails.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.transport.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Transport close after write pump exit")
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.transport.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("Failed to set write deadline")
				return
			}

			if !ok {
				if err := c.transport.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.logger.Debug().Err(err).Msg("Error writing close message")
				}
				return
			}

			if err := c.transport.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Info().Err(err).Msg("Error writing frame")
				return
			}

		case <-ticker.C:
			if err := c.transport.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
				return
			}

			if err := c.transport.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Info().Err(err).Msg("Error writing ping")
				return
			}
		}
	}
}

// enqueue queues one encoded frame for the write pump. A full queue drops
// the frame: the relay never blocks fan-out on a slow consumer. A send
// racing shutdown of the channel counts as a drop, not a crash.
func (c *Connection) enqueue(frame []byte) (queued bool) {
	defer func() {
		if recover() != nil {
			queued = false
		}
	}()

	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Send queue full, dropping frame")
		return false
	}
}

// sendEvent encodes and queues one event for this connection.
func (c *Connection) sendEvent(name EventName, payload any) error {
	frame, err := EncodeEvent(name, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("event", string(name)).Msg("Failed to encode event")
		return err
	}

	if !c.enqueue(frame) {
		return fmt.Errorf("send queue full")
	}
	return nil
}

// SendError queues an error event describing err for this connection only.
func (c *Connection) SendError(err error) {
	var code int
	var message string

	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		code = customErr.Code
		message = customErr.Message
	} else {
		code = errs.ErrUnknown
		message = fmt.Sprintf("Internal server error: %v", err)
	}

	if sendErr := c.sendEvent(EventError, ErrorPayload{Code: code, Message: message}); sendErr != nil {
		c.logger.Debug().Err(sendErr).Msg("Failed to queue error event")
	}
}

// closeSend closes the send channel exactly once. Called by the Hub under
// its lock during unregister; the write pump then flushes and exits.
func (c *Connection) closeSend() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
