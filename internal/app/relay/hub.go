/*
Package relay contains the core logic of the real-time relay.

This file defines the Hub, the single owner of all in-memory relay state.
Every inbound event is handled as one atomic step under the Hub mutex, so
no handler ever observes a partially-updated membership table, presence
map, or call session map. Unregister is the load-bearing cleanup path:
rooms, typing marks, presence, and live calls of a vanished connection are
all torn down there, synchronously.
*/
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crosstalk/internal/app/call"
	"crosstalk/internal/pkg/errs"
	"crosstalk/internal/pkg/logx"
)

// ChannelAuthorizer is the persistence collaborator's membership check,
// consumed before a channel join reaches the membership table. The core
// itself never calls it; the connection dispatch layer does, off-lock.
type ChannelAuthorizer interface {
	IsChannelMember(ctx context.Context, userID, channelID string) (bool, error)
}

// Hub wires the registry, membership table, presence tracker, typing
// coordinator, and call engine behind one mutex.
type Hub struct {
	mu sync.Mutex

	registry *Registry
	rooms    *MembershipTable
	presence *PresenceTracker
	typing   *TypingCoordinator
	calls    *call.Engine
	sched    *Scheduler

	authz ChannelAuthorizer

	// typingTTL and ringTimeout default to the package constants; tests
	// shorten them.
	typingTTL   time.Duration
	ringTimeout time.Duration

	logger zerolog.Logger
}

// NewHub constructs a Hub. authz may be nil when no channel rooms exist
// (tests, tools); every channel join is then trusted.
func NewHub(authz ChannelAuthorizer) *Hub {
	h := &Hub{
		registry:    NewRegistry(),
		rooms:       NewMembershipTable(),
		presence:    NewPresenceTracker(),
		typing:      NewTypingCoordinator(),
		sched:       NewScheduler(),
		authz:       authz,
		typingTTL:   TypingTTL,
		ringTimeout: call.RingTimeout,
		logger:      logx.Logger().With().Str("component", "hub").Logger(),
	}

	h.calls = call.NewEngine(engineSignaler{h})

	return h
}

// Register adds a connection to the registry, subscribes it to its server
// room when a server context is present, and fires the presence and
// member-joined broadcasts its arrival implies.
func (h *Hub) Register(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.registry.Add(c)

	h.logger.Info().
		Str("connection_id", c.id).
		Str("user_id", c.userID).
		Str("server_id", c.serverID).
		Msg("Connection registered")

	if c.userID != "" {
		h.announceUserArrivalLocked(c)
	}
}

// AttachUser binds a user identity to a previously anonymous connection
// and fires the same arrival broadcasts Register would have.
func (h *Hub) AttachUser(connID, userID, username string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.registry.AttachUser(connID, userID, username) {
		return false
	}

	c := h.registry.Get(connID)
	h.announceUserArrivalLocked(c)
	return true
}

// announceUserArrivalLocked handles server-room subscription, the
// memberJoined edge, and the offline -> online presence transition for a
// connection that just gained (or arrived with) a user identity.
func (h *Hub) announceUserArrivalLocked(c *Connection) {
	if c.serverID != "" {
		room := ServerRoom(c.serverID)
		h.rooms.Join(c.id, room)

		if h.registry.CountInServer(c.userID, c.serverID) == 1 {
			h.publishLocked(room, EventMemberJoined, MemberEventPayload{
				UserID:   c.userID,
				Username: c.username,
			}, c.id)
		}
	}

	if status, changed := h.presence.HandleConnect(c.userID); changed {
		h.broadcastPresenceLocked(c.userID, status, time.Time{})
	}
}

// SetServerContext moves the connection's active server scope, adjusting
// server-room membership and member joined/left edges on both sides.
func (h *Hub) SetServerContext(connID, serverID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.registry.Get(connID)
	if c == nil {
		return false
	}

	if c.serverID == serverID {
		return true
	}

	oldServer := c.serverID
	if !h.registry.SetServerContext(connID, serverID) {
		return false
	}

	if oldServer != "" {
		oldRoom := ServerRoom(oldServer)
		h.rooms.Leave(connID, oldRoom)

		if c.userID != "" && h.registry.CountInServer(c.userID, oldServer) == 0 {
			h.publishLocked(oldRoom, EventMemberLeft, MemberEventPayload{
				UserID:   c.userID,
				Username: c.username,
			}, connID)
		}
	}

	if serverID != "" {
		room := ServerRoom(serverID)
		h.rooms.Join(connID, room)

		if c.userID != "" && h.registry.CountInServer(c.userID, serverID) == 1 {
			h.publishLocked(room, EventMemberJoined, MemberEventPayload{
				UserID:   c.userID,
				Username: c.username,
			}, connID)
		}
	}

	return true
}

// Unregister removes the connection and synchronously strips every trace
// of it: room memberships, live calls, typing marks, and presence. Every
// other component assumes stale connections never linger.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.registry.Remove(connID)
	if c == nil {
		return
	}

	h.rooms.LeaveAll(connID)

	if c.userID != "" {
		remaining := h.registry.CountOf(c.userID)
		lastOfUser := remaining == 0

		for _, sessionID := range h.calls.OnDisconnect(connID, c.userID, lastOfUser) {
			h.sched.Cancel(callTimerKey(sessionID))
		}

		if lastOfUser {
			for _, room := range h.typing.StopAllFor(c.userID) {
				h.sched.Cancel(typingTimerKey(room, c.userID))
				h.publishLocked(room, EventUserStoppedTyping, UserStoppedTypingPayload{
					RoomID: string(room),
					UserID: c.userID,
				}, "")
			}
		}

		if c.serverID != "" && h.registry.CountInServer(c.userID, c.serverID) == 0 {
			h.publishLocked(ServerRoom(c.serverID), EventMemberLeft, MemberEventPayload{
				UserID:   c.userID,
				Username: c.username,
			}, "")
		}

		now := time.Now()
		if status, changed := h.presence.HandleDisconnect(c.userID, remaining, now); changed {
			h.broadcastPresenceToRoomsLocked(h.serverRoomsForLocked(c), c.userID, status, now)
		}
	}

	c.closeSend()

	h.logger.Info().
		Str("connection_id", connID).
		Str("user_id", c.userID).
		Msg("Connection unregistered and cleaned up")
}

// JoinRoom subscribes the connection to the room. Authorization of channel
// rooms happened in the dispatch layer; the core trusts its caller.
func (h *Hub) JoinRoom(connID string, room RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !room.Valid() || h.registry.Get(connID) == nil {
		return
	}

	h.rooms.Join(connID, room)
}

// LeaveRoom unsubscribes the connection from the room. Idempotent.
func (h *Hub) LeaveRoom(connID string, room RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.rooms.Leave(connID, room)
}

// IsMember reports whether the connection is subscribed to the room.
func (h *Hub) IsMember(connID string, room RoomID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.rooms.IsMember(connID, room)
}

// Publish fans one event out to every member of the room, optionally
// excluding the sender so it can rely on its optimistic local echo.
// Returns the number of connections the event was queued for.
func (h *Hub) Publish(room RoomID, name EventName, payload any, excludeConnID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.publishLocked(room, name, payload, excludeConnID)
}

// PublishToUser fans one event out to every connection owned by the user,
// regardless of room membership. Returns the number of deliveries.
func (h *Hub) PublishToUser(userID string, name EventName, payload any) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.publishToUserLocked(userID, name, payload)
}

// SendMessage relays a message the caller already persisted through the
// collaborator. Non-members are rejected silently: logged, never surfaced
// to peers.
func (h *Hub) SendMessage(connID string, p SendMessagePayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.registry.Get(connID)
	if c == nil {
		return
	}

	room := RoomID(p.RoomID)
	if !h.rooms.IsMember(connID, room) {
		h.logger.Warn().
			Str("connection_id", connID).
			Str("room", p.RoomID).
			Msg("send-message from non-member dropped")
		return
	}

	if len(p.Content) > MaxContentBytes {
		c.SendError(errs.NewError(errs.ErrMessageContentTooLong))
		return
	}

	msg := MessagePayload{
		ID:      p.PersistedID,
		RoomID:  p.RoomID,
		Content: p.Content,
		Sender: SenderMeta{
			// Identity comes from the connection, not the client payload.
			UserID:   c.userID,
			Username: c.username,
			Avatar:   p.Sender.Avatar,
		},
		SentAt: time.Now().UnixMilli(),
	}

	h.publishLocked(room, EventNewMessage, msg, connID)

	// Sending a message implies the typing pulse is over.
	if h.typing.Stop(room, c.userID) {
		h.sched.Cancel(typingTimerKey(room, c.userID))
		h.publishLocked(room, EventUserStoppedTyping, UserStoppedTypingPayload{
			RoomID: string(room),
			UserID: c.userID,
		}, connID)
	}
}

// TypingStart upserts the typing mark for the caller in the room. Only the
// not-typing -> typing edge broadcasts; repeat pulses refresh the deadline
// silently.
func (h *Hub) TypingStart(connID string, room RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.registry.Get(connID)
	if c == nil || c.userID == "" || !h.rooms.IsMember(connID, room) {
		return
	}

	if h.typing.Start(room, c.userID) {
		h.publishLocked(room, EventUserTyping, UserTypingPayload{
			RoomID:   string(room),
			UserID:   c.userID,
			Username: c.username,
		}, connID)
	}

	userID := c.userID
	h.sched.Schedule(typingTimerKey(room, userID), h.typingTTL, func() {
		h.ExpireTyping(room, userID)
	})
}

// TypingStop removes the caller's typing mark and broadcasts the stop.
func (h *Hub) TypingStop(connID string, room RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.registry.Get(connID)
	if c == nil || c.userID == "" {
		return
	}

	if h.typing.Stop(room, c.userID) {
		h.sched.Cancel(typingTimerKey(room, c.userID))
		h.publishLocked(room, EventUserStoppedTyping, UserStoppedTypingPayload{
			RoomID: string(room),
			UserID: c.userID,
		}, connID)
	}
}

// ExpireTyping fires when a typing deadline passes without a refresh. A
// mark already stopped explicitly is a no-op, so a crashed client never
// leaves a stale indicator and a live one never double-stops.
func (h *Hub) ExpireTyping(room RoomID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.typing.Stop(room, userID) {
		h.publishLocked(room, EventUserStoppedTyping, UserStoppedTypingPayload{
			RoomID: string(room),
			UserID: userID,
		}, "")
	}
}

// SetStatus applies an explicit idle/dnd/online request layered atop the
// connectivity-derived base and broadcasts the resulting transition.
func (h *Hub) SetStatus(connID string, status string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.registry.Get(connID)
	if c == nil || c.userID == "" {
		return
	}

	parsed, ok := ParseStatus(status)
	if !ok {
		c.SendError(errs.NewError(errs.ErrInvalidParams))
		return
	}

	if now, changed := h.presence.SetExplicit(c.userID, parsed); changed {
		h.broadcastPresenceLocked(c.userID, now, time.Time{})
	}
}

// PresenceOf returns the presence snapshot for the user.
func (h *Hub) PresenceOf(userID string) PresenceRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.presence.StatusOf(userID)
}

// CallSignal routes one inbound call signal to the negotiation engine.
func (h *Hub) CallSignal(connID string, p CallSignalPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.registry.Get(connID)
	if c == nil || c.userID == "" {
		return
	}

	switch p.Type {
	case "offer":
		s, callErr := h.calls.Initiate(connID, c.userID, p.To, p.Media, p.Payload)
		if callErr != nil {
			c.SendError(callErr)
			return
		}

		sessionID := s.ID
		h.sched.Schedule(callTimerKey(sessionID), h.ringTimeout, func() {
			h.expireCall(sessionID)
		})

	case "answer":
		if callErr := h.calls.Answer(p.SessionID, connID, c.userID, p.Payload); callErr != nil {
			c.SendError(callErr)
			return
		}
		h.sched.Cancel(callTimerKey(p.SessionID))

	case "candidate":
		if callErr := h.calls.Candidate(p.SessionID, c.userID, p.Payload); callErr != nil {
			c.SendError(callErr)
		}

	case "connected":
		if callErr := h.calls.Connected(p.SessionID, c.userID); callErr != nil {
			c.SendError(callErr)
		}

	default:
		h.logger.Warn().Str("signal_type", p.Type).Msg("Unsupported call signal type dropped")
	}
}

// CallEnd terminates a call session on behalf of the caller. A missing
// session id resolves through the peer the payload names.
func (h *Hub) CallEnd(connID string, p CallEndedPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.registry.Get(connID)
	if c == nil || c.userID == "" {
		return
	}

	sessionID := p.SessionID
	if sessionID == "" && p.To != "" {
		sessionID = h.calls.SessionBetween(c.userID, p.To)
	}
	if sessionID == "" {
		return
	}

	reason := p.Reason
	if reason == "" {
		reason = "hangup"
	}

	if callErr := h.calls.End(sessionID, c.userID, reason); callErr != nil {
		h.logger.Debug().
			Str("session_id", sessionID).
			Int("code", callErr.Code).
			Msg("End of unknown or foreign call session ignored")
		return
	}

	h.sched.Cancel(callTimerKey(sessionID))
}

// expireCall fires when an offer's ring deadline passes unanswered.
func (h *Hub) expireCall(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls.ExpireOffer(sessionID)
}

// NotifyUser fans a notification out to every live connection of the
// target user. The durable row was already written by the caller; failures
// there never reach this path.
func (h *Hub) NotifyUser(userID string, n NotificationPayload) int {
	return h.PublishToUser(userID, EventNewNotification, n)
}

// Announce fans a server-wide announcement out to the server room.
func (h *Hub) Announce(serverID string, a AnnouncementPayload) int {
	return h.Publish(ServerRoom(serverID), EventServerAnnouncement, a, "")
}

// Shutdown cancels every pending timer and closes every connection's send
// queue so the write pumps flush and exit.
func (h *Hub) Shutdown() {
	h.sched.StopAll()

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.registry.All() {
		h.registry.Remove(c.id)
		h.rooms.LeaveAll(c.id)
		c.closeSend()
	}

	h.logger.Info().Msg("Hub shutdown complete")
}

// --- locked internals ---

// publishLocked encodes once and queues the frame on every room member
// except excludeConnID. Members whose queue is full or closed are skipped;
// delivery is at-most-once, best-effort.
func (h *Hub) publishLocked(room RoomID, name EventName, payload any, excludeConnID string) int {
	frame, err := EncodeEvent(name, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", string(name)).Msg("Failed to encode event for fan-out")
		return 0
	}

	delivered := 0
	for _, connID := range h.rooms.MembersOf(room) {
		if connID == excludeConnID {
			continue
		}

		c := h.registry.Get(connID)
		if c == nil {
			continue
		}

		if c.enqueue(frame) {
			delivered++
		}
	}

	return delivered
}

func (h *Hub) publishToUserLocked(userID string, name EventName, payload any) int {
	frame, err := EncodeEvent(name, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", string(name)).Msg("Failed to encode event for user fan-out")
		return 0
	}

	delivered := 0
	for _, c := range h.registry.ConnectionsOf(userID) {
		if c.enqueue(frame) {
			delivered++
		}
	}

	return delivered
}

// serverRoomsOfUserLocked returns the deduplicated server rooms the user's
// live connections are scoped to.
func (h *Hub) serverRoomsOfUserLocked(userID string) []RoomID {
	seen := make(map[RoomID]struct{})
	var rooms []RoomID

	for _, c := range h.registry.ConnectionsOf(userID) {
		if c.serverID == "" {
			continue
		}
		room := ServerRoom(c.serverID)
		if _, ok := seen[room]; !ok {
			seen[room] = struct{}{}
			rooms = append(rooms, room)
		}
	}

	return rooms
}

// serverRoomsForLocked is serverRoomsOfUserLocked plus the closing
// connection's own context, which the registry no longer knows about.
func (h *Hub) serverRoomsForLocked(closing *Connection) []RoomID {
	rooms := h.serverRoomsOfUserLocked(closing.userID)

	if closing.serverID != "" {
		room := ServerRoom(closing.serverID)
		for _, r := range rooms {
			if r == room {
				return rooms
			}
		}
		rooms = append(rooms, room)
	}

	return rooms
}

func (h *Hub) broadcastPresenceLocked(userID string, status Status, lastSeen time.Time) {
	h.broadcastPresenceToRoomsLocked(h.serverRoomsOfUserLocked(userID), userID, status, lastSeen)
}

func (h *Hub) broadcastPresenceToRoomsLocked(rooms []RoomID, userID string, status Status, lastSeen time.Time) {
	payload := MemberStatusPayload{
		UserID: userID,
		Status: string(status),
	}
	if !lastSeen.IsZero() {
		payload.LastSeen = lastSeen.UnixMilli()
	}

	for _, room := range rooms {
		h.publishLocked(room, EventMemberStatusUpdate, payload, "")
	}
}

func typingTimerKey(room RoomID, userID string) string {
	return "typing|" + string(room) + "|" + userID
}

func callTimerKey(sessionID string) string {
	return "call|" + sessionID
}

// engineSignaler adapts the Hub for the call engine. Engine methods only
// ever run while the Hub lock is already held, so these use the locked
// fan-out paths directly.
type engineSignaler struct {
	h *Hub
}

func (s engineSignaler) Deliver(connID string, event string, payload any) bool {
	c := s.h.registry.Get(connID)
	if c == nil {
		return false
	}

	frame, err := EncodeEvent(EventName(event), payload)
	if err != nil {
		s.h.logger.Error().Err(err).Str("event", event).Msg("Failed to encode call event")
		return false
	}

	return c.enqueue(frame)
}

func (s engineSignaler) DeliverToUser(userID string, event string, payload any) int {
	return s.h.publishToUserLocked(userID, EventName(event), payload)
}
