package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosstalk/internal/pkg/errs"
)

// joinHub registers a fresh connection with the hub. The pumps never run in
// these tests, so the transport stays nil and frames are read straight off
// the send queue.
func joinHub(h *Hub, userID, username, serverID string) *Connection {
	c := NewConnection(h, nil, userID, username, serverID)
	h.Register(c)
	return c
}

// tryEvent pops one queued frame without blocking.
func tryEvent(c *Connection) (Event, bool) {
	select {
	case frame, ok := <-c.send:
		if !ok {
			return Event{}, false
		}
		var ev Event
		if err := json.Unmarshal(frame, &ev); err != nil {
			panic(err)
		}
		return ev, true
	default:
		return Event{}, false
	}
}

// nextEvent pops the next queued frame and fails the test if none is queued.
func nextEvent(t *testing.T, c *Connection) Event {
	t.Helper()

	ev, ok := tryEvent(c)
	require.True(t, ok, "expected a queued event")
	return ev
}

// expectEvent pops the next frame and asserts its name, returning the
// decoded payload.
func expectEvent(t *testing.T, c *Connection, name EventName) json.RawMessage {
	t.Helper()

	ev := nextEvent(t, c)
	require.Equal(t, name, ev.Name)
	return ev.Payload
}

// waitEvent blocks until a frame arrives, for timer-driven broadcasts.
func waitEvent(t *testing.T, c *Connection, timeout time.Duration) Event {
	t.Helper()

	select {
	case frame, ok := <-c.send:
		require.True(t, ok, "send queue closed while waiting")
		var ev Event
		require.NoError(t, json.Unmarshal(frame, &ev))
		return ev
	case <-time.After(timeout):
		t.Fatal("no event arrived in time")
		return Event{}
	}
}

// drain empties the connection's send queue.
func drain(c *Connection) {
	for {
		if _, ok := tryEvent(c); !ok {
			return
		}
	}
}

func assertNoEvent(t *testing.T, c *Connection) {
	t.Helper()

	if ev, ok := tryEvent(c); ok {
		t.Fatalf("unexpected queued event %q", ev.Name)
	}
}

func decodeInto(t *testing.T, raw json.RawMessage, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, dst))
}

func TestPublish(t *testing.T) {
	general := ChannelRoom("general")

	t.Run("reaches every member except the excluded sender", func(t *testing.T) {
		h := NewHub(nil)

		a := joinHub(h, "alice", "Alice", "")
		b := joinHub(h, "bob", "Bob", "")
		outsider := joinHub(h, "carol", "Carol", "")

		h.JoinRoom(a.id, general)
		h.JoinRoom(b.id, general)

		n := h.Publish(general, EventServerAnnouncement, AnnouncementPayload{Heading: "hi"}, a.id)
		assert.Equal(t, 1, n)

		expectEvent(t, b, EventServerAnnouncement)
		assertNoEvent(t, a)
		assertNoEvent(t, outsider)
	})

	t.Run("empty room delivers nothing", func(t *testing.T) {
		h := NewHub(nil)
		assert.Equal(t, 0, h.Publish(general, EventServerAnnouncement, AnnouncementPayload{}, ""))
	})

	t.Run("join requires a live connection and a valid room", func(t *testing.T) {
		h := NewHub(nil)
		a := joinHub(h, "alice", "Alice", "")

		h.JoinRoom("ghost-conn", general)
		assert.False(t, h.IsMember("ghost-conn", general))

		h.JoinRoom(a.id, RoomID("nonsense"))
		assert.False(t, h.IsMember(a.id, RoomID("nonsense")))
	})
}

func TestSendMessage(t *testing.T) {
	general := ChannelRoom("general")

	setup := func(t *testing.T) (*Hub, *Connection, *Connection) {
		h := NewHub(nil)
		a := joinHub(h, "alice", "Alice", "")
		b := joinHub(h, "bob", "Bob", "")
		h.JoinRoom(a.id, general)
		h.JoinRoom(b.id, general)
		drain(a)
		drain(b)
		return h, a, b
	}

	t.Run("relays to co-members with authoritative sender identity", func(t *testing.T) {
		h, a, b := setup(t)

		h.SendMessage(a.id, SendMessagePayload{
			RoomID:      string(general),
			Content:     "hello there",
			PersistedID: "msg-1",
			// A forged identity in the payload must be ignored.
			Sender: SenderMeta{UserID: "mallory", Username: "Mallory", Avatar: "a.png"},
		})

		var msg MessagePayload
		decodeInto(t, expectEvent(t, b, EventNewMessage), &msg)

		assert.Equal(t, "msg-1", msg.ID)
		assert.Equal(t, string(general), msg.RoomID)
		assert.Equal(t, "hello there", msg.Content)
		assert.Equal(t, "alice", msg.Sender.UserID)
		assert.Equal(t, "Alice", msg.Sender.Username)
		assert.Equal(t, "a.png", msg.Sender.Avatar)
		assert.Greater(t, msg.SentAt, int64(0))

		// Exactly one copy for the recipient, none for the sender, which
		// relies on its optimistic local echo.
		assertNoEvent(t, b)
		assertNoEvent(t, a)
	})

	t.Run("drops non-member sends silently", func(t *testing.T) {
		h, _, b := setup(t)
		outsider := joinHub(h, "carol", "Carol", "")

		h.SendMessage(outsider.id, SendMessagePayload{RoomID: string(general), Content: "psst"})

		assertNoEvent(t, b)
		assertNoEvent(t, outsider)
	})

	t.Run("rejects oversized content back to the sender only", func(t *testing.T) {
		h, a, b := setup(t)

		h.SendMessage(a.id, SendMessagePayload{
			RoomID:  string(general),
			Content: strings.Repeat("x", MaxContentBytes+1),
		})

		var p ErrorPayload
		decodeInto(t, expectEvent(t, a, EventError), &p)
		assert.Equal(t, errs.ErrMessageContentTooLong, p.Code)
		assertNoEvent(t, b)
	})

	t.Run("sending ends a live typing pulse", func(t *testing.T) {
		h, a, b := setup(t)

		h.TypingStart(a.id, general)
		expectEvent(t, b, EventUserTyping)

		h.SendMessage(a.id, SendMessagePayload{RoomID: string(general), Content: "done typing", PersistedID: "msg-2"})

		expectEvent(t, b, EventNewMessage)
		var p UserStoppedTypingPayload
		decodeInto(t, expectEvent(t, b, EventUserStoppedTyping), &p)
		assert.Equal(t, "alice", p.UserID)
	})
}

func TestTypingFlow(t *testing.T) {
	general := ChannelRoom("general")

	setup := func(t *testing.T) (*Hub, *Connection, *Connection) {
		h := NewHub(nil)
		a := joinHub(h, "alice", "Alice", "")
		b := joinHub(h, "bob", "Bob", "")
		h.JoinRoom(a.id, general)
		h.JoinRoom(b.id, general)
		drain(a)
		drain(b)
		return h, a, b
	}

	t.Run("only the first pulse broadcasts", func(t *testing.T) {
		h, a, b := setup(t)

		h.TypingStart(a.id, general)

		var p UserTypingPayload
		decodeInto(t, expectEvent(t, b, EventUserTyping), &p)
		assert.Equal(t, "alice", p.UserID)
		assert.Equal(t, "Alice", p.Username)
		assertNoEvent(t, a)

		h.TypingStart(a.id, general)
		assertNoEvent(t, b)
	})

	t.Run("explicit stop broadcasts once", func(t *testing.T) {
		h, a, b := setup(t)

		h.TypingStart(a.id, general)
		drain(b)

		h.TypingStop(a.id, general)
		expectEvent(t, b, EventUserStoppedTyping)

		h.TypingStop(a.id, general)
		assertNoEvent(t, b)
	})

	t.Run("non-members cannot mark typing", func(t *testing.T) {
		h, _, b := setup(t)
		outsider := joinHub(h, "carol", "Carol", "")

		h.TypingStart(outsider.id, general)
		assertNoEvent(t, b)
	})

	t.Run("marks expire without a refreshing pulse", func(t *testing.T) {
		h, a, b := setup(t)
		h.typingTTL = 30 * time.Millisecond

		h.TypingStart(a.id, general)
		expectEvent(t, b, EventUserTyping)

		ev := waitEvent(t, b, time.Second)
		assert.Equal(t, EventUserStoppedTyping, ev.Name)

		// The expiry consumed the mark; no second stop arrives.
		h.TypingStop(a.id, general)
		assertNoEvent(t, b)
	})

	t.Run("a refreshed pulse pushes the deadline out", func(t *testing.T) {
		h, a, b := setup(t)
		h.typingTTL = 60 * time.Millisecond

		h.TypingStart(a.id, general)
		drain(b)

		time.Sleep(35 * time.Millisecond)
		h.TypingStart(a.id, general)

		time.Sleep(35 * time.Millisecond)
		assertNoEvent(t, b)

		ev := waitEvent(t, b, time.Second)
		assert.Equal(t, EventUserStoppedTyping, ev.Name)
	})
}

func TestPresenceFlow(t *testing.T) {
	t.Run("arrival in a server announces member and status", func(t *testing.T) {
		h := NewHub(nil)

		a := joinHub(h, "alice", "Alice", "s1")
		drain(a)

		b := joinHub(h, "bob", "Bob", "s1")

		var joined MemberEventPayload
		decodeInto(t, expectEvent(t, a, EventMemberJoined), &joined)
		assert.Equal(t, "bob", joined.UserID)
		assert.Equal(t, "Bob", joined.Username)

		var status MemberStatusPayload
		decodeInto(t, expectEvent(t, a, EventMemberStatusUpdate), &status)
		assert.Equal(t, "bob", status.UserID)
		assert.Equal(t, "online", status.Status)

		// The arriving user sees its own status broadcast but never its
		// own member-joined edge.
		expectEvent(t, b, EventMemberStatusUpdate)
		assertNoEvent(t, b)
	})

	t.Run("a second tab stays silent", func(t *testing.T) {
		h := NewHub(nil)

		a := joinHub(h, "alice", "Alice", "s1")
		joinHub(h, "bob", "Bob", "s1")
		drain(a)

		joinHub(h, "bob", "Bob", "s1")
		assertNoEvent(t, a)
	})

	t.Run("last disconnect broadcasts departure and offline with last seen", func(t *testing.T) {
		h := NewHub(nil)

		a := joinHub(h, "alice", "Alice", "s1")
		b1 := joinHub(h, "bob", "Bob", "s1")
		b2 := joinHub(h, "bob", "Bob", "s1")
		drain(a)

		h.Unregister(b1.id)
		assertNoEvent(t, a)
		assert.Equal(t, StatusOnline, h.PresenceOf("bob").Status)

		h.Unregister(b2.id)

		var left MemberEventPayload
		decodeInto(t, expectEvent(t, a, EventMemberLeft), &left)
		assert.Equal(t, "bob", left.UserID)

		var status MemberStatusPayload
		decodeInto(t, expectEvent(t, a, EventMemberStatusUpdate), &status)
		assert.Equal(t, "offline", status.Status)
		assert.Greater(t, status.LastSeen, int64(0))

		rec := h.PresenceOf("bob")
		assert.Equal(t, StatusOffline, rec.Status)
		assert.False(t, rec.LastSeen.IsZero())
	})

	t.Run("unregister strips every room membership", func(t *testing.T) {
		h := NewHub(nil)

		general := ChannelRoom("general")
		a := joinHub(h, "alice", "Alice", "s1")
		h.JoinRoom(a.id, general)
		require.True(t, h.IsMember(a.id, general))
		require.True(t, h.IsMember(a.id, ServerRoom("s1")))

		h.Unregister(a.id)

		assert.False(t, h.IsMember(a.id, general))
		assert.False(t, h.IsMember(a.id, ServerRoom("s1")))

		// Idempotent.
		h.Unregister(a.id)
	})

	t.Run("explicit status updates broadcast to the server room", func(t *testing.T) {
		h := NewHub(nil)

		a := joinHub(h, "alice", "Alice", "s1")
		b := joinHub(h, "bob", "Bob", "s1")
		drain(a)
		drain(b)

		h.SetStatus(b.id, "idle")

		var status MemberStatusPayload
		decodeInto(t, expectEvent(t, a, EventMemberStatusUpdate), &status)
		assert.Equal(t, "bob", status.UserID)
		assert.Equal(t, "idle", status.Status)
		assert.Equal(t, StatusIdle, h.PresenceOf("bob").Status)

		// Repeating the same status stays silent.
		h.SetStatus(b.id, "idle")
		assertNoEvent(t, a)
	})

	t.Run("invalid status errors back to the caller only", func(t *testing.T) {
		h := NewHub(nil)

		a := joinHub(h, "alice", "Alice", "s1")
		b := joinHub(h, "bob", "Bob", "s1")
		drain(a)
		drain(b)

		h.SetStatus(b.id, "invisible")

		var p ErrorPayload
		decodeInto(t, expectEvent(t, b, EventError), &p)
		assert.Equal(t, errs.ErrInvalidParams, p.Code)
		assertNoEvent(t, a)
	})
}

func TestSetServerContext(t *testing.T) {
	h := NewHub(nil)

	watcher1 := joinHub(h, "w1", "W1", "s1")
	watcher2 := joinHub(h, "w2", "W2", "s2")
	a := joinHub(h, "alice", "Alice", "s1")
	drain(watcher1)
	drain(watcher2)
	drain(a)

	require.True(t, h.SetServerContext(a.id, "s2"))

	assert.False(t, h.IsMember(a.id, ServerRoom("s1")))
	assert.True(t, h.IsMember(a.id, ServerRoom("s2")))

	var left MemberEventPayload
	decodeInto(t, expectEvent(t, watcher1, EventMemberLeft), &left)
	assert.Equal(t, "alice", left.UserID)

	var joined MemberEventPayload
	decodeInto(t, expectEvent(t, watcher2, EventMemberJoined), &joined)
	assert.Equal(t, "alice", joined.UserID)

	// Re-setting the same context is a no-op.
	require.True(t, h.SetServerContext(a.id, "s2"))
	assertNoEvent(t, watcher2)

	assert.False(t, h.SetServerContext("ghost", "s1"))
}

func TestAttachUser(t *testing.T) {
	h := NewHub(nil)

	watcher := joinHub(h, "w1", "W1", "s1")
	drain(watcher)

	anon := NewConnection(h, nil, "", "", "s1")
	h.Register(anon)
	assertNoEvent(t, watcher)

	require.True(t, h.AttachUser(anon.id, "alice", "Alice"))

	var joined MemberEventPayload
	decodeInto(t, expectEvent(t, watcher, EventMemberJoined), &joined)
	assert.Equal(t, "alice", joined.UserID)
	expectEvent(t, watcher, EventMemberStatusUpdate)

	assert.True(t, h.IsMember(anon.id, ServerRoom("s1")))
	assert.Equal(t, StatusOnline, h.PresenceOf("alice").Status)

	assert.False(t, h.AttachUser("ghost", "x", "X"))
}

func TestNotifyAndAnnounce(t *testing.T) {
	t.Run("notify reaches every connection of the user", func(t *testing.T) {
		h := NewHub(nil)

		b1 := joinHub(h, "bob", "Bob", "")
		b2 := joinHub(h, "bob", "Bob", "")
		other := joinHub(h, "alice", "Alice", "")

		n := h.NotifyUser("bob", NotificationPayload{
			UserID:  "bob",
			Heading: "Mention",
			Message: "Alice mentioned you",
		})
		assert.Equal(t, 2, n)

		for _, c := range []*Connection{b1, b2} {
			var p NotificationPayload
			decodeInto(t, expectEvent(t, c, EventNewNotification), &p)
			assert.Equal(t, "Mention", p.Heading)
		}
		assertNoEvent(t, other)

		assert.Equal(t, 0, h.NotifyUser("ghost", NotificationPayload{}))
	})

	t.Run("announce fans out to the whole server room", func(t *testing.T) {
		h := NewHub(nil)

		a := joinHub(h, "alice", "Alice", "s1")
		b := joinHub(h, "bob", "Bob", "s1")
		elsewhere := joinHub(h, "carol", "Carol", "s2")
		drain(a)
		drain(b)
		drain(elsewhere)

		n := h.Announce("s1", AnnouncementPayload{ServerID: "s1", Heading: "Maintenance"})
		assert.Equal(t, 2, n)

		var p AnnouncementPayload
		decodeInto(t, expectEvent(t, a, EventServerAnnouncement), &p)
		assert.Equal(t, "Maintenance", p.Heading)
		expectEvent(t, b, EventServerAnnouncement)
		assertNoEvent(t, elsewhere)
	})
}

func TestCallFlow(t *testing.T) {
	setup := func(t *testing.T) (*Hub, *Connection, *Connection) {
		h := NewHub(nil)
		a := joinHub(h, "alice", "Alice", "")
		b := joinHub(h, "bob", "Bob", "")
		return h, a, b
	}

	offer := func(h *Hub, from *Connection, to string) {
		h.CallSignal(from.id, CallSignalPayload{
			Type:    "offer",
			To:      to,
			Media:   "audio",
			Payload: json.RawMessage(`"offer-sdp"`),
		})
	}

	ringingSession := func(t *testing.T, h *Hub, a, b *Connection) string {
		t.Helper()

		offer(h, a, "bob")

		var sig struct {
			Type      string `json:"type"`
			SessionID string `json:"sessionId"`
			From      string `json:"from"`
			Media     string `json:"media"`
		}
		decodeInto(t, expectEvent(t, b, EventName("callSignal")), &sig)
		require.Equal(t, "offer", sig.Type)
		require.Equal(t, "alice", sig.From)
		require.Equal(t, "audio", sig.Media)
		require.NotEmpty(t, sig.SessionID)

		return sig.SessionID
	}

	t.Run("offer answer candidate round trip", func(t *testing.T) {
		h, a, b := setup(t)
		sessionID := ringingSession(t, h, a, b)

		h.CallSignal(b.id, CallSignalPayload{
			Type:      "answer",
			SessionID: sessionID,
			Payload:   json.RawMessage(`"answer-sdp"`),
		})

		var answer struct {
			Type string `json:"type"`
			From string `json:"from"`
		}
		decodeInto(t, expectEvent(t, a, EventName("callSignal")), &answer)
		assert.Equal(t, "answer", answer.Type)
		assert.Equal(t, "bob", answer.From)

		h.CallSignal(a.id, CallSignalPayload{
			Type:      "candidate",
			SessionID: sessionID,
			Payload:   json.RawMessage(`"cand"`),
		})

		var cand struct {
			Type string `json:"type"`
		}
		decodeInto(t, expectEvent(t, b, EventName("callSignal")), &cand)
		assert.Equal(t, "candidate", cand.Type)

		h.CallSignal(b.id, CallSignalPayload{Type: "connected", SessionID: sessionID})
		assertNoEvent(t, a)
	})

	t.Run("dialing an offline peer errors back to the caller", func(t *testing.T) {
		h, a, _ := setup(t)

		offer(h, a, "nobody")

		var p ErrorPayload
		decodeInto(t, expectEvent(t, a, EventError), &p)
		assert.Equal(t, errs.ErrCallPeerOffline, p.Code)
	})

	t.Run("a second offer to the same peer is busy", func(t *testing.T) {
		h, a, b := setup(t)
		ringingSession(t, h, a, b)

		offer(h, a, "bob")

		var p ErrorPayload
		decodeInto(t, expectEvent(t, a, EventError), &p)
		assert.Equal(t, errs.ErrCallBusy, p.Code)
	})

	t.Run("hangup relays one end signal and frees the pair", func(t *testing.T) {
		h, a, b := setup(t)
		sessionID := ringingSession(t, h, a, b)

		h.CallSignal(b.id, CallSignalPayload{Type: "answer", SessionID: sessionID, Payload: json.RawMessage(`"sdp"`)})
		drain(a)

		h.CallEnd(a.id, CallEndedPayload{SessionID: sessionID})

		var end struct {
			SessionID string `json:"sessionId"`
			Reason    string `json:"reason"`
		}
		decodeInto(t, expectEvent(t, b, EventName("callEnded")), &end)
		assert.Equal(t, sessionID, end.SessionID)
		assert.Equal(t, "hangup", end.Reason)
		assertNoEvent(t, b)

		// The pair is free for the next call.
		ringingSession(t, h, a, b)
	})

	t.Run("hangup by peer name resolves the session", func(t *testing.T) {
		h, a, b := setup(t)
		ringingSession(t, h, a, b)

		h.CallEnd(a.id, CallEndedPayload{To: "bob", Reason: "changed my mind"})

		var end struct {
			Reason string `json:"reason"`
		}
		decodeInto(t, expectEvent(t, b, EventName("callEnded")), &end)
		assert.Equal(t, "changed my mind", end.Reason)
	})

	t.Run("caller disconnect mid-ring notifies the callee", func(t *testing.T) {
		h, a, b := setup(t)
		sessionID := ringingSession(t, h, a, b)

		h.Unregister(a.id)

		var end struct {
			SessionID string `json:"sessionId"`
			Reason    string `json:"reason"`
		}
		decodeInto(t, expectEvent(t, b, EventName("callEnded")), &end)
		assert.Equal(t, sessionID, end.SessionID)
		assert.Equal(t, "peer disconnected", end.Reason)
	})

	t.Run("an unanswered offer expires", func(t *testing.T) {
		h, a, b := setup(t)
		h.ringTimeout = 30 * time.Millisecond

		ringingSession(t, h, a, b)

		endA := waitEvent(t, a, time.Second)
		assert.Equal(t, EventName("callEnded"), endA.Name)

		endB := waitEvent(t, b, time.Second)
		assert.Equal(t, EventName("callEnded"), endB.Name)

		var p struct {
			Reason string `json:"reason"`
		}
		decodeInto(t, endA.Payload, &p)
		assert.Equal(t, "no answer", p.Reason)
	})

	t.Run("answering cancels the ring deadline", func(t *testing.T) {
		h, a, b := setup(t)
		h.ringTimeout = 30 * time.Millisecond

		sessionID := ringingSession(t, h, a, b)
		h.CallSignal(b.id, CallSignalPayload{Type: "answer", SessionID: sessionID, Payload: json.RawMessage(`"sdp"`)})
		drain(a)

		time.Sleep(80 * time.Millisecond)
		assertNoEvent(t, a)
		assertNoEvent(t, b)
	})

	t.Run("unsupported signal types are dropped", func(t *testing.T) {
		h, a, b := setup(t)

		h.CallSignal(a.id, CallSignalPayload{Type: "renegotiate"})
		assertNoEvent(t, a)
		assertNoEvent(t, b)
	})
}

// scriptedAuthorizer approves exactly the channels it was seeded with.
type scriptedAuthorizer struct {
	allowed map[string]bool
	err     error
}

func (s *scriptedAuthorizer) IsChannelMember(_ context.Context, _, channelID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.allowed[channelID], nil
}

func TestChannelAuthorization(t *testing.T) {
	frame := func(room string) []byte {
		return []byte(fmt.Sprintf(`{"event":"join-channel","payload":{"roomId":%q}}`, room))
	}

	t.Run("authorized joins reach the membership table", func(t *testing.T) {
		h := NewHub(&scriptedAuthorizer{allowed: map[string]bool{"general": true}})
		a := joinHub(h, "alice", "Alice", "")

		a.dispatch(frame("channel:general"))

		assert.True(t, h.IsMember(a.id, ChannelRoom("general")))
		assertNoEvent(t, a)
	})

	t.Run("denied joins error without joining", func(t *testing.T) {
		h := NewHub(&scriptedAuthorizer{allowed: map[string]bool{}})
		a := joinHub(h, "alice", "Alice", "")

		a.dispatch(frame("channel:secret"))

		assert.False(t, h.IsMember(a.id, ChannelRoom("secret")))

		var p ErrorPayload
		decodeInto(t, expectEvent(t, a, EventError), &p)
		assert.Equal(t, errs.ErrChannelAccessDenied, p.Code)
	})

	t.Run("authorizer failure denies closed", func(t *testing.T) {
		h := NewHub(&scriptedAuthorizer{err: fmt.Errorf("db down")})
		a := joinHub(h, "alice", "Alice", "")

		a.dispatch(frame("channel:general"))

		assert.False(t, h.IsMember(a.id, ChannelRoom("general")))

		var p ErrorPayload
		decodeInto(t, expectEvent(t, a, EventError), &p)
		assert.Equal(t, errs.ErrChannelAccessDenied, p.Code)
	})

	t.Run("malformed room ids never reach the authorizer", func(t *testing.T) {
		h := NewHub(&scriptedAuthorizer{allowed: map[string]bool{"general": true}})
		a := joinHub(h, "alice", "Alice", "")

		a.dispatch(frame("lobby"))

		var p ErrorPayload
		decodeInto(t, expectEvent(t, a, EventError), &p)
		assert.Equal(t, errs.ErrRoomIDInvalid, p.Code)
	})

	t.Run("direct rooms join without an authorizer call", func(t *testing.T) {
		h := NewHub(&scriptedAuthorizer{allowed: map[string]bool{}})
		a := joinHub(h, "alice", "Alice", "")

		a.dispatch(frame("dm:alice:bob"))

		assert.True(t, h.IsMember(a.id, DirectRoom("alice", "bob")))
	})

	t.Run("direct rooms admit only the encoded pair", func(t *testing.T) {
		h := NewHub(nil)
		alice := joinHub(h, "alice", "Alice", "")
		bob := joinHub(h, "bob", "Bob", "")
		eve := joinHub(h, "eve", "Eve", "")

		dm := DirectRoom("alice", "bob")
		alice.dispatch(frame(string(dm)))
		bob.dispatch(frame(string(dm)))
		eve.dispatch(frame(string(dm)))

		assert.True(t, h.IsMember(alice.id, dm))
		assert.True(t, h.IsMember(bob.id, dm))
		assert.False(t, h.IsMember(eve.id, dm))

		var p ErrorPayload
		decodeInto(t, expectEvent(t, eve, EventError), &p)
		assert.Equal(t, errs.ErrNotRoomMember, p.Code)

		// The pair's traffic never reaches the outsider.
		h.SendMessage(alice.id, SendMessagePayload{RoomID: string(dm), Content: "secret", PersistedID: "m1"})
		expectEvent(t, bob, EventNewMessage)
		assertNoEvent(t, eve)

		// And the outsider cannot inject into the pair's room.
		h.SendMessage(eve.id, SendMessagePayload{RoomID: string(dm), Content: "spoof"})
		assertNoEvent(t, bob)
		assertNoEvent(t, alice)
	})

	t.Run("server rooms cannot be joined explicitly", func(t *testing.T) {
		h := NewHub(nil)
		a := joinHub(h, "alice", "Alice", "s1")
		eve := joinHub(h, "eve", "Eve", "")
		drain(a)

		eve.dispatch(frame("server:s1"))

		assert.False(t, h.IsMember(eve.id, ServerRoom("s1")))

		var p ErrorPayload
		decodeInto(t, expectEvent(t, eve, EventError), &p)
		assert.Equal(t, errs.ErrNotRoomMember, p.Code)

		// Announcements for that server stay invisible to the outsider.
		h.Announce("s1", AnnouncementPayload{ServerID: "s1", Heading: "internal"})
		expectEvent(t, a, EventServerAnnouncement)
		assertNoEvent(t, eve)
	})

	t.Run("leave through dispatch", func(t *testing.T) {
		h := NewHub(nil)
		a := joinHub(h, "alice", "Alice", "")
		h.JoinRoom(a.id, ChannelRoom("general"))

		a.dispatch([]byte(`{"event":"leave-channel","payload":{"roomId":"channel:general"}}`))

		assert.False(t, h.IsMember(a.id, ChannelRoom("general")))
	})

	t.Run("garbage frames are dropped", func(t *testing.T) {
		h := NewHub(nil)
		a := joinHub(h, "alice", "Alice", "")

		a.dispatch([]byte(`not json`))
		a.dispatch([]byte(`{"event":"no-such-event","payload":{}}`))
		a.dispatch([]byte(`{"event":"send-message","payload":"not an object"}`))

		assertNoEvent(t, a)
	})
}

func TestShutdown(t *testing.T) {
	h := NewHub(nil)

	a := joinHub(h, "alice", "Alice", "s1")
	b := joinHub(h, "bob", "Bob", "s1")
	drain(a)
	drain(b)

	h.Shutdown()

	// Send queues are closed so the write pumps can flush and exit.
	_, ok := <-a.send
	assert.False(t, ok)
	_, ok = <-b.send
	assert.False(t, ok)

	// Fan-out after shutdown delivers nowhere and does not panic.
	assert.Equal(t, 0, h.Publish(ServerRoom("s1"), EventServerAnnouncement, AnnouncementPayload{}, ""))
	assert.Equal(t, 0, h.NotifyUser("alice", NotificationPayload{}))
}
