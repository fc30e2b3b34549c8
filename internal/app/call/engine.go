/*
Package call implements the peer-to-peer call negotiation engine: a per-call
state machine relaying session descriptions and connectivity candidates
between exactly two connections.

The engine talks to the transport layer only through the Signaler interface,
so it carries no socket or room dependency. It never inspects the SDP or
candidate payloads it relays.
*/
package call

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"crosstalk/internal/pkg/errs"
	"crosstalk/internal/pkg/logx"
	"crosstalk/internal/pkg/randx"
)

// Signaler is the only surface the engine needs from the relay layer.
// The Hub satisfies it; tests substitute fakes.
type Signaler interface {
	// Deliver sends one event to a specific connection. Returns false if
	// the connection no longer exists or the frame was dropped.
	Deliver(connID string, event string, payload any) bool

	// DeliverToUser sends one event to every live connection of the user
	// and returns how many connections received it.
	DeliverToUser(userID string, event string, payload any) int
}

// Event names used on the wire for call traffic.
const (
	EventSignal = "callSignal"
	EventEnded  = "callEnded"
)

// RingTimeout is how long an offer may sit unanswered before the session
// fails, so an ignored call cannot leak a session.
const RingTimeout = 60 * time.Second

// State is the lifecycle position of one call session.
type State int

const (
	StateIdle State = iota
	StateOfferSent
	StateAnswerReceived
	StateConnected
	StateEnded
	StateFailed
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferSent:
		return "offer_sent"
	case StateAnswerReceived:
		return "answer_received"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// terminal reports whether the state admits no further transitions.
func (s State) terminal() bool {
	return s == StateEnded || s == StateFailed
}

// SignalMessage is the payload relayed for offer/answer/candidate traffic.
type SignalMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	From      string          `json:"from"`
	Media     string          `json:"media,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EndMessage is the payload of the terminal callEnded signal.
type EndMessage struct {
	SessionID string `json:"sessionId"`
	From      string `json:"from,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Session is one negotiation between exactly two connections. The callee
// connection is pinned when the answer arrives; until then the offer rings
// on every connection of the callee user.
type Session struct {
	ID         string
	CallerConn string
	CallerUser string
	CalleeConn string
	CalleeUser string
	Media      string
	State      State
	StartedAt  time.Time

	// Per-direction FIFO queues for candidates arriving before the
	// recipient has an applied remote description. Order is preserved;
	// out-of-order candidates would be silently wasted by the peer.
	toCallee []json.RawMessage
	toCaller []json.RawMessage
}

type pairKey struct {
	low, high string
}

func keyFor(userA, userB string) pairKey {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return pairKey{low: pair[0], high: pair[1]}
}

// Engine owns every live call session in the process. It is not safe for
// concurrent use; the Hub serializes all access and owns the ring timers.
type Engine struct {
	sessions map[string]*Session
	byPair   map[pairKey]string
	sig      Signaler
	logger   zerolog.Logger
}

// NewEngine constructs an Engine delivering through sig.
func NewEngine(sig Signaler) *Engine {
	engineLogger := logx.Logger().With().Str("component", "call_engine").Logger()

	return &Engine{
		sessions: make(map[string]*Session),
		byPair:   make(map[pairKey]string),
		sig:      sig,
		logger:   engineLogger,
	}
}

// Initiate creates a session in StateOfferSent after relaying the caller's
// session description to every live connection of the callee. Glare and
// duplicate dialing resolve as reject-second: if either participant already
// has a live session with that peer, the new offer is refused.
func (e *Engine) Initiate(callerConn, callerUser, calleeUser, media string, offer json.RawMessage) (*Session, *errs.CustomError) {
	if calleeUser == "" || calleeUser == callerUser {
		return nil, errs.NewError(errs.ErrInvalidParams)
	}

	key := keyFor(callerUser, calleeUser)
	if _, busy := e.byPair[key]; busy {
		return nil, errs.NewError(errs.ErrCallBusy)
	}

	s := &Session{
		ID:         randx.CallSessionID(),
		CallerConn: callerConn,
		CallerUser: callerUser,
		CalleeUser: calleeUser,
		Media:      media,
		State:      StateOfferSent,
		StartedAt:  time.Now(),
	}

	delivered := e.sig.DeliverToUser(calleeUser, EventSignal, SignalMessage{
		Type:      "offer",
		SessionID: s.ID,
		From:      callerUser,
		Media:     media,
		Payload:   offer,
	})
	if delivered == 0 {
		return nil, errs.NewError(errs.ErrCallPeerOffline)
	}

	e.sessions[s.ID] = s
	e.byPair[key] = s.ID

	e.logger.Info().
		Str("session_id", s.ID).
		Str("caller", callerUser).
		Str("callee", calleeUser).
		Str("media", media).
		Msg("Call session initiated")

	return s, nil
}

// Answer transitions OfferSent -> AnswerReceived, pins the answering
// connection as the session's callee side, relays the answer to the caller,
// and flushes both pending candidate queues in FIFO order. This is the
// earliest point both sides provably have an applied remote description.
func (e *Engine) Answer(sessionID, calleeConn, calleeUser string, answer json.RawMessage) *errs.CustomError {
	s, ok := e.sessions[sessionID]
	if !ok {
		return errs.NewError(errs.ErrCallSessionUnknown)
	}

	if s.State != StateOfferSent {
		return errs.NewError(errs.ErrCallInvalidState)
	}

	if calleeUser != s.CalleeUser {
		return errs.NewError(errs.ErrCallInvalidState)
	}

	s.CalleeConn = calleeConn
	s.State = StateAnswerReceived

	if !e.sig.Deliver(s.CallerConn, EventSignal, SignalMessage{
		Type:      "answer",
		SessionID: s.ID,
		From:      calleeUser,
		Payload:   answer,
	}) {
		e.fail(s, "caller unreachable")
		return nil
	}

	for _, cand := range s.toCallee {
		e.sig.Deliver(s.CalleeConn, EventSignal, SignalMessage{
			Type:      "candidate",
			SessionID: s.ID,
			From:      s.CallerUser,
			Payload:   cand,
		})
	}
	s.toCallee = nil

	for _, cand := range s.toCaller {
		e.sig.Deliver(s.CallerConn, EventSignal, SignalMessage{
			Type:      "candidate",
			SessionID: s.ID,
			From:      s.CalleeUser,
			Payload:   cand,
		})
	}
	s.toCaller = nil

	e.logger.Info().Str("session_id", s.ID).Msg("Call answered")

	return nil
}

// Candidate relays one connectivity candidate, queueing it when the
// recipient has no applied remote description yet (any state before
// AnswerReceived). Valid from any non-idle, non-terminal state.
func (e *Engine) Candidate(sessionID, fromUser string, cand json.RawMessage) *errs.CustomError {
	s, ok := e.sessions[sessionID]
	if !ok {
		return errs.NewError(errs.ErrCallSessionUnknown)
	}

	if s.State.terminal() || s.State == StateIdle {
		return errs.NewError(errs.ErrCallInvalidState)
	}

	var towardCallee bool
	switch fromUser {
	case s.CallerUser:
		towardCallee = true
	case s.CalleeUser:
		towardCallee = false
	default:
		return errs.NewError(errs.ErrCallInvalidState)
	}

	if s.State == StateOfferSent {
		if towardCallee {
			s.toCallee = append(s.toCallee, cand)
		} else {
			s.toCaller = append(s.toCaller, cand)
		}
		return nil
	}

	msg := SignalMessage{
		Type:      "candidate",
		SessionID: s.ID,
		From:      fromUser,
		Payload:   cand,
	}

	if towardCallee {
		if !e.sig.Deliver(s.CalleeConn, EventSignal, msg) {
			e.fail(s, "callee unreachable")
		}
	} else {
		if !e.sig.Deliver(s.CallerConn, EventSignal, msg) {
			e.fail(s, "caller unreachable")
		}
	}

	return nil
}

// Connected records that a participant observed the media path come up,
// transitioning AnswerReceived -> Connected. Idempotent once connected.
func (e *Engine) Connected(sessionID, fromUser string) *errs.CustomError {
	s, ok := e.sessions[sessionID]
	if !ok {
		return errs.NewError(errs.ErrCallSessionUnknown)
	}

	if fromUser != s.CallerUser && fromUser != s.CalleeUser {
		return errs.NewError(errs.ErrCallInvalidState)
	}

	switch s.State {
	case StateAnswerReceived:
		s.State = StateConnected
		e.logger.Info().Str("session_id", s.ID).Msg("Call connected")
		return nil
	case StateConnected:
		return nil
	default:
		return errs.NewError(errs.ErrCallInvalidState)
	}
}

// End terminates the session from any live state, relays a single end
// signal to the other side, and discards the session.
func (e *Engine) End(sessionID, byUser, reason string) *errs.CustomError {
	s, ok := e.sessions[sessionID]
	if !ok {
		return errs.NewError(errs.ErrCallSessionUnknown)
	}

	if byUser != s.CallerUser && byUser != s.CalleeUser {
		return errs.NewError(errs.ErrCallInvalidState)
	}

	end := EndMessage{SessionID: s.ID, From: byUser, Reason: reason}

	if byUser == s.CallerUser {
		if s.CalleeConn != "" {
			e.sig.Deliver(s.CalleeConn, EventEnded, end)
		} else {
			// Still ringing: every callee connection saw the offer.
			e.sig.DeliverToUser(s.CalleeUser, EventEnded, end)
		}
	} else {
		e.sig.Deliver(s.CallerConn, EventEnded, end)
	}

	e.discard(s, StateEnded)

	e.logger.Info().
		Str("session_id", s.ID).
		Str("by", byUser).
		Str("reason", reason).
		Msg("Call ended")

	return nil
}

// ExpireOffer fails a session still ringing when the ring deadline fires.
// A session that progressed past OfferSent in the meantime is untouched.
func (e *Engine) ExpireOffer(sessionID string) {
	s, ok := e.sessions[sessionID]
	if !ok || s.State != StateOfferSent {
		return
	}

	end := EndMessage{SessionID: s.ID, Reason: "no answer"}
	e.sig.Deliver(s.CallerConn, EventEnded, end)
	e.sig.DeliverToUser(s.CalleeUser, EventEnded, end)

	e.discard(s, StateFailed)

	e.logger.Info().Str("session_id", s.ID).Msg("Call expired unanswered")
}

// OnDisconnect ends every session the closing connection participates in
// and notifies the surviving side, so no peer is left connecting forever.
// lastOfUser additionally sweeps ringing sessions whose callee user just
// went fully offline. Returns the ids of the sessions torn down.
func (e *Engine) OnDisconnect(connID, userID string, lastOfUser bool) []string {
	var ended []string

	for _, s := range e.sessions {
		involved := s.CallerConn == connID || (s.CalleeConn != "" && s.CalleeConn == connID)

		// A ringing callee has no pinned connection yet; the session dies
		// only when the whole user goes offline.
		if !involved && lastOfUser && s.CalleeConn == "" && s.CalleeUser == userID {
			involved = true
		}

		if !involved {
			continue
		}

		end := EndMessage{SessionID: s.ID, From: userID, Reason: "peer disconnected"}

		if s.CallerConn != connID {
			e.sig.Deliver(s.CallerConn, EventEnded, end)
		}
		if s.CalleeConn != "" && s.CalleeConn != connID {
			e.sig.Deliver(s.CalleeConn, EventEnded, end)
		} else if s.CalleeConn == "" && s.CalleeUser != userID {
			e.sig.DeliverToUser(s.CalleeUser, EventEnded, end)
		}

		e.discard(s, StateEnded)
		ended = append(ended, s.ID)

		e.logger.Info().
			Str("session_id", s.ID).
			Str("connection_id", connID).
			Msg("Call ended by participant disconnect")
	}

	return ended
}

// SessionBetween returns the live session id between the two users, or "".
func (e *Engine) SessionBetween(userA, userB string) string {
	return e.byPair[keyFor(userA, userB)]
}

// Get returns the live session with the given id, or nil.
func (e *Engine) Get(sessionID string) *Session {
	return e.sessions[sessionID]
}

// fail moves the session to StateFailed and notifies whichever participant
// can still be reached with a call-failed end signal. No auto-retry.
func (e *Engine) fail(s *Session, reason string) {
	end := EndMessage{SessionID: s.ID, Reason: "call failed: " + reason}

	e.sig.Deliver(s.CallerConn, EventEnded, end)
	if s.CalleeConn != "" {
		e.sig.Deliver(s.CalleeConn, EventEnded, end)
	} else {
		e.sig.DeliverToUser(s.CalleeUser, EventEnded, end)
	}

	e.discard(s, StateFailed)

	e.logger.Warn().Str("session_id", s.ID).Str("reason", reason).Msg("Call failed")
}

// discard removes the session from both indexes and records its terminal
// state on the (now unreachable) struct for anyone still holding it.
func (e *Engine) discard(s *Session, terminal State) {
	s.State = terminal
	s.toCallee = nil
	s.toCaller = nil
	delete(e.sessions, s.ID)
	delete(e.byPair, keyFor(s.CallerUser, s.CalleeUser))
}
