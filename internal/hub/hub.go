package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Faraz1608/IMOS-sub000/internal/metrics"
)

const sessionBufferSize = 256

// Session is one live real-time connection, optionally bound to an identity.
// Sessions exist only in process memory; a reconnecting client re-handshakes.
type Session struct {
	ID          string
	ConnectedAt time.Time

	identity *Identity
	send     chan []byte
}

// Outbox exposes the session's ordered outbound event stream. The hub
// writes envelopes to it in the order it issued them.
func (s *Session) Outbox() <-chan []byte {
	return s.send
}

// Identity returns the bound identity, or nil while the session is anonymous.
// Safe to call only from hub methods or after the bind is observed.
func (s *Session) Identity() *Identity {
	return s.identity
}

// Hub is the process-wide session registry. It exclusively owns the
// registry map; all mutation goes through its methods.
type Hub struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	relay   *Relay
	metrics *metrics.Collector
}

// AttachMetrics starts recording session and broadcast metrics
func (h *Hub) AttachMetrics(c *metrics.Collector) {
	h.metrics = c
}

// New creates a hub with an empty registry
func New(logger *slog.Logger) *Hub {
	return &Hub{
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Register creates an anonymous session entry
func (h *Hub) Register(sessionID string) *Session {
	session := &Session{
		ID:          sessionID,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, sessionBufferSize),
	}

	h.mu.Lock()
	h.sessions[sessionID] = session
	h.mu.Unlock()

	h.metrics.SessionOpened()
	h.logger.Debug("Session registered", "session_id", sessionID)
	return session
}

// BindIdentity attaches an identity to a session after the client handshake.
// It announces the join to all other sessions and refreshes the online count
// for everyone.
func (h *Hub) BindIdentity(sessionID string, identity Identity) bool {
	h.mu.Lock()
	session, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		h.logger.Warn("Bind for unknown session", "session_id", sessionID)
		return false
	}
	session.identity = &identity
	h.mu.Unlock()

	h.logger.Info("Session identity bound", "session_id", sessionID, "user_id", identity.UserID)

	h.broadcast(EventUserJoined, PresencePayload{
		UserID: identity.UserID,
		Name:   identity.Name,
		Role:   identity.Role,
	}, "", sessionID)
	h.broadcastUsersOnline()
	return true
}

// Unregister removes a session. A bound session announces its departure;
// anonymous disconnects are silent.
func (h *Hub) Unregister(sessionID string) {
	h.mu.Lock()
	session, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
		close(session.send)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	h.metrics.SessionClosed()
	h.logger.Debug("Session unregistered", "session_id", sessionID)
	if session.identity == nil {
		return
	}

	h.broadcast(EventUserLeft, PresencePayload{
		UserID: session.identity.UserID,
		Name:   session.identity.Name,
		Role:   session.identity.Role,
	}, "", "")
	h.broadcastUsersOnline()
}

// BroadcastToAll delivers an event to every registered session
func (h *Hub) BroadcastToAll(eventType EventType, data interface{}) {
	h.broadcast(eventType, data, "", "")
	h.publishRelay(eventType, data, "")
}

// BroadcastExcept delivers an event to every session except those bound to
// excludedUserID. An empty excludedUserID behaves like BroadcastToAll.
func (h *Hub) BroadcastExcept(eventType EventType, data interface{}, excludedUserID string) {
	h.broadcast(eventType, data, excludedUserID, "")
	h.publishRelay(eventType, data, excludedUserID)
}

// SendToUser delivers an event to every session bound to userID. A user with
// several open sessions receives it on each.
func (h *Hub) SendToUser(userID string, eventType EventType, data interface{}) {
	payload, err := marshalEnvelope(eventType, data)
	if err != nil {
		h.logger.Error("Failed to marshal event", "event_type", eventType, "error", err)
		return
	}

	h.mu.RLock()
	var dead []string
	for id, session := range h.sessions {
		if session.identity == nil || session.identity.UserID != userID {
			continue
		}
		if !trySend(session, payload) {
			dead = append(dead, id)
		}
	}
	h.mu.RUnlock()

	h.dropSessions(dead)
}

// OnlineSessions returns the distinct bound identities currently connected
func (h *Hub) OnlineSessions() []Identity {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool)
	users := make([]Identity, 0, len(h.sessions))
	for _, session := range h.sessions {
		if session.identity == nil || seen[session.identity.UserID] {
			continue
		}
		seen[session.identity.UserID] = true
		users = append(users, *session.identity)
	}
	return users
}

// SessionCount returns the number of registered sessions, bound or not
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// broadcast fans an envelope out to the local registry. Sessions bound to
// excludedUserID, and the session with excludedSessionID, are skipped.
// A session that cannot keep up is dropped rather than blocking the caller.
func (h *Hub) broadcast(eventType EventType, data interface{}, excludedUserID, excludedSessionID string) {
	payload, err := marshalEnvelope(eventType, data)
	if err != nil {
		h.logger.Error("Failed to marshal event", "event_type", eventType, "error", err)
		return
	}

	h.metrics.EventBroadcast(string(eventType))

	h.mu.RLock()
	var dead []string
	for id, session := range h.sessions {
		if id == excludedSessionID {
			continue
		}
		if excludedUserID != "" && session.identity != nil && session.identity.UserID == excludedUserID {
			continue
		}
		if !trySend(session, payload) {
			dead = append(dead, id)
		}
	}
	h.mu.RUnlock()

	h.dropSessions(dead)
}

func (h *Hub) broadcastUsersOnline() {
	users := h.OnlineSessions()
	h.broadcast(EventUsersOnline, UsersOnlinePayload{
		Count: len(users),
		Users: users,
	}, "", "")
}

// dropSessions removes sessions whose buffers overflowed
func (h *Hub) dropSessions(ids []string) {
	if len(ids) == 0 {
		return
	}
	h.mu.Lock()
	for _, id := range ids {
		if session, ok := h.sessions[id]; ok {
			delete(h.sessions, id)
			close(session.send)
			h.metrics.SessionClosed()
			h.logger.Warn("Dropped slow session", "session_id", id)
		}
	}
	h.mu.Unlock()
}

func trySend(session *Session, payload []byte) bool {
	select {
	case session.send <- payload:
		return true
	default:
		return false
	}
}

func marshalEnvelope(eventType EventType, data interface{}) ([]byte, error) {
	return json.Marshal(Envelope{
		EventType: eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}
