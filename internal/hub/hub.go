// Package hub tracks live connections grouped by document and delivers
// broadcasts to them. It owns Session records only; it never holds live
// pointers into document state.
package hub

import (
	"errors"
	"log"
	"sync"
	"time"
)

// ErrDuplicateSession is returned when a user already holds a live session
// on the document. Rejecting beats silently replacing: two conflicting
// cursors for one identity would confuse every other participant.
var ErrDuplicateSession = errors.New("user already connected to document")

// ErrNoSession is returned when an operation names a user with no live
// session on the document, e.g. a cursor move over the HTTP command path
// from a caller that never connected.
var ErrNoSession = errors.New("no live session for user on document")

// Conn abstracts one live connection. The hub is transport-agnostic; the
// websocket adapter lives at the HTTP boundary.
type Conn interface {
	ID() string
	Send(Event) error
	Close() error
}

// Session is one live user connection to one document.
type Session struct {
	Conn     Conn
	DocID    string
	UserID   string
	Cursor   Position
	JoinedAt time.Time
}

// Hub owns connect/disconnect lifecycle, presence and cursor positions.
type Hub struct {
	mu      sync.Mutex
	byDoc   map[string]map[string]*Session // docID -> userID -> session
	byConn  map[string]*Session            // connID -> session
	sendMu  map[string]*sync.Mutex         // per-document broadcast ordering
	onEvict func(Conn)
}

func New() *Hub {
	return &Hub{
		byDoc:  make(map[string]map[string]*Session),
		byConn: make(map[string]*Session),
		sendMu: make(map[string]*sync.Mutex),
	}
}

// SetEvictHandler registers the callback used to disconnect a session whose
// connection failed during a broadcast.
func (h *Hub) SetEvictHandler(fn func(Conn)) {
	h.mu.Lock()
	h.onEvict = fn
	h.mu.Unlock()
}

// Connect registers conn under docID and announces the user to the other
// sessions on the document.
func (h *Hub) Connect(conn Conn, docID, userID string) (*Session, error) {
	h.mu.Lock()
	sessions, ok := h.byDoc[docID]
	if !ok {
		sessions = make(map[string]*Session)
		h.byDoc[docID] = sessions
	}
	if _, exists := sessions[userID]; exists {
		h.mu.Unlock()
		return nil, ErrDuplicateSession
	}
	session := &Session{Conn: conn, DocID: docID, UserID: userID, JoinedAt: time.Now()}
	sessions[userID] = session
	h.byConn[conn.ID()] = session
	h.mu.Unlock()

	log.Printf("session connected doc=%s user=%s conn=%s", docID, userID, conn.ID())
	h.Broadcast(docID, UserJoined{UserID: userID}, userID)
	return session, nil
}

// Disconnect removes the session for conn and announces the departure.
// Safe to call on every exit path; duplicate calls are no-ops. The removed
// session's identity is returned so the caller can release document locks.
func (h *Hub) Disconnect(conn Conn) (docID, userID string, ok bool) {
	h.mu.Lock()
	session, exists := h.byConn[conn.ID()]
	if !exists {
		h.mu.Unlock()
		return "", "", false
	}
	delete(h.byConn, conn.ID())
	if sessions, found := h.byDoc[session.DocID]; found {
		delete(sessions, session.UserID)
		if len(sessions) == 0 {
			delete(h.byDoc, session.DocID)
		}
	}
	h.mu.Unlock()

	log.Printf("session disconnected doc=%s user=%s conn=%s", session.DocID, session.UserID, conn.ID())
	// Broadcast failures on the disconnect path are logged inside Broadcast,
	// never raised.
	h.Broadcast(session.DocID, UserLeft{UserID: session.UserID}, session.UserID)
	return session.DocID, session.UserID, true
}

// UpdateCursor stores the user's cursor position and emits a lightweight
// CursorMoved to the other sessions. Document state is untouched.
func (h *Hub) UpdateCursor(docID, userID string, pos Position) error {
	h.mu.Lock()
	sessions, ok := h.byDoc[docID]
	if !ok {
		h.mu.Unlock()
		return ErrNoSession
	}
	session, ok := sessions[userID]
	if !ok {
		h.mu.Unlock()
		return ErrNoSession
	}
	session.Cursor = pos
	h.mu.Unlock()

	h.Broadcast(docID, CursorMoved{UserID: userID, Position: pos}, userID)
	return nil
}

// Cursor returns the stored cursor position for a user on a document.
func (h *Hub) Cursor(docID, userID string) (Position, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessions, ok := h.byDoc[docID]
	if !ok {
		return Position{}, false
	}
	session, ok := sessions[userID]
	if !ok {
		return Position{}, false
	}
	return session.Cursor, true
}

// Broadcast delivers event to every live session on docID except
// excludeUser (empty string excludes nobody). Deliveries for one document
// happen in call order; a failed delivery is isolated, logged, and the
// offending connection is scheduled for disconnect without aborting the
// rest of the fan-out.
func (h *Hub) Broadcast(docID string, event Event, excludeUser string) {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.byDoc[docID]))
	for userID, session := range h.byDoc[docID] {
		if userID == excludeUser {
			continue
		}
		sessions = append(sessions, session)
	}
	mu, ok := h.sendMu[docID]
	if !ok {
		mu = &sync.Mutex{}
		h.sendMu[docID] = mu
	}
	evict := h.onEvict
	h.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	for _, session := range sessions {
		if err := session.Conn.Send(event); err != nil {
			log.Printf("broadcast to doc=%s user=%s failed: %v", docID, session.UserID, err)
			h.scheduleEvict(session.Conn, evict)
		}
	}
}

// SendTo delivers event to a single user's session, typically an ErrorEvent
// back to the originator.
func (h *Hub) SendTo(docID, userID string, event Event) {
	h.mu.Lock()
	var conn Conn
	if sessions, ok := h.byDoc[docID]; ok {
		if session, ok := sessions[userID]; ok {
			conn = session.Conn
		}
	}
	evict := h.onEvict
	h.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Send(event); err != nil {
		log.Printf("send to doc=%s user=%s failed: %v", docID, userID, err)
		h.scheduleEvict(conn, evict)
	}
}

func (h *Hub) scheduleEvict(conn Conn, evict func(Conn)) {
	if evict == nil {
		return
	}
	go evict(conn)
}

// ActiveConnections counts live sessions on a document.
func (h *Hub) ActiveConnections(docID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byDoc[docID])
}

// Participants lists the user ids with live sessions on a document.
func (h *Hub) Participants(docID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	users := make([]string, 0, len(h.byDoc[docID]))
	for userID := range h.byDoc[docID] {
		users = append(users, userID)
	}
	return users
}
