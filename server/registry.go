package server

import (
	"net"
	"sync"

	"github.com/google/uuid"
)

// Session binds a live connection to an optional authenticated identity.
// A session is created anonymous on accept and destroyed on disconnect;
// the username is cleared again by logout or a forced admin logout.
type Session struct {
	ID   string
	Conn net.Conn

	mu       sync.Mutex
	username string
}

func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

func (s *Session) Authenticated() bool {
	return s.User() != ""
}

func (s *Session) setUser(username string) {
	s.mu.Lock()
	s.username = username
	s.mu.Unlock()
}

// Registry is the in-memory directory of live connections. Two maps are
// kept in sync: one keyed by connection for teardown, one keyed by username
// for delivery routing.
type Registry struct {
	mu     sync.RWMutex
	byConn map[net.Conn]*Session
	byUser map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[net.Conn]*Session),
		byUser: make(map[string]*Session),
	}
}

// Register creates an anonymous session for a newly accepted connection.
func (r *Registry) Register(conn net.Conn) *Session {
	session := &Session{
		ID:   uuid.NewString(),
		Conn: conn,
	}

	r.mu.Lock()
	r.byConn[conn] = session
	r.mu.Unlock()

	return session
}

// Authenticate binds the username to the session and indexes it for
// delivery. If the user is already connected elsewhere, the newest session
// wins the routing entry.
func (r *Registry) Authenticate(session *Session, username string) {
	r.mu.Lock()
	session.setUser(username)
	r.byUser[username] = session
	r.mu.Unlock()
}

// Logout clears the session's identity; the connection stays registered.
func (r *Registry) Logout(session *Session) {
	r.mu.Lock()
	username := session.User()
	if username != "" {
		if current, ok := r.byUser[username]; ok && current == session {
			delete(r.byUser, username)
		}
		session.setUser("")
	}
	r.mu.Unlock()
}

// FindByUsername returns the authenticated session for the user, if any.
func (r *Registry) FindByUsername(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.byUser[username]
	return session, ok
}

// Remove deletes the session on disconnect.
func (r *Registry) Remove(session *Session) {
	r.mu.Lock()
	delete(r.byConn, session.Conn)
	username := session.User()
	if username != "" {
		if current, ok := r.byUser[username]; ok && current == session {
			delete(r.byUser, username)
		}
	}
	r.mu.Unlock()
}

// Sessions returns a snapshot of every registered session.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.byConn))
	for _, session := range r.byConn {
		sessions = append(sessions, session)
	}
	return sessions
}

// Counts returns the number of registered connections and the logged-in
// usernames.
func (r *Registry) Counts() (int, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for username := range r.byUser {
		users = append(users, username)
	}
	return len(r.byConn), users
}
